package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"newsimpact/internal/infrastructure/scheduler"
	"newsimpact/internal/metrics"
	"newsimpact/internal/ports"
)

const (
	bodyField    = "body"
	defaultQueue = "default"
)

// Config holds broker configuration.
type Config struct {
	// Namespace prefixes every Redis key.
	Namespace string
	// Group is the consumer group shared by all workers.
	Group string
	// Consumer is this worker's name within the group.
	Consumer string
	// BatchSize is the number of messages read at once.
	BatchSize int64
	// BlockTimeout is how long a read blocks waiting for messages.
	BlockTimeout time.Duration
	// PromoteInterval is how often due delayed messages are moved back to their streams.
	PromoteInterval time.Duration
	// ReclaimIdle is how long a pending message may stay unacked before another worker claims it.
	// Messages being handled refresh their claim every ReclaimIdle/3.
	ReclaimIdle time.Duration
	// ReclaimInterval is how often each consumer looks for stale pending messages.
	ReclaimInterval time.Duration
	// MaxLen approximately trims each stream.
	MaxLen int64
}

// DefaultConfig returns a default broker configuration.
func DefaultConfig() Config {
	host, _ := os.Hostname()
	return Config{
		Namespace:       "newsimpact",
		Group:           "workers",
		Consumer:        fmt.Sprintf("%s-%d", host, os.Getpid()),
		BatchSize:       10,
		BlockTimeout:    2 * time.Second,
		PromoteInterval: time.Second,
		ReclaimIdle:     10 * time.Minute,
		ReclaimInterval: 30 * time.Second,
		MaxLen:          100_000,
	}
}

type actor struct {
	opts    ActorOptions
	handler Handler
}

// RedisBroker dispatches messages from Redis Streams to registered actors.
type RedisBroker struct {
	client      redis.Cmdable
	cfg         Config
	logger      *slog.Logger
	now         func() time.Time
	mu          sync.RWMutex
	actors      map[string]actor
	middlewares []Middleware
}

var _ ports.TaskQueue = (*RedisBroker)(nil)

// NewRedisBroker builds a broker on top of client.
func NewRedisBroker(client redis.Cmdable, cfg Config, logger *slog.Logger) *RedisBroker {
	def := DefaultConfig()
	if cfg.Namespace == "" {
		cfg.Namespace = def.Namespace
	}
	if cfg.Group == "" {
		cfg.Group = def.Group
	}
	if cfg.Consumer == "" {
		cfg.Consumer = def.Consumer
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.BlockTimeout == 0 {
		cfg.BlockTimeout = def.BlockTimeout
	}
	if cfg.PromoteInterval <= 0 {
		cfg.PromoteInterval = def.PromoteInterval
	}
	if cfg.ReclaimIdle <= 0 {
		cfg.ReclaimIdle = def.ReclaimIdle
	}
	if cfg.ReclaimInterval <= 0 {
		cfg.ReclaimInterval = def.ReclaimInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisBroker{
		client: client,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		actors: map[string]actor{},
	}
}

// Register binds an actor name to a handler. Re-registering replaces the previous binding.
func (b *RedisBroker) Register(name string, opts ActorOptions, handler Handler) {
	if opts.Queue == "" {
		opts.Queue = defaultQueue
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.actors[name] = actor{opts: opts, handler: handler}
}

// Use appends a middleware invoked for exhausted messages.
func (b *RedisBroker) Use(mw Middleware) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.middlewares = append(b.middlewares, mw)
}

// Send enqueues payload for a registered actor and returns the message id.
func (b *RedisBroker) Send(ctx context.Context, name string, payload any) (string, error) {
	act, ok := b.actor(name)
	if !ok {
		return "", fmt.Errorf("actor %s is not registered", name)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal %s payload: %w", name, err)
	}

	msg := Message{
		ID:         uuid.NewString(),
		Actor:      name,
		Queue:      act.opts.Queue,
		Payload:    raw,
		EnqueuedAt: b.now().UTC(),
	}
	if err := b.publish(ctx, b.streamKey(msg.Queue), msg); err != nil {
		return "", err
	}
	return msg.ID, nil
}

func (b *RedisBroker) publish(ctx context.Context, stream string, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	args := &redis.XAddArgs{
		Stream: stream,
		Values: map[string]any{bodyField: string(body)},
	}
	if b.cfg.MaxLen > 0 {
		args.MaxLen = b.cfg.MaxLen
		args.Approx = true
	}
	if err := b.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", stream, err)
	}
	return nil
}

// Run consumes every registered queue until ctx is cancelled.
func (b *RedisBroker) Run(ctx context.Context) error {
	if err := b.EnsureGroups(ctx); err != nil {
		return err
	}

	ticker := scheduler.NewTicker(b.cfg.PromoteInterval)
	if err := ticker.Start(ctx, func(now time.Time) {
		if _, err := b.PromoteDue(ctx, now); err != nil && ctx.Err() == nil {
			b.logger.Error("promote delayed messages", "error", err)
		}
	}); err != nil {
		return err
	}
	defer func() {
		_ = ticker.Stop(context.Background())
	}()

	g, gctx := errgroup.WithContext(ctx)
	for _, q := range b.queues() {
		g.Go(func() error {
			b.consume(gctx, q)
			return nil
		})
	}

	b.logger.Info("task queue started", "queues", strings.Join(b.queues(), ","), "consumer", b.cfg.Consumer)
	return g.Wait()
}

// Drain processes messages without blocking until no queue and no due delayed message is left.
func (b *RedisBroker) Drain(ctx context.Context) (int, error) {
	if err := b.EnsureGroups(ctx); err != nil {
		return 0, err
	}
	total := 0
	for {
		promoted, err := b.PromoteDue(ctx, b.now())
		if err != nil {
			return total, err
		}
		handled := 0
		for _, q := range b.queues() {
			n, err := b.poll(ctx, q, -1)
			if err != nil {
				return total, err
			}
			handled += n
		}
		total += handled
		if handled == 0 && promoted == 0 {
			return total, nil
		}
	}
}

// EnsureGroups creates the consumer group for every registered queue.
func (b *RedisBroker) EnsureGroups(ctx context.Context) error {
	for _, q := range b.queues() {
		err := b.client.XGroupCreateMkStream(ctx, b.streamKey(q), b.cfg.Group, "0").Err()
		if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
			return fmt.Errorf("create group for %s: %w", q, err)
		}
	}
	return nil
}

func (b *RedisBroker) consume(ctx context.Context, queue string) {
	var lastReclaim time.Time
	for {
		if ctx.Err() != nil {
			return
		}
		if now := b.now(); now.Sub(lastReclaim) >= b.cfg.ReclaimInterval {
			b.reclaim(ctx, queue)
			lastReclaim = now
		}
		if _, err := b.poll(ctx, queue, b.cfg.BlockTimeout); err != nil {
			if ctx.Err() != nil {
				return
			}
			b.logger.Error("read queue", "queue", queue, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
		}
	}
}

// poll reads one batch. A negative block does not wait for new messages.
func (b *RedisBroker) poll(ctx context.Context, queue string, block time.Duration) (int, error) {
	stream := b.streamKey(queue)
	streams, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    b.cfg.Group,
		Consumer: b.cfg.Consumer,
		Streams:  []string{stream, ">"},
		Count:    b.cfg.BatchSize,
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	handled := 0
	for _, s := range streams {
		for _, m := range s.Messages {
			b.handle(ctx, stream, m)
			handled++
		}
	}
	return handled, nil
}

// reclaim takes over messages another consumer left pending for longer than ReclaimIdle
// and handles them on the caller's goroutine. It returns the number handled.
func (b *RedisBroker) reclaim(ctx context.Context, queue string) int {
	stream := b.streamKey(queue)
	messages, _, err := b.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   stream,
		Group:    b.cfg.Group,
		Consumer: b.cfg.Consumer,
		MinIdle:  b.cfg.ReclaimIdle,
		Start:    "0-0",
		Count:    b.cfg.BatchSize,
	}).Result()
	if err != nil {
		if ctx.Err() == nil {
			b.logger.Error("reclaim pending messages", "queue", queue, "error", err)
		}
		return 0
	}
	for _, m := range messages {
		b.logger.Warn("reclaimed stale message", "queue", queue, "stream_id", m.ID)
		b.handle(ctx, stream, m)
	}
	return len(messages)
}

// keepClaimed refreshes the pending entry's idle time until stop is called,
// so a long-running handler is not reclaimed by another worker.
func (b *RedisBroker) keepClaimed(ctx context.Context, stream, id string) (stop func()) {
	every := b.cfg.ReclaimIdle / 3
	if every <= 0 {
		return func() {}
	}

	hbCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				err := b.client.XClaimJustID(hbCtx, &redis.XClaimArgs{
					Stream:   stream,
					Group:    b.cfg.Group,
					Consumer: b.cfg.Consumer,
					Messages: []string{id},
				}).Err()
				if err != nil && hbCtx.Err() == nil {
					b.logger.Warn("refresh message claim", "stream_id", id, "error", err)
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

func (b *RedisBroker) handle(ctx context.Context, stream string, m redis.XMessage) {
	raw, _ := m.Values[bodyField].(string)

	var msg Message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		b.logger.Error("undecodable message, dead-lettering", "stream_id", m.ID, "error", err)
		b.deadLetterRaw(ctx, stream, m.ID, raw)
		return
	}

	act, ok := b.actor(msg.Actor)
	if !ok {
		b.logger.Error("no actor registered for message, dead-lettering", "actor", msg.Actor, "message_id", msg.ID)
		msg.LastError = "actor not registered"
		b.deadLetter(ctx, stream, m.ID, msg)
		return
	}

	stop := b.keepClaimed(ctx, stream, m.ID)
	err := b.invoke(ctx, act.handler, msg)
	stop()
	if err == nil {
		metrics.RecordQueueMessage(msg.Actor, "ok")
		b.ack(ctx, stream, m.ID)
		return
	}

	msg.LastError = err.Error()
	if IsNonRetryable(err) || msg.Retries >= act.opts.MaxRetries {
		b.logger.Warn("message retries exhausted",
			"actor", msg.Actor,
			"message_id", msg.ID,
			"retries", msg.Retries,
			"error", err,
		)
		b.runMiddlewares(ctx, msg, err)
		b.deadLetter(ctx, stream, m.ID, msg)
		return
	}

	msg.Retries++
	delay := Backoff(msg.Retries, act.opts.MinBackoff, act.opts.MaxBackoff)
	if err := b.schedule(ctx, msg, b.now().Add(delay)); err != nil {
		// left pending; reclaim will redeliver it
		b.logger.Error("schedule retry", "actor", msg.Actor, "message_id", msg.ID, "error", err)
		return
	}
	metrics.RecordQueueMessage(msg.Actor, "retry")
	b.logger.Info("message scheduled for retry",
		"actor", msg.Actor,
		"message_id", msg.ID,
		"retry", msg.Retries,
		"delay", delay,
		"error", err,
	)
	b.ack(ctx, stream, m.ID)
}

func (b *RedisBroker) invoke(ctx context.Context, handler Handler, msg Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("actor panicked", "actor", msg.Actor, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("actor %s panicked: %v", msg.Actor, r)
		}
	}()
	return handler(ctx, msg.Payload)
}

func (b *RedisBroker) runMiddlewares(ctx context.Context, msg Message, cause error) {
	b.mu.RLock()
	middlewares := append([]Middleware(nil), b.middlewares...)
	b.mu.RUnlock()

	for _, mw := range middlewares {
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("middleware panicked", "actor", msg.Actor, "panic", r)
				}
			}()
			mw.AfterNack(ctx, msg.Actor, msg.Payload, cause)
		}()
	}
}

func (b *RedisBroker) schedule(ctx context.Context, msg Message, at time.Time) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	return b.client.ZAdd(ctx, b.delayedKey(), redis.Z{
		Score:  float64(at.UnixMilli()),
		Member: string(body),
	}).Err()
}

// PromoteDue moves delayed messages whose time has come back to their streams.
func (b *RedisBroker) PromoteDue(ctx context.Context, now time.Time) (int, error) {
	members, err := b.client.ZRangeByScore(ctx, b.delayedKey(), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: 100,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("load delayed messages: %w", err)
	}

	promoted := 0
	for _, member := range members {
		var msg Message
		if err := json.Unmarshal([]byte(member), &msg); err != nil {
			b.logger.Error("dropping undecodable delayed message", "error", err)
			if err := b.client.ZRem(ctx, b.delayedKey(), member).Err(); err != nil {
				return promoted, fmt.Errorf("remove delayed message: %w", err)
			}
			continue
		}
		moved, err := promoteScript.Run(ctx, b.client,
			[]string{b.delayedKey(), b.streamKey(msg.Queue)},
			member, b.cfg.MaxLen, bodyField,
		).Int()
		if err != nil {
			return promoted, fmt.Errorf("promote message %s: %w", msg.ID, err)
		}
		// zero means another worker promoted it first
		promoted += moved
	}
	return promoted, nil
}

// promoteScript moves one member of the delayed set to its stream. The member is
// removed only after XADD succeeded, and only one caller wins a concurrent move.
var promoteScript = redis.NewScript(`
if not redis.call('ZSCORE', KEYS[1], ARGV[1]) then
	return 0
end
if tonumber(ARGV[2]) > 0 then
	redis.call('XADD', KEYS[2], 'MAXLEN', '~', ARGV[2], '*', ARGV[3], ARGV[1])
else
	redis.call('XADD', KEYS[2], '*', ARGV[3], ARGV[1])
end
redis.call('ZREM', KEYS[1], ARGV[1])
return 1
`)

func (b *RedisBroker) deadLetter(ctx context.Context, stream, streamID string, msg Message) {
	metrics.RecordQueueMessage(msg.Actor, "dead")
	if err := b.publish(ctx, stream+":dead", msg); err != nil {
		b.logger.Error("dead-letter message", "message_id", msg.ID, "error", err)
		return
	}
	b.ack(ctx, stream, streamID)
}

func (b *RedisBroker) deadLetterRaw(ctx context.Context, stream, streamID, raw string) {
	err := b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream + ":dead",
		Values: map[string]any{bodyField: raw},
	}).Err()
	if err != nil {
		b.logger.Error("dead-letter raw message", "stream_id", streamID, "error", err)
		return
	}
	b.ack(ctx, stream, streamID)
}

func (b *RedisBroker) ack(ctx context.Context, stream, id string) {
	if err := b.client.XAck(ctx, stream, b.cfg.Group, id).Err(); err != nil {
		b.logger.Error("ack message", "stream", stream, "stream_id", id, "error", err)
	}
}

func (b *RedisBroker) actor(name string) (actor, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	act, ok := b.actors[name]
	return act, ok
}

func (b *RedisBroker) queues() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	seen := map[string]struct{}{}
	for _, act := range b.actors {
		seen[act.opts.Queue] = struct{}{}
	}
	queues := make([]string, 0, len(seen))
	for q := range seen {
		queues = append(queues, q)
	}
	sort.Strings(queues)
	return queues
}

func (b *RedisBroker) streamKey(queue string) string {
	return b.cfg.Namespace + ":queue:" + queue
}

func (b *RedisBroker) delayedKey() string {
	return b.cfg.Namespace + ":delayed"
}
