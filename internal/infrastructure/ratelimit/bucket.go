package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"newsimpact/internal/ports"
)

const (
	defaultKey      = "article-processing"
	defaultLimit    = 1
	defaultInterval = 6 * time.Second
	defaultAttempts = 6
	minRetryDelay   = time.Second
	minInterval     = time.Millisecond
)

// Options configures a Bucket. Zero values fall back to the article-processing defaults.
type Options struct {
	Key      string
	Limit    int
	Interval time.Duration
	Attempts int
}

// Bucket is a token bucket shared by all workers through Redis. It holds Limit
// tokens and refills one every Interval/Limit, so after a burst of Limit grants
// the next caller waits a full refill regardless of clock alignment.
//
// State is a single theoretical arrival time (GCRA) updated by a Lua script.
type Bucket struct {
	client   redis.Cmdable
	key      string
	limit    int64
	interval time.Duration
	attempts int
	logger   *slog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

var _ ports.RateLimiter = (*Bucket)(nil)

// NewBucket builds a limiter backed by client.
func NewBucket(client redis.Cmdable, opts Options, logger *slog.Logger) *Bucket {
	if opts.Key == "" {
		opts.Key = defaultKey
	}
	if opts.Limit <= 0 {
		opts.Limit = defaultLimit
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	opts.Interval = max(opts.Interval, minInterval)
	if opts.Attempts <= 0 {
		opts.Attempts = defaultAttempts
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bucket{
		client:   client,
		key:      opts.Key,
		limit:    int64(opts.Limit),
		interval: opts.Interval,
		attempts: opts.Attempts,
		logger:   logger,
		now:      time.Now,
		sleep:    sleepContext,
	}
}

// acquireScript grants a token when the theoretical arrival time, advanced by one
// emission interval, stays within one period of now. Times are in milliseconds.
var acquireScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local emission = tonumber(ARGV[2])
local period = tonumber(ARGV[3])
local tat = tonumber(redis.call('GET', KEYS[1]) or now)
if tat < now then
	tat = now
end
local next_tat = tat + emission
if next_tat - now > period then
	return 0
end
redis.call('SET', KEYS[1], string.format('%d', next_tat), 'PX', string.format('%d', next_tat - now))
return 1
`)

// TryAcquire makes a single attempt to take a token.
func (b *Bucket) TryAcquire(ctx context.Context) (bool, error) {
	period := b.interval.Milliseconds()
	emission := max(period/b.limit, 1)

	granted, err := acquireScript.Run(ctx, b.client, []string{b.key},
		b.now().UnixMilli(), emission, period,
	).Int()
	if err != nil {
		return false, fmt.Errorf("rate limit acquire %s: %w", b.key, err)
	}
	return granted == 1, nil
}

// Acquire retries TryAcquire a bounded number of times, sleeping between attempts.
// It returns false without error when every attempt found the bucket empty.
func (b *Bucket) Acquire(ctx context.Context) (bool, error) {
	delay := b.retryDelay()
	for attempt := 1; attempt <= b.attempts; attempt++ {
		ok, err := b.TryAcquire(ctx)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
		if attempt == b.attempts {
			break
		}
		b.logger.DebugContext(ctx, "rate limit bucket empty", "key", b.key, "attempt", attempt, "retry_in", delay)
		if err := b.sleep(ctx, delay); err != nil {
			return false, err
		}
	}
	return false, nil
}

func (b *Bucket) retryDelay() time.Duration {
	return max(b.interval/3, minRetryDelay)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
