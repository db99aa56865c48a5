// Package queue provides an at-least-once task queue on Redis Streams with
// delayed retries and dead-letter streams.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Message is the envelope stored in the stream.
type Message struct {
	ID         string          `json:"id"`
	Actor      string          `json:"actor"`
	Queue      string          `json:"queue"`
	Payload    json.RawMessage `json:"payload"`
	Retries    int             `json:"retries"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	LastError  string          `json:"last_error,omitempty"`
}

// Handler processes one payload. A returned error triggers a retry or dead-lettering.
type Handler func(ctx context.Context, payload json.RawMessage) error

// ActorOptions control routing and retry behaviour per actor.
type ActorOptions struct {
	Queue      string
	MaxRetries int
	MinBackoff time.Duration
	// MaxBackoff caps the exponential delay; zero means uncapped.
	MaxBackoff time.Duration
}

// Middleware observes messages that exhausted their retries.
type Middleware interface {
	AfterNack(ctx context.Context, actor string, payload json.RawMessage, cause error)
}

// MiddlewareFunc adapts a function to Middleware.
type MiddlewareFunc func(ctx context.Context, actor string, payload json.RawMessage, cause error)

func (f MiddlewareFunc) AfterNack(ctx context.Context, actor string, payload json.RawMessage, cause error) {
	f(ctx, actor, payload, cause)
}

type nonRetryableError struct {
	err error
}

func (e *nonRetryableError) Error() string { return e.err.Error() }

func (e *nonRetryableError) Unwrap() error { return e.err }

// NonRetryable marks err so the message is dead-lettered without further retries.
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &nonRetryableError{err: err}
}

// IsNonRetryable reports whether err was marked with NonRetryable.
func IsNonRetryable(err error) bool {
	var target *nonRetryableError
	return errors.As(err, &target)
}

// Backoff returns the delay before retry number retries (1-based):
// minBackoff doubled for every earlier retry, capped at maxBackoff when set.
func Backoff(retries int, minBackoff, maxBackoff time.Duration) time.Duration {
	if retries < 1 {
		retries = 1
	}
	delay := minBackoff
	for i := 1; i < retries; i++ {
		delay *= 2
		if maxBackoff > 0 && delay >= maxBackoff {
			return maxBackoff
		}
	}
	if maxBackoff > 0 && delay > maxBackoff {
		return maxBackoff
	}
	return delay
}
