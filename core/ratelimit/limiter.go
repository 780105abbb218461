package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jdelaire/tgate/core/store"
)

const (
	DefaultCapacity        = 1
	DefaultRefillPerSecond = 1.0
)

// Decision is the outcome of a rate check.
type Decision int

const (
	Allowed Decision = iota
	Limited
)

func (d Decision) String() string {
	if d == Limited {
		return "limited"
	}
	return "allowed"
}

// Limiter is a per-sender token bucket kept in the shared store. It fails
// open: when the store cannot answer, the request is allowed and the
// failure is counted.
type Limiter struct {
	backend  store.Store
	bucket   store.Bucket
	logger   *slog.Logger
	now      func() time.Time
	degraded atomic.Int64
}

// New creates a rate limiter. Non-positive values fall back to the
// defaults (burst 1, one token per second).
func New(backend store.Store, capacity int, refillPerSecond float64, logger *slog.Logger) *Limiter {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if refillPerSecond <= 0 {
		refillPerSecond = DefaultRefillPerSecond
	}
	return &Limiter{
		backend: backend,
		bucket:  store.Bucket{Capacity: float64(capacity), RefillPerSecond: refillPerSecond},
		logger:  logger,
		now:     time.Now,
	}
}

func key(senderID int64) string {
	return fmt.Sprintf("ratelimit:telegram:%d", senderID)
}

// CheckAndConsume takes one token from the sender's bucket.
func (l *Limiter) CheckAndConsume(ctx context.Context, senderID int64) Decision {
	ok, err := l.backend.TakeToken(ctx, key(senderID), l.bucket, l.now())
	if err != nil {
		l.degraded.Add(1)
		if !errors.Is(err, store.ErrUnavailable) {
			err = fmt.Errorf("%w: %w", store.ErrUnavailable, err)
		}
		l.logger.Warn("rate limit store unavailable, failing open", "sender_id", senderID, "error", err)
		return Allowed
	}
	if !ok {
		l.logger.Debug("rate limit exceeded", "sender_id", senderID)
		return Limited
	}
	return Allowed
}

// Reset clears a sender's bucket.
func (l *Limiter) Reset(ctx context.Context, senderID int64) error {
	if err := l.backend.Delete(ctx, key(senderID)); err != nil {
		return fmt.Errorf("reset rate limit: %w", err)
	}
	return nil
}

// Degraded returns how many checks failed open since start.
func (l *Limiter) Degraded() int64 {
	return l.degraded.Load()
}
