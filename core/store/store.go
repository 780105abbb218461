// Package store is the ephemeral key-value boundary shared by the rate
// limiter and the session store.
//
// Every backend failure is reported as ErrUnavailable. Callers are expected
// to recover locally (fail open, fall back to a synthesized value) rather
// than propagate it.
package store

import (
	"context"
	"errors"
	"math"
	"time"
)

var (
	// ErrNotFound is returned by Get for a missing or expired key.
	ErrNotFound = errors.New("store: key not found")

	// ErrUnavailable wraps any backend failure (connection refused,
	// timeout, script error).
	ErrUnavailable = errors.New("store: backend unavailable")
)

// Store is implemented by Redis and Memory.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	// SetNX writes value only if key is absent and reports whether it did.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Expire restarts the TTL of key without touching its value and reports
	// whether the key existed. ttl must be positive.
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
	// TakeToken refills the bucket stored at key up to now and consumes one
	// token if available, atomically. A missing bucket is full.
	TakeToken(ctx context.Context, key string, b Bucket, now time.Time) (bool, error)
	Ping(ctx context.Context) error
	Close() error
}

// Bucket is a token bucket shape.
type Bucket struct {
	Capacity        float64
	RefillPerSecond float64
}

// TTL is how long an idle bucket record has to be kept. After that long it
// would be full again, so losing it changes nothing.
func (b Bucket) TTL() time.Duration {
	if b.RefillPerSecond <= 0 {
		return 24 * time.Hour
	}
	full := time.Duration(math.Ceil(b.Capacity / b.RefillPerSecond * float64(time.Second)))
	return full + time.Second
}

// take applies lazy refill and tries to consume one token.
func (b Bucket) take(tokens float64, last, now time.Time) (float64, bool) {
	elapsed := now.Sub(last).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}
	tokens = math.Min(b.Capacity, tokens+elapsed*b.RefillPerSecond)
	if tokens >= 1 {
		return tokens - 1, true
	}
	return tokens, false
}
