package store

import (
	"context"
	"sync"
	"time"
)

const sweepEvery = 1024

type memItem struct {
	value     []byte
	expiresAt time.Time
}

type memBucket struct {
	tokens    float64
	last      time.Time
	expiresAt time.Time
}

// Memory is a single-process Store. It is used in development and tests;
// state is not shared between gateway instances.
type Memory struct {
	mu      sync.Mutex
	items   map[string]memItem
	buckets map[string]memBucket
	writes  int
	now     func() time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		items:   make(map[string]memItem),
		buckets: make(map[string]memBucket),
		now:     time.Now,
	}
}

// WithClock overrides the expiry clock (for testing).
func (m *Memory) WithClock(now func() time.Time) *Memory {
	m.now = now
	return m
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	it, ok := m.liveLocked(key)
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), it.value...), nil
}

func (m *Memory) SetNX(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.liveLocked(key); ok {
		return false, nil
	}
	m.putLocked(key, value, ttl)
	return true, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putLocked(key, value, ttl)
	return nil
}

func (m *Memory) Expire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	it, ok := m.liveLocked(key)
	if !ok {
		return false, nil
	}
	it.expiresAt = m.now().Add(ttl)
	m.items[key] = it
	return true, nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
	delete(m.buckets, key)
	return nil
}

func (m *Memory) TakeToken(_ context.Context, key string, b Bucket, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.buckets[key]
	if !ok || !now.Before(st.expiresAt) {
		st = memBucket{tokens: b.Capacity, last: now}
	}

	tokens, allowed := b.take(st.tokens, st.last, now)
	m.buckets[key] = memBucket{tokens: tokens, last: now, expiresAt: now.Add(b.TTL())}
	m.sweepLocked(now)
	return allowed, nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }

// liveLocked returns the item if present and unexpired. Must be called with mu held.
func (m *Memory) liveLocked(key string) (memItem, bool) {
	it, ok := m.items[key]
	if !ok {
		return memItem{}, false
	}
	if !it.expiresAt.IsZero() && !m.now().Before(it.expiresAt) {
		delete(m.items, key)
		return memItem{}, false
	}
	return it, true
}

func (m *Memory) putLocked(key string, value []byte, ttl time.Duration) {
	it := memItem{value: append([]byte(nil), value...)}
	if ttl > 0 {
		it.expiresAt = m.now().Add(ttl)
	}
	m.items[key] = it
	m.sweepLocked(m.now())
}

// sweepLocked drops expired entries every sweepEvery writes. Must be called with mu held.
// Buckets are judged by the caller-supplied clock, items by the store clock.
func (m *Memory) sweepLocked(now time.Time) {
	m.writes++
	if m.writes%sweepEvery != 0 {
		return
	}
	itemNow := m.now()
	for k, it := range m.items {
		if !it.expiresAt.IsZero() && !itemNow.Before(it.expiresAt) {
			delete(m.items, k)
		}
	}
	for k, b := range m.buckets {
		if !now.Before(b.expiresAt) {
			delete(m.buckets, k)
		}
	}
}
