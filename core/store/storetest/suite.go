package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jdelaire/tgate/core/store"
)

// Backend is a fresh Store plus a way to move its expiry clock forward.
type Backend struct {
	Store   store.Store
	Advance func(d time.Duration)
}

// Run checks the behaviour every Store implementation must share.
func Run(t *testing.T, newBackend func(t *testing.T) Backend) {
	t.Run("GetMissing", func(t *testing.T) {
		b := newBackend(t)
		if _, err := b.Store.Get(context.Background(), "missing"); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("Get(missing) error = %v, want ErrNotFound", err)
		}
	})

	t.Run("SetGet", func(t *testing.T) {
		ctx := context.Background()
		b := newBackend(t)
		if err := b.Store.Set(ctx, "k", []byte("v1"), time.Minute); err != nil {
			t.Fatalf("Set: %v", err)
		}
		if err := b.Store.Set(ctx, "k", []byte("v2"), time.Minute); err != nil {
			t.Fatalf("Set: %v", err)
		}
		got, err := b.Store.Get(ctx, "k")
		if err != nil || string(got) != "v2" {
			t.Errorf("Get = (%q, %v), want v2", got, err)
		}
	})

	t.Run("SetNXKeepsFirst", func(t *testing.T) {
		ctx := context.Background()
		b := newBackend(t)
		if ok, err := b.Store.SetNX(ctx, "k", []byte("first"), time.Minute); err != nil || !ok {
			t.Fatalf("first SetNX = (%v, %v), want (true, nil)", ok, err)
		}
		if ok, err := b.Store.SetNX(ctx, "k", []byte("second"), time.Minute); err != nil || ok {
			t.Fatalf("second SetNX = (%v, %v), want (false, nil)", ok, err)
		}
		if got, _ := b.Store.Get(ctx, "k"); string(got) != "first" {
			t.Errorf("value = %q, want first", got)
		}
	})

	t.Run("Expiry", func(t *testing.T) {
		ctx := context.Background()
		b := newBackend(t)
		b.Store.Set(ctx, "k", []byte("v"), time.Minute)
		b.Advance(time.Minute)
		if _, err := b.Store.Get(ctx, "k"); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("Get after ttl error = %v, want ErrNotFound", err)
		}
		if ok, err := b.Store.SetNX(ctx, "k", []byte("again"), time.Minute); err != nil || !ok {
			t.Errorf("SetNX after expiry = (%v, %v), want (true, nil)", ok, err)
		}
	})

	t.Run("ExpireRestartsTTL", func(t *testing.T) {
		ctx := context.Background()
		b := newBackend(t)
		b.Store.Set(ctx, "k", []byte("v"), time.Minute)
		b.Advance(50 * time.Second)

		ok, err := b.Store.Expire(ctx, "k", time.Minute)
		if err != nil || !ok {
			t.Fatalf("Expire = (%v, %v), want (true, nil)", ok, err)
		}
		b.Advance(50 * time.Second)
		got, err := b.Store.Get(ctx, "k")
		if err != nil || string(got) != "v" {
			t.Errorf("Get after refreshed ttl = (%q, %v), want v", got, err)
		}
	})

	t.Run("ExpireMissing", func(t *testing.T) {
		b := newBackend(t)
		ok, err := b.Store.Expire(context.Background(), "missing", time.Minute)
		if err != nil || ok {
			t.Errorf("Expire(missing) = (%v, %v), want (false, nil)", ok, err)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		ctx := context.Background()
		b := newBackend(t)
		b.Store.Set(ctx, "k", []byte("v"), time.Minute)
		if err := b.Store.Delete(ctx, "k"); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		if _, err := b.Store.Get(ctx, "k"); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("Get after Delete error = %v, want ErrNotFound", err)
		}
		if err := b.Store.Delete(ctx, "k"); err != nil {
			t.Errorf("Delete(missing) = %v, want nil", err)
		}
	})

	t.Run("TakeTokenAdmitsCapacity", func(t *testing.T) {
		ctx := context.Background()
		b := newBackend(t)
		bucket := store.Bucket{Capacity: 2, RefillPerSecond: 1}
		now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

		allowed := 0
		for i := 0; i < 5; i++ {
			ok, err := b.Store.TakeToken(ctx, "rl", bucket, now)
			if err != nil {
				t.Fatalf("TakeToken: %v", err)
			}
			if ok {
				allowed++
			}
		}
		if allowed != 2 {
			t.Errorf("allowed = %d, want 2", allowed)
		}
		if ok, _ := b.Store.TakeToken(ctx, "rl", bucket, now.Add(time.Second)); !ok {
			t.Error("TakeToken after one refill interval = false, want true")
		}
	})

	t.Run("Ping", func(t *testing.T) {
		b := newBackend(t)
		if err := b.Store.Ping(context.Background()); err != nil {
			t.Errorf("Ping = %v", err)
		}
	})
}
