// Package storetest provides Store doubles for tests of packages that sit
// on top of the store boundary.
package storetest

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jdelaire/tgate/core/store"
)

// Down is a Store whose backend is unreachable. Every call fails with
// store.ErrUnavailable and is counted.
type Down struct {
	calls atomic.Int64
}

func (d *Down) fail(op string) error {
	d.calls.Add(1)
	return fmt.Errorf("%s: %w: connection refused", op, store.ErrUnavailable)
}

// Calls returns how many operations were attempted.
func (d *Down) Calls() int64 { return d.calls.Load() }

func (d *Down) Get(context.Context, string) ([]byte, error) { return nil, d.fail("get") }

func (d *Down) SetNX(context.Context, string, []byte, time.Duration) (bool, error) {
	return false, d.fail("setnx")
}

func (d *Down) Set(context.Context, string, []byte, time.Duration) error { return d.fail("set") }

func (d *Down) Expire(context.Context, string, time.Duration) (bool, error) {
	return false, d.fail("pexpire")
}

func (d *Down) Delete(context.Context, string) error { return d.fail("del") }

func (d *Down) TakeToken(context.Context, string, store.Bucket, time.Time) (bool, error) {
	return false, d.fail("token bucket")
}

func (d *Down) Ping(context.Context) error { return d.fail("ping") }

func (d *Down) Close() error { return nil }
