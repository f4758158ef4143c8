// SPDX-FileCopyrightText: SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

// Package storetest provides an in-memory fake of store.Store for unit
// tests that exercise the balancer, resolver, and reconciler without a
// real Redis instance.
package storetest

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/spotbalancer/admission-webhook/pkg/placement/store"
)

// Fake is an in-memory, single-process Store. Locking is implemented with
// a real mutex per key, so it faithfully serializes concurrent callers the
// same way the Redis-backed lock does.
type Fake struct {
	mu     sync.Mutex
	values map[string]string
	locks  map[string]*sync.Mutex

	// PingErr, when set, is returned by Ping.
	PingErr error
	// FailGet, when set, is returned by every Get.
	FailGet error
}

// New returns an empty Fake store.
func New() *Fake {
	return &Fake{
		values: map[string]string{},
		locks:  map[string]*sync.Mutex{},
	}
}

func (f *Fake) lockFor(key string) *sync.Mutex {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.locks[key]
	if !ok {
		l = &sync.Mutex{}
		f.locks[key] = l
	}
	return l
}

func (f *Fake) Get(_ context.Context, key string) (string, error) {
	if f.FailGet != nil {
		return "", f.FailGet
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.values[key]
	if !ok {
		return "", store.ErrNotFound
	}
	return v, nil
}

func (f *Fake) Set(_ context.Context, key, value string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[key] = value
	return nil
}

func (f *Fake) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.values, key)
	return nil
}

// Keys matches a "prefix*" glob, the only form the reconciler issues.
func (f *Fake) Keys(_ context.Context, pattern string) ([]string, error) {
	prefix := strings.TrimSuffix(pattern, "*")

	f.mu.Lock()
	defer f.mu.Unlock()
	var found []string
	for key := range f.values {
		if strings.HasPrefix(key, prefix) {
			found = append(found, key)
		}
	}
	return found, nil
}

func (f *Fake) Ping(context.Context) error {
	return f.PingErr
}

func (f *Fake) WithLock(ctx context.Context, key string, _ time.Duration, fn func(ctx context.Context) error) error {
	l := f.lockFor(key)

	acquired := make(chan struct{})
	go func() {
		l.Lock()
		close(acquired)
	}()

	select {
	case <-acquired:
	case <-ctx.Done():
		return store.ErrLockTimeout
	}
	defer l.Unlock()

	return fn(ctx)
}

var _ store.Store = (*Fake)(nil)
