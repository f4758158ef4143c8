// SPDX-FileCopyrightText: SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

// Package balancer wraps the placement engine with the distributed lock
// and codec so admission handlers and the reconciler share one
// read-decide-write critical section per job.
package balancer

import (
	"context"
	"time"

	"github.com/go-logr/logr"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/spotbalancer/admission-webhook/pkg/placement/codec"
	"github.com/spotbalancer/admission-webhook/pkg/placement/engine"
	"github.com/spotbalancer/admission-webhook/pkg/placement/keys"
	"github.com/spotbalancer/admission-webhook/pkg/placement/store"
)

// storeBackoff bounds the retry of a transient state-store error inside a
// critical section: three attempts, starting at 20ms and doubling, so a
// single Redis hiccup does not immediately fail an admission open.
var storeBackoff = wait.Backoff{
	Duration: 20 * time.Millisecond,
	Factor:   2.0,
	Steps:    3,
}

// Balancer atomically decides and records executor placement for a job.
type Balancer struct {
	Store   store.Store
	Log     logr.Logger
	LockTTL time.Duration
	TTL     time.Duration
}

// New builds a Balancer over the given store.
func New(s store.Store, log logr.Logger, lockTTL, ttl time.Duration) *Balancer {
	return &Balancer{Store: s, Log: log, LockTTL: lockTTL, TTL: ttl}
}

// retryGet retries a transient Get failure with a capped backoff.
// store.ErrNotFound is not transient and is returned immediately.
func (b *Balancer) retryGet(ctx context.Context, key string) (string, error) {
	var raw string
	var getErr error
	_ = wait.ExponentialBackoff(storeBackoff, func() (bool, error) {
		raw, getErr = b.Store.Get(ctx, key)
		return getErr == nil || getErr == store.ErrNotFound, nil
	})
	return raw, getErr
}

// retrySet retries a transient Set failure with a capped backoff.
func (b *Balancer) retrySet(ctx context.Context, key, value string, ttl time.Duration) error {
	var setErr error
	_ = wait.ExponentialBackoff(storeBackoff, func() (bool, error) {
		setErr = b.Store.Set(ctx, key, value, ttl)
		return setErr == nil, nil
	})
	return setErr
}

// Admit runs one placement decision for a job under the per-job lock: it
// reads the current counter, invokes the engine, and — unless mode is
// BestEffort — writes the updated counter back before releasing the lock.
func (b *Balancer) Admit(ctx context.Context, namespace, jobID string, ratio float64, mode engine.Mode) (engine.Decision, error) {
	key := keys.ExecutorCount(namespace, jobID)
	var decision engine.Decision

	err := b.Store.WithLock(ctx, key, b.LockTTL, func(ctx context.Context) error {
		raw, err := b.retryGet(ctx, key)
		if err != nil && err != store.ErrNotFound {
			return err
		}
		counts := codec.DecodeExecutorCount(b.Log, raw)

		decision = engine.Decide(counts, ratio, mode)
		if mode == engine.BestEffort {
			return nil
		}

		return b.retrySet(ctx, key, codec.EncodeExecutorCount(decision.UpdatedCount), b.TTL)
	})
	if err != nil {
		return engine.Decision{}, err
	}
	return decision, nil
}

// Release decrements the matching counter for a deleted executor pod,
// clamping at zero. capacityType must be "spot" or "on-demand"; any other
// value is a no-op (the caller is expected to have already filtered those
// out per the validate-handler contract).
func (b *Balancer) Release(ctx context.Context, namespace, jobID string, capacityType engine.CapacityType) error {
	if capacityType != engine.Spot && capacityType != engine.OnDemand {
		return nil
	}

	key := keys.ExecutorCount(namespace, jobID)
	return b.Store.WithLock(ctx, key, b.LockTTL, func(ctx context.Context) error {
		raw, err := b.retryGet(ctx, key)
		if err != nil && err != store.ErrNotFound {
			return err
		}
		counts := codec.DecodeExecutorCount(b.Log, raw)

		switch capacityType {
		case engine.Spot:
			if counts.Spot > 0 {
				counts.Spot--
			}
		case engine.OnDemand:
			if counts.OnDemand > 0 {
				counts.OnDemand--
			}
		}

		return b.retrySet(ctx, key, codec.EncodeExecutorCount(counts), b.TTL)
	})
}

// Overwrite replaces the stored counter for a job with ground-truth
// counts, used by the reconciler. It takes the same lock as Admit/Release
// so a reconcile pass never races an in-flight admission.
func (b *Balancer) Overwrite(ctx context.Context, namespace, jobID string, counts codec.ExecutorCount) error {
	key := keys.ExecutorCount(namespace, jobID)
	return b.Store.WithLock(ctx, key, b.LockTTL, func(ctx context.Context) error {
		return b.retrySet(ctx, key, codec.EncodeExecutorCount(counts), b.TTL)
	})
}

// Forget deletes the stored counter for a job entirely (REAPED transition).
func (b *Balancer) Forget(ctx context.Context, namespace, jobID string) error {
	key := keys.ExecutorCount(namespace, jobID)
	return b.Store.WithLock(ctx, key, b.LockTTL, func(ctx context.Context) error {
		return b.Store.Delete(ctx, key)
	})
}
