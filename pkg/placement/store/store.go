// SPDX-FileCopyrightText: SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

// Package store adapts a remote key-value store (Redis) to the small
// capability the placement subsystem needs: get/set/delete with TTL, and a
// distributed lock bracketing a read-modify-write cycle. All other
// packages depend on the Store interface, never on *redis.Client directly,
// so tests can substitute an in-memory fake.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/spotbalancer/admission-webhook/pkg/metrics"
	"github.com/spotbalancer/admission-webhook/pkg/placement/keys"
)

// lockBackoff bounds the retry of a transient SetNX error (not lock
// contention, which is handled by WithLock's own poll loop) with a capped
// exponential backoff.
var lockBackoff = wait.Backoff{
	Duration: 20 * time.Millisecond,
	Factor:   2.0,
	Steps:    3,
}

// ErrNotFound is returned by Get when the key is absent.
var ErrNotFound = errors.New("store: key not found")

// ErrLockTimeout is returned by WithLock when the lock could not be
// acquired within the caller's context deadline.
var ErrLockTimeout = errors.New("store: lock acquisition timed out")

// Store is the capability the placement subsystem needs from the shared
// state backend.
type Store interface {
	// Get returns the value for key, or ErrNotFound if absent.
	Get(ctx context.Context, key string) (string, error)
	// Set writes value under key with the given TTL (0 means no expiry).
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Delete removes key; deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
	// WithLock acquires a lock keyed by key (bounded by lockTTL so a
	// crashed holder cannot wedge it forever), runs fn, and releases the
	// lock. Returns ErrLockTimeout if ctx is done before acquisition.
	WithLock(ctx context.Context, key string, lockTTL time.Duration, fn func(ctx context.Context) error) error
	// Keys returns every key matching the given glob pattern. Used by the
	// reconciler to enumerate tracked jobs independent of which pods are
	// currently live, so a job with no pods at all is still discoverable.
	Keys(ctx context.Context, pattern string) ([]string, error)
	// Ping verifies connectivity to the backing store, for health checks.
	Ping(ctx context.Context) error
}

// RedisStore implements Store over a github.com/redis/go-redis/v9 client.
type RedisStore struct {
	client redis.Cmdable
	// pollInterval is how often WithLock retries acquisition while
	// waiting for a contended lock to free up.
	pollInterval time.Duration
}

// New builds a RedisStore over the given client.
func New(client redis.Cmdable) *RedisStore {
	return &RedisStore{client: client, pollInterval: 50 * time.Millisecond}
}

// observeDuration records how long a store operation took, labeled by
// operation name, for the store_operation_duration_seconds histogram.
func observeDuration(operation string, start time.Time) {
	metrics.StoreOperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	defer observeDuration("get", time.Now())

	v, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return v, nil
}

func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	defer observeDuration("set", time.Now())
	return s.client.Set(ctx, key, value, ttl).Err()
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	defer observeDuration("delete", time.Now())
	return s.client.Del(ctx, key).Err()
}

// Keys scans the keyspace for every key matching pattern. It uses SCAN
// rather than KEYS so a large keyspace never blocks the Redis event loop.
func (s *RedisStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	defer observeDuration("keys", time.Now())

	var found []string
	var cursor uint64
	for {
		batch, next, err := s.client.Scan(ctx, cursor, pattern, 256).Result()
		if err != nil {
			return nil, err
		}
		found = append(found, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return found, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	defer observeDuration("ping", time.Now())
	return s.client.Ping(ctx).Err()
}

// unlockScript deletes lockKey only if its value still matches the token
// this holder wrote, so a lock is never released by anyone but its holder
// (a released-then-reacquired key must not be torn down by a late caller
// whose lock already expired).
var unlockScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

func (s *RedisStore) WithLock(ctx context.Context, key string, lockTTL time.Duration, fn func(ctx context.Context) error) error {
	defer observeDuration("with_lock", time.Now())

	lockKey := keys.Lock(key)
	token := uuid.NewString()

	for {
		ok, err := s.setNXWithRetry(ctx, lockKey, token, lockTTL)
		if err != nil {
			return err
		}
		if ok {
			break
		}

		select {
		case <-ctx.Done():
			return ErrLockTimeout
		case <-time.After(s.pollInterval):
		}
	}

	defer unlockScript.Run(context.WithoutCancel(ctx), s.client, []string{lockKey}, token)

	return fn(ctx)
}

// setNXWithRetry retries a transient SetNX error with a capped backoff. A
// clean "already held" result (ok=false, err=nil) is not retried here —
// that is lock contention, handled by WithLock's own poll loop above.
func (s *RedisStore) setNXWithRetry(ctx context.Context, lockKey, token string, lockTTL time.Duration) (bool, error) {
	var ok bool
	var setErr error
	_ = wait.ExponentialBackoff(lockBackoff, func() (bool, error) {
		ok, setErr = s.client.SetNX(ctx, lockKey, token, lockTTL).Result()
		return setErr == nil, nil
	})
	return ok, setErr
}
