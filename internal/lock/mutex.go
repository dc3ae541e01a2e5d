// Package lock implements the Distributed Mutex from spec §4.D: a
// named-lock service on the shared Redis store with acquire-timeout,
// hold-timeout, and poll cadence. The acquire/release shape follows
// the teacher-adjacent dsync/lock reference (owner-fencing token,
// deferred unlock), trimmed to the spec's contract: §4.D has no lock
// extension/refresh requirement, only a hold-TTL bound, so unlike that
// reference this Mutex never refreshes mid-body.
//
// Concurrent same-process callers for the same key are additionally
// coalesced by an in-process singleflight.Group before any of them
// touches Redis, the same "collapse concurrent loads" idea the teacher
// applies inside cache.GetOrLoad, just one layer further down the
// stack: many goroutines racing the same Rate Key in one process
// become a single Redis round trip instead of N.
package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/pricing-proxy/pricing-proxy/internal/singleflight"
)

// ErrUnavailable is returned when the acquire/release round-trip to
// Redis itself fails (not lock contention). The coordinator maps this
// to pricing.ErrStoreUnavailable (spec §7).
var ErrUnavailable = errors.New("lock: shared store unavailable")

// Metrics exposes lock observability hooks, mirroring the teacher's
// cache.Metrics/NoopMetrics pattern.
type Metrics interface {
	ObserveWait(d time.Duration)
	Unavailable()
}

// NoopMetrics implements Metrics and does nothing.
type NoopMetrics struct{}

func (NoopMetrics) ObserveWait(time.Duration) {}
func (NoopMetrics) Unavailable()              {}

// Mutex acquires named locks on a shared Redis instance. One Mutex is
// shared by all goroutines of a process; concurrent WithLock calls for
// the same key are coalesced in-process before touching Redis, so only
// the first caller for a key actually talks to the shared store.
type Mutex struct {
	client  *redis.Client
	log     *slog.Logger
	metrics Metrics
	sf      singleflight.Group[string, string]
}

// New constructs a Mutex over an existing Redis client. logger may be
// nil, in which case slog.Default() is used.
func New(client *redis.Client, logger *slog.Logger, metrics ...Metrics) *Mutex {
	if logger == nil {
		logger = slog.Default()
	}
	var m Metrics = NoopMetrics{}
	if len(metrics) > 0 && metrics[0] != nil {
		m = metrics[0]
	}
	return &Mutex{client: client, log: logger, metrics: m}
}

// unlockScript deletes the key only if its value still matches the
// caller's fencing token, so a holder whose hold TTL already expired
// (and was possibly reacquired by someone else) can never delete a
// lock it no longer owns.
var unlockScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

// ErrLockUnavailable is returned by WithLock when acquisition does not
// succeed within waitBudget.
var ErrLockUnavailable = errors.New("lock: service temporarily busy, please retry")

// WithLock acquires the named lock, runs body while holding it, and
// releases it on every exit path (normal return, error, or ctx
// cancellation propagated through body). If the lock cannot be
// acquired within waitBudget, it returns ErrLockUnavailable without
// running body.
//
// Concurrent callers in the same process for the same name are
// coalesced first: only the leader touches Redis and runs body, and
// every follower receives the leader's exact (value, error). This
// means a follower's own waitBudget/pollInterval are not consulted
// (it never acquires anything itself); callers sharing one Mutex for
// a given key should pass the same tunables, which the coordinator
// does since they come from one Tunables value.
//
// The lock may be lost mid-execution if body outruns holdTTL; the
// caller tolerates this per spec §4.D.4 (the cache double-check makes
// a redundant upstream call rare and non-corrupting, never unsafe).
func WithLock(ctx context.Context, m *Mutex, name string, holdTTL, waitBudget, pollInterval time.Duration, body func(ctx context.Context) (string, error)) (string, error) {
	return m.sf.Do(ctx, name, func() (string, error) {
		return m.withRedisLock(ctx, name, holdTTL, waitBudget, pollInterval, body)
	})
}

func (m *Mutex) withRedisLock(ctx context.Context, name string, holdTTL, waitBudget, pollInterval time.Duration, body func(ctx context.Context) (string, error)) (string, error) {
	key := "lock:" + name
	token := uuid.Must(uuid.NewV7()).String()

	waitStart := time.Now()
	acquired, err := m.acquire(ctx, key, token, holdTTL, waitBudget, pollInterval)
	m.metrics.ObserveWait(time.Since(waitStart))
	if err != nil {
		return "", err
	}
	if !acquired {
		m.metrics.Unavailable()
		m.log.Warn("lock acquisition failed", "key", key)
		return "", ErrLockUnavailable
	}

	defer func() {
		// Release with a fresh, short-lived context: a caller whose ctx
		// was cancelled must still get its lock released promptly.
		relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		if err := m.release(relCtx, key, token); err != nil {
			m.log.Error("lock release failed", "key", key, "err", err)
		}
	}()

	return body(ctx)
}

// acquire polls every pollInterval until the lock is obtained or
// waitBudget elapses.
func (m *Mutex) acquire(ctx context.Context, key, token string, holdTTL, waitBudget, pollInterval time.Duration) (bool, error) {
	deadline := time.After(waitBudget)
	for {
		ok, err := m.tryAcquire(ctx, key, token, holdTTL)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}

		select {
		case <-ctx.Done():
			return false, nil
		case <-deadline:
			return false, nil
		case <-time.After(pollInterval):
			// retry
		}
	}
}

func (m *Mutex) tryAcquire(ctx context.Context, key, token string, holdTTL time.Duration) (bool, error) {
	ok, err := m.client.SetNX(ctx, key, token, holdTTL).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return ok, nil
}

func (m *Mutex) release(ctx context.Context, key, token string) error {
	if err := unlockScript.Run(ctx, m.client, []string{key}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
