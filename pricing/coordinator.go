package pricing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pricing-proxy/pricing-proxy/internal/breaker"
	"github.com/pricing-proxy/pricing-proxy/internal/lock"
	"github.com/pricing-proxy/pricing-proxy/store"
	"github.com/pricing-proxy/pricing-proxy/upstream"
)

// Upstream is the subset of upstream.Client the coordinator depends
// on, narrowed for testability (tests supply a stub).
type Upstream interface {
	FetchRate(ctx context.Context, period, hotel, room string) (string, error)
}

// Metrics exposes coordinator-level observability hooks: cache hit/miss
// on the fresh namespace, stale-fallback serves, and upstream call
// latency. Mirrors the teacher's cache.Metrics/NoopMetrics pattern.
type Metrics interface {
	Hit()
	Miss()
	Stale()
	ObserveUpstreamCall(d time.Duration, err error)
}

// NoopMetrics implements Metrics and does nothing.
type NoopMetrics struct{}

func (NoopMetrics) Hit()                                    {}
func (NoopMetrics) Miss()                                   {}
func (NoopMetrics) Stale()                                  {}
func (NoopMetrics) ObserveUpstreamCall(time.Duration, error) {}

// Tunables mirrors the subset of config.Config the coordinator needs,
// kept separate so pricing does not import config; the wiring root
// copies the values across.
type Tunables struct {
	FreshTTL         time.Duration
	StaleTTL         time.Duration
	LockHoldTTL      time.Duration
	LockWaitBudget   time.Duration
	LockPollInterval time.Duration
}

// Coordinator implements spec §4.E's orchestration algorithm.
type Coordinator struct {
	store    store.Store
	mu       *lock.Mutex
	breaker  *breaker.Breaker
	upstream Upstream
	tun      Tunables
	log      *slog.Logger
	metrics  Metrics
}

// New constructs a Coordinator from its collaborators, all explicitly
// passed in rather than reached for as globals (spec §9). metrics may
// be omitted, in which case NoopMetrics is used.
func New(st store.Store, mu *lock.Mutex, br *breaker.Breaker, up Upstream, tun Tunables, logger *slog.Logger, metrics ...Metrics) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	var m Metrics = NoopMetrics{}
	if len(metrics) > 0 && metrics[0] != nil {
		m = metrics[0]
	}
	return &Coordinator{store: st, mu: mu, breaker: br, upstream: up, tun: tun, log: logger, metrics: m}
}

// Key builds the canonical Rate Key from spec §3.
func Key(period, hotel, room string) string {
	return fmt.Sprintf("rate:%s:%s:%s", period, hotel, room)
}

// Resolve implements spec §4.E steps 1-3: cache probe, lock-and-fetch,
// double-check, breaker-wrapped upstream call, dual write. It does not
// apply the degraded-mode stale fallback; callers wanting that
// behavior use ResolveDegraded.
func (c *Coordinator) Resolve(ctx context.Context, period, hotel, room string) (string, error) {
	key := Key(period, hotel, room)

	if v, ok, err := c.store.Get(ctx, store.Fresh, key); err != nil {
		return "", storeUnavailable(err)
	} else if ok {
		c.metrics.Hit()
		return v, nil
	}

	c.metrics.Miss()
	c.log.Info("cache miss", "key", key)

	result, lockErr := lock.WithLock(ctx, c.mu, key, c.tun.LockHoldTTL, c.tun.LockWaitBudget, c.tun.LockPollInterval, func(ctx context.Context) (string, error) {
		// Double-check: another holder may have refreshed fresh: while
		// we waited for the lock (spec §4.E 2a, the TTL-boundary race).
		if v, ok, err := c.store.Get(ctx, store.Fresh, key); err != nil {
			return "", storeUnavailable(err)
		} else if ok {
			return v, nil
		}

		callStart := time.Now()
		v, err := breaker.Call(ctx, c.breaker, func(ctx context.Context) (string, error) {
			return c.upstream.FetchRate(ctx, period, hotel, room)
		})
		c.metrics.ObserveUpstreamCall(time.Since(callStart), err)
		if err != nil {
			return "", classifyUpstreamErr(err)
		}

		if err := c.store.Put(ctx, store.Fresh, key, v, c.tun.FreshTTL); err != nil {
			return "", storeUnavailable(err)
		}
		if err := c.store.Put(ctx, store.Stale, key, v, c.tun.StaleTTL); err != nil {
			return "", storeUnavailable(err)
		}
		return v, nil
	})

	if lockErr != nil {
		if errors.Is(lockErr, lock.ErrLockUnavailable) {
			c.log.Warn("lock unavailable", "key", key)
			if v, ok, err := c.store.Get(ctx, store.Fresh, key); err == nil && ok {
				return v, nil
			}
			return "", &Error{Kind: KindBusy, Err: Busy}
		}
		if errors.Is(lockErr, lock.ErrUnavailable) {
			return "", storeUnavailable(lockErr)
		}
		// lockErr is the *Error our body returned; propagate as-is.
		var typed *Error
		if errors.As(lockErr, &typed) {
			return "", typed
		}
		return "", storeUnavailable(lockErr)
	}

	return result, nil
}

// ResolveDegraded wraps Resolve with the degraded-mode policy from
// spec §4.E: on any typed upstream/breaker error, consult the stale
// namespace before surfacing the error. Busy (lock contention) and
// StoreUnavailable are surfaced without a stale read.
//
// Returns (value, stale, error). stale is true when the value came
// from the stale fallback, in which case the edge should attach the
// warning flag from spec §6.
func (c *Coordinator) ResolveDegraded(ctx context.Context, period, hotel, room string) (string, bool, error) {
	v, err := c.Resolve(ctx, period, hotel, room)
	if err == nil {
		return v, false, nil
	}

	var typed *Error
	if !errors.As(err, &typed) {
		return "", false, err
	}

	// Busy already attempted a fresh read inside Resolve; per spec §4.E
	// ("else: raise Busy") it never falls back to stale. StoreUnavailable
	// means the store itself cannot be trusted, so stale is also skipped.
	if typed.Kind == KindBusy || typed.Kind == KindStoreUnavailable {
		return "", false, err
	}

	key := Key(period, hotel, room)
	sv, ok, serr := c.store.Get(ctx, store.Stale, key)
	if serr == nil && ok {
		c.metrics.Stale()
		c.log.Warn("serving stale fallback", "key", key, "cause", typed.Kind)
		return sv, true, nil
	}
	return "", false, err
}

func storeUnavailable(err error) error {
	return &Error{Kind: KindStoreUnavailable, Err: fmt.Errorf("%w: %v", ErrStoreUnavailable, err)}
}

func classifyUpstreamErr(err error) error {
	if errors.Is(err, breaker.ErrOpen) {
		return &Error{Kind: KindBreakerOpen, Err: err}
	}

	var timeoutErr *upstream.TimeoutError
	var clientErr *upstream.ClientError
	var serverErr *upstream.ServerError
	var networkErr *upstream.NetworkError
	var protocolErr *upstream.ProtocolError

	switch {
	case errors.As(err, &timeoutErr):
		return &Error{Kind: KindTimeout, Err: err}
	case errors.As(err, &clientErr):
		return &Error{Kind: KindClientError, Err: err}
	case errors.As(err, &serverErr):
		return &Error{Kind: KindServerError, Err: err}
	case errors.As(err, &networkErr):
		return &Error{Kind: KindNetworkError, Err: err}
	case errors.As(err, &protocolErr):
		return &Error{Kind: KindProtocolError, Err: err}
	default:
		return &Error{Kind: KindServerError, Err: err}
	}
}
