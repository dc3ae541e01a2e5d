package prom

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/pricing-proxy/pricing-proxy/cache"
	"github.com/pricing-proxy/pricing-proxy/internal/breaker"
	"github.com/pricing-proxy/pricing-proxy/internal/lock"
	"github.com/pricing-proxy/pricing-proxy/pricing"
)

// Adapter implements cache.Metrics (for the in-process enumGuard),
// breaker.Metrics, lock.Metrics, and pricing.Metrics, and exports
// Prometheus series for all four. cache.Metrics and pricing.Metrics
// share the Hit/Miss methods, so when one Adapter is wired into both
// (as cmd/pricingproxy does), hits_total and misses_total count
// enumGuard lookups and coordinator fresh-cache probes together. Safe
// for concurrent use; all Prometheus metric types are goroutine-safe.
type Adapter struct {
	hits     prometheus.Counter
	misses   prometheus.Counter
	evicts   *prometheus.CounterVec
	sizeEnt  prometheus.Gauge
	sizeCost prometheus.Gauge

	staleServes prometheus.Counter

	upstreamCalls   *prometheus.CounterVec
	upstreamLatency prometheus.Histogram

	lockWait        prometheus.Histogram
	lockUnavailable prometheus.Counter

	breakerState prometheus.Gauge
}

// New constructs a Prometheus metrics adapter.
//   - reg:          registry to register metrics with (nil => prometheus.DefaultRegisterer)
//   - ns, sub:      Prometheus namespace and subsystem
//   - constLabels:  static labels applied to all metrics (may be nil)
func New(reg prometheus.Registerer, ns, sub string, constLabels prometheus.Labels) *Adapter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	a := &Adapter{
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "hits_total",
			Help:        "Cache hits (enumGuard lookups and fresh-cache probes)",
			ConstLabels: constLabels,
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "misses_total",
			Help:        "Cache misses (enumGuard lookups and fresh-cache probes)",
			ConstLabels: constLabels,
		}),
		evicts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   ns,
				Subsystem:   sub,
				Name:        "evictions_total",
				Help:        "enumGuard evictions by reason",
				ConstLabels: constLabels,
			},
			[]string{"reason"},
		),
		sizeEnt: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "size_entries",
			Help:        "Number of resident enumGuard entries",
			ConstLabels: constLabels,
		}),
		sizeCost: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "size_cost",
			Help:        "Total resident enumGuard cost",
			ConstLabels: constLabels,
		}),
		staleServes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "stale_serves_total",
			Help:        "Requests served from the stale namespace in degraded mode",
			ConstLabels: constLabels,
		}),
		upstreamCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   ns,
				Subsystem:   sub,
				Name:        "upstream_calls_total",
				Help:        "Upstream pricing API calls by outcome",
				ConstLabels: constLabels,
			},
			[]string{"outcome"},
		),
		upstreamLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "upstream_call_seconds",
			Help:        "Upstream pricing API call latency",
			ConstLabels: constLabels,
			Buckets:     prometheus.DefBuckets,
		}),
		lockWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "lock_wait_seconds",
			Help:        "Time spent waiting to acquire the distributed lock",
			ConstLabels: constLabels,
			Buckets:     prometheus.DefBuckets,
		}),
		lockUnavailable: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "lock_unavailable_total",
			Help:        "Lock acquisitions that exceeded the wait budget",
			ConstLabels: constLabels,
		}),
		breakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "breaker_state",
			Help:        "Circuit breaker state: 0=closed 1=open 2=half_open",
			ConstLabels: constLabels,
		}),
	}
	reg.MustRegister(
		a.hits, a.misses, a.evicts, a.sizeEnt, a.sizeCost,
		a.staleServes,
		a.upstreamCalls, a.upstreamLatency,
		a.lockWait, a.lockUnavailable,
		a.breakerState,
	)
	return a
}

// Hit increments the hit counter (cache.Metrics and pricing.Metrics).
func (a *Adapter) Hit() { a.hits.Inc() }

// Miss increments the miss counter (cache.Metrics and pricing.Metrics).
func (a *Adapter) Miss() { a.misses.Inc() }

// Evict increments the eviction counter with a reason label.
func (a *Adapter) Evict(r cache.EvictReason) {
	a.evicts.WithLabelValues(reason(r)).Inc()
}

// Size updates gauges for the number of entries and total cost.
func (a *Adapter) Size(entries int, cost int64) {
	a.sizeEnt.Set(float64(entries))
	a.sizeCost.Set(float64(cost))
}

// reason maps EvictReason to a stable label value.
func reason(r cache.EvictReason) string {
	switch r {
	case cache.EvictCapacity:
		return "capacity"
	default:
		return "unknown"
	}
}

// Stale increments the stale-fallback-serve counter, tracking the
// coordinator's Redis-backed degraded-mode path.
func (a *Adapter) Stale() { a.staleServes.Inc() }

// ObserveUpstreamCall records an upstream pricing API call's latency
// and outcome.
func (a *Adapter) ObserveUpstreamCall(d time.Duration, err error) {
	a.upstreamLatency.Observe(d.Seconds())
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	a.upstreamCalls.WithLabelValues(outcome).Inc()
}

// ObserveWait records time spent waiting to acquire the distributed lock.
func (a *Adapter) ObserveWait(d time.Duration) { a.lockWait.Observe(d.Seconds()) }

// Unavailable increments the lock-unavailable counter.
func (a *Adapter) Unavailable() { a.lockUnavailable.Inc() }

// SetState updates the breaker-state gauge.
func (a *Adapter) SetState(s breaker.State) {
	a.breakerState.Set(float64(s))
}

// Compile-time checks: ensure Adapter implements every Metrics surface
// it is wired into.
var _ cache.Metrics = (*Adapter)(nil)
var _ breaker.Metrics = (*Adapter)(nil)
var _ lock.Metrics = (*Adapter)(nil)
var _ pricing.Metrics = (*Adapter)(nil)
