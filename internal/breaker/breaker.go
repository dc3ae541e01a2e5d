// Package breaker implements the Circuit Breaker from spec §4.B: a
// CLOSED/OPEN/HALF_OPEN state machine over a rolling failure window,
// gating calls to the upstream pricing client. Counter state is
// process-local, per spec §9 ("process-local breaker under
// multi-instance deployment" is a deliberate simplification).
//
// The lock-free atomic-counter gate is grounded on the pack's
// sliding-window circuit breaker reference (windowStart/windowRequests/
// windowFailures via atomic.Int64), generalized from an
// http.RoundTripper into a generic Call over any result type, and
// extended with the HALF_OPEN consecutive-success counting spec §4.B
// requires (R successes to close) rather than a single-probe gate.
package breaker

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"
)

// State is one of the three breaker states in spec §4.B.
type State int32

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Open:
		return "OPEN"
	case HalfOpen:
		return "HALF_OPEN"
	default:
		return "CLOSED"
	}
}

// ErrOpen is returned immediately (without invoking the wrapped call)
// while the breaker is OPEN or while a HALF_OPEN probe is already in
// flight.
var ErrOpen = errors.New("breaker: circuit open")

// Metrics exposes breaker observability hooks. A NoopMetrics
// implementation is used when Options.Metrics is nil, matching the
// teacher's cache.Metrics/NoopMetrics pattern.
type Metrics interface {
	SetState(s State)
}

// NoopMetrics implements Metrics and does nothing.
type NoopMetrics struct{}

func (NoopMetrics) SetState(State) {}

// Options configures the breaker's thresholds (spec §3 Breaker State).
type Options struct {
	// FailureThreshold is F_open: failures within Window that trip the
	// breaker (subject to MinObservations).
	FailureThreshold int
	// Window is W, the rolling window over which failures are counted.
	Window time.Duration
	// MinObservations is V, the minimum number of calls observed in
	// Window before a trip is considered.
	MinObservations int
	// SleepWindow is S: how long OPEN lasts before probing HALF_OPEN.
	SleepWindow time.Duration
	// SuccessThreshold is R: consecutive HALF_OPEN successes to close.
	SuccessThreshold int

	// Metrics receives state-transition notifications. Nil => NoopMetrics.
	Metrics Metrics
}

// Default returns the spec's literal defaults (F_open=5, W=30s, V=5,
// S=30s, R=2).
func Default() Options {
	return Options{
		FailureThreshold: 5,
		Window:           30 * time.Second,
		MinObservations:  5,
		SleepWindow:      30 * time.Second,
		SuccessThreshold: 2,
	}
}

// Breaker gates calls to a single upstream collaborator. Safe for
// concurrent use; all state is held in atomics, matching the teacher's
// padded-atomic-counter style in cache/shard.go (hits/misses/evicts).
type Breaker struct {
	opt Options
	log *slog.Logger

	state atomic.Int32

	windowStart    atomic.Int64 // UnixNano
	windowRequests atomic.Int64
	windowFailures atomic.Int64

	openedAt atomic.Int64 // UnixNano, set when transitioning to OPEN

	probeInFlight   atomic.Bool
	halfOpenSuccess atomic.Int64
}

// New constructs a Breaker in the CLOSED state. logger may be nil.
func New(opt Options, logger *slog.Logger) *Breaker {
	if logger == nil {
		logger = slog.Default()
	}
	if opt.Metrics == nil {
		opt.Metrics = NoopMetrics{}
	}
	b := &Breaker{opt: opt, log: logger}
	b.state.Store(int32(Closed))
	b.windowStart.Store(time.Now().UnixNano())
	return b
}

// State returns the breaker's current state.
func (b *Breaker) State() State { return State(b.state.Load()) }

// Countable reports whether an error counts against the breaker's
// rolling failure window, per spec §4.B: TimeoutError, ServerError, and
// NetworkError count; ClientError and ProtocolError do not (they
// reflect caller/contract bugs, not upstream health).
type Countable interface {
	CountsAsFailure() bool
}

// Call invokes fn, gated by the breaker. In OPEN (before the sleep
// window elapses) fn is never invoked and ErrOpen is returned
// immediately. Once the sleep window elapses, HALF_OPEN admits one
// probe at a time: a CAS on probeInFlight lets only a single call run
// fn while the breaker recovers, but each probe releases the CAS
// before returning, so successive calls (not just the first) each get
// their own probe once the prior one's outcome is published. This is
// what lets SuccessThreshold consecutive successes actually accumulate
// and close the breaker; a version that only ever admits the first
// post-sleep-window caller would stay HALF_OPEN forever whenever
// SuccessThreshold > 1. Callers that lose the CAS get ErrOpen.
func Call[T any](ctx context.Context, b *Breaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	switch b.State() {
	case Open:
		if !b.sleepWindowElapsed() {
			return zero, ErrOpen
		}
		if !b.probeInFlight.CompareAndSwap(false, true) {
			// Another goroutine is already probing.
			return zero, ErrOpen
		}
		b.transition(Open, HalfOpen)
		defer b.probeInFlight.Store(false)

		v, err := fn(ctx)
		b.observeHalfOpen(err)
		return v, err

	case HalfOpen:
		// Admit one bounded probe at a time while recovering. Every
		// concurrent caller that loses this CAS is rejected, but once
		// the current probe's outcome is published the slot opens back
		// up for the next sequential caller.
		if !b.probeInFlight.CompareAndSwap(false, true) {
			return zero, ErrOpen
		}
		defer b.probeInFlight.Store(false)

		v, err := fn(ctx)
		b.observeHalfOpen(err)
		return v, err

	default: // Closed
		v, err := fn(ctx)
		b.observeClosed(err)
		return v, err
	}
}

func (b *Breaker) sleepWindowElapsed() bool {
	return time.Since(time.Unix(0, b.openedAt.Load())) >= b.opt.SleepWindow
}

func (b *Breaker) observeClosed(err error) {
	isFailure := countsAsFailure(err)
	b.record(isFailure)

	if !isFailure {
		return
	}
	if b.shouldTrip() {
		if b.state.CompareAndSwap(int32(Closed), int32(Open)) {
			b.openedAt.Store(time.Now().UnixNano())
			b.opt.Metrics.SetState(Open)
			b.log.Warn("breaker open", "failures", b.windowFailures.Load(), "requests", b.windowRequests.Load())
		}
	}
}

func (b *Breaker) observeHalfOpen(err error) {
	if countsAsFailure(err) {
		b.halfOpenSuccess.Store(0)
		b.state.Store(int32(Open))
		b.openedAt.Store(time.Now().UnixNano())
		b.opt.Metrics.SetState(Open)
		b.resetWindow()
		b.log.Warn("breaker re-opened after failed probe")
		return
	}

	n := b.halfOpenSuccess.Add(1)
	if n >= int64(b.opt.SuccessThreshold) {
		b.transition(HalfOpen, Closed)
		b.halfOpenSuccess.Store(0)
		b.resetWindow()
		b.log.Info("breaker closed")
	}
}

func (b *Breaker) record(isFailure bool) {
	now := time.Now()
	start := time.Unix(0, b.windowStart.Load())
	if now.Sub(start) >= b.opt.Window {
		if b.windowStart.CompareAndSwap(start.UnixNano(), now.UnixNano()) {
			b.windowRequests.Store(0)
			b.windowFailures.Store(0)
		}
	}
	b.windowRequests.Add(1)
	if isFailure {
		b.windowFailures.Add(1)
	}
}

func (b *Breaker) shouldTrip() bool {
	requests := b.windowRequests.Load()
	if requests < int64(b.opt.MinObservations) {
		return false
	}
	return b.windowFailures.Load() >= int64(b.opt.FailureThreshold)
}

func (b *Breaker) resetWindow() {
	b.windowStart.Store(time.Now().UnixNano())
	b.windowRequests.Store(0)
	b.windowFailures.Store(0)
}

func (b *Breaker) transition(from, to State) {
	if b.state.CompareAndSwap(int32(from), int32(to)) {
		b.opt.Metrics.SetState(to)
		b.log.Info("breaker transition", "from", from, "to", to)
	}
}

func countsAsFailure(err error) bool {
	if err == nil {
		return false
	}
	var c Countable
	if errors.As(err, &c) {
		return c.CountsAsFailure()
	}
	// Unclassified errors are conservatively counted, matching the
	// eaglepoint reference's "err != nil" default.
	return true
}
