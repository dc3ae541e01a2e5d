// Package config collects the pricing proxy's environment-sourced
// tunables into a single struct, defaulted the way the teacher cache
// defaults its Options: zero values are filled in at construction time,
// never via package-level init().
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds every tunable named in spec.md §3/§6.
type Config struct {
	// RateAPIURL is the base URL of the upstream pricing API.
	RateAPIURL string
	// RateAPIToken is the bearer-style token sent as the "token" header.
	// Optional: an empty value omits the header.
	RateAPIToken string
	// RedisURL addresses the shared key-value store backing the cache
	// and the distributed mutex.
	RedisURL string
	// ListenAddr is the address the HTTP edge binds to.
	ListenAddr string

	// Cache TTLs.
	FreshTTL time.Duration // T_fresh, default 5m
	StaleTTL time.Duration // T_stale, default 30m

	// Distributed mutex tunables.
	LockHoldTTL      time.Duration // T_hold, default 10s
	LockWaitBudget   time.Duration // T_wait, default 5s
	LockPollInterval time.Duration // T_poll, default 100ms

	// Circuit breaker tunables.
	BreakerFailureThreshold int           // F_open, default 5
	BreakerWindow           time.Duration // W, default 30s
	BreakerMinObservations  int           // V, default 5
	BreakerSleepWindow      time.Duration // S, default 30s
	BreakerSuccessThreshold int           // R, default 2

	// UpstreamTimeout bounds a single upstream call.
	UpstreamTimeout time.Duration // default 5s
}

// Default returns the spec's literal defaults with no environment
// applied; used as the base for FromEnv and directly by tests.
func Default() Config {
	return Config{
		RateAPIURL:              "http://rate-api:3001",
		RateAPIToken:            "",
		RedisURL:                "redis://localhost:6379/0",
		ListenAddr:              ":8080",
		FreshTTL:                5 * time.Minute,
		StaleTTL:                30 * time.Minute,
		LockHoldTTL:             10 * time.Second,
		LockWaitBudget:          5 * time.Second,
		LockPollInterval:        100 * time.Millisecond,
		BreakerFailureThreshold: 5,
		BreakerWindow:           30 * time.Second,
		BreakerMinObservations:  5,
		BreakerSleepWindow:      30 * time.Second,
		BreakerSuccessThreshold: 2,
		UpstreamTimeout:         5 * time.Second,
	}
}

// FromEnv builds a Config starting from Default() and overriding any
// field whose environment variable is set. Malformed duration/int
// values are ignored (the default is kept) rather than failing startup;
// callers that want strict validation should check the returned Config
// against their own expectations before wiring collaborators.
func FromEnv() Config {
	c := Default()

	if v := os.Getenv("RATE_API_URL"); v != "" {
		c.RateAPIURL = v
	}
	if v := os.Getenv("RATE_API_TOKEN"); v != "" {
		c.RateAPIToken = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		c.RedisURL = v
	}
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		c.ListenAddr = v
	}

	durEnv("T_FRESH", &c.FreshTTL)
	durEnv("T_STALE", &c.StaleTTL)
	durEnv("T_HOLD", &c.LockHoldTTL)
	durEnv("T_WAIT", &c.LockWaitBudget)
	durEnv("T_POLL", &c.LockPollInterval)
	durEnv("BREAKER_WINDOW", &c.BreakerWindow)
	durEnv("BREAKER_SLEEP_WINDOW", &c.BreakerSleepWindow)
	durEnv("UPSTREAM_TIMEOUT", &c.UpstreamTimeout)

	intEnv("BREAKER_FAILURE_THRESHOLD", &c.BreakerFailureThreshold)
	intEnv("BREAKER_MIN_OBSERVATIONS", &c.BreakerMinObservations)
	intEnv("BREAKER_SUCCESS_THRESHOLD", &c.BreakerSuccessThreshold)

	return c
}

func durEnv(name string, dst *time.Duration) {
	v := os.Getenv(name)
	if v == "" {
		return
	}
	if d, err := time.ParseDuration(v); err == nil {
		*dst = d
	}
}

func intEnv(name string, dst *int) {
	v := os.Getenv(name)
	if v == "" {
		return
	}
	if n, err := strconv.Atoi(v); err == nil {
		*dst = n
	}
}
