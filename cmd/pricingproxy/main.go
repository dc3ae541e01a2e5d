// Command pricingproxy runs the read-through pricing cache proxy
// described in SPEC_FULL.md: an HTTP edge in front of a Redis-backed
// cache/lock pair, a circuit breaker, and a single upstream client.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/pricing-proxy/pricing-proxy/config"
	"github.com/pricing-proxy/pricing-proxy/httpapi"
	"github.com/pricing-proxy/pricing-proxy/internal/breaker"
	"github.com/pricing-proxy/pricing-proxy/internal/lock"
	"github.com/pricing-proxy/pricing-proxy/metrics/prom"
	"github.com/pricing-proxy/pricing-proxy/pricing"
	"github.com/pricing-proxy/pricing-proxy/store"
	"github.com/pricing-proxy/pricing-proxy/upstream"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	cfg := config.FromEnv()

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Error("invalid REDIS_URL", "err", err)
		os.Exit(1)
	}
	rdb := redis.NewClient(opt)
	defer rdb.Close()

	m := prom.New(nil, "pricingproxy", "", nil)

	breakerOpt := breaker.Default()
	breakerOpt.FailureThreshold = cfg.BreakerFailureThreshold
	breakerOpt.Window = cfg.BreakerWindow
	breakerOpt.MinObservations = cfg.BreakerMinObservations
	breakerOpt.SleepWindow = cfg.BreakerSleepWindow
	breakerOpt.SuccessThreshold = cfg.BreakerSuccessThreshold
	breakerOpt.Metrics = m

	st := store.New(rdb)
	mu := lock.New(rdb, log, m)
	br := breaker.New(breakerOpt, log)
	up := upstream.New(cfg.RateAPIURL, cfg.RateAPIToken, "pricingproxy/1.0", cfg.UpstreamTimeout)

	coordinator := pricing.New(st, mu, br, up, pricing.Tunables{
		FreshTTL:         cfg.FreshTTL,
		StaleTTL:         cfg.StaleTTL,
		LockHoldTTL:      cfg.LockHoldTTL,
		LockWaitBudget:   cfg.LockWaitBudget,
		LockPollInterval: cfg.LockPollInterval,
	}, log, m)

	handler := httpapi.New(coordinator, log, m)

	mux := http.NewServeMux()
	mux.Handle("/pricing", handler)
	mux.Handle("/metrics", promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info("listening", "addr", cfg.ListenAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "err", err)
	}
}
