// Package inboundlimit guards the engine's own HTTP surface (/healthz,
// /metrics) against scrape storms and misconfigured monitors, the inbound
// mirror of the outbound politeness envelope the fetcher applies to feed
// origins. It is a thin adapter over pkg/ratelimit: one sliding-window
// algorithm, one in-memory store keyed by client IP, one circuit breaker
// so a misbehaving store degrades open rather than wedging the listener.
package inboundlimit

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"feedpoller/pkg/ratelimit"
)

// Limiter wraps an http.Handler with IP-based sliding-window rate limiting.
type Limiter struct {
	cfg       *ratelimit.RateLimitConfig
	store     ratelimit.RateLimitStore
	algorithm ratelimit.RateLimitAlgorithm
	breaker   *ratelimit.CircuitBreaker
	metrics   ratelimit.RateLimitMetrics
	logger    *slog.Logger
}

// New builds a Limiter from cfg. A nil logger defaults to slog.Default().
func New(cfg *ratelimit.RateLimitConfig, metrics ratelimit.RateLimitMetrics, logger *slog.Logger) *Limiter {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = ratelimit.NewNoOpMetrics()
	}
	storeCfg := ratelimit.DefaultInMemoryStoreConfig()
	storeCfg.MaxKeys = cfg.MaxActiveKeys
	return &Limiter{
		cfg:       cfg,
		store:     ratelimit.NewInMemoryRateLimitStore(storeCfg),
		algorithm: ratelimit.NewSlidingWindowAlgorithm(&ratelimit.SystemClock{}),
		breaker: ratelimit.NewCircuitBreaker(ratelimit.CircuitBreakerConfig{
			FailureThreshold: cfg.CircuitBreakerFailureThreshold,
			RecoveryTimeout:  cfg.CircuitBreakerResetTimeout,
			Metrics:          metrics,
			LimiterType:      "inbound_http",
		}),
		metrics: metrics,
		logger:  logger,
	}
}

// Middleware denies requests once the calling IP exceeds cfg.DefaultIPLimit
// within cfg.DefaultIPWindow. A store or breaker failure fails open: a
// misbehaving rate limiter must never be the reason /healthz goes dark.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	if !l.cfg.Enabled {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := clientIP(r)
		var decision *ratelimit.RateLimitDecision
		err := l.breaker.Execute(func() error {
			d, err := l.algorithm.IsAllowed(r.Context(), key, l.store, l.cfg.DefaultIPLimit, l.cfg.DefaultIPWindow)
			if err != nil {
				return err
			}
			decision = d
			return nil
		})
		if err != nil {
			l.logger.Warn("inbound rate limiter check failed, allowing request", slog.String("error", err.Error()))
			next.ServeHTTP(w, r)
			return
		}
		if decision == nil {
			// Open circuit: Execute already failed open without running the
			// algorithm, so there is nothing to evaluate.
			next.ServeHTTP(w, r)
			return
		}

		if decision.IsDenied() {
			l.metrics.RecordDenied("ip", r.URL.Path)
			w.Header().Set("Retry-After", strconv.FormatInt(decision.RetryAfterSeconds(), 10))
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}

		l.metrics.RecordAllowed("ip", r.URL.Path)
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
