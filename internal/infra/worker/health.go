package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"feedpoller/internal/httpmw/inboundlimit"
	"feedpoller/internal/httpmw/requestid"
	"feedpoller/internal/observability/tracing"
	rlconfig "feedpoller/pkg/config"
	"feedpoller/pkg/ratelimit"
)

// HealthServer serves the engine's one outward-facing HTTP surface:
//   - GET /healthz: readiness probe, {"ready": bool, "uptime_seconds": n}
//   - GET /metrics: Prometheus exposition format
//
// The server supports graceful shutdown via context cancellation.
//
// Example usage:
//
//	healthServer := NewHealthServer(":9091", logger)
//	go func() {
//	    if err := healthServer.Start(ctx); err != nil && err != http.ErrServerClosed {
//	        logger.Error("health server failed", slog.Any("error", err))
//	    }
//	}()
//	healthServer.SetReady(true)  // Mark as ready once the scheduler has wired up
type HealthServer struct {
	addr      string
	logger    *slog.Logger
	isReady   *atomic.Bool
	startedAt time.Time
	server    *http.Server
}

// healthzResponse is the JSON body served by GET /healthz.
type healthzResponse struct {
	Ready         bool    `json:"ready"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

// NewHealthServer creates a new health/metrics server. Not ready until
// SetReady(true) is called, typically once the scheduler has finished
// wiring its dependencies.
func NewHealthServer(addr string, logger *slog.Logger) *HealthServer {
	isReady := &atomic.Bool{}
	isReady.Store(false)

	return &HealthServer{
		addr:      addr,
		logger:    logger,
		isReady:   isReady,
		startedAt: time.Now(),
	}
}

// Start runs the HTTP server until ctx is cancelled. Blocking call;
// supports graceful shutdown with a 5-second timeout.
func (h *HealthServer) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealthz)
	mux.Handle("/metrics", promhttp.Handler())

	rlCfg, err := rlconfig.LoadRateLimitConfig()
	if err != nil {
		h.logger.Warn("failed to load inbound rate limit config, using defaults", slog.Any("error", err))
		rlCfg = ratelimit.DefaultConfig()
	}
	limiter := inboundlimit.New(rlCfg, ratelimit.NewNoOpMetrics(), h.logger)

	h.server = &http.Server{
		Addr:         h.addr,
		Handler:      requestid.Middleware(tracing.Middleware(limiter.Middleware(mux))),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		h.logger.Info("health server starting", slog.String("addr", h.addr))
		if err := h.server.ListenAndServe(); err != nil {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		h.logger.Info("health server shutting down")
		if err := h.server.Shutdown(shutdownCtx); err != nil {
			h.logger.Error("health server shutdown failed", slog.Any("error", err))
			return err
		}
		h.logger.Info("health server stopped")
		return http.ErrServerClosed

	case err := <-errChan:
		if err == http.ErrServerClosed {
			return err
		}
		h.logger.Error("health server failed", slog.Any("error", err))
		return err
	}
}

// SetReady flips the readiness flag reported by GET /healthz.
func (h *HealthServer) SetReady(ready bool) {
	h.isReady.Store(ready)
	h.logger.Info("health server readiness changed", slog.Bool("ready", ready))
}

// handleHealthz reports readiness and process uptime. Always 200: a
// scheduler still wiring up is not an error state, just not-yet-ready.
func (h *HealthServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	resp := healthzResponse{
		Ready:         h.isReady.Load(),
		UptimeSeconds: time.Since(h.startedAt).Seconds(),
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("failed to encode healthz response", slog.Any("error", err))
	}
}
