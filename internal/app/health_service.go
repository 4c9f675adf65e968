package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/pollsync/internal/config"
)

// FailureCounter reports consecutive failed runs.
type FailureCounter interface {
	ConsecutiveFailures() int
}

// HealthService provides HTTP health, readiness and metrics endpoints.
type HealthService struct {
	addr            string
	threshold       int
	shutdownTimeout time.Duration
	failures        FailureCounter
	gatherer        prometheus.Gatherer
}

// NewHealthService creates a new HealthService.
func NewHealthService(cfg *config.Config, failures FailureCounter, gatherer prometheus.Gatherer) *HealthService {
	return &HealthService{
		addr:            fmt.Sprintf("%s:%d", cfg.Healthcheck.Host, cfg.Healthcheck.Port),
		threshold:       cfg.Poll.FailureThreshold,
		shutdownTimeout: cfg.ShutdownTimeout.Duration(),
		failures:        failures,
		gatherer:        gatherer,
	}
}

// Handler returns the endpoint mux.
func (s *HealthService) Handler() http.Handler {
	mux := http.NewServeMux()

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, http.StatusOK, map[string]any{"status": "healthy"})
	})

	// Ready while consecutive run failures stay below the threshold
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		failures := s.failures.ConsecutiveFailures()
		if s.threshold > 0 && failures >= s.threshold {
			writeStatus(w, http.StatusServiceUnavailable, map[string]any{
				"status":               "failing",
				"consecutive_failures": failures,
			})
			return
		}
		writeStatus(w, http.StatusOK, map[string]any{
			"status":               "ready",
			"consecutive_failures": failures,
		})
	})

	mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	return mux
}

// Run serves until ctx is cancelled.
func (s *HealthService) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	log.Info().Str("addr", s.addr).Msg("Starting health check server")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Health check server shutdown error")
		}
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("health check server: %w", err)
	}
	return nil
}

func writeStatus(w http.ResponseWriter, code int, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Debug().Err(err).Msg("Failed to write health response")
	}
}
