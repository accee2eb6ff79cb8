// Package server wires the HTTP routes and runs the listener.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mohammed-shakir/vector-layer-cache/internal/core/health"
	middleware "github.com/mohammed-shakir/vector-layer-cache/internal/core/middleware"
	"github.com/mohammed-shakir/vector-layer-cache/internal/core/router"
)

type Deps struct {
	API       *router.API
	Readiness health.ReadinessReporter
	// Metrics defaults to the global Prometheus handler.
	Metrics http.Handler
}

// NewHandler builds the route tree shared by Run and tests.
func NewHandler(logger *slog.Logger, d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logging(logger))
	r.Use(middleware.CORS())

	r.Get("/healthz", health.Liveness())
	if d.Readiness != nil {
		r.Get("/readyz", health.Readiness(d.Readiness, 2*time.Second))
	}
	m := d.Metrics
	if m == nil {
		m = promhttp.Handler()
	}
	r.Method(http.MethodGet, "/metrics", m)
	if d.API != nil {
		d.API.Mount(r)
	}
	return r
}

// Run serves handler on addr until ctx is done.
func Run(ctx context.Context, addr string, logger *slog.Logger, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listen", "addr", addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
