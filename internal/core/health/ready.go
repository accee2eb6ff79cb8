package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// Report is what a readiness probe learns about its dependencies.
type Report struct {
	Ready  bool
	Layers int
	// Components maps a dependency name to "ok" or its error text.
	Components map[string]string
}

type ReadinessReporter interface {
	Readiness(ctx context.Context) Report
}

// ReporterFunc adapts a function to ReadinessReporter.
type ReporterFunc func(ctx context.Context) Report

func (f ReporterFunc) Readiness(ctx context.Context) Report { return f(ctx) }

func Liveness() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}

func Readiness(rr ReadinessReporter, timeout time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		type resp struct {
			Status     string            `json:"status"`
			Layers     int               `json:"layers"`
			Components map[string]string `json:"components,omitempty"`
		}
		ctx := r.Context()
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		rep := rr.Readiness(ctx)
		out := resp{Status: "not_ready", Layers: rep.Layers, Components: rep.Components}
		if rep.Ready {
			out.Status = "ready"
		}
		w.Header().Set("Content-Type", "application/json")
		if !rep.Ready {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(out)
	}
}
