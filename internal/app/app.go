// Package app assembles the layer cache and its HTTP surface from config.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mohammed-shakir/vector-layer-cache/internal/cache/redisstore"
	"github.com/mohammed-shakir/vector-layer-cache/internal/core/config"
	"github.com/mohammed-shakir/vector-layer-cache/internal/core/health"
	"github.com/mohammed-shakir/vector-layer-cache/internal/core/observability"
	"github.com/mohammed-shakir/vector-layer-cache/internal/core/router"
	"github.com/mohammed-shakir/vector-layer-cache/internal/core/server"
	"github.com/mohammed-shakir/vector-layer-cache/internal/geo/crs"
	mylog "github.com/mohammed-shakir/vector-layer-cache/internal/logger"
	"github.com/mohammed-shakir/vector-layer-cache/internal/metrics"
	"github.com/mohammed-shakir/vector-layer-cache/internal/source"
	"github.com/mohammed-shakir/vector-layer-cache/internal/source/geojsonfile"
	"github.com/mohammed-shakir/vector-layer-cache/internal/source/gpkg"
	"github.com/mohammed-shakir/vector-layer-cache/internal/vectorcache"
	"github.com/mohammed-shakir/vector-layer-cache/internal/watch"
)

// NewCache builds the reader registry and an unloaded cache.
func NewCache(ctx context.Context, v config.VectorCfg, logger *slog.Logger) (*vectorcache.Cache, error) {
	def, err := crs.Parse(v.DefaultCRS, crs.WGS84)
	if err != nil {
		return nil, fmt.Errorf("default crs: %w", err)
	}
	reg := source.NewRegistry(ctx, logger, gpkg.New(logger), geojsonfile.New(logger))
	return vectorcache.New(vectorcache.Options{
		Dir:                v.Dir,
		DefaultCRS:         def,
		Capacity:           v.Capacity,
		SerializedCapacity: v.SerializedCapacity,
		EvictBatch:         v.EvictBatch,
		Preload:            v.Preload,
	}, reg, logger)
}

type sharedStore interface {
	router.SharedStore
	Ping(ctx context.Context) error
}

// readiness reports the catalog state and, when configured, the shared store.
func readiness(c *vectorcache.Cache, shared sharedStore) health.ReporterFunc {
	return func(ctx context.Context) health.Report {
		rep := health.Report{Ready: true, Layers: len(c.Layers()), Components: map[string]string{"catalog": "ok"}}
		if err := c.Ready(); err != nil {
			rep.Ready = false
			rep.Components["catalog"] = err.Error()
		}
		if shared != nil {
			rep.Components["shared_store"] = "ok"
			if err := shared.Ping(ctx); err != nil {
				// reported only; the store is optional
				rep.Components["shared_store"] = err.Error()
			}
		}
		return rep
	}
}

// Run loads the catalog and serves the API until ctx is done.
func Run(ctx context.Context, cfg config.Config, logger *slog.Logger, build metrics.BuildInfo) error {
	p := metrics.Init(metrics.Config{Build: build})
	observability.Init(p.Registerer())

	cache, err := NewCache(ctx, cfg.Vector, logger)
	if err != nil {
		return err
	}
	p.Register(metrics.NewCacheCollector(cache))

	rep, err := cache.Load(ctx)
	if err != nil {
		return fmt.Errorf("initial load: %w", err)
	}
	logger.Info("catalog ready", "layers", rep.Layers, "files", rep.Files, "warmed", rep.Warmed)

	var shared sharedStore
	if cfg.RedisAddr != "" {
		cctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		rc, err := redisstore.New(cctx, cfg.RedisAddr)
		cancel()
		if err != nil {
			logger.Warn("shared store disabled", "addr", cfg.RedisAddr, "err", err)
		} else {
			defer func() { _ = rc.Close() }()
			shared = rc
			logger.Info("shared store enabled", "addr", cfg.RedisAddr, "ttl", cfg.SharedTTL)
		}
	}

	if cfg.Vector.Watch {
		startWatcher(ctx, cfg.Vector, cache, logger)
	}

	h := server.NewHandler(logger, server.Deps{
		API:       router.New(logger, cfg, cache, shared),
		Readiness: readiness(cache, shared),
		Metrics:   p.Handler(),
	})
	return server.Run(ctx, cfg.Addr, logger, h)
}

func startWatcher(ctx context.Context, v config.VectorCfg, cache *vectorcache.Cache, logger *slog.Logger) {
	w, err := watch.New(v.Dir, v.WatchDebounce, cache.Recognizes, logger)
	if err != nil {
		logger.Warn("directory watch disabled", "err", err)
		return
	}
	wctx := mylog.WithComponent(ctx, "watch")
	go func() {
		err := w.Run(wctx, func(ctx context.Context) {
			reloaded, err := cache.ReloadIfChanged(ctx)
			switch {
			case err != nil:
				logger.ErrorContext(ctx, "reload after change failed", "err", err)
			case reloaded:
				logger.InfoContext(ctx, "catalog reloaded", "layers", len(cache.Layers()))
			}
		})
		if err != nil {
			logger.Error("directory watch stopped", "err", err)
		}
	}()
	logger.Info("watching data directory", "dir", v.Dir, "debounce", v.WatchDebounce)
}
