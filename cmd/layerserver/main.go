package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/mohammed-shakir/vector-layer-cache/internal/app"
	"github.com/mohammed-shakir/vector-layer-cache/internal/core/config"
	"github.com/mohammed-shakir/vector-layer-cache/internal/logger"
	"github.com/mohammed-shakir/vector-layer-cache/internal/metrics"
)

var (
	Version   = "dev"
	Revision  = ""
	BuildDate = ""
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg := config.FromEnv()

	zl := logger.Build(logger.Config{
		Level:     cfg.Log.Level,
		Console:   cfg.Log.Console,
		SampleN:   cfg.Log.SampleN,
		Service:   "layerserver",
		Component: "main",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	appLog.Info("starting layerserver",
		"addr", cfg.Addr,
		"version", Version,
		"dir", cfg.Vector.Dir,
		"capacity", cfg.Vector.Capacity,
		"serialized_capacity", cfg.Vector.SerializedCapacity,
		"preload", cfg.Vector.Preload)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	build := metrics.BuildInfo{Version: Version, Revision: Revision, BuildDate: BuildDate}
	if err := app.Run(ctx, cfg, appLog, build); err != nil {
		appLog.Error("server exited with error", "err", err)
		return 1
	}
	appLog.Info("server stopped")
	return 0
}
