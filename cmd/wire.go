package cmd

import (
	"context"
	"fmt"

	"github.com/ortelius/vulnlsp/backend"
	"github.com/ortelius/vulnlsp/cache"
	"github.com/ortelius/vulnlsp/config"
	"github.com/ortelius/vulnlsp/database"
	"github.com/ortelius/vulnlsp/engine"
	"github.com/ortelius/vulnlsp/metrics"
	"github.com/ortelius/vulnlsp/parser"
	"github.com/ortelius/vulnlsp/util"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

// app is the wired pipeline shared by every subcommand
type app struct {
	cfg      config.Config
	logger   *zap.Logger
	registry *prometheus.Registry
	engine   *engine.Engine
}

func newBackend(ctx context.Context, cfg config.Config, logger *zap.Logger) (backend.Backend, error) {
	if cfg.Backend.Kind != backend.KindArango {
		return backend.New(cfg.Backend, logger)
	}

	store, err := database.Connect(ctx, cfg.Arango, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to the CVE database: %w", err)
	}
	return backend.NewArango(store, logger), nil
}

// newApp builds logger, metrics, backend, cache, parsers and engine from cfg
func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	logger, err := util.InitLogger(cfg.Log.Level, cfg.Log.File)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	b, err := newBackend(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	refiller := cache.NewRefiller(cache.New(m), b, cache.RefillOptions{
		ChunkSize:  cfg.ChunkSize,
		MaxRetries: cfg.Retry.MaxRetries,
	}, logger, m)

	manager := parser.NewDefaultManager(logger, m, parser.Options{
		DirectOnly:           cfg.DirectOnly,
		FallbackOnBuildError: cfg.FallbackOnBuildError,
	}, util.RunCommand, cfg.Commands.Cargo, cfg.Commands.Maven)

	e, err := engine.New(manager, refiller, b, cfg.VersionsCacheSize, logger, m)
	if err != nil {
		return nil, err
	}

	logger.Debug("Pipeline ready",
		zap.String("backend", b.Name()),
		zap.Bool("direct_only", cfg.DirectOnly),
		zap.Int("chunk_size", cfg.ChunkSize))

	return &app{cfg: cfg, logger: logger, registry: registry, engine: e}, nil
}
