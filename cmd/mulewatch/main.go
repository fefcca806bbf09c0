// Mulewatch - Money mule detection for transaction batches.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/opensource-finance/mulewatch/internal/analysis"
	"github.com/opensource-finance/mulewatch/internal/api"
	"github.com/opensource-finance/mulewatch/internal/bus"
	"github.com/opensource-finance/mulewatch/internal/cache"
	"github.com/opensource-finance/mulewatch/internal/domain"
	"github.com/opensource-finance/mulewatch/internal/metrics"
	"github.com/opensource-finance/mulewatch/internal/repository"
	"github.com/opensource-finance/mulewatch/internal/rules"
	"github.com/opensource-finance/mulewatch/internal/tracing"
	"github.com/opensource-finance/mulewatch/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	cfg := domain.LoadConfig()
	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		slog.Error("mulewatch stopped", "error", err)
		os.Exit(1)
	}
}

// run starts every component, serves until ctx is cancelled or the listener
// fails, then shuts down in reverse order.
func run(ctx context.Context, cfg *domain.Config, logger *slog.Logger) error {
	slog.Info("starting mulewatch",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"async_worker", cfg.Analysis.AsyncWorker,
	)

	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing, logger)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			slog.Error("failed to flush traces", "error", err)
		}
	}()

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return fmt.Errorf("repository: %w", err)
	}
	defer repo.Close()

	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer cacheImpl.Close()

	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		return fmt.Errorf("event bus: %w", err)
	}
	defer busImpl.Close()

	ruleConfigs, err := loadRules(cfg.Analysis)
	if err != nil {
		return fmt.Errorf("rules: %w", err)
	}
	engine, err := rules.NewEngine(ruleConfigs)
	if err != nil {
		return fmt.Errorf("rule engine: %w", err)
	}
	defer engine.Close()
	metrics.LoadedRules.Set(float64(engine.RulesCount()))
	slog.Info("components ready", "rules_count", engine.RulesCount())

	// Shared pipeline; runs hold no state beyond the compiled rule table
	analyzer := analysis.NewAnalyzer(engine, nil, logger)

	if cfg.Analysis.AsyncWorker {
		w := worker.NewWorker(busImpl, repo, cacheImpl, analyzer)
		wcfg := worker.Config{
			TenantIDs: cfg.Analysis.WorkerTenants,
			BatchTTL:  cfg.Cache.BatchTTL,
		}
		if err := w.Start(wcfg); err != nil {
			return fmt.Errorf("async worker: %w", err)
		}
		// Deferred after the bus, so it stops before the bus closes.
		defer func() {
			if err := w.Stop(); err != nil {
				slog.Error("failed to stop async worker", "error", err)
			}
		}()
		slog.Info("async worker started", "tenant_count", len(wcfg.TenantIDs))
	}

	srv := api.NewServer(cfg.Server, api.Options{
		Repo:     repo,
		Cache:    cacheImpl,
		Bus:      busImpl,
		Engine:   engine,
		Analyzer: analyzer,
		Analysis: cfg.Analysis,
		BatchTTL: cfg.Cache.BatchTTL,
		Version:  Version,
	})

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Start() }()

	slog.Info("mulewatch is ready", "addr", srv.Addr())
	printBanner(cfg, Version)

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
	case <-ctx.Done():
		slog.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}
	slog.Info("mulewatch shutdown complete")
	return nil
}

// loadRules returns the rule table from the configured file, or the built-in table.
func loadRules(cfg domain.AnalysisConfig) ([]*domain.RuleConfig, error) {
	if cfg.RulesFile == "" {
		slog.Info("using built-in rule table")
		return rules.DefaultRules(), nil
	}

	configs, err := rules.LoadRulesFile(cfg.RulesFile)
	if err != nil {
		return nil, err
	}
	slog.Info("loading rules from file", "path", cfg.RulesFile, "count", len(configs))
	return configs, nil
}

func newLogger(cfg domain.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  +-------------------------------------------+")
	fmt.Println("  |               MULEWATCH                   |")
	fmt.Println("  |       Money Mule Detection Engine         |")
	fmt.Println("  +-------------------------------------------+")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST   /analyze               - Analyze a batch without storing it")
	fmt.Println("    POST   /batches               - Upload a batch")
	fmt.Println("    GET    /batches               - List uploaded batches")
	fmt.Println("    GET    /batches/{id}          - Get an uploaded batch")
	fmt.Println("    DELETE /batches/{id}          - Delete an uploaded batch")
	fmt.Println("    GET    /batches/{id}/risk     - Ranked account risk")
	fmt.Println("    GET    /batches/{id}/patterns - Pattern matches")
	fmt.Println("    GET    /batches/{id}/graph    - Transaction network")
	fmt.Println("    GET    /rules                 - List loaded rules")
	fmt.Println("    POST   /rules/validate        - Compile-check a rule")
	fmt.Println("    GET    /biomarkers            - Pattern catalog")
	fmt.Println("    GET    /metrics               - Prometheus metrics")
	fmt.Println("    GET    /health                - Health check")
	fmt.Println()
}
