// Package main provides the HTTP server for the Arcana reading pipeline.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/arcana-app/arcana-go/internal/alerting"
	"github.com/arcana-app/arcana-go/internal/archive"
	"github.com/arcana-app/arcana-go/internal/cache"
	"github.com/arcana-app/arcana-go/internal/config"
	"github.com/arcana-app/arcana-go/internal/db"
	"github.com/arcana-app/arcana-go/internal/eval"
	"github.com/arcana-app/arcana-go/internal/job"
	"github.com/arcana-app/arcana-go/internal/orchestrator"
	"github.com/arcana-app/arcana-go/internal/provider"
	"github.com/arcana-app/arcana-go/internal/server"
)

func main() {
	wipeDB := flag.Bool("wipe", false, "wipe all data from database on startup (testing only)")
	flag.Parse()

	cfg := config.Load()

	logger, cleanup := config.SetupLogger(cfg.LogFile, cfg.LogLevel)
	defer cleanup()
	slog.SetDefault(logger)

	logger.Info("starting arcana-server", "addr", cfg.ListenAddr)

	// Durable store.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	dbClient, err := db.NewClient(ctx, db.Config{
		URL:       cfg.SurrealDBURL,
		Namespace: cfg.SurrealDBNamespace,
		Database:  cfg.SurrealDBDatabase,
		Username:  cfg.SurrealDBUser,
		Password:  cfg.SurrealDBPass,
		AuthLevel: cfg.SurrealDBAuthLevel,
	}, logger)
	if err != nil {
		cancel()
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	if *wipeDB || os.Getenv("ARCANA_WIPE_DB") == "true" {
		if err := dbClient.WipeData(ctx); err != nil {
			cancel()
			logger.Error("failed to wipe database", "error", err)
			os.Exit(1)
		}
	}
	if err := dbClient.InitSchema(ctx); err != nil {
		cancel()
		logger.Error("failed to initialize schema", "error", err)
		os.Exit(1)
	}
	cancel()
	defer func() {
		if err := dbClient.Close(context.Background()); err != nil {
			logger.Error("failed to close database", "error", err)
		}
	}()

	// Redis snapshot cache. Optional: the pipeline degrades to store-only
	// reads when it is unreachable.
	var jobCache job.Cache
	var idem server.Idempotency
	ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
	redisCache, err := cache.New(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.JobTTL, logger)
	cancel()
	if err != nil {
		logger.Warn("redis unavailable, running without snapshot cache", "error", err)
	} else {
		jobCache = redisCache
		idem = redisCache
		defer redisCache.Close()
	}

	// Job manager, rehydrated from the event log.
	jobs := job.NewManager(dbClient, jobCache, cfg.JobTTL, logger)
	ctx, cancel = context.WithTimeout(context.Background(), 60*time.Second)
	if err := jobs.Recover(ctx); err != nil {
		cancel()
		logger.Error("failed to recover jobs", "error", err)
		os.Exit(1)
	}
	cancel()

	// Generation providers, in fallback order. A provider that cannot be
	// configured is skipped; local composition still covers exhaustion.
	var providers []provider.Provider
	for _, pc := range []struct{ id, model string }{
		{cfg.PrimaryProvider, cfg.PrimaryModel},
		{cfg.FallbackProvider, cfg.FallbackModel},
	} {
		p, err := provider.New(pc.id, pc.model, cfg)
		if err != nil {
			logger.Warn("provider unavailable", "provider", pc.id, "error", err)
			continue
		}
		providers = append(providers, p)
	}
	if len(providers) == 0 {
		logger.Warn("no generation providers configured, all readings will be composed locally")
	}

	// Async evaluation. A missing judge drops the evaluator to heuristic
	// scoring rather than skipping evaluation.
	var judge eval.Judge
	if j, err := provider.New(cfg.JudgeProvider, cfg.JudgeModel, cfg); err != nil {
		logger.Warn("judge unavailable, evaluations fall back to heuristics", "error", err)
	} else {
		judge = j
	}
	evaluator := eval.New(judge, dbClient, cfg.JudgeTimeout, logger)

	orch, err := orchestrator.New(jobs, providers, evaluator, orchestrator.Options{
		PromptVersion:   cfg.PromptVersion,
		Variant:         cfg.Variant,
		ProviderTimeout: cfg.ProviderTimeout,
	}, logger)
	if err != nil {
		logger.Error("failed to build orchestrator", "error", err)
		os.Exit(1)
	}

	// Quality regression alerting.
	notifiers := []alerting.Notifier{&alerting.LogNotifier{Logger: logger}}
	if cfg.AlertWebhookURL != "" {
		notifiers = append(notifiers, alerting.NewWebhookNotifier(cfg.AlertWebhookURL))
	}
	thresholds := alerting.DefaultThresholds()
	thresholds.MinSample = cfg.MinAlertSample
	alerter := alerting.New(dbClient, notifiers, thresholds, logger)

	// Archival scheduler: expiry sweep, terminal snapshot archival,
	// retention GC, rollups, then the alerting batch.
	scheduler := archive.New(jobs, dbClient, alerter, cfg.JobRetention, logger)
	if err := scheduler.Start(cfg.ArchiveSchedule); err != nil {
		logger.Error("failed to start archive scheduler", "error", err, "schedule", cfg.ArchiveSchedule)
		os.Exit(1)
	}
	defer scheduler.Stop()

	handler := server.NewHandler(jobs, orch, idem, dbClient, cfg.JobTTL, logger)
	srv := server.New(cfg.ListenAddr, handler.Router(), logger)

	runCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(runCtx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}
