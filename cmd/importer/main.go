package main

import (
	"context"
	"database/sql"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/V4T54L/fuel-importer/internal/adapter/api"
	"github.com/V4T54L/fuel-importer/internal/adapter/api/handler"
	"github.com/V4T54L/fuel-importer/internal/adapter/fuelapi"
	"github.com/V4T54L/fuel-importer/internal/adapter/metrics"
	"github.com/V4T54L/fuel-importer/internal/adapter/repository/journal"
	"github.com/V4T54L/fuel-importer/internal/adapter/repository/postgres"
	redisrepo "github.com/V4T54L/fuel-importer/internal/adapter/repository/redis"
	"github.com/V4T54L/fuel-importer/internal/pkg/config"
	"github.com/V4T54L/fuel-importer/internal/pkg/logger"
	"github.com/V4T54L/fuel-importer/internal/usecase"

	_ "github.com/lib/pq" // Keep for postgres driver
)

func main() {
	once := flag.Bool("once", false, "run a single import and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	log, logFile := logger.NewWithFile(cfg.LogLevel, logger.FileOptions{
		Path:       cfg.LogFile,
		MaxSizeMB:  cfg.LogFileMaxSizeMB,
		MaxAgeDays: cfg.LogFileMaxAgeDays,
	})
	defer logFile.Close()
	slog.SetDefault(log)

	m := metrics.NewImporterMetrics(prometheus.DefaultRegisterer)

	// --- Graceful Shutdown Context ---
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Database Connection ---
	db, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		log.Error("failed to open postgres connection", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		// Runs fail at the deduplicate stage until the database is reachable.
		log.Warn("could not connect to postgres, runs will retry", "error", err)
	} else {
		log.Info("connected to postgres")
	}

	// --- Run History ---
	runJournal, err := journal.New(cfg.JournalDir, cfg.JournalSegmentSize, cfg.JournalMaxDiskSize, log)
	if err != nil {
		log.Error("failed to initialize run journal", "error", err)
		os.Exit(1)
	}
	defer runJournal.Close()
	if previous, err := runJournal.Recent(ctx, 1, false); err == nil && len(previous) > 0 {
		log.Info("previous run found in journal",
			"run_id", previous[0].RunID,
			"status", previous[0].Status,
			"finished_at", previous[0].FinishedAt,
		)
	}

	// --- Use Case Wiring ---
	policy, err := usecase.ParseConsolidationPolicy(cfg.ConsolidationPolicy)
	if err != nil {
		log.Error("invalid consolidation policy", "error", err)
		os.Exit(1)
	}
	pipeline := usecase.NewPipeline(usecase.NewConsolidator(policy, cfg.ConsolidationWindow), cfg.DedupLookupTimeout, log)

	source := fuelapi.NewClient(fuelapi.Config{
		URL:           cfg.FuelAPIURL,
		Username:      cfg.FuelAPIUsername,
		Password:      cfg.FuelAPIPassword,
		FleetList:     cfg.FuelFleetList,
		InvoiceType:   cfg.FuelInvoiceType,
		Timeout:       cfg.FuelAPITimeout,
		RatePerMinute: cfg.FuelAPIRatePerMinute,
	}, log)
	processedRepo := postgres.NewProcessedIDRepository(db, log, cfg.ProcessedIDCacheTTL, m)
	transactionRepo := postgres.NewTransactionRepository(db, log, processedRepo)

	opts := []usecase.ImportOption{
		usecase.WithLookback(cfg.FuelAPILookback),
		usecase.WithPersistTimeout(cfg.PersistTimeout),
		usecase.WithJournal(runJournal),
		usecase.WithMetrics(m),
	}

	var failures handler.FailureLister = runJournal
	if cfg.RedisAddr != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisAddr)
		if err != nil {
			log.Error("failed to parse redis url", "error", err)
			os.Exit(1)
		}
		redisClient := redis.NewClient(redisOpts)
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Warn("could not connect to redis, runs will fail at the lock stage until it recovers", "error", err)
		}

		failureRepo := redisrepo.NewFailureRepository(redisClient, log)
		opts = append(opts,
			usecase.WithRunLock(redisrepo.NewRunLock(redisClient, log), cfg.RunLockTTL),
			usecase.WithRecorder(failureRepo),
		)
		failures = failureRepo
	} else {
		log.Info("REDIS_ADDR not set, running without distributed lock and failure stream")
	}

	importUseCase := usecase.NewImportTransactionsUseCase(source, processedRepo, transactionRepo, pipeline, log, opts...)
	scheduler := usecase.NewScheduler(importUseCase, cfg.RunInterval, log, m)

	log.Info("importer configured",
		"policy", policy,
		"window", cfg.ConsolidationWindow,
		"interval", cfg.RunInterval,
		"lookback", cfg.FuelAPILookback,
	)

	if *once {
		report, err := scheduler.RunOnce(ctx)
		if err != nil {
			log.Error("single run failed", "run_id", report.RunID, "error", err)
			os.Exit(1)
		}
		return
	}

	// --- Ops Server ---
	opsHandler := handler.NewOpsHandler(scheduler, failures, log)
	opsServer := &http.Server{
		Addr:         cfg.OpsServerAddr,
		Handler:      api.NewOpsRouter(cfg.OpsAPIKey, log, opsHandler, promhttp.Handler()),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	go func() {
		log.Info("starting ops server", "addr", opsServer.Addr)
		if err := opsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("ops server failed", "error", err)
			stop() // Trigger shutdown on server error
		}
	}()

	// Blocks until ctx is cancelled and the in-flight run has stopped.
	scheduler.Start(ctx)

	log.Info("shutting down ops server...")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := opsServer.Shutdown(shutdownCtx); err != nil {
		log.Error("ops server shutdown failed", "error", err)
	}

	log.Info("importer shut down gracefully")
}
