package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"condominio/internal/amqp"
	"condominio/internal/config"
	applog "condominio/internal/log"
	"condominio/internal/owners"
	"condominio/internal/services"
	"condominio/internal/sheets"
	gsheet "condominio/internal/sheets/google"
	mem "condominio/internal/sheets/memory"
	"condominio/internal/storage"
	"condominio/internal/worker"
)

func main() {
	_ = godotenv.Load()

	logger := applog.New(applog.Config{Level: slog.LevelInfo, Component: "worker"})
	applog.SetDefault(logger)

	logger.Info("Starting condominio-worker")

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	store, err := storage.Open(cfg.SQLiteDBPath)
	if err != nil {
		logger.Error("Failed to open ledger database", "error", err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer store.Close()

	ownerDir, err := owners.NewFromFile(cfg.OwnersFile)
	if err != nil {
		logger.Error("Failed to load owner directory", "error", err, "path", cfg.OwnersFile)
		os.Exit(1)
	}

	// The worker only reads; it never closes periods itself, so no notifier.
	periodService := services.NewPeriodService(store, ownerDir, nil)

	var publisher sheets.BalancePublisher
	if cfg.GoogleSpreadsheetID != "" {
		client, err := gsheet.NewFromEnv(context.Background())
		if err != nil {
			logger.Error("Failed to initialize Google Sheets client", "error", err)
			os.Exit(1)
		}
		publisher = client
		logger.Info("Google Sheets export enabled", "spreadsheet_id", cfg.GoogleSpreadsheetID)
	} else {
		publisher = mem.New()
		logger.Info("No GOOGLE_SPREADSHEET_ID set, exports stay in memory")
	}

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", "error", err)
		os.Exit(1)
	}
	defer amqpClient.Close()

	exportWorker := worker.NewExportWorker(periodService, publisher)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Catch up on anything closed while the worker was down.
	if err := exportWorker.ExportClosedPeriods(ctx); err != nil {
		logger.Error("Startup export sweep failed", "error", err)
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return amqpClient.ConsumePeriodClosed(ctx, func(msg *amqp.PeriodClosedMessage) error {
			return exportWorker.HandlePeriodClosed(ctx, msg)
		})
	})

	g.Go(func() error {
		ticker := time.NewTicker(cfg.ExportInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				if err := exportWorker.ExportClosedPeriods(ctx); err != nil {
					logger.Error("Periodic export sweep failed", "error", err)
				}
			}
		}
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Worker stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("Worker shutdown complete")
}
