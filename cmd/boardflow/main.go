// Command boardflow runs the ingestion pipeline: Event Intake, Dispatcher,
// and Retry Worker in a single process, all backed by a shared BigQuery
// store adapter.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/codeready-toolchain/boardflow/pkg/config"
	"github.com/codeready-toolchain/boardflow/pkg/dispatcher"
	"github.com/codeready-toolchain/boardflow/pkg/extractor"
	"github.com/codeready-toolchain/boardflow/pkg/intake"
	"github.com/codeready-toolchain/boardflow/pkg/retry"
	"github.com/codeready-toolchain/boardflow/pkg/source"
	"github.com/codeready-toolchain/boardflow/pkg/store"
	"github.com/codeready-toolchain/boardflow/pkg/store/overflow"
)

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	configDir := flag.String("config-dir", getEnv("CONFIG_DIR", "./deploy/config"), "Path to directory containing a .env file")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		log.Printf("no .env file at %s, continuing with existing environment: %v", envPath, err)
	} else {
		log.Printf("loaded environment from %s", envPath)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.NewBigQueryAdapter(ctx, cfg.SourceProject, cfg.SourceDataset)
	if err != nil {
		log.Fatalf("failed to connect to bigquery: %v", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.Error("error closing store adapter", "error", err)
		}
	}()

	overflowClient, err := overflow.NewClient(ctx, overflow.Config{DSN: cfg.OverflowDSN})
	if err != nil {
		log.Fatalf("failed to connect to overflow log: %v", err)
	}
	defer func() {
		if err := overflowClient.Close(); err != nil {
			slog.Error("error closing overflow log client", "error", err)
		}
	}()

	if err := extractor.Init(extractor.Config{
		Endpoint:       cfg.ExtractorURL,
		ModelID:        cfg.ExtractorModelID,
		MaxInputLength: cfg.Defaults.MaxInputLength,
		Timeout:        cfg.Defaults.ExtractorTimeout,
	}); err != nil {
		log.Fatalf("failed to initialize extractor: %v", err)
	}

	srcClient := source.NewTrelloClient(cfg.SourceAPIKey, cfg.SourceAPIToken)

	notifications := make(chan dispatcher.Notification, cfg.Defaults.IntakeChannelBuffer)

	disp := dispatcher.New(dispatcher.Config{
		WorkerConcurrency:  cfg.Defaults.WorkerConcurrency,
		SourceFetchTimeout: cfg.Defaults.SourceFetchTimeout,
		PodID:              cfg.PodID,
	}, st, srcClient, extractor.Global(), notifications)
	dispatcherDone := make(chan struct{})
	go func() {
		defer close(dispatcherDone)
		disp.Run(ctx)
	}()

	retryWorker := retry.New(retry.Config{
		Tick:        cfg.Defaults.RetryTick,
		Base:        cfg.Defaults.RetryBase,
		MaxAttempts: cfg.Defaults.RetryMaxAttempts,
		WorkerID:    cfg.PodID,
	}, st)
	retryWorker.Start(ctx)

	intakeServer := intake.NewServer(intake.Config{
		Addr:           cfg.IntakeAddr,
		MaxInputLength: cfg.Defaults.MaxInputLength,
	}, notifications, overflowClient)

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("event intake listening", "addr", cfg.IntakeAddr)
		if err := intakeServer.Start(cfg.IntakeAddr); err != nil {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case err := <-serverErr:
		slog.Error("event intake server failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := intakeServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("error shutting down event intake server", "error", err)
	}

	close(notifications)
	disp.Stop()
	select {
	case <-dispatcherDone:
	case <-time.After(15 * time.Second):
		slog.Warn("dispatcher did not drain in-flight work before shutdown deadline")
	}
	retryWorker.Stop()

	slog.Info("boardflow stopped")
}
