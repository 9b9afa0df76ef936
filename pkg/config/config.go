// Package config loads and validates the environment-variable configuration
// surface for the boardflow services (intake/dispatcher/retry worker and the
// boardflowctl CLI).
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Defaults holds the numeric defaults from the configuration surface (§6).
// Each field can be overridden by its corresponding env var.
type Defaults struct {
	ExtractorTimeout    time.Duration // EXTRACTOR_TIMEOUT_S, default 300s
	SourceFetchTimeout  time.Duration // SOURCE_FETCH_TIMEOUT_S, default 30s
	WorkerConcurrency   int           // WORKER_CONCURRENCY, default 8
	RetryTick           time.Duration // RETRY_TICK_S, default 30s
	RetryBase           time.Duration // RETRY_BASE_S, default 60s
	RetryMaxAttempts    int           // RETRY_MAX_ATTEMPTS, default 10
	MaxInputLength      int           // MAX_INPUT_LENGTH, default 10000
	IntakeChannelBuffer int           // INTAKE_CHANNEL_BUFFER, default 256
}

// Config is the umbrella configuration object passed to every wired
// component in cmd/boardflow and cmd/boardflowctl.
type Config struct {
	SourceProject string // SOURCE_PROJECT — BigQuery project id
	SourceDataset string // SOURCE_DATASET — BigQuery dataset id

	SourceAPIKey   string // SOURCE_API_KEY
	SourceAPIToken string // SOURCE_API_TOKEN

	CallbackURL string // CALLBACK_URL — public URL the source platform posts to

	ExtractorModelID string // EXTRACTOR_MODEL_ID
	ExtractorURL     string // EXTRACTOR_URL — HTTP endpoint of the extraction service

	IntakeAddr string // INTAKE_ADDR, default ":8080"

	OverflowDSN string // OVERFLOW_DATABASE_URL — Postgres connection string for the intake overflow log

	PodID string // POD_ID — identity recorded on claimed pending rows and ingested events

	Defaults Defaults
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func getEnvSeconds(key string, fallbackSeconds int) (time.Duration, error) {
	v, err := getEnvInt(key, fallbackSeconds)
	if err != nil {
		return 0, err
	}
	return time.Duration(v) * time.Second, nil
}

// Load reads the configuration surface from the environment. Callers
// typically run godotenv.Load first (see cmd/boardflow/main.go) so a local
// .env file populates os.Getenv before this runs.
func Load() (*Config, error) {
	extractorTimeout, err := getEnvSeconds("EXTRACTOR_TIMEOUT_S", 300)
	if err != nil {
		return nil, err
	}
	sourceFetchTimeout, err := getEnvSeconds("SOURCE_FETCH_TIMEOUT_S", 30)
	if err != nil {
		return nil, err
	}
	workerConcurrency, err := getEnvInt("WORKER_CONCURRENCY", 8)
	if err != nil {
		return nil, err
	}
	retryTick, err := getEnvSeconds("RETRY_TICK_S", 30)
	if err != nil {
		return nil, err
	}
	retryBase, err := getEnvSeconds("RETRY_BASE_S", 60)
	if err != nil {
		return nil, err
	}
	retryMaxAttempts, err := getEnvInt("RETRY_MAX_ATTEMPTS", 10)
	if err != nil {
		return nil, err
	}
	maxInputLength, err := getEnvInt("MAX_INPUT_LENGTH", 10000)
	if err != nil {
		return nil, err
	}
	intakeChannelBuffer, err := getEnvInt("INTAKE_CHANNEL_BUFFER", 256)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		SourceProject:    getEnv("SOURCE_PROJECT", ""),
		SourceDataset:    getEnv("SOURCE_DATASET", ""),
		SourceAPIKey:     getEnv("SOURCE_API_KEY", ""),
		SourceAPIToken:   getEnv("SOURCE_API_TOKEN", ""),
		CallbackURL:      getEnv("CALLBACK_URL", ""),
		ExtractorModelID: getEnv("EXTRACTOR_MODEL_ID", ""),
		ExtractorURL:     getEnv("EXTRACTOR_URL", ""),
		IntakeAddr:       getEnv("INTAKE_ADDR", ":8080"),
		OverflowDSN:      getEnv("OVERFLOW_DATABASE_URL", ""),
		PodID:            getEnv("POD_ID", "boardflow"),
		Defaults: Defaults{
			ExtractorTimeout:    extractorTimeout,
			SourceFetchTimeout:  sourceFetchTimeout,
			WorkerConcurrency:   workerConcurrency,
			RetryTick:           retryTick,
			RetryBase:           retryBase,
			RetryMaxAttempts:    retryMaxAttempts,
			MaxInputLength:      maxInputLength,
			IntakeChannelBuffer: intakeChannelBuffer,
		},
	}

	if err := NewValidator(cfg).ValidateAll(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}
