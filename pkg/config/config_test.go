package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"SOURCE_PROJECT", "SOURCE_DATASET", "SOURCE_API_KEY", "SOURCE_API_TOKEN",
		"CALLBACK_URL", "EXTRACTOR_MODEL_ID", "EXTRACTOR_URL", "INTAKE_ADDR",
		"OVERFLOW_DATABASE_URL", "POD_ID", "EXTRACTOR_TIMEOUT_S",
		"SOURCE_FETCH_TIMEOUT_S", "WORKER_CONCURRENCY", "RETRY_TICK_S",
		"RETRY_BASE_S", "RETRY_MAX_ATTEMPTS", "MAX_INPUT_LENGTH", "INTAKE_CHANNEL_BUFFER",
	}
	for _, k := range keys {
		require.NoError(t, os.Unsetenv(k))
	}
}

func requiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("SOURCE_PROJECT", "proj")
	t.Setenv("SOURCE_DATASET", "orders")
	t.Setenv("SOURCE_API_KEY", "key")
	t.Setenv("SOURCE_API_TOKEN", "token")
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	requiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 300*time.Second, cfg.Defaults.ExtractorTimeout)
	assert.Equal(t, 30*time.Second, cfg.Defaults.SourceFetchTimeout)
	assert.Equal(t, 8, cfg.Defaults.WorkerConcurrency)
	assert.Equal(t, 30*time.Second, cfg.Defaults.RetryTick)
	assert.Equal(t, 60*time.Second, cfg.Defaults.RetryBase)
	assert.Equal(t, 10, cfg.Defaults.RetryMaxAttempts)
	assert.Equal(t, 10000, cfg.Defaults.MaxInputLength)
	assert.Equal(t, ":8080", cfg.IntakeAddr)
}

func TestLoad_Overrides(t *testing.T) {
	clearEnv(t)
	requiredEnv(t)
	t.Setenv("WORKER_CONCURRENCY", "16")
	t.Setenv("RETRY_MAX_ATTEMPTS", "3")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 16, cfg.Defaults.WorkerConcurrency)
	assert.Equal(t, 3, cfg.Defaults.RetryMaxAttempts)
}

func TestLoad_MissingRequiredField(t *testing.T) {
	clearEnv(t)

	_, err := Load()
	require.Error(t, err)
}

func TestLoad_InvalidInt(t *testing.T) {
	clearEnv(t)
	requiredEnv(t)
	t.Setenv("WORKER_CONCURRENCY", "not-a-number")

	_, err := Load()
	require.Error(t, err)
}
