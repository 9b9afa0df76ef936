//go:build integration

package overflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// startTestContainer boots a throwaway Postgres container and returns a
// connected, migrated overflow Client, mirroring the shared-container setup
// in the teacher's test/util/database.go but scoped to a single package.
func startTestContainer(t *testing.T) *Client {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:17-alpine",
		postgres.WithDatabase("boardflow"),
		postgres.WithUsername("boardflow"),
		postgres.WithPassword("boardflow"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pgContainer.Terminate(context.Background()) })

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	client, err := NewClient(ctx, Config{DSN: connStr})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return client
}

func TestClient_InsertAndCount(t *testing.T) {
	client := startTestContainer(t)
	ctx := context.Background()

	n, err := client.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, n)

	require.NoError(t, client.Insert(ctx, "E1", "dispatcher channel full", time.Now()))
	require.NoError(t, client.Insert(ctx, "E2", "dispatcher channel full", time.Now()))

	n, err = client.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)
}
