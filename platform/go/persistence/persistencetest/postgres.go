// Package persistencetest starts PostgreSQL for integration tests.
package persistencetest

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// ConnString returns a superuser connection string for a disposable server.
// TEST_DATABASE_URL wins when set; otherwise a postgres:16-alpine container is
// started and terminated at test cleanup. Skipped under -short.
func ConnString(t *testing.T) string {
	t.Helper()

	if url, ok := os.LookupEnv("TEST_DATABASE_URL"); ok && url != "" {
		return url
	}
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}

	ctx := context.Background()
	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("palmyra"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(wait.ForListeningPort("5432/tcp").WithStartupTimeout(2*time.Minute)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = pgContainer.Terminate(context.Background())
	})

	connString, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return connString
}
