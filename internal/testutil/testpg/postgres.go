// Package testpg starts throwaway PostgreSQL servers for tests.
package testpg

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// Image is the server image used by StartPostgres.
const Image = "postgres:17-alpine"

// StartPostgres starts a disposable Postgres container and returns its DSN.
// It skips the calling test under -short since a container runtime is needed.
func StartPostgres(tb testing.TB) string {
	tb.Helper()
	if testing.Short() {
		tb.Skip("postgres container skipped in -short mode")
	}

	ctx := context.Background()
	container, err := postgres.Run(ctx, Image,
		postgres.WithDatabase("threads"),
		postgres.WithUsername("threads"),
		postgres.WithPassword("threads"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		tb.Fatalf("start postgres: %v", err)
	}
	tb.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			tb.Errorf("terminate postgres: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil || dsn == "" {
		tb.Fatalf("postgres connection string: %v", err)
	}
	if err := ping(ctx, dsn, 20*time.Second); err != nil {
		tb.Fatalf("postgres not accepting connections: %v", err)
	}
	return dsn
}

// ping retries a pgx connection until it succeeds or the budget runs out.
func ping(ctx context.Context, dsn string, budget time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()
	for {
		conn, err := pgx.Connect(ctx, dsn)
		if err == nil {
			err = conn.Ping(ctx)
			_ = conn.Close(ctx)
			if err == nil {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return err
		case <-time.After(250 * time.Millisecond):
		}
	}
}
