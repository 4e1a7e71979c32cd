// Package testutil provides testing utilities for medtrack: a sqlmock
// wrapper, a throwaway PostgreSQL for integration suites and HTTP helpers.
package testutil

import (
	"context"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

const postgresImage = "postgres:15-alpine"

// pharmacyDB is a disposable PostgreSQL holding the pharmacy schema.
type pharmacyDB struct {
	container *postgres.PostgresContainer
	dsn       string
}

func startPharmacyDB(ctx context.Context) (*pharmacyDB, error) {
	container, err := postgres.RunContainer(ctx,
		testcontainers.WithImage(postgresImage),
		postgres.WithDatabase("medtrack_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start postgres container: %w", err)
	}

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get connection string: %w", err)
	}
	return &pharmacyDB{container: container, dsn: dsn}, nil
}

func (p *pharmacyDB) terminate(ctx context.Context) error {
	return p.container.Terminate(ctx)
}
