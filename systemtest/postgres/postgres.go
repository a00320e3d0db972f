// Package postgres runs a disposable Postgres container with the hub schema
// applied, for the container-backed system tests.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/EternisAI/silo-hub/internal/db"
	"github.com/EternisAI/silo-hub/internal/store"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	image    = "postgres:17-alpine"
	user     = "silo"
	password = "silo"
	database = "silo_hub"
	schema   = "silo_hub"
)

// HubDatabase is a migrated hub database inside a container.
type HubDatabase struct {
	Config    db.Config
	container *postgres.PostgresContainer
}

// StartHubDatabase boots the container and runs the hub migrations against it.
func StartHubDatabase(ctx context.Context) (*HubDatabase, error) {
	container, err := postgres.Run(ctx,
		image,
		postgres.WithUsername(user),
		postgres.WithPassword(password),
		postgres.WithDatabase(database),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start hub database: %w", err)
	}
	hdb := &HubDatabase{container: container}

	url, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = hdb.Terminate(ctx)
		return nil, fmt.Errorf("failed to get hub database url: %w", err)
	}
	hdb.Config = db.Config{Url: url, Schema: schema}

	if err := db.RunMigrations(hdb.Config); err != nil {
		_ = hdb.Terminate(ctx)
		return nil, err
	}
	return hdb, nil
}

// OpenStore connects a Postgres-backed hub store to the database.
func (h *HubDatabase) OpenStore(ctx context.Context) (*store.PostgresStore, error) {
	pool, err := db.InitDB(ctx, h.Config)
	if err != nil {
		return nil, err
	}
	return store.NewPostgresStore(pool), nil
}

func (h *HubDatabase) Terminate(ctx context.Context) error {
	if err := h.container.Terminate(ctx); err != nil {
		return fmt.Errorf("failed to terminate hub database: %w", err)
	}
	return nil
}
