//go:build integration

package postgres_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/taskhive/webhookd/webhook"
	"github.com/taskhive/webhookd/webhook/postgres"
)

/* Test Helpers for PostgreSQL Integration Tests
 * Following the pattern from: https://eltonminetto.dev/post/2024-02-15-using-test-helpers/
 */

const (
	defaultDatabase = "testdb"
	defaultUser     = "testuser"
	defaultPassword = "testpass"
)

// PostgresContainer holds the container and connection details
type PostgresContainer struct {
	Container testcontainers.Container
	ConnStr   string
}

// SetupPostgresContainer creates and starts a PostgreSQL testcontainer
func SetupPostgresContainer(t *testing.T, ctx context.Context) (*PostgresContainer, func()) {
	t.Helper()

	pgContainer, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase(defaultDatabase),
		tcpostgres.WithUsername(defaultUser),
		tcpostgres.WithPassword(defaultPassword),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	container := &PostgresContainer{
		Container: pgContainer,
		ConnStr:   connStr,
	}

	cleanup := func() {
		_ = pgContainer.Terminate(ctx)
	}

	return container, cleanup
}

// CreateTestSchema applies the initial migration
func CreateTestSchema(t *testing.T, ctx context.Context, connStr string) {
	t.Helper()

	migration, err := os.ReadFile("../../migrations/0001_init.sql")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	defer pool.Close()

	_, err = pool.Exec(ctx, string(migration))
	require.NoError(t, err)
}

// CreateTestRepository creates a repository connected to the test container
func CreateTestRepository(t *testing.T, ctx context.Context, connStr string) *postgres.Repository {
	t.Helper()

	repo, err := postgres.NewRepository(ctx, connStr)
	require.NoError(t, err, "failed to create Postgres repository")

	return repo
}

// StoreTestEndpoint registers an endpoint with sensible defaults
func StoreTestEndpoint(t *testing.T, ctx context.Context, repo *postgres.Repository, id, workspaceID string) webhook.Endpoint {
	t.Helper()

	ep := webhook.Endpoint{
		ID:          id,
		WorkspaceID: workspaceID,
		URL:         "https://hooks.example.com/" + id,
		Secret:      "whsec-" + id,
		Events:      []string{"task.created", "task.completed"},
		Active:      true,
		MaxRetries:  3,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	_, err := repo.StoreEndpoint(ctx, ep)
	require.NoError(t, err)
	return ep
}

// StoreTestDelivery stores a pending delivery for the given endpoint
func StoreTestDelivery(t *testing.T, ctx context.Context, repo *postgres.Repository, ep webhook.Endpoint, event string) webhook.Delivery {
	t.Helper()

	d := webhook.Delivery{
		EndpointID:  ep.ID,
		WorkspaceID: ep.WorkspaceID,
		Event:       event,
		Payload:     map[string]any{"task_id": "t-1"},
		Status:      webhook.Pending,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	id, err := repo.StoreDelivery(ctx, d)
	require.NoError(t, err)

	stored, err := repo.GetDelivery(ctx, id)
	require.NoError(t, err)
	return stored
}
