//go:build integration

package redis_test

import (
	"context"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	testcontainersredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/taskhive/webhookd/webhook"
	"github.com/taskhive/webhookd/webhook/redis"
)

/* Test Helpers for Redis Integration Tests
 * Following the pattern from: https://eltonminetto.dev/post/2024-02-15-using-test-helpers/
 */

// RedisContainer holds the Redis testcontainer and connection details
type RedisContainer struct {
	Container *testcontainersredis.RedisContainer
	Addr      string
}

// SetupRedisContainer creates and starts a Redis testcontainer
func SetupRedisContainer(t *testing.T, ctx context.Context) (*RedisContainer, func()) {
	t.Helper()

	redisContainer, err := testcontainersredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err, "failed to start Redis container")

	addr, err := redisContainer.ConnectionString(ctx)
	require.NoError(t, err, "failed to get Redis connection string")

	if len(addr) > 8 && addr[:8] == "redis://" {
		addr = addr[8:]
	}

	rc := &RedisContainer{
		Container: redisContainer,
		Addr:      addr,
	}

	cleanup := func() {
		if err := redisContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate Redis container: %v", err)
		}
	}

	return rc, cleanup
}

// CreateTestRepository creates a Redis repository connected to the test container
func CreateTestRepository(t *testing.T, addr string) *redis.Repository {
	t.Helper()

	repo, err := redis.NewRepository(addr, "", 0)
	require.NoError(t, err, "failed to create Redis repository")

	return repo
}

// StoreTestEndpoint registers an endpoint with sensible defaults
func StoreTestEndpoint(t *testing.T, ctx context.Context, repo *redis.Repository, id, workspaceID string) webhook.Endpoint {
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
func StoreTestDelivery(t *testing.T, ctx context.Context, repo *redis.Repository, ep webhook.Endpoint, event string) webhook.Delivery {
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

// KeyExists checks if a Redis key exists
func KeyExists(t *testing.T, addr string, key string) bool {
	t.Helper()

	client := goredis.NewClient(&goredis.Options{Addr: addr})
	defer client.Close()

	exists, err := client.Exists(context.Background(), key).Result()
	require.NoError(t, err)

	return exists > 0
}
