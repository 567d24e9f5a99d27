//go:build integration

package redis_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/taskhive/webhookd/webhook"
)

func TestRepository_Endpoints_Integration(t *testing.T) {
	ctx := context.Background()

	redisContainer, cleanup := SetupRedisContainer(t, ctx)
	defer cleanup()

	repo := CreateTestRepository(t, redisContainer.Addr)
	defer repo.Close(ctx)

	t.Run("store and get endpoint", func(t *testing.T) {
		ep := StoreTestEndpoint(t, ctx, repo, "ep-roundtrip", "ws-1")

		got, err := repo.GetEndpoint(ctx, ep.ID)
		require.NoError(t, err)
		assert.Equal(t, ep.URL, got.URL)
		assert.Equal(t, ep.Secret, got.Secret)
		assert.Equal(t, ep.Events, got.Events)
		assert.True(t, got.Active)
		assert.Equal(t, 3, got.MaxRetries)
	})

	t.Run("list filters by workspace and event", func(t *testing.T) {
		StoreTestEndpoint(t, ctx, repo, "ep-ws2-a", "ws-2")
		StoreTestEndpoint(t, ctx, repo, "ep-ws2-b", "ws-2")
		StoreTestEndpoint(t, ctx, repo, "ep-ws3", "ws-3")

		eps, err := repo.ListEndpoints(ctx, webhook.EndpointFilter{WorkspaceID: "ws-2"})
		require.NoError(t, err)
		assert.Len(t, eps, 2)

		eps, err = repo.ListEndpoints(ctx, webhook.EndpointFilter{WorkspaceID: "ws-2", Event: "task.deleted"})
		require.NoError(t, err)
		assert.Empty(t, eps)
	})

	t.Run("delete removes record and indexes", func(t *testing.T) {
		ep := StoreTestEndpoint(t, ctx, repo, "ep-gone", "ws-4")

		require.NoError(t, repo.DeleteEndpoint(ctx, ep.ID))

		_, err := repo.GetEndpoint(ctx, ep.ID)
		assert.ErrorIs(t, err, webhook.ErrNotFound)
		assert.False(t, KeyExists(t, redisContainer.Addr, "endpoint:ep-gone"))
	})
}

func TestRepository_Deliveries_Integration(t *testing.T) {
	ctx := context.Background()

	redisContainer, cleanup := SetupRedisContainer(t, ctx)
	defer cleanup()

	repo := CreateTestRepository(t, redisContainer.Addr)
	defer repo.Close(ctx)

	t.Run("ids are monotonic and records round-trip", func(t *testing.T) {
		ep := StoreTestEndpoint(t, ctx, repo, "ep-d1", "ws-d")

		first := StoreTestDelivery(t, ctx, repo, ep, "task.created")
		second := StoreTestDelivery(t, ctx, repo, ep, "task.completed")
		assert.Greater(t, second.ID, first.ID)

		got, err := repo.GetDelivery(ctx, first.ID)
		require.NoError(t, err)
		assert.Equal(t, webhook.Pending, got.Status)
		assert.Equal(t, "t-1", got.Payload["task_id"])
		assert.Zero(t, got.AttemptCount)
		assert.Nil(t, got.ResponseCode)
	})

	t.Run("claim increments attempt exactly once", func(t *testing.T) {
		ep := StoreTestEndpoint(t, ctx, repo, "ep-d2", "ws-d")
		d := StoreTestDelivery(t, ctx, repo, ep, "task.created")

		claimed, err := repo.ClaimAttempt(ctx, d.ID, 0)
		require.NoError(t, err)
		assert.Equal(t, 1, claimed.AttemptCount)

		// A second worker holding the stale snapshot loses the race.
		_, err = repo.ClaimAttempt(ctx, d.ID, 0)
		assert.ErrorIs(t, err, webhook.ErrAttemptConflict)
	})

	t.Run("failed attempt lands in the retry index", func(t *testing.T) {
		ep := StoreTestEndpoint(t, ctx, repo, "ep-d3", "ws-d")
		d := StoreTestDelivery(t, ctx, repo, ep, "task.created")

		_, err := repo.ClaimAttempt(ctx, d.ID, 0)
		require.NoError(t, err)

		next := time.Now().Add(-time.Minute)
		require.NoError(t, repo.FinishAttempt(ctx, d.ID, webhook.Failed, 503, "upstream down", &next))

		due, err := repo.ListDueFailed(ctx, time.Now(), 10)
		require.NoError(t, err)
		require.Len(t, due, 1)
		assert.Equal(t, d.ID, due[0].ID)
		assert.Equal(t, 503, *due[0].ResponseCode)
	})

	t.Run("delivered attempt leaves the retry index", func(t *testing.T) {
		ep := StoreTestEndpoint(t, ctx, repo, "ep-d4", "ws-e")
		d := StoreTestDelivery(t, ctx, repo, ep, "task.created")

		_, err := repo.ClaimAttempt(ctx, d.ID, 0)
		require.NoError(t, err)
		next := time.Now().Add(-time.Minute)
		require.NoError(t, repo.FinishAttempt(ctx, d.ID, webhook.Failed, 500, "boom", &next))

		_, err = repo.ClaimAttempt(ctx, d.ID, 1)
		require.NoError(t, err)
		require.NoError(t, repo.FinishAttempt(ctx, d.ID, webhook.Delivered, 200, "ok", nil))

		due, err := repo.ListDueFailed(ctx, time.Now(), 10)
		require.NoError(t, err)
		for _, dd := range due {
			assert.NotEqual(t, d.ID, dd.ID)
		}

		got, err := repo.GetDelivery(ctx, d.ID)
		require.NoError(t, err)
		assert.Equal(t, webhook.Delivered, got.Status)
		assert.Equal(t, 2, got.AttemptCount)
		assert.Nil(t, got.NextAttemptAt)
	})

	t.Run("reset for retry requires failed status", func(t *testing.T) {
		ep := StoreTestEndpoint(t, ctx, repo, "ep-d5", "ws-f")
		d := StoreTestDelivery(t, ctx, repo, ep, "task.created")

		_, err := repo.ResetForRetry(ctx, d.ID)
		assert.ErrorIs(t, err, webhook.ErrNotRetriable)

		_, err = repo.ClaimAttempt(ctx, d.ID, 0)
		require.NoError(t, err)
		next := time.Now()
		require.NoError(t, repo.FinishAttempt(ctx, d.ID, webhook.Failed, 500, "boom", &next))

		reset, err := repo.ResetForRetry(ctx, d.ID)
		require.NoError(t, err)
		assert.Equal(t, webhook.Pending, reset.Status)
		assert.Equal(t, 1, reset.AttemptCount)
	})
}

func TestRepository_CountByStatus_Integration(t *testing.T) {
	ctx := context.Background()

	redisContainer, cleanup := SetupRedisContainer(t, ctx)
	defer cleanup()

	repo := CreateTestRepository(t, redisContainer.Addr)
	defer repo.Close(ctx)

	ep := StoreTestEndpoint(t, ctx, repo, "ep-stats", "ws-stats")

	for i := 0; i < 3; i++ {
		d := StoreTestDelivery(t, ctx, repo, ep, fmt.Sprintf("task.created.%d", i))
		_, err := repo.ClaimAttempt(ctx, d.ID, 0)
		require.NoError(t, err)
		require.NoError(t, repo.FinishAttempt(ctx, d.ID, webhook.Delivered, 200, "ok", nil))
	}
	failed := StoreTestDelivery(t, ctx, repo, ep, "task.completed")
	_, err := repo.ClaimAttempt(ctx, failed.ID, 0)
	require.NoError(t, err)
	next := time.Now().Add(2 * time.Minute)
	require.NoError(t, repo.FinishAttempt(ctx, failed.ID, webhook.Failed, 500, "boom", &next))
	StoreTestDelivery(t, ctx, repo, ep, "task.assigned")

	counts, err := repo.CountByStatus(ctx, "ws-stats", "")
	require.NoError(t, err)
	assert.Equal(t, int64(5), counts.Total)
	assert.Equal(t, int64(3), counts.Delivered)
	assert.Equal(t, int64(1), counts.Failed)
	assert.Equal(t, int64(1), counts.Pending)

	counts, err = repo.CountByStatus(ctx, "", ep.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), counts.Total)
}
