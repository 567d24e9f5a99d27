package webhook_test

import (
	"context"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskhive/webhookd/webhook"
	"github.com/taskhive/webhookd/webhook/memory"
)

func TestRegistryCreate(t *testing.T) {
	ctx := context.Background()

	t.Run("generates a 256-bit hex secret when none supplied", func(t *testing.T) {
		registry := webhook.NewRegistry(memory.NewRepository())

		ep, err := registry.Create(ctx, webhook.Endpoint{
			WorkspaceID: "ws-1",
			URL:         "https://example.com/hooks",
			Events:      []string{"task.created"},
		})
		require.NoError(t, err)

		raw, err := hex.DecodeString(ep.Secret)
		require.NoError(t, err)
		assert.Len(t, raw, 32)
		assert.True(t, ep.Active)
		assert.Equal(t, webhook.DefaultMaxRetries, ep.MaxRetries)
		assert.NotEmpty(t, ep.ID)
	})

	t.Run("keeps a caller-supplied secret", func(t *testing.T) {
		registry := webhook.NewRegistry(memory.NewRepository())

		ep, err := registry.Create(ctx, webhook.Endpoint{
			WorkspaceID: "ws-1",
			URL:         "https://example.com/hooks",
			Secret:      "abc",
			Events:      []string{"task.created"},
		})
		require.NoError(t, err)
		assert.Equal(t, "abc", ep.Secret)
	})

	t.Run("rejects invalid url", func(t *testing.T) {
		registry := webhook.NewRegistry(memory.NewRepository())

		_, err := registry.Create(ctx, webhook.Endpoint{
			WorkspaceID: "ws-1",
			URL:         "not a url",
			Events:      []string{"task.created"},
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid url")
	})

	t.Run("rejects non-http scheme", func(t *testing.T) {
		registry := webhook.NewRegistry(memory.NewRepository())

		_, err := registry.Create(ctx, webhook.Endpoint{
			WorkspaceID: "ws-1",
			URL:         "ftp://example.com/hooks",
			Events:      []string{"task.created"},
		})
		require.Error(t, err)
	})

	t.Run("rejects empty event set", func(t *testing.T) {
		registry := webhook.NewRegistry(memory.NewRepository())

		_, err := registry.Create(ctx, webhook.Endpoint{
			WorkspaceID: "ws-1",
			URL:         "https://example.com/hooks",
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "event set")
	})

	t.Run("rejects malformed event names", func(t *testing.T) {
		registry := webhook.NewRegistry(memory.NewRepository())

		_, err := registry.Create(ctx, webhook.Endpoint{
			WorkspaceID: "ws-1",
			URL:         "https://example.com/hooks",
			Events:      []string{"task created!"},
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "event name")
	})
}

func TestRegistryListForEvent(t *testing.T) {
	ctx := context.Background()
	registry := webhook.NewRegistry(memory.NewRepository())

	subscribed, err := registry.Create(ctx, webhook.Endpoint{
		WorkspaceID: "ws-1",
		URL:         "https://example.com/a",
		Events:      []string{"task.created", "task.updated"},
	})
	require.NoError(t, err)

	_, err = registry.Create(ctx, webhook.Endpoint{
		WorkspaceID: "ws-1",
		URL:         "https://example.com/b",
		Events:      []string{"goal.created"},
	})
	require.NoError(t, err)

	inactive, err := registry.Create(ctx, webhook.Endpoint{
		WorkspaceID: "ws-1",
		URL:         "https://example.com/c",
		Events:      []string{"task.created"},
	})
	require.NoError(t, err)
	_, err = registry.ToggleActive(ctx, inactive.ID)
	require.NoError(t, err)

	_, err = registry.Create(ctx, webhook.Endpoint{
		WorkspaceID: "ws-2",
		URL:         "https://example.com/d",
		Events:      []string{"task.created"},
	})
	require.NoError(t, err)

	got, err := registry.ListForEvent(ctx, "ws-1", "task.created")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, subscribed.ID, got[0].ID)
}

func TestRegistryUpdate(t *testing.T) {
	ctx := context.Background()

	t.Run("partial mutation leaves the secret alone", func(t *testing.T) {
		registry := webhook.NewRegistry(memory.NewRepository())
		ep, err := registry.Create(ctx, webhook.Endpoint{
			WorkspaceID: "ws-1",
			URL:         "https://example.com/hooks",
			Events:      []string{"task.created"},
		})
		require.NoError(t, err)

		label := "billing hooks"
		max := 8
		updated, err := registry.Update(ctx, ep.ID, webhook.EndpointUpdate{
			Label:      &label,
			MaxRetries: &max,
		})
		require.NoError(t, err)

		assert.Equal(t, "billing hooks", updated.Label)
		assert.Equal(t, 8, updated.MaxRetries)
		assert.Equal(t, ep.Secret, updated.Secret)
		assert.Equal(t, ep.URL, updated.URL)
	})

	t.Run("rejects emptying the event set", func(t *testing.T) {
		registry := webhook.NewRegistry(memory.NewRepository())
		ep, err := registry.Create(ctx, webhook.Endpoint{
			WorkspaceID: "ws-1",
			URL:         "https://example.com/hooks",
			Events:      []string{"task.created"},
		})
		require.NoError(t, err)

		_, err = registry.Update(ctx, ep.ID, webhook.EndpointUpdate{Events: []string{}})
		require.Error(t, err)
	})
}

func TestRegistryRotateSecret(t *testing.T) {
	ctx := context.Background()
	registry := webhook.NewRegistry(memory.NewRepository())

	ep, err := registry.Create(ctx, webhook.Endpoint{
		WorkspaceID: "ws-1",
		URL:         "https://example.com/hooks",
		Events:      []string{"task.created"},
	})
	require.NoError(t, err)

	rotated, err := registry.RotateSecret(ctx, ep.ID)
	require.NoError(t, err)
	assert.NotEqual(t, ep.Secret, rotated.Secret)

	raw, err := hex.DecodeString(rotated.Secret)
	require.NoError(t, err)
	assert.Len(t, raw, 32)
}

func TestRegistryToggleActive(t *testing.T) {
	ctx := context.Background()
	registry := webhook.NewRegistry(memory.NewRepository())

	ep, err := registry.Create(ctx, webhook.Endpoint{
		WorkspaceID: "ws-1",
		URL:         "https://example.com/hooks",
		Events:      []string{"task.created"},
	})
	require.NoError(t, err)
	assert.True(t, ep.Active)

	off, err := registry.ToggleActive(ctx, ep.ID)
	require.NoError(t, err)
	assert.False(t, off.Active)

	on, err := registry.ToggleActive(ctx, ep.ID)
	require.NoError(t, err)
	assert.True(t, on.Active)
}
