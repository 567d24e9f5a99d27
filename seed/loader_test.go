package seed_test

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/taskhive/webhookd/seed"
	"github.com/taskhive/webhookd/webhook"
	"github.com/taskhive/webhookd/webhook/memory"
)

func writeSeedFile(t *testing.T, content string) string {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "endpoints-*.yaml")
	require.NoError(t, err)
	t.Cleanup(func() { os.Remove(tmpFile.Name()) })

	_, err = tmpFile.WriteString(content)
	require.NoError(t, err)
	require.NoError(t, tmpFile.Close())

	return tmpFile.Name()
}

func TestLoader_Load(t *testing.T) {
	t.Run("success - valid seed file", func(t *testing.T) {
		path := writeSeedFile(t, `
endpoints:
  - id: "ep-billing"
    workspace_id: "ws-1"
    url: "https://billing.example.com/hooks"
    secret: "whsec-billing"
    events: ["task.created", "task.completed"]
    max_retries: 5
    label: "billing"
  - workspace_id: "ws-1"
    url: "https://audit.example.com/hooks"
    events: ["task.deleted"]
`)

		loader := seed.NewLoader()
		require.NoError(t, loader.Load(path))

		endpoints := loader.Endpoints()
		require.Len(t, endpoints, 2)
		assert.Equal(t, "ep-billing", endpoints[0].ID)
		assert.Equal(t, 5, endpoints[0].MaxRetries)
		assert.Empty(t, endpoints[1].ID)
		assert.Equal(t, []string{"task.deleted"}, endpoints[1].Events)
	})

	t.Run("error - missing workspace", func(t *testing.T) {
		path := writeSeedFile(t, `
endpoints:
  - url: "https://example.com/hooks"
    events: ["task.created"]
`)

		loader := seed.NewLoader()
		err := loader.Load(path)
		assert.ErrorContains(t, err, "workspace_id is required")
	})

	t.Run("error - empty events", func(t *testing.T) {
		path := writeSeedFile(t, `
endpoints:
  - workspace_id: "ws-1"
    url: "https://example.com/hooks"
`)

		loader := seed.NewLoader()
		err := loader.Load(path)
		assert.ErrorContains(t, err, "events cannot be empty")
	})

	t.Run("error - file does not exist", func(t *testing.T) {
		loader := seed.NewLoader()
		err := loader.Load("/nonexistent/endpoints.yaml")
		assert.ErrorContains(t, err, "reading seed file")
	})
}

func TestLoader_Apply(t *testing.T) {
	ctx := context.Background()

	t.Run("success - registers endpoints and generates missing fields", func(t *testing.T) {
		path := writeSeedFile(t, `
endpoints:
  - id: "ep-fixed"
    workspace_id: "ws-1"
    url: "https://one.example.com/hooks"
    secret: "whsec-one"
    events: ["task.created"]
  - workspace_id: "ws-1"
    url: "https://two.example.com/hooks"
    events: ["task.completed"]
`)

		repo := memory.NewRepository()
		registry := webhook.NewRegistry(repo)

		loader := seed.NewLoader()
		require.NoError(t, loader.Load(path))

		created, err := loader.Apply(ctx, registry)
		require.NoError(t, err)
		assert.Equal(t, 2, created)

		fixed, err := registry.Get(ctx, "ep-fixed")
		require.NoError(t, err)
		assert.Equal(t, "whsec-one", fixed.Secret)
		assert.True(t, fixed.Active)

		all, err := registry.List(ctx, webhook.EndpointFilter{WorkspaceID: "ws-1"})
		require.NoError(t, err)
		require.Len(t, all, 2)
	})

	t.Run("success - reapplying is idempotent for fixed ids", func(t *testing.T) {
		path := writeSeedFile(t, `
endpoints:
  - id: "ep-fixed"
    workspace_id: "ws-1"
    url: "https://one.example.com/hooks"
    secret: "whsec-one"
    events: ["task.created"]
`)

		repo := memory.NewRepository()
		registry := webhook.NewRegistry(repo)

		loader := seed.NewLoader()
		require.NoError(t, loader.Load(path))

		created, err := loader.Apply(ctx, registry)
		require.NoError(t, err)
		assert.Equal(t, 1, created)

		created, err = loader.Apply(ctx, registry)
		require.NoError(t, err)
		assert.Zero(t, created)

		all, err := registry.List(ctx, webhook.EndpointFilter{WorkspaceID: "ws-1"})
		require.NoError(t, err)
		assert.Len(t, all, 1)
	})
}
