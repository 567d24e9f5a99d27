package webhook_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskhive/webhookd/webhook"
)

func TestNewStatus(t *testing.T) {
	t.Run("success - parses each known status", func(t *testing.T) {
		for str, want := range map[string]webhook.Status{
			"pending":   webhook.Pending,
			"delivered": webhook.Delivered,
			"failed":    webhook.Failed,
		} {
			got, err := webhook.NewStatus(str)
			require.NoError(t, err)
			assert.Equal(t, want, got)
			assert.Equal(t, str, got.String())
		}
	})

	t.Run("error - rejects unknown strings", func(t *testing.T) {
		for _, str := range []string{"", "PENDING", "done", "retrying"} {
			_, err := webhook.NewStatus(str)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "unknown status")
		}
	})
}
