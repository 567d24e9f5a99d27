package seed

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/taskhive/webhookd/webhook"
	"gopkg.in/yaml.v3"
)

/* Loader bootstraps webhook endpoints from a YAML file at startup.
 * Useful for environments that provision their receivers declaratively
 * instead of through the management API.
 */

// Config represents the structure of the seed file
type Config struct {
	Endpoints []EndpointConfig `yaml:"endpoints"`
}

// EndpointConfig represents a single endpoint entry in the YAML file
type EndpointConfig struct {
	ID          string   `yaml:"id"` // optional; generated when empty
	WorkspaceID string   `yaml:"workspace_id"`
	URL         string   `yaml:"url"`
	Secret      string   `yaml:"secret"` // optional; generated when empty
	Events      []string `yaml:"events"`
	MaxRetries  int      `yaml:"max_retries"`
	Label       string   `yaml:"label"`
}

type Loader struct {
	endpoints []EndpointConfig
}

func NewLoader() *Loader {
	return &Loader{}
}

// Load reads and parses the seed YAML file
func (l *Loader) Load(filePath string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("reading seed file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return fmt.Errorf("parsing seed YAML: %w", err)
	}

	for i, ec := range config.Endpoints {
		if ec.WorkspaceID == "" {
			return fmt.Errorf("seed endpoint %d: workspace_id is required", i)
		}
		if ec.URL == "" {
			return fmt.Errorf("seed endpoint %d: url is required", i)
		}
		if len(ec.Events) == 0 {
			return fmt.Errorf("seed endpoint %d: events cannot be empty", i)
		}
	}

	l.endpoints = config.Endpoints
	return nil
}

// Endpoints returns the parsed entries
func (l *Loader) Endpoints() []EndpointConfig {
	return append([]EndpointConfig(nil), l.endpoints...)
}

/* Apply registers the loaded endpoints through the registry. Entries
 * with an explicit id that already exist are skipped, so re-running the
 * seed on boot is idempotent. Returns the number of endpoints created.
 */
func (l *Loader) Apply(ctx context.Context, registry webhook.RegistryUseCase) (int, error) {
	created := 0
	for _, ec := range l.endpoints {
		if ec.ID != "" {
			if _, err := registry.Get(ctx, ec.ID); err == nil {
				continue
			} else if !errors.Is(err, webhook.ErrNotFound) {
				return created, fmt.Errorf("checking seed endpoint %s: %w", ec.ID, err)
			}
		}

		_, err := registry.Create(ctx, webhook.Endpoint{
			ID:          ec.ID,
			WorkspaceID: ec.WorkspaceID,
			URL:         ec.URL,
			Secret:      ec.Secret,
			Events:      ec.Events,
			MaxRetries:  ec.MaxRetries,
			Label:       ec.Label,
		})
		if err != nil {
			return created, fmt.Errorf("creating seed endpoint for %s: %w", ec.URL, err)
		}
		created++
	}
	return created, nil
}
