package webhook

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/taskhive/webhookd/webhook/signature"
)

// DefaultMaxRetries is the retry budget applied when registration does not
// supply one.
const DefaultMaxRetries = 3

// RegistryUseCase defines the endpoint-management operations consumed by the
// HTTP layer.
type RegistryUseCase interface {
	Create(ctx context.Context, ep Endpoint) (Endpoint, error)
	Get(ctx context.Context, id string) (Endpoint, error)
	List(ctx context.Context, filter EndpointFilter) ([]Endpoint, error)
	Update(ctx context.Context, id string, fields EndpointUpdate) (Endpoint, error)
	ToggleActive(ctx context.Context, id string) (Endpoint, error)
	RotateSecret(ctx context.Context, id string) (Endpoint, error)
	Delete(ctx context.Context, id string) error
}

// EndpointUpdate carries partial endpoint mutations. Nil fields are left
// untouched. The secret is deliberately absent: it only changes through
// RotateSecret.
type EndpointUpdate struct {
	URL        *string
	Events     []string
	Active     *bool
	MaxRetries *int
	Label      *string
}

/* Registry stores and validates webhook endpoint configuration.
 * Uses pointer semantics as it's an API, not data
 */
type Registry struct {
	Repo Repository
}

// NewRegistry creates a new endpoint registry with dependency injection
func NewRegistry(repo Repository) *Registry {
	return &Registry{Repo: repo}
}

// Create validates and persists a new endpoint, generating a secret when the
// caller supplies none.
func (r *Registry) Create(ctx context.Context, ep Endpoint) (Endpoint, error) {
	if ep.WorkspaceID == "" {
		return Endpoint{}, fmt.Errorf("workspace_id is required")
	}
	if err := validateTargetURL(ep.URL); err != nil {
		return Endpoint{}, err
	}
	if err := validateEventNames(ep.Events); err != nil {
		return Endpoint{}, err
	}
	if ep.MaxRetries <= 0 {
		ep.MaxRetries = DefaultMaxRetries
	}
	if ep.Secret == "" {
		secret, err := signature.GenerateSecret()
		if err != nil {
			return Endpoint{}, fmt.Errorf("generating secret: %w", err)
		}
		ep.Secret = secret
	}

	if ep.ID == "" {
		ep.ID = uuid.New().String()
	}
	ep.Active = true
	ep.CreatedAt = time.Now()
	ep.UpdatedAt = ep.CreatedAt

	id, err := r.Repo.StoreEndpoint(ctx, ep)
	if err != nil {
		return Endpoint{}, fmt.Errorf("storing endpoint: %w", err)
	}
	ep.ID = id
	return ep, nil
}

// Get retrieves an endpoint by ID
func (r *Registry) Get(ctx context.Context, id string) (Endpoint, error) {
	ep, err := r.Repo.GetEndpoint(ctx, id)
	if err != nil {
		return Endpoint{}, fmt.Errorf("getting endpoint: %w", err)
	}
	return ep, nil
}

// List returns endpoints matching the filter
func (r *Registry) List(ctx context.Context, filter EndpointFilter) ([]Endpoint, error) {
	eps, err := r.Repo.ListEndpoints(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("listing endpoints: %w", err)
	}
	return eps, nil
}

/* ListForEvent resolves the dispatch targets for an event: only endpoints
 * that are active AND subscribed to the event are returned.
 */
func (r *Registry) ListForEvent(ctx context.Context, workspaceID, event string) ([]Endpoint, error) {
	active := true
	return r.List(ctx, EndpointFilter{
		WorkspaceID: workspaceID,
		Active:      &active,
		Event:       event,
	})
}

// Update applies a partial mutation. Everything except the secret can change
// here; secret rotation is its own explicit operation.
func (r *Registry) Update(ctx context.Context, id string, fields EndpointUpdate) (Endpoint, error) {
	ep, err := r.Repo.GetEndpoint(ctx, id)
	if err != nil {
		return Endpoint{}, fmt.Errorf("getting endpoint: %w", err)
	}
	if fields.URL != nil {
		if err := validateTargetURL(*fields.URL); err != nil {
			return Endpoint{}, err
		}
		ep.URL = *fields.URL
	}
	if fields.Events != nil {
		if err := validateEventNames(fields.Events); err != nil {
			return Endpoint{}, err
		}
		ep.Events = fields.Events
	}
	if fields.Active != nil {
		ep.Active = *fields.Active
	}
	if fields.MaxRetries != nil {
		if *fields.MaxRetries <= 0 {
			return Endpoint{}, fmt.Errorf("max_retries must be positive")
		}
		ep.MaxRetries = *fields.MaxRetries
	}
	if fields.Label != nil {
		ep.Label = *fields.Label
	}
	ep.UpdatedAt = time.Now()

	if err := r.Repo.UpdateEndpoint(ctx, ep); err != nil {
		return Endpoint{}, fmt.Errorf("updating endpoint: %w", err)
	}
	return ep, nil
}

// ToggleActive flips the active flag. Deactivation stops dispatch without
// losing delivery history.
func (r *Registry) ToggleActive(ctx context.Context, id string) (Endpoint, error) {
	ep, err := r.Repo.GetEndpoint(ctx, id)
	if err != nil {
		return Endpoint{}, fmt.Errorf("getting endpoint: %w", err)
	}
	ep.Active = !ep.Active
	ep.UpdatedAt = time.Now()
	if err := r.Repo.UpdateEndpoint(ctx, ep); err != nil {
		return Endpoint{}, fmt.Errorf("updating endpoint: %w", err)
	}
	return ep, nil
}

// RotateSecret replaces the endpoint's secret with a freshly generated one.
func (r *Registry) RotateSecret(ctx context.Context, id string) (Endpoint, error) {
	ep, err := r.Repo.GetEndpoint(ctx, id)
	if err != nil {
		return Endpoint{}, fmt.Errorf("getting endpoint: %w", err)
	}
	secret, err := signature.GenerateSecret()
	if err != nil {
		return Endpoint{}, fmt.Errorf("generating secret: %w", err)
	}
	ep.Secret = secret
	ep.UpdatedAt = time.Now()
	if err := r.Repo.UpdateEndpoint(ctx, ep); err != nil {
		return Endpoint{}, fmt.Errorf("updating endpoint: %w", err)
	}
	return ep, nil
}

// Delete removes an endpoint registration.
func (r *Registry) Delete(ctx context.Context, id string) error {
	if err := r.Repo.DeleteEndpoint(ctx, id); err != nil {
		return fmt.Errorf("deleting endpoint: %w", err)
	}
	return nil
}

// eventNamePattern validates event names: hierarchical, full-stop delimited, [a-zA-Z0-9_.]
var eventNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_]+(\.[a-zA-Z0-9_]+)*$`)

func validateEventNames(events []string) error {
	if len(events) == 0 {
		return fmt.Errorf("event set cannot be empty")
	}
	for _, e := range events {
		if !eventNamePattern.MatchString(e) {
			return fmt.Errorf("event name must be hierarchical and contain only [a-zA-Z0-9_.]: %s", e)
		}
	}
	return nil
}

func validateTargetURL(raw string) error {
	u, err := url.ParseRequestURI(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid url scheme: %s", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("url host cannot be empty")
	}
	return nil
}
