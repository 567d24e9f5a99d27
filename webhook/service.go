package webhook

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/taskhive/webhookd/metrics"
)

/* Service represents the business logic layer: the event trigger entry point
 * plus administrative visibility over deliveries.
 * Uses pointer semantics as it's an API, not data
 */

// UseCase defines the delivery-side operations consumed by the HTTP layer.
type UseCase interface {
	Trigger(ctx context.Context, workspaceID, event string, payload map[string]any) (int, error)
	TestEndpoint(ctx context.Context, endpointID string) (TestResult, error)
	GetDelivery(ctx context.Context, id int64) (Delivery, error)
	ListDeliveries(ctx context.Context, filter DeliveryFilter) ([]Delivery, error)
	CreateDelivery(ctx context.Context, d Delivery) (Delivery, error)
	UpdateDelivery(ctx context.Context, d Delivery) error
	DeleteDelivery(ctx context.Context, id int64) error
	MarkDelivered(ctx context.Context, id int64, code int, body string) error
	MarkFailed(ctx context.Context, id int64, code int, body string) error
	Stats(ctx context.Context, workspaceID, endpointID string) (Stats, error)
}

type Service struct {
	Repo       Repository
	Registry   *Registry
	Dispatcher *Dispatcher
	log        zerolog.Logger
}

// NewService creates a new webhook service with dependency injection
func NewService(repo Repository, registry *Registry, dispatcher *Dispatcher, log zerolog.Logger) *Service {
	return &Service{
		Repo:       repo,
		Registry:   registry,
		Dispatcher: dispatcher,
		log:        log,
	}
}

/* Trigger fans an event out to every active, subscribed endpoint: one pending
 * delivery per endpoint, each dispatched immediately as a best-effort first
 * attempt. A failed first attempt is left to the retry sweep; it never aborts
 * sibling deliveries or the triggering call.
 */
func (s *Service) Trigger(ctx context.Context, workspaceID, event string, payload map[string]any) (int, error) {
	if workspaceID == "" || event == "" {
		return 0, fmt.Errorf("workspace_id and event are required")
	}
	if err := validateEventNames([]string{event}); err != nil {
		return 0, err
	}

	metrics.RecordEventTriggered()

	endpoints, err := s.Registry.ListForEvent(ctx, workspaceID, event)
	if err != nil {
		return 0, fmt.Errorf("resolving endpoints: %w", err)
	}

	created := 0
	for _, ep := range endpoints {
		d := Delivery{
			EndpointID:  ep.ID,
			WorkspaceID: workspaceID,
			Event:       event,
			Payload:     payload,
			Status:      Pending,
			CreatedAt:   time.Now(),
			UpdatedAt:   time.Now(),
		}
		id, err := s.Repo.StoreDelivery(ctx, d)
		if err != nil {
			s.log.Error().Err(err).Str("endpoint_id", ep.ID).Str("event", event).
				Msg("storing delivery failed")
			continue
		}
		d.ID = id
		created++

		if _, err := s.Dispatcher.Attempt(ctx, d); err != nil {
			s.log.Warn().Err(err).Int64("delivery_id", id).
				Msg("first attempt errored, leaving to retry sweep")
		}
	}
	return created, nil
}

// TestEndpoint sends a synthetic payload to verify an endpoint. No delivery
// record is created.
func (s *Service) TestEndpoint(ctx context.Context, endpointID string) (TestResult, error) {
	ep, err := s.Repo.GetEndpoint(ctx, endpointID)
	if err != nil {
		return TestResult{}, fmt.Errorf("getting endpoint: %w", err)
	}
	return s.Dispatcher.Test(ctx, ep), nil
}

// GetDelivery retrieves a delivery by ID
func (s *Service) GetDelivery(ctx context.Context, id int64) (Delivery, error) {
	d, err := s.Repo.GetDelivery(ctx, id)
	if err != nil {
		return Delivery{}, fmt.Errorf("getting delivery: %w", err)
	}
	return d, nil
}

// ListDeliveries returns deliveries matching the filter
func (s *Service) ListDeliveries(ctx context.Context, filter DeliveryFilter) ([]Delivery, error) {
	ds, err := s.Repo.ListDeliveries(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("listing deliveries: %w", err)
	}
	return ds, nil
}

// CreateDelivery persists an administratively supplied delivery record. The
// endpoint must exist; the record starts pending unless a status is given.
func (s *Service) CreateDelivery(ctx context.Context, d Delivery) (Delivery, error) {
	ep, err := s.Repo.GetEndpoint(ctx, d.EndpointID)
	if err != nil {
		return Delivery{}, fmt.Errorf("getting endpoint: %w", err)
	}
	if d.WorkspaceID == "" {
		d.WorkspaceID = ep.WorkspaceID
	}
	if d.Status == 0 {
		d.Status = Pending
	}
	if err := d.Status.Validate(); err != nil {
		return Delivery{}, fmt.Errorf("validating status: %w", err)
	}
	d.CreatedAt = time.Now()
	d.UpdatedAt = d.CreatedAt
	id, err := s.Repo.StoreDelivery(ctx, d)
	if err != nil {
		return Delivery{}, fmt.Errorf("storing delivery: %w", err)
	}
	d.ID = id
	return d, nil
}

// UpdateDelivery applies an administrative correction to a delivery record.
func (s *Service) UpdateDelivery(ctx context.Context, d Delivery) error {
	if err := d.Status.Validate(); err != nil {
		return fmt.Errorf("validating status: %w", err)
	}
	d.UpdatedAt = time.Now()
	if err := s.Repo.UpdateDelivery(ctx, d); err != nil {
		return fmt.Errorf("updating delivery: %w", err)
	}
	return nil
}

// DeleteDelivery removes a delivery record.
func (s *Service) DeleteDelivery(ctx context.Context, id int64) error {
	if err := s.Repo.DeleteDelivery(ctx, id); err != nil {
		return fmt.Errorf("deleting delivery: %w", err)
	}
	return nil
}

// MarkDelivered is the manual override: it forces the terminal delivered
// state with an operator-supplied response code and body.
func (s *Service) MarkDelivered(ctx context.Context, id int64, code int, body string) error {
	if err := s.Repo.FinishAttempt(ctx, id, Delivered, code, body, nil); err != nil {
		return fmt.Errorf("marking delivered: %w", err)
	}
	return nil
}

// MarkFailed is the manual override counterpart: it forces the failed state
// with an operator-supplied response code and body and schedules a retry slot.
func (s *Service) MarkFailed(ctx context.Context, id int64, code int, body string) error {
	d, err := s.Repo.GetDelivery(ctx, id)
	if err != nil {
		return fmt.Errorf("getting delivery: %w", err)
	}
	next := NextAttemptAt(time.Now(), d.AttemptCount)
	if err := s.Repo.FinishAttempt(ctx, id, Failed, code, body, &next); err != nil {
		return fmt.Errorf("marking failed: %w", err)
	}
	return nil
}
