package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/taskhive/webhookd/webhook"
)

/* In-memory implementation of webhook.Repository
 * Backs unit tests and local development; a single mutex is plenty at that
 * scale. The conditional-write semantics (ClaimAttempt, ResetForRetry) are
 * the same ones the Redis and Postgres drivers provide.
 */

type Repository struct {
	mu         sync.Mutex
	endpoints  map[string]webhook.Endpoint
	deliveries map[int64]webhook.Delivery
	nextID     int64
}

// NewRepository creates an empty in-memory repository
func NewRepository() *Repository {
	return &Repository{
		endpoints:  make(map[string]webhook.Endpoint),
		deliveries: make(map[int64]webhook.Delivery),
	}
}

// StoreEndpoint persists a new endpoint
func (r *Repository) StoreEndpoint(_ context.Context, ep webhook.Endpoint) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.endpoints[ep.ID] = cloneEndpoint(ep)
	return ep.ID, nil
}

// GetEndpoint retrieves an endpoint by ID
func (r *Repository) GetEndpoint(_ context.Context, id string) (webhook.Endpoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ep, ok := r.endpoints[id]
	if !ok {
		return webhook.Endpoint{}, webhook.ErrNotFound
	}
	return cloneEndpoint(ep), nil
}

// ListEndpoints returns endpoints matching the filter, newest first
func (r *Repository) ListEndpoints(_ context.Context, filter webhook.EndpointFilter) ([]webhook.Endpoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []webhook.Endpoint
	for _, ep := range r.endpoints {
		if filter.WorkspaceID != "" && ep.WorkspaceID != filter.WorkspaceID {
			continue
		}
		if filter.Active != nil && ep.Active != *filter.Active {
			continue
		}
		if filter.Event != "" && !ep.Subscribed(filter.Event) {
			continue
		}
		out = append(out, cloneEndpoint(ep))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// UpdateEndpoint replaces a stored endpoint
func (r *Repository) UpdateEndpoint(_ context.Context, ep webhook.Endpoint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.endpoints[ep.ID]; !ok {
		return webhook.ErrNotFound
	}
	r.endpoints[ep.ID] = cloneEndpoint(ep)
	return nil
}

// DeleteEndpoint removes an endpoint
func (r *Repository) DeleteEndpoint(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.endpoints[id]; !ok {
		return webhook.ErrNotFound
	}
	delete(r.endpoints, id)
	return nil
}

// StoreDelivery persists a new delivery and assigns its id
func (r *Repository) StoreDelivery(_ context.Context, d webhook.Delivery) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	d.ID = r.nextID
	r.deliveries[d.ID] = cloneDelivery(d)
	return d.ID, nil
}

// GetDelivery retrieves a delivery by ID
func (r *Repository) GetDelivery(_ context.Context, id int64) (webhook.Delivery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.deliveries[id]
	if !ok {
		return webhook.Delivery{}, webhook.ErrNotFound
	}
	return cloneDelivery(d), nil
}

// ListDeliveries returns deliveries matching the filter, newest first
func (r *Repository) ListDeliveries(_ context.Context, filter webhook.DeliveryFilter) ([]webhook.Delivery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []webhook.Delivery
	for _, d := range r.deliveries {
		if filter.WorkspaceID != "" && d.WorkspaceID != filter.WorkspaceID {
			continue
		}
		if filter.EndpointID != "" && d.EndpointID != filter.EndpointID {
			continue
		}
		if filter.Status != nil && d.Status != *filter.Status {
			continue
		}
		out = append(out, cloneDelivery(d))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// ListDueFailed returns failed deliveries whose next attempt time has passed
func (r *Repository) ListDueFailed(_ context.Context, now time.Time, limit int) ([]webhook.Delivery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []webhook.Delivery
	for _, d := range r.deliveries {
		if d.Status != webhook.Failed || !d.Due(now) {
			continue
		}
		out = append(out, cloneDelivery(d))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CountByStatus aggregates delivery counts, optionally scoped
func (r *Repository) CountByStatus(_ context.Context, workspaceID, endpointID string) (webhook.StatusCounts, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var c webhook.StatusCounts
	for _, d := range r.deliveries {
		if workspaceID != "" && d.WorkspaceID != workspaceID {
			continue
		}
		if endpointID != "" && d.EndpointID != endpointID {
			continue
		}
		c.Total++
		switch d.Status {
		case webhook.Delivered:
			c.Delivered++
		case webhook.Failed:
			c.Failed++
		case webhook.Pending:
			c.Pending++
		}
	}
	return c, nil
}

// UpdateDelivery replaces a stored delivery
func (r *Repository) UpdateDelivery(_ context.Context, d webhook.Delivery) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.deliveries[d.ID]
	if !ok {
		return webhook.ErrNotFound
	}
	// The attempt counter never goes backwards, even through admin edits.
	if d.AttemptCount < cur.AttemptCount {
		d.AttemptCount = cur.AttemptCount
	}
	r.deliveries[d.ID] = cloneDelivery(d)
	return nil
}

// DeleteDelivery removes a delivery
func (r *Repository) DeleteDelivery(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.deliveries[id]; !ok {
		return webhook.ErrNotFound
	}
	delete(r.deliveries, id)
	return nil
}

// ClaimAttempt is the compare-and-set counter increment
func (r *Repository) ClaimAttempt(_ context.Context, id int64, fromAttempt int) (webhook.Delivery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.deliveries[id]
	if !ok {
		return webhook.Delivery{}, webhook.ErrNotFound
	}
	if d.Status == webhook.Delivered || d.AttemptCount != fromAttempt {
		return webhook.Delivery{}, webhook.ErrAttemptConflict
	}
	d.AttemptCount++
	d.UpdatedAt = time.Now()
	r.deliveries[id] = d
	return cloneDelivery(d), nil
}

// FinishAttempt records the terminal classification of one attempt
func (r *Repository) FinishAttempt(_ context.Context, id int64, status webhook.Status, code int, body string, nextAttemptAt *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.deliveries[id]
	if !ok {
		return webhook.ErrNotFound
	}
	d.Status = status
	d.ResponseCode = &code
	d.ResponseBody = &body
	if nextAttemptAt != nil {
		t := *nextAttemptAt
		d.NextAttemptAt = &t
	} else {
		d.NextAttemptAt = nil
	}
	d.UpdatedAt = time.Now()
	r.deliveries[id] = d
	return nil
}

// ResetForRetry conditionally moves a failed delivery back to pending
func (r *Repository) ResetForRetry(_ context.Context, id int64) (webhook.Delivery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.deliveries[id]
	if !ok {
		return webhook.Delivery{}, webhook.ErrNotFound
	}
	if d.Status != webhook.Failed {
		return webhook.Delivery{}, webhook.ErrNotRetriable
	}
	now := time.Now()
	d.Status = webhook.Pending
	d.NextAttemptAt = &now
	d.UpdatedAt = now
	r.deliveries[id] = d
	return cloneDelivery(d), nil
}

// Close is a no-op for the in-memory store
func (r *Repository) Close(_ context.Context) error {
	return nil
}

func cloneEndpoint(ep webhook.Endpoint) webhook.Endpoint {
	ep.Events = append([]string(nil), ep.Events...)
	return ep
}

func cloneDelivery(d webhook.Delivery) webhook.Delivery {
	if d.Payload != nil {
		p := make(map[string]any, len(d.Payload))
		for k, v := range d.Payload {
			p[k] = v
		}
		d.Payload = p
	}
	if d.ResponseCode != nil {
		c := *d.ResponseCode
		d.ResponseCode = &c
	}
	if d.ResponseBody != nil {
		b := *d.ResponseBody
		d.ResponseBody = &b
	}
	if d.NextAttemptAt != nil {
		t := *d.NextAttemptAt
		d.NextAttemptAt = &t
	}
	return d
}
