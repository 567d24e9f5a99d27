package webhook

import "time"

/* Endpoint represents a registered third-party URL subscribed to events.
 * Uses value semantics as it represents data, not behavior
 */
type Endpoint struct {
	ID          string
	WorkspaceID string
	URL         string
	// Secret is the shared HMAC key. Once set it never changes except
	// through an explicit rotation.
	Secret     string
	Events     []string
	Active     bool
	MaxRetries int
	Label      string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Subscribed reports whether the endpoint is subscribed to the given event.
func (e Endpoint) Subscribed(event string) bool {
	for _, ev := range e.Events {
		if ev == event {
			return true
		}
	}
	return false
}

/* Delivery tracks the dispatch of a single event to a single endpoint.
 * One record covers the whole attempt series; AttemptCount only ever grows.
 */
type Delivery struct {
	ID          int64
	EndpointID  string
	WorkspaceID string
	Event       string
	Payload     map[string]any
	Status      Status
	// AttemptCount is incremented and persisted before each outbound call,
	// so a crash mid-request never reuses a stale counter value.
	AttemptCount int
	ResponseCode *int
	ResponseBody *string
	// NextAttemptAt is set when the delivery fails and cleared on success.
	NextAttemptAt *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Retriable reports whether the delivery is still eligible for automatic
// retry against the given budget.
func (d Delivery) Retriable(maxRetries int) bool {
	return d.Status == Failed && d.AttemptCount < maxRetries
}

// Due reports whether the next attempt time has passed.
func (d Delivery) Due(now time.Time) bool {
	return d.NextAttemptAt != nil && !d.NextAttemptAt.After(now)
}
