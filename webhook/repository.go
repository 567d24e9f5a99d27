package webhook

import (
	"context"
	"errors"
	"time"
)

/* Small, focused interfaces following "The Go Way"
 * Interfaces abstract behavior, not things
 * Written for users of the API, not just for testing
 */

// ErrNotFound is returned when an endpoint or delivery does not exist.
var ErrNotFound = errors.New("not found")

// ErrAttemptConflict is returned by ClaimAttempt when another worker has
// already advanced the attempt counter or the delivery reached a terminal
// state. The losing caller must abandon its attempt rather than resend.
var ErrAttemptConflict = errors.New("attempt already claimed")

// ErrNotRetriable is returned when a manual retry targets a delivery that is
// not currently failed.
var ErrNotRetriable = errors.New("delivery is not in a failed state")

// EndpointFilter narrows endpoint listings. Zero values mean "no filter".
type EndpointFilter struct {
	WorkspaceID string
	Active      *bool
	Event       string
	Limit       int
}

// DeliveryFilter narrows delivery listings. Zero values mean "no filter".
type DeliveryFilter struct {
	WorkspaceID string
	EndpointID  string
	Status      *Status
	Limit       int
}

// StatusCounts holds per-status delivery totals for stats aggregation.
type StatusCounts struct {
	Total     int64
	Delivered int64
	Failed    int64
	Pending   int64
}

// EndpointReader provides read operations for endpoints
type EndpointReader interface {
	/* Context is always the first parameter in functions that do I/O
	 * This allows for cancellation, timeouts, and shared values
	 */
	GetEndpoint(ctx context.Context, id string) (Endpoint, error)
	ListEndpoints(ctx context.Context, filter EndpointFilter) ([]Endpoint, error)
}

// EndpointWriter provides write operations for endpoints
type EndpointWriter interface {
	StoreEndpoint(ctx context.Context, ep Endpoint) (string, error)
	UpdateEndpoint(ctx context.Context, ep Endpoint) error
	DeleteEndpoint(ctx context.Context, id string) error
}

// DeliveryReader provides read operations for deliveries
type DeliveryReader interface {
	GetDelivery(ctx context.Context, id int64) (Delivery, error)
	ListDeliveries(ctx context.Context, filter DeliveryFilter) ([]Delivery, error)
	/* ListDueFailed returns failed deliveries whose next attempt time has
	 * passed. Budget enforcement (attempt count vs the endpoint's max
	 * retries) belongs to the scheduler, not the store.
	 */
	ListDueFailed(ctx context.Context, now time.Time, limit int) ([]Delivery, error)
	CountByStatus(ctx context.Context, workspaceID, endpointID string) (StatusCounts, error)
}

// DeliveryWriter provides write operations for deliveries
type DeliveryWriter interface {
	StoreDelivery(ctx context.Context, d Delivery) (int64, error)
	UpdateDelivery(ctx context.Context, d Delivery) error
	DeleteDelivery(ctx context.Context, id int64) error
	/* ClaimAttempt is a single-row compare-and-set: it increments the
	 * attempt counter only if the stored counter still equals fromAttempt
	 * and the delivery is not already delivered. Racing workers lose with
	 * ErrAttemptConflict.
	 */
	ClaimAttempt(ctx context.Context, id int64, fromAttempt int) (Delivery, error)
	/* FinishAttempt records the terminal classification of one attempt:
	 * status, response code, response body excerpt, and the next attempt
	 * time (nil clears it).
	 */
	FinishAttempt(ctx context.Context, id int64, status Status, code int, body string, nextAttemptAt *time.Time) error
	/* ResetForRetry moves a failed delivery back to pending with an
	 * immediate next attempt time. Returns ErrNotRetriable unless the
	 * stored status is Failed; the check and the write are one conditional
	 * operation.
	 */
	ResetForRetry(ctx context.Context, id int64) (Delivery, error)
}

/* Interface composition - combining small interfaces into larger ones
 * This is preferred over large monolithic interfaces
 */
type Repository interface {
	EndpointReader
	EndpointWriter
	DeliveryReader
	DeliveryWriter
	Close(ctx context.Context) error
}
