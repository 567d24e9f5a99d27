package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/taskhive/webhookd/webhook"
)

/* PostgreSQL implementation of webhook.Repository
 * Delivery rows carry the full attempt state; the conditional attempt
 * claim is a single UPDATE guarded on the current attempt counter so
 * two workers racing for the same delivery cannot both win.
 */

type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository opens a pgx pool against the DSN and verifies the
// connection before returning.
func NewRepository(ctx context.Context, dsn string) (*Repository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing DSN: %w", err)
	}
	cfg.MaxConns = 10

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to Postgres: %w", err)
	}

	return &Repository{pool: pool}, nil
}

func (r *Repository) Close(ctx context.Context) error {
	r.pool.Close()
	return nil
}

func (r *Repository) StoreEndpoint(ctx context.Context, ep webhook.Endpoint) (string, error) {
	events, err := json.Marshal(ep.Events)
	if err != nil {
		return "", fmt.Errorf("marshaling events: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO endpoints (id, workspace_id, url, secret, events, active, max_retries, label, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		ep.ID, ep.WorkspaceID, ep.URL, ep.Secret, events, ep.Active, ep.MaxRetries, ep.Label, ep.CreatedAt, ep.UpdatedAt,
	)
	if err != nil {
		return "", fmt.Errorf("storing endpoint: %w", err)
	}
	return ep.ID, nil
}

func (r *Repository) UpdateEndpoint(ctx context.Context, ep webhook.Endpoint) error {
	events, err := json.Marshal(ep.Events)
	if err != nil {
		return fmt.Errorf("marshaling events: %w", err)
	}

	ct, err := r.pool.Exec(ctx, `
		UPDATE endpoints
		SET url = $2, secret = $3, events = $4, active = $5, max_retries = $6, label = $7, updated_at = $8
		WHERE id = $1`,
		ep.ID, ep.URL, ep.Secret, events, ep.Active, ep.MaxRetries, ep.Label, ep.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("updating endpoint: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return webhook.ErrNotFound
	}
	return nil
}

func (r *Repository) GetEndpoint(ctx context.Context, id string) (webhook.Endpoint, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, workspace_id, url, secret, events, active, max_retries, label, created_at, updated_at
		FROM endpoints
		WHERE id = $1`, id)
	return scanEndpoint(row)
}

func (r *Repository) ListEndpoints(ctx context.Context, filter webhook.EndpointFilter) ([]webhook.Endpoint, error) {
	q := `
		SELECT id, workspace_id, url, secret, events, active, max_retries, label, created_at, updated_at
		FROM endpoints
		WHERE ($1 = '' OR workspace_id = $1)
		  AND ($2::boolean IS NULL OR active = $2)
		  AND ($3 = '' OR events @> to_jsonb(ARRAY[$3::text]))
		ORDER BY created_at DESC`
	args := []any{filter.WorkspaceID, filter.Active, filter.Event}
	if filter.Limit > 0 {
		q += ` LIMIT $4`
		args = append(args, filter.Limit)
	}

	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("listing endpoints: %w", err)
	}
	defer rows.Close()

	var endpoints []webhook.Endpoint
	for rows.Next() {
		ep, err := scanEndpoint(rows)
		if err != nil {
			return nil, err
		}
		endpoints = append(endpoints, ep)
	}
	return endpoints, rows.Err()
}

func (r *Repository) DeleteEndpoint(ctx context.Context, id string) error {
	ct, err := r.pool.Exec(ctx, `DELETE FROM endpoints WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting endpoint: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return webhook.ErrNotFound
	}
	return nil
}

func (r *Repository) StoreDelivery(ctx context.Context, d webhook.Delivery) (int64, error) {
	payload, err := json.Marshal(d.Payload)
	if err != nil {
		return 0, fmt.Errorf("marshaling payload: %w", err)
	}

	var id int64
	err = r.pool.QueryRow(ctx, `
		INSERT INTO deliveries (endpoint_id, workspace_id, event, payload, status, attempt_count, response_code, response_body, next_attempt_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`,
		d.EndpointID, d.WorkspaceID, d.Event, payload, d.Status.String(), d.AttemptCount,
		d.ResponseCode, d.ResponseBody, d.NextAttemptAt, d.CreatedAt, d.UpdatedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("storing delivery: %w", err)
	}
	return id, nil
}

func (r *Repository) GetDelivery(ctx context.Context, id int64) (webhook.Delivery, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, endpoint_id, workspace_id, event, payload, status, attempt_count, response_code, response_body, next_attempt_at, created_at, updated_at
		FROM deliveries
		WHERE id = $1`, id)
	return scanDelivery(row)
}

func (r *Repository) ListDeliveries(ctx context.Context, filter webhook.DeliveryFilter) ([]webhook.Delivery, error) {
	var status any
	if filter.Status != nil {
		status = filter.Status.String()
	}

	q := `
		SELECT id, endpoint_id, workspace_id, event, payload, status, attempt_count, response_code, response_body, next_attempt_at, created_at, updated_at
		FROM deliveries
		WHERE ($1 = '' OR workspace_id = $1)
		  AND ($2 = '' OR endpoint_id = $2)
		  AND ($3::text IS NULL OR status = $3)
		ORDER BY id DESC`
	args := []any{filter.WorkspaceID, filter.EndpointID, status}
	if filter.Limit > 0 {
		q += ` LIMIT $4`
		args = append(args, filter.Limit)
	}

	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("listing deliveries: %w", err)
	}
	defer rows.Close()

	return collectDeliveries(rows)
}

func (r *Repository) ListDueFailed(ctx context.Context, now time.Time, limit int) ([]webhook.Delivery, error) {
	q := `
		SELECT id, endpoint_id, workspace_id, event, payload, status, attempt_count, response_code, response_body, next_attempt_at, created_at, updated_at
		FROM deliveries
		WHERE status = 'failed' AND next_attempt_at IS NOT NULL AND next_attempt_at <= $1
		ORDER BY next_attempt_at ASC`
	args := []any{now}
	if limit > 0 {
		q += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("listing due deliveries: %w", err)
	}
	defer rows.Close()

	return collectDeliveries(rows)
}

func (r *Repository) CountByStatus(ctx context.Context, workspaceID, endpointID string) (webhook.StatusCounts, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT status, count(*)
		FROM deliveries
		WHERE ($1 = '' OR workspace_id = $1)
		  AND ($2 = '' OR endpoint_id = $2)
		GROUP BY status`, workspaceID, endpointID)
	if err != nil {
		return webhook.StatusCounts{}, fmt.Errorf("counting deliveries: %w", err)
	}
	defer rows.Close()

	var counts webhook.StatusCounts
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return webhook.StatusCounts{}, fmt.Errorf("scanning counts: %w", err)
		}
		switch status {
		case "pending":
			counts.Pending = n
		case "delivered":
			counts.Delivered = n
		case "failed":
			counts.Failed = n
		}
		counts.Total += n
	}
	return counts, rows.Err()
}

func (r *Repository) UpdateDelivery(ctx context.Context, d webhook.Delivery) error {
	payload, err := json.Marshal(d.Payload)
	if err != nil {
		return fmt.Errorf("marshaling payload: %w", err)
	}

	// GREATEST keeps the attempt counter from moving backwards through
	// an admin write racing a dispatch.
	ct, err := r.pool.Exec(ctx, `
		UPDATE deliveries
		SET event = $2, payload = $3, status = $4,
		    attempt_count = GREATEST(attempt_count, $5),
		    response_code = $6, response_body = $7, next_attempt_at = $8, updated_at = now()
		WHERE id = $1`,
		d.ID, d.Event, payload, d.Status.String(), d.AttemptCount,
		d.ResponseCode, d.ResponseBody, d.NextAttemptAt,
	)
	if err != nil {
		return fmt.Errorf("updating delivery: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return webhook.ErrNotFound
	}
	return nil
}

func (r *Repository) DeleteDelivery(ctx context.Context, id int64) error {
	ct, err := r.pool.Exec(ctx, `DELETE FROM deliveries WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting delivery: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return webhook.ErrNotFound
	}
	return nil
}

func (r *Repository) ClaimAttempt(ctx context.Context, id int64, fromAttempt int) (webhook.Delivery, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE deliveries
		SET attempt_count = attempt_count + 1, updated_at = now()
		WHERE id = $1 AND attempt_count = $2 AND status <> 'delivered'
		RETURNING id, endpoint_id, workspace_id, event, payload, status, attempt_count, response_code, response_body, next_attempt_at, created_at, updated_at`,
		id, fromAttempt)

	d, err := scanDelivery(row)
	if errors.Is(err, webhook.ErrNotFound) {
		// The row either does not exist or another worker moved the
		// counter first; distinguish the two for the caller.
		if _, getErr := r.GetDelivery(ctx, id); getErr != nil {
			return webhook.Delivery{}, getErr
		}
		return webhook.Delivery{}, webhook.ErrAttemptConflict
	}
	return d, err
}

func (r *Repository) FinishAttempt(ctx context.Context, id int64, status webhook.Status, responseCode int, responseBody string, nextAttemptAt *time.Time) error {
	ct, err := r.pool.Exec(ctx, `
		UPDATE deliveries
		SET status = $2, response_code = $3, response_body = $4, next_attempt_at = $5, updated_at = now()
		WHERE id = $1`,
		id, status.String(), responseCode, responseBody, nextAttemptAt,
	)
	if err != nil {
		return fmt.Errorf("finishing attempt: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return webhook.ErrNotFound
	}
	return nil
}

func (r *Repository) ResetForRetry(ctx context.Context, id int64) (webhook.Delivery, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE deliveries
		SET status = 'pending', next_attempt_at = now(), updated_at = now()
		WHERE id = $1 AND status = 'failed'
		RETURNING id, endpoint_id, workspace_id, event, payload, status, attempt_count, response_code, response_body, next_attempt_at, created_at, updated_at`,
		id)

	d, err := scanDelivery(row)
	if errors.Is(err, webhook.ErrNotFound) {
		if _, getErr := r.GetDelivery(ctx, id); getErr != nil {
			return webhook.Delivery{}, getErr
		}
		return webhook.Delivery{}, webhook.ErrNotRetriable
	}
	return d, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEndpoint(row scanner) (webhook.Endpoint, error) {
	var ep webhook.Endpoint
	var events []byte
	err := row.Scan(&ep.ID, &ep.WorkspaceID, &ep.URL, &ep.Secret, &events,
		&ep.Active, &ep.MaxRetries, &ep.Label, &ep.CreatedAt, &ep.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return webhook.Endpoint{}, webhook.ErrNotFound
	}
	if err != nil {
		return webhook.Endpoint{}, fmt.Errorf("scanning endpoint: %w", err)
	}
	if err := json.Unmarshal(events, &ep.Events); err != nil {
		return webhook.Endpoint{}, fmt.Errorf("unmarshaling events: %w", err)
	}
	return ep, nil
}

func scanDelivery(row scanner) (webhook.Delivery, error) {
	var d webhook.Delivery
	var payload []byte
	var status string
	err := row.Scan(&d.ID, &d.EndpointID, &d.WorkspaceID, &d.Event, &payload, &status,
		&d.AttemptCount, &d.ResponseCode, &d.ResponseBody, &d.NextAttemptAt, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return webhook.Delivery{}, webhook.ErrNotFound
	}
	if err != nil {
		return webhook.Delivery{}, fmt.Errorf("scanning delivery: %w", err)
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &d.Payload); err != nil {
			return webhook.Delivery{}, fmt.Errorf("unmarshaling payload: %w", err)
		}
	}
	d.Status, err = webhook.NewStatus(status)
	if err != nil {
		return webhook.Delivery{}, fmt.Errorf("parsing status: %w", err)
	}
	return d, nil
}

func collectDeliveries(rows pgx.Rows) ([]webhook.Delivery, error) {
	var deliveries []webhook.Delivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		deliveries = append(deliveries, d)
	}
	return deliveries, rows.Err()
}
