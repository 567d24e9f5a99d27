package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/taskhive/webhookd/webhook"
)

/* Redis implementation of webhook.Repository
 * Uses Redis Hashes for endpoint and delivery records, Sets/ZSets as
 * secondary indexes, and Lua scripts for the conditional attempt-claim
 * and retry-reset transitions so concurrent workers cannot double-claim
 * a delivery.
 */

const (
	endpointPrefix   = "endpoint"  // endpoint:{id}
	deliveryPrefix   = "delivery"  // delivery:{id}
	endpointsAllKey  = "endpoints" // set of all endpoint ids
	endpointsWSKey   = "endpoints:ws"
	deliveriesAllKey = "deliveries" // zset of all delivery ids, scored by id
	deliveriesWSKey  = "deliveries:ws"
	deliveriesEPKey  = "deliveries:ep"
	retryIndexKey    = "deliveries:retry" // zset scored by next_attempt_at (unix)
	deliveryIDKey    = "deliveries:next_id"
	countsAllKey     = "counts"
	countsWSKey      = "counts:ws"
	countsEPKey      = "counts:ep"
)

// claimScript conditionally increments a delivery's attempt counter.
// Returns the new attempt count, -1 when the record is missing, or 0
// when the delivery is already delivered or the counter moved on.
var claimScript = redis.NewScript(`
local key = KEYS[1]
if redis.call("EXISTS", key) == 0 then
  return -1
end
local status = redis.call("HGET", key, "status")
local attempt = tonumber(redis.call("HGET", key, "attempt_count"))
if status == "delivered" or attempt ~= tonumber(ARGV[1]) then
  return 0
end
local next = redis.call("HINCRBY", key, "attempt_count", 1)
redis.call("HSET", key, "updated_at", ARGV[2])
return next
`)

// finishScript records an attempt outcome and keeps the status counters
// and retry index consistent with the hash in one round trip.
var finishScript = redis.NewScript(`
local key = KEYS[1]
local retry = KEYS[2]
if redis.call("EXISTS", key) == 0 then
  return -1
end
local old = redis.call("HGET", key, "status")
local ws = redis.call("HGET", key, "workspace_id")
local ep = redis.call("HGET", key, "endpoint_id")
local id = redis.call("HGET", key, "id")
redis.call("HSET", key,
  "status", ARGV[1],
  "response_code", ARGV[2],
  "response_body", ARGV[3],
  "next_attempt_at", ARGV[4],
  "updated_at", ARGV[5])
if old ~= ARGV[1] then
  for _, c in ipairs({"counts", "counts:ws:" .. ws, "counts:ep:" .. ep}) do
    redis.call("HINCRBY", c, old, -1)
    redis.call("HINCRBY", c, ARGV[1], 1)
  end
end
if ARGV[1] == "failed" and ARGV[4] ~= "" then
  redis.call("ZADD", retry, tonumber(ARGV[4]), id)
else
  redis.call("ZREM", retry, id)
end
return 1
`)

// resetScript moves a failed delivery back to pending without touching
// the attempt counter. Returns -1 for missing, 0 for non-failed records.
var resetScript = redis.NewScript(`
local key = KEYS[1]
local retry = KEYS[2]
if redis.call("EXISTS", key) == 0 then
  return -1
end
local old = redis.call("HGET", key, "status")
if old ~= "failed" then
  return 0
end
local ws = redis.call("HGET", key, "workspace_id")
local ep = redis.call("HGET", key, "endpoint_id")
local id = redis.call("HGET", key, "id")
redis.call("HSET", key, "status", "pending", "next_attempt_at", ARGV[1], "updated_at", ARGV[1])
for _, c in ipairs({"counts", "counts:ws:" .. ws, "counts:ep:" .. ep}) do
  redis.call("HINCRBY", c, "failed", -1)
  redis.call("HINCRBY", c, "pending", 1)
end
redis.call("ZREM", retry, id)
return 1
`)

type Repository struct {
	client *redis.Client
}

// NewRepository connects to Redis and verifies the connection.
func NewRepository(addr, password string, db int) (*Repository, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to Redis: %w", err)
	}

	return &Repository{client: client}, nil
}

func (r *Repository) Close(ctx context.Context) error {
	return r.client.Close()
}

func endpointKey(id string) string { return fmt.Sprintf("%s:%s", endpointPrefix, id) }
func deliveryKey(id int64) string  { return fmt.Sprintf("%s:%d", deliveryPrefix, id) }

func (r *Repository) StoreEndpoint(ctx context.Context, ep webhook.Endpoint) (string, error) {
	if err := r.writeEndpoint(ctx, ep); err != nil {
		return "", err
	}
	return ep.ID, nil
}

func (r *Repository) writeEndpoint(ctx context.Context, ep webhook.Endpoint) error {
	eventsJSON, err := json.Marshal(ep.Events)
	if err != nil {
		return fmt.Errorf("marshaling events: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, endpointKey(ep.ID), map[string]interface{}{
		"id":           ep.ID,
		"workspace_id": ep.WorkspaceID,
		"url":          ep.URL,
		"secret":       ep.Secret,
		"events":       string(eventsJSON),
		"active":       boolField(ep.Active),
		"max_retries":  ep.MaxRetries,
		"label":        ep.Label,
		"created_at":   ep.CreatedAt.Unix(),
		"updated_at":   ep.UpdatedAt.Unix(),
	})
	pipe.SAdd(ctx, endpointsAllKey, ep.ID)
	pipe.SAdd(ctx, fmt.Sprintf("%s:%s", endpointsWSKey, ep.WorkspaceID), ep.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("storing endpoint: %w", err)
	}
	return nil
}

func (r *Repository) UpdateEndpoint(ctx context.Context, ep webhook.Endpoint) error {
	exists, err := r.client.Exists(ctx, endpointKey(ep.ID)).Result()
	if err != nil {
		return fmt.Errorf("checking endpoint: %w", err)
	}
	if exists == 0 {
		return webhook.ErrNotFound
	}
	return r.writeEndpoint(ctx, ep)
}

func (r *Repository) GetEndpoint(ctx context.Context, id string) (webhook.Endpoint, error) {
	data, err := r.client.HGetAll(ctx, endpointKey(id)).Result()
	if err != nil {
		return webhook.Endpoint{}, fmt.Errorf("getting endpoint: %w", err)
	}
	if len(data) == 0 {
		return webhook.Endpoint{}, webhook.ErrNotFound
	}
	return parseEndpoint(data)
}

func (r *Repository) ListEndpoints(ctx context.Context, filter webhook.EndpointFilter) ([]webhook.Endpoint, error) {
	indexKey := endpointsAllKey
	if filter.WorkspaceID != "" {
		indexKey = fmt.Sprintf("%s:%s", endpointsWSKey, filter.WorkspaceID)
	}

	ids, err := r.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("listing endpoint ids: %w", err)
	}

	endpoints := make([]webhook.Endpoint, 0, len(ids))
	for _, id := range ids {
		ep, err := r.GetEndpoint(ctx, id)
		if errors.Is(err, webhook.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if filter.Active != nil && ep.Active != *filter.Active {
			continue
		}
		if filter.Event != "" && !ep.Subscribed(filter.Event) {
			continue
		}
		endpoints = append(endpoints, ep)
	}

	sort.Slice(endpoints, func(i, j int) bool {
		return endpoints[i].CreatedAt.After(endpoints[j].CreatedAt)
	})
	if filter.Limit > 0 && len(endpoints) > filter.Limit {
		endpoints = endpoints[:filter.Limit]
	}
	return endpoints, nil
}

func (r *Repository) DeleteEndpoint(ctx context.Context, id string) error {
	ep, err := r.GetEndpoint(ctx, id)
	if err != nil {
		return err
	}

	pipe := r.client.TxPipeline()
	pipe.Del(ctx, endpointKey(id))
	pipe.SRem(ctx, endpointsAllKey, id)
	pipe.SRem(ctx, fmt.Sprintf("%s:%s", endpointsWSKey, ep.WorkspaceID), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("deleting endpoint: %w", err)
	}
	return nil
}

func (r *Repository) StoreDelivery(ctx context.Context, d webhook.Delivery) (int64, error) {
	id, err := r.client.Incr(ctx, deliveryIDKey).Result()
	if err != nil {
		return 0, fmt.Errorf("allocating delivery id: %w", err)
	}
	d.ID = id

	payloadJSON, err := json.Marshal(d.Payload)
	if err != nil {
		return 0, fmt.Errorf("marshaling payload: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, deliveryKey(id), map[string]interface{}{
		"id":              id,
		"endpoint_id":     d.EndpointID,
		"workspace_id":    d.WorkspaceID,
		"event":           d.Event,
		"payload":         string(payloadJSON),
		"status":          d.Status.String(),
		"attempt_count":   d.AttemptCount,
		"response_code":   intPtrField(d.ResponseCode),
		"response_body":   strPtrField(d.ResponseBody),
		"next_attempt_at": timePtrField(d.NextAttemptAt),
		"created_at":      d.CreatedAt.Unix(),
		"updated_at":      d.UpdatedAt.Unix(),
	})
	pipe.ZAdd(ctx, deliveriesAllKey, redis.Z{Score: float64(id), Member: id})
	pipe.ZAdd(ctx, fmt.Sprintf("%s:%s", deliveriesWSKey, d.WorkspaceID), redis.Z{Score: float64(id), Member: id})
	pipe.ZAdd(ctx, fmt.Sprintf("%s:%s", deliveriesEPKey, d.EndpointID), redis.Z{Score: float64(id), Member: id})
	for _, counts := range r.countKeys(d.WorkspaceID, d.EndpointID) {
		pipe.HIncrBy(ctx, counts, d.Status.String(), 1)
	}
	if d.Status == webhook.Failed && d.NextAttemptAt != nil {
		pipe.ZAdd(ctx, retryIndexKey, redis.Z{Score: float64(d.NextAttemptAt.Unix()), Member: id})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("storing delivery: %w", err)
	}
	return id, nil
}

func (r *Repository) GetDelivery(ctx context.Context, id int64) (webhook.Delivery, error) {
	data, err := r.client.HGetAll(ctx, deliveryKey(id)).Result()
	if err != nil {
		return webhook.Delivery{}, fmt.Errorf("getting delivery: %w", err)
	}
	if len(data) == 0 {
		return webhook.Delivery{}, webhook.ErrNotFound
	}
	return parseDelivery(data)
}

func (r *Repository) ListDeliveries(ctx context.Context, filter webhook.DeliveryFilter) ([]webhook.Delivery, error) {
	indexKey := deliveriesAllKey
	switch {
	case filter.EndpointID != "":
		indexKey = fmt.Sprintf("%s:%s", deliveriesEPKey, filter.EndpointID)
	case filter.WorkspaceID != "":
		indexKey = fmt.Sprintf("%s:%s", deliveriesWSKey, filter.WorkspaceID)
	}

	// Newest first: delivery ids are monotonic so the score order is
	// the creation order.
	ids, err := r.client.ZRevRange(ctx, indexKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("listing delivery ids: %w", err)
	}

	deliveries := make([]webhook.Delivery, 0, len(ids))
	for _, raw := range ids {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing delivery id %q: %w", raw, err)
		}
		d, err := r.GetDelivery(ctx, id)
		if errors.Is(err, webhook.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if filter.WorkspaceID != "" && d.WorkspaceID != filter.WorkspaceID {
			continue
		}
		if filter.Status != nil && d.Status != *filter.Status {
			continue
		}
		deliveries = append(deliveries, d)
		if filter.Limit > 0 && len(deliveries) >= filter.Limit {
			break
		}
	}
	return deliveries, nil
}

func (r *Repository) ListDueFailed(ctx context.Context, now time.Time, limit int) ([]webhook.Delivery, error) {
	if limit <= 0 {
		limit = -1
	}
	ids, err := r.client.ZRangeByScore(ctx, retryIndexKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.Unix(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("listing due deliveries: %w", err)
	}

	deliveries := make([]webhook.Delivery, 0, len(ids))
	for _, raw := range ids {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing delivery id %q: %w", raw, err)
		}
		d, err := r.GetDelivery(ctx, id)
		if errors.Is(err, webhook.ErrNotFound) {
			// Stale index entry, drop it.
			r.client.ZRem(ctx, retryIndexKey, raw)
			continue
		}
		if err != nil {
			return nil, err
		}
		if d.Status != webhook.Failed {
			continue
		}
		deliveries = append(deliveries, d)
	}
	return deliveries, nil
}

func (r *Repository) CountByStatus(ctx context.Context, workspaceID, endpointID string) (webhook.StatusCounts, error) {
	key := countsAllKey
	switch {
	case endpointID != "":
		key = fmt.Sprintf("%s:%s", countsEPKey, endpointID)
	case workspaceID != "":
		key = fmt.Sprintf("%s:%s", countsWSKey, workspaceID)
	}

	data, err := r.client.HGetAll(ctx, key).Result()
	if err != nil {
		return webhook.StatusCounts{}, fmt.Errorf("reading status counts: %w", err)
	}

	counts := webhook.StatusCounts{
		Pending:   countField(data, "pending"),
		Delivered: countField(data, "delivered"),
		Failed:    countField(data, "failed"),
	}
	counts.Total = counts.Pending + counts.Delivered + counts.Failed
	return counts, nil
}

func (r *Repository) UpdateDelivery(ctx context.Context, d webhook.Delivery) error {
	current, err := r.GetDelivery(ctx, d.ID)
	if err != nil {
		return err
	}

	// Attempt accounting never goes backwards through admin writes.
	if d.AttemptCount < current.AttemptCount {
		d.AttemptCount = current.AttemptCount
	}

	payloadJSON, err := json.Marshal(d.Payload)
	if err != nil {
		return fmt.Errorf("marshaling payload: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, deliveryKey(d.ID), map[string]interface{}{
		"event":           d.Event,
		"payload":         string(payloadJSON),
		"status":          d.Status.String(),
		"attempt_count":   d.AttemptCount,
		"response_code":   intPtrField(d.ResponseCode),
		"response_body":   strPtrField(d.ResponseBody),
		"next_attempt_at": timePtrField(d.NextAttemptAt),
		"updated_at":      time.Now().Unix(),
	})
	if current.Status != d.Status {
		for _, counts := range r.countKeys(current.WorkspaceID, current.EndpointID) {
			pipe.HIncrBy(ctx, counts, current.Status.String(), -1)
			pipe.HIncrBy(ctx, counts, d.Status.String(), 1)
		}
	}
	if d.Status == webhook.Failed && d.NextAttemptAt != nil {
		pipe.ZAdd(ctx, retryIndexKey, redis.Z{Score: float64(d.NextAttemptAt.Unix()), Member: d.ID})
	} else {
		pipe.ZRem(ctx, retryIndexKey, d.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("updating delivery: %w", err)
	}
	return nil
}

func (r *Repository) DeleteDelivery(ctx context.Context, id int64) error {
	d, err := r.GetDelivery(ctx, id)
	if err != nil {
		return err
	}

	pipe := r.client.TxPipeline()
	pipe.Del(ctx, deliveryKey(id))
	pipe.ZRem(ctx, deliveriesAllKey, id)
	pipe.ZRem(ctx, fmt.Sprintf("%s:%s", deliveriesWSKey, d.WorkspaceID), id)
	pipe.ZRem(ctx, fmt.Sprintf("%s:%s", deliveriesEPKey, d.EndpointID), id)
	pipe.ZRem(ctx, retryIndexKey, id)
	for _, counts := range r.countKeys(d.WorkspaceID, d.EndpointID) {
		pipe.HIncrBy(ctx, counts, d.Status.String(), -1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("deleting delivery: %w", err)
	}
	return nil
}

func (r *Repository) ClaimAttempt(ctx context.Context, id int64, fromAttempt int) (webhook.Delivery, error) {
	res, err := claimScript.Run(ctx, r.client,
		[]string{deliveryKey(id)},
		fromAttempt, time.Now().Unix(),
	).Int64()
	if err != nil {
		return webhook.Delivery{}, fmt.Errorf("claiming attempt: %w", err)
	}
	switch res {
	case -1:
		return webhook.Delivery{}, webhook.ErrNotFound
	case 0:
		return webhook.Delivery{}, webhook.ErrAttemptConflict
	}
	return r.GetDelivery(ctx, id)
}

func (r *Repository) FinishAttempt(ctx context.Context, id int64, status webhook.Status, responseCode int, responseBody string, nextAttemptAt *time.Time) error {
	res, err := finishScript.Run(ctx, r.client,
		[]string{deliveryKey(id), retryIndexKey},
		status.String(),
		strconv.Itoa(responseCode),
		responseBody,
		timePtrField(nextAttemptAt),
		time.Now().Unix(),
	).Int64()
	if err != nil {
		return fmt.Errorf("finishing attempt: %w", err)
	}
	if res == -1 {
		return webhook.ErrNotFound
	}
	return nil
}

func (r *Repository) ResetForRetry(ctx context.Context, id int64) (webhook.Delivery, error) {
	res, err := resetScript.Run(ctx, r.client,
		[]string{deliveryKey(id), retryIndexKey},
		time.Now().Unix(),
	).Int64()
	if err != nil {
		return webhook.Delivery{}, fmt.Errorf("resetting delivery: %w", err)
	}
	switch res {
	case -1:
		return webhook.Delivery{}, webhook.ErrNotFound
	case 0:
		return webhook.Delivery{}, webhook.ErrNotRetriable
	}
	return r.GetDelivery(ctx, id)
}

func (r *Repository) countKeys(workspaceID, endpointID string) []string {
	return []string{
		countsAllKey,
		fmt.Sprintf("%s:%s", countsWSKey, workspaceID),
		fmt.Sprintf("%s:%s", countsEPKey, endpointID),
	}
}

func parseEndpoint(data map[string]string) (webhook.Endpoint, error) {
	var events []string
	if raw := data["events"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &events); err != nil {
			return webhook.Endpoint{}, fmt.Errorf("unmarshaling events: %w", err)
		}
	}

	maxRetries, _ := strconv.Atoi(data["max_retries"])
	createdAt, _ := strconv.ParseInt(data["created_at"], 10, 64)
	updatedAt, _ := strconv.ParseInt(data["updated_at"], 10, 64)

	return webhook.Endpoint{
		ID:          data["id"],
		WorkspaceID: data["workspace_id"],
		URL:         data["url"],
		Secret:      data["secret"],
		Events:      events,
		Active:      data["active"] == "1",
		MaxRetries:  maxRetries,
		Label:       data["label"],
		CreatedAt:   time.Unix(createdAt, 0),
		UpdatedAt:   time.Unix(updatedAt, 0),
	}, nil
}

func parseDelivery(data map[string]string) (webhook.Delivery, error) {
	id, err := strconv.ParseInt(data["id"], 10, 64)
	if err != nil {
		return webhook.Delivery{}, fmt.Errorf("parsing delivery id: %w", err)
	}

	status, err := webhook.NewStatus(data["status"])
	if err != nil {
		return webhook.Delivery{}, fmt.Errorf("parsing status: %w", err)
	}

	var payload map[string]any
	if raw := data["payload"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &payload); err != nil {
			return webhook.Delivery{}, fmt.Errorf("unmarshaling payload: %w", err)
		}
	}

	d := webhook.Delivery{
		ID:          id,
		EndpointID:  data["endpoint_id"],
		WorkspaceID: data["workspace_id"],
		Event:       data["event"],
		Payload:     payload,
		Status:      status,
	}
	d.AttemptCount, _ = strconv.Atoi(data["attempt_count"])

	if raw := data["response_code"]; raw != "" {
		code, err := strconv.Atoi(raw)
		if err != nil {
			return webhook.Delivery{}, fmt.Errorf("parsing response code: %w", err)
		}
		d.ResponseCode = &code
	}
	if raw, ok := data["response_body"]; ok && raw != "" {
		body := raw
		d.ResponseBody = &body
	}
	if raw := data["next_attempt_at"]; raw != "" {
		ts, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return webhook.Delivery{}, fmt.Errorf("parsing next attempt: %w", err)
		}
		next := time.Unix(ts, 0)
		d.NextAttemptAt = &next
	}

	createdAt, _ := strconv.ParseInt(data["created_at"], 10, 64)
	updatedAt, _ := strconv.ParseInt(data["updated_at"], 10, 64)
	d.CreatedAt = time.Unix(createdAt, 0)
	d.UpdatedAt = time.Unix(updatedAt, 0)

	return d, nil
}

func boolField(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func intPtrField(p *int) string {
	if p == nil {
		return ""
	}
	return strconv.Itoa(*p)
}

func strPtrField(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func timePtrField(p *time.Time) string {
	if p == nil {
		return ""
	}
	return strconv.FormatInt(p.Unix(), 10)
}

func countField(data map[string]string, field string) int64 {
	n, _ := strconv.ParseInt(data[field], 10, 64)
	return n
}
