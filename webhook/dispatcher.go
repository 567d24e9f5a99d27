package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/taskhive/webhookd/metrics"
	"github.com/taskhive/webhookd/webhook/signature"
)

const (
	// SignatureHeader carries the HMAC of the request body, "sha256=<hex>".
	SignatureHeader = "X-Webhook-Signature"

	// DefaultTimeout bounds each outbound call.
	DefaultTimeout = 30 * time.Second

	// maxResponseBody caps the stored response body excerpt at 1KB.
	maxResponseBody = 1024

	userAgent = "webhookd/1.0 (+https://github.com/taskhive/webhookd)"

	// maxBackoffShift caps the exponent so the delay stays sane even for
	// operator-forced retries far past any normal budget.
	maxBackoffShift = 16
)

/* Envelope is the wire format POSTed to third-party endpoints.
 * Field order is fixed; the signature covers these exact bytes.
 */
type Envelope struct {
	Event      string         `json:"event"`
	Payload    map[string]any `json:"payload"`
	DeliveryID int64          `json:"delivery_id"`
	Timestamp  string         `json:"timestamp"`
}

// TestResult reports the outcome of a synthetic endpoint verification call.
type TestResult struct {
	Success    bool   `json:"success"`
	StatusCode int    `json:"status_code"`
	DurationMs int64  `json:"duration_ms"`
	Message    string `json:"message"`
}

/* Dispatcher performs one HTTP delivery attempt: claim the attempt counter,
 * build and sign the envelope, POST it, classify the result.
 * It is a pure "do one attempt" primitive; retry budgets live in Scheduler.
 */
type Dispatcher struct {
	repo   Repository
	client *http.Client
	log    zerolog.Logger
	now    func() time.Time
}

// NewDispatcher creates a dispatcher with the given HTTP timeout.
func NewDispatcher(repo Repository, timeout time.Duration, log zerolog.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Dispatcher{
		repo:   repo,
		client: &http.Client{Timeout: timeout},
		log:    log,
		now:    time.Now,
	}
}

/* Attempt performs exactly one delivery attempt and returns the updated
 * record. Two persistence writes happen per invocation: the counter claim
 * before the network call, and the terminal status update after it.
 */
func (dp *Dispatcher) Attempt(ctx context.Context, d Delivery) (Delivery, error) {
	ep, err := dp.repo.GetEndpoint(ctx, d.EndpointID)
	if err != nil {
		return d, fmt.Errorf("loading endpoint %s: %w", d.EndpointID, err)
	}

	/* The claim is an optimistic lock: if a racing sweep or manual retry
	 * already advanced the counter, we lose and abandon without sending.
	 */
	claimed, err := dp.repo.ClaimAttempt(ctx, d.ID, d.AttemptCount)
	if err != nil {
		return d, fmt.Errorf("claiming attempt: %w", err)
	}
	d = claimed

	body, err := json.Marshal(Envelope{
		Event:      d.Event,
		Payload:    d.Payload,
		DeliveryID: d.ID,
		Timestamp:  dp.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return d, fmt.Errorf("marshaling envelope: %w", err)
	}

	start := dp.now()
	code, respBody, doErr := dp.post(ctx, ep, body)
	latency := time.Since(start)

	if doErr == nil && code >= 200 && code < 300 {
		if err := dp.repo.FinishAttempt(ctx, d.ID, Delivered, code, respBody, nil); err != nil {
			return d, fmt.Errorf("recording delivered attempt: %w", err)
		}
		metrics.RecordDelivery("delivered", latency)
		dp.log.Info().
			Int64("delivery_id", d.ID).
			Str("endpoint_id", ep.ID).
			Int("attempt", d.AttemptCount).
			Int("http_status", code).
			Msg("delivery succeeded")
		return dp.repo.GetDelivery(ctx, d.ID)
	}

	if doErr != nil {
		// Transport-level failure: no response was obtained.
		code = 0
		respBody = doErr.Error()
	}
	next := NextAttemptAt(dp.now(), d.AttemptCount)
	if err := dp.repo.FinishAttempt(ctx, d.ID, Failed, code, respBody, &next); err != nil {
		return d, fmt.Errorf("recording failed attempt: %w", err)
	}
	reason := classifyReason(doErr, code)
	metrics.RecordDelivery("failed", latency)
	metrics.RecordRetry(reason)
	dp.log.Warn().
		Int64("delivery_id", d.ID).
		Str("endpoint_id", ep.ID).
		Int("attempt", d.AttemptCount).
		Int("http_status", code).
		Str("reason", reason).
		Time("next_attempt_at", next).
		Msg("delivery failed")
	return dp.repo.GetDelivery(ctx, d.ID)
}

/* Test sends a fixed synthetic payload to the endpoint without creating a
 * persisted record. One attempt, one timeout; the scheduler never sees it.
 */
func (dp *Dispatcher) Test(ctx context.Context, ep Endpoint) TestResult {
	body, _ := json.Marshal(Envelope{
		Event:      "webhook.test",
		Payload:    map[string]any{"test": true},
		DeliveryID: 0,
		Timestamp:  dp.now().UTC().Format(time.RFC3339),
	})

	start := dp.now()
	code, _, doErr := dp.post(ctx, ep, body)
	elapsed := time.Since(start)

	if doErr != nil {
		return TestResult{
			Success:    false,
			StatusCode: 0,
			DurationMs: elapsed.Milliseconds(),
			Message:    doErr.Error(),
		}
	}
	return TestResult{
		Success:    code >= 200 && code < 300,
		StatusCode: code,
		DurationMs: elapsed.Milliseconds(),
		Message:    http.StatusText(code),
	}
}

// post sends the signed envelope and returns the status code and a bounded
// response body excerpt.
func (dp *Dispatcher) post(ctx context.Context, ep Endpoint, body []byte) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(body))
	if err != nil {
		return 0, "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if ep.Secret != "" {
		req.Header.Set(SignatureHeader, signature.Sign(body, ep.Secret))
	}

	resp, err := dp.client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	return resp.StatusCode, string(excerpt), nil
}

// NextAttemptAt computes the backoff deadline: now + 2^attempt minutes,
// keyed to the post-increment attempt counter.
func NextAttemptAt(now time.Time, attempt int) time.Time {
	if attempt > maxBackoffShift {
		attempt = maxBackoffShift
	}
	if attempt < 0 {
		attempt = 0
	}
	return now.Add(time.Duration(1<<attempt) * time.Minute)
}

// classifyReason buckets a failure for metrics. Classification never feeds
// retry policy: 4xx and 5xx are retried identically up to the budget.
func classifyReason(doErr error, status int) string {
	if doErr != nil {
		errLower := strings.ToLower(doErr.Error())
		if strings.Contains(errLower, "timeout") {
			return "timeout"
		}
		if strings.Contains(errLower, "connection refused") {
			return "connection_refused"
		}
		if strings.Contains(errLower, "no such host") || strings.Contains(errLower, "dns") {
			return "dns_error"
		}
		return "network"
	}
	if status >= 500 {
		return "http_5xx"
	}
	if status == 429 {
		return "http_429"
	}
	if status >= 400 {
		return "http_4xx"
	}
	return "other"
}
