// Package dispatch implements one delivery cycle: claim the delivery row,
// resolve the subscription, sign and send the payload, classify the
// response, append the attempt, and either finish or schedule a retry.
package dispatch

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"go.opentelemetry.io/otel/attribute"

	"github.com/quayhook/quayhook/internal/backoff"
	"github.com/quayhook/quayhook/internal/logging"
	"github.com/quayhook/quayhook/internal/metrics"
	"github.com/quayhook/quayhook/internal/model"
	"github.com/quayhook/quayhook/internal/queue"
	"github.com/quayhook/quayhook/internal/signature"
	"github.com/quayhook/quayhook/internal/store"
	"github.com/quayhook/quayhook/internal/tracing"
)

// DeliveryStore is the persistence surface the dispatcher needs: the locked
// claim and the atomic attempt-plus-status write.
type DeliveryStore interface {
	Claim(ctx context.Context, id uuid.UUID, expectedAttempts int) (*model.Delivery, store.ClaimOutcome, error)
	RecordOutcome(ctx context.Context, attempt model.DeliveryAttempt, status model.DeliveryStatus) error
}

// SubscriptionResolver looks up the subscription a delivery belongs to,
// typically through the Redis cache.
type SubscriptionResolver interface {
	Get(ctx context.Context, id uuid.UUID) (*model.Subscription, error)
}

// Scheduler re-enqueues dispatch tasks. Retries always go back through the
// queue rather than recursing into Dispatch, so the call stack stays flat
// and the queue's at-least-once contract covers retries too.
type Scheduler interface {
	Enqueue(ctx context.Context, task queue.Task, delay time.Duration) error
}

// Status classifies the result of one dispatch invocation.
type Status string

const (
	// StatusSuccess: the endpoint acknowledged the payload with a 2xx.
	StatusSuccess Status = "success"

	// StatusSkipped: nothing was sent and no attempt was recorded — the
	// delivery was already terminal, a duplicate task was detected, or the
	// subscription is inactive.
	StatusSkipped Status = "skipped"

	// StatusError: the cycle ran but did not deliver — endpoint failure,
	// missing delivery, or missing subscription.
	StatusError Status = "error"
)

// Result describes one dispatch invocation for the caller and the logs.
type Result struct {
	Status     Status `json:"status"`
	StatusCode int    `json:"status_code,omitempty"`
	Message    string `json:"message,omitempty"`
}

// Config carries the dispatcher's tunables.
type Config struct {
	MaxRetries      int
	Timeout         time.Duration
	SignatureHeader string
	Backoff         backoff.Policy
}

// Dispatcher executes delivery cycles. It is safe for concurrent use; all
// per-delivery serialization happens through the store's claim.
type Dispatcher struct {
	deliveries    DeliveryStore
	subscriptions SubscriptionResolver
	scheduler     Scheduler
	client        *http.Client
	cfg           Config
	logger        *logging.Logger
	now           func() time.Time
}

// New builds a Dispatcher. The http.Client is created here with the
// configured timeout and shared across all cycles.
func New(deliveries DeliveryStore, subscriptions SubscriptionResolver, scheduler Scheduler, cfg Config, logger *logging.Logger) *Dispatcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.SignatureHeader == "" {
		cfg.SignatureHeader = "X-Quayhook-Signature"
	}
	return &Dispatcher{
		deliveries:    deliveries,
		subscriptions: subscriptions,
		scheduler:     scheduler,
		client:        &http.Client{Timeout: cfg.Timeout},
		cfg:           cfg,
		logger:        logger,
		now:           time.Now,
	}
}

// Dispatch runs one delivery cycle for the task. A non-nil error means the
// invocation itself could not run (persistence or queue unavailable) and the
// message queue should redeliver; every delivery-specific outcome, including
// endpoint failures, is folded into the Result instead.
func (d *Dispatcher) Dispatch(ctx context.Context, task queue.Task) (Result, error) {
	ctx, span := tracing.StartSpan(ctx, "dispatch.cycle",
		attribute.String("delivery_id", task.DeliveryID),
		attribute.Int("task_attempts", task.Attempts),
	)
	defer span.End()

	id, err := uuid.Parse(task.DeliveryID)
	if err != nil {
		// Malformed task: never retryable.
		return Result{Status: StatusError, Message: "invalid delivery id: " + task.DeliveryID}, nil
	}

	delivery, outcome, err := d.deliveries.Claim(ctx, id, task.Attempts)
	if err != nil {
		if errors.Is(err, store.ErrDeliveryNotFound) {
			metrics.RecordDispatch("error", 0)
			return Result{Status: StatusError, Message: "delivery not found"}, nil
		}
		tracing.SetSpanError(ctx, err)
		return Result{}, err
	}

	switch outcome {
	case store.ClaimTerminal:
		metrics.RecordDispatch("skipped", 0)
		return Result{Status: StatusSkipped, Message: "delivery already " + string(delivery.Status)}, nil
	case store.ClaimSuperseded:
		tracing.AddSpanEvent(ctx, "dispatch.duplicate_task")
		metrics.RecordDispatch("skipped", 0)
		return Result{Status: StatusSkipped, Message: "duplicate task superseded by a concurrent cycle"}, nil
	}

	log := d.logger.WithContext(ctx).
		WithDelivery(delivery.ID.String()).
		WithSubscription(delivery.SubscriptionID.String()).
		WithAttempt(delivery.AttemptsCount)

	sub, err := d.subscriptions.Get(ctx, delivery.SubscriptionID)
	if err != nil {
		if errors.Is(err, store.ErrSubscriptionNotFound) {
			// Nothing to record an attempt against.
			log.Error("subscription missing for delivery")
			metrics.RecordDispatch("error", 0)
			return Result{Status: StatusError, Message: "subscription not found"}, nil
		}
		tracing.SetSpanError(ctx, err)
		return Result{}, err
	}

	// Active-state is re-checked on every cycle, so deactivating a
	// subscription suppresses retries that were already scheduled.
	if !sub.Active {
		log.Info("subscription inactive, skipping dispatch")
		metrics.RecordDispatch("skipped", 0)
		return Result{Status: StatusSkipped, Message: "subscription inactive"}, nil
	}

	statusCode, snippet, callErr := d.send(ctx, sub, delivery)

	if callErr == nil && statusCode >= 200 && statusCode < 300 {
		return d.finishDelivered(ctx, delivery, statusCode, snippet, log)
	}
	return d.finishFailed(ctx, task, delivery, statusCode, snippet, callErr, log)
}

// send performs the outbound HTTP call and returns the status code and a
// truncated response body. statusCode is 0 when the call itself failed.
func (d *Dispatcher) send(ctx context.Context, sub *model.Subscription, delivery *model.Delivery) (int, string, error) {
	body, err := signature.Canonicalize(delivery.Payload)
	if err != nil {
		return 0, "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.TargetURL, bytes.NewReader(body))
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if delivery.EventType != "" {
		req.Header.Set("X-Quayhook-Event", delivery.EventType)
	}
	// No secret, no signature header at all.
	if sub.Secret != "" {
		req.Header.Set(d.cfg.SignatureHeader, signature.SignBytes(body, sub.Secret))
	}
	if traceID := tracing.GetTraceID(ctx); traceID != "" {
		req.Header.Set("X-Trace-Id", traceID)
	}

	start := d.now()
	resp, err := d.client.Do(req)
	latency := time.Since(start)
	metrics.DeliveryLatency.Observe(latency.Seconds())
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, model.SnippetLimit+1))
	return resp.StatusCode, model.Truncate(string(raw)), nil
}

func (d *Dispatcher) finishDelivered(ctx context.Context, delivery *model.Delivery, statusCode int, snippet string, log *logging.LogEntry) (Result, error) {
	attempt := model.DeliveryAttempt{
		DeliveryID:    delivery.ID,
		AttemptNumber: delivery.AttemptsCount,
		Status:        model.AttemptSuccess,
		StatusCode:    &statusCode,
		Response:      snippet,
	}
	if err := d.deliveries.RecordOutcome(ctx, attempt, model.DeliveryDelivered); err != nil {
		tracing.SetSpanError(ctx, err)
		return Result{}, err
	}

	log.WithField("status_code", statusCode).Info("delivery succeeded")
	metrics.RecordDispatch("delivered", 0)
	return Result{Status: StatusSuccess, StatusCode: statusCode}, nil
}

func (d *Dispatcher) finishFailed(ctx context.Context, task queue.Task, delivery *model.Delivery, statusCode int, snippet string, callErr error, log *logging.LogEntry) (Result, error) {
	attempt := model.DeliveryAttempt{
		DeliveryID:    delivery.ID,
		AttemptNumber: delivery.AttemptsCount,
		Status:        model.AttemptFailed,
	}
	message := "http " + http.StatusText(statusCode)
	if statusCode > 0 {
		attempt.StatusCode = &statusCode
		attempt.Response = snippet
	}
	if callErr != nil {
		attempt.Error = model.Truncate(callErr.Error())
		message = attempt.Error
	}

	reason := classifyReason(callErr, statusCode)
	exhausted := delivery.AttemptsCount >= d.cfg.MaxRetries

	if !exhausted {
		delay := d.cfg.Backoff.Delay(delivery.AttemptsCount)
		nextRetry := d.now().Add(delay)
		attempt.NextRetryAt = &nextRetry

		// Enqueue before recording: if the write below fails and the queue
		// redelivers this task, the claim's attempts guard drops the
		// duplicate, while the scheduled retry carries the updated count.
		retry := queue.NewTask(delivery.ID.String(), delivery.AttemptsCount, task.TraceHeaders)
		if err := d.scheduler.Enqueue(ctx, retry, delay); err != nil {
			tracing.SetSpanError(ctx, err)
			return Result{}, err
		}

		if err := d.deliveries.RecordOutcome(ctx, attempt, model.DeliveryProcessing); err != nil {
			tracing.SetSpanError(ctx, err)
			return Result{}, err
		}

		log.WithFields(map[string]any{
			"status_code": statusCode,
			"reason":      reason,
			"retry_in":    delay.String(),
		}).Warn("delivery failed, retry scheduled")
		metrics.RecordRetry(reason)
		metrics.RecordDispatch("retried", 0)
		return Result{Status: StatusError, StatusCode: statusCode, Message: message}, nil
	}

	if err := d.deliveries.RecordOutcome(ctx, attempt, model.DeliveryFailed); err != nil {
		tracing.SetSpanError(ctx, err)
		return Result{}, err
	}

	log.WithFields(map[string]any{
		"status_code": statusCode,
		"reason":      reason,
	}).Error("delivery failed permanently, retry budget exhausted")
	metrics.RecordDispatch("failed", 0)
	return Result{Status: StatusError, StatusCode: statusCode, Message: "max retry attempts reached: " + message}, nil
}

// classifyReason buckets a failure for the retry metrics.
func classifyReason(callErr error, status int) string {
	if callErr != nil {
		errLower := strings.ToLower(callErr.Error())
		if strings.Contains(errLower, "timeout") || strings.Contains(errLower, "deadline exceeded") {
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
