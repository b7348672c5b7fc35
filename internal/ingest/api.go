// Package ingest is the management and ingestion API: subscription CRUD,
// event ingestion, and delivery inspection.
package ingest

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"

	"go.opentelemetry.io/otel/attribute"

	"github.com/quayhook/quayhook/internal/logging"
	"github.com/quayhook/quayhook/internal/metrics"
	"github.com/quayhook/quayhook/internal/model"
	"github.com/quayhook/quayhook/internal/queue"
	"github.com/quayhook/quayhook/internal/store"
	"github.com/quayhook/quayhook/internal/tracing"
)

const defaultPageLimit = 50

// SubscriptionStore is the subscription persistence the API needs.
type SubscriptionStore interface {
	Create(ctx context.Context, name, targetURL, secret string, eventTypes []string) (*model.Subscription, error)
	Get(ctx context.Context, id uuid.UUID) (*model.Subscription, error)
	List(ctx context.Context, limit, offset int) ([]*model.Subscription, error)
	Update(ctx context.Context, id uuid.UUID, upd store.SubscriptionUpdate) (*model.Subscription, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// DeliveryStore is the delivery persistence the API needs.
type DeliveryStore interface {
	Create(ctx context.Context, subscriptionID uuid.UUID, payload map[string]any, eventType string, expiresAt time.Time) (*model.Delivery, error)
	Get(ctx context.Context, id uuid.UUID) (*model.Delivery, error)
	ListBySubscription(ctx context.Context, subscriptionID uuid.UUID, limit int) ([]*model.Delivery, error)
}

// AttemptStore reads the attempt ledger.
type AttemptStore interface {
	List(ctx context.Context, deliveryID uuid.UUID) ([]*model.DeliveryAttempt, error)
	ListRecentBySubscription(ctx context.Context, subscriptionID uuid.UUID, limit int) ([]*model.DeliveryAttempt, error)
}

// Invalidator drops a cached subscription after a mutation.
type Invalidator interface {
	Invalidate(ctx context.Context, id uuid.UUID) error
}

// Scheduler enqueues dispatch tasks for accepted deliveries.
type Scheduler interface {
	Enqueue(ctx context.Context, task queue.Task, delay time.Duration) error
}

// API holds the handlers for the quayhook HTTP surface.
type API struct {
	subscriptions SubscriptionStore
	deliveries    DeliveryStore
	attempts      AttemptStore
	cache         Invalidator
	scheduler     Scheduler
	retention     time.Duration
	logger        *logging.Logger
	now           func() time.Time
}

func NewAPI(subscriptions SubscriptionStore, deliveries DeliveryStore, attempts AttemptStore, cache Invalidator, scheduler Scheduler, retention time.Duration, logger *logging.Logger) *API {
	if retention <= 0 {
		retention = 72 * time.Hour
	}
	return &API{
		subscriptions: subscriptions,
		deliveries:    deliveries,
		attempts:      attempts,
		cache:         cache,
		scheduler:     scheduler,
		retention:     retention,
		logger:        logger,
		now:           time.Now,
	}
}

// Register mounts all routes on the mux.
func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/ping", a.handlePing)
	mux.HandleFunc("POST /v1/subscriptions", a.handleCreateSubscription)
	mux.HandleFunc("GET /v1/subscriptions", a.handleListSubscriptions)
	mux.HandleFunc("GET /v1/subscriptions/{id}", a.handleGetSubscription)
	mux.HandleFunc("PATCH /v1/subscriptions/{id}", a.handleUpdateSubscription)
	mux.HandleFunc("DELETE /v1/subscriptions/{id}", a.handleDeleteSubscription)
	mux.HandleFunc("GET /v1/subscriptions/{id}/deliveries", a.handleListDeliveries)
	mux.HandleFunc("GET /v1/subscriptions/{id}/attempts", a.handleListRecentAttempts)
	mux.HandleFunc("POST /v1/ingest/{id}", a.handleIngest)
	mux.HandleFunc("GET /v1/deliveries/{id}", a.handleGetDelivery)
}

func (a *API) handlePing(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "pong"})
}

type createSubscriptionRequest struct {
	Name       string   `json:"name"`
	TargetURL  string   `json:"target_url"`
	Secret     string   `json:"secret,omitempty"`
	EventTypes []string `json:"event_types,omitempty"`
}

type subscriptionResponse struct {
	ID         uuid.UUID  `json:"id"`
	Name       string     `json:"name"`
	TargetURL  string     `json:"target_url"`
	Secret     string     `json:"secret,omitempty"`
	EventTypes []string   `json:"event_types"`
	Active     bool       `json:"active"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  *time.Time `json:"updated_at,omitempty"`
}

func toSubscriptionResponse(sub *model.Subscription, includeSecret bool) subscriptionResponse {
	resp := subscriptionResponse{
		ID:         sub.ID,
		Name:       sub.Name,
		TargetURL:  sub.TargetURL,
		EventTypes: sub.EventTypes,
		Active:     sub.Active,
		CreatedAt:  sub.CreatedAt,
		UpdatedAt:  sub.UpdatedAt,
	}
	if resp.EventTypes == nil {
		resp.EventTypes = []string{}
	}
	// The secret is only echoed back on creation.
	if includeSecret {
		resp.Secret = sub.Secret
	}
	return resp
}

func (a *API) handleCreateSubscription(w http.ResponseWriter, r *http.Request) {
	var req createSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Name == "" || req.TargetURL == "" {
		writeError(w, http.StatusBadRequest, "name and target_url are required")
		return
	}
	if _, err := url.ParseRequestURI(req.TargetURL); err != nil {
		writeError(w, http.StatusBadRequest, "invalid target_url")
		return
	}

	secret := req.Secret
	if secret == "" {
		var err error
		secret, err = generateSecret(32) // 256-bit
		if err != nil {
			a.serverError(w, r, err)
			return
		}
	}

	sub, err := a.subscriptions.Create(r.Context(), req.Name, req.TargetURL, secret, req.EventTypes)
	if err != nil {
		a.serverError(w, r, err)
		return
	}

	a.logger.WithContext(r.Context()).WithSubscription(sub.ID.String()).Info("subscription created")
	writeJSON(w, http.StatusCreated, toSubscriptionResponse(sub, true))
}

func (a *API) handleListSubscriptions(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", defaultPageLimit)
	offset := queryInt(r, "offset", 0)

	subs, err := a.subscriptions.List(r.Context(), limit, offset)
	if err != nil {
		a.serverError(w, r, err)
		return
	}
	out := make([]subscriptionResponse, 0, len(subs))
	for _, sub := range subs {
		out = append(out, toSubscriptionResponse(sub, false))
	}
	writeJSON(w, http.StatusOK, map[string]any{"subscriptions": out})
}

func (a *API) handleGetSubscription(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r)
	if !ok {
		return
	}
	sub, err := a.subscriptions.Get(r.Context(), id)
	if err != nil {
		a.storeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSubscriptionResponse(sub, false))
}

type updateSubscriptionRequest struct {
	Name       *string  `json:"name,omitempty"`
	TargetURL  *string  `json:"target_url,omitempty"`
	Secret     *string  `json:"secret,omitempty"`
	EventTypes []string `json:"event_types,omitempty"`
	Active     *bool    `json:"active,omitempty"`
}

func (a *API) handleUpdateSubscription(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r)
	if !ok {
		return
	}
	var req updateSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.TargetURL != nil {
		if _, err := url.ParseRequestURI(*req.TargetURL); err != nil {
			writeError(w, http.StatusBadRequest, "invalid target_url")
			return
		}
	}

	sub, err := a.subscriptions.Update(r.Context(), id, store.SubscriptionUpdate{
		Name:       req.Name,
		TargetURL:  req.TargetURL,
		Secret:     req.Secret,
		EventTypes: req.EventTypes,
		Active:     req.Active,
	})
	if err != nil {
		a.storeError(w, r, err)
		return
	}
	a.invalidate(r.Context(), id)
	writeJSON(w, http.StatusOK, toSubscriptionResponse(sub, false))
}

func (a *API) handleDeleteSubscription(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r)
	if !ok {
		return
	}
	if err := a.subscriptions.Delete(r.Context(), id); err != nil {
		a.storeError(w, r, err)
		return
	}
	a.invalidate(r.Context(), id)
	a.logger.WithContext(r.Context()).WithSubscription(id.String()).Info("subscription deleted")
	w.WriteHeader(http.StatusNoContent)
}

type ingestResponse struct {
	DeliveryID uuid.UUID `json:"delivery_id"`
	Status     string    `json:"status"`
}

func (a *API) handleIngest(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.StartSpan(r.Context(), "ingest.accept")
	defer span.End()

	id, ok := pathUUID(w, r.WithContext(ctx))
	if !ok {
		return
	}
	span.SetAttributes(attribute.String("subscription_id", id.String()))

	var payload map[string]any
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload == nil {
		writeError(w, http.StatusBadRequest, "payload must be a JSON object")
		return
	}

	sub, err := a.subscriptions.Get(ctx, id)
	if err != nil {
		a.storeError(w, r.WithContext(ctx), err)
		return
	}
	if !sub.Active {
		writeError(w, http.StatusBadRequest, "subscription is inactive")
		return
	}

	eventType, _ := payload["event_type"].(string)
	if eventType != "" && !sub.AcceptsEventType(eventType) {
		writeError(w, http.StatusBadRequest, "subscription does not accept event type "+eventType)
		return
	}

	expiresAt := a.now().UTC().Add(a.retention)
	delivery, err := a.deliveries.Create(ctx, sub.ID, payload, eventType, expiresAt)
	if err != nil {
		a.serverError(w, r.WithContext(ctx), err)
		return
	}
	span.SetAttributes(attribute.String("delivery_id", delivery.ID.String()))

	task := queue.NewTask(delivery.ID.String(), delivery.AttemptsCount, tracing.InjectTask(ctx))
	if err := a.scheduler.Enqueue(ctx, task, 0); err != nil {
		// The delivery row exists but nothing will pick it up; surface the
		// failure so the producer can retry the whole request.
		a.serverError(w, r.WithContext(ctx), err)
		return
	}

	metrics.DeliveriesIngestedTotal.Inc()
	a.logger.WithContext(ctx).
		WithSubscription(sub.ID.String()).
		WithDelivery(delivery.ID.String()).
		WithField("event_type", eventType).
		Info("delivery accepted")
	writeJSON(w, http.StatusAccepted, ingestResponse{DeliveryID: delivery.ID, Status: string(delivery.Status)})
}

type deliveryResponse struct {
	ID             uuid.UUID         `json:"id"`
	SubscriptionID uuid.UUID         `json:"subscription_id"`
	Payload        map[string]any    `json:"payload"`
	EventType      string            `json:"event_type,omitempty"`
	Status         string            `json:"status"`
	AttemptsCount  int               `json:"attempts_count"`
	CreatedAt      time.Time         `json:"created_at"`
	ExpiresAt      time.Time         `json:"expires_at"`
	Attempts       []attemptResponse `json:"attempts,omitempty"`
}

type attemptResponse struct {
	AttemptNumber int        `json:"attempt_number"`
	Timestamp     time.Time  `json:"timestamp"`
	Status        string     `json:"status"`
	StatusCode    *int       `json:"status_code,omitempty"`
	Response      string     `json:"response,omitempty"`
	Error         string     `json:"error,omitempty"`
	NextRetryAt   *time.Time `json:"next_retry_at,omitempty"`
}

func toDeliveryResponse(d *model.Delivery, attempts []*model.DeliveryAttempt) deliveryResponse {
	resp := deliveryResponse{
		ID:             d.ID,
		SubscriptionID: d.SubscriptionID,
		Payload:        d.Payload,
		EventType:      d.EventType,
		Status:         string(d.Status),
		AttemptsCount:  d.AttemptsCount,
		CreatedAt:      d.CreatedAt,
		ExpiresAt:      d.ExpiresAt,
	}
	for _, a := range attempts {
		resp.Attempts = append(resp.Attempts, attemptResponse{
			AttemptNumber: a.AttemptNumber,
			Timestamp:     a.Timestamp,
			Status:        string(a.Status),
			StatusCode:    a.StatusCode,
			Response:      a.Response,
			Error:         a.Error,
			NextRetryAt:   a.NextRetryAt,
		})
	}
	return resp
}

func (a *API) handleGetDelivery(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r)
	if !ok {
		return
	}
	delivery, err := a.deliveries.Get(r.Context(), id)
	if err != nil {
		a.storeError(w, r, err)
		return
	}
	attempts, err := a.attempts.List(r.Context(), id)
	if err != nil {
		a.serverError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDeliveryResponse(delivery, attempts))
}

func (a *API) handleListDeliveries(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r)
	if !ok {
		return
	}
	limit := queryInt(r, "limit", defaultPageLimit)

	// 404 for a subscription that never existed beats an empty list.
	if _, err := a.subscriptions.Get(r.Context(), id); err != nil {
		a.storeError(w, r, err)
		return
	}

	deliveries, err := a.deliveries.ListBySubscription(r.Context(), id, limit)
	if err != nil {
		a.serverError(w, r, err)
		return
	}
	out := make([]deliveryResponse, 0, len(deliveries))
	for _, d := range deliveries {
		out = append(out, toDeliveryResponse(d, nil))
	}
	writeJSON(w, http.StatusOK, map[string]any{"deliveries": out})
}

func (a *API) handleListRecentAttempts(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r)
	if !ok {
		return
	}
	limit := queryInt(r, "limit", defaultPageLimit)

	if _, err := a.subscriptions.Get(r.Context(), id); err != nil {
		a.storeError(w, r, err)
		return
	}

	attempts, err := a.attempts.ListRecentBySubscription(r.Context(), id, limit)
	if err != nil {
		a.serverError(w, r, err)
		return
	}
	out := make([]attemptResponse, 0, len(attempts))
	for _, at := range attempts {
		out = append(out, attemptResponse{
			AttemptNumber: at.AttemptNumber,
			Timestamp:     at.Timestamp,
			Status:        string(at.Status),
			StatusCode:    at.StatusCode,
			Response:      at.Response,
			Error:         at.Error,
			NextRetryAt:   at.NextRetryAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"attempts": out})
}

// --- helpers ---

func (a *API) invalidate(ctx context.Context, id uuid.UUID) {
	if a.cache == nil {
		return
	}
	if err := a.cache.Invalidate(ctx, id); err != nil {
		a.logger.WithContext(ctx).WithSubscription(id.String()).WithError(err).Warn("cache invalidation failed")
	}
}

func (a *API) storeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, store.ErrSubscriptionNotFound):
		writeError(w, http.StatusNotFound, "subscription not found")
	case errors.Is(err, store.ErrDeliveryNotFound):
		writeError(w, http.StatusNotFound, "delivery not found")
	default:
		a.serverError(w, r, err)
	}
}

func (a *API) serverError(w http.ResponseWriter, r *http.Request, err error) {
	a.logger.WithContext(r.Context()).WithError(err).Error("request failed")
	writeError(w, http.StatusInternalServerError, "internal error")
}

func pathUUID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return uuid.Nil, false
	}
	return id, true
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// generateSecret returns a random base64-encoded string of n bytes.
func generateSecret(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
