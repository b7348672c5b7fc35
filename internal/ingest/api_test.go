package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/quayhook/quayhook/internal/logging"
	"github.com/quayhook/quayhook/internal/model"
	"github.com/quayhook/quayhook/internal/queue"
	"github.com/quayhook/quayhook/internal/store"
)

type fakeSubs struct {
	subs map[uuid.UUID]*model.Subscription
}

func (f *fakeSubs) Create(_ context.Context, name, targetURL, secret string, eventTypes []string) (*model.Subscription, error) {
	sub := &model.Subscription{
		ID:         uuid.New(),
		Name:       name,
		TargetURL:  targetURL,
		Secret:     secret,
		EventTypes: eventTypes,
		Active:     true,
		CreatedAt:  time.Now().UTC(),
	}
	f.subs[sub.ID] = sub
	return sub, nil
}

func (f *fakeSubs) Get(_ context.Context, id uuid.UUID) (*model.Subscription, error) {
	sub, ok := f.subs[id]
	if !ok {
		return nil, store.ErrSubscriptionNotFound
	}
	return sub, nil
}

func (f *fakeSubs) List(_ context.Context, limit, offset int) ([]*model.Subscription, error) {
	var out []*model.Subscription
	for _, sub := range f.subs {
		out = append(out, sub)
	}
	return out, nil
}

func (f *fakeSubs) Update(_ context.Context, id uuid.UUID, upd store.SubscriptionUpdate) (*model.Subscription, error) {
	sub, ok := f.subs[id]
	if !ok {
		return nil, store.ErrSubscriptionNotFound
	}
	if upd.Name != nil {
		sub.Name = *upd.Name
	}
	if upd.TargetURL != nil {
		sub.TargetURL = *upd.TargetURL
	}
	if upd.Active != nil {
		sub.Active = *upd.Active
	}
	return sub, nil
}

func (f *fakeSubs) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := f.subs[id]; !ok {
		return store.ErrSubscriptionNotFound
	}
	delete(f.subs, id)
	return nil
}

type fakeDeliveryStore struct {
	deliveries map[uuid.UUID]*model.Delivery
}

func (f *fakeDeliveryStore) Create(_ context.Context, subscriptionID uuid.UUID, payload map[string]any, eventType string, expiresAt time.Time) (*model.Delivery, error) {
	d := &model.Delivery{
		ID:             uuid.New(),
		SubscriptionID: subscriptionID,
		Payload:        payload,
		EventType:      eventType,
		Status:         model.DeliveryPending,
		CreatedAt:      time.Now().UTC(),
		ExpiresAt:      expiresAt,
	}
	f.deliveries[d.ID] = d
	return d, nil
}

func (f *fakeDeliveryStore) Get(_ context.Context, id uuid.UUID) (*model.Delivery, error) {
	d, ok := f.deliveries[id]
	if !ok {
		return nil, store.ErrDeliveryNotFound
	}
	return d, nil
}

func (f *fakeDeliveryStore) ListBySubscription(_ context.Context, subscriptionID uuid.UUID, limit int) ([]*model.Delivery, error) {
	var out []*model.Delivery
	for _, d := range f.deliveries {
		if d.SubscriptionID == subscriptionID {
			out = append(out, d)
		}
	}
	return out, nil
}

type fakeAttemptStore struct {
	attempts []*model.DeliveryAttempt
}

func (f *fakeAttemptStore) List(_ context.Context, deliveryID uuid.UUID) ([]*model.DeliveryAttempt, error) {
	var out []*model.DeliveryAttempt
	for _, a := range f.attempts {
		if a.DeliveryID == deliveryID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeAttemptStore) ListRecentBySubscription(_ context.Context, _ uuid.UUID, _ int) ([]*model.DeliveryAttempt, error) {
	return f.attempts, nil
}

type fakeInvalidator struct {
	invalidated []uuid.UUID
}

func (f *fakeInvalidator) Invalidate(_ context.Context, id uuid.UUID) error {
	f.invalidated = append(f.invalidated, id)
	return nil
}

type fakeTaskScheduler struct {
	tasks  []queue.Task
	delays []time.Duration
}

func (f *fakeTaskScheduler) Enqueue(_ context.Context, task queue.Task, delay time.Duration) error {
	f.tasks = append(f.tasks, task)
	f.delays = append(f.delays, delay)
	return nil
}

type apiFixture struct {
	subs       *fakeSubs
	deliveries *fakeDeliveryStore
	attempts   *fakeAttemptStore
	cache      *fakeInvalidator
	scheduler  *fakeTaskScheduler
	handler    http.Handler
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	fx := &apiFixture{
		subs:       &fakeSubs{subs: make(map[uuid.UUID]*model.Subscription)},
		deliveries: &fakeDeliveryStore{deliveries: make(map[uuid.UUID]*model.Delivery)},
		attempts:   &fakeAttemptStore{},
		cache:      &fakeInvalidator{},
		scheduler:  &fakeTaskScheduler{},
	}
	api := NewAPI(fx.subs, fx.deliveries, fx.attempts, fx.cache, fx.scheduler, 72*time.Hour, logging.New("api-test"))
	mux := http.NewServeMux()
	api.Register(mux)
	fx.handler = mux
	return fx
}

func (fx *apiFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	fx.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestPing(t *testing.T) {
	fx := newAPIFixture(t)
	rec := fx.do(t, http.MethodGet, "/v1/ping", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := decode[map[string]string](t, rec); got["message"] != "pong" {
		t.Errorf("body = %v", got)
	}
}

func TestCreateSubscription(t *testing.T) {
	fx := newAPIFixture(t)

	t.Run("missing fields", func(t *testing.T) {
		rec := fx.do(t, http.MethodPost, "/v1/subscriptions", map[string]string{"name": "orders"})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d", rec.Code)
		}
	})

	t.Run("bad url", func(t *testing.T) {
		rec := fx.do(t, http.MethodPost, "/v1/subscriptions", createSubscriptionRequest{Name: "orders", TargetURL: "nope"})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d", rec.Code)
		}
	})

	t.Run("generates secret", func(t *testing.T) {
		rec := fx.do(t, http.MethodPost, "/v1/subscriptions", createSubscriptionRequest{
			Name:       "orders",
			TargetURL:  "https://example.com/hook",
			EventTypes: []string{"order.created"},
		})
		if rec.Code != http.StatusCreated {
			t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
		}
		got := decode[subscriptionResponse](t, rec)
		if got.Secret == "" {
			t.Error("created subscription has no secret")
		}
		if !got.Active {
			t.Error("new subscription not active")
		}
	})

	t.Run("secret hidden on reads", func(t *testing.T) {
		sub, _ := fx.subs.Create(context.Background(), "billing", "https://example.com/b", "s3cret", nil)
		rec := fx.do(t, http.MethodGet, "/v1/subscriptions/"+sub.ID.String(), nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		if got := decode[subscriptionResponse](t, rec); got.Secret != "" {
			t.Error("read leaked the secret")
		}
	})
}

func TestSubscriptionLifecycle(t *testing.T) {
	fx := newAPIFixture(t)
	sub, _ := fx.subs.Create(context.Background(), "orders", "https://example.com/hook", "s", nil)

	rec := fx.do(t, http.MethodPatch, "/v1/subscriptions/"+sub.ID.String(), map[string]any{"active": false})
	if rec.Code != http.StatusOK {
		t.Fatalf("patch status = %d", rec.Code)
	}
	if got := decode[subscriptionResponse](t, rec); got.Active {
		t.Error("patch did not deactivate")
	}
	if len(fx.cache.invalidated) != 1 || fx.cache.invalidated[0] != sub.ID {
		t.Errorf("update did not invalidate cache: %v", fx.cache.invalidated)
	}

	rec = fx.do(t, http.MethodDelete, "/v1/subscriptions/"+sub.ID.String(), nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rec.Code)
	}
	if len(fx.cache.invalidated) != 2 {
		t.Errorf("delete did not invalidate cache")
	}

	rec = fx.do(t, http.MethodGet, "/v1/subscriptions/"+sub.ID.String(), nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("get after delete status = %d", rec.Code)
	}
}

func TestIngest(t *testing.T) {
	payload := map[string]any{"event_type": "order.created", "order_id": "A-17"}

	t.Run("unknown subscription", func(t *testing.T) {
		fx := newAPIFixture(t)
		rec := fx.do(t, http.MethodPost, "/v1/ingest/"+uuid.NewString(), payload)
		if rec.Code != http.StatusNotFound {
			t.Errorf("status = %d", rec.Code)
		}
	})

	t.Run("inactive subscription", func(t *testing.T) {
		fx := newAPIFixture(t)
		sub, _ := fx.subs.Create(context.Background(), "orders", "https://example.com/h", "s", nil)
		sub.Active = false
		rec := fx.do(t, http.MethodPost, "/v1/ingest/"+sub.ID.String(), payload)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d", rec.Code)
		}
	})

	t.Run("non-object payload", func(t *testing.T) {
		fx := newAPIFixture(t)
		sub, _ := fx.subs.Create(context.Background(), "orders", "https://example.com/h", "s", nil)
		req := httptest.NewRequest(http.MethodPost, "/v1/ingest/"+sub.ID.String(), bytes.NewBufferString(`[1,2]`))
		rec := httptest.NewRecorder()
		fx.handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d", rec.Code)
		}
	})

	t.Run("event type filter", func(t *testing.T) {
		fx := newAPIFixture(t)
		sub, _ := fx.subs.Create(context.Background(), "orders", "https://example.com/h", "s", []string{"invoice.paid"})
		rec := fx.do(t, http.MethodPost, "/v1/ingest/"+sub.ID.String(), payload)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d", rec.Code)
		}
	})

	t.Run("accepted", func(t *testing.T) {
		fx := newAPIFixture(t)
		sub, _ := fx.subs.Create(context.Background(), "orders", "https://example.com/h", "s", []string{"order.created"})
		rec := fx.do(t, http.MethodPost, "/v1/ingest/"+sub.ID.String(), payload)
		if rec.Code != http.StatusAccepted {
			t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
		}
		got := decode[ingestResponse](t, rec)
		if got.Status != string(model.DeliveryPending) {
			t.Errorf("status = %s, want PENDING", got.Status)
		}

		if len(fx.scheduler.tasks) != 1 {
			t.Fatalf("enqueued tasks = %d, want 1", len(fx.scheduler.tasks))
		}
		task := fx.scheduler.tasks[0]
		if task.DeliveryID != got.DeliveryID.String() {
			t.Errorf("task delivery = %s, want %s", task.DeliveryID, got.DeliveryID)
		}
		if task.Attempts != 0 {
			t.Errorf("task attempts = %d, want 0", task.Attempts)
		}
		if fx.scheduler.delays[0] != 0 {
			t.Errorf("first dispatch delayed by %s", fx.scheduler.delays[0])
		}

		d := fx.deliveries.deliveries[got.DeliveryID]
		if d.EventType != "order.created" {
			t.Errorf("event_type = %q", d.EventType)
		}
		if until := time.Until(d.ExpiresAt); until < 71*time.Hour || until > 73*time.Hour {
			t.Errorf("expires_at %s not ~72h out", d.ExpiresAt)
		}
	})
}

func TestGetDeliveryWithAttempts(t *testing.T) {
	fx := newAPIFixture(t)
	sub, _ := fx.subs.Create(context.Background(), "orders", "https://example.com/h", "s", nil)
	d, _ := fx.deliveries.Create(context.Background(), sub.ID, map[string]any{"k": "v"}, "order.created", time.Now().Add(time.Hour))

	code := 500
	fx.attempts.attempts = []*model.DeliveryAttempt{
		{DeliveryID: d.ID, AttemptNumber: 1, Status: model.AttemptFailed, StatusCode: &code},
	}

	rec := fx.do(t, http.MethodGet, "/v1/deliveries/"+d.ID.String(), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	got := decode[deliveryResponse](t, rec)
	if got.ID != d.ID || len(got.Attempts) != 1 {
		t.Fatalf("response = %+v", got)
	}
	if got.Attempts[0].StatusCode == nil || *got.Attempts[0].StatusCode != 500 {
		t.Errorf("attempt = %+v", got.Attempts[0])
	}

	rec = fx.do(t, http.MethodGet, "/v1/deliveries/"+uuid.NewString(), nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing delivery status = %d", rec.Code)
	}
}

func TestListDeliveriesRequiresSubscription(t *testing.T) {
	fx := newAPIFixture(t)
	rec := fx.do(t, http.MethodGet, "/v1/subscriptions/"+uuid.NewString()+"/deliveries", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d", rec.Code)
	}

	sub, _ := fx.subs.Create(context.Background(), "orders", "https://example.com/h", "s", nil)
	fx.deliveries.Create(context.Background(), sub.ID, map[string]any{}, "", time.Now().Add(time.Hour))
	rec = fx.do(t, http.MethodGet, "/v1/subscriptions/"+sub.ID.String()+"/deliveries", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	got := decode[map[string][]deliveryResponse](t, rec)
	if len(got["deliveries"]) != 1 {
		t.Errorf("deliveries = %v", got)
	}
}

func TestQueryInt(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/v1/subscriptions?limit=5&offset=bad", nil)
	if got := queryInt(req, "limit", 50); got != 5 {
		t.Errorf("limit = %d", got)
	}
	if got := queryInt(req, "offset", 0); got != 0 {
		t.Errorf("offset = %d", got)
	}
	if got := queryInt(req, "missing", 7); got != 7 {
		t.Errorf("missing = %d", got)
	}
}
