package logging

import (
	"context"
	"encoding/json"
	"testing"
)

func TestWithContextBuildsEntry(t *testing.T) {
	logger := New("quayhook-test")
	entry := logger.WithContext(context.Background())

	if entry.Service != "quayhook-test" {
		t.Errorf("Service = %q, want %q", entry.Service, "quayhook-test")
	}
	if entry.Time.IsZero() {
		t.Error("Time should be set")
	}
	if entry.TraceID != "" {
		t.Errorf("TraceID = %q, want empty without a span", entry.TraceID)
	}
}

func TestFluentFields(t *testing.T) {
	entry := New("svc").Plain().
		WithDelivery("d-1").
		WithSubscription("s-1").
		WithAttempt(3).
		WithField("status_code", 500).
		WithFields(map[string]any{"reason": "http_5xx"})

	if entry.DeliveryID != "d-1" {
		t.Errorf("DeliveryID = %q, want d-1", entry.DeliveryID)
	}
	if entry.SubscriptionID != "s-1" {
		t.Errorf("SubscriptionID = %q, want s-1", entry.SubscriptionID)
	}
	if entry.Attempt != 3 {
		t.Errorf("Attempt = %d, want 3", entry.Attempt)
	}
	if entry.Fields["status_code"] != 500 {
		t.Errorf("Fields[status_code] = %v, want 500", entry.Fields["status_code"])
	}
	if entry.Fields["reason"] != "http_5xx" {
		t.Errorf("Fields[reason] = %v, want http_5xx", entry.Fields["reason"])
	}
}

func TestWithErrorNilIsNoop(t *testing.T) {
	entry := New("svc").Plain().WithError(nil)
	if _, ok := entry.Fields["error"]; ok {
		t.Error("WithError(nil) should not add an error field")
	}
}

func TestEntrySerializesToJSON(t *testing.T) {
	entry := New("svc").Plain().WithDelivery("d-9").WithField("k", "v")
	entry.Level = LevelInfo
	entry.Message = "dispatched"

	data, err := json.Marshal(entry)
	if err != nil {
		t.Fatalf("marshal entry: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal entry: %v", err)
	}
	if decoded["delivery_id"] != "d-9" {
		t.Errorf("delivery_id = %v, want d-9", decoded["delivery_id"])
	}
	if decoded["msg"] != "dispatched" {
		t.Errorf("msg = %v, want dispatched", decoded["msg"])
	}
	if decoded["level"] != "info" {
		t.Errorf("level = %v, want info", decoded["level"])
	}
}
