package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

type fakePublisher struct {
	topic    string
	body     []byte
	delay    time.Duration
	deferred bool
}

func (f *fakePublisher) Publish(topic string, body []byte) error {
	f.topic = topic
	f.body = body
	f.deferred = false
	return nil
}

func (f *fakePublisher) DeferredPublish(topic string, delay time.Duration, body []byte) error {
	f.topic = topic
	f.body = body
	f.delay = delay
	f.deferred = true
	return nil
}

func TestEnqueueImmediate(t *testing.T) {
	pub := &fakePublisher{}
	s := &Scheduler{producer: pub, topic: "deliveries"}

	task := NewTask("d-123", 0, nil)
	if err := s.Enqueue(context.Background(), task, 0); err != nil {
		t.Fatalf("Enqueue() error: %v", err)
	}

	if pub.deferred {
		t.Error("zero delay should use Publish, not DeferredPublish")
	}
	if pub.topic != "deliveries" {
		t.Errorf("topic = %q, want deliveries", pub.topic)
	}

	var decoded Task
	if err := json.Unmarshal(pub.body, &decoded); err != nil {
		t.Fatalf("unmarshal published body: %v", err)
	}
	if decoded.DeliveryID != "d-123" {
		t.Errorf("DeliveryID = %q, want d-123", decoded.DeliveryID)
	}
	if decoded.Attempts != 0 {
		t.Errorf("Attempts = %d, want 0", decoded.Attempts)
	}
}

func TestEnqueueDeferred(t *testing.T) {
	pub := &fakePublisher{}
	s := &Scheduler{producer: pub, topic: "deliveries"}

	task := NewTask("d-456", 2, nil)
	if err := s.Enqueue(context.Background(), task, 30*time.Second); err != nil {
		t.Fatalf("Enqueue() error: %v", err)
	}

	if !pub.deferred {
		t.Error("positive delay should use DeferredPublish")
	}
	if pub.delay != 30*time.Second {
		t.Errorf("delay = %v, want 30s", pub.delay)
	}

	var decoded Task
	if err := json.Unmarshal(pub.body, &decoded); err != nil {
		t.Fatalf("unmarshal published body: %v", err)
	}
	if decoded.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", decoded.Attempts)
	}
}

func TestNewTaskTimestamp(t *testing.T) {
	task := NewTask("d-1", 1, map[string]string{"traceparent": "t"})

	if _, err := time.Parse(time.RFC3339Nano, task.EnqueuedAt); err != nil {
		t.Errorf("EnqueuedAt %q is not RFC3339: %v", task.EnqueuedAt, err)
	}
	if task.TraceHeaders["traceparent"] != "t" {
		t.Errorf("TraceHeaders not carried: %v", task.TraceHeaders)
	}
}
