package queue

import "time"

// Task is the dispatch job carried on the deliveries topic. The queue gives
// at-least-once semantics, so the task also carries the attempts_count the
// delivery had when the task was enqueued: a worker that claims the row and
// finds a different count knows a duplicate already ran this cycle.
type Task struct {
	DeliveryID   string            `json:"delivery_id"`
	Attempts     int               `json:"attempts"`
	EnqueuedAt   string            `json:"enqueued_at"` // RFC3339
	TraceHeaders map[string]string `json:"trace_headers,omitempty"`
}

// NewTask builds a task for a delivery at its current attempts_count.
func NewTask(deliveryID string, attempts int, traceHeaders map[string]string) Task {
	return Task{
		DeliveryID:   deliveryID,
		Attempts:     attempts,
		EnqueuedAt:   time.Now().UTC().Format(time.RFC3339Nano),
		TraceHeaders: traceHeaders,
	}
}
