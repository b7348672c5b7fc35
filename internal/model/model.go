package model

import (
	"time"

	"github.com/google/uuid"
)

// DeliveryStatus is the lifecycle status of a delivery.
type DeliveryStatus string

const (
	DeliveryPending    DeliveryStatus = "PENDING"
	DeliveryProcessing DeliveryStatus = "PROCESSING"
	DeliveryDelivered  DeliveryStatus = "DELIVERED"
	DeliveryFailed     DeliveryStatus = "FAILED"
)

// AttemptStatus is the outcome of a single delivery attempt.
type AttemptStatus string

const (
	AttemptSuccess AttemptStatus = "SUCCESS"
	AttemptFailed  AttemptStatus = "FAILED"
)

// Terminal reports whether no further status changes are allowed.
func (s DeliveryStatus) Terminal() bool {
	return s == DeliveryDelivered || s == DeliveryFailed
}

// CanTransition reports whether moving from s to next is a legal lifecycle
// transition. PROCESSING may re-enter itself: a failed attempt with retry
// budget left keeps the delivery in flight rather than reverting to PENDING.
func (s DeliveryStatus) CanTransition(next DeliveryStatus) bool {
	switch s {
	case DeliveryPending:
		return next == DeliveryProcessing
	case DeliveryProcessing:
		return next == DeliveryProcessing || next == DeliveryDelivered || next == DeliveryFailed
	default:
		return false
	}
}

// Subscription is a subscriber-owned endpoint registration. The dispatch
// path treats it as read-only; mutations go through the API, which
// invalidates the cache.
type Subscription struct {
	ID         uuid.UUID      `json:"id"`
	Name       string         `json:"name"`
	TargetURL  string         `json:"target_url"`
	Secret     string         `json:"secret,omitempty"`
	EventTypes []string       `json:"event_types,omitempty"`
	Active     bool           `json:"active"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  *time.Time     `json:"updated_at,omitempty"`
}

// AcceptsEventType reports whether the subscription wants events of the
// given type. An empty filter accepts everything.
func (s *Subscription) AcceptsEventType(eventType string) bool {
	if len(s.EventTypes) == 0 || eventType == "" {
		return true
	}
	for _, t := range s.EventTypes {
		if t == eventType {
			return true
		}
	}
	return false
}

// Delivery is one queued instance of an event payload destined for one
// subscription.
type Delivery struct {
	ID             uuid.UUID      `json:"id"`
	SubscriptionID uuid.UUID      `json:"subscription_id"`
	Payload        map[string]any `json:"payload"`
	EventType      string         `json:"event_type,omitempty"`
	Status         DeliveryStatus `json:"status"`
	AttemptsCount  int            `json:"attempts_count"`
	CreatedAt      time.Time      `json:"created_at"`
	ExpiresAt      time.Time      `json:"expires_at"`
}

// DeliveryAttempt is the permanent record of one concrete network try.
// Rows are append-only and ordered by AttemptNumber.
type DeliveryAttempt struct {
	ID            uuid.UUID     `json:"id"`
	DeliveryID    uuid.UUID     `json:"delivery_id"`
	AttemptNumber int           `json:"attempt_number"`
	Timestamp     time.Time     `json:"timestamp"`
	Status        AttemptStatus `json:"status"`
	StatusCode    *int          `json:"status_code,omitempty"`
	Response      string        `json:"response,omitempty"`
	Error         string        `json:"error,omitempty"`
	NextRetryAt   *time.Time    `json:"next_retry_at,omitempty"`
}

// SnippetLimit bounds how much of a response body or error message is kept
// on an attempt record.
const SnippetLimit = 1000

// Truncate clips s to at most SnippetLimit characters.
func Truncate(s string) string {
	if len(s) <= SnippetLimit {
		return s
	}
	return s[:SnippetLimit]
}
