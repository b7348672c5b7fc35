// Package store holds the Postgres persistence layer. Deliveries own the
// row-lock claim used to serialize concurrent dispatch cycles; attempt rows
// are append-only and only ever written together with the delivery status
// they produced.
package store

import "errors"

var (
	// ErrSubscriptionNotFound is returned when a subscription id resolves to nothing.
	ErrSubscriptionNotFound = errors.New("subscription not found")

	// ErrDeliveryNotFound is returned when a delivery id resolves to nothing.
	ErrDeliveryNotFound = errors.New("delivery not found")
)
