package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quayhook/quayhook/internal/model"
)

// Subscriptions persists subscriber endpoint registrations.
type Subscriptions struct {
	pool *pgxpool.Pool
}

func NewSubscriptions(pool *pgxpool.Pool) *Subscriptions {
	return &Subscriptions{pool: pool}
}

const subscriptionColumns = `id, name, target_url, COALESCE(secret, ''), event_types, active, created_at, updated_at`

func scanSubscription(row pgx.Row) (*model.Subscription, error) {
	var s model.Subscription
	err := row.Scan(&s.ID, &s.Name, &s.TargetURL, &s.Secret, &s.EventTypes, &s.Active, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, err
	}
	return &s, nil
}

// Create inserts a new active subscription.
func (s *Subscriptions) Create(ctx context.Context, name, targetURL, secret string, eventTypes []string) (*model.Subscription, error) {
	if eventTypes == nil {
		eventTypes = []string{}
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO subscriptions (name, target_url, secret, event_types)
		VALUES ($1, $2, NULLIF($3, ''), $4)
		RETURNING `+subscriptionColumns,
		name, targetURL, secret, eventTypes,
	)
	sub, err := scanSubscription(row)
	if err != nil {
		return nil, fmt.Errorf("insert subscription: %w", err)
	}
	return sub, nil
}

// Get fetches one subscription by id.
func (s *Subscriptions) Get(ctx context.Context, id uuid.UUID) (*model.Subscription, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions WHERE id = $1`, id)
	return scanSubscription(row)
}

// List returns subscriptions ordered by creation time, newest first.
func (s *Subscriptions) List(ctx context.Context, limit, offset int) ([]*model.Subscription, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []*model.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// SubscriptionUpdate carries the mutable subscription fields; nil means
// "leave unchanged".
type SubscriptionUpdate struct {
	Name       *string
	TargetURL  *string
	Secret     *string
	EventTypes []string
	Active     *bool
}

// Update applies a partial update and returns the new row.
func (s *Subscriptions) Update(ctx context.Context, id uuid.UUID, upd SubscriptionUpdate) (*model.Subscription, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE subscriptions SET
			name        = COALESCE($2, name),
			target_url  = COALESCE($3, target_url),
			secret      = COALESCE(NULLIF($4, ''), secret),
			event_types = COALESCE($5, event_types),
			active      = COALESCE($6, active),
			updated_at  = now()
		WHERE id = $1
		RETURNING `+subscriptionColumns,
		id, upd.Name, upd.TargetURL, upd.Secret, upd.EventTypes, upd.Active,
	)
	return scanSubscription(row)
}

// Delete removes a subscription. Deliveries referencing it are kept for the
// retention window and fail subscription resolution from then on.
func (s *Subscriptions) Delete(ctx context.Context, id uuid.UUID) error {
	ct, err := s.pool.Exec(ctx, `DELETE FROM subscriptions WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}
