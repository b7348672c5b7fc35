package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quayhook/quayhook/internal/model"
)

// Attempts is the read side of the attempt ledger. Rows are written only by
// Deliveries.RecordOutcome and deleted only by the retention sweep; nothing
// here mutates.
type Attempts struct {
	pool *pgxpool.Pool
}

func NewAttempts(pool *pgxpool.Pool) *Attempts {
	return &Attempts{pool: pool}
}

const attemptColumns = `id, delivery_id, attempt_number, ts, status, status_code, COALESCE(response, ''), COALESCE(error, ''), next_retry_at`

func scanAttempt(row pgx.Row) (*model.DeliveryAttempt, error) {
	var a model.DeliveryAttempt
	err := row.Scan(&a.ID, &a.DeliveryID, &a.AttemptNumber, &a.Timestamp, &a.Status, &a.StatusCode, &a.Response, &a.Error, &a.NextRetryAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// List returns all attempts for a delivery ordered by attempt_number ascending.
func (s *Attempts) List(ctx context.Context, deliveryID uuid.UUID) ([]*model.DeliveryAttempt, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+attemptColumns+`
		FROM delivery_attempts
		WHERE delivery_id = $1
		ORDER BY attempt_number ASC`, deliveryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.DeliveryAttempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Latest returns the most recent attempt for a delivery, or nil when none
// exist yet.
func (s *Attempts) Latest(ctx context.Context, deliveryID uuid.UUID) (*model.DeliveryAttempt, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+attemptColumns+`
		FROM delivery_attempts
		WHERE delivery_id = $1
		ORDER BY attempt_number DESC
		LIMIT 1`, deliveryID)
	a, err := scanAttempt(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return a, nil
}

// ListRecentBySubscription returns the newest attempts across all of a
// subscription's deliveries, for the analytics read API.
func (s *Attempts) ListRecentBySubscription(ctx context.Context, subscriptionID uuid.UUID, limit int) ([]*model.DeliveryAttempt, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, `
		SELECT a.id, a.delivery_id, a.attempt_number, a.ts, a.status, a.status_code,
		       COALESCE(a.response, ''), COALESCE(a.error, ''), a.next_retry_at
		FROM delivery_attempts a
		JOIN deliveries d ON d.id = a.delivery_id
		WHERE d.subscription_id = $1
		ORDER BY a.ts DESC
		LIMIT $2`, subscriptionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.DeliveryAttempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
