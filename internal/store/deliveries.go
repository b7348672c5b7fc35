package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quayhook/quayhook/internal/model"
)

// Deliveries persists delivery rows and owns the claim protocol that
// serializes concurrent dispatch cycles for the same delivery.
type Deliveries struct {
	pool *pgxpool.Pool
}

func NewDeliveries(pool *pgxpool.Pool) *Deliveries {
	return &Deliveries{pool: pool}
}

// ClaimOutcome describes what happened when a dispatch cycle tried to claim
// a delivery.
type ClaimOutcome int

const (
	// ClaimAcquired: the row is locked to this cycle and attempts_count was
	// incremented.
	ClaimAcquired ClaimOutcome = iota

	// ClaimTerminal: the delivery already reached DELIVERED or FAILED.
	ClaimTerminal

	// ClaimSuperseded: attempts_count no longer matches what the task was
	// enqueued with, meaning a concurrent redelivery of the same task
	// already ran this cycle.
	ClaimSuperseded
)

const deliveryColumns = `id, subscription_id, payload, COALESCE(event_type, ''), status, attempts_count, created_at, expires_at`

func scanDelivery(row pgx.Row) (*model.Delivery, error) {
	var d model.Delivery
	err := row.Scan(&d.ID, &d.SubscriptionID, &d.Payload, &d.EventType, &d.Status, &d.AttemptsCount, &d.CreatedAt, &d.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDeliveryNotFound
		}
		return nil, err
	}
	return &d, nil
}

// Create inserts a PENDING delivery for the subscription.
func (s *Deliveries) Create(ctx context.Context, subscriptionID uuid.UUID, payload map[string]any, eventType string, expiresAt time.Time) (*model.Delivery, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO deliveries (subscription_id, payload, event_type, status, expires_at)
		VALUES ($1, $2, NULLIF($3, ''), 'PENDING', $4)
		RETURNING `+deliveryColumns,
		subscriptionID, payload, eventType, expiresAt,
	)
	d, err := scanDelivery(row)
	if err != nil {
		return nil, fmt.Errorf("insert delivery: %w", err)
	}
	return d, nil
}

// Get fetches one delivery by id.
func (s *Deliveries) Get(ctx context.Context, id uuid.UUID) (*model.Delivery, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+deliveryColumns+`
		FROM deliveries WHERE id = $1`, id)
	return scanDelivery(row)
}

// ListBySubscription returns a subscription's deliveries, newest first.
func (s *Deliveries) ListBySubscription(ctx context.Context, subscriptionID uuid.UUID, limit int) ([]*model.Delivery, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+deliveryColumns+`
		FROM deliveries
		WHERE subscription_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, subscriptionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Delivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Claim locks the delivery row, re-reads its state under the lock, and if
// the cycle may proceed increments attempts_count and moves the status to
// PROCESSING — all committed before any network call is made, so a crash
// mid-call still accounts for the attempt.
//
// expectedAttempts is the attempts_count the task was enqueued with; a
// mismatch means a duplicate redelivery already ran and the cycle must
// short-circuit. Pass a negative value to skip the guard.
func (s *Deliveries) Claim(ctx context.Context, id uuid.UUID, expectedAttempts int) (*model.Delivery, ClaimOutcome, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("begin claim: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		SELECT `+deliveryColumns+`
		FROM deliveries WHERE id = $1
		FOR UPDATE`, id)
	d, err := scanDelivery(row)
	if err != nil {
		return nil, 0, err
	}

	if d.Status.Terminal() {
		return d, ClaimTerminal, nil
	}
	if expectedAttempts >= 0 && d.AttemptsCount != expectedAttempts {
		return d, ClaimSuperseded, nil
	}

	if _, err := tx.Exec(ctx, `
		UPDATE deliveries
		SET status = 'PROCESSING', attempts_count = attempts_count + 1
		WHERE id = $1`, id); err != nil {
		return nil, 0, fmt.Errorf("claim delivery: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, 0, fmt.Errorf("commit claim: %w", err)
	}

	d.Status = model.DeliveryProcessing
	d.AttemptsCount++
	return d, ClaimAcquired, nil
}

// RecordOutcome appends the cycle's attempt row and applies the resulting
// delivery status in one transaction, keeping ledger and state consistent.
func (s *Deliveries) RecordOutcome(ctx context.Context, attempt model.DeliveryAttempt, status model.DeliveryStatus) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin outcome: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO delivery_attempts (delivery_id, attempt_number, status, status_code, response, error, next_retry_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), $7)`,
		attempt.DeliveryID, attempt.AttemptNumber, attempt.Status,
		attempt.StatusCode, attempt.Response, attempt.Error, attempt.NextRetryAt,
	); err != nil {
		return fmt.Errorf("insert attempt: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE deliveries SET status = $2 WHERE id = $1`,
		attempt.DeliveryID, status,
	); err != nil {
		return fmt.Errorf("update delivery status: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit outcome: %w", err)
	}
	return nil
}

// DeleteExpired purges deliveries past their expiration along with their
// attempt rows (ON DELETE CASCADE). Used by the retention sweep only.
func (s *Deliveries) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	ct, err := s.pool.Exec(ctx, `DELETE FROM deliveries WHERE expires_at < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired deliveries: %w", err)
	}
	return ct.RowsAffected(), nil
}
