package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schema is applied at startup. Statements are idempotent so every service
// instance can run them unconditionally.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS subscriptions (
		id            UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		name          TEXT NOT NULL,
		target_url    TEXT NOT NULL,
		secret        TEXT,
		event_types   JSONB NOT NULL DEFAULT '[]'::jsonb,
		active        BOOLEAN NOT NULL DEFAULT TRUE,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at    TIMESTAMPTZ
	)`,
	// No FK on subscription_id: deliveries outlive a deleted subscription
	// until the retention sweep collects them.
	`CREATE TABLE IF NOT EXISTS deliveries (
		id              UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		subscription_id UUID NOT NULL,
		payload         JSONB NOT NULL,
		event_type      TEXT,
		status          TEXT NOT NULL DEFAULT 'PENDING',
		attempts_count  INT NOT NULL DEFAULT 0,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
		expires_at      TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_deliveries_subscription
		ON deliveries (subscription_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_deliveries_expires
		ON deliveries (expires_at)`,
	`CREATE TABLE IF NOT EXISTS delivery_attempts (
		id             UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		delivery_id    UUID NOT NULL REFERENCES deliveries(id) ON DELETE CASCADE,
		attempt_number INT NOT NULL,
		ts             TIMESTAMPTZ NOT NULL DEFAULT now(),
		status         TEXT NOT NULL,
		status_code    INT,
		response       TEXT,
		error          TEXT,
		next_retry_at  TIMESTAMPTZ,
		UNIQUE (delivery_id, attempt_number)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_attempts_delivery
		ON delivery_attempts (delivery_id, attempt_number)`,
}

// Migrate creates the quayhook tables if they do not exist yet.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
