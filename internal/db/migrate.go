package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

var statements = []string{
	`CREATE TABLE IF NOT EXISTS deals (
		id VARCHAR(6) PRIMARY KEY,
		creator_id BIGINT NOT NULL,
		creator_role VARCHAR(10) NOT NULL,
		buyer_id BIGINT NOT NULL,
		seller_id BIGINT NOT NULL,
		amount NUMERIC(12,2) NOT NULL,
		guarantor_fee NUMERIC(12,2) NOT NULL,
		total_amount NUMERIC(12,2) NOT NULL,
		description TEXT NOT NULL,
		deadline_days INT NOT NULL,
		group_link TEXT NOT NULL DEFAULT '',
		payment_url TEXT NOT NULL DEFAULT '',
		buyer_confirmed BOOLEAN NOT NULL DEFAULT FALSE,
		seller_confirmed BOOLEAN NOT NULL DEFAULT FALSE,
		dispute_opened BOOLEAN NOT NULL DEFAULT FALSE,
		status VARCHAR(20) NOT NULL DEFAULT 'created',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_deals_buyer ON deals (buyer_id)`,
	`CREATE INDEX IF NOT EXISTS idx_deals_seller ON deals (seller_id)`,
	`CREATE INDEX IF NOT EXISTS idx_deals_status ON deals (status)`,

	`CREATE TABLE IF NOT EXISTS users (
		user_id BIGINT PRIMARY KEY,
		username TEXT,
		balance NUMERIC(12,2) NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS reviews (
		id BIGSERIAL PRIMARY KEY,
		deal_id VARCHAR(6) NOT NULL REFERENCES deals (id),
		reviewer_id BIGINT NOT NULL,
		reviewed_user_id BIGINT NOT NULL,
		rating INT NOT NULL CHECK (rating BETWEEN 1 AND 5),
		review_text TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_reviews_reviewed_user ON reviews (reviewed_user_id)`,

	`CREATE TABLE IF NOT EXISTS withdrawals (
		id BIGSERIAL PRIMARY KEY,
		user_id BIGINT NOT NULL,
		amount NUMERIC(12,2) NOT NULL,
		status VARCHAR(20) NOT NULL DEFAULT 'pending',
		wallet TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		processed_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_withdrawals_user ON withdrawals (user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_withdrawals_status ON withdrawals (status)`,
}

// Migrate applies the schema. Every statement is idempotent, so running it on
// every deploy is safe.
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	slog.Info("schema migrated", "statements", len(statements))
	return nil
}
