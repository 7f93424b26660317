package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/honeynil/safedeal/internal/models"
	pkgerrors "github.com/honeynil/safedeal/pkg/errors"
)

type PostgresUserRepository struct {
	db *sql.DB
}

func NewPostgresUserRepository(db *sql.DB) *PostgresUserRepository {
	return &PostgresUserRepository{db: db}
}

func (r *PostgresUserRepository) Ensure(ctx context.Context, userID int64, username string) error {
	query := `INSERT INTO users (user_id, username, balance)
		VALUES ($1, NULLIF($2, ''), 0)
		ON CONFLICT (user_id) DO NOTHING`
	if _, err := r.db.ExecContext(ctx, query, userID, username); err != nil {
		slog.Error("failed to ensure user", "method", "Ensure", "user_id", userID, "error", err)
		return fmt.Errorf("failed to ensure user: %w", err)
	}
	return nil
}

func (r *PostgresUserRepository) GetByID(ctx context.Context, userID int64) (*models.User, error) {
	query := `SELECT user_id, COALESCE(username, ''), balance, created_at FROM users WHERE user_id = $1`
	var user models.User
	err := r.db.QueryRowContext(ctx, query, userID).Scan(
		&user.ID, &user.Username, &user.Balance, &user.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user by id: %w", err)
	}
	return &user, nil
}

// GetBalance returns 0 for users that have no record yet; the record itself is
// materialized lazily so the read has no observable side effect.
func (r *PostgresUserRepository) GetBalance(ctx context.Context, userID int64) (float64, error) {
	var balance float64
	query := `SELECT balance FROM users WHERE user_id = $1`
	err := r.db.QueryRowContext(ctx, query, userID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		if err := r.Ensure(ctx, userID, ""); err != nil {
			return 0, err
		}
		return 0, nil
	}
	if err != nil {
		slog.Error("failed to get balance", "method", "GetBalance", "user_id", userID, "error", err)
		return 0, fmt.Errorf("failed to get balance: %w", err)
	}
	return balance, nil
}
