package repository

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/honeynil/safedeal/internal/infrastructure/observability"
	"github.com/honeynil/safedeal/internal/models"
	pkgerrors "github.com/honeynil/safedeal/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type PostgresWithdrawalRepository struct {
	db *sql.DB
}

func NewPostgresWithdrawalRepository(db *sql.DB) *PostgresWithdrawalRepository {
	return &PostgresWithdrawalRepository{db: db}
}

// CreateFromBalance debits the entire balance and records the pending payout
// in one transaction. The row lock on users serializes concurrent requests, so
// the second request sees balance 0 and is rejected.
func (r *PostgresWithdrawalRepository) CreateFromBalance(ctx context.Context, userID int64, wallet string, min float64) (*models.Withdrawal, error) {
	var err error
	tracer := otel.Tracer("withdrawal-repository")
	ctx, span := tracer.Start(ctx, "CreateWithdrawalFromBalance")
	span.SetAttributes(attribute.Int64("user_id", userID))
	defer span.End()

	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		observability.RepositoryCalls.WithLabelValues("CreateWithdrawalFromBalance", status).Inc()
		observability.RepositoryDuration.WithLabelValues("CreateWithdrawalFromBalance").Observe(time.Since(start).Seconds())
	}()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		slog.Error("failed to begin transaction", "method", "CreateFromBalance", "user_id", userID, "error", err)
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	var balance float64
	err = tx.QueryRowContext(ctx, `SELECT balance FROM users WHERE user_id = $1 FOR UPDATE`, userID).Scan(&balance)
	if stderrors.Is(err, sql.ErrNoRows) {
		_ = tx.Rollback()
		err = pkgerrors.ErrInsufficientBalance
		return nil, err
	}
	if err != nil {
		_ = tx.Rollback()
		slog.Error("failed to read balance", "method", "CreateFromBalance", "user_id", userID, "error", err)
		return nil, fmt.Errorf("failed to read balance: %w", err)
	}

	if balance < min {
		_ = tx.Rollback()
		err = pkgerrors.ErrInsufficientBalance
		return nil, err
	}

	if _, err = tx.ExecContext(ctx, `UPDATE users SET balance = 0 WHERE user_id = $1`, userID); err != nil {
		_ = tx.Rollback()
		slog.Error("failed to debit balance", "method", "CreateFromBalance", "user_id", userID, "error", err)
		return nil, fmt.Errorf("failed to debit balance: %w", err)
	}

	w := &models.Withdrawal{
		UserID: userID,
		Amount: balance,
		Status: models.WithdrawalPending,
		Wallet: wallet,
	}
	err = tx.QueryRowContext(ctx,
		`INSERT INTO withdrawals (user_id, amount, status, wallet) VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at`,
		w.UserID, w.Amount, w.Status, w.Wallet,
	).Scan(&w.ID, &w.CreatedAt)
	if err != nil {
		_ = tx.Rollback()
		slog.Error("failed to create withdrawal", "method", "CreateFromBalance", "user_id", userID, "error", err)
		return nil, fmt.Errorf("failed to create withdrawal: %w", err)
	}

	if err = tx.Commit(); err != nil {
		slog.Error("failed to commit withdrawal", "method", "CreateFromBalance", "user_id", userID, "error", err)
		return nil, fmt.Errorf("failed to commit withdrawal: %w", err)
	}

	slog.Info("withdrawal requested", "method", "CreateFromBalance", "withdrawal_id", w.ID, "user_id", userID, "amount", w.Amount)
	return w, nil
}

func (r *PostgresWithdrawalRepository) GetByID(ctx context.Context, id int64) (*models.Withdrawal, error) {
	query := `SELECT id, user_id, amount, status, wallet, created_at, processed_at
		FROM withdrawals WHERE id = $1`
	var w models.Withdrawal
	var processedAt sql.NullTime
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&w.ID, &w.UserID, &w.Amount, &w.Status, &w.Wallet, &w.CreatedAt, &processedAt,
	)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrWithdrawalNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get withdrawal by id: %w", err)
	}
	if processedAt.Valid {
		w.ProcessedAt = &processedAt.Time
	}
	return &w, nil
}

func (r *PostgresWithdrawalRepository) ListByUser(ctx context.Context, userID int64) ([]models.Withdrawal, error) {
	query := `SELECT id, user_id, amount, status, wallet, created_at, processed_at
		FROM withdrawals WHERE user_id = $1 ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list withdrawals: %w", err)
	}
	defer rows.Close()

	var withdrawals []models.Withdrawal
	for rows.Next() {
		var w models.Withdrawal
		var processedAt sql.NullTime
		if err := rows.Scan(&w.ID, &w.UserID, &w.Amount, &w.Status, &w.Wallet, &w.CreatedAt, &processedAt); err != nil {
			return nil, fmt.Errorf("failed to scan withdrawal: %w", err)
		}
		if processedAt.Valid {
			w.ProcessedAt = &processedAt.Time
		}
		withdrawals = append(withdrawals, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate withdrawals: %w", err)
	}
	return withdrawals, nil
}

func (r *PostgresWithdrawalRepository) MarkCompleted(ctx context.Context, id int64) error {
	query := `UPDATE withdrawals SET status = $1, processed_at = NOW()
		WHERE id = $2 AND status = $3`
	res, err := r.db.ExecContext(ctx, query, models.WithdrawalCompleted, id, models.WithdrawalPending)
	if err != nil {
		slog.Error("failed to mark withdrawal completed", "method", "MarkCompleted", "withdrawal_id", id, "error", err)
		return fmt.Errorf("failed to mark withdrawal completed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var exists bool
		if exErr := r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM withdrawals WHERE id = $1)`, id).Scan(&exists); exErr == nil && !exists {
			return pkgerrors.ErrWithdrawalNotFound
		}
		return pkgerrors.ErrInvalidState
	}
	slog.Info("withdrawal completed", "method", "MarkCompleted", "withdrawal_id", id)
	return nil
}
