package repository

import (
	"context"

	"github.com/honeynil/safedeal/internal/models"
)

type WithdrawalRepository interface {
	// CreateFromBalance atomically debits the user's entire balance and
	// creates a pending withdrawal for that amount. Fails with
	// ErrInsufficientBalance when the balance is below min.
	CreateFromBalance(ctx context.Context, userID int64, wallet string, min float64) (*models.Withdrawal, error)

	GetByID(ctx context.Context, id int64) (*models.Withdrawal, error)
	ListByUser(ctx context.Context, userID int64) ([]models.Withdrawal, error)

	// MarkCompleted moves a pending withdrawal to completed with a processing
	// timestamp. Only pending requests can be completed.
	MarkCompleted(ctx context.Context, id int64) error
}
