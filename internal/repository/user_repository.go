package repository

import (
	"context"

	"github.com/honeynil/safedeal/internal/models"
)

// UserRepository stores balances. Credits happen only inside the
// deal-completion transaction (DealRepository.CompleteWithCredit) and debits
// only inside WithdrawalRepository.CreateFromBalance, so both money movements
// stay atomic with the record that justifies them.
type UserRepository interface {
	// Ensure lazily materializes the user record with a zero balance.
	Ensure(ctx context.Context, userID int64, username string) error
	GetByID(ctx context.Context, userID int64) (*models.User, error)
	GetBalance(ctx context.Context, userID int64) (float64, error)
}
