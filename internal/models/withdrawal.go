package models

import "time"

type WithdrawalStatus string

const (
	WithdrawalPending   WithdrawalStatus = "pending"
	WithdrawalCompleted WithdrawalStatus = "completed"
)

// MinWithdrawal is the smallest balance that can be paid out.
const MinWithdrawal = 50.0

// Withdrawal is a payout request. The amount is debited from the user's
// balance at request time, so a pending request already owns the funds.
type Withdrawal struct {
	ID          int64            `json:"id"`
	UserID      int64            `json:"user_id"`
	Amount      float64          `json:"amount"`
	Status      WithdrawalStatus `json:"status"`
	Wallet      string           `json:"wallet"`
	CreatedAt   time.Time        `json:"created_at"`
	ProcessedAt *time.Time       `json:"processed_at,omitempty"`
}
