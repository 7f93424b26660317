package repository

import (
	"context"

	"github.com/honeynil/safedeal/internal/models"
)

// DealRepository is the durable store for deals. Status-changing methods are
// compare-and-swap: they only apply when the stored status matches one of the
// expected predecessors and report ErrInvalidState otherwise, so a transition
// can never skip or repeat a step even under concurrent callers.
type DealRepository interface {
	Create(ctx context.Context, deal *models.Deal) error
	GetByID(ctx context.Context, id string) (*models.Deal, error)
	Exists(ctx context.Context, id string) (bool, error)
	ListByUser(ctx context.Context, userID int64) ([]models.Deal, error)

	SetConfirmed(ctx context.Context, id string, role models.Role) error
	SetPaymentURL(ctx context.Context, id, url string) error

	// UpdateStatus moves the deal from one of the given statuses to the new one.
	UpdateStatus(ctx context.Context, id string, from []models.DealStatus, to models.DealStatus) error

	// ConfirmPayment records the gateway-confirmed payment and moves the deal
	// to payment_received.
	ConfirmPayment(ctx context.Context, id string) error

	// MarkDisputed sets the dispute flag and status in one step. The flag is
	// retained after resolution for audit.
	MarkDisputed(ctx context.Context, id string) error

	// CompleteWithCredit atomically moves the deal from the given status to
	// completed and credits the seller's balance with the principal amount.
	// At most one call per deal can ever succeed.
	CompleteWithCredit(ctx context.Context, id string, from models.DealStatus, sellerID int64, amount float64) error
}
