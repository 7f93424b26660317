package errors

import (
	"errors"
)

var (
	ErrDealNotFound       = errors.New("deal not found")
	ErrUserNotFound       = errors.New("user not found")
	ErrWithdrawalNotFound = errors.New("withdrawal not found")
	ErrReviewNotFound     = errors.New("review not found")

	ErrInvalidState   = errors.New("operation not allowed in current deal status")
	ErrNotParticipant = errors.New("user is not a participant of this deal")
	ErrNotAuthorized  = errors.New("user is not authorized for this operation")

	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrDescriptionTooShort = errors.New("description must be at least 5 characters")
	ErrSameParticipant     = errors.New("buyer and seller must be different users")
	ErrInvalidRole         = errors.New("role must be buyer or seller")
	ErrInvalidDeadline     = errors.New("deadline must be a positive number of days")
	ErrInvalidRating       = errors.New("rating must be between 1 and 5")
	ErrReviewTooShort      = errors.New("review text must be at least 5 characters")
	ErrInvalidWallet       = errors.New("wallet must be 11 to 16 digits")
	ErrInsufficientBalance = errors.New("balance below minimum withdrawal")

	ErrPaymentNotFound    = errors.New("payment not found for deal")
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")

	ErrNilDeal = errors.New("deal is nil")
)
