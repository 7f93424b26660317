package models

import (
	"math"
	"time"
)

// GuarantorFeePercent is the platform's cut, added on top of the principal.
const GuarantorFeePercent = 0.08

type DealStatus string

const (
	StatusCreated         DealStatus = "created"
	StatusAwaitingPayment DealStatus = "awaiting_payment"
	StatusPaymentReceived DealStatus = "payment_received"
	StatusCompleted       DealStatus = "completed"
	StatusCancelled       DealStatus = "cancelled"
	StatusRejected        DealStatus = "rejected"
	StatusDispute         DealStatus = "dispute"
)

// IsTerminal reports whether no further transition is allowed from s.
func (s DealStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusRejected:
		return true
	}
	return false
}

func (s DealStatus) Valid() bool {
	switch s {
	case StatusCreated, StatusAwaitingPayment, StatusPaymentReceived,
		StatusCompleted, StatusCancelled, StatusRejected, StatusDispute:
		return true
	}
	return false
}

type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
)

func (r Role) Valid() bool {
	return r == RoleBuyer || r == RoleSeller
}

// Deal is an escrowed transaction between a buyer and a seller.
// GuarantorFee and TotalAmount are derived once at creation and never
// recomputed; the internal ledger is denominated in the principal Amount only.
type Deal struct {
	ID              string     `json:"id"`
	CreatorID       int64      `json:"creator_id"`
	CreatorRole     Role       `json:"creator_role"`
	BuyerID         int64      `json:"buyer_id"`
	SellerID        int64      `json:"seller_id"`
	Amount          float64    `json:"amount"`
	GuarantorFee    float64    `json:"guarantor_fee"`
	TotalAmount     float64    `json:"total_amount"`
	Description     string     `json:"description"`
	DeadlineDays    int        `json:"deadline_days"`
	GroupLink       string     `json:"group_link,omitempty"`
	PaymentURL      string     `json:"payment_url,omitempty"`
	BuyerConfirmed  bool       `json:"buyer_confirmed"`
	SellerConfirmed bool       `json:"seller_confirmed"`
	DisputeOpened   bool       `json:"dispute_opened"`
	Status          DealStatus `json:"status"`
	CreatedAt       time.Time  `json:"created_at"`
}

// ParticipantRole returns the role userID plays in the deal.
func (d *Deal) ParticipantRole(userID int64) (Role, bool) {
	switch userID {
	case d.BuyerID:
		return RoleBuyer, true
	case d.SellerID:
		return RoleSeller, true
	}
	return "", false
}

// BothConfirmed reports whether the two participants agreed to the terms.
// Readiness for payment is derived from this, never stored.
func (d *Deal) BothConfirmed() bool {
	return d.BuyerConfirmed && d.SellerConfirmed
}

// PaymentReference is the deterministic gateway-side label tying a payment
// to this deal.
func (d *Deal) PaymentReference() string {
	return "deal_" + d.ID
}

// Round2 rounds monetary values to 2 decimal places.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// FeeFor computes the guarantor fee for a principal amount.
func FeeFor(amount float64) float64 {
	return Round2(amount * GuarantorFeePercent)
}
