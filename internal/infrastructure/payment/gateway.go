package payment

import "context"

// Gateway is the payment capability the core calls into. It is treated as an
// untrusted, eventually-consistent oracle: a negative CheckPayment answer only
// means "not observed yet" and every method is safe to retry.
type Gateway interface {
	// CreatePaymentLink returns a URL the buyer follows to pay the given
	// total, tagged with the deal's reference label.
	CreatePaymentLink(ctx context.Context, amount float64, reference, description string) (string, error)

	// CheckPayment polls whether a completed payment with the reference label
	// has been observed. It has no side effects on the gateway.
	CheckPayment(ctx context.Context, reference string) (bool, error)

	// Payout sends amount to an external wallet.
	Payout(ctx context.Context, wallet string, amount float64) (bool, error)
}
