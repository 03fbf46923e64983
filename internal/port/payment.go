package port

import "context"

// Verification is the gateway's answer about one payment reference.
type Verification struct {
	Reference string
	Succeeded bool
	Status    string
	Amount    int64 // minor units
	Currency  string
	PayerID   string
}

// PaymentMethod verifies client-submitted payment references for one kind
// of payment (card, wallet, ...).
type PaymentMethod interface {
	Name() string
	Verify(ctx context.Context, reference string) (Verification, error)
}

// PaymentRegistry resolves a payment method by the name the client sent.
type PaymentRegistry interface {
	Method(name string) (PaymentMethod, bool)
}
