package port

import "context"

type CacheRepository interface {
	// DecrementStock atomically decreases the cached available count, returns
	// false if insufficient. An unknown product passes the gate.
	DecrementStock(ctx context.Context, productID string, quantity int) (bool, error)

	// IncrementStock restores stock (for rollback on failure)
	IncrementStock(ctx context.Context, productID string, quantity int) error

	// SetStock overwrites the cached count with the authoritative one.
	SetStock(ctx context.Context, productID string, quantity int) error

	// ClaimPayment sets a key for idempotency check, returns false if already exists
	ClaimPayment(ctx context.Context, reference string) (bool, error)

	// ReleasePayment drops a claim taken by an attempt that did not commit.
	ReleasePayment(ctx context.Context, reference string) error
}
