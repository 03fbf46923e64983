package port

import (
	"context"
	"time"

	"github.com/rl1809/keydrop/internal/core/domain"
)

type DatabaseRepository interface {
	// WithinTx runs fn inside one storage transaction. fn's error rolls the
	// transaction back; a nil return commits it.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx AllocationTx) error) error

	// ReleaseOrder returns items reserved for an uncommitted order to
	// available. Safe to call any number of times; a no-op once the order
	// row exists.
	ReleaseOrder(ctx context.Context, orderID string) (int, error)

	PaymentReferenceExists(ctx context.Context, reference string) (bool, error)

	GetProduct(ctx context.Context, productID string) (*domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) error
	ListProducts(ctx context.Context) ([]domain.Product, error)

	AddItems(ctx context.Context, items []domain.InventoryItem) error
	GetItem(ctx context.Context, itemID string) (*domain.InventoryItem, error)
	InventoryStats(ctx context.Context, productID string) (domain.InventoryStats, error)

	GetOrder(ctx context.Context, orderID string) (*domain.Order, error)
	ListOrdersByBuyer(ctx context.Context, buyerID string) ([]domain.Order, error)
	MarkItemViewed(ctx context.Context, orderID, itemID string, at time.Time) (bool, error)

	ReleaseOrphanedReservations(ctx context.Context) (int, error)
	RecomputeStock(ctx context.Context) error
	CheckInvariants(ctx context.Context) (domain.InvariantReport, error)
}

// AllocationTx is the view of storage available inside the atomic
// reserve-and-record step.
type AllocationTx interface {
	PaymentReferenceExists(ctx context.Context, reference string) (bool, error)

	// ReserveOldestAvailable moves the product's oldest available item to
	// reserved for orderID. A concurrent writer winning the same row surfaces
	// as a TRANSIENT_CONFLICT error; no available item as STOCK_UNAVAILABLE.
	ReserveOldestAvailable(ctx context.Context, productID, buyerID, orderID string) (domain.InventoryItem, error)

	InsertOrder(ctx context.Context, order domain.Order) error

	// MarkSold moves every item reserved for orderID to sold and returns how
	// many moved.
	MarkSold(ctx context.Context, orderID, buyerID string, at time.Time) (int, error)
}
