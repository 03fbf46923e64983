package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "Pending"
	OrderStatusCompleted OrderStatus = "Completed"
	OrderStatusFailed    OrderStatus = "Failed"
)

type Order struct {
	ID               string
	BuyerID          string
	ContactEmail     string
	Lines            []OrderLine
	PaymentMethod    string
	PaymentReference string
	ItemsPrice       int64
	TaxPrice         int64
	TotalPrice       int64
	Currency         string
	IsPaid           bool
	PaidAt           time.Time
	Status           OrderStatus
	CreatedAt        time.Time
}

type OrderLine struct {
	ProductID      string
	ProductName    string
	Quantity       int
	UnitPrice      int64
	DeliveredItems []DeliveredItem
}

type DeliveredItem struct {
	InventoryItemID string
	DeliveredAt     time.Time
	Viewed          bool
	ViewedAt        time.Time
}

// DeliveredCount is the number of concrete items backing the order.
func (o Order) DeliveredCount() int {
	n := 0
	for _, l := range o.Lines {
		n += len(l.DeliveredItems)
	}
	return n
}

func (o Order) Quantity() int {
	n := 0
	for _, l := range o.Lines {
		n += l.Quantity
	}
	return n
}

func (o Order) ItemIDs() []string {
	ids := make([]string, 0, o.DeliveredCount())
	for _, l := range o.Lines {
		for _, d := range l.DeliveredItems {
			ids = append(ids, d.InventoryItemID)
		}
	}
	return ids
}

// OrderRequest is what the cart hands to the allocator. Claimed prices are
// the client's numbers in major units and are only ever compared against.
type OrderRequest struct {
	BuyerID          string          `json:"buyer_id"`
	ContactEmail     string          `json:"contact_email"`
	PaymentMethod    string          `json:"payment_method"`
	PaymentReference string          `json:"payment_reference"`
	Lines            []LineRequest   `json:"lines"`
	ClaimedTotal     decimal.Decimal `json:"claimed_total"`
}

type LineRequest struct {
	ProductID        string          `json:"product_id"`
	Quantity         int             `json:"quantity"`
	ClaimedUnitPrice decimal.Decimal `json:"claimed_unit_price"`
}

// DeliveredContent is one decrypted item as shown to its buyer.
type DeliveredContent struct {
	InventoryItemID string    `json:"inventory_item_id"`
	ProductID       string    `json:"product_id"`
	ProductName     string    `json:"product_name"`
	Instructions    string    `json:"delivery_instructions,omitempty"`
	Content         string    `json:"content"`
	DeliveredAt     time.Time `json:"delivered_at"`
	Viewed          bool      `json:"viewed"`
	Corrupt         bool      `json:"corrupt,omitempty"`
}
