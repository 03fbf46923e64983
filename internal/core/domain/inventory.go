package domain

import "time"

type ItemStatus string

const (
	ItemStatusAvailable ItemStatus = "available"
	ItemStatusReserved  ItemStatus = "reserved"
	ItemStatusSold      ItemStatus = "sold"
)

type ProductType string

const (
	ProductTypeKey     ProductType = "key"
	ProductTypeAccount ProductType = "account"
	ProductTypeCode    ProductType = "code"
	ProductTypeLink    ProductType = "link"
)

// InventoryItem is one non-fungible unit of stock. EncryptedPayload is the
// sealed secret; it never leaves the storage and fulfillment layers.
type InventoryItem struct {
	ID               string
	Seq              int64 // insertion order, oldest first
	ProductID        string
	EncryptedPayload string
	Status           ItemStatus
	ReservedBy       string
	SoldTo           string
	OrderID          string
	AddedBy          string
	CreatedAt        time.Time
	SoldAt           time.Time
}

// Product carries the authoritative price and the denormalized stock
// counter, which always equals the number of available items.
type Product struct {
	ID                   string
	Name                 string
	Price                int64 // minor units
	Currency             string
	Active               bool
	ProductType          ProductType
	DeliveryInstructions string
	Stock                int
	TotalSold            int
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

type InventoryStats struct {
	ProductID string `json:"product_id"`
	Total     int    `json:"total"`
	Available int    `json:"available"`
	Reserved  int    `json:"reserved"`
	Sold      int    `json:"sold"`
}

// InvariantReport lists rows that break the order/item dual invariant.
type InvariantReport struct {
	UnreferencedItems []string `json:"unreferenced_items"` // reserved or sold with no delivering order
	MismatchedItems   []string `json:"mismatched_items"`   // delivered but not sold to that order
	StockDrift        []string `json:"stock_drift"`        // products whose stock counter is wrong
}

func (r InvariantReport) OK() bool {
	return len(r.UnreferencedItems) == 0 && len(r.MismatchedItems) == 0 && len(r.StockDrift) == 0
}
