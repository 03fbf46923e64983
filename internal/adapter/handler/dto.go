package handler

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/keydrop/internal/core/domain"
)

// Request and response bodies shared by the HTTP and gRPC transports. Money
// crosses the wire in major units as decimal strings.

type CreateOrderRequest struct {
	ContactEmail     string             `json:"contact_email"`
	PaymentMethod    string             `json:"payment_method" binding:"required"`
	PaymentReference string             `json:"payment_reference" binding:"required"`
	Lines            []OrderLineRequest `json:"lines" binding:"required,min=1,dive"`
	Total            decimal.Decimal    `json:"total"`
}

type OrderLineRequest struct {
	ProductID string          `json:"product_id" binding:"required"`
	Quantity  int             `json:"quantity" binding:"required,gt=0"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

func (r CreateOrderRequest) toDomain(buyerID string) domain.OrderRequest {
	lines := make([]domain.LineRequest, len(r.Lines))
	for i, l := range r.Lines {
		lines[i] = domain.LineRequest{
			ProductID:        l.ProductID,
			Quantity:         l.Quantity,
			ClaimedUnitPrice: l.UnitPrice,
		}
	}
	return domain.OrderRequest{
		BuyerID:          buyerID,
		ContactEmail:     r.ContactEmail,
		PaymentMethod:    r.PaymentMethod,
		PaymentReference: r.PaymentReference,
		Lines:            lines,
		ClaimedTotal:     r.Total,
	}
}

type OrderResponse struct {
	ID               string              `json:"id"`
	BuyerID          string              `json:"buyer_id"`
	ContactEmail     string              `json:"contact_email,omitempty"`
	PaymentMethod    string              `json:"payment_method"`
	PaymentReference string              `json:"payment_reference"`
	Lines            []OrderLineResponse `json:"lines"`
	ItemsPrice       decimal.Decimal     `json:"items_price"`
	TaxPrice         decimal.Decimal     `json:"tax_price"`
	TotalPrice       decimal.Decimal     `json:"total_price"`
	Currency         string              `json:"currency"`
	IsPaid           bool                `json:"is_paid"`
	PaidAt           *time.Time          `json:"paid_at,omitempty"`
	Status           string              `json:"status"`
	CreatedAt        time.Time           `json:"created_at"`
}

type OrderLineResponse struct {
	ProductID   string                  `json:"product_id"`
	ProductName string                  `json:"product_name"`
	Quantity    int                     `json:"quantity"`
	UnitPrice   decimal.Decimal         `json:"unit_price"`
	Items       []DeliveredItemResponse `json:"items"`
}

// DeliveredItemResponse is delivery metadata only; content is served by the
// delivered items endpoint.
type DeliveredItemResponse struct {
	InventoryItemID string    `json:"inventory_item_id"`
	DeliveredAt     time.Time `json:"delivered_at"`
	Viewed          bool      `json:"viewed"`
}

func newOrderResponse(o *domain.Order) OrderResponse {
	resp := OrderResponse{
		ID:               o.ID,
		BuyerID:          o.BuyerID,
		ContactEmail:     o.ContactEmail,
		PaymentMethod:    o.PaymentMethod,
		PaymentReference: o.PaymentReference,
		Lines:            make([]OrderLineResponse, len(o.Lines)),
		ItemsPrice:       domain.MinorToDecimal(o.ItemsPrice),
		TaxPrice:         domain.MinorToDecimal(o.TaxPrice),
		TotalPrice:       domain.MinorToDecimal(o.TotalPrice),
		Currency:         o.Currency,
		IsPaid:           o.IsPaid,
		Status:           string(o.Status),
		CreatedAt:        o.CreatedAt,
	}
	if !o.PaidAt.IsZero() {
		paidAt := o.PaidAt
		resp.PaidAt = &paidAt
	}
	for i, l := range o.Lines {
		items := make([]DeliveredItemResponse, len(l.DeliveredItems))
		for j, d := range l.DeliveredItems {
			items[j] = DeliveredItemResponse{
				InventoryItemID: d.InventoryItemID,
				DeliveredAt:     d.DeliveredAt,
				Viewed:          d.Viewed,
			}
		}
		resp.Lines[i] = OrderLineResponse{
			ProductID:   l.ProductID,
			ProductName: l.ProductName,
			Quantity:    l.Quantity,
			UnitPrice:   domain.MinorToDecimal(l.UnitPrice),
			Items:       items,
		}
	}
	return resp
}

type DeliveredItemsResponse struct {
	OrderID string                    `json:"order_id"`
	Items   []domain.DeliveredContent `json:"items"`
}

type ProductResponse struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Price       decimal.Decimal `json:"price"`
	Currency    string          `json:"currency"`
	ProductType string          `json:"product_type"`
	Active      bool            `json:"active"`
	Stock       int             `json:"stock"`
	TotalSold   int             `json:"total_sold"`
}

func newProductResponse(p domain.Product) ProductResponse {
	return ProductResponse{
		ID:          p.ID,
		Name:        p.Name,
		Price:       domain.MinorToDecimal(p.Price),
		Currency:    p.Currency,
		ProductType: string(p.ProductType),
		Active:      p.Active,
		Stock:       p.Stock,
		TotalSold:   p.TotalSold,
	}
}

type CreateProductRequest struct {
	ID                   string          `json:"id"`
	Name                 string          `json:"name" binding:"required"`
	Price                decimal.Decimal `json:"price"`
	ProductType          string          `json:"product_type"`
	DeliveryInstructions string          `json:"delivery_instructions"`
}

type AddInventoryItemsRequest struct {
	ProductID string   `json:"product_id,omitempty"`
	Items     []string `json:"items" binding:"required,min=1"`
}

type InventoryStatsRequest struct {
	ProductID string `json:"product_id"`
}

type GetDeliveredItemsRequest struct {
	OrderID string `json:"order_id"`
}

type InventoryStatsResponse = domain.InventoryStats
