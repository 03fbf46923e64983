package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rl1809/keydrop/internal/core/domain"
)

type caller struct {
	userID string
	admin  bool
}

var (
	alice = caller{userID: "alice"}
	bob   = caller{userID: "bob"}
	admin = caller{userID: "admin-1", admin: true}
	guest = caller{}
)

func newTestServer(t *testing.T) (*fixture, *Server) {
	t.Helper()
	f := newFixture(t)
	return f, NewServer(f.orders, f.fulfillment, f.inventory, f.health, f.metrics, zap.NewNop())
}

func do(t *testing.T, s *Server, who caller, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if who.userID != "" {
		req.Header.Set(UserIDHeader, who.userID)
	}
	if who.admin {
		req.Header.Set(UserRoleHeader, "admin")
	}
	rec := httptest.NewRecorder()
	s.Engine().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func cardOrder(reference, total string, lines ...OrderLineRequest) CreateOrderRequest {
	return CreateOrderRequest{
		ContactEmail:     "alice@example.com",
		PaymentMethod:    "card",
		PaymentReference: reference,
		Lines:            lines,
		Total:            decimal.RequireFromString(total),
	}
}

func orderLine(productID string, qty int, unit string) OrderLineRequest {
	return OrderLineRequest{ProductID: productID, Quantity: qty, UnitPrice: decimal.RequireFromString(unit)}
}

func TestHTTP_Health(t *testing.T) {
	_, s := newTestServer(t)

	rec := do(t, s, guest, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = do(t, s, guest, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "keydrop_orders_created_total")
}

func TestHTTP_OrderLifecycle(t *testing.T) {
	f, s := newTestServer(t)

	rec := do(t, s, admin, http.MethodPost, "/api/v1/admin/products", CreateProductRequest{
		ID:                   "p1",
		Name:                 "Game key",
		Price:                decimal.RequireFromString("10.00"),
		ProductType:          "key",
		DeliveryInstructions: "Redeem in the launcher",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(t, s, admin, http.MethodPost, "/api/v1/admin/products/p1/inventory",
		AddInventoryItemsRequest{Items: []string{"KEY-1", "KEY-2"}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	stats := decode[domain.InventoryStats](t, rec)
	assert.Equal(t, 2, stats.Available)

	rec = do(t, s, guest, http.MethodGet, "/api/v1/products", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	products := decode[[]ProductResponse](t, rec)
	require.Len(t, products, 1)
	assert.True(t, products[0].Price.Equal(decimal.RequireFromString("10.00")))
	assert.Equal(t, 2, products[0].Stock)

	f.payments.add("pi_1", "alice", 1060)
	rec = do(t, s, alice, http.MethodPost, "/api/v1/orders", cardOrder("pi_1", "10.60", orderLine("p1", 1, "10.00")))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	order := decode[OrderResponse](t, rec)
	assert.Equal(t, "alice", order.BuyerID)
	assert.Equal(t, string(domain.OrderStatusCompleted), order.Status)
	assert.True(t, order.IsPaid)
	assert.True(t, order.TotalPrice.Equal(decimal.RequireFromString("10.60")))
	assert.True(t, order.TaxPrice.Equal(decimal.RequireFromString("0.60")))
	require.Len(t, order.Lines, 1)
	require.Len(t, order.Lines[0].Items, 1)
	assert.NotContains(t, rec.Body.String(), "KEY-1")

	rec = do(t, s, alice, http.MethodGet, "/api/v1/orders/"+order.ID+"/items", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	delivered := decode[DeliveredItemsResponse](t, rec)
	require.Len(t, delivered.Items, 1)
	assert.Equal(t, "KEY-1", delivered.Items[0].Content)
	assert.Equal(t, "Redeem in the launcher", delivered.Items[0].Instructions)

	rec = do(t, s, bob, http.MethodGet, "/api/v1/orders/"+order.ID+"/items", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = do(t, s, admin, http.MethodGet, "/api/v1/orders/"+order.ID+"/items", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, s, admin, http.MethodGet, "/api/v1/orders/"+order.ID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, s, bob, http.MethodGet, "/api/v1/orders/"+order.ID, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, s, alice, http.MethodGet, "/api/v1/orders", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	history := decode[[]OrderResponse](t, rec)
	require.Len(t, history, 1)
	assert.True(t, history[0].Lines[0].Items[0].Viewed)

	rec = do(t, s, admin, http.MethodGet, "/api/v1/admin/products/p1/inventory", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats = decode[domain.InventoryStats](t, rec)
	assert.Equal(t, domain.InventoryStats{ProductID: "p1", Total: 2, Available: 1, Sold: 1}, stats)

	rec = do(t, s, admin, http.MethodGet, "/api/v1/admin/invariants", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok":true`)
}

func TestHTTP_CreateOrderErrors(t *testing.T) {
	f, s := newTestServer(t)
	f.stock(t, "p1", 1000, "KEY-1", "KEY-2")
	f.payments.add("pi_1", "alice", 1060)
	f.payments.add("pi_big", "alice", 2120)

	rec := do(t, s, alice, http.MethodPost, "/api/v1/orders", cardOrder("pi_1", "10.60", orderLine("p1", 1, "10.00")))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	tests := []struct {
		name     string
		who      caller
		body     any
		wantCode int
		wantKind domain.Kind
	}{
		{"missing identity", guest, cardOrder("pi_x", "10.60", orderLine("p1", 1, "10.00")), http.StatusUnauthorized, ""},
		{"invalid json", alice, `{"lines": [`, http.StatusBadRequest, domain.KindValidation},
		{"no lines", alice, cardOrder("pi_x", "10.60"), http.StatusBadRequest, domain.KindValidation},
		{"duplicate payment", alice, cardOrder("pi_1", "10.60", orderLine("p1", 1, "10.00")), http.StatusConflict, domain.KindDuplicatePayment},
		{"tampered total", alice, cardOrder("pi_x", "1.00", orderLine("p1", 1, "10.00")), http.StatusBadRequest, domain.KindValidation},
		{"sold out", alice, cardOrder("pi_big", "21.20", orderLine("p1", 2, "10.00")), http.StatusConflict, domain.KindStockUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, s, tt.who, http.MethodPost, "/api/v1/orders", tt.body)
			assert.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			if tt.wantKind != "" {
				body := decode[map[string]string](t, rec)
				assert.Equal(t, string(tt.wantKind), body["kind"])
				assert.NotEmpty(t, body["error"])
			}
		})
	}
}

func TestHTTP_PaymentErrors(t *testing.T) {
	f, s := newTestServer(t)
	f.stock(t, "p1", 1000, "KEY-1", "KEY-2")
	f.payments.add("pi_bob", "bob", 1060)
	f.payments.add("pi_short", "alice", 500)

	rec := do(t, s, alice, http.MethodPost, "/api/v1/orders", cardOrder("pi_unknown", "10.60", orderLine("p1", 1, "10.00")))
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	assert.Equal(t, string(domain.KindPaymentRejected), decode[map[string]string](t, rec)["kind"])

	rec = do(t, s, alice, http.MethodPost, "/api/v1/orders", cardOrder("pi_bob", "10.60", orderLine("p1", 1, "10.00")))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = do(t, s, alice, http.MethodPost, "/api/v1/orders", cardOrder("pi_short", "10.60", orderLine("p1", 1, "10.00")))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, string(domain.KindPaymentMismatch), decode[map[string]string](t, rec)["kind"])

	stats, err := f.inventory.GetInventoryStats(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Available)
}

func TestHTTP_AdminRoutesRequireAdmin(t *testing.T) {
	f, s := newTestServer(t)
	f.stock(t, "p1", 1000)

	rec := do(t, s, alice, http.MethodPost, "/api/v1/admin/products/p1/inventory", AddInventoryItemsRequest{Items: []string{"K"}})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = do(t, s, guest, http.MethodGet, "/api/v1/admin/products/p1/inventory", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, s, admin, http.MethodGet, "/api/v1/admin/products/missing/inventory", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = do(t, s, admin, http.MethodPost, "/api/v1/admin/products/p1/inventory", AddInventoryItemsRequest{Items: []string{"K", " "}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, admin, http.MethodPost, "/api/v1/admin/reconcile", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"released":0`)
}
