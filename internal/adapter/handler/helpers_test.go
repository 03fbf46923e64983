package handler

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rl1809/keydrop/internal/adapter/events"
	"github.com/rl1809/keydrop/internal/adapter/payment"
	"github.com/rl1809/keydrop/internal/adapter/secret"
	"github.com/rl1809/keydrop/internal/adapter/storage"
	"github.com/rl1809/keydrop/internal/core/domain"
	"github.com/rl1809/keydrop/internal/core/service"
	"github.com/rl1809/keydrop/internal/metrics"
	"github.com/rl1809/keydrop/internal/port"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// stubPayments answers card verifications from a table of paid references.
type stubPayments struct {
	mu   sync.Mutex
	paid map[string]port.Verification
}

func (s *stubPayments) Name() string { return payment.MethodCard }

func (s *stubPayments) Verify(_ context.Context, reference string) (port.Verification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.paid[reference]
	if !ok {
		return port.Verification{}, errors.New("no such payment intent")
	}
	return v, nil
}

func (s *stubPayments) add(reference, payer string, amount int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paid[reference] = port.Verification{
		Reference: reference,
		Succeeded: true,
		Status:    "succeeded",
		Amount:    amount,
		Currency:  "usd",
		PayerID:   payer,
	}
}

type fixture struct {
	store       *storage.SQLStore
	payments    *stubPayments
	orders      *service.OrderService
	fulfillment *service.FulfillmentService
	inventory   *service.InventoryService
	health      *Health
	metrics     *metrics.Metrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "keydrop.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	sealer, err := secret.NewAESGCMSealer([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)

	log := zap.NewNop()
	m := metrics.New()
	pay := &stubPayments{paid: map[string]port.Verification{}}
	sink := events.NewLogPublisher(log)

	cfg := service.DefaultOrderConfig()
	return &fixture{
		store:       store,
		payments:    pay,
		orders:      service.NewOrderService(store, nil, payment.NewRegistry(pay), sink, cfg, log, m),
		fulfillment: service.NewFulfillmentService(store, sealer, log, m),
		inventory:   service.NewInventoryService(store, nil, sealer, sink, "usd", log, m),
		health:      NewHealth(store.DB(), nil),
		metrics:     m,
	}
}

// stock creates product id priced at price minor units with the given items.
func (f *fixture) stock(t *testing.T, id string, price int64, items ...string) {
	t.Helper()
	ctx := context.Background()
	_, err := f.inventory.CreateProduct(ctx, service.ProductInput{
		ID:                   id,
		Name:                 "Product " + id,
		Price:                price,
		ProductType:          domain.ProductTypeKey,
		DeliveryInstructions: "Redeem in the launcher",
	})
	require.NoError(t, err)
	if len(items) > 0 {
		_, err = f.inventory.AddInventoryItems(ctx, id, items, "admin-1")
		require.NoError(t, err)
	}
}
