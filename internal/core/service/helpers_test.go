package service

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rl1809/keydrop/internal/adapter/payment"
	"github.com/rl1809/keydrop/internal/adapter/secret"
	"github.com/rl1809/keydrop/internal/adapter/storage"
	"github.com/rl1809/keydrop/internal/core/domain"
	"github.com/rl1809/keydrop/internal/metrics"
	"github.com/rl1809/keydrop/internal/port"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

// Mock CacheRepository
type mockCacheRepo struct {
	stock  map[string]int
	claims map[string]bool
	mu     sync.Mutex
}

func newMockCacheRepo() *mockCacheRepo {
	return &mockCacheRepo{
		stock:  make(map[string]int),
		claims: make(map[string]bool),
	}
}

func (m *mockCacheRepo) DecrementStock(ctx context.Context, productID string, quantity int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.stock[productID]
	if !ok {
		return true, nil
	}
	if current >= quantity {
		m.stock[productID] = current - quantity
		return true, nil
	}
	return false, nil
}

func (m *mockCacheRepo) IncrementStock(ctx context.Context, productID string, quantity int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.stock[productID]; ok {
		m.stock[productID] += quantity
	}
	return nil
}

func (m *mockCacheRepo) SetStock(ctx context.Context, productID string, quantity int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stock[productID] = quantity
	return nil
}

func (m *mockCacheRepo) ClaimPayment(ctx context.Context, reference string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.claims[reference] {
		return false, nil
	}
	m.claims[reference] = true
	return true, nil
}

func (m *mockCacheRepo) ReleasePayment(ctx context.Context, reference string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.claims, reference)
	return nil
}

func (m *mockCacheRepo) Claimed(reference string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.claims[reference]
}

func (m *mockCacheRepo) Stock(productID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stock[productID]
}

// Mock PaymentMethod answering from a fixed table of references.
type mockPaymentMethod struct {
	mu            sync.Mutex
	verifications map[string]port.Verification
	err           error
	calls         atomic.Int32
}

func newMockPaymentMethod() *mockPaymentMethod {
	return &mockPaymentMethod{verifications: make(map[string]port.Verification)}
}

func (m *mockPaymentMethod) Name() string { return payment.MethodCard }

func (m *mockPaymentMethod) Verify(ctx context.Context, reference string) (port.Verification, error) {
	m.calls.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return port.Verification{}, m.err
	}
	v, ok := m.verifications[reference]
	if !ok {
		return port.Verification{}, errors.New("no such payment intent")
	}
	return v, nil
}

// paid registers a succeeded payment of amount minor units by payer.
func (m *mockPaymentMethod) paid(reference, payer string, amount int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.verifications[reference] = port.Verification{
		Reference: reference,
		Succeeded: true,
		Status:    "succeeded",
		Amount:    amount,
		Currency:  "usd",
		PayerID:   payer,
	}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.Event
}

func (p *recordingPublisher) Publish(ctx context.Context, event domain.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) Events() []domain.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.Event(nil), p.events...)
}

type testEnv struct {
	store       *storage.SQLStore
	sealer      *secret.AESGCMSealer
	pay         *mockPaymentMethod
	events      *recordingPublisher
	orders      *OrderService
	inventory   *InventoryService
	fulfillment *FulfillmentService
}

func testOrderConfig() OrderConfig {
	cfg := DefaultOrderConfig()
	cfg.Retry = RetryPolicy{MaxAttempts: 3, Backoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}
	cfg.PaymentTimeout = time.Second
	cfg.CommitTimeout = 5 * time.Second
	return cfg
}

// newTestEnv wires the services over a temp-file SQLite store. A non-nil
// wrap decorates the store for fault injection.
func newTestEnv(t *testing.T, cache port.CacheRepository, wrap func(port.DatabaseRepository) port.DatabaseRepository) *testEnv {
	t.Helper()

	store, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "keydrop.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return newEnvWithStore(t, store, cache, wrap)
}

func newEnvWithStore(t *testing.T, store *storage.SQLStore, cache port.CacheRepository, wrap func(port.DatabaseRepository) port.DatabaseRepository) *testEnv {
	t.Helper()

	sealer, err := secret.NewAESGCMSealer(testKey)
	require.NoError(t, err)

	var repo port.DatabaseRepository = store
	if wrap != nil {
		repo = wrap(store)
	}

	pay := newMockPaymentMethod()
	events := &recordingPublisher{}
	log := zap.NewNop()
	m := metrics.New()

	return &testEnv{
		store:       store,
		sealer:      sealer,
		pay:         pay,
		events:      events,
		orders:      NewOrderService(repo, cache, payment.NewRegistry(pay), events, testOrderConfig(), log, m),
		inventory:   NewInventoryService(repo, cache, sealer, events, "usd", log, m),
		fulfillment: NewFulfillmentService(repo, sealer, log, m),
	}
}

// seed creates a product with the given price (minor units) and plaintext
// items.
func (e *testEnv) seed(t *testing.T, productID string, price int64, items ...string) {
	t.Helper()
	ctx := context.Background()
	_, err := e.inventory.CreateProduct(ctx, ProductInput{
		ID:                   productID,
		Name:                 "Product " + productID,
		Price:                price,
		ProductType:          domain.ProductTypeKey,
		DeliveryInstructions: "Redeem in the launcher",
	})
	require.NoError(t, err)
	if len(items) > 0 {
		_, err = e.inventory.AddInventoryItems(ctx, productID, items, "admin")
		require.NoError(t, err)
	}
}

func (e *testEnv) stats(t *testing.T, productID string) domain.InventoryStats {
	t.Helper()
	stats, err := e.store.InventoryStats(context.Background(), productID)
	require.NoError(t, err)
	return stats
}

func (e *testEnv) requireInvariants(t *testing.T) {
	t.Helper()
	report, err := e.store.CheckInvariants(context.Background())
	require.NoError(t, err)
	require.True(t, report.OK(), "invariants violated: %+v", report)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func orderRequest(buyer, reference, total string, lines ...domain.LineRequest) domain.OrderRequest {
	return domain.OrderRequest{
		BuyerID:          buyer,
		ContactEmail:     buyer + "@example.com",
		PaymentMethod:    payment.MethodCard,
		PaymentReference: reference,
		Lines:            lines,
		ClaimedTotal:     dec(total),
	}
}

func line(productID string, qty int, unit string) domain.LineRequest {
	return domain.LineRequest{ProductID: productID, Quantity: qty, ClaimedUnitPrice: dec(unit)}
}

// faultyRepo fails the allocation transaction on the failOn-th reservation.
type faultyRepo struct {
	port.DatabaseRepository
	failOn int
	err    error
}

func (f *faultyRepo) WithinTx(ctx context.Context, fn func(ctx context.Context, tx port.AllocationTx) error) error {
	return f.DatabaseRepository.WithinTx(ctx, func(ctx context.Context, tx port.AllocationTx) error {
		return fn(ctx, &faultyTx{AllocationTx: tx, failOn: f.failOn, err: f.err})
	})
}

type faultyTx struct {
	port.AllocationTx
	failOn   int
	err      error
	reserved int
}

func (f *faultyTx) ReserveOldestAvailable(ctx context.Context, productID, buyerID, orderID string) (domain.InventoryItem, error) {
	if f.reserved+1 == f.failOn {
		return domain.InventoryItem{}, f.err
	}
	item, err := f.AllocationTx.ReserveOldestAvailable(ctx, productID, buyerID, orderID)
	if err == nil {
		f.reserved++
	}
	return item, err
}

// conflictingRepo reports a write conflict for the first conflicts attempts.
type conflictingRepo struct {
	port.DatabaseRepository
	conflicts int
	attempts  atomic.Int32
}

func (c *conflictingRepo) WithinTx(ctx context.Context, fn func(ctx context.Context, tx port.AllocationTx) error) error {
	n := int(c.attempts.Add(1))
	return c.DatabaseRepository.WithinTx(ctx, func(ctx context.Context, tx port.AllocationTx) error {
		if err := fn(ctx, tx); err != nil {
			return err
		}
		if n <= c.conflicts {
			return domain.NewError(domain.KindTransientConflict, "simulated conflict")
		}
		return nil
	})
}

// stallingRepo holds the first stalls transactions until their context
// expires, as a database that stops answering would.
type stallingRepo struct {
	port.DatabaseRepository
	stalls int
	calls  atomic.Int32
}

func (s *stallingRepo) WithinTx(ctx context.Context, fn func(ctx context.Context, tx port.AllocationTx) error) error {
	if int(s.calls.Add(1)) <= s.stalls {
		<-ctx.Done()
		return ctx.Err()
	}
	return s.DatabaseRepository.WithinTx(ctx, fn)
}

// lostAckRepo commits every transaction but reports a timeout.
type lostAckRepo struct {
	port.DatabaseRepository
}

func (l *lostAckRepo) WithinTx(ctx context.Context, fn func(ctx context.Context, tx port.AllocationTx) error) error {
	if err := l.DatabaseRepository.WithinTx(ctx, fn); err != nil {
		return err
	}
	return context.DeadlineExceeded
}

// cancellingRepo cancels the caller's request after the first reservation
// and fails the transaction with the cancellation.
type cancellingRepo struct {
	port.DatabaseRepository
	cancel context.CancelFunc
}

func (c *cancellingRepo) WithinTx(ctx context.Context, fn func(ctx context.Context, tx port.AllocationTx) error) error {
	return c.DatabaseRepository.WithinTx(ctx, func(ctx context.Context, tx port.AllocationTx) error {
		return fn(ctx, &cancellingTx{AllocationTx: tx, cancel: c.cancel})
	})
}

type cancellingTx struct {
	port.AllocationTx
	cancel context.CancelFunc
}

func (c *cancellingTx) ReserveOldestAvailable(ctx context.Context, productID, buyerID, orderID string) (domain.InventoryItem, error) {
	item, err := c.AllocationTx.ReserveOldestAvailable(ctx, productID, buyerID, orderID)
	if err != nil {
		return item, err
	}
	c.cancel()
	return domain.InventoryItem{}, context.Canceled
}
