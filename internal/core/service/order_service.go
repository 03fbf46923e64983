package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/rl1809/keydrop/internal/core/domain"
	"github.com/rl1809/keydrop/internal/metrics"
	"github.com/rl1809/keydrop/internal/port"
)

const (
	tracerName = "github.com/rl1809/keydrop/internal/core/service"

	compensationTimeout = 10 * time.Second
	maxLineQuantity     = 100
)

// Allocation states, logged as the request moves through CreateOrder.
const (
	stateStarted         = "started"
	stateValidated       = "validated"
	statePaymentVerified = "payment_verified"
	stateReserving       = "reserving"
	stateCommitted       = "committed"
	stateAborted         = "aborted"
)

type OrderConfig struct {
	Currency       string
	Pricer         domain.Pricer
	Retry          RetryPolicy
	PaymentTimeout time.Duration
	CommitTimeout  time.Duration
}

func DefaultOrderConfig() OrderConfig {
	return OrderConfig{
		Currency:       "usd",
		Pricer:         domain.Pricer{TaxRateBps: 600, ToleranceBps: 100},
		Retry:          DefaultRetryPolicy(),
		PaymentTimeout: 10 * time.Second,
		CommitTimeout:  5 * time.Second,
	}
}

// OrderService is the order allocator: it validates and prices a cart,
// verifies payment and atomically turns available items into a sold order.
type OrderService struct {
	repo     port.DatabaseRepository
	cache    port.CacheRepository // optional
	payments port.PaymentRegistry
	events   port.EventPublisher
	cfg      OrderConfig
	log      *zap.Logger
	metrics  *metrics.Metrics
	tracer   trace.Tracer

	now   func() time.Time
	newID func() string
}

func NewOrderService(
	repo port.DatabaseRepository,
	cache port.CacheRepository,
	payments port.PaymentRegistry,
	events port.EventPublisher,
	cfg OrderConfig,
	log *zap.Logger,
	m *metrics.Metrics,
) *OrderService {
	return &OrderService{
		repo:     repo,
		cache:    cache,
		payments: payments,
		events:   events,
		cfg:      cfg,
		log:      log,
		metrics:  m,
		tracer:   otel.Tracer(tracerName),
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// CreateOrder runs the full allocation. Every failure leaves inventory and
// orders as they were; the returned error carries a domain kind.
func (s *OrderService) CreateOrder(ctx context.Context, req domain.OrderRequest) (*domain.Order, error) {
	start := s.now()
	orderID := s.newID()

	ctx, span := s.tracer.Start(ctx, "OrderService.CreateOrder", trace.WithAttributes(
		attribute.String("order.id", orderID),
		attribute.String("buyer.id", req.BuyerID),
	))
	defer span.End()

	log := s.log.With(
		zap.String("order_id", orderID),
		zap.String("buyer_id", req.BuyerID),
		zap.String("payment_reference", req.PaymentReference),
	)

	order, err := s.createOrder(ctx, orderID, req, log)
	elapsed := s.now().Sub(start)
	if err != nil {
		kind := domain.KindOf(err)
		s.metrics.AllocationFailed(string(kind), elapsed)
		span.SetStatus(codes.Error, string(kind))
		span.RecordError(err)
		log.Debug("allocation state", zap.String("state", stateAborted), zap.String("kind", string(kind)))
		return nil, err
	}

	s.metrics.OrderCreated(elapsed)
	log.Info("order completed",
		zap.Int("items", order.Quantity()),
		zap.Int64("total_price", order.TotalPrice),
		zap.Duration("elapsed", elapsed),
	)
	s.publishCompleted(ctx, order)
	return order, nil
}

func (s *OrderService) createOrder(ctx context.Context, orderID string, req domain.OrderRequest, log *zap.Logger) (*domain.Order, error) {
	log.Debug("allocation state", zap.String("state", stateStarted))

	method, err := s.validateRequest(req)
	if err != nil {
		return nil, err
	}

	quote, err := s.revalidate(ctx, req)
	if err != nil {
		return nil, err
	}
	log.Debug("allocation state", zap.String("state", stateValidated))

	exists, err := s.repo.PaymentReferenceExists(ctx, req.PaymentReference)
	if err != nil {
		return nil, domain.WrapError(domain.KindFatal, domain.ErrFatal.Message, err)
	}
	if exists {
		log.Warn("duplicate payment reference rejected")
		return nil, domain.ErrDuplicatePayment
	}

	if err := s.verifyPayment(ctx, method, req, quote, log); err != nil {
		return nil, err
	}
	log.Debug("allocation state", zap.String("state", statePaymentVerified))

	return s.allocate(ctx, orderID, req, quote, log)
}

func (s *OrderService) validateRequest(req domain.OrderRequest) (port.PaymentMethod, error) {
	if strings.TrimSpace(req.BuyerID) == "" {
		return nil, domain.NewError(domain.KindValidation, "buyer is required")
	}
	if strings.TrimSpace(req.PaymentReference) == "" {
		return nil, domain.NewError(domain.KindValidation, "payment reference is required")
	}
	if len(req.Lines) == 0 {
		return nil, domain.NewError(domain.KindValidation, "order has no items")
	}
	if req.ClaimedTotal.IsNegative() {
		return nil, domain.NewError(domain.KindValidation, "claimed total must not be negative")
	}

	seen := make(map[string]bool, len(req.Lines))
	for _, l := range req.Lines {
		if strings.TrimSpace(l.ProductID) == "" {
			return nil, domain.NewError(domain.KindValidation, "product id is required")
		}
		if l.Quantity < 1 || l.Quantity > maxLineQuantity {
			return nil, domain.NewError(domain.KindValidation,
				fmt.Sprintf("quantity for product %s must be between 1 and %d", l.ProductID, maxLineQuantity))
		}
		if seen[l.ProductID] {
			return nil, domain.NewError(domain.KindValidation,
				fmt.Sprintf("product %s appears more than once", l.ProductID))
		}
		seen[l.ProductID] = true
	}

	method, ok := s.payments.Method(req.PaymentMethod)
	if !ok {
		return nil, domain.NewError(domain.KindValidation,
			fmt.Sprintf("unsupported payment method %q", req.PaymentMethod))
	}
	return method, nil
}

// revalidate re-reads every product and prices the cart server-side.
func (s *OrderService) revalidate(ctx context.Context, req domain.OrderRequest) (domain.Quote, error) {
	products := make(map[string]*domain.Product, len(req.Lines))
	for _, l := range req.Lines {
		p, err := s.repo.GetProduct(ctx, l.ProductID)
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Quote{}, domain.NewError(domain.KindValidation, fmt.Sprintf("product %s not found", l.ProductID))
		}
		if err != nil {
			return domain.Quote{}, domain.WrapError(domain.KindFatal, domain.ErrFatal.Message, err)
		}
		if !p.Active {
			return domain.Quote{}, domain.NewError(domain.KindValidation, fmt.Sprintf("product %s is not available", l.ProductID))
		}
		products[l.ProductID] = p
	}

	quote, err := s.cfg.Pricer.Quote(req.Lines, products)
	if err != nil {
		return domain.Quote{}, err
	}
	if err := s.cfg.Pricer.CheckClaims(quote, req.Lines, req.ClaimedTotal); err != nil {
		return domain.Quote{}, err
	}

	for _, l := range quote.Lines {
		if l.Product.Stock < l.Quantity {
			return domain.Quote{}, domain.NewError(domain.KindStockUnavailable, fmt.Sprintf(
				"insufficient stock for %s: %d available, %d requested", l.Product.Name, l.Product.Stock, l.Quantity))
		}
	}
	return quote, nil
}

func (s *OrderService) verifyPayment(ctx context.Context, method port.PaymentMethod, req domain.OrderRequest, quote domain.Quote, log *zap.Logger) error {
	ctx, span := s.tracer.Start(ctx, "OrderService.verifyPayment", trace.WithAttributes(
		attribute.String("payment.method", method.Name()),
	))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.PaymentTimeout)
	defer cancel()

	v, err := method.Verify(ctx, req.PaymentReference)
	if err != nil {
		log.Warn("payment verification failed", zap.String("method", method.Name()), zap.Error(err))
		return domain.WrapError(domain.KindPaymentRejected, "payment could not be verified", err)
	}
	if !v.Succeeded {
		log.Warn("payment not successful", zap.String("status", v.Status))
		return domain.NewError(domain.KindPaymentRejected, fmt.Sprintf("payment not successful: %s", v.Status))
	}
	if v.Amount != quote.TotalPrice {
		log.Warn("payment amount mismatch", zap.Int64("paid", v.Amount), zap.Int64("expected", quote.TotalPrice))
		return domain.NewError(domain.KindPaymentMismatch, "payment amount does not match order total")
	}
	if v.Currency != "" && !strings.EqualFold(v.Currency, s.cfg.Currency) {
		log.Warn("payment currency mismatch", zap.String("paid", v.Currency), zap.String("expected", s.cfg.Currency))
		return domain.NewError(domain.KindPaymentMismatch, "payment currency does not match")
	}
	if v.PayerID != req.BuyerID {
		log.Warn("payment payer mismatch", zap.String("payer_id", v.PayerID))
		return domain.NewError(domain.KindPaymentMismatch, "payment does not belong to this user")
	}
	return nil
}

// allocate performs the reserve-and-record step with retries. Any terminal
// failure runs exactly one compensation pass before returning.
func (s *OrderService) allocate(ctx context.Context, orderID string, req domain.OrderRequest, quote domain.Quote, log *zap.Logger) (*domain.Order, error) {
	hold, err := s.claimCache(ctx, req, quote, log)
	if err != nil {
		s.compensate(orderID, hold, log)
		return nil, err
	}

	log.Debug("allocation state", zap.String("state", stateReserving))
	onRetry := func(attempt int, err error) {
		s.metrics.AllocationRetried()
		log.Info("retrying allocation after conflict", zap.Int("attempt", attempt), zap.Error(err))
	}
	order, err := withRetry(ctx, s.cfg.Retry, onRetry, func(ctx context.Context) (*domain.Order, error) {
		attemptCtx, cancel := context.WithTimeout(ctx, s.cfg.CommitTimeout)
		defer cancel()
		return s.reserveAndRecord(attemptCtx, orderID, req, quote)
	})
	if err == nil {
		log.Debug("allocation state", zap.String("state", stateCommitted))
		return order, nil
	}

	// A commit whose acknowledgement timed out may still have landed.
	if committed := s.committedOrder(orderID, err); committed != nil {
		log.Warn("allocation reported failure but order is committed", zap.Error(err))
		return committed, nil
	}

	s.compensate(orderID, hold, log)

	switch domain.KindOf(err) {
	case domain.KindStockUnavailable, domain.KindDuplicatePayment, domain.KindValidation:
		if errors.Is(err, domain.ErrDuplicatePayment) {
			log.Warn("duplicate payment reference rejected")
		}
		return nil, err
	default:
		log.Error("allocation failed", zap.Error(err))
		return nil, domain.WrapError(domain.KindFatal, domain.ErrFatal.Message, err)
	}
}

// cacheHold is what an attempt took from the Redis layer: the payment claim,
// if this attempt won it, and the lines whose cached stock it decremented.
type cacheHold struct {
	reference string
	gated     []domain.QuotedLine
}

// claimCache runs the optional Redis layer. Compensation gives back
// everything recorded in the returned hold.
func (s *OrderService) claimCache(ctx context.Context, req domain.OrderRequest, quote domain.Quote, log *zap.Logger) (cacheHold, error) {
	var hold cacheHold
	if s.cache == nil {
		return hold, nil
	}

	ok, err := s.cache.ClaimPayment(ctx, req.PaymentReference)
	if err != nil {
		log.Warn("payment claim cache unavailable", zap.Error(err))
	} else if !ok {
		log.Warn("payment reference is held by an in-flight order")
		return hold, domain.ErrDuplicatePayment
	} else {
		hold.reference = req.PaymentReference
	}

	for _, l := range quote.Lines {
		ok, err := s.cache.DecrementStock(ctx, l.Product.ID, l.Quantity)
		if err != nil {
			log.Warn("stock gate unavailable", zap.String("product_id", l.Product.ID), zap.Error(err))
			continue
		}
		if !ok {
			return hold, domain.NewError(domain.KindStockUnavailable,
				fmt.Sprintf("insufficient stock for %s", l.Product.Name))
		}
		hold.gated = append(hold.gated, l)
	}
	return hold, nil
}

func (s *OrderService) reserveAndRecord(ctx context.Context, orderID string, req domain.OrderRequest, quote domain.Quote) (*domain.Order, error) {
	now := s.now()
	order := domain.Order{
		ID:               orderID,
		BuyerID:          req.BuyerID,
		ContactEmail:     req.ContactEmail,
		PaymentMethod:    req.PaymentMethod,
		PaymentReference: req.PaymentReference,
		ItemsPrice:       quote.ItemsPrice,
		TaxPrice:         quote.TaxPrice,
		TotalPrice:       quote.TotalPrice,
		Currency:         s.cfg.Currency,
		IsPaid:           true,
		PaidAt:           now,
		Status:           domain.OrderStatusCompleted,
		CreatedAt:        now,
	}

	err := s.repo.WithinTx(ctx, func(ctx context.Context, tx port.AllocationTx) error {
		exists, err := tx.PaymentReferenceExists(ctx, req.PaymentReference)
		if err != nil {
			return err
		}
		if exists {
			return domain.ErrDuplicatePayment
		}

		order.Lines = make([]domain.OrderLine, 0, len(quote.Lines))
		for _, ql := range quote.Lines {
			line := domain.OrderLine{
				ProductID:   ql.Product.ID,
				ProductName: ql.Product.Name,
				Quantity:    ql.Quantity,
				UnitPrice:   ql.UnitPrice,
			}
			for i := 0; i < ql.Quantity; i++ {
				item, err := tx.ReserveOldestAvailable(ctx, ql.Product.ID, req.BuyerID, orderID)
				if err != nil {
					return err
				}
				line.DeliveredItems = append(line.DeliveredItems, domain.DeliveredItem{
					InventoryItemID: item.ID,
					DeliveredAt:     now,
				})
			}
			order.Lines = append(order.Lines, line)
		}

		if err := tx.InsertOrder(ctx, order); err != nil {
			return err
		}
		sold, err := tx.MarkSold(ctx, orderID, req.BuyerID, now)
		if err != nil {
			return err
		}
		if sold != order.Quantity() {
			return fmt.Errorf("marked %d items sold, order needs %d", sold, order.Quantity())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (s *OrderService) committedOrder(orderID string, err error) *domain.Order {
	if !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), compensationTimeout)
	defer cancel()
	order, getErr := s.repo.GetOrder(ctx, orderID)
	if getErr != nil {
		return nil
	}
	return order
}

// compensate undoes what an aborted allocation may have left behind. It uses
// its own context so a cancelled request still cleans up. The payment claim
// is dropped too: the orders table alone decides whether a reference is used.
func (s *OrderService) compensate(orderID string, hold cacheHold, log *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), compensationTimeout)
	defer cancel()

	ok := true
	released, err := s.repo.ReleaseOrder(ctx, orderID)
	if err != nil {
		ok = false
		log.Error("compensation: release reserved items failed", zap.Error(err))
	} else if released > 0 {
		log.Warn("compensation: released reserved items", zap.Int("items", released))
	}

	for _, l := range hold.gated {
		if err := s.cache.IncrementStock(ctx, l.Product.ID, l.Quantity); err != nil {
			ok = false
			log.Error("compensation: restore cached stock failed",
				zap.String("product_id", l.Product.ID),
				zap.Int("quantity", l.Quantity),
				zap.Error(err),
			)
		}
	}
	if hold.reference != "" {
		if err := s.cache.ReleasePayment(ctx, hold.reference); err != nil {
			ok = false
			log.Error("compensation: release payment claim failed", zap.Error(err))
		}
	}
	s.metrics.Compensated(ok)
}

func (s *OrderService) publishCompleted(ctx context.Context, order *domain.Order) {
	lines := make([]map[string]any, 0, len(order.Lines))
	for _, l := range order.Lines {
		lines = append(lines, map[string]any{
			"product_id": l.ProductID,
			"quantity":   l.Quantity,
			"unit_price": l.UnitPrice,
		})
	}
	event := domain.Event{
		ID:         uuid.NewString(),
		Type:       domain.EventTypeOrderCompleted,
		Version:    "1.0.0",
		OccurredAt: s.now(),
		Payload: map[string]any{
			"order_id":    order.ID,
			"buyer_id":    order.BuyerID,
			"total_price": order.TotalPrice,
			"currency":    order.Currency,
			"lines":       lines,
		},
	}
	if err := s.events.Publish(ctx, event); err != nil {
		s.log.Warn("failed to enqueue order event", zap.String("order_id", order.ID), zap.Error(err))
	}
}

// ListOrders returns the buyer's orders, newest first. Plaintext is never
// included.
func (s *OrderService) ListOrders(ctx context.Context, buyerID string) ([]domain.Order, error) {
	if strings.TrimSpace(buyerID) == "" {
		return nil, domain.NewError(domain.KindValidation, "buyer is required")
	}
	orders, err := s.repo.ListOrdersByBuyer(ctx, buyerID)
	if err != nil {
		return nil, domain.WrapError(domain.KindFatal, domain.ErrFatal.Message, err)
	}
	return orders, nil
}

// GetOrder returns order metadata to its buyer or an admin.
func (s *OrderService) GetOrder(ctx context.Context, orderID string, requester domain.Requester) (*domain.Order, error) {
	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !requester.Admin && order.BuyerID != requester.UserID {
		return nil, domain.NewError(domain.KindForbidden, "not authorized to view this order")
	}
	return order, nil
}
