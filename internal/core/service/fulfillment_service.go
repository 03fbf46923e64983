package service

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/rl1809/keydrop/internal/core/domain"
	"github.com/rl1809/keydrop/internal/metrics"
	"github.com/rl1809/keydrop/internal/port"
)

// UndecryptablePlaceholder replaces the content of an item that cannot be
// read back.
const UndecryptablePlaceholder = "unable to decrypt item, contact support"

// FulfillmentService hands delivered items back to their buyer in plaintext.
type FulfillmentService struct {
	repo    port.DatabaseRepository
	secrets port.SecretStore
	log     *zap.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
	now     func() time.Time
}

func NewFulfillmentService(repo port.DatabaseRepository, secrets port.SecretStore, log *zap.Logger, m *metrics.Metrics) *FulfillmentService {
	return &FulfillmentService{
		repo:    repo,
		secrets: secrets,
		log:     log,
		metrics: m,
		tracer:  otel.Tracer(tracerName),
		now:     time.Now,
	}
}

// GetDeliveredItems decrypts every item of a paid order for its buyer. Admins
// get no plaintext. An item that cannot be decrypted is reported with a
// placeholder instead of failing the response, and the first successful read
// of an item marks it viewed.
func (s *FulfillmentService) GetDeliveredItems(ctx context.Context, orderID string, requester domain.Requester) ([]domain.DeliveredContent, error) {
	ctx, span := s.tracer.Start(ctx, "FulfillmentService.GetDeliveredItems", trace.WithAttributes(
		attribute.String("order.id", orderID),
	))
	defer span.End()

	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.BuyerID != requester.UserID {
		s.log.Warn("delivered items requested by non-owner",
			zap.String("order_id", orderID),
			zap.String("requester_id", requester.UserID),
			zap.Bool("admin", requester.Admin),
		)
		return nil, domain.NewError(domain.KindForbidden, "not authorized to view these items")
	}
	if !order.IsPaid {
		return nil, domain.NewError(domain.KindValidation, "order is not paid yet")
	}

	instructions := map[string]string{}
	var contents []domain.DeliveredContent
	for _, line := range order.Lines {
		if _, ok := instructions[line.ProductID]; !ok {
			if p, err := s.repo.GetProduct(ctx, line.ProductID); err == nil {
				instructions[line.ProductID] = p.DeliveryInstructions
			} else {
				instructions[line.ProductID] = ""
			}
		}

		for _, d := range line.DeliveredItems {
			content := domain.DeliveredContent{
				InventoryItemID: d.InventoryItemID,
				ProductID:       line.ProductID,
				ProductName:     line.ProductName,
				Instructions:    instructions[line.ProductID],
				DeliveredAt:     d.DeliveredAt,
				Viewed:          d.Viewed,
			}

			plaintext, err := s.open(ctx, orderID, d.InventoryItemID)
			if err != nil {
				s.metrics.CorruptPayloadRead()
				s.log.Error("unable to decrypt delivered item",
					zap.String("order_id", orderID),
					zap.String("item_id", d.InventoryItemID),
					zap.Error(err),
				)
				content.Content = UndecryptablePlaceholder
				content.Corrupt = true
				contents = append(contents, content)
				continue
			}
			content.Content = string(plaintext)

			if !d.Viewed {
				if _, err := s.repo.MarkItemViewed(ctx, orderID, d.InventoryItemID, s.now()); err != nil {
					s.log.Warn("failed to mark item viewed",
						zap.String("order_id", orderID),
						zap.String("item_id", d.InventoryItemID),
						zap.Error(err),
					)
				}
			}
			contents = append(contents, content)
		}
	}
	return contents, nil
}

// open decrypts an item only while it is still sold to this order.
func (s *FulfillmentService) open(ctx context.Context, orderID, itemID string) ([]byte, error) {
	item, err := s.repo.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item.Status != domain.ItemStatusSold || item.OrderID != orderID {
		return nil, domain.NewError(domain.KindCorruptPayload, fmt.Sprintf(
			"item %s is %s for order %q, not sold to %s", itemID, item.Status, item.OrderID, orderID))
	}
	return s.secrets.Open(item.EncryptedPayload)
}
