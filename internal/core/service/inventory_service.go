package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rl1809/keydrop/internal/core/domain"
	"github.com/rl1809/keydrop/internal/metrics"
	"github.com/rl1809/keydrop/internal/port"
)

const maxItemsPerUpload = 1000

// InventoryService is the admin side of the pool: products, sealed items,
// stats and reconciliation. It never returns ciphertext or plaintext.
type InventoryService struct {
	repo     port.DatabaseRepository
	cache    port.CacheRepository // optional
	secrets  port.SecretStore
	events   port.EventPublisher
	currency string
	log      *zap.Logger
	metrics  *metrics.Metrics

	now   func() time.Time
	newID func() string
}

func NewInventoryService(
	repo port.DatabaseRepository,
	cache port.CacheRepository,
	secrets port.SecretStore,
	events port.EventPublisher,
	currency string,
	log *zap.Logger,
	m *metrics.Metrics,
) *InventoryService {
	return &InventoryService{
		repo:     repo,
		cache:    cache,
		secrets:  secrets,
		events:   events,
		currency: currency,
		log:      log,
		metrics:  m,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

type ProductInput struct {
	ID                   string
	Name                 string
	Price                int64
	ProductType          domain.ProductType
	DeliveryInstructions string
}

func (s *InventoryService) CreateProduct(ctx context.Context, in ProductInput) (*domain.Product, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, domain.NewError(domain.KindValidation, "product name is required")
	}
	if in.Price <= 0 {
		return nil, domain.NewError(domain.KindValidation, "price must be positive")
	}
	switch in.ProductType {
	case domain.ProductTypeKey, domain.ProductTypeAccount, domain.ProductTypeCode, domain.ProductTypeLink:
	case "":
		in.ProductType = domain.ProductTypeCode
	default:
		return nil, domain.NewError(domain.KindValidation, fmt.Sprintf("unknown product type %q", in.ProductType))
	}
	if in.ID == "" {
		in.ID = s.newID()
	}

	now := s.now()
	p := domain.Product{
		ID:                   in.ID,
		Name:                 strings.TrimSpace(in.Name),
		Price:                in.Price,
		Currency:             s.currency,
		Active:               true,
		ProductType:          in.ProductType,
		DeliveryInstructions: in.DeliveryInstructions,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if err := s.repo.CreateProduct(ctx, p); err != nil {
		return nil, err
	}
	s.log.Info("product created", zap.String("product_id", p.ID), zap.Int64("price", p.Price))
	return &p, nil
}

func (s *InventoryService) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx)
}

// AddInventoryItems seals each plaintext and stores it as an available item.
// Empty entries are rejected before anything is written.
func (s *InventoryService) AddInventoryItems(ctx context.Context, productID string, plaintexts []string, addedBy string) (domain.InventoryStats, error) {
	if len(plaintexts) == 0 {
		return domain.InventoryStats{}, domain.NewError(domain.KindValidation, "items are required")
	}
	if len(plaintexts) > maxItemsPerUpload {
		return domain.InventoryStats{}, domain.NewError(domain.KindValidation,
			fmt.Sprintf("at most %d items per upload", maxItemsPerUpload))
	}

	now := s.now()
	items := make([]domain.InventoryItem, 0, len(plaintexts))
	for i, raw := range plaintexts {
		content := strings.TrimSpace(raw)
		if content == "" {
			return domain.InventoryStats{}, domain.NewError(domain.KindValidation,
				fmt.Sprintf("item %d is empty", i+1))
		}
		sealed, err := s.secrets.Seal([]byte(content))
		if err != nil {
			return domain.InventoryStats{}, domain.WrapError(domain.KindFatal, "failed to seal item", err)
		}
		items = append(items, domain.InventoryItem{
			ID:               s.newID(),
			ProductID:        productID,
			EncryptedPayload: sealed,
			Status:           domain.ItemStatusAvailable,
			AddedBy:          addedBy,
			CreatedAt:        now,
		})
	}

	if err := s.repo.AddItems(ctx, items); err != nil {
		return domain.InventoryStats{}, err
	}
	s.metrics.ItemsAdded(len(items))

	if s.cache != nil {
		if err := s.cache.IncrementStock(ctx, productID, len(items)); err != nil {
			s.log.Warn("failed to raise cached stock", zap.String("product_id", productID), zap.Error(err))
		}
	}

	stats, err := s.repo.InventoryStats(ctx, productID)
	if err != nil {
		return domain.InventoryStats{}, err
	}
	s.log.Info("inventory items added",
		zap.String("product_id", productID),
		zap.String("added_by", addedBy),
		zap.Int("count", len(items)),
		zap.Int("available", stats.Available),
	)

	event := domain.Event{
		ID:         uuid.NewString(),
		Type:       domain.EventTypeInventoryAdded,
		Version:    "1.0.0",
		OccurredAt: now,
		Payload: map[string]any{
			"product_id": productID,
			"added":      len(items),
			"available":  stats.Available,
		},
	}
	if err := s.events.Publish(ctx, event); err != nil {
		s.log.Warn("failed to enqueue inventory event", zap.String("product_id", productID), zap.Error(err))
	}
	return stats, nil
}

func (s *InventoryService) GetInventoryStats(ctx context.Context, productID string) (domain.InventoryStats, error) {
	return s.repo.InventoryStats(ctx, productID)
}

type ReconcileResult struct {
	Released    int                    `json:"released"`
	CacheSynced int                    `json:"cache_synced"`
	Report      domain.InvariantReport `json:"report"`
}

// Reconcile frees reservations no order backs, recomputes stock counters and
// pushes them into the stock gate, then reports whatever still breaks the
// invariants.
func (s *InventoryService) Reconcile(ctx context.Context) (ReconcileResult, error) {
	released, err := s.repo.ReleaseOrphanedReservations(ctx)
	if err != nil {
		return ReconcileResult{}, fmt.Errorf("release orphaned reservations: %w", err)
	}
	if err := s.repo.RecomputeStock(ctx); err != nil {
		return ReconcileResult{}, fmt.Errorf("recompute stock: %w", err)
	}
	synced, err := s.SyncCache(ctx)
	if err != nil {
		return ReconcileResult{}, fmt.Errorf("sync stock cache: %w", err)
	}
	report, err := s.repo.CheckInvariants(ctx)
	if err != nil {
		return ReconcileResult{}, fmt.Errorf("check invariants: %w", err)
	}

	if released > 0 {
		s.log.Warn("released orphaned reservations", zap.Int("items", released))
	}
	if !report.OK() {
		s.log.Error("inventory invariants violated after reconcile",
			zap.Strings("unreferenced_items", report.UnreferencedItems),
			zap.Strings("mismatched_items", report.MismatchedItems),
			zap.Strings("stock_drift", report.StockDrift),
		)
	}
	return ReconcileResult{Released: released, CacheSynced: synced, Report: report}, nil
}

func (s *InventoryService) CheckInvariants(ctx context.Context) (domain.InvariantReport, error) {
	return s.repo.CheckInvariants(ctx)
}

// SyncCache overwrites the cached stock gate with authoritative counts.
func (s *InventoryService) SyncCache(ctx context.Context) (int, error) {
	if s.cache == nil {
		return 0, nil
	}
	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return 0, err
	}
	for _, p := range products {
		if err := s.cache.SetStock(ctx, p.ID, p.Stock); err != nil {
			return 0, fmt.Errorf("set cached stock for %s: %w", p.ID, err)
		}
	}
	s.log.Info("synced stock cache", zap.Int("products", len(products)))
	return len(products), nil
}
