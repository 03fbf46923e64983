package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rl1809/keydrop/internal/core/domain"
)

const productColumns = `id, name, price, currency, active, product_type, delivery_instructions,
	stock, total_sold, created_at, updated_at`

func scanProduct(row interface{ Scan(...any) error }) (*domain.Product, error) {
	var p domain.Product
	var active int
	var productType string
	var createdAt, updatedAt int64
	if err := row.Scan(&p.ID, &p.Name, &p.Price, &p.Currency, &active, &productType,
		&p.DeliveryInstructions, &p.Stock, &p.TotalSold, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	p.Active = active != 0
	p.ProductType = domain.ProductType(productType)
	p.CreatedAt = fromMillis(createdAt)
	p.UpdatedAt = fromMillis(updatedAt)
	return &p, nil
}

func (s *SQLStore) GetProduct(ctx context.Context, productID string) (*domain.Product, error) {
	p, err := scanProduct(s.db.QueryRowContext(ctx,
		`SELECT `+productColumns+` FROM products WHERE id = ?`, productID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewError(domain.KindNotFound, fmt.Sprintf("product %s not found", productID))
	}
	if err != nil {
		return nil, classify(err, "query product")
	}
	return p, nil
}

func (s *SQLStore) CreateProduct(ctx context.Context, p domain.Product) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (`+productColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.Price, p.Currency, boolToInt(p.Active), string(p.ProductType),
		p.DeliveryInstructions, 0, 0, toMillis(p.CreatedAt), toMillis(p.UpdatedAt),
	)
	if isUniqueViolation(err) {
		return domain.WrapError(domain.KindValidation, fmt.Sprintf("product %s already exists", p.ID), err)
	}
	return classify(err, "insert product")
}

func (s *SQLStore) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+productColumns+` FROM products ORDER BY id`)
	if err != nil {
		return nil, classify(err, "list products")
	}
	defer rows.Close()

	var products []domain.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, *p)
	}
	return products, rows.Err()
}

// AddItems inserts available items and raises each product's stock in the
// same transaction.
func (s *SQLStore) AddItems(ctx context.Context, items []domain.InventoryItem) error {
	if len(items) == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		counts := map[string]int{}
		for _, item := range items {
			if _, seen := counts[item.ProductID]; !seen {
				var n int
				if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM products WHERE id = ?`, item.ProductID).Scan(&n); err != nil {
					return classify(err, "check product")
				}
				if n == 0 {
					return domain.NewError(domain.KindNotFound, fmt.Sprintf("product %s not found", item.ProductID))
				}
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO inventory_items (id, product_id, encrypted_payload, status, added_by, created_at)
				VALUES (?, ?, ?, 'available', ?, ?)`,
				item.ID, item.ProductID, item.EncryptedPayload, item.AddedBy, toMillis(item.CreatedAt),
			); err != nil {
				return classify(err, "insert item")
			}
			counts[item.ProductID]++
		}
		return restoreStock(ctx, tx, counts, s.now())
	})
}

func (s *SQLStore) GetItem(ctx context.Context, itemID string) (*domain.InventoryItem, error) {
	var item domain.InventoryItem
	var status string
	var createdAt, soldAt int64
	err := s.db.QueryRowContext(ctx, `
		SELECT seq, id, product_id, encrypted_payload, status, reserved_by, sold_to, order_id, added_by, created_at, sold_at
		FROM inventory_items WHERE id = ?`, itemID,
	).Scan(&item.Seq, &item.ID, &item.ProductID, &item.EncryptedPayload, &status, &item.ReservedBy,
		&item.SoldTo, &item.OrderID, &item.AddedBy, &createdAt, &soldAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewError(domain.KindNotFound, fmt.Sprintf("item %s not found", itemID))
	}
	if err != nil {
		return nil, classify(err, "query item")
	}
	item.Status = domain.ItemStatus(status)
	item.CreatedAt = fromMillis(createdAt)
	item.SoldAt = fromMillis(soldAt)
	return &item, nil
}

func (s *SQLStore) InventoryStats(ctx context.Context, productID string) (domain.InventoryStats, error) {
	if _, err := s.GetProduct(ctx, productID); err != nil {
		return domain.InventoryStats{}, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM inventory_items
		WHERE product_id = ?
		GROUP BY status`, productID)
	if err != nil {
		return domain.InventoryStats{}, classify(err, "inventory stats")
	}
	defer rows.Close()

	stats := domain.InventoryStats{ProductID: productID}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return domain.InventoryStats{}, fmt.Errorf("scan stats: %w", err)
		}
		switch domain.ItemStatus(status) {
		case domain.ItemStatusAvailable:
			stats.Available = n
		case domain.ItemStatusReserved:
			stats.Reserved = n
		case domain.ItemStatusSold:
			stats.Sold = n
		}
		stats.Total += n
	}
	return stats, rows.Err()
}
