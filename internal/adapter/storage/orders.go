package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rl1809/keydrop/internal/core/domain"
)

const orderColumns = `id, buyer_id, contact_email, payment_method, payment_reference,
	items_price, tax_price, total_price, currency, is_paid, paid_at, status, created_at`

func scanOrder(row interface{ Scan(...any) error }) (*domain.Order, error) {
	var o domain.Order
	var isPaid int
	var status string
	var paidAt, createdAt int64
	if err := row.Scan(&o.ID, &o.BuyerID, &o.ContactEmail, &o.PaymentMethod, &o.PaymentReference,
		&o.ItemsPrice, &o.TaxPrice, &o.TotalPrice, &o.Currency, &isPaid, &paidAt, &status, &createdAt); err != nil {
		return nil, err
	}
	o.IsPaid = isPaid != 0
	o.PaidAt = fromMillis(paidAt)
	o.Status = domain.OrderStatus(status)
	o.CreatedAt = fromMillis(createdAt)
	return &o, nil
}

func (s *SQLStore) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	o, err := scanOrder(s.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, orderID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewError(domain.KindNotFound, fmt.Sprintf("order %s not found", orderID))
	}
	if err != nil {
		return nil, classify(err, "query order")
	}
	if err := s.loadLines(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

// ListOrdersByBuyer returns the buyer's orders, newest first.
func (s *SQLStore) ListOrdersByBuyer(ctx context.Context, buyerID string) ([]domain.Order, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE buyer_id = ?
		ORDER BY created_at DESC, id`, buyerID)
	if err != nil {
		return nil, classify(err, "list orders")
	}

	var orders []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, *o)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate orders: %w", err)
	}
	rows.Close()

	for i := range orders {
		if err := s.loadLines(ctx, &orders[i]); err != nil {
			return nil, err
		}
	}
	return orders, nil
}

func (s *SQLStore) loadLines(ctx context.Context, o *domain.Order) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT product_id, product_name, quantity, unit_price
		FROM order_lines WHERE order_id = ? ORDER BY line_no`, o.ID)
	if err != nil {
		return classify(err, "query order lines")
	}
	for rows.Next() {
		var l domain.OrderLine
		if err := rows.Scan(&l.ProductID, &l.ProductName, &l.Quantity, &l.UnitPrice); err != nil {
			rows.Close()
			return fmt.Errorf("scan order line: %w", err)
		}
		o.Lines = append(o.Lines, l)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("iterate order lines: %w", err)
	}
	rows.Close()

	items, err := s.db.QueryContext(ctx, `
		SELECT line_no, item_id, delivered_at, viewed, viewed_at
		FROM order_items WHERE order_id = ? ORDER BY line_no, position`, o.ID)
	if err != nil {
		return classify(err, "query delivered items")
	}
	defer items.Close()
	for items.Next() {
		var lineNo, viewed int
		var d domain.DeliveredItem
		var deliveredAt, viewedAt int64
		if err := items.Scan(&lineNo, &d.InventoryItemID, &deliveredAt, &viewed, &viewedAt); err != nil {
			return fmt.Errorf("scan delivered item: %w", err)
		}
		if lineNo < 0 || lineNo >= len(o.Lines) {
			return fmt.Errorf("delivered item %s references missing line %d", d.InventoryItemID, lineNo)
		}
		d.DeliveredAt = fromMillis(deliveredAt)
		d.Viewed = viewed != 0
		d.ViewedAt = fromMillis(viewedAt)
		o.Lines[lineNo].DeliveredItems = append(o.Lines[lineNo].DeliveredItems, d)
	}
	return items.Err()
}

// MarkItemViewed flips viewed once. It reports whether this call flipped it.
func (s *SQLStore) MarkItemViewed(ctx context.Context, orderID, itemID string, at time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE order_items SET viewed = 1, viewed_at = ?
		WHERE order_id = ? AND item_id = ? AND viewed = 0`,
		toMillis(at), orderID, itemID,
	)
	if err != nil {
		return false, classify(err, "mark item viewed")
	}
	rows, _ := result.RowsAffected()
	return rows > 0, nil
}
