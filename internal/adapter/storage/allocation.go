package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rl1809/keydrop/internal/core/domain"
)

type allocationTx struct {
	tx       *sql.Tx
	dialect  Dialect
	reserved map[string]int // product id -> units reserved in this tx
}

// oldestAvailableQuery picks the next item to reserve. On MySQL the read
// locks the row and skips rows other allocators hold, so concurrent buyers
// spread over the pool instead of all queueing on the oldest item. SQLite
// transactions are already serialized by BEGIN IMMEDIATE.
func oldestAvailableQuery(dialect Dialect) string {
	query := `
		SELECT seq, id, encrypted_payload, added_by, created_at
		FROM inventory_items
		WHERE product_id = ? AND status = 'available'
		ORDER BY seq
		LIMIT 1`
	if dialect == DialectMySQL {
		query += `
		FOR UPDATE SKIP LOCKED`
	}
	return query
}

func (a *allocationTx) PaymentReferenceExists(ctx context.Context, reference string) (bool, error) {
	return paymentReferenceExists(ctx, a.tx, reference)
}

func (a *allocationTx) ReserveOldestAvailable(ctx context.Context, productID, buyerID, orderID string) (domain.InventoryItem, error) {
	item := domain.InventoryItem{ProductID: productID}
	var createdAt int64
	err := a.tx.QueryRowContext(ctx, oldestAvailableQuery(a.dialect), productID).Scan(&item.Seq, &item.ID, &item.EncryptedPayload, &item.AddedBy, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.InventoryItem{}, domain.NewError(domain.KindStockUnavailable,
			fmt.Sprintf("no available items for product %s", productID))
	}
	if err != nil {
		return domain.InventoryItem{}, classify(err, "select available item")
	}

	result, err := a.tx.ExecContext(ctx, `
		UPDATE inventory_items
		SET status = 'reserved', reserved_by = ?, order_id = ?
		WHERE id = ? AND status = 'available'`,
		buyerID, orderID, item.ID,
	)
	if err != nil {
		return domain.InventoryItem{}, classify(err, "reserve item")
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.InventoryItem{}, domain.NewError(domain.KindTransientConflict,
			fmt.Sprintf("item %s was taken by a concurrent order", item.ID))
	}

	if _, err := a.tx.ExecContext(ctx, `
		UPDATE products SET stock = stock - 1 WHERE id = ?`, productID,
	); err != nil {
		return domain.InventoryItem{}, classify(err, "decrement stock")
	}

	a.reserved[productID]++
	item.Status = domain.ItemStatusReserved
	item.ReservedBy = buyerID
	item.OrderID = orderID
	item.CreatedAt = fromMillis(createdAt)
	return item, nil
}

func (a *allocationTx) InsertOrder(ctx context.Context, order domain.Order) error {
	_, err := a.tx.ExecContext(ctx, `
		INSERT INTO orders (id, buyer_id, contact_email, payment_method, payment_reference,
			items_price, tax_price, total_price, currency, is_paid, paid_at, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		order.ID, order.BuyerID, order.ContactEmail, order.PaymentMethod, order.PaymentReference,
		order.ItemsPrice, order.TaxPrice, order.TotalPrice, order.Currency,
		boolToInt(order.IsPaid), toMillis(order.PaidAt), string(order.Status), toMillis(order.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.WrapError(domain.KindDuplicatePayment,
				domain.ErrDuplicatePayment.Message, err)
		}
		return classify(err, "insert order")
	}

	for i, line := range order.Lines {
		if _, err := a.tx.ExecContext(ctx, `
			INSERT INTO order_lines (order_id, line_no, product_id, product_name, quantity, unit_price)
			VALUES (?, ?, ?, ?, ?, ?)`,
			order.ID, i, line.ProductID, line.ProductName, line.Quantity, line.UnitPrice,
		); err != nil {
			return classify(err, "insert order line")
		}
		for j, d := range line.DeliveredItems {
			if _, err := a.tx.ExecContext(ctx, `
				INSERT INTO order_items (order_id, line_no, position, item_id, delivered_at, viewed, viewed_at)
				VALUES (?, ?, ?, ?, ?, ?, ?)`,
				order.ID, i, j, d.InventoryItemID, toMillis(d.DeliveredAt), boolToInt(d.Viewed), toMillis(d.ViewedAt),
			); err != nil {
				if isUniqueViolation(err) {
					return domain.WrapError(domain.KindTransientConflict,
						fmt.Sprintf("item %s already delivered", d.InventoryItemID), err)
				}
				return classify(err, "insert delivered item")
			}
		}
	}
	return nil
}

func (a *allocationTx) MarkSold(ctx context.Context, orderID, buyerID string, at time.Time) (int, error) {
	result, err := a.tx.ExecContext(ctx, `
		UPDATE inventory_items
		SET status = 'sold', sold_to = ?, sold_at = ?
		WHERE order_id = ? AND status = 'reserved'`,
		buyerID, toMillis(at), orderID,
	)
	if err != nil {
		return 0, classify(err, "mark items sold")
	}
	rows, _ := result.RowsAffected()

	for productID, n := range a.reserved {
		if _, err := a.tx.ExecContext(ctx, `
			UPDATE products SET total_sold = total_sold + ?, updated_at = ? WHERE id = ?`,
			n, toMillis(at), productID,
		); err != nil {
			return 0, classify(err, "bump total sold")
		}
	}
	return int(rows), nil
}

// ReleaseOrder returns items reserved for orderID to available when no order
// row was committed for it. Repeated calls are no-ops.
func (s *SQLStore) ReleaseOrder(ctx context.Context, orderID string) (int, error) {
	var released int
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders WHERE id = ?`, orderID).Scan(&exists)
		if err != nil {
			return classify(err, "check order")
		}
		if exists > 0 {
			return nil
		}

		counts, err := reservedCounts(ctx, tx, `order_id = ?`, orderID)
		if err != nil {
			return err
		}
		if len(counts) == 0 {
			return nil
		}

		result, err := tx.ExecContext(ctx, `
			UPDATE inventory_items
			SET status = 'available', reserved_by = '', order_id = ''
			WHERE order_id = ? AND status = 'reserved'`, orderID,
		)
		if err != nil {
			return classify(err, "release items")
		}
		rows, _ := result.RowsAffected()
		released = int(rows)

		return restoreStock(ctx, tx, counts, s.now())
	})
	return released, err
}

func reservedCounts(ctx context.Context, q querier, where string, args ...any) (map[string]int, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT product_id, COUNT(*) FROM inventory_items
		WHERE status = 'reserved' AND `+where+`
		GROUP BY product_id`, args...)
	if err != nil {
		return nil, classify(err, "count reserved items")
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var productID string
		var n int
		if err := rows.Scan(&productID, &n); err != nil {
			return nil, fmt.Errorf("scan reserved count: %w", err)
		}
		counts[productID] = n
	}
	return counts, rows.Err()
}

func restoreStock(ctx context.Context, q querier, counts map[string]int, at time.Time) error {
	for productID, n := range counts {
		if _, err := q.ExecContext(ctx, `
			UPDATE products SET stock = stock + ?, updated_at = ? WHERE id = ?`,
			n, toMillis(at), productID,
		); err != nil {
			return classify(err, "restore stock")
		}
	}
	return nil
}

func paymentReferenceExists(ctx context.Context, q querier, reference string) (bool, error) {
	var n int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders WHERE payment_reference = ?`, reference).Scan(&n); err != nil {
		return false, classify(err, "check payment reference")
	}
	return n > 0, nil
}

func (s *SQLStore) PaymentReferenceExists(ctx context.Context, reference string) (bool, error) {
	return paymentReferenceExists(ctx, s.db, reference)
}
