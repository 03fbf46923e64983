package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rl1809/keydrop/internal/core/domain"
)

const orphanedReservation = `order_id NOT IN (SELECT id FROM orders)`

// ReleaseOrphanedReservations frees committed reservations that no order row
// backs, e.g. left by a crash between reserve and compensation.
func (s *SQLStore) ReleaseOrphanedReservations(ctx context.Context) (int, error) {
	var released int
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		counts, err := reservedCounts(ctx, tx, orphanedReservation)
		if err != nil {
			return err
		}
		if len(counts) == 0 {
			return nil
		}
		result, err := tx.ExecContext(ctx, `
			UPDATE inventory_items
			SET status = 'available', reserved_by = '', order_id = ''
			WHERE status = 'reserved' AND `+orphanedReservation)
		if err != nil {
			return classify(err, "release orphaned items")
		}
		rows, _ := result.RowsAffected()
		released = int(rows)
		return restoreStock(ctx, tx, counts, s.now())
	})
	return released, err
}

// RecomputeStock resets every product's stock counter to its available count.
func (s *SQLStore) RecomputeStock(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE products SET stock = (
			SELECT COUNT(*) FROM inventory_items i
			WHERE i.product_id = products.id AND i.status = 'available'
		)`)
	return classify(err, "recompute stock")
}

func (s *SQLStore) CheckInvariants(ctx context.Context) (domain.InvariantReport, error) {
	var report domain.InvariantReport
	var err error

	report.UnreferencedItems, err = s.queryIDs(ctx, `
		SELECT i.id FROM inventory_items i
		LEFT JOIN order_items oi ON oi.item_id = i.id
		WHERE i.status IN ('reserved', 'sold') AND oi.item_id IS NULL
		ORDER BY i.seq`)
	if err != nil {
		return report, err
	}

	report.MismatchedItems, err = s.queryIDs(ctx, `
		SELECT oi.item_id FROM order_items oi
		LEFT JOIN inventory_items i ON i.id = oi.item_id
		WHERE i.id IS NULL OR i.status <> 'sold' OR i.order_id <> oi.order_id
		ORDER BY oi.item_id`)
	if err != nil {
		return report, err
	}

	report.StockDrift, err = s.queryIDs(ctx, `
		SELECT p.id FROM products p
		WHERE p.stock <> (
			SELECT COUNT(*) FROM inventory_items i
			WHERE i.product_id = p.id AND i.status = 'available'
		)
		ORDER BY p.id`)
	return report, err
}

func (s *SQLStore) queryIDs(ctx context.Context, query string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, classify(err, "invariant query")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
