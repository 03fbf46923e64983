package storage

import (
	"context"
	"fmt"
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS products (
		id VARCHAR(64) PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		price BIGINT NOT NULL,
		currency VARCHAR(8) NOT NULL,
		active INTEGER NOT NULL DEFAULT 1,
		product_type VARCHAR(16) NOT NULL,
		delivery_instructions TEXT NOT NULL,
		stock INTEGER NOT NULL DEFAULT 0,
		total_sold INTEGER NOT NULL DEFAULT 0,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS inventory_items (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id VARCHAR(64) NOT NULL UNIQUE,
		product_id VARCHAR(64) NOT NULL REFERENCES products(id),
		encrypted_payload TEXT NOT NULL,
		status VARCHAR(16) NOT NULL,
		reserved_by VARCHAR(64) NOT NULL DEFAULT '',
		sold_to VARCHAR(64) NOT NULL DEFAULT '',
		order_id VARCHAR(64) NOT NULL DEFAULT '',
		added_by VARCHAR(64) NOT NULL DEFAULT '',
		created_at BIGINT NOT NULL,
		sold_at BIGINT NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_items_product_status ON inventory_items (product_id, status, seq)`,
	`CREATE INDEX IF NOT EXISTS idx_items_order ON inventory_items (order_id)`,
	`CREATE TABLE IF NOT EXISTS orders (
		id VARCHAR(64) PRIMARY KEY,
		buyer_id VARCHAR(64) NOT NULL,
		contact_email VARCHAR(255) NOT NULL DEFAULT '',
		payment_method VARCHAR(32) NOT NULL,
		payment_reference VARCHAR(255) NOT NULL,
		items_price BIGINT NOT NULL,
		tax_price BIGINT NOT NULL,
		total_price BIGINT NOT NULL,
		currency VARCHAR(8) NOT NULL,
		is_paid INTEGER NOT NULL DEFAULT 0,
		paid_at BIGINT NOT NULL DEFAULT 0,
		status VARCHAR(16) NOT NULL,
		created_at BIGINT NOT NULL,
		CONSTRAINT uq_orders_payment_reference UNIQUE (payment_reference)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_buyer ON orders (buyer_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS order_lines (
		order_id VARCHAR(64) NOT NULL REFERENCES orders(id),
		line_no INTEGER NOT NULL,
		product_id VARCHAR(64) NOT NULL,
		product_name VARCHAR(255) NOT NULL,
		quantity INTEGER NOT NULL,
		unit_price BIGINT NOT NULL,
		PRIMARY KEY (order_id, line_no)
	)`,
	`CREATE TABLE IF NOT EXISTS order_items (
		order_id VARCHAR(64) NOT NULL REFERENCES orders(id),
		line_no INTEGER NOT NULL,
		position INTEGER NOT NULL,
		item_id VARCHAR(64) NOT NULL UNIQUE,
		delivered_at BIGINT NOT NULL,
		viewed INTEGER NOT NULL DEFAULT 0,
		viewed_at BIGINT NOT NULL DEFAULT 0,
		PRIMARY KEY (order_id, item_id)
	)`,
}

// MySQL has no CREATE INDEX IF NOT EXISTS, so indexes live in the tables.
var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS products (
		id VARCHAR(64) PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		price BIGINT NOT NULL,
		currency VARCHAR(8) NOT NULL,
		active TINYINT NOT NULL DEFAULT 1,
		product_type VARCHAR(16) NOT NULL,
		delivery_instructions TEXT NOT NULL,
		stock INT NOT NULL DEFAULT 0,
		total_sold INT NOT NULL DEFAULT 0,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS inventory_items (
		seq BIGINT AUTO_INCREMENT PRIMARY KEY,
		id VARCHAR(64) NOT NULL,
		product_id VARCHAR(64) NOT NULL,
		encrypted_payload TEXT NOT NULL,
		status VARCHAR(16) NOT NULL,
		reserved_by VARCHAR(64) NOT NULL DEFAULT '',
		sold_to VARCHAR(64) NOT NULL DEFAULT '',
		order_id VARCHAR(64) NOT NULL DEFAULT '',
		added_by VARCHAR(64) NOT NULL DEFAULT '',
		created_at BIGINT NOT NULL,
		sold_at BIGINT NOT NULL DEFAULT 0,
		UNIQUE KEY uq_items_id (id),
		KEY idx_items_product_status (product_id, status, seq),
		KEY idx_items_order (order_id),
		CONSTRAINT fk_items_product FOREIGN KEY (product_id) REFERENCES products(id)
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS orders (
		id VARCHAR(64) PRIMARY KEY,
		buyer_id VARCHAR(64) NOT NULL,
		contact_email VARCHAR(255) NOT NULL DEFAULT '',
		payment_method VARCHAR(32) NOT NULL,
		payment_reference VARCHAR(255) NOT NULL,
		items_price BIGINT NOT NULL,
		tax_price BIGINT NOT NULL,
		total_price BIGINT NOT NULL,
		currency VARCHAR(8) NOT NULL,
		is_paid TINYINT NOT NULL DEFAULT 0,
		paid_at BIGINT NOT NULL DEFAULT 0,
		status VARCHAR(16) NOT NULL,
		created_at BIGINT NOT NULL,
		UNIQUE KEY uq_orders_payment_reference (payment_reference),
		KEY idx_orders_buyer (buyer_id, created_at)
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS order_lines (
		order_id VARCHAR(64) NOT NULL,
		line_no INT NOT NULL,
		product_id VARCHAR(64) NOT NULL,
		product_name VARCHAR(255) NOT NULL,
		quantity INT NOT NULL,
		unit_price BIGINT NOT NULL,
		PRIMARY KEY (order_id, line_no),
		CONSTRAINT fk_lines_order FOREIGN KEY (order_id) REFERENCES orders(id)
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS order_items (
		order_id VARCHAR(64) NOT NULL,
		line_no INT NOT NULL,
		position INT NOT NULL,
		item_id VARCHAR(64) NOT NULL,
		delivered_at BIGINT NOT NULL,
		viewed TINYINT NOT NULL DEFAULT 0,
		viewed_at BIGINT NOT NULL DEFAULT 0,
		PRIMARY KEY (order_id, item_id),
		UNIQUE KEY uq_order_items_item (item_id),
		CONSTRAINT fk_order_items_order FOREIGN KEY (order_id) REFERENCES orders(id)
	) ENGINE=InnoDB`,
}

// Migrate creates missing tables. It is safe to run on every start.
func (s *SQLStore) Migrate(ctx context.Context) error {
	stmts := sqliteSchema
	if s.dialect == DialectMySQL {
		stmts = mysqlSchema
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
