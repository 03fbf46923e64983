package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rl1809/keydrop/internal/core/domain"
	"github.com/rl1809/keydrop/internal/port"
)

// Dialect selects the DDL flavour. Queries are written to run on both.
type Dialect string

const (
	DialectMySQL  Dialect = "mysql"
	DialectSQLite Dialect = "sqlite"
)

// SQLStore persists products, inventory and orders in a relational database.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func NewSQLStore(db *sql.DB, dialect Dialect) *SQLStore {
	return &SQLStore{db: db, dialect: dialect, now: time.Now}
}

// Open connects to driver/dsn, pings and applies the schema.
func Open(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	switch Dialect(driver) {
	case DialectMySQL:
		return OpenMySQL(ctx, dsn)
	case DialectSQLite:
		return OpenSQLite(ctx, dsn)
	default:
		return nil, fmt.Errorf("unsupported db driver %q", driver)
	}
}

func openDB(ctx context.Context, dialect Dialect, driverName, dsn string) (*SQLStore, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s db: %w", dialect, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s db: %w", dialect, err)
	}
	store := NewSQLStore(db, dialect)
	if err := store.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return store, nil
}

func (s *SQLStore) DB() *sql.DB {
	return s.db
}

func (s *SQLStore) Dialect() Dialect {
	return s.dialect
}

func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// WithinTx runs fn in one transaction. Driver lock conflicts surface as
// TRANSIENT_CONFLICT so the caller can retry from scratch.
func (s *SQLStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx port.AllocationTx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(err, "begin tx")
	}
	defer sqlTx.Rollback()

	if err := fn(ctx, &allocationTx{tx: sqlTx, dialect: s.dialect, reserved: map[string]int{}}); err != nil {
		return classify(err, "allocation")
	}
	if err := sqlTx.Commit(); err != nil {
		return classify(err, "commit tx")
	}
	return nil
}

func (s *SQLStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(err, "begin tx")
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return classify(err, "commit tx")
	}
	return nil
}

// classify maps driver errors onto domain kinds. Domain errors and context
// errors pass through untouched.
func classify(err error, op string) error {
	if err == nil {
		return nil
	}
	var de *domain.Error
	if errors.As(err, &de) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	if isMySQLTransient(err) || isSQLiteTransient(err) {
		return domain.WrapError(domain.KindTransientConflict, op+": write conflict", err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isUniqueViolation(err error) bool {
	return isMySQLDuplicate(err) || isSQLiteUniqueViolation(err)
}

func toMillis(value time.Time) int64 {
	if value.IsZero() {
		return 0
	}
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	if value == 0 {
		return time.Time{}
	}
	return time.UnixMilli(value).UTC()
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

var _ port.DatabaseRepository = (*SQLStore)(nil)
