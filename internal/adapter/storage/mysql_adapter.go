package storage

import (
	"context"
	"errors"
	"time"

	"github.com/go-sql-driver/mysql"
)

const (
	mysqlErrDuplicateEntry  = 1062
	mysqlErrLockWaitTimeout = 1205
	mysqlErrDeadlock        = 1213
)

// OpenMySQL connects to a MySQL server. InnoDB row locks plus the
// conditional updates in allocationTx serialize competing allocations.
func OpenMySQL(ctx context.Context, dsn string) (*SQLStore, error) {
	store, err := openDB(ctx, DialectMySQL, "mysql", dsn)
	if err != nil {
		return nil, err
	}
	store.db.SetMaxOpenConns(50)
	store.db.SetMaxIdleConns(25)
	store.db.SetConnMaxLifetime(5 * time.Minute)
	return store, nil
}

func isMySQLTransient(err error) bool {
	var me *mysql.MySQLError
	if !errors.As(err, &me) {
		return false
	}
	return me.Number == mysqlErrDeadlock || me.Number == mysqlErrLockWaitTimeout
}

func isMySQLDuplicate(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == mysqlErrDuplicateEntry
}
