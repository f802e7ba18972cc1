package storage

import (
	"context"
	"database/sql"
)

// DBTX is the query surface shared by *sql.DB, *sql.Tx and postgres.AppPool
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// TxBeginner is a DBTX that can also open transactions
type TxBeginner interface {
	DBTX
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// Pinger is implemented by database handles that can be health checked
type Pinger interface {
	PingContext(ctx context.Context) error
	Stats() sql.DBStats
}
