package repository

import (
	"context"

	"github.com/jackc/pgx/v4"
)

// Tx is an opaque transaction handle threaded through repository calls.
// Postgres implementations pass pgx.Tx; nil means "use the pool".
type Tx any

// TransactionManager opens a DB transaction, runs fn, and commits or
// rolls back depending on fn's error.
type TransactionManager interface {
	WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx Tx) error) error
}
