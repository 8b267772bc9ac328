package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Beginner is satisfied by *pgxpool.Pool.
type Beginner interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

// Setting is a transaction-local configuration parameter applied with set_config
// before the transaction body runs.
type Setting struct {
	Name  string
	Value string
}

// WithTx executes a function within a transaction using the RepeatableRead isolation level.
// Work that is scoped to one organization goes through internal/tenant instead.
func WithTx(ctx context.Context, db Beginner, fn func(pgx.Tx) error, settings ...Setting) (err error) {
	tx, err := db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return fmt.Errorf("platform/db: begin tx: %w", err)
	}

	defer func() {
		if err == nil {
			return
		}
		if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			err = errors.Join(err, fmt.Errorf("platform/db: rollback: %w", rbErr))
		}
	}()

	for _, s := range settings {
		if _, err = tx.Exec(ctx, "SELECT set_config($1, $2, true)", s.Name, s.Value); err != nil {
			return fmt.Errorf("platform/db: set %s: %w", s.Name, err)
		}
	}

	if err = fn(tx); err != nil {
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("platform/db: commit tx: %w", err)
	}

	return nil
}
