package tenant

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Handle executes statements for a single organization. Each method opens a
// transaction, binds the organization, runs the statement and commits.
type Handle struct {
	tenants        *Context
	organizationID string
}

// OrganizationID returns the organization every statement is bound to.
func (h *Handle) OrganizationID() string {
	return h.organizationID
}

// Exec runs a statement that returns no rows.
func (h *Handle) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	var tag pgconn.CommandTag
	err := h.tenants.inTx(ctx, h.organizationID, func(ctx context.Context, q Querier) error {
		var err error
		tag, err = q.Exec(ctx, sql, args...)
		return err
	})
	return tag, err
}

// QueryRow runs a single-row query and hands the row to scan before commit.
func (h *Handle) QueryRow(ctx context.Context, scan func(pgx.Row) error, sql string, args ...any) error {
	return h.tenants.inTx(ctx, h.organizationID, func(ctx context.Context, q Querier) error {
		return scan(q.QueryRow(ctx, sql, args...))
	})
}

// Query runs a multi-row query. Rows must be consumed inside fn; they are
// closed before the transaction commits.
func (h *Handle) Query(ctx context.Context, fn func(pgx.Rows) error, sql string, args ...any) error {
	return h.tenants.inTx(ctx, h.organizationID, func(ctx context.Context, q Querier) error {
		rows, err := q.Query(ctx, sql, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		if err := fn(rows); err != nil {
			return err
		}
		return rows.Err()
	})
}

// Batch runs several statements under one binding and one transaction.
func (h *Handle) Batch(ctx context.Context, fn func(ctx context.Context, q Querier) error) error {
	return h.tenants.inTx(ctx, h.organizationID, fn)
}

// Select collects every row of a query using rowTo.
func Select[T any](ctx context.Context, h *Handle, rowTo pgx.RowToFunc[T], sql string, args ...any) ([]T, error) {
	var out []T
	err := h.Query(ctx, func(rows pgx.Rows) error {
		var err error
		out, err = pgx.CollectRows(rows, rowTo)
		return err
	}, sql, args...)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Get collects exactly one row. It returns pgx.ErrNoRows when nothing matches,
// which includes rows hidden by another organization's policy.
func Get[T any](ctx context.Context, h *Handle, rowTo pgx.RowToFunc[T], sql string, args ...any) (T, error) {
	var out T
	err := h.Query(ctx, func(rows pgx.Rows) error {
		var err error
		out, err = pgx.CollectExactlyOneRow(rows, rowTo)
		return err
	}, sql, args...)
	return out, err
}
