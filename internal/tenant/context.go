// Package tenant scopes database work to a single organization.
//
// Postgres row-level security policies read the organization from the
// transaction-local setting app.current_organization_id. Pooled connections are
// shared across tenants, so the setting is only ever written with set_config's
// is_local flag, as the first statement of the same transaction that runs the
// dependent queries. Nothing in this package hands out a query surface that is
// not already inside such a transaction.
package tenant

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// SettingName is the session variable read by row-level security policies.
const SettingName = "app.current_organization_id"

// BindStatement binds the organization for the current transaction only.
const BindStatement = "SELECT set_config('" + SettingName + "', $1, true)"

// ErrInvalidTenantIdentifier is returned before any transaction is opened when
// the organization id is empty or malformed.
var ErrInvalidTenantIdentifier = errors.New("tenant: invalid organization identifier")

// Beginner opens transactions. *pgxpool.Pool satisfies it.
type Beginner interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

// Querier is the statement surface available inside a tenant transaction. It
// excludes Commit, Rollback and Begin.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Option customises a Context.
type Option func(*Context)

// WithIsoLevel overrides the transaction isolation level.
func WithIsoLevel(level pgx.TxIsoLevel) Option {
	return func(c *Context) {
		c.opts.IsoLevel = level
	}
}

// Context produces organization-bound handles over a pooled database.
type Context struct {
	db   Beginner
	opts pgx.TxOptions
}

// New constructs a Context. The default isolation level is ReadCommitted.
func New(db Beginner, opts ...Option) *Context {
	c := &Context{db: db, opts: pgx.TxOptions{IsoLevel: pgx.ReadCommitted}}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ValidateOrganizationID returns the canonical form of a UUID organization id.
func ValidateOrganizationID(organizationID string) (string, error) {
	if organizationID == "" {
		return "", ErrInvalidTenantIdentifier
	}
	id, err := uuid.Parse(organizationID)
	if err != nil || id == uuid.Nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidTenantIdentifier, organizationID)
	}
	return id.String(), nil
}

// ForOrganization returns a handle whose every call runs in its own
// transaction with the organization bound first. No database work happens
// until the handle is used.
func (c *Context) ForOrganization(organizationID string) (*Handle, error) {
	id, err := ValidateOrganizationID(organizationID)
	if err != nil {
		return nil, err
	}
	return &Handle{tenants: c, organizationID: id}, nil
}

// WithOrganization runs fn inside one transaction bound to the organization.
// The binding runs exactly once and the batch commits or rolls back as a unit.
func (c *Context) WithOrganization(ctx context.Context, organizationID string, fn func(ctx context.Context, q Querier) error) error {
	id, err := ValidateOrganizationID(organizationID)
	if err != nil {
		return err
	}
	return c.inTx(ctx, id, fn)
}

func (c *Context) inTx(ctx context.Context, organizationID string, fn func(ctx context.Context, q Querier) error) error {
	if c == nil || c.db == nil {
		return errors.New("tenant: database not configured")
	}
	tx, err := c.db.BeginTx(ctx, c.opts)
	if err != nil {
		return fmt.Errorf("tenant: begin tx: %w", err)
	}

	if _, err := tx.Exec(ctx, BindStatement, organizationID); err != nil {
		return rollback(ctx, tx, fmt.Errorf("tenant: bind organization: %w", err))
	}

	if err := fn(ctx, txQuerier{tx: tx}); err != nil {
		return rollback(ctx, tx, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("tenant: commit tx: %w", err)
	}
	return nil
}

func rollback(ctx context.Context, tx pgx.Tx, cause error) error {
	// The caller's context may already be cancelled; rollback must still reach the server.
	if err := tx.Rollback(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return errors.Join(cause, fmt.Errorf("tenant: rollback tx: %w", err))
	}
	return cause
}

type txQuerier struct {
	tx pgx.Tx
}

func (q txQuerier) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return q.tx.Exec(ctx, sql, args...)
}

func (q txQuerier) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return q.tx.Query(ctx, sql, args...)
}

func (q txQuerier) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return q.tx.QueryRow(ctx, sql, args...)
}
