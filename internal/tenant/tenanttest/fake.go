// Package tenanttest provides an in-memory stand-in for a pgx pool that records
// every statement together with the organization bound at the time it ran.
package tenanttest

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/haven-crm/haven/internal/tenant"
)

// Statement is a single recorded call on a transaction.
type Statement struct {
	SQL   string
	Args  []any
	Bound string
}

// TxRecord is a snapshot of one transaction.
type TxRecord struct {
	ID         int
	Options    pgx.TxOptions
	Statements []Statement
	Committed  bool
	RolledBack bool
}

// DB implements tenant.Beginner.
type DB struct {
	mu  sync.Mutex
	txs []*Tx

	BeginErr  error
	CommitErr error
	// ExecHook may fail individual statements.
	ExecHook func(sql string, args []any) (pgconn.CommandTag, error)
	// QueryHook supplies rows for Query calls; defaults to an empty result.
	QueryHook func(bound, sql string, args []any) ([][]any, error)
	// RowHook supplies values for QueryRow calls; defaults to pgx.ErrNoRows.
	RowHook func(bound, sql string, args []any) ([]any, error)
}

// NewDB constructs an empty fake database.
func NewDB() *DB {
	return &DB{}
}

// BeginTx opens a recorded transaction.
func (d *DB) BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.BeginErr != nil {
		return nil, d.BeginErr
	}
	tx := &Tx{db: d, record: TxRecord{ID: len(d.txs) + 1, Options: opts}}
	d.txs = append(d.txs, tx)
	return tx, nil
}

// Transactions returns snapshots of every transaction opened so far.
func (d *DB) Transactions() []TxRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]TxRecord, 0, len(d.txs))
	for _, tx := range d.txs {
		rec := tx.record
		rec.Statements = append([]Statement(nil), tx.record.Statements...)
		out = append(out, rec)
	}
	return out
}

// Tx records statements. Methods outside the tenant.Querier surface panic.
type Tx struct {
	pgx.Tx
	db     *DB
	bound  string
	record TxRecord
}

func (t *Tx) closed() bool {
	return t.record.Committed || t.record.RolledBack
}

func (t *Tx) log(sql string, args []any) string {
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	if sql == tenant.BindStatement && len(args) == 1 {
		t.bound, _ = args[0].(string)
	}
	t.record.Statements = append(t.record.Statements, Statement{SQL: sql, Args: args, Bound: t.bound})
	return t.bound
}

// Exec records the statement and applies the binding when it is set_config.
func (t *Tx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if t.closed() {
		return pgconn.CommandTag{}, pgx.ErrTxClosed
	}
	t.log(sql, args)
	if t.db.ExecHook != nil {
		return t.db.ExecHook(sql, args)
	}
	return pgconn.NewCommandTag("OK"), nil
}

// Query records the statement and returns rows from QueryHook.
func (t *Tx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if t.closed() {
		return nil, pgx.ErrTxClosed
	}
	bound := t.log(sql, args)
	if t.db.QueryHook == nil {
		return &Rows{}, nil
	}
	data, err := t.db.QueryHook(bound, sql, args)
	if err != nil {
		return nil, err
	}
	return &Rows{Data: data}, nil
}

// QueryRow records the statement and returns the row from RowHook.
func (t *Tx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if t.closed() {
		return Row{Err: pgx.ErrTxClosed}
	}
	bound := t.log(sql, args)
	if t.db.RowHook == nil {
		return Row{Err: pgx.ErrNoRows}
	}
	values, err := t.db.RowHook(bound, sql, args)
	return Row{Values: values, Err: err}
}

// Commit marks the transaction committed.
func (t *Tx) Commit(ctx context.Context) error {
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	if t.closed() {
		return pgx.ErrTxClosed
	}
	if t.db.CommitErr != nil {
		t.record.RolledBack = true
		return t.db.CommitErr
	}
	t.record.Committed = true
	return nil
}

// Rollback marks the transaction rolled back.
func (t *Tx) Rollback(ctx context.Context) error {
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	if t.closed() {
		return pgx.ErrTxClosed
	}
	t.record.RolledBack = true
	return nil
}

// Row is a single scripted result row.
type Row struct {
	Values []any
	Err    error
}

// Scan copies Values into dest.
func (r Row) Scan(dest ...any) error {
	if r.Err != nil {
		return r.Err
	}
	return assign(r.Values, dest)
}

// Rows iterates scripted result rows.
type Rows struct {
	pgx.Rows
	Data   [][]any
	pos    int
	closed bool
}

func (r *Rows) Next() bool {
	if r.closed || r.pos >= len(r.Data) {
		r.closed = true
		return false
	}
	r.pos++
	return true
}

func (r *Rows) Scan(dest ...any) error {
	if r.pos == 0 || r.pos > len(r.Data) {
		return fmt.Errorf("tenanttest: scan without current row")
	}
	return assign(r.Data[r.pos-1], dest)
}

func (r *Rows) Close() { r.closed = true }

func (r *Rows) Err() error { return nil }

func (r *Rows) CommandTag() pgconn.CommandTag { return pgconn.NewCommandTag("SELECT") }

func (r *Rows) FieldDescriptions() []pgconn.FieldDescription { return nil }

func assign(values []any, dest []any) error {
	if len(values) != len(dest) {
		return fmt.Errorf("tenanttest: %d values for %d destinations", len(values), len(dest))
	}
	for i, d := range dest {
		target := reflect.ValueOf(d)
		if target.Kind() != reflect.Pointer || target.IsNil() {
			return fmt.Errorf("tenanttest: destination %d is not a pointer", i)
		}
		if values[i] == nil {
			target.Elem().Set(reflect.Zero(target.Elem().Type()))
			continue
		}
		src := reflect.ValueOf(values[i])
		if !src.Type().AssignableTo(target.Elem().Type()) {
			if !src.Type().ConvertibleTo(target.Elem().Type()) {
				return fmt.Errorf("tenanttest: cannot assign %T to %s", values[i], target.Elem().Type())
			}
			src = src.Convert(target.Elem().Type())
		}
		target.Elem().Set(src)
	}
	return nil
}
