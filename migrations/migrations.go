// Package migrations embeds the SQL schema and applies it in order.
package migrations

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Files holds every migration, up and down.
//
//go:embed *.sql
var Files embed.FS

const upSuffix = ".up.sql"

const (
	ensureTableSQL = `CREATE TABLE IF NOT EXISTS schema_migrations (
    version    text PRIMARY KEY,
    applied_at timestamptz NOT NULL DEFAULT now()
)`
	lockSQL    = `SELECT pg_advisory_xact_lock(hashtext('haven.schema_migrations'))`
	appliedSQL = `SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version = $1)`
	recordSQL  = `INSERT INTO schema_migrations (version) VALUES ($1)`
)

// Migration is one versioned schema change.
type Migration struct {
	Version string
	Up      string
}

// Load returns the up migrations sorted by version.
func Load(fsys fs.FS) ([]Migration, error) {
	names, err := fs.Glob(fsys, "*"+upSuffix)
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	out := make([]Migration, 0, len(names))
	for _, name := range names {
		body, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		out = append(out, Migration{Version: strings.TrimSuffix(name, upSuffix), Up: string(body)})
	}
	return out, nil
}

// Apply runs every pending migration, each in its own transaction.
// It returns the versions applied by this call.
func Apply(ctx context.Context, pool *pgxpool.Pool) ([]string, error) {
	list, err := Load(Files)
	if err != nil {
		return nil, err
	}
	if _, err := pool.Exec(ctx, ensureTableSQL); err != nil {
		return nil, fmt.Errorf("ensure schema_migrations: %w", err)
	}
	var applied []string
	for _, m := range list {
		ran, err := applyOne(ctx, pool, m)
		if err != nil {
			return applied, fmt.Errorf("migration %s: %w", m.Version, err)
		}
		if ran {
			applied = append(applied, m.Version)
		}
	}
	return applied, nil
}

func applyOne(ctx context.Context, pool *pgxpool.Pool, m Migration) (bool, error) {
	ran := false
	err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, lockSQL); err != nil {
			return err
		}
		var done bool
		if err := tx.QueryRow(ctx, appliedSQL, m.Version).Scan(&done); err != nil {
			return err
		}
		if done {
			return nil
		}
		if _, err := tx.Exec(ctx, m.Up); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, recordSQL, m.Version); err != nil {
			return err
		}
		ran = true
		return nil
	})
	return ran, err
}
