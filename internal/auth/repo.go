package auth

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/haven-crm/haven/internal/platform/db"
	"github.com/haven-crm/haven/internal/rbac"
	"github.com/haven-crm/haven/internal/shared"
)

// currentUserSetting lets the memberships policy expose a user's own rows
// before any organization is bound.
const currentUserSetting = "app.current_user_id"

// Repository defines persistence operations for auth module.
type Repository interface {
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindMembership(ctx context.Context, userID, organizationID string) (*Membership, error)
	DefaultMembership(ctx context.Context, userID string) (*Membership, error)
	CreateSession(ctx context.Context, id, userID string, expiresAt time.Time, ip, ua string) error
	DeleteSession(ctx context.Context, id string) error
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// FindByEmail fetches a user by email.
func (r *PGRepository) FindByEmail(ctx context.Context, email string) (*User, error) {
	const q = `SELECT id::text, email, password_hash, is_active, created_at, updated_at
FROM users WHERE lower(email) = lower($1)`
	var (
		user      User
		createdAt pgtype.Timestamptz
		updatedAt pgtype.Timestamptz
	)
	err := r.pool.QueryRow(ctx, q, email).Scan(&user.ID, &user.Email, &user.PasswordHash, &user.IsActive, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	user.CreatedAt = createdAt.Time
	user.UpdatedAt = updatedAt.Time
	return &user, nil
}

// FindMembership returns the user's membership in organizationID.
func (r *PGRepository) FindMembership(ctx context.Context, userID, organizationID string) (*Membership, error) {
	const q = `SELECT user_id::text, organization_id::text, role, created_at
FROM memberships WHERE user_id = $1 AND organization_id = $2`
	return r.membership(ctx, userID, q, userID, organizationID)
}

// DefaultMembership returns the user's oldest membership.
func (r *PGRepository) DefaultMembership(ctx context.Context, userID string) (*Membership, error) {
	const q = `SELECT user_id::text, organization_id::text, role, created_at
FROM memberships WHERE user_id = $1 ORDER BY created_at, organization_id LIMIT 1`
	return r.membership(ctx, userID, q, userID)
}

func (r *PGRepository) membership(ctx context.Context, userID, q string, args ...any) (*Membership, error) {
	var m *Membership
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, q, args...)
		if err != nil {
			return err
		}
		m, err = pgx.CollectExactlyOneRow(rows, scanMembership)
		return err
	}, db.Setting{Name: currentUserSetting, Value: userID})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNoMembership
		}
		return nil, err
	}
	return m, nil
}

func scanMembership(row pgx.CollectableRow) (*Membership, error) {
	var (
		m         Membership
		role      string
		createdAt pgtype.Timestamptz
	)
	if err := row.Scan(&m.UserID, &m.OrganizationID, &role, &createdAt); err != nil {
		return nil, err
	}
	parsed, err := rbac.ParseRole(role)
	if err != nil {
		return nil, err
	}
	m.Role = parsed
	m.CreatedAt = createdAt.Time
	return &m, nil
}

// CreateSession persists a new login session in the database for auditing.
func (r *PGRepository) CreateSession(ctx context.Context, id, userID string, expiresAt time.Time, ip, ua string) error {
	const q = `INSERT INTO auth_sessions (id, user_id, created_at, expires_at, ip, user_agent)
VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.pool.Exec(ctx, q,
		id,
		userID,
		pgtype.Timestamptz{Time: time.Now().UTC(), Valid: true},
		pgtype.Timestamptz{Time: expiresAt.UTC(), Valid: true},
		pgtype.Text{String: ip, Valid: ip != ""},
		pgtype.Text{String: ua, Valid: ua != ""},
	)
	return err
}

// DeleteSession removes a session record from the database.
func (r *PGRepository) DeleteSession(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM auth_sessions WHERE id = $1`, id)
	return err
}

var _ Repository = (*PGRepository)(nil)
