package members

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/haven-crm/haven/internal/platform/db"
	"github.com/haven-crm/haven/internal/rbac"
	"github.com/haven-crm/haven/internal/shared"
	"github.com/haven-crm/haven/internal/tenant"
)

// Repository provides PostgreSQL backed persistence. Every method runs on a
// Querier bound to the caller's organization; organization ids are never
// passed as arguments.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository. pool is only used for invitation
// acceptance, which happens before the user belongs to the organization.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const memberColumns = `m.user_id::text, u.email, m.role, m.created_at`

func scanMember(row pgx.CollectableRow) (Member, error) {
	var (
		m        Member
		role     string
		joinedAt pgtype.Timestamptz
	)
	if err := row.Scan(&m.UserID, &m.Email, &role, &joinedAt); err != nil {
		return Member{}, err
	}
	parsed, err := rbac.ParseRole(role)
	if err != nil {
		return Member{}, err
	}
	m.Role = parsed
	m.JoinedAt = joinedAt.Time
	return m, nil
}

// ListMembers returns members ordered by rank then email.
func (r *Repository) ListMembers(ctx context.Context, q tenant.Querier) ([]Member, error) {
	rows, err := q.Query(ctx, `SELECT `+memberColumns+`
FROM memberships m JOIN users u ON u.id = m.user_id
ORDER BY CASE m.role WHEN 'ORG_OWNER' THEN 1 WHEN 'ADMIN' THEN 2 WHEN 'AGENT' THEN 3 ELSE 4 END, u.email`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanMember)
}

// FindMember locks and returns one member.
func (r *Repository) FindMember(ctx context.Context, q tenant.Querier, userID string) (Member, error) {
	rows, err := q.Query(ctx, `SELECT `+memberColumns+`
FROM memberships m JOIN users u ON u.id = m.user_id
WHERE m.user_id = $1 FOR UPDATE OF m`, userID)
	if err != nil {
		return Member{}, err
	}
	return pgx.CollectExactlyOneRow(rows, scanMember)
}

// CountOwners locks the owner rows and counts them.
func (r *Repository) CountOwners(ctx context.Context, q tenant.Querier) (int, error) {
	rows, err := q.Query(ctx, `SELECT user_id FROM memberships WHERE role = 'ORG_OWNER' FOR UPDATE`)
	if err != nil {
		return 0, err
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[pgtype.UUID])
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

// EmailTaken reports whether email already belongs to a member or has a pending invitation.
func (r *Repository) EmailTaken(ctx context.Context, q tenant.Querier, email string) (member bool, invited bool, err error) {
	err = q.QueryRow(ctx, `SELECT
  EXISTS (SELECT 1 FROM memberships m JOIN users u ON u.id = m.user_id WHERE lower(u.email) = lower($1)),
  EXISTS (SELECT 1 FROM invitations WHERE lower(email) = lower($1) AND status = 'pending' AND expires_at > now())`,
		email).Scan(&member, &invited)
	return member, invited, err
}

// CreateInvitation inserts inv and fills its generated columns.
func (r *Repository) CreateInvitation(ctx context.Context, q tenant.Querier, inv *Invitation) error {
	var createdAt pgtype.Timestamptz
	err := q.QueryRow(ctx, `INSERT INTO invitations (organization_id, email, role, token, invited_by, status, expires_at)
VALUES (current_setting('app.current_organization_id')::uuid, lower($1), $2, $3, $4, 'pending', $5)
RETURNING id::text, created_at`,
		inv.Email, string(inv.Role), inv.Token, inv.InvitedBy, inv.ExpiresAt).Scan(&inv.ID, &createdAt)
	if err != nil {
		return err
	}
	inv.Status = StatusPending
	inv.CreatedAt = createdAt.Time
	return nil
}

// UpdateRole changes a member's role.
func (r *Repository) UpdateRole(ctx context.Context, q tenant.Querier, userID string, role rbac.Role) error {
	tag, err := q.Exec(ctx, `UPDATE memberships SET role = $2 WHERE user_id = $1`, userID, string(role))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// DeleteMember removes a membership.
func (r *Repository) DeleteMember(ctx context.Context, q tenant.Querier, userID string) error {
	tag, err := q.Exec(ctx, `DELETE FROM memberships WHERE user_id = $1`, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// AcceptInvitation redeems token for userID through a SECURITY DEFINER
// function, since the user cannot see the organization's rows yet.
func (r *Repository) AcceptInvitation(ctx context.Context, token, userID string, now time.Time) (Accepted, error) {
	var (
		out  Accepted
		role string
	)
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return tx.QueryRow(ctx, `SELECT organization_id::text, role FROM accept_invitation($1, $2, $3)`, token, userID, now).
			Scan(&out.OrganizationID, &role)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Accepted{}, shared.ErrNotFound
		}
		return Accepted{}, fmt.Errorf("members: accept invitation: %w", err)
	}
	parsed, err := rbac.ParseRole(role)
	if err != nil {
		return Accepted{}, err
	}
	out.Role = parsed
	return out, nil
}
