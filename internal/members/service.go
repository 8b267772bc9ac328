package members

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/haven-crm/haven/internal/action"
	"github.com/haven-crm/haven/internal/rbac"
	"github.com/haven-crm/haven/internal/shared"
	"github.com/haven-crm/haven/internal/tenant"
)

// DefaultInvitationTTL applies when the service is built without one.
const DefaultInvitationTTL = 7 * 24 * time.Hour

// RepositoryPort defines data access methods for members.
type RepositoryPort interface {
	ListMembers(ctx context.Context, q tenant.Querier) ([]Member, error)
	FindMember(ctx context.Context, q tenant.Querier, userID string) (Member, error)
	CountOwners(ctx context.Context, q tenant.Querier) (int, error)
	EmailTaken(ctx context.Context, q tenant.Querier, email string) (member bool, invited bool, err error)
	CreateInvitation(ctx context.Context, q tenant.Querier, inv *Invitation) error
	UpdateRole(ctx context.Context, q tenant.Querier, userID string, role rbac.Role) error
	DeleteMember(ctx context.Context, q tenant.Querier, userID string) error
	AcceptInvitation(ctx context.Context, token, userID string, now time.Time) (Accepted, error)
}

// Mailer queues invitation emails.
type Mailer interface {
	SendInvitation(ctx context.Context, inv Invitation, organizationID string) error
}

// Auditor records changes inside the transaction that made them.
type Auditor interface {
	Record(ctx context.Context, q tenant.Querier, log shared.AuditLog) error
}

// Config collects the service's collaborators.
type Config struct {
	Repo          RepositoryPort
	Mailer        Mailer
	Audit         Auditor
	InvitationTTL time.Duration
	Now           func() time.Time
}

// Service handles membership business logic.
type Service struct {
	repo   RepositoryPort
	mailer Mailer
	audit  Auditor
	ttl    time.Duration
	now    func() time.Time
}

// NewService builds Service instance.
func NewService(cfg Config) *Service {
	ttl := cfg.InvitationTTL
	if ttl <= 0 {
		ttl = DefaultInvitationTTL
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Service{repo: cfg.Repo, mailer: cfg.Mailer, audit: cfg.Audit, ttl: ttl, now: now}
}

// List returns the organization's members. Any member may list.
func (s *Service) List() action.Operation[ListInput, []Member] {
	return action.Operation[ListInput, []Member]{
		Name:      "members.list",
		Schema:    action.Value[ListInput](),
		RoleCheck: action.AnyMember,
		Handler: func(ctx context.Context, _ ListInput, ac *action.Context) ([]Member, error) {
			var out []Member
			err := ac.Batch(ctx, func(ctx context.Context, q tenant.Querier) error {
				members, err := s.repo.ListMembers(ctx, q)
				out = members
				return err
			})
			return out, err
		},
	}
}

// Invite creates an invitation. Admins may only invite at or below their own rank.
func (s *Service) Invite() action.Operation[InviteInput, Invitation] {
	return action.Operation[InviteInput, Invitation]{
		Name:      "members.invite",
		Schema:    action.JSON[InviteInput](),
		RoleCheck: action.Require(rbac.CanManageMembers),
		Handler: func(ctx context.Context, in InviteInput, ac *action.Context) (Invitation, error) {
			if !rbac.CanAssignRole(ac.Role, in.Role) {
				return Invitation{}, action.Forbidden("You cannot invite someone with a higher role than your own")
			}
			inv := Invitation{
				Email:     in.Email,
				Role:      in.Role,
				InvitedBy: ac.PrincipalID,
				ExpiresAt: s.now().Add(s.ttl).UTC(),
				Token:     uuid.NewString(),
			}
			err := ac.Batch(ctx, func(ctx context.Context, q tenant.Querier) error {
				member, invited, err := s.repo.EmailTaken(ctx, q, in.Email)
				if err != nil {
					return err
				}
				switch {
				case member:
					return action.Invalid(action.FieldErrors{"email": {"is already a member"}})
				case invited:
					return action.Invalid(action.FieldErrors{"email": {"already has a pending invitation"}})
				}
				if err := s.repo.CreateInvitation(ctx, q, &inv); err != nil {
					return err
				}
				if err := s.record(ctx, q, ac, EventInvited, "invitation", inv.ID, map[string]any{"email": inv.Email, "role": inv.Role}); err != nil {
					return err
				}
				// Enqueued last so a failed enqueue rolls the invitation back.
				if s.mailer != nil {
					return s.mailer.SendInvitation(ctx, inv, ac.OrganizationID)
				}
				return nil
			})
			if err != nil {
				return Invitation{}, err
			}
			ac.Emit(EventInvited, map[string]any{"invitationId": inv.ID, "email": inv.Email, "role": inv.Role})
			return inv, nil
		},
	}
}

// UpdateRole changes another member's role.
func (s *Service) UpdateRole() action.Operation[UpdateRoleInput, Member] {
	return action.Operation[UpdateRoleInput, Member]{
		Name:      "members.update_role",
		Schema:    action.JSON[UpdateRoleInput](),
		RoleCheck: action.Require(rbac.CanManageMembers),
		Handler: func(ctx context.Context, in UpdateRoleInput, ac *action.Context) (Member, error) {
			if in.UserID == ac.PrincipalID {
				return Member{}, action.Forbidden("You cannot change your own role")
			}
			if !rbac.CanAssignRole(ac.Role, in.Role) {
				return Member{}, action.Forbidden("You cannot assign a role higher than your own")
			}
			var updated Member
			err := ac.Batch(ctx, func(ctx context.Context, q tenant.Querier) error {
				target, err := s.repo.FindMember(ctx, q, in.UserID)
				if err != nil {
					return err
				}
				if target.Role.Rank() > ac.Role.Rank() {
					return action.Forbidden("You cannot change the role of a member ranked above you")
				}
				if target.Role == rbac.RoleOrgOwner && in.Role != rbac.RoleOrgOwner {
					if err := s.ensureAnotherOwner(ctx, q); err != nil {
						return err
					}
				}
				if err := s.repo.UpdateRole(ctx, q, in.UserID, in.Role); err != nil {
					return err
				}
				previous := target.Role
				target.Role = in.Role
				updated = target
				return s.record(ctx, q, ac, EventRoleUpdated, "membership", in.UserID, map[string]any{"from": previous, "to": in.Role})
			})
			if err != nil {
				return Member{}, err
			}
			ac.Emit(EventRoleUpdated, map[string]any{"userId": updated.UserID, "role": updated.Role})
			return updated, nil
		},
	}
}

// Remove deletes another member from the organization.
func (s *Service) Remove() action.Operation[RemoveInput, struct{}] {
	return action.Operation[RemoveInput, struct{}]{
		Name:      "members.remove",
		Schema:    action.JSON[RemoveInput](),
		RoleCheck: action.Require(rbac.CanManageMembers),
		Handler: func(ctx context.Context, in RemoveInput, ac *action.Context) (struct{}, error) {
			if in.UserID == ac.PrincipalID {
				return struct{}{}, action.Forbidden("You cannot remove yourself")
			}
			err := ac.Batch(ctx, func(ctx context.Context, q tenant.Querier) error {
				target, err := s.repo.FindMember(ctx, q, in.UserID)
				if err != nil {
					return err
				}
				if target.Role.Rank() > ac.Role.Rank() {
					return action.Forbidden("You cannot remove a member ranked above you")
				}
				if target.Role == rbac.RoleOrgOwner {
					if err := s.ensureAnotherOwner(ctx, q); err != nil {
						return err
					}
				}
				if err := s.repo.DeleteMember(ctx, q, in.UserID); err != nil {
					return err
				}
				return s.record(ctx, q, ac, EventRemoved, "membership", in.UserID, map[string]any{"role": target.Role})
			})
			if err != nil {
				return struct{}{}, err
			}
			ac.Emit(EventRemoved, map[string]any{"userId": in.UserID})
			return struct{}{}, nil
		},
	}
}

// AcceptInvitation joins userID to the inviting organization. It runs outside
// the action pipeline because the caller has no organization yet.
func (s *Service) AcceptInvitation(ctx context.Context, userID string, in AcceptInput) (Accepted, error) {
	accepted, err := s.repo.AcceptInvitation(ctx, in.Token, userID, s.now().UTC())
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return Accepted{}, action.NotFound("Invitation not found or expired")
		}
		return Accepted{}, err
	}
	return accepted, nil
}

func (s *Service) ensureAnotherOwner(ctx context.Context, q tenant.Querier) error {
	owners, err := s.repo.CountOwners(ctx, q)
	if err != nil {
		return err
	}
	if owners <= 1 {
		return errLastOwner
	}
	return nil
}

func (s *Service) record(ctx context.Context, q tenant.Querier, ac *action.Context, actionName, entity, entityID string, meta map[string]any) error {
	if s.audit == nil {
		return nil
	}
	return s.audit.Record(ctx, q, shared.AuditLog{
		ActorID:  ac.PrincipalID,
		Action:   actionName,
		Entity:   entity,
		EntityID: entityID,
		Meta:     meta,
	})
}
