package auth

import (
	"context"
	"errors"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/haven-crm/haven/internal/shared"
)

// dummyHash is compared against when the email is unknown so both paths cost one bcrypt run.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("haven-dummy-password"), bcrypt.DefaultCost)

// Service wraps authentication business rules.
type Service struct {
	repo Repository
}

// NewService constructs a new Service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Authenticate validates email/password credentials.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*User, error) {
	user, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, shared.ErrNotFound) {
			return nil, err
		}
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return nil, shared.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, shared.ErrInvalidCredentials
	}
	return user, nil
}

// DefaultOrganization returns the membership a fresh login acts in, or nil
// when the user has not joined one yet.
func (s *Service) DefaultOrganization(ctx context.Context, userID string) (*Membership, error) {
	m, err := s.repo.DefaultMembership(ctx, userID)
	if errors.Is(err, shared.ErrNoMembership) {
		return nil, nil
	}
	return m, err
}

// Membership looks up the user's membership in organizationID.
func (s *Service) Membership(ctx context.Context, userID, organizationID string) (*Membership, error) {
	return s.repo.FindMembership(ctx, userID, organizationID)
}

// RegisterSession persists the session metadata in postgres.
func (s *Service) RegisterSession(ctx context.Context, id, userID string, expiresAt time.Time, ip, ua string) error {
	return s.repo.CreateSession(ctx, id, userID, expiresAt, ip, ua)
}

// RemoveSession deletes a session record from postgres.
func (s *Service) RemoveSession(ctx context.Context, id string) error {
	return s.repo.DeleteSession(ctx, id)
}
