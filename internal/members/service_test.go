package members_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haven-crm/haven/internal/action"
	"github.com/haven-crm/haven/internal/members"
	"github.com/haven-crm/haven/internal/rbac"
	"github.com/haven-crm/haven/internal/shared"
	"github.com/haven-crm/haven/internal/tenant"
	"github.com/haven-crm/haven/internal/tenant/tenanttest"
)

const (
	orgA = "6f1c2b8e-8f43-4a8e-9f55-0c6b9a1f0a01"
	orgB = "0d9e3c55-2b1a-4c3f-8e7d-5a4b3c2d1e02"

	ownerA  = "a0000000-0000-4000-8000-000000000001"
	adminA  = "a0000000-0000-4000-8000-000000000002"
	agentA  = "a0000000-0000-4000-8000-000000000003"
	viewerA = "a0000000-0000-4000-8000-000000000004"
	adminB  = "b0000000-0000-4000-8000-000000000002"
)

// fakeRepo keeps rows per organization and reads the organization from the
// transaction binding, the way row-level security does.
type fakeRepo struct {
	mu          sync.Mutex
	members     map[string]map[string]members.Member
	invitations map[string][]members.Invitation
	accepts     map[string]members.Accepted
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		members: map[string]map[string]members.Member{
			orgA: {
				ownerA:  {UserID: ownerA, Email: "owner@a.test", Role: rbac.RoleOrgOwner},
				adminA:  {UserID: adminA, Email: "admin@a.test", Role: rbac.RoleAdmin},
				agentA:  {UserID: agentA, Email: "agent@a.test", Role: rbac.RoleAgent},
				viewerA: {UserID: viewerA, Email: "viewer@a.test", Role: rbac.RoleViewer},
			},
			orgB: {
				adminB: {UserID: adminB, Email: "admin@b.test", Role: rbac.RoleAdmin},
			},
		},
		invitations: map[string][]members.Invitation{},
		accepts:     map[string]members.Accepted{},
	}
}

func (f *fakeRepo) org(ctx context.Context, q tenant.Querier) string {
	var org string
	_ = q.QueryRow(ctx, "SELECT current_setting('app.current_organization_id')").Scan(&org)
	return org
}

func (f *fakeRepo) ListMembers(ctx context.Context, q tenant.Querier) ([]members.Member, error) {
	org := f.org(ctx, q)
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]members.Member, 0, len(f.members[org]))
	for _, m := range f.members[org] {
		out = append(out, m)
	}
	return out, nil
}

func (f *fakeRepo) FindMember(ctx context.Context, q tenant.Querier, userID string) (members.Member, error) {
	org := f.org(ctx, q)
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.members[org][userID]
	if !ok {
		return members.Member{}, pgx.ErrNoRows
	}
	return m, nil
}

func (f *fakeRepo) CountOwners(ctx context.Context, q tenant.Querier) (int, error) {
	org := f.org(ctx, q)
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, m := range f.members[org] {
		if m.Role == rbac.RoleOrgOwner {
			n++
		}
	}
	return n, nil
}

func (f *fakeRepo) EmailTaken(ctx context.Context, q tenant.Querier, email string) (bool, bool, error) {
	org := f.org(ctx, q)
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.members[org] {
		if strings.EqualFold(m.Email, email) {
			return true, false, nil
		}
	}
	for _, inv := range f.invitations[org] {
		if strings.EqualFold(inv.Email, email) {
			return false, true, nil
		}
	}
	return false, false, nil
}

func (f *fakeRepo) CreateInvitation(ctx context.Context, q tenant.Querier, inv *members.Invitation) error {
	org := f.org(ctx, q)
	f.mu.Lock()
	defer f.mu.Unlock()
	inv.ID = "inv-1"
	inv.Status = members.StatusPending
	f.invitations[org] = append(f.invitations[org], *inv)
	return nil
}

func (f *fakeRepo) UpdateRole(ctx context.Context, q tenant.Querier, userID string, role rbac.Role) error {
	org := f.org(ctx, q)
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.members[org][userID]
	if !ok {
		return pgx.ErrNoRows
	}
	m.Role = role
	f.members[org][userID] = m
	return nil
}

func (f *fakeRepo) DeleteMember(ctx context.Context, q tenant.Querier, userID string) error {
	org := f.org(ctx, q)
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.members[org][userID]; !ok {
		return pgx.ErrNoRows
	}
	delete(f.members[org], userID)
	return nil
}

func (f *fakeRepo) AcceptInvitation(_ context.Context, token, _ string, _ time.Time) (members.Accepted, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.accepts[token]
	if !ok {
		return members.Accepted{}, shared.ErrNotFound
	}
	return a, nil
}

type fakeMailer struct {
	sent []members.Invitation
	orgs []string
	err  error
}

func (m *fakeMailer) SendInvitation(_ context.Context, inv members.Invitation, org string) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, inv)
	m.orgs = append(m.orgs, org)
	return nil
}

type capturePublisher struct {
	events []action.Event
}

func (p *capturePublisher) Publish(_ context.Context, e action.Event) error {
	p.events = append(p.events, e)
	return nil
}

type env struct {
	db        *tenanttest.DB
	repo      *fakeRepo
	mailer    *fakeMailer
	publisher *capturePublisher
	service   *members.Service
	principal *action.Principal
	pipeline  *action.Pipeline
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		db:        tenanttest.NewDB(),
		repo:      newFakeRepo(),
		mailer:    &fakeMailer{},
		publisher: &capturePublisher{},
	}
	e.db.RowHook = func(bound, sql string, _ []any) ([]any, error) {
		if strings.HasPrefix(sql, "SELECT current_setting") {
			return []any{bound}, nil
		}
		return nil, pgx.ErrNoRows
	}
	now := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
	e.service = members.NewService(members.Config{
		Repo:          e.repo,
		Mailer:        e.mailer,
		Audit:         shared.NewAuditLogger(),
		InvitationTTL: 48 * time.Hour,
		Now:           func() time.Time { return now },
	})
	e.pipeline = action.New(action.Config{
		Authenticator: action.AuthenticatorFunc(func(context.Context) (*action.Principal, error) {
			return e.principal, nil
		}),
		Tenants:   tenant.New(e.db),
		Publisher: e.publisher,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return e
}

func (e *env) as(userID, org string, role rbac.Role) *env {
	e.principal = &action.Principal{ID: userID, OrganizationID: org, Role: role}
	return e
}

func TestInviteQueuesEmailAndEmitsEvent(t *testing.T) {
	e := newEnv(t).as(adminA, orgA, rbac.RoleAdmin)

	res := action.Run(context.Background(), e.pipeline, e.service.Invite(), []byte(`{"email":"new@a.test","role":"AGENT"}`))

	require.True(t, res.Success, "%+v", res)
	assert.Equal(t, "inv-1", res.Data.ID)
	assert.Equal(t, adminA, res.Data.InvitedBy)
	assert.Equal(t, time.Date(2026, 5, 6, 12, 0, 0, 0, time.UTC), res.Data.ExpiresAt)
	assert.NotEmpty(t, res.Data.Token)

	require.Len(t, e.mailer.sent, 1)
	assert.Equal(t, []string{orgA}, e.mailer.orgs)
	require.Len(t, e.publisher.events, 1)
	assert.Equal(t, members.EventInvited, e.publisher.events[0].Type)

	txs := e.db.Transactions()
	require.Len(t, txs, 1)
	last := txs[0].Statements[len(txs[0].Statements)-1]
	assert.Contains(t, last.SQL, "INSERT INTO audit_logs")
	assert.Equal(t, orgA, last.Bound)
}

func TestInviteRollsBackWhenEmailCannotBeQueued(t *testing.T) {
	e := newEnv(t).as(adminA, orgA, rbac.RoleAdmin)
	e.mailer.err = errors.New("redis down")

	res := action.Run(context.Background(), e.pipeline, e.service.Invite(), []byte(`{"email":"new@a.test","role":"AGENT"}`))

	assert.Equal(t, action.CodeInternal, res.Code)
	assert.NotContains(t, res.Error, "redis")
	assert.Empty(t, e.publisher.events)

	txs := e.db.Transactions()
	require.Len(t, txs, 1)
	assert.True(t, txs[0].RolledBack)
	assert.False(t, txs[0].Committed)
	last := txs[0].Statements[len(txs[0].Statements)-1]
	assert.Contains(t, last.SQL, "INSERT INTO audit_logs")

	// fakeRepo is not transactional; drop what the rolled back insert left.
	e.mailer.err = nil
	e.repo.invitations = map[string][]members.Invitation{}
	res = action.Run(context.Background(), e.pipeline, e.service.Invite(), []byte(`{"email":"new@a.test","role":"AGENT"}`))
	require.True(t, res.Success, "%+v", res)
	assert.True(t, e.db.Transactions()[1].Committed)
}

func TestInviteCannotEscalate(t *testing.T) {
	e := newEnv(t).as(adminA, orgA, rbac.RoleAdmin)

	res := action.Run(context.Background(), e.pipeline, e.service.Invite(), []byte(`{"email":"boss@a.test","role":"ORG_OWNER"}`))

	assert.Equal(t, action.CodeForbidden, res.Code)
	assert.Empty(t, e.mailer.sent)
	assert.Empty(t, e.db.Transactions())
}

func TestInviteRequiresManageMembers(t *testing.T) {
	e := newEnv(t).as(agentA, orgA, rbac.RoleAgent)

	res := action.Run(context.Background(), e.pipeline, e.service.Invite(), []byte(`{"email":"new@a.test","role":"VIEWER"}`))

	assert.Equal(t, action.CodeForbidden, res.Code)
}

func TestInviteValidation(t *testing.T) {
	e := newEnv(t).as(ownerA, orgA, rbac.RoleOrgOwner)

	res := action.Run(context.Background(), e.pipeline, e.service.Invite(), []byte(`{"email":"nope","role":"SUPERUSER"}`))
	require.Equal(t, action.CodeValidation, res.Code)
	assert.Equal(t, []string{"email", "role"}, res.FieldErrors.Paths())

	res = action.Run(context.Background(), e.pipeline, e.service.Invite(), []byte(`{"email":"AGENT@a.test","role":"VIEWER"}`))
	require.Equal(t, action.CodeValidation, res.Code)
	assert.Equal(t, []string{"is already a member"}, res.FieldErrors["email"])
	assert.True(t, e.db.Transactions()[0].RolledBack)
}

func TestUpdateRole(t *testing.T) {
	e := newEnv(t).as(adminA, orgA, rbac.RoleAdmin)

	res := action.Run(context.Background(), e.pipeline, e.service.UpdateRole(), []byte(`{"userId":"`+agentA+`","role":"VIEWER"}`))

	require.True(t, res.Success)
	assert.Equal(t, rbac.RoleViewer, res.Data.Role)
	assert.Equal(t, rbac.RoleViewer, e.repo.members[orgA][agentA].Role)
	require.Len(t, e.publisher.events, 1)
	assert.Equal(t, members.EventRoleUpdated, e.publisher.events[0].Type)
}

func TestUpdateRoleGuards(t *testing.T) {
	cases := map[string]struct {
		caller string
		role   rbac.Role
		body   string
		code   action.ErrorCode
	}{
		"own role":          {caller: adminA, role: rbac.RoleAdmin, body: `{"userId":"` + adminA + `","role":"VIEWER"}`, code: action.CodeForbidden},
		"above own rank":    {caller: adminA, role: rbac.RoleAdmin, body: `{"userId":"` + agentA + `","role":"ORG_OWNER"}`, code: action.CodeForbidden},
		"higher target":     {caller: adminA, role: rbac.RoleAdmin, body: `{"userId":"` + ownerA + `","role":"AGENT"}`, code: action.CodeForbidden},
		"agent caller":      {caller: agentA, role: rbac.RoleAgent, body: `{"userId":"` + viewerA + `","role":"VIEWER"}`, code: action.CodeForbidden},
		"other tenant user": {caller: adminB, role: rbac.RoleAdmin, body: `{"userId":"` + agentA + `","role":"VIEWER"}`, code: action.CodeNotFound},
		"bad user id":       {caller: adminA, role: rbac.RoleAdmin, body: `{"userId":"42","role":"VIEWER"}`, code: action.CodeValidation},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			org := orgA
			if tc.caller == adminB {
				org = orgB
			}
			e := newEnv(t).as(tc.caller, org, tc.role)

			res := action.Run(context.Background(), e.pipeline, e.service.UpdateRole(), []byte(tc.body))

			assert.Equal(t, tc.code, res.Code)
			assert.Empty(t, e.publisher.events)
			assert.Equal(t, rbac.RoleAgent, e.repo.members[orgA][agentA].Role)
		})
	}
}

func TestLastOwnerCannotBeDemotedOrRemoved(t *testing.T) {
	e := newEnv(t)
	// A second owner whose own membership vanished concurrently.
	e.as("c0000000-0000-4000-8000-000000000009", orgA, rbac.RoleOrgOwner)

	res := action.Run(context.Background(), e.pipeline, e.service.UpdateRole(), []byte(`{"userId":"`+ownerA+`","role":"ADMIN"}`))
	require.Equal(t, action.CodeValidation, res.Code)
	assert.Contains(t, res.FieldErrors, "role")

	removed := action.Run(context.Background(), e.pipeline, e.service.Remove(), []byte(`{"userId":"`+ownerA+`"}`))
	require.Equal(t, action.CodeValidation, removed.Code)
	assert.Contains(t, removed.FieldErrors, "role")
	assert.Equal(t, rbac.RoleOrgOwner, e.repo.members[orgA][ownerA].Role)
}

func TestRemoveMember(t *testing.T) {
	e := newEnv(t).as(adminA, orgA, rbac.RoleAdmin)

	res := action.Run(context.Background(), e.pipeline, e.service.Remove(), []byte(`{"userId":"`+viewerA+`"}`))

	require.True(t, res.Success)
	assert.NotContains(t, e.repo.members[orgA], viewerA)
	require.Len(t, e.publisher.events, 1)
	assert.Equal(t, members.EventRemoved, e.publisher.events[0].Type)

	res = action.Run(context.Background(), e.pipeline, e.service.Remove(), []byte(`{"userId":"`+adminA+`"}`))
	assert.Equal(t, action.CodeForbidden, res.Code)
}

func TestListIsScopedToOrganization(t *testing.T) {
	e := newEnv(t).as(adminB, orgB, rbac.RoleAdmin)

	res := action.Run(context.Background(), e.pipeline, e.service.List(), members.ListInput{})

	require.True(t, res.Success)
	require.Len(t, res.Data, 1)
	assert.Equal(t, adminB, res.Data[0].UserID)
}

func TestAcceptInvitation(t *testing.T) {
	e := newEnv(t)
	e.repo.accepts["9f0c1d2e-3b4a-4c5d-8e6f-7a8b9c0d1e2f"] = members.Accepted{OrganizationID: orgA, Role: rbac.RoleAgent}

	got, err := e.service.AcceptInvitation(context.Background(), "u-new", members.AcceptInput{Token: "9f0c1d2e-3b4a-4c5d-8e6f-7a8b9c0d1e2f"})
	require.NoError(t, err)
	assert.Equal(t, orgA, got.OrganizationID)

	_, err = e.service.AcceptInvitation(context.Background(), "u-new", members.AcceptInput{Token: "00000000-0000-4000-8000-000000000000"})
	code, _, _ := action.Classify(err)
	assert.Equal(t, action.CodeNotFound, code)
}

func TestHandlerUsesPathUserID(t *testing.T) {
	e := newEnv(t).as(adminA, orgA, rbac.RoleAdmin)
	h := members.NewHandler(nil, e.service, e.pipeline)
	r := chi.NewRouter()
	r.Route("/members", h.MountRoutes)

	req := httptest.NewRequest(http.MethodPatch, "/members/"+agentA, strings.NewReader(`{"role":"VIEWER","userId":"`+viewerA+`"}`))
	res := httptest.NewRecorder()
	r.ServeHTTP(res, req)

	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	assert.Equal(t, rbac.RoleViewer, e.repo.members[orgA][agentA].Role)
	assert.Equal(t, rbac.RoleViewer, e.repo.members[orgA][viewerA].Role)

	req = httptest.NewRequest(http.MethodDelete, "/members/"+viewerA, nil)
	res = httptest.NewRecorder()
	r.ServeHTTP(res, req)
	assert.Equal(t, http.StatusNoContent, res.Code)

	req = httptest.NewRequest(http.MethodPost, "/members/invitations", strings.NewReader(`{"email":"x@a.test","role":"AGENT"}`))
	res = httptest.NewRecorder()
	r.ServeHTTP(res, req)
	assert.Equal(t, http.StatusCreated, res.Code)
}
