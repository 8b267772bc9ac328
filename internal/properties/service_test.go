package properties_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haven-crm/haven/internal/action"
	"github.com/haven-crm/haven/internal/properties"
	"github.com/haven-crm/haven/internal/rbac"
	"github.com/haven-crm/haven/internal/shared"
	"github.com/haven-crm/haven/internal/tenant"
	"github.com/haven-crm/haven/internal/tenant/tenanttest"
)

const (
	orgA       = "6f1c2b8e-8f43-4a8e-9f55-0c6b9a1f0a01"
	orgB       = "0d9e3c55-2b1a-4c3f-8e7d-5a4b3c2d1e02"
	propertyID = "11111111-2222-4333-8444-555555555555"
	agentID    = "a0000000-0000-4000-8000-000000000003"
	otherAgent = "a0000000-0000-4000-8000-000000000005"
)

var now = time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

type capturePublisher struct {
	events []action.Event
}

func (p *capturePublisher) Publish(_ context.Context, e action.Event) error {
	p.events = append(p.events, e)
	return nil
}

type env struct {
	db        *tenanttest.DB
	publisher *capturePublisher
	service   *properties.Service
	pipeline  *action.Pipeline
	principal *action.Principal
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{db: tenanttest.NewDB(), publisher: &capturePublisher{}}
	e.service = properties.NewService(properties.NewRepository(), shared.NewAuditLogger(), func() time.Time { return now })
	e.pipeline = action.New(action.Config{
		Authenticator: action.AuthenticatorFunc(func(context.Context) (*action.Principal, error) {
			return e.principal, nil
		}),
		Tenants:   tenant.New(e.db),
		Publisher: e.publisher,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	e.principal = &action.Principal{ID: agentID, OrganizationID: orgA, Role: rbac.RoleAgent}
	return e
}

func (e *env) as(id, org string, role rbac.Role) {
	e.principal = &action.Principal{ID: id, OrganizationID: org, Role: role}
}

func propertyRow(id, createdBy, status string) []any {
	return []any{
		id, "Canal loft", "", "apartment", status, int64(450000_00), "EUR", 2, 1, createdBy, now, now,
		"Prinsengracht 1", nil, "Amsterdam", nil, "1015", "NL",
		nil, nil, nil,
	}
}

const createBody = `{
	"title": "Canal loft",
	"type": "apartment",
	"priceCents": 45000000,
	"currency": "EUR",
	"bedrooms": 2,
	"bathrooms": 1,
	"address": {"line1": "Prinsengracht 1", "city": "Amsterdam", "postalCode": "1015", "country": "NL"},
	"listing": {"headline": "Light-filled loft", "publish": true},
	"units": [{"label": "A", "price": 100}, {"label": "B", "price": 200}]
}`

func TestCreateWritesEverythingInOneBoundTransaction(t *testing.T) {
	e := newEnv(t)
	e.db.RowHook = func(bound, sql string, _ []any) ([]any, error) {
		switch {
		case strings.Contains(sql, "INSERT INTO properties"):
			return []any{propertyID, now, now}, nil
		case strings.Contains(sql, "INSERT INTO listings"):
			return []any{"l-1"}, nil
		case strings.Contains(sql, "INSERT INTO property_units"):
			return []any{"u-1"}, nil
		}
		return nil, pgx.ErrNoRows
	}

	res := action.Run(context.Background(), e.pipeline, e.service.Create(), []byte(createBody))

	require.True(t, res.Success, "%+v", res)
	assert.Equal(t, propertyID, res.Data.ID)
	assert.Equal(t, properties.StatusActive, res.Data.Status)
	assert.Equal(t, agentID, res.Data.CreatedBy)
	require.NotNil(t, res.Data.Listing)
	assert.Equal(t, now, *res.Data.Listing.PublishedAt)
	assert.Len(t, res.Data.Units, 2)

	txs := e.db.Transactions()
	require.Len(t, txs, 1)
	assert.True(t, txs[0].Committed)
	var tables []string
	for i, stmt := range txs[0].Statements {
		assert.Equal(t, orgA, stmt.Bound, "statement %d", i)
		if i == 0 {
			assert.Equal(t, tenant.BindStatement, stmt.SQL)
			continue
		}
		fields := strings.Fields(stmt.SQL)
		require.GreaterOrEqual(t, len(fields), 3)
		tables = append(tables, fields[2])
	}
	assert.Equal(t, []string{"properties", "property_addresses", "listings", "property_units", "property_units", "audit_logs"}, tables)

	require.Len(t, e.publisher.events, 1)
	assert.Equal(t, properties.EventCreated, e.publisher.events[0].Type)
	assert.Equal(t, orgA, e.publisher.events[0].OrganizationID)
}

func TestCreateRollsBackWhenAnyInsertFails(t *testing.T) {
	e := newEnv(t)
	e.db.RowHook = func(_, sql string, _ []any) ([]any, error) {
		if strings.Contains(sql, "INSERT INTO properties") {
			return []any{propertyID, now, now}, nil
		}
		return nil, pgx.ErrNoRows
	}
	e.db.ExecHook = func(sql string, _ []any) (pgconn.CommandTag, error) {
		if strings.Contains(sql, "property_addresses") {
			return pgconn.CommandTag{}, &pgconn.PgError{Code: "23514", Message: "check violation"}
		}
		return pgconn.NewCommandTag("INSERT 0 1"), nil
	}

	res := action.Run(context.Background(), e.pipeline, e.service.Create(), []byte(createBody))

	assert.Equal(t, action.CodeInternal, res.Code)
	assert.NotContains(t, res.Error, "check violation")
	assert.True(t, e.db.Transactions()[0].RolledBack)
	assert.Empty(t, e.publisher.events)
}

func TestCreateValidation(t *testing.T) {
	cases := map[string]struct {
		body  string
		paths []string
	}{
		"nested address": {
			body:  `{"title":"x","type":"house","currency":"EUR","address":{"line1":"a","postalCode":"1","country":"Netherlands"}}`,
			paths: []string{"address.city", "address.country"},
		},
		"unit fields": {
			body:  `{"title":"x","type":"house","currency":"EUR","address":{"line1":"a","city":"b","postalCode":"1","country":"NL"},"units":[{"label":"A","price":-1}]}`,
			paths: []string{"units[0].price"},
		},
		"duplicate unit labels": {
			body:  `{"title":"x","type":"house","currency":"EUR","address":{"line1":"a","city":"b","postalCode":"1","country":"NL"},"units":[{"label":"A"},{"label":"a"}]}`,
			paths: []string{"units[1].label"},
		},
		"land with rooms": {
			body:  `{"title":"x","type":"land","currency":"EUR","bedrooms":1,"address":{"line1":"a","city":"b","postalCode":"1","country":"NL"}}`,
			paths: []string{"bedrooms"},
		},
		"lowercase currency and bad type": {
			body:  `{"title":"x","type":"castle","currency":"eur","address":{"line1":"a","city":"b","postalCode":"1","country":"NL"}}`,
			paths: []string{"currency", "type"},
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			e := newEnv(t)
			res := action.Run(context.Background(), e.pipeline, e.service.Create(), []byte(tc.body))
			require.Equal(t, action.CodeValidation, res.Code)
			assert.Equal(t, tc.paths, res.FieldErrors.Paths())
			assert.Empty(t, e.db.Transactions())
		})
	}
}

func TestViewerCannotCreate(t *testing.T) {
	e := newEnv(t)
	e.as("v1", orgA, rbac.RoleViewer)

	res := action.Run(context.Background(), e.pipeline, e.service.Create(), []byte(createBody))

	assert.Equal(t, action.CodeForbidden, res.Code)
	assert.Empty(t, e.db.Transactions())
}

func TestGetIsScopedToBoundOrganization(t *testing.T) {
	e := newEnv(t)
	e.db.QueryHook = func(bound, sql string, _ []any) ([][]any, error) {
		if bound != orgA {
			return nil, nil
		}
		if strings.Contains(sql, "FROM property_units") {
			return [][]any{{"u-1", "A", int64(100), 1}}, nil
		}
		return [][]any{propertyRow(propertyID, agentID, "active")}, nil
	}

	res := action.Run(context.Background(), e.pipeline, e.service.Get(), properties.GetInput{ID: propertyID})
	require.True(t, res.Success, "%+v", res)
	assert.Equal(t, "Amsterdam", res.Data.Address.City)
	assert.Nil(t, res.Data.Listing)
	assert.Equal(t, []properties.Unit{{ID: "u-1", Label: "A", PriceCents: 100, Bedrooms: 1}}, res.Data.Units)

	e.as("b-viewer", orgB, rbac.RoleViewer)
	res = action.Run(context.Background(), e.pipeline, e.service.Get(), properties.GetInput{ID: propertyID})
	assert.Equal(t, action.CodeNotFound, res.Code)
}

func TestListPagesAndFilters(t *testing.T) {
	e := newEnv(t)
	e.db.RowHook = func(_, sql string, _ []any) ([]any, error) {
		return []any{23}, nil
	}
	var listArgs []any
	e.db.QueryHook = func(_, sql string, args []any) ([][]any, error) {
		listArgs = args
		return [][]any{propertyRow(propertyID, agentID, "active")}, nil
	}

	res := action.Run(context.Background(), e.pipeline, e.service.List(), []byte(`{"status":"active","page":2,"perPage":10}`))

	require.True(t, res.Success, "%+v", res)
	assert.Equal(t, shared.Pagination{Page: 2, PerPage: 10, Total: 23, TotalPages: 3}, res.Data.Pagination)
	assert.Len(t, res.Data.Items, 1)
	assert.Equal(t, []any{"active", 10, 10}, listArgs)

	res = action.Run(context.Background(), e.pipeline, e.service.List(), []byte(`{"status":"gone"}`))
	assert.Equal(t, action.CodeValidation, res.Code)
}

func TestUpdate(t *testing.T) {
	e := newEnv(t)
	var updateArgs []any
	e.db.RowHook = func(_, sql string, args []any) ([]any, error) {
		if strings.Contains(sql, "UPDATE properties") {
			updateArgs = args
			return []any{propertyID}, nil
		}
		return nil, pgx.ErrNoRows
	}
	e.db.QueryHook = func(_, sql string, _ []any) ([][]any, error) {
		if strings.Contains(sql, "FROM property_units") {
			return nil, nil
		}
		return [][]any{propertyRow(propertyID, agentID, "sold")}, nil
	}

	res := action.Run(context.Background(), e.pipeline, e.service.Update(), []byte(`{"id":"`+propertyID+`","status":"sold"}`))

	require.True(t, res.Success, "%+v", res)
	assert.Equal(t, properties.StatusSold, res.Data.Status)
	require.NotNil(t, updateArgs)
	assert.Nil(t, updateArgs[1])
	require.Len(t, e.publisher.events, 1)
	assert.Equal(t, map[string]any{"propertyId": propertyID, "fields": []string{"status"}}, e.publisher.events[0].Payload)

	res = action.Run(context.Background(), e.pipeline, e.service.Update(), []byte(`{"id":"`+propertyID+`"}`))
	require.Equal(t, action.CodeValidation, res.Code)
	assert.Equal(t, []string{action.RootPath}, res.FieldErrors.Paths())
}

func TestDeleteRespectsOwnership(t *testing.T) {
	cases := map[string]struct {
		caller  string
		role    rbac.Role
		creator string
		code    action.ErrorCode
	}{
		"agent deletes own":     {caller: agentID, role: rbac.RoleAgent, creator: agentID},
		"agent deletes other's": {caller: agentID, role: rbac.RoleAgent, creator: otherAgent, code: action.CodeForbidden},
		"admin deletes any":     {caller: "admin", role: rbac.RoleAdmin, creator: otherAgent},
		"viewer":                {caller: "viewer", role: rbac.RoleViewer, creator: "viewer", code: action.CodeForbidden},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			e := newEnv(t)
			e.as(tc.caller, orgA, tc.role)
			e.db.RowHook = func(_, sql string, _ []any) ([]any, error) {
				return []any{tc.creator}, nil
			}
			e.db.ExecHook = func(sql string, _ []any) (pgconn.CommandTag, error) {
				if strings.HasPrefix(sql, "DELETE") {
					return pgconn.NewCommandTag("DELETE 1"), nil
				}
				return pgconn.NewCommandTag("OK"), nil
			}

			res := action.Run(context.Background(), e.pipeline, e.service.Delete(), properties.DeleteInput{ID: propertyID})

			if tc.code == "" {
				require.True(t, res.Success, "%+v", res)
				require.Len(t, e.publisher.events, 1)
				assert.Equal(t, properties.EventDeleted, e.publisher.events[0].Type)
				return
			}
			assert.Equal(t, tc.code, res.Code)
			assert.Empty(t, e.publisher.events)
			for _, tx := range e.db.Transactions() {
				assert.False(t, tx.Committed)
			}
		})
	}
}

func TestDeleteMissingProperty(t *testing.T) {
	e := newEnv(t)
	res := action.Run(context.Background(), e.pipeline, e.service.Delete(), properties.DeleteInput{ID: propertyID})
	assert.Equal(t, action.CodeNotFound, res.Code)
}

func TestHandlerRoutes(t *testing.T) {
	e := newEnv(t)
	e.db.RowHook = func(_, sql string, _ []any) ([]any, error) {
		return []any{0}, nil
	}
	r := chi.NewRouter()
	r.Route("/properties", properties.NewHandler(e.service, e.pipeline).MountRoutes)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/properties?page=abc", nil))
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	assert.Contains(t, rr.Body.String(), `"page"`)

	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/properties?status=draft", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"success":true,"data":{"items":[],"pagination":{"page":1,"perPage":20,"total":0,"totalPages":0}}}`, rr.Body.String())

	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/properties/not-a-uuid", nil))
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	e.principal = nil
	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/properties/"+propertyID, nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}
