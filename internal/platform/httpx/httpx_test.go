package httpx

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haven-crm/haven/internal/action"
)

func TestStatusFor(t *testing.T) {
	cases := map[action.ErrorCode]int{
		"":                      http.StatusOK,
		action.CodeUnauthorized: http.StatusUnauthorized,
		action.CodeForbidden:    http.StatusForbidden,
		action.CodeOrgRequired:  http.StatusForbidden,
		action.CodeValidation:   http.StatusUnprocessableEntity,
		action.CodeNotFound:     http.StatusNotFound,
		action.CodeInternal:     http.StatusInternalServerError,
	}
	for code, status := range cases {
		assert.Equal(t, status, StatusFor(code), "code %q", code)
	}
}

func TestResultWritesEnvelope(t *testing.T) {
	rr := httptest.NewRecorder()
	Result(rr, action.OK(map[string]string{"id": "p1"}), http.StatusCreated)
	assert.Equal(t, http.StatusCreated, rr.Code)
	assert.JSONEq(t, `{"success":true,"data":{"id":"p1"}}`, rr.Body.String())

	rr = httptest.NewRecorder()
	Result(rr, action.Fail[struct{}](action.CodeNotFound, "Resource not found"), http.StatusCreated)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.JSONEq(t, `{"success":false,"error":"Resource not found","code":"NOT_FOUND"}`, rr.Body.String())
}

func TestReadBody(t *testing.T) {
	rr := httptest.NewRecorder()
	body, err := ReadBody(rr, httptest.NewRequest(http.MethodPost, "/", nil), 0)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(body))

	_, err = ReadBody(rr, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(strings.Repeat("a", 64))), 16)
	assert.ErrorIs(t, err, ErrBodyTooLarge)

	rr = httptest.NewRecorder()
	RespondError(rr, ErrBodyTooLarge)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
	assert.Equal(t, "application/problem+json", rr.Header().Get("Content-Type"))
}

func TestWithParams(t *testing.T) {
	merged := WithParams([]byte(`{"role":"AGENT","userId":"spoofed"}`), map[string]string{"userId": "u1"})
	assert.JSONEq(t, `{"role":"AGENT","userId":"u1"}`, string(merged))

	assert.Equal(t, `[1,2]`, string(WithParams([]byte(`[1,2]`), map[string]string{"id": "x"})))
	assert.Equal(t, `{`, string(WithParams([]byte(`{`), map[string]string{"id": "x"})))
}

func TestQueryJSON(t *testing.T) {
	values := url.Values{"status": {"active"}, "page": {"2"}, "perPage": {"many"}, "ignored": {"x"}}
	assert.JSONEq(t, `{"status":"active","page":2,"perPage":"many"}`,
		string(QueryJSON(values, []string{"status"}, "page", "perPage")))
	assert.JSONEq(t, `{}`, string(QueryJSON(url.Values{}, []string{"status"}, "page")))
}
