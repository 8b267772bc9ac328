// Package httpx provides HTTP response utilities following RFC7807 problem details.
package httpx

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
)

// DefaultBodyLimit bounds request bodies read by ReadBody.
const DefaultBodyLimit = 1 << 20

// ProblemDetail represents RFC7807 problem details.
type ProblemDetail struct {
	Type   string `json:"type,omitempty"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// JSON sends a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// Problem sends an RFC7807 problem details response.
func Problem(w http.ResponseWriter, status int, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ProblemDetail{
		Title:  title,
		Status: status,
		Detail: detail,
	})
}

// ReadBody reads at most limit bytes of the request body. An empty body is
// returned as "{}" so schemas report missing fields rather than syntax errors.
func ReadBody(w http.ResponseWriter, r *http.Request, limit int64) ([]byte, error) {
	if limit <= 0 {
		limit = DefaultBodyLimit
	}
	if r.Body == nil {
		return []byte("{}"), nil
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, ErrBodyTooLarge
		}
		return nil, err
	}
	if len(body) == 0 {
		return []byte("{}"), nil
	}
	return body, nil
}

// WithParams overlays path parameters onto a JSON object body so a single
// schema validates both. Bodies that are not JSON objects are returned as-is
// and rejected by the schema.
func WithParams(body []byte, params map[string]string) []byte {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err != nil || obj == nil {
		return body
	}
	for k, v := range params {
		encoded, err := json.Marshal(v)
		if err != nil {
			return body
		}
		obj[k] = encoded
	}
	merged, err := json.Marshal(obj)
	if err != nil {
		return body
	}
	return merged
}

// QueryJSON encodes the named query parameters as a JSON object. Parameters
// listed in numeric are emitted as numbers when they parse as integers and as
// strings otherwise, so the schema reports the type mismatch.
func QueryJSON(values url.Values, names []string, numeric ...string) []byte {
	obj := make(map[string]any, len(names)+len(numeric))
	for _, name := range names {
		if v := values.Get(name); v != "" {
			obj[name] = v
		}
	}
	for _, name := range numeric {
		v := values.Get(name)
		if v == "" {
			continue
		}
		if n, err := strconv.Atoi(v); err == nil {
			obj[name] = n
		} else {
			obj[name] = v
		}
	}
	out, err := json.Marshal(obj)
	if err != nil {
		return []byte("{}")
	}
	return out
}
