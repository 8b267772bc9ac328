package httpx

import (
	"errors"
	"net/http"

	"github.com/haven-crm/haven/internal/action"
)

// ErrBodyTooLarge is returned by ReadBody when the limit is exceeded.
var ErrBodyTooLarge = errors.New("request body too large")

// StatusFor maps an action error code onto an HTTP status.
func StatusFor(code action.ErrorCode) int {
	switch code {
	case "":
		return http.StatusOK
	case action.CodeUnauthorized:
		return http.StatusUnauthorized
	case action.CodeForbidden, action.CodeOrgRequired:
		return http.StatusForbidden
	case action.CodeValidation:
		return http.StatusUnprocessableEntity
	case action.CodeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Result writes an action result envelope. successStatus is used when the
// action succeeded (e.g. 201 for creations).
func Result[T any](w http.ResponseWriter, res action.Result[T], successStatus int) {
	if res.Success {
		if successStatus == 0 {
			successStatus = http.StatusOK
		}
		JSON(w, successStatus, res)
		return
	}
	JSON(w, StatusFor(res.Code), res)
}

// RespondError writes a body-read failure.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrBodyTooLarge):
		Problem(w, http.StatusRequestEntityTooLarge, "Payload Too Large", err.Error())
	default:
		Problem(w, http.StatusBadRequest, "Bad Request", "unable to read request body")
	}
}
