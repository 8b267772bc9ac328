package members

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/haven-crm/haven/internal/action"
	"github.com/haven-crm/haven/internal/platform/httpx"
	"github.com/haven-crm/haven/internal/shared"
)

// Handler manages member endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	pipeline *action.Pipeline
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, pipeline *action.Pipeline) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, pipeline: pipeline}
}

// MountRoutes registers member routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/invitations", h.invite)
	r.Post("/invitations/accept", h.accept)
	r.Patch("/{userID}", h.updateRole)
	r.Delete("/{userID}", h.remove)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	httpx.Result(w, action.Run(r.Context(), h.pipeline, h.service.List(), ListInput{}), http.StatusOK)
}

func (h *Handler) invite(w http.ResponseWriter, r *http.Request) {
	body, err := httpx.ReadBody(w, r, httpx.DefaultBodyLimit)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.Result(w, action.Run(r.Context(), h.pipeline, h.service.Invite(), body), http.StatusCreated)
}

func (h *Handler) updateRole(w http.ResponseWriter, r *http.Request) {
	body, err := httpx.ReadBody(w, r, httpx.DefaultBodyLimit)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	body = httpx.WithParams(body, map[string]string{"userId": chi.URLParam(r, "userID")})
	httpx.Result(w, action.Run(r.Context(), h.pipeline, h.service.UpdateRole(), body), http.StatusOK)
}

func (h *Handler) remove(w http.ResponseWriter, r *http.Request) {
	body := httpx.WithParams([]byte("{}"), map[string]string{"userId": chi.URLParam(r, "userID")})
	res := action.Run(r.Context(), h.pipeline, h.service.Remove(), body)
	if res.Success {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	httpx.Result(w, res, http.StatusOK)
}

func (h *Handler) accept(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil || sess.User() == "" {
		httpx.Result(w, action.Fail[Accepted](action.CodeUnauthorized, "Authentication required"), http.StatusOK)
		return
	}
	body, err := httpx.ReadBody(w, r, httpx.DefaultBodyLimit)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	input, fieldErrs := action.JSON[AcceptInput]().Parse(body)
	if len(fieldErrs) > 0 {
		res := action.Fail[Accepted](action.CodeValidation, "Invalid input")
		res.FieldErrors = fieldErrs
		httpx.Result(w, res, http.StatusOK)
		return
	}
	accepted, err := h.service.AcceptInvitation(r.Context(), sess.User(), input)
	if err != nil {
		code, msg, _ := action.Classify(err)
		if code == action.CodeInternal {
			h.logger.Error("accept invitation", slog.String("user", sess.User()), slog.Any("error", err))
		}
		httpx.Result(w, action.Fail[Accepted](code, msg), http.StatusOK)
		return
	}
	sess.SetOrganization(accepted.OrganizationID)
	httpx.Result(w, action.OK(accepted), http.StatusOK)
}
