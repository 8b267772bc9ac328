package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/haven-crm/haven/internal/action"
	"github.com/haven-crm/haven/internal/platform/httpx"
	"github.com/haven-crm/haven/internal/rbac"
	"github.com/haven-crm/haven/internal/shared"
	"github.com/haven-crm/haven/internal/tenant"
)

const msgInvalidCredentials = "Invalid email or password"

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger         *slog.Logger
	service        *Service
	authenticator  *SessionAuthenticator
	sessionManager *shared.SessionManager
	credentials    func(http.Handler) http.Handler
}

// NewHandler constructs a Handler instance. credentials wraps the endpoints
// that accept a password and is normally the strict rate limiter.
func NewHandler(logger *slog.Logger, service *Service, authenticator *SessionAuthenticator, sessions *shared.SessionManager, credentials func(http.Handler) http.Handler) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if credentials == nil {
		credentials = func(next http.Handler) http.Handler { return next }
	}
	return &Handler{
		logger:         logger,
		service:        service,
		authenticator:  authenticator,
		sessionManager: sessions,
		credentials:    credentials,
	}
}

// MountRoutes registers auth routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(h.credentials).Post("/login", h.handleLogin)
	r.Post("/logout", h.handleLogout)
	r.Get("/me", h.handleMe)
	r.Post("/organization", h.handleSwitchOrganization)
}

type loginInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

type switchInput struct {
	OrganizationID string `json:"organizationId" validate:"required,uuid"`
}

// SessionView describes the signed-in caller.
type SessionView struct {
	UserID         string    `json:"userId"`
	OrganizationID string    `json:"organizationId,omitempty"`
	Role           rbac.Role `json:"role,omitempty"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	body, err := httpx.ReadBody(w, r, httpx.DefaultBodyLimit)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	input, fieldErrs := action.JSON[loginInput]().Parse(body)
	if len(fieldErrs) > 0 {
		res := action.Fail[SessionView](action.CodeValidation, "Invalid input")
		res.FieldErrors = fieldErrs
		httpx.Result(w, res, http.StatusOK)
		return
	}

	user, err := h.service.Authenticate(r.Context(), input.Email, input.Password)
	if err != nil {
		if !errors.Is(err, shared.ErrInvalidCredentials) {
			h.logger.Error("authenticate", slog.Any("error", err))
			httpx.Result(w, action.Fail[SessionView](action.CodeInternal, "An unexpected error occurred"), http.StatusOK)
			return
		}
		httpx.Result(w, action.Fail[SessionView](action.CodeUnauthorized, msgInvalidCredentials), http.StatusOK)
		return
	}

	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		h.logger.Error("session missing during login")
		httpx.Result(w, action.Fail[SessionView](action.CodeInternal, "An unexpected error occurred"), http.StatusOK)
		return
	}
	h.sessionManager.Renew(sess)
	sess.SetUser(user.ID)
	view := SessionView{UserID: user.ID}

	membership, err := h.service.DefaultOrganization(r.Context(), user.ID)
	if err != nil {
		h.logger.Warn("default organization", slog.String("user", user.ID), slog.Any("error", err))
	}
	if membership != nil {
		sess.SetOrganization(membership.OrganizationID)
		view.OrganizationID = membership.OrganizationID
		view.Role = membership.Role
	} else {
		sess.SetOrganization("")
	}

	expiresAt := time.Now().Add(h.sessionManager.TTL())
	if err := h.service.RegisterSession(r.Context(), sess.ID, user.ID, expiresAt, r.RemoteAddr, r.UserAgent()); err != nil {
		h.logger.Warn("register session", slog.Any("error", err))
	}
	httpx.Result(w, action.OK(view), http.StatusOK)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if sess != nil && sess.User() != "" {
		if err := h.service.RemoveSession(r.Context(), sess.ID); err != nil {
			h.logger.Warn("remove session", slog.Any("error", err))
		}
		h.sessionManager.Destroy(sess)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	principal, err := h.authenticator.Authenticate(r.Context())
	if err != nil {
		if !errors.Is(err, action.ErrUnauthenticated) {
			h.logger.Error("authenticate session", slog.Any("error", err))
			httpx.Result(w, action.Fail[SessionView](action.CodeInternal, "An unexpected error occurred"), http.StatusOK)
			return
		}
		httpx.Result(w, action.Fail[SessionView](action.CodeUnauthorized, "Authentication required"), http.StatusOK)
		return
	}
	httpx.Result(w, action.OK(SessionView{
		UserID:         principal.ID,
		OrganizationID: principal.OrganizationID,
		Role:           principal.Role,
	}), http.StatusOK)
}

func (h *Handler) handleSwitchOrganization(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil || sess.User() == "" {
		httpx.Result(w, action.Fail[SessionView](action.CodeUnauthorized, "Authentication required"), http.StatusOK)
		return
	}
	body, err := httpx.ReadBody(w, r, httpx.DefaultBodyLimit)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	input, fieldErrs := action.JSON[switchInput]().Parse(body)
	if len(fieldErrs) > 0 {
		res := action.Fail[SessionView](action.CodeValidation, "Invalid input")
		res.FieldErrors = fieldErrs
		httpx.Result(w, res, http.StatusOK)
		return
	}
	orgID, err := tenant.ValidateOrganizationID(input.OrganizationID)
	if err != nil {
		httpx.Result(w, action.Fail[SessionView](action.CodeOrgRequired, "You must belong to an organization to perform this action"), http.StatusOK)
		return
	}
	membership, err := h.service.Membership(r.Context(), sess.User(), orgID)
	if err != nil {
		if errors.Is(err, shared.ErrNoMembership) {
			// Indistinguishable from an organization that does not exist.
			httpx.Result(w, action.Fail[SessionView](action.CodeNotFound, "Resource not found"), http.StatusOK)
			return
		}
		h.logger.Error("switch organization", slog.Any("error", err))
		httpx.Result(w, action.Fail[SessionView](action.CodeInternal, "An unexpected error occurred"), http.StatusOK)
		return
	}
	sess.SetOrganization(membership.OrganizationID)
	httpx.Result(w, action.OK(SessionView{
		UserID:         sess.User(),
		OrganizationID: membership.OrganizationID,
		Role:           membership.Role,
	}), http.StatusOK)
}
