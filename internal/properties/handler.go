package properties

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/haven-crm/haven/internal/action"
	"github.com/haven-crm/haven/internal/platform/httpx"
)

// Handler exposes property operations over HTTP.
type Handler struct {
	service  *Service
	pipeline *action.Pipeline
}

// NewHandler builds a Handler.
func NewHandler(service *Service, pipeline *action.Pipeline) *Handler {
	return &Handler{service: service, pipeline: pipeline}
}

// MountRoutes registers property routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/{id}", h.get)
	r.Patch("/{id}", h.update)
	r.Delete("/{id}", h.delete)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	raw := httpx.QueryJSON(r.URL.Query(), []string{"status"}, "page", "perPage")
	httpx.Result(w, action.Run(r.Context(), h.pipeline, h.service.List(), raw), http.StatusOK)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	body, err := httpx.ReadBody(w, r, httpx.DefaultBodyLimit)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.Result(w, action.Run(r.Context(), h.pipeline, h.service.Create(), body), http.StatusCreated)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	in := GetInput{ID: chi.URLParam(r, "id")}
	httpx.Result(w, action.Run(r.Context(), h.pipeline, h.service.Get(), in), http.StatusOK)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	body, err := httpx.ReadBody(w, r, httpx.DefaultBodyLimit)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	body = httpx.WithParams(body, map[string]string{"id": chi.URLParam(r, "id")})
	httpx.Result(w, action.Run(r.Context(), h.pipeline, h.service.Update(), body), http.StatusOK)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	res := action.Run(r.Context(), h.pipeline, h.service.Delete(), DeleteInput{ID: chi.URLParam(r, "id")})
	if res.Success {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	httpx.Result(w, res, http.StatusOK)
}
