package billing

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/haven-crm/haven/internal/action"
	"github.com/haven-crm/haven/internal/platform/httpx"
)

// Handler serves billing endpoints.
type Handler struct {
	service  *Service
	pipeline *action.Pipeline
}

// NewHandler builds a Handler.
func NewHandler(service *Service, pipeline *action.Pipeline) *Handler {
	return &Handler{service: service, pipeline: pipeline}
}

// MountRoutes registers billing routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.overview)
}

func (h *Handler) overview(w http.ResponseWriter, r *http.Request) {
	httpx.Result(w, action.Run(r.Context(), h.pipeline, h.service.Overview(), OverviewInput{}), http.StatusOK)
}
