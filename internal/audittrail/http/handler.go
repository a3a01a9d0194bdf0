package audittrailhttp

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/audithub/internal/audittrail"
	"github.com/odyssey-erp/audithub/internal/platform/httpx"
)

type eventLister interface {
	List(ctx context.Context, companyID int64, filter audittrail.Filter) (audittrail.Page, error)
}

// Handler exposes the audit trail read API.
type Handler struct {
	logger  *slog.Logger
	service eventLister
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, service eventLister) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers HTTP routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/api/audit-events", h.list)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	page, err := httpx.IntQuery(r, "page", 1)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	pageSize, err := httpx.IntQuery(r, "page_size", 0)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	q := r.URL.Query()
	filter := audittrail.Filter{
		EntityType: strings.TrimSpace(q.Get("entity_type")),
		EntityID:   strings.TrimSpace(q.Get("entity_id")),
		Page:       page,
		PageSize:   pageSize,
	}
	result, err := h.service.List(r.Context(), httpx.Actor(r).CompanyID, filter)
	if err != nil {
		h.logger.Warn("list audit events", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}
