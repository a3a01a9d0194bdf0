package snapshothttp

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/audithub/internal/platform/httpx"
	"github.com/odyssey-erp/audithub/internal/snapshot"
)

type snapshotService interface {
	GetDataset(ctx context.Context, companyID, datasetID int64) (snapshot.Dataset, error)
	ListRecords(ctx context.Context, companyID, datasetID int64, page, pageSize int) (snapshot.RecordPage, error)
	VerifyDataset(ctx context.Context, companyID, datasetID int64) (snapshot.Verification, error)
}

// Handler exposes read and verification endpoints for datasets.
type Handler struct {
	logger  *slog.Logger
	service snapshotService
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, service snapshotService) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers HTTP routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/api/datasets/{id}", h.getDataset)
	r.Get("/api/datasets/{id}/records", h.listRecords)
	r.Post("/api/datasets/{id}/verify", h.verify)
}

func (h *Handler) getDataset(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	d, err := h.service.GetDataset(r.Context(), httpx.Actor(r).CompanyID, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, d)
}

func (h *Handler) listRecords(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
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
	result, err := h.service.ListRecords(r.Context(), httpx.Actor(r).CompanyID, id, page, pageSize)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) verify(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.service.VerifyDataset(r.Context(), httpx.Actor(r).CompanyID, id)
	if err != nil {
		h.logger.Error("verify dataset", slog.Int64("dataset_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}
