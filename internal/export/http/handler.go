package exporthttp

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/audithub/internal/export"
	"github.com/odyssey-erp/audithub/internal/platform/httpx"
	"github.com/odyssey-erp/audithub/internal/shared"
)

type exportService interface {
	GenerateExport(ctx context.Context, companyID, datasetID int64, exportType export.Type, actor shared.Actor) (export.Artifact, error)
	VerifyDeterminism(ctx context.Context, companyID, datasetID int64, exportType export.Type, persistOnMismatch bool, actor shared.Actor) (export.Determinism, error)
	ListArtifacts(ctx context.Context, companyID, datasetID int64) ([]export.Artifact, error)
	Download(ctx context.Context, companyID, artifactID int64) (export.Artifact, []byte, error)
}

// Handler exposes export generation, verification and download.
type Handler struct {
	logger  *slog.Logger
	service exportService
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, service exportService) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers HTTP routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/api/datasets/{id}/exports", h.list)
	r.Post("/api/datasets/{id}/exports", h.generate)
	r.Post("/api/datasets/{id}/exports/verify", h.verify)
	r.Get("/api/exports/{id}/download", h.download)
}

type generateRequest struct {
	ExportType string `json:"export_type" validate:"required,oneof=EXCEL PDF CSV"`
}

type verifyRequest struct {
	ExportType        string `json:"export_type" validate:"required,oneof=EXCEL PDF CSV"`
	PersistOnMismatch bool   `json:"persist_on_mismatch"`
}

// verifyResponse carries the comparison even when integrity fails.
type verifyResponse struct {
	export.Determinism
	Error *httpx.ProblemDetail `json:"error,omitempty"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	artifacts, err := h.service.ListArtifacts(r.Context(), httpx.Actor(r).CompanyID, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"artifacts": artifacts})
}

func (h *Handler) generate(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req generateRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	actor := httpx.Actor(r)
	artifact, err := h.service.GenerateExport(r.Context(), actor.CompanyID, id, export.Type(req.ExportType), actor)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, artifact)
}

func (h *Handler) verify(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req verifyRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	actor := httpx.Actor(r)
	result, err := h.service.VerifyDeterminism(r.Context(), actor.CompanyID, id, export.Type(req.ExportType), req.PersistOnMismatch, actor)
	if err != nil {
		if !shared.IsKind(err, shared.KindIntegrity) {
			httpx.RespondError(w, err)
			return
		}
		h.logger.Error("export verification failed", slog.Int64("dataset_id", id), slog.Any("error", err))
		status := httpx.StatusFor(shared.KindIntegrity)
		httpx.JSON(w, status, verifyResponse{
			Determinism: result,
			Error: &httpx.ProblemDetail{
				Title:  http.StatusText(status),
				Status: status,
				Kind:   string(shared.KindIntegrity),
				Module: shared.ModuleOf(err),
				Detail: err.Error(),
			},
		})
		return
	}
	httpx.JSON(w, http.StatusOK, verifyResponse{Determinism: result})
}

func (h *Handler) download(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	artifact, data, err := h.service.Download(r.Context(), httpx.Actor(r).CompanyID, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.Header().Set("Content-Type", artifact.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename(artifact)))
	// X-Content-Hash is the canonical hash used for determinism checks. For a
	// typeset PDF it covers the source HTML, so the served bytes get their own.
	w.Header().Set("X-Content-Hash", artifact.ContentHash)
	w.Header().Set("X-Body-SHA256", export.ContentHash(data))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func filename(a export.Artifact) string {
	ext := "bin"
	switch a.ExportType {
	case export.TypeCSV:
		ext = "csv"
	case export.TypeExcel:
		ext = "xlsx"
	case export.TypePDF:
		ext = "pdf"
		if strings.HasPrefix(a.ContentType, "text/html") {
			ext = "html"
		}
	}
	return fmt.Sprintf("dataset-%d-%s.%s", a.DatasetID, a.ContentHash[:min(12, len(a.ContentHash))], ext)
}
