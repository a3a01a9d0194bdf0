package signoffhttp

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/audithub/internal/platform/httpx"
	"github.com/odyssey-erp/audithub/internal/signoff"
)

type signoffService interface {
	SignOff(ctx context.Context, in signoff.Input) (signoff.SignOff, error)
	GetSignOffs(ctx context.Context, companyID, datasetID int64) ([]signoff.SignOff, error)
	CurrentStage(ctx context.Context, companyID, datasetID int64) (signoff.Stage, error)
}

// Handler exposes the sign-off endpoints of a dataset.
type Handler struct {
	logger  *slog.Logger
	service signoffService
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, service signoffService) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers HTTP routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/api/datasets/{id}/signoffs", h.list)
	r.Post("/api/datasets/{id}/signoffs", h.sign)
}

type signRequest struct {
	Stage    string `json:"stage" validate:"required,oneof=PREPARED REVIEWED LOCKED"`
	Comments string `json:"comments"`
}

type listResponse struct {
	CurrentStage signoff.Stage     `json:"current_stage"`
	SignOffs     []signoff.SignOff `json:"signoffs"`
}

func (h *Handler) sign(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var body signRequest
	if err := httpx.DecodeAndValidate(r, &body); err != nil {
		httpx.RespondError(w, err)
		return
	}
	actor := httpx.Actor(r)
	recorded, err := h.service.SignOff(r.Context(), signoff.Input{
		CompanyID: actor.CompanyID,
		DatasetID: id,
		Stage:     signoff.Stage(body.Stage),
		UserID:    actor.UserID,
		UserRole:  actor.Role,
		Comments:  body.Comments,
	})
	if err != nil {
		h.logger.Warn("sign-off rejected", slog.Int64("dataset_id", id), slog.String("stage", body.Stage), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, recorded)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	companyID := httpx.Actor(r).CompanyID
	list, err := h.service.GetSignOffs(r.Context(), companyID, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	stage, err := h.service.CurrentStage(r.Context(), companyID, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, listResponse{CurrentStage: stage, SignOffs: list})
}
