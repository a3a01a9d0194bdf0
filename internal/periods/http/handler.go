package periodshttp

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/audithub/internal/periods"
	"github.com/odyssey-erp/audithub/internal/platform/httpx"
	"github.com/odyssey-erp/audithub/internal/shared"
	"github.com/odyssey-erp/audithub/internal/snapshot"
)

type periodService interface {
	CreatePeriod(ctx context.Context, in periods.CreateInput, actor shared.Actor) (periods.Period, error)
	ListPeriods(ctx context.Context, companyID int64, page, pageSize int) (periods.ListResult, error)
	GetPeriod(ctx context.Context, companyID, periodID int64) (periods.Period, error)
	ClosePeriod(ctx context.Context, companyID, periodID int64, actor shared.Actor) (periods.CloseResult, error)
	LockPeriod(ctx context.Context, companyID, periodID int64, actor shared.Actor) (periods.Period, error)
	FinalizePeriod(ctx context.Context, companyID, periodID int64, actor shared.Actor) (periods.Period, error)
	AmendPeriod(ctx context.Context, companyID, periodID int64, actor shared.Actor, reason string) (periods.AmendResult, error)
	ListDatasets(ctx context.Context, companyID, periodID int64) ([]snapshot.Dataset, error)
}

// Handler wires HTTP endpoints for the period lifecycle.
type Handler struct {
	logger  *slog.Logger
	service periodService
}

// NewHandler constructs a periods HTTP handler.
func NewHandler(logger *slog.Logger, service periodService) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers HTTP routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/api/periods", func(r chi.Router) {
		r.Get("/", h.listPeriods)
		r.Post("/", h.createPeriod)
		r.Get("/{id}", h.getPeriod)
		r.Get("/{id}/datasets", h.listDatasets)
		r.Post("/{id}/close", h.closePeriod)
		r.Post("/{id}/lock", h.lockPeriod)
		r.Post("/{id}/finalize", h.finalizePeriod)
		r.Post("/{id}/amend", h.amendPeriod)
	})
}

type createRequest struct {
	PeriodType string `json:"period_type" validate:"required,oneof=MONTHLY QUARTERLY YEARLY"`
	Year       int    `json:"year" validate:"required"`
	Month      int    `json:"month,omitempty"`
	Quarter    int    `json:"quarter,omitempty"`
}

type amendRequest struct {
	Reason string `json:"reason" validate:"required"`
}

func (h *Handler) createPeriod(w http.ResponseWriter, r *http.Request) {
	var body createRequest
	if err := httpx.DecodeAndValidate(r, &body); err != nil {
		httpx.RespondError(w, err)
		return
	}
	actor := httpx.Actor(r)
	period, err := h.service.CreatePeriod(r.Context(), periods.CreateInput{
		CompanyID: actor.CompanyID,
		Type:      periods.Type(body.PeriodType),
		Year:      body.Year,
		Month:     body.Month,
		Quarter:   body.Quarter,
	}, actor)
	if err != nil {
		h.logger.Warn("create period", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, period)
}

func (h *Handler) listPeriods(w http.ResponseWriter, r *http.Request) {
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
	result, err := h.service.ListPeriods(r.Context(), httpx.Actor(r).CompanyID, page, pageSize)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) getPeriod(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	period, err := h.service.GetPeriod(r.Context(), httpx.Actor(r).CompanyID, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, period)
}

func (h *Handler) listDatasets(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	datasets, err := h.service.ListDatasets(r.Context(), httpx.Actor(r).CompanyID, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, datasets)
}

func (h *Handler) closePeriod(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	actor := httpx.Actor(r)
	result, err := h.service.ClosePeriod(r.Context(), actor.CompanyID, id, actor)
	if err != nil {
		h.logger.Warn("close period", slog.Int64("period_id", id), slog.String("module", shared.ModuleOf(err)), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) lockPeriod(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "lock period", h.service.LockPeriod)
}

func (h *Handler) finalizePeriod(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "finalize period", h.service.FinalizePeriod)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, msg string, fn func(context.Context, int64, int64, shared.Actor) (periods.Period, error)) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	actor := httpx.Actor(r)
	period, err := fn(r.Context(), actor.CompanyID, id, actor)
	if err != nil {
		h.logger.Warn(msg, slog.Int64("period_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, period)
}

func (h *Handler) amendPeriod(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var body amendRequest
	if err := httpx.DecodeAndValidate(r, &body); err != nil {
		httpx.RespondError(w, err)
		return
	}
	actor := httpx.Actor(r)
	result, err := h.service.AmendPeriod(r.Context(), actor.CompanyID, id, actor, body.Reason)
	if err != nil {
		h.logger.Warn("amend period", slog.Int64("period_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}
