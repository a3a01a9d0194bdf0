package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"

	audittrailhttp "github.com/odyssey-erp/audithub/internal/audittrail/http"
	exporthttp "github.com/odyssey-erp/audithub/internal/export/http"
	"github.com/odyssey-erp/audithub/internal/observability"
	periodshttp "github.com/odyssey-erp/audithub/internal/periods/http"
	"github.com/odyssey-erp/audithub/internal/platform/httpx"
	signoffhttp "github.com/odyssey-erp/audithub/internal/signoff/http"
	snapshothttp "github.com/odyssey-erp/audithub/internal/snapshot/http"
	"github.com/odyssey-erp/audithub/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger            *slog.Logger
	Config            *Config
	Pool              *pgxpool.Pool
	PeriodsHandler    *periodshttp.Handler
	SnapshotHandler   *snapshothttp.Handler
	SignOffHandler    *signoffhttp.Handler
	ExportHandler     *exporthttp.Handler
	AuditTrailHandler *audittrailhttp.Handler
	JobHandler        *jobs.Handler
	Metrics           *observability.Metrics
}

type routeMounter interface {
	MountRoutes(r chi.Router)
}

func (p RouterParams) mounters() []routeMounter {
	var out []routeMounter
	if p.PeriodsHandler != nil {
		out = append(out, p.PeriodsHandler)
	}
	if p.SnapshotHandler != nil {
		out = append(out, p.SnapshotHandler)
	}
	if p.SignOffHandler != nil {
		out = append(out, p.SignOffHandler)
	}
	if p.ExportHandler != nil {
		out = append(out, p.ExportHandler)
	}
	if p.AuditTrailHandler != nil {
		out = append(out, p.AuditTrailHandler)
	}
	return out
}

// NewRouter constructs the chi.Router with audit hub defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		status := map[string]string{"status": "ok"}
		if params.Pool != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := params.Pool.Ping(ctx); err != nil {
				params.Logger.Warn("healthz database ping", slog.Any("error", err))
				httpx.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "database": "unreachable"})
				return
			}
		}
		httpx.JSON(w, http.StatusOK, status)
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(TenantMiddleware(params.Logger))
		for _, h := range params.mounters() {
			h.MountRoutes(r)
		}
	})
	if params.JobHandler != nil {
		params.JobHandler.MountRoutes(r)
	}

	return r
}
