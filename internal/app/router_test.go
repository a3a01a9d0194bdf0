package app

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/audithub/internal/audittrail"
	audittrailhttp "github.com/odyssey-erp/audithub/internal/audittrail/http"
	"github.com/odyssey-erp/audithub/internal/observability"
)

type eventLister struct {
	companyID int64
}

func (l *eventLister) List(_ context.Context, companyID int64, filter audittrail.Filter) (audittrail.Page, error) {
	l.companyID = companyID
	return audittrail.Page{Events: []audittrail.Event{}, Page: 1}, nil
}

func newTestRouter(lister *eventLister) http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewRouter(RouterParams{
		Logger:            logger,
		Config:            &Config{AppEnv: "test", RateLimitPerMinute: 1000},
		AuditTrailHandler: audittrailhttp.NewHandler(logger, lister),
		Metrics:           observability.NewMetrics(),
	})
}

func TestRouterRequiresTenantHeaders(t *testing.T) {
	lister := &eventLister{}
	router := newTestRouter(lister)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/audit-events", nil))
	require.Equal(t, http.StatusForbidden, rr.Code)

	var problem map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &problem))
	require.Equal(t, "AuthorizationError", problem["kind"])

	req := httptest.NewRequest(http.MethodGet, "/api/audit-events", nil)
	req.Header.Set(HeaderCompanyID, "7")
	req.Header.Set(HeaderUserID, "3")
	req.Header.Set(HeaderUserRole, "finance_manager")
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, int64(7), lister.companyID)
}

func TestRouterServesHealthAndMetrics(t *testing.T) {
	router := newTestRouter(&eventLister{})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), "audithub_http_requests_total")
}

func TestActorFromHeaders(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderCompanyID, "12")
	req.Header.Set(HeaderUserRole, " senior_accountant ")
	actor, err := actorFromHeaders(req)
	require.NoError(t, err)
	require.Equal(t, int64(12), actor.CompanyID)
	require.Equal(t, int64(0), actor.UserID)
	require.Equal(t, "SENIOR_ACCOUNTANT", actor.Role)

	req.Header.Set(HeaderUserID, "abc")
	_, err = actorFromHeaders(req)
	require.Error(t, err)

	req.Header.Set(HeaderCompanyID, "0")
	_, err = actorFromHeaders(req)
	require.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	cfg := &Config{ExportStorage: "FS", ExportStorageDir: "/tmp/x", SnapshotTimeout: 60e9, AppRequestTimeout: 90e9}
	require.NoError(t, cfg.Validate())
	require.Equal(t, StorageFS, cfg.ExportStorage)

	cfg.ExportStorage = StorageGCS
	require.Error(t, cfg.Validate(), "bucket required")

	cfg = &Config{ExportStorage: StorageFS, ExportStorageDir: "/tmp/x", SnapshotTimeout: 60e9, AppRequestTimeout: 30e9}
	require.Error(t, cfg.Validate(), "request timeout below snapshot timeout")
}
