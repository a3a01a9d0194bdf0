package audittrailhttp

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
	"github.com/odyssey-erp/audithub/internal/shared"
)

type stubLister struct {
	listFn func(ctx context.Context, companyID int64, filter audittrail.Filter) (audittrail.Page, error)
}

func (s stubLister) List(ctx context.Context, companyID int64, filter audittrail.Filter) (audittrail.Page, error) {
	return s.listFn(ctx, companyID, filter)
}

func TestListPassesFilter(t *testing.T) {
	var captured audittrail.Filter
	h := NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), stubLister{
		listFn: func(ctx context.Context, companyID int64, filter audittrail.Filter) (audittrail.Page, error) {
			require.Equal(t, int64(3), companyID)
			captured = filter
			return audittrail.Page{Page: 2, Events: []audittrail.Event{{Action: "period.closed"}}}, nil
		},
	})
	req := httptest.NewRequest(http.MethodGet, "/api/audit-events?entity_type=period&entity_id=9&page=2&page_size=10", nil)
	req = req.WithContext(shared.ContextWithActor(req.Context(), shared.Actor{CompanyID: 3, UserID: 1}))
	rr := httptest.NewRecorder()
	h.list(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, audittrail.Filter{EntityType: "period", EntityID: "9", Page: 2, PageSize: 10}, captured)
	var body audittrail.Page
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Len(t, body.Events, 1)
}

func TestListRejectsBadPage(t *testing.T) {
	h := NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), stubLister{})
	req := httptest.NewRequest(http.MethodGet, "/api/audit-events?page=abc", nil)
	rr := httptest.NewRecorder()
	h.list(rr, req)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}
