package httpx

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/audithub/internal/shared"
)

func TestIDParam(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/periods/12", nil)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", "12")
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))

	id, err := IDParam(req, "id")
	require.NoError(t, err)
	require.Equal(t, int64(12), id)

	rctx.URLParams = chi.RouteParams{}
	rctx.URLParams.Add("id", "-4")
	_, err = IDParam(req, "id")
	require.True(t, shared.IsKind(err, shared.KindValidation))
}

func TestDecodeAndValidate(t *testing.T) {
	type body struct {
		Reason string `json:"reason" validate:"required"`
	}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"reason":""}`))
	var got body
	err := DecodeAndValidate(req, &got)
	require.Error(t, err)
	require.Equal(t, shared.KindValidation, shared.KindOf(err))
	require.Contains(t, err.Error(), "Reason:required")

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"reason":"x","extra":1}`))
	err = DecodeAndValidate(req, &got)
	require.Equal(t, shared.KindValidation, shared.KindOf(err))
}

func TestRespondErrorMapsKinds(t *testing.T) {
	rr := httptest.NewRecorder()
	RespondError(rr, shared.SnapshotFailed("periods.Close", "BANK", shared.E(shared.KindSourceData, "source", "timeout")))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	require.Equal(t, "application/problem+json", rr.Header().Get("Content-Type"))
	require.Contains(t, rr.Body.String(), `"kind":"SnapshotError"`)
	require.Contains(t, rr.Body.String(), `"module":"BANK"`)

	rr = httptest.NewRecorder()
	RespondError(rr, context.DeadlineExceeded)
	require.Equal(t, http.StatusInternalServerError, rr.Code)
	require.NotContains(t, rr.Body.String(), "deadline")
}
