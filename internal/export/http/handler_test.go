package exporthttp

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/audithub/internal/export"
	"github.com/odyssey-erp/audithub/internal/shared"
)

type stubService struct {
	generateFn func(ctx context.Context, companyID, datasetID int64, exportType export.Type, actor shared.Actor) (export.Artifact, error)
	verifyFn   func(ctx context.Context, companyID, datasetID int64, exportType export.Type, persist bool, actor shared.Actor) (export.Determinism, error)
	listFn     func(ctx context.Context, companyID, datasetID int64) ([]export.Artifact, error)
	downloadFn func(ctx context.Context, companyID, artifactID int64) (export.Artifact, []byte, error)
}

func (s stubService) GenerateExport(ctx context.Context, companyID, datasetID int64, exportType export.Type, actor shared.Actor) (export.Artifact, error) {
	return s.generateFn(ctx, companyID, datasetID, exportType, actor)
}

func (s stubService) VerifyDeterminism(ctx context.Context, companyID, datasetID int64, exportType export.Type, persist bool, actor shared.Actor) (export.Determinism, error) {
	return s.verifyFn(ctx, companyID, datasetID, exportType, persist, actor)
}

func (s stubService) ListArtifacts(ctx context.Context, companyID, datasetID int64) ([]export.Artifact, error) {
	return s.listFn(ctx, companyID, datasetID)
}

func (s stubService) Download(ctx context.Context, companyID, artifactID int64) (export.Artifact, []byte, error) {
	return s.downloadFn(ctx, companyID, artifactID)
}

func request(method, target, id string, body []byte) *http.Request {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", id)
	ctx := context.WithValue(req.Context(), chi.RouteCtxKey, rctx)
	ctx = shared.ContextWithActor(ctx, shared.Actor{CompanyID: 1, UserID: 9, Role: "FINANCE_MANAGER"})
	return req.WithContext(ctx)
}

func newHandler(svc stubService) *Handler {
	return NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), svc)
}

func TestGenerateValidatesType(t *testing.T) {
	called := false
	h := newHandler(stubService{generateFn: func(ctx context.Context, companyID, datasetID int64, exportType export.Type, actor shared.Actor) (export.Artifact, error) {
		called = true
		require.Equal(t, export.TypeCSV, exportType)
		require.Equal(t, int64(9), actor.UserID)
		return export.Artifact{ID: 4, DatasetID: datasetID, ExportType: exportType}, nil
	}})

	rr := httptest.NewRecorder()
	h.generate(rr, request(http.MethodPost, "/api/datasets/3/exports", "3", []byte(`{"export_type":"DOCX"}`)))
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.False(t, called)

	rr = httptest.NewRecorder()
	h.generate(rr, request(http.MethodPost, "/api/datasets/3/exports", "3", []byte(`{"export_type":"CSV"}`)))
	require.Equal(t, http.StatusCreated, rr.Code)
	require.True(t, called)
}

func TestVerifyReturnsComparisonOnIntegrityFailure(t *testing.T) {
	h := newHandler(stubService{verifyFn: func(ctx context.Context, companyID, datasetID int64, exportType export.Type, persist bool, actor shared.Actor) (export.Determinism, error) {
		require.True(t, persist)
		result := export.Determinism{DatasetID: datasetID, ExportType: exportType, StoredHash: "aa", RecomputedHash: "bb"}
		return result, &shared.Error{Kind: shared.KindIntegrity, Op: "export.VerifyDeterminism", Module: "SALES", Detail: "mismatch"}
	}})
	rr := httptest.NewRecorder()
	h.verify(rr, request(http.MethodPost, "/api/datasets/3/exports/verify", "3", []byte(`{"export_type":"PDF","persist_on_mismatch":true}`)))
	require.Equal(t, http.StatusInternalServerError, rr.Code)

	var body struct {
		IsDeterministic bool   `json:"is_deterministic"`
		StoredHash      string `json:"stored_hash"`
		RecomputedHash  string `json:"recomputed_hash"`
		Error           struct {
			Kind   string `json:"kind"`
			Module string `json:"module"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.False(t, body.IsDeterministic)
	require.Equal(t, "bb", body.RecomputedHash)
	require.Equal(t, "IntegrityError", body.Error.Kind)
	require.Equal(t, "SALES", body.Error.Module)
}

func TestDownloadStreamsContent(t *testing.T) {
	h := newHandler(stubService{downloadFn: func(ctx context.Context, companyID, artifactID int64) (export.Artifact, []byte, error) {
		return export.Artifact{ID: artifactID, DatasetID: 3, ExportType: export.TypeCSV, ContentType: "text/csv; charset=utf-8", ContentHash: "0123456789abcdef"}, []byte("a,b\n"), nil
	}})
	rr := httptest.NewRecorder()
	h.download(rr, request(http.MethodGet, "/api/exports/12/download", "12", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "a,b\n", rr.Body.String())
	require.Equal(t, "text/csv; charset=utf-8", rr.Header().Get("Content-Type"))
	require.Contains(t, rr.Header().Get("Content-Disposition"), "dataset-3-0123456789ab.csv")
	require.Equal(t, "0123456789abcdef", rr.Header().Get("X-Content-Hash"))
	require.Equal(t, export.ContentHash([]byte("a,b\n")), rr.Header().Get("X-Body-SHA256"))
}

func TestDownloadTypesetPDFHashesServedBytes(t *testing.T) {
	pdf := []byte("%PDF-1.7 typeset")
	h := newHandler(stubService{downloadFn: func(ctx context.Context, companyID, artifactID int64) (export.Artifact, []byte, error) {
		return export.Artifact{ID: artifactID, DatasetID: 4, ExportType: export.TypePDF, ContentType: "application/pdf", ContentHash: export.ContentHash([]byte("<html>canonical</html>"))}, pdf, nil
	}})
	rr := httptest.NewRecorder()
	h.download(rr, request(http.MethodGet, "/api/exports/13/download", "13", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, export.ContentHash([]byte("<html>canonical</html>")), rr.Header().Get("X-Content-Hash"))
	require.Equal(t, export.ContentHash(pdf), rr.Header().Get("X-Body-SHA256"))
	require.NotEqual(t, rr.Header().Get("X-Content-Hash"), rr.Header().Get("X-Body-SHA256"))
	require.Contains(t, rr.Header().Get("Content-Disposition"), ".pdf")
}

func TestListMapsNotFound(t *testing.T) {
	h := newHandler(stubService{listFn: func(ctx context.Context, companyID, datasetID int64) ([]export.Artifact, error) {
		return nil, shared.E(shared.KindNotFound, "snapshot.GetDataset", "dataset %d not found", datasetID)
	}})
	rr := httptest.NewRecorder()
	h.list(rr, request(http.MethodGet, "/api/datasets/3/exports", "3", nil))
	require.Equal(t, http.StatusNotFound, rr.Code)
}
