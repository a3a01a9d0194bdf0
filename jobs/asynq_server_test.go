package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
)

type stubEnqueuer struct {
	payload IntegritySweepPayload
	err     error
}

func (s *stubEnqueuer) EnqueueIntegritySweep(_ context.Context, payload IntegritySweepPayload) (*asynq.TaskInfo, error) {
	s.payload = payload
	if s.err != nil {
		return nil, s.err
	}
	return &asynq.TaskInfo{ID: "task-1", Queue: QueueDefault}, nil
}

func newJobsRouter(sweeps sweepEnqueuer) http.Handler {
	r := chi.NewRouter()
	NewHandler(nil, sweeps, slog.New(slog.NewTextHandler(io.Discard, nil))).MountRoutes(r)
	return r
}

func TestEnqueueSweep(t *testing.T) {
	stub := &stubEnqueuer{}
	router := newJobsRouter(stub)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/jobs/integrity-sweep", strings.NewReader(`{"batch_size":25}`)))
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
	require.Equal(t, 25, stub.payload.BatchSize)

	var body enqueued
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, "task-1", body.TaskID)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/jobs/integrity-sweep", nil))
	require.Equal(t, http.StatusAccepted, rr.Code)
	require.Zero(t, stub.payload.BatchSize)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/jobs/integrity-sweep", strings.NewReader(`{"batch_size":5000}`)))
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestEnqueueSweepQueueDown(t *testing.T) {
	rr := httptest.NewRecorder()
	newJobsRouter(&stubEnqueuer{err: errors.New("dial tcp: refused")}).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/jobs/integrity-sweep", nil))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)

	rr = httptest.NewRecorder()
	newJobsRouter(nil).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/jobs/integrity-sweep", nil))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestHealthWithoutInspector(t *testing.T) {
	rr := httptest.NewRecorder()
	newJobsRouter(nil).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/jobs/health", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), QueueDefault)
}
