package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/audithub/internal/export"
	jobmetrics "github.com/odyssey-erp/audithub/internal/jobs"
	"github.com/odyssey-erp/audithub/internal/shared"
)

type stubVerifier struct {
	artifacts []export.Artifact
	verdicts  map[int64]error
	pages     int
}

func (s *stubVerifier) LatestArtifacts(_ context.Context, afterID int64, limit int) ([]export.Artifact, error) {
	s.pages++
	var out []export.Artifact
	for _, a := range s.artifacts {
		if a.ID > afterID && len(out) < limit {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *stubVerifier) VerifyDeterminism(_ context.Context, companyID, datasetID int64, exportType export.Type, persist bool, actor shared.Actor) (export.Determinism, error) {
	if persist {
		return export.Determinism{}, errors.New("sweep must not persist evidence")
	}
	if actor.CompanyID != companyID {
		return export.Determinism{}, errors.New("actor company mismatch")
	}
	return export.Determinism{DatasetID: datasetID, ExportType: exportType}, s.verdicts[datasetID]
}

func TestIntegritySweepPagesAndCounts(t *testing.T) {
	verifier := &stubVerifier{
		artifacts: []export.Artifact{
			{ID: 1, CompanyID: 1, DatasetID: 10, ExportType: export.TypeCSV},
			{ID: 2, CompanyID: 1, DatasetID: 11, ExportType: export.TypePDF},
			{ID: 5, CompanyID: 2, DatasetID: 12, ExportType: export.TypeExcel},
		},
		verdicts: map[int64]error{
			11: &shared.Error{Kind: shared.KindIntegrity, Op: "export.VerifyDeterminism"},
		},
	}
	registry := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(registry)
	job := NewIntegritySweepJob(verifier, slog.New(slog.NewTextHandler(io.Discard, nil)), metrics)

	result, err := job.Run(context.Background(), IntegritySweepPayload{BatchSize: 2})
	require.NoError(t, err, "mismatches are alerts, not job failures")
	require.Equal(t, SweepResult{Checked: 3, Mismatches: 1}, result)
	require.Equal(t, 2, verifier.pages)

	count, err := testutil.GatherAndCount(registry, "audithub_sweep_artifacts_total")
	require.NoError(t, err)
	require.Equal(t, 3, count)
}

func TestIntegritySweepReportsErrors(t *testing.T) {
	verifier := &stubVerifier{
		artifacts: []export.Artifact{{ID: 1, CompanyID: 1, DatasetID: 10, ExportType: export.TypeCSV}},
		verdicts:  map[int64]error{10: errors.New("blob missing")},
	}
	job := NewIntegritySweepJob(verifier, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))

	result, err := job.Run(context.Background(), IntegritySweepPayload{})
	require.Error(t, err)
	require.Equal(t, 1, result.Errors)
}

func TestIntegritySweepHandleRejectsBadPayload(t *testing.T) {
	job := NewIntegritySweepJob(&stubVerifier{}, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))
	err := job.Handle(context.Background(), asynq.NewTask(TaskIntegritySweep, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)

	task, err := NewIntegritySweepTask(IntegritySweepPayload{BatchSize: 5})
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
}
