package export_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/audithub/internal/audittrail"
	"github.com/odyssey-erp/audithub/internal/export"
	"github.com/odyssey-erp/audithub/internal/platform/blob"
	"github.com/odyssey-erp/audithub/internal/shared"
	"github.com/odyssey-erp/audithub/internal/signoff"
	"github.com/odyssey-erp/audithub/internal/snapshot"
	"github.com/odyssey-erp/audithub/internal/testutil/memstore"
)

var manager = shared.Actor{CompanyID: 1, UserID: 77, Role: signoff.RoleFinanceManager}

type fixture struct {
	store    *memstore.Store
	engine   *export.Engine
	signoffs *signoff.Engine
	dataset  snapshot.Dataset
	metrics  *recorder
}

type recorder struct {
	mu       sync.Mutex
	failures map[string]int
}

func (r *recorder) ObserveExport(string, time.Duration, error) {}

func (r *recorder) IncIntegrityFailure(exportType string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures[exportType]++
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	store := memstore.New()
	source := memstore.NewSource()
	source.Set(snapshot.ModuleSales,
		snapshot.SourceRow{SourceID: 2, Fields: map[string]any{"date": "2025-01-06", "reference": "INV-2", "counterparty": "Café Nusantara", "amount": "250.5", "tax_amount": "27.56", "status": "POSTED"}},
		snapshot.SourceRow{SourceID: 1, Fields: map[string]any{"date": "2025-01-05", "reference": "INV-1", "counterparty": "ACME", "amount": "100", "tax_amount": "11", "status": "POSTED"}},
	)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	log := audittrail.NewLog(store.Audit())
	snapshots := snapshot.NewEngine(store.Snapshots(), source, store, log, logger)
	signoffs := signoff.NewEngine(store.SignOffs(), snapshots, store, log, logger)

	ref := snapshot.PeriodRef{ID: 3, CompanyID: 1, StartDate: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), EndDate: time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)}
	d, err := snapshots.CreateSnapshot(context.Background(), ref, snapshot.ModuleSales, manager.UserID)
	require.NoError(t, err)

	blobs, err := blob.NewFSStore(t.TempDir())
	require.NoError(t, err)
	engine := export.NewEngine(store.Exports(), snapshots, signoffs, blobs, store, log, nil, logger)
	metrics := &recorder{failures: map[string]int{}}
	engine.WithRecorder(metrics)
	return fixture{store: store, engine: engine, signoffs: signoffs, dataset: d, metrics: metrics}
}

func (f fixture) lock(t *testing.T) {
	t.Helper()
	for _, stage := range signoff.Stages {
		_, err := f.signoffs.SignOff(context.Background(), signoff.Input{
			CompanyID: 1,
			DatasetID: f.dataset.ID,
			Stage:     stage,
			UserID:    manager.UserID,
			UserRole:  manager.Role,
			Comments:  "checked " + string(stage),
		})
		require.NoError(t, err)
	}
}

func TestGenerateRequiresLockedSignOff(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.GenerateExport(context.Background(), 1, f.dataset.ID, export.TypeCSV, manager)
	require.Equal(t, shared.KindPrecondition, shared.KindOf(err))

	_, err = f.engine.GenerateExport(context.Background(), 1, f.dataset.ID, "DOCX", manager)
	require.Equal(t, shared.KindValidation, shared.KindOf(err))
}

func TestExportsAreDeterministic(t *testing.T) {
	f := newFixture(t)
	f.lock(t)
	ctx := context.Background()

	for _, exportType := range export.Types {
		artifact, err := f.engine.GenerateExport(ctx, 1, f.dataset.ID, exportType, manager)
		require.NoError(t, err, exportType)
		require.Len(t, artifact.ContentHash, 64)
		require.Positive(t, artifact.SizeBytes)

		again, err := f.engine.GenerateExport(ctx, 1, f.dataset.ID, exportType, manager)
		require.NoError(t, err)
		require.Equal(t, artifact.ContentHash, again.ContentHash, exportType)
		require.Equal(t, artifact.DownloadRef, again.DownloadRef, "content addressed")

		result, err := f.engine.VerifyDeterminism(ctx, 1, f.dataset.ID, exportType, false, manager)
		require.NoError(t, err)
		require.True(t, result.IsDeterministic)
		require.Equal(t, again.ID, result.BaselineArtifactID)
	}

	list, err := f.engine.ListArtifacts(ctx, 1, f.dataset.ID)
	require.NoError(t, err)
	require.Len(t, list, 6)
	require.Greater(t, list[0].ID, list[1].ID)
}

func TestVerifyWithoutBaseline(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.VerifyDeterminism(context.Background(), 1, f.dataset.ID, export.TypePDF, false, manager)
	require.Equal(t, shared.KindNotFound, shared.KindOf(err))
}

func TestVerifyReportsTamperedDataset(t *testing.T) {
	f := newFixture(t)
	f.lock(t)
	ctx := context.Background()
	baseline, err := f.engine.GenerateExport(ctx, 1, f.dataset.ID, export.TypeCSV, manager)
	require.NoError(t, err)

	f.store.Snapshots().Tamper(f.dataset.ID, 2, "amount", "9999.00")
	result, err := f.engine.VerifyDeterminism(ctx, 1, f.dataset.ID, export.TypeCSV, true, manager)
	require.Equal(t, shared.KindIntegrity, shared.KindOf(err))
	require.Equal(t, "SALES", shared.ModuleOf(err))
	require.False(t, result.IsDeterministic)
	require.Equal(t, baseline.ContentHash, result.StoredHash)
	require.NotEqual(t, result.StoredHash, result.RecomputedHash)
	require.NotZero(t, result.EvidenceArtifactID)
	require.Equal(t, 1, f.metrics.failures["CSV"])

	var actions []string
	for _, ev := range f.store.Events() {
		if ev.EntityType == audittrail.EntityArtifact {
			actions = append(actions, ev.Action)
		}
	}
	require.Equal(t, []string{"export.generated", "export.integrity_failed", "export.evidence_stored"}, actions)

	_, original, err := f.engine.Download(ctx, 1, baseline.ID)
	require.NoError(t, err)
	require.Equal(t, baseline.ContentHash, export.ContentHash(original), "baseline is never rewritten")
}

func TestDownloadChecksTenant(t *testing.T) {
	f := newFixture(t)
	f.lock(t)
	ctx := context.Background()
	artifact, err := f.engine.GenerateExport(ctx, 1, f.dataset.ID, export.TypeExcel, manager)
	require.NoError(t, err)

	got, data, err := f.engine.Download(ctx, 1, artifact.ID)
	require.NoError(t, err)
	require.Equal(t, artifact.ContentHash, export.ContentHash(data))
	require.Equal(t, artifact.ContentType, got.ContentType)

	_, _, err = f.engine.Download(ctx, 2, artifact.ID)
	require.Equal(t, shared.KindAuthorization, shared.KindOf(err))

	_, _, err = f.engine.Download(ctx, 1, 999)
	require.Equal(t, shared.KindNotFound, shared.KindOf(err))
}

func TestConcurrentVerificationsAgree(t *testing.T) {
	f := newFixture(t)
	f.lock(t)
	ctx := context.Background()
	_, err := f.engine.GenerateExport(ctx, 1, f.dataset.ID, export.TypePDF, manager)
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]export.Determinism, 6)
	errs := make([]error, 6)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = f.engine.VerifyDeterminism(ctx, 1, f.dataset.ID, export.TypePDF, false, manager)
		}()
	}
	wg.Wait()
	for i := range results {
		require.NoError(t, errs[i])
		require.True(t, results[i].IsDeterministic)
	}

	latest, err := f.engine.LatestArtifacts(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, latest, 1)
}
