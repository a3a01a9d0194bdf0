package signoff_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/audithub/internal/audittrail"
	"github.com/odyssey-erp/audithub/internal/shared"
	"github.com/odyssey-erp/audithub/internal/signoff"
	"github.com/odyssey-erp/audithub/internal/snapshot"
	"github.com/odyssey-erp/audithub/internal/testutil/memstore"
)

type fixture struct {
	store   *memstore.Store
	engine  *signoff.Engine
	dataset snapshot.Dataset
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	store := memstore.New()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	log := audittrail.NewLog(store.Audit())
	snapshots := snapshot.NewEngine(store.Snapshots(), memstore.NewSource(), store, log, logger)
	dataset, err := store.Snapshots().InsertDataset(context.Background(), snapshot.Dataset{
		CompanyID:   1,
		PeriodID:    3,
		Module:      snapshot.ModuleSales,
		TotalAmount: decimal.Zero,
		ModuleHash:  snapshot.ModuleHash(nil),
	})
	require.NoError(t, err)
	engine := signoff.NewEngine(store.SignOffs(), snapshots, store, log, logger)
	fixed := time.Date(2025, 2, 3, 9, 30, 0, 123456789, time.UTC)
	engine.WithNow(func() time.Time { return fixed })
	return fixture{store: store, engine: engine, dataset: dataset}
}

func (f fixture) sign(stage signoff.Stage, role, comments string) (signoff.SignOff, error) {
	return f.engine.SignOff(context.Background(), signoff.Input{
		CompanyID: 1,
		DatasetID: f.dataset.ID,
		Stage:     stage,
		UserID:    10,
		UserRole:  role,
		Comments:  comments,
	})
}

func TestSignOffCheckOrder(t *testing.T) {
	f := newFixture(t)

	_, err := f.sign(signoff.StageLocked, signoff.RoleAccountant, "  ")
	require.Equal(t, shared.KindValidation, shared.KindOf(err), "comments are checked first")

	_, err = f.sign(signoff.StageLocked, signoff.RoleAccountant, "ok")
	require.Equal(t, shared.KindAuthorization, shared.KindOf(err), "role is checked before sequence")

	_, err = f.sign(signoff.StageLocked, signoff.RoleFinanceManager, "ok")
	require.Equal(t, shared.KindSequence, shared.KindOf(err))

	_, err = f.sign(signoff.StageReviewed, signoff.RoleSeniorAccountant, "ok")
	require.Equal(t, shared.KindSequence, shared.KindOf(err))
}

func TestSignOffFullSequence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	stage, err := f.engine.CurrentStage(ctx, 1, f.dataset.ID)
	require.NoError(t, err)
	require.Equal(t, signoff.StagePending, stage)

	prepared, err := f.sign(signoff.StagePrepared, signoff.RoleAccountant, "prepared")
	require.NoError(t, err)
	require.Len(t, prepared.DigitalSignature, 64)
	require.True(t, signoff.VerifySignature(prepared))
	require.Equal(t, time.Date(2025, 2, 3, 9, 30, 0, 123456000, time.UTC), prepared.SignedAt)

	_, err = f.sign(signoff.StagePrepared, signoff.RoleAccountant, "again")
	require.Equal(t, shared.KindDuplicate, shared.KindOf(err))

	_, err = f.sign(signoff.StageReviewed, signoff.RoleAccountant, "reviewed")
	require.Equal(t, shared.KindAuthorization, shared.KindOf(err))

	_, err = f.sign(signoff.StageReviewed, signoff.RoleSeniorAccountant, "reviewed")
	require.NoError(t, err)

	ok, pending, err := f.engine.AllLocked(ctx, []int64{f.dataset.ID})
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, []int64{f.dataset.ID}, pending)

	_, err = f.sign(signoff.StageLocked, "finance_manager", "locked")
	require.NoError(t, err)

	stage, err = f.engine.CurrentStage(ctx, 1, f.dataset.ID)
	require.NoError(t, err)
	require.Equal(t, signoff.StageLocked, stage)

	ok, pending, err = f.engine.AllLocked(ctx, []int64{f.dataset.ID})
	require.NoError(t, err)
	require.True(t, ok)
	require.Empty(t, pending)

	list, err := f.engine.GetSignOffs(ctx, 1, f.dataset.ID)
	require.NoError(t, err)
	require.Len(t, list, 3)
	require.Equal(t, signoff.StagePrepared, list[0].Stage)

	var recorded int
	for _, ev := range f.store.Events() {
		if ev.Action == "signoff.recorded" {
			recorded++
		}
	}
	require.Equal(t, 3, recorded)
}

func TestSignatureDetectsEdits(t *testing.T) {
	f := newFixture(t)
	s, err := f.sign(signoff.StagePrepared, signoff.RoleAccountant, "prepared")
	require.NoError(t, err)
	s.Comments = "edited later"
	require.False(t, signoff.VerifySignature(s))
}

func TestSignOffConcurrentSameStage(t *testing.T) {
	f := newFixture(t)
	_, err := f.sign(signoff.StagePrepared, signoff.RoleAccountant, "prepared")
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.sign(signoff.StageReviewed, signoff.RoleFinanceManager, "review")
		}(i)
	}
	wg.Wait()

	var success, duplicate int
	for _, err := range errs {
		switch {
		case err == nil:
			success++
		case shared.IsKind(err, shared.KindDuplicate):
			duplicate++
		}
	}
	require.Equal(t, 1, success)
	require.Equal(t, len(errs)-1, duplicate)
}

func TestSignOffTenantIsolation(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.SignOff(context.Background(), signoff.Input{
		CompanyID: 2, DatasetID: f.dataset.ID, Stage: signoff.StagePrepared,
		UserID: 1, UserRole: signoff.RoleAccountant, Comments: "x",
	})
	require.Equal(t, shared.KindAuthorization, shared.KindOf(err))

	_, err = f.engine.GetSignOffs(context.Background(), 1, 999)
	require.Equal(t, shared.KindNotFound, shared.KindOf(err))
}
