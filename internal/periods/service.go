package periods

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/audithub/internal/audittrail"
	"github.com/odyssey-erp/audithub/internal/platform/db"
	"github.com/odyssey-erp/audithub/internal/shared"
	"github.com/odyssey-erp/audithub/internal/snapshot"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Repository persists periods.
type Repository interface {
	Insert(ctx context.Context, p Period) (Period, error)
	Get(ctx context.Context, id int64) (Period, error)
	GetForUpdate(ctx context.Context, id int64) (Period, error)
	List(ctx context.Context, companyID int64, limit, offset int) ([]Period, int, error)
	Update(ctx context.Context, p Period) error
}

// SnapshotEngine is the part of the snapshot engine the manager drives.
type SnapshotEngine interface {
	Build(ctx context.Context, ref snapshot.PeriodRef, module snapshot.Module) (snapshot.Snapshot, error)
	Persist(ctx context.Context, snap snapshot.Snapshot, actorID int64) (snapshot.Dataset, error)
	ListDatasets(ctx context.Context, companyID, periodID int64) ([]snapshot.Dataset, error)
	Timeout() time.Duration
}

// SignOffChecker answers the lock precondition.
type SignOffChecker interface {
	AllLocked(ctx context.Context, datasetIDs []int64) (bool, []int64, error)
}

// TransitionRecorder observes lifecycle transitions.
type TransitionRecorder interface {
	ObserveTransition(action, outcome string)
}

type nopTransitionRecorder struct{}

func (nopTransitionRecorder) ObserveTransition(string, string) {}

// Manager orchestrates the period state machine.
type Manager struct {
	repo      Repository
	snapshots SnapshotEngine
	signoffs  SignOffChecker
	locker    shared.Locker
	tx        db.Transactor
	audit     audittrail.Appender
	logger    *slog.Logger
	recorder  TransitionRecorder
	lockTTL   time.Duration
	now       func() time.Time
}

// NewManager constructs a Manager.
func NewManager(repo Repository, snapshots SnapshotEngine, signoffs SignOffChecker, locker shared.Locker, tx db.Transactor, audit audittrail.Appender, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		repo:      repo,
		snapshots: snapshots,
		signoffs:  signoffs,
		locker:    locker,
		tx:        tx,
		audit:     audit,
		logger:    logger,
		recorder:  nopTransitionRecorder{},
		lockTTL:   snapshots.Timeout() + 30*time.Second,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WithLockTTL overrides the critical-section TTL. It must exceed the snapshot
// timeout or the lock can expire mid-close.
func (m *Manager) WithLockTTL(ttl time.Duration) {
	if ttl > 0 {
		m.lockTTL = ttl
	}
}

// WithRecorder attaches transition metrics.
func (m *Manager) WithRecorder(r TransitionRecorder) {
	if r != nil {
		m.recorder = r
	}
}

// WithNow overrides the clock for deterministic tests.
func (m *Manager) WithNow(now func() time.Time) {
	if now != nil {
		m.now = now
	}
}

// CreatePeriod opens a new period for the tuple.
func (m *Manager) CreatePeriod(ctx context.Context, in CreateInput, actor shared.Actor) (Period, error) {
	in = in.Normalize()
	if err := in.Validate(); err != nil {
		return Period{}, err
	}
	start, end := in.Range()
	now := m.now()
	p := Period{
		CompanyID: in.CompanyID,
		Type:      in.Type,
		Year:      in.Year,
		Month:     in.Month,
		Quarter:   in.Quarter,
		StartDate: start,
		EndDate:   end,
		Status:    StatusOpen,
		CreatedAt: now,
		UpdatedAt: now,
	}
	var created Period
	err := m.tx.WithTx(ctx, func(ctx context.Context) error {
		var err error
		created, err = m.insertWithEvent(ctx, p, actor.UserID)
		return err
	})
	if err != nil {
		return Period{}, err
	}
	m.logger.Info("period created", slog.Int64("period_id", created.ID), slog.Int64("company_id", created.CompanyID))
	return created, nil
}

func (m *Manager) insertWithEvent(ctx context.Context, p Period, actorID int64) (Period, error) {
	created, err := m.repo.Insert(ctx, p)
	if err != nil {
		return Period{}, err
	}
	payload := periodState(created)
	if created.SupersedesPeriodID != nil {
		payload["supersedes_period_id"] = *created.SupersedesPeriodID
	}
	if err := m.appendEvent(ctx, created, "period.created", actorID, nil, payload); err != nil {
		return Period{}, err
	}
	return created, nil
}

// ClosePeriod snapshots every module and moves the period to REVIEW. A module
// failure writes nothing and names the module.
func (m *Manager) ClosePeriod(ctx context.Context, companyID, periodID int64, actor shared.Actor) (CloseResult, error) {
	const op = "periods.ClosePeriod"
	period, err := m.GetPeriod(ctx, companyID, periodID)
	if err != nil {
		return CloseResult{}, err
	}
	if _, err := Transition(period.Status, ActionClose); err != nil {
		return CloseResult{}, err
	}

	release, err := m.acquire(ctx, op, periodID)
	if err != nil {
		return CloseResult{}, err
	}
	defer release()

	snaps, err := m.buildAll(ctx, op, period)
	if err != nil {
		m.recorder.ObserveTransition(string(ActionClose), "snapshot_failed")
		return CloseResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return CloseResult{}, fmt.Errorf("%s: cancelled before persist: %w", op, err)
	}

	var result CloseResult
	err = m.tx.WithTx(ctx, func(ctx context.Context) error {
		current, err := m.repo.GetForUpdate(ctx, periodID)
		if err != nil {
			return err
		}
		next, err := Transition(current.Status, ActionClose)
		if err != nil {
			return err
		}
		datasets := make([]DatasetSummary, 0, len(snaps))
		for _, snap := range snaps {
			d, err := m.snapshots.Persist(ctx, snap, actor.UserID)
			if err != nil {
				return err
			}
			datasets = append(datasets, summarize(d))
		}
		old := periodState(current)
		current.Status = next
		current.UpdatedAt = m.now()
		if err := m.repo.Update(ctx, current); err != nil {
			return err
		}
		newState := periodState(current)
		newState["datasets"] = len(datasets)
		if err := m.appendEvent(ctx, current, "period.closed", actor.UserID, old, newState); err != nil {
			return err
		}
		result = CloseResult{Period: current, Datasets: datasets}
		return nil
	})
	if err != nil {
		m.recorder.ObserveTransition(string(ActionClose), "failed")
		return CloseResult{}, err
	}
	m.recorder.ObserveTransition(string(ActionClose), "ok")
	m.logger.Info("period closed", slog.Int64("period_id", periodID), slog.Int("datasets", len(result.Datasets)))
	return result, nil
}

// buildAll builds every module concurrently on a context detached from the
// caller, so cancellation is observed only once every build has returned.
func (m *Manager) buildAll(ctx context.Context, op string, p Period) ([]snapshot.Snapshot, error) {
	ref := snapshot.PeriodRef{ID: p.ID, CompanyID: p.CompanyID, StartDate: p.StartDate, EndDate: p.EndDate}
	snaps := make([]snapshot.Snapshot, len(snapshot.Modules))
	g, gctx := errgroup.WithContext(context.WithoutCancel(ctx))
	for i, module := range snapshot.Modules {
		g.Go(func() error {
			snap, err := m.snapshots.Build(gctx, ref, module)
			if err != nil {
				return shared.SnapshotFailed(op, string(module), err)
			}
			snaps[i] = snap
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return snaps, nil
}

// LockPeriod moves a REVIEW period to LOCKED once every dataset carries a
// LOCKED sign-off, sealing it with the period hash.
func (m *Manager) LockPeriod(ctx context.Context, companyID, periodID int64, actor shared.Actor) (Period, error) {
	const op = "periods.LockPeriod"
	period, err := m.GetPeriod(ctx, companyID, periodID)
	if err != nil {
		return Period{}, err
	}
	if _, err := Transition(period.Status, ActionLock); err != nil {
		return Period{}, err
	}
	release, err := m.acquire(ctx, op, periodID)
	if err != nil {
		return Period{}, err
	}
	defer release()

	var locked Period
	err = m.tx.WithTx(ctx, func(ctx context.Context) error {
		current, err := m.repo.GetForUpdate(ctx, periodID)
		if err != nil {
			return err
		}
		next, err := Transition(current.Status, ActionLock)
		if err != nil {
			return err
		}
		datasets, err := m.snapshots.ListDatasets(ctx, companyID, periodID)
		if err != nil {
			return err
		}
		if len(datasets) != len(snapshot.Modules) {
			return shared.E(shared.KindPrecondition, op, "period %d has %d of %d datasets", periodID, len(datasets), len(snapshot.Modules))
		}
		ids := make([]int64, len(datasets))
		hashes := make([]string, len(datasets))
		moduleOf := make(map[int64]string, len(datasets))
		for i, d := range datasets {
			ids[i] = d.ID
			hashes[i] = d.ModuleHash
			moduleOf[d.ID] = string(d.Module)
		}
		ok, pending, err := m.signoffs.AllLocked(ctx, ids)
		if err != nil {
			return err
		}
		if !ok {
			modules := make([]string, len(pending))
			for i, id := range pending {
				modules[i] = moduleOf[id]
			}
			return shared.E(shared.KindPrecondition, op, "datasets without LOCKED sign-off: %s", strings.Join(modules, ", "))
		}

		old := periodState(current)
		now := m.now()
		current.Status = next
		current.PeriodHash = snapshot.PeriodHash(hashes)
		current.LockedAt = &now
		current.UpdatedAt = now
		if err := m.repo.Update(ctx, current); err != nil {
			return err
		}
		newState := periodState(current)
		newState["period_hash"] = current.PeriodHash
		if err := m.appendEvent(ctx, current, "period.locked", actor.UserID, old, newState); err != nil {
			return err
		}
		locked = current
		return nil
	})
	if err != nil {
		m.recorder.ObserveTransition(string(ActionLock), outcome(err))
		return Period{}, err
	}
	m.recorder.ObserveTransition(string(ActionLock), "ok")
	m.logger.Info("period locked", slog.Int64("period_id", periodID), slog.String("period_hash", locked.PeriodHash))
	return locked, nil
}

// FinalizePeriod moves a LOCKED period to FINALIZED.
func (m *Manager) FinalizePeriod(ctx context.Context, companyID, periodID int64, actor shared.Actor) (Period, error) {
	if _, err := m.GetPeriod(ctx, companyID, periodID); err != nil {
		return Period{}, err
	}
	var finalized Period
	err := m.tx.WithTx(ctx, func(ctx context.Context) error {
		current, err := m.repo.GetForUpdate(ctx, periodID)
		if err != nil {
			return err
		}
		next, err := Transition(current.Status, ActionFinalize)
		if err != nil {
			return err
		}
		old := periodState(current)
		now := m.now()
		current.Status = next
		current.FinalizedAt = &now
		current.UpdatedAt = now
		if err := m.repo.Update(ctx, current); err != nil {
			return err
		}
		if err := m.appendEvent(ctx, current, "period.finalized", actor.UserID, old, periodState(current)); err != nil {
			return err
		}
		finalized = current
		return nil
	})
	m.recorder.ObserveTransition(string(ActionFinalize), outcome(err))
	if err != nil {
		return Period{}, err
	}
	return finalized, nil
}

// AmendPeriod marks a FINALIZED period AMENDED and opens its replacement for
// the same tuple. The original keeps its datasets, sign-offs and hash.
func (m *Manager) AmendPeriod(ctx context.Context, companyID, periodID int64, actor shared.Actor, reason string) (AmendResult, error) {
	const op = "periods.AmendPeriod"
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return AmendResult{}, shared.E(shared.KindValidation, op, "amendment reason required")
	}
	if _, err := m.GetPeriod(ctx, companyID, periodID); err != nil {
		return AmendResult{}, err
	}
	var result AmendResult
	err := m.tx.WithTx(ctx, func(ctx context.Context) error {
		original, err := m.repo.GetForUpdate(ctx, periodID)
		if err != nil {
			return err
		}
		next, err := Transition(original.Status, ActionAmend)
		if err != nil {
			return err
		}
		old := periodState(original)
		now := m.now()
		original.Status = next
		original.UpdatedAt = now
		if err := m.repo.Update(ctx, original); err != nil {
			return err
		}
		newState := periodState(original)
		newState["reason"] = reason
		if err := m.appendEvent(ctx, original, "period.amended", actor.UserID, old, newState); err != nil {
			return err
		}

		supersedes := original.ID
		amendment, err := m.insertWithEvent(ctx, Period{
			CompanyID:          original.CompanyID,
			Type:               original.Type,
			Year:               original.Year,
			Month:              original.Month,
			Quarter:            original.Quarter,
			StartDate:          original.StartDate,
			EndDate:            original.EndDate,
			Status:             StatusOpen,
			SupersedesPeriodID: &supersedes,
			AmendmentReason:    reason,
			CreatedAt:          now,
			UpdatedAt:          now,
		}, actor.UserID)
		if err != nil {
			return err
		}
		result = AmendResult{Original: original, Amendment: amendment}
		return nil
	})
	m.recorder.ObserveTransition(string(ActionAmend), outcome(err))
	if err != nil {
		return AmendResult{}, err
	}
	m.logger.Info("period amended",
		slog.Int64("period_id", periodID),
		slog.Int64("amendment_id", result.Amendment.ID))
	return result, nil
}

// GetPeriod loads a period owned by companyID.
func (m *Manager) GetPeriod(ctx context.Context, companyID, periodID int64) (Period, error) {
	const op = "periods.GetPeriod"
	if err := shared.RequireCompany(op, companyID); err != nil {
		return Period{}, err
	}
	p, err := m.repo.Get(ctx, periodID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return Period{}, shared.E(shared.KindNotFound, op, "period %d not found", periodID)
		}
		return Period{}, err
	}
	if err := shared.CheckTenant(op, companyID, p.CompanyID); err != nil {
		return Period{}, err
	}
	return p, nil
}

// ListPeriods pages through the periods of a company, newest first.
func (m *Manager) ListPeriods(ctx context.Context, companyID int64, page, pageSize int) (ListResult, error) {
	const op = "periods.ListPeriods"
	if err := shared.RequireCompany(op, companyID); err != nil {
		return ListResult{}, err
	}
	page, pageSize = shared.ClampPage(page, pageSize, defaultPageSize, maxPageSize)
	offset := (page - 1) * pageSize
	list, total, err := m.repo.List(ctx, companyID, pageSize, offset)
	if err != nil {
		return ListResult{}, err
	}
	if list == nil {
		list = []Period{}
	}
	return ListResult{Periods: list, Pagination: shared.NewPagination(page, pageSize, total)}, nil
}

// ListDatasets returns the datasets of a period in persistence order.
func (m *Manager) ListDatasets(ctx context.Context, companyID, periodID int64) ([]snapshot.Dataset, error) {
	if _, err := m.GetPeriod(ctx, companyID, periodID); err != nil {
		return nil, err
	}
	datasets, err := m.snapshots.ListDatasets(ctx, companyID, periodID)
	if err != nil {
		return nil, err
	}
	if datasets == nil {
		datasets = []snapshot.Dataset{}
	}
	return datasets, nil
}

func (m *Manager) acquire(ctx context.Context, op string, periodID int64) (func(), error) {
	key := shared.PeriodLockKey(periodID)
	release, err := m.locker.Acquire(ctx, key, m.lockTTL)
	if err != nil {
		if errors.Is(err, shared.ErrLockNotObtained) {
			return nil, shared.E(shared.KindConflict, op, "period %d is being processed", periodID)
		}
		return nil, fmt.Errorf("%s: acquire lock: %w", op, err)
	}
	return func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			m.logger.Warn("release period lock", slog.String("key", key), slog.Any("error", err))
		}
	}, nil
}

func (m *Manager) appendEvent(ctx context.Context, p Period, action string, actorID int64, old, updated map[string]any) error {
	_, err := m.audit.Append(ctx, audittrail.Event{
		CompanyID:  p.CompanyID,
		EntityType: audittrail.EntityPeriod,
		EntityID:   strconv.FormatInt(p.ID, 10),
		Action:     action,
		ActorID:    actorID,
		Payload:    audittrail.Payload{Old: old, New: updated},
	})
	return err
}

func periodState(p Period) map[string]any {
	return map[string]any{"status": string(p.Status)}
}

func summarize(d snapshot.Dataset) DatasetSummary {
	return DatasetSummary{
		ID:          d.ID,
		Module:      string(d.Module),
		RecordCount: d.RecordCount,
		TotalAmount: d.TotalAmount.StringFixed(2),
		ModuleHash:  d.ModuleHash,
	}
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return strings.ToLower(strings.TrimSuffix(string(shared.KindOf(err)), "Error"))
}
