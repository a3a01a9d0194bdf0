package snapshot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/audithub/internal/audittrail"
	"github.com/odyssey-erp/audithub/internal/platform/db"
	"github.com/odyssey-erp/audithub/internal/shared"
)

// DefaultTimeout bounds a single module build.
const DefaultTimeout = 60 * time.Second

const (
	defaultRecordPageSize = 100
	maxRecordPageSize     = 500
)

// Repository persists datasets and their records.
type Repository interface {
	InsertDataset(ctx context.Context, d Dataset) (Dataset, error)
	InsertRecords(ctx context.Context, datasetID int64, records []Record) error
	GetDataset(ctx context.Context, id int64) (Dataset, error)
	ListDatasetsByPeriod(ctx context.Context, periodID int64) ([]Dataset, error)
	ListRecords(ctx context.Context, datasetID int64, limit, offset int) ([]Record, error)
	AllRecords(ctx context.Context, datasetID int64) ([]Record, error)
}

// Recorder observes build outcomes.
type Recorder interface {
	ObserveSnapshot(module string, elapsed time.Duration, err error)
}

type nopRecorder struct{}

func (nopRecorder) ObserveSnapshot(string, time.Duration, error) {}

// Engine builds, persists and verifies module snapshots.
type Engine struct {
	repo     Repository
	source   Source
	tx       db.Transactor
	audit    audittrail.Appender
	logger   *slog.Logger
	recorder Recorder
	timeout  time.Duration
	now      func() time.Time
}

// NewEngine constructs an Engine.
func NewEngine(repo Repository, source Source, tx db.Transactor, audit audittrail.Appender, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		repo:     repo,
		source:   source,
		tx:       tx,
		audit:    audit,
		logger:   logger,
		recorder: nopRecorder{},
		timeout:  DefaultTimeout,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithTimeout overrides the per-module build timeout.
func (e *Engine) WithTimeout(d time.Duration) {
	if d > 0 {
		e.timeout = d
	}
}

// WithRecorder attaches build metrics.
func (e *Engine) WithRecorder(r Recorder) {
	if r != nil {
		e.recorder = r
	}
}

// WithNow overrides the clock for deterministic tests.
func (e *Engine) WithNow(now func() time.Time) {
	if now != nil {
		e.now = now
	}
}

// Timeout reports the per-module build timeout.
func (e *Engine) Timeout() time.Duration { return e.timeout }

// Build reads the live rows of module for the period and computes the
// canonical records and hashes. Nothing is written.
func (e *Engine) Build(ctx context.Context, ref PeriodRef, module Module) (Snapshot, error) {
	const op = "snapshot.Build"
	if err := shared.RequireCompany(op, ref.CompanyID); err != nil {
		return Snapshot{}, err
	}
	if _, err := ParseModule(string(module)); err != nil {
		return Snapshot{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	started := time.Now()
	snap, err := e.build(ctx, ref, module)
	e.recorder.ObserveSnapshot(string(module), time.Since(started), err)
	if err != nil {
		e.logger.Warn("snapshot build failed",
			slog.Int64("period_id", ref.ID),
			slog.String("module", string(module)),
			slog.Any("error", err))
		return Snapshot{}, err
	}
	return snap, nil
}

type fetchResult struct {
	batch SourceBatch
	err   error
}

func (e *Engine) build(ctx context.Context, ref PeriodRef, module Module) (Snapshot, error) {
	const op = "snapshot.Build"
	q := SourceQuery{CompanyID: ref.CompanyID, PeriodID: ref.ID, Module: module, StartDate: ref.StartDate, EndDate: ref.EndDate}

	results := make(chan fetchResult, 1)
	go func() {
		batch, err := e.source.Fetch(ctx, q)
		results <- fetchResult{batch: batch, err: err}
	}()

	var res fetchResult
	select {
	case <-ctx.Done():
		return Snapshot{}, sourceError(op, module, ctx.Err(), "source read did not finish")
	case res = <-results:
	}
	if res.err != nil {
		return Snapshot{}, sourceError(op, module, res.err, "source read failed")
	}

	batch := res.batch
	seen := make(map[int64]struct{}, len(batch.Rows))
	records := make([]Record, 0, len(batch.Rows))
	hashes := make([]string, 0, len(batch.Rows))
	total := decimal.Zero
	for _, row := range batch.Rows {
		if _, dup := seen[row.SourceID]; dup {
			return Snapshot{}, sourceError(op, module, nil, "duplicate source id %d", row.SourceID)
		}
		seen[row.SourceID] = struct{}{}

		fields, err := Canonicalize(module, row)
		if err != nil {
			return Snapshot{}, sourceError(op, module, err, "invalid row")
		}
		// Sum the canonical amount: the total must equal the records' own sum.
		amount, err := ParseAmount(fields[AmountField])
		if err != nil {
			return Snapshot{}, sourceError(op, module, err, "invalid amount on row %d", row.SourceID)
		}
		total = total.Add(amount)

		hash := RecordHash(row.SourceID, fields)
		hashes = append(hashes, hash)
		records = append(records, Record{SourceID: row.SourceID, Fields: fields, RecordHash: hash})
	}

	if batch.ControlCount != len(records) {
		return Snapshot{}, sourceError(op, module, nil, "control count %d does not match %d rows read", batch.ControlCount, len(records))
	}
	if !batch.ControlAmount.Round(decimalPlaces).Equal(total.Round(decimalPlaces)) {
		return Snapshot{}, sourceError(op, module, nil, "control amount %s does not match records total %s",
			batch.ControlAmount.StringFixed(decimalPlaces), total.StringFixed(decimalPlaces))
	}

	sort.Slice(records, func(i, j int) bool { return records[i].SourceID < records[j].SourceID })

	return Snapshot{
		Dataset: Dataset{
			CompanyID:   ref.CompanyID,
			PeriodID:    ref.ID,
			Module:      module,
			RecordCount: len(records),
			TotalAmount: total,
			ModuleHash:  ModuleHash(hashes),
		},
		Records: records,
	}, nil
}

func sourceError(op string, module Module, err error, format string, args ...any) error {
	return &shared.Error{
		Kind:   shared.KindSourceData,
		Op:     op,
		Module: string(module),
		Detail: fmt.Sprintf(format, args...),
		Err:    err,
	}
}

// Persist writes a built snapshot and its audit event. When ctx already
// carries a transaction the writes join it.
func (e *Engine) Persist(ctx context.Context, snap Snapshot, actorID int64) (Dataset, error) {
	var stored Dataset
	err := e.tx.WithTx(ctx, func(ctx context.Context) error {
		d := snap.Dataset
		d.CreatedAt = e.now()
		inserted, err := e.repo.InsertDataset(ctx, d)
		if err != nil {
			return err
		}
		if err := e.repo.InsertRecords(ctx, inserted.ID, snap.Records); err != nil {
			return err
		}
		if _, err := e.audit.Append(ctx, audittrail.Event{
			CompanyID:  inserted.CompanyID,
			EntityType: audittrail.EntityDataset,
			EntityID:   strconv.FormatInt(inserted.ID, 10),
			Action:     "dataset.created",
			ActorID:    actorID,
			Payload: audittrail.Payload{New: map[string]any{
				"period_id":    inserted.PeriodID,
				"module":       string(inserted.Module),
				"record_count": inserted.RecordCount,
				"total_amount": inserted.TotalAmount.StringFixed(decimalPlaces),
				"module_hash":  inserted.ModuleHash,
			}},
		}); err != nil {
			return err
		}
		stored = inserted
		return nil
	})
	if err != nil {
		return Dataset{}, err
	}
	return stored, nil
}

// CreateSnapshot builds and persists one module snapshot.
func (e *Engine) CreateSnapshot(ctx context.Context, ref PeriodRef, module Module, actorID int64) (Dataset, error) {
	snap, err := e.Build(ctx, ref, module)
	if err != nil {
		return Dataset{}, err
	}
	return e.Persist(ctx, snap, actorID)
}

// GetDataset loads a dataset owned by companyID.
func (e *Engine) GetDataset(ctx context.Context, companyID, datasetID int64) (Dataset, error) {
	const op = "snapshot.GetDataset"
	if err := shared.RequireCompany(op, companyID); err != nil {
		return Dataset{}, err
	}
	d, err := e.repo.GetDataset(ctx, datasetID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return Dataset{}, shared.E(shared.KindNotFound, op, "dataset %d not found", datasetID)
		}
		return Dataset{}, err
	}
	if err := shared.CheckTenant(op, companyID, d.CompanyID); err != nil {
		return Dataset{}, err
	}
	return d, nil
}

// ListDatasets returns the datasets of a period in persistence order.
func (e *Engine) ListDatasets(ctx context.Context, companyID, periodID int64) ([]Dataset, error) {
	const op = "snapshot.ListDatasets"
	if err := shared.RequireCompany(op, companyID); err != nil {
		return nil, err
	}
	datasets, err := e.repo.ListDatasetsByPeriod(ctx, periodID)
	if err != nil {
		return nil, err
	}
	for _, d := range datasets {
		if err := shared.CheckTenant(op, companyID, d.CompanyID); err != nil {
			return nil, err
		}
	}
	sort.SliceStable(datasets, func(i, j int) bool {
		return moduleOrder(datasets[i].Module) < moduleOrder(datasets[j].Module)
	})
	return datasets, nil
}

func moduleOrder(m Module) int {
	for i, candidate := range Modules {
		if candidate == m {
			return i
		}
	}
	return len(Modules)
}

// ListRecords pages through a dataset ordered by source id.
func (e *Engine) ListRecords(ctx context.Context, companyID, datasetID int64, page, pageSize int) (RecordPage, error) {
	d, err := e.GetDataset(ctx, companyID, datasetID)
	if err != nil {
		return RecordPage{}, err
	}
	page, pageSize = shared.ClampPage(page, pageSize, defaultRecordPageSize, maxRecordPageSize)
	pagination := shared.NewPagination(page, pageSize, d.RecordCount)
	records, err := e.repo.ListRecords(ctx, d.ID, pageSize, pagination.Offset())
	if err != nil {
		return RecordPage{}, err
	}
	if records == nil {
		records = []Record{}
	}
	return RecordPage{Records: records, Pagination: pagination}, nil
}

// AllRecords returns the dataset and every record ordered by source id.
func (e *Engine) AllRecords(ctx context.Context, companyID, datasetID int64) (Dataset, []Record, error) {
	d, err := e.GetDataset(ctx, companyID, datasetID)
	if err != nil {
		return Dataset{}, nil, err
	}
	records, err := e.repo.AllRecords(ctx, d.ID)
	if err != nil {
		return Dataset{}, nil, err
	}
	sort.Slice(records, func(i, j int) bool { return records[i].SourceID < records[j].SourceID })
	return d, records, nil
}

// VerifyDataset recomputes every record hash and the module hash from the
// stored rows. Drift is returned together with an IntegrityError.
func (e *Engine) VerifyDataset(ctx context.Context, companyID, datasetID int64) (Verification, error) {
	const op = "snapshot.VerifyDataset"
	d, records, err := e.AllRecords(ctx, companyID, datasetID)
	if err != nil {
		return Verification{}, err
	}
	hashes := make([]string, 0, len(records))
	var tampered []int64
	for _, r := range records {
		hash := RecordHash(r.SourceID, r.Fields)
		if hash != r.RecordHash {
			tampered = append(tampered, r.SourceID)
		}
		hashes = append(hashes, hash)
	}
	result := Verification{
		DatasetID:         d.ID,
		StoredHash:        d.ModuleHash,
		RecomputedHash:    ModuleHash(hashes),
		RecordCount:       len(records),
		TamperedSourceIDs: tampered,
	}
	result.Valid = result.StoredHash == result.RecomputedHash && len(tampered) == 0 && len(records) == d.RecordCount
	if !result.Valid {
		e.logger.Error("dataset integrity check failed",
			slog.Int64("dataset_id", d.ID),
			slog.String("module", string(d.Module)),
			slog.String("stored_hash", result.StoredHash),
			slog.String("recomputed_hash", result.RecomputedHash),
			slog.String("severity", "high"))
		return result, &shared.Error{Kind: shared.KindIntegrity, Op: op, Module: string(d.Module), Detail: result.String()}
	}
	return result, nil
}
