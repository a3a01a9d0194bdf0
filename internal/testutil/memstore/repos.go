package memstore

import (
	"context"
	"fmt"
	"sort"

	"github.com/odyssey-erp/audithub/internal/audittrail"
	"github.com/odyssey-erp/audithub/internal/export"
	"github.com/odyssey-erp/audithub/internal/periods"
	"github.com/odyssey-erp/audithub/internal/shared"
	"github.com/odyssey-erp/audithub/internal/signoff"
	"github.com/odyssey-erp/audithub/internal/snapshot"
)

// AuditRepo implements audittrail.Repository.
type AuditRepo struct{ s *Store }

// Insert appends an event.
func (r *AuditRepo) Insert(ctx context.Context, ev audittrail.Event) error {
	if err := r.s.fail("AuditInsert", ev.Action); err != nil {
		return err
	}
	return r.s.write(ctx, func(st *state) error {
		st.events = append(st.events, ev)
		return nil
	})
}

// List filters events of a company in append order.
func (r *AuditRepo) List(_ context.Context, companyID int64, filter audittrail.Filter, limit, offset int) ([]audittrail.Event, error) {
	var matched []audittrail.Event
	r.s.read(func(st *state) {
		for _, ev := range st.events {
			if ev.CompanyID != companyID {
				continue
			}
			if filter.EntityType != "" && ev.EntityType != filter.EntityType {
				continue
			}
			if filter.EntityID != "" && ev.EntityID != filter.EntityID {
				continue
			}
			matched = append(matched, ev)
		}
	})
	return page(matched, limit, offset), nil
}

// SnapshotRepo implements snapshot.Repository.
type SnapshotRepo struct{ s *Store }

// InsertDataset assigns an id and enforces one dataset per period and module.
func (r *SnapshotRepo) InsertDataset(ctx context.Context, d snapshot.Dataset) (snapshot.Dataset, error) {
	if err := r.s.fail("InsertDataset", string(d.Module)); err != nil {
		return snapshot.Dataset{}, err
	}
	err := r.s.write(ctx, func(st *state) error {
		for _, existing := range st.datasets {
			if existing.PeriodID == d.PeriodID && existing.Module == d.Module {
				return shared.E(shared.KindConflict, "snapshot.InsertDataset", "period %d already has a %s snapshot", d.PeriodID, d.Module)
			}
		}
		st.nextDataset++
		d.ID = st.nextDataset
		st.datasets[d.ID] = d
		return nil
	})
	if err != nil {
		return snapshot.Dataset{}, err
	}
	return d, nil
}

// InsertRecords stores the records of a dataset.
func (r *SnapshotRepo) InsertRecords(ctx context.Context, datasetID int64, records []snapshot.Record) error {
	if err := r.s.fail("InsertRecords", ""); err != nil {
		return err
	}
	return r.s.write(ctx, func(st *state) error {
		for _, rec := range records {
			rec.DatasetID = datasetID
			rec.Fields = copyFields(rec.Fields)
			st.records[datasetID] = append(st.records[datasetID], rec)
		}
		return nil
	})
}

// GetDataset loads one dataset.
func (r *SnapshotRepo) GetDataset(_ context.Context, id int64) (snapshot.Dataset, error) {
	var (
		d  snapshot.Dataset
		ok bool
	)
	r.s.read(func(st *state) { d, ok = st.datasets[id] })
	if !ok {
		return snapshot.Dataset{}, shared.ErrNotFound
	}
	return d, nil
}

// ListDatasetsByPeriod returns the datasets of a period by id.
func (r *SnapshotRepo) ListDatasetsByPeriod(_ context.Context, periodID int64) ([]snapshot.Dataset, error) {
	var out []snapshot.Dataset
	r.s.read(func(st *state) {
		for _, id := range sortedIDs(st.datasets) {
			if d := st.datasets[id]; d.PeriodID == periodID {
				out = append(out, d)
			}
		}
	})
	return out, nil
}

// ListRecords returns one page of records ordered by source id.
func (r *SnapshotRepo) ListRecords(_ context.Context, datasetID int64, limit, offset int) ([]snapshot.Record, error) {
	return page(r.sortedRecords(datasetID), limit, offset), nil
}

// AllRecords returns every record ordered by source id.
func (r *SnapshotRepo) AllRecords(_ context.Context, datasetID int64) ([]snapshot.Record, error) {
	return r.sortedRecords(datasetID), nil
}

func (r *SnapshotRepo) sortedRecords(datasetID int64) []snapshot.Record {
	var out []snapshot.Record
	r.s.read(func(st *state) {
		out = append(out, st.records[datasetID]...)
	})
	sort.Slice(out, func(i, j int) bool { return out[i].SourceID < out[j].SourceID })
	return out
}

// Tamper rewrites a stored field behind the engine's back, the way a direct
// database edit would.
func (r *SnapshotRepo) Tamper(datasetID, sourceID int64, field, value string) {
	r.s.read(func(st *state) {
		for i, rec := range st.records[datasetID] {
			if rec.SourceID != sourceID {
				continue
			}
			fields := copyFields(rec.Fields)
			fields[field] = value
			st.records[datasetID][i].Fields = fields
		}
	})
}

func copyFields(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// SignOffRepo implements signoff.Repository.
type SignOffRepo struct{ s *Store }

// Insert enforces one sign-off per dataset and stage.
func (r *SignOffRepo) Insert(ctx context.Context, so signoff.SignOff) (signoff.SignOff, error) {
	if err := r.s.fail("InsertSignOff", string(so.Stage)); err != nil {
		return signoff.SignOff{}, err
	}
	err := r.s.write(ctx, func(st *state) error {
		for _, existing := range st.signoffs {
			if existing.DatasetID == so.DatasetID && existing.Stage == so.Stage {
				return shared.E(shared.KindDuplicate, "signoff.Insert", "%s already signed for dataset %d", so.Stage, so.DatasetID)
			}
		}
		st.nextSignOff++
		so.ID = st.nextSignOff
		st.signoffs = append(st.signoffs, so)
		return nil
	})
	if err != nil {
		return signoff.SignOff{}, err
	}
	return so, nil
}

// ListByDataset returns sign-offs in signing order.
func (r *SignOffRepo) ListByDataset(_ context.Context, datasetID int64) ([]signoff.SignOff, error) {
	var out []signoff.SignOff
	r.s.read(func(st *state) {
		for _, so := range st.signoffs {
			if so.DatasetID == datasetID {
				out = append(out, so)
			}
		}
	})
	return out, nil
}

// LockedDatasets reports which datasets carry a LOCKED sign-off.
func (r *SignOffRepo) LockedDatasets(_ context.Context, datasetIDs []int64) (map[int64]bool, error) {
	wanted := make(map[int64]bool, len(datasetIDs))
	for _, id := range datasetIDs {
		wanted[id] = true
	}
	out := map[int64]bool{}
	r.s.read(func(st *state) {
		for _, so := range st.signoffs {
			if so.Stage == signoff.StageLocked && wanted[so.DatasetID] {
				out[so.DatasetID] = true
			}
		}
	})
	return out, nil
}

// PeriodRepo implements periods.Repository.
type PeriodRepo struct{ s *Store }

func activeKey(p periods.Period) string {
	return fmt.Sprintf("%d/%s/%d/%d/%d", p.CompanyID, p.Type, p.Year, p.Month, p.Quarter)
}

// Insert emulates the partial unique index over non-amended periods.
func (r *PeriodRepo) Insert(ctx context.Context, p periods.Period) (periods.Period, error) {
	if err := r.s.fail("InsertPeriod", ""); err != nil {
		return periods.Period{}, err
	}
	err := r.s.write(ctx, func(st *state) error {
		if p.Status != periods.StatusAmended {
			for _, existing := range st.periods {
				if existing.Status != periods.StatusAmended && activeKey(existing) == activeKey(p) {
					return shared.E(shared.KindConflict, "periods.Insert", "an active %s period already exists for %d", p.Type, p.Year)
				}
			}
		}
		st.nextPeriod++
		p.ID = st.nextPeriod
		st.periods[p.ID] = p
		return nil
	})
	if err != nil {
		return periods.Period{}, err
	}
	return p, nil
}

// Get loads one period.
func (r *PeriodRepo) Get(_ context.Context, id int64) (periods.Period, error) {
	var (
		p  periods.Period
		ok bool
	)
	r.s.read(func(st *state) { p, ok = st.periods[id] })
	if !ok {
		return periods.Period{}, shared.ErrNotFound
	}
	return p, nil
}

// GetForUpdate row-locks the period for the transaction in ctx. A row held
// by another transaction fails at once with a ConflictError.
func (r *PeriodRepo) GetForUpdate(ctx context.Context, id int64) (periods.Period, error) {
	if err := r.s.fail("GetForUpdate", ""); err != nil {
		return periods.Period{}, err
	}
	if err := r.s.lockRow(ctx, "periods.GetForUpdate", "period", id); err != nil {
		return periods.Period{}, err
	}
	return r.Get(ctx, id)
}

// List orders periods by start date descending.
func (r *PeriodRepo) List(_ context.Context, companyID int64, limit, offset int) ([]periods.Period, int, error) {
	var matched []periods.Period
	r.s.read(func(st *state) {
		for _, p := range st.periods {
			if p.CompanyID == companyID {
				matched = append(matched, p)
			}
		}
	})
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].StartDate.Equal(matched[j].StartDate) {
			return matched[i].StartDate.After(matched[j].StartDate)
		}
		return matched[i].ID > matched[j].ID
	})
	return page(matched, limit, offset), len(matched), nil
}

// Update replaces a period row.
func (r *PeriodRepo) Update(ctx context.Context, p periods.Period) error {
	if err := r.s.fail("UpdatePeriod", string(p.Status)); err != nil {
		return err
	}
	return r.s.write(ctx, func(st *state) error {
		if _, ok := st.periods[p.ID]; !ok {
			return shared.ErrNotFound
		}
		st.periods[p.ID] = p
		return nil
	})
}

// ExportRepo implements export.Repository.
type ExportRepo struct{ s *Store }

// Insert appends an artifact.
func (r *ExportRepo) Insert(ctx context.Context, a export.Artifact) (export.Artifact, error) {
	if err := r.s.fail("InsertArtifact", string(a.ExportType)); err != nil {
		return export.Artifact{}, err
	}
	err := r.s.write(ctx, func(st *state) error {
		st.nextArtifact++
		a.ID = st.nextArtifact
		st.artifacts = append(st.artifacts, a)
		return nil
	})
	if err != nil {
		return export.Artifact{}, err
	}
	return a, nil
}

// Get loads one artifact.
func (r *ExportRepo) Get(_ context.Context, id int64) (export.Artifact, error) {
	var (
		a  export.Artifact
		ok bool
	)
	r.s.read(func(st *state) {
		for _, candidate := range st.artifacts {
			if candidate.ID == id {
				a, ok = candidate, true
			}
		}
	})
	if !ok {
		return export.Artifact{}, shared.ErrNotFound
	}
	return a, nil
}

// Latest returns the newest artifact of a dataset and type.
func (r *ExportRepo) Latest(_ context.Context, datasetID int64, exportType export.Type) (export.Artifact, error) {
	var (
		a  export.Artifact
		ok bool
	)
	r.s.read(func(st *state) {
		for _, candidate := range st.artifacts {
			if candidate.DatasetID == datasetID && candidate.ExportType == exportType {
				a, ok = candidate, true
			}
		}
	})
	if !ok {
		return export.Artifact{}, shared.ErrNotFound
	}
	return a, nil
}

// ListByDataset returns the artifacts of a dataset, newest first.
func (r *ExportRepo) ListByDataset(_ context.Context, datasetID int64) ([]export.Artifact, error) {
	var out []export.Artifact
	r.s.read(func(st *state) {
		for i := len(st.artifacts) - 1; i >= 0; i-- {
			if st.artifacts[i].DatasetID == datasetID {
				out = append(out, st.artifacts[i])
			}
		}
	})
	return out, nil
}

// LatestAll returns the newest artifact per dataset and type above afterID.
func (r *ExportRepo) LatestAll(_ context.Context, afterID int64, limit int) ([]export.Artifact, error) {
	type key struct {
		dataset int64
		kind    export.Type
	}
	latest := map[key]export.Artifact{}
	r.s.read(func(st *state) {
		for _, a := range st.artifacts {
			latest[key{a.DatasetID, a.ExportType}] = a
		}
	})
	var out []export.Artifact
	for _, a := range latest {
		if a.ID > afterID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return page(out, limit, 0), nil
}
