package snapshot

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/audithub/internal/platform/db"
	"github.com/odyssey-erp/audithub/internal/shared"
)

// PGRepository stores datasets in audit_datasets and records in audit_records.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PGRepository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const datasetColumns = `id, company_id, period_id, module_name, record_count, total_amount::text, module_hash, created_at`

// InsertDataset writes the dataset header.
func (r *PGRepository) InsertDataset(ctx context.Context, d Dataset) (Dataset, error) {
	const op = "snapshot.InsertDataset"
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `INSERT INTO audit_datasets (company_id, period_id, module_name, record_count, total_amount, module_hash, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING `+datasetColumns,
		d.CompanyID, d.PeriodID, string(d.Module), d.RecordCount, d.TotalAmount.StringFixed(decimalPlaces), d.ModuleHash, d.CreatedAt)
	stored, err := scanDataset(row)
	if err != nil {
		if db.IsUniqueViolation(err, "uq_audit_datasets_period_module") {
			return Dataset{}, shared.E(shared.KindConflict, op, "period %d already has a %s snapshot", d.PeriodID, d.Module)
		}
		return Dataset{}, err
	}
	return stored, nil
}

// InsertRecords bulk-copies the records of a dataset.
func (r *PGRepository) InsertRecords(ctx context.Context, datasetID int64, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	_, err := db.Conn(ctx, r.pool).CopyFrom(ctx,
		pgx.Identifier{"audit_records"},
		[]string{"dataset_id", "source_id", "fields", "record_hash"},
		pgx.CopyFromSlice(len(records), func(i int) ([]any, error) {
			rec := records[i]
			return []any{datasetID, rec.SourceID, rec.Fields, rec.RecordHash}, nil
		}),
	)
	if err != nil {
		return fmt.Errorf("snapshot: copy records: %w", err)
	}
	return nil
}

// GetDataset loads one dataset.
func (r *PGRepository) GetDataset(ctx context.Context, id int64) (Dataset, error) {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+datasetColumns+` FROM audit_datasets WHERE id = $1`, id)
	d, err := scanDataset(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Dataset{}, shared.ErrNotFound
	}
	return d, err
}

// ListDatasetsByPeriod returns every dataset of a period.
func (r *PGRepository) ListDatasetsByPeriod(ctx context.Context, periodID int64) ([]Dataset, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT `+datasetColumns+` FROM audit_datasets WHERE period_id = $1 ORDER BY id`, periodID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Dataset
	for rows.Next() {
		d, err := scanDataset(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// ListRecords returns one page of records ordered by source id.
func (r *PGRepository) ListRecords(ctx context.Context, datasetID int64, limit, offset int) ([]Record, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT dataset_id, source_id, fields, record_hash
FROM audit_records WHERE dataset_id = $1 ORDER BY source_id LIMIT $2 OFFSET $3`, datasetID, limit, offset)
	if err != nil {
		return nil, err
	}
	return collectRecords(rows)
}

// AllRecords returns every record of a dataset ordered by source id.
func (r *PGRepository) AllRecords(ctx context.Context, datasetID int64) ([]Record, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT dataset_id, source_id, fields, record_hash
FROM audit_records WHERE dataset_id = $1 ORDER BY source_id`, datasetID)
	if err != nil {
		return nil, err
	}
	return collectRecords(rows)
}

func collectRecords(rows pgx.Rows) ([]Record, error) {
	defer rows.Close()
	var out []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.DatasetID, &rec.SourceID, &rec.Fields, &rec.RecordHash); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanDataset(row pgx.Row) (Dataset, error) {
	var d Dataset
	var module, total string
	if err := row.Scan(&d.ID, &d.CompanyID, &d.PeriodID, &module, &d.RecordCount, &total, &d.ModuleHash, &d.CreatedAt); err != nil {
		return Dataset{}, err
	}
	amount, err := decimal.NewFromString(total)
	if err != nil {
		return Dataset{}, fmt.Errorf("snapshot: decode total amount: %w", err)
	}
	d.Module = Module(module)
	d.TotalAmount = amount
	return d, nil
}
