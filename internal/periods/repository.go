package periods

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/audithub/internal/platform/db"
	"github.com/odyssey-erp/audithub/internal/shared"
)

// PGRepository persists periods in audit_periods.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PGRepository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const periodColumns = `id, company_id, period_type, year, month, quarter, start_date, end_date, status,
COALESCE(period_hash, ''), locked_at, finalized_at, supersedes_period_id, COALESCE(amendment_reason, ''), created_at, updated_at`

// Insert writes a new period. The partial unique index rejects a second
// active period for the same tuple.
func (r *PGRepository) Insert(ctx context.Context, p Period) (Period, error) {
	const op = "periods.Insert"
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `INSERT INTO audit_periods
    (company_id, period_type, year, month, quarter, start_date, end_date, status, supersedes_period_id, amendment_reason, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NULLIF($10, ''), $11, $12)
RETURNING `+periodColumns,
		p.CompanyID, string(p.Type), p.Year, nullableSmall(p.Month), nullableSmall(p.Quarter),
		p.StartDate, p.EndDate, string(p.Status), p.SupersedesPeriodID, p.AmendmentReason, p.CreatedAt, p.UpdatedAt)
	created, err := scanPeriod(row)
	if err != nil {
		if db.IsUniqueViolation(err, "uq_audit_periods_active") {
			return Period{}, shared.E(shared.KindConflict, op, "an active %s period already exists for %d", p.Type, p.Year)
		}
		return Period{}, err
	}
	return created, nil
}

// Get loads one period.
func (r *PGRepository) Get(ctx context.Context, id int64) (Period, error) {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+periodColumns+` FROM audit_periods WHERE id = $1`, id)
	p, err := scanPeriod(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Period{}, shared.ErrNotFound
	}
	return p, err
}

// GetForUpdate row-locks a period without waiting. A concurrent holder yields
// a ConflictError.
func (r *PGRepository) GetForUpdate(ctx context.Context, id int64) (Period, error) {
	const op = "periods.GetForUpdate"
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+periodColumns+` FROM audit_periods WHERE id = $1 FOR UPDATE NOWAIT`, id)
	p, err := scanPeriod(row)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return Period{}, shared.ErrNotFound
	case db.IsLockNotAvailable(err):
		return Period{}, shared.E(shared.KindConflict, op, "period %d is locked by another transaction", id)
	}
	return p, err
}

// List returns a page of periods and the total count.
func (r *PGRepository) List(ctx context.Context, companyID int64, limit, offset int) ([]Period, int, error) {
	q := db.Conn(ctx, r.pool)
	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM audit_periods WHERE company_id = $1`, companyID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := q.Query(ctx, `SELECT `+periodColumns+` FROM audit_periods WHERE company_id = $1
ORDER BY start_date DESC, id DESC LIMIT $2 OFFSET $3`, companyID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []Period
	for rows.Next() {
		p, err := scanPeriod(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, p)
	}
	return out, total, rows.Err()
}

// Update writes the mutable lifecycle columns.
func (r *PGRepository) Update(ctx context.Context, p Period) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `UPDATE audit_periods
SET status = $2, period_hash = NULLIF($3, ''), locked_at = $4, finalized_at = $5, updated_at = $6
WHERE id = $1`, p.ID, string(p.Status), p.PeriodHash, p.LockedAt, p.FinalizedAt, p.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func scanPeriod(row pgx.Row) (Period, error) {
	var p Period
	var periodType, status string
	var month, quarter *int16
	var start, end time.Time
	if err := row.Scan(&p.ID, &p.CompanyID, &periodType, &p.Year, &month, &quarter, &start, &end, &status,
		&p.PeriodHash, &p.LockedAt, &p.FinalizedAt, &p.SupersedesPeriodID, &p.AmendmentReason, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return Period{}, err
	}
	p.Type = Type(periodType)
	p.Status = Status(status)
	p.StartDate = start.UTC()
	p.EndDate = end.UTC()
	if month != nil {
		p.Month = int(*month)
	}
	if quarter != nil {
		p.Quarter = int(*quarter)
	}
	return p, nil
}

func nullableSmall(v int) *int16 {
	if v == 0 {
		return nil
	}
	s := int16(v)
	return &s
}
