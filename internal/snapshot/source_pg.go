package snapshot

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// PGSource reads the live module projections exposed by the ERP as the
// relations audit_source_<module>. Each relation carries source_id,
// company_id and the schema fields of its module.
type PGSource struct {
	pool *pgxpool.Pool
}

// NewPGSource constructs a PGSource.
func NewPGSource(pool *pgxpool.Pool) *PGSource {
	return &PGSource{pool: pool}
}

// SourceRelation names the relation read for m.
func SourceRelation(m Module) string {
	return "audit_source_" + strings.ToLower(string(m))
}

// Fetch reads the rows and their control totals inside one read-only
// repeatable-read transaction so both observe the same data.
func (s *PGSource) Fetch(ctx context.Context, q SourceQuery) (SourceBatch, error) {
	fields := q.Module.FieldNames()
	if len(fields) == 0 {
		return SourceBatch{}, fmt.Errorf("snapshot: no schema for module %q", q.Module)
	}
	table := pgx.Identifier{SourceRelation(q.Module)}.Sanitize()
	cols := make([]string, len(fields))
	for i, f := range fields {
		cols[i] = pgx.Identifier{f}.Sanitize() + "::text"
	}
	where := `company_id = $1 AND "date" BETWEEN $2 AND $3`

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return SourceBatch{}, fmt.Errorf("snapshot: begin source tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	rows, err := tx.Query(ctx, fmt.Sprintf(`SELECT source_id, %s FROM %s WHERE %s ORDER BY source_id`,
		strings.Join(cols, ", "), table, where), q.CompanyID, q.StartDate, q.EndDate)
	if err != nil {
		return SourceBatch{}, fmt.Errorf("snapshot: query %s: %w", table, err)
	}
	var batch SourceBatch
	for rows.Next() {
		var sourceID int64
		values := make([]*string, len(fields))
		dest := make([]any, 0, len(fields)+1)
		dest = append(dest, &sourceID)
		for i := range values {
			dest = append(dest, &values[i])
		}
		if err := rows.Scan(dest...); err != nil {
			rows.Close()
			return SourceBatch{}, fmt.Errorf("snapshot: scan %s: %w", table, err)
		}
		row := SourceRow{SourceID: sourceID, Fields: make(map[string]any, len(fields))}
		for i, f := range fields {
			row.Fields[f] = values[i]
		}
		batch.Rows = append(batch.Rows, row)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return SourceBatch{}, fmt.Errorf("snapshot: read %s: %w", table, err)
	}

	var total string
	if err := tx.QueryRow(ctx, fmt.Sprintf(`SELECT COUNT(*), COALESCE(SUM(amount), 0)::text FROM %s WHERE %s`, table, where),
		q.CompanyID, q.StartDate, q.EndDate).Scan(&batch.ControlCount, &total); err != nil {
		return SourceBatch{}, fmt.Errorf("snapshot: control totals %s: %w", table, err)
	}
	batch.ControlAmount, err = decimal.NewFromString(total)
	if err != nil {
		return SourceBatch{}, fmt.Errorf("snapshot: decode control amount: %w", err)
	}
	return batch, nil
}
