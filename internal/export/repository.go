package export

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/audithub/internal/platform/db"
	"github.com/odyssey-erp/audithub/internal/shared"
)

// PGRepository stores artifacts in audit_export_artifacts.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PGRepository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const artifactColumns = `id, company_id, dataset_id, export_type, content_hash, content_type, size_bytes, download_ref, generated_by, generated_at`

// Insert appends an artifact row.
func (r *PGRepository) Insert(ctx context.Context, a Artifact) (Artifact, error) {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `INSERT INTO audit_export_artifacts
(company_id, dataset_id, export_type, content_hash, content_type, size_bytes, download_ref, generated_by, generated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING `+artifactColumns,
		a.CompanyID, a.DatasetID, string(a.ExportType), a.ContentHash, a.ContentType, a.SizeBytes, a.DownloadRef, a.GeneratedBy, a.GeneratedAt)
	return scanArtifact(row)
}

// Get loads one artifact.
func (r *PGRepository) Get(ctx context.Context, id int64) (Artifact, error) {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+artifactColumns+` FROM audit_export_artifacts WHERE id = $1`, id)
	a, err := scanArtifact(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Artifact{}, shared.ErrNotFound
	}
	return a, err
}

// Latest returns the newest artifact of a dataset and type.
func (r *PGRepository) Latest(ctx context.Context, datasetID int64, exportType Type) (Artifact, error) {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+artifactColumns+`
FROM audit_export_artifacts WHERE dataset_id = $1 AND export_type = $2
ORDER BY id DESC LIMIT 1`, datasetID, string(exportType))
	a, err := scanArtifact(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Artifact{}, shared.ErrNotFound
	}
	return a, err
}

// ListByDataset returns every artifact of a dataset, newest first.
func (r *PGRepository) ListByDataset(ctx context.Context, datasetID int64) ([]Artifact, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT `+artifactColumns+`
FROM audit_export_artifacts WHERE dataset_id = $1 ORDER BY id DESC`, datasetID)
	if err != nil {
		return nil, err
	}
	return collectArtifacts(rows)
}

// LatestAll returns the newest artifact of every dataset and type with an id
// above afterID, ordered by id.
func (r *PGRepository) LatestAll(ctx context.Context, afterID int64, limit int) ([]Artifact, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT `+artifactColumns+` FROM (
    SELECT DISTINCT ON (dataset_id, export_type) `+artifactColumns+`
    FROM audit_export_artifacts
    ORDER BY dataset_id, export_type, id DESC
) latest
WHERE id > $1
ORDER BY id
LIMIT $2`, afterID, limit)
	if err != nil {
		return nil, err
	}
	return collectArtifacts(rows)
}

func collectArtifacts(rows pgx.Rows) ([]Artifact, error) {
	defer rows.Close()
	var out []Artifact
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanArtifact(row pgx.Row) (Artifact, error) {
	var a Artifact
	var exportType string
	if err := row.Scan(&a.ID, &a.CompanyID, &a.DatasetID, &exportType, &a.ContentHash, &a.ContentType,
		&a.SizeBytes, &a.DownloadRef, &a.GeneratedBy, &a.GeneratedAt); err != nil {
		return Artifact{}, err
	}
	a.ExportType = Type(exportType)
	return a, nil
}
