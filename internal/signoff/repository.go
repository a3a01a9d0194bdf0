package signoff

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/audithub/internal/platform/db"
	"github.com/odyssey-erp/audithub/internal/shared"
)

// PGRepository stores sign-offs in audit_signoffs.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PGRepository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// Insert writes a sign-off. A concurrent signer of the same stage loses on
// the unique index and receives a DuplicateError.
func (r *PGRepository) Insert(ctx context.Context, s SignOff) (SignOff, error) {
	const op = "signoff.Insert"
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `INSERT INTO audit_signoffs (dataset_id, stage, user_id, user_role, comments, digital_signature, signed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING id`, s.DatasetID, string(s.Stage), s.UserID, s.UserRole, s.Comments, s.DigitalSignature, s.SignedAt).Scan(&s.ID)
	if err != nil {
		if db.IsUniqueViolation(err, "uq_audit_signoffs_stage") {
			return SignOff{}, shared.E(shared.KindDuplicate, op, "%s already signed for dataset %d", s.Stage, s.DatasetID)
		}
		return SignOff{}, err
	}
	return s, nil
}

// ListByDataset returns the sign-offs of a dataset.
func (r *PGRepository) ListByDataset(ctx context.Context, datasetID int64) ([]SignOff, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT id, dataset_id, stage, user_id, user_role, comments, digital_signature, signed_at
FROM audit_signoffs WHERE dataset_id = $1 ORDER BY signed_at, id`, datasetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SignOff
	for rows.Next() {
		var s SignOff
		var stage string
		if err := rows.Scan(&s.ID, &s.DatasetID, &stage, &s.UserID, &s.UserRole, &s.Comments, &s.DigitalSignature, &s.SignedAt); err != nil {
			return nil, err
		}
		s.Stage = Stage(stage)
		s.SignedAt = s.SignedAt.UTC()
		out = append(out, s)
	}
	return out, rows.Err()
}

// LockedDatasets returns the subset of datasetIDs with a LOCKED sign-off.
func (r *PGRepository) LockedDatasets(ctx context.Context, datasetIDs []int64) (map[int64]bool, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT dataset_id FROM audit_signoffs WHERE stage = $1 AND dataset_id = ANY($2)`,
		string(StageLocked), datasetIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[int64]bool, len(datasetIDs))
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = true
	}
	return out, rows.Err()
}
