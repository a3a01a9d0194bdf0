package signoff

import (
	"context"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/odyssey-erp/audithub/internal/audittrail"
	"github.com/odyssey-erp/audithub/internal/platform/db"
	"github.com/odyssey-erp/audithub/internal/shared"
	"github.com/odyssey-erp/audithub/internal/snapshot"
)

// Repository persists sign-offs.
type Repository interface {
	Insert(ctx context.Context, s SignOff) (SignOff, error)
	ListByDataset(ctx context.Context, datasetID int64) ([]SignOff, error)
	LockedDatasets(ctx context.Context, datasetIDs []int64) (map[int64]bool, error)
}

// DatasetReader resolves datasets with tenant checks.
type DatasetReader interface {
	GetDataset(ctx context.Context, companyID, datasetID int64) (snapshot.Dataset, error)
}

// Engine enforces the sign-off sequence.
type Engine struct {
	repo     Repository
	datasets DatasetReader
	tx       db.Transactor
	audit    audittrail.Appender
	logger   *slog.Logger
	now      func() time.Time
}

// NewEngine constructs an Engine.
func NewEngine(repo Repository, datasets DatasetReader, tx db.Transactor, audit audittrail.Appender, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		repo:     repo,
		datasets: datasets,
		tx:       tx,
		audit:    audit,
		logger:   logger,
		now:      time.Now,
	}
}

// WithNow overrides the clock for deterministic tests.
func (e *Engine) WithNow(now func() time.Time) {
	if now != nil {
		e.now = now
	}
}

// SignOff records one approval. Checks run in order: comments, role,
// predecessor stage, then uniqueness of the stage.
func (e *Engine) SignOff(ctx context.Context, in Input) (SignOff, error) {
	const op = "signoff.SignOff"
	comments := strings.TrimSpace(in.Comments)
	if comments == "" {
		return SignOff{}, shared.E(shared.KindValidation, op, "comments required")
	}
	stage, err := ParseStage(string(in.Stage))
	if err != nil {
		return SignOff{}, err
	}
	if !RoleAllowed(stage, in.UserRole) {
		return SignOff{}, shared.E(shared.KindAuthorization, op, "role %q may not sign %s", in.UserRole, stage)
	}
	if in.UserID <= 0 {
		return SignOff{}, shared.E(shared.KindAuthorization, op, "user id required")
	}
	dataset, err := e.datasets.GetDataset(ctx, in.CompanyID, in.DatasetID)
	if err != nil {
		return SignOff{}, err
	}

	var recorded SignOff
	err = e.tx.WithTx(ctx, func(ctx context.Context) error {
		existing, err := e.repo.ListByDataset(ctx, dataset.ID)
		if err != nil {
			return err
		}
		signed := make(map[Stage]bool, len(existing))
		for _, s := range existing {
			signed[s.Stage] = true
		}
		if prev, ok := stage.Predecessor(); ok && !signed[prev] {
			return shared.E(shared.KindSequence, op, "%s requires %s first", stage, prev)
		}
		if signed[stage] {
			return shared.E(shared.KindDuplicate, op, "%s already signed for dataset %d", stage, dataset.ID)
		}

		signedAt := e.now().UTC().Truncate(time.Microsecond)
		s := SignOff{
			DatasetID:        dataset.ID,
			Stage:            stage,
			UserID:           in.UserID,
			UserRole:         strings.ToUpper(strings.TrimSpace(in.UserRole)),
			Comments:         comments,
			DigitalSignature: Signature(stage, comments, in.UserID, signedAt),
			SignedAt:         signedAt,
		}
		inserted, err := e.repo.Insert(ctx, s)
		if err != nil {
			return err
		}
		if _, err := e.audit.Append(ctx, audittrail.Event{
			CompanyID:  dataset.CompanyID,
			EntityType: audittrail.EntitySignOff,
			EntityID:   strconv.FormatInt(inserted.ID, 10),
			Action:     "signoff.recorded",
			ActorID:    in.UserID,
			Payload: audittrail.Payload{New: map[string]any{
				"dataset_id": dataset.ID,
				"module":     string(dataset.Module),
				"stage":      string(stage),
				"user_role":  inserted.UserRole,
				"signature":  inserted.DigitalSignature,
			}},
		}); err != nil {
			return err
		}
		recorded = inserted
		return nil
	})
	if err != nil {
		return SignOff{}, err
	}
	e.logger.Info("sign-off recorded",
		slog.Int64("dataset_id", dataset.ID),
		slog.String("stage", string(stage)),
		slog.Int64("user_id", in.UserID))
	return recorded, nil
}

// GetSignOffs returns the sign-offs of a dataset ordered by signing time.
func (e *Engine) GetSignOffs(ctx context.Context, companyID, datasetID int64) ([]SignOff, error) {
	if _, err := e.datasets.GetDataset(ctx, companyID, datasetID); err != nil {
		return nil, err
	}
	list, err := e.repo.ListByDataset(ctx, datasetID)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(list, func(i, j int) bool {
		if !list[i].SignedAt.Equal(list[j].SignedAt) {
			return list[i].SignedAt.Before(list[j].SignedAt)
		}
		return list[i].ID < list[j].ID
	})
	if list == nil {
		list = []SignOff{}
	}
	return list, nil
}

// CurrentStage returns the highest signed stage or StagePending.
func (e *Engine) CurrentStage(ctx context.Context, companyID, datasetID int64) (Stage, error) {
	list, err := e.GetSignOffs(ctx, companyID, datasetID)
	if err != nil {
		return "", err
	}
	current := StagePending
	for _, s := range list {
		if s.Stage.rank() > current.rank() {
			current = s.Stage
		}
	}
	return current, nil
}

// HasLocked reports whether the dataset carries a LOCKED sign-off.
func (e *Engine) HasLocked(ctx context.Context, datasetID int64) (bool, error) {
	ok, _, err := e.AllLocked(ctx, []int64{datasetID})
	return ok, err
}

// AllLocked reports whether every dataset carries a LOCKED sign-off and lists
// those that do not.
func (e *Engine) AllLocked(ctx context.Context, datasetIDs []int64) (bool, []int64, error) {
	if len(datasetIDs) == 0 {
		return true, nil, nil
	}
	locked, err := e.repo.LockedDatasets(ctx, datasetIDs)
	if err != nil {
		return false, nil, err
	}
	var pending []int64
	for _, id := range datasetIDs {
		if !locked[id] {
			pending = append(pending, id)
		}
	}
	return len(pending) == 0, pending, nil
}

// VerifySignature recomputes the tamper-evidence token of s.
func VerifySignature(s SignOff) bool {
	return Signature(s.Stage, s.Comments, s.UserID, s.SignedAt) == s.DigitalSignature
}
