package export

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/audithub/internal/audittrail"
	"github.com/odyssey-erp/audithub/internal/platform/blob"
	"github.com/odyssey-erp/audithub/internal/platform/db"
	"github.com/odyssey-erp/audithub/internal/shared"
	"github.com/odyssey-erp/audithub/internal/snapshot"
)

// Repository persists artifacts. Rows are append-only.
type Repository interface {
	Insert(ctx context.Context, a Artifact) (Artifact, error)
	Get(ctx context.Context, id int64) (Artifact, error)
	Latest(ctx context.Context, datasetID int64, exportType Type) (Artifact, error)
	ListByDataset(ctx context.Context, datasetID int64) ([]Artifact, error)
	LatestAll(ctx context.Context, afterID int64, limit int) ([]Artifact, error)
}

// DatasetReader is the read-only view of the snapshot engine.
type DatasetReader interface {
	GetDataset(ctx context.Context, companyID, datasetID int64) (snapshot.Dataset, error)
	AllRecords(ctx context.Context, companyID, datasetID int64) (snapshot.Dataset, []snapshot.Record, error)
}

// StageChecker tells whether a dataset carries a LOCKED sign-off.
type StageChecker interface {
	HasLocked(ctx context.Context, datasetID int64) (bool, error)
}

// Recorder observes export outcomes.
type Recorder interface {
	ObserveExport(exportType string, elapsed time.Duration, err error)
	IncIntegrityFailure(exportType string)
}

type nopRecorder struct{}

func (nopRecorder) ObserveExport(string, time.Duration, error) {}
func (nopRecorder) IncIntegrityFailure(string)                 {}

// Engine generates and verifies export artifacts.
type Engine struct {
	repo      Repository
	datasets  DatasetReader
	stages    StageChecker
	blobs     blob.Store
	tx        db.Transactor
	audit     audittrail.Appender
	logger    *slog.Logger
	recorder  Recorder
	renderers map[Type]Renderer
	group     singleflight.Group
	now       func() time.Time
}

// NewEngine constructs an Engine. typesetter may be nil, in which case PDF
// exports store the canonical HTML.
func NewEngine(repo Repository, datasets DatasetReader, stages StageChecker, blobs blob.Store, tx db.Transactor, audit audittrail.Appender, typesetter Typesetter, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		repo:     repo,
		datasets: datasets,
		stages:   stages,
		blobs:    blobs,
		tx:       tx,
		audit:    audit,
		logger:   logger,
		recorder: nopRecorder{},
		renderers: map[Type]Renderer{
			TypeCSV:   CSVRenderer{},
			TypeExcel: ExcelRenderer{},
			TypePDF:   PDFRenderer{Typesetter: typesetter},
		},
		now: func() time.Time { return time.Now().UTC() },
	}
}

// WithRecorder attaches export metrics.
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

type renderResult struct {
	dataset  snapshot.Dataset
	rendered Rendered
	hash     string
}

// render regenerates the export in memory. Concurrent calls for the same
// dataset and type share one regeneration.
func (e *Engine) render(ctx context.Context, companyID, datasetID int64, exportType Type) (renderResult, error) {
	key := fmt.Sprintf("%d:%d:%s", companyID, datasetID, exportType)
	v, err, _ := e.group.Do(key, func() (any, error) {
		started := time.Now()
		d, records, err := e.datasets.AllRecords(ctx, companyID, datasetID)
		if err != nil {
			return renderResult{}, err
		}
		renderer, ok := e.renderers[exportType]
		if !ok {
			return renderResult{}, shared.E(shared.KindValidation, "export.render", "no renderer for %s", exportType)
		}
		rendered, err := renderer.Render(ctx, NewDocument(d, records))
		e.recorder.ObserveExport(string(exportType), time.Since(started), err)
		if err != nil {
			return renderResult{}, err
		}
		return renderResult{dataset: d, rendered: rendered, hash: ContentHash(rendered.Canonical)}, nil
	})
	if err != nil {
		return renderResult{}, err
	}
	return v.(renderResult), nil
}

// ContentHash is the hex SHA-256 of canonical export bytes.
func ContentHash(canonical []byte) string {
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}

// GenerateExport renders a dataset, stores the bytes and records the
// artifact. The dataset must carry a LOCKED sign-off.
func (e *Engine) GenerateExport(ctx context.Context, companyID, datasetID int64, exportType Type, actor shared.Actor) (Artifact, error) {
	const op = "export.GenerateExport"
	exportType, err := ParseType(string(exportType))
	if err != nil {
		return Artifact{}, err
	}
	d, err := e.datasets.GetDataset(ctx, companyID, datasetID)
	if err != nil {
		return Artifact{}, err
	}
	locked, err := e.stages.HasLocked(ctx, d.ID)
	if err != nil {
		return Artifact{}, err
	}
	if !locked {
		return Artifact{}, shared.E(shared.KindPrecondition, op, "dataset %d has no LOCKED sign-off", d.ID)
	}
	res, err := e.render(ctx, companyID, datasetID, exportType)
	if err != nil {
		return Artifact{}, err
	}
	artifact, err := e.store(ctx, res, exportType, actor.UserID, "export.generated")
	if err != nil {
		return Artifact{}, err
	}
	e.logger.Info("export generated",
		slog.Int64("dataset_id", d.ID),
		slog.String("export_type", string(exportType)),
		slog.String("content_hash", artifact.ContentHash))
	return artifact, nil
}

func (e *Engine) store(ctx context.Context, res renderResult, exportType Type, actorID int64, action string) (Artifact, error) {
	d := res.dataset
	key := fmt.Sprintf("datasets/%d/%s/%s.%s", d.ID, strings.ToLower(string(exportType)), res.hash, res.rendered.Extension)
	ref, err := e.blobs.Put(ctx, key, res.rendered.ContentType, res.rendered.Body)
	if err != nil {
		return Artifact{}, fmt.Errorf("export: store artifact: %w", err)
	}
	var artifact Artifact
	err = e.tx.WithTx(ctx, func(ctx context.Context) error {
		inserted, err := e.repo.Insert(ctx, Artifact{
			CompanyID:   d.CompanyID,
			DatasetID:   d.ID,
			ExportType:  exportType,
			ContentHash: res.hash,
			ContentType: res.rendered.ContentType,
			SizeBytes:   int64(len(res.rendered.Body)),
			DownloadRef: ref,
			GeneratedBy: actorID,
			GeneratedAt: e.now(),
		})
		if err != nil {
			return err
		}
		if _, err := e.audit.Append(ctx, audittrail.Event{
			CompanyID:  d.CompanyID,
			EntityType: audittrail.EntityArtifact,
			EntityID:   strconv.FormatInt(inserted.ID, 10),
			Action:     action,
			ActorID:    actorID,
			Payload: audittrail.Payload{New: map[string]any{
				"dataset_id":   d.ID,
				"export_type":  string(exportType),
				"content_hash": inserted.ContentHash,
				"download_ref": inserted.DownloadRef,
			}},
		}); err != nil {
			return err
		}
		artifact = inserted
		return nil
	})
	if err != nil {
		return Artifact{}, err
	}
	return artifact, nil
}

// VerifyDeterminism regenerates the export and compares it to the latest
// stored artifact. A mismatch is returned together with an IntegrityError and
// is never corrected; with persistOnMismatch the regenerated bytes are stored
// as a new artifact for investigation.
func (e *Engine) VerifyDeterminism(ctx context.Context, companyID, datasetID int64, exportType Type, persistOnMismatch bool, actor shared.Actor) (Determinism, error) {
	const op = "export.VerifyDeterminism"
	exportType, err := ParseType(string(exportType))
	if err != nil {
		return Determinism{}, err
	}
	d, err := e.datasets.GetDataset(ctx, companyID, datasetID)
	if err != nil {
		return Determinism{}, err
	}
	baseline, err := e.repo.Latest(ctx, d.ID, exportType)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return Determinism{}, shared.E(shared.KindNotFound, op, "no %s artifact for dataset %d", exportType, d.ID)
		}
		return Determinism{}, err
	}
	res, err := e.render(ctx, companyID, datasetID, exportType)
	if err != nil {
		return Determinism{}, err
	}
	result := Determinism{
		DatasetID:          d.ID,
		ExportType:         exportType,
		IsDeterministic:    res.hash == baseline.ContentHash,
		StoredHash:         baseline.ContentHash,
		RecomputedHash:     res.hash,
		BaselineArtifactID: baseline.ID,
	}
	if result.IsDeterministic {
		return result, nil
	}

	e.recorder.IncIntegrityFailure(string(exportType))
	e.logger.Error("export integrity failure",
		slog.Int64("dataset_id", d.ID),
		slog.String("module", string(d.Module)),
		slog.String("export_type", string(exportType)),
		slog.String("stored_hash", result.StoredHash),
		slog.String("recomputed_hash", result.RecomputedHash),
		slog.String("severity", "high"))

	if _, err := e.audit.Append(ctx, audittrail.Event{
		CompanyID:  d.CompanyID,
		EntityType: audittrail.EntityArtifact,
		EntityID:   strconv.FormatInt(baseline.ID, 10),
		Action:     "export.integrity_failed",
		ActorID:    actor.UserID,
		Payload: audittrail.Payload{
			Old: map[string]any{"content_hash": result.StoredHash},
			New: map[string]any{"content_hash": result.RecomputedHash, "dataset_id": d.ID, "export_type": string(exportType)},
		},
	}); err != nil {
		e.logger.Error("record integrity failure", slog.Int64("dataset_id", d.ID), slog.Any("error", err))
	}

	if persistOnMismatch {
		evidence, err := e.store(ctx, res, exportType, actor.UserID, "export.evidence_stored")
		if err != nil {
			e.logger.Error("store integrity evidence", slog.Int64("dataset_id", d.ID), slog.Any("error", err))
		} else {
			result.EvidenceArtifactID = evidence.ID
		}
	}
	return result, &shared.Error{
		Kind:   shared.KindIntegrity,
		Op:     op,
		Module: string(d.Module),
		Detail: fmt.Sprintf("%s export of dataset %d: stored %s, recomputed %s", exportType, d.ID, result.StoredHash, result.RecomputedHash),
	}
}

// ListArtifacts returns every artifact of a dataset, newest first.
func (e *Engine) ListArtifacts(ctx context.Context, companyID, datasetID int64) ([]Artifact, error) {
	d, err := e.datasets.GetDataset(ctx, companyID, datasetID)
	if err != nil {
		return nil, err
	}
	list, err := e.repo.ListByDataset(ctx, d.ID)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []Artifact{}
	}
	return list, nil
}

// Download returns an artifact and its stored bytes.
func (e *Engine) Download(ctx context.Context, companyID, artifactID int64) (Artifact, []byte, error) {
	const op = "export.Download"
	if err := shared.RequireCompany(op, companyID); err != nil {
		return Artifact{}, nil, err
	}
	a, err := e.repo.Get(ctx, artifactID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return Artifact{}, nil, shared.E(shared.KindNotFound, op, "artifact %d not found", artifactID)
		}
		return Artifact{}, nil, err
	}
	if err := shared.CheckTenant(op, companyID, a.CompanyID); err != nil {
		return Artifact{}, nil, err
	}
	data, err := e.blobs.Get(ctx, a.DownloadRef)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			return Artifact{}, nil, shared.E(shared.KindNotFound, op, "content of artifact %d is missing", artifactID)
		}
		return Artifact{}, nil, err
	}
	return a, data, nil
}

// LatestArtifacts pages through the latest artifact of every dataset and
// type, ordered by artifact id.
func (e *Engine) LatestArtifacts(ctx context.Context, afterID int64, limit int) ([]Artifact, error) {
	if limit <= 0 {
		limit = 100
	}
	return e.repo.LatestAll(ctx, afterID, limit)
}
