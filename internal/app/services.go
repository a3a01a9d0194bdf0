package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/audithub/internal/audittrail"
	"github.com/odyssey-erp/audithub/internal/export"
	"github.com/odyssey-erp/audithub/internal/observability"
	"github.com/odyssey-erp/audithub/internal/periods"
	"github.com/odyssey-erp/audithub/internal/platform/blob"
	"github.com/odyssey-erp/audithub/internal/platform/cache"
	"github.com/odyssey-erp/audithub/internal/platform/db"
	"github.com/odyssey-erp/audithub/internal/shared"
	"github.com/odyssey-erp/audithub/internal/signoff"
	"github.com/odyssey-erp/audithub/internal/snapshot"
	"github.com/odyssey-erp/audithub/report"
)

// Services holds the wired engines shared by the API server and the worker.
type Services struct {
	Pool      *pgxpool.Pool
	Redis     *redis.Client
	Metrics   *observability.Metrics
	Audit     *audittrail.Log
	Snapshots *snapshot.Engine
	SignOffs  *signoff.Engine
	Periods   *periods.Manager
	Exports   *export.Engine
	Gotenberg *report.Client

	closers []io.Closer
}

// NewServices connects to Postgres and Redis, applies migrations when
// configured and wires every engine.
func NewServices(ctx context.Context, cfg *Config, logger *slog.Logger, metrics *observability.Metrics) (*Services, error) {
	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		return nil, err
	}
	s := &Services{Pool: pool, Metrics: metrics}

	if cfg.MigrateOnStart {
		if err := db.Migrate(cfg.PGDSN, logger); err != nil {
			s.Close()
			return nil, err
		}
	}

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	s.Redis = redisClient
	s.closers = append(s.closers, redisClient)
	if err != nil {
		s.Close()
		return nil, err
	}

	blobs, err := newBlobStore(ctx, cfg)
	if err != nil {
		s.Close()
		return nil, err
	}
	if closer, ok := blobs.(io.Closer); ok {
		s.closers = append(s.closers, closer)
	}

	var typesetter export.Typesetter
	if cfg.GotenbergURL != "" {
		s.Gotenberg = report.NewClient(cfg.GotenbergURL, cfg.GotenbergTimeout)
		typesetter = s.Gotenberg
	} else {
		logger.Warn("GOTENBERG_URL not set, PDF exports store canonical HTML")
	}

	tx := db.NewTransactor(pool)
	s.Audit = audittrail.NewLog(audittrail.NewRepository(pool))

	s.Snapshots = snapshot.NewEngine(snapshot.NewRepository(pool), snapshot.NewPGSource(pool), tx, s.Audit, logger)
	s.Snapshots.WithTimeout(cfg.SnapshotTimeout)
	s.Snapshots.WithRecorder(metrics)

	s.SignOffs = signoff.NewEngine(signoff.NewRepository(pool), s.Snapshots, tx, s.Audit, logger)

	s.Periods = periods.NewManager(periods.NewRepository(pool), s.Snapshots, s.SignOffs, shared.NewRedisLocker(redisClient), tx, s.Audit, logger)
	if cfg.PeriodLockTTL > 0 {
		s.Periods.WithLockTTL(cfg.PeriodLockTTL)
	}
	s.Periods.WithRecorder(metrics)

	s.Exports = export.NewEngine(export.NewRepository(pool), s.Snapshots, s.SignOffs, blobs, tx, s.Audit, typesetter, logger)
	s.Exports.WithRecorder(metrics)
	return s, nil
}

func newBlobStore(ctx context.Context, cfg *Config) (blob.Store, error) {
	switch cfg.ExportStorage {
	case StorageGCS:
		return blob.NewGCSStore(ctx, cfg.GCSBucket, "exports")
	case StorageFS:
		return blob.NewFSStore(cfg.ExportStorageDir)
	default:
		return nil, fmt.Errorf("unsupported export storage %q", cfg.ExportStorage)
	}
}

// Close releases connections in reverse order of acquisition.
func (s *Services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		_ = s.closers[i].Close()
	}
	if s.Pool != nil {
		s.Pool.Close()
	}
}
