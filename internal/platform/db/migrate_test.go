package db

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestMigrateURL(t *testing.T) {
	require.Equal(t, "pgx5://u:p@h:5432/db?sslmode=disable", MigrateURL("postgres://u:p@h:5432/db?sslmode=disable"))
	require.Equal(t, "pgx5://u@h/db", MigrateURL("postgresql://u@h/db"))
	require.Equal(t, "pgx5://already", MigrateURL("pgx5://already"))
}

func TestMigrationsRejectAuditMutation(t *testing.T) {
	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("skipping integration test: TEST_INTEGRATION not set")
	}
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"docker.io/postgres:17-alpine",
		postgres.WithDatabase("audithub_test"),
		postgres.WithUsername("audithub"),
		postgres.WithPassword("test-password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	require.NoError(t, Migrate(dsn, logger))
	require.NoError(t, Migrate(dsn, logger), "second run must be a no-op")

	pool, err := New(ctx, dsn, 4)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	_, err = pool.Exec(ctx, `INSERT INTO audit_events (id, company_id, entity_type, entity_id, action) VALUES (gen_random_uuid(), 1, 'period', '1', 'period.created')`)
	require.NoError(t, err)

	_, err = pool.Exec(ctx, `UPDATE audit_events SET action = 'tampered'`)
	require.Error(t, err)
	_, err = pool.Exec(ctx, `DELETE FROM audit_events`)
	require.Error(t, err)

	tx := NewTransactor(pool)
	err = tx.WithTx(ctx, func(ctx context.Context) error {
		_, err := Conn(ctx, pool).Exec(ctx, `INSERT INTO audit_periods (company_id, period_type, year, month, start_date, end_date, status) VALUES (1, 'MONTHLY', 2026, 1, '2026-01-01', '2026-01-31', 'OPEN')`)
		return err
	})
	require.NoError(t, err)

	_, err = pool.Exec(ctx, `INSERT INTO audit_periods (company_id, period_type, year, month, start_date, end_date, status) VALUES (1, 'MONTHLY', 2026, 1, '2026-01-01', '2026-01-31', 'OPEN')`)
	require.True(t, IsUniqueViolation(err, "uq_audit_periods_active"))
}
