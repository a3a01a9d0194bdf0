package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/audithub/internal/audittrail"
	"github.com/odyssey-erp/audithub/internal/periods"
	"github.com/odyssey-erp/audithub/internal/shared"
)

func TestWithTxRestoresOnError(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Audit().Insert(ctx, audittrail.Event{Action: "kept"}))

	err := s.WithTx(ctx, func(ctx context.Context) error {
		require.NoError(t, s.Audit().Insert(ctx, audittrail.Event{Action: "dropped"}))
		return s.WithTx(ctx, func(ctx context.Context) error {
			return errors.New("boom")
		})
	})
	require.EqualError(t, err, "boom")
	events := s.Events()
	require.Len(t, events, 1)
	require.Equal(t, "kept", events[0].Action)
}

func TestPeriodInsertEmulatesActiveIndex(t *testing.T) {
	s := New()
	ctx := context.Background()
	p := periods.Period{CompanyID: 1, Type: periods.TypeMonthly, Year: 2025, Month: 1, Status: periods.StatusOpen}
	first, err := s.Periods().Insert(ctx, p)
	require.NoError(t, err)

	_, err = s.Periods().Insert(ctx, p)
	require.Equal(t, shared.KindConflict, shared.KindOf(err))

	first.Status = periods.StatusAmended
	require.NoError(t, s.Periods().Update(ctx, first))
	second, err := s.Periods().Insert(ctx, p)
	require.NoError(t, err)
	require.NotEqual(t, first.ID, second.ID)
}

func TestFailNextMatchesQualifierOnce(t *testing.T) {
	s := New()
	s.FailNext("InsertDataset:VAT", errors.New("disk full"))
	require.NoError(t, s.fail("InsertDataset", "SALES"))
	require.Error(t, s.fail("InsertDataset", "VAT"))
	require.NoError(t, s.fail("InsertDataset", "VAT"))
}

func TestGetForUpdateDoesNotWait(t *testing.T) {
	s := New()
	ctx := context.Background()
	p, err := s.Periods().Insert(ctx, periods.Period{CompanyID: 1, Type: periods.TypeMonthly, Year: 2025, Month: 2, Status: periods.StatusOpen})
	require.NoError(t, err)

	held := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_ = s.WithTx(ctx, func(ctx context.Context) error {
			if _, err := s.Periods().GetForUpdate(ctx, p.ID); err != nil {
				return err
			}
			close(held)
			<-done
			return nil
		})
	}()
	<-held

	err = s.WithTx(ctx, func(ctx context.Context) error {
		_, err := s.Periods().GetForUpdate(ctx, p.ID)
		return err
	})
	require.Equal(t, shared.KindConflict, shared.KindOf(err))

	got, err := s.Periods().GetForUpdate(ctx, p.ID)
	require.NoError(t, err, "a plain read outside a transaction takes no row lock")
	require.Equal(t, p.ID, got.ID)

	close(done)
	require.Eventually(t, func() bool {
		return s.WithTx(ctx, func(ctx context.Context) error {
			_, err := s.Periods().GetForUpdate(ctx, p.ID)
			return err
		}) == nil
	}, time.Second, 5*time.Millisecond)
}
