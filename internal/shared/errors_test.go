package shared

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKindOfAndIsKindWalkTheChain(t *testing.T) {
	source := E(KindSourceData, "snapshot.Build", "source read failed")
	err := SnapshotFailed("periods.ClosePeriod", "BANK", fmt.Errorf("build: %w", source))

	require.Equal(t, KindSnapshot, KindOf(err))
	require.True(t, IsKind(err, KindSnapshot))
	require.True(t, IsKind(err, KindSourceData))
	require.False(t, IsKind(err, KindIntegrity))
	require.Equal(t, "BANK", ModuleOf(err))
	require.ErrorIs(t, fmt.Errorf("close: %w", err), source)
}

func TestUntaggedErrors(t *testing.T) {
	wrapped := fmt.Errorf("load period 3: %w", ErrNotFound)
	require.Equal(t, KindNotFound, KindOf(wrapped))
	require.True(t, IsKind(wrapped, KindNotFound))
	require.False(t, IsKind(wrapped, KindInternal))

	require.True(t, IsKind(Wrap(KindInternal, "db.Get", ErrNotFound), KindNotFound))

	plain := errors.New("connection reset")
	require.Equal(t, KindInternal, KindOf(plain))
	require.False(t, IsKind(plain, KindInternal))
	require.Empty(t, ModuleOf(plain))

	require.Equal(t, Kind(""), KindOf(nil))
	require.False(t, IsKind(nil, KindNotFound))
	require.NoError(t, Wrap(KindValidation, "op", nil))
}

func TestErrorMessage(t *testing.T) {
	err := &Error{Kind: KindSourceData, Op: "snapshot.Build", Module: "SALES", Detail: "duplicate source id 4", Err: errors.New("boom")}
	require.Equal(t, "snapshot.Build: SourceDataError [SALES]: duplicate source id 4: boom", err.Error())
}
