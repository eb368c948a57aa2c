package conntrack

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTryAcquireMainRespectsLimit(t *testing.T) {
	tr := New(2, 1)

	g1, ok := tr.TryAcquireMain("1.2.3.4")
	require.True(t, ok)
	g2, ok := tr.TryAcquireMain("1.2.3.4")
	require.True(t, ok)
	require.Equal(t, 2, tr.MainCount("1.2.3.4"))

	_, ok = tr.TryAcquireMain("1.2.3.4")
	require.False(t, ok, "third connection from the same IP must be refused")

	g1.Release()
	require.Equal(t, 1, tr.MainCount("1.2.3.4"))

	g3, ok := tr.TryAcquireMain("1.2.3.4")
	require.True(t, ok, "released slot should be reusable")

	g2.Release()
	g3.Release()
	require.Equal(t, 0, tr.MainCount("1.2.3.4"))
}

func TestGuardReleaseIsIdempotent(t *testing.T) {
	tr := New(1, 1)
	g, ok := tr.TryAcquireMain("5.6.7.8")
	require.True(t, ok)
	g.Release()
	g.Release()
	require.Equal(t, 0, tr.MainCount("5.6.7.8"))
}

func TestMainAndTransferCountersAreIndependent(t *testing.T) {
	tr := New(1, 1)
	gMain, ok := tr.TryAcquireMain("9.9.9.9")
	require.True(t, ok)
	gXfer, ok := tr.TryAcquireTransfer("9.9.9.9")
	require.True(t, ok, "transfer limit is tracked separately from main")
	gMain.Release()
	gXfer.Release()
}

func TestZeroLimitIsUnbounded(t *testing.T) {
	tr := New(0, 0)
	for i := 0; i < 50; i++ {
		_, ok := tr.TryAcquireMain("10.0.0.1")
		require.True(t, ok)
	}
}
