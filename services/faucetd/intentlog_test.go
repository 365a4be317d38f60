package faucetd

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBoltIntentLogPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "intents.db")
	log, err := OpenBoltIntentLog(path)
	require.NoError(t, err)

	done, err := log.Begin("DONE")
	require.NoError(t, err)
	pending, err := log.Begin("PENDING")
	require.NoError(t, err)
	require.Equal(t, IntentReserved, pending.State)

	_, err = log.Update(done.ID, func(in *Intent) { in.State = IntentConfirmed })
	require.NoError(t, err)
	updated, err := log.Update(pending.ID, func(in *Intent) {
		in.State = IntentSubmitted
		in.TxIDs = []string{"PAY", "CALL"}
	})
	require.NoError(t, err)
	require.Equal(t, IntentSubmitted, updated.State)
	require.NoError(t, log.Close())

	reopened, err := OpenBoltIntentLog(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })

	all, err := reopened.List()
	require.NoError(t, err)
	require.Len(t, all, 2)

	unresolved, err := reopened.Unresolved()
	require.NoError(t, err)
	require.Len(t, unresolved, 1)
	require.Equal(t, "PENDING", unresolved[0].Target)
	require.Equal(t, []string{"PAY", "CALL"}, unresolved[0].TxIDs)
}

func TestBoltIntentLogUnknownID(t *testing.T) {
	log, err := OpenBoltIntentLog(filepath.Join(t.TempDir(), "intents.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })

	_, err = log.Update("missing", func(*Intent) {})
	require.ErrorIs(t, err, ErrIntentNotFound)
}

func TestMemoryIntentLogDropsFinalStates(t *testing.T) {
	log := NewMemoryIntentLog()
	a, err := log.Begin("A")
	require.NoError(t, err)
	_, err = log.Begin("B")
	require.NoError(t, err)

	_, err = log.Update(a.ID, func(in *Intent) {
		in.State = IntentSeeded
		in.SeedTxID = "SEED"
	})
	require.NoError(t, err)
	unresolved, err := log.Unresolved()
	require.NoError(t, err)
	require.Len(t, unresolved, 2)

	final, err := log.Update(a.ID, func(in *Intent) { in.State = IntentFailed })
	require.NoError(t, err)
	require.Equal(t, "SEED", final.SeedTxID)

	all, err := log.List()
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, "B", all[0].Target)
}

func TestIntentStateUnresolved(t *testing.T) {
	for _, s := range []IntentState{IntentReserved, IntentSeeded, IntentSubmitted} {
		require.True(t, s.Unresolved(), s)
	}
	for _, s := range []IntentState{IntentConfirmed, IntentFailed, IntentResolved} {
		require.False(t, s.Unresolved(), s)
	}
}
