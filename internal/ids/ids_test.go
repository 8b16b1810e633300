package ids

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spinframe/gameround/internal/storage"
)

func nextTransactionID(t *testing.T, p *StoreProvider) uint64 {
	t.Helper()
	id, err := p.NextTransactionID()
	require.NoError(t, err)
	return id
}

func nextLogSequence(t *testing.T, p *StoreProvider, kind string) uint64 {
	t.Helper()
	seq, err := p.NextLogSequence(kind)
	require.NoError(t, err)
	return seq
}

func TestTransactionIDsMonotonic(t *testing.T) {
	t.Parallel()
	store := storage.NewMemStore()
	provider, err := NewStoreProvider(store)
	require.NoError(t, err)

	assert.Equal(t, uint64(1), nextTransactionID(t, provider))
	assert.Equal(t, uint64(2), nextTransactionID(t, provider))
	assert.Equal(t, uint64(3), nextTransactionID(t, provider))
}

func TestLogSequencesIndependentPerKind(t *testing.T) {
	t.Parallel()
	store := storage.NewMemStore()
	provider, err := NewStoreProvider(store)
	require.NoError(t, err)

	assert.Equal(t, uint64(1), nextLogSequence(t, provider, "gameRoundHistory"))
	assert.Equal(t, uint64(2), nextLogSequence(t, provider, "gameRoundHistory"))
	assert.Equal(t, uint64(1), nextLogSequence(t, provider, "centralTransactions"))
	assert.Equal(t, uint64(1), nextTransactionID(t, provider))
}

func TestWatermarksSurviveReload(t *testing.T) {
	t.Parallel()
	store := storage.NewMemStore()
	provider, err := NewStoreProvider(store)
	require.NoError(t, err)

	nextTransactionID(t, provider)
	nextTransactionID(t, provider)
	nextLogSequence(t, provider, "gameRoundHistory")

	reloaded, err := NewStoreProvider(store)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), nextTransactionID(t, reloaded))
	assert.Equal(t, uint64(2), nextLogSequence(t, reloaded, "gameRoundHistory"))
}

func TestAllocationFailsWhenPersistFails(t *testing.T) {
	t.Parallel()
	store := storage.NewMemStore()
	provider, err := NewStoreProvider(store)
	require.NoError(t, err)

	store.FailCommits(errors.New("media error"))
	_, err = provider.NextTransactionID()
	assert.ErrorIs(t, err, storage.ErrCommitFailed)
	_, err = provider.NextLogSequence("gameRoundHistory")
	assert.ErrorIs(t, err, storage.ErrCommitFailed)

	// The watermarks never advance past an unpersisted id.
	store.FailCommits(nil)
	assert.Equal(t, uint64(1), nextTransactionID(t, provider))
	assert.Equal(t, uint64(1), nextLogSequence(t, provider, "gameRoundHistory"))
}
