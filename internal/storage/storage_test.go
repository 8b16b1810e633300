package storage

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemStoreCreateAndGetBlock(t *testing.T) {
	t.Parallel()
	store := NewMemStore()

	block, err := store.CreateBlock(Critical, "rounds", 10)
	require.NoError(t, err)
	assert.Equal(t, "rounds", block.Name())
	assert.Equal(t, 10, block.Size())

	got, ok := store.GetBlock("rounds")
	require.True(t, ok)
	assert.Equal(t, block, got)

	_, err = store.CreateBlock(Critical, "rounds", 10)
	assert.ErrorIs(t, err, ErrBlockExists)

	_, ok = store.GetBlock("missing")
	assert.False(t, ok)
}

func TestMemStoreScopeCommitVisibility(t *testing.T) {
	t.Parallel()
	store := NewMemStore()
	block, err := store.CreateBlock(Critical, "rounds", 4)
	require.NoError(t, err)

	scope := store.Begin()
	scope.Set(block, 1, "data", []byte("payload"))
	scope.Set(block, 1, "transaction_id", uint64(7))

	// Staged writes are invisible until commit.
	_, ok := block.Get(1)
	assert.False(t, ok)

	require.NoError(t, scope.Commit())

	rec, ok := block.Get(1)
	require.True(t, ok)
	assert.Equal(t, uint64(7), Uint64(rec, "transaction_id"))
	assert.Equal(t, []byte("payload"), Bytes(rec, "data"))
}

func TestMemStoreScopeRollback(t *testing.T) {
	t.Parallel()
	store := NewMemStore()
	block, err := store.CreateBlock(Critical, "rounds", 4)
	require.NoError(t, err)

	scope := store.Begin()
	scope.Set(block, 0, "data", []byte("doomed"))
	committed := false
	scope.OnCommit(func() { committed = true })
	scope.Rollback()

	_, ok := block.Get(0)
	assert.False(t, ok)
	assert.False(t, committed)
}

func TestMemStoreScopeClear(t *testing.T) {
	t.Parallel()
	store := NewMemStore()
	block, err := store.CreateBlock(Critical, "rounds", 4)
	require.NoError(t, err)

	require.NoError(t, Update(store, block, 2, Record{"data": []byte("x")}))

	scope := store.Begin()
	scope.Clear(block, 2)
	require.NoError(t, scope.Commit())

	_, ok := block.Get(2)
	assert.False(t, ok)
}

func TestMemStoreOnCommitRunsAfterWritesApply(t *testing.T) {
	t.Parallel()
	store := NewMemStore()
	block, err := store.CreateBlock(Critical, "rounds", 4)
	require.NoError(t, err)

	scope := store.Begin()
	scope.Set(block, 0, "transaction_id", uint64(42))
	var seen uint64
	scope.OnCommit(func() {
		rec, ok := block.Get(0)
		if ok {
			seen = Uint64(rec, "transaction_id")
		}
	})
	require.NoError(t, scope.Commit())
	assert.Equal(t, uint64(42), seen)
}

func TestMemStoreFailCommits(t *testing.T) {
	t.Parallel()
	store := NewMemStore()
	block, err := store.CreateBlock(Critical, "rounds", 4)
	require.NoError(t, err)

	store.FailCommits(errors.New("media error"))

	scope := store.Begin()
	scope.Set(block, 0, "data", []byte("x"))
	ran := false
	scope.OnCommit(func() { ran = true })
	err = scope.Commit()
	require.ErrorIs(t, err, ErrCommitFailed)
	assert.False(t, ran)
	_, ok := block.Get(0)
	assert.False(t, ok)

	store.FailCommits(nil)
	require.NoError(t, Update(store, block, 0, Record{"data": []byte("x")}))
}

func TestMemStoreResizeBlock(t *testing.T) {
	t.Parallel()
	store := NewMemStore()
	block, err := store.CreateBlock(Critical, "rounds", 4)
	require.NoError(t, err)
	require.NoError(t, Update(store, block, 3, Record{"data": []byte("kept")}))

	require.NoError(t, store.ResizeBlock("rounds", 8))
	assert.Equal(t, 8, block.Size())
	rec, ok := block.Get(3)
	require.True(t, ok)
	assert.Equal(t, []byte("kept"), Bytes(rec, "data"))

	// Shrinking drops records past the new size.
	require.NoError(t, store.ResizeBlock("rounds", 2))
	_, ok = block.Get(3)
	assert.False(t, ok)

	assert.ErrorIs(t, store.ResizeBlock("missing", 2), ErrNoBlock)
}

func TestSqliteStoreRoundTrip(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "meters.db")

	store, err := OpenSqlite(path)
	require.NoError(t, err)

	block, err := store.CreateBlock(Critical, "rounds", 4)
	require.NoError(t, err)

	scope := store.Begin()
	scope.Set(block, 1, "data", []byte(`{"wager":100}`))
	scope.Set(block, 1, "transaction_id", uint64(9))
	require.NoError(t, scope.Commit())
	require.NoError(t, store.Close())

	// Reopen and verify the record survived.
	store, err = OpenSqlite(path)
	require.NoError(t, err)
	defer store.Close()

	block, ok := store.GetBlock("rounds")
	require.True(t, ok)
	assert.Equal(t, 4, block.Size())

	rec, ok := block.Get(1)
	require.True(t, ok)
	assert.Equal(t, uint64(9), Uint64(rec, "transaction_id"))
	assert.Equal(t, []byte(`{"wager":100}`), Bytes(rec, "data"))

	all := block.GetAll()
	require.Len(t, all, 1)
}

func TestSqliteScopeRollback(t *testing.T) {
	t.Parallel()
	store, err := OpenSqlite(filepath.Join(t.TempDir(), "meters.db"))
	require.NoError(t, err)
	defer store.Close()

	block, err := store.CreateBlock(Critical, "rounds", 4)
	require.NoError(t, err)

	scope := store.Begin()
	scope.Set(block, 0, "data", []byte("doomed"))
	scope.Rollback()

	_, ok := block.Get(0)
	assert.False(t, ok)
}

func TestCodecToleratesJSONNumbers(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		rec  Record
		want uint64
	}{
		{"uint64", Record{"v": uint64(5)}, 5},
		{"int", Record{"v": 5}, 5},
		{"int64", Record{"v": int64(5)}, 5},
		{"float64", Record{"v": float64(5)}, 5},
		{"missing", Record{}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Uint64(tt.rec, "v"); got != tt.want {
				t.Errorf("Uint64() = %d, want %d", got, tt.want)
			}
		})
	}
}
