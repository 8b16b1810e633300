// Package storage provides the durable block store used for regulated
// game-round history. A store holds named fixed-capacity blocks of
// field-indexed records; every mutation happens inside a Scope so that a
// round-log update and its associated transaction-registry update can
// commit atomically as one unit of work.
package storage

import (
	"errors"
	"fmt"
)

// PersistenceLevel controls the durability guarantee of a block.
type PersistenceLevel int

const (
	// Critical blocks survive power loss; writes are flushed on commit.
	Critical PersistenceLevel = iota
	// Static blocks persist across restarts with relaxed flush timing.
	Static
	// Transient blocks may be discarded on restart.
	Transient
)

// String returns the string representation of the persistence level
func (pl PersistenceLevel) String() string {
	switch pl {
	case Critical:
		return "critical"
	case Static:
		return "static"
	case Transient:
		return "transient"
	}
	return fmt.Sprintf("persistence(%d)", int(pl))
}

// Record is the field map stored at one index of a block.
type Record map[string]any

// ErrCommitFailed wraps storage commit failures. Callers must treat it as
// fatal for the operation in progress: a round record that fails to persist
// means lost regulatory history.
var ErrCommitFailed = errors.New("storage commit failed")

// ErrBlockExists is returned when creating a block whose name is taken.
var ErrBlockExists = errors.New("block already exists")

// ErrNoBlock is returned when resizing a block that does not exist.
var ErrNoBlock = errors.New("no such block")

// Store is a collection of named blocks.
type Store interface {
	// CreateBlock creates a block with size record slots. Returns
	// ErrBlockExists if the name is already in use.
	CreateBlock(level PersistenceLevel, name string, size int) (Block, error)

	// GetBlock returns the named block, or false if it does not exist.
	GetBlock(name string) (Block, bool)

	// ResizeBlock grows or shrinks the named block. Shrinking discards
	// records at indexes >= size.
	ResizeBlock(name string, size int) error

	// Begin opens a scope spanning any of the store's blocks. Writes are
	// buffered until Commit and applied all-or-nothing.
	Begin() Scope

	// Close releases the underlying resources.
	Close() error
}

// Block is a fixed-capacity run of record slots.
type Block interface {
	Name() string
	Size() int

	// Get returns the record at index, or false if the slot is empty.
	Get(index int) (Record, bool)

	// GetAll returns every populated slot, keyed by index. Used on
	// startup to rebuild in-memory state.
	GetAll() map[int]Record
}

// Scope buffers writes across blocks until committed. Components may share
// one scope: the ledger and the outcome registry both enlist their writes
// and the outermost caller commits exactly once.
type Scope interface {
	// Set stages a field write at the given block index.
	Set(b Block, index int, field string, value any)

	// Clear stages removal of the record at the given block index.
	Clear(b Block, index int)

	// OnCommit registers a callback invoked after a successful Commit.
	// Components use this to publish staged state to in-memory mirrors
	// only once it is durable.
	OnCommit(fn func())

	// Commit applies all staged writes atomically. After Commit the
	// scope must not be reused.
	Commit() error

	// Rollback discards all staged writes.
	Rollback()
}

// Update is a convenience for a single-block, single-slot write set that
// opens, populates and commits its own scope.
func Update(s Store, b Block, index int, fields Record) error {
	scope := s.Begin()
	for field, value := range fields {
		scope.Set(b, index, field, value)
	}
	return scope.Commit()
}
