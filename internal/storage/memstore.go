package storage

import (
	"fmt"
	"sync"
)

// MemStore is an in-memory Store used for demonstration mode and tests.
// It honours the same scope semantics as the durable backends: staged
// writes are invisible to readers until Commit.
type MemStore struct {
	mu     sync.RWMutex
	blocks map[string]*memBlock

	// failCommits, when set, makes every Commit fail. Test hook for
	// storage-failure propagation.
	failCommits error
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{blocks: make(map[string]*memBlock)}
}

// FailCommits makes all subsequent commits return err (nil restores
// normal operation). Only used by tests.
func (ms *MemStore) FailCommits(err error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.failCommits = err
}

// CreateBlock implements Store.
func (ms *MemStore) CreateBlock(level PersistenceLevel, name string, size int) (Block, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if _, ok := ms.blocks[name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrBlockExists, name)
	}
	b := &memBlock{store: ms, name: name, level: level, size: size, slots: make(map[int]Record)}
	ms.blocks[name] = b
	return b, nil
}

// GetBlock implements Store.
func (ms *MemStore) GetBlock(name string) (Block, bool) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	b, ok := ms.blocks[name]
	return b, ok
}

// ResizeBlock implements Store.
func (ms *MemStore) ResizeBlock(name string, size int) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	b, ok := ms.blocks[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoBlock, name)
	}
	for idx := range b.slots {
		if idx >= size {
			delete(b.slots, idx)
		}
	}
	b.size = size
	return nil
}

// Begin implements Store.
func (ms *MemStore) Begin() Scope {
	return &memScope{store: ms}
}

// Close implements Store.
func (ms *MemStore) Close() error { return nil }

type memBlock struct {
	store *MemStore
	name  string
	level PersistenceLevel
	size  int
	slots map[int]Record
}

func (b *memBlock) Name() string { return b.name }

func (b *memBlock) Size() int {
	b.store.mu.RLock()
	defer b.store.mu.RUnlock()
	return b.size
}

func (b *memBlock) Get(index int) (Record, bool) {
	b.store.mu.RLock()
	defer b.store.mu.RUnlock()
	rec, ok := b.slots[index]
	if !ok {
		return nil, false
	}
	return cloneRecord(rec), true
}

func (b *memBlock) GetAll() map[int]Record {
	b.store.mu.RLock()
	defer b.store.mu.RUnlock()
	out := make(map[int]Record, len(b.slots))
	for idx, rec := range b.slots {
		out[idx] = cloneRecord(rec)
	}
	return out
}

type stagedWrite struct {
	block *memBlock
	index int
	field string
	value any
	clear bool
}

type memScope struct {
	store    *MemStore
	writes   []stagedWrite
	onCommit []func()
	done     bool
}

func (s *memScope) Set(b Block, index int, field string, value any) {
	s.writes = append(s.writes, stagedWrite{block: b.(*memBlock), index: index, field: field, value: value})
}

func (s *memScope) Clear(b Block, index int) {
	s.writes = append(s.writes, stagedWrite{block: b.(*memBlock), index: index, clear: true})
}

func (s *memScope) OnCommit(fn func()) {
	s.onCommit = append(s.onCommit, fn)
}

func (s *memScope) Commit() error {
	if s.done {
		return fmt.Errorf("%w: scope already finished", ErrCommitFailed)
	}
	s.done = true

	s.store.mu.Lock()
	if err := s.store.failCommits; err != nil {
		s.store.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrCommitFailed, err)
	}
	for _, w := range s.writes {
		if w.clear {
			delete(w.block.slots, w.index)
			continue
		}
		rec, ok := w.block.slots[w.index]
		if !ok {
			rec = make(Record)
			w.block.slots[w.index] = rec
		}
		rec[w.field] = w.value
	}
	s.store.mu.Unlock()

	for _, fn := range s.onCommit {
		fn()
	}
	return nil
}

func (s *memScope) Rollback() {
	s.done = true
	s.writes = nil
}

func cloneRecord(rec Record) Record {
	out := make(Record, len(rec))
	for k, v := range rec {
		out[k] = v
	}
	return out
}
