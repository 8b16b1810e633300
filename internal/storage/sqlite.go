package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite"
)

// SqliteStore persists blocks in a SQLite database. Field values are
// JSON-encoded; numbers are decoded back via json.Number so 64-bit
// transaction ids survive the round trip.
type SqliteStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	blocks map[string]*sqliteBlock
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS blocks (
	name  TEXT PRIMARY KEY,
	level INTEGER NOT NULL,
	size  INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS fields (
	block TEXT NOT NULL,
	idx   INTEGER NOT NULL,
	field TEXT NOT NULL,
	value TEXT NOT NULL,
	PRIMARY KEY (block, idx, field)
);
`

// OpenSqlite opens (or creates) a SQLite-backed store at path.
func OpenSqlite(path string) (*SqliteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=FULL"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	ss := &SqliteStore{db: db, blocks: make(map[string]*sqliteBlock)}
	rows, err := db.Query(`SELECT name, level, size FROM blocks`)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("load blocks: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		var level, size int
		if err := rows.Scan(&name, &level, &size); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("scan block: %w", err)
		}
		ss.blocks[name] = &sqliteBlock{store: ss, name: name, level: PersistenceLevel(level), size: size}
	}
	if err := rows.Err(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("load blocks: %w", err)
	}
	return ss, nil
}

// CreateBlock implements Store.
func (ss *SqliteStore) CreateBlock(level PersistenceLevel, name string, size int) (Block, error) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	if _, ok := ss.blocks[name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrBlockExists, name)
	}
	if _, err := ss.db.Exec(`INSERT INTO blocks (name, level, size) VALUES (?, ?, ?)`, name, int(level), size); err != nil {
		return nil, fmt.Errorf("create block %s: %w", name, err)
	}
	b := &sqliteBlock{store: ss, name: name, level: level, size: size}
	ss.blocks[name] = b
	return b, nil
}

// GetBlock implements Store.
func (ss *SqliteStore) GetBlock(name string) (Block, bool) {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	b, ok := ss.blocks[name]
	return b, ok
}

// ResizeBlock implements Store.
func (ss *SqliteStore) ResizeBlock(name string, size int) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	b, ok := ss.blocks[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoBlock, name)
	}
	tx, err := ss.db.Begin()
	if err != nil {
		return fmt.Errorf("resize block %s: %w", name, err)
	}
	if _, err := tx.Exec(`DELETE FROM fields WHERE block = ? AND idx >= ?`, name, size); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("resize block %s: %w", name, err)
	}
	if _, err := tx.Exec(`UPDATE blocks SET size = ? WHERE name = ?`, size, name); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("resize block %s: %w", name, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", ErrCommitFailed, err)
	}
	b.size = size
	return nil
}

// Begin implements Store.
func (ss *SqliteStore) Begin() Scope {
	return &sqliteScope{store: ss}
}

// Close implements Store.
func (ss *SqliteStore) Close() error { return ss.db.Close() }

type sqliteBlock struct {
	store *SqliteStore
	name  string
	level PersistenceLevel
	size  int
}

func (b *sqliteBlock) Name() string { return b.name }

func (b *sqliteBlock) Size() int {
	b.store.mu.RLock()
	defer b.store.mu.RUnlock()
	return b.size
}

func (b *sqliteBlock) Get(index int) (Record, bool) {
	rows, err := b.store.db.Query(`SELECT field, value FROM fields WHERE block = ? AND idx = ?`, b.name, index)
	if err != nil {
		return nil, false
	}
	defer rows.Close()
	rec := make(Record)
	for rows.Next() {
		var field, value string
		if err := rows.Scan(&field, &value); err != nil {
			return nil, false
		}
		rec[field] = decodeValue(value)
	}
	if len(rec) == 0 {
		return nil, false
	}
	return rec, true
}

func (b *sqliteBlock) GetAll() map[int]Record {
	out := make(map[int]Record)
	rows, err := b.store.db.Query(`SELECT idx, field, value FROM fields WHERE block = ?`, b.name)
	if err != nil {
		return out
	}
	defer rows.Close()
	for rows.Next() {
		var idx int
		var field, value string
		if err := rows.Scan(&idx, &field, &value); err != nil {
			return out
		}
		rec, ok := out[idx]
		if !ok {
			rec = make(Record)
			out[idx] = rec
		}
		rec[field] = decodeValue(value)
	}
	return out
}

type sqliteWrite struct {
	block string
	index int
	field string
	value string
	clear bool
}

type sqliteScope struct {
	store    *SqliteStore
	writes   []sqliteWrite
	onCommit []func()
	done     bool
}

func (s *sqliteScope) Set(b Block, index int, field string, value any) {
	encoded, err := json.Marshal(value)
	if err != nil {
		// Field values are plain scalars and blobs; a marshal failure
		// is a programming error surfaced at commit time.
		encoded = []byte("null")
	}
	s.writes = append(s.writes, sqliteWrite{block: b.Name(), index: index, field: field, value: string(encoded)})
}

func (s *sqliteScope) Clear(b Block, index int) {
	s.writes = append(s.writes, sqliteWrite{block: b.Name(), index: index, clear: true})
}

func (s *sqliteScope) Commit() error {
	if s.done {
		return fmt.Errorf("%w: scope already finished", ErrCommitFailed)
	}
	s.done = true

	tx, err := s.store.db.Begin()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCommitFailed, err)
	}
	for _, w := range s.writes {
		if w.clear {
			_, err = tx.Exec(`DELETE FROM fields WHERE block = ? AND idx = ?`, w.block, w.index)
		} else {
			_, err = tx.Exec(
				`INSERT INTO fields (block, idx, field, value) VALUES (?, ?, ?, ?)
				 ON CONFLICT (block, idx, field) DO UPDATE SET value = excluded.value`,
				w.block, w.index, w.field, w.value)
		}
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("%w: %v", ErrCommitFailed, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", ErrCommitFailed, err)
	}
	for _, fn := range s.onCommit {
		fn()
	}
	return nil
}

func (s *sqliteScope) OnCommit(fn func()) {
	s.onCommit = append(s.onCommit, fn)
}

func (s *sqliteScope) Rollback() {
	s.done = true
	s.writes = nil
}

func decodeValue(encoded string) any {
	dec := json.NewDecoder(strings.NewReader(encoded))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return encoded
	}
	return v
}
