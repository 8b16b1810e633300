// Package properties provides the typed key/value configuration store
// consumed by the round controller, history ledger and outcome registry.
package properties

import (
	"sync"
	"time"
)

// Well-known property keys.
const (
	// MaxHistoryEntries is the capacity of the round history ring.
	MaxHistoryEntries = "history.maxEntries"

	// MaxOutcomeEntries is the capacity of the central transaction ring.
	// It may differ from the history ring, which is why outcomes are
	// stored redundantly on the round log.
	MaxOutcomeEntries = "outcome.maxEntries"

	// KeepFailedOutcomes retains the history record and central
	// transaction of a failed outcome request instead of reclaiming the
	// slot for the next round.
	KeepFailedOutcomes = "outcome.keepFailed"

	// GameEndDelay is the hold applied in the game-ended state before
	// the round may return to idle.
	GameEndDelay = "round.gameEndDelay"

	// GameEndHold routes the round to presentation-idle instead of idle
	// when the platform wants to hold the end-of-round presentation.
	GameEndHold = "round.gameEndHold"

	// PlayOnDisabledOverride permits starting a round while a
	// non-immediate system disable is active.
	PlayOnDisabledOverride = "round.playOnDisabledOverride"

	// DemonstrationMode selects non-regulated persistence levels.
	DemonstrationMode = "system.demonstrationMode"

	// ReplayActive suppresses all history mutation while a diagnostics
	// replay is running.
	ReplayActive = "system.replayActive"
)

// Store is a typed get/set property store with per-call defaults.
type Store interface {
	GetBool(key string, def bool) bool
	GetInt(key string, def int) int
	GetUint64(key string, def uint64) uint64
	GetDuration(key string, def time.Duration) time.Duration
	GetString(key string, def string) string
	Set(key string, value any)
}

// MemStore is a mutex-guarded in-memory property store.
type MemStore struct {
	mu     sync.RWMutex
	values map[string]any
}

// NewMemStore creates a property store seeded with the given values.
func NewMemStore(seed map[string]any) *MemStore {
	values := make(map[string]any, len(seed))
	for k, v := range seed {
		values[k] = v
	}
	return &MemStore{values: values}
}

// GetBool implements Store.
func (ms *MemStore) GetBool(key string, def bool) bool {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	if v, ok := ms.values[key].(bool); ok {
		return v
	}
	return def
}

// GetInt implements Store.
func (ms *MemStore) GetInt(key string, def int) int {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	switch v := ms.values[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case uint64:
		return int(v)
	}
	return def
}

// GetUint64 implements Store.
func (ms *MemStore) GetUint64(key string, def uint64) uint64 {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	switch v := ms.values[key].(type) {
	case uint64:
		return v
	case int:
		return uint64(v)
	case int64:
		return uint64(v)
	}
	return def
}

// GetDuration implements Store.
func (ms *MemStore) GetDuration(key string, def time.Duration) time.Duration {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	switch v := ms.values[key].(type) {
	case time.Duration:
		return v
	case int64:
		return time.Duration(v)
	}
	return def
}

// GetString implements Store.
func (ms *MemStore) GetString(key string, def string) string {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	if v, ok := ms.values[key].(string); ok {
		return v
	}
	return def
}

// Set implements Store.
func (ms *MemStore) Set(key string, value any) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.values[key] = value
}
