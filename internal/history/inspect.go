package history

import (
	"fmt"
	"sort"

	"github.com/spinframe/gameround/internal/storage"
)

// Snapshot reads every round log out of a store without opening a ledger
// over it, ordered oldest first. Inspection tooling uses this against
// stores written by another process; unlike NewLedger it never resizes
// the ring or takes ownership of the current record.
func Snapshot(store storage.Store) ([]*RoundLog, error) {
	block, ok := store.GetBlock(blockName)
	if !ok {
		return nil, fmt.Errorf("store has no round history block")
	}
	logs := make([]*RoundLog, 0, block.Size())
	for index, rec := range block.GetAll() {
		lg, err := decodeRoundLog(rec)
		if err != nil {
			return nil, fmt.Errorf("history slot %d: %w", index, err)
		}
		logs = append(logs, lg)
	}
	sort.Slice(logs, func(i, j int) bool {
		return logs[i].LogSequence < logs[j].LogSequence
	})
	return logs, nil
}
