// Package ids allocates the monotonic identifiers stamped onto round
// history and outcome transactions: a globally ordered transaction id and
// a per-record-type log sequence.
package ids

import (
	"fmt"
	"sync"

	"github.com/spinframe/gameround/internal/storage"
)

// Provider allocates globally ordered identifiers. Allocation fails when
// the watermark cannot be persisted; callers must treat that as fatal for
// the operation in progress.
type Provider interface {
	// NextTransactionID returns the next globally monotonic transaction id.
	NextTransactionID() (uint64, error)

	// NextLogSequence returns the next monotonic sequence number for the
	// given record kind.
	NextLogSequence(kind string) (uint64, error)
}

const blockName = "identifiers"

const fieldTransactionID = "transaction_id"

// StoreProvider persists its watermarks in a critical block so allocation
// survives power loss without ever reissuing an id.
type StoreProvider struct {
	mu    sync.Mutex
	store storage.Store
	block storage.Block

	transactionID uint64
	sequences     map[string]uint64
}

// NewStoreProvider loads (or creates) the identifier block.
func NewStoreProvider(store storage.Store) (*StoreProvider, error) {
	block, ok := store.GetBlock(blockName)
	if !ok {
		created, err := store.CreateBlock(storage.Critical, blockName, 1)
		if err != nil {
			return nil, fmt.Errorf("create identifier block: %w", err)
		}
		block = created
	}

	p := &StoreProvider{store: store, block: block, sequences: make(map[string]uint64)}
	if rec, ok := block.Get(0); ok {
		p.transactionID = storage.Uint64(rec, fieldTransactionID)
		for field := range rec {
			if field == fieldTransactionID {
				continue
			}
			p.sequences[field] = storage.Uint64(rec, field)
		}
	}
	return p, nil
}

// NextTransactionID implements Provider. The watermark only advances
// once it is durable; an unpersisted watermark would reissue ids after
// power loss.
func (p *StoreProvider) NextTransactionID() (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	next := p.transactionID + 1
	if err := storage.Update(p.store, p.block, 0, storage.Record{fieldTransactionID: next}); err != nil {
		return 0, fmt.Errorf("persist transaction id: %w", err)
	}
	p.transactionID = next
	return next, nil
}

// NextLogSequence implements Provider.
func (p *StoreProvider) NextLogSequence(kind string) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	next := p.sequences[kind] + 1
	if err := storage.Update(p.store, p.block, 0, storage.Record{kind: next}); err != nil {
		return 0, fmt.Errorf("persist log sequence %s: %w", kind, err)
	}
	p.sequences[kind] = next
	return next, nil
}
