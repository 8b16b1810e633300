package outcome

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spinframe/gameround/internal/history"
	"github.com/spinframe/gameround/internal/storage"
)

// State is the lifecycle state of a central outcome transaction.
type State int

const (
	// StateRequested means determination has been dispatched and no
	// response has been applied.
	StateRequested State = iota
	// StateCommitted means outcomes were received and durably stored.
	StateCommitted
	// StateAcknowledged means the game confirmed consuming the outcomes.
	StateAcknowledged
	// StateFailed means the request failed; the round cannot use it.
	StateFailed
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateRequested:
		return "requested"
	case StateCommitted:
		return "committed"
	case StateAcknowledged:
		return "acknowledged"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Exception qualifies how a transaction resolved.
type Exception int

const (
	// ExceptionNone means the request resolved cleanly.
	ExceptionNone Exception = iota
	// ExceptionPending means resolution is still outstanding.
	ExceptionPending
	// ExceptionTimedOut means the owning round was abandoned before a
	// response arrived.
	ExceptionTimedOut
	// ExceptionOther covers host-reported failures.
	ExceptionOther
)

// String returns the string representation of the exception
func (e Exception) String() string {
	switch e {
	case ExceptionNone:
		return "none"
	case ExceptionPending:
		return "pending"
	case ExceptionTimedOut:
		return "timedOut"
	case ExceptionOther:
		return "other"
	}
	return fmt.Sprintf("exception(%d)", int(e))
}

// Transaction is the durable record of one outcome request. Exactly one
// round log is associated via RoundTransactionID.
type Transaction struct {
	TransactionID      uint64 `json:"transactionId"`
	LogSequence        uint64 `json:"logSequence"`
	StorageIndex       int    `json:"storageIndex"`
	RoundTransactionID uint64 `json:"roundTransactionId"`

	GameID        uint32 `json:"gameId"`
	Denom         uint64 `json:"denom"`
	WagerCategory string `json:"wagerCategory"`
	TemplateID    uint32 `json:"templateId"`
	Wager         uint64 `json:"wager"`
	Quantity      int    `json:"quantity"`

	State     State     `json:"state"`
	Exception Exception `json:"exception"`

	Outcomes     []history.Outcome `json:"outcomes,omitempty"`
	Descriptions []string          `json:"descriptions,omitempty"`

	RequestTime time.Time `json:"requestTime"`
}

const (
	fieldData          = "data"
	fieldTransactionID = "transaction_id"
)

// Copy returns an independent copy safe to hand to callbacks.
func (tx *Transaction) Copy() *Transaction {
	if tx == nil {
		return nil
	}
	out := *tx
	out.Outcomes = append([]history.Outcome(nil), tx.Outcomes...)
	out.Descriptions = append([]string(nil), tx.Descriptions...)
	return &out
}

func (tx *Transaction) clone() *Transaction { return tx.Copy() }

func (tx *Transaction) stage(scope storage.Scope, block storage.Block) error {
	data, err := json.Marshal(tx)
	if err != nil {
		return fmt.Errorf("encode outcome transaction %d: %w", tx.TransactionID, err)
	}
	scope.Set(block, tx.StorageIndex, fieldData, string(data))
	scope.Set(block, tx.StorageIndex, fieldTransactionID, tx.TransactionID)
	return nil
}

func decodeTransaction(rec storage.Record) (*Transaction, error) {
	data := storage.Bytes(rec, fieldData)
	if len(data) == 0 {
		return nil, fmt.Errorf("outcome transaction record has no data field")
	}
	var tx Transaction
	if err := json.Unmarshal(data, &tx); err != nil {
		return nil, fmt.Errorf("decode outcome transaction: %w", err)
	}
	return &tx, nil
}
