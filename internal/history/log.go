package history

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/spinframe/gameround/internal/storage"
)

// Outcome is one opaque result record produced by outcome determination.
// The lookup data is game-supplied and not interpreted by this layer.
type Outcome struct {
	ID         uint64 `json:"id"`
	Kind       string `json:"kind"`
	Value      int64  `json:"value"`
	LookupData []byte `json:"lookupData,omitempty"`
}

// TransactionRef associates one credit movement with the round. SubRound
// is the free-game index the movement belongs to, or MainSubRound for the
// base game.
type TransactionRef struct {
	TransactionID uint64 `json:"transactionId"`
	SubRound      int    `json:"subRound"`
	AmountIn      uint64 `json:"amountIn"`
	AmountOut     uint64 `json:"amountOut"`
}

// MainSubRound tags a transaction reference belonging to the base game
// rather than a free-game sub-round.
const MainSubRound = -1

// CashOutInfo records one cash-out issued during the round.
type CashOutInfo struct {
	Reason   string    `json:"reason"`
	Amount   uint64    `json:"amount"`
	TraceID  uuid.UUID `json:"traceId"`
	Complete bool      `json:"complete"`
}

// FreeGame is one free-game sub-round snapshot.
type FreeGame struct {
	StartCredits uint64 `json:"startCredits"`
	EndCredits   uint64 `json:"endCredits"`
	Win          uint64 `json:"win"`
	Result       Result `json:"result"`
}

// JackpotInfo is one progressive level snapshot or hit.
type JackpotInfo struct {
	LevelID uint32 `json:"levelId"`
	Amount  uint64 `json:"amount"`
}

// MeterSnapshot captures one meter value at a round boundary.
type MeterSnapshot struct {
	Name  string `json:"name"`
	Value uint64 `json:"value"`
}

// RoundLog is the durable record of one game round. The ledger owns all
// instances; other components only read copies handed out by it.
type RoundLog struct {
	TransactionID uint64 `json:"transactionId"`
	LogSequence   uint64 `json:"logSequence"`
	StorageIndex  int    `json:"storageIndex"`

	InitialWager   uint64 `json:"initialWager"`
	FinalWager     uint64 `json:"finalWager"`
	PromoWager     uint64 `json:"promoWager"`
	SecondaryWager uint64 `json:"secondaryWager"`
	InitialWin     uint64 `json:"initialWin"`
	FinalWin       uint64 `json:"finalWin"`
	SecondaryWin   uint64 `json:"secondaryWin"`
	UncommittedWin uint64 `json:"uncommittedWin"`
	GameWinBonus   uint64 `json:"gameWinBonus"`
	AmountOut      uint64 `json:"amountOut"`

	PlayState PlayState `json:"playState"`
	Result    Result    `json:"result"`
	ErrorCode string    `json:"errorCode,omitempty"`

	// LastCommitIndex is the free-game commit watermark: the highest
	// sub-round index whose results have been committed. It is the sole
	// guard against double-committing a sub-round during recovery replay.
	LastCommitIndex int `json:"lastCommitIndex"`
	FreeGameIndex   int `json:"freeGameIndex"`

	StartCredits uint64 `json:"startCredits"`
	EndCredits   uint64 `json:"endCredits"`

	StartTime  time.Time `json:"startTime"`
	EndTime    time.Time `json:"endTime"`
	LastUpdate time.Time `json:"lastUpdate"`

	Transactions   []TransactionRef `json:"transactions,omitempty"`
	CashOuts       []CashOutInfo    `json:"cashOuts,omitempty"`
	Outcomes       []Outcome        `json:"outcomes,omitempty"`
	Jackpot        []JackpotInfo    `json:"jackpot,omitempty"`
	FreeGames      []FreeGame       `json:"freeGames,omitempty"`
	MeterSnapshots []MeterSnapshot  `json:"meterSnapshots,omitempty"`
	Events         []string         `json:"events,omitempty"`
	RecoveryBlob   []byte           `json:"recoveryBlob,omitempty"`
}

// Storage field names for a round log slot.
const (
	fieldData          = "data"
	fieldTransactionID = "transaction_id"
)

func (lg *RoundLog) clone() *RoundLog {
	out := *lg
	out.Transactions = append([]TransactionRef(nil), lg.Transactions...)
	out.CashOuts = append([]CashOutInfo(nil), lg.CashOuts...)
	out.Outcomes = append([]Outcome(nil), lg.Outcomes...)
	out.Jackpot = append([]JackpotInfo(nil), lg.Jackpot...)
	out.FreeGames = append([]FreeGame(nil), lg.FreeGames...)
	out.MeterSnapshots = append([]MeterSnapshot(nil), lg.MeterSnapshots...)
	out.Events = append([]string(nil), lg.Events...)
	out.RecoveryBlob = append([]byte(nil), lg.RecoveryBlob...)
	return &out
}

// Copy returns an independent copy safe to hand to event subscribers.
func (lg *RoundLog) Copy() *RoundLog {
	if lg == nil {
		return nil
	}
	return lg.clone()
}

func (lg *RoundLog) stage(scope storage.Scope, block storage.Block) error {
	data, err := json.Marshal(lg)
	if err != nil {
		return fmt.Errorf("encode round log %d: %w", lg.TransactionID, err)
	}
	scope.Set(block, lg.StorageIndex, fieldData, string(data))
	scope.Set(block, lg.StorageIndex, fieldTransactionID, lg.TransactionID)
	return nil
}

func decodeRoundLog(rec storage.Record) (*RoundLog, error) {
	data := storage.Bytes(rec, fieldData)
	if len(data) == 0 {
		return nil, fmt.Errorf("round log record has no data field")
	}
	var lg RoundLog
	if err := json.Unmarshal(data, &lg); err != nil {
		return nil, fmt.Errorf("decode round log: %w", err)
	}
	return &lg, nil
}
