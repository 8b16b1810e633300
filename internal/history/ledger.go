// Package history maintains the durable game-round ledger: a fixed
// capacity ring of round logs with a single current record, mutated only
// inside storage scopes so no reader ever observes an uncommitted round.
package history

import (
	"errors"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"github.com/google/uuid"

	"github.com/spinframe/gameround/internal/bank"
	"github.com/spinframe/gameround/internal/ids"
	"github.com/spinframe/gameround/internal/properties"
	"github.com/spinframe/gameround/internal/storage"
)

const (
	blockName = "gameRoundHistory"

	// logSequenceKind keys the per-type log sequence allocation.
	logSequenceKind = "gameRoundLog"

	// DefaultMaxEntries is the ring capacity when not configured.
	DefaultMaxEntries = 100
)

// ErrNoCurrentRound is returned by mutators when no round is active.
var ErrNoCurrentRound = errors.New("no current round")

// Ledger owns the round history ring. All mutating operations are no-ops
// while a diagnostics replay is active, preserving production history.
type Ledger struct {
	mu     sync.Mutex
	logger *log.Logger
	store  storage.Store
	block  storage.Block
	ids    ids.Provider
	bank   bank.Bank
	props  properties.Store
	clock  quartz.Clock

	maxEntries int
	cursor     int
	current    *RoundLog
	logs       map[int]*RoundLog

	// reuseSequence is set after a failed round whose history slot is
	// reclaimed: the next round keeps the failed round's log sequence so
	// the audit numbering has no gap for a record that no longer exists.
	reuseSequence bool
	lastSequence  uint64

	// queued annotations handed off to the record when the round ends.
	queuedEvents []string
}

// NewLedger opens (or creates) the history block and rebuilds the
// in-memory mirror, determining the current record and whether the prior
// round closed cleanly.
func NewLedger(logger *log.Logger, store storage.Store, provider ids.Provider, bnk bank.Bank, props properties.Store, clock quartz.Clock) (*Ledger, error) {
	maxEntries := props.GetInt(properties.MaxHistoryEntries, DefaultMaxEntries)
	if maxEntries < 1 {
		return nil, fmt.Errorf("history ring needs at least one entry, got %d", maxEntries)
	}

	level := storage.Critical
	if props.GetBool(properties.DemonstrationMode, false) {
		level = storage.Transient
	}
	block, ok := store.GetBlock(blockName)
	if !ok {
		created, err := store.CreateBlock(level, blockName, maxEntries)
		if err != nil {
			return nil, fmt.Errorf("create history block: %w", err)
		}
		block = created
	} else if block.Size() != maxEntries {
		if err := store.ResizeBlock(blockName, maxEntries); err != nil {
			return nil, fmt.Errorf("resize history block: %w", err)
		}
	}

	led := &Ledger{
		logger:     logger.WithPrefix("ledger"),
		store:      store,
		block:      block,
		ids:        provider,
		bank:       bnk,
		props:      props,
		clock:      clock,
		maxEntries: maxEntries,
		logs:       make(map[int]*RoundLog),
	}
	if err := led.load(); err != nil {
		return nil, err
	}
	return led, nil
}

func (l *Ledger) load() error {
	for index, rec := range l.block.GetAll() {
		lg, err := decodeRoundLog(rec)
		if err != nil {
			return fmt.Errorf("load history slot %d: %w", index, err)
		}
		l.logs[index] = lg
		if l.current == nil || lg.TransactionID > l.current.TransactionID {
			l.current = lg
		}
		if lg.LogSequence > l.lastSequence {
			l.lastSequence = lg.LogSequence
		}
	}
	if l.current == nil {
		return nil
	}

	l.cursor = l.current.StorageIndex
	if l.current.PlayState == Idle {
		if l.keepFailed() || l.current.Result != ResultFailed {
			// Prior round closed cleanly; write the next one to the
			// following slot.
			l.cursor = (l.cursor + 1) % l.maxEntries
		} else {
			// Failed round whose slot is reclaimed by the next round.
			l.reuseSequence = true
		}
	}
	l.logger.Debug("history loaded",
		"entries", len(l.logs),
		"currentTransaction", l.current.TransactionID,
		"playState", l.current.PlayState,
	)
	return nil
}

func (l *Ledger) keepFailed() bool {
	return l.props.GetBool(properties.KeepFailedOutcomes, false)
}

func (l *Ledger) replaying() bool {
	return l.props.GetBool(properties.ReplayActive, false)
}

// MaxEntries returns the ring capacity.
func (l *Ledger) MaxEntries() int { return l.maxEntries }

// Current returns a copy of the current round log, or nil when the ledger
// is empty.
func (l *Ledger) Current() *RoundLog {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current.Copy()
}

// CurrentTransactionID returns the current record's transaction id, or
// zero when the ledger is empty.
func (l *Ledger) CurrentTransactionID() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.current == nil {
		return 0
	}
	return l.current.TransactionID
}

// GetByIndex returns a copy of the record at the given ring slot.
func (l *Ledger) GetByIndex(index int) (*RoundLog, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lg, ok := l.logs[index]
	if !ok {
		return nil, false
	}
	return lg.Copy(), true
}

// Logs returns copies of all records ordered oldest first.
func (l *Ledger) Logs() []*RoundLog {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*RoundLog, 0, len(l.logs))
	for i := 0; i < l.maxEntries; i++ {
		// Walk forward from the slot after the cursor so the oldest
		// surviving record comes first.
		if lg, ok := l.logs[(l.cursor+1+i)%l.maxEntries]; ok {
			out = append(out, lg.Copy())
		}
	}
	return out
}

// IsRecoveryNeeded reports whether the current record was mid-round when
// the process last stopped.
func (l *Ledger) IsRecoveryNeeded() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current != nil && !l.current.StartTime.IsZero() && l.current.PlayState != Idle
}

// Escrow creates the current record for a new round (or updates it when
// the round is already escrowed) and snapshots the wallet balance.
func (l *Ledger) Escrow(wager uint64, recoveryBlob []byte, jackpot []JackpotInfo) error {
	return l.beginRound(PrimaryGameEscrow, wager, recoveryBlob, jackpot)
}

// Start creates the current record for a round with no outcome request
// (or promotes an escrowed record to started).
func (l *Ledger) Start(wager uint64, recoveryBlob []byte, jackpot []JackpotInfo) error {
	return l.beginRound(PrimaryGameStarted, wager, recoveryBlob, jackpot)
}

func (l *Ledger) beginRound(state PlayState, wager uint64, recoveryBlob []byte, jackpot []JackpotInfo) error {
	if l.replaying() {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.current != nil && l.current.PlayState == PrimaryGameEscrow && l.current.StorageIndex == l.cursor {
		// Idempotent re-entry: the round is already escrowed, refresh it.
		return l.mutateLocked(func(lg *RoundLog) {
			lg.PlayState = state
			lg.InitialWager = wager
			lg.FinalWager = wager
			lg.RecoveryBlob = recoveryBlob
			lg.Jackpot = jackpot
		})
	}

	sequence := l.lastSequence
	if !l.reuseSequence {
		next, err := l.ids.NextLogSequence(logSequenceKind)
		if err != nil {
			return fmt.Errorf("allocate log sequence: %w", err)
		}
		sequence = next
	}
	transactionID, err := l.ids.NextTransactionID()
	if err != nil {
		return fmt.Errorf("allocate transaction id: %w", err)
	}
	now := l.clock.Now()
	lg := &RoundLog{
		TransactionID:   transactionID,
		LogSequence:     sequence,
		StorageIndex:    l.cursor,
		PlayState:       state,
		Result:          ResultPending,
		InitialWager:    wager,
		FinalWager:      wager,
		StartCredits:    l.bank.Balance(),
		StartTime:       now,
		LastUpdate:      now,
		LastCommitIndex: -1,
		FreeGameIndex:   -1,
		RecoveryBlob:    recoveryBlob,
		Jackpot:         jackpot,
	}

	scope := l.store.Begin()
	if err := lg.stage(scope, l.block); err != nil {
		scope.Rollback()
		return err
	}
	scope.OnCommit(func() {
		l.current = lg
		l.logs[lg.StorageIndex] = lg
		l.lastSequence = sequence
		l.reuseSequence = false
	})
	if err := scope.Commit(); err != nil {
		return fmt.Errorf("begin round: %w", err)
	}
	return nil
}

// Fail finalizes the current record after a failed outcome request. The
// ring only rotates when failed outcomes are retained by policy;
// otherwise the next round overwrites the slot and reuses the sequence.
func (l *Ledger) Fail() error {
	if l.replaying() {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	err := l.mutateLocked(func(lg *RoundLog) {
		lg.PlayState = Idle
		lg.Result = ResultFailed
		lg.FinalWager = 0
		lg.EndTime = l.clock.Now()
	})
	if err != nil {
		return err
	}
	if l.keepFailed() {
		l.cursor = (l.cursor + 1) % l.maxEntries
	} else {
		l.reuseSequence = true
	}
	return nil
}

// End finalizes the current record: captures end credits and time,
// flushes any open free game, hands off queued annotations and rotates to
// the next ring slot.
func (l *Ledger) End() error {
	if l.replaying() {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	queued := l.queuedEvents
	l.queuedEvents = nil
	err := l.mutateLocked(func(lg *RoundLog) {
		flushOpenFreeGame(lg, l.bank.Balance())
		lg.Events = append(lg.Events, queued...)
		lg.PlayState = Idle
		lg.Result = ResultCompleted
		lg.EndCredits = l.bank.Balance()
		lg.EndTime = l.clock.Now()
	})
	if err != nil {
		return err
	}
	l.cursor = (l.cursor + 1) % l.maxEntries
	return nil
}

// SetPlayState persists a phase change of the current round.
func (l *Ledger) SetPlayState(state PlayState) error {
	return l.mutate(func(lg *RoundLog) { lg.PlayState = state })
}

// AppendOutcomes appends outcome records to the current round inside the
// given scope. A nil scope opens and commits one locally. The outcome
// registry shares its response scope here so the round log and the
// transaction record commit together.
func (l *Ledger) AppendOutcomes(scope storage.Scope, outcomes []Outcome) error {
	if l.replaying() {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.current == nil {
		return ErrNoCurrentRound
	}

	clone := l.current.clone()
	clone.Outcomes = append(clone.Outcomes, outcomes...)
	clone.LastUpdate = l.clock.Now()

	if scope == nil {
		own := l.store.Begin()
		if err := clone.stage(own, l.block); err != nil {
			own.Rollback()
			return err
		}
		own.OnCommit(func() { l.install(clone) })
		if err := own.Commit(); err != nil {
			return fmt.Errorf("append outcomes: %w", err)
		}
		return nil
	}

	if err := clone.stage(scope, l.block); err != nil {
		return err
	}
	// The outer commit happens after this call returns, so the install
	// must take the ledger lock itself.
	scope.OnCommit(func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.install(clone)
	})
	return nil
}

// AdditionalWager adds to the round's final wager (mid-round bet raise).
func (l *Ledger) AdditionalWager(amount uint64) error {
	return l.mutate(func(lg *RoundLog) { lg.FinalWager += amount })
}

// IncrementUncommittedWin accrues win that has been presented but not yet
// committed to the credit meter.
func (l *Ledger) IncrementUncommittedWin(amount uint64) error {
	return l.mutate(func(lg *RoundLog) { lg.UncommittedWin += amount })
}

// CommitWin folds accrued uncommitted win into the initial win.
func (l *Ledger) CommitWin() error {
	return l.mutate(func(lg *RoundLog) {
		lg.InitialWin += lg.UncommittedWin
		lg.UncommittedWin = 0
	})
}

// EndPrimaryGame records the primary game's win.
func (l *Ledger) EndPrimaryGame(win uint64) error {
	return l.mutate(func(lg *RoundLog) {
		lg.InitialWin = win
		lg.FinalWin = win
	})
}

// SecondaryGameChoice annotates that a secondary game was offered.
func (l *Ledger) SecondaryGameChoice() error {
	return l.mutate(func(lg *RoundLog) {
		lg.Events = append(lg.Events, "secondary game offered")
	})
}

// SecondaryGameStart records the secondary stake.
func (l *Ledger) SecondaryGameStart(stake uint64) error {
	return l.mutate(func(lg *RoundLog) { lg.SecondaryWager += stake })
}

// SecondaryGameEnd records the secondary win and recomputes the final win.
func (l *Ledger) SecondaryGameEnd(win uint64) error {
	return l.mutate(func(lg *RoundLog) {
		lg.SecondaryWin += win
		lg.FinalWin = lg.InitialWin + lg.GameWinBonus + lg.SecondaryWin
	})
}

// Results records the final win for the round.
func (l *Ledger) Results(finalWin uint64) error {
	return l.mutate(func(lg *RoundLog) { lg.FinalWin = finalWin })
}

// AddGameWinBonus adds a bonus award on top of the game win.
func (l *Ledger) AddGameWinBonus(amount uint64) error {
	return l.mutate(func(lg *RoundLog) {
		lg.GameWinBonus += amount
		lg.FinalWin += amount
	})
}

// PayResults records that the round's results were paid.
func (l *Ledger) PayResults() error {
	return l.mutate(func(lg *RoundLog) {
		lg.Events = append(lg.Events, fmt.Sprintf("paid %d", lg.FinalWin))
	})
}

// AppendGameRoundEventInfo attaches a textual annotation to the current
// round, or queues it for the next finalization when no round is active.
func (l *Ledger) AppendGameRoundEventInfo(text string) error {
	if l.replaying() {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.current == nil || l.current.PlayState == Idle {
		l.queuedEvents = append(l.queuedEvents, text)
		return nil
	}
	return l.mutateLocked(func(lg *RoundLog) {
		lg.Events = append(lg.Events, text)
	})
}

// AppendJackpotInfo records a progressive hit against the round.
func (l *Ledger) AppendJackpotInfo(info JackpotInfo) error {
	return l.mutate(func(lg *RoundLog) { lg.Jackpot = append(lg.Jackpot, info) })
}

// AppendCashOutInfo records a cash-out with a fresh trace id and returns
// the id for later completion.
func (l *Ledger) AppendCashOutInfo(reason string, amount uint64) (uuid.UUID, error) {
	traceID := uuid.New()
	err := l.mutate(func(lg *RoundLog) {
		lg.CashOuts = append(lg.CashOuts, CashOutInfo{
			Reason:  reason,
			Amount:  amount,
			TraceID: traceID,
		})
	})
	if err != nil {
		return uuid.Nil, err
	}
	return traceID, nil
}

// CompleteCashOut marks a previously recorded cash-out complete.
func (l *Ledger) CompleteCashOut(traceID uuid.UUID) error {
	return l.mutate(func(lg *RoundLog) {
		for i := range lg.CashOuts {
			if lg.CashOuts[i].TraceID == traceID {
				lg.CashOuts[i].Complete = true
				return
			}
		}
	})
}

// AppendMeterSnapshots captures meter values against the round.
func (l *Ledger) AppendMeterSnapshots(snapshots []MeterSnapshot) error {
	return l.mutate(func(lg *RoundLog) {
		lg.MeterSnapshots = append(lg.MeterSnapshots, snapshots...)
	})
}

// LogFatalError records the cause of a fatal round error.
func (l *Ledger) LogFatalError(code string) error {
	return l.mutate(func(lg *RoundLog) { lg.ErrorCode = code })
}

// ClearForRecovery drops game-supplied resume data once recovery has
// completed.
func (l *Ledger) ClearForRecovery() error {
	return l.mutate(func(lg *RoundLog) { lg.RecoveryBlob = nil })
}

// SetRecoveryBlob replaces the game-supplied resume data.
func (l *Ledger) SetRecoveryBlob(blob []byte) error {
	return l.mutate(func(lg *RoundLog) { lg.RecoveryBlob = blob })
}

// StartFreeGame opens a new free-game sub-round, or no-ops when one is
// already open (idempotent re-entry during recovery replay).
func (l *Ledger) StartFreeGame() error {
	return l.mutate(func(lg *RoundLog) {
		if lg.FreeGameIndex > lg.LastCommitIndex && lg.FreeGameIndex < len(lg.FreeGames) {
			// An uncommitted sub-round is already open.
			return
		}
		lg.FreeGames = append(lg.FreeGames, FreeGame{
			StartCredits: l.bank.Balance(),
			Result:       ResultPending,
		})
		lg.FreeGameIndex = len(lg.FreeGames) - 1
	})
}

// FreeGameResults accumulates win into the open free-game sub-round.
func (l *Ledger) FreeGameResults(win uint64) error {
	return l.mutate(func(lg *RoundLog) {
		if lg.FreeGameIndex <= lg.LastCommitIndex || lg.FreeGameIndex >= len(lg.FreeGames) {
			return
		}
		lg.FreeGames[lg.FreeGameIndex].Win += win
	})
}

// EndFreeGame finalizes the open sub-round and advances the commit
// watermark. Re-entry after the watermark has advanced is a no-op, which
// is what prevents a recovery replay from paying a sub-round twice.
func (l *Ledger) EndFreeGame() error {
	return l.mutate(func(lg *RoundLog) {
		if lg.FreeGameIndex <= lg.LastCommitIndex || lg.FreeGameIndex >= len(lg.FreeGames) {
			return
		}
		fg := &lg.FreeGames[lg.FreeGameIndex]
		fg.EndCredits = l.bank.Balance()
		fg.Result = ResultCompleted
		lg.FinalWin += fg.Win
		lg.LastCommitIndex = lg.FreeGameIndex
	})
}

// AssociateTransactions attaches credit-movement references to the round,
// partitioned by sub-round, and recomputes the round's amount-out total.
// The currency-in tracker is reset as a side effect: its amount has been
// consumed into this round.
func (l *Ledger) AssociateTransactions(refs []TransactionRef) error {
	err := l.mutate(func(lg *RoundLog) {
		lg.Transactions = append(lg.Transactions, refs...)
		var out uint64
		for _, ref := range lg.Transactions {
			out += ref.AmountOut
		}
		lg.AmountOut = out
	})
	if err != nil {
		return err
	}
	l.bank.ResetCurrencyIn()
	return nil
}

// mutate applies fn to a clone of the current record, persists it, and
// installs the clone into the mirror only after the commit succeeds.
func (l *Ledger) mutate(fn func(*RoundLog)) error {
	if l.replaying() {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.mutateLocked(fn)
}

func (l *Ledger) mutateLocked(fn func(*RoundLog)) error {
	if l.current == nil {
		return ErrNoCurrentRound
	}
	clone := l.current.clone()
	fn(clone)
	clone.LastUpdate = l.clock.Now()

	scope := l.store.Begin()
	if err := clone.stage(scope, l.block); err != nil {
		scope.Rollback()
		return err
	}
	scope.OnCommit(func() { l.install(clone) })
	if err := scope.Commit(); err != nil {
		return fmt.Errorf("persist round log %d: %w", clone.TransactionID, err)
	}
	return nil
}

func (l *Ledger) install(lg *RoundLog) {
	if l.current != nil && lg.TransactionID < l.current.TransactionID {
		// A newer round committed while this write was staged.
		l.logs[lg.StorageIndex] = lg
		return
	}
	l.current = lg
	l.logs[lg.StorageIndex] = lg
}

func flushOpenFreeGame(lg *RoundLog, balance uint64) {
	if lg.FreeGameIndex <= lg.LastCommitIndex || lg.FreeGameIndex >= len(lg.FreeGames) {
		return
	}
	fg := &lg.FreeGames[lg.FreeGameIndex]
	fg.EndCredits = balance
	fg.Result = ResultCompleted
	lg.FinalWin += fg.Win
	lg.LastCommitIndex = lg.FreeGameIndex
}
