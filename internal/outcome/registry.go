// Package outcome tracks central outcome requests: at most one in flight
// per round, durable transaction records, and recovery matching so a
// restarted round resumes its unresolved request instead of duplicating
// it.
package outcome

import (
	"context"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"

	"github.com/spinframe/gameround/internal/events"
	"github.com/spinframe/gameround/internal/history"
	"github.com/spinframe/gameround/internal/ids"
	"github.com/spinframe/gameround/internal/properties"
	"github.com/spinframe/gameround/internal/storage"
)

const (
	blockName = "centralTransactions"

	logSequenceKind = "centralTransaction"

	// DefaultMaxEntries is the transaction ring capacity when not
	// configured. Deliberately smaller than the history ring.
	DefaultMaxEntries = 50
)

// Request carries the game's determination parameters.
type Request struct {
	Quantity int
}

// PlayRequest is handed to the registered handler for asynchronous
// determination. The handler reports back via Registry.OutcomeResponse.
type PlayRequest struct {
	TransactionID uint64
	GameID        uint32
	Denom         uint64
	WagerCategory string
	TemplateID    uint32
	Wager         uint64
	Quantity      int
	Recovering    bool
}

// Handler performs outcome determination. RequestPlay must not block the
// caller; the registry invokes it on its own goroutine and cancels ctx
// when the request is superseded or abandoned.
type Handler interface {
	RequestPlay(ctx context.Context, req PlayRequest)
}

// Controller receives the registry's notifications to the round
// controller. OutcomesReady reports whether the round accepted the
// outcomes.
type Controller interface {
	OutcomesReady(tx *Transaction) bool
	OutcomeFailure(tx *Transaction)
}

// RoundSink is the slice of the history ledger the registry writes
// through: redundant outcome storage inside the shared commit scope.
type RoundSink interface {
	CurrentTransactionID() uint64
	AppendOutcomes(scope storage.Scope, outcomes []history.Outcome) error
}

type inflight struct {
	transactionID uint64
	cancel        context.CancelFunc
}

// Registry tracks pending and resolved outcome requests.
type Registry struct {
	mu     sync.Mutex
	logger *log.Logger
	store  storage.Store
	block  storage.Block
	ids    ids.Provider
	props  properties.Store
	clock  quartz.Clock
	bus    events.Bus
	rounds RoundSink

	controller Controller
	handler    Handler

	txs    map[int]*Transaction
	cursor int
	active *inflight
}

// NewRegistry opens (or creates) the transaction block and rebuilds the
// in-memory mirror.
func NewRegistry(logger *log.Logger, store storage.Store, provider ids.Provider, props properties.Store, clock quartz.Clock, bus events.Bus, rounds RoundSink) (*Registry, error) {
	maxEntries := props.GetInt(properties.MaxOutcomeEntries, DefaultMaxEntries)
	if maxEntries < 1 {
		return nil, fmt.Errorf("transaction ring needs at least one entry, got %d", maxEntries)
	}

	level := storage.Critical
	if props.GetBool(properties.DemonstrationMode, false) {
		level = storage.Transient
	}
	block, ok := store.GetBlock(blockName)
	if !ok {
		created, err := store.CreateBlock(level, blockName, maxEntries)
		if err != nil {
			return nil, fmt.Errorf("create transaction block: %w", err)
		}
		block = created
	}

	r := &Registry{
		logger: logger.WithPrefix("outcome"),
		store:  store,
		block:  block,
		ids:    provider,
		props:  props,
		clock:  clock,
		bus:    bus,
		rounds: rounds,
		txs:    make(map[int]*Transaction),
	}
	if err := r.load(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) load() error {
	var newest *Transaction
	for index, rec := range r.block.GetAll() {
		tx, err := decodeTransaction(rec)
		if err != nil {
			return fmt.Errorf("load transaction slot %d: %w", index, err)
		}
		r.txs[index] = tx
		if newest == nil || tx.TransactionID > newest.TransactionID {
			newest = tx
		}
	}
	if newest != nil {
		r.cursor = (newest.StorageIndex + 1) % r.block.Size()
	}
	return nil
}

// RegisterHandler installs the determination handler.
func (r *Registry) RegisterHandler(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handler = h
}

// UnregisterHandler removes the determination handler.
func (r *Registry) UnregisterHandler() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handler = nil
}

// SetController installs the round controller notification target. Called
// once at wiring time, before any request is issued.
func (r *Registry) SetController(c Controller) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.controller = c
}

// GetByID returns a copy of the transaction with the given id.
func (r *Registry) GetByID(transactionID uint64) (*Transaction, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx := r.findByIDLocked(transactionID)
	if tx == nil {
		return nil, false
	}
	return tx.Copy(), true
}

// RequestOutcomes issues an outcome request for the current round.
// Returns false, with no state change, when no handler is registered or
// the wager or quantity is zero. Any in-flight request is cancelled
// first. During recovery the existing unresolved transaction for the
// round is resumed (or its resolved result replayed) instead of creating
// a duplicate.
func (r *Registry) RequestOutcomes(gameID uint32, denom uint64, wagerCategory string, templateID uint32, wager uint64, req Request, recovering bool) bool {
	r.mu.Lock()

	if r.handler == nil {
		r.mu.Unlock()
		r.logger.Warn("outcome request with no handler registered", "gameId", gameID)
		return false
	}
	if wager == 0 || req.Quantity == 0 {
		r.mu.Unlock()
		r.logger.Warn("outcome request rejected", "wager", wager, "quantity", req.Quantity)
		return false
	}

	r.cancelActiveLocked()

	if recovering {
		roundID := r.rounds.CurrentTransactionID()
		if tx := r.findByRoundLocked(roundID); tx != nil {
			switch tx.State {
			case StateFailed:
				r.mu.Unlock()
				r.logger.Warn("recovery found failed transaction", "transactionId", tx.TransactionID)
				return false
			case StateRequested:
				r.logger.Info("recovery resuming outcome request", "transactionId", tx.TransactionID)
				r.dispatchLocked(tx, gameID, denom, wagerCategory, templateID, wager, req.Quantity, true)
				r.mu.Unlock()
				return true
			default:
				// Already resolved: replay the result to the round
				// controller synchronously.
				replay := tx.Copy()
				controller := r.controller
				r.mu.Unlock()
				r.logger.Info("recovery replaying resolved outcomes", "transactionId", replay.TransactionID, "state", replay.State)
				if replay.Exception != ExceptionNone {
					controller.OutcomeFailure(replay)
					return false
				}
				return controller.OutcomesReady(replay)
			}
		}
	}

	index := r.cursor
	var sequence uint64
	prev := r.txs[(r.cursor-1+r.block.Size())%r.block.Size()]
	if prev != nil && prev.State == StateFailed && !r.keepFailed() {
		// Reclaim the failed predecessor's slot and sequence number.
		index = prev.StorageIndex
		sequence = prev.LogSequence
	} else {
		next, err := r.ids.NextLogSequence(logSequenceKind)
		if err != nil {
			r.mu.Unlock()
			r.logger.Error("allocate log sequence", "error", err)
			return false
		}
		sequence = next
	}
	transactionID, err := r.ids.NextTransactionID()
	if err != nil {
		r.mu.Unlock()
		r.logger.Error("allocate transaction id", "error", err)
		return false
	}

	tx := &Transaction{
		TransactionID:      transactionID,
		LogSequence:        sequence,
		StorageIndex:       index,
		RoundTransactionID: r.rounds.CurrentTransactionID(),
		GameID:             gameID,
		Denom:              denom,
		WagerCategory:      wagerCategory,
		TemplateID:         templateID,
		Wager:              wager,
		Quantity:           req.Quantity,
		State:              StateRequested,
		Exception:          ExceptionPending,
		RequestTime:        r.clock.Now(),
	}

	scope := r.store.Begin()
	if err := tx.stage(scope, r.block); err != nil {
		scope.Rollback()
		r.mu.Unlock()
		r.logger.Error("stage outcome transaction", "error", err)
		return false
	}
	if err := scope.Commit(); err != nil {
		r.mu.Unlock()
		r.logger.Error("persist outcome transaction", "error", err)
		return false
	}
	r.txs[index] = tx
	if index == r.cursor {
		r.cursor = (r.cursor + 1) % r.block.Size()
	}

	r.dispatchLocked(tx, gameID, denom, wagerCategory, templateID, wager, req.Quantity, false)
	published := tx.Copy()
	r.mu.Unlock()

	r.bus.Publish(RequestedEvent{Transaction: published})
	return true
}

func (r *Registry) dispatchLocked(tx *Transaction, gameID uint32, denom uint64, wagerCategory string, templateID uint32, wager uint64, quantity int, recovering bool) {
	ctx, cancel := context.WithCancel(context.Background())
	r.active = &inflight{transactionID: tx.TransactionID, cancel: cancel}
	req := PlayRequest{
		TransactionID: tx.TransactionID,
		GameID:        gameID,
		Denom:         denom,
		WagerCategory: wagerCategory,
		TemplateID:    templateID,
		Wager:         wager,
		Quantity:      quantity,
		Recovering:    recovering,
	}
	handler := r.handler
	go handler.RequestPlay(ctx, req)
}

// OutcomeResponse applies the handler's (or host's) response. A zero
// transaction id resolves to the most recent unresolved transaction, the
// host-initiated retry path. The round-log append and the transaction
// state change commit in one scope, exactly once regardless of branch;
// the round controller is notified only after the commit.
func (r *Registry) OutcomeResponse(transactionID uint64, outcomes []history.Outcome, exception Exception, descriptions []string) {
	r.mu.Lock()

	var tx *Transaction
	if transactionID == 0 {
		tx = r.findPendingLocked()
	} else {
		tx = r.findByIDLocked(transactionID)
	}
	if tx == nil {
		r.mu.Unlock()
		r.logger.Warn("outcome response for unknown transaction", "transactionId", transactionID)
		return
	}
	if tx.State != StateRequested {
		r.mu.Unlock()
		r.logger.Debug("outcome response for resolved transaction ignored", "transactionId", tx.TransactionID, "state", tx.State)
		return
	}
	if r.active != nil && r.active.transactionID != tx.TransactionID {
		// A newer request superseded this one; its late completion must
		// not touch state tied to the current request.
		r.mu.Unlock()
		r.logger.Warn("stale outcome response ignored", "transactionId", tx.TransactionID, "active", r.active.transactionID)
		return
	}
	if newest := r.findByRoundLocked(tx.RoundTransactionID); newest != nil && newest.TransactionID != tx.TransactionID {
		// The round moved on to a newer transaction. This also covers the
		// window after the replacement resolved, when no request is active
		// but the superseded one is still unresolved.
		r.mu.Unlock()
		r.logger.Warn("superseded outcome response ignored", "transactionId", tx.TransactionID, "newest", newest.TransactionID)
		return
	}

	clone := tx.clone()
	if exception != ExceptionNone {
		clone.State = StateFailed
		clone.Exception = exception
	} else {
		clone.State = StateCommitted
		clone.Exception = ExceptionNone
		clone.Outcomes = append([]history.Outcome(nil), outcomes...)
		clone.Descriptions = append([]string(nil), descriptions...)
	}

	scope := r.store.Begin()
	if len(outcomes) > 0 {
		// Redundant copy on the round log: the transaction ring and the
		// history ring rotate on different windows.
		if err := r.rounds.AppendOutcomes(scope, outcomes); err != nil {
			scope.Rollback()
			r.mu.Unlock()
			r.logger.Error("append outcomes to round", "error", err)
			return
		}
	}
	if err := clone.stage(scope, r.block); err != nil {
		scope.Rollback()
		r.mu.Unlock()
		r.logger.Error("stage outcome response", "error", err)
		return
	}
	if err := scope.Commit(); err != nil {
		r.mu.Unlock()
		r.logger.Error("persist outcome response", "error", err)
		return
	}

	r.txs[clone.StorageIndex] = clone
	if r.active != nil && r.active.transactionID == clone.TransactionID {
		r.active.cancel()
		r.active = nil
	}
	controller := r.controller
	notify := clone.Copy()
	r.mu.Unlock()

	if notify.State == StateFailed {
		r.logger.Warn("outcome request failed", "transactionId", notify.TransactionID, "exception", notify.Exception)
		if controller != nil {
			controller.OutcomeFailure(notify)
		}
		r.bus.Publish(FailedEvent{Transaction: notify})
		return
	}
	r.logger.Info("outcomes committed", "transactionId", notify.TransactionID, "count", len(notify.Outcomes))
	if controller != nil {
		controller.OutcomesReady(notify)
	}
	r.bus.Publish(CommittedEvent{Transaction: notify})
}

// AcknowledgeOutcome marks committed outcomes as consumed by the game.
// Idempotent: unknown or already acknowledged transactions are no-ops.
func (r *Registry) AcknowledgeOutcome(transactionID uint64) {
	r.mu.Lock()
	tx := r.findByIDLocked(transactionID)
	if tx == nil || tx.State != StateCommitted {
		r.mu.Unlock()
		return
	}
	clone := tx.clone()
	clone.State = StateAcknowledged

	scope := r.store.Begin()
	if err := clone.stage(scope, r.block); err != nil {
		scope.Rollback()
		r.mu.Unlock()
		r.logger.Error("stage acknowledgement", "error", err)
		return
	}
	if err := scope.Commit(); err != nil {
		r.mu.Unlock()
		r.logger.Error("persist acknowledgement", "error", err)
		return
	}
	r.txs[clone.StorageIndex] = clone
	published := clone.Copy()
	r.mu.Unlock()

	r.bus.Publish(AcknowledgedEvent{Transaction: published})
}

// ProcessExited abandons any outstanding request: the in-flight context
// is cancelled and the transaction is stamped timed-out so recovery knows
// no response ever arrived.
func (r *Registry) ProcessExited() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == nil {
		return
	}
	r.active.cancel()
	tx := r.findByIDLocked(r.active.transactionID)
	r.active = nil
	if tx == nil || tx.State != StateRequested {
		return
	}
	clone := tx.clone()
	clone.Exception = ExceptionTimedOut

	scope := r.store.Begin()
	if err := clone.stage(scope, r.block); err != nil {
		scope.Rollback()
		return
	}
	if err := scope.Commit(); err != nil {
		r.logger.Error("persist abandoned transaction", "error", err)
		return
	}
	r.txs[clone.StorageIndex] = clone
}

func (r *Registry) keepFailed() bool {
	return r.props.GetBool(properties.KeepFailedOutcomes, false)
}

func (r *Registry) cancelActiveLocked() {
	if r.active != nil {
		r.active.cancel()
		r.active = nil
	}
}

func (r *Registry) findByIDLocked(transactionID uint64) *Transaction {
	for _, tx := range r.txs {
		if tx.TransactionID == transactionID {
			return tx
		}
	}
	return nil
}

func (r *Registry) findByRoundLocked(roundTransactionID uint64) *Transaction {
	var found *Transaction
	for _, tx := range r.txs {
		if tx.RoundTransactionID != roundTransactionID {
			continue
		}
		if found == nil || tx.TransactionID > found.TransactionID {
			found = tx
		}
	}
	return found
}

func (r *Registry) findPendingLocked() *Transaction {
	var found *Transaction
	for _, tx := range r.txs {
		if tx.State != StateRequested {
			continue
		}
		if found == nil || tx.TransactionID > found.TransactionID {
			found = tx
		}
	}
	return found
}
