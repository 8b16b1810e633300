// Package round drives the game-round lifecycle: a finite-state
// controller sequencing wager escrow, outcome determination, primary and
// secondary game phases, payout and idle recovery, gated by system
// disables and the post-round delay.
package round

import (
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"

	"github.com/spinframe/gameround/internal/events"
	"github.com/spinframe/gameround/internal/history"
	"github.com/spinframe/gameround/internal/outcome"
	"github.com/spinframe/gameround/internal/properties"
)

const subscriberID = "roundMachine"

// Config identifies the game the machine is driving rounds for.
type Config struct {
	GameID        uint32
	Denom         uint64
	WagerCategory string
	TemplateID    uint32
}

// CommandHandlers delegates phase boundaries to payout/bonus logic.
// Exactly one handler runs per phase. OnPayResults and OnGameEnded may
// report a pending payment, which defers the machine's automatic
// follow-up trigger until the next explicit End call. Handlers run while
// the machine's write lock is held and must not call back into it.
type CommandHandlers interface {
	OnEscrow(lg *history.RoundLog) error
	OnPrimaryStart(lg *history.RoundLog) error
	OnSecondaryStart(lg *history.RoundLog) error
	OnPayResults(lg *history.RoundLog) (pending bool, err error)
	OnGameEnded(lg *history.RoundLog) (pending bool, err error)
	OnIdle(lg *history.RoundLog) error
}

// NopHandlers is a CommandHandlers that does nothing.
type NopHandlers struct{}

func (NopHandlers) OnEscrow(*history.RoundLog) error         { return nil }
func (NopHandlers) OnPrimaryStart(*history.RoundLog) error   { return nil }
func (NopHandlers) OnSecondaryStart(*history.RoundLog) error { return nil }
func (NopHandlers) OnPayResults(*history.RoundLog) (bool, error) {
	return false, nil
}
func (NopHandlers) OnGameEnded(*history.RoundLog) (bool, error) {
	return false, nil
}
func (NopHandlers) OnIdle(*history.RoundLog) error { return nil }

// TransferMonitor reports whether a payout transfer is in progress, which
// blocks leaving the pay-results state mid-transfer.
type TransferMonitor interface {
	TransferInProgress() bool
}

type noTransfers struct{}

func (noTransfers) TransferInProgress() bool { return false }

// Option configures a Machine.
type Option func(*Machine)

// WithCommandHandlers installs the phase command handlers.
func WithCommandHandlers(h CommandHandlers) Option {
	return func(m *Machine) { m.handlers = h }
}

// WithTransferMonitor installs the payout transfer monitor.
func WithTransferMonitor(t TransferMonitor) Option {
	return func(m *Machine) { m.transfers = t }
}

// Machine is the round state machine. Every trigger fire and every
// state-dependent read is guarded by one reader/writer lock per instance.
type Machine struct {
	mu     sync.RWMutex
	logger *log.Logger
	cfg    Config

	ledger   *history.Ledger
	registry *outcome.Registry
	bus      events.Bus
	props    properties.Store
	clock    quartz.Clock

	handlers  CommandHandlers
	transfers TransferMonitor

	fsm   *table
	delay *delayTimer

	enabled          bool
	disabled         bool
	disableImmediate bool
	faulted          bool
	pendingRecovery  bool

	// Pending-event deferral: a phase handler reported a pending payment
	// and the automatic follow-up trigger is suspended until the next
	// explicit End call.
	pendingEvents   bool
	deferredTrigger Trigger

	gameEndDelay time.Duration
	gameEndHold  bool

	// Notifications are queued by hooks under the write lock and
	// published after it is released, so subscribers may safely read the
	// machine.
	notifications []events.Event
}

// NewMachine builds the round machine. When the ledger reports an
// unfinished round the machine starts from the persisted play state
// instead of idle, and the round-start APIs expect recovering calls.
func NewMachine(logger *log.Logger, cfg Config, ledger *history.Ledger, registry *outcome.Registry, bus events.Bus, props properties.Store, clock quartz.Clock, opts ...Option) *Machine {
	m := &Machine{
		logger:    logger.WithPrefix("round").With("gameId", cfg.GameID),
		cfg:       cfg,
		ledger:    ledger,
		registry:  registry,
		bus:       bus,
		props:     props,
		clock:     clock,
		handlers:  NopHandlers{},
		transfers: noTransfers{},
		enabled:   true,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.gameEndDelay = props.GetDuration(properties.GameEndDelay, 0)
	m.gameEndHold = props.GetBool(properties.GameEndHold, false)

	initial := history.Idle
	if ledger.IsRecoveryNeeded() {
		initial = ledger.Current().PlayState
		m.pendingRecovery = true
		m.logger.Info("recovery needed", "playState", initial)
	}
	m.delay = newDelayTimer(clock, m.onDelayExpired)
	m.fsm = m.buildTable(initial)

	registry.SetController(m)
	bus.Subscribe(subscriberID, EventTypeSystemDisabled, m.onSystemDisabled)
	bus.Subscribe(subscriberID, EventTypeSystemEnabled, m.onSystemEnabled)
	return m
}

func (m *Machine) buildTable(initial history.PlayState) *table {
	t := newTable(m.logger, initial)

	t.configure(history.Idle).
		permitIf(TriggerPlayInitiated, history.Initiated, m.canStartRound).
		onEntry(func(from, to history.PlayState, trg Trigger) {
			m.handleIdleEntry()
		})

	t.configure(history.Initiated).
		permit(TriggerOutcomeRequested, history.PrimaryGameEscrow).
		permit(TriggerPrimaryGameStarted, history.PrimaryGameStarted).
		permit(TriggerProcessExited, history.Idle).
		permit(TriggerInitializationFailed, history.Idle)

	t.configure(history.PrimaryGameEscrow).
		permitReentry(TriggerOutcomeRequested).
		permit(TriggerOutcomeRequestFailed, history.Idle).
		permit(TriggerPrimaryGameStarted, history.PrimaryGameStarted).
		permit(TriggerProcessExited, history.Idle).
		onEntry(func(from, to history.PlayState, trg Trigger) {
			m.runHandler("escrow", m.handlers.OnEscrow)
		})

	t.configure(history.PrimaryGameStarted).
		permitReentry(TriggerWagerChanged).
		permit(TriggerProgressiveHit, history.ProgressivePending).
		permit(TriggerSecondaryGameOffered, history.SecondaryGameChoice).
		permitDynamic(TriggerPrimaryGameEnded, m.resolveGameEnd).
		onEntry(func(from, to history.PlayState, trg Trigger) {
			m.runHandler("primaryStart", m.handlers.OnPrimaryStart)
		}).
		onExit(func(from, to history.PlayState, trg Trigger) {
			// Armed preemptively so the game-ended hold is ready.
			m.delay.Start(m.gameEndDelay)
		})

	t.configure(history.ProgressivePending).
		permitDynamic(TriggerProgressiveCommitted, m.resolveGameEnd).
		permit(TriggerSecondaryGameOffered, history.SecondaryGameChoice)

	t.configure(history.SecondaryGameChoice).
		permit(TriggerSecondaryGameEscrowed, history.SecondaryGameEscrow).
		permitDynamic(TriggerSecondaryGameEnded, m.resolveGameEnd)

	t.configure(history.SecondaryGameEscrow).
		permit(TriggerSecondaryEscrowFailed, history.SecondaryGameChoice).
		permit(TriggerSecondaryGameStarted, history.SecondaryGameStarted)

	t.configure(history.SecondaryGameStarted).
		permitReentry(TriggerWagerChanged).
		permitDynamic(TriggerSecondaryGameEnded, m.resolveGameEnd).
		onEntry(func(from, to history.PlayState, trg Trigger) {
			m.runHandler("secondaryStart", m.handlers.OnSecondaryStart)
		}).
		onExit(func(from, to history.PlayState, trg Trigger) {
			m.delay.Start(m.gameEndDelay)
		})

	t.configure(history.PayGameResults).
		permitIf(TriggerResultsPaid, history.GameEnded, m.canLeavePayResults).
		onEntry(func(from, to history.PlayState, trg Trigger) {
			// The caller does not need to block on payout; at most one
			// round progresses at a time regardless of thread.
			go m.dispatchPayResults()
		})

	t.configure(history.GameEnded).
		permitDynamicIf(TriggerGameIdle, m.resolveIdleTarget, m.canLeaveGameEnded).
		onEntry(func(from, to history.PlayState, trg Trigger) {
			m.handleGameEndedEntry()
		}).
		onExit(func(from, to history.PlayState, trg Trigger) {
			if err := m.ledger.End(); err != nil {
				m.logger.Error("finalize round", "error", err)
			}
		})

	t.configure(history.PresentationIdle).
		permitIf(TriggerPlayInitiated, history.Idle, m.canStartRound).
		permitIf(TriggerPresentationReleased, history.Idle, m.canStartRound)

	// Entry/exit notifications for every state.
	for state := history.Idle; state <= history.PresentationIdle; state++ {
		s := state
		t.configure(s).
			onEntry(func(from, to history.PlayState, trg Trigger) {
				m.queueNotification(s, true, trg)
			}).
			onExit(func(from, to history.PlayState, trg Trigger) {
				m.queueNotification(s, false, trg)
			})
	}
	// Persisted play-state tracking for open rounds.
	for state := history.Initiated; state <= history.GameEnded; state++ {
		s := state
		t.configure(s).onEntry(func(from, to history.PlayState, trg Trigger) {
			m.persistPlayState(s)
		})
	}
	return t
}

// ---- guards and resolvers (called under the write lock) ----

func (m *Machine) canStartRound() bool {
	if m.disableImmediate {
		return false
	}
	if m.disabled && !m.props.GetBool(properties.PlayOnDisabledOverride, false) {
		return false
	}
	return m.enabled
}

func (m *Machine) canLeavePayResults() bool {
	return !m.faulted && !m.transfers.TransferInProgress()
}

func (m *Machine) canLeaveGameEnded() bool {
	return m.delay.Expired() && !m.faulted && !m.pendingEvents
}

func (m *Machine) resolveGameEnd() history.PlayState {
	if lg := m.ledger.Current(); lg != nil && lg.FinalWin > 0 {
		return history.PayGameResults
	}
	return history.GameEnded
}

func (m *Machine) resolveIdleTarget() history.PlayState {
	if m.gameEndHold {
		return history.PresentationIdle
	}
	return history.Idle
}

// ---- hooks (called under the write lock) ----

func (m *Machine) queueNotification(state history.PlayState, entering bool, trg Trigger) {
	m.notifications = append(m.notifications, StateChangedEvent{
		State:         state,
		Entering:      entering,
		Trigger:       trg,
		GameID:        m.cfg.GameID,
		Denom:         m.cfg.Denom,
		WagerCategory: m.cfg.WagerCategory,
		Log:           m.ledger.Current(),
	})
}

func (m *Machine) runHandler(name string, fn func(*history.RoundLog) error) {
	if err := fn(m.ledger.Current()); err != nil {
		m.logger.Error("phase handler failed", "phase", name, "error", err)
	}
}

func (m *Machine) persistPlayState(state history.PlayState) {
	lg := m.ledger.Current()
	if lg == nil || lg.Result != history.ResultPending {
		return
	}
	if err := m.ledger.SetPlayState(state); err != nil {
		m.logger.Error("persist play state", "state", state, "error", err)
	}
}

func (m *Machine) handleIdleEntry() {
	m.runHandler("idle", m.handlers.OnIdle)
}

func (m *Machine) handleGameEndedEntry() {
	pending, err := m.handlers.OnGameEnded(m.ledger.Current())
	if err != nil {
		m.logger.Error("phase handler failed", "phase", "gameEnded", "error", err)
	}
	if pending {
		// Suspend the automatic idle transition; the next explicit End
		// completes it.
		m.pendingEvents = true
		m.deferredTrigger = TriggerGameIdle
		m.logger.Info("game end deferred on pending payment")
	}
}

func (m *Machine) dispatchPayResults() {
	m.mu.Lock()
	if m.fsm.state != history.PayGameResults {
		m.mu.Unlock()
		return
	}
	pending, err := m.handlers.OnPayResults(m.ledger.Current())
	if err != nil {
		m.logger.Error("phase handler failed", "phase", "payResults", "error", err)
	}
	if pending {
		m.pendingEvents = true
		m.deferredTrigger = TriggerResultsPaid
		m.mu.Unlock()
		m.logger.Info("pay results deferred on pending payment")
		return
	}
	if err := m.ledger.PayResults(); err != nil {
		m.logger.Error("record pay results", "error", err)
	}
	m.fsm.fire(TriggerResultsPaid)
	m.unlockAndPublish()
}

func (m *Machine) onDelayExpired() {
	m.Fire(TriggerGameIdle)
}

// ---- event bus ----

func (m *Machine) onSystemDisabled(e events.Event) {
	evt, ok := e.(SystemDisabledEvent)
	if !ok {
		return
	}
	m.mu.Lock()
	m.disabled = true
	if evt.Priority == PriorityImmediate {
		m.disableImmediate = true
	}
	notify := evt.Priority == PriorityImmediate ||
		(m.fsm.state == history.Idle && !m.pendingRecovery && !evt.OverridePlay)
	m.mu.Unlock()

	m.logger.Info("system disabled", "priority", evt.Priority, "overridePlay", evt.OverridePlay)
	if notify {
		m.bus.Publish(DisabledEvent{Priority: evt.Priority})
	}
}

func (m *Machine) onSystemEnabled(e events.Event) {
	evt, ok := e.(SystemEnabledEvent)
	if !ok {
		return
	}
	m.mu.Lock()
	cleared := false
	if evt.Priority == PriorityImmediate {
		m.disableImmediate = false
		m.disabled = false
		cleared = true
	} else if !m.disableImmediate {
		m.disabled = false
		cleared = true
	}
	m.mu.Unlock()

	m.logger.Info("system enabled", "priority", evt.Priority)
	if cleared {
		m.bus.Publish(EnabledEvent{})
	}
}

// ---- outcome.Controller ----

// OutcomesReady is called by the registry after outcomes durably commit.
// The round advances when the game calls Start; here the machine only
// accepts the result.
func (m *Machine) OutcomesReady(tx *outcome.Transaction) bool {
	m.mu.RLock()
	faulted := m.faulted
	m.mu.RUnlock()
	if faulted {
		m.logger.Warn("outcomes ready while faulted", "transactionId", tx.TransactionID)
		return false
	}
	m.logger.Debug("outcomes ready", "transactionId", tx.TransactionID, "count", len(tx.Outcomes))
	return true
}

// OutcomeFailure marks the round failed and publishes the failure. The
// round is not forcibly ended; FailRound (or process exit) completes it.
func (m *Machine) OutcomeFailure(tx *outcome.Transaction) {
	m.logger.Warn("outcome determination failed", "transactionId", tx.TransactionID, "exception", tx.Exception)
	if err := m.ledger.LogFatalError("outcomeRequestFailed"); err != nil {
		m.logger.Error("record round failure", "error", err)
	}
	m.bus.Publish(FailedEvent{Transaction: tx})
}

// ---- public round-control API ----

// Fire runs one trigger through the transition table under the write
// lock and publishes any queued notifications afterwards. Unpermitted
// triggers are logged and ignored.
func (m *Machine) Fire(trigger Trigger) bool {
	m.mu.Lock()
	ok := m.fsm.fire(trigger)
	m.unlockAndPublish()
	return ok
}

// Prepare requests a new round. From presentation-idle the play request
// first releases the hold and is then re-fired through normal
// initialization. Returns false when disabled or not idle.
func (m *Machine) Prepare() bool {
	m.mu.Lock()
	if m.fsm.state == history.PresentationIdle {
		if !m.fsm.fire(TriggerPlayInitiated) {
			m.unlockAndPublish()
			return false
		}
	}
	ok := m.fsm.fire(TriggerPlayInitiated)
	m.unlockAndPublish()
	return ok
}

// EscrowWager creates (or resumes) the round record and issues the
// outcome request. Returns false and abandons the round when the request
// cannot be issued. Without a prior Prepare the call is refused before
// anything durable is written.
func (m *Machine) EscrowWager(wager uint64, recoveryBlob []byte, req outcome.Request, recovering bool) bool {
	m.mu.Lock()
	if !m.fsm.canFire(TriggerOutcomeRequested) {
		m.logger.Warn("escrow refused", "state", m.fsm.state)
		m.unlockAndPublish()
		return false
	}
	if !recovering {
		if err := m.ledger.Escrow(wager, recoveryBlob, nil); err != nil {
			m.logger.Error("escrow wager", "error", err)
			m.fsm.fire(TriggerInitializationFailed)
			m.unlockAndPublish()
			return false
		}
	}
	m.fsm.fire(TriggerOutcomeRequested)
	m.unlockAndPublish()

	ok := m.registry.RequestOutcomes(m.cfg.GameID, m.cfg.Denom, m.cfg.WagerCategory, m.cfg.TemplateID, wager, req, recovering)
	if !ok {
		m.logger.Warn("outcome request refused", "wager", wager, "recovering", recovering)
		if err := m.ledger.Fail(); err != nil {
			m.logger.Error("abandon round", "error", err)
		}
		m.Fire(TriggerOutcomeRequestFailed)
		return false
	}
	if recovering {
		m.finishRecovery()
	}
	return true
}

// Start begins the primary game. With recovering true the ledger record
// is left untouched and the machine replays the trigger needed to reach
// the persisted state.
func (m *Machine) Start(wager uint64, recoveryBlob []byte, recovering bool) bool {
	m.mu.Lock()
	if recovering && m.pendingRecovery {
		// The machine was constructed in the persisted state; only fire
		// when the round stopped before the primary game began.
		if m.fsm.state == history.Initiated || m.fsm.state == history.PrimaryGameEscrow {
			m.fsm.fire(TriggerPrimaryGameStarted)
		}
		m.unlockAndPublish()
		m.finishRecovery()
		return true
	}
	if !m.fsm.canFire(TriggerPrimaryGameStarted) {
		m.logger.Warn("start refused", "state", m.fsm.state)
		m.unlockAndPublish()
		return false
	}
	if err := m.ledger.Start(wager, recoveryBlob, nil); err != nil {
		m.logger.Error("start round", "error", err)
		m.fsm.fire(TriggerInitializationFailed)
		m.unlockAndPublish()
		return false
	}
	ok := m.fsm.fire(TriggerPrimaryGameStarted)
	m.unlockAndPublish()
	return ok
}

// OfferSecondaryGame moves the round to the secondary game choice. The
// round record is only touched when the current state accepts the offer.
func (m *Machine) OfferSecondaryGame() bool {
	m.mu.Lock()
	if !m.fsm.canFire(TriggerSecondaryGameOffered) {
		m.logger.Warn("secondary offer refused", "state", m.fsm.state)
		m.unlockAndPublish()
		return false
	}
	if err := m.ledger.SecondaryGameChoice(); err != nil {
		m.logger.Error("record secondary offer", "error", err)
	}
	ok := m.fsm.fire(TriggerSecondaryGameOffered)
	m.unlockAndPublish()
	return ok
}

// StartSecondaryGame escrows the stake and begins the secondary game.
func (m *Machine) StartSecondaryGame(stake, win uint64, recovering bool) bool {
	m.mu.Lock()
	if !recovering {
		if !m.fsm.canFire(TriggerSecondaryGameEscrowed) {
			m.logger.Warn("secondary start refused", "state", m.fsm.state)
			m.unlockAndPublish()
			return false
		}
		if err := m.ledger.SecondaryGameStart(stake); err != nil {
			m.logger.Error("record secondary stake", "error", err)
			m.unlockAndPublish()
			return false
		}
	}
	m.fsm.fire(TriggerSecondaryGameEscrowed)
	ok := m.fsm.fire(TriggerSecondaryGameStarted)
	m.unlockAndPublish()
	if recovering {
		m.finishRecovery()
	}
	return ok
}

// EndSecondaryGame records the secondary result and resolves the round's
// end path.
func (m *Machine) EndSecondaryGame(win uint64) bool {
	m.mu.Lock()
	if !m.fsm.canFire(TriggerSecondaryGameEnded) {
		m.unlockAndPublish()
		return false
	}
	if err := m.ledger.SecondaryGameEnd(win); err != nil {
		m.logger.Error("record secondary result", "error", err)
	}
	ok := m.fsm.fire(TriggerSecondaryGameEnded)
	m.unlockAndPublish()
	return ok
}

// WagerChanged records a mid-game wager change.
func (m *Machine) WagerChanged(additional uint64) bool {
	m.mu.Lock()
	if !m.fsm.canFire(TriggerWagerChanged) {
		m.unlockAndPublish()
		return false
	}
	if err := m.ledger.AdditionalWager(additional); err != nil {
		m.logger.Error("record additional wager", "error", err)
	}
	ok := m.fsm.fire(TriggerWagerChanged)
	m.unlockAndPublish()
	return ok
}

// ProgressiveHit records a progressive jackpot hit.
func (m *Machine) ProgressiveHit(info history.JackpotInfo) bool {
	m.mu.Lock()
	if !m.fsm.canFire(TriggerProgressiveHit) {
		m.unlockAndPublish()
		return false
	}
	if err := m.ledger.AppendJackpotInfo(info); err != nil {
		m.logger.Error("record progressive hit", "error", err)
	}
	ok := m.fsm.fire(TriggerProgressiveHit)
	m.unlockAndPublish()
	return ok
}

// ProgressiveCommitted reports the hit settled and resolves the round's
// end path.
func (m *Machine) ProgressiveCommitted() bool {
	return m.Fire(TriggerProgressiveCommitted)
}

// End completes the primary game with the round's final win. When a
// pending payment deferred a terminal transition, End completes the
// deferred trigger instead of re-running the phase handler.
func (m *Machine) End(finalWin uint64) bool {
	m.mu.Lock()
	if m.pendingEvents {
		trigger := m.deferredTrigger
		m.pendingEvents = false
		m.logger.Info("completing deferred trigger", "trigger", trigger)
		if trigger == TriggerResultsPaid {
			if err := m.ledger.PayResults(); err != nil {
				m.logger.Error("record pay results", "error", err)
			}
		}
		ok := m.fsm.fire(trigger)
		m.unlockAndPublish()
		return ok
	}
	if !m.fsm.canFire(TriggerPrimaryGameEnded) {
		m.logger.Warn("end refused", "state", m.fsm.state)
		m.unlockAndPublish()
		return false
	}
	if err := m.ledger.Results(finalWin); err != nil {
		m.logger.Error("record results", "error", err)
	}
	ok := m.fsm.fire(TriggerPrimaryGameEnded)
	m.unlockAndPublish()
	return ok
}

// FailRound completes a round whose outcome determination failed.
func (m *Machine) FailRound() bool {
	m.mu.Lock()
	if !m.fsm.canFire(TriggerOutcomeRequestFailed) {
		m.unlockAndPublish()
		return false
	}
	if err := m.ledger.Fail(); err != nil {
		m.logger.Error("abandon round", "error", err)
	}
	ok := m.fsm.fire(TriggerOutcomeRequestFailed)
	m.unlockAndPublish()
	return ok
}

// Faulted latches the fault flag, blocking the terminal transitions
// until ClearFault.
func (m *Machine) Faulted() {
	m.mu.Lock()
	m.faulted = true
	m.mu.Unlock()
	m.logger.Warn("round machine faulted")
}

// ClearFault releases the fault flag and completes any transition it was
// blocking.
func (m *Machine) ClearFault() {
	m.mu.Lock()
	m.faulted = false
	m.unlockAndPublish()
}

// SetGameEndDelay configures the hold applied after the game ends.
func (m *Machine) SetGameEndDelay(d time.Duration) {
	m.mu.Lock()
	m.gameEndDelay = d
	m.mu.Unlock()
	m.props.Set(properties.GameEndDelay, d)
}

// SetGameEndHold routes the round to presentation-idle instead of idle.
func (m *Machine) SetGameEndHold(hold bool) {
	m.mu.Lock()
	m.gameEndHold = hold
	m.mu.Unlock()
	m.props.Set(properties.GameEndHold, hold)
}

// ReleasePresentation releases the presentation hold.
func (m *Machine) ReleasePresentation() bool {
	return m.Fire(TriggerPresentationReleased)
}

// ForceEndGameDelayTimer cancels the post-round hold and applies its
// completion immediately.
func (m *Machine) ForceEndGameDelayTimer() {
	m.delay.ForceEnd()
}

// SetEnabled sets the machine's local enable flag.
func (m *Machine) SetEnabled(enabled bool) {
	m.mu.Lock()
	m.enabled = enabled
	m.mu.Unlock()
}

// ProcessExited abandons any outstanding work at process exit and
// releases the machine's subscriptions.
func (m *Machine) ProcessExited() {
	m.registry.ProcessExited()
	m.Fire(TriggerProcessExited)
	m.bus.UnsubscribeAll(subscriberID)
}

// ---- state-dependent reads (shared lock) ----

// CurrentState returns the machine's state.
func (m *Machine) CurrentState() history.PlayState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fsm.state
}

// Idle reports whether the machine is at rest.
func (m *Machine) Idle() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fsm.state == history.Idle || m.fsm.state == history.PresentationIdle
}

// Enabled reports whether round starts are currently permitted.
func (m *Machine) Enabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.canStartRound()
}

// IsRecoveryPending reports whether a recovering round has not yet been
// resumed.
func (m *Machine) IsRecoveryPending() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pendingRecovery
}

// ---- internal ----

func (m *Machine) finishRecovery() {
	m.mu.Lock()
	was := m.pendingRecovery
	m.pendingRecovery = false
	m.mu.Unlock()
	if was {
		if err := m.ledger.ClearForRecovery(); err != nil {
			m.logger.Error("clear recovery data", "error", err)
		}
		m.logger.Info("recovery complete")
	}
}

// unlockAndPublish releases the write lock and flushes queued state
// notifications. Must be called with the lock held. Before releasing it
// completes the game-ended hold when nothing blocks it, so a round with
// no configured delay returns to idle without an extra trigger.
func (m *Machine) unlockAndPublish() {
	if m.fsm.state == history.GameEnded && m.canLeaveGameEnded() {
		m.fsm.fire(TriggerGameIdle)
	}
	queued := m.notifications
	m.notifications = nil
	m.mu.Unlock()
	for _, e := range queued {
		m.bus.Publish(e)
	}
}
