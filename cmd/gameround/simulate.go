package main

import (
	"context"
	"errors"
	"fmt"
	rand "math/rand/v2"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/spinframe/gameround/cmd/gameround/shared"
	"github.com/spinframe/gameround/internal/events"
	"github.com/spinframe/gameround/internal/history"
	"github.com/spinframe/gameround/internal/outcome"
	"github.com/spinframe/gameround/internal/randutil"
	"github.com/spinframe/gameround/internal/round"
)

// SimulateCmd drives scripted rounds through the full stack: escrow,
// outcome determination, payout and the return to idle.
type SimulateCmd struct {
	Config string `short:"c" help:"Simulation profile (HCL)" type:"path"`
	Rounds int    `short:"n" default:"20" help:"Number of rounds to play"`
	Store  string `short:"s" help:"SQLite store path; in-memory when empty" type:"path"`
	Seed   int64  `help:"RNG seed; random when zero"`
	Debug  bool   `short:"d" help:"Enable debug logging"`
}

func (c *SimulateCmd) Run() error {
	logger := shared.SetupLogger(c.Debug)

	cfg, err := LoadSimulationConfig(c.Config)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid simulation profile: %w", err)
	}

	seed := c.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	logger.Info("starting simulation", "rounds", c.Rounds, "seed", seed, "store", c.Store)

	stack, err := buildStack(logger, cfg, c.Store)
	if err != nil {
		return err
	}
	defer stack.Close()

	handler := newScriptedHandler(logger, stack.registry, randutil.New(seed))
	stack.registry.RegisterHandler(handler)
	defer stack.registry.UnregisterHandler()

	sim := newSimulation(logger, stack)
	defer sim.close()

	ctx := shared.SetupSignalHandlerWithLogger(logger)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sim.run(ctx, c.Rounds)
	})

	err = g.Wait()
	fmt.Println(sim.summary())
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// scriptedHandler is the outcome determination stand-in: it answers every
// play request from a seeded RNG after a short round trip.
type scriptedHandler struct {
	logger   *log.Logger
	registry *outcome.Registry

	mu  sync.Mutex
	rng *rand.Rand

	hitRate       float64
	maxMultiplier int64
	latency       time.Duration
}

func newScriptedHandler(logger *log.Logger, registry *outcome.Registry, rng *rand.Rand) *scriptedHandler {
	return &scriptedHandler{
		logger:        logger.WithPrefix("host"),
		registry:      registry,
		rng:           rng,
		hitRate:       0.35,
		maxMultiplier: 5,
		latency:       10 * time.Millisecond,
	}
}

// RequestPlay implements outcome.Handler.
func (h *scriptedHandler) RequestPlay(ctx context.Context, req outcome.PlayRequest) {
	select {
	case <-ctx.Done():
		h.logger.Debug("play request abandoned", "transactionId", req.TransactionID)
		return
	case <-time.After(h.latency):
	}

	h.mu.Lock()
	outcomes := make([]history.Outcome, 0, req.Quantity)
	for i := 0; i < req.Quantity; i++ {
		var win int64
		if h.rng.Float64() < h.hitRate {
			win = int64(req.Wager) * (1 + h.rng.Int64N(h.maxMultiplier))
		}
		outcomes = append(outcomes, history.Outcome{
			ID:    req.TransactionID*100 + uint64(i),
			Kind:  "win",
			Value: win,
		})
	}
	h.mu.Unlock()

	h.logger.Debug("responding to play request", "transactionId", req.TransactionID, "recovering", req.Recovering)
	h.registry.OutcomeResponse(req.TransactionID, outcomes, outcome.ExceptionNone, nil)
}

const driverID = "simulateDriver"

// responseTimeout bounds the wait for the scripted host; it only trips
// when the stack has wedged.
const responseTimeout = 5 * time.Second

// simulation sequences rounds against the machine, observing progress
// through bus subscriptions the way a real platform layer would.
type simulation struct {
	logger *log.Logger
	stack  *machineStack

	committed chan *outcome.Transaction
	failed    chan *outcome.Transaction
	idle      chan struct{}
}

func newSimulation(logger *log.Logger, stack *machineStack) *simulation {
	s := &simulation{
		logger:    logger.WithPrefix("sim"),
		stack:     stack,
		committed: make(chan *outcome.Transaction, 1),
		failed:    make(chan *outcome.Transaction, 1),
		idle:      make(chan struct{}, 1),
	}
	stack.bus.Subscribe(driverID, outcome.EventTypeOutcomeCommitted, func(e events.Event) {
		if evt, ok := e.(outcome.CommittedEvent); ok {
			select {
			case s.committed <- evt.Transaction:
			default:
			}
		}
	})
	stack.bus.Subscribe(driverID, outcome.EventTypeOutcomeFailed, func(e events.Event) {
		if evt, ok := e.(outcome.FailedEvent); ok {
			select {
			case s.failed <- evt.Transaction:
			default:
			}
		}
	})
	stack.bus.Subscribe(driverID, round.EventTypeStateChanged, func(e events.Event) {
		select {
		case s.idle <- struct{}{}:
		default:
		}
	}, events.WithFilter(func(e events.Event) bool {
		evt, ok := e.(round.StateChangedEvent)
		return ok && evt.Entering && (evt.State == history.Idle || evt.State == history.PresentationIdle)
	}))
	return s
}

func (s *simulation) close() {
	s.stack.bus.UnsubscribeAll(driverID)
}

func (s *simulation) run(ctx context.Context, rounds int) error {
	if s.stack.machine.IsRecoveryPending() {
		if err := s.resume(ctx); err != nil {
			return err
		}
	}
	for i := 1; i <= rounds; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := s.playRound(ctx, i); err != nil {
			return err
		}
	}
	return nil
}

func (s *simulation) playRound(ctx context.Context, n int) error {
	machine := s.stack.machine
	wallet := s.stack.bank
	wager := s.stack.config.Machine.Wager

	if wallet.Balance() < wager {
		topUp := s.stack.config.Machine.OpeningCredit
		s.logger.Info("inserting credits", "amount", topUp)
		wallet.Deposit(topUp)
	}

	if !machine.Prepare() {
		return fmt.Errorf("round %d refused in state %s", n, machine.CurrentState())
	}
	if err := wallet.Withdraw(wager); err != nil {
		machine.Fire(round.TriggerInitializationFailed)
		return err
	}
	if !machine.EscrowWager(wager, nil, outcome.Request{Quantity: 1}, false) {
		// The machine has already abandoned the round.
		wallet.Deposit(wager)
		return fmt.Errorf("round %d: outcome request refused", n)
	}

	tx, err := s.waitCommitted(ctx)
	if err != nil {
		return err
	}
	if tx == nil {
		s.logger.Warn("round failed at outcome determination", "round", n)
		machine.FailRound()
		return nil
	}

	win := winFromOutcomes(tx.Outcomes)
	machine.Start(wager, nil, false)
	s.stack.registry.AcknowledgeOutcome(tx.TransactionID)
	if win > 0 {
		wallet.Deposit(win)
	}
	machine.End(win)
	if err := s.waitIdle(ctx); err != nil {
		return err
	}

	s.logger.Info("round complete",
		"round", n,
		"transactionId", tx.RoundTransactionID,
		"wager", wager,
		"win", win,
		"balance", wallet.Balance())
	return nil
}

// resume finishes a round that was interrupted by a crash or kill. The
// persisted play state decides how far the replay has to reach back.
func (s *simulation) resume(ctx context.Context) error {
	machine := s.stack.machine
	lg := s.stack.ledger.Current()
	if lg == nil {
		return nil
	}
	s.logger.Info("resuming interrupted round",
		"transactionId", lg.TransactionID, "playState", lg.PlayState)

	switch {
	case lg.PlayState <= history.PrimaryGameEscrow:
		if !machine.EscrowWager(lg.FinalWager, lg.RecoveryBlob, outcome.Request{Quantity: 1}, true) {
			// The machine has already abandoned the round.
			s.logger.Warn("interrupted round unrecoverable")
			return nil
		}
		win := winFromOutcomes(lg.Outcomes)
		if len(lg.Outcomes) == 0 {
			// The request was still outstanding; the handler answers it
			// again.
			tx, err := s.waitCommitted(ctx)
			if err != nil {
				return err
			}
			if tx == nil {
				machine.FailRound()
				return nil
			}
			win = winFromOutcomes(tx.Outcomes)
		}
		machine.Start(lg.FinalWager, lg.RecoveryBlob, false)
		if win > 0 {
			s.stack.bank.Deposit(win)
		}
		machine.End(win)
		return s.waitIdle(ctx)

	default:
		machine.Start(lg.FinalWager, lg.RecoveryBlob, true)
		if machine.Idle() {
			return nil
		}
		if machine.CurrentState() == history.PayGameResults {
			// The win was already recorded; only the payout confirmation
			// is outstanding.
			machine.Fire(round.TriggerResultsPaid)
			return s.waitIdle(ctx)
		}
		win := winFromOutcomes(lg.Outcomes)
		if win > 0 && lg.FinalWin == 0 {
			s.stack.bank.Deposit(win)
		}
		machine.End(win)
		return s.waitIdle(ctx)
	}
}

func (s *simulation) waitCommitted(ctx context.Context) (*outcome.Transaction, error) {
	select {
	case tx := <-s.committed:
		return tx, nil
	case <-s.failed:
		return nil, nil
	case <-time.After(responseTimeout):
		return nil, fmt.Errorf("timed out waiting for outcome response")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *simulation) waitIdle(ctx context.Context) error {
	if s.stack.machine.Idle() {
		select {
		case <-s.idle:
		default:
		}
		return nil
	}
	select {
	case <-s.idle:
		return nil
	case <-time.After(responseTimeout):
		return fmt.Errorf("timed out waiting for idle, state %s", s.stack.machine.CurrentState())
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *simulation) summary() string {
	cfg := s.stack.config

	var played, failures int
	var wagered, won uint64
	for _, lg := range s.stack.ledger.Logs() {
		switch lg.Result {
		case history.ResultCompleted:
			played++
			wagered += lg.FinalWager
			won += lg.FinalWin
		case history.ResultFailed:
			failures++
		}
	}
	return renderSummary(summaryData{
		Played:   played,
		Failures: failures,
		Wagered:  wagered,
		Won:      won,
		Balance:  s.stack.bank.Balance(),
		Denom:    cfg.Machine.DenomCents,
		Symbol:   cfg.Policy.CurrencySymbol,
	})
}

func winFromOutcomes(outcomes []history.Outcome) uint64 {
	var total uint64
	for _, o := range outcomes {
		if o.Value > 0 {
			total += uint64(o.Value)
		}
	}
	return total
}
