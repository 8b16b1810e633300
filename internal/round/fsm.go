package round

import (
	"github.com/charmbracelet/log"

	"github.com/spinframe/gameround/internal/history"
)

// The transition table: state × trigger resolves to a fixed target, a
// guarded target, or a dynamic target computed at fire time. Entry and
// exit hooks run in configuration order. A trigger with no entry for the
// current state is logged and ignored; firing never panics.

type guardFunc func() bool

type resolverFunc func() history.PlayState

type hookFunc func(from, to history.PlayState, trigger Trigger)

type transition struct {
	target  history.PlayState
	reentry bool
	guard   guardFunc
	resolve resolverFunc
}

type stateDef struct {
	transitions map[Trigger]transition
	onEntry     []hookFunc
	onExit      []hookFunc
}

type table struct {
	logger *log.Logger
	states map[history.PlayState]*stateDef
	state  history.PlayState
}

func newTable(logger *log.Logger, initial history.PlayState) *table {
	return &table{
		logger: logger,
		states: make(map[history.PlayState]*stateDef),
		state:  initial,
	}
}

func (t *table) configure(state history.PlayState) *stateBuilder {
	def, ok := t.states[state]
	if !ok {
		def = &stateDef{transitions: make(map[Trigger]transition)}
		t.states[state] = def
	}
	return &stateBuilder{def: def}
}

// canFire reports whether the current state permits the trigger and its
// guard passes, without transitioning. Callers must hold the machine's
// write lock.
func (t *table) canFire(trigger Trigger) bool {
	def := t.states[t.state]
	if def == nil {
		return false
	}
	tr, ok := def.transitions[trigger]
	if !ok {
		return false
	}
	return tr.guard == nil || tr.guard()
}

// fire attempts a transition. It returns true only when the state machine
// transitioned (re-entry counts). Callers must hold the machine's write
// lock; hooks run inside it and must not re-acquire it.
func (t *table) fire(trigger Trigger) bool {
	def := t.states[t.state]
	if def == nil {
		t.logger.Warn("trigger in unconfigured state", "state", t.state, "trigger", trigger)
		return false
	}
	tr, ok := def.transitions[trigger]
	if !ok {
		t.logger.Debug("trigger not permitted", "state", t.state, "trigger", trigger)
		return false
	}
	if tr.guard != nil && !tr.guard() {
		t.logger.Debug("transition guard rejected", "state", t.state, "trigger", trigger)
		return false
	}

	from := t.state
	to := tr.target
	if tr.reentry {
		to = from
	}
	if tr.resolve != nil {
		to = tr.resolve()
	}

	for _, hook := range def.onExit {
		hook(from, to, trigger)
	}
	t.state = to
	if target := t.states[to]; target != nil {
		for _, hook := range target.onEntry {
			hook(from, to, trigger)
		}
	}
	t.logger.Debug("transition", "from", from, "to", to, "trigger", trigger)
	return true
}

type stateBuilder struct {
	def *stateDef
}

func (b *stateBuilder) permit(trigger Trigger, target history.PlayState) *stateBuilder {
	b.def.transitions[trigger] = transition{target: target}
	return b
}

func (b *stateBuilder) permitIf(trigger Trigger, target history.PlayState, guard guardFunc) *stateBuilder {
	b.def.transitions[trigger] = transition{target: target, guard: guard}
	return b
}

func (b *stateBuilder) permitReentry(trigger Trigger) *stateBuilder {
	b.def.transitions[trigger] = transition{reentry: true}
	return b
}

func (b *stateBuilder) permitDynamic(trigger Trigger, resolve resolverFunc) *stateBuilder {
	b.def.transitions[trigger] = transition{resolve: resolve}
	return b
}

func (b *stateBuilder) permitDynamicIf(trigger Trigger, resolve resolverFunc, guard guardFunc) *stateBuilder {
	b.def.transitions[trigger] = transition{resolve: resolve, guard: guard}
	return b
}

func (b *stateBuilder) onEntry(hook hookFunc) *stateBuilder {
	b.def.onEntry = append(b.def.onEntry, hook)
	return b
}

func (b *stateBuilder) onExit(hook hookFunc) *stateBuilder {
	b.def.onExit = append(b.def.onExit, hook)
	return b
}
