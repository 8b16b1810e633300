package round

import (
	"fmt"

	"github.com/spinframe/gameround/internal/events"
	"github.com/spinframe/gameround/internal/history"
	"github.com/spinframe/gameround/internal/outcome"
)

// Event types published by the round state machine.
const (
	EventTypeStateChanged  events.Type = "round_state_changed"
	EventTypeRoundDisabled events.Type = "round_disabled"
	EventTypeRoundEnabled  events.Type = "round_enabled"
	EventTypeRoundFailed   events.Type = "round_failed"
)

// Event types consumed by the machine from the platform.
const (
	EventTypeSystemDisabled events.Type = "system_disabled"
	EventTypeSystemEnabled  events.Type = "system_enabled"
)

// StateChangedEvent is published on entry and exit of round states so
// meters, session tracking and bonus settlement can react.
type StateChangedEvent struct {
	State         history.PlayState
	Entering      bool
	Trigger       Trigger
	GameID        uint32
	Denom         uint64
	WagerCategory string
	Log           *history.RoundLog
}

func (e StateChangedEvent) EventType() events.Type { return EventTypeStateChanged }

// DisablePriority orders system-disable interrupts.
type DisablePriority int

const (
	// PriorityNormal disables new rounds but may be overridden for play
	// during lockup.
	PriorityNormal DisablePriority = iota
	// PriorityImmediate blocks new rounds unconditionally.
	PriorityImmediate
)

// String returns the string representation of the priority
func (p DisablePriority) String() string {
	switch p {
	case PriorityNormal:
		return "normal"
	case PriorityImmediate:
		return "immediate"
	}
	return fmt.Sprintf("priority(%d)", int(p))
}

// SystemDisabledEvent is the platform's disable interrupt.
type SystemDisabledEvent struct {
	Priority DisablePriority
	// OverridePlay permits normal play to continue under this disable.
	OverridePlay bool
}

func (e SystemDisabledEvent) EventType() events.Type { return EventTypeSystemDisabled }

// SystemEnabledEvent clears a prior disable of compatible priority.
type SystemEnabledEvent struct {
	Priority DisablePriority
}

func (e SystemEnabledEvent) EventType() events.Type { return EventTypeSystemEnabled }

// DisabledEvent is published when the machine blocks round starts.
type DisabledEvent struct {
	Priority DisablePriority
}

func (e DisabledEvent) EventType() events.Type { return EventTypeRoundDisabled }

// EnabledEvent is published when round starts are unblocked.
type EnabledEvent struct{}

func (e EnabledEvent) EventType() events.Type { return EventTypeRoundEnabled }

// FailedEvent is published when outcome determination fails. The round is
// not forcibly ended; the machine still expects an explicit completion.
type FailedEvent struct {
	Transaction *outcome.Transaction
}

func (e FailedEvent) EventType() events.Type { return EventTypeRoundFailed }
