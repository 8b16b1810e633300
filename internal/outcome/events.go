package outcome

import (
	"github.com/spinframe/gameround/internal/events"
)

// Event types for the outcome request lifecycle.
const (
	EventTypeOutcomeRequested    events.Type = "outcome_requested"
	EventTypeOutcomeCommitted    events.Type = "outcome_committed"
	EventTypeOutcomeFailed       events.Type = "outcome_failed"
	EventTypeOutcomeAcknowledged events.Type = "outcome_acknowledged"
)

// RequestedEvent is published when a request is dispatched to the handler.
type RequestedEvent struct {
	Transaction *Transaction
}

func (e RequestedEvent) EventType() events.Type { return EventTypeOutcomeRequested }

// CommittedEvent is published after a successful response commits.
type CommittedEvent struct {
	Transaction *Transaction
}

func (e CommittedEvent) EventType() events.Type { return EventTypeOutcomeCommitted }

// FailedEvent is published after a failed response commits.
type FailedEvent struct {
	Transaction *Transaction
}

func (e FailedEvent) EventType() events.Type { return EventTypeOutcomeFailed }

// AcknowledgedEvent is published when the game acknowledges outcomes.
type AcknowledgedEvent struct {
	Transaction *Transaction
}

func (e AcknowledgedEvent) EventType() events.Type { return EventTypeOutcomeAcknowledged }
