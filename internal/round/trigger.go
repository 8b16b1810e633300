package round

import "fmt"

// Trigger is an input to the round state machine.
type Trigger int

const (
	// TriggerPlayInitiated starts a new round from idle.
	TriggerPlayInitiated Trigger = iota
	// TriggerOutcomeRequested moves an initiated round into wager escrow.
	TriggerOutcomeRequested
	// TriggerOutcomeRequestFailed abandons an escrowed round.
	TriggerOutcomeRequestFailed
	// TriggerPrimaryGameStarted begins the primary game phase.
	TriggerPrimaryGameStarted
	// TriggerWagerChanged reports a mid-game wager change.
	TriggerWagerChanged
	// TriggerProgressiveHit reports a progressive jackpot hit.
	TriggerProgressiveHit
	// TriggerProgressiveCommitted reports the hit settled.
	TriggerProgressiveCommitted
	// TriggerSecondaryGameOffered offers a secondary game.
	TriggerSecondaryGameOffered
	// TriggerSecondaryGameEscrowed escrows the secondary stake.
	TriggerSecondaryGameEscrowed
	// TriggerSecondaryEscrowFailed returns to the choice state.
	TriggerSecondaryEscrowFailed
	// TriggerSecondaryGameStarted begins the secondary game phase.
	TriggerSecondaryGameStarted
	// TriggerSecondaryGameEnded ends the secondary game (or declines the
	// offer).
	TriggerSecondaryGameEnded
	// TriggerPrimaryGameEnded ends the primary game phase.
	TriggerPrimaryGameEnded
	// TriggerResultsPaid reports the win payout complete.
	TriggerResultsPaid
	// TriggerGameIdle releases the game-ended hold.
	TriggerGameIdle
	// TriggerPresentationReleased releases the presentation hold.
	TriggerPresentationReleased
	// TriggerProcessExited abandons a round at process exit.
	TriggerProcessExited
	// TriggerInitializationFailed abandons a round that failed to set up.
	TriggerInitializationFailed
)

// String returns the string representation of the trigger
func (t Trigger) String() string {
	switch t {
	case TriggerPlayInitiated:
		return "playInitiated"
	case TriggerOutcomeRequested:
		return "outcomeRequested"
	case TriggerOutcomeRequestFailed:
		return "outcomeRequestFailed"
	case TriggerPrimaryGameStarted:
		return "primaryGameStarted"
	case TriggerWagerChanged:
		return "wagerChanged"
	case TriggerProgressiveHit:
		return "progressiveHit"
	case TriggerProgressiveCommitted:
		return "progressiveCommitted"
	case TriggerSecondaryGameOffered:
		return "secondaryGameOffered"
	case TriggerSecondaryGameEscrowed:
		return "secondaryGameEscrowed"
	case TriggerSecondaryEscrowFailed:
		return "secondaryEscrowFailed"
	case TriggerSecondaryGameStarted:
		return "secondaryGameStarted"
	case TriggerSecondaryGameEnded:
		return "secondaryGameEnded"
	case TriggerPrimaryGameEnded:
		return "primaryGameEnded"
	case TriggerResultsPaid:
		return "resultsPaid"
	case TriggerGameIdle:
		return "gameIdle"
	case TriggerPresentationReleased:
		return "presentationReleased"
	case TriggerProcessExited:
		return "processExited"
	case TriggerInitializationFailed:
		return "initializationFailed"
	}
	return fmt.Sprintf("trigger(%d)", int(t))
}
