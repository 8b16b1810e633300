package history

import "fmt"

// PlayState is the persisted phase of a game round. It doubles as the
// round state machine's state type: recovery rebuilds the machine from
// the last persisted play state.
type PlayState int

const (
	// Idle is both the initial state and the normal rest state.
	Idle PlayState = iota
	// Initiated means a play request was accepted but wager escrow has
	// not begun.
	Initiated
	// PrimaryGameEscrow holds the wager while outcome determination is
	// outstanding.
	PrimaryGameEscrow
	// PrimaryGameStarted is the active primary game phase.
	PrimaryGameStarted
	// ProgressivePending waits for a progressive hit to settle.
	ProgressivePending
	// SecondaryGameChoice offers a secondary game to the player.
	SecondaryGameChoice
	// SecondaryGameEscrow holds the secondary stake.
	SecondaryGameEscrow
	// SecondaryGameStarted is the active secondary game phase.
	SecondaryGameStarted
	// PayGameResults pays a nonzero win.
	PayGameResults
	// GameEnded is the terminal hold before returning to idle.
	GameEnded
	// PresentationIdle holds the end-of-round presentation until the
	// platform releases it or a new play request arrives.
	PresentationIdle
)

// String returns the string representation of the play state
func (ps PlayState) String() string {
	switch ps {
	case Idle:
		return "idle"
	case Initiated:
		return "initiated"
	case PrimaryGameEscrow:
		return "primaryGameEscrow"
	case PrimaryGameStarted:
		return "primaryGameStarted"
	case ProgressivePending:
		return "progressivePending"
	case SecondaryGameChoice:
		return "secondaryGameChoice"
	case SecondaryGameEscrow:
		return "secondaryGameEscrow"
	case SecondaryGameStarted:
		return "secondaryGameStarted"
	case PayGameResults:
		return "payGameResults"
	case GameEnded:
		return "gameEnded"
	case PresentationIdle:
		return "presentationIdle"
	}
	return fmt.Sprintf("playState(%d)", int(ps))
}

// Result is the overall disposition of a round.
type Result int

const (
	// ResultPending means the round has not finished.
	ResultPending Result = iota
	// ResultCompleted means the round finished normally.
	ResultCompleted
	// ResultFailed means outcome determination failed and the round was
	// abandoned.
	ResultFailed
)

// String returns the string representation of the result
func (r Result) String() string {
	switch r {
	case ResultPending:
		return "pending"
	case ResultCompleted:
		return "completed"
	case ResultFailed:
		return "failed"
	}
	return fmt.Sprintf("result(%d)", int(r))
}
