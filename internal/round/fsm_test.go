package round

import (
	"io"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"

	"github.com/spinframe/gameround/internal/history"
)

func newTestTable(initial history.PlayState) *table {
	return newTable(log.New(io.Discard), initial)
}

func TestFirePermittedTransition(t *testing.T) {
	t.Parallel()
	tbl := newTestTable(history.Idle)
	tbl.configure(history.Idle).permit(TriggerPlayInitiated, history.Initiated)

	assert.True(t, tbl.fire(TriggerPlayInitiated))
	assert.Equal(t, history.Initiated, tbl.state)
}

func TestFireUnpermittedTriggerIsIgnored(t *testing.T) {
	t.Parallel()
	tbl := newTestTable(history.Idle)
	tbl.configure(history.Idle).permit(TriggerPlayInitiated, history.Initiated)

	assert.False(t, tbl.fire(TriggerResultsPaid))
	assert.Equal(t, history.Idle, tbl.state)
}

func TestFireInUnconfiguredState(t *testing.T) {
	t.Parallel()
	tbl := newTestTable(history.PayGameResults)
	assert.False(t, tbl.fire(TriggerResultsPaid))
	assert.Equal(t, history.PayGameResults, tbl.state)
}

func TestGuardBlocksTransition(t *testing.T) {
	t.Parallel()
	allowed := false
	tbl := newTestTable(history.Idle)
	tbl.configure(history.Idle).permitIf(TriggerPlayInitiated, history.Initiated, func() bool { return allowed })

	assert.False(t, tbl.fire(TriggerPlayInitiated))
	assert.Equal(t, history.Idle, tbl.state)

	allowed = true
	assert.True(t, tbl.fire(TriggerPlayInitiated))
	assert.Equal(t, history.Initiated, tbl.state)
}

func TestCanFireDoesNotTransition(t *testing.T) {
	t.Parallel()
	allowed := false
	tbl := newTestTable(history.Idle)
	tbl.configure(history.Idle).permitIf(TriggerPlayInitiated, history.Initiated, func() bool { return allowed })

	assert.False(t, tbl.canFire(TriggerPlayInitiated))
	assert.False(t, tbl.canFire(TriggerResultsPaid))

	allowed = true
	assert.True(t, tbl.canFire(TriggerPlayInitiated))
	assert.Equal(t, history.Idle, tbl.state)
}

func TestReentryRunsHooks(t *testing.T) {
	t.Parallel()
	var entries, exits int
	tbl := newTestTable(history.PrimaryGameStarted)
	tbl.configure(history.PrimaryGameStarted).
		permitReentry(TriggerWagerChanged).
		onEntry(func(from, to history.PlayState, trg Trigger) { entries++ }).
		onExit(func(from, to history.PlayState, trg Trigger) { exits++ })

	assert.True(t, tbl.fire(TriggerWagerChanged))
	assert.Equal(t, history.PrimaryGameStarted, tbl.state)
	assert.Equal(t, 1, entries)
	assert.Equal(t, 1, exits)
}

func TestDynamicTargetResolution(t *testing.T) {
	t.Parallel()
	target := history.GameEnded
	tbl := newTestTable(history.PrimaryGameStarted)
	tbl.configure(history.PrimaryGameStarted).
		permitDynamic(TriggerPrimaryGameEnded, func() history.PlayState { return target })

	assert.True(t, tbl.fire(TriggerPrimaryGameEnded))
	assert.Equal(t, history.GameEnded, tbl.state)

	tbl.state = history.PrimaryGameStarted
	target = history.PayGameResults
	assert.True(t, tbl.fire(TriggerPrimaryGameEnded))
	assert.Equal(t, history.PayGameResults, tbl.state)
}

func TestHookOrderExitBeforeEntry(t *testing.T) {
	t.Parallel()
	var order []string
	tbl := newTestTable(history.Idle)
	tbl.configure(history.Idle).
		permit(TriggerPlayInitiated, history.Initiated).
		onExit(func(from, to history.PlayState, trg Trigger) {
			order = append(order, "exit:"+from.String())
		})
	tbl.configure(history.Initiated).
		onEntry(func(from, to history.PlayState, trg Trigger) {
			order = append(order, "entry:"+to.String())
		})

	tbl.fire(TriggerPlayInitiated)
	assert.Equal(t, []string{"exit:idle", "entry:initiated"}, order)
}

func TestEveryTriggerSafeInEveryState(t *testing.T) {
	t.Parallel()
	// The full machine table must tolerate any trigger in any state
	// without panicking; unhandled inputs simply return false.
	for state := history.Idle; state <= history.PresentationIdle; state++ {
		tbl := newTestTable(history.Idle)
		tbl.configure(history.Idle).permit(TriggerPlayInitiated, history.Initiated)
		tbl.state = state
		for trg := TriggerPlayInitiated; trg <= TriggerInitializationFailed; trg++ {
			assert.NotPanics(t, func() { tbl.fire(trg) })
		}
	}
}
