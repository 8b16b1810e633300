package outcome

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spinframe/gameround/internal/events"
	"github.com/spinframe/gameround/internal/history"
	"github.com/spinframe/gameround/internal/ids"
	"github.com/spinframe/gameround/internal/properties"
	"github.com/spinframe/gameround/internal/storage"
)

type sinkStub struct {
	mu       sync.Mutex
	roundID  uint64
	outcomes []history.Outcome
}

func (s *sinkStub) CurrentTransactionID() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roundID
}

func (s *sinkStub) AppendOutcomes(scope storage.Scope, outcomes []history.Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes = append(s.outcomes, outcomes...)
	return nil
}

type handlerStub struct {
	mu       sync.Mutex
	requests []PlayRequest
	ctxs     []context.Context
	got      chan PlayRequest
}

func newHandlerStub() *handlerStub {
	return &handlerStub{got: make(chan PlayRequest, 8)}
}

func (h *handlerStub) RequestPlay(ctx context.Context, req PlayRequest) {
	h.mu.Lock()
	h.requests = append(h.requests, req)
	h.ctxs = append(h.ctxs, ctx)
	h.mu.Unlock()
	h.got <- req
}

func (h *handlerStub) wait(t *testing.T) PlayRequest {
	t.Helper()
	select {
	case req := <-h.got:
		return req
	case <-time.After(5 * time.Second):
		t.Fatal("handler never received a play request")
		return PlayRequest{}
	}
}

func (h *handlerStub) ctx(i int) context.Context {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ctxs[i]
}

type controllerStub struct {
	mu       sync.Mutex
	ready    []*Transaction
	failed   []*Transaction
	accepted bool
}

func (c *controllerStub) OutcomesReady(tx *Transaction) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ready = append(c.ready, tx)
	return c.accepted
}

func (c *controllerStub) OutcomeFailure(tx *Transaction) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failed = append(c.failed, tx)
}

func (c *controllerStub) readyCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.ready)
}

func (c *controllerStub) failedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.failed)
}

type registryFixture struct {
	store      *storage.MemStore
	props      *properties.MemStore
	bus        *events.SimpleBus
	sink       *sinkStub
	handler    *handlerStub
	controller *controllerStub
	registry   *Registry

	eventsMu  sync.Mutex
	published []events.Type
}

func newRegistryFixture(t *testing.T, seed map[string]any) *registryFixture {
	t.Helper()
	f := &registryFixture{
		store:      storage.NewMemStore(),
		props:      properties.NewMemStore(seed),
		bus:        events.NewBus(),
		sink:       &sinkStub{roundID: 1},
		handler:    newHandlerStub(),
		controller: &controllerStub{accepted: true},
	}
	provider, err := ids.NewStoreProvider(f.store)
	require.NoError(t, err)
	reg, err := NewRegistry(log.New(io.Discard), f.store, provider, f.props, quartz.NewMock(t), f.bus, f.sink)
	require.NoError(t, err)
	f.registry = reg
	reg.RegisterHandler(f.handler)
	reg.SetController(f.controller)

	record := func(e events.Event) {
		f.eventsMu.Lock()
		f.published = append(f.published, e.EventType())
		f.eventsMu.Unlock()
	}
	for _, et := range []events.Type{EventTypeOutcomeRequested, EventTypeOutcomeCommitted, EventTypeOutcomeFailed, EventTypeOutcomeAcknowledged} {
		f.bus.Subscribe("test", et, record)
	}
	return f
}

func (f *registryFixture) reopen(t *testing.T) *Registry {
	t.Helper()
	provider, err := ids.NewStoreProvider(f.store)
	require.NoError(t, err)
	reg, err := NewRegistry(log.New(io.Discard), f.store, provider, f.props, quartz.NewMock(t), f.bus, f.sink)
	require.NoError(t, err)
	reg.RegisterHandler(f.handler)
	reg.SetController(f.controller)
	return reg
}

func (f *registryFixture) request(t *testing.T) PlayRequest {
	t.Helper()
	require.True(t, f.registry.RequestOutcomes(7, 25, "main", 3, 100, Request{Quantity: 1}, false))
	return f.handler.wait(t)
}

func (f *registryFixture) eventTypes() []events.Type {
	f.eventsMu.Lock()
	defer f.eventsMu.Unlock()
	return append([]events.Type(nil), f.published...)
}

func TestRequestRejectedWithoutHandler(t *testing.T) {
	t.Parallel()
	f := newRegistryFixture(t, nil)
	f.registry.UnregisterHandler()
	assert.False(t, f.registry.RequestOutcomes(7, 25, "main", 3, 100, Request{Quantity: 1}, false))
}

func TestRequestRejectedOnZeroWagerOrQuantity(t *testing.T) {
	t.Parallel()
	f := newRegistryFixture(t, nil)
	assert.False(t, f.registry.RequestOutcomes(7, 25, "main", 3, 0, Request{Quantity: 1}, false))
	assert.False(t, f.registry.RequestOutcomes(7, 25, "main", 3, 100, Request{Quantity: 0}, false))
	assert.Empty(t, f.eventTypes())
}

func TestRequestDispatchesToHandler(t *testing.T) {
	t.Parallel()
	f := newRegistryFixture(t, nil)

	req := f.request(t)
	assert.Equal(t, uint32(7), req.GameID)
	assert.Equal(t, uint64(100), req.Wager)
	assert.False(t, req.Recovering)

	tx, ok := f.registry.GetByID(req.TransactionID)
	require.True(t, ok)
	assert.Equal(t, StateRequested, tx.State)
	assert.Equal(t, ExceptionPending, tx.Exception)
	assert.Equal(t, uint64(1), tx.RoundTransactionID)
	assert.Equal(t, []events.Type{EventTypeOutcomeRequested}, f.eventTypes())
}

func TestResponseCommitsBeforeNotifying(t *testing.T) {
	t.Parallel()
	f := newRegistryFixture(t, nil)
	req := f.request(t)

	outcomes := []history.Outcome{{ID: 1, Kind: "reelStop", Value: 4}}
	f.registry.OutcomeResponse(req.TransactionID, outcomes, ExceptionNone, []string{"four"})

	tx, ok := f.registry.GetByID(req.TransactionID)
	require.True(t, ok)
	assert.Equal(t, StateCommitted, tx.State)
	assert.Equal(t, ExceptionNone, tx.Exception)
	require.Len(t, tx.Outcomes, 1)

	// The round log received the redundant copy in the same commit.
	assert.Len(t, f.sink.outcomes, 1)
	assert.Equal(t, 1, f.controller.readyCount())
	assert.Equal(t, []events.Type{EventTypeOutcomeRequested, EventTypeOutcomeCommitted}, f.eventTypes())

	// The in-flight context is released once the response lands.
	assert.ErrorIs(t, f.handler.ctx(0).Err(), context.Canceled)
}

func TestDuplicateResponseIgnored(t *testing.T) {
	t.Parallel()
	f := newRegistryFixture(t, nil)
	req := f.request(t)

	f.registry.OutcomeResponse(req.TransactionID, []history.Outcome{{ID: 1}}, ExceptionNone, nil)
	f.registry.OutcomeResponse(req.TransactionID, []history.Outcome{{ID: 2}}, ExceptionNone, nil)

	tx, _ := f.registry.GetByID(req.TransactionID)
	require.Len(t, tx.Outcomes, 1)
	assert.Equal(t, uint64(1), tx.Outcomes[0].ID)
	assert.Equal(t, 1, f.controller.readyCount())
}

func TestSupersededRequestIsCancelledAndItsResponseIgnored(t *testing.T) {
	t.Parallel()
	f := newRegistryFixture(t, nil)
	first := f.request(t)

	// A second request cancels the first one's context.
	f.sink.mu.Lock()
	f.sink.roundID = 2
	f.sink.mu.Unlock()
	second := f.request(t)
	assert.ErrorIs(t, f.handler.ctx(0).Err(), context.Canceled)

	// A late response for the superseded request must not resolve it.
	f.registry.OutcomeResponse(first.TransactionID, []history.Outcome{{ID: 9}}, ExceptionNone, nil)
	tx, _ := f.registry.GetByID(first.TransactionID)
	assert.Equal(t, StateRequested, tx.State)
	assert.Zero(t, f.controller.readyCount())

	// The active request still resolves normally.
	f.registry.OutcomeResponse(second.TransactionID, []history.Outcome{{ID: 10}}, ExceptionNone, nil)
	tx, _ = f.registry.GetByID(second.TransactionID)
	assert.Equal(t, StateCommitted, tx.State)
}

func TestSupersededResponseIgnoredAfterReplacementResolves(t *testing.T) {
	t.Parallel()
	f := newRegistryFixture(t, nil)
	first := f.request(t)
	second := f.request(t)

	f.registry.OutcomeResponse(second.TransactionID, []history.Outcome{{ID: 10}}, ExceptionNone, nil)
	require.Equal(t, 1, f.controller.readyCount())

	// The first handler reports late, after the replacement request for
	// the same round has already resolved and nothing is in flight. Its
	// response must not commit or reach the round.
	f.registry.OutcomeResponse(first.TransactionID, []history.Outcome{{ID: 9}}, ExceptionNone, nil)

	tx, _ := f.registry.GetByID(first.TransactionID)
	assert.Equal(t, StateRequested, tx.State)
	assert.Equal(t, 1, f.controller.readyCount())
	require.Len(t, f.sink.outcomes, 1)
	assert.Equal(t, uint64(10), f.sink.outcomes[0].ID)
}

func TestZeroIDResponseResolvesPendingRequest(t *testing.T) {
	t.Parallel()
	f := newRegistryFixture(t, nil)
	req := f.request(t)

	f.registry.OutcomeResponse(0, []history.Outcome{{ID: 3}}, ExceptionNone, nil)

	tx, _ := f.registry.GetByID(req.TransactionID)
	assert.Equal(t, StateCommitted, tx.State)
}

func TestFailureResponseNotifiesController(t *testing.T) {
	t.Parallel()
	f := newRegistryFixture(t, nil)
	req := f.request(t)

	f.registry.OutcomeResponse(req.TransactionID, nil, ExceptionOther, nil)

	tx, _ := f.registry.GetByID(req.TransactionID)
	assert.Equal(t, StateFailed, tx.State)
	assert.Equal(t, ExceptionOther, tx.Exception)
	assert.Equal(t, 1, f.controller.failedCount())
	assert.Equal(t, []events.Type{EventTypeOutcomeRequested, EventTypeOutcomeFailed}, f.eventTypes())
}

func TestFailedSlotReclaimedByDefault(t *testing.T) {
	t.Parallel()
	f := newRegistryFixture(t, nil)
	first := f.request(t)
	f.registry.OutcomeResponse(first.TransactionID, nil, ExceptionOther, nil)

	failed, _ := f.registry.GetByID(first.TransactionID)

	f.sink.mu.Lock()
	f.sink.roundID = 2
	f.sink.mu.Unlock()
	second := f.request(t)
	next, _ := f.registry.GetByID(second.TransactionID)

	assert.Equal(t, failed.StorageIndex, next.StorageIndex)
	assert.Equal(t, failed.LogSequence, next.LogSequence)
	assert.Greater(t, next.TransactionID, failed.TransactionID)

	// The failed record itself is gone from the ring.
	_, ok := f.registry.GetByID(first.TransactionID)
	assert.False(t, ok)
}

func TestFailedSlotRetainedByPolicy(t *testing.T) {
	t.Parallel()
	f := newRegistryFixture(t, map[string]any{properties.KeepFailedOutcomes: true})
	first := f.request(t)
	f.registry.OutcomeResponse(first.TransactionID, nil, ExceptionOther, nil)
	failed, _ := f.registry.GetByID(first.TransactionID)

	second := f.request(t)
	next, _ := f.registry.GetByID(second.TransactionID)

	assert.NotEqual(t, failed.StorageIndex, next.StorageIndex)
	assert.Greater(t, next.LogSequence, failed.LogSequence)

	_, ok := f.registry.GetByID(first.TransactionID)
	assert.True(t, ok)
}

func TestAcknowledgeOutcomeIdempotent(t *testing.T) {
	t.Parallel()
	f := newRegistryFixture(t, nil)
	req := f.request(t)
	f.registry.OutcomeResponse(req.TransactionID, []history.Outcome{{ID: 1}}, ExceptionNone, nil)

	f.registry.AcknowledgeOutcome(req.TransactionID)
	tx, _ := f.registry.GetByID(req.TransactionID)
	assert.Equal(t, StateAcknowledged, tx.State)

	// Repeats and unknown ids are no-ops.
	f.registry.AcknowledgeOutcome(req.TransactionID)
	f.registry.AcknowledgeOutcome(9999)
	types := f.eventTypes()
	assert.Equal(t, []events.Type{EventTypeOutcomeRequested, EventTypeOutcomeCommitted, EventTypeOutcomeAcknowledged}, types)
}

func TestProcessExitedStampsTimeout(t *testing.T) {
	t.Parallel()
	f := newRegistryFixture(t, nil)
	req := f.request(t)

	f.registry.ProcessExited()

	assert.ErrorIs(t, f.handler.ctx(0).Err(), context.Canceled)
	tx, _ := f.registry.GetByID(req.TransactionID)
	assert.Equal(t, StateRequested, tx.State)
	assert.Equal(t, ExceptionTimedOut, tx.Exception)
}

func TestRecoveryResumesUnresolvedRequest(t *testing.T) {
	t.Parallel()
	f := newRegistryFixture(t, nil)
	req := f.request(t)
	f.registry.ProcessExited()

	reopened := f.reopen(t)
	require.True(t, reopened.RequestOutcomes(7, 25, "main", 3, 100, Request{Quantity: 1}, true))

	resumed := f.handler.wait(t)
	assert.True(t, resumed.Recovering)
	assert.Equal(t, req.TransactionID, resumed.TransactionID)

	// No duplicate transaction was created.
	_, ok := reopened.GetByID(req.TransactionID + 1)
	assert.False(t, ok)
}

func TestRecoveryReplaysResolvedOutcomes(t *testing.T) {
	t.Parallel()
	f := newRegistryFixture(t, nil)
	req := f.request(t)
	f.registry.OutcomeResponse(req.TransactionID, []history.Outcome{{ID: 5}}, ExceptionNone, nil)
	require.Equal(t, 1, f.controller.readyCount())

	reopened := f.reopen(t)
	require.True(t, reopened.RequestOutcomes(7, 25, "main", 3, 100, Request{Quantity: 1}, true))

	// The committed result was replayed synchronously, no new dispatch.
	assert.Equal(t, 2, f.controller.readyCount())
	select {
	case <-f.handler.got:
		t.Fatal("replay must not re-dispatch to the handler")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRecoveryRefusesFailedTransaction(t *testing.T) {
	t.Parallel()
	f := newRegistryFixture(t, nil)
	req := f.request(t)
	f.registry.OutcomeResponse(req.TransactionID, nil, ExceptionOther, nil)

	reopened := f.reopen(t)
	assert.False(t, reopened.RequestOutcomes(7, 25, "main", 3, 100, Request{Quantity: 1}, true))
	assert.Equal(t, 1, f.controller.failedCount())
}

func TestTransactionsSurviveReload(t *testing.T) {
	t.Parallel()
	f := newRegistryFixture(t, nil)
	req := f.request(t)
	f.registry.OutcomeResponse(req.TransactionID, []history.Outcome{{ID: 1, Kind: "reelStop", Value: 4}}, ExceptionNone, []string{"four"})

	reopened := f.reopen(t)
	tx, ok := reopened.GetByID(req.TransactionID)
	require.True(t, ok)
	assert.Equal(t, StateCommitted, tx.State)
	require.Len(t, tx.Outcomes, 1)
	assert.Equal(t, int64(4), tx.Outcomes[0].Value)
	assert.Equal(t, []string{"four"}, tx.Descriptions)
}
