package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/spinframe/gameround/cmd/gameround/shared"
	"github.com/spinframe/gameround/internal/events"
	"github.com/spinframe/gameround/internal/randutil"
	"github.com/spinframe/gameround/internal/round"
)

// MonitorCmd groups the live event stream utilities.
type MonitorCmd struct {
	Serve MonitorServeCmd `cmd:"serve" help:"Run a simulated machine and stream its round events over websocket"`
	Watch MonitorWatchCmd `cmd:"watch" help:"Watch a round event stream in a terminal UI"`
}

// wireEvent is the JSON shape of one round event on the stream.
type wireEvent struct {
	Kind          string    `json:"kind"`
	State         string    `json:"state,omitempty"`
	Entering      bool      `json:"entering,omitempty"`
	Trigger       string    `json:"trigger,omitempty"`
	TransactionID uint64    `json:"transactionId,omitempty"`
	Wager         uint64    `json:"wager,omitempty"`
	Win           uint64    `json:"win,omitempty"`
	Time          time.Time `json:"time"`
}

// MonitorServeCmd runs the simulation stack continuously and fans round
// events out to websocket subscribers.
type MonitorServeCmd struct {
	Addr     string        `default:":8090" help:"Listen address"`
	Config   string        `short:"c" help:"Simulation profile (HCL)" type:"path"`
	Store    string        `short:"s" help:"SQLite store path; in-memory when empty" type:"path"`
	Seed     int64         `help:"RNG seed; random when zero"`
	Interval time.Duration `default:"1s" help:"Pause between simulated rounds"`
	Debug    bool          `short:"d" help:"Enable debug logging"`
}

func (c *MonitorServeCmd) Run() error {
	logger := shared.SetupStructuredLogger(c.Debug)

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

	broadcaster := newEventBroadcaster(logger)
	broadcaster.attach(stack.bus)
	defer broadcaster.detach(stack.bus)

	mux := http.NewServeMux()
	mux.HandleFunc("/events", broadcaster.handleEvents)
	srv := &http.Server{Addr: c.Addr, Handler: mux}

	ctx := shared.SetupSignalHandlerWithLogger(logger)
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("monitor listening", "addr", c.Addr, "seed", seed)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		if stack.machine.IsRecoveryPending() {
			if err := sim.resume(ctx); err != nil {
				return err
			}
		}
		for n := 1; ; n++ {
			if err := sim.playRound(ctx, n); err != nil {
				return err
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.Interval):
			}
		}
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

const broadcasterID = "eventBroadcaster"

// eventBroadcaster fans round events out to websocket subscribers. Writes
// are serialized under one mutex; a dead connection is dropped on its
// first failed write.
type eventBroadcaster struct {
	logger   *log.Logger
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

func newEventBroadcaster(logger *log.Logger) *eventBroadcaster {
	return &eventBroadcaster{
		logger: logger.WithPrefix("broadcast"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		conns: make(map[*websocket.Conn]struct{}),
	}
}

func (b *eventBroadcaster) attach(bus events.Bus) {
	bus.Subscribe(broadcasterID, round.EventTypeStateChanged, b.onStateChanged)
	bus.Subscribe(broadcasterID, round.EventTypeRoundFailed, b.onRoundFailed)
}

func (b *eventBroadcaster) detach(bus events.Bus) {
	bus.UnsubscribeAll(broadcasterID)
	b.mu.Lock()
	defer b.mu.Unlock()
	for conn := range b.conns {
		_ = conn.Close()
	}
	b.conns = make(map[*websocket.Conn]struct{})
}

func (b *eventBroadcaster) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	b.mu.Lock()
	b.conns[conn] = struct{}{}
	b.mu.Unlock()
	b.logger.Info("subscriber connected", "remote", conn.RemoteAddr())

	// Drain inbound frames so close handshakes are processed.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				b.drop(conn)
				return
			}
		}
	}()
}

func (b *eventBroadcaster) drop(conn *websocket.Conn) {
	b.mu.Lock()
	_, present := b.conns[conn]
	delete(b.conns, conn)
	b.mu.Unlock()
	if present {
		_ = conn.Close()
		b.logger.Info("subscriber disconnected", "remote", conn.RemoteAddr())
	}
}

func (b *eventBroadcaster) publish(evt wireEvent) {
	data, err := json.Marshal(evt)
	if err != nil {
		b.logger.Error("encode event", "error", err)
		return
	}
	b.mu.Lock()
	var dead []*websocket.Conn
	for conn := range b.conns {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			dead = append(dead, conn)
		}
	}
	for _, conn := range dead {
		delete(b.conns, conn)
		_ = conn.Close()
	}
	b.mu.Unlock()
}

func (b *eventBroadcaster) onStateChanged(e events.Event) {
	evt, ok := e.(round.StateChangedEvent)
	if !ok {
		return
	}
	w := wireEvent{
		Kind:     "state",
		State:    evt.State.String(),
		Entering: evt.Entering,
		Trigger:  evt.Trigger.String(),
		Time:     time.Now(),
	}
	if evt.Log != nil {
		w.TransactionID = evt.Log.TransactionID
		w.Wager = evt.Log.FinalWager
		w.Win = evt.Log.FinalWin
	}
	b.publish(w)
}

func (b *eventBroadcaster) onRoundFailed(e events.Event) {
	evt, ok := e.(round.FailedEvent)
	if !ok {
		return
	}
	w := wireEvent{Kind: "failed", Time: time.Now()}
	if evt.Transaction != nil {
		w.TransactionID = evt.Transaction.RoundTransactionID
		w.Wager = evt.Transaction.Wager
	}
	b.publish(w)
}

// MonitorWatchCmd renders a round event stream in a scrolling table.
type MonitorWatchCmd struct {
	URL string `default:"ws://localhost:8090/events" help:"Event stream URL"`
}

func (c *MonitorWatchCmd) Run() error {
	conn, _, err := websocket.DefaultDialer.Dial(c.URL, nil)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", c.URL, err)
	}
	defer conn.Close()

	p := tea.NewProgram(newWatchModel(c.URL))
	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				p.Send(streamClosedMsg{err: err})
				return
			}
			var evt wireEvent
			if err := json.Unmarshal(data, &evt); err != nil {
				continue
			}
			p.Send(streamEventMsg{event: evt})
		}
	}()

	_, err = p.Run()
	return err
}

type streamEventMsg struct {
	event wireEvent
}

type streamClosedMsg struct {
	err error
}

const watchMaxRows = 200

var (
	watchTitleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1).
			Bold(true)
	watchHelpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#626262"))
	watchErrStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))
)

type watchModel struct {
	url    string
	table  table.Model
	rows   []table.Row
	err    error
	closed bool
}

func newWatchModel(url string) watchModel {
	columns := []table.Column{
		{Title: "Time", Width: 12},
		{Title: "Event", Width: 8},
		{Title: "State", Width: 20},
		{Title: "", Width: 5},
		{Title: "Trigger", Width: 22},
		{Title: "Txid", Width: 8},
		{Title: "Wager", Width: 8},
		{Title: "Win", Width: 8},
	}
	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(20),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderBottom(true).
		Bold(true)
	styles.Selected = styles.Selected.
		Foreground(lipgloss.Color("#FFFFFF")).
		Background(lipgloss.Color("#7D56F4"))
	t.SetStyles(styles)

	return watchModel{url: url, table: t}
}

func (m watchModel) Init() tea.Cmd { return nil }

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		height := msg.Height - 5
		if height < 3 {
			height = 3
		}
		m.table.SetHeight(height)
	case streamEventMsg:
		m.rows = append([]table.Row{rowFromEvent(msg.event)}, m.rows...)
		if len(m.rows) > watchMaxRows {
			m.rows = m.rows[:watchMaxRows]
		}
		m.table.SetRows(m.rows)
	case streamClosedMsg:
		m.err = msg.err
		m.closed = true
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m watchModel) View() string {
	var status string
	switch {
	case m.closed:
		status = watchErrStyle.Render(fmt.Sprintf("stream closed: %v", m.err))
	default:
		status = watchHelpStyle.Render("q to quit")
	}
	return fmt.Sprintf("%s\n%s\n%s\n",
		watchTitleStyle.Render("ROUND EVENTS "+m.url),
		m.table.View(),
		status)
}

func rowFromEvent(evt wireEvent) table.Row {
	direction := "exit"
	if evt.Entering {
		direction = "enter"
	}
	if evt.Kind != "state" {
		direction = ""
	}
	return table.Row{
		evt.Time.Format("15:04:05.000"),
		evt.Kind,
		evt.State,
		direction,
		evt.Trigger,
		fmt.Sprintf("%d", evt.TransactionID),
		fmt.Sprintf("%d", evt.Wager),
		fmt.Sprintf("%d", evt.Win),
	}
}
