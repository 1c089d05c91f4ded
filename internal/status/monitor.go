// Package status probes the backend's health endpoint in the background
// and reports the result to the UI.
package status

import (
	"context"
	"fmt"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
)

// State is the outcome of a health probe.
type State int

const (
	StateChecking State = iota
	StateUp
	StateDown
)

func (s State) String() string {
	switch s {
	case StateUp:
		return "up"
	case StateDown:
		return "down"
	default:
		return "checking"
	}
}

// Prober is the health half of the transport.
type Prober interface {
	Health(ctx context.Context) (string, error)
}

// Result is the state of the backend as of CheckedAt.
type Result struct {
	State     State
	Detail    string
	CheckedAt time.Time
}

// ResultMsg is a tea.Msg sent whenever the monitor's state changes.
type ResultMsg struct {
	Result Result
}

// Monitor runs health probes at startup, on Trigger, and every interval
// when interval is positive.
type Monitor struct {
	prober   Prober
	interval time.Duration
	log      zerolog.Logger

	resultCh  chan ResultMsg
	triggerCh chan struct{}

	mu      sync.Mutex
	current Result
	running bool
	cancel  context.CancelFunc
}

// New creates a monitor. A zero interval means probes only run at start
// and on demand.
func New(prober Prober, interval time.Duration, log zerolog.Logger) *Monitor {
	return &Monitor{
		prober:    prober,
		interval:  interval,
		log:       log,
		resultCh:  make(chan ResultMsg, 16),
		triggerCh: make(chan struct{}, 1),
		current:   Result{State: StateChecking, Detail: "Checking backend…"},
	}
}

// Probe performs one health check and records its result. There is no
// retry.
func (m *Monitor) Probe(ctx context.Context) Result {
	m.set(Result{State: StateChecking, Detail: "Checking backend…", CheckedAt: time.Now()})

	res := Result{CheckedAt: time.Now()}
	status, err := m.prober.Health(ctx)
	switch {
	case err != nil:
		res.State = StateDown
		res.Detail = err.Error()
	case status == "ok":
		res.State = StateUp
		res.Detail = "Backend is up"
	default:
		res.State = StateDown
		res.Detail = fmt.Sprintf("unexpected health status %q", status)
	}

	m.log.Debug().Stringer("state", res.State).Str("detail", res.Detail).Msg("health probe")
	m.set(res)
	return res
}

// Current returns the latest known result.
func (m *Monitor) Current() Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Start launches the probe loop and returns a command that delivers the
// first ResultMsg. It returns nil when the loop is already running.
func (m *Monitor) Start() tea.Cmd {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.running = true
	m.cancel = cancel
	m.mu.Unlock()

	go m.loop(ctx)

	return m.waitForResult()
}

// Stop halts the probe loop and cancels an in-flight probe.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}
	m.cancel()
	m.running = false
}

// Trigger requests an immediate probe. Requests made while one is
// already queued are merged.
func (m *Monitor) Trigger() tea.Cmd {
	select {
	case m.triggerCh <- struct{}{}:
	default:
	}
	return nil
}

func (m *Monitor) loop(ctx context.Context) {
	var tick <-chan time.Time
	if m.interval > 0 {
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	m.Probe(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
			m.Probe(ctx)
		case <-m.triggerCh:
			m.Probe(ctx)
		}
	}
}

func (m *Monitor) set(res Result) {
	m.mu.Lock()
	m.current = res
	m.mu.Unlock()

	select {
	case m.resultCh <- ResultMsg{Result: res}:
	default:
		// Drop if channel is full to avoid blocking the loop.
	}
}

func (m *Monitor) waitForResult() tea.Cmd {
	return func() tea.Msg {
		return <-m.resultCh
	}
}

// WaitForNextResult returns a tea.Cmd that waits for the next result.
// Call it after handling each ResultMsg to keep listening.
func (m *Monitor) WaitForNextResult() tea.Cmd {
	return m.waitForResult()
}
