// Package wifi decides whether the network is usable before the clock tries to get the time from
// it.  The network stack reports events; Manager turns them into one of two outcomes, connected or
// failed, retrying association a bounded number of times.
package wifi

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/net/trace"
)

// DefaultMaxRetries is how many times association is retried after a disconnect.
const DefaultMaxRetries = 5

// ErrFailed is returned by WaitForOutcome when the retry budget ran out.
var ErrFailed = errors.New("could not connect to network")

// State is the state of the connection attempt.
type State int

const (
	Idle State = iota
	Connecting
	Connected
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Event is something the network stack tells us about.
type Event int

const (
	EventDisconnected Event = iota
	EventGotIP
)

func (e Event) String() string {
	switch e {
	case EventDisconnected:
		return "disconnected"
	case EventGotIP:
		return "got ip"
	default:
		return fmt.Sprintf("Event(%d)", int(e))
	}
}

// Station is the adapter to the host's network stack.  Associate starts (or restarts) association
// and returns; the outcome is reported later by sending an Event.
type Station interface {
	Associate(ctx context.Context, events chan<- Event) error
}

var (
	stateGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "network_state",
		Help: "state of the network connection: 0 idle, 1 connecting, 2 connected, 3 failed",
	})
	retryCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "network_retries",
		Help: "count of association attempts made after a disconnect",
	})
)

// transition is the state machine.  It returns the next state and retry count, and whether
// association should be attempted again.
func transition(s State, retries, maxRetries int, e Event) (State, int, bool) {
	switch s {
	case Connecting, Connected:
		switch e {
		case EventGotIP:
			return Connected, 0, false
		case EventDisconnected:
			if retries < maxRetries {
				return Connecting, retries + 1, true
			}
			return Failed, retries, false
		}
	}
	// Idle hasn't started; Failed is terminal.
	return s, retries, false
}

// Manager owns the connection state.
type Manager struct {
	station        Station
	maxRetries     int
	reconnectDelay time.Duration
	events         chan Event

	mu      sync.Mutex
	state   State // must hold mu
	retries int   // must hold mu

	startOnce   sync.Once
	outcomeOnce sync.Once
	outcomeCh   chan struct{} // closed when state first becomes Connected or Failed
	outcome     State         // written before outcomeCh is closed
}

// NewManager returns a Manager that retries association up to maxRetries times, waiting
// reconnectDelay before each retry.
func NewManager(s Station, maxRetries int, reconnectDelay time.Duration) *Manager {
	return &Manager{
		station:        s,
		maxRetries:     maxRetries,
		reconnectDelay: reconnectDelay,
		events:         make(chan Event, 16),
		outcomeCh:      make(chan struct{}),
	}
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Retries returns the number of retries used since the last time an address was acquired.
func (m *Manager) Retries() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.retries
}

// Notify queues an event for the state machine.  Stations normally send to the channel passed to
// Associate instead.
func (m *Manager) Notify(e Event) {
	m.events <- e
}

// Start begins associating and processes events until the context is done.  Calling it again
// has no effect.
func (m *Manager) Start(ctx context.Context) {
	m.startOnce.Do(func() {
		m.mu.Lock()
		m.state = Connecting
		m.mu.Unlock()
		stateGauge.Set(float64(Connecting))
		go m.run(ctx)
	})
}

func (m *Manager) associate(ctx context.Context, l trace.EventLog) {
	if err := m.station.Associate(ctx, m.events); err != nil {
		l.Errorf("associate: %v", err)
		select {
		case m.events <- EventDisconnected:
		case <-ctx.Done():
		}
	}
}

func (m *Manager) run(ctx context.Context) {
	l := trace.NewEventLog("network", "connectivity")
	defer l.Finish()
	l.Printf("starting association")
	m.associate(ctx, l)
	for {
		var e Event
		select {
		case <-ctx.Done():
			l.Printf("stopping: %v", ctx.Err())
			return
		case e = <-m.events:
		}

		m.mu.Lock()
		prev := m.state
		next, retries, retry := transition(m.state, m.retries, m.maxRetries, e)
		m.state, m.retries = next, retries
		m.mu.Unlock()
		stateGauge.Set(float64(next))
		l.Printf("%v: %v -> %v (retry %d/%d)", e, prev, next, retries, m.maxRetries)

		switch next {
		case Connected:
			if prev != Connected {
				log.Printf("network connected")
			}
			m.setOutcome(Connected)
		case Failed:
			if prev != Failed {
				log.Printf("network connection failed after %d retries", retries)
				l.Errorf("retry budget exhausted")
			}
			m.setOutcome(Failed)
		}
		if retry {
			retryCounter.Inc()
			if m.reconnectDelay > 0 {
				select {
				case <-time.After(m.reconnectDelay):
				case <-ctx.Done():
					return
				}
			}
			m.associate(ctx, l)
		}
	}
}

func (m *Manager) setOutcome(s State) {
	m.outcomeOnce.Do(func() {
		m.outcome = s
		close(m.outcomeCh)
	})
}

// WaitForOutcome blocks until the connection either succeeds or runs out of retries, returning
// Connected or Failed (with ErrFailed).  There is no timeout other than the retry budget and the
// context.
func (m *Manager) WaitForOutcome(ctx context.Context) (State, error) {
	select {
	case <-m.outcomeCh:
	case <-ctx.Done():
		return m.State(), fmt.Errorf("wait for network: %w", ctx.Err())
	}
	if m.outcome == Failed {
		return Failed, ErrFailed
	}
	return Connected, nil
}
