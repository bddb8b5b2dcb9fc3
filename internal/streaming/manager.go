// Package streaming broadcasts execution events produced by the
// session engine: step results, suspensions and lifecycle transitions.
// The in-memory Manager serves in-process subscribers; RedisManager
// carries the same events across processes on Redis Streams.
package streaming

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/Kocoro-lab/stepflow/internal/metrics"
)

// Event types emitted by the session manager.
const (
	TypeSessionCreated   = "session_created"
	TypeSessionStarted   = "session_started"
	TypeStepCompleted    = "step_completed"
	TypeStepFailed       = "step_failed"
	TypeInputRequired    = "input_required"
	TypeSessionResumed   = "session_resumed"
	TypeSessionRetried   = "session_retried"
	TypeSessionCompleted = "session_completed"
	TypeSessionFailed    = "session_failed"
)

// Event is a minimal execution event consumed by display-formatting
// and real-time broadcast collaborators.
type Event struct {
	SessionID string                 `json:"session_id"`
	Type      string                 `json:"type"`
	StepID    int                    `json:"step_id,omitempty"`
	Message   string                 `json:"message,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Seq       uint64                 `json:"seq"`
}

// Marshal returns JSON for event payloads in logs or wire transports.
func (e Event) Marshal() []byte {
	b, _ := json.Marshal(e)
	return b
}

// Publisher is the broadcast capability the session manager consumes.
type Publisher interface {
	Publish(sessionID string, evt Event)
}

// Manager provides in-memory pub/sub for session events with a
// per-session ring buffer for replay.
type Manager struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan Event]struct{}
	history     map[string]*ring
	capacity    int
}

// NewManager creates an in-memory event manager keeping up to capacity
// events per session for replay.
func NewManager(capacity int) *Manager {
	if capacity <= 0 {
		capacity = 256
	}
	return &Manager{
		subscribers: make(map[string]map[chan Event]struct{}),
		history:     make(map[string]*ring),
		capacity:    capacity,
	}
}

// Subscribe adds a subscriber channel for a session; the caller must
// drain it and call Unsubscribe.
func (m *Manager) Subscribe(sessionID string, buffer int) chan Event {
	ch := make(chan Event, buffer)
	m.mu.Lock()
	defer m.mu.Unlock()
	subs := m.subscribers[sessionID]
	if subs == nil {
		subs = make(map[chan Event]struct{})
		m.subscribers[sessionID] = subs
	}
	subs[ch] = struct{}{}
	metrics.EventSubscribers.Inc()
	return ch
}

// Unsubscribe removes the subscriber channel and closes it.
func (m *Manager) Unsubscribe(sessionID string, ch chan Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if subs, ok := m.subscribers[sessionID]; ok {
		if _, ok := subs[ch]; !ok {
			return
		}
		delete(subs, ch)
		close(ch)
		metrics.EventSubscribers.Dec()
		if len(subs) == 0 {
			delete(m.subscribers, sessionID)
		}
	}
}

// Publish sends an event to all subscribers of the session without
// blocking; slow subscribers drop events.
func (m *Manager) Publish(sessionID string, evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	evt.SessionID = sessionID

	m.mu.Lock()
	rg := m.history[sessionID]
	if rg == nil {
		rg = newRing(m.capacity)
		m.history[sessionID] = rg
	}
	evt.Seq = rg.nextSeq
	rg.nextSeq++
	rg.push(evt)
	subs := m.subscribers[sessionID]
	m.mu.Unlock()

	metrics.EventsPublished.WithLabelValues(evt.Type).Inc()
	for ch := range subs {
		select {
		case ch <- evt:
		default:
		}
	}
}

// ReplaySince returns events with Seq > since, best-effort within the
// ring capacity.
func (m *Manager) ReplaySince(sessionID string, since uint64) []Event {
	m.mu.RLock()
	rg := m.history[sessionID]
	m.mu.RUnlock()
	if rg == nil {
		return nil
	}
	return rg.since(since)
}

// ring is a fixed-capacity ring buffer of events.
type ring struct {
	buf     []Event
	start   int
	count   int
	nextSeq uint64
}

func newRing(capacity int) *ring { return &ring{buf: make([]Event, capacity), nextSeq: 1} }

func (r *ring) push(e Event) {
	if len(r.buf) == 0 {
		return
	}
	if r.count < len(r.buf) {
		r.buf[(r.start+r.count)%len(r.buf)] = e
		r.count++
		return
	}
	r.buf[r.start] = e
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) since(seq uint64) []Event {
	if r.count == 0 {
		return nil
	}
	out := make([]Event, 0, r.count)
	for i := 0; i < r.count; i++ {
		ev := r.buf[(r.start+i)%len(r.buf)]
		if ev.Seq > seq {
			out = append(out, ev)
		}
	}
	return out
}
