// Package streaming is the in-process pub/sub bus for research progress
// events. Activities publish as a workflow advances; the SSE and WebSocket
// handlers subscribe. Each workflow keeps a fixed-capacity ring of recent
// events so reconnecting clients can replay from a Last-Event-ID.
package streaming

import (
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"
)

// EventType labels a progress event on the wire.
type EventType string

const (
	EventWorkflowStarted   EventType = "WORKFLOW_STARTED"
	EventModeSelected      EventType = "MODE_SELECTED"
	EventIterationStarted  EventType = "ITERATION_STARTED"
	EventSearchStarted     EventType = "SEARCH_STARTED"
	EventSearchCompleted   EventType = "SEARCH_COMPLETED"
	EventGapAnalysis       EventType = "GAP_ANALYSIS"
	EventSynthesisStarted  EventType = "SYNTHESIS_STARTED"
	EventCitationRepair    EventType = "CITATION_REPAIR"
	EventAnswerReady       EventType = "ANSWER_READY"
	EventWorkflowCompleted EventType = "WORKFLOW_COMPLETED"
	EventErrorOccurred     EventType = "ERROR_OCCURRED"
)

// Event is one research progress update.
type Event struct {
	WorkflowID string                 `json:"workflow_id"`
	Type       EventType              `json:"type"`
	Stage      string                 `json:"stage,omitempty"`
	Message    string                 `json:"message,omitempty"`
	Iteration  int                    `json:"iteration,omitempty"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
	Seq        uint64                 `json:"seq"`
}

// Marshal returns the event as JSON for SSE data lines and WS frames.
func (e Event) Marshal() []byte {
	b, _ := json.Marshal(e)
	return b
}

const (
	defaultCapacity  = 256
	defaultBuffer    = 32
	sweepInterval    = time.Minute
	defaultRetention = 15 * time.Minute
)

// Manager fans events out to per-workflow subscribers and keeps a replay
// ring per workflow. Publishing never blocks: subscribers that fall behind
// lose events and recover them through replay.
type Manager struct {
	logger   *zap.Logger
	capacity int

	mu          sync.Mutex
	subscribers map[string]map[chan Event]struct{}
	history     map[string]*ring

	stopCh  chan struct{}
	started bool
	wg      sync.WaitGroup
}

// NewManager creates a manager whose replay rings hold capacity events each.
func NewManager(capacity int, logger *zap.Logger) *Manager {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		logger:      logger,
		capacity:    capacity,
		subscribers: make(map[string]map[chan Event]struct{}),
		history:     make(map[string]*ring),
	}
}

// Subscribe registers a channel for a workflow's events. The caller must
// drain it and call Unsubscribe when done. A buffer <= 0 uses the default.
func (m *Manager) Subscribe(workflowID string, buffer int) chan Event {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	ch := make(chan Event, buffer)

	m.mu.Lock()
	defer m.mu.Unlock()
	subs := m.subscribers[workflowID]
	if subs == nil {
		subs = make(map[chan Event]struct{})
		m.subscribers[workflowID] = subs
	}
	subs[ch] = struct{}{}
	activeSubscribers.Inc()
	return ch
}

// Unsubscribe removes and closes a subscriber channel.
func (m *Manager) Unsubscribe(workflowID string, ch chan Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	subs, ok := m.subscribers[workflowID]
	if !ok {
		return
	}
	if _, ok := subs[ch]; !ok {
		return
	}
	delete(subs, ch)
	close(ch)
	activeSubscribers.Dec()
	if len(subs) == 0 {
		delete(m.subscribers, workflowID)
	}
}

// Publish assigns the event a sequence number, records it for replay, and
// offers it to every subscriber of the workflow. Sends happen under the
// manager lock so a concurrent Unsubscribe cannot close a channel mid-send;
// they are non-blocking so a stalled client costs nothing.
func (m *Manager) Publish(workflowID string, evt Event) {
	if workflowID == "" {
		return
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	evt.WorkflowID = workflowID

	m.mu.Lock()
	defer m.mu.Unlock()

	rg := m.history[workflowID]
	if rg == nil {
		rg = newRing(m.capacity)
		m.history[workflowID] = rg
	}
	evt.Seq = rg.append(evt)
	eventsPublished.WithLabelValues(string(evt.Type)).Inc()

	for ch := range m.subscribers[workflowID] {
		select {
		case ch <- evt:
		default:
			lagDrops.Inc()
		}
	}
}

// ReplaySince returns buffered events with Seq > since in order. Sequence
// numbers start at 1, so since 0 replays everything still in the ring.
func (m *Manager) ReplaySince(workflowID string, since uint64) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	rg := m.history[workflowID]
	if rg == nil {
		return nil
	}
	return rg.since(since)
}

// SubscriberCount reports how many channels are attached to a workflow.
func (m *Manager) SubscriberCount(workflowID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subscribers[workflowID])
}

// Start launches the background sweep that drops replay rings for
// workflows with no subscribers and no recent events. Without it the
// history map would grow with every workflow ever streamed.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}
	m.started = true
	m.stopCh = make(chan struct{})
	m.wg.Add(1)
	go m.sweepLoop(m.stopCh)
}

// Stop halts the background sweep. Subscribers are unaffected.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	m.started = false
	stopCh := m.stopCh
	m.mu.Unlock()
	close(stopCh)
	m.wg.Wait()
}

func (m *Manager) sweepLoop(stopCh <-chan struct{}) {
	defer m.wg.Done()
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			if n := m.Sweep(defaultRetention); n > 0 {
				m.logger.Debug("Swept idle event streams", zap.Int("removed", n))
			}
		}
	}
}

// Sweep removes replay rings that have no subscribers and whose last event
// is older than retention. It returns the number of rings removed.
func (m *Manager) Sweep(retention time.Duration) int {
	cutoff := time.Now().Add(-retention)
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for workflowID, rg := range m.history {
		if len(m.subscribers[workflowID]) > 0 {
			continue
		}
		if rg.lastAppend.After(cutoff) {
			continue
		}
		delete(m.history, workflowID)
		removed++
	}
	return removed
}

// ring is a fixed-capacity buffer of the newest events for one workflow.
// All access is serialized by the manager mutex.
type ring struct {
	buf        []Event
	start      int
	count      int
	nextSeq    uint64
	lastAppend time.Time
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]Event, capacity), nextSeq: 1}
}

// append stores the event, overwriting the oldest when full, and returns
// the sequence number assigned to it.
func (r *ring) append(e Event) uint64 {
	seq := r.nextSeq
	r.nextSeq++
	e.Seq = seq
	r.lastAppend = time.Now()
	if r.count < len(r.buf) {
		r.buf[(r.start+r.count)%len(r.buf)] = e
		r.count++
		return seq
	}
	r.buf[r.start] = e
	r.start = (r.start + 1) % len(r.buf)
	return seq
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
