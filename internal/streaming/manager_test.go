package streaming

import (
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

func TestPublishSubscribe(t *testing.T) {
	m := NewManager(8, zaptest.NewLogger(t))
	ch := m.Subscribe("wf-1", 4)
	defer m.Unsubscribe("wf-1", ch)

	m.Publish("wf-1", Event{Type: EventWorkflowStarted, Message: "starting research"})
	m.Publish("wf-1", Event{
		Type:      EventSearchCompleted,
		Stage:     "search",
		Iteration: 1,
		Payload:   map[string]interface{}{"sources": 7},
	})

	first := <-ch
	if first.Type != EventWorkflowStarted || first.Seq != 1 {
		t.Errorf("first = %+v", first)
	}
	if first.WorkflowID != "wf-1" {
		t.Error("publish should stamp the workflow ID")
	}
	if first.Timestamp.IsZero() {
		t.Error("publish should stamp a timestamp")
	}

	second := <-ch
	if second.Type != EventSearchCompleted || second.Seq != 2 {
		t.Errorf("second = %+v", second)
	}
	if second.Payload["sources"] != 7 {
		t.Errorf("payload = %v", second.Payload)
	}
}

func TestReplaySince(t *testing.T) {
	m := NewManager(3, zaptest.NewLogger(t))
	for i := 0; i < 5; i++ {
		m.Publish("wf-replay", Event{Type: EventIterationStarted, Iteration: i + 1})
	}

	tests := []struct {
		name  string
		since uint64
		want  []uint64
	}{
		{"everything still buffered", 0, []uint64{3, 4, 5}},
		{"from the middle", 3, []uint64{4, 5}},
		{"nothing newer", 5, nil},
		{"future id", 10, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := m.ReplaySince("wf-replay", tt.since)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d events, want %d", len(got), len(tt.want))
			}
			for i, ev := range got {
				if ev.Seq != tt.want[i] {
					t.Errorf("event %d seq = %d, want %d", i, ev.Seq, tt.want[i])
				}
			}
		})
	}

	if got := m.ReplaySince("wf-unknown", 0); got != nil {
		t.Errorf("unknown workflow should have no history, got %v", got)
	}
}

func TestSlowSubscriberDropsButCanReplay(t *testing.T) {
	m := NewManager(8, zaptest.NewLogger(t))
	ch := m.Subscribe("wf-slow", 1)
	defer m.Unsubscribe("wf-slow", ch)

	for i := 0; i < 3; i++ {
		m.Publish("wf-slow", Event{Type: EventSearchStarted})
	}

	got := <-ch
	if got.Seq != 1 {
		t.Fatalf("buffered event seq = %d, want 1", got.Seq)
	}
	select {
	case ev := <-ch:
		t.Fatalf("overflow events should be dropped, got seq %d", ev.Seq)
	default:
	}

	replayed := m.ReplaySince("wf-slow", got.Seq)
	if len(replayed) != 2 || replayed[0].Seq != 2 || replayed[1].Seq != 3 {
		t.Errorf("replay = %+v", replayed)
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	m := NewManager(8, zaptest.NewLogger(t))
	ch := m.Subscribe("wf-close", 1)
	m.Unsubscribe("wf-close", ch)

	if _, ok := <-ch; ok {
		t.Error("channel should be closed after unsubscribe")
	}
	if n := m.SubscriberCount("wf-close"); n != 0 {
		t.Errorf("subscriber count = %d, want 0", n)
	}
	// A second unsubscribe of the same channel must not panic.
	m.Unsubscribe("wf-close", ch)

	m.Publish("wf-close", Event{Type: EventAnswerReady})
}

func TestWorkflowIsolation(t *testing.T) {
	m := NewManager(8, zaptest.NewLogger(t))
	chA := m.Subscribe("wf-a", 4)
	defer m.Unsubscribe("wf-a", chA)
	chB := m.Subscribe("wf-b", 4)
	defer m.Unsubscribe("wf-b", chB)

	m.Publish("wf-a", Event{Type: EventWorkflowStarted})
	m.Publish("wf-b", Event{Type: EventWorkflowStarted})

	evA := <-chA
	if evA.WorkflowID != "wf-a" || evA.Seq != 1 {
		t.Errorf("wf-a event = %+v", evA)
	}
	evB := <-chB
	if evB.WorkflowID != "wf-b" || evB.Seq != 1 {
		t.Errorf("sequence numbers should be per workflow, got %+v", evB)
	}
	select {
	case ev := <-chA:
		t.Errorf("wf-a received foreign event %+v", ev)
	default:
	}
}

func TestPublishWithoutWorkflowID(t *testing.T) {
	m := NewManager(8, zaptest.NewLogger(t))
	m.Publish("", Event{Type: EventErrorOccurred})
	if got := m.ReplaySince("", 0); got != nil {
		t.Errorf("empty workflow ID should be ignored, got %v", got)
	}
}

func TestSweepDropsIdleRings(t *testing.T) {
	m := NewManager(8, zaptest.NewLogger(t))
	m.Publish("wf-idle", Event{Type: EventWorkflowCompleted})

	watched := m.Subscribe("wf-watched", 1)
	defer m.Unsubscribe("wf-watched", watched)
	m.Publish("wf-watched", Event{Type: EventWorkflowStarted})

	time.Sleep(5 * time.Millisecond)
	if removed := m.Sweep(time.Millisecond); removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	if got := m.ReplaySince("wf-idle", 0); got != nil {
		t.Error("idle ring should be gone after sweep")
	}
	if got := m.ReplaySince("wf-watched", 0); len(got) != 1 {
		t.Error("rings with subscribers must survive the sweep")
	}
}

func TestStartStopIdempotent(t *testing.T) {
	m := NewManager(8, zaptest.NewLogger(t))
	m.Start()
	m.Start()
	m.Stop()
	m.Stop()
}

func TestConcurrentPublishAndChurn(t *testing.T) {
	m := NewManager(16, zaptest.NewLogger(t))
	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				m.Publish("wf-churn", Event{Type: EventSearchCompleted})
			}
		}()
	}
	for s := 0; s < 4; s++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				ch := m.Subscribe("wf-churn", 1)
				m.Unsubscribe("wf-churn", ch)
			}
		}()
	}
	wg.Wait()

	events := m.ReplaySince("wf-churn", 0)
	if len(events) != 16 {
		t.Errorf("ring should hold exactly its capacity, got %d", len(events))
	}
	for i := 1; i < len(events); i++ {
		if events[i].Seq != events[i-1].Seq+1 {
			t.Fatalf("replay out of order at %d: %d then %d", i, events[i-1].Seq, events[i].Seq)
		}
	}
}

func TestEventMarshal(t *testing.T) {
	e := Event{
		WorkflowID: "wf-json",
		Type:       EventGapAnalysis,
		Stage:      "gaps",
		Iteration:  2,
		Timestamp:  time.Now(),
		Seq:        9,
	}
	s := string(e.Marshal())
	for _, want := range []string{`"workflow_id":"wf-json"`, `"type":"GAP_ANALYSIS"`, `"seq":9`, `"iteration":2`} {
		if !strings.Contains(s, want) {
			t.Errorf("marshal missing %s: %s", want, s)
		}
	}
	bare := Event{WorkflowID: "wf-json", Type: EventWorkflowStarted}
	if s := string(bare.Marshal()); strings.Contains(s, "stage") || strings.Contains(s, "payload") {
		t.Errorf("empty fields should be omitted: %s", s)
	}
}
