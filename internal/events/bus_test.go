package events

import (
	"sync"
	"testing"
	"time"
)

func TestBus_PublishAndSubscribe(t *testing.T) {
	bus := NewBus(16)
	defer bus.Close()

	var mu sync.Mutex
	var received []Event
	done := make(chan struct{})

	bus.Subscribe(func(e Event) {
		mu.Lock()
		received = append(received, e)
		mu.Unlock()
		close(done)
	}, EventSkillExecuted)

	bus.Publish(NewEvent(EventSkillExecuted, SourceExecutor, map[string]any{"skill": "finance/approval"}))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 {
		t.Fatalf("expected 1 event, got %d", len(received))
	}
	if received[0].Payload["skill"] != "finance/approval" {
		t.Errorf("unexpected payload: %v", received[0].Payload)
	}
}

func TestBus_TypeFiltering(t *testing.T) {
	bus := NewBus(16)
	defer bus.Close()

	ch, cancel := bus.SubscribeChan(8, EventJobCompleted)
	defer cancel()

	bus.Publish(NewEvent(EventSkillExecuted, SourceExecutor, nil))
	bus.Publish(NewEvent(EventJobCompleted, SourceJobs, map[string]any{"job_id": "job_1"}))

	select {
	case e := <-ch:
		if e.Type != EventJobCompleted {
			t.Errorf("expected job.completed, got %s", e.Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for filtered event")
	}
}

func TestBus_History(t *testing.T) {
	bus := NewBus(4)
	defer bus.Close()

	for i := 0; i < 6; i++ {
		bus.Publish(NewEvent(EventSkillIngested, SourceIngest, map[string]any{"i": i}))
	}

	// Dispatch is asynchronous; give the loop a moment to drain.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(bus.History(10)) == 4 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	got := bus.History(10)
	if len(got) != 4 {
		t.Fatalf("expected ring buffer capped at 4, got %d", len(got))
	}
}

func TestBus_PublishAfterClose(t *testing.T) {
	bus := NewBus(4)
	bus.Close()

	// Must not panic.
	bus.Publish(NewEvent(EventSkillExecuted, SourceExecutor, nil))
}

func TestRingBuffer_Order(t *testing.T) {
	rb := NewRingBuffer(3)
	for i := 0; i < 5; i++ {
		rb.Add(Event{ID: string(rune('a' + i))})
	}
	got := rb.Get(3)
	if len(got) != 3 {
		t.Fatalf("expected 3 events, got %d", len(got))
	}
	if got[0].ID != "c" || got[2].ID != "e" {
		t.Errorf("unexpected order: %v, %v, %v", got[0].ID, got[1].ID, got[2].ID)
	}
}
