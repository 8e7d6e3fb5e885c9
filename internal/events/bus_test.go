package events

import (
	"sync"
	"testing"
	"time"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) record(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func TestBus_PublishSubscribe(t *testing.T) {
	bus := NewBus(10)
	rec := &recorder{}
	bus.Subscribe(rec.record, EventActionExecuted)

	bus.Publish(Event{Type: EventActionExecuted, Source: "/inbox/a.xml", ActionType: "CreateWorkItem"})
	bus.Close()

	got := rec.snapshot()
	if len(got) != 1 {
		t.Fatalf("expected 1 event, got %d", len(got))
	}
	if got[0].Source != "/inbox/a.xml" {
		t.Errorf("expected source /inbox/a.xml, got %s", got[0].Source)
	}
	if got[0].Timestamp.IsZero() {
		t.Error("expected Publish to stamp the timestamp")
	}
}

func TestBus_KeepsExplicitTimestamp(t *testing.T) {
	bus := NewBus(10)
	rec := &recorder{}
	bus.Subscribe(rec.record, EventActionParsed)

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	bus.Publish(Event{Type: EventActionParsed, Timestamp: at})
	bus.Close()

	got := rec.snapshot()
	if len(got) != 1 || !got[0].Timestamp.Equal(at) {
		t.Fatalf("expected timestamp %v, got %+v", at, got)
	}
}

func TestBus_MultipleSubscribersAndTypes(t *testing.T) {
	bus := NewBus(10)
	all := &recorder{}
	failures := &recorder{}
	bus.Subscribe(all.record, AllEventTypes...)
	bus.Subscribe(failures.record, EventActionFailed, EventActionDeadLettered)

	bus.Publish(Event{Type: EventActionParsed})
	bus.Publish(Event{Type: EventActionFailed})
	bus.Publish(Event{Type: EventActionDeadLettered})
	bus.Close()

	if n := len(all.snapshot()); n != 3 {
		t.Errorf("expected 3 events for catch-all subscriber, got %d", n)
	}
	if n := len(failures.snapshot()); n != 2 {
		t.Errorf("expected 2 failure events, got %d", n)
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus(10)
	defer bus.Close()

	rec := &recorder{}
	unsub := bus.Subscribe(rec.record, EventActionSkipped)
	unsub()
	unsub() // second call is a no-op

	bus.Publish(Event{Type: EventActionSkipped})
	time.Sleep(20 * time.Millisecond)

	if n := len(rec.snapshot()); n != 0 {
		t.Errorf("expected no events after unsubscribe, got %d", n)
	}
}

func TestBus_PanickingSubscriberKeepsRunning(t *testing.T) {
	bus := NewBus(10)
	rec := &recorder{}
	calls := 0
	bus.Subscribe(func(e Event) {
		calls++
		if calls == 1 {
			panic("boom")
		}
		rec.record(e)
	}, EventActionRejected)

	bus.Publish(Event{Type: EventActionRejected, Source: "first"})
	bus.Publish(Event{Type: EventActionRejected, Source: "second"})
	bus.Close()

	got := rec.snapshot()
	if len(got) != 1 || got[0].Source != "second" {
		t.Fatalf("expected only the second event to be recorded, got %+v", got)
	}
}

func TestBus_PublishAfterCloseAndNilBus(t *testing.T) {
	bus := NewBus(1)
	bus.Close()
	bus.Close()
	bus.Publish(Event{Type: EventActionParsed})

	var nilBus *Bus
	nilBus.Publish(Event{Type: EventActionParsed})
}

func TestBus_DropsWhenBufferFull(t *testing.T) {
	bus := NewBus(1)
	release := make(chan struct{})
	rec := &recorder{}
	bus.Subscribe(func(e Event) {
		<-release
		rec.record(e)
	}, EventActionParsed)

	for i := 0; i < 10; i++ {
		bus.Publish(Event{Type: EventActionParsed})
	}
	close(release)
	bus.Close()

	// one in flight plus one buffered at most
	if n := len(rec.snapshot()); n > 2 {
		t.Errorf("expected at most 2 delivered events, got %d", n)
	}
}
