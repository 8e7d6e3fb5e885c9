// Package events publishes action lifecycle events to the audit log and
// desktop notifications.
package events

import (
	"sync"
	"time"
)

// EventType represents the type of event being published.
type EventType string

const (
	EventActionParsed       EventType = "action_parsed"
	EventActionRejected     EventType = "action_rejected"
	EventActionExecuted     EventType = "action_executed"
	EventActionFailed       EventType = "action_failed"
	EventActionDeadLettered EventType = "action_dead_lettered"
	EventActionSkipped      EventType = "action_skipped"
	EventCleanupFailed      EventType = "cleanup_failed"
)

// AllEventTypes lists every event type, for subscribers that want everything.
var AllEventTypes = []EventType{
	EventActionParsed,
	EventActionRejected,
	EventActionExecuted,
	EventActionFailed,
	EventActionDeadLettered,
	EventActionSkipped,
	EventCleanupFailed,
}

type Event struct {
	Type       EventType
	Timestamp  time.Time
	Source     string
	ActionType string
	// Target is the moved-to path for rejected/dead-lettered documents and
	// the file that could not be deleted for cleanup failures.
	Target  string
	Attempt int
	Error   string
}

type Subscriber func(Event)

// Bus is a non-blocking publish/subscribe bus. Each subscriber gets a
// buffered channel and its own goroutine; when the buffer is full the
// event is dropped for that subscriber.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]chan Event
	bufferSize  int
	wg          sync.WaitGroup
	closed      bool
}

func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &Bus{
		subscribers: make(map[EventType][]chan Event),
		bufferSize:  bufferSize,
	}
}

// Subscribe registers fn for the given event types and returns an
// unsubscribe function. Panics in fn are recovered.
func (b *Bus) Subscribe(fn Subscriber, types ...EventType) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.bufferSize)
	for _, t := range types {
		b.subscribers[t] = append(b.subscribers[t], ch)
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for event := range ch {
			func() {
				defer func() { _ = recover() }()
				fn(event)
			}()
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if b.closed {
				return
			}
			for _, t := range types {
				subs := b.subscribers[t]
				for i, c := range subs {
					if c == ch {
						b.subscribers[t] = append(subs[:i:i], subs[i+1:]...)
						break
					}
				}
			}
			close(ch)
		})
	}
}

// Publish stamps e with the current time (if unset) and delivers it.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.subscribers[e.Type] {
		select {
		case ch <- e:
		default:
		}
	}
}

// Close stops delivery and waits for subscriber goroutines to drain.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	seen := make(map[chan Event]bool)
	for t, subs := range b.subscribers {
		for _, ch := range subs {
			if !seen[ch] {
				seen[ch] = true
				close(ch)
			}
		}
		delete(b.subscribers, t)
	}
	b.mu.Unlock()
	b.wg.Wait()
}
