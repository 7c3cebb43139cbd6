package events

import (
	"sync"
	"time"
)

// Severity classifies an event for filtering and rendering.
type Severity string

const (
	SeverityDebug Severity = "debug"
	SeverityInfo  Severity = "info"
	SeverityWarn  Severity = "warn"
	SeverityError Severity = "error"
)

// Event is one entry in the status/log stream. Sequence numbers are
// assigned by the bus and give a total order across concurrently
// publishing components.
type Event struct {
	Seq      uint64
	Severity Severity
	Source   string
	Message  string
	Time     time.Time
}

// Bus is a thread-safe, ordered fan-in channel with a single fan-out
// consumer. Events are never dropped or duplicated.
type Bus struct {
	mu      sync.Mutex
	cond    *sync.Cond
	events  []Event
	cursor  int
	nextSeq uint64
	closed  bool
}

// NewBus creates an empty bus ready for concurrent publishing.
func NewBus() *Bus {
	b := &Bus{
		nextSeq: 1,
	}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Publish appends an event to the stream and returns it with its assigned
// sequence number. Publishing on a closed bus is a no-op; the returned
// event has Seq 0 in that case.
func (b *Bus) Publish(severity Severity, source, message string) Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return Event{}
	}

	event := Event{
		Seq:      b.nextSeq,
		Severity: severity,
		Source:   source,
		Message:  message,
		Time:     time.Now(),
	}
	b.nextSeq++
	b.events = append(b.events, event)
	b.cond.Broadcast()
	return event
}

// Drain returns a channel that delivers events from the current cursor
// position onward, in order. It is intended for a single consumer; the
// cursor advances as events are handed out, so a later Drain call resumes
// where the previous consumer stopped. The channel closes once the bus is
// closed and all buffered events have been delivered.
func (b *Bus) Drain() <-chan Event {
	out := make(chan Event)
	go func() {
		defer close(out)
		for {
			b.mu.Lock()
			for b.cursor == len(b.events) && !b.closed {
				b.cond.Wait()
			}
			if b.cursor == len(b.events) {
				b.mu.Unlock()
				return
			}
			batch := make([]Event, len(b.events)-b.cursor)
			copy(batch, b.events[b.cursor:])
			b.cursor = len(b.events)
			b.mu.Unlock()

			// The cursor already advanced past this batch, so every event
			// in it must reach the consumer: closing the bus stops intake,
			// not delivery. The loop exits on the next pass once the bus is
			// closed and the buffer is fully handed out.
			for _, event := range batch {
				out <- event
			}
		}
	}()
	return out
}

// Snapshot returns a copy of every event published so far, in order. It
// does not move the drain cursor.
func (b *Bus) Snapshot() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	snapshot := make([]Event, len(b.events))
	copy(snapshot, b.events)
	return snapshot
}

// Latest returns the most recent event, if any.
func (b *Bus) Latest() (Event, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.events) == 0 {
		return Event{}, false
	}
	return b.events[len(b.events)-1], true
}

// Close stops the bus. Pending Drain consumers receive the remaining
// buffered events and then their channel closes. Close is idempotent.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	b.cond.Broadcast()
}
