package domain

// DefaultLogCapacity is the number of recent events kept by an EventLog.
const DefaultLogCapacity = 200

// EventLog is a bounded FIFO of recent events, most recent last.
// It is not safe for concurrent use; the owning service serializes access.
type EventLog struct {
	capacity int
	items    []Event
}

// NewEventLog creates an empty log holding at most capacity events.
func NewEventLog(capacity int) *EventLog {
	if capacity <= 0 {
		capacity = DefaultLogCapacity
	}
	return &EventLog{
		capacity: capacity,
		items:    make([]Event, 0, capacity),
	}
}

// Append adds e at the tail, evicting the oldest entries beyond capacity.
func (l *EventLog) Append(e Event) {
	if len(l.items) == l.capacity {
		copy(l.items, l.items[1:])
		l.items = l.items[:len(l.items)-1]
	}
	l.items = append(l.items, e)
}

// Items returns a copy of the log in insertion order.
func (l *EventLog) Items() []Event {
	out := make([]Event, len(l.items))
	copy(out, l.items)
	return out
}

// Len returns the number of events held.
func (l *EventLog) Len() int { return len(l.items) }

// Capacity returns the maximum number of events held.
func (l *EventLog) Capacity() int { return l.capacity }

// Replace overwrites the log with events, keeping only the newest that fit.
func (l *EventLog) Replace(events []Event) {
	if len(events) > l.capacity {
		events = events[len(events)-l.capacity:]
	}
	l.items = l.items[:0]
	l.items = append(l.items, events...)
}

// Clear empties the log.
func (l *EventLog) Clear() {
	l.items = l.items[:0]
}
