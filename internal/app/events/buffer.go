package events

import "sync"

// Buffer retains the most recent events for the query surface.
type Buffer struct {
	mu      sync.Mutex
	entries []Event
	max     int
}

var _ Sink = (*Buffer)(nil)

// NewBuffer creates a ring buffer holding up to max events.
func NewBuffer(max int) *Buffer {
	if max <= 0 {
		max = 200
	}
	return &Buffer{max: max}
}

func (b *Buffer) Emit(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = append(b.entries, e)
	if len(b.entries) > b.max {
		b.entries = b.entries[len(b.entries)-b.max:]
	}
}

// Recent returns up to limit of the latest events, oldest first.
func (b *Buffer) Recent(limit int) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	if limit <= 0 || limit > len(b.entries) {
		limit = len(b.entries)
	}
	out := make([]Event, limit)
	copy(out, b.entries[len(b.entries)-limit:])
	return out
}
