package logbuf

import (
	"strings"
	"sync"
	"time"

	"github.com/npmint/verdadesk/internal/metrics"
)

// Level tags a log entry with the event source it came from.
// It is assigned by the producer, never parsed from the line itself.
type Level string

const (
	LevelInfo   Level = "INFO"
	LevelStdout Level = "STDOUT"
	LevelStderr Level = "STDERR"
	LevelError  Level = "ERROR"
)

// TimeLayout is the wall-clock format used for entries on the wire.
const TimeLayout = "2006-01-02 15:04:05.000"

// Entry is a single captured log line. Entries are immutable once stored.
type Entry struct {
	Timestamp time.Time
	Level     Level
	Message   string
}

// DefaultCapacity bounds the in-memory log history.
const DefaultCapacity = 1000

// Ring is a bounded, insertion-ordered log store with FIFO eviction.
// It is safe for concurrent use; readers always observe a complete state,
// never a partially evicted one.
type Ring struct {
	mu       sync.Mutex
	entries  []Entry
	capacity int
}

// New creates a ring with the given capacity. Non-positive capacities
// fall back to DefaultCapacity.
func New(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Ring{
		entries:  make([]Entry, 0, capacity),
		capacity: capacity,
	}
}

// Append sanitizes raw, trims surrounding whitespace and, if anything
// remains, stores it with the current timestamp. Oldest entries are
// evicted one at a time until the ring is back within capacity.
// Whitespace-only input is a no-op.
func (r *Ring) Append(level Level, raw string) {
	msg := strings.TrimSpace(StripSGR(raw))
	if msg == "" {
		return
	}
	e := Entry{
		Timestamp: time.Now().Truncate(time.Millisecond),
		Level:     level,
		Message:   msg,
	}

	r.mu.Lock()
	r.entries = append(r.entries, e)
	for len(r.entries) > r.capacity {
		r.entries = r.entries[1:]
		metrics.IncLogEviction()
	}
	// Reallocate when the backing array has drifted far past capacity,
	// otherwise the evicted prefix is never reclaimed.
	if cap(r.entries) > 2*r.capacity {
		compact := make([]Entry, len(r.entries), r.capacity)
		copy(compact, r.entries)
		r.entries = compact
	}
	r.mu.Unlock()
}

// Snapshot returns a copy of all entries, oldest first.
func (r *Ring) Snapshot() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Clear drops every entry.
func (r *Ring) Clear() {
	r.mu.Lock()
	r.entries = r.entries[:0]
	r.mu.Unlock()
}

// Len reports the current number of stored entries.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
