package telemetry

import (
	"fmt"
	"strings"
	"sync"
)

// Sink is an updateable key/value display fed by pipeline code and the
// supervisor. A fresh Sink is wired to every pipeline instantiation so stale
// entries from a previous pipeline never leak into the next one.
//
// Pipelines call Set/Caption from their worker context while the host reads
// snapshots from the driving loop, so all state is mutex-guarded.
type Sink struct {
	mu      sync.Mutex
	order   []string
	entries map[string]string
	caption string
}

// Entry is one rendered key/value line of a telemetry snapshot.
type Entry struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// NewSink returns an empty telemetry sink.
func NewSink() *Sink {
	return &Sink{entries: make(map[string]string)}
}

// Set records a key/value entry. Keys keep their first-set ordering; setting
// an existing key overwrites its value in place.
func (s *Sink) Set(key string, value interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[key]; !ok {
		s.order = append(s.order, key)
	}
	s.entries[key] = fmt.Sprint(value)
}

// Setf records a key with a formatted value.
func (s *Sink) Setf(key, format string, v ...interface{}) {
	s.Set(key, fmt.Sprintf(format, v...))
}

// Caption sets the status caption shown above the entries. The supervisor
// uses it for build/init/timeout status lines.
func (s *Sink) Caption(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.caption = text
}

// Update clears all entries, keeping the caption. The supervisor calls this
// on every pipeline switch so the display starts clean.
func (s *Sink) Update() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.order = s.order[:0]
	for k := range s.entries {
		delete(s.entries, k)
	}
}

// Snapshot returns the caption and a copy of the current entries in order.
func (s *Sink) Snapshot() (caption string, entries []Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries = make([]Entry, 0, len(s.order))
	for _, k := range s.order {
		entries = append(entries, Entry{Key: k, Value: s.entries[k]})
	}
	return s.caption, entries
}

// String renders the sink for logs: caption first, then "key: value" lines.
func (s *Sink) String() string {
	caption, entries := s.Snapshot()
	var b strings.Builder
	if caption != "" {
		b.WriteString(caption)
	}
	for _, e := range entries {
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s: %s", e.Key, e.Value)
	}
	return b.String()
}
