// Package tracker accounts for pipeline failures per definition. Consumers
// subscribe to transitions (a new exception appearing, an existing one
// repeating, an exception clearing) to drive persistent UI warnings without
// polling.
package tracker

import (
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

// Record is the error state for one pipeline definition.
type Record struct {
	Count       int       // consecutive failed frames since the last success
	LastMessage string    // human-readable summary of the most recent failure
	LastErr     error     // most recent error object
	FirstAt     time.Time // when the current error streak started
	LastAt      time.Time // when the streak was last extended
}

// maxMessageLen bounds stored diagnostic messages so a pathological error
// string cannot bloat the UI or the run database.
const maxMessageLen = 400

// Tracker maintains per-definition exception records. Safe for concurrent
// use; transition callbacks fire synchronously under the caller's goroutine
// but outside the tracker lock.
type Tracker struct {
	mu      sync.Mutex
	records map[string]*Record

	onNew     func(defName string, rec Record)
	onStill   func(defName string, rec Record)
	onCleared func(defName string)
}

// New returns an empty tracker.
func New() *Tracker {
	return &Tracker{records: make(map[string]*Record)}
}

// OnNewException registers the callback fired when a definition that had no
// active error gains one.
func (t *Tracker) OnNewException(fn func(defName string, rec Record)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onNew = fn
}

// OnStillErroring registers the callback fired when a definition that already
// has an active error reports another one.
func (t *Tracker) OnStillErroring(fn func(defName string, rec Record)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onStill = fn
}

// OnCleared registers the callback fired when a definition's active error is
// cleared by a successful frame.
func (t *Tracker) OnCleared(fn func(defName string)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onCleared = fn
}

// Report records a failure for the definition. The first report of a streak
// fires the new-exception transition; subsequent ones fire still-erroring.
func (t *Tracker) Report(defName string, err error) {
	if err == nil {
		return
	}
	t.ReportMessage(defName, err.Error(), err)
}

// ReportMessage records a failure with an explicit diagnostic message.
func (t *Tracker) ReportMessage(defName, msg string, err error) {
	msg = truncate(msg)
	now := time.Now()

	t.mu.Lock()
	rec, existed := t.records[defName]
	if !existed {
		rec = &Record{FirstAt: now}
		t.records[defName] = rec
	}
	rec.Count++
	rec.LastMessage = msg
	rec.LastErr = err
	rec.LastAt = now
	snapshot := *rec
	onNew, onStill := t.onNew, t.onStill
	t.mu.Unlock()

	if !existed {
		if onNew != nil {
			onNew(defName, snapshot)
		}
	} else if onStill != nil {
		onStill(defName, snapshot)
	}
}

// ClearFor removes the definition's active error, if any, and fires the
// cleared transition. A clear with no active error is a no-op.
func (t *Tracker) ClearFor(defName string) {
	t.mu.Lock()
	_, existed := t.records[defName]
	if existed {
		delete(t.records, defName)
	}
	onCleared := t.onCleared
	t.mu.Unlock()

	if existed && onCleared != nil {
		onCleared(defName)
	}
}

// ActiveError returns the definition's current record, if one exists.
func (t *Tracker) ActiveError(defName string) (Record, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[defName]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// Snapshot returns a copy of all active records keyed by definition name.
func (t *Tracker) Snapshot() map[string]Record {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]Record, len(t.records))
	for name, rec := range t.records {
		out[name] = *rec
	}
	return out
}

func truncate(msg string) string {
	msg = strings.TrimSpace(msg)
	if len(msg) <= maxMessageLen {
		return msg
	}
	// Back up to a rune boundary so the cut never splits a multi-byte
	// character.
	cut := maxMessageLen
	for cut > 0 && !utf8.RuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut] + "…"
}
