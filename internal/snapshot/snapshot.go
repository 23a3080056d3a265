// Package snapshot captures and restores the tunable field values of a
// pipeline instance across pipeline switches and process restarts.
//
// Two kinds exist: the transient "latest" snapshot taken on every switch and
// held by a Store, and the single process-wide "static" snapshot carried
// through restarts via RestartParams. A snapshot only ever applies to a
// pipeline whose definition identity matches.
package snapshot

import (
	"sync"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/banshee-data/vision.bench/internal/vision"
)

// FieldValue is one recorded name/value pair. Values are opaque to the store:
// they are copied by reference, never deep-cloned.
type FieldValue struct {
	Name  string
	Value interface{}
}

// Snapshot is a saved set of tunable field values tied to a pipeline
// definition. Field order follows the container's ListFields order.
type Snapshot struct {
	DefName string
	Fields  []FieldValue
}

// Capture walks the container's tunable fields through the supplied filter
// and records name/value pairs. A nil filter means every field is tunable.
func Capture(defName string, c vision.TunableContainer, filter vision.FieldFilter) *Snapshot {
	if c == nil {
		return nil
	}
	if filter == nil {
		filter = vision.AllFields
	}
	s := &Snapshot{DefName: defName}
	for _, f := range c.ListFields() {
		if !filter(f) {
			continue
		}
		s.Fields = append(s.Fields, FieldValue{Name: f.Name, Value: f.Get()})
	}
	return s
}

// Lookup returns the recorded value for a field name.
func (s *Snapshot) Lookup(name string) (interface{}, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return nil, false
}

// TransferTo writes the recorded values onto the target container and returns
// how many fields were written. Fields not present (by name) on the target
// are skipped.
//
// When a baseline is supplied, a field is only written if the target's
// current value still equals the baseline's recorded value. A target value
// that has diverged from the baseline was edited by the user on the new
// instance, and must not be clobbered.
func (s *Snapshot) TransferTo(target vision.TunableContainer, baseline *Snapshot) int {
	if s == nil || target == nil {
		return 0
	}
	applied := 0
	for _, f := range target.ListFields() {
		recorded, ok := s.Lookup(f.Name)
		if !ok {
			continue
		}
		if baseline != nil {
			if base, ok := baseline.Lookup(f.Name); ok && !valuesEqual(f.Get(), base) {
				continue
			}
		}
		if err := f.Set(recorded); err != nil {
			continue
		}
		applied++
	}
	return applied
}

// valuesEqual defines equality for snapshot value kinds: structural equality
// over bools, ints, floats, strings and slices of those. Slices compare
// element-wise. NaN compares equal to NaN so a NaN baseline cannot
// permanently block a transfer.
func valuesEqual(a, b interface{}) bool {
	return cmp.Equal(a, b, cmpopts.EquateNaNs())
}

// Store holds the transient "latest" snapshot taken on each pipeline switch.
type Store struct {
	mu     sync.Mutex
	latest *Snapshot
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{}
}

// SetLatest replaces the latest snapshot.
func (st *Store) SetLatest(s *Snapshot) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.latest = s
}

// Latest returns the current latest snapshot, or nil.
func (st *Store) Latest() *Snapshot {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.latest
}

// RestartParams carries state that survives a host restart. The static
// snapshot slot is explicit here instead of living in a package global; the
// host hands the struct back on the next start.
type RestartParams struct {
	mu     sync.Mutex
	static *Snapshot
}

// SetStatic stores the process-wide static snapshot.
func (p *RestartParams) SetStatic(s *Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.static = s
}

// TakeStatic returns the static snapshot and clears the slot. The slot is
// consumed on every apply attempt, matching or not.
func (p *RestartParams) TakeStatic() *Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.static
	p.static = nil
	return s
}
