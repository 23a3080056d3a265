package vision

import (
	"sync"

	"github.com/banshee-data/vision.bench/internal/telemetry"
)

// Origin records where a pipeline definition came from. Definitions are
// removed only by explicit unregister-by-origin, e.g. when a source file is
// deleted and all its compiled pipelines must go.
type Origin int

const (
	// OriginBuiltin marks pipelines statically registered at startup.
	OriginBuiltin Origin = iota
	// OriginCompiled marks pipelines produced by an external compiler
	// collaborator at runtime.
	OriginCompiled
)

func (o Origin) String() string {
	switch o {
	case OriginBuiltin:
		return "builtin"
	case OriginCompiled:
		return "compiled"
	default:
		return "unknown"
	}
}

// PipelineDefinition describes one registered pipeline: its identity, origin
// and constructor capability. Immutable once registered.
//
// Exactly one constructor field should be set. NewWithTelemetry is the more
// specific capability and wins during instantiator resolution.
type PipelineDefinition struct {
	Name             string
	Origin           Origin
	New              func() Pipeline
	NewWithTelemetry func(sink *telemetry.Sink) Pipeline
}

// Registry holds the ordered list of registered pipeline definitions.
// Index 0 is the default pipeline the supervisor falls back to on timeout.
type Registry struct {
	mu   sync.RWMutex
	defs []*PipelineDefinition
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// AddOne appends a definition to the registry.
func (r *Registry) AddOne(def *PipelineDefinition) {
	if def == nil || def.Name == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defs = append(r.defs, def)
}

// List returns a copy of the ordered definition list.
func (r *Registry) List() []*PipelineDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*PipelineDefinition, len(r.defs))
	copy(out, r.defs)
	return out
}

// Len returns the number of registered definitions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.defs)
}

// Get returns the definition at index, or nil when out of range.
func (r *Registry) Get(index int) *PipelineDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if index < 0 || index >= len(r.defs) {
		return nil
	}
	return r.defs[index]
}

// IndexOf returns the index of the first definition with the given name, or
// -1 when no definition matches.
func (r *Registry) IndexOf(name string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i, d := range r.defs {
		if d.Name == name {
			return i
		}
	}
	return -1
}

// RemoveByOrigin drops every definition with the given origin and returns
// how many were removed. Indices of the surviving definitions shift down.
func (r *Registry) RemoveByOrigin(origin Origin) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.defs[:0]
	removed := 0
	for _, d := range r.defs {
		if d.Origin == origin {
			removed++
			continue
		}
		kept = append(kept, d)
	}
	r.defs = kept
	return removed
}
