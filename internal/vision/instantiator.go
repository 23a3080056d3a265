package vision

import (
	"errors"
	"fmt"
	"sync"

	"github.com/banshee-data/vision.bench/internal/telemetry"
)

// ErrNoInstantiator is returned when no registered instantiator can construct
// a definition's underlying type.
var ErrNoInstantiator = errors.New("no instantiator can construct this pipeline definition")

// Instantiator constructs pipeline instances from definitions it declares
// itself capable of handling.
type Instantiator interface {
	// CanInstantiate reports whether this instantiator can construct the
	// definition's underlying type.
	CanInstantiate(def *PipelineDefinition) bool
	// Instantiate builds a fresh pipeline instance wired to the given
	// telemetry sink. It fails when the definition lacks the constructor
	// capability this instantiator needs.
	Instantiate(def *PipelineDefinition, sink *telemetry.Sink) (Pipeline, error)
}

// InstantiatorRegistry resolves the instantiator for a definition. Entries
// are tried in registration order, so callers register the most specific
// instantiator first. Resolution is cached per definition name.
type InstantiatorRegistry struct {
	mu            sync.Mutex
	instantiators []Instantiator
	cache         map[string]Instantiator
}

// NewInstantiatorRegistry returns a registry pre-loaded with the default
// instantiators: telemetry-arg constructors first, then zero-arg
// constructors.
func NewInstantiatorRegistry() *InstantiatorRegistry {
	r := &InstantiatorRegistry{cache: make(map[string]Instantiator)}
	r.Register(telemetryInstantiator{})
	r.Register(plainInstantiator{})
	return r
}

// Register appends an instantiator. Most-specific instantiators must be
// registered before more general ones.
func (r *InstantiatorRegistry) Register(in Instantiator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.instantiators = append(r.instantiators, in)
}

// Resolve returns the first instantiator capable of constructing def, or
// ErrNoInstantiator. The result is cached by definition name.
func (r *InstantiatorRegistry) Resolve(def *PipelineDefinition) (Instantiator, error) {
	if def == nil {
		return nil, ErrNoInstantiator
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if in, ok := r.cache[def.Name]; ok {
		return in, nil
	}
	for _, in := range r.instantiators {
		if in.CanInstantiate(def) {
			r.cache[def.Name] = in
			return in, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNoInstantiator, def.Name)
}

// telemetryInstantiator handles definitions exposing a telemetry-arg
// constructor. It is the most specific default capability.
type telemetryInstantiator struct{}

func (telemetryInstantiator) CanInstantiate(def *PipelineDefinition) bool {
	return def != nil && def.NewWithTelemetry != nil
}

func (telemetryInstantiator) Instantiate(def *PipelineDefinition, sink *telemetry.Sink) (Pipeline, error) {
	if def.NewWithTelemetry == nil {
		return nil, fmt.Errorf("definition %s has no telemetry constructor", def.Name)
	}
	p := def.NewWithTelemetry(sink)
	if p == nil {
		return nil, fmt.Errorf("constructor for %s returned nil", def.Name)
	}
	return p, nil
}

// plainInstantiator handles definitions exposing a zero-arg constructor.
type plainInstantiator struct{}

func (plainInstantiator) CanInstantiate(def *PipelineDefinition) bool {
	return def != nil && def.New != nil
}

func (plainInstantiator) Instantiate(def *PipelineDefinition, sink *telemetry.Sink) (Pipeline, error) {
	if def.New == nil {
		return nil, fmt.Errorf("definition %s has no zero-arg constructor", def.Name)
	}
	p := def.New()
	if p == nil {
		return nil, fmt.Errorf("constructor for %s returned nil", def.Name)
	}
	return p, nil
}
