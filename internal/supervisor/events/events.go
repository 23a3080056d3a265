// Package events is the supervisor's synchronous event fan-out. Listeners run
// on the driving loop, in registration order; one-shot listeners are dropped
// after their first delivery.
package events

import (
	"sync"
	"time"
)

// Event is one of the concrete event structs below.
type Event interface{ event() }

// PipelineChanged fires after every pipeline switch, including a switch to no
// pipeline (NewIndex < 0, DefName empty).
type PipelineChanged struct {
	OldIndex int
	NewIndex int
	DefName  string
}

// UpdateTick fires once per supervisor update cycle.
type UpdateTick struct {
	Seq uint64
}

// PipelineTimeout fires when a dispatched pipeline call exceeds its budget.
type PipelineTimeout struct {
	DefName string
	Budget  time.Duration
}

// FrameProcessed fires after a frame completes successfully and its result
// has been posted to consumers.
type FrameProcessed struct {
	DefName  string
	Seq      uint64
	Duration time.Duration
}

// Paused fires when the supervisor transitions into a paused state.
type Paused struct {
	Reason string
}

// Resumed fires when the supervisor leaves a paused state.
type Resumed struct{}

func (PipelineChanged) event() {}
func (UpdateTick) event()      {}
func (PipelineTimeout) event() {}
func (FrameProcessed) event()  {}
func (Paused) event()          {}
func (Resumed) event()         {}

// Listener receives events. Listeners that only care about one kind
// type-switch on the argument.
type Listener func(ev Event)

// Handler maintains persistent and one-shot listeners. Registration and Fire
// are safe from any goroutine; frame events fire on the driving loop, pause
// transitions fire on whichever control goroutine requested them. Listeners
// guard their own state.
type Handler struct {
	mu         sync.Mutex
	persistent []Listener
	once       []Listener
}

// NewHandler returns an empty handler.
func NewHandler() *Handler {
	return &Handler{}
}

// On registers a persistent listener.
func (h *Handler) On(fn Listener) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.persistent = append(h.persistent, fn)
}

// Once registers a listener delivered at most one event.
func (h *Handler) Once(fn Listener) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.once = append(h.once, fn)
}

// Fire delivers the event synchronously to all one-shot listeners, draining
// them, then to all persistent listeners. The listener lists are snapshotted
// first so listeners may register further listeners during delivery.
func (h *Handler) Fire(ev Event) {
	h.mu.Lock()
	once := h.once
	h.once = nil
	persistent := make([]Listener, len(h.persistent))
	copy(persistent, h.persistent)
	h.mu.Unlock()

	for _, fn := range once {
		fn(ev)
	}
	for _, fn := range persistent {
		fn(ev)
	}
}
