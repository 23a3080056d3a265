// Package supervisor owns the active vision pipeline and drives the
// run/timeout/fallback protocol that keeps the host live while running
// arbitrary, untrusted, synchronous pipeline code.
//
// Threading model: one external driving loop calls Update once per cycle and
// is the only goroutine that mutates supervisor state. Each dispatched
// pipeline call runs on the active pipeline's dedicated single-worker
// ExecContext; the loop blocks on the call with a timeout and nothing else
// blocks. The handful of fields read from worker goroutines (the active
// pipeline identity) use atomics.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/vision.bench/internal/snapshot"
	"github.com/banshee-data/vision.bench/internal/telemetry"
	"github.com/banshee-data/vision.bench/internal/tracker"
	"github.com/banshee-data/vision.bench/internal/vision"

	"github.com/banshee-data/vision.bench/internal/supervisor/events"
)

// DefaultMaxContexts is the hard ceiling of concurrently alive execution
// contexts (the active one plus orphans from timed-out pipelines). Crossing
// it signals a systemic hang and is fatal to the driving loop.
const DefaultMaxContexts = 5

// defaultInitGrace widens the budget of the init-inclusive first call, since
// first-frame setup cost is typically higher than steady state.
const defaultInitGrace = 1.8

// defaultTapBudget bounds OnViewportTapped dispatches. Tap handling is
// best-effort, so the budget is flat and failures are only logged.
const defaultTapBudget = 1000 * time.Millisecond

// ErrTooManyContexts is returned by Update when more execution contexts are
// alive than the configured ceiling. The driving loop must stop and let the
// host terminate gracefully.
var ErrTooManyContexts = errors.New("too many live pipeline execution contexts, host is hanging")

// activePipeline bundles everything owned by the supervisor while one
// pipeline is active. Replaced wholesale on every switch.
type activePipeline struct {
	instance  vision.Pipeline
	def       *vision.PipelineDefinition
	index     int
	exec      *ExecContext
	telemetry *telemetry.Sink
}

// Config wires a Supervisor's collaborators. Registry, Instantiators and
// Tracker are required; the rest default sensibly.
type Config struct {
	Registry      *vision.Registry
	Instantiators *vision.InstantiatorRegistry
	Tracker       *tracker.Tracker
	Events        *events.Handler
	Snapshots     *snapshot.Store
	Restart       *snapshot.RestartParams
	FieldFilter   vision.FieldFilter

	MaxContexts         int
	Tier                TimeoutTier
	InitGraceMultiplier float64
	TapBudget           time.Duration
}

// Supervisor coordinates pipeline lifecycle, per-frame dispatch and fallback.
type Supervisor struct {
	registry      *vision.Registry
	instantiators *vision.InstantiatorRegistry
	tracker       *tracker.Tracker
	events        *events.Handler
	snapshots     *snapshot.Store
	restart       *snapshot.RestartParams
	fieldFilter   vision.FieldFilter

	maxContexts int
	initGrace   float64
	tapBudget   time.Duration
	tier        atomic.Int32

	liveContexts atomic.Int32

	// Driving-loop-owned state. Never touched from worker goroutines.
	current       *activePipeline
	currentIndex  int
	previousIndex int
	hasInit       bool
	updateSeq     uint64

	// pauseReason is set from control surfaces on other goroutines and read
	// by the driving loop, so it lives in an atomic.
	pauseReason atomic.Int32

	// active mirrors current for every read off the driving loop: identity
	// re-validation at post time on worker goroutines, and the Current*
	// status accessors called from control surfaces.
	active atomic.Pointer[activePipeline]

	postersMu sync.Mutex
	posters   []vision.Poster

	callbacksMu  sync.Mutex
	onUpdate     []func()
	onceOnUpdate []func()
}

// New builds a Supervisor from the config.
func New(cfg Config) (*Supervisor, error) {
	if cfg.Registry == nil {
		return nil, errors.New("supervisor needs a pipeline registry")
	}
	if cfg.Instantiators == nil {
		cfg.Instantiators = vision.NewInstantiatorRegistry()
	}
	if cfg.Tracker == nil {
		cfg.Tracker = tracker.New()
	}
	if cfg.Events == nil {
		cfg.Events = events.NewHandler()
	}
	if cfg.Snapshots == nil {
		cfg.Snapshots = snapshot.NewStore()
	}
	if cfg.FieldFilter == nil {
		cfg.FieldFilter = vision.AllFields
	}
	if cfg.MaxContexts == 0 {
		cfg.MaxContexts = DefaultMaxContexts
	}
	if cfg.InitGraceMultiplier == 0 {
		cfg.InitGraceMultiplier = defaultInitGrace
	}
	if cfg.TapBudget == 0 {
		cfg.TapBudget = defaultTapBudget
	}

	s := &Supervisor{
		registry:      cfg.Registry,
		instantiators: cfg.Instantiators,
		tracker:       cfg.Tracker,
		events:        cfg.Events,
		snapshots:     cfg.Snapshots,
		restart:       cfg.Restart,
		fieldFilter:   cfg.FieldFilter,
		maxContexts:   cfg.MaxContexts,
		initGrace:     cfg.InitGraceMultiplier,
		tapBudget:     cfg.TapBudget,
		currentIndex:  -1,
		previousIndex: -1,
	}
	s.tier.Store(int32(cfg.Tier))
	return s, nil
}

// Events returns the supervisor's event handler for subscriptions.
func (s *Supervisor) Events() *events.Handler { return s.events }

// Tracker returns the exception tracker.
func (s *Supervisor) Tracker() *tracker.Tracker { return s.tracker }

// CurrentIndex returns the active pipeline's registry index, or -1. Safe from
// any goroutine.
func (s *Supervisor) CurrentIndex() int {
	if ap := s.active.Load(); ap != nil {
		return ap.index
	}
	return -1
}

// CurrentName returns the active pipeline definition's name, or "". Safe from
// any goroutine.
func (s *Supervisor) CurrentName() string {
	if ap := s.active.Load(); ap != nil {
		return ap.def.Name
	}
	return ""
}

// CurrentTelemetry returns the active pipeline's telemetry sink, or nil. Safe
// from any goroutine.
func (s *Supervisor) CurrentTelemetry() *telemetry.Sink {
	if ap := s.active.Load(); ap != nil {
		return ap.telemetry
	}
	return nil
}

// LiveContexts returns how many execution context workers are alive,
// including orphans stuck in user code.
func (s *Supervisor) LiveContexts() int { return int(s.liveContexts.Load()) }

// SetTimeoutTier selects the process-wide timeout tier. Safe from any
// goroutine.
func (s *Supervisor) SetTimeoutTier(t TimeoutTier) { s.tier.Store(int32(t)) }

// TimeoutTier returns the currently selected tier.
func (s *Supervisor) TimeoutTier() TimeoutTier { return TimeoutTier(s.tier.Load()) }

// AddPoster registers a frame consumer. Safe from any goroutine.
func (s *Supervisor) AddPoster(p vision.Poster) {
	s.postersMu.Lock()
	defer s.postersMu.Unlock()
	s.posters = append(s.posters, p)
}

// RemovePoster unregisters a previously added consumer.
func (s *Supervisor) RemovePoster(p vision.Poster) {
	s.postersMu.Lock()
	defer s.postersMu.Unlock()
	for i, q := range s.posters {
		if q == p {
			s.posters = append(s.posters[:i], s.posters[i+1:]...)
			return
		}
	}
}

func (s *Supervisor) postersSnapshot() []vision.Poster {
	s.postersMu.Lock()
	defer s.postersMu.Unlock()
	out := make([]vision.Poster, len(s.posters))
	copy(out, s.posters)
	return out
}

// OnUpdate registers a callback run at the start of every Update, on the
// driving loop. Used by collaborators to marshal mutations onto the loop.
func (s *Supervisor) OnUpdate(fn func()) {
	s.callbacksMu.Lock()
	defer s.callbacksMu.Unlock()
	s.onUpdate = append(s.onUpdate, fn)
}

// DoOnceOnUpdate registers a callback run exactly once, at the start of the
// next Update.
func (s *Supervisor) DoOnceOnUpdate(fn func()) {
	s.callbacksMu.Lock()
	defer s.callbacksMu.Unlock()
	s.onceOnUpdate = append(s.onceOnUpdate, fn)
}

func (s *Supervisor) runUpdateCallbacks() {
	s.callbacksMu.Lock()
	once := s.onceOnUpdate
	s.onceOnUpdate = nil
	persistent := make([]func(), len(s.onUpdate))
	copy(persistent, s.onUpdate)
	s.callbacksMu.Unlock()

	for _, fn := range once {
		fn()
	}
	for _, fn := range persistent {
		fn()
	}
}

// Paused reports whether the supervisor is currently paused.
func (s *Supervisor) Paused() bool { return s.PauseState() != NotPaused }

// PauseState returns the current pause reason.
func (s *Supervisor) PauseState() PauseReason { return PauseReason(s.pauseReason.Load()) }

// SetPaused pauses or resumes with the user-requested reason.
func (s *Supervisor) SetPaused(paused bool) {
	if paused {
		s.SetPausedWithReason(PausedUserRequested)
		return
	}
	s.SetPausedWithReason(NotPaused)
}

// SetPausedWithReason records the supplied reason when pausing. Resuming
// always resets the reason to NotPaused.
func (s *Supervisor) SetPausedWithReason(reason PauseReason) {
	was := PauseReason(s.pauseReason.Swap(int32(reason)))
	if reason == NotPaused {
		if was != NotPaused {
			diagf("resumed (was %s)", was)
			s.events.Fire(events.Resumed{})
		}
		return
	}
	if was == NotPaused {
		diagf("paused: %s", reason)
		s.events.Fire(events.Paused{Reason: reason.String()})
	}
}

// ChangePipeline switches to the pipeline at index. A change to the index
// that is already active is a no-op: no state mutation, no change event.
func (s *Supervisor) ChangePipeline(index int) {
	if index == s.currentIndex {
		return
	}
	if err := s.ForceChangePipeline(index, true, false); err != nil {
		opsf("pipeline change to index %d failed: %v", index, err)
	}
}

// ChangePipelineByName resolves name in the registry and switches to it.
// Unknown names are reported through the exception tracker and leave the
// current pipeline active.
func (s *Supervisor) ChangePipelineByName(name string) {
	idx := s.registry.IndexOf(name)
	if idx < 0 {
		s.tracker.ReportMessage(name, fmt.Sprintf("no registered pipeline named %q", name), nil)
		opsf("pipeline change failed: no pipeline named %q", name)
		return
	}
	s.ChangePipeline(idx)
}

// ForceChangePipeline unconditionally switches to the pipeline at index,
// even when index equals the current one. A negative index clears the active
// pipeline, fires the change event and returns nil.
//
// On instantiation failure the selection is rolled back and the previous
// pipeline keeps running; the failure is reported through the tracker.
func (s *Supervisor) ForceChangePipeline(index int, applyLatest, applyStatic bool) error {
	return s.forceChange(index, applyLatest, applyStatic, true)
}

func (s *Supervisor) forceChange(index int, applyLatest, applyStatic, captureOutgoing bool) error {
	oldIndex := s.currentIndex

	// Null selection: clear, notify, done.
	if index < 0 {
		if captureOutgoing {
			s.captureLatestLocked()
		}
		s.retireCurrent()
		s.previousIndex = oldIndex
		s.currentIndex = -1
		s.hasInit = false
		diagf("pipeline cleared (was index %d)", oldIndex)
		s.events.Fire(events.PipelineChanged{OldIndex: oldIndex, NewIndex: -1})
		return nil
	}

	def := s.registry.Get(index)
	if def == nil {
		err := fmt.Errorf("no pipeline definition at index %d", index)
		s.tracker.ReportMessage(fmt.Sprintf("index %d", index), err.Error(), err)
		return err
	}

	// Resolve the instantiator and build the new instance before touching
	// the active slot, so a failure leaves the previous pipeline running.
	inst, err := s.instantiators.Resolve(def)
	if err != nil {
		s.tracker.Report(def.Name, err)
		s.captionCurrent(fmt.Sprintf("error building %s", def.Name))
		opsf("switch to %s aborted: %v", def.Name, err)
		return err
	}
	sink := telemetry.NewSink()
	instance, err := inst.Instantiate(def, sink)
	if err != nil {
		s.tracker.Report(def.Name, err)
		s.captionCurrent(fmt.Sprintf("error building %s", def.Name))
		opsf("switch to %s aborted: instantiation failed: %v", def.Name, err)
		return err
	}

	// Snapshot the outgoing pipeline's tunables before it goes away.
	if captureOutgoing {
		s.captureLatestLocked()
	}
	s.retireCurrent()

	ap := &activePipeline{
		instance:  instance,
		def:       def,
		index:     index,
		exec:      newExecContext(&s.liveContexts),
		telemetry: sink,
	}
	sink.Update()
	sink.Caption(fmt.Sprintf("%s ready", def.Name))

	if applyLatest {
		if latest := s.snapshots.Latest(); latest != nil && latest.DefName == def.Name {
			if tc, ok := instance.(vision.TunableContainer); ok {
				n := latest.TransferTo(tc, nil)
				diagf("applied latest snapshot to %s (%d fields)", def.Name, n)
			}
		}
	}
	if applyStatic && s.restart != nil {
		if st := s.restart.TakeStatic(); st != nil && st.DefName == def.Name {
			if tc, ok := instance.(vision.TunableContainer); ok {
				n := st.TransferTo(tc, nil)
				diagf("applied static snapshot to %s (%d fields)", def.Name, n)
			}
		}
	}

	s.current = ap
	s.active.Store(ap)
	s.previousIndex = oldIndex
	s.currentIndex = index
	s.hasInit = false

	diagf("pipeline changed: index %d -> %d (%s), context %s", oldIndex, index, def.Name, ap.exec.ID())
	s.events.Fire(events.PipelineChanged{OldIndex: oldIndex, NewIndex: index, DefName: def.Name})
	return nil
}

// captureLatestLocked snapshots the active pipeline's tunables into the
// latest slot. Driving loop only.
func (s *Supervisor) captureLatestLocked() {
	if s.current == nil {
		return
	}
	tc, ok := s.current.instance.(vision.TunableContainer)
	if !ok {
		return
	}
	s.snapshots.SetLatest(snapshot.Capture(s.current.def.Name, tc, s.fieldFilter))
}

// retireCurrent closes the active execution context and clears the slot. The
// close never blocks; a hung job is disowned.
func (s *Supervisor) retireCurrent() {
	if s.current == nil {
		return
	}
	s.current.exec.Close()
	s.current = nil
	s.active.Store(nil)
}

func (s *Supervisor) captionCurrent(text string) {
	if s.current != nil {
		s.current.telemetry.Caption(text)
	}
}

// Update is the per-cycle driver, invoked by the external loop at a bounded
// rate with the latest frame (nil means no frame this cycle). It returns
// ErrTooManyContexts when the live-context ceiling is crossed; that error is
// fatal and the loop must stop. All other pipeline failures are absorbed.
func (s *Supervisor) Update(frame *vision.Frame) error {
	s.runUpdateCallbacks()

	if int(s.liveContexts.Load()) > s.maxContexts {
		opsf("resource exhaustion: %d live contexts exceed ceiling %d", s.liveContexts.Load(), s.maxContexts)
		return ErrTooManyContexts
	}

	s.updateSeq++
	seq := s.updateSeq
	defer s.events.Fire(events.UpdateTick{Seq: seq})

	if s.Paused() || s.current == nil || frame == nil {
		s.refreshErrorCaption()
		return nil
	}

	cur := s.current
	firstCall := !s.hasInit
	job := cur.exec.Submit(func(ctx context.Context) error {
		if firstCall {
			cur.instance.Init(frame)
		}
		out, err := cur.instance.ProcessFrame(frame)
		if err != nil {
			return err
		}
		// Late results never reach consumers: the job may have been
		// cancelled, or a fallback switch may have replaced the active
		// pipeline while this one was still running.
		if ctx.Err() != nil || s.active.Load() != cur {
			return nil
		}
		s.post(out, vision.PostContext{DefName: cur.def.Name, FrameSeq: frame.Seq})
		return nil
	})
	if job == nil {
		// Single-worker slot still occupied; can only happen if sequencing
		// was violated. Skip the cycle rather than stacking work.
		opsf("update skipped: execution context busy")
		return nil
	}

	budget := s.TimeoutTier().Budget()
	if firstCall {
		budget = time.Duration(float64(budget) * s.initGrace)
	}

	dispatched := time.Now()
	timer := time.NewTimer(budget)
	defer timer.Stop()
	select {
	case <-job.Done():
		if err := job.Err(); err != nil {
			s.handlePipelineError(cur, firstCall, err)
			return nil
		}
		if firstCall {
			s.hasInit = true
		}
		s.tracker.ClearFor(cur.def.Name)
		elapsed := time.Since(dispatched)
		tracef("frame %d processed by %s in %v", frame.Seq, cur.def.Name, elapsed)
		s.events.Fire(events.FrameProcessed{DefName: cur.def.Name, Seq: frame.Seq, Duration: elapsed})
	case <-timer.C:
		job.Cancel()
		opsf("pipeline %s exceeded %v budget, falling back to default", cur.def.Name, budget)
		s.tracker.ReportMessage(cur.def.Name,
			fmt.Sprintf("%s took longer than %v to process a frame", cur.def.Name, budget), context.DeadlineExceeded)
		s.events.Fire(events.PipelineTimeout{DefName: cur.def.Name, Budget: budget})
		// The hung instance must not be touched again, so skip the outgoing
		// snapshot capture during the fallback switch.
		if err := s.forceChange(0, false, false, false); err != nil {
			// Even the default pipeline would not build. Clear the selection
			// so the loop idles on a known-empty slot instead of whatever the
			// failed switch left behind.
			opsf("fallback to default pipeline failed, clearing selection: %v", err)
			s.forceChange(-1, false, false, false)
		}
		s.captionCurrent(fmt.Sprintf("%s took too long", cur.def.Name))
	}
	return nil
}

// handlePipelineError applies the error taxonomy: failures during the
// init-inclusive first call roll the selection back to the previous
// pipeline; steady-state failures leave the pipeline active and retried.
func (s *Supervisor) handlePipelineError(cur *activePipeline, firstCall bool, err error) {
	s.tracker.Report(cur.def.Name, err)
	if firstCall {
		opsf("pipeline %s failed during init, rolling back to index %d: %v", cur.def.Name, s.previousIndex, err)
		prev := s.previousIndex
		if prev == cur.index {
			prev = 0
		}
		if ferr := s.forceChange(prev, true, false, false); ferr != nil {
			opsf("rollback to index %d failed: %v", prev, ferr)
		}
		s.captionCurrent(fmt.Sprintf("error in %s", cur.def.Name))
		return
	}
	diagf("pipeline %s errored, staying active: %v", cur.def.Name, err)
	cur.telemetry.Caption(fmt.Sprintf("error in %s", cur.def.Name))
}

// refreshErrorCaption keeps tracker-driven UI state fresh on skipped cycles.
func (s *Supervisor) refreshErrorCaption() {
	if s.current == nil {
		return
	}
	if rec, ok := s.tracker.ActiveError(s.current.def.Name); ok {
		s.current.telemetry.Caption(rec.LastMessage)
	}
}

// post fans a processed frame out to a snapshot of the registered consumers.
// A consumer's panic is isolated so it cannot abort the others or take the
// pipeline down with it.
func (s *Supervisor) post(frame *vision.Frame, ctx vision.PostContext) {
	for _, p := range s.postersSnapshot() {
		func() {
			defer func() {
				if r := recover(); r != nil {
					opsf("frame consumer panicked: %v", r)
				}
			}()
			p.Post(frame, ctx)
		}()
	}
}

// CallViewportTapped dispatches the tap hook on the pipeline's execution
// context with a flat budget. Tap handling is best-effort: timeouts and
// failures are logged, never escalated.
func (s *Supervisor) CallViewportTapped() {
	if s.current == nil {
		return
	}
	cur := s.current
	job := cur.exec.Submit(func(ctx context.Context) error {
		cur.instance.OnViewportTapped()
		return nil
	})
	if job == nil {
		diagf("viewport tap dropped: execution context busy")
		return
	}
	timer := time.NewTimer(s.tapBudget)
	defer timer.Stop()
	select {
	case <-job.Done():
		if err := job.Err(); err != nil {
			opsf("viewport tap on %s failed: %v", cur.def.Name, err)
		}
	case <-timer.C:
		job.Cancel()
		opsf("viewport tap on %s exceeded %v, result discarded", cur.def.Name, s.tapBudget)
	}
}

// CaptureSnapshot records the active pipeline's tunables into the transient
// latest slot.
func (s *Supervisor) CaptureSnapshot() {
	s.captureLatestLocked()
}

// ApplyLatestSnapshot writes the latest snapshot onto the active pipeline if
// the definition identity matches.
func (s *Supervisor) ApplyLatestSnapshot() {
	if s.current == nil {
		return
	}
	latest := s.snapshots.Latest()
	if latest == nil || latest.DefName != s.current.def.Name {
		return
	}
	if tc, ok := s.current.instance.(vision.TunableContainer); ok {
		latest.TransferTo(tc, nil)
	}
}

// CaptureStaticSnapshot records the active pipeline's tunables into the
// process-wide static slot carried across restarts.
func (s *Supervisor) CaptureStaticSnapshot() {
	if s.current == nil || s.restart == nil {
		return
	}
	tc, ok := s.current.instance.(vision.TunableContainer)
	if !ok {
		return
	}
	s.restart.SetStatic(snapshot.Capture(s.current.def.Name, tc, s.fieldFilter))
}

// ApplyStaticSnapshot consumes the static snapshot slot and, when a
// registered definition matches its identity, switches to that pipeline and
// applies the recorded values. It reports whether a matching pipeline was
// found; the slot is cleared either way.
func (s *Supervisor) ApplyStaticSnapshot() bool {
	if s.restart == nil {
		return false
	}
	st := s.restart.TakeStatic()
	if st == nil {
		return false
	}
	idx := s.registry.IndexOf(st.DefName)
	if idx < 0 {
		diagf("static snapshot for %s has no matching pipeline, discarded", st.DefName)
		return false
	}
	if err := s.forceChange(idx, false, false, true); err != nil {
		return false
	}
	if tc, ok := s.current.instance.(vision.TunableContainer); ok {
		st.TransferTo(tc, nil)
	}
	return true
}
