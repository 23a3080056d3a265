package supervisor

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
)

// Job is one unit of pipeline-supplied code dispatched to an execution
// context. The driving loop waits on Done with a timeout; Cancel requests a
// cooperative stop and marks the job's result as discarded.
type Job struct {
	ctx    context.Context
	cancel context.CancelFunc
	fn     func(ctx context.Context) error
	done   chan struct{}
	err    error
}

// Done is closed when the job has finished running, successfully or not.
func (j *Job) Done() <-chan struct{} { return j.done }

// Err returns the job's error. Only valid after Done is closed.
func (j *Job) Err() error { return j.err }

// Cancel requests a cooperative stop. User code that ignores the context
// keeps running in the background, but the job's result is discarded.
func (j *Job) Cancel() { j.cancel() }

// Cancelled reports whether the job's context has been cancelled.
func (j *Job) Cancelled() bool { return j.ctx.Err() != nil }

func (j *Job) run() {
	defer func() {
		if r := recover(); r != nil {
			j.err = fmt.Errorf("pipeline panic: %v", r)
		}
		close(j.done)
	}()
	j.err = j.fn(j.ctx)
}

// ExecContext is a single-worker sequential task queue bound 1:1 to the
// active pipeline for its lifetime. It is destroyed and recreated on every
// pipeline change so no work from one pipeline can interfere with the next.
//
// The live counter tracks how many worker goroutines exist: a worker whose
// task hangs never exits, so a stuck pipeline keeps its context "alive" after
// the supervisor has disowned it. The supervisor's context ceiling converts
// an accumulation of stuck workers into a hard failure.
type ExecContext struct {
	id     string
	tasks  chan *Job
	ctx    context.Context
	cancel context.CancelFunc
	live   *atomic.Int32
	closed atomic.Bool
}

func newExecContext(live *atomic.Int32) *ExecContext {
	ctx, cancel := context.WithCancel(context.Background())
	c := &ExecContext{
		id:     uuid.New().String(),
		tasks:  make(chan *Job, 1),
		ctx:    ctx,
		cancel: cancel,
		live:   live,
	}
	live.Add(1)
	go c.work()
	return c
}

// ID returns the context's unique identifier.
func (c *ExecContext) ID() string { return c.id }

func (c *ExecContext) work() {
	defer c.live.Add(-1)
	for {
		select {
		case <-c.ctx.Done():
			return
		case j := <-c.tasks:
			j.run()
		}
	}
}

// Submit queues one unit of work and returns its job, or nil when the
// context is closed or its single slot is still occupied. The driving loop
// waits for each job before submitting the next, so a nil return from a full
// slot indicates a sequencing bug in the caller.
func (c *ExecContext) Submit(fn func(ctx context.Context) error) *Job {
	if c.closed.Load() {
		return nil
	}
	jctx, jcancel := context.WithCancel(c.ctx)
	j := &Job{ctx: jctx, cancel: jcancel, fn: fn, done: make(chan struct{})}
	select {
	case c.tasks <- j:
		return j
	default:
		jcancel()
		return nil
	}
}

// Close retires the context. It never blocks: an idle worker exits
// immediately, a busy worker exits after its current task returns, and a
// hung worker is disowned and keeps the live counter elevated until the user
// code gives up.
func (c *ExecContext) Close() {
	if c.closed.Swap(true) {
		return
	}
	c.cancel()
}
