// Package benchrun persists per-run pipeline statistics to SQLite.
//
// A run is an explicit recording session: stats accumulate in memory while
// the run is active and are flushed to the database when the run finishes.
package benchrun

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/vision.bench/internal/monitoring"
)

// RunParams captures the supervisor settings in effect when a run started.
// They are serialized to JSON and stored alongside the run row so results
// can be compared across configurations.
type RunParams struct {
	TimeoutTier string  `json:"timeout_tier"`
	MaxFPS      float64 `json:"max_fps"`
	FrameWidth  int     `json:"frame_width"`
	FrameHeight int     `json:"frame_height"`
	Source      string  `json:"source,omitempty"`
}

// ToJSON serializes the params for storage.
func (p RunParams) ToJSON() ([]byte, error) {
	return json.Marshal(p)
}

// PipelineStats accumulates counters for a single pipeline within a run.
type PipelineStats struct {
	DefName        string        `json:"def_name"`
	Frames         int64         `json:"frames"`
	Errors         int64         `json:"errors"`
	Timeouts       int64         `json:"timeouts"`
	TotalProcessed time.Duration `json:"total_processed_nanos"`
	MaxProcessed   time.Duration `json:"max_processed_nanos"`
	LastError      string        `json:"last_error,omitempty"`
}

// MeanProcessed returns the average frame processing time, or zero when no
// frames completed.
func (ps PipelineStats) MeanProcessed() time.Duration {
	if ps.Frames == 0 {
		return 0
	}
	return ps.TotalProcessed / time.Duration(ps.Frames)
}

// RunSnapshot is a point-in-time view of an active or finished run.
type RunSnapshot struct {
	RunID         string          `json:"run_id"`
	StartedAt     time.Time       `json:"started_at"`
	Status        string          `json:"status"`
	TotalFrames   int64           `json:"total_frames"`
	TotalTimeouts int64           `json:"total_timeouts"`
	TotalErrors   int64           `json:"total_errors"`
	TotalSwitches int64           `json:"total_switches"`
	Pipelines     []PipelineStats `json:"pipelines"`
}

// Recorder coordinates run lifecycle and per-pipeline stat collection.
// It is safe for concurrent use; recording calls while no run is active
// are dropped silently so event wiring never has to check run state.
type Recorder struct {
	mu sync.RWMutex
	db *sql.DB

	runID     string
	startedAt time.Time

	totalFrames   int64
	totalTimeouts int64
	totalErrors   int64
	totalSwitches int64
	pipelines     map[string]*PipelineStats
}

// NewRecorder creates a recorder backed by the given database. The schema
// must already be migrated.
func NewRecorder(db *sql.DB) *Recorder {
	return &Recorder{
		db:        db,
		pipelines: make(map[string]*PipelineStats),
	}
}

// StartRun begins a new recording session and returns its run ID.
// A run already in progress is finished first with status "interrupted".
func (r *Recorder) StartRun(params RunParams) (string, error) {
	r.mu.Lock()
	prev := r.runID
	r.mu.Unlock()
	if prev != "" {
		if err := r.FinishRun("interrupted"); err != nil {
			return "", err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	runID := uuid.New().String()
	paramsJSON, err := params.ToJSON()
	if err != nil {
		return "", fmt.Errorf("serializing run params: %w", err)
	}

	now := time.Now()
	_, err = r.db.Exec(`
		INSERT INTO bench_runs (run_id, started_at, status, params_json)
		VALUES (?, ?, 'running', ?)`,
		runID, now.UnixMilli(), string(paramsJSON))
	if err != nil {
		return "", fmt.Errorf("inserting run: %w", err)
	}

	r.runID = runID
	r.startedAt = now
	r.totalFrames = 0
	r.totalTimeouts = 0
	r.totalErrors = 0
	r.totalSwitches = 0
	r.pipelines = make(map[string]*PipelineStats)

	monitoring.Logf("[benchrun] started run %s", runID)
	return runID, nil
}

// statsFor returns the per-pipeline accumulator, creating it on first use.
// Callers must hold r.mu.
func (r *Recorder) statsFor(defName string) *PipelineStats {
	ps, ok := r.pipelines[defName]
	if !ok {
		ps = &PipelineStats{DefName: defName}
		r.pipelines[defName] = ps
	}
	return ps
}

// RecordFrame counts a successfully processed frame and its duration.
func (r *Recorder) RecordFrame(defName string, dur time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.runID == "" {
		return
	}
	r.totalFrames++
	ps := r.statsFor(defName)
	ps.Frames++
	ps.TotalProcessed += dur
	if dur > ps.MaxProcessed {
		ps.MaxProcessed = dur
	}
}

// RecordTimeout counts a frame that exceeded its processing budget.
func (r *Recorder) RecordTimeout(defName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.runID == "" {
		return
	}
	r.totalTimeouts++
	r.statsFor(defName).Timeouts++
}

// RecordError counts a pipeline error and remembers its message.
func (r *Recorder) RecordError(defName, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.runID == "" {
		return
	}
	r.totalErrors++
	ps := r.statsFor(defName)
	ps.Errors++
	ps.LastError = msg
}

// RecordSwitch counts a pipeline change.
func (r *Recorder) RecordSwitch(fromIndex, toIndex int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.runID == "" {
		return
	}
	r.totalSwitches++
	monitoring.Logf("[benchrun] pipeline switch %d -> %d", fromIndex, toIndex)
}

// FinishRun closes the active run with the given status and flushes the
// accumulated per-pipeline stats. Finishing with no active run is a no-op.
func (r *Recorder) FinishRun(status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.runID == "" {
		return nil
	}

	_, err := r.db.Exec(`
		UPDATE bench_runs
		SET finished_at = ?, status = ?,
		    total_frames = ?, total_timeouts = ?, total_errors = ?, total_switches = ?
		WHERE run_id = ?`,
		time.Now().UnixMilli(), status,
		r.totalFrames, r.totalTimeouts, r.totalErrors, r.totalSwitches,
		r.runID)
	if err != nil {
		return fmt.Errorf("finishing run %s: %w", r.runID, err)
	}

	for _, ps := range r.pipelines {
		_, err := r.db.Exec(`
			INSERT INTO bench_run_pipelines
				(run_id, pipeline_name, frames, errors, timeouts,
				 total_proc_nanos, max_proc_nanos, last_error)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			r.runID, ps.DefName, ps.Frames, ps.Errors, ps.Timeouts,
			int64(ps.TotalProcessed), int64(ps.MaxProcessed), ps.LastError)
		if err != nil {
			monitoring.Logf("[benchrun] failed to persist stats for %s: %v", ps.DefName, err)
		}
	}

	monitoring.Logf("[benchrun] finished run %s (%s): %d frames, %d timeouts, %d errors, %d switches",
		r.runID, status, r.totalFrames, r.totalTimeouts, r.totalErrors, r.totalSwitches)

	r.runID = ""
	return nil
}

// IsRunActive reports whether a run is currently recording.
func (r *Recorder) IsRunActive() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.runID != ""
}

// CurrentRunID returns the active run ID, or empty when no run is active.
func (r *Recorder) CurrentRunID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.runID
}

// Snapshot returns a copy of the active run's accumulated stats.
// The second return is false when no run is active.
func (r *Recorder) Snapshot() (RunSnapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.runID == "" {
		return RunSnapshot{}, false
	}

	snap := RunSnapshot{
		RunID:         r.runID,
		StartedAt:     r.startedAt,
		Status:        "running",
		TotalFrames:   r.totalFrames,
		TotalTimeouts: r.totalTimeouts,
		TotalErrors:   r.totalErrors,
		TotalSwitches: r.totalSwitches,
	}
	for _, ps := range r.pipelines {
		snap.Pipelines = append(snap.Pipelines, *ps)
	}
	return snap, true
}
