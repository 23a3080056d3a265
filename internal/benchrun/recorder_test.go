package benchrun

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

func setupRecorderDB(t *testing.T) *sql.DB {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "bench.db")
	db, err := sql.Open("sqlite", dbPath)
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	createSQL := `
CREATE TABLE bench_runs (
	run_id           TEXT PRIMARY KEY,
	started_at       TIMESTAMP NOT NULL,
	finished_at      TIMESTAMP,
	status           TEXT NOT NULL DEFAULT 'running',
	params_json      TEXT,
	total_frames     BIGINT NOT NULL DEFAULT 0,
	total_timeouts   BIGINT NOT NULL DEFAULT 0,
	total_errors     BIGINT NOT NULL DEFAULT 0,
	total_switches   BIGINT NOT NULL DEFAULT 0
);
CREATE TABLE bench_run_pipelines (
	run_id           TEXT NOT NULL,
	pipeline_name    TEXT NOT NULL,
	frames           BIGINT NOT NULL DEFAULT 0,
	errors           BIGINT NOT NULL DEFAULT 0,
	timeouts         BIGINT NOT NULL DEFAULT 0,
	total_proc_nanos BIGINT NOT NULL DEFAULT 0,
	max_proc_nanos   BIGINT NOT NULL DEFAULT 0,
	last_error       TEXT,
	PRIMARY KEY (run_id, pipeline_name)
);`
	_, err = db.Exec(createSQL)
	require.NoError(t, err)
	return db
}

func TestRecorderLifecycle(t *testing.T) {
	db := setupRecorderDB(t)
	rec := NewRecorder(db)

	assert.False(t, rec.IsRunActive())
	assert.Equal(t, "", rec.CurrentRunID())

	runID, err := rec.StartRun(RunParams{TimeoutTier: "low", MaxFPS: 30, FrameWidth: 320, FrameHeight: 240})
	require.NoError(t, err)
	require.NotEmpty(t, runID)
	assert.True(t, rec.IsRunActive())
	assert.Equal(t, runID, rec.CurrentRunID())

	rec.RecordFrame("Passthrough", 2*time.Millisecond)
	rec.RecordFrame("Passthrough", 6*time.Millisecond)
	rec.RecordFrame("Threshold", 4*time.Millisecond)
	rec.RecordTimeout("Threshold")
	rec.RecordError("Threshold", "level out of range")
	rec.RecordSwitch(1, 0)

	snap, ok := rec.Snapshot()
	require.True(t, ok)
	assert.Equal(t, int64(3), snap.TotalFrames)
	assert.Equal(t, int64(1), snap.TotalTimeouts)
	assert.Equal(t, int64(1), snap.TotalErrors)
	assert.Equal(t, int64(1), snap.TotalSwitches)
	require.Len(t, snap.Pipelines, 2)

	require.NoError(t, rec.FinishRun("completed"))
	assert.False(t, rec.IsRunActive())

	var status string
	var frames, timeouts, errors, switches int64
	row := db.QueryRow(`SELECT status, total_frames, total_timeouts, total_errors, total_switches FROM bench_runs WHERE run_id = ?`, runID)
	require.NoError(t, row.Scan(&status, &frames, &timeouts, &errors, &switches))
	assert.Equal(t, "completed", status)
	assert.Equal(t, int64(3), frames)
	assert.Equal(t, int64(1), timeouts)
	assert.Equal(t, int64(1), errors)
	assert.Equal(t, int64(1), switches)

	var pFrames, totalNanos, maxNanos int64
	row = db.QueryRow(`SELECT frames, total_proc_nanos, max_proc_nanos FROM bench_run_pipelines WHERE run_id = ? AND pipeline_name = ?`, runID, "Passthrough")
	require.NoError(t, row.Scan(&pFrames, &totalNanos, &maxNanos))
	assert.Equal(t, int64(2), pFrames)
	assert.Equal(t, int64(8*time.Millisecond), totalNanos)
	assert.Equal(t, int64(6*time.Millisecond), maxNanos)

	var lastError string
	row = db.QueryRow(`SELECT last_error FROM bench_run_pipelines WHERE run_id = ? AND pipeline_name = ?`, runID, "Threshold")
	require.NoError(t, row.Scan(&lastError))
	assert.Equal(t, "level out of range", lastError)
}

func TestRecorderWithoutActiveRun(t *testing.T) {
	db := setupRecorderDB(t)
	rec := NewRecorder(db)

	// Recording outside a run is dropped silently.
	rec.RecordFrame("Passthrough", time.Millisecond)
	rec.RecordTimeout("Passthrough")
	rec.RecordError("Passthrough", "boom")
	rec.RecordSwitch(0, 1)

	_, ok := rec.Snapshot()
	assert.False(t, ok)
	require.NoError(t, rec.FinishRun("completed"))

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM bench_runs`).Scan(&count))
	assert.Equal(t, 0, count)
}

func TestStartRunInterruptsPrevious(t *testing.T) {
	db := setupRecorderDB(t)
	rec := NewRecorder(db)

	first, err := rec.StartRun(RunParams{})
	require.NoError(t, err)
	rec.RecordFrame("Passthrough", time.Millisecond)

	second, err := rec.StartRun(RunParams{})
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	var status string
	require.NoError(t, db.QueryRow(`SELECT status FROM bench_runs WHERE run_id = ?`, first).Scan(&status))
	assert.Equal(t, "interrupted", status)

	// Counters reset for the new run.
	snap, ok := rec.Snapshot()
	require.True(t, ok)
	assert.Equal(t, int64(0), snap.TotalFrames)
}

func TestPipelineStatsMean(t *testing.T) {
	t.Parallel()

	ps := PipelineStats{Frames: 4, TotalProcessed: 20 * time.Millisecond}
	assert.Equal(t, 5*time.Millisecond, ps.MeanProcessed())
	assert.Equal(t, time.Duration(0), PipelineStats{}.MeanProcessed())
}
