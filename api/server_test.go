package api

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"

	"github.com/banshee-data/vision.bench/internal/benchrun"
	"github.com/banshee-data/vision.bench/internal/supervisor"
	"github.com/banshee-data/vision.bench/internal/vision"
	"github.com/banshee-data/vision.bench/internal/vision/pipelines"
)

func newTestServer(t *testing.T) (*Server, *supervisor.Supervisor) {
	t.Helper()

	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "bench.db"))
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	_, err = db.Exec(`
CREATE TABLE bench_runs (
	run_id TEXT PRIMARY KEY, started_at TIMESTAMP, finished_at TIMESTAMP,
	status TEXT, params_json TEXT,
	total_frames BIGINT DEFAULT 0, total_timeouts BIGINT DEFAULT 0,
	total_errors BIGINT DEFAULT 0, total_switches BIGINT DEFAULT 0
);
CREATE TABLE bench_run_pipelines (
	run_id TEXT, pipeline_name TEXT, frames BIGINT, errors BIGINT,
	timeouts BIGINT, total_proc_nanos BIGINT, max_proc_nanos BIGINT,
	last_error TEXT, PRIMARY KEY (run_id, pipeline_name)
);`)
	require.NoError(t, err)

	reg := vision.NewRegistry()
	pipelines.RegisterBuiltins(reg)
	sup, err := supervisor.New(supervisor.Config{Registry: reg})
	require.NoError(t, err)

	return NewServer(sup, reg, benchrun.NewRecorder(db)), sup
}

func postForm(t *testing.T, mux *http.ServeMux, path string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func TestStatusEndpoint(t *testing.T) {
	srv, sup := newTestServer(t)
	mux := srv.ServeMux()

	sup.ChangePipeline(0)

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var status struct {
		Pipeline   string `json:"pipeline"`
		Index      int    `json:"index"`
		Paused     bool   `json:"paused"`
		PauseState string `json:"pause_state"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, "Passthrough", status.Pipeline)
	assert.Equal(t, 0, status.Index)
	assert.False(t, status.Paused)
	assert.Equal(t, "not_paused", status.PauseState)

	w = postForm(t, mux, "/status", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestListPipelines(t *testing.T) {
	srv, _ := newTestServer(t)
	mux := srv.ServeMux()

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/pipelines", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var list []struct {
		Index  int    `json:"index"`
		Name   string `json:"name"`
		Origin string `json:"origin"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.NotEmpty(t, list)
	assert.Equal(t, "Passthrough", list[0].Name)
	assert.Equal(t, "builtin", list[0].Origin)
}

func TestChangePipelineEndpoint(t *testing.T) {
	srv, sup := newTestServer(t)
	mux := srv.ServeMux()

	w := postForm(t, mux, "/pipeline", url.Values{"name": {"Grayscale"}})
	require.Equal(t, http.StatusOK, w.Code)

	// The change is deferred to the next update cycle.
	assert.Equal(t, -1, sup.CurrentIndex())
	require.NoError(t, sup.Update(nil))
	assert.Equal(t, "Grayscale", sup.CurrentName())

	w = postForm(t, mux, "/pipeline", url.Values{"index": {"0"}})
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, sup.Update(nil))
	assert.Equal(t, 0, sup.CurrentIndex())

	w = postForm(t, mux, "/pipeline", url.Values{"index": {"abc"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = postForm(t, mux, "/pipeline", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPauseResumeEndpoints(t *testing.T) {
	srv, sup := newTestServer(t)
	mux := srv.ServeMux()

	w := postForm(t, mux, "/pause", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, sup.Paused())

	w = postForm(t, mux, "/resume", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, sup.Paused())
}

func TestTierEndpoint(t *testing.T) {
	srv, sup := newTestServer(t)
	mux := srv.ServeMux()

	w := postForm(t, mux, "/tier", url.Values{"tier": {"high"}})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, supervisor.TierHigh, sup.TimeoutTier())

	w = postForm(t, mux, "/tier", url.Values{"tier": {"bogus"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRunEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)
	mux := srv.ServeMux()

	w := postForm(t, mux, "/run/start", nil)
	require.Equal(t, http.StatusOK, w.Code)
	runID := strings.TrimSpace(w.Body.String())
	assert.NotEmpty(t, runID)

	// Status now carries the active run.
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/status", nil))
	var status struct {
		Run *struct {
			RunID string `json:"run_id"`
		} `json:"run"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	require.NotNil(t, status.Run)
	assert.Equal(t, runID, status.Run.RunID)

	w = postForm(t, mux, "/run/finish", url.Values{"status": {"completed"}})
	require.Equal(t, http.StatusOK, w.Code)
}
