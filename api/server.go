package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/banshee-data/vision.bench/internal/benchrun"
	"github.com/banshee-data/vision.bench/internal/supervisor"
	"github.com/banshee-data/vision.bench/internal/tracker"
	"github.com/banshee-data/vision.bench/internal/vision"
)

// Server exposes supervisor control and status over HTTP. Mutating requests
// are marshalled onto the driving loop with DoOnceOnUpdate so all pipeline
// state changes happen on the loop goroutine.
type Server struct {
	sup      *supervisor.Supervisor
	registry *vision.Registry
	recorder *benchrun.Recorder
}

func NewServer(sup *supervisor.Supervisor, registry *vision.Registry, recorder *benchrun.Recorder) *Server {
	return &Server{
		sup:      sup,
		registry: registry,
		recorder: recorder,
	}
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.statusHandler)
	mux.HandleFunc("/pipelines", s.listPipelines)
	mux.HandleFunc("/pipeline", s.changePipeline)
	mux.HandleFunc("/pause", s.pauseHandler)
	mux.HandleFunc("/resume", s.resumeHandler)
	mux.HandleFunc("/tap", s.tapHandler)
	mux.HandleFunc("/tier", s.tierHandler)
	mux.HandleFunc("/snapshot/capture", s.captureSnapshot)
	mux.HandleFunc("/snapshot/apply", s.applySnapshot)
	mux.HandleFunc("/run/start", s.startRun)
	mux.HandleFunc("/run/finish", s.finishRun)
	return mux
}

type statusResponse struct {
	Pipeline     string                    `json:"pipeline"`
	Index        int                       `json:"index"`
	Paused       bool                      `json:"paused"`
	PauseState   string                    `json:"pause_state"`
	TimeoutTier  string                    `json:"timeout_tier"`
	LiveContexts int                       `json:"live_contexts"`
	Errors       map[string]tracker.Record `json:"errors,omitempty"`
	Run          *benchrun.RunSnapshot     `json:"run,omitempty"`
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp := statusResponse{
		Pipeline:     s.sup.CurrentName(),
		Index:        s.sup.CurrentIndex(),
		Paused:       s.sup.Paused(),
		PauseState:   s.sup.PauseState().String(),
		TimeoutTier:  s.sup.TimeoutTier().String(),
		LiveContexts: s.sup.LiveContexts(),
	}
	if errs := s.sup.Tracker().Snapshot(); len(errs) > 0 {
		resp.Errors = errs
	}
	if snap, ok := s.recorder.Snapshot(); ok {
		resp.Run = &snap
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		http.Error(w, "Failed to encode status", http.StatusInternalServerError)
	}
}

func (s *Server) listPipelines(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	type entry struct {
		Index  int    `json:"index"`
		Name   string `json:"name"`
		Origin string `json:"origin"`
	}
	var out []entry
	for i, def := range s.registry.List() {
		out = append(out, entry{Index: i, Name: def.Name, Origin: def.Origin.String()})
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(out); err != nil {
		http.Error(w, "Failed to encode pipelines", http.StatusInternalServerError)
	}
}

func (s *Server) changePipeline(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if name := r.FormValue("name"); name != "" {
		s.sup.DoOnceOnUpdate(func() { s.sup.ChangePipelineByName(name) })
		io.WriteString(w, "Pipeline change requested\n")
		return
	}
	if idx := r.FormValue("index"); idx != "" {
		i, err := strconv.Atoi(idx)
		if err != nil {
			http.Error(w, "Invalid index", http.StatusBadRequest)
			return
		}
		s.sup.DoOnceOnUpdate(func() { s.sup.ChangePipeline(i) })
		io.WriteString(w, "Pipeline change requested\n")
		return
	}
	http.Error(w, "Missing name or index", http.StatusBadRequest)
}

func (s *Server) pauseHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.sup.SetPaused(true)
	io.WriteString(w, "Paused\n")
}

func (s *Server) resumeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.sup.SetPaused(false)
	io.WriteString(w, "Resumed\n")
}

func (s *Server) tapHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.sup.DoOnceOnUpdate(func() { s.sup.CallViewportTapped() })
	io.WriteString(w, "Tap delivered\n")
}

func (s *Server) tierHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	tier, err := supervisor.ParseTier(r.FormValue("tier"))
	if err != nil {
		http.Error(w, fmt.Sprintf("Invalid tier: %v", err), http.StatusBadRequest)
		return
	}
	s.sup.SetTimeoutTier(tier)
	io.WriteString(w, "Timeout tier updated\n")
}

func (s *Server) captureSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if r.FormValue("static") != "" {
		s.sup.DoOnceOnUpdate(func() { s.sup.CaptureStaticSnapshot() })
	} else {
		s.sup.DoOnceOnUpdate(func() { s.sup.CaptureSnapshot() })
	}
	io.WriteString(w, "Snapshot capture requested\n")
}

func (s *Server) applySnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if r.FormValue("static") != "" {
		s.sup.DoOnceOnUpdate(func() { s.sup.ApplyStaticSnapshot() })
	} else {
		s.sup.DoOnceOnUpdate(func() { s.sup.ApplyLatestSnapshot() })
	}
	io.WriteString(w, "Snapshot apply requested\n")
}

func (s *Server) startRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	params := benchrun.RunParams{
		TimeoutTier: s.sup.TimeoutTier().String(),
	}
	runID, err := s.recorder.StartRun(params)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to start run: %v", err), http.StatusInternalServerError)
		return
	}
	io.WriteString(w, runID+"\n")
}

func (s *Server) finishRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	status := r.FormValue("status")
	if status == "" {
		status = "completed"
	}
	if err := s.recorder.FinishRun(status); err != nil {
		http.Error(w, fmt.Sprintf("Failed to finish run: %v", err), http.StatusInternalServerError)
		return
	}
	io.WriteString(w, "Run finished\n")
}
