// Package api serves the daemon's HTTP interface: task status and control,
// the run log, run charts and Prometheus metrics.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/harshv834/auv/internal/db"
	"github.com/harshv834/auv/internal/perception"
	"github.com/harshv834/auv/internal/task"
	"github.com/harshv834/auv/internal/version"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// TaskServer is the part of task.Server the API drives.
type TaskServer interface {
	Submit(task.Goal) (*task.Run, error)
	Cancel() bool
	Status() task.Status
}

// PerceptionSource reports the controller's latest perception snapshot.
type PerceptionSource interface {
	Perception() perception.State
}

// RunStore is the read side of the run log.
type RunStore interface {
	Runs(limit int) ([]db.Run, error)
	Run(runID string) (db.Run, error)
	Transitions(runID string) ([]db.Transition, error)
	Goals(runID string) ([]db.Goal, error)
	Samples(runID string) ([]db.Sample, error)
}

// LinkStats reports the vehicle bridge link health.
type LinkStats interface {
	Firmware() (string, bool)
	Stats() (received, dropped int64)
}

type Server struct {
	tasks   TaskServer
	percept PerceptionSource
	runs    RunStore
	link    LinkStats
}

// NewServer returns the API. runs and link may be nil when the daemon runs
// without a run log or bridge link.
func NewServer(tasks TaskServer, percept PerceptionSource, runs RunStore, link LinkStats) *Server {
	return &Server{
		tasks:   tasks,
		percept: percept,
		runs:    runs,
		link:    link,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.showStatus)
	mux.HandleFunc("/api/task", s.submitTask)
	mux.HandleFunc("/api/task/cancel", s.cancelTask)
	mux.HandleFunc("/api/runs", s.listRuns)
	mux.HandleFunc("/api/runs/{id}", s.showRun)
	mux.HandleFunc("/api/runs/{id}/chart", s.showRunChart)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: write response: %v", err)
	}
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return false
	}
	return true
}

type perceptionJSON struct {
	Line         string   `json:"line"`
	OffsetX      *float64 `json:"offset_x,omitempty"`
	OffsetY      *float64 `json:"offset_y,omitempty"`
	HeadingError *float64 `json:"heading_error,omitempty"`
}

type linkJSON struct {
	Firmware string `json:"firmware,omitempty"`
	Received int64  `json:"received"`
	Dropped  int64  `json:"dropped"`
}

type statusResponse struct {
	task.Status
	Perception perceptionJSON `json:"perception"`
	Link       *linkJSON      `json:"link,omitempty"`
	Version    string         `json:"version"`
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}
	st := s.percept.Perception()
	resp := statusResponse{
		Status:     s.tasks.Status(),
		Perception: perceptionJSON{Line: st.Line.String()},
		Version:    version.String(),
	}
	if st.OffsetKnown {
		resp.Perception.OffsetX, resp.Perception.OffsetY = &st.OffsetX, &st.OffsetY
	}
	if st.HeadingKnown {
		resp.Perception.HeadingError = &st.HeadingError
	}
	if s.link != nil {
		fw, _ := s.link.Firmware()
		received, dropped := s.link.Stats()
		resp.Link = &linkJSON{Firmware: fw, Received: received, Dropped: dropped}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

type submitResponse struct {
	RunID string `json:"run_id"`
}

// submitTask accepts {"order": bool}. An empty body orders a run.
func (s *Server) submitTask(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}
	goal := task.Goal{Order: true}
	if err := json.NewDecoder(r.Body).Decode(&goal); err != nil && !errors.Is(err, io.EOF) {
		s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("Invalid goal: %v", err))
		return
	}
	run, err := s.tasks.Submit(goal)
	if errors.Is(err, task.ErrServerClosed) {
		s.writeJSONError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusAccepted, submitResponse{RunID: run.ID()})
}

func (s *Server) cancelTask(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"canceled": s.tasks.Cancel()})
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) || !s.requireRunLog(w) {
		return
	}
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 {
			s.writeJSONError(w, http.StatusBadRequest, "Invalid 'limit' parameter")
			return
		}
		limit = parsed
	}
	runs, err := s.runs.Runs(limit)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve runs: %v", err))
		return
	}
	if runs == nil {
		runs = []db.Run{}
	}
	s.writeJSON(w, http.StatusOK, runs)
}

type runDetail struct {
	db.Run
	Transitions []db.Transition `json:"transitions"`
	Goals       []db.Goal       `json:"goals"`
}

func (s *Server) showRun(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) || !s.requireRunLog(w) {
		return
	}
	runID := r.PathValue("id")
	run, ok := s.lookupRun(w, runID)
	if !ok {
		return
	}
	transitions, err := s.runs.Transitions(runID)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve transitions: %v", err))
		return
	}
	goals, err := s.runs.Goals(runID)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve goals: %v", err))
		return
	}
	s.writeJSON(w, http.StatusOK, runDetail{Run: run, Transitions: transitions, Goals: goals})
}

func (s *Server) lookupRun(w http.ResponseWriter, runID string) (db.Run, bool) {
	run, err := s.runs.Run(runID)
	if errors.Is(err, db.ErrRunNotFound) {
		s.writeJSONError(w, http.StatusNotFound, err.Error())
		return db.Run{}, false
	}
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve run: %v", err))
		return db.Run{}, false
	}
	return run, true
}

func (s *Server) requireRunLog(w http.ResponseWriter) bool {
	if s.runs == nil {
		s.writeJSONError(w, http.StatusServiceUnavailable, "Run log disabled")
		return false
	}
	return true
}
