package task

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/harshv834/auv/internal/monitoring"
	"github.com/harshv834/auv/internal/timeutil"
)

// Sink receives the task interface's outbound traffic. PublishResult is
// called exactly once per run.
type Sink interface {
	PublishFeedback(runID string, fb Feedback)
	PublishResult(runID string, out Outcome)
}

// Run is one accepted goal.
type Run struct {
	id      string
	goal    Goal
	started time.Time

	phase       atomic.Int32
	feedback    atomic.Pointer[Feedback]
	preempt     chan struct{}
	preemptOnce sync.Once
	done        chan struct{}
	outcome     Outcome
}

func newRun(id string, goal Goal, started time.Time) *Run {
	return &Run{
		id:      id,
		goal:    goal,
		started: started,
		preempt: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (r *Run) ID() string            { return r.id }
func (r *Run) Goal() Goal            { return r.goal }
func (r *Run) Started() time.Time    { return r.started }
func (r *Run) Phase() Phase          { return Phase(r.phase.Load()) }
func (r *Run) Done() <-chan struct{} { return r.done }

// Preempt asks the run to stop at its next tick. It is safe to call repeatedly.
func (r *Run) Preempt() {
	r.preemptOnce.Do(func() { close(r.preempt) })
}

// Outcome blocks until the run finishes or ctx is done.
func (r *Run) Outcome(ctx context.Context) (Outcome, error) {
	select {
	case <-r.done:
		return r.outcome, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// LastFeedback returns the most recent feedback, if any was emitted.
func (r *Run) LastFeedback() (Feedback, bool) {
	fb := r.feedback.Load()
	if fb == nil {
		return Feedback{}, false
	}
	return *fb, true
}

// Status is a point-in-time view of the server for the status API.
type Status struct {
	Active       bool      `json:"active"`
	RunID        string    `json:"run_id,omitempty"`
	Phase        Phase     `json:"phase,omitempty"`
	Started      time.Time `json:"started,omitempty"`
	LastFeedback *Feedback `json:"last_feedback,omitempty"`
	LastRunID    string    `json:"last_run_id,omitempty"`
	LastPhase    Phase     `json:"last_phase,omitempty"`
}

// Server is the task interface: it accepts goals, runs at most one maneuver
// at a time and publishes feedback and results to its sinks.
type Server struct {
	ctrl  *Controller
	clock timeutil.Clock
	newID func() string
	logf  func(format string, v ...interface{})

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	sinks  []Sink
	active *Run
	last   *Run
	closed bool
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithRunIDs replaces the uuid run ID generator.
func WithRunIDs(f func() string) ServerOption {
	return func(s *Server) { s.newID = f }
}

// NewServer returns a Server driving ctrl.
func NewServer(ctrl *Controller, opts ...ServerOption) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		ctrl:   ctrl,
		clock:  ctrl.clock,
		newID:  uuid.NewString,
		logf:   monitoring.Component("task"),
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	ctrl.AddObserver(phaseTracker{s: s})
	return s
}

// AddSink registers a sink for feedback and results.
func (s *Server) AddSink(sink Sink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sinks = append(s.sinks, sink)
}

// Submit accepts a goal. While a run is active the same Run is returned, so a
// repeated goal never duplicates outstanding motion goals. A goal with
// Order=false finishes immediately with an indeterminate outcome.
func (s *Server) Submit(goal Goal) (*Run, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrServerClosed
	}
	if s.active != nil {
		run := s.active
		s.mu.Unlock()
		s.logf("goal joined active run %s", run.id)
		return run, nil
	}

	run := newRun(s.newID(), goal, s.clock.Now())
	if !goal.Order {
		s.last = run
		s.mu.Unlock()
		s.logf("run %s: order=false, not starting", run.id)
		s.complete(run, Outcome{})
		return run, nil
	}
	s.active = run
	s.wg.Add(1)
	s.mu.Unlock()

	go s.execute(run)
	return run, nil
}

func (s *Server) execute(run *Run) {
	defer s.wg.Done()
	out := s.ctrl.Run(s.ctx, run.id, run.goal, run.preempt, func(fb Feedback) {
		run.feedback.Store(&fb)
		for _, sink := range s.sinkList() {
			sink.PublishFeedback(run.id, fb)
		}
	})

	s.mu.Lock()
	s.active = nil
	s.last = run
	s.mu.Unlock()
	s.complete(run, out)
}

func (s *Server) complete(run *Run, out Outcome) {
	run.outcome = out
	run.phase.Store(int32(out.Phase))
	for _, sink := range s.sinkList() {
		sink.PublishResult(run.id, out)
	}
	close(run.done)
}

func (s *Server) sinkList() []Sink {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Sink(nil), s.sinks...)
}

// Active returns the running maneuver, if any.
func (s *Server) Active() (*Run, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active, s.active != nil
}

// Cancel preempts the active run. It reports whether a run was active.
func (s *Server) Cancel() bool {
	run, ok := s.Active()
	if ok {
		run.Preempt()
	}
	return ok
}

// Status reports the active and most recent runs.
func (s *Server) Status() Status {
	s.mu.Lock()
	active, last := s.active, s.last
	s.mu.Unlock()

	var st Status
	if active != nil {
		st.Active = true
		st.RunID = active.id
		st.Phase = active.Phase()
		st.Started = active.started
		if fb, ok := active.LastFeedback(); ok {
			st.LastFeedback = &fb
		}
	}
	if last != nil {
		st.LastRunID = last.id
		st.LastPhase = last.Phase()
	}
	return st
}

// Shutdown refuses new goals, preempts the active run and waits for it to
// wind down or ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	active := s.active
	s.mu.Unlock()
	if active != nil {
		active.Preempt()
	}
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// phaseTracker mirrors controller transitions onto the active Run.
type phaseTracker struct {
	NopObserver
	s *Server
}

func (t phaseTracker) PhaseChanged(runID string, _, to Phase) {
	if run, ok := t.s.Active(); ok && run.id == runID {
		run.phase.Store(int32(to))
	}
}
