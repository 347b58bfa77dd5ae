package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/harshv834/auv/internal/motion"
	"github.com/harshv834/auv/internal/perception"
	"github.com/harshv834/auv/internal/timeutil"
)

const waitTimeout = 2 * time.Second

type goalCall struct {
	Axis motion.Axis
	ID   string
	Goal motion.Goal
}

type fakeTransport struct {
	mu       sync.Mutex
	goals    []goalCall
	cancels  []goalCall
	failAxis motion.Axis
}

func (f *fakeTransport) SendGoal(axis motion.Axis, id string, g motion.Goal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if axis == f.failAxis {
		return errors.New("executor unreachable")
	}
	f.goals = append(f.goals, goalCall{Axis: axis, ID: id, Goal: g})
	return nil
}

func (f *fakeTransport) CancelGoal(axis motion.Axis, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels = append(f.cancels, goalCall{Axis: axis, ID: id})
	return nil
}

func (f *fakeTransport) lastGoal(axis motion.Axis) (goalCall, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.goals) - 1; i >= 0; i-- {
		if f.goals[i].Axis == axis {
			return f.goals[i], true
		}
	}
	return goalCall{}, false
}

func (f *fakeTransport) goalCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.goals)
}

func (f *fakeTransport) cancelCalls() []goalCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]goalCall(nil), f.cancels...)
}

type switchRecorder struct {
	mu     sync.Mutex
	active []perception.Detector
}

func (s *switchRecorder) PublishSwitch(d perception.Detector, paused bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !paused {
		s.active = append(s.active, d)
	}
	return nil
}

type sentEvent struct {
	Phase Phase
	Axis  motion.Axis
	Goal  motion.Goal
}

type cancelEvent struct {
	Phase Phase
	Axis  motion.Axis
}

// traceObserver records controller events and signals ticks and completions
// so a test can step the loop deterministically.
type traceObserver struct {
	mu          sync.Mutex
	ticks       []Phase
	transitions [][2]Phase
	sent        []sentEvent
	canceled    []cancelEvent
	finished    []Outcome

	tickc     chan Phase
	completec chan motion.Axis
}

func newTraceObserver() *traceObserver {
	return &traceObserver{
		tickc:     make(chan Phase, 1024),
		completec: make(chan motion.Axis, 1024),
	}
}

func (o *traceObserver) RunStarted(string, Goal) {}

func (o *traceObserver) PhaseTick(_ string, phase Phase, _ perception.State) {
	o.mu.Lock()
	o.ticks = append(o.ticks, phase)
	o.mu.Unlock()
	o.tickc <- phase
}

func (o *traceObserver) PhaseChanged(_ string, from, to Phase) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.transitions = append(o.transitions, [2]Phase{from, to})
}

func (o *traceObserver) GoalSent(_ string, phase Phase, axis motion.Axis, _ string, goal motion.Goal) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sent = append(o.sent, sentEvent{phase, axis, goal})
}

func (o *traceObserver) GoalCanceled(_ string, phase Phase, axis motion.Axis, _ string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.canceled = append(o.canceled, cancelEvent{phase, axis})
}

func (o *traceObserver) Completion(_ string, axis motion.Axis, _ string, _ bool) {
	o.completec <- axis
}

func (o *traceObserver) RunFinished(_ string, out Outcome) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.finished = append(o.finished, out)
}

func (o *traceObserver) tickTrace() []Phase {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Phase(nil), o.ticks...)
}

func (o *traceObserver) sentGoals() []sentEvent {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]sentEvent(nil), o.sent...)
}

func (o *traceObserver) cancels() []cancelEvent {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]cancelEvent(nil), o.canceled...)
}

func (o *traceObserver) transitionCount(from, to Phase) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, tr := range o.transitions {
		if tr == [2]Phase{from, to} {
			n++
		}
	}
	return n
}

type harness struct {
	t        *testing.T
	clock    *timeutil.MockClock
	percept  *perception.Listener
	tr       *fakeTransport
	axes     *motion.Set
	pub      *switchRecorder
	switches *perception.Switches
	obs      *traceObserver
	ctrl     *Controller

	ticker  *timeutil.MockTicker
	preempt chan struct{}
	outc    chan Outcome

	fbMu     sync.Mutex
	feedback []Feedback
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		t:       t,
		clock:   timeutil.NewMockClock(time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)),
		percept: perception.NewListener(),
		tr:      &fakeTransport{},
		pub:     &switchRecorder{},
		obs:     newTraceObserver(),
		preempt: make(chan struct{}),
		outc:    make(chan Outcome, 1),
	}
	n := 0
	h.axes = motion.NewSet(h.tr, motion.WithIDGenerator(func() string {
		n++
		return fmt.Sprintf("g%d", n)
	}))
	h.switches = perception.NewSwitches(h.pub)
	all := append([]Option{WithClock(h.clock), WithObserver(h.obs)}, opts...)
	h.ctrl = NewController(h.percept, h.axes, h.switches, all...)
	return h
}

func (h *harness) start(ctx context.Context) {
	h.t.Helper()
	go func() {
		h.outc <- h.ctrl.Run(ctx, "run-1", Goal{Order: true}, h.preempt, h.recordFeedback)
	}()
	select {
	case h.ticker = <-h.clock.Tickers():
	case <-time.After(waitTimeout):
		h.t.Fatal("controller never created its ticker")
	}
}

func (h *harness) recordFeedback(fb Feedback) {
	h.fbMu.Lock()
	defer h.fbMu.Unlock()
	h.feedback = append(h.feedback, fb)
}

func (h *harness) feedbackTrace() []Feedback {
	h.fbMu.Lock()
	defer h.fbMu.Unlock()
	return append([]Feedback(nil), h.feedback...)
}

// tick delivers one poll tick and waits until the loop has handled it.
func (h *harness) tick() Phase {
	h.t.Helper()
	require.True(h.t, h.ticker.Tick(), "poll loop has stopped")
	select {
	case p := <-h.obs.tickc:
		return p
	case <-time.After(waitTimeout):
		h.t.Fatal("tick was not handled")
		return 0
	}
}

func (h *harness) ticks(n int) {
	h.t.Helper()
	for i := 0; i < n; i++ {
		h.tick()
	}
}

// resolve reports a terminal result for the latest goal on axis and waits for
// its waiter to record it.
func (h *harness) resolve(axis motion.Axis, reached bool) {
	h.t.Helper()
	g, ok := h.tr.lastGoal(axis)
	require.True(h.t, ok, "no %s goal sent", axis)
	require.True(h.t, h.axes.Resolve(axis, g.ID, motion.Result{ReachedTarget: reached}), "stale %s goal", axis)
	select {
	case got := <-h.obs.completec:
		require.Equal(h.t, axis, got)
	case <-time.After(waitTimeout):
		h.t.Fatalf("waiter for %s never completed", axis)
	}
}

func (h *harness) outcome() Outcome {
	h.t.Helper()
	select {
	case out := <-h.outc:
		return out
	case <-time.After(waitTimeout):
		h.t.Fatal("run did not finish")
		return Outcome{}
	}
}

func (h *harness) doPreempt() { close(h.preempt) }

// toCentering drives a fresh run into CENTERING.
func (h *harness) toCentering() {
	h.t.Helper()
	h.percept.SetLineDetected(false)
	h.tick()
	h.percept.SetLineDetected(true)
	require.Equal(h.t, Searching, h.tick())
}

// toAligning drives a fresh run into ALIGNING with the given heading error.
func (h *harness) toAligning(heading float64) {
	h.t.Helper()
	h.toCentering()
	h.resolve(motion.Forward, true)
	h.resolve(motion.Sideward, true)
	h.percept.SetHeadingError(heading)
	require.Equal(h.t, Centering, h.tick())
}
