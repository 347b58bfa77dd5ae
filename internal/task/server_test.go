package task

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harshv834/auv/internal/motion"
	"github.com/harshv834/auv/internal/timeutil"
)

type recordingSink struct {
	mu       sync.Mutex
	feedback map[string][]Feedback
	results  map[string][]Outcome
}

func newRecordingSink() *recordingSink {
	return &recordingSink{
		feedback: map[string][]Feedback{},
		results:  map[string][]Outcome{},
	}
}

func (s *recordingSink) PublishFeedback(runID string, fb Feedback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.feedback[runID] = append(s.feedback[runID], fb)
}

func (s *recordingSink) PublishResult(runID string, out Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[runID] = append(s.results[runID], out)
}

func (s *recordingSink) resultsFor(runID string) []Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Outcome(nil), s.results[runID]...)
}

func (s *recordingSink) feedbackFor(runID string) []Feedback {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Feedback(nil), s.feedback[runID]...)
}

func newTestServer(t *testing.T) (*Server, *harness, *recordingSink) {
	t.Helper()
	h := newHarness(t)
	n := 0
	srv := NewServer(h.ctrl, WithRunIDs(func() string {
		n++
		return fmt.Sprintf("run-%d", n)
	}))
	sink := newRecordingSink()
	srv.AddSink(sink)
	return srv, h, sink
}

func awaitTicker(t *testing.T, clock *timeutil.MockClock) *timeutil.MockTicker {
	t.Helper()
	select {
	case tk := <-clock.Tickers():
		return tk
	case <-time.After(waitTimeout):
		t.Fatal("no ticker created")
		return nil
	}
}

func awaitDone(t *testing.T, run *Run) Outcome {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	out, err := run.Outcome(ctx)
	require.NoError(t, err)
	return out
}

func TestServer_OrderFalseIsIndeterminate(t *testing.T) {
	srv, h, sink := newTestServer(t)

	run, err := srv.Submit(Goal{Order: false})
	require.NoError(t, err)

	select {
	case <-run.Done():
	default:
		t.Fatal("order=false run should finish immediately")
	}
	out := awaitDone(t, run)
	assert.True(t, out.Indeterminate())
	assert.Nil(t, out.Result)
	assert.Len(t, sink.resultsFor(run.ID()), 1)
	assert.Zero(t, h.tr.goalCount())

	_, active := srv.Active()
	assert.False(t, active)
}

func TestServer_DuplicateGoalJoinsActiveRun(t *testing.T) {
	srv, h, sink := newTestServer(t)

	first, err := srv.Submit(Goal{Order: true})
	require.NoError(t, err)
	h.ticker = awaitTicker(t, h.clock)
	h.tick()

	second, err := srv.Submit(Goal{Order: true})
	require.NoError(t, err)
	assert.Same(t, first, second)
	h.tick()

	perAxis := map[motion.Axis]int{}
	for _, s := range h.obs.sentGoals() {
		perAxis[s.Axis]++
	}
	assert.Equal(t, map[motion.Axis]int{motion.Turn: 1, motion.Forward: 1}, perAxis)

	st := srv.Status()
	assert.True(t, st.Active)
	assert.Equal(t, "run-1", st.RunID)
	assert.Equal(t, Searching, st.Phase)
	require.NotNil(t, st.LastFeedback)

	assert.True(t, srv.Cancel())
	h.tick()
	out := awaitDone(t, first)
	assert.Equal(t, Preempted, out.Phase)

	assert.Len(t, sink.resultsFor("run-1"), 1, "result published exactly once")
	assert.Len(t, sink.feedbackFor("run-1"), 2)

	st = srv.Status()
	assert.False(t, st.Active)
	assert.Equal(t, "run-1", st.LastRunID)
	assert.Equal(t, Preempted, st.LastPhase)
	assert.False(t, srv.Cancel())
}

func TestServer_NextRunAfterTerminal(t *testing.T) {
	srv, h, _ := newTestServer(t)

	first, err := srv.Submit(Goal{Order: true})
	require.NoError(t, err)
	h.ticker = awaitTicker(t, h.clock)
	first.Preempt()
	h.tick()
	awaitDone(t, first)

	second, err := srv.Submit(Goal{Order: true})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID(), second.ID())
	h.ticker = awaitTicker(t, h.clock)
	second.Preempt()
	h.tick()
	assert.Equal(t, Preempted, awaitDone(t, second).Phase)
}

func TestServer_Shutdown(t *testing.T) {
	srv, h, sink := newTestServer(t)

	run, err := srv.Submit(Goal{Order: true})
	require.NoError(t, err)
	h.ticker = awaitTicker(t, h.clock)
	h.tick()

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))

	out := awaitDone(t, run)
	assert.Equal(t, Preempted, out.Phase)
	assert.Len(t, sink.resultsFor(run.ID()), 1)

	_, err = srv.Submit(Goal{Order: true})
	assert.ErrorIs(t, err, ErrServerClosed)
}

func TestServer_LastFeedback(t *testing.T) {
	srv, h, _ := newTestServer(t)

	run, err := srv.Submit(Goal{Order: true})
	require.NoError(t, err)
	h.ticker = awaitTicker(t, h.clock)

	_, ok := run.LastFeedback()
	assert.False(t, ok)

	h.percept.SetHeadingError(-7.5)
	h.tick()
	fb, ok := run.LastFeedback()
	require.True(t, ok)
	assert.Equal(t, -7.5, fb.AngleRemaining)

	run.Preempt()
	h.tick()
	awaitDone(t, run)
}

func TestServer_RunPhaseFollowsTransitions(t *testing.T) {
	srv, h, _ := newTestServer(t)

	run, err := srv.Submit(Goal{Order: true})
	require.NoError(t, err)
	h.ticker = awaitTicker(t, h.clock)

	h.toCentering()
	assert.Equal(t, Centering, run.Phase())
	assert.Equal(t, Centering, srv.Status().Phase)

	h.resolve(motion.Forward, true)
	h.resolve(motion.Sideward, true)
	h.percept.SetHeadingError(20)
	h.tick()
	assert.Equal(t, Aligning, run.Phase())

	run.Preempt()
	h.tick()
	assert.Equal(t, Preempted, awaitDone(t, run).Phase)
}
