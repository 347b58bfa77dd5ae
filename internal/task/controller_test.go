package task

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harshv834/auv/internal/motion"
	"github.com/harshv834/auv/internal/perception"
)

func repeat(p Phase, n int) []Phase {
	out := make([]Phase, n)
	for i := range out {
		out[i] = p
	}
	return out
}

func TestController_EndToEndTrace(t *testing.T) {
	h := newHarness(t)
	h.start(context.Background())

	h.percept.SetLineDetected(false)
	h.ticks(5)
	h.percept.SetLineDetected(true)
	h.tick()

	h.tick()
	h.resolve(motion.Forward, true)
	h.tick()
	h.resolve(motion.Sideward, true)
	h.percept.SetHeadingError(30)
	h.tick()

	h.tick()
	h.percept.SetHeadingError(12)
	h.resolve(motion.Turn, true)
	h.tick()
	h.percept.SetHeadingError(3)
	h.resolve(motion.Turn, true)
	h.tick()

	out := h.outcome()
	assert.Equal(t, Succeeded, out.Phase)
	require.NotNil(t, out.Result)
	assert.True(t, out.Result.MotionCompleted)
	assert.NoError(t, out.Err)
	assert.Equal(t, 2, out.AlignAttempts)

	var want []Phase
	want = append(want, repeat(Searching, 6)...)
	want = append(want, repeat(Centering, 3)...)
	want = append(want, repeat(Aligning, 3)...)
	if diff := cmp.Diff(want, h.obs.tickTrace()); diff != "" {
		t.Errorf("tick trace mismatch (-want +got):\n%s", diff)
	}

	wantSent := []sentEvent{
		{Searching, motion.Turn, motion.Goal{Target: 0, Loop: 100000}},
		{Searching, motion.Forward, motion.Goal{Target: 100, Loop: 10}},
		{Centering, motion.Sideward, motion.Goal{Target: 0, Loop: 10}},
		{Centering, motion.Forward, motion.Goal{Target: 0, Loop: 10}},
		{Aligning, motion.Turn, motion.Goal{Target: 30, Loop: 10}},
		{Aligning, motion.Turn, motion.Goal{Target: 12, Loop: 10}},
	}
	if diff := cmp.Diff(wantSent, h.obs.sentGoals()); diff != "" {
		t.Errorf("goals mismatch (-want +got):\n%s", diff)
	}

	wantCancels := []cancelEvent{
		{Searching, motion.Forward},
		{Aligning, motion.Turn},
	}
	if diff := cmp.Diff(wantCancels, h.obs.cancels()); diff != "" {
		t.Errorf("cancels mismatch (-want +got):\n%s", diff)
	}

	wantFeedback := []Feedback{{0}, {0}, {0}, {0}, {0}, {0}, {0}, {30}, {12}}
	if diff := cmp.Diff(wantFeedback, h.feedbackTrace()); diff != "" {
		t.Errorf("feedback mismatch (-want +got):\n%s", diff)
	}

	assert.Equal(t, []perception.Detector{
		perception.DetectorDetection,
		perception.DetectorCentralize,
		perception.DetectorAngle,
	}, h.pub.active)
	assert.Equal(t, perception.Detector(""), h.switches.Active())
	assert.Equal(t, perception.State{}, h.percept.CurrentState(), "perception resets when the run ends")
	assert.True(t, h.ticker.Stopped())
}

func TestController_SearchingToCenteringOnce(t *testing.T) {
	sequences := map[string][]bool{
		"immediate":       {true},
		"after misses":    {false, false, false, true},
		"flapping after":  {false, true, false, false, true, false},
		"never confirmed": {false, false},
	}
	for name, seq := range sequences {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t)
			h.start(context.Background())

			seen := false
			for _, detected := range seq {
				h.percept.SetLineDetected(detected)
				phase := h.tick()
				if seen {
					assert.Equal(t, Centering, phase, "controller went back to searching")
				}
				seen = seen || detected
			}

			want := 0
			if seen {
				want = 1
			}
			assert.Equal(t, want, h.obs.transitionCount(Searching, Centering))

			h.doPreempt()
			h.tick()
			assert.Equal(t, Preempted, h.outcome().Phase)
		})
	}
}

func TestController_UnknownLineIsNotDetected(t *testing.T) {
	h := newHarness(t)
	h.start(context.Background())

	assert.Equal(t, Searching, h.tick())
	assert.Equal(t, Searching, h.tick())
	assert.Zero(t, h.obs.transitionCount(Searching, Centering))

	h.doPreempt()
	h.tick()
	h.outcome()
}

func TestController_CenteringNeedsBothAxes(t *testing.T) {
	orders := map[string][]motion.Axis{
		"forward first":  {motion.Forward, motion.Sideward},
		"sideward first": {motion.Sideward, motion.Forward},
	}
	for name, order := range orders {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t)
			h.start(context.Background())
			h.toCentering()

			assert.Equal(t, Centering, h.tick())
			h.resolve(order[0], true)
			assert.Equal(t, Centering, h.tick())
			assert.Equal(t, Centering, h.tick(), "one axis alone must not advance")
			assert.Zero(t, h.obs.transitionCount(Centering, Aligning))

			h.resolve(order[1], true)
			assert.Equal(t, Centering, h.tick())
			assert.Equal(t, 1, h.obs.transitionCount(Centering, Aligning))
			assert.Equal(t, Aligning, h.tick())

			h.doPreempt()
			h.tick()
			h.outcome()
		})
	}
}

func TestController_AlignAttempts(t *testing.T) {
	for k := 1; k <= 4; k++ {
		t.Run("", func(t *testing.T) {
			h := newHarness(t)
			h.start(context.Background())
			heading := 40.0
			h.toAligning(heading)

			for attempt := 1; attempt < k; attempt++ {
				// Tolerance reached only on a completed goal.
				assert.Equal(t, Aligning, h.tick())
				heading -= 8
				h.percept.SetHeadingError(heading)
				h.resolve(motion.Turn, true)
				assert.Equal(t, Aligning, h.tick())
			}

			h.percept.SetHeadingError(3)
			assert.Equal(t, Aligning, h.tick())
			assert.Zero(t, h.obs.transitionCount(Aligning, Succeeded), "in tolerance but turn goal still running")

			h.resolve(motion.Turn, true)
			h.tick()

			out := h.outcome()
			assert.Equal(t, Succeeded, out.Phase)
			assert.Equal(t, k, out.AlignAttempts)

			turns := 0
			for _, s := range h.obs.sentGoals() {
				if s.Phase == Aligning && s.Axis == motion.Turn {
					turns++
				}
			}
			assert.Equal(t, k, turns)
		})
	}
}

func TestController_AlignUnknownHeading(t *testing.T) {
	h := newHarness(t)
	h.start(context.Background())
	h.toCentering()
	h.resolve(motion.Forward, true)
	h.resolve(motion.Sideward, true)
	h.tick()

	g, ok := h.tr.lastGoal(motion.Turn)
	require.True(t, ok)
	assert.Equal(t, motion.Goal{Target: 0, Loop: 10}, g.Goal)

	h.resolve(motion.Turn, true)
	assert.Equal(t, Aligning, h.tick())
	assert.Zero(t, h.obs.transitionCount(Aligning, Succeeded), "unknown heading is never accepted")

	h.doPreempt()
	h.tick()
	assert.Equal(t, 2, h.outcome().AlignAttempts)
}

func TestController_AlignmentExhausted(t *testing.T) {
	p := DefaultParams()
	p.MaxAlignAttempts = 2
	h := newHarness(t, WithParams(p))
	h.start(context.Background())
	h.toAligning(20)

	h.resolve(motion.Turn, true)
	h.tick()
	h.resolve(motion.Turn, true)
	h.tick()

	out := h.outcome()
	assert.Equal(t, Aborted, out.Phase)
	assert.ErrorIs(t, out.Err, ErrAlignmentExhausted)
	require.NotNil(t, out.Result)
	assert.False(t, out.Result.MotionCompleted)
	assert.Equal(t, 2, out.AlignAttempts)
}

func TestController_PreemptCancelsActiveAxes(t *testing.T) {
	tests := []struct {
		name   string
		drive  func(h *harness)
		active []motion.Axis
	}{
		{
			name:   "searching",
			drive:  func(h *harness) { h.tick() },
			active: []motion.Axis{motion.Forward, motion.Turn},
		},
		{
			name:   "centering",
			drive:  func(h *harness) { h.toCentering() },
			active: []motion.Axis{motion.Sideward, motion.Forward, motion.Turn},
		},
		{
			name: "centering with forward done",
			drive: func(h *harness) {
				h.toCentering()
				h.resolve(motion.Forward, true)
				h.tick()
			},
			active: []motion.Axis{motion.Sideward, motion.Turn},
		},
		{
			name:   "aligning",
			drive:  func(h *harness) { h.toAligning(25) },
			active: []motion.Axis{motion.Turn},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			h.start(context.Background())
			tc.drive(h)
			sentBefore := h.tr.goalCount()

			h.doPreempt()
			h.tick()
			out := h.outcome()

			assert.Equal(t, Preempted, out.Phase)
			assert.Nil(t, out.Result)
			assert.ErrorIs(t, out.Err, ErrPreempted)
			assert.Equal(t, sentBefore, h.tr.goalCount(), "goal sent after preemption")

			perAxis := map[motion.Axis]int{}
			for _, c := range h.obs.cancels() {
				if c.Phase == Preempted {
					perAxis[c.Axis]++
				}
			}
			want := map[motion.Axis]int{}
			for _, a := range tc.active {
				want[a] = 1
			}
			assert.Equal(t, want, perAxis)

			ids := map[string]int{}
			for _, c := range h.tr.cancelCalls() {
				ids[c.ID]++
			}
			for id, n := range ids {
				assert.Equal(t, 1, n, "goal %s canceled more than once", id)
			}
		})
	}
}

func TestController_ContextCancelPreempts(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	h.start(ctx)
	h.tick()

	cancel()
	out := h.outcome()
	assert.Equal(t, Preempted, out.Phase)
	assert.ErrorIs(t, out.Err, ErrPreempted)
	assert.Len(t, h.tr.cancelCalls(), 2)
}

func TestController_SubsystemFailureAborts(t *testing.T) {
	tests := []struct {
		name  string
		drive func(h *harness)
		fail  motion.Axis
	}{
		{"searching forward", func(h *harness) { h.tick() }, motion.Forward},
		{"searching stabilise", func(h *harness) { h.tick() }, motion.Turn},
		{"centering sideward", func(h *harness) { h.toCentering() }, motion.Sideward},
		{"centering forward", func(h *harness) { h.toCentering() }, motion.Forward},
		{"aligning turn", func(h *harness) { h.toAligning(25) }, motion.Turn},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			h.start(context.Background())
			tc.drive(h)

			h.resolve(tc.fail, false)
			sentBefore := h.tr.goalCount()
			h.tick()
			out := h.outcome()

			assert.Equal(t, Aborted, out.Phase)
			require.NotNil(t, out.Result)
			assert.False(t, out.Result.MotionCompleted)
			assert.ErrorIs(t, out.Err, ErrSubsystemFailure)
			var se *SubsystemError
			require.True(t, errors.As(out.Err, &se))
			assert.Equal(t, tc.fail, se.Axis)

			assert.Equal(t, sentBefore, h.tr.goalCount(), "goal sent after failure")
			for _, a := range motion.Axes {
				_, outstanding := h.axes.Client(a).Outstanding()
				assert.False(t, outstanding, "%s goal left running", a)
			}
		})
	}
}

func TestController_SendFailureAborts(t *testing.T) {
	h := newHarness(t)
	h.tr.failAxis = motion.Sideward
	h.start(context.Background())
	h.toCentering()

	out := h.outcome()
	assert.Equal(t, Aborted, out.Phase)
	assert.ErrorIs(t, out.Err, ErrSubsystemFailure)
	assert.Equal(t, 1, h.obs.transitionCount(Centering, Aborted))
}

func TestController_OrderFalse(t *testing.T) {
	h := newHarness(t)
	out := h.ctrl.Run(context.Background(), "run-0", Goal{Order: false}, nil, nil)

	assert.True(t, out.Indeterminate())
	assert.Nil(t, out.Result)
	assert.Zero(t, h.tr.goalCount())
	assert.Empty(t, h.obs.tickTrace())
}
