package db

import (
	"github.com/harshv834/auv/internal/motion"
	"github.com/harshv834/auv/internal/perception"
	"github.com/harshv834/auv/internal/task"
	"github.com/harshv834/auv/internal/timeutil"
)

// Recorder writes controller events to the run log. Write errors are logged
// and never reach the controller.
type Recorder struct {
	db    *DB
	clock timeutil.Clock
	// SampleEvery keeps one perception sample per N ticks; 0 or 1 keeps all.
	SampleEvery int

	ticks map[string]int
}

func NewRecorder(db *DB, clock timeutil.Clock) *Recorder {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Recorder{db: db, clock: clock, ticks: make(map[string]int)}
}

func (r *Recorder) RunStarted(runID string, goal task.Goal) {
	r.check("insert run", r.db.InsertRun(runID, goal.Order, r.clock.Now()))
}

// PhaseTick is only called from the poll loop, so ticks needs no lock.
func (r *Recorder) PhaseTick(runID string, phase task.Phase, st perception.State) {
	n := r.ticks[runID]
	r.ticks[runID] = n + 1
	if r.SampleEvery > 1 && n%r.SampleEvery != 0 {
		return
	}
	r.check("insert sample", r.db.InsertSample(runID, Sample{
		Phase:        phase.String(),
		At:           r.clock.Now(),
		LineState:    st.Line.String(),
		OffsetKnown:  st.OffsetKnown,
		OffsetX:      st.OffsetX,
		OffsetY:      st.OffsetY,
		HeadingKnown: st.HeadingKnown,
		HeadingError: st.HeadingError,
	}))
}

func (r *Recorder) PhaseChanged(runID string, from, to task.Phase) {
	now := r.clock.Now()
	fromName := ""
	if from != 0 {
		fromName = from.String()
	}
	r.check("insert transition", r.db.InsertTransition(runID, fromName, to.String(), now))
	r.check("update phase", r.db.SetRunPhase(runID, to.String()))
}

func (r *Recorder) GoalSent(runID string, phase task.Phase, axis motion.Axis, goalID string, goal motion.Goal) {
	r.check("insert goal", r.db.InsertGoal(runID, Goal{
		GoalID: goalID,
		Phase:  phase.String(),
		Axis:   string(axis),
		Target: goal.Target,
		Loop:   goal.Loop,
		Sent:   r.clock.Now(),
	}))
}

func (r *Recorder) GoalCanceled(runID string, _ task.Phase, _ motion.Axis, goalID string) {
	r.check("cancel goal", r.db.ResolveGoal(goalID, GoalCanceled, r.clock.Now()))
}

func (r *Recorder) Completion(runID string, _ motion.Axis, goalID string, reached bool) {
	status := GoalFailed
	if reached {
		status = GoalReached
	}
	r.check("resolve goal", r.db.ResolveGoal(goalID, status, r.clock.Now()))
}

func (r *Recorder) RunFinished(runID string, out task.Outcome) {
	delete(r.ticks, runID)
	var completed *bool
	if out.Result != nil {
		c := out.Result.MotionCompleted
		completed = &c
	}
	errText := ""
	if out.Err != nil {
		errText = out.Err.Error()
	}
	phase := ""
	if out.Phase != 0 {
		phase = out.Phase.String()
	}
	r.check("finish run", r.db.FinishRun(runID, r.clock.Now(), phase, completed, out.AlignAttempts, errText))
}

func (r *Recorder) check(op string, err error) {
	if err != nil {
		logf("%s: %v", op, err)
	}
}
