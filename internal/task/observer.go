package task

import (
	"github.com/harshv834/auv/internal/motion"
	"github.com/harshv834/auv/internal/perception"
)

// Observer receives controller events. Completion is called from waiter
// goroutines; every other method is called from the poll loop. Implementations
// must be safe for concurrent use.
type Observer interface {
	RunStarted(runID string, goal Goal)
	// PhaseTick is called once per poll tick after the tick has been handled.
	// phase is the phase the tick was evaluated in.
	PhaseTick(runID string, phase Phase, st perception.State)
	PhaseChanged(runID string, from, to Phase)
	GoalSent(runID string, phase Phase, axis motion.Axis, goalID string, goal motion.Goal)
	GoalCanceled(runID string, phase Phase, axis motion.Axis, goalID string)
	Completion(runID string, axis motion.Axis, goalID string, reached bool)
	RunFinished(runID string, out Outcome)
}

// NopObserver implements Observer with no-ops. Embed it to override a subset.
type NopObserver struct{}

func (NopObserver) RunStarted(string, Goal)                                  {}
func (NopObserver) PhaseTick(string, Phase, perception.State)                {}
func (NopObserver) PhaseChanged(string, Phase, Phase)                        {}
func (NopObserver) GoalSent(string, Phase, motion.Axis, string, motion.Goal) {}
func (NopObserver) GoalCanceled(string, Phase, motion.Axis, string)          {}
func (NopObserver) Completion(string, motion.Axis, string, bool)             {}
func (NopObserver) RunFinished(string, Outcome)                              {}

// MultiObserver fans events out in order.
type MultiObserver []Observer

func (m MultiObserver) RunStarted(runID string, goal Goal) {
	for _, o := range m {
		o.RunStarted(runID, goal)
	}
}

func (m MultiObserver) PhaseTick(runID string, phase Phase, st perception.State) {
	for _, o := range m {
		o.PhaseTick(runID, phase, st)
	}
}

func (m MultiObserver) PhaseChanged(runID string, from, to Phase) {
	for _, o := range m {
		o.PhaseChanged(runID, from, to)
	}
}

func (m MultiObserver) GoalSent(runID string, phase Phase, axis motion.Axis, goalID string, goal motion.Goal) {
	for _, o := range m {
		o.GoalSent(runID, phase, axis, goalID, goal)
	}
}

func (m MultiObserver) GoalCanceled(runID string, phase Phase, axis motion.Axis, goalID string) {
	for _, o := range m {
		o.GoalCanceled(runID, phase, axis, goalID)
	}
}

func (m MultiObserver) Completion(runID string, axis motion.Axis, goalID string, reached bool) {
	for _, o := range m {
		o.Completion(runID, axis, goalID, reached)
	}
}

func (m MultiObserver) RunFinished(runID string, out Outcome) {
	for _, o := range m {
		o.RunFinished(runID, out)
	}
}
