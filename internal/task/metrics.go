package task

import (
	"strconv"

	"github.com/harshv834/auv/internal/monitoring"
	"github.com/harshv834/auv/internal/motion"
	"github.com/harshv834/auv/internal/perception"
)

// MetricsObserver exports controller events as Prometheus metrics.
type MetricsObserver struct {
	NopObserver
	m *monitoring.Metrics
}

// NewMetricsObserver returns an observer updating m.
func NewMetricsObserver(m *monitoring.Metrics) *MetricsObserver {
	return &MetricsObserver{m: m}
}

func (o *MetricsObserver) PhaseTick(_ string, phase Phase, st perception.State) {
	o.m.PhaseTicks.WithLabelValues(phase.String()).Inc()
	if st.HeadingKnown {
		o.m.HeadingError.Set(st.HeadingError)
	}
}

func (o *MetricsObserver) PhaseChanged(_ string, from, to Phase) {
	if from == 0 {
		return
	}
	o.m.PhaseTransitions.WithLabelValues(from.String(), to.String()).Inc()
}

func (o *MetricsObserver) GoalSent(_ string, _ Phase, axis motion.Axis, _ string, _ motion.Goal) {
	o.m.GoalsSent.WithLabelValues(string(axis)).Inc()
}

func (o *MetricsObserver) GoalCanceled(_ string, _ Phase, axis motion.Axis, _ string) {
	o.m.GoalsCanceled.WithLabelValues(string(axis)).Inc()
}

func (o *MetricsObserver) Completion(_ string, axis motion.Axis, _ string, reached bool) {
	o.m.GoalResults.WithLabelValues(string(axis), strconv.FormatBool(reached)).Inc()
}

func (o *MetricsObserver) RunFinished(_ string, out Outcome) {
	o.m.RunsFinished.WithLabelValues(out.Phase.String()).Inc()
	if out.Phase == Succeeded {
		o.m.AlignAttempts.Observe(float64(out.AlignAttempts))
	}
}
