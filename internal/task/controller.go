package task

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/harshv834/auv/internal/monitoring"
	"github.com/harshv834/auv/internal/motion"
	"github.com/harshv834/auv/internal/perception"
	"github.com/harshv834/auv/internal/timeutil"
	"github.com/harshv834/auv/internal/units"
)

// StateSource is the controller's view of perception.
type StateSource interface {
	CurrentState() perception.State
	Reset()
}

// Switcher selects which upstream detector runs.
type Switcher interface {
	Activate(d perception.Detector) error
	Deactivate() error
}

// Controller runs the phase state machine. Run must not be called
// concurrently; Server serialises runs.
type Controller struct {
	params   Params
	clock    timeutil.Clock
	percept  StateSource
	axes     *motion.Set
	switches Switcher
	logf     func(format string, v ...interface{})

	mu        sync.Mutex
	observers MultiObserver
}

// Option configures a Controller.
type Option func(*Controller)

// WithParams overrides the default tuning.
func WithParams(p Params) Option {
	return func(c *Controller) { c.params = p.withDefaults() }
}

// WithClock replaces the wall clock, typically with a timeutil.MockClock.
func WithClock(clock timeutil.Clock) Option {
	return func(c *Controller) { c.clock = clock }
}

// WithObserver registers an observer.
func WithObserver(o Observer) Option {
	return func(c *Controller) { c.observers = append(c.observers, o) }
}

// NewController wires the controller to perception, the axis clients and the
// detector switches.
func NewController(percept StateSource, axes *motion.Set, switches Switcher, opts ...Option) *Controller {
	c := &Controller{
		params:   DefaultParams(),
		clock:    timeutil.RealClock{},
		percept:  percept,
		axes:     axes,
		switches: switches,
		logf:     monitoring.Component("task"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AddObserver registers o for subsequent runs.
func (c *Controller) AddObserver(o Observer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, o)
}

func (c *Controller) observer() Observer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append(MultiObserver(nil), c.observers...)
}

// Params returns the effective tuning.
func (c *Controller) Params() Params { return c.params }

// Perception returns the latest perception snapshot.
func (c *Controller) Perception() perception.State { return c.percept.CurrentState() }

// Run executes one maneuver and blocks until it reaches a terminal phase.
// preempt is polled once per tick; closing it, or canceling ctx, ends the run
// as PREEMPTED. feedback, if non-nil, is called from the poll loop. A goal with
// Order=false returns immediately with an indeterminate Outcome.
func (c *Controller) Run(ctx context.Context, runID string, goal Goal, preempt <-chan struct{}, feedback func(Feedback)) Outcome {
	if !goal.Order {
		return Outcome{}
	}

	ctx, cancel := context.WithCancel(ctx)
	r := &runState{
		c:        c,
		id:       runID,
		ctx:      ctx,
		obs:      c.observer(),
		feedback: feedback,
		reached:  make(map[motion.Axis]*atomic.Bool, len(motion.Axes)),
	}
	r.obs.RunStarted(runID, goal)

	ticker := c.clock.NewTicker(c.params.Period())
	out := r.loop(ticker, preempt)
	ticker.Stop()

	cancel()
	r.waiters.Wait()
	c.percept.Reset()

	c.logf("run %s finished in %s after %d align attempts", runID, out.Phase, out.AlignAttempts)
	r.obs.RunFinished(runID, out)
	return out
}

// runState is owned by the poll loop goroutine, except failure and the
// reached cells which waiters write.
type runState struct {
	c        *Controller
	id       string
	ctx      context.Context
	obs      Observer
	feedback func(Feedback)

	phase    Phase
	attempts int
	reached  map[motion.Axis]*atomic.Bool
	failure  atomic.Pointer[SubsystemError]
	waiters  sync.WaitGroup
}

func (r *runState) loop(ticker timeutil.Ticker, preempt <-chan struct{}) Outcome {
	r.phase = Searching
	r.obs.PhaseChanged(r.id, 0, Searching)
	if err := r.enter(Searching); err != nil {
		return r.finish(Aborted, err)
	}

	for {
		select {
		case <-r.ctx.Done():
			return r.finish(Preempted, ErrPreempted)
		case <-ticker.C():
		}

		phase := r.phase
		st := r.c.percept.CurrentState()
		next, err := r.tick(st, preempt)
		r.obs.PhaseTick(r.id, phase, st)
		if next.Terminal() {
			return r.finish(next, err)
		}
	}
}

// tick evaluates one poll of the current phase. Non-terminal transitions are
// entered here; terminal ones are left to finish.
func (r *runState) tick(st perception.State, preempt <-chan struct{}) (Phase, error) {
	select {
	case <-preempt:
		return Preempted, ErrPreempted
	default:
	}
	if f := r.failure.Load(); f != nil {
		return Aborted, f
	}

	p := r.c.params
	switch r.phase {
	case Searching:
		if st.LineDetected() {
			r.cancel(motion.Forward)
			return r.transition(Centering)
		}
	case Centering:
		if r.isReached(motion.Forward) && r.isReached(motion.Sideward) {
			return r.transition(Aligning)
		}
	case Aligning:
		if r.isReached(motion.Turn) {
			if st.HeadingKnown && units.WithinTolerance(st.HeadingError, p.Tolerance) {
				return Succeeded, nil
			}
			if p.MaxAlignAttempts > 0 && r.attempts >= p.MaxAlignAttempts {
				return Aborted, fmt.Errorf("%w: %d turn goals, heading error %.1f", ErrAlignmentExhausted, r.attempts, st.HeadingError)
			}
			if err := r.turnTowards(st); err != nil {
				return Aborted, err
			}
		}
	}
	r.emitFeedback(st)
	return r.phase, nil
}

func (r *runState) transition(next Phase) (Phase, error) {
	r.c.logf("run %s: %s -> %s", r.id, r.phase, next)
	r.obs.PhaseChanged(r.id, r.phase, next)
	r.phase = next
	if err := r.enter(next); err != nil {
		return Aborted, err
	}
	return next, nil
}

func (r *runState) enter(phase Phase) error {
	p := r.c.params
	switch phase {
	case Searching:
		r.activate(perception.DetectorDetection)
		if err := r.send(motion.Turn, motion.Goal{Target: 0, Loop: p.StabiliseLoop}); err != nil {
			return err
		}
		return r.send(motion.Forward, motion.Goal{Target: p.SearchForward, Loop: p.SearchLoop})
	case Centering:
		r.activate(perception.DetectorCentralize)
		if err := r.send(motion.Sideward, motion.Goal{Target: 0, Loop: p.CenterLoop}); err != nil {
			return err
		}
		return r.send(motion.Forward, motion.Goal{Target: 0, Loop: p.CenterLoop})
	case Aligning:
		r.activate(perception.DetectorAngle)
		r.cancel(motion.Turn)
		return r.turnTowards(r.c.percept.CurrentState())
	}
	return nil
}

// turnTowards issues a Turn goal for the latest heading error. An unknown
// heading commands a zero turn.
func (r *runState) turnTowards(st perception.State) error {
	target := 0.0
	if st.HeadingKnown {
		target = st.HeadingError
	}
	r.attempts++
	return r.send(motion.Turn, motion.Goal{Target: target, Loop: r.c.params.TurnLoop})
}

// send issues a goal and, once the send has returned, starts its waiter.
func (r *runState) send(axis motion.Axis, goal motion.Goal) error {
	p, err := r.c.axes.Client(axis).SendGoal(goal)
	if err != nil {
		return &SubsystemError{Axis: axis, Err: err}
	}
	cell := new(atomic.Bool)
	r.reached[axis] = cell
	r.obs.GoalSent(r.id, r.phase, axis, p.ID(), goal)
	r.watch(p, cell)
	return nil
}

// watch blocks a goroutine on the goal's result. The waiter is the only
// writer of cell.
func (r *runState) watch(p *motion.Pending, cell *atomic.Bool) {
	r.waiters.Add(1)
	go func() {
		defer r.waiters.Done()
		res, err := p.Await(r.ctx)
		if err != nil {
			return
		}
		if res.ReachedTarget {
			cell.Store(true)
		} else {
			r.failure.CompareAndSwap(nil, &SubsystemError{Axis: p.Axis(), GoalID: p.ID()})
		}
		r.obs.Completion(r.id, p.Axis(), p.ID(), res.ReachedTarget)
	}()
}

func (r *runState) isReached(axis motion.Axis) bool {
	cell, ok := r.reached[axis]
	return ok && cell.Load()
}

func (r *runState) cancel(axis motion.Axis) {
	client := r.c.axes.Client(axis)
	p, ok := client.Outstanding()
	if !ok {
		return
	}
	if err := client.CancelGoal(); err != nil {
		r.c.logf("run %s: %v", r.id, err)
	}
	r.obs.GoalCanceled(r.id, r.phase, axis, p.ID())
}

func (r *runState) activate(d perception.Detector) {
	if err := r.c.switches.Activate(d); err != nil {
		r.c.logf("run %s: activate %s detector: %v", r.id, d, err)
	}
}

func (r *runState) emitFeedback(st perception.State) {
	if r.feedback == nil {
		return
	}
	fb := Feedback{}
	if st.HeadingKnown {
		fb.AngleRemaining = st.HeadingError
	}
	r.feedback(fb)
}

// finish enters a terminal phase: every axis with an outstanding goal is
// canceled once and all detectors are paused. No goals are sent afterwards.
func (r *runState) finish(phase Phase, err error) Outcome {
	if r.phase != phase {
		r.c.logf("run %s: %s -> %s", r.id, r.phase, phase)
		r.obs.PhaseChanged(r.id, r.phase, phase)
		r.phase = phase
	}
	for _, axis := range motion.Axes {
		r.cancel(axis)
	}
	if derr := r.c.switches.Deactivate(); derr != nil {
		r.c.logf("run %s: pause detectors: %v", r.id, derr)
	}

	out := Outcome{Phase: phase, Err: err, AlignAttempts: r.attempts}
	switch phase {
	case Succeeded:
		out.Result = &Result{MotionCompleted: true}
	case Aborted:
		out.Result = &Result{MotionCompleted: false}
	}
	return out
}
