// Package task sequences the forward, sideward and turn axes through the
// SEARCHING, CENTERING and ALIGNING phases of the line-following maneuver and
// exposes the maneuver as a single cancellable unit of work.
package task

import (
	"errors"
	"fmt"
	"time"

	"github.com/harshv834/auv/internal/motion"
)

// Goal is the supervisor's request. Order=false never starts the maneuver.
type Goal struct {
	Order bool `json:"order"`
}

// Feedback is emitted on poll ticks while the maneuver runs.
type Feedback struct {
	AngleRemaining float64 `json:"angle_remaining"`
}

// Result is the terminal report of a maneuver.
type Result struct {
	MotionCompleted bool `json:"motion_completed"`
}

// Outcome describes how a run ended. Result is nil when no meaningful result
// exists: the run was preempted or never started.
type Outcome struct {
	Phase         Phase
	Result        *Result
	Err           error
	AlignAttempts int
}

// Indeterminate reports whether the run ended without entering any phase.
func (o Outcome) Indeterminate() bool {
	return o.Phase == 0
}

var (
	// ErrPreempted is the outcome error of a run stopped by its caller.
	ErrPreempted = errors.New("task preempted")
	// ErrSubsystemFailure wraps an axis reporting that its target was not reached
	// or a goal that could not be delivered.
	ErrSubsystemFailure = errors.New("motion subsystem failure")
	// ErrAlignmentExhausted is returned when MaxAlignAttempts turn goals did not
	// bring the heading error within tolerance.
	ErrAlignmentExhausted = errors.New("alignment attempts exhausted")
	// ErrServerClosed is returned by Submit after Shutdown.
	ErrServerClosed = errors.New("task server closed")
)

// SubsystemError identifies the axis behind an ErrSubsystemFailure.
type SubsystemError struct {
	Axis   motion.Axis
	GoalID string
	Err    error
}

func (e *SubsystemError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s axis: %v", e.Axis, e.Err)
	}
	return fmt.Sprintf("%s axis goal %s did not reach its target", e.Axis, e.GoalID)
}

func (e *SubsystemError) Is(target error) bool { return target == ErrSubsystemFailure }

func (e *SubsystemError) Unwrap() error { return e.Err }

// Params tunes the controller. Zero fields take the defaults below.
type Params struct {
	RateHz           float64
	Tolerance        float64
	SearchForward    float64
	SearchLoop       int
	StabiliseLoop    int
	CenterLoop       int
	TurnLoop         int
	MaxAlignAttempts int
}

// DefaultParams returns the tuning used on the vehicle.
func DefaultParams() Params {
	return Params{
		RateHz:        12,
		Tolerance:     5,
		SearchForward: 100,
		SearchLoop:    10,
		StabiliseLoop: 100000,
		CenterLoop:    10,
		TurnLoop:      10,
	}
}

func (p Params) withDefaults() Params {
	d := DefaultParams()
	if p.RateHz <= 0 {
		p.RateHz = d.RateHz
	}
	if p.Tolerance <= 0 {
		p.Tolerance = d.Tolerance
	}
	if p.SearchForward == 0 {
		p.SearchForward = d.SearchForward
	}
	if p.SearchLoop <= 0 {
		p.SearchLoop = d.SearchLoop
	}
	if p.StabiliseLoop <= 0 {
		p.StabiliseLoop = d.StabiliseLoop
	}
	if p.CenterLoop <= 0 {
		p.CenterLoop = d.CenterLoop
	}
	if p.TurnLoop <= 0 {
		p.TurnLoop = d.TurnLoop
	}
	if p.MaxAlignAttempts < 0 {
		p.MaxAlignAttempts = 0
	}
	return p
}

// Period is the poll loop interval.
func (p Params) Period() time.Duration {
	return time.Duration(float64(time.Second) / p.withDefaults().RateHz)
}
