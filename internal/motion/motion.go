// Package motion wraps the remote motion executors of the three actuation
// axes. Each goal is tracked as a cancellable future so that a waiter
// goroutine can be released either by the executor's terminal result or by a
// local cancellation.
package motion

import (
	"errors"
	"fmt"
)

// Axis names one independently controlled degree of freedom.
type Axis string

const (
	Forward  Axis = "forward"
	Sideward Axis = "sideward"
	Turn     Axis = "turn"
)

// Axes lists every axis in a stable order.
var Axes = []Axis{Forward, Sideward, Turn}

// ParseAxis converts a wire name into an Axis.
func ParseAxis(s string) (Axis, error) {
	switch Axis(s) {
	case Forward, Sideward, Turn:
		return Axis(s), nil
	default:
		return "", fmt.Errorf("unknown axis %q", s)
	}
}

// Goal is a commanded target for one axis. Loop is the executor's iteration
// budget for reaching the target.
type Goal struct {
	Target float64
	Loop   int
}

// Result is the executor's terminal report for a goal.
type Result struct {
	ReachedTarget bool
}

var (
	// ErrGoalCanceled is returned by Await when the goal was canceled locally.
	ErrGoalCanceled = errors.New("motion: goal canceled")
	// ErrGoalSuperseded is returned by Await when a newer goal replaced this one.
	ErrGoalSuperseded = errors.New("motion: goal superseded")
	// ErrNoGoal is returned by AwaitResult when no goal was ever sent.
	ErrNoGoal = errors.New("motion: no goal sent")
)

// Transport delivers goal and cancel commands to the remote executors.
type Transport interface {
	SendGoal(axis Axis, goalID string, goal Goal) error
	CancelGoal(axis Axis, goalID string) error
}
