package motion

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// Status is the lifecycle state of a goal.
type Status int32

const (
	StatusPending Status = iota
	StatusReached
	StatusFailed
	StatusCanceled
	StatusSuperseded
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusReached:
		return "reached"
	case StatusFailed:
		return "failed"
	case StatusCanceled:
		return "canceled"
	case StatusSuperseded:
		return "superseded"
	default:
		return fmt.Sprintf("Status(%d)", int32(s))
	}
}

// Pending is one goal's future. It resolves exactly once.
type Pending struct {
	id     string
	axis   Axis
	goal   Goal
	status atomic.Int32
	once   sync.Once
	done   chan struct{}
}

func newPending(id string, axis Axis, goal Goal) *Pending {
	return &Pending{id: id, axis: axis, goal: goal, done: make(chan struct{})}
}

func (p *Pending) ID() string     { return p.id }
func (p *Pending) Axis() Axis     { return p.axis }
func (p *Pending) Goal() Goal     { return p.goal }
func (p *Pending) Status() Status { return Status(p.status.Load()) }

// Done is closed when the goal reaches any terminal status.
func (p *Pending) Done() <-chan struct{} { return p.done }

// Await blocks until the goal resolves or ctx is done. An executor report
// yields a Result; local cancellation or supersession yields an error.
func (p *Pending) Await(ctx context.Context) (Result, error) {
	select {
	case <-p.done:
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
	switch p.Status() {
	case StatusReached:
		return Result{ReachedTarget: true}, nil
	case StatusFailed:
		return Result{ReachedTarget: false}, nil
	case StatusCanceled:
		return Result{}, ErrGoalCanceled
	default:
		return Result{}, ErrGoalSuperseded
	}
}

func (p *Pending) resolve(s Status) bool {
	resolved := false
	p.once.Do(func() {
		p.status.Store(int32(s))
		close(p.done)
		resolved = true
	})
	return resolved
}
