package motion

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Client issues goals to one axis executor. At most one goal is outstanding
// per client: a new goal supersedes the previous one.
type Client struct {
	axis      Axis
	transport Transport
	newID     func() string

	mu       sync.Mutex
	current  *Pending
	feedback atomic.Pointer[float64]
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithIDGenerator replaces the uuid goal ID generator.
func WithIDGenerator(f func() string) ClientOption {
	return func(c *Client) { c.newID = f }
}

// NewClient returns a client for axis sending through t.
func NewClient(axis Axis, t Transport, opts ...ClientOption) *Client {
	c := &Client{
		axis:      axis,
		transport: t,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Axis returns the axis this client drives.
func (c *Client) Axis() Axis { return c.axis }

// SendGoal dispatches goal to the executor. The returned future is
// registered before the command is written so a fast executor reply can not
// be lost; any previous goal is resolved as superseded.
func (c *Client) SendGoal(goal Goal) (*Pending, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p := newPending(c.newID(), c.axis, goal)
	prev := c.current
	c.current = p
	c.feedback.Store(nil)
	if prev != nil {
		prev.resolve(StatusSuperseded)
	}

	if err := c.transport.SendGoal(c.axis, p.id, goal); err != nil {
		c.current = nil
		p.resolve(StatusCanceled)
		return nil, fmt.Errorf("send %s goal: %w", c.axis, err)
	}
	return p, nil
}

// CancelGoal asks the executor to abort the outstanding goal. It does not
// wait for confirmation; the local future resolves as canceled immediately.
// Calling it with nothing outstanding is a no-op.
func (c *Client) CancelGoal() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	p := c.current
	if p == nil || p.Status() != StatusPending {
		return nil
	}
	p.resolve(StatusCanceled)
	if err := c.transport.CancelGoal(c.axis, p.id); err != nil {
		return fmt.Errorf("cancel %s goal: %w", c.axis, err)
	}
	return nil
}

// Outstanding returns the goal still awaiting a terminal result, if any.
func (c *Client) Outstanding() (*Pending, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil || c.current.Status() != StatusPending {
		return nil, false
	}
	return c.current, true
}

// AwaitResult blocks until the most recently sent goal resolves or ctx is
// done. It must run on its own goroutine; the poll loop never calls it.
func (c *Client) AwaitResult(ctx context.Context) (Result, error) {
	c.mu.Lock()
	p := c.current
	c.mu.Unlock()
	if p == nil {
		return Result{}, ErrNoGoal
	}
	return p.Await(ctx)
}

// Resolve records the executor's terminal result. Reports for goals other
// than the current one are stale and ignored.
func (c *Client) Resolve(goalID string, r Result) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil || c.current.id != goalID {
		return false
	}
	if r.ReachedTarget {
		return c.current.resolve(StatusReached)
	}
	return c.current.resolve(StatusFailed)
}

// Feedback records streamed progress for the current goal.
func (c *Client) Feedback(goalID string, value float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil || c.current.id != goalID {
		return
	}
	c.feedback.Store(&value)
}

// LastFeedback returns the latest progress value for the current goal.
func (c *Client) LastFeedback() (float64, bool) {
	v := c.feedback.Load()
	if v == nil {
		return 0, false
	}
	return *v, true
}
