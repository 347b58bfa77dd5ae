package supervisor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
)

// ErrRejected is returned when the daemon refuses a goal.
var ErrRejected = errors.New("goal rejected")

// eventBuffer holds events that arrive before the goal reply names the run.
const eventBuffer = 256

// Client is the supervisor side of the task interface.
type Client struct {
	nc       *nats.Conn
	subjects Subjects
}

func NewClient(nc *nats.Conn, prefix string) *Client {
	return &Client{nc: nc, subjects: SubjectsFor(prefix)}
}

// Execute sends a goal and blocks until its result is published. onFeedback,
// if non-nil, is called for every feedback event of the run. Canceling ctx
// stops waiting but does not cancel the run; use Cancel for that.
func (c *Client) Execute(ctx context.Context, order bool, onFeedback func(FeedbackEvent)) (ResultEvent, error) {
	feedback := make(chan *nats.Msg, eventBuffer)
	results := make(chan *nats.Msg, eventBuffer)

	// Subscribe before sending so an immediate result is not missed.
	fbSub, err := c.nc.ChanSubscribe(c.subjects.Feedback, feedback)
	if err != nil {
		return ResultEvent{}, fmt.Errorf("subscribe feedback: %w", err)
	}
	defer fbSub.Unsubscribe()
	resSub, err := c.nc.ChanSubscribe(c.subjects.Result, results)
	if err != nil {
		return ResultEvent{}, fmt.Errorf("subscribe results: %w", err)
	}
	defer resSub.Unsubscribe()
	if err := c.nc.FlushWithContext(ctx); err != nil {
		return ResultEvent{}, fmt.Errorf("flush subscriptions: %w", err)
	}

	runID, err := c.Submit(ctx, order)
	if err != nil {
		return ResultEvent{}, err
	}

	for {
		select {
		case <-ctx.Done():
			return ResultEvent{}, ctx.Err()
		case msg := <-feedback:
			var ev FeedbackEvent
			if err := json.Unmarshal(msg.Data, &ev); err != nil || ev.RunID != runID {
				continue
			}
			if onFeedback != nil {
				onFeedback(ev)
			}
		case msg := <-results:
			var ev ResultEvent
			if err := json.Unmarshal(msg.Data, &ev); err == nil && ev.RunID == runID {
				return ev, nil
			}
		}
	}
}

// Submit sends a goal and returns the run ID without waiting for the result.
func (c *Client) Submit(ctx context.Context, order bool) (string, error) {
	data, err := json.Marshal(GoalRequest{Order: order})
	if err != nil {
		return "", err
	}
	msg, err := c.nc.RequestWithContext(ctx, c.subjects.Goal, data)
	if err != nil {
		return "", fmt.Errorf("send goal: %w", err)
	}
	var reply GoalReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return "", fmt.Errorf("decode goal reply: %w", err)
	}
	if reply.Error != "" {
		return "", fmt.Errorf("%w: %s", ErrRejected, reply.Error)
	}
	return reply.RunID, nil
}

// Cancel preempts the active run. It reports whether a run was active.
func (c *Client) Cancel(ctx context.Context) (bool, error) {
	msg, err := c.nc.RequestWithContext(ctx, c.subjects.Cancel, []byte("{}"))
	if err != nil {
		return false, fmt.Errorf("send cancel: %w", err)
	}
	var reply CancelReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return false, fmt.Errorf("decode cancel reply: %w", err)
	}
	return reply.Canceled, nil
}
