package supervisor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/harshv834/auv/internal/monitoring"
	"github.com/harshv834/auv/internal/task"
)

// Submitter is the part of task.Server the bridge drives.
type Submitter interface {
	Submit(task.Goal) (*task.Run, error)
	Cancel() bool
	AddSink(task.Sink)
}

// Bridge serves goal and cancel requests and publishes feedback and results.
// It implements task.Sink.
type Bridge struct {
	nc       *nats.Conn
	server   Submitter
	subjects Subjects
	logf     func(format string, v ...interface{})

	mu   sync.Mutex
	subs []*nats.Subscription
}

// NewBridge returns a bridge for server on nc. Start must be called before
// goals are accepted.
func NewBridge(nc *nats.Conn, server Submitter, prefix string) *Bridge {
	return &Bridge{
		nc:       nc,
		server:   server,
		subjects: SubjectsFor(prefix),
		logf:     monitoring.Component("supervisor"),
	}
}

// Subjects returns the subjects the bridge serves.
func (b *Bridge) Subjects() Subjects { return b.subjects }

// Start subscribes to the request subjects and registers the bridge as a sink.
// The subscriptions are dropped when ctx is done.
func (b *Bridge) Start(ctx context.Context) error {
	goalSub, err := b.nc.Subscribe(b.subjects.Goal, b.handleGoal)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", b.subjects.Goal, err)
	}
	cancelSub, err := b.nc.Subscribe(b.subjects.Cancel, b.handleCancel)
	if err != nil {
		goalSub.Unsubscribe()
		return fmt.Errorf("subscribe %s: %w", b.subjects.Cancel, err)
	}
	if err := b.nc.Flush(); err != nil {
		goalSub.Unsubscribe()
		cancelSub.Unsubscribe()
		return fmt.Errorf("flush subscriptions: %w", err)
	}

	b.mu.Lock()
	b.subs = append(b.subs, goalSub, cancelSub)
	b.mu.Unlock()
	b.server.AddSink(b)
	b.logf("serving task goals on %s", b.subjects.Goal)

	go func() {
		<-ctx.Done()
		b.Close()
	}()
	return nil
}

// Close drops the request subscriptions. Events for runs still in flight are
// published until the connection itself closes.
func (b *Bridge) Close() error {
	b.mu.Lock()
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	var errs []error
	for _, s := range subs {
		if err := s.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (b *Bridge) handleGoal(msg *nats.Msg) {
	var req GoalRequest
	var reply GoalReply
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		reply.Error = fmt.Sprintf("invalid goal: %v", err)
	} else if run, err := b.server.Submit(task.Goal{Order: req.Order}); err != nil {
		reply.Error = err.Error()
	} else {
		reply.RunID = run.ID()
	}
	b.respond(msg, reply)
}

func (b *Bridge) handleCancel(msg *nats.Msg) {
	b.respond(msg, CancelReply{Canceled: b.server.Cancel()})
}

func (b *Bridge) respond(msg *nats.Msg, v interface{}) {
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		b.logf("marshal reply on %s: %v", msg.Subject, err)
		return
	}
	if err := msg.Respond(data); err != nil {
		b.logf("reply on %s: %v", msg.Subject, err)
	}
}

func (b *Bridge) PublishFeedback(runID string, fb task.Feedback) {
	b.publish(b.subjects.Feedback, FeedbackEvent{RunID: runID, AngleRemaining: fb.AngleRemaining})
}

func (b *Bridge) PublishResult(runID string, out task.Outcome) {
	b.publish(b.subjects.Result, resultEvent(runID, out))
}

func (b *Bridge) publish(subject string, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		b.logf("marshal %s event: %v", subject, err)
		return
	}
	if err := b.nc.Publish(subject, data); err != nil {
		b.logf("publish %s event: %v", subject, err)
	}
}
