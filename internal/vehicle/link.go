// Package vehicle connects the task controller to the vehicle bridge. Inbound
// perception and motion reports are routed to the listener and axis clients;
// goals, cancels, detector switches and telemetry relays go out as protocol
// lines over the serial mux.
package vehicle

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/harshv834/auv/internal/monitoring"
	"github.com/harshv834/auv/internal/motion"
	"github.com/harshv834/auv/internal/perception"
	"github.com/harshv834/auv/internal/protocol"
	"github.com/harshv834/auv/internal/units"
)

// Mux is the part of serialmux.SerialMuxInterface the link uses.
type Mux interface {
	SubscribeLossless() (string, chan string)
	Unsubscribe(string)
	SendCommand(string) error
}

// PerceptionSink receives decoded perception updates.
type PerceptionSink interface {
	SetLineDetected(detected bool)
	SetOffset(x, y float64)
	SetHeadingError(deg float64)
}

// Link implements motion.Transport and perception.SwitchPublisher over a Mux.
type Link struct {
	mux     Mux
	percept PerceptionSink
	metrics *monitoring.Metrics
	logf    func(format string, v ...interface{})

	axes     atomic.Pointer[motion.Set]
	firmware atomic.Pointer[string]
	received atomic.Int64
	dropped  atomic.Int64
}

// Option configures a Link.
type Option func(*Link)

// WithMetrics counts inbound lines by message type.
func WithMetrics(m *monitoring.Metrics) Option {
	return func(l *Link) { l.metrics = m }
}

// NewLink returns a link writing to mux and feeding percept.
func NewLink(mux Mux, percept PerceptionSink, opts ...Option) *Link {
	l := &Link{
		mux:     mux,
		percept: percept,
		logf:    monitoring.Component("link"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// BindMotion routes motion results and feedback to set. The set is normally
// built with this link as its transport, hence the separate step.
func (l *Link) BindMotion(set *motion.Set) {
	l.axes.Store(set)
}

// Initialise announces the daemon to the bridge.
func (l *Link) Initialise(firmware string) error {
	if err := l.send(protocol.Hello{Firmware: firmware}); err != nil {
		return fmt.Errorf("hello: %w", err)
	}
	return nil
}

func (l *Link) SendGoal(axis motion.Axis, goalID string, goal motion.Goal) error {
	return l.send(protocol.MotionGoal{
		Axis:   string(axis),
		GoalID: goalID,
		Target: goal.Target,
		Loop:   goal.Loop,
	})
}

func (l *Link) CancelGoal(axis motion.Axis, goalID string) error {
	return l.send(protocol.MotionCancel{Axis: string(axis), GoalID: goalID})
}

func (l *Link) PublishSwitch(d perception.Detector, paused bool) error {
	return l.send(protocol.Switch{Detector: string(d), Paused: paused})
}

func (l *Link) send(m protocol.Message) error {
	line, err := protocol.Encode(m)
	if err != nil {
		return err
	}
	return l.mux.SendCommand(line)
}

// Run routes inbound lines until ctx is done or the mux closes the
// subscription. The subscription is lossless so a motion result is never
// dropped behind a burst of telemetry.
func (l *Link) Run(ctx context.Context) error {
	id, lines := l.mux.SubscribeLossless()
	defer l.mux.Unsubscribe(id)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if err := l.Handle(line); err != nil {
				l.logf("%v: %q", err, line)
			}
		}
	}
}

// Handle decodes one inbound line and routes it. Lines that fail to decode
// are counted as dropped.
func (l *Link) Handle(line string) error {
	msg, err := protocol.Decode(line)
	if err != nil {
		l.dropped.Add(1)
		l.count(protocol.TypeUnknown)
		return err
	}
	l.received.Add(1)
	l.count(msg.Type())

	switch m := msg.(type) {
	case *protocol.LineDetection:
		l.percept.SetLineDetected(m.Detected)
	case *protocol.LineCentralize:
		l.percept.SetOffset(m.X, m.Y)
		// The bridge executors take the lateral offset on the sideward axis
		// and the longitudinal one on the forward axis.
		return errors.Join(
			l.send(protocol.Distance{Axis: string(motion.Sideward), Value: m.X}),
			l.send(protocol.Distance{Axis: string(motion.Forward), Value: m.Y}),
		)
	case *protocol.LineAngle:
		l.percept.SetHeadingError(units.WrapDegrees(m.Angle))
	case *protocol.IMUYaw:
		return l.send(protocol.Yaw{Yaw: m.Yaw})
	case *protocol.MotionResult:
		return l.routeResult(m)
	case *protocol.MotionFeedback:
		axis, err := motion.ParseAxis(m.Axis)
		if err != nil {
			return err
		}
		if set := l.axes.Load(); set != nil {
			set.Feedback(axis, m.GoalID, m.Value)
		}
	case *protocol.Hello:
		fw := m.Firmware
		l.firmware.Store(&fw)
		l.logf("bridge connected, firmware %q", fw)
	default:
		return fmt.Errorf("unexpected inbound %s message", msg.Type())
	}
	return nil
}

func (l *Link) routeResult(m *protocol.MotionResult) error {
	axis, err := motion.ParseAxis(m.Axis)
	if err != nil {
		return err
	}
	set := l.axes.Load()
	if set == nil {
		return fmt.Errorf("motion result for %s before motion clients were bound", axis)
	}
	if !set.Resolve(axis, m.GoalID, motion.Result{ReachedTarget: m.Reached}) {
		l.logf("ignoring stale %s result for goal %s", axis, m.GoalID)
	}
	return nil
}

func (l *Link) count(msgType string) {
	if l.metrics != nil {
		l.metrics.LinkLines.WithLabelValues(msgType).Inc()
	}
}

// Firmware returns the bridge firmware reported in its last hello.
func (l *Link) Firmware() (string, bool) {
	fw := l.firmware.Load()
	if fw == nil {
		return "", false
	}
	return *fw, true
}

// Stats returns the number of routed and undecodable lines.
func (l *Link) Stats() (received, dropped int64) {
	return l.received.Load(), l.dropped.Load()
}
