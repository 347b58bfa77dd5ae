// Package sim is a toy vehicle bridge. It speaks the bridge's line protocol
// over an in-memory port so the daemon and its tests can run without
// hardware: forward search motion eventually brings the line into view,
// centring goals shrink the offsets and turn goals reduce the heading error.
package sim

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/harshv834/auv/internal/motion"
	"github.com/harshv834/auv/internal/perception"
	"github.com/harshv834/auv/internal/protocol"
)

// Config shapes the simulated run. Zero fields take DefaultConfig values,
// except FailAxis which is empty unless set.
type Config struct {
	Step            time.Duration
	LineAfter       int
	OffsetX         float64
	OffsetY         float64
	Heading         float64
	TurnGain        float64
	TurnSteps       int
	CenterRate      float64
	CenterTolerance float64
	// FailAxis makes every completing goal on that axis report that its
	// target was not reached.
	FailAxis motion.Axis
	Firmware string
}

// DefaultConfig converges in a handful of turn goals.
func DefaultConfig() Config {
	return Config{
		Step:            20 * time.Millisecond,
		LineAfter:       10,
		OffsetX:         0.4,
		OffsetY:         -0.3,
		Heading:         40,
		TurnGain:        0.8,
		TurnSteps:       5,
		CenterRate:      0.5,
		CenterTolerance: 0.02,
		Firmware:        "sim",
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Step <= 0 {
		c.Step = d.Step
	}
	if c.LineAfter <= 0 {
		c.LineAfter = d.LineAfter
	}
	if c.OffsetX == 0 && c.OffsetY == 0 {
		c.OffsetX, c.OffsetY = d.OffsetX, d.OffsetY
	}
	if c.Heading == 0 {
		c.Heading = d.Heading
	}
	if c.TurnGain <= 0 {
		c.TurnGain = d.TurnGain
	}
	if c.TurnSteps <= 0 {
		c.TurnSteps = d.TurnSteps
	}
	if c.CenterRate <= 0 || c.CenterRate >= 1 {
		c.CenterRate = d.CenterRate
	}
	if c.CenterTolerance <= 0 {
		c.CenterTolerance = d.CenterTolerance
	}
	if c.Firmware == "" {
		c.Firmware = d.Firmware
	}
	return c
}

// stabiliseLoop marks a zero-target turn goal as a hold rather than a
// maneuver: the executor keeps it running until canceled.
const stabiliseLoop = 1000

type goal struct {
	id     string
	target float64
	loop   int
	steps  int
}

// Vehicle implements serialmux.SerialPorter.
type Vehicle struct {
	cfg Config
	pr  *io.PipeReader
	pw  *io.PipeWriter

	mu          sync.Mutex
	goals       map[motion.Axis]*goal
	active      perception.Detector
	travelled   int
	lineVisible bool
	offX, offY  float64
	heading     float64
	yaw         float64
	received    []protocol.Message

	stop     chan struct{}
	stopOnce sync.Once
}

// NewVehicle returns a vehicle at rest with the line out of view.
func NewVehicle(cfg Config) *Vehicle {
	cfg = cfg.withDefaults()
	pr, pw := io.Pipe()
	return &Vehicle{
		cfg:     cfg,
		pr:      pr,
		pw:      pw,
		goals:   make(map[motion.Axis]*goal),
		offX:    cfg.OffsetX,
		offY:    cfg.OffsetY,
		heading: cfg.Heading,
		stop:    make(chan struct{}),
	}
}

func (v *Vehicle) Read(p []byte) (int, error) { return v.pr.Read(p) }

// Write accepts one or more command lines from the daemon.
func (v *Vehicle) Write(p []byte) (int, error) {
	select {
	case <-v.stop:
		return 0, errors.New("sim: vehicle closed")
	default:
	}
	var errs []error
	for _, line := range strings.Split(string(p), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if err := v.command(line); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (v *Vehicle) command(line string) error {
	msg, err := protocol.Decode(line)
	if err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.received = append(v.received, msg)

	switch m := msg.(type) {
	case *protocol.MotionGoal:
		axis, err := motion.ParseAxis(m.Axis)
		if err != nil {
			return err
		}
		v.goals[axis] = &goal{id: m.GoalID, target: m.Target, loop: m.Loop}
	case *protocol.MotionCancel:
		axis, err := motion.ParseAxis(m.Axis)
		if err != nil {
			return err
		}
		if g, ok := v.goals[axis]; ok && g.id == m.GoalID {
			delete(v.goals, axis)
		}
	case *protocol.Switch:
		if !m.Paused {
			v.active = perception.Detector(m.Detector)
		} else if v.active == perception.Detector(m.Detector) {
			v.active = ""
		}
	case *protocol.Hello, *protocol.Distance, *protocol.Yaw:
	default:
		return fmt.Errorf("sim: unexpected %s command", msg.Type())
	}
	return nil
}

// Close stops Run and ends the read side with io.EOF.
func (v *Vehicle) Close() error {
	v.stopOnce.Do(func() {
		close(v.stop)
		v.pw.Close()
	})
	return nil
}

// Run advances the model every cfg.Step until ctx is done or Close is called.
func (v *Vehicle) Run(ctx context.Context) error {
	if err := v.emit([]protocol.Message{protocol.Hello{Firmware: v.cfg.Firmware}}); err != nil {
		return closed(err)
	}
	ticker := time.NewTicker(v.cfg.Step)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-v.stop:
			return nil
		case <-ticker.C:
			if err := v.Step(); err != nil {
				return closed(err)
			}
		}
	}
}

// closed maps the pipe error seen after Close to a clean stop.
func closed(err error) error {
	if errors.Is(err, io.ErrClosedPipe) {
		return nil
	}
	return err
}

// Step advances the model once and writes the resulting lines. It blocks
// until the reader has consumed them.
func (v *Vehicle) Step() error {
	return v.emit(v.advance())
}

func (v *Vehicle) emit(msgs []protocol.Message) error {
	for _, m := range msgs {
		line, err := protocol.Encode(m)
		if err != nil {
			return err
		}
		if _, err := io.WriteString(v.pw, line+"\n"); err != nil {
			return err
		}
	}
	return nil
}

func (v *Vehicle) advance() []protocol.Message {
	v.mu.Lock()
	defer v.mu.Unlock()

	// Perception goes out ahead of results so a completed goal is never
	// observed with the pre-move measurement.
	var out, results []protocol.Message
	complete := func(axis motion.Axis, g *goal) {
		results = append(results, protocol.MotionResult{
			Axis:    string(axis),
			GoalID:  g.id,
			Reached: axis != v.cfg.FailAxis,
		})
		delete(v.goals, axis)
	}

	if g, ok := v.goals[motion.Forward]; ok {
		g.steps++
		if g.target != 0 {
			v.travelled++
			if v.travelled >= v.cfg.LineAfter {
				v.lineVisible = true
			}
		} else {
			v.offY *= 1 - v.cfg.CenterRate
			out = append(out, protocol.MotionFeedback{Axis: string(motion.Forward), GoalID: g.id, Value: v.offY})
			if math.Abs(v.offY) < v.cfg.CenterTolerance {
				complete(motion.Forward, g)
			}
		}
	}
	if g, ok := v.goals[motion.Sideward]; ok {
		g.steps++
		v.offX *= 1 - v.cfg.CenterRate
		out = append(out, protocol.MotionFeedback{Axis: string(motion.Sideward), GoalID: g.id, Value: v.offX})
		if math.Abs(v.offX) < v.cfg.CenterTolerance {
			complete(motion.Sideward, g)
		}
	}
	if g, ok := v.goals[motion.Turn]; ok && !(g.target == 0 && g.loop >= stabiliseLoop) {
		g.steps++
		if g.steps >= v.cfg.TurnSteps {
			turned := v.cfg.TurnGain * g.target
			v.heading -= turned
			v.yaw = math.Mod(v.yaw+turned+360, 360)
			complete(motion.Turn, g)
		}
	}

	switch v.active {
	case perception.DetectorDetection:
		out = append(out, protocol.LineDetection{Detected: v.lineVisible})
	case perception.DetectorCentralize:
		out = append(out, protocol.LineCentralize{X: v.offX, Y: v.offY})
	case perception.DetectorAngle:
		out = append(out, protocol.LineAngle{Angle: v.heading})
	}
	out = append(out, protocol.IMUYaw{Yaw: v.yaw})
	return append(out, results...)
}

// Received returns every command the daemon has written.
func (v *Vehicle) Received() []protocol.Message {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]protocol.Message(nil), v.received...)
}

// Heading returns the true heading error.
func (v *Vehicle) Heading() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.heading
}

// ActiveGoals returns the axes with a goal still running.
func (v *Vehicle) ActiveGoals() []motion.Axis {
	v.mu.Lock()
	defer v.mu.Unlock()
	var axes []motion.Axis
	for _, a := range motion.Axes {
		if _, ok := v.goals[a]; ok {
			axes = append(axes, a)
		}
	}
	return axes
}
