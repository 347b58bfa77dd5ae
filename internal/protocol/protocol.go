// Package protocol defines the line-oriented JSON messages exchanged with the
// vehicle bridge. Every line is a single JSON object whose "type" field names
// the message, for example:
//
//	{"type":"line_angle","angle":-12.5}
//	{"type":"motion_goal","axis":"turn","goal_id":"5b1c...","target":-12.5,"loop":10}
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Inbound message types (bridge to daemon).
const (
	TypeLineDetection  = "line_detection"
	TypeLineCentralize = "line_centralize"
	TypeLineAngle      = "line_angle"
	TypeIMUYaw         = "imu_yaw"
	TypeMotionResult   = "motion_result"
	TypeMotionFeedback = "motion_feedback"
	TypeHello          = "hello"
)

// Outbound message types (daemon to bridge).
const (
	TypeMotionGoal   = "motion_goal"
	TypeMotionCancel = "motion_cancel"
	TypeSwitch       = "switch"
	TypeDistance     = "distance"
	TypeYaw          = "yaw"
)

// TypeUnknown is reported by Classify for lines that are not protocol messages.
const TypeUnknown = "unknown"

var (
	ErrEmptyLine   = errors.New("protocol: empty line")
	ErrUnknownType = errors.New("protocol: unknown message type")
)

// Message is implemented by every wire message.
type Message interface {
	Type() string
}

// LineDetection reports whether the guide line is in view.
type LineDetection struct {
	Detected bool `json:"detected"`
}

// LineCentralize carries the line's offset from the image centre.
type LineCentralize struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// LineAngle carries the heading error in degrees.
type LineAngle struct {
	Angle float64 `json:"angle"`
}

// IMUYaw is a raw heading measurement.
type IMUYaw struct {
	Yaw float64 `json:"yaw"`
}

// MotionResult is the terminal state of a motion goal.
type MotionResult struct {
	Axis    string `json:"axis"`
	GoalID  string `json:"goal_id"`
	Reached bool   `json:"reached"`
}

// MotionFeedback is streamed progress for an outstanding motion goal.
type MotionFeedback struct {
	Axis   string  `json:"axis"`
	GoalID string  `json:"goal_id"`
	Value  float64 `json:"value"`
}

// Hello is sent by the bridge when it (re)connects.
type Hello struct {
	Firmware string `json:"firmware"`
}

// MotionGoal commands an axis executor towards a target.
type MotionGoal struct {
	Axis   string  `json:"axis"`
	GoalID string  `json:"goal_id"`
	Target float64 `json:"target"`
	Loop   int     `json:"loop"`
}

// MotionCancel aborts an outstanding goal.
type MotionCancel struct {
	Axis   string `json:"axis"`
	GoalID string `json:"goal_id"`
}

// Switch pauses or resumes an upstream detector.
type Switch struct {
	Detector string `json:"detector"`
	Paused   bool   `json:"paused"`
}

// Distance relays a centring offset to the executor of the given axis.
type Distance struct {
	Axis  string  `json:"axis"`
	Value float64 `json:"value"`
}

// Yaw relays a heading measurement unmodified.
type Yaw struct {
	Yaw float64 `json:"yaw"`
}

func (LineDetection) Type() string  { return TypeLineDetection }
func (LineCentralize) Type() string { return TypeLineCentralize }
func (LineAngle) Type() string      { return TypeLineAngle }
func (IMUYaw) Type() string         { return TypeIMUYaw }
func (MotionResult) Type() string   { return TypeMotionResult }
func (MotionFeedback) Type() string { return TypeMotionFeedback }
func (Hello) Type() string          { return TypeHello }
func (MotionGoal) Type() string     { return TypeMotionGoal }
func (MotionCancel) Type() string   { return TypeMotionCancel }
func (Switch) Type() string         { return TypeSwitch }
func (Distance) Type() string       { return TypeDistance }
func (Yaw) Type() string            { return TypeYaw }

type envelope struct {
	Type string `json:"type"`
}

// Encode renders a message as a single line without the trailing newline.
func Encode(m Message) (string, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("marshal %s: %w", m.Type(), err)
	}
	head := fmt.Sprintf(`{"type":%q`, m.Type())
	if string(body) == "{}" {
		return head + "}", nil
	}
	return head + "," + string(body[1:]), nil
}

// Decode parses a single line into its concrete message type.
func Decode(line string) (Message, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, ErrEmptyLine
	}
	var env envelope
	if err := json.Unmarshal([]byte(line), &env); err != nil {
		return nil, fmt.Errorf("failed to unmarshal envelope: %w", err)
	}

	var m Message
	switch env.Type {
	case TypeLineDetection:
		m = &LineDetection{}
	case TypeLineCentralize:
		m = &LineCentralize{}
	case TypeLineAngle:
		m = &LineAngle{}
	case TypeIMUYaw:
		m = &IMUYaw{}
	case TypeMotionResult:
		m = &MotionResult{}
	case TypeMotionFeedback:
		m = &MotionFeedback{}
	case TypeHello:
		m = &Hello{}
	case TypeMotionGoal:
		m = &MotionGoal{}
	case TypeMotionCancel:
		m = &MotionCancel{}
	case TypeSwitch:
		m = &Switch{}
	case TypeDistance:
		m = &Distance{}
	case TypeYaw:
		m = &Yaw{}
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownType, env.Type)
	}
	if err := json.Unmarshal([]byte(line), m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s: %w", env.Type, err)
	}
	return m, nil
}

// Classify returns the message type of a line without fully decoding it, or
// TypeUnknown when the line is not a protocol message.
func Classify(line string) string {
	var env envelope
	if err := json.Unmarshal([]byte(strings.TrimSpace(line)), &env); err != nil || env.Type == "" {
		return TypeUnknown
	}
	return env.Type
}
