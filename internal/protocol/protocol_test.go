package protocol

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode(t *testing.T) {
	line, err := Encode(MotionGoal{Axis: "turn", GoalID: "g1", Target: -12.5, Loop: 10})
	require.NoError(t, err)
	assert.Equal(t, `{"type":"motion_goal","axis":"turn","goal_id":"g1","target":-12.5,"loop":10}`, line)

	line, err = Encode(Switch{Detector: "angle", Paused: false})
	require.NoError(t, err)
	assert.Equal(t, `{"type":"switch","detector":"angle","paused":false}`, line)
}

func TestDecode_Inbound(t *testing.T) {
	tests := []struct {
		line string
		want Message
	}{
		{`{"type":"line_detection","detected":true}`, &LineDetection{Detected: true}},
		{`{"type":"line_centralize","x":0.25,"y":-0.5}`, &LineCentralize{X: 0.25, Y: -0.5}},
		{`{"type":"line_angle","angle":30}`, &LineAngle{Angle: 30}},
		{`{"type":"imu_yaw","yaw":91.5}`, &IMUYaw{Yaw: 91.5}},
		{`{"type":"motion_result","axis":"forward","goal_id":"abc","reached":true}`, &MotionResult{Axis: "forward", GoalID: "abc", Reached: true}},
		{`{"type":"motion_feedback","axis":"turn","goal_id":"abc","value":4}`, &MotionFeedback{Axis: "turn", GoalID: "abc", Value: 4}},
		{` {"type":"hello","firmware":"bridge-1.2"}` + "\r", &Hello{Firmware: "bridge-1.2"}},
	}
	for _, tt := range tests {
		t.Run(tt.want.Type(), func(t *testing.T) {
			got, err := Decode(tt.line)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEncodeDecode_Outbound(t *testing.T) {
	for _, m := range []Message{
		&MotionGoal{Axis: "sideward", GoalID: "g", Target: 0, Loop: 10},
		&MotionCancel{Axis: "forward", GoalID: "g"},
		&Switch{Detector: "detection", Paused: true},
		&Distance{Axis: "sideward", Value: 0.4},
		&Yaw{Yaw: 12},
	} {
		line, err := Encode(m)
		require.NoError(t, err)
		got, err := Decode(line)
		require.NoError(t, err)
		assert.Equal(t, m, got)
	}
}

func TestDecode_Errors(t *testing.T) {
	_, err := Decode("   ")
	assert.ErrorIs(t, err, ErrEmptyLine)

	_, err = Decode(`{"type":"sonar_ping"}`)
	assert.True(t, errors.Is(err, ErrUnknownType))

	_, err = Decode("12.0,4,5")
	assert.Error(t, err)

	_, err = Decode(`{"type":"line_angle","angle":"steep"}`)
	assert.Error(t, err)
}

func TestClassify(t *testing.T) {
	assert.Equal(t, TypeLineAngle, Classify(`{"type":"line_angle","angle":1}`))
	assert.Equal(t, TypeUnknown, Classify(`{"angle":1}`))
	assert.Equal(t, TypeUnknown, Classify(`garbage`))
}
