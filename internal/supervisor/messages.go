// Package supervisor exposes the line-following task over NATS. A supervisor
// sends a goal as a request and receives the run ID in the reply; feedback and
// the terminal result are published as events tagged with that run ID.
//
// Subjects, for the default prefix:
//
//	auv.task.line.goal      request/reply  {"order":true} -> {"run_id":"..."}
//	auv.task.line.cancel    request/reply  {} -> {"canceled":true}
//	auv.task.line.feedback  event          {"run_id":"...","angle_remaining":3.5}
//	auv.task.line.result    event          {"run_id":"...","phase":"SUCCEEDED","motion_completed":true}
package supervisor

import (
	"github.com/harshv834/auv/internal/task"
)

// DefaultPrefix is the subject prefix used when none is configured.
const DefaultPrefix = "auv.task.line"

// Subjects names the four task subjects under one prefix.
type Subjects struct {
	Goal     string
	Cancel   string
	Feedback string
	Result   string
}

// SubjectsFor returns the subjects under prefix, or DefaultPrefix when empty.
func SubjectsFor(prefix string) Subjects {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return Subjects{
		Goal:     prefix + ".goal",
		Cancel:   prefix + ".cancel",
		Feedback: prefix + ".feedback",
		Result:   prefix + ".result",
	}
}

type GoalRequest struct {
	Order bool `json:"order"`
}

type GoalReply struct {
	RunID string `json:"run_id,omitempty"`
	Error string `json:"error,omitempty"`
}

type CancelReply struct {
	Canceled bool `json:"canceled"`
}

// FeedbackEvent carries one poll tick's heading error.
type FeedbackEvent struct {
	RunID          string  `json:"run_id"`
	AngleRemaining float64 `json:"angle_remaining"`
}

// ResultEvent is published once per run. MotionCompleted is absent when the
// run was preempted or never started.
type ResultEvent struct {
	RunID           string     `json:"run_id"`
	Phase           task.Phase `json:"phase"`
	MotionCompleted *bool      `json:"motion_completed,omitempty"`
	AlignAttempts   int        `json:"align_attempts,omitempty"`
	Error           string     `json:"error,omitempty"`
}

func resultEvent(runID string, out task.Outcome) ResultEvent {
	ev := ResultEvent{
		RunID:         runID,
		Phase:         out.Phase,
		AlignAttempts: out.AlignAttempts,
	}
	if out.Result != nil {
		completed := out.Result.MotionCompleted
		ev.MotionCompleted = &completed
	}
	if out.Err != nil {
		ev.Error = out.Err.Error()
	}
	return ev
}
