package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/harshv834/auv/internal/supervisor"
	"github.com/harshv834/auv/internal/task"
)

func TestPrintResult(t *testing.T) {
	done := true
	var buf bytes.Buffer
	printResult(&buf, supervisor.ResultEvent{RunID: "r1", Phase: task.Succeeded, MotionCompleted: &done, AlignAttempts: 3})
	assert.Equal(t, "result run=r1 phase=SUCCEEDED motion_completed=true align_attempts=3\n", buf.String())

	buf.Reset()
	printResult(&buf, supervisor.ResultEvent{RunID: "r2", Phase: task.Aborted, Error: "subsystem failure: sideward"})
	assert.Contains(t, buf.String(), "phase=ABORTED motion_completed=none")
	assert.Contains(t, buf.String(), "error: subsystem failure: sideward")

	buf.Reset()
	printResult(&buf, supervisor.ResultEvent{RunID: "r3"})
	assert.Contains(t, buf.String(), "phase=UNSET")
}
