package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harshv834/auv/internal/task"
)

func setFlag(t *testing.T, p *string, v string) {
	t.Helper()
	orig := *p
	*p = v
	t.Cleanup(func() { *p = orig })
}

func TestLoadConfig_FlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "linefollow.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"listen": ":7000", "serial_port": "/dev/ttyS3", "rate_hz": 15}`), 0644))

	setFlag(t, configPath, path)
	setFlag(t, listen, ":9999")
	setFlag(t, dbPath, filepath.Join(t.TempDir(), "runs.db"))

	cfg := loadConfig()
	assert.Equal(t, ":9999", cfg.GetListen())
	assert.Equal(t, "/dev/ttyS3", cfg.GetSerialPort())
	assert.Equal(t, 15.0, cfg.TaskParams().RateHz)
	assert.Contains(t, cfg.GetRunLogPath(), "runs.db")
	assert.Empty(t, cfg.GetNATSURL())
}

func TestLoadConfig_NoFile(t *testing.T) {
	setFlag(t, configPath, "")
	setFlag(t, natsURL, "nats://127.0.0.1:4222")

	cfg := loadConfig()
	assert.Equal(t, ":8080", cfg.GetListen())
	assert.Equal(t, "nats://127.0.0.1:4222", cfg.GetNATSURL())
}

func TestFailFast(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ff := &failFast{stop: cancel}

	ff.RunFinished("r1", task.Outcome{Phase: task.Succeeded})
	assert.NoError(t, ctx.Err())
	assert.False(t, ff.aborted.Load())

	ff.RunFinished("r2", task.Outcome{Phase: task.Aborted})
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
	assert.True(t, ff.aborted.Load())
}
