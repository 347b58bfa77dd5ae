package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harshv834/auv/internal/serialmux"
	"github.com/harshv834/auv/internal/supervisor"
	"github.com/harshv834/auv/internal/task"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestDefaultsFile(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", DefaultConfigPath))
	require.NoError(t, err)

	// The shipped file must agree with the built-in defaults.
	assert.Equal(t, task.DefaultParams(), cfg.TaskParams())
	assert.Equal(t, (&Config{}).GetSerialOptions(), cfg.GetSerialOptions())
	assert.Equal(t, (&Config{}).GetListen(), cfg.GetListen())
	assert.Equal(t, (&Config{}).GetGRPCListen(), cfg.GetGRPCListen())
	assert.Equal(t, supervisor.DefaultPrefix, cfg.GetNATSPrefix())
	assert.Empty(t, cfg.GetNATSURL())
}

func TestEmptyConfigDefaults(t *testing.T) {
	cfg := &Config{}
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "/dev/ttyUSB0", cfg.GetSerialPort())
	assert.Equal(t, "linefollow.db", cfg.GetRunLogPath())
	assert.Equal(t, 1, cfg.GetSampleEvery())
	assert.Equal(t, serialmux.DefaultBaudRate, cfg.GetSerialOptions().BaudRate)
	assert.Equal(t, "N", cfg.GetSerialOptions().Parity)
	assert.Equal(t, task.DefaultParams(), cfg.TaskParams())
	assert.Equal(t, 20*time.Millisecond, cfg.SimConfig().Step)
}

func TestLoad_Partial(t *testing.T) {
	path := writeConfig(t, "partial.json", `{
  "serial_port": "/dev/ttyACM1",
  "serial_options": {"baud_rate": 57600, "parity": "even"},
  "rate_hz": 20,
  "turn_loop": 3,
  "max_align_attempts": 8,
  "nats_url": "nats://127.0.0.1:4222",
  "sim_step": "5ms",
  "sim_heading": -25
}`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/dev/ttyACM1", cfg.GetSerialPort())
	opts := cfg.GetSerialOptions()
	assert.Equal(t, 57600, opts.BaudRate)
	assert.Equal(t, "E", opts.Parity)
	assert.Equal(t, 8, opts.DataBits)

	p := cfg.TaskParams()
	assert.Equal(t, 20.0, p.RateHz)
	assert.Equal(t, 3, p.TurnLoop)
	assert.Equal(t, 8, p.MaxAlignAttempts)
	assert.Equal(t, task.DefaultParams().Tolerance, p.Tolerance)

	assert.Equal(t, "nats://127.0.0.1:4222", cfg.GetNATSURL())
	s := cfg.SimConfig()
	assert.Equal(t, 5*time.Millisecond, s.Step)
	assert.Equal(t, -25.0, s.Heading)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load("/nonexistent/path/to/config.json")
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "config.yaml", "rate_hz: 3"))
	assert.ErrorContains(t, err, ".json extension")

	_, err = Load(writeConfig(t, "bad.json", `{"rate_hz": "fast"`))
	assert.ErrorContains(t, err, "parse")

	_, err = Load(writeConfig(t, "invalid.json", `{"rate_hz": -1}`))
	assert.ErrorContains(t, err, "rate_hz")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{"zero rate", Config{RateHz: ptrFloat64(0)}, "rate_hz"},
		{"negative tolerance", Config{Tolerance: ptrFloat64(-2)}, "tolerance_deg"},
		{"zero turn loop", Config{TurnLoop: ptrInt(0)}, "turn_loop"},
		{"negative attempts", Config{MaxAlignAttempts: ptrInt(-1)}, "max_align_attempts"},
		{"negative sampling", Config{SampleEvery: ptrInt(-3)}, "sample_every"},
		{"bad sim step", Config{SimStep: ptrString("soon")}, "sim_step"},
		{"bad parity", Config{SerialOptions: &serialmux.PortOptions{Parity: "mark"}}, "serial_options"},
		{"valid", Config{RateHz: ptrFloat64(8), MaxAlignAttempts: ptrInt(0), SimStep: ptrString("")}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}
