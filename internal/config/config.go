package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/harshv834/auv/internal/serialmux"
	"github.com/harshv834/auv/internal/sim"
	"github.com/harshv834/auv/internal/supervisor"
	"github.com/harshv834/auv/internal/task"
)

// DefaultConfigPath is the path to the canonical daemon defaults file.
const DefaultConfigPath = "config/linefollow.defaults.json"

// Config is the daemon configuration. Every field is optional; the Get*
// methods supply defaults for anything the file leaves out.
type Config struct {
	// Bridge link
	SerialPort    *string                `json:"serial_port,omitempty"`
	SerialOptions *serialmux.PortOptions `json:"serial_options,omitempty"`
	RunLogPath    *string                `json:"run_log_path,omitempty"`
	SampleEvery   *int                   `json:"sample_every,omitempty"`

	// Surfaces
	Listen     *string `json:"listen,omitempty"`
	GRPCListen *string `json:"grpc_listen,omitempty"` // "" disables health
	NATSURL    *string `json:"nats_url,omitempty"`    // "" disables the bridge
	NATSPrefix *string `json:"nats_prefix,omitempty"`

	// Controller tuning
	RateHz           *float64 `json:"rate_hz,omitempty"`
	Tolerance        *float64 `json:"tolerance_deg,omitempty"`
	SearchForward    *float64 `json:"search_forward,omitempty"`
	SearchLoop       *int     `json:"search_loop,omitempty"`
	StabiliseLoop    *int     `json:"stabilise_loop,omitempty"`
	CenterLoop       *int     `json:"center_loop,omitempty"`
	TurnLoop         *int     `json:"turn_loop,omitempty"`
	MaxAlignAttempts *int     `json:"max_align_attempts,omitempty"`

	// Simulator (-dev)
	SimStep      *string  `json:"sim_step,omitempty"` // duration string like "20ms"
	SimLineAfter *int     `json:"sim_line_after,omitempty"`
	SimHeading   *float64 `json:"sim_heading,omitempty"`
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// Load reads a Config from a JSON file. Partial files are fine.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the fields that are set.
func (c *Config) Validate() error {
	if c.SerialOptions != nil {
		if _, err := c.SerialOptions.Normalize(); err != nil {
			return fmt.Errorf("serial_options: %w", err)
		}
	}
	if c.RateHz != nil && *c.RateHz <= 0 {
		return fmt.Errorf("rate_hz must be positive, got %f", *c.RateHz)
	}
	if c.Tolerance != nil && *c.Tolerance <= 0 {
		return fmt.Errorf("tolerance_deg must be positive, got %f", *c.Tolerance)
	}
	for name, v := range map[string]*int{
		"search_loop":    c.SearchLoop,
		"stabilise_loop": c.StabiliseLoop,
		"center_loop":    c.CenterLoop,
		"turn_loop":      c.TurnLoop,
	} {
		if v != nil && *v <= 0 {
			return fmt.Errorf("%s must be positive, got %d", name, *v)
		}
	}
	if c.MaxAlignAttempts != nil && *c.MaxAlignAttempts < 0 {
		return fmt.Errorf("max_align_attempts must be non-negative, got %d", *c.MaxAlignAttempts)
	}
	if c.SampleEvery != nil && *c.SampleEvery < 0 {
		return fmt.Errorf("sample_every must be non-negative, got %d", *c.SampleEvery)
	}
	if c.SimStep != nil && *c.SimStep != "" {
		if _, err := time.ParseDuration(*c.SimStep); err != nil {
			return fmt.Errorf("invalid sim_step '%s': %w", *c.SimStep, err)
		}
	}
	return nil
}

// GetSerialPort returns the serial_port value or the default.
func (c *Config) GetSerialPort() string {
	if c.SerialPort == nil {
		return "/dev/ttyUSB0"
	}
	return *c.SerialPort
}

// GetSerialOptions returns the normalised line settings, 8N1 at the
// bridge's rate when unset.
func (c *Config) GetSerialOptions() serialmux.PortOptions {
	var opts serialmux.PortOptions
	if c.SerialOptions != nil {
		opts = *c.SerialOptions
	}
	n, err := opts.Normalize()
	if err != nil {
		n, _ = serialmux.PortOptions{}.Normalize()
	}
	return n
}

// GetRunLogPath returns the run_log_path value or the default.
func (c *Config) GetRunLogPath() string {
	if c.RunLogPath == nil {
		return "linefollow.db"
	}
	return *c.RunLogPath
}

func (c *Config) GetSampleEvery() int {
	if c.SampleEvery == nil {
		return 1
	}
	return *c.SampleEvery
}

// GetListen returns the HTTP listen address.
func (c *Config) GetListen() string {
	if c.Listen == nil {
		return ":8080"
	}
	return *c.Listen
}

// GetGRPCListen returns the health service address; empty disables it.
func (c *Config) GetGRPCListen() string {
	if c.GRPCListen == nil {
		return ":9090"
	}
	return *c.GRPCListen
}

// GetNATSURL returns the supervisor broker URL; empty disables the bridge.
func (c *Config) GetNATSURL() string {
	if c.NATSURL == nil {
		return ""
	}
	return *c.NATSURL
}

func (c *Config) GetNATSPrefix() string {
	if c.NATSPrefix == nil || *c.NATSPrefix == "" {
		return supervisor.DefaultPrefix
	}
	return *c.NATSPrefix
}

// TaskParams builds the controller tuning. Unset fields keep
// task.DefaultParams.
func (c *Config) TaskParams() task.Params {
	p := task.DefaultParams()
	if c.RateHz != nil {
		p.RateHz = *c.RateHz
	}
	if c.Tolerance != nil {
		p.Tolerance = *c.Tolerance
	}
	if c.SearchForward != nil {
		p.SearchForward = *c.SearchForward
	}
	if c.SearchLoop != nil {
		p.SearchLoop = *c.SearchLoop
	}
	if c.StabiliseLoop != nil {
		p.StabiliseLoop = *c.StabiliseLoop
	}
	if c.CenterLoop != nil {
		p.CenterLoop = *c.CenterLoop
	}
	if c.TurnLoop != nil {
		p.TurnLoop = *c.TurnLoop
	}
	if c.MaxAlignAttempts != nil {
		p.MaxAlignAttempts = *c.MaxAlignAttempts
	}
	return p
}

// SimConfig builds the simulated vehicle used by -dev.
func (c *Config) SimConfig() sim.Config {
	s := sim.DefaultConfig()
	if c.SimStep != nil && *c.SimStep != "" {
		if d, err := time.ParseDuration(*c.SimStep); err == nil {
			s.Step = d
		}
	}
	if c.SimLineAfter != nil {
		s.LineAfter = *c.SimLineAfter
	}
	if c.SimHeading != nil {
		s.Heading = *c.SimHeading
	}
	return s
}
