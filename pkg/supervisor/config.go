package supervisor

import (
	"time"

	"github.com/core-tools/hsu-panel/pkg/process"
	"github.com/core-tools/hsu-panel/pkg/processfile"
)

const (
	DefaultLaunchScript       = "start.sh"
	DefaultShell              = "bash"
	DefaultStopCommandTimeout = 10 * time.Second
	DefaultGracefulTimeout    = 20 * time.Second
	DefaultKillTimeout        = 5 * time.Second
	DefaultQuiescenceDelay    = 2 * time.Second
	DefaultOutputDrainTimeout = 2 * time.Second
	DefaultRunRecordID        = "server"
)

// Config is the YAML-facing part of the supervisor setup
type Config struct {
	// Root directory holding one directory per instance
	RootDir string `yaml:"root_dir,omitempty"`

	LaunchScript string `yaml:"launch_script,omitempty"`
	Shell        string `yaml:"shell,omitempty"`

	// Console command asking the server to shut down, e.g. "stop".
	// Written to stdin before any signal is sent.
	StopCommand        string        `yaml:"stop_command,omitempty"`
	StopCommandTimeout time.Duration `yaml:"stop_command_timeout,omitempty"`

	TerminationSignal string        `yaml:"termination_signal,omitempty"`
	GracefulTimeout   time.Duration `yaml:"graceful_timeout,omitempty"`
	KillTimeout       time.Duration `yaml:"kill_timeout,omitempty"`

	RestartTimeout  time.Duration `yaml:"restart_timeout,omitempty"`
	QuiescenceDelay time.Duration `yaml:"quiescence_delay,omitempty"`

	OutputDrainTimeout time.Duration `yaml:"output_drain_timeout,omitempty"`

	// Command-line patterns killed with pkill -f on every stop
	SweepPatterns []string      `yaml:"sweep_patterns,omitempty"`
	SweepTimeout  time.Duration `yaml:"sweep_timeout,omitempty"`
}

// RunRecorder persists the identity of the running child
type RunRecorder interface {
	WriteRunRecord(id string, record processfile.RunRecord) error
	RemovePIDFile(id string) error
}

// Options wires a supervisor. Launch and Sweep default to the os/exec and
// pkill implementations; RunRecords is optional.
type Options struct {
	Config

	Launch      process.LaunchCmd
	Sweep       process.Sweeper
	RunRecords  RunRecorder
	RunRecordID string
}

func (c *Config) setDefaults() {
	if c.LaunchScript == "" {
		c.LaunchScript = DefaultLaunchScript
	}
	if c.Shell == "" {
		c.Shell = DefaultShell
	}
	if c.StopCommandTimeout <= 0 {
		c.StopCommandTimeout = DefaultStopCommandTimeout
	}
	if c.GracefulTimeout <= 0 {
		c.GracefulTimeout = DefaultGracefulTimeout
	}
	if c.KillTimeout <= 0 {
		c.KillTimeout = DefaultKillTimeout
	}
	if c.QuiescenceDelay <= 0 {
		c.QuiescenceDelay = DefaultQuiescenceDelay
	}
	if c.RestartTimeout <= 0 {
		c.RestartTimeout = c.GracefulTimeout + c.KillTimeout
		if c.StopCommand != "" {
			c.RestartTimeout += c.StopCommandTimeout
		}
	}
	if c.OutputDrainTimeout <= 0 {
		c.OutputDrainTimeout = DefaultOutputDrainTimeout
	}
	if c.SweepTimeout <= 0 {
		c.SweepTimeout = process.DefaultSweepTimeout
	}
}

// DefaultConfig returns the settings used for Minecraft-style servers
func DefaultConfig() Config {
	return Config{
		LaunchScript:       DefaultLaunchScript,
		Shell:              DefaultShell,
		StopCommand:        "stop",
		StopCommandTimeout: DefaultStopCommandTimeout,
		TerminationSignal:  "SIGTERM",
		GracefulTimeout:    DefaultGracefulTimeout,
		KillTimeout:        DefaultKillTimeout,
		QuiescenceDelay:    DefaultQuiescenceDelay,
		OutputDrainTimeout: DefaultOutputDrainTimeout,
		SweepPatterns:      []string{"java -Xmx", "ngrok tcp"},
		SweepTimeout:       process.DefaultSweepTimeout,
	}
}
