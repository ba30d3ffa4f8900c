package panel

import (
	"os"
	"time"

	"github.com/core-tools/hsu-panel/pkg/catalog"
	"github.com/core-tools/hsu-panel/pkg/errors"
	"github.com/core-tools/hsu-panel/pkg/history"
	"github.com/core-tools/hsu-panel/pkg/logging"
	"github.com/core-tools/hsu-panel/pkg/processfile"
	"github.com/core-tools/hsu-panel/pkg/provisioner"
	"github.com/core-tools/hsu-panel/pkg/supervisor"
	"github.com/core-tools/hsu-panel/pkg/tunnel"

	"gopkg.in/yaml.v3"
)

const (
	DefaultPort                 = 3000
	DefaultRootDir              = "servers"
	DefaultTemplateDir          = "templates"
	DefaultHistoryPath          = "history.db"
	DefaultForceShutdownTimeout = 60 * time.Second
	DefaultOrphanGracePeriod    = 10 * time.Second
)

// PanelConfig represents the top-level configuration file structure
type PanelConfig struct {
	Panel      PanelOptions                  `yaml:"panel"`
	Instances  provisioner.Config            `yaml:"instances"`
	Process    supervisor.Config             `yaml:"process"`
	RunRecords processfile.ProcessFileConfig `yaml:"run_records,omitempty"`
	Catalog    catalog.Config                `yaml:"catalog,omitempty"`
	Tunnel     tunnel.Config                 `yaml:"tunnel,omitempty"`
	History    HistoryOptions                `yaml:"history,omitempty"`
	Logging    logging.ZapConfig             `yaml:"logging,omitempty"`
	StaticDir  string                        `yaml:"static_dir,omitempty"`
}

// PanelOptions represents server-level configuration
type PanelOptions struct {
	Host                 string        `yaml:"host,omitempty"`
	Port                 int           `yaml:"port"`
	ForceShutdownTimeout time.Duration `yaml:"force_shutdown_timeout,omitempty"`
	// How long a server left running by a previous panel gets to exit
	// before it is killed at boot
	OrphanGracePeriod time.Duration `yaml:"orphan_grace_period,omitempty"`
	AllowedOrigins    []string      `yaml:"allowed_origins,omitempty"`
}

type HistoryOptions struct {
	// Enabled defaults to true
	Enabled        *bool `yaml:"enabled,omitempty"`
	history.Config `yaml:",inline"`
}

func (h HistoryOptions) IsEnabled() bool {
	return h.Enabled == nil || *h.Enabled
}

// DefaultConfig is the configuration used when no file is given
func DefaultConfig() *PanelConfig {
	config := &PanelConfig{
		Process: supervisor.DefaultConfig(),
	}
	setConfigDefaults(config)
	return config
}

// LoadConfigFromFile loads panel configuration from a YAML file
func LoadConfigFromFile(filename string) (*PanelConfig, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.NewIOError("failed to read configuration file", err).WithContext("filename", filename)
	}

	config := &PanelConfig{
		Process: supervisor.DefaultConfig(),
	}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, errors.NewValidationError("failed to parse YAML configuration", err).WithContext("filename", filename)
	}

	setConfigDefaults(config)
	return config, nil
}

// setConfigDefaults applies default values to configuration
func setConfigDefaults(config *PanelConfig) {
	if config.Panel.Port == 0 {
		config.Panel.Port = DefaultPort
	}
	if config.Panel.ForceShutdownTimeout == 0 {
		config.Panel.ForceShutdownTimeout = DefaultForceShutdownTimeout
	}
	if config.Panel.OrphanGracePeriod == 0 {
		config.Panel.OrphanGracePeriod = DefaultOrphanGracePeriod
	}

	if config.Instances.RootDir == "" {
		config.Instances.RootDir = DefaultRootDir
	}
	if config.Instances.TemplateDir == "" {
		config.Instances.TemplateDir = DefaultTemplateDir
	}
	if config.Instances.ExcludedDirs == nil {
		config.Instances.ExcludedDirs = provisioner.DefaultExcludedDirs
	}

	// The supervisor launches what the provisioner built
	if config.Process.RootDir == "" {
		config.Process.RootDir = config.Instances.RootDir
	}
	if config.Process.LaunchScript == "" {
		config.Process.LaunchScript = provisioner.LaunchScript
	}

	if config.History.Path == "" {
		config.History.Path = DefaultHistoryPath
	}

	if config.Logging.Level == "" {
		config.Logging.Level = "info"
	}
	if config.Logging.Format == "" {
		config.Logging.Format = "console"
	}
	if config.Logging.Output == "" {
		config.Logging.Output = "stdout"
	}
}
