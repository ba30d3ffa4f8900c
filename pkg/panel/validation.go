package panel

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/core-tools/hsu-panel/pkg/errors"
	"github.com/core-tools/hsu-panel/pkg/logging"
	"github.com/core-tools/hsu-panel/pkg/process"
)

// ValidateConfig validates the entire configuration structure
func ValidateConfig(config *PanelConfig) error {
	if config == nil {
		return errors.NewValidationError("configuration cannot be nil", nil)
	}

	if err := validatePanelOptions(&config.Panel); err != nil {
		return errors.NewValidationError("invalid panel configuration", err)
	}

	if err := validateInstances(config); err != nil {
		return errors.NewValidationError("invalid instances configuration", err)
	}

	if err := validateProcess(config); err != nil {
		return errors.NewValidationError("invalid process configuration", err)
	}

	if err := validateCollaborators(config); err != nil {
		return errors.NewValidationError("invalid collaborator configuration", err)
	}

	if _, err := logging.ParseLevel(config.Logging.Level); err != nil {
		return errors.NewValidationError(
			fmt.Sprintf("invalid log level: %s", config.Logging.Level),
			nil,
		).WithContext("valid_levels", "debug, info, warn, error")
	}

	if config.StaticDir != "" {
		if err := validateDirectory(config.StaticDir, "static"); err != nil {
			return err
		}
	}

	return nil
}

// ValidateConfigFile validates a configuration file without running it
func ValidateConfigFile(configFile string) error {
	config, err := LoadConfigFromFile(configFile)
	if err != nil {
		return err
	}
	if err := ValidateConfig(config); err != nil {
		return errors.NewValidationError("configuration validation failed", err).WithContext("config_file", configFile)
	}
	return nil
}

// ValidatePort validates port number
func ValidatePort(port int) error {
	if port <= 0 || port > 65535 {
		return errors.NewValidationError(fmt.Sprintf("invalid port number: %d", port), nil).WithContext("valid_range", "1-65535")
	}
	return nil
}

// ValidateTimeout rejects negative durations; zero means "use the default"
func ValidateTimeout(timeout time.Duration, name string) error {
	if timeout < 0 {
		return errors.NewValidationError(name+" timeout cannot be negative", nil)
	}
	return nil
}

func validatePanelOptions(options *PanelOptions) error {
	if err := ValidatePort(options.Port); err != nil {
		return err
	}
	if err := ValidateTimeout(options.ForceShutdownTimeout, "force shutdown"); err != nil {
		return err
	}
	if err := ValidateTimeout(options.OrphanGracePeriod, "orphan grace period"); err != nil {
		return err
	}
	for _, origin := range options.AllowedOrigins {
		if err := validateURL(origin, "allowed origin"); err != nil {
			return err
		}
	}
	return nil
}

func validateInstances(config *PanelConfig) error {
	if config.Instances.RootDir == "" {
		return errors.NewValidationError("root directory is required", nil)
	}
	if err := ValidateTimeout(config.Instances.DownloadTimeout, "download"); err != nil {
		return err
	}
	if config.Instances.TunnelExecutable != "" && filepath.Base(config.Instances.TunnelExecutable) != config.Instances.TunnelExecutable {
		return errors.NewValidationError("tunnel executable must be a file name inside the template directory", nil).
			WithContext("tunnel_executable", config.Instances.TunnelExecutable)
	}
	return nil
}

func validateProcess(config *PanelConfig) error {
	p := config.Process
	if filepath.Base(p.LaunchScript) != p.LaunchScript {
		return errors.NewValidationError("launch script must be a file name", nil).WithContext("launch_script", p.LaunchScript)
	}
	if _, err := process.ParseSignal(p.TerminationSignal); err != nil {
		return err
	}

	timeouts := []struct {
		value time.Duration
		name  string
	}{
		{p.StopCommandTimeout, "stop command"},
		{p.GracefulTimeout, "graceful"},
		{p.KillTimeout, "kill"},
		{p.RestartTimeout, "restart"},
		{p.QuiescenceDelay, "quiescence delay"},
		{p.OutputDrainTimeout, "output drain"},
		{p.SweepTimeout, "sweep"},
	}
	for _, t := range timeouts {
		if err := ValidateTimeout(t.value, t.name); err != nil {
			return err
		}
	}

	for _, pattern := range p.SweepPatterns {
		if pattern == "" {
			return errors.NewValidationError("sweep patterns cannot be empty", nil)
		}
	}
	return nil
}

func validateCollaborators(config *PanelConfig) error {
	if config.Catalog.ManifestURL != "" {
		if err := validateURL(config.Catalog.ManifestURL, "catalog manifest"); err != nil {
			return err
		}
	}
	if config.Catalog.Limit < 0 {
		return errors.NewValidationError("catalog limit cannot be negative", nil)
	}
	if err := ValidateTimeout(config.Catalog.Timeout, "catalog"); err != nil {
		return err
	}
	if config.Tunnel.APIURL != "" {
		if err := validateURL(config.Tunnel.APIURL, "tunnel api"); err != nil {
			return err
		}
	}
	if err := ValidateTimeout(config.Tunnel.Timeout, "tunnel"); err != nil {
		return err
	}
	return nil
}

func validateURL(value, name string) error {
	parsed, err := url.Parse(value)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return errors.NewValidationError(fmt.Sprintf("invalid %s url: %s", name, value), err)
	}
	return nil
}

func validateDirectory(path, name string) error {
	info, err := os.Stat(path)
	if err != nil {
		return errors.NewValidationError(fmt.Sprintf("%s directory does not exist: %s", name, path), err)
	}
	if !info.IsDir() {
		return errors.NewValidationError(fmt.Sprintf("%s path is not a directory: %s", name, path), nil)
	}
	return nil
}
