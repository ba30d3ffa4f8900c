package process

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/core-tools/hsu-panel/pkg/errors"
)

// ValidateLaunchSpec validates a launch spec before anything is spawned
func ValidateLaunchSpec(spec LaunchSpec) error {
	if spec.Script == "" {
		return errors.NewValidationError("script is required", nil)
	}
	if filepath.Base(spec.Script) != spec.Script {
		return errors.NewValidationError("script must be a file name inside the working directory: "+spec.Script, nil)
	}

	if spec.WorkingDirectory == "" {
		return errors.NewValidationError("working directory is required", nil)
	}
	if !filepath.IsAbs(spec.WorkingDirectory) {
		return errors.NewValidationError("working directory must be absolute path", nil)
	}
	if info, err := os.Stat(spec.WorkingDirectory); err != nil {
		return errors.NewNotFoundError("working directory not accessible: "+spec.WorkingDirectory, err)
	} else if !info.IsDir() {
		return errors.NewValidationError("working directory is not a directory: "+spec.WorkingDirectory, nil)
	}

	if _, err := os.Stat(filepath.Join(spec.WorkingDirectory, spec.Script)); err != nil {
		return errors.NewNotFoundError("script not found: "+spec.Script, err)
	}

	for _, env := range spec.Environment {
		if !strings.Contains(env, "=") {
			return errors.NewValidationError("invalid environment variable format: "+env, nil)
		}
	}

	return nil
}

// ValidatePID parses and validates a PID value
func ValidatePID(pidStr string) (int, error) {
	if pidStr == "" {
		return 0, errors.NewValidationError("PID cannot be empty", nil)
	}

	pid, err := strconv.Atoi(pidStr)
	if err != nil {
		return 0, errors.NewValidationError("invalid PID format: "+pidStr, err)
	}

	if pid <= 0 {
		return 0, errors.NewValidationError("PID must be positive: "+pidStr, nil)
	}

	return pid, nil
}
