package process

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/core-tools/hsu-panel/pkg/errors"

	"github.com/stretchr/testify/assert"
)

func TestValidateLaunchSpec(t *testing.T) {
	dir := t.TempDir()
	assert.NoError(t, os.WriteFile(filepath.Join(dir, "start.sh"), []byte("echo hi\n"), 0644))
	notDir := filepath.Join(dir, "start.sh")

	tests := []struct {
		name      string
		spec      LaunchSpec
		errorType errors.ErrorType
	}{
		{"valid", LaunchSpec{Shell: "/bin/sh", Script: "start.sh", WorkingDirectory: dir}, ""},
		{"valid_with_env", LaunchSpec{Script: "start.sh", WorkingDirectory: dir, Environment: []string{"A=1"}}, ""},
		{"missing_script", LaunchSpec{WorkingDirectory: dir}, errors.ErrorTypeValidation},
		{"script_with_separator", LaunchSpec{Script: "../start.sh", WorkingDirectory: dir}, errors.ErrorTypeValidation},
		{"missing_working_directory", LaunchSpec{Script: "start.sh"}, errors.ErrorTypeValidation},
		{"relative_working_directory", LaunchSpec{Script: "start.sh", WorkingDirectory: "servers/a"}, errors.ErrorTypeValidation},
		{"absent_working_directory", LaunchSpec{Script: "start.sh", WorkingDirectory: filepath.Join(dir, "nope")}, errors.ErrorTypeNotFound},
		{"working_directory_is_file", LaunchSpec{Script: "start.sh", WorkingDirectory: notDir}, errors.ErrorTypeValidation},
		{"absent_script", LaunchSpec{Script: "run.sh", WorkingDirectory: dir}, errors.ErrorTypeNotFound},
		{"bad_env", LaunchSpec{Script: "start.sh", WorkingDirectory: dir, Environment: []string{"NOEQUALS"}}, errors.ErrorTypeValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateLaunchSpec(tt.spec)
			if tt.errorType == "" {
				assert.NoError(t, err)
			} else {
				assert.Equal(t, tt.errorType, errors.TypeOf(err))
			}
		})
	}
}

func TestValidatePID(t *testing.T) {
	tests := []struct {
		name      string
		pidStr    string
		expected  int
		shouldErr bool
	}{
		{"valid", "1234", 1234, false},
		{"empty", "", 0, true},
		{"not_a_number", "abc", 0, true},
		{"zero", "0", 0, true},
		{"negative", "-5", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pid, err := ValidatePID(tt.pidStr)
			if tt.shouldErr {
				assert.Error(t, err)
				assert.True(t, errors.IsValidationError(err))
			} else {
				assert.NoError(t, err)
				assert.Equal(t, tt.expected, pid)
			}
		})
	}
}

func TestParseSignal(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		shouldErr bool
	}{
		{"default", "", false},
		{"term", "SIGTERM", false},
		{"short_lower", "int", false},
		{"kill", "SIGKILL", false},
		{"unknown", "SIGWHATEVER", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSignal(tt.input)
			if tt.shouldErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
