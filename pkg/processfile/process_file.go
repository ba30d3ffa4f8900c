package processfile

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/core-tools/hsu-panel/pkg/errors"
	"github.com/core-tools/hsu-panel/pkg/logging"
	"github.com/core-tools/hsu-panel/pkg/process"
)

const DefaultAppName = "hsu-panel"

// ProcessFileConfig controls where run records (PID files) are kept
type ProcessFileConfig struct {
	// Base directory for PID files. If empty, uses OS-appropriate default
	BaseDirectory string `yaml:"base_directory,omitempty"`

	ServiceContext ServiceContext `yaml:"service_context,omitempty"`

	AppName string `yaml:"app_name,omitempty"`

	UseSubdirectory bool `yaml:"use_subdirectory,omitempty"`
}

type ServiceContext string

const (
	SystemService  ServiceContext = "system"
	UserService    ServiceContext = "user"
	SessionService ServiceContext = "session"
)

// RunRecord identifies the child the panel was running when it wrote the file
type RunRecord struct {
	PID      int
	Instance string
}

type ProcessFileManager struct {
	config ProcessFileConfig
	logger logging.Logger
}

func NewProcessFileManager(config ProcessFileConfig, logger logging.Logger) *ProcessFileManager {
	if config.AppName == "" {
		config.AppName = DefaultAppName
	}

	if config.ServiceContext == "" {
		config.ServiceContext = UserService
	}

	return &ProcessFileManager{
		config: config,
		logger: logger,
	}
}

// GeneratePIDFilePath returns the PID file path for id
func (m *ProcessFileManager) GeneratePIDFilePath(id string) string {
	baseDir := m.getBaseDirectory()

	if m.config.UseSubdirectory {
		baseDir = filepath.Join(baseDir, m.config.AppName)
	}

	return filepath.Join(baseDir, id+".pid")
}

// WriteRunRecord writes "<pid>\n<instance>\n" to the PID file for id
func (m *ProcessFileManager) WriteRunRecord(id string, record RunRecord) error {
	pidFilePath := m.GeneratePIDFilePath(id)
	m.logger.Debugf("Writing PID file, id: %s, pid: %d, instance: %s, path: %s", id, record.PID, record.Instance, pidFilePath)

	if err := ValidatePIDFileDirectory(pidFilePath); err != nil {
		m.logger.Errorf("PID file directory validation failed, id: %s, path: %s, error: %v", id, pidFilePath, err)
		return errors.NewIOError("PID file directory validation failed", err).WithContext("pid_file", pidFilePath)
	}

	content := fmt.Sprintf("%d\n%s\n", record.PID, record.Instance)
	if err := os.WriteFile(pidFilePath, []byte(content), 0644); err != nil {
		m.logger.Errorf("Failed to write PID file, id: %s, path: %s, error: %v", id, pidFilePath, err)
		return errors.NewIOError("failed to write PID file", err).WithContext("pid_file", pidFilePath).WithContext("pid", record.PID)
	}

	m.logger.Infof("PID file written, id: %s, pid: %d, path: %s", id, record.PID, pidFilePath)
	return nil
}

// ReadRunRecord reads the PID file for id. A missing file is NotFound.
func (m *ProcessFileManager) ReadRunRecord(id string) (RunRecord, error) {
	pidFilePath := m.GeneratePIDFilePath(id)

	content, err := os.ReadFile(pidFilePath)
	if err != nil {
		if os.IsNotExist(err) {
			return RunRecord{}, errors.NewNotFoundError("no PID file", err).WithContext("pid_file", pidFilePath)
		}
		return RunRecord{}, errors.NewIOError("failed to read PID file", err).WithContext("pid_file", pidFilePath)
	}

	lines := strings.Split(strings.TrimSpace(string(content)), "\n")
	pid, err := process.ValidatePID(strings.TrimSpace(lines[0]))
	if err != nil {
		return RunRecord{}, errors.NewValidationError("invalid PID file content", err).WithContext("pid_file", pidFilePath)
	}

	record := RunRecord{PID: pid}
	if len(lines) > 1 {
		record.Instance = strings.TrimSpace(lines[1])
	}
	return record, nil
}

// RemovePIDFile deletes the PID file for id. A missing file is not an error.
func (m *ProcessFileManager) RemovePIDFile(id string) error {
	pidFilePath := m.GeneratePIDFilePath(id)
	if err := os.Remove(pidFilePath); err != nil && !os.IsNotExist(err) {
		m.logger.Warnf("Failed to remove PID file, id: %s, path: %s, error: %v", id, pidFilePath, err)
		return errors.NewIOError("failed to remove PID file", err).WithContext("pid_file", pidFilePath)
	}
	return nil
}

func (m *ProcessFileManager) getBaseDirectory() string {
	if m.config.BaseDirectory != "" {
		return m.config.BaseDirectory
	}

	switch m.config.ServiceContext {
	case SystemService:
		return systemServiceDirectory()
	case SessionService:
		return os.TempDir()
	default:
		return userServiceDirectory()
	}
}

func systemServiceDirectory() string {
	switch runtime.GOOS {
	case "windows":
		if programData := os.Getenv("PROGRAMDATA"); programData != "" {
			return programData
		}
		return "C:\\ProgramData"
	case "darwin":
		return "/var/run"
	default:
		if _, err := os.Stat("/run"); err == nil {
			return "/run"
		}
		return "/var/run"
	}
}

func userServiceDirectory() string {
	switch runtime.GOOS {
	case "windows":
		if localAppData := os.Getenv("LOCALAPPDATA"); localAppData != "" {
			return localAppData
		}
		return os.TempDir()
	case "darwin":
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "/tmp"
		}
		return filepath.Join(homeDir, "Library", "Application Support")
	default:
		if runtimeDir := os.Getenv("XDG_RUNTIME_DIR"); runtimeDir != "" {
			return runtimeDir
		}
		return "/tmp"
	}
}

// ValidatePIDFileDirectory creates the PID file directory if needed and
// checks it is writable
func ValidatePIDFileDirectory(pidFilePath string) error {
	dir := filepath.Dir(pidFilePath)

	info, err := os.Stat(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			return errors.NewIOError("failed to access PID file directory", err).WithContext("directory", dir)
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.NewIOError("failed to create PID file directory", err).WithContext("directory", dir)
		}
	} else if !info.IsDir() {
		return errors.NewValidationError("PID file path is not a directory", nil).WithContext("path", dir)
	}

	testFile := filepath.Join(dir, ".write_test")
	file, err := os.Create(testFile)
	if err != nil {
		return errors.NewIOError("PID file directory is not writable", err).WithContext("directory", dir)
	}
	file.Close()
	os.Remove(testFile)

	return nil
}
