package processfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/core-tools/hsu-limits/pkg/errors"
	"github.com/core-tools/hsu-limits/pkg/logging"
	"github.com/core-tools/hsu-limits/pkg/processstate"
)

// Default application name for hsu-limits
const DefaultAppName = "hsu-limits"

// ProcessFileConfig holds configuration for PID file placement
type ProcessFileConfig struct {
	// Base directory for PID files. If empty, uses the service context default
	BaseDirectory string

	// Service context - affects directory selection
	ServiceContext ServiceContext

	// Application name for subdirectory creation
	AppName string

	// Create subdirectory for the app
	UseSubdirectory bool
}

// ServiceContext defines the context in which the service runs
type ServiceContext string

const (
	// SystemService runs as root, PID files go to /run
	SystemService ServiceContext = "system"

	// UserService runs as a delegated user, PID files go to XDG_RUNTIME_DIR
	UserService ServiceContext = "user"
)

// DefaultServiceContext picks SystemService for root and UserService otherwise.
func DefaultServiceContext() ServiceContext {
	if os.Geteuid() == 0 {
		return SystemService
	}
	return UserService
}

// ProcessFileManager places and guards PID files.
type ProcessFileManager struct {
	config ProcessFileConfig
	logger logging.Logger
}

// NewProcessFileManager creates a new process file manager with the given configuration
func NewProcessFileManager(config ProcessFileConfig, logger logging.Logger) *ProcessFileManager {
	if config.AppName == "" {
		config.AppName = DefaultAppName
	}
	if config.ServiceContext == "" {
		config.ServiceContext = DefaultServiceContext()
	}

	return &ProcessFileManager{
		config: config,
		logger: logging.OrNop(logger),
	}
}

// GeneratePIDFilePath generates the PID file path for the named service
func (m *ProcessFileManager) GeneratePIDFilePath(name string) string {
	baseDir := m.getBaseDirectory()
	if m.config.UseSubdirectory {
		baseDir = filepath.Join(baseDir, m.config.AppName)
	}
	return filepath.Join(baseDir, name+".pid")
}

// AcquirePIDFile writes pid to the named PID file unless another live
// process already holds it. A stale file is overwritten.
func (m *ProcessFileManager) AcquirePIDFile(name string, pid int) (string, error) {
	pidFilePath := m.GeneratePIDFilePath(name)
	m.logger.Debugf("Acquiring PID file, name: %s, pid: %d, path: %s", name, pid, pidFilePath)

	if err := ValidatePIDFileDirectory(pidFilePath); err != nil {
		return "", err
	}

	if holder, err := ReadPIDFile(pidFilePath); err == nil && holder != pid {
		if running, _ := processstate.IsProcessRunning(holder); running {
			return "", errors.NewConflictError("another instance is already running", nil).
				WithContext("pid_file", pidFilePath).
				WithContext("pid", holder)
		}
		m.logger.Infof("Replacing stale PID file, path: %s, stale pid: %d", pidFilePath, holder)
	}

	pidContent := fmt.Sprintf("%d\n", pid)
	if err := os.WriteFile(pidFilePath, []byte(pidContent), 0o644); err != nil {
		return "", errors.NewIOError("failed to write PID file", err).WithContext("pid_file", pidFilePath).WithContext("pid", pid)
	}

	m.logger.Infof("PID file written, name: %s, pid: %d, path: %s", name, pid, pidFilePath)
	return pidFilePath, nil
}

// ReleasePIDFile removes the named PID file if it still holds pid.
func (m *ProcessFileManager) ReleasePIDFile(name string, pid int) error {
	pidFilePath := m.GeneratePIDFilePath(name)

	holder, err := ReadPIDFile(pidFilePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if holder != pid {
		m.logger.Warnf("PID file taken over, leaving it, path: %s, holder: %d", pidFilePath, holder)
		return nil
	}

	if err := os.Remove(pidFilePath); err != nil && !os.IsNotExist(err) {
		return errors.NewIOError("failed to remove PID file", err).WithContext("pid_file", pidFilePath)
	}
	return nil
}

// ReadPIDFile reads a PID file. Missing files return the os error unchanged.
func ReadPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, errors.NewValidationError("invalid PID file content", err).WithContext("pid_file", path)
	}
	return pid, nil
}

func (m *ProcessFileManager) getBaseDirectory() string {
	if m.config.BaseDirectory != "" {
		return m.config.BaseDirectory
	}

	switch m.config.ServiceContext {
	case UserService:
		if runtimeDir := os.Getenv("XDG_RUNTIME_DIR"); runtimeDir != "" {
			return runtimeDir
		}
		sessionDir := fmt.Sprintf("/run/user/%d", os.Getuid())
		if _, err := os.Stat(sessionDir); err == nil {
			return sessionDir
		}
		return os.TempDir()
	default:
		// Modern standard is /run, with fallback to /var/run
		if _, err := os.Stat("/run"); err == nil {
			return "/run"
		}
		return "/var/run"
	}
}

// ValidatePIDFileDirectory creates the PID file directory when missing and
// checks that it is writable.
func ValidatePIDFileDirectory(pidFilePath string) error {
	dir := filepath.Dir(pidFilePath)

	info, err := os.Stat(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			return errors.NewIOError("failed to access PID file directory", err).WithContext("directory", dir)
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.NewPermissionError(dir, err)
		}
	} else if !info.IsDir() {
		return errors.NewValidationError("PID file path is not a directory", nil).WithContext("path", dir)
	}

	testFile := filepath.Join(dir, ".write_test")
	file, err := os.Create(testFile)
	if err != nil {
		return errors.NewPermissionError(dir, err)
	}
	file.Close()
	os.Remove(testFile)

	return nil
}
