package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/core-tools/hsu-limits/pkg/cgroup"
	"github.com/core-tools/hsu-limits/pkg/errors"
	"github.com/core-tools/hsu-limits/pkg/limits"
	"github.com/core-tools/hsu-limits/pkg/logging"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// MaxConfigFileSize guards against pointing the loader at something huge.
const MaxConfigFileSize = 1 << 20

const (
	DefaultSchedule    = "@every 30s"
	maxRemovalAttempts = 20
	maxRemovalDelay    = time.Second
)

// Config represents the top-level configuration file structure
type Config struct {
	Cgroup    CgroupConfig      `yaml:"cgroup"`
	Reconcile ReconcileConfig   `yaml:"reconcile"`
	Daemon    DaemonConfig      `yaml:"daemon"`
	Logging   logging.ZapConfig `yaml:"logging"`
	// Defaults is applied by callers that get no explicit limit.
	Defaults *limits.Limit `yaml:"defaults,omitempty"`
}

type CgroupConfig struct {
	Root         string        `yaml:"root,omitempty"`
	BasePath     string        `yaml:"base_path,omitempty"`
	GroupName    string        `yaml:"group_name,omitempty"`
	UID          *int          `yaml:"uid,omitempty"` // detected when unset
	SysBlockPath string        `yaml:"sys_block_path,omitempty"`
	ProcRoot     string        `yaml:"proc_root,omitempty"`
	Controllers  []string      `yaml:"controllers,omitempty"`
	Removal      RemovalConfig `yaml:"removal,omitempty"`
}

type RemovalConfig struct {
	Attempts     int           `yaml:"attempts,omitempty"`
	InitialDelay time.Duration `yaml:"initial_delay,omitempty"`
}

type ReconcileConfig struct {
	Schedule string `yaml:"schedule,omitempty"`
}

type DaemonConfig struct {
	// PIDDirectory holds the daemon PID file; /run or XDG_RUNTIME_DIR when empty.
	PIDDirectory string `yaml:"pid_directory,omitempty"`
}

// DefaultConfig is what an empty configuration file yields.
func DefaultConfig() *Config {
	config := &Config{}
	setConfigDefaults(config)
	return config
}

// LoadConfigFromFile loads configuration from a YAML file
func LoadConfigFromFile(filename string) (*Config, error) {
	info, err := os.Stat(filename)
	if err != nil {
		return nil, errors.NewIOError("failed to read configuration file", err).WithContext("filename", filename)
	}
	if info.Size() > MaxConfigFileSize {
		return nil, errors.NewConfigError("configuration file too large", nil).
			WithContext("filename", filename).
			WithContext("size", info.Size())
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.NewIOError("failed to read configuration file", err).WithContext("filename", filename)
	}

	return ParseConfig(data, filename)
}

// Load reads and validates filename. An empty filename yields the validated
// defaults, so the binaries run without a configuration file.
func Load(filename string) (*Config, error) {
	config := DefaultConfig()
	if filename != "" {
		loaded, err := LoadConfigFromFile(filename)
		if err != nil {
			return nil, err
		}
		config = loaded
	}

	if err := ValidateConfig(config); err != nil {
		return nil, errors.NewValidationError("configuration validation failed", err).WithContext("config_file", filename)
	}
	return config, nil
}

// ParseConfig decodes YAML and applies defaults. source only labels errors.
func ParseConfig(data []byte, source string) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, errors.NewConfigError("failed to parse YAML configuration", err).WithContext("filename", source)
	}

	setConfigDefaults(&config)
	return &config, nil
}

// setConfigDefaults applies default values to configuration
func setConfigDefaults(config *Config) {
	if config.Cgroup.Root == "" {
		config.Cgroup.Root = cgroup.DefaultRoot
	}
	if config.Cgroup.GroupName == "" {
		config.Cgroup.GroupName = cgroup.DefaultGroupName
	}
	if config.Cgroup.SysBlockPath == "" {
		config.Cgroup.SysBlockPath = cgroup.DefaultSysBlockPath
	}
	if len(config.Cgroup.Controllers) == 0 {
		config.Cgroup.Controllers = append([]string(nil), cgroup.DefaultControllers...)
	}
	if config.Cgroup.Removal.Attempts == 0 {
		config.Cgroup.Removal.Attempts = cgroup.DefaultRemovalAttempts
	}
	if config.Cgroup.Removal.InitialDelay == 0 {
		config.Cgroup.Removal.InitialDelay = cgroup.DefaultRemovalInitialDelay
	}

	if config.Reconcile.Schedule == "" {
		config.Reconcile.Schedule = DefaultSchedule
	}

	defaults := logging.DefaultZapConfig()
	if config.Logging.Level == "" {
		config.Logging.Level = defaults.Level
	}
	if config.Logging.Format == "" {
		config.Logging.Format = defaults.Format
	}
	if config.Logging.Output == "" {
		config.Logging.Output = defaults.Output
	}
}

// ValidateConfig validates the entire configuration structure
func ValidateConfig(config *Config) error {
	if config == nil {
		return errors.NewValidationError("configuration cannot be nil", nil)
	}

	if err := validateCgroupConfig(&config.Cgroup); err != nil {
		return errors.NewValidationError("invalid cgroup configuration", err)
	}

	if _, err := cron.ParseStandard(config.Reconcile.Schedule); err != nil {
		return errors.NewValidationError("invalid reconcile schedule", err).WithContext("schedule", config.Reconcile.Schedule)
	}

	if dir := config.Daemon.PIDDirectory; dir != "" && !filepath.IsAbs(dir) {
		return errors.NewValidationError("pid_directory must be an absolute path", nil).WithContext("pid_directory", dir)
	}

	if err := validateLoggingConfig(config.Logging); err != nil {
		return errors.NewValidationError("invalid logging configuration", err)
	}

	return nil
}

func validateCgroupConfig(config *CgroupConfig) error {
	for field, path := range map[string]string{
		"root":           config.Root,
		"base_path":      config.BasePath,
		"sys_block_path": config.SysBlockPath,
		"proc_root":      config.ProcRoot,
	} {
		if path != "" && !filepath.IsAbs(path) {
			return errors.NewValidationError(field+" must be an absolute path", nil).WithContext(field, path)
		}
	}

	if _, err := cgroup.SanitizeName(config.GroupName); err != nil {
		return err
	}
	if config.GroupName == cgroup.DrainGroupName || cgroup.IsManagedName(config.GroupName) {
		return errors.NewValidationError("group_name collides with a managed cgroup name", nil).
			WithContext("group_name", config.GroupName)
	}

	if config.UID != nil && *config.UID < 0 {
		return errors.NewValidationError("uid cannot be negative", nil)
	}

	for _, c := range config.Controllers {
		if _, err := cgroup.SanitizeName(c); err != nil {
			return errors.NewValidationError("invalid controller name: "+c, err)
		}
	}

	if config.Removal.Attempts < 1 || config.Removal.Attempts > maxRemovalAttempts {
		return errors.NewValidationError(
			fmt.Sprintf("removal attempts must be between 1 and %d", maxRemovalAttempts), nil).
			WithContext("attempts", config.Removal.Attempts)
	}
	if config.Removal.InitialDelay <= 0 || config.Removal.InitialDelay > maxRemovalDelay {
		return errors.NewValidationError("removal initial_delay must be positive and at most 1s", nil).
			WithContext("initial_delay", config.Removal.InitialDelay)
	}

	return nil
}

func validateLoggingConfig(config logging.ZapConfig) error {
	if _, err := logging.ParseLevel(config.Level); err != nil {
		return err
	}
	switch config.Format {
	case "console", "json":
	default:
		return errors.NewValidationError("unsupported log format: "+config.Format, nil)
	}
	switch config.Output {
	case "stdout", "stderr":
	default:
		return errors.NewValidationError("unsupported log output: "+config.Output, nil)
	}
	return nil
}

// ManagerOptions converts the cgroup section into manager options.
func (c *Config) ManagerOptions() cgroup.ManagerOptions {
	uid := -1
	if c.Cgroup.UID != nil {
		uid = *c.Cgroup.UID
	}
	return cgroup.ManagerOptions{
		Root:         c.Cgroup.Root,
		BasePath:     c.Cgroup.BasePath,
		GroupName:    c.Cgroup.GroupName,
		UID:          uid,
		SysBlockPath: c.Cgroup.SysBlockPath,
		ProcRoot:     c.Cgroup.ProcRoot,
		Controllers:  c.Cgroup.Controllers,
		Removal: cgroup.RemovalOptions{
			Attempts:     c.Cgroup.Removal.Attempts,
			InitialDelay: c.Cgroup.Removal.InitialDelay,
		},
	}
}

// DefaultLimit returns the configured default limit, or an empty one.
func (c *Config) DefaultLimit() limits.Limit {
	if c.Defaults == nil {
		return limits.Limit{}
	}
	return *c.Defaults
}
