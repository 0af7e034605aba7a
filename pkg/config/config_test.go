package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/core-tools/hsu-limits/pkg/cgroup"
	"github.com/core-tools/hsu-limits/pkg/errors"
	"github.com/core-tools/hsu-limits/pkg/limits"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rlm.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfigFromFile(t *testing.T) {
	tests := []struct {
		name        string
		configYAML  string
		expectError bool
		validate    func(*testing.T, *Config)
	}{
		{
			name: "valid comprehensive config",
			configYAML: `
cgroup:
  root: /sys/fs/cgroup
  group_name: limits
  uid: 1000
  controllers: [memory, cpu]
  removal:
    attempts: 3
    initial_delay: 10ms
reconcile:
  schedule: "@every 1m"
logging:
  level: debug
  format: json
  output: stdout
defaults:
  memory: 512M
  cpu: 50%
  io:
    write: 5M
`,
			validate: func(t *testing.T, config *Config) {
				assert.Equal(t, "limits", config.Cgroup.GroupName)
				require.NotNil(t, config.Cgroup.UID)
				assert.Equal(t, 1000, *config.Cgroup.UID)
				assert.Equal(t, []string{"memory", "cpu"}, config.Cgroup.Controllers)
				assert.Equal(t, 3, config.Cgroup.Removal.Attempts)
				assert.Equal(t, 10*time.Millisecond, config.Cgroup.Removal.InitialDelay)
				assert.Equal(t, "@every 1m", config.Reconcile.Schedule)
				assert.Equal(t, "json", config.Logging.Format)

				limit := config.DefaultLimit()
				require.NotNil(t, limit.Memory)
				assert.Equal(t, 512*limits.MiB, limit.Memory.Bytes())
				assert.Equal(t, uint32(50), limit.CPU.Percent())
				assert.Nil(t, limit.IO.ReadBPS)
				assert.Equal(t, 5*limits.MiB, *limit.IO.WriteBPS)

				assert.NoError(t, ValidateConfig(config))
			},
		},
		{
			name:       "empty config gets defaults",
			configYAML: "",
			validate: func(t *testing.T, config *Config) {
				assert.Equal(t, cgroup.DefaultRoot, config.Cgroup.Root)
				assert.Equal(t, cgroup.DefaultGroupName, config.Cgroup.GroupName)
				assert.Equal(t, cgroup.DefaultControllers, config.Cgroup.Controllers)
				assert.Equal(t, cgroup.DefaultRemovalAttempts, config.Cgroup.Removal.Attempts)
				assert.Equal(t, cgroup.DefaultRemovalInitialDelay, config.Cgroup.Removal.InitialDelay)
				assert.Equal(t, DefaultSchedule, config.Reconcile.Schedule)
				assert.Equal(t, "info", config.Logging.Level)
				assert.Nil(t, config.Cgroup.UID)
				assert.True(t, config.DefaultLimit().IsEmpty())
				assert.NoError(t, ValidateConfig(config))
			},
		},
		{
			name:        "malformed yaml",
			configYAML:  "cgroup: [unclosed",
			expectError: true,
		},
		{
			name: "malformed default limit",
			configYAML: `
defaults:
  memory: lots
`,
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config, err := LoadConfigFromFile(writeConfig(t, tt.configYAML))
			if tt.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.validate(t, config)
		})
	}
}

func TestLoadConfigFromFile_Errors(t *testing.T) {
	_, err := LoadConfigFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.True(t, errors.IsIOError(err))

	big := writeConfig(t, "# "+strings.Repeat("x", MaxConfigFileSize)+"\n")
	_, err = LoadConfigFromFile(big)
	assert.True(t, errors.IsConfigError(err))
}

func TestValidateConfig(t *testing.T) {
	negative := -1

	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"relative root", func(c *Config) { c.Cgroup.Root = "sys/fs/cgroup" }},
		{"relative base path", func(c *Config) { c.Cgroup.BasePath = "rlm" }},
		{"traversing group name", func(c *Config) { c.Cgroup.GroupName = "../rlm" }},
		{"managed group name", func(c *Config) { c.Cgroup.GroupName = "pid-1" }},
		{"drain group name", func(c *Config) { c.Cgroup.GroupName = cgroup.DrainGroupName }},
		{"negative uid", func(c *Config) { c.Cgroup.UID = &negative }},
		{"bad controller", func(c *Config) { c.Cgroup.Controllers = []string{"memory", "cpu io"} }},
		{"too many attempts", func(c *Config) { c.Cgroup.Removal.Attempts = 100 }},
		{"negative attempts", func(c *Config) { c.Cgroup.Removal.Attempts = -1 }},
		{"long delay", func(c *Config) { c.Cgroup.Removal.InitialDelay = time.Minute }},
		{"bad schedule", func(c *Config) { c.Reconcile.Schedule = "sometimes" }},
		{"relative pid directory", func(c *Config) { c.Daemon.PIDDirectory = "run" }},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }},
		{"bad output", func(c *Config) { c.Logging.Output = "/dev/null" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.modify(config)
			err := ValidateConfig(config)
			require.Error(t, err)
			assert.True(t, errors.IsValidationError(err))
		})
	}

	assert.Error(t, ValidateConfig(nil))
}

func TestConfig_ManagerOptions(t *testing.T) {
	config := DefaultConfig()
	opts := config.ManagerOptions()
	assert.Equal(t, -1, opts.UID)
	assert.Equal(t, cgroup.DefaultRoot, opts.Root)
	assert.Equal(t, cgroup.DefaultRemovalAttempts, opts.Removal.Attempts)

	uid := 1000
	config.Cgroup.UID = &uid
	config.Cgroup.BasePath = "/sys/fs/cgroup/custom"
	opts = config.ManagerOptions()
	assert.Equal(t, 1000, opts.UID)
	assert.Equal(t, "/sys/fs/cgroup/custom", opts.BasePath)
}

func TestLoad(t *testing.T) {
	config, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultSchedule, config.Reconcile.Schedule)

	config, err = Load(writeConfig(t, "reconcile:\n  schedule: \"@every 1m\"\n"))
	require.NoError(t, err)
	assert.Equal(t, "@every 1m", config.Reconcile.Schedule)

	_, err = Load(writeConfig(t, "cgroup:\n  removal:\n    attempts: 50\n"))
	require.Error(t, err)
	assert.True(t, errors.IsValidationError(err))

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.True(t, errors.IsIOError(err))
}
