package process

import (
	"os"
	"os/exec"
	"time"

	"github.com/core-tools/hsu-limits/pkg/errors"
	"github.com/core-tools/hsu-limits/pkg/logging"
)

type ExecutionConfig struct {
	ExecutablePath   string        `yaml:"executable_path"`
	Args             []string      `yaml:"args,omitempty"`
	Environment      []string      `yaml:"environment,omitempty"`
	WorkingDirectory string        `yaml:"working_directory,omitempty"`
	WaitDelay        time.Duration `yaml:"wait_delay,omitempty"`
	// NewProcessGroup detaches the child from the terminal's foreground
	// group so SendTerminationSignal reaches its whole tree.
	NewProcessGroup bool `yaml:"new_process_group,omitempty"`
}

// Spawn starts the command with inherited stdio.
// The caller owns the returned command and must Wait on it.
func Spawn(execution ExecutionConfig, logger logging.Logger) (*exec.Cmd, error) {
	logger = logging.OrNop(logger)

	if err := ValidateExecutionConfig(execution); err != nil {
		logger.Errorf("Execution configuration validation failed, error: %v", err)
		return nil, err
	}

	cmd := exec.Command(execution.ExecutablePath, execution.Args...)
	cmd.Dir = execution.WorkingDirectory
	cmd.Env = append(os.Environ(), execution.Environment...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.WaitDelay = execution.WaitDelay

	setupProcessAttributes(cmd, execution.NewProcessGroup)

	logger.Debugf("Executing process: executable path: '%s', args: %v, working directory: '%s'",
		execution.ExecutablePath, execution.Args, execution.WorkingDirectory)

	if err := cmd.Start(); err != nil {
		return nil, errors.NewProcessError("failed to start the process", err).WithContext("executable_path", execution.ExecutablePath)
	}

	logger.Infof("Successfully executed process, PID: %d", cmd.Process.Pid)
	return cmd, nil
}
