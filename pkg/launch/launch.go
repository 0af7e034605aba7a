package launch

import (
	"context"
	stderrors "errors"
	"fmt"
	"os/exec"
	"syscall"

	"github.com/core-tools/hsu-limits/pkg/cgroup"
	"github.com/core-tools/hsu-limits/pkg/errors"
	"github.com/core-tools/hsu-limits/pkg/limits"
	"github.com/core-tools/hsu-limits/pkg/logging"
	"github.com/core-tools/hsu-limits/pkg/process"
)

// RunName is the cgroup of a child launched by process creatorPID.
func RunName(creatorPID int) string {
	return fmt.Sprintf("%s%d", cgroup.RunGroupPrefix, creatorPID)
}

// InteractiveName is the cgroup of the counter-th child launched by an
// interactive front end.
func InteractiveName(creatorPID, counter int) string {
	return fmt.Sprintf("%s%d-%d", cgroup.InteractiveGroupPrefix, creatorPID, counter)
}

type RunOptions struct {
	// Name is the cgroup to prepare, usually RunName(os.Getpid()).
	Name      string
	Limit     limits.Limit
	Execution process.ExecutionConfig
}

// Launcher starts children inside freshly prepared cgroups.
type Launcher struct {
	manager *cgroup.Manager
	logger  logging.Logger
}

func NewLauncher(manager *cgroup.Manager, logger logging.Logger) *Launcher {
	return &Launcher{
		manager: manager,
		logger:  logging.OrNop(logger),
	}
}

// Run prepares the cgroup before the child exists, starts the child, moves
// it in and waits for it. Cancelling ctx sends SIGTERM exactly once and
// keeps waiting. The cgroup is always cleaned up. The returned code is
// the child's exit status, or 128+signal when it was killed.
func (l *Launcher) Run(ctx context.Context, opts RunOptions) (int, error) {
	path, err := l.manager.PrepareCgroup(opts.Name, opts.Limit)
	if err != nil {
		return -1, err
	}
	defer func() {
		if err := l.manager.CleanupCgroup(opts.Name); err != nil {
			l.logger.Warnf("Failed to clean up cgroup, name: %s, error: %v", opts.Name, err)
		}
	}()

	cmd, err := process.Spawn(opts.Execution, l.logger)
	if err != nil {
		return -1, err
	}
	pid := cmd.Process.Pid

	if err := l.manager.AddToCgroup(path, pid); err != nil {
		// the child keeps running, just unconstrained
		l.logger.Warnf("Failed to apply limits, pid: %d, error: %v", pid, err)
	} else {
		l.logger.Infof("Running under limits, pid: %d, cgroup: %s, limits: %s", pid, opts.Name, opts.Limit)
	}

	exited := make(chan error, 1)
	go func() {
		exited <- cmd.Wait()
	}()

	done := ctx.Done()
	for {
		select {
		case err := <-exited:
			return exitCode(cmd, err)
		case <-done:
			l.logger.Infof("Forwarding termination, pid: %d", pid)
			if err := process.SendTerminationSignal(pid); err != nil {
				l.logger.Debugf("Failed to signal child, pid: %d, error: %v", pid, err)
			}
			// once
			done = nil
		}
	}
}

func exitCode(cmd *exec.Cmd, waitErr error) (int, error) {
	state := cmd.ProcessState
	if state == nil {
		return -1, errors.NewProcessError("failed to wait for process", waitErr)
	}
	if status, ok := state.Sys().(syscall.WaitStatus); ok && status.Signaled() {
		return 128 + int(status.Signal()), nil
	}
	var exitErr *exec.ExitError
	if waitErr != nil && !stderrors.As(waitErr, &exitErr) {
		return state.ExitCode(), errors.NewProcessError("failed to wait for process", waitErr)
	}
	return state.ExitCode(), nil
}
