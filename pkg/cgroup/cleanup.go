package cgroup

import (
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/core-tools/hsu-limits/pkg/errors"

	"golang.org/x/sys/unix"
)

// evacuationStrategy empties a cgroup of its members. Strategies are tried
// in order until one succeeds.
type evacuationStrategy struct {
	name     string
	evacuate func(m *Manager, path string) error
}

var evacuationStrategies = []evacuationStrategy{
	{name: "kill", evacuate: (*Manager).killMembers},
	{name: "drain", evacuate: (*Manager).drainMembers},
	{name: "reset", evacuate: (*Manager).resetLimits},
}

var errKillUnsupported = stderrors.New("cgroup.kill not supported")

// CleanupCgroup evacuates and removes the named cgroup. It is best-effort:
// a missing cgroup is success, and a cgroup that stays busy after every
// removal attempt is logged, not returned.
func (m *Manager) CleanupCgroup(name string) error {
	path, err := m.GroupPath(name)
	if err != nil {
		return err
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.NewIOError("failed to stat cgroup", err).WithContext("path", path)
	}

	m.evacuate(path)
	m.removeWithRetry(path)
	return nil
}

func (m *Manager) evacuate(path string) {
	failures := errors.NewErrorCollection()
	for _, strategy := range evacuationStrategies {
		err := strategy.evacuate(m, path)
		if err == nil {
			m.logger.Debugf("Evacuated cgroup, path: %s, strategy: %s", path, strategy.name)
			return
		}
		failures.Add(fmt.Errorf("%s: %w", strategy.name, err))
	}
	m.logger.Debugf("Could not evacuate cgroup, path: %s, errors: %v", path, failures.Errors)
}

// killMembers uses the kernel's atomic kill-all file.
func (m *Manager) killMembers(path string) error {
	file := filepath.Join(path, killFile)
	if !fileExists(file) {
		return errKillUnsupported
	}
	return writeFile(file, "1")
}

// drainMembers moves every member into the controller-free drain sibling,
// where it keeps running unconstrained.
func (m *Manager) drainMembers(path string) error {
	members, err := ReadMembers(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if len(members) == 0 {
		return nil
	}

	drain := filepath.Join(m.basePath, DrainGroupName)
	if err := mkdirIfMissing(drain); err != nil {
		return err
	}

	failures := errors.NewErrorCollection()
	for _, pid := range members {
		if err := appendFile(filepath.Join(drain, procsFile), strconv.Itoa(pid)+"\n"); err != nil {
			if stderrors.Is(err, unix.ESRCH) {
				// exited on its own
				continue
			}
			failures.Add(fmt.Errorf("move pid %d: %w", pid, err))
		}
	}
	return failures.ToError()
}

// resetLimits lifts the ceilings in place when members cannot leave.
func (m *Manager) resetLimits(path string) error {
	failures := errors.NewErrorCollection()
	failures.Add(m.resetMemory(path))
	failures.Add(m.resetCPU(path))
	failures.Add(m.resetIO(path))
	return failures.ToError()
}

// removeWithRetry retries rmdir while the kernel still reports the cgroup
// busy, doubling the delay between attempts.
func (m *Manager) removeWithRetry(path string) {
	delay := m.removal.InitialDelay
	for attempt := 1; ; attempt++ {
		err := m.rmdir(path)
		switch {
		case err == nil:
			m.logger.Infof("Removed cgroup, path: %s", path)
			return
		case stderrors.Is(err, unix.ENOENT):
			return
		case !stderrors.Is(err, unix.EBUSY):
			m.logger.Warnf("Failed to remove cgroup, path: %s, error: %v", path, err)
			return
		case attempt >= m.removal.Attempts:
			m.logger.Warnf("Failed to remove cgroup after %d attempts, path: %s, error: %v", attempt, path, err)
			return
		}

		m.logger.Debugf("Cgroup busy, retrying removal, path: %s, attempt: %d, delay: %v", path, attempt, delay)
		m.sleep(delay)
		delay *= 2
	}
}
