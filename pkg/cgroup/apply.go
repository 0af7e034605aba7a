package cgroup

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/core-tools/hsu-limits/pkg/errors"
	"github.com/core-tools/hsu-limits/pkg/limits"
)

// PrepareCgroup creates the named cgroup and writes limit before any
// process joins it, so a launched child never runs unconstrained.
func (m *Manager) PrepareCgroup(name string, limit limits.Limit) (string, error) {
	path, err := m.GroupPath(name)
	if err != nil {
		return "", err
	}

	if err := m.ensureBasePath(); err != nil {
		return "", err
	}

	if err := mkdirIfMissing(path); err != nil {
		return "", err
	}

	if err := m.writeLimits(path, limit, false); err != nil {
		return "", err
	}

	m.logger.Debugf("Prepared cgroup, path: %s, limits: %s", path, limit)
	return path, nil
}

// AddToCgroup moves pid into the cgroup at path. The kernel validates the
// PID and rejects processes that do not exist.
func (m *Manager) AddToCgroup(path string, pid int) error {
	procs := filepath.Join(path, procsFile)
	if err := appendFile(procs, strconv.Itoa(pid)+"\n"); err != nil {
		if os.IsPermission(err) {
			return errors.NewPermissionError(procs, err)
		}
		return errors.NewCgroupError(fmt.Sprintf("add process %d", pid), err).WithContext("path", path)
	}

	m.logger.Infof("Added process to cgroup, pid: %d, path: %s", pid, path)
	return nil
}

// ApplyLimit puts pid under limit in its canonical pid-<pid> cgroup.
// Reapplying to a process already in that cgroup rewrites the limit files
// in place; resources absent from limit are reset to unlimited. A process
// sitting in another pid-* cgroup, such as a child forked after its parent
// was limited, is moved. A process in a launch-created or foreign cgroup
// below the base path is a conflict.
func (m *Manager) ApplyLimit(pid int, limit limits.Limit) error {
	if pid <= 0 {
		return errors.NewValidationError("pid must be positive", nil).WithContext("pid", pid)
	}
	name := PIDGroupName(pid)

	owner, found, err := m.findOwner(pid)
	if err != nil {
		return err
	}

	switch {
	case !found:
	case owner.Name == name:
		if err := m.writeLimits(owner.Path, limit, true); err != nil {
			return err
		}
		m.logger.Infof("Updated limits, pid: %d, path: %s, limits: %s", pid, owner.Path, limit)
		return nil
	case owner.Kind == KindPIDDirect:
		m.logger.Debugf("Moving process out of another limited cgroup, pid: %d, from: %s", pid, owner.Name)
	default:
		return errors.NewConflictError(
			fmt.Sprintf("process %d is already managed by cgroup '%s'", pid, owner.Name), nil).
			WithContext("pid", pid).
			WithContext("owner", owner.Name).
			WithHint("stop the launched process, or limit it through the command that launched it")
	}

	path, err := m.PrepareCgroup(name, limit)
	if err != nil {
		return err
	}

	if err := m.AddToCgroup(path, pid); err != nil {
		if cleanupErr := m.CleanupCgroup(name); cleanupErr != nil {
			m.logger.Warnf("Failed to clean up cgroup after failed add, name: %s, error: %v", name, cleanupErr)
		}
		if !m.proc.Exists(pid) {
			return errors.NewProcessNotFoundError(pid)
		}
		return err
	}

	m.logger.Infof("Applied limits, pid: %d, path: %s, limits: %s", pid, path, limit)
	return nil
}

// RemoveLimit releases pid from its canonical cgroup. The process keeps
// running unless the kernel kill file is available.
func (m *Manager) RemoveLimit(pid int) error {
	if pid <= 0 {
		return errors.NewValidationError("pid must be positive", nil).WithContext("pid", pid)
	}
	return m.CleanupCgroup(PIDGroupName(pid))
}

// findOwner returns the child cgroup listing pid.
func (m *Manager) findOwner(pid int) (Group, bool, error) {
	groups, err := m.ListGroups()
	if err != nil {
		return Group{}, false, err
	}
	for _, group := range groups {
		members, err := ReadMembers(group.Path)
		if err != nil {
			// vanished or unreadable: cannot claim the process
			continue
		}
		for _, member := range members {
			if member == pid {
				return group, true, nil
			}
		}
	}
	return Group{}, false, nil
}

func (m *Manager) ensureBasePath() error {
	if err := os.MkdirAll(m.basePath, 0o755); err != nil {
		if os.IsPermission(err) {
			return errors.NewPermissionError(m.basePath, err)
		}
		if !os.IsExist(err) {
			return errors.NewCgroupError("create base path", err).WithContext("path", m.basePath)
		}
	}
	return m.enableControllers()
}

// enableControllers enables every desired controller the root advertises.
// Missing controllers are skipped: partial delegation is common.
func (m *Manager) enableControllers() error {
	available, err := m.AvailableControllers()
	if err != nil {
		return err
	}
	advertised := make(map[string]bool, len(available))
	for _, c := range available {
		advertised[c] = true
	}

	var tokens []string
	for _, c := range m.controllers {
		if advertised[c] {
			tokens = append(tokens, "+"+c)
		} else {
			m.logger.Debugf("Controller not available, skipping, controller: %s", c)
		}
	}
	if len(tokens) == 0 {
		return errors.NewCgroupError("enable controllers", nil).
			WithContext("available", available).
			WithHint(errors.HintDelegation)
	}

	path := filepath.Join(m.basePath, subtreeControlFile)
	if err := writeFile(path, strings.Join(tokens, " ")); err != nil {
		return errors.NewCgroupError("enable controllers", err).
			WithContext("path", path).
			WithHint(errors.HintDelegation)
	}
	return nil
}

func mkdirIfMissing(path string) error {
	err := os.Mkdir(path, 0o755)
	switch {
	case err == nil, os.IsExist(err):
		return nil
	case os.IsPermission(err):
		return errors.NewPermissionError(path, err)
	default:
		return errors.NewCgroupError("create cgroup", err).WithContext("path", path)
	}
}

// writeLimits writes each present resource. With resetAbsent, resources
// the limit leaves out are set back to unlimited when their file exists.
func (m *Manager) writeLimits(path string, limit limits.Limit, resetAbsent bool) error {
	switch {
	case limit.Memory != nil:
		file := filepath.Join(path, memoryMaxFile)
		if err := writeFile(file, strconv.FormatUint(limit.Memory.Bytes(), 10)); err != nil {
			return writeError("set memory.max", file, err)
		}
	case resetAbsent:
		if err := m.resetMemory(path); err != nil {
			return err
		}
	}

	switch {
	case limit.CPU != nil:
		value, err := formatCPUMax(*limit.CPU)
		if err != nil {
			return err
		}
		file := filepath.Join(path, cpuMaxFile)
		if err := writeFile(file, value); err != nil {
			return writeError("set cpu.max", file, err)
		}
	case resetAbsent:
		if err := m.resetCPU(path); err != nil {
			return err
		}
	}

	switch {
	case limit.IO != nil && !limit.IO.IsEmpty():
		if err := m.writeIO(path, *limit.IO); err != nil {
			return err
		}
	case resetAbsent:
		if err := m.resetIO(path); err != nil {
			return err
		}
	}

	return nil
}

func (m *Manager) writeIO(path string, io limits.IOLimit) error {
	devices, err := BlockDevices(m.sysBlock)
	if err != nil {
		return errors.NewIOError("failed to list block devices", err).WithContext("path", m.sysBlock)
	}
	if len(devices) == 0 {
		m.logger.Debugf("No block devices found for I/O limiting, path: %s", path)
		return nil
	}

	var read, write string
	if io.ReadBPS != nil {
		read = strconv.FormatUint(*io.ReadBPS, 10)
	}
	if io.WriteBPS != nil {
		write = strconv.FormatUint(*io.WriteBPS, 10)
	}

	file := filepath.Join(path, ioMaxFile)
	if err := writeFile(file, formatIOMax(devices, read, write)); err != nil {
		return writeError("set io.max", file, err)
	}
	return nil
}

func (m *Manager) resetMemory(path string) error {
	file := filepath.Join(path, memoryMaxFile)
	if !fileExists(file) {
		return nil
	}
	if err := writeFile(file, Unlimited); err != nil {
		return writeError("reset memory.max", file, err)
	}
	return nil
}

func (m *Manager) resetCPU(path string) error {
	file := filepath.Join(path, cpuMaxFile)
	if !fileExists(file) {
		return nil
	}
	if err := writeFile(file, fmt.Sprintf("%s %d", Unlimited, CPUPeriod)); err != nil {
		return writeError("reset cpu.max", file, err)
	}
	return nil
}

func (m *Manager) resetIO(path string) error {
	file := filepath.Join(path, ioMaxFile)
	if !fileExists(file) {
		return nil
	}
	devices, err := BlockDevices(m.sysBlock)
	if err != nil || len(devices) == 0 {
		return nil
	}
	if err := writeFile(file, formatIOMax(devices, Unlimited, Unlimited)); err != nil {
		return writeError("reset io.max", file, err)
	}
	return nil
}
