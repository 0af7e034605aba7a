package cgroup

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/core-tools/hsu-limits/pkg/errors"
	"github.com/core-tools/hsu-limits/pkg/limits"
)

// CPUPeriod is the cpu.max period in microseconds.
const CPUPeriod uint64 = 100000

// Unlimited is the kernel sentinel for "no ceiling".
const Unlimited = "max"

// writeFile truncates, the way limit files expect a single value.
func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o644)
}

// appendFile is used for cgroup.procs, where each write moves one process.
func appendFile(path, content string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(content); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func writeError(action, path string, err error) error {
	if os.IsPermission(err) {
		return errors.NewPermissionError(path, err)
	}
	return errors.NewCgroupError(action, err).WithContext("path", path)
}

// ReadMembers returns the PIDs listed in the cgroup.procs file of path.
func ReadMembers(path string) ([]int, error) {
	data, err := os.ReadFile(filepath.Join(path, procsFile))
	if err != nil {
		return nil, err
	}
	var pids []int
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		pid, err := strconv.Atoi(line)
		if err != nil {
			continue
		}
		pids = append(pids, pid)
	}
	return pids, nil
}

// CPUQuota converts a percentage of one core into a cpu.max quota.
func CPUQuota(cpu limits.CPULimit) (uint64, error) {
	percent := uint64(cpu.Percent())
	if percent != 0 && CPUPeriod > ^uint64(0)/percent {
		return 0, errors.NewValidationError("cpu percentage too large", nil).
			WithContext("percent", percent).
			WithHint(errors.HintCPUFormat)
	}
	return percent * CPUPeriod / 100, nil
}

func formatCPUMax(cpu limits.CPULimit) (string, error) {
	quota, err := CPUQuota(cpu)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d %d", quota, CPUPeriod), nil
}

// BlockDevice is a physical block device as seen in /sys/block.
type BlockDevice struct {
	Name  string
	Major uint32
	Minor uint32
}

func (d BlockDevice) String() string {
	return fmt.Sprintf("%d:%d", d.Major, d.Minor)
}

var virtualDevicePrefixes = []string{"loop", "ram", "dm-", "nbd", "zram"}

func isVirtualDevice(name string) bool {
	for _, prefix := range virtualDevicePrefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

// BlockDevices lists non-virtual block devices below sysBlock, sorted by
// name. A missing directory yields none.
func BlockDevices(sysBlock string) ([]BlockDevice, error) {
	entries, err := os.ReadDir(sysBlock)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var devices []BlockDevice
	for _, entry := range entries {
		if isVirtualDevice(entry.Name()) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(sysBlock, entry.Name(), "dev"))
		if err != nil {
			continue
		}
		majStr, minStr, ok := strings.Cut(strings.TrimSpace(string(data)), ":")
		if !ok {
			continue
		}
		major, err1 := strconv.ParseUint(majStr, 10, 32)
		minor, err2 := strconv.ParseUint(minStr, 10, 32)
		if err1 != nil || err2 != nil {
			continue
		}
		devices = append(devices, BlockDevice{Name: entry.Name(), Major: uint32(major), Minor: uint32(minor)})
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].Name < devices[j].Name })
	return devices, nil
}

func formatIOMax(devices []BlockDevice, read, write string) string {
	var b strings.Builder
	for _, dev := range devices {
		b.WriteString(dev.String())
		if read != "" {
			b.WriteString(" rbps=" + read)
		}
		if write != "" {
			b.WriteString(" wbps=" + write)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
