package cgroup

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/core-tools/hsu-limits/pkg/errors"
	"github.com/core-tools/hsu-limits/pkg/limits"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustLimit(t *testing.T, memory, cpu, ioRead, ioWrite string) limits.Limit {
	t.Helper()
	limit, err := limits.Build(memory, cpu, ioRead, ioWrite)
	require.NoError(t, err)
	return limit
}

func TestPrepareCgroup_WritesLimitFiles(t *testing.T) {
	h := newFakeHierarchy(t, "cpuset cpu io memory pids")
	h.addBlockDevice(t, "sda", "8:0")
	h.addBlockDevice(t, "nvme0n1", "259:0")
	h.addBlockDevice(t, "loop0", "7:0")
	h.addBlockDevice(t, "dm-0", "253:0")
	h.addBlockDevice(t, "zram0", "252:0")
	m, _ := newTestManager(t, h)

	path, err := m.PrepareCgroup("run-99", mustLimit(t, "512M", "50%", "10M", "5M"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(m.BasePath(), "run-99"), path)

	assert.Equal(t, "+memory +cpu +io", readString(t, filepath.Join(m.BasePath(), subtreeControlFile)))
	assert.Equal(t, "536870912", readString(t, filepath.Join(path, memoryMaxFile)))
	assert.Equal(t, "50000 100000", readString(t, filepath.Join(path, cpuMaxFile)))
	assert.Equal(t, "259:0 rbps=10485760 wbps=5242880\n8:0 rbps=10485760 wbps=5242880\n",
		readString(t, filepath.Join(path, ioMaxFile)))

	// no process joins during preparation
	assert.NoFileExists(t, filepath.Join(path, procsFile))
}

func TestPrepareCgroup_Idempotent(t *testing.T) {
	h := newFakeHierarchy(t, "cpu memory")
	m, _ := newTestManager(t, h)

	_, err := m.PrepareCgroup("run-1", mustLimit(t, "1G", "", "", ""))
	require.NoError(t, err)
	path, err := m.PrepareCgroup("run-1", mustLimit(t, "2G", "", "", ""))
	require.NoError(t, err)

	assert.Equal(t, "2147483648", readString(t, filepath.Join(path, memoryMaxFile)))
}

func TestPrepareCgroup_PartialControllers(t *testing.T) {
	h := newFakeHierarchy(t, "cpu pids")
	m, _ := newTestManager(t, h)

	_, err := m.PrepareCgroup("run-1", limits.Limit{})
	require.NoError(t, err)
	assert.Equal(t, "+cpu", readString(t, filepath.Join(m.BasePath(), subtreeControlFile)))
}

func TestPrepareCgroup_NoControllers(t *testing.T) {
	h := newFakeHierarchy(t, "pids")
	m, _ := newTestManager(t, h)

	_, err := m.PrepareCgroup("run-1", limits.Limit{})
	require.Error(t, err)
	assert.True(t, errors.IsCgroupError(err))
	assert.Contains(t, err.Error(), "enable controllers")
}

func TestPrepareCgroup_IOWithoutDevices(t *testing.T) {
	h := newFakeHierarchy(t, "cpu memory io")
	h.addBlockDevice(t, "loop0", "7:0")
	m, _ := newTestManager(t, h)

	path, err := m.PrepareCgroup("run-1", mustLimit(t, "", "", "10M", ""))
	require.NoError(t, err)
	assert.NoFileExists(t, filepath.Join(path, ioMaxFile))
}

func TestPrepareCgroup_RejectsBadName(t *testing.T) {
	h := newFakeHierarchy(t, "cpu memory io")
	m, _ := newTestManager(t, h)

	for _, name := range []string{"../etc", "a/b", ""} {
		_, err := m.PrepareCgroup(name, limits.Limit{})
		require.Error(t, err)
		assert.True(t, errors.IsValidationError(err))
	}
	assert.NoDirExists(t, m.BasePath())
}

func TestApplyLimit_CreatesAndPopulates(t *testing.T) {
	h := newFakeHierarchy(t, "cpu memory io")
	h.addProcess(t, 4242, "worker")
	m, _ := newTestManager(t, h)

	require.NoError(t, m.ApplyLimit(4242, mustLimit(t, "256M", "25%", "", "")))

	path := filepath.Join(m.BasePath(), "pid-4242")
	members, err := ReadMembers(path)
	require.NoError(t, err)
	assert.Equal(t, []int{4242}, members)
	assert.Equal(t, "268435456", readString(t, filepath.Join(path, memoryMaxFile)))
	assert.Equal(t, "25000 100000", readString(t, filepath.Join(path, cpuMaxFile)))
}

func TestApplyLimit_ReapplyUpdatesInPlace(t *testing.T) {
	h := newFakeHierarchy(t, "cpu memory io")
	h.addProcess(t, 4242, "worker")
	m, _ := newTestManager(t, h)

	require.NoError(t, m.ApplyLimit(4242, mustLimit(t, "256M", "25%", "", "")))
	require.NoError(t, m.ApplyLimit(4242, mustLimit(t, "1G", "", "", "")))

	groups, err := m.ListGroups()
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, "pid-4242", groups[0].Name)

	path := groups[0].Path
	members, err := ReadMembers(path)
	require.NoError(t, err)
	assert.Equal(t, []int{4242}, members, "process must not be re-added")
	assert.Equal(t, "1073741824", readString(t, filepath.Join(path, memoryMaxFile)))
	assert.Equal(t, "max 100000", readString(t, filepath.Join(path, cpuMaxFile)))
}

func TestApplyLimit_ConflictWithLaunchedGroup(t *testing.T) {
	h := newFakeHierarchy(t, "cpu memory io")
	h.addProcess(t, 4242, "worker")
	m, _ := newTestManager(t, h)

	launched := filepath.Join(m.BasePath(), "run-99")
	require.NoError(t, os.MkdirAll(launched, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(launched, procsFile), []byte("4242\n"), 0o644))

	err := m.ApplyLimit(4242, mustLimit(t, "256M", "", "", ""))
	require.Error(t, err)
	assert.True(t, errors.IsInvalidArgument(err))
	assert.Contains(t, err.Error(), "run-99")

	members, err := ReadMembers(launched)
	require.NoError(t, err)
	assert.Equal(t, []int{4242}, members)
	assert.NoDirExists(t, filepath.Join(m.BasePath(), "pid-4242"))
}

func TestApplyLimit_MovesForkedChildOutOfParentGroup(t *testing.T) {
	h := newFakeHierarchy(t, "cpu memory io")
	h.addProcess(t, 5, "server")
	h.addProcess(t, 6, "server")
	m, _ := newTestManager(t, h)

	require.NoError(t, m.ApplyLimit(5, mustLimit(t, "256M", "", "", "")))
	// the child was forked after its parent was limited
	parent := filepath.Join(m.BasePath(), "pid-5")
	require.NoError(t, os.WriteFile(filepath.Join(parent, procsFile), []byte("5\n6\n"), 0o644))

	require.NoError(t, m.ApplyLimit(6, mustLimit(t, "128M", "", "", "")))

	child := filepath.Join(m.BasePath(), "pid-6")
	members, err := ReadMembers(child)
	require.NoError(t, err)
	assert.Equal(t, []int{6}, members)
	assert.Equal(t, "134217728", readString(t, filepath.Join(child, memoryMaxFile)))
	assert.Equal(t, "268435456", readString(t, filepath.Join(parent, memoryMaxFile)), "parent limit untouched")
}

func TestApplyLimit_ConflictWithForeignGroup(t *testing.T) {
	h := newFakeHierarchy(t, "cpu memory io")
	h.addProcess(t, 4242, "worker")
	m, _ := newTestManager(t, h)

	foreign := filepath.Join(m.BasePath(), "custom")
	require.NoError(t, os.MkdirAll(foreign, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(foreign, procsFile), []byte("4242\n"), 0o644))

	err := m.ApplyLimit(4242, mustLimit(t, "256M", "", "", ""))
	require.Error(t, err)
	assert.True(t, errors.IsConflictError(err))
	assert.NoDirExists(t, filepath.Join(m.BasePath(), "pid-4242"))
}

func TestApplyLimit_ProcessNotFound(t *testing.T) {
	h := newFakeHierarchy(t, "cpu memory io")
	m, _ := newTestManager(t, h)

	// a directory in place of cgroup.procs makes the membership write fail
	path := filepath.Join(m.BasePath(), "pid-777")
	require.NoError(t, os.MkdirAll(filepath.Join(path, procsFile), 0o755))

	err := m.ApplyLimit(777, mustLimit(t, "256M", "", "", ""))
	require.Error(t, err)
	assert.True(t, errors.IsProcessNotFoundError(err))
	assert.NoDirExists(t, path, "failed populate must tear the cgroup down")
}

func TestApplyLimit_InvalidPID(t *testing.T) {
	h := newFakeHierarchy(t, "cpu memory io")
	m, _ := newTestManager(t, h)

	assert.True(t, errors.IsValidationError(m.ApplyLimit(0, limits.Limit{})))
	assert.True(t, errors.IsValidationError(m.RemoveLimit(-1)))
}

func TestCPUQuota(t *testing.T) {
	for percent, expected := range map[uint32]uint64{1: 1000, 50: 50000, 100: 100000, 150: 150000, 10000: 10000000} {
		cpu, err := limits.ParseCPU(formatPercent(percent))
		require.NoError(t, err)
		quota, err := CPUQuota(cpu)
		require.NoError(t, err)
		assert.Equal(t, expected, quota)
	}
}

func TestBlockDevices(t *testing.T) {
	dir := t.TempDir()
	write := func(name, dev string) {
		require.NoError(t, os.MkdirAll(filepath.Join(dir, name), 0o755))
		if dev != "" {
			require.NoError(t, os.WriteFile(filepath.Join(dir, name, "dev"), []byte(dev), 0o644))
		}
	}
	write("sdb", "8:16\n")
	write("sda", "8:0\n")
	write("ram0", "1:0\n")
	write("nbd0", "43:0\n")
	write("broken", "garbage")
	write("nodev", "")

	devices, err := BlockDevices(dir)
	require.NoError(t, err)
	assert.Equal(t, []BlockDevice{
		{Name: "sda", Major: 8, Minor: 0},
		{Name: "sdb", Major: 8, Minor: 16},
	}, devices)

	devices, err = BlockDevices(filepath.Join(dir, "missing"))
	require.NoError(t, err)
	assert.Empty(t, devices)
}

func formatPercent(p uint32) string {
	return limits.CPULimit(p).String()
}
