package cgroup

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func makeGroup(t *testing.T, m *Manager, name, members string) string {
	t.Helper()
	path := filepath.Join(m.BasePath(), name)
	require.NoError(t, os.MkdirAll(path, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(path, procsFile), []byte(members), 0o644))
	return path
}

func TestCleanupCgroup_NeverCreated(t *testing.T) {
	h := newFakeHierarchy(t, "cpu memory io")
	m, sleeper := newTestManager(t, h)

	assert.NoError(t, m.CleanupCgroup("pid-31337"))
	assert.NoError(t, m.RemoveLimit(31337))
	assert.Empty(t, sleeper.delays)
}

func TestCleanupCgroup_RejectsBadName(t *testing.T) {
	h := newFakeHierarchy(t, "cpu memory io")
	m, _ := newTestManager(t, h)

	assert.Error(t, m.CleanupCgroup("../etc"))
}

func TestCleanupCgroup_KillFile(t *testing.T) {
	h := newFakeHierarchy(t, "cpu memory io")
	m, _ := newTestManager(t, h)

	path := makeGroup(t, m, "run-5", "10\n11\n")
	require.NoError(t, os.WriteFile(filepath.Join(path, killFile), []byte("0"), 0o644))

	var killed string
	m.rmdir = func(p string) error {
		killed = readString(t, filepath.Join(p, killFile))
		return fakeRmdir(p)
	}

	require.NoError(t, m.CleanupCgroup("run-5"))
	assert.Equal(t, "1", killed)
	assert.NoDirExists(t, path)
	assert.NoDirExists(t, filepath.Join(m.BasePath(), DrainGroupName))
}

func TestCleanupCgroup_DrainsWithoutKillFile(t *testing.T) {
	h := newFakeHierarchy(t, "cpu memory io")
	m, _ := newTestManager(t, h)

	path := makeGroup(t, m, "pid-10", "10\n11\n")

	require.NoError(t, m.CleanupCgroup("pid-10"))
	assert.NoDirExists(t, path)

	drained, err := ReadMembers(filepath.Join(m.BasePath(), DrainGroupName))
	require.NoError(t, err)
	assert.Equal(t, []int{10, 11}, drained)
}

func TestCleanupCgroup_ResetsWhenDrainFails(t *testing.T) {
	h := newFakeHierarchy(t, "cpu memory io")
	h.addBlockDevice(t, "sda", "8:0")
	m, _ := newTestManager(t, h)

	path := makeGroup(t, m, "pid-10", "10\n")
	require.NoError(t, os.WriteFile(filepath.Join(path, memoryMaxFile), []byte("1048576"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(path, cpuMaxFile), []byte("50000 100000"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(path, ioMaxFile), []byte("8:0 rbps=1024"), 0o644))

	// a regular file where the drain sibling belongs blocks every move
	require.NoError(t, os.WriteFile(filepath.Join(m.BasePath(), DrainGroupName), nil, 0o644))

	var reset map[string]string
	m.rmdir = func(p string) error {
		reset = map[string]string{
			memoryMaxFile: readString(t, filepath.Join(p, memoryMaxFile)),
			cpuMaxFile:    readString(t, filepath.Join(p, cpuMaxFile)),
			ioMaxFile:     readString(t, filepath.Join(p, ioMaxFile)),
		}
		return unix.EBUSY
	}

	require.NoError(t, m.CleanupCgroup("pid-10"))
	assert.Equal(t, map[string]string{
		memoryMaxFile: "max",
		cpuMaxFile:    "max 100000",
		ioMaxFile:     "8:0 rbps=max wbps=max\n",
	}, reset)
}

func TestCleanupCgroup_RetriesWhileBusy(t *testing.T) {
	h := newFakeHierarchy(t, "cpu memory io")
	m, sleeper := newTestManager(t, h)
	path := makeGroup(t, m, "run-1", "")

	calls := 0
	m.rmdir = func(p string) error {
		calls++
		if calls < 3 {
			return unix.EBUSY
		}
		return fakeRmdir(p)
	}

	require.NoError(t, m.CleanupCgroup("run-1"))
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{5 * time.Millisecond, 10 * time.Millisecond}, sleeper.delays)
	assert.NoDirExists(t, path)
}

func TestCleanupCgroup_GivesUpAfterAttempts(t *testing.T) {
	h := newFakeHierarchy(t, "cpu memory io")
	m, sleeper := newTestManager(t, h)
	makeGroup(t, m, "run-1", "")

	calls := 0
	m.rmdir = func(string) error {
		calls++
		return unix.EBUSY
	}

	assert.NoError(t, m.CleanupCgroup("run-1"), "exhausted retries are logged, not returned")
	assert.Equal(t, DefaultRemovalAttempts, calls)
	assert.Equal(t, []time.Duration{
		5 * time.Millisecond, 10 * time.Millisecond, 20 * time.Millisecond, 40 * time.Millisecond,
	}, sleeper.delays)
}

func TestCleanupCgroup_VanishedDuringRemoval(t *testing.T) {
	h := newFakeHierarchy(t, "cpu memory io")
	m, sleeper := newTestManager(t, h)
	makeGroup(t, m, "run-1", "")

	m.rmdir = func(string) error { return unix.ENOENT }

	assert.NoError(t, m.CleanupCgroup("run-1"))
	assert.Empty(t, sleeper.delays)
}

func TestCleanupCgroup_CustomRemovalOptions(t *testing.T) {
	h := newFakeHierarchy(t, "cpu memory io")
	sleeper := &recordingSleeper{}
	opts := h.options()
	opts.Sleep = sleeper.Sleep
	opts.Removal = RemovalOptions{Attempts: 3, InitialDelay: time.Millisecond}

	m, err := NewManager(opts, nil)
	require.NoError(t, err)
	m.rmdir = func(string) error { return unix.EBUSY }
	makeGroup(t, m, "run-1", "")

	require.NoError(t, m.CleanupCgroup("run-1"))
	assert.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond}, sleeper.delays)
}
