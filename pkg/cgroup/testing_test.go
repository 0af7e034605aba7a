package cgroup

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

type fakeHierarchy struct {
	root     string
	proc     string
	sysBlock string
}

func newFakeHierarchy(t *testing.T, controllers string) *fakeHierarchy {
	t.Helper()
	dir := t.TempDir()
	h := &fakeHierarchy{
		root:     filepath.Join(dir, "cgroup"),
		proc:     filepath.Join(dir, "proc"),
		sysBlock: filepath.Join(dir, "block"),
	}
	require.NoError(t, os.MkdirAll(h.root, 0o755))
	require.NoError(t, os.MkdirAll(h.proc, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(h.root, controllersFile), []byte(controllers+"\n"), 0o644))
	return h
}

func (h *fakeHierarchy) addProcess(t *testing.T, pid int, comm string) {
	t.Helper()
	dir := filepath.Join(h.proc, strconv.Itoa(pid))
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "comm"), []byte(comm+"\n"), 0o644))
}

func (h *fakeHierarchy) addBlockDevice(t *testing.T, name, dev string) {
	t.Helper()
	dir := filepath.Join(h.sysBlock, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "dev"), []byte(dev+"\n"), 0o644))
}

type recordingSleeper struct {
	delays []time.Duration
}

func (r *recordingSleeper) Sleep(d time.Duration) {
	r.delays = append(r.delays, d)
}

func (h *fakeHierarchy) options() ManagerOptions {
	return ManagerOptions{
		Root:         h.root,
		UID:          1000,
		ProcRoot:     h.proc,
		SysBlockPath: h.sysBlock,
		Rmdir:        fakeRmdir,
	}
}

func newTestManager(t *testing.T, h *fakeHierarchy) (*Manager, *recordingSleeper) {
	t.Helper()
	sleeper := &recordingSleeper{}
	opts := h.options()
	opts.Sleep = sleeper.Sleep

	m, err := NewManager(opts, nil)
	require.NoError(t, err)
	return m, sleeper
}

// fakeRmdir removes regular files too, since a temp directory cannot hold
// the kernel's pseudo-files.
func fakeRmdir(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return unix.ENOENT
	}
	return os.RemoveAll(path)
}

func readString(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}
