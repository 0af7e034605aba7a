package processstate

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// DefaultProcRoot is where the kernel exposes the process table.
const DefaultProcRoot = "/proc"

// MaxCommLength is the kernel's TASK_COMM_LEN minus the terminator; longer
// executable names are truncated in comm.
const MaxCommLength = 15

// ProcFS reads per-process entries below Root, so tests can point it at a
// fake process table.
type ProcFS struct {
	Root string
}

// NewProcFS returns a ProcFS rooted at root, or at /proc when root is empty.
func NewProcFS(root string) ProcFS {
	if root == "" {
		root = DefaultProcRoot
	}
	return ProcFS{Root: root}
}

// PIDDir is the directory of pid.
func (p ProcFS) PIDDir(pid int) string {
	return filepath.Join(p.Root, strconv.Itoa(pid))
}

// Exists reports whether the process still has an entry.
func (p ProcFS) Exists(pid int) bool {
	_, err := os.Stat(p.PIDDir(pid))
	return err == nil
}

// Comm returns the kernel-truncated short name of pid. An error means the
// process is gone or unreadable.
func (p ProcFS) Comm(pid int) (string, error) {
	return readComm(p.PIDDir(pid))
}

// ExeBase returns the basename of the executable symlink of pid.
func (p ProcFS) ExeBase(pid int) (string, error) {
	return readExeBase(p.PIDDir(pid))
}

// PIDs lists every numeric entry of the process table.
func (p ProcFS) PIDs() ([]int, error) {
	entries, err := os.ReadDir(p.Root)
	if err != nil {
		return nil, err
	}
	pids := make([]int, 0, len(entries))
	for _, entry := range entries {
		pid, err := strconv.Atoi(entry.Name())
		if err != nil || pid <= 0 {
			continue
		}
		pids = append(pids, pid)
	}
	return pids, nil
}

func readComm(dir string) (string, error) {
	data, err := os.ReadFile(filepath.Join(dir, "comm"))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func readExeBase(dir string) (string, error) {
	target, err := os.Readlink(filepath.Join(dir, "exe"))
	if err != nil {
		return "", err
	}
	// a replaced binary shows up as "/usr/bin/foo (deleted)"
	target = strings.TrimSuffix(target, " (deleted)")
	return filepath.Base(target), nil
}
