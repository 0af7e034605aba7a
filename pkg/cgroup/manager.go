package cgroup

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/core-tools/hsu-limits/pkg/errors"
	"github.com/core-tools/hsu-limits/pkg/logging"
	"github.com/core-tools/hsu-limits/pkg/processstate"
)

const (
	controllersFile    = "cgroup.controllers"
	subtreeControlFile = "cgroup.subtree_control"
	procsFile          = "cgroup.procs"
	killFile           = "cgroup.kill"
	memoryMaxFile      = "memory.max"
	cpuMaxFile         = "cpu.max"
	ioMaxFile          = "io.max"
)

// Manager owns the managed part of the cgroup v2 hierarchy. The base path
// is resolved once and created lazily. A Manager holds no other state and
// does no locking; concurrent idempotent steps are tolerated by treating
// "already exists" and "not found" as success.
type Manager struct {
	root        string
	basePath    string
	controllers []string
	sysBlock    string
	proc        processstate.ProcFS
	removal     RemovalOptions
	sleep       func(time.Duration)
	rmdir       func(string) error
	logger      logging.Logger
}

// NewManager fails with a not-available error when the unified hierarchy
// is not mounted at opts.Root.
func NewManager(opts ManagerOptions, logger logging.Logger) (*Manager, error) {
	opts = opts.withDefaults()
	logger = logging.OrNop(logger)

	if _, err := os.Stat(filepath.Join(opts.Root, controllersFile)); err != nil {
		return nil, errors.NewNotAvailableError("cgroups v2 not available", err).
			WithContext("root", opts.Root).
			WithHint(errors.HintCgroupsV2)
	}

	m := &Manager{
		root:        opts.Root,
		basePath:    resolveBasePath(opts),
		controllers: opts.Controllers,
		sysBlock:    opts.SysBlockPath,
		proc:        processstate.NewProcFS(opts.ProcRoot),
		removal:     opts.Removal,
		sleep:       opts.Sleep,
		rmdir:       opts.Rmdir,
		logger:      logger,
	}

	logger.Debugf("Cgroup manager created, root: %s, base path: %s", m.root, m.basePath)
	return m, nil
}

// BasePath is the directory under which managed cgroups are created.
func (m *Manager) BasePath() string {
	return m.basePath
}

// GroupPath joins a sanitized name onto the base path.
func (m *Manager) GroupPath(name string) (string, error) {
	name, err := SanitizeName(name)
	if err != nil {
		return "", err
	}
	return filepath.Join(m.basePath, name), nil
}

// AvailableControllers lists what the root advertises.
func (m *Manager) AvailableControllers() ([]string, error) {
	data, err := os.ReadFile(filepath.Join(m.root, controllersFile))
	if err != nil {
		return nil, errors.NewIOError("failed to read available controllers", err).WithContext("root", m.root)
	}
	return strings.Fields(string(data)), nil
}

// ListGroups classifies the immediate children of the base path. A missing
// base path yields no groups. The drain sibling is never listed.
func (m *Manager) ListGroups() ([]Group, error) {
	entries, err := os.ReadDir(m.basePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.NewIOError("failed to list cgroups", err).WithContext("base_path", m.basePath)
	}

	var groups []Group
	for _, entry := range entries {
		if !entry.IsDir() || entry.Name() == DrainGroupName {
			continue
		}
		kind, pid := Classify(entry.Name())
		groups = append(groups, Group{
			Name: entry.Name(),
			Path: filepath.Join(m.basePath, entry.Name()),
			Kind: kind,
			PID:  pid,
		})
	}
	return groups, nil
}

// ProcFS exposes the process table the manager checks liveness against.
func (m *Manager) ProcFS() processstate.ProcFS {
	return m.proc
}
