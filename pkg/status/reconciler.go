package status

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/core-tools/hsu-limits/pkg/cgroup"
	"github.com/core-tools/hsu-limits/pkg/errors"
	"github.com/core-tools/hsu-limits/pkg/limits"
	"github.com/core-tools/hsu-limits/pkg/logging"
)

// ProcessStatus is derived on every query and never stored.
type ProcessStatus struct {
	PID    int
	Name   string
	Cgroup string
	Limit  limits.Limit
}

// Reconciler rebuilds the managed-process view from the hierarchy and
// removes cgroups whose process is gone.
type Reconciler struct {
	manager *cgroup.Manager
	logger  logging.Logger
}

func NewReconciler(manager *cgroup.Manager, logger logging.Logger) *Reconciler {
	return &Reconciler{
		manager: manager,
		logger:  logging.OrNop(logger),
	}
}

// Reconcile returns the live managed processes sorted by PID. Dead cgroups
// are cleaned up after the scan; cleanup failures are only logged.
func (r *Reconciler) Reconcile() ([]ProcessStatus, error) {
	groups, err := r.manager.ListGroups()
	if err != nil {
		return nil, err
	}

	proc := r.manager.ProcFS()
	var results []ProcessStatus
	var dead []string

	for _, group := range groups {
		pid, ok := resolvePID(group)
		if !ok {
			if group.Kind != cgroup.KindForeign {
				dead = append(dead, group.Name)
			}
			continue
		}

		name, err := proc.Comm(pid)
		if err != nil {
			dead = append(dead, group.Name)
			continue
		}

		results = append(results, ProcessStatus{
			PID:    pid,
			Name:   name,
			Cgroup: group.Name,
			Limit:  decodeLimit(group.Path),
		})
	}

	failures := errors.NewErrorCollection()
	for _, name := range dead {
		r.logger.Debugf("Removing dead cgroup, name: %s", name)
		failures.Add(r.manager.CleanupCgroup(name))
	}
	if failures.HasErrors() {
		r.logger.Warnf("Failed to clean up dead cgroups, error: %v", failures)
	}

	sort.Slice(results, func(i, j int) bool { return results[i].PID < results[j].PID })
	return results, nil
}

func resolvePID(group cgroup.Group) (int, bool) {
	switch group.Kind {
	case cgroup.KindPIDDirect:
		return group.PID, true
	case cgroup.KindLaunchDerived:
		members, err := cgroup.ReadMembers(group.Path)
		if err != nil || len(members) == 0 {
			return 0, false
		}
		return members[0], true
	default:
		return 0, false
	}
}

func decodeLimit(path string) limits.Limit {
	var limit limits.Limit

	if content, err := os.ReadFile(filepath.Join(path, "memory.max")); err == nil {
		if n, ok := DecodeMemoryMax(string(content)); ok && n > 0 {
			m := limits.MemoryLimit(n)
			limit.Memory = &m
		}
	}

	if content, err := os.ReadFile(filepath.Join(path, "cpu.max")); err == nil {
		if p, ok := DecodeCPUMax(string(content)); ok && p > 0 {
			c := limits.CPULimit(p)
			limit.CPU = &c
		}
	}

	if content, err := os.ReadFile(filepath.Join(path, "io.max")); err == nil {
		read, write := DecodeIOMax(string(content))
		if read != nil || write != nil {
			limit.IO = &limits.IOLimit{ReadBPS: read, WriteBPS: write}
		}
	}

	return limit
}
