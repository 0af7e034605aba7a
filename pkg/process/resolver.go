package process

import (
	"sort"
	"strings"

	"github.com/core-tools/hsu-limits/pkg/errors"
	"github.com/core-tools/hsu-limits/pkg/logging"
	"github.com/core-tools/hsu-limits/pkg/processstate"
)

// ProcessInfo is a visible process and its kernel-truncated short name.
type ProcessInfo struct {
	PID  int
	Name string
}

// Resolver maps PIDs and names to PID sets by scanning the process table.
// It knows nothing about cgroups.
type Resolver struct {
	proc   processstate.ProcFS
	logger logging.Logger
}

// NewResolver scans procRoot, or /proc when procRoot is empty.
func NewResolver(procRoot string, logger logging.Logger) *Resolver {
	return &Resolver{
		proc:   processstate.NewProcFS(procRoot),
		logger: logging.OrNop(logger),
	}
}

// ListAll returns every process with a readable short name, sorted by name.
func (r *Resolver) ListAll() ([]ProcessInfo, error) {
	pids, err := r.proc.PIDs()
	if err != nil {
		return nil, errors.NewIOError("failed to read process table", err).WithContext("proc_root", r.proc.Root)
	}

	processes := make([]ProcessInfo, 0, len(pids))
	for _, pid := range pids {
		comm, err := r.proc.Comm(pid)
		if err != nil {
			// exited between the directory scan and the read
			continue
		}
		processes = append(processes, ProcessInfo{PID: pid, Name: comm})
	}

	sort.Slice(processes, func(i, j int) bool {
		if processes[i].Name != processes[j].Name {
			return processes[i].Name < processes[j].Name
		}
		return processes[i].PID < processes[j].PID
	})
	return processes, nil
}

// FindByName returns every PID whose short name or executable basename is
// exactly name.
func (r *Resolver) FindByName(name string) ([]int, error) {
	if name == "" {
		return nil, errors.NewValidationError("process name cannot be empty", nil)
	}

	all, err := r.proc.PIDs()
	if err != nil {
		return nil, errors.NewIOError("failed to read process table", err).WithContext("proc_root", r.proc.Root)
	}
	sort.Ints(all)

	var pids []int
	for _, pid := range all {
		if r.matchesName(pid, name) {
			pids = append(pids, pid)
		}
	}

	if len(pids) == 0 {
		return nil, errors.NewProcessNameNotFoundError(name)
	}

	r.logger.Debugf("Resolved process name, name: %s, pids: %v", name, pids)
	return pids, nil
}

func (r *Resolver) matchesName(pid int, name string) bool {
	if comm, err := r.proc.Comm(pid); err == nil {
		if comm == name {
			return true
		}
		// comm is truncated at 15 characters; only the executable can
		// confirm a longer name
		if len(comm) == processstate.MaxCommLength && len(name) > processstate.MaxCommLength && strings.HasPrefix(name, comm) {
			if exe, err := r.proc.ExeBase(pid); err == nil {
				return exe == name
			}
		}
	}

	exe, err := r.proc.ExeBase(pid)
	return err == nil && exe == name
}

// ResolvePIDs turns exactly one of pid or name into a PID set.
func (r *Resolver) ResolvePIDs(pid int, name string) ([]int, error) {
	switch {
	case pid != 0 && name != "":
		return nil, errors.NewValidationError("specify either a pid or a name, not both", nil)
	case pid < 0:
		return nil, errors.NewValidationError("pid must be positive", nil).WithContext("pid", pid)
	case pid > 0:
		return []int{pid}, nil
	case name != "":
		return r.FindByName(name)
	default:
		return nil, errors.NewValidationError("specify either a pid or a name", nil)
	}
}

// Name returns the short name of pid, or "?" when it cannot be read.
func (r *Resolver) Name(pid int) string {
	comm, err := r.proc.Comm(pid)
	if err != nil {
		return "?"
	}
	return comm
}
