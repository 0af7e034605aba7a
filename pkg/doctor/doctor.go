package doctor

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/core-tools/hsu-limits/pkg/cgroup"
	"github.com/core-tools/hsu-limits/pkg/errors"

	"github.com/moby/sys/mountinfo"
	"golang.org/x/sys/unix"
)

type CheckResult struct {
	Name string
	OK   bool
	Hint string
}

// Report holds checks in the order they ran.
type Report struct {
	Checks []CheckResult
}

func (r *Report) add(name string, ok bool, hint string) {
	if ok {
		hint = ""
	}
	r.Checks = append(r.Checks, CheckResult{Name: name, OK: ok, Hint: hint})
}

func (r Report) AllOK() bool {
	for _, c := range r.Checks {
		if !c.OK {
			return false
		}
	}
	return true
}

type Options struct {
	Root string
	// UID is checked for delegation; 0 means root.
	UID         int
	Controllers []string
	// BasePath is checked for writability when it already exists.
	BasePath string
	// Mounts lists cgroup2 mounts; the live mount table when nil.
	Mounts func() ([]*mountinfo.Info, error)
}

func liveCgroup2Mounts() ([]*mountinfo.Info, error) {
	return mountinfo.GetMounts(mountinfo.FSTypeFilter("cgroup2"))
}

// Check inspects the host for everything the cgroup manager needs.
func Check(opts Options) Report {
	if opts.Root == "" {
		opts.Root = cgroup.DefaultRoot
	}
	if len(opts.Controllers) == 0 {
		opts.Controllers = cgroup.DefaultControllers
	}
	if opts.Mounts == nil {
		opts.Mounts = liveCgroup2Mounts
	}

	var report Report

	report.add("unified hierarchy mounted at "+opts.Root, isCgroup2Mount(opts), errors.HintCgroupsV2)

	data, err := os.ReadFile(filepath.Join(opts.Root, "cgroup.controllers"))
	report.add("cgroups v2 available", err == nil, errors.HintCgroupsV2)
	if err == nil {
		available := make(map[string]bool)
		for _, c := range strings.Fields(string(data)) {
			available[c] = true
		}
		for _, c := range opts.Controllers {
			report.add(c+" controller", available[c],
				fmt.Sprintf("the kernel does not offer the %s controller at %s", c, opts.Root))
		}
	}

	if opts.UID != 0 {
		delegated := cgroup.DelegatedServicePath(opts.Root, opts.UID)
		st, err := os.Stat(delegated)
		report.add("user cgroup delegation", err == nil && st.IsDir(), errors.HintDelegation)
	} else {
		report.add("running as root", true, "")
	}

	if opts.BasePath != "" {
		if _, err := os.Stat(opts.BasePath); err == nil {
			report.add("base path writable ("+opts.BasePath+")",
				unix.Access(opts.BasePath, unix.W_OK) == nil, errors.HintDelegation)
		}
	}

	return report
}

func isCgroup2Mount(opts Options) bool {
	mounts, err := opts.Mounts()
	if err != nil {
		return false
	}
	root := filepath.Clean(opts.Root)
	for _, m := range mounts {
		if m.FSType == "cgroup2" && filepath.Clean(m.Mountpoint) == root {
			return true
		}
	}
	return false
}
