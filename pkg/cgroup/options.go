package cgroup

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

const (
	DefaultRoot         = "/sys/fs/cgroup"
	DefaultGroupName    = "rlm"
	DefaultSysBlockPath = "/sys/block"

	DefaultRemovalAttempts     = 5
	DefaultRemovalInitialDelay = 5 * time.Millisecond
)

// DefaultControllers are enabled for managed cgroups when the kernel
// advertises them.
var DefaultControllers = []string{"memory", "cpu", "io"}

type RemovalOptions struct {
	Attempts     int
	InitialDelay time.Duration
}

// ManagerOptions makes every ambient path explicit so a Manager can run
// against a fake hierarchy.
type ManagerOptions struct {
	// Root is the mount point of the unified hierarchy.
	Root string
	// BasePath overrides base path resolution when set.
	BasePath  string
	GroupName string
	// UID selects the delegated user slice; negative means detect.
	UID          int
	SysBlockPath string
	ProcRoot     string
	Controllers  []string
	Removal      RemovalOptions
	Sleep        func(time.Duration)
	// Rmdir removes a cgroup directory; unix.Rmdir unless replaced.
	Rmdir func(path string) error
}

func (o ManagerOptions) withDefaults() ManagerOptions {
	if o.Root == "" {
		o.Root = DefaultRoot
	}
	if o.GroupName == "" {
		o.GroupName = DefaultGroupName
	}
	if o.SysBlockPath == "" {
		o.SysBlockPath = DefaultSysBlockPath
	}
	if len(o.Controllers) == 0 {
		o.Controllers = DefaultControllers
	}
	if o.Removal.Attempts <= 0 {
		o.Removal.Attempts = DefaultRemovalAttempts
	}
	if o.Removal.InitialDelay <= 0 {
		o.Removal.InitialDelay = DefaultRemovalInitialDelay
	}
	if o.Sleep == nil {
		o.Sleep = time.Sleep
	}
	if o.Rmdir == nil {
		o.Rmdir = unix.Rmdir
	}
	return o
}

// DelegatedServicePath is the systemd user manager cgroup of uid, the usual
// delegation point for unprivileged users.
func DelegatedServicePath(root string, uid int) string {
	return filepath.Join(root, "user.slice",
		fmt.Sprintf("user-%d.slice", uid),
		fmt.Sprintf("user@%d.service", uid))
}

// HostUID returns the host UID even when running as 0 inside a user
// namespace, or under sudo.
func HostUID(procRoot string) int {
	if procRoot == "" {
		procRoot = "/proc"
	}
	if b, err := os.ReadFile(filepath.Join(procRoot, "self", "uid_map")); err == nil {
		for _, ln := range strings.Split(string(b), "\n") {
			f := strings.Fields(ln)
			// first mapping looks like: "0 <host_uid> <size>"
			if len(f) >= 3 && f[0] == "0" {
				if hid, err := strconv.Atoi(f[1]); err == nil && hid != 0 {
					return hid
				}
			}
		}
	}
	if su := os.Getenv("SUDO_UID"); su != "" {
		if hid, err := strconv.Atoi(su); err == nil && hid > 0 {
			return hid
		}
	}
	return os.Getuid()
}

// resolveBasePath prefers the delegated user path when its parent exists.
func resolveBasePath(o ManagerOptions) string {
	if o.BasePath != "" {
		return o.BasePath
	}
	uid := o.UID
	if uid < 0 {
		uid = HostUID(o.ProcRoot)
	}
	delegated := DelegatedServicePath(o.Root, uid)
	if st, err := os.Stat(delegated); err == nil && st.IsDir() {
		return filepath.Join(delegated, o.GroupName)
	}
	return filepath.Join(o.Root, o.GroupName)
}
