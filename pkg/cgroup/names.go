package cgroup

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/core-tools/hsu-limits/pkg/errors"
)

const (
	// DrainGroupName is the permanent, controller-free sibling that
	// receives evacuated members when the kernel cannot kill them.
	DrainGroupName = "rlm-drain"

	PIDGroupPrefix         = "pid-"
	RunGroupPrefix         = "run-"
	InteractiveGroupPrefix = "gtk-"
)

var validName = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// SanitizeName rejects anything that could escape the base path.
func SanitizeName(name string) (string, error) {
	if name == "" {
		return "", errors.NewValidationError("cgroup name cannot be empty", nil)
	}
	if !validName.MatchString(name) {
		return "", errors.NewValidationError("invalid cgroup name: "+name, nil).
			WithContext("name", name).
			WithHint("cgroup names may only contain letters, digits, '-' and '_'")
	}
	return name, nil
}

// PIDGroupName is the canonical cgroup for a directly targeted process.
func PIDGroupName(pid int) string {
	return PIDGroupPrefix + strconv.Itoa(pid)
}

// Kind tells how the PID of a managed cgroup is found.
type Kind int

const (
	// KindForeign is not ours and is ignored.
	KindForeign Kind = iota
	// KindPIDDirect carries its PID in the name.
	KindPIDDirect
	// KindLaunchDerived holds one launched child, read from cgroup.procs.
	KindLaunchDerived
)

func (k Kind) String() string {
	switch k {
	case KindPIDDirect:
		return "pid-direct"
	case KindLaunchDerived:
		return "launch-derived"
	default:
		return "foreign"
	}
}

// Group is an immediate child of the base path, classified once.
type Group struct {
	Name string
	Path string
	Kind Kind
	// PID is set for KindPIDDirect only.
	PID int
}

// Classify resolves the kind of a cgroup from its name.
func Classify(name string) (Kind, int) {
	switch {
	case strings.HasPrefix(name, PIDGroupPrefix):
		pid, err := strconv.Atoi(strings.TrimPrefix(name, PIDGroupPrefix))
		if err != nil || pid <= 0 {
			return KindForeign, 0
		}
		return KindPIDDirect, pid
	case strings.HasPrefix(name, RunGroupPrefix), strings.HasPrefix(name, InteractiveGroupPrefix):
		return KindLaunchDerived, 0
	default:
		return KindForeign, 0
	}
}

// IsManagedName reports whether name is a cgroup this package creates for
// processes.
func IsManagedName(name string) bool {
	kind, _ := Classify(name)
	return kind != KindForeign
}
