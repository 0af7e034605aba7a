package limits

import (
	"fmt"
	"strings"

	"github.com/core-tools/hsu-limits/pkg/errors"

	"gopkg.in/yaml.v3"
)

// MemoryLimit is a memory ceiling in bytes, always > 0.
type MemoryLimit uint64

func (m MemoryLimit) Bytes() uint64 { return uint64(m) }

func (m MemoryLimit) String() string { return FormatBytes(uint64(m)) }

// CPULimit is a percentage of one core in 1..10000.
type CPULimit uint32

func (c CPULimit) Percent() uint32 { return uint32(c) }

func (c CPULimit) String() string { return fmt.Sprintf("%d%%", uint32(c)) }

// IOLimit holds per-direction bandwidth ceilings in bytes per second.
type IOLimit struct {
	ReadBPS  *uint64
	WriteBPS *uint64
}

// IsEmpty reports whether neither direction is limited.
func (io IOLimit) IsEmpty() bool {
	return io.ReadBPS == nil && io.WriteBPS == nil
}

// Limit is the unit of intent handed to the cgroup manager. Nil fields are
// left untouched.
type Limit struct {
	Memory *MemoryLimit
	CPU    *CPULimit
	IO     *IOLimit
}

// IsEmpty reports whether no resource is limited at all.
func (l Limit) IsEmpty() bool {
	return l.Memory == nil && l.CPU == nil && (l.IO == nil || l.IO.IsEmpty())
}

func (l Limit) String() string {
	var parts []string
	if l.Memory != nil {
		parts = append(parts, "memory="+l.Memory.String())
	}
	if l.CPU != nil {
		parts = append(parts, "cpu="+l.CPU.String())
	}
	if l.IO != nil {
		if l.IO.ReadBPS != nil {
			parts = append(parts, "io.read="+FormatBytes(*l.IO.ReadBPS))
		}
		if l.IO.WriteBPS != nil {
			parts = append(parts, "io.write="+FormatBytes(*l.IO.WriteBPS))
		}
	}
	if len(parts) == 0 {
		return "unlimited"
	}
	return strings.Join(parts, " ")
}

// Build assembles a Limit from optional strings; an empty string means the
// resource is not limited.
func Build(memory, cpu, ioRead, ioWrite string) (Limit, error) {
	var limit Limit

	if strings.TrimSpace(memory) != "" {
		m, err := ParseMemory(memory)
		if err != nil {
			return Limit{}, err
		}
		limit.Memory = &m
	}

	if strings.TrimSpace(cpu) != "" {
		c, err := ParseCPU(cpu)
		if err != nil {
			return Limit{}, err
		}
		limit.CPU = &c
	}

	io, err := buildIO(ioRead, ioWrite)
	if err != nil {
		return Limit{}, err
	}
	limit.IO = io

	return limit, nil
}

func buildIO(read, write string) (*IOLimit, error) {
	var io IOLimit
	if strings.TrimSpace(read) != "" {
		r, err := ParseBandwidth(read)
		if err != nil {
			return nil, err
		}
		io.ReadBPS = &r
	}
	if strings.TrimSpace(write) != "" {
		w, err := ParseBandwidth(write)
		if err != nil {
			return nil, err
		}
		io.WriteBPS = &w
	}
	if io.IsEmpty() {
		return nil, nil
	}
	return &io, nil
}

// limitYAML is the on-disk shape of a Limit:
//
//	memory: 512M
//	cpu: 50%
//	io: {read: 10M, write: 5M}
type limitYAML struct {
	Memory string `yaml:"memory,omitempty"`
	CPU    string `yaml:"cpu,omitempty"`
	IO     struct {
		Read  string `yaml:"read,omitempty"`
		Write string `yaml:"write,omitempty"`
	} `yaml:"io,omitempty"`
}

// UnmarshalYAML decodes human-readable limit strings.
func (l *Limit) UnmarshalYAML(value *yaml.Node) error {
	var raw limitYAML
	if err := value.Decode(&raw); err != nil {
		return errors.NewValidationError("malformed limit", err).WithContext("line", value.Line)
	}
	parsed, err := Build(raw.Memory, raw.CPU, raw.IO.Read, raw.IO.Write)
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// MarshalYAML encodes the limit back to strings that Build accepts.
func (l Limit) MarshalYAML() (interface{}, error) {
	var raw limitYAML
	if l.Memory != nil {
		raw.Memory = fmt.Sprintf("%d", l.Memory.Bytes())
	}
	if l.CPU != nil {
		raw.CPU = l.CPU.String()
	}
	if l.IO != nil {
		if l.IO.ReadBPS != nil {
			raw.IO.Read = fmt.Sprintf("%d", *l.IO.ReadBPS)
		}
		if l.IO.WriteBPS != nil {
			raw.IO.Write = fmt.Sprintf("%d", *l.IO.WriteBPS)
		}
	}
	return raw, nil
}
