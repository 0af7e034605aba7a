package status

import (
	"math"
	"math/bits"
	"strconv"
	"strings"
)

const unlimited = "max"

// DecodeMemoryMax reads a memory.max value; the sentinel and garbage are
// both unset.
func DecodeMemoryMax(content string) (uint64, bool) {
	content = strings.TrimSpace(content)
	if content == unlimited {
		return 0, false
	}
	n, err := strconv.ParseUint(content, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// DecodeCPUMax recovers a percentage of one core from "<quota> <period>".
func DecodeCPUMax(content string) (uint32, bool) {
	fields := strings.Fields(content)
	if len(fields) < 2 || fields[0] == unlimited {
		return 0, false
	}
	quota, err := strconv.ParseUint(fields[0], 10, 64)
	if err != nil {
		return 0, false
	}
	period, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil || period == 0 {
		return 0, false
	}

	hi, scaled := bits.Mul64(quota, 100)
	if hi != 0 {
		scaled = math.MaxUint64
	}
	percent := scaled / period
	if percent > math.MaxUint32 {
		return math.MaxUint32, true
	}
	return uint32(percent), true
}

// DecodeIOMax takes the first non-sentinel rbps and wbps across all device
// lines.
func DecodeIOMax(content string) (read, write *uint64) {
	for _, line := range strings.Split(content, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		for _, field := range fields[1:] {
			key, value, ok := strings.Cut(field, "=")
			if !ok || value == unlimited {
				continue
			}
			n, err := strconv.ParseUint(value, 10, 64)
			if err != nil {
				continue
			}
			switch {
			case key == "rbps" && read == nil:
				read = &n
			case key == "wbps" && write == nil:
				write = &n
			}
		}
	}
	return read, write
}
