package limits

import (
	"fmt"
	"math/bits"
	"strconv"
	"strings"

	"github.com/core-tools/hsu-limits/pkg/errors"
)

const (
	KiB uint64 = 1 << 10
	MiB uint64 = 1 << 20
	GiB uint64 = 1 << 30
	TiB uint64 = 1 << 40
)

// MaxCPUPercent is 100 cores.
const MaxCPUPercent = 10000

// maxFractionDigits bounds "1.5G"-style input, which FormatBytes produces.
const maxFractionDigits = 9

func unitMultiplier(c byte) (uint64, bool) {
	switch c {
	case 'K', 'k':
		return KiB, true
	case 'M', 'm':
		return MiB, true
	case 'G', 'g':
		return GiB, true
	case 'T', 't':
		return TiB, true
	case 'B', 'b':
		return 1, true
	}
	return 0, false
}

func memoryError(value, reason string) error {
	msg := "invalid memory value: " + value
	if reason != "" {
		msg = "invalid memory value: " + reason
	}
	return errors.NewValidationError(msg, nil).
		WithContext("value", value).
		WithHint(errors.HintMemoryFormat)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// ParseMemory parses "2G", "512m" or "1024" into a byte count. Units are
// base 1024. The B suffix and fractional values ("512B", "1.5G") are
// accepted only so that FormatBytes output parses back.
func ParseMemory(s string) (MemoryLimit, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, memoryError(s, "empty value")
	}

	num, multiplier := s, uint64(1)
	if m, ok := unitMultiplier(s[len(s)-1]); ok {
		num, multiplier = s[:len(s)-1], m
	}

	intPart, fracPart, hasFrac := strings.Cut(num, ".")
	if !isDigits(intPart) {
		return 0, memoryError(s, "")
	}
	if hasFrac && (multiplier == 1 || !isDigits(fracPart) || len(fracPart) > maxFractionDigits) {
		return 0, memoryError(s, "")
	}

	n, err := strconv.ParseUint(intPart, 10, 64)
	if err != nil {
		return 0, memoryError(s, "value too large (overflow)")
	}

	hi, bytes := bits.Mul64(n, multiplier)
	if hi != 0 {
		return 0, memoryError(s, "value too large (overflow)")
	}

	if hasFrac {
		frac, _ := strconv.ParseUint(fracPart, 10, 64)
		scale := uint64(1)
		for i := 0; i < len(fracPart); i++ {
			scale *= 10
		}
		// frac < scale, so the high word is always below the divisor
		fhi, flo := bits.Mul64(frac, multiplier)
		extra, _ := bits.Div64(fhi, flo, scale)
		var carry uint64
		bytes, carry = bits.Add64(bytes, extra, 0)
		if carry != 0 {
			return 0, memoryError(s, "value too large (overflow)")
		}
	}

	if bytes == 0 {
		return 0, memoryError(s, "value cannot be zero")
	}
	return MemoryLimit(bytes), nil
}

// ParseCPU parses "50%", "150" and similar into a percentage of one core.
func ParseCPU(s string) (CPULimit, error) {
	s = strings.TrimSuffix(strings.TrimSpace(s), "%")
	if !isDigits(s) {
		return 0, cpuError(s, "")
	}
	percent, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, cpuError(s, "value too large (max 10000% = 100 cores)")
	}
	if percent == 0 {
		return 0, cpuError(s, "value cannot be zero")
	}
	if percent > MaxCPUPercent {
		return 0, cpuError(s, "value too large (max 10000% = 100 cores)")
	}
	return CPULimit(percent), nil
}

func cpuError(value, reason string) error {
	msg := "invalid cpu value: " + value
	if reason != "" {
		msg = "invalid cpu value: " + reason
	}
	return errors.NewValidationError(msg, nil).
		WithContext("value", value).
		WithHint(errors.HintCPUFormat)
}

// ParseBandwidth parses a bytes-per-second magnitude with the memory grammar.
func ParseBandwidth(s string) (uint64, error) {
	m, err := ParseMemory(s)
	if err != nil {
		return 0, err
	}
	return m.Bytes(), nil
}

// FormatBytes renders bytes in the largest unit with magnitude >= 1, one
// decimal place ("1.5G"); values below 1K render as "<n>B".
func FormatBytes(b uint64) string {
	switch {
	case b >= TiB:
		return fmt.Sprintf("%.1fT", float64(b)/float64(TiB))
	case b >= GiB:
		return fmt.Sprintf("%.1fG", float64(b)/float64(GiB))
	case b >= MiB:
		return fmt.Sprintf("%.1fM", float64(b)/float64(MiB))
	case b >= KiB:
		return fmt.Sprintf("%.1fK", float64(b)/float64(KiB))
	default:
		return fmt.Sprintf("%dB", b)
	}
}
