package wire

import (
	"fmt"
	"strconv"
)

// ParseInt32 parses a signed 32-bit decimal field.
func ParseInt32(field, name string) (int32, error) {
	v, err := strconv.ParseInt(field, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: invalid integer %q", ErrProtocolMismatch, name, field)
	}
	return int32(v), nil
}

// ParseRange parses a signed 32-bit field and checks min <= v <= max.
func ParseRange(field, name string, min, max int32) (int32, error) {
	v, err := ParseInt32(field, name)
	if err != nil {
		return 0, err
	}
	if v < min || v > max {
		return 0, fmt.Errorf("%w: %s: %d out of range [%d, %d]", ErrProtocolMismatch, name, v, min, max)
	}
	return v, nil
}

// ParseUint16 parses a field that must fit an unsigned 16-bit value.
func ParseUint16(field, name string) (uint16, error) {
	v, err := ParseRange(field, name, 0, 0xFFFF)
	if err != nil {
		return 0, err
	}
	return uint16(v), nil
}

// ParseFlags parses a non-negative flag bitfield.
func ParseFlags(field, name string) (uint32, error) {
	v, err := ParseRange(field, name, 0, 1<<31-1)
	if err != nil {
		return 0, err
	}
	return uint32(v), nil
}

// ParseChannel parses a streaming channel number, which must be above 0.
func ParseChannel(field string) (uint32, error) {
	v, err := ParseRange(field, "channel", 1, 1<<31-1)
	if err != nil {
		return 0, err
	}
	return uint32(v), nil
}

// ParseOrdinal parses an enumeration ordinal in [0, count).
func ParseOrdinal(field, name string, count int) (int, error) {
	v, err := ParseRange(field, name, 0, int32(count-1))
	if err != nil {
		return 0, err
	}
	return int(v), nil
}

// ExpectParts checks that parts begins with magic and has exactly n parts.
func ExpectParts(parts []string, magic string, n int) error {
	if len(parts) == 0 || parts[0] != magic {
		got := ""
		if len(parts) > 0 {
			got = parts[0]
		}
		return fmt.Errorf("%w: expected %q, got %q", ErrProtocolMismatch, magic, got)
	}
	if len(parts) != n {
		return fmt.Errorf("%w: %s: expected %d parts, got %d", ErrProtocolMismatch, magic, n, len(parts))
	}
	return nil
}
