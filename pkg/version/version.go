// Package version provides the library and protocol version constants and
// "major.minor" version parsing.
package version

import (
	"fmt"
	"strconv"
	"strings"
)

// Current is the library version.
const Current = "1.0"

// Protocol is the OPDI protocol version the master announces in its
// handshake.
const Protocol = 1

// Product names the master in logs and capture files.
const Product = "opdi-go"

// SemVer is a parsed "major.minor" version.
type SemVer struct {
	Major uint16
	Minor uint16
}

// Parse parses a "major.minor" version string.
func Parse(s string) (SemVer, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 2 {
		return SemVer{}, fmt.Errorf("invalid version %q: expected major.minor", s)
	}

	major, err := strconv.ParseUint(parts[0], 10, 16)
	if err != nil || parts[0] == "" {
		return SemVer{}, fmt.Errorf("invalid version %q: bad major component", s)
	}

	minor, err := strconv.ParseUint(parts[1], 10, 16)
	if err != nil || parts[1] == "" {
		return SemVer{}, fmt.Errorf("invalid version %q: bad minor component", s)
	}

	return SemVer{Major: uint16(major), Minor: uint16(minor)}, nil
}

// String returns the version as "major.minor".
func (v SemVer) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// Compatible returns true if the other version has the same major version.
func (v SemVer) Compatible(other SemVer) bool {
	return v.Major == other.Major
}

// Less reports whether v is older than other.
func (v SemVer) Less(other SemVer) bool {
	if v.Major != other.Major {
		return v.Major < other.Major
	}
	return v.Minor < other.Minor
}

// ProtocolSupported reports whether a device-agreed protocol version can
// be spoken. Devices may agree on any version up to the announced one.
func ProtocolSupported(agreed int) bool {
	return agreed >= 1 && agreed <= Protocol
}

// String returns the product and library version, e.g. "opdi-go/1.0".
func String() string {
	return Product + "/" + Current
}
