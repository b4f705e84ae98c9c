// Package version parses and compares iiod version strings.
//
// The daemon answers VERSION with "major.minor.tag", the tag padded or cut
// to seven characters. DNS-SD announcements carry "major.minor" only.
package version

import (
	"fmt"
	"strconv"
	"strings"
)

// TagLen is the fixed width of the tag in a VERSION reply.
const TagLen = 7

// Current is the version implemented by this module.
var Current = Version{Major: 1, Minor: 0, Tag: "iiod-go"}

// Version is a parsed "major.minor[.tag]" version.
type Version struct {
	Major uint16
	Minor uint16
	Tag   string
}

// Parse parses "major.minor" or "major.minor.tag". Trailing whitespace
// and padding of the tag are ignored.
func Parse(s string) (Version, error) {
	s = strings.TrimRight(s, "\r\n")
	parts := strings.SplitN(s, ".", 3)
	if len(parts) < 2 {
		return Version{}, fmt.Errorf("invalid version %q: expected major.minor", s)
	}

	major, err := strconv.ParseUint(parts[0], 10, 16)
	if err != nil || parts[0] == "" {
		return Version{}, fmt.Errorf("invalid version %q: bad major component", s)
	}

	minor, err := strconv.ParseUint(parts[1], 10, 16)
	if err != nil || parts[1] == "" {
		return Version{}, fmt.Errorf("invalid version %q: bad minor component", s)
	}

	v := Version{Major: uint16(major), Minor: uint16(minor)}
	if len(parts) == 3 {
		v.Tag = strings.TrimSpace(parts[2])
	}
	return v, nil
}

// String returns the version as "major.minor".
func (v Version) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// Reply returns the VERSION reply line, tag included.
func (v Version) Reply() string {
	return fmt.Sprintf("%d.%d.%-*.*s\n", v.Major, v.Minor, TagLen, TagLen, v.Tag)
}

// Compatible returns true if the other version has the same major version.
func (v Version) Compatible(other Version) bool {
	return v.Major == other.Major
}
