// Package semver implements version and version-range handling for NAK
// resolution. Versions are strict Semantic Versioning 2.0.0, parsed and
// ordered by Masterminds/semver; ranges are a local comparator AST because
// mapped binding mode needs the range's lower bound (selection key), which
// constraint matchers do not expose.
package semver

import (
	"fmt"
	"strings"

	mmsemver "github.com/Masterminds/semver/v3"
)

// Version is the canonical semantic version type.
type Version = mmsemver.Version

// ParseVersion parses a strict MAJOR.MINOR.PATCH[-prerelease][+build]
// version string. Partial versions ("1.2") are rejected.
func ParseVersion(s string) (*Version, error) {
	v, err := mmsemver.StrictNewVersion(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("invalid version %q: %w", s, err)
	}
	return v, nil
}

// parseLoose parses a possibly-partial version used inside a range
// expression: "1" and "1.2" are completed with zeros.
func parseLoose(s string) (*Version, error) {
	v, err := mmsemver.NewVersion(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("invalid version %q in range: %w", s, err)
	}
	return v, nil
}

// Compare orders two versions per SemVer 2.0.0 (prerelease < release at
// equal core).
func Compare(a, b *Version) int {
	return a.Compare(b)
}
