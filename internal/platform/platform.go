// Package platform answers the small set of host-platform questions the
// contract composer needs: which environment variable carries the dynamic
// library search path, how path lists are separated, and how paths are
// rendered portably.
package platform

import (
	"runtime"
	"strings"
)

// LibraryPathEnvKey returns the environment variable used for the dynamic
// library search path on the current platform.
func LibraryPathEnvKey() string {
	return LibraryPathEnvKeyFor(runtime.GOOS)
}

// LibraryPathEnvKeyFor returns the library path key for an explicit GOOS
// value. Split out so tests can cover all platforms from one host.
func LibraryPathEnvKeyFor(goos string) string {
	switch goos {
	case "darwin":
		return "DYLD_LIBRARY_PATH"
	case "windows":
		return "PATH"
	default:
		return "LD_LIBRARY_PATH"
	}
}

// PathListSeparator returns the separator used between entries of a path
// list environment variable.
func PathListSeparator() string {
	if runtime.GOOS == "windows" {
		return ";"
	}
	return ":"
}

// ToPortable renders a path with forward slashes. Records and contracts
// always carry forward-slash paths regardless of host OS.
func ToPortable(path string) string {
	return strings.ReplaceAll(path, "\\", "/")
}
