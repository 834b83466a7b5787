// Package config defines the on-disk layout of a NAH host root.
//
// Everything nah manages lives under a single root directory: installed
// applications, installed NAKs, the record registry, host profiles, and
// caches. The root defaults to ~/.nah and can be overridden with NAH_ROOT.
package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	// EnvNahRoot is the environment variable that overrides the default
	// host root directory.
	EnvNahRoot = "NAH_ROOT"

	// EnvOverridesFile points at an optional per-invocation overrides file
	// (JSON with "environment" and "warnings" objects).
	EnvOverridesFile = "NAH_OVERRIDES_FILE"
)

// DefaultRootOverride can be set by the binary's main package to change the
// default root directory. Used by dev builds (via ldflags) to default to
// .nah-dev instead of ~/.nah. NAH_ROOT still takes precedence.
var DefaultRootOverride string

// Config holds the resolved host directory layout.
type Config struct {
	RootDir          string // $NAH_ROOT
	AppsDir          string // $NAH_ROOT/apps (installed application trees)
	NaksDir          string // $NAH_ROOT/naks (installed runtime trees)
	InstallsDir      string // $NAH_ROOT/registry/installs (app install records)
	NakRegistryDir   string // $NAH_ROOT/registry/naks (runtime descriptors)
	ProfilesDir      string // $NAH_ROOT/host/profiles
	ProfileCurrent   string // $NAH_ROOT/host/profile.current (active profile name)
	CacheDir         string // $NAH_ROOT/cache
	DownloadCacheDir string // $NAH_ROOT/cache/downloads
	StagingDir       string // $NAH_ROOT/cache/staging (unpack scratch space)
}

// DefaultConfig returns the layout rooted at NAH_ROOT (or ~/.nah).
func DefaultConfig() (*Config, error) {
	root := os.Getenv(EnvNahRoot)
	if root == "" {
		if DefaultRootOverride != "" {
			root = DefaultRootOverride
		} else {
			home, err := os.UserHomeDir()
			if err != nil {
				return nil, fmt.Errorf("failed to get user home directory: %w", err)
			}
			root = filepath.Join(home, ".nah")
		}
	}
	return ConfigAt(root), nil
}

// ConfigAt returns the layout rooted at an explicit directory.
func ConfigAt(root string) *Config {
	return &Config{
		RootDir:          root,
		AppsDir:          filepath.Join(root, "apps"),
		NaksDir:          filepath.Join(root, "naks"),
		InstallsDir:      filepath.Join(root, "registry", "installs"),
		NakRegistryDir:   filepath.Join(root, "registry", "naks"),
		ProfilesDir:      filepath.Join(root, "host", "profiles"),
		ProfileCurrent:   filepath.Join(root, "host", "profile.current"),
		CacheDir:         filepath.Join(root, "cache"),
		DownloadCacheDir: filepath.Join(root, "cache", "downloads"),
		StagingDir:       filepath.Join(root, "cache", "staging"),
	}
}

// EnsureDirectories creates all necessary directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.RootDir,
		c.AppsDir,
		c.NaksDir,
		c.InstallsDir,
		c.NakRegistryDir,
		c.ProfilesDir,
		c.CacheDir,
		c.DownloadCacheDir,
		c.StagingDir,
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// AppDir returns the installation directory for a specific app version.
func (c *Config) AppDir(id, version string) string {
	return filepath.Join(c.AppsDir, fmt.Sprintf("%s-%s", id, version))
}

// NakDir returns the installation directory for a specific NAK version.
func (c *Config) NakDir(id, version string) string {
	return filepath.Join(c.NaksDir, id, version)
}

// InstallRecordPath returns the path of an app install record.
func (c *Config) InstallRecordPath(instanceID string) string {
	return filepath.Join(c.InstallsDir, instanceID+".toml")
}

// NakRecordPath returns the path of a runtime descriptor in the registry.
// The basename of this path is the descriptor's record_ref.
func (c *Config) NakRecordPath(recordRef string) string {
	return filepath.Join(c.NakRegistryDir, recordRef)
}

// ProfilePath returns the path of a named host profile.
func (c *Config) ProfilePath(name string) string {
	return filepath.Join(c.ProfilesDir, name+".toml")
}
