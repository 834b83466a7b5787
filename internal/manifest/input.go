package manifest

import (
	"fmt"
	"sort"

	"github.com/BurntSushi/toml"

	"github.com/nah-dev/nah/internal/semver"
)

// InputSchema tags the TOML source form a manifest blob is generated from.
const InputSchema = "nah.manifest.input.v1"

// manifestInput mirrors the TOML authoring format.
type manifestInput struct {
	Schema string `toml:"schema"`

	App struct {
		ID            string   `toml:"id"`
		Version       string   `toml:"version"`
		NakID         string   `toml:"nak_id"`
		NakVersionReq string   `toml:"nak_version_req"`
		NakLoader     string   `toml:"nak_loader"`
		Entrypoint    string   `toml:"entrypoint"`
		Args          []string `toml:"args"`
	} `toml:"app"`

	Env map[string]string `toml:"env"`

	Paths struct {
		LibDirs   []string `toml:"lib_dirs"`
		AssetDirs []string `toml:"asset_dirs"`
	} `toml:"paths"`

	Exports []struct {
		ID   string `toml:"id"`
		Path string `toml:"path"`
		Type string `toml:"type"`
	} `toml:"exports"`

	Permissions struct {
		Filesystem []string `toml:"filesystem"`
		Network    []string `toml:"network"`
	} `toml:"permissions"`

	Metadata struct {
		Description string `toml:"description"`
		Author      string `toml:"author"`
		License     string `toml:"license"`
		Homepage    string `toml:"homepage"`
	} `toml:"metadata"`
}

// ParseInput parses the TOML authoring form of a manifest and validates it
// into a Manifest ready for Encode. The env table is flattened to
// KEY=VALUE entries in key order so generation is deterministic.
func ParseInput(tomlSrc string) (*Manifest, error) {
	var in manifestInput
	if _, err := toml.Decode(tomlSrc, &in); err != nil {
		return nil, fmt.Errorf("parse manifest input: %w", err)
	}
	if in.Schema != InputSchema {
		return nil, fmt.Errorf("missing or invalid schema (expected %s)", InputSchema)
	}

	if in.App.ID == "" {
		return nil, fmt.Errorf("missing required field: app.id")
	}
	if in.App.Version == "" {
		return nil, fmt.Errorf("missing required field: app.version")
	}
	if _, err := semver.ParseVersion(in.App.Version); err != nil {
		return nil, fmt.Errorf("app.version: %w", err)
	}
	if in.App.Entrypoint == "" {
		return nil, fmt.Errorf("missing required field: app.entrypoint")
	}

	m := &Manifest{
		ID:             in.App.ID,
		Version:        in.App.Version,
		NakID:          in.App.NakID,
		NakLoader:      in.App.NakLoader,
		EntrypointPath: in.App.Entrypoint,
		EntrypointArgs: in.App.Args,
		LibDirs:        in.Paths.LibDirs,
		AssetDirs:      in.Paths.AssetDirs,
		Description:    in.Metadata.Description,
		Author:         in.Metadata.Author,
		License:        in.Metadata.License,
		Homepage:       in.Metadata.Homepage,
	}

	if in.App.NakID != "" {
		if in.App.NakVersionReq == "" {
			return nil, fmt.Errorf("app.nak_version_req is required when app.nak_id is set")
		}
		r, err := semver.ParseRange(in.App.NakVersionReq)
		if err != nil {
			return nil, fmt.Errorf("app.nak_version_req: %w", err)
		}
		m.NakVersionReq = r
	}

	keys := make([]string, 0, len(in.Env))
	for k := range in.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if k == "" {
			return nil, fmt.Errorf("env key must be non-empty")
		}
		m.EnvVars = append(m.EnvVars, k+"="+in.Env[k])
	}

	for _, e := range in.Exports {
		if e.ID == "" || e.Path == "" {
			return nil, fmt.Errorf("exports entries need id and path")
		}
		m.AssetExports = append(m.AssetExports, AssetExport{ID: e.ID, Path: e.Path, Type: e.Type})
	}

	m.PermissionsFilesystem = in.Permissions.Filesystem
	m.PermissionsNetwork = in.Permissions.Network

	return m, nil
}
