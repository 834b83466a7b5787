package host

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/nah-dev/nah/internal/compose"
	"github.com/nah-dev/nah/internal/config"
	"github.com/nah-dev/nah/internal/contract"
	"github.com/nah-dev/nah/internal/inventory"
	"github.com/nah-dev/nah/internal/log"
	"github.com/nah-dev/nah/internal/manifest"
	"github.com/nah-dev/nah/internal/record"
	"github.com/nah-dev/nah/internal/warnings"
)

// ManifestFileName is the manifest blob's location inside an app root.
const ManifestFileName = "manifest.nah"

// Host provides registry access and composition over one NAH root.
type Host struct {
	cfg    *config.Config
	clock  clockwork.Clock
	logger log.Logger
}

// Option configures a Host.
type Option func(*Host)

// WithClock injects the clock used for the composition timestamp.
func WithClock(c clockwork.Clock) Option {
	return func(h *Host) { h.clock = c }
}

// WithLogger injects the diagnostic logger.
func WithLogger(l log.Logger) Option {
	return func(h *Host) { h.logger = l }
}

// New creates a Host over the given layout.
func New(cfg *config.Config, opts ...Option) *Host {
	h := &Host{cfg: cfg, clock: clockwork.NewRealClock(), logger: log.Default()}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Config exposes the host's directory layout.
func (h *Host) Config() *config.Config {
	return h.cfg
}

// AppInfo summarizes one installed application instance.
type AppInfo struct {
	ID          string
	Version     string
	InstanceID  string
	InstallRoot string
	RecordPath  string
}

// ListApplications walks the install registry. Unreadable or invalid
// records are skipped with a log line; listing never fails.
func (h *Host) ListApplications() []AppInfo {
	var apps []AppInfo

	entries, err := os.ReadDir(h.cfg.InstallsDir)
	if err != nil {
		h.logger.Debug("install registry not readable", "dir", h.cfg.InstallsDir, "error", err)
		return apps
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".json" && ext != ".toml" {
			continue
		}
		path := filepath.Join(h.cfg.InstallsDir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			h.logger.Warn("skipping unreadable install record", "path", path, "error", err)
			continue
		}
		res := record.ParseAppInstallRecord(string(data), path)
		if !res.OK {
			h.logger.Warn("skipping invalid install record", "path", path, "error", res.Err)
			continue
		}
		apps = append(apps, AppInfo{
			ID:          res.Record.App.ID,
			Version:     res.Record.App.Version,
			InstanceID:  res.Record.Install.InstanceID,
			InstallRoot: res.Record.Paths.InstallRoot,
			RecordPath:  path,
		})
	}

	sort.Slice(apps, func(i, j int) bool {
		if apps[i].ID != apps[j].ID {
			return apps[i].ID < apps[j].ID
		}
		return apps[i].Version < apps[j].Version
	})
	return apps
}

// FindApplication locates an installed app by id, and version when given.
// Ambiguity (several versions, none requested) is an error.
func (h *Host) FindApplication(id, version string) (AppInfo, error) {
	if id == "" {
		return AppInfo{}, errf(CodeInvalidArgument, nil, "application id required")
	}

	var matches []AppInfo
	for _, app := range h.ListApplications() {
		if app.ID == id && (version == "" || app.Version == version) {
			matches = append(matches, app)
		}
	}

	switch {
	case len(matches) == 0:
		if version != "" {
			return AppInfo{}, errf(CodeNotFound, nil, "application %s@%s not installed", id, version)
		}
		return AppInfo{}, errf(CodeNotFound, nil, "application %s not installed", id)
	case len(matches) > 1 && version == "":
		return AppInfo{}, errf(CodeInvalidArgument, nil,
			"application %s has %d installed versions; specify one", id, len(matches))
	}
	return matches[0], nil
}

// ActiveProfileName reads host/profile.current; empty when unset.
func (h *Host) ActiveProfileName() string {
	data, err := os.ReadFile(h.cfg.ProfileCurrent)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// SetActiveProfile points host/profile.current at a named profile, which
// must exist.
func (h *Host) SetActiveProfile(name string) error {
	path := h.profileFile(name)
	if path == "" {
		return errf(CodeNotFound, nil, "profile %q not found", name)
	}
	if err := os.MkdirAll(filepath.Dir(h.cfg.ProfileCurrent), 0o755); err != nil {
		return errf(CodeIO, err, "creating host directory")
	}
	if err := os.WriteFile(h.cfg.ProfileCurrent, []byte(name+"\n"), 0o644); err != nil {
		return errf(CodeIO, err, "writing %s", h.cfg.ProfileCurrent)
	}
	return nil
}

// ListProfiles names every profile in host/profiles.
func (h *Host) ListProfiles() []string {
	entries, err := os.ReadDir(h.cfg.ProfilesDir)
	if err != nil {
		return nil
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		ext := strings.ToLower(filepath.Ext(name))
		if ext != ".json" && ext != ".toml" {
			continue
		}
		names = append(names, strings.TrimSuffix(name, filepath.Ext(name)))
	}
	sort.Strings(names)
	return names
}

// profileFile finds the record file backing a profile name, trying the
// TOML form first.
func (h *Host) profileFile(name string) string {
	for _, ext := range []string{".toml", ".json"} {
		path := filepath.Join(h.cfg.ProfilesDir, name+ext)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// ActiveProfile resolves the host's profile. A missing or unparsable
// profile falls back to the builtin empty profile; the returned warnings
// carry profile_missing / profile_parse_error for the composer.
func (h *Host) ActiveProfile() (*record.HostProfile, []record.ParseWarning) {
	name := h.ActiveProfileName()
	if name == "" {
		return record.BuiltinEmptyProfile(), []record.ParseWarning{
			{Key: warnings.ProfileMissing, Fields: map[string]string{"reason": "no_active_profile"}},
		}
	}

	path := h.profileFile(name)
	if path == "" {
		return record.BuiltinEmptyProfile(), []record.ParseWarning{
			{Key: warnings.ProfileMissing, Fields: map[string]string{"profile": name}},
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return record.BuiltinEmptyProfile(), []record.ParseWarning{
			{Key: warnings.ProfileParseError, Fields: map[string]string{"profile": name, "error": err.Error()}},
		}
	}

	res := record.ParseHostProfile(string(data), path)
	if !res.OK {
		return record.BuiltinEmptyProfile(), []record.ParseWarning{
			{Key: warnings.ProfileParseError, Fields: map[string]string{"profile": name, "error": res.Err}},
		}
	}
	return &res.Profile, res.Warnings
}

// Inventory scans the runtime registry.
func (h *Host) Inventory() compose.Inventory {
	return inventory.Scan(h.cfg.NakRegistryDir, h.logger)
}

// ComposeOptions tune one composition.
type ComposeOptions struct {
	Trace bool
	// OverridesFile names an explicit overrides file; empty falls back to
	// NAH_OVERRIDES_FILE from the environment snapshot.
	OverridesFile string
}

// environSnapshot captures the process environment once per invocation.
func environSnapshot() map[string]string {
	env := os.Environ()
	out := make(map[string]string, len(env))
	for _, kv := range env {
		if k, v, ok := strings.Cut(kv, "="); ok {
			out[k] = v
		}
	}
	return out
}

// ComposeForApp composes the launch contract for an installed app. Record
// and manifest failures surface through the envelope's critical-error
// channel, not as Go errors; an error return means the host itself could
// not run the composition.
func (h *Host) ComposeForApp(app AppInfo, opts ComposeOptions) (*contract.Envelope, error) {
	recordData, err := os.ReadFile(app.RecordPath)
	if err != nil {
		return nil, errf(CodeIO, err, "reading install record %s", app.RecordPath)
	}
	recRes := record.ParseAppInstallRecord(string(recordData), app.RecordPath)
	if !recRes.OK {
		env := &contract.Envelope{CriticalError: contract.ErrInstallRecordInvalid}
		h.logger.Error("install record invalid", "path", app.RecordPath, "error", recRes.Err)
		return env, nil
	}

	profile, profileWarnings := h.ActiveProfile()

	manifestPath := filepath.Join(recRes.Record.Paths.InstallRoot, ManifestFileName)
	blob, err := os.ReadFile(manifestPath)
	if err != nil {
		h.logger.Error("manifest missing", "path", manifestPath, "error", err)
		return &contract.Envelope{CriticalError: contract.ErrManifestMissing}, nil
	}
	manRes := manifest.Decode(blob)
	if manRes.CriticalMissing {
		h.logger.Error("manifest unusable", "path", manifestPath, "error", manRes.Err)
		return &contract.Envelope{CriticalError: contract.ErrManifestMissing}, nil
	}

	procEnv := environSnapshot()

	in := &compose.Inputs{
		Manifest:        manRes.Manifest,
		ManifestReasons: manRes.Reasons,
		InstallRecord:   recRes.Record,
		Profile:         profile,
		RecordWarnings:  append(profileWarnings, recRes.Warnings...),
		Inventory:       h.Inventory(),
		ProcessEnv:      procEnv,
		Now:             h.clock.Now().UTC().Format(time.RFC3339),
		EnableTrace:     opts.Trace,
	}

	overridesFile := opts.OverridesFile
	if overridesFile == "" {
		overridesFile = procEnv[config.EnvOverridesFile]
	}
	if overridesFile != "" {
		in.HasOverridesFile = true
		in.OverridesFilePath = overridesFile
		if content, err := os.ReadFile(overridesFile); err == nil {
			in.OverridesFileContent = string(content)
		}
	}

	return compose.Compose(in), nil
}
