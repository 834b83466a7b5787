// Package install places application and NAK packages onto the host:
// unpack to staging, validate the embedded manifest or descriptor, move
// into the final tree, and write the registry record with provenance.
// Records land atomically so a crashed install never leaves a readable
// half-record behind.
package install

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/nah-dev/nah/internal/compose"
	"github.com/nah-dev/nah/internal/config"
	"github.com/nah-dev/nah/internal/inventory"
	"github.com/nah-dev/nah/internal/log"
	"github.com/nah-dev/nah/internal/manifest"
	"github.com/nah-dev/nah/internal/packaging"
	"github.com/nah-dev/nah/internal/platform"
	"github.com/nah-dev/nah/internal/record"
	"github.com/nah-dev/nah/internal/warnings"
)

// Manager performs installs and uninstalls against one host layout.
type Manager struct {
	cfg    *config.Config
	clock  clockwork.Clock
	logger log.Logger

	// Force overwrites an existing installation of the same version.
	Force bool
	// InstalledBy is recorded in provenance.
	InstalledBy string
}

// NewManager creates a Manager.
func NewManager(cfg *config.Config, clock clockwork.Clock, logger log.Logger) *Manager {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Manager{cfg: cfg, clock: clock, logger: logger, InstalledBy: "nah"}
}

// AppResult reports a completed application install.
type AppResult struct {
	InstanceID  string
	ID          string
	Version     string
	InstallRoot string
	RecordPath  string
	Standalone  bool
	NakResolved bool
	NakRef      string
	Warnings    []warnings.Warning
}

// stage unpacks a package into a fresh staging directory.
func (m *Manager) stage(pkgPath string) (string, error) {
	if err := m.cfg.EnsureDirectories(); err != nil {
		return "", err
	}
	staging, err := os.MkdirTemp(m.cfg.StagingDir, "unpack-*")
	if err != nil {
		return "", fmt.Errorf("creating staging directory: %w", err)
	}
	if err := packaging.Unpack(pkgPath, staging); err != nil {
		os.RemoveAll(staging)
		return "", err
	}
	return staging, nil
}

// moveIntoPlace renames staging onto dest, falling back to a copy when
// the two live on different filesystems.
func moveIntoPlace(staging, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("creating parent of %s: %w", dest, err)
	}
	if err := os.Rename(staging, dest); err == nil {
		return nil
	}
	if err := copyTree(staging, dest); err != nil {
		return err
	}
	return os.RemoveAll(staging)
}

func copyTree(src, dest string) error {
	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dest, rel)
		info, err := d.Info()
		if err != nil {
			return err
		}
		switch {
		case d.IsDir():
			return os.MkdirAll(target, 0o755)
		case info.Mode()&os.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(link, target)
		default:
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			return os.WriteFile(target, data, info.Mode().Perm())
		}
	})
}

// InstallApp installs an application package and writes its install
// record, pinning a NAK when the manifest declares one and the inventory
// can satisfy it. Resolution failures are warnings, not errors: the app
// installs and composition reports the unresolved runtime.
func (m *Manager) InstallApp(pkgPath string) (*AppResult, error) {
	staging, err := m.stage(pkgPath)
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(staging)

	blob, err := os.ReadFile(filepath.Join(staging, "manifest.nah"))
	if err != nil {
		return nil, fmt.Errorf("package has no manifest.nah: %w", err)
	}
	dec := manifest.Decode(blob)
	if dec.CriticalMissing {
		return nil, fmt.Errorf("package manifest unusable: %s", dec.Err)
	}
	man := dec.Manifest
	if man.ID == "" || man.Version == "" {
		return nil, fmt.Errorf("package manifest lacks id or version")
	}

	hash, err := packaging.HashFile(pkgPath)
	if err != nil {
		return nil, err
	}

	instanceID := man.ID + "-" + man.Version
	recordPath := m.cfg.InstallRecordPath(instanceID)
	if _, err := os.Stat(recordPath); err == nil && !m.Force {
		return nil, fmt.Errorf("%s@%s already installed (use force to overwrite)", man.ID, man.Version)
	}

	// Pin a runtime now so launches are stable across inventory changes.
	profile := m.activeProfile()
	wc := warnings.NewCollector(profile.Warnings)
	var sel compose.Selection
	if !man.Standalone() {
		inv := inventory.Scan(m.cfg.NakRegistryDir, m.logger)
		sel = compose.SelectNak(&man, profile, inv, wc)
	}

	dest := m.cfg.AppDir(man.ID, man.Version)
	if m.Force {
		os.RemoveAll(dest)
	}
	if err := moveIntoPlace(staging, dest); err != nil {
		return nil, err
	}

	var rec record.AppInstallRecord
	rec.Install.InstanceID = instanceID
	rec.App.ID = man.ID
	rec.App.Version = man.Version
	rec.App.NakID = man.NakID
	if man.NakVersionReq != nil {
		rec.App.NakVersionReq = man.NakVersionReq.String()
	}
	if sel.Resolved {
		rec.Nak.ID = sel.Record.Nak.ID
		rec.Nak.Version = sel.Record.Nak.Version
		rec.Nak.RecordRef = sel.RecordRef
		rec.Nak.Loader = man.NakLoader
		rec.Nak.SelectionReason = sel.Reason
	}
	rec.Paths.InstallRoot = platform.ToPortable(dest)
	rec.Provenance = record.Provenance{
		PackageHash: hash,
		InstalledAt: m.clock.Now().UTC().Format(time.RFC3339),
		InstalledBy: m.InstalledBy,
		Source:      "file:" + filepath.Base(pkgPath),
	}
	rec.Trust.State = record.TrustUnverified
	rec.Trust.Source = "installer"
	rec.Trust.EvaluatedAt = rec.Provenance.InstalledAt

	if err := writeFileAtomic(recordPath, []byte(appRecordTOML(&rec)), 0o644); err != nil {
		return nil, err
	}

	m.logger.Info("installed application", "id", man.ID, "version", man.Version, "root", dest)
	return &AppResult{
		InstanceID:  instanceID,
		ID:          man.ID,
		Version:     man.Version,
		InstallRoot: rec.Paths.InstallRoot,
		RecordPath:  recordPath,
		Standalone:  man.Standalone(),
		NakResolved: sel.Resolved,
		NakRef:      sel.RecordRef,
		Warnings:    wc.Warnings(),
	}, nil
}

func (m *Manager) activeProfile() *record.HostProfile {
	nameData, err := os.ReadFile(m.cfg.ProfileCurrent)
	if err != nil {
		return record.BuiltinEmptyProfile()
	}
	name := strings.TrimSpace(string(nameData))
	for _, ext := range []string{".toml", ".json"} {
		data, err := os.ReadFile(filepath.Join(m.cfg.ProfilesDir, name+ext))
		if err != nil {
			continue
		}
		if res := record.ParseHostProfile(string(data), name+ext); res.OK {
			return &res.Profile
		}
	}
	return record.BuiltinEmptyProfile()
}

// UninstallApp removes an installed application. With keepFiles only the
// registry record goes; the tree stays behind.
func (m *Manager) UninstallApp(instanceID string, keepFiles bool) error {
	recordPath := m.cfg.InstallRecordPath(instanceID)
	data, err := os.ReadFile(recordPath)
	if err != nil {
		return fmt.Errorf("no install record for %q: %w", instanceID, err)
	}
	res := record.ParseAppInstallRecord(string(data), recordPath)

	if !keepFiles && res.OK {
		root := filepath.FromSlash(res.Record.Paths.InstallRoot)
		// Refuse to delete anything outside the managed apps tree.
		absRoot, err := filepath.Abs(root)
		if err == nil && strings.HasPrefix(absRoot, m.cfg.AppsDir+string(os.PathSeparator)) {
			if err := os.RemoveAll(absRoot); err != nil {
				return fmt.Errorf("removing %s: %w", absRoot, err)
			}
		} else {
			m.logger.Warn("install root outside apps directory; leaving files", "root", root)
		}
	}

	if err := os.Remove(recordPath); err != nil {
		return fmt.Errorf("removing record %s: %w", recordPath, err)
	}
	m.logger.Info("uninstalled application", "instance", instanceID)
	return nil
}

// nakPackInput is the pack-side descriptor (nak.json / nak.toml at the
// package root). Paths are relative to the package root; install rewrites
// them against the placement directory.
type nakPackInput struct {
	id           string
	version      string
	resourceRoot string
	libDirs      []string
	environment  map[string]record.EnvValue
	loaders      map[string]record.Loader
	cwd          string
	hasExecution bool
}

func parseNakPack(src string) (*nakPackInput, error) {
	tree, err := record.DecodeTree(src)
	if err != nil {
		return nil, err
	}
	nak, ok := tree.Table("nak")
	if !ok {
		return nil, fmt.Errorf("pack descriptor has no nak section")
	}
	out := &nakPackInput{}
	if out.id, ok = nak.Str("id"); !ok || out.id == "" {
		return nil, fmt.Errorf("pack descriptor missing nak.id")
	}
	if out.version, ok = nak.Str("version"); !ok || out.version == "" {
		return nil, fmt.Errorf("pack descriptor missing nak.version")
	}
	if paths, ok := tree.Table("paths"); ok {
		out.resourceRoot, _ = paths.PathStr("resource_root")
		out.libDirs = paths.PathArray("lib_dirs")
	}
	out.environment = tree.EnvMap("environment")
	if loaders, ok := tree.Table("loaders"); ok {
		out.loaders = make(map[string]record.Loader, len(loaders))
		for name, v := range loaders {
			tbl, ok := v.(map[string]any)
			if !ok {
				continue
			}
			t := record.Tree(tbl)
			exec, ok := t.PathStr("exec_path")
			if !ok || exec == "" {
				return nil, fmt.Errorf("pack loader %q missing exec_path", name)
			}
			out.loaders[name] = record.Loader{ExecPath: exec, ArgsTemplate: t.StrArray("args_template")}
		}
	} else if loader, ok := tree.Table("loader"); ok {
		exec, ok := loader.PathStr("exec_path")
		if !ok || exec == "" {
			return nil, fmt.Errorf("pack loader missing exec_path")
		}
		out.loaders = map[string]record.Loader{
			"default": {ExecPath: exec, ArgsTemplate: loader.StrArray("args_template")},
		}
	}
	if exec, ok := tree.Table("execution"); ok {
		out.hasExecution = true
		out.cwd, _ = exec.Str("cwd")
	}
	return out, nil
}

// JSON shapes for the registry record written after NAK placement.
type envValueJSON struct {
	Op        string `json:"op"`
	Value     string `json:"value"`
	Separator string `json:"separator,omitempty"`
}

type loaderJSON struct {
	ExecPath     string   `json:"exec_path"`
	ArgsTemplate []string `json:"args_template,omitempty"`
}

type executionJSON struct {
	Cwd string `json:"cwd"`
}

type nakRecordJSON struct {
	Schema string `json:"schema"`
	Nak    struct {
		ID      string `json:"id"`
		Version string `json:"version"`
	} `json:"nak"`
	Paths struct {
		Root         string   `json:"root"`
		ResourceRoot string   `json:"resource_root"`
		LibDirs      []string `json:"lib_dirs,omitempty"`
	} `json:"paths"`
	Environment map[string]envValueJSON `json:"environment,omitempty"`
	Loaders     map[string]loaderJSON   `json:"loaders,omitempty"`
	Execution   *executionJSON          `json:"execution,omitempty"`
	Provenance  struct {
		PackageHash string `json:"package_hash"`
		InstalledAt string `json:"installed_at"`
		InstalledBy string `json:"installed_by"`
		Source      string `json:"source"`
	} `json:"provenance"`
}

// NakResult reports a completed NAK install.
type NakResult struct {
	ID         string
	Version    string
	Root       string
	RecordRef  string
	RecordPath string
}

// InstallNak installs a runtime package: the tree goes under
// naks/<id>/<version> and a descriptor with absolutized paths lands in
// the registry as <id>@<version>.json.
func (m *Manager) InstallNak(pkgPath string) (*NakResult, error) {
	staging, err := m.stage(pkgPath)
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(staging)

	var packSrc []byte
	for _, name := range []string{"nak.json", "nak.toml"} {
		if data, err := os.ReadFile(filepath.Join(staging, name)); err == nil {
			packSrc = data
			break
		}
	}
	if packSrc == nil {
		return nil, fmt.Errorf("package has no nak.json or nak.toml descriptor")
	}
	pack, err := parseNakPack(string(packSrc))
	if err != nil {
		return nil, err
	}

	recordRef := pack.id + "@" + pack.version + ".json"
	recordPath := m.cfg.NakRecordPath(recordRef)
	if _, err := os.Stat(recordPath); err == nil && !m.Force {
		return nil, fmt.Errorf("NAK %s@%s already installed (use force to overwrite)", pack.id, pack.version)
	}

	hash, err := packaging.HashFile(pkgPath)
	if err != nil {
		return nil, err
	}

	dest := m.cfg.NakDir(pack.id, pack.version)
	if m.Force {
		os.RemoveAll(dest)
	}
	if err := moveIntoPlace(staging, dest); err != nil {
		return nil, err
	}
	root := platform.ToPortable(dest)

	abs := func(rel string) string {
		if rel == "" {
			return root
		}
		return root + "/" + strings.TrimPrefix(platform.ToPortable(rel), "/")
	}

	var rec nakRecordJSON
	rec.Schema = record.NakInstallSchema
	rec.Nak.ID = pack.id
	rec.Nak.Version = pack.version
	rec.Paths.Root = root
	rec.Paths.ResourceRoot = abs(pack.resourceRoot)
	for _, d := range pack.libDirs {
		rec.Paths.LibDirs = append(rec.Paths.LibDirs, abs(d))
	}
	if len(pack.environment) > 0 {
		rec.Environment = make(map[string]envValueJSON, len(pack.environment))
		for k, v := range pack.environment {
			rec.Environment[k] = envValueJSON{Op: string(v.Op), Value: v.Value, Separator: v.Separator}
		}
	}
	if len(pack.loaders) > 0 {
		rec.Loaders = make(map[string]loaderJSON, len(pack.loaders))
		for name, l := range pack.loaders {
			rec.Loaders[name] = loaderJSON{ExecPath: abs(l.ExecPath), ArgsTemplate: l.ArgsTemplate}
		}
	}
	if pack.hasExecution && pack.cwd != "" {
		rec.Execution = &executionJSON{Cwd: pack.cwd}
	}
	rec.Provenance.PackageHash = hash
	rec.Provenance.InstalledAt = m.clock.Now().UTC().Format(time.RFC3339)
	rec.Provenance.InstalledBy = m.InstalledBy
	rec.Provenance.Source = "file:" + filepath.Base(pkgPath)

	data, err := json.MarshalIndent(&rec, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding NAK record: %w", err)
	}
	if err := writeFileAtomic(recordPath, append(data, '\n'), 0o644); err != nil {
		return nil, err
	}

	m.logger.Info("installed NAK", "id", pack.id, "version", pack.version, "root", root)
	return &NakResult{
		ID:         pack.id,
		Version:    pack.version,
		Root:       root,
		RecordRef:  recordRef,
		RecordPath: recordPath,
	}, nil
}

// UninstallNak removes an installed runtime and its registry record.
func (m *Manager) UninstallNak(id, version string) error {
	recordRef := id + "@" + version + ".json"
	recordPath := m.cfg.NakRecordPath(recordRef)
	if _, err := os.Stat(recordPath); err != nil {
		return fmt.Errorf("NAK %s@%s not installed", id, version)
	}

	dir := m.cfg.NakDir(id, version)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("removing %s: %w", dir, err)
	}
	if err := os.Remove(recordPath); err != nil {
		return fmt.Errorf("removing record %s: %w", recordPath, err)
	}
	m.logger.Info("uninstalled NAK", "id", id, "version", version)
	return nil
}
