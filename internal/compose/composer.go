package compose

import (
	"os"
	"strings"

	"github.com/nah-dev/nah/internal/contract"
	"github.com/nah-dev/nah/internal/expand"
	"github.com/nah-dev/nah/internal/manifest"
	"github.com/nah-dev/nah/internal/pathutil"
	"github.com/nah-dev/nah/internal/platform"
	"github.com/nah-dev/nah/internal/record"
	"github.com/nah-dev/nah/internal/warnings"
)

// Inputs are the immutable inputs of one composition. The process
// environment is a snapshot captured by the caller; the composer never
// reads the live environment.
type Inputs struct {
	Manifest        manifest.Manifest
	ManifestReasons []string // invalid_manifest reasons from decoding

	InstallRecord  record.AppInstallRecord
	Profile        *record.HostProfile
	RecordWarnings []record.ParseWarning // parser diagnostics to carry through

	Inventory Inventory

	ProcessEnv map[string]string

	OverridesFileContent string
	OverridesFilePath    string
	HasOverridesFile     bool

	// Now is the composition timestamp (RFC3339 UTC) used only for trust
	// staleness.
	Now string

	EnableTrace bool

	// EntrypointExists overrides the one filesystem probe the composer
	// performs; nil means os.Stat.
	EntrypointExists func(path string) bool
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// normalizeRFC3339 rewrites a +00:00 / -00:00 offset to Z so lexicographic
// comparison works across the two UTC spellings.
func normalizeRFC3339(ts string) string {
	if len(ts) >= 6 {
		suffix := ts[len(ts)-6:]
		if suffix == "+00:00" || suffix == "-00:00" {
			return ts[:len(ts)-6] + "Z"
		}
	}
	return ts
}

func timestampBefore(a, b string) bool {
	return normalizeRFC3339(a) < normalizeRFC3339(b)
}

// Compose builds the launch-contract envelope. Warnings accumulate across
// the whole pipeline; a critical error stops composition at the point of
// detection, keeping the warnings emitted so far.
func Compose(in *Inputs) *contract.Envelope {
	profile := in.Profile
	if profile == nil {
		profile = record.BuiltinEmptyProfile()
	}
	wc := warnings.NewCollector(profile.Warnings)
	env := &contract.Envelope{}
	m := &in.Manifest
	ir := &in.InstallRecord

	fail := func(ce contract.CriticalError) *contract.Envelope {
		env.CriticalError = ce
		env.Warnings = wc.Warnings()
		return env
	}

	for _, reason := range in.ManifestReasons {
		wc.Emit(warnings.InvalidManifest, map[string]string{"reason": reason})
	}
	for _, w := range in.RecordWarnings {
		wc.Emit(w.Key, w.Fields)
	}

	// Step 1: input validation. App snapshot fields are audit-only;
	// disagreement with the manifest is reported, not fatal.
	if ir.App.ID != "" && ir.App.ID != m.ID {
		wc.Emit(warnings.InvalidConfiguration, map[string]string{
			"reason":  "app_field_mismatch",
			"section": "install_record.app",
			"field":   "id",
		})
	}
	if ir.App.Version != "" && ir.App.Version != m.Version {
		wc.Emit(warnings.InvalidConfiguration, map[string]string{
			"reason":  "app_field_mismatch",
			"section": "install_record.app",
			"field":   "version",
		})
	}

	// Step 2: NAK resolution. A complete pin is re-validated against the
	// inventory; a record with no pin at all falls back to live selection
	// (apps installed before a runtime was available). A partial pin is
	// corrupt. Standalone apps skip this entirely.
	var nakRec *record.NakRecord
	nakRecordRef := ""
	nakResolved := false
	if !m.Standalone() {
		switch {
		case ir.Nak.RecordRef == "" && ir.Nak.ID == "" && ir.Nak.Version == "":
			sel := SelectNak(m, profile, in.Inventory, wc)
			if sel.Resolved {
				nakRec = sel.Record
				nakRecordRef = sel.RecordRef
				nakResolved = true
			}
		case ir.Nak.RecordRef == "" || ir.Nak.ID == "" || ir.Nak.Version == "":
			wc.Emit(warnings.NakPinInvalid, map[string]string{"reason": "pin_fields_missing"})
		default:
			nakRec, nakResolved = LoadPinnedNak(ir, m, profile, in.Inventory, wc)
			if nakResolved {
				nakRecordRef = ir.Nak.RecordRef
			}
		}
	}

	// Step 3: app fields and entrypoint.
	c := &env.Contract
	c.App.ID = m.ID
	c.App.Version = m.Version
	c.App.Root = ir.Paths.InstallRoot

	if m.EntrypointPath == "" {
		wc.Emit(warnings.InvalidManifest, map[string]string{"reason": "entrypoint_missing"})
		return fail(contract.ErrEntrypointNotFound)
	}
	if pathutil.IsAbsolute(m.EntrypointPath) {
		wc.Emit(warnings.InvalidManifest, map[string]string{"reason": "entrypoint_absolute"})
		return fail(contract.ErrEntrypointNotFound)
	}
	entry := pathutil.NormalizeUnderRoot(c.App.Root, m.EntrypointPath, false)
	if !entry.OK {
		return fail(contract.ErrPathTraversal)
	}
	c.App.Entrypoint = entry.Path

	exists := in.EntrypointExists
	if exists == nil {
		exists = fileExists
	}
	if !exists(c.App.Entrypoint) {
		return fail(contract.ErrEntrypointNotFound)
	}

	// Step 4: NAK fields and path containment.
	if nakResolved {
		c.Nak.ID = nakRec.Nak.ID
		c.Nak.Version = nakRec.Nak.Version
		c.Nak.Root = nakRec.Paths.Root
		c.Nak.ResourceRoot = nakRec.Paths.ResourceRoot
		c.Nak.RecordRef = nakRecordRef

		for _, libDir := range nakRec.Paths.LibDirs {
			if !pathutil.IsAbsolute(libDir) || !pathutil.IsUnderRoot(nakRec.Paths.Root, libDir) {
				return fail(contract.ErrPathTraversal)
			}
		}
		// Loader exec_paths may carry placeholders; they are validated
		// after the environment is expanded.
	}

	// Step 5: environment algebra.
	effective := make(map[string]string)
	tr := newTraceRecorder(in.EnableTrace)

	applyEnvValue := func(key string, ev record.EnvValue, sourceKind, sourcePath string, rank int) {
		current, present := effective[key]
		val, keep := ev.Apply(current, present)
		if keep {
			effective[key] = val
			tr.record(key, val, sourceKind, sourcePath, rank, ev.Op, true)
		} else {
			delete(effective, key)
			tr.record(key, "", sourceKind, sourcePath, rank, ev.Op, true)
		}
	}

	// Rank 1: host profile.
	for _, key := range sortedStrings(profile.Environment) {
		applyEnvValue(key, profile.Environment[key], "profile", "host_profile", 1)
	}

	// Rank 2: NAK descriptor.
	if nakResolved {
		for _, key := range sortedStrings(nakRec.Environment) {
			applyEnvValue(key, nakRec.Environment[key], "nak", nakRecordRef, 2)
		}
	}

	// Rank 3: manifest defaults, fill-only.
	for _, envVar := range m.EnvVars {
		key, val, ok := strings.Cut(envVar, "=")
		if !ok {
			continue
		}
		_, present := effective[key]
		if !present {
			effective[key] = val
		}
		tr.record(key, val, "manifest", "app_manifest", 3, record.EnvSet, !present)
	}

	// Rank 4: install record overrides.
	for _, key := range sortedStrings(ir.Overrides.Environment) {
		applyEnvValue(key, ir.Overrides.Environment[key], "install_override", ir.SourcePath, 4)
	}

	// Rank 5: NAH standard keys always overwrite.
	setStandard := func(key, val string) {
		effective[key] = val
		tr.record(key, val, "nah_standard", "nah", 5, record.EnvSet, true)
	}
	setStandard("NAH_APP_ID", c.App.ID)
	setStandard("NAH_APP_VERSION", c.App.Version)
	setStandard("NAH_APP_ROOT", c.App.Root)
	setStandard("NAH_APP_ENTRY", c.App.Entrypoint)
	if nakResolved {
		setStandard("NAH_NAK_ID", c.Nak.ID)
		setStandard("NAH_NAK_VERSION", c.Nak.Version)
		setStandard("NAH_NAK_ROOT", c.Nak.Root)
	}

	// Ranks 6 and 7: per-invocation overrides, gated by the profile.
	applyProcessOverrides(in.ProcessEnv, profile, wc, func(key, value string) {
		effective[key] = value
		tr.record(key, value, "process_override", overridePrefix+"ENVIRONMENT", 6, record.EnvSet, true)
	})
	if in.HasOverridesFile {
		applyFileOverrides(in.OverridesFileContent, in.OverridesFilePath, profile, wc, func(key, value string) {
			effective[key] = value
			tr.record(key, value, "file_override", in.OverridesFilePath, 7, record.EnvSet, true)
		})
	}

	// Step 6: placeholder expansion — the environment map first, then
	// every templated input against the expanded map.
	expand.Map(effective, in.ProcessEnv, wc)

	var loaderName string
	loaderFound := false
	loaderExec := ""
	var expandedArgsTemplate []string
	expandedCwd := ""
	if nakResolved && nakRec.HasLoaders() {
		// Every loader's exec_path must expand to an absolute path under
		// the NAK root, selected or not.
		execPaths := make(map[string]string, len(nakRec.Loaders))
		for _, name := range sortedStrings(nakRec.Loaders) {
			l := nakRec.Loaders[name]
			r := expand.String(l.ExecPath, effective, in.ProcessEnv,
				"nak_record.loaders."+name+".exec_path", wc)
			if !pathutil.IsAbsolute(r.Value) || !pathutil.IsUnderRoot(nakRec.Paths.Root, r.Value) {
				return fail(contract.ErrPathTraversal)
			}
			execPaths[name] = r.Value
		}

		loaderName = ir.Nak.Loader
		if loaderName == "" {
			if len(nakRec.Loaders) == 1 {
				for name := range nakRec.Loaders {
					loaderName = name
				}
			} else if _, ok := nakRec.Loaders["default"]; ok {
				loaderName = "default"
			}
		}
		if loaderName != "" {
			if l, ok := nakRec.Loaders[loaderName]; ok {
				loaderFound = true
				loaderExec = execPaths[loaderName]
				expandedArgsTemplate = expand.Slice(
					l.ArgsTemplate, effective, in.ProcessEnv,
					"nak_record.loaders."+loaderName+".args_template", wc)
			}
		}
	}
	if nakResolved && nakRec.Execution.Present && nakRec.Execution.Cwd != "" {
		r := expand.String(nakRec.Execution.Cwd, effective, in.ProcessEnv, "nak_record.execution.cwd", wc)
		expandedCwd = r.Value
	}

	libPrepend := expand.Slice(profile.Paths.LibraryPrepend, effective, in.ProcessEnv, "profile.paths.library_prepend", wc)
	libAppend := expand.Slice(profile.Paths.LibraryAppend, effective, in.ProcessEnv, "profile.paths.library_append", wc)
	ovrLibPrepend := expand.Slice(ir.Overrides.Paths.LibraryPrepend, effective, in.ProcessEnv, "install_record.overrides.paths.library_prepend", wc)
	ovrArgsPrepend := expand.Slice(ir.Overrides.Arguments.Prepend, effective, in.ProcessEnv, "install_record.overrides.arguments.prepend", wc)
	ovrArgsAppend := expand.Slice(ir.Overrides.Arguments.Append, effective, in.ProcessEnv, "install_record.overrides.arguments.append", wc)
	entryArgs := expand.Slice(m.EntrypointArgs, effective, in.ProcessEnv, "manifest.entrypoint_args", wc)

	// Step 7: capability derivation.
	enf, usage := deriveEnforcement(m.PermissionsFilesystem, m.PermissionsNetwork, profile, wc)
	c.Enforcement = enf
	c.CapabilityUsage = usage

	// Step 8: execution binary and arguments.
	var initialArgs []string
	if nakResolved && nakRec.HasLoaders() {
		switch {
		case loaderName == "":
			wc.Emit(warnings.NakLoaderRequired, map[string]string{
				"reason": "multiple_loaders_none_selected",
			})
			c.Execution.Binary = c.App.Entrypoint
		case !loaderFound:
			wc.Emit(warnings.NakLoaderMissing, map[string]string{
				"requested": loaderName,
				"reason":    "loader_not_in_nak",
			})
			return fail(contract.ErrNakLoaderInvalid)
		default:
			c.Execution.Binary = loaderExec
			initialArgs = expandedArgsTemplate
		}
	} else {
		// Standalone app, libs-only NAK, or unresolved runtime: the app
		// entrypoint runs directly.
		c.Execution.Binary = c.App.Entrypoint
	}

	args := make([]string, 0, len(ovrArgsPrepend)+len(initialArgs)+len(entryArgs)+len(ovrArgsAppend))
	args = append(args, ovrArgsPrepend...)
	args = append(args, initialArgs...)
	args = append(args, entryArgs...)
	args = append(args, ovrArgsAppend...)
	c.Execution.Arguments = args

	// Step 9: working directory.
	if nakResolved && nakRec.Execution.Present && expandedCwd != "" {
		if pathutil.IsAbsolute(expandedCwd) {
			c.Execution.Cwd = expandedCwd
		} else {
			r := pathutil.NormalizeUnderRoot(nakRec.Paths.Root, expandedCwd, false)
			if !r.OK {
				return fail(contract.ErrPathTraversal)
			}
			c.Execution.Cwd = r.Path
		}
	} else {
		c.Execution.Cwd = c.App.Root
	}

	// Step 10: library paths.
	c.Execution.LibraryPathEnvKey = platform.LibraryPathEnvKey()

	appendLibPath := func(path, source string) {
		if !pathutil.IsAbsolute(path) {
			wc.Emit(warnings.InvalidLibraryPath, map[string]string{
				"path":   path,
				"source": source,
			})
			return
		}
		c.Execution.LibraryPaths = append(c.Execution.LibraryPaths, path)
	}

	for _, p := range libPrepend {
		appendLibPath(p, "profile.paths.library_prepend")
	}
	for _, p := range ovrLibPrepend {
		appendLibPath(p, "install_record.overrides.paths.library_prepend")
	}
	if nakResolved {
		c.Execution.LibraryPaths = append(c.Execution.LibraryPaths, nakRec.Paths.LibDirs...)
	}
	for _, libDir := range m.LibDirs {
		if pathutil.IsAbsolute(libDir) {
			wc.Emit(warnings.InvalidManifest, map[string]string{"reason": "lib_dir_absolute"})
			continue
		}
		r := pathutil.NormalizeUnderRoot(c.App.Root, libDir, false)
		if !r.OK {
			return fail(contract.ErrPathTraversal)
		}
		c.Execution.LibraryPaths = append(c.Execution.LibraryPaths, r.Path)
	}
	for _, p := range libAppend {
		appendLibPath(p, "profile.paths.library_append")
	}

	// Step 11: asset exports, last id wins.
	for _, exp := range m.AssetExports {
		if pathutil.IsAbsolute(exp.Path) {
			wc.Emit(warnings.InvalidManifest, map[string]string{"reason": "asset_export_absolute"})
			continue
		}
		r := pathutil.NormalizeUnderRoot(c.App.Root, exp.Path, false)
		if !r.OK {
			return fail(contract.ErrPathTraversal)
		}
		if c.Exports == nil {
			c.Exports = make(map[string]contract.Export)
		}
		c.Exports[exp.ID] = contract.Export{ID: exp.ID, Path: r.Path, Type: exp.Type}
	}

	c.Environment = effective

	// Step 12: trust carry-through and assessment warnings.
	c.Trust.State = string(ir.Trust.State)
	c.Trust.Source = ir.Trust.Source
	c.Trust.EvaluatedAt = ir.Trust.EvaluatedAt
	c.Trust.ExpiresAt = ir.Trust.ExpiresAt
	c.Trust.InputsHash = ir.Trust.InputsHash
	c.Trust.Details = ir.Trust.Details

	if ir.Trust.Absent() {
		c.Trust.State = string(record.TrustUnknown)
		wc.Emit(warnings.TrustStateUnknown, nil)
	} else {
		switch ir.Trust.State {
		case record.TrustVerified:
			// No warning for verified.
		case record.TrustUnverified:
			wc.Emit(warnings.TrustStateUnverified, nil)
		case record.TrustFailed:
			wc.Emit(warnings.TrustStateFailed, nil)
		default:
			wc.Emit(warnings.TrustStateUnknown, nil)
		}
	}

	if ir.Trust.ExpiresAt != "" && in.Now != "" && timestampBefore(ir.Trust.ExpiresAt, in.Now) {
		wc.Emit(warnings.TrustStateStale, nil)
	}

	env.Warnings = wc.Warnings()
	env.Trace = tr.build(effective)
	return env
}
