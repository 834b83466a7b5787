package compose

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nah-dev/nah/internal/contract"
	"github.com/nah-dev/nah/internal/manifest"
	"github.com/nah-dev/nah/internal/pathutil"
	"github.com/nah-dev/nah/internal/platform"
	"github.com/nah-dev/nah/internal/record"
	"github.com/nah-dev/nah/internal/warnings"
)

const luaNakJSON = `{
  "nak": {"id": "lua", "version": "5.4.6"},
  "paths": {
    "root": "/nah/naks/lua/5.4.6",
    "lib_dirs": ["/nah/naks/lua/5.4.6/lib"]
  },
  "loaders": {
    "default": {
      "exec_path": "/nah/naks/lua/5.4.6/bin/lua",
      "args_template": ["{NAH_APP_ENTRY}"]
    }
  }
}`

func parseNak(t *testing.T, src string) *record.NakRecord {
	t.Helper()
	res := record.ParseNakRecord(src, "test")
	require.True(t, res.OK, "nak record parse failed: %s", res.Err)
	return &res.Record
}

func luaManifest(t *testing.T) manifest.Manifest {
	t.Helper()
	m, err := manifest.ParseInput(`
schema = "nah.manifest.input.v1"
[app]
id = "com.example.app"
version = "1.0.0"
nak_id = "lua"
nak_version_req = ">=5.4"
entrypoint = "main.lua"
`)
	require.NoError(t, err)
	return *m
}

func installRecord() record.AppInstallRecord {
	var ir record.AppInstallRecord
	ir.Install.InstanceID = "com.example.app-1.0.0-test"
	ir.Paths.InstallRoot = "/apps/app-1.0.0"
	ir.Trust.State = record.TrustUnknown
	ir.SourcePath = "installs/test.toml"
	return ir
}

func baseInputs(t *testing.T) *Inputs {
	t.Helper()
	return &Inputs{
		Manifest:      luaManifest(t),
		InstallRecord: installRecord(),
		Inventory: Inventory{
			"lua@5.4.6.json": parseNak(t, luaNakJSON),
		},
		EntrypointExists: func(string) bool { return true },
	}
}

func warningKeys(env *contract.Envelope) []warnings.Key {
	keys := make([]warnings.Key, 0, len(env.Warnings))
	for _, w := range env.Warnings {
		keys = append(keys, w.Key)
	}
	return keys
}

func hasWarning(env *contract.Envelope, key warnings.Key) bool {
	for _, w := range env.Warnings {
		if w.Key == key {
			return true
		}
	}
	return false
}

// S1: canonical happy path.
func TestCompose_CanonicalHappyPath(t *testing.T) {
	in := baseInputs(t)
	env := Compose(in)

	require.False(t, env.Failed(), "warnings: %v", env.Warnings)
	c := env.Contract

	assert.Equal(t, "/nah/naks/lua/5.4.6/bin/lua", c.Execution.Binary)
	assert.Equal(t, []string{"/apps/app-1.0.0/main.lua"}, c.Execution.Arguments)
	assert.Equal(t, []string{"/nah/naks/lua/5.4.6/lib"}, c.Execution.LibraryPaths)
	assert.Equal(t, platform.LibraryPathEnvKey(), c.Execution.LibraryPathEnvKey)
	assert.Equal(t, "/apps/app-1.0.0", c.Execution.Cwd)

	assert.Equal(t, "com.example.app", c.App.ID)
	assert.Equal(t, "/apps/app-1.0.0/main.lua", c.App.Entrypoint)
	assert.Equal(t, "lua", c.Nak.ID)
	assert.Equal(t, "5.4.6", c.Nak.Version)
	assert.Equal(t, "lua@5.4.6.json", c.Nak.RecordRef)

	assert.Equal(t, "/apps/app-1.0.0", c.Environment["NAH_APP_ROOT"])
	assert.Equal(t, "5.4.6", c.Environment["NAH_NAK_VERSION"])

	// The only expected diagnostic is the trust section being absent.
	assert.Equal(t, []warnings.Key{warnings.TrustStateUnknown}, warningKeys(env))
}

// S2: missing runtime falls back to the entrypoint.
func TestCompose_MissingRuntime(t *testing.T) {
	in := baseInputs(t)
	in.Inventory = Inventory{}

	env := Compose(in)

	require.False(t, env.Failed())
	assert.Equal(t, "/apps/app-1.0.0/main.lua", env.Contract.Execution.Binary)
	assert.True(t, hasWarning(env, warnings.NakNotFound))
	assert.Empty(t, env.Contract.Nak.ID)

	for _, w := range env.Warnings {
		if w.Key == warnings.NakNotFound {
			assert.Equal(t, warnings.ActionWarn, w.Action)
		}
	}
}

// S3: entrypoint path escape is critical.
func TestCompose_PathEscape(t *testing.T) {
	in := baseInputs(t)
	in.Manifest.EntrypointPath = "../../etc/passwd"

	env := Compose(in)

	require.True(t, env.Failed())
	assert.Equal(t, contract.ErrPathTraversal, env.CriticalError)
}

// S4: environment algebra across the four configurable layers.
func TestCompose_EnvironmentAlgebra(t *testing.T) {
	in := baseInputs(t)
	in.EnableTrace = true

	profile := record.BuiltinEmptyProfile()
	profile.Environment = map[string]record.EnvValue{
		"PATH": {Op: record.EnvSet, Value: "/base"},
	}
	in.Profile = profile

	nak := parseNak(t, `{
	  "nak": {"id": "lua", "version": "5.4.6"},
	  "paths": {"root": "/nah/naks/lua/5.4.6"},
	  "environment": {
	    "PATH": {"op": "prepend", "value": "/nak/bin", "separator": ":"}
	  }
	}`)
	in.Inventory = Inventory{"lua@5.4.6.json": nak}

	in.Manifest.EnvVars = []string{"PATH=/wrong"}
	in.InstallRecord.Overrides.Environment = map[string]record.EnvValue{
		"PATH": {Op: record.EnvAppend, Value: "/extra"},
	}

	env := Compose(in)

	require.False(t, env.Failed(), "warnings: %v", env.Warnings)
	assert.Equal(t, "/nak/bin:/base:/extra", env.Contract.Environment["PATH"])

	require.NotNil(t, env.Trace)
	history := env.Trace["environment"]["PATH"].History
	require.Len(t, history, 4)
	accepted := []bool{history[0].Accepted, history[1].Accepted, history[2].Accepted, history[3].Accepted}
	assert.Equal(t, []bool{true, true, false, true}, accepted)
	assert.Equal(t, []int{1, 2, 3, 4}, []int{
		history[0].PrecedenceRank, history[1].PrecedenceRank,
		history[2].PrecedenceRank, history[3].PrecedenceRank,
	})
}

// S5: stale trust emits exactly one trust_state_stale.
func TestCompose_StaleTrust(t *testing.T) {
	in := baseInputs(t)
	in.InstallRecord.Trust = record.Trust{
		State:       record.TrustVerified,
		Source:      "policy",
		EvaluatedAt: "2019-12-01T00:00:00Z",
		ExpiresAt:   "2020-01-01T00:00:00Z",
	}
	in.Now = "2024-06-01T00:00:00Z"

	env := Compose(in)

	require.False(t, env.Failed())
	assert.Equal(t, "verified", env.Contract.Trust.State)

	stale := 0
	for _, w := range env.Warnings {
		if w.Key == warnings.TrustStateStale {
			stale++
		}
	}
	assert.Equal(t, 1, stale)
	assert.False(t, hasWarning(env, warnings.TrustStateUnknown))
}

func TestCompose_TrustNotStaleWithOffsetSpelling(t *testing.T) {
	in := baseInputs(t)
	in.InstallRecord.Trust = record.Trust{
		State:       record.TrustVerified,
		Source:      "policy",
		EvaluatedAt: "2024-01-01T00:00:00Z",
		ExpiresAt:   "2024-06-01T00:00:00+00:00",
	}
	in.Now = "2024-06-01T00:00:00Z"

	env := Compose(in)
	assert.False(t, hasWarning(env, warnings.TrustStateStale),
		"+00:00 must compare equal to Z, not stale")
}

func TestCompose_TrustStateWarnings(t *testing.T) {
	tests := []struct {
		state record.TrustState
		want  warnings.Key
	}{
		{record.TrustUnverified, warnings.TrustStateUnverified},
		{record.TrustFailed, warnings.TrustStateFailed},
		{record.TrustUnknown, warnings.TrustStateUnknown},
	}
	for _, tt := range tests {
		in := baseInputs(t)
		in.InstallRecord.Trust = record.Trust{State: tt.state, Source: "policy", EvaluatedAt: "2024-01-01T00:00:00Z"}
		env := Compose(in)
		assert.True(t, hasWarning(env, tt.want), "state %s", tt.state)
	}

	// Verified emits nothing.
	in := baseInputs(t)
	in.InstallRecord.Trust = record.Trust{State: record.TrustVerified, Source: "policy", EvaluatedAt: "2024-01-01T00:00:00Z"}
	env := Compose(in)
	for _, w := range env.Warnings {
		assert.NotContains(t, string(w.Key), "trust_state", "verified should not warn: %v", w)
	}
}

// S6 is covered in selector_test.go (canonical vs mapped selection).

func TestCompose_PinnedNakValidates(t *testing.T) {
	in := baseInputs(t)
	in.InstallRecord.Nak.ID = "lua"
	in.InstallRecord.Nak.Version = "5.4.6"
	in.InstallRecord.Nak.RecordRef = "lua@5.4.6.json"

	env := Compose(in)
	require.False(t, env.Failed())
	assert.Equal(t, "lua@5.4.6.json", env.Contract.Nak.RecordRef)
}

func TestCompose_PinVersionMismatch(t *testing.T) {
	in := baseInputs(t)
	in.InstallRecord.Nak.ID = "lua"
	in.InstallRecord.Nak.Version = "5.4.5" // pin disagrees with descriptor
	in.InstallRecord.Nak.RecordRef = "lua@5.4.6.json"

	env := Compose(in)

	require.False(t, env.Failed())
	assert.True(t, hasWarning(env, warnings.NakPinInvalid))
	assert.Equal(t, "/apps/app-1.0.0/main.lua", env.Contract.Execution.Binary)
}

func TestCompose_PartialPinIsInvalid(t *testing.T) {
	in := baseInputs(t)
	in.InstallRecord.Nak.RecordRef = "lua@5.4.6.json" // id and version missing

	env := Compose(in)
	assert.True(t, hasWarning(env, warnings.NakPinInvalid))
}

func TestCompose_EntrypointMissingIsCritical(t *testing.T) {
	in := baseInputs(t)
	in.Manifest.EntrypointPath = ""

	env := Compose(in)
	require.True(t, env.Failed())
	assert.Equal(t, contract.ErrEntrypointNotFound, env.CriticalError)
}

func TestCompose_EntrypointAbsoluteIsCritical(t *testing.T) {
	in := baseInputs(t)
	in.Manifest.EntrypointPath = "/etc/passwd"

	env := Compose(in)
	require.True(t, env.Failed())
	assert.Equal(t, contract.ErrEntrypointNotFound, env.CriticalError)
}

func TestCompose_EntrypointNotOnDisk(t *testing.T) {
	in := baseInputs(t)
	in.EntrypointExists = func(string) bool { return false }

	env := Compose(in)
	require.True(t, env.Failed())
	assert.Equal(t, contract.ErrEntrypointNotFound, env.CriticalError)
}

func TestCompose_NamedLoaderMissingIsCritical(t *testing.T) {
	in := baseInputs(t)
	in.InstallRecord.Nak.ID = "lua"
	in.InstallRecord.Nak.Version = "5.4.6"
	in.InstallRecord.Nak.RecordRef = "lua@5.4.6.json"
	in.InstallRecord.Nak.Loader = "jit" // not provided by the NAK

	env := Compose(in)

	require.True(t, env.Failed())
	assert.Equal(t, contract.ErrNakLoaderInvalid, env.CriticalError)
	assert.True(t, hasWarning(env, warnings.NakLoaderMissing))
}

func TestCompose_MultipleLoadersRequireSelection(t *testing.T) {
	nak := parseNak(t, `{
	  "nak": {"id": "lua", "version": "5.4.6"},
	  "paths": {"root": "/nah/naks/lua/5.4.6"},
	  "loaders": {
	    "plain": {"exec_path": "/nah/naks/lua/5.4.6/bin/lua"},
	    "jit": {"exec_path": "/nah/naks/lua/5.4.6/bin/luajit"}
	  }
	}`)
	in := baseInputs(t)
	in.Inventory = Inventory{"lua@5.4.6.json": nak}

	env := Compose(in)

	require.False(t, env.Failed())
	assert.True(t, hasWarning(env, warnings.NakLoaderRequired))
	assert.Equal(t, "/apps/app-1.0.0/main.lua", env.Contract.Execution.Binary)
}

func TestCompose_LoaderExecPathPlaceholders(t *testing.T) {
	nak := parseNak(t, `{
	  "nak": {"id": "lua", "version": "5.4.6"},
	  "paths": {"root": "/nah/naks/lua/5.4.6"},
	  "loaders": {"default": {"exec_path": "{NAH_NAK_ROOT}/bin/lua"}}
	}`)
	in := baseInputs(t)
	in.Inventory = Inventory{"lua@5.4.6.json": nak}

	env := Compose(in)

	require.False(t, env.Failed(), "warnings: %v", env.Warnings)
	assert.Equal(t, "/nah/naks/lua/5.4.6/bin/lua", env.Contract.Execution.Binary)
}

func TestCompose_LoaderExecPathEscapeIsCritical(t *testing.T) {
	nak := parseNak(t, `{
	  "nak": {"id": "lua", "version": "5.4.6"},
	  "paths": {"root": "/nah/naks/lua/5.4.6"},
	  "loaders": {"default": {"exec_path": "/usr/bin/lua"}}
	}`)
	in := baseInputs(t)
	in.Inventory = Inventory{"lua@5.4.6.json": nak}

	env := Compose(in)

	require.True(t, env.Failed())
	assert.Equal(t, contract.ErrPathTraversal, env.CriticalError)
}

func TestCompose_ArgumentCompositionOrder(t *testing.T) {
	in := baseInputs(t)
	in.Manifest.EntrypointArgs = []string{"--app-arg"}
	in.InstallRecord.Overrides.Arguments.Prepend = []string{"--pre"}
	in.InstallRecord.Overrides.Arguments.Append = []string{"--post"}

	env := Compose(in)

	require.False(t, env.Failed())
	assert.Equal(t,
		[]string{"--pre", "/apps/app-1.0.0/main.lua", "--app-arg", "--post"},
		env.Contract.Execution.Arguments)
}

func TestCompose_NakLibDirEscapeIsCritical(t *testing.T) {
	nak := parseNak(t, `{
	  "nak": {"id": "lua", "version": "5.4.6"},
	  "paths": {"root": "/nah/naks/lua/5.4.6", "lib_dirs": ["/usr/lib"]}
	}`)
	in := baseInputs(t)
	in.Inventory = Inventory{"lua@5.4.6.json": nak}

	env := Compose(in)
	require.True(t, env.Failed())
	assert.Equal(t, contract.ErrPathTraversal, env.CriticalError)
}

func TestCompose_ManifestLibDirsResolveUnderAppRoot(t *testing.T) {
	in := baseInputs(t)
	in.Manifest.LibDirs = []string{"lib", "vendor/lib"}

	env := Compose(in)

	require.False(t, env.Failed())
	assert.Equal(t, []string{
		"/nah/naks/lua/5.4.6/lib",
		"/apps/app-1.0.0/lib",
		"/apps/app-1.0.0/vendor/lib",
	}, env.Contract.Execution.LibraryPaths)
}

func TestCompose_ManifestLibDirEscapeIsCritical(t *testing.T) {
	in := baseInputs(t)
	in.Manifest.LibDirs = []string{"../outside"}

	env := Compose(in)
	require.True(t, env.Failed())
	assert.Equal(t, contract.ErrPathTraversal, env.CriticalError)
}

func TestCompose_NonAbsoluteProfileLibraryPath(t *testing.T) {
	in := baseInputs(t)
	profile := record.BuiltinEmptyProfile()
	profile.Paths.LibraryPrepend = []string{"relative/libs", "/ok/libs"}
	in.Profile = profile

	env := Compose(in)

	require.False(t, env.Failed())
	assert.True(t, hasWarning(env, warnings.InvalidLibraryPath))
	assert.Contains(t, env.Contract.Execution.LibraryPaths, "/ok/libs")
	assert.NotContains(t, env.Contract.Execution.LibraryPaths, "relative/libs")
}

func TestCompose_CwdFromNakRecord(t *testing.T) {
	nak := parseNak(t, `{
	  "nak": {"id": "lua", "version": "5.4.6"},
	  "paths": {"root": "/nah/naks/lua/5.4.6"},
	  "loaders": {"default": {"exec_path": "/nah/naks/lua/5.4.6/bin/lua"}},
	  "execution": {"cwd": "work"}
	}`)
	in := baseInputs(t)
	in.Inventory = Inventory{"lua@5.4.6.json": nak}

	env := Compose(in)
	require.False(t, env.Failed())
	assert.Equal(t, "/nah/naks/lua/5.4.6/work", env.Contract.Execution.Cwd)
}

func TestCompose_CwdEscapeIsCritical(t *testing.T) {
	nak := parseNak(t, `{
	  "nak": {"id": "lua", "version": "5.4.6"},
	  "paths": {"root": "/nah/naks/lua/5.4.6"},
	  "execution": {"cwd": "../../escape"}
	}`)
	in := baseInputs(t)
	in.Inventory = Inventory{"lua@5.4.6.json": nak}

	env := Compose(in)
	require.True(t, env.Failed())
	assert.Equal(t, contract.ErrPathTraversal, env.CriticalError)
}

func TestCompose_AssetExportsLastWins(t *testing.T) {
	in := baseInputs(t)
	in.Manifest.AssetExports = []manifest.AssetExport{
		{ID: "data", Path: "old/data", Type: "directory"},
		{ID: "data", Path: "new/data", Type: "directory"},
		{ID: "icons", Path: "assets/icons"},
	}

	env := Compose(in)

	require.False(t, env.Failed())
	require.Len(t, env.Contract.Exports, 2)
	assert.Equal(t, "/apps/app-1.0.0/new/data", env.Contract.Exports["data"].Path)
	assert.Equal(t, "/apps/app-1.0.0/assets/icons", env.Contract.Exports["icons"].Path)
}

func TestCompose_CapabilityDerivation(t *testing.T) {
	in := baseInputs(t)
	in.Manifest.PermissionsFilesystem = []string{"read:assets", "write:state", "chmod:x"}
	in.Manifest.PermissionsNetwork = []string{"connect:api.example.com"}

	profile := record.BuiltinEmptyProfile()
	profile.Capabilities = map[string]string{
		"fs.read.assets": "sandbox.ro.assets",
		"net.connect.*":  "firewall.egress",
	}
	in.Profile = profile

	env := Compose(in)
	require.False(t, env.Failed())
	c := env.Contract

	assert.Equal(t, []string{"sandbox.ro.assets"}, c.Enforcement.Filesystem)
	assert.Equal(t, []string{"firewall.egress"}, c.Enforcement.Network)

	assert.True(t, hasWarning(env, warnings.CapabilityMalformed)) // chmod:x
	assert.True(t, hasWarning(env, warnings.CapabilityMissing))   // fs.write.state

	assert.True(t, c.CapabilityUsage.Present)
	assert.Equal(t, []string{"fs.read.assets", "fs.write.state", "net.connect.api.example.com"},
		c.CapabilityUsage.RequiredCapabilities)
	assert.Equal(t, []string{"fs.write.state"}, c.CapabilityUsage.CriticalCapabilities)
	assert.Empty(t, c.CapabilityUsage.OptionalCapabilities)
}

func TestCompose_AppFieldMismatchWarns(t *testing.T) {
	in := baseInputs(t)
	in.InstallRecord.App.ID = "com.other.app"
	in.InstallRecord.App.Version = "9.9.9"

	env := Compose(in)

	require.False(t, env.Failed())
	mismatches := 0
	for _, w := range env.Warnings {
		if w.Key == warnings.InvalidConfiguration && w.Fields["reason"] == "app_field_mismatch" {
			mismatches++
		}
	}
	assert.Equal(t, 2, mismatches)
}

func TestCompose_StandaloneApp(t *testing.T) {
	m, err := manifest.ParseInput(`
schema = "nah.manifest.input.v1"
[app]
id = "com.example.tool"
version = "2.0.0"
entrypoint = "bin/tool"
`)
	if err != nil {
		t.Fatal(err)
	}
	in := baseInputs(t)
	in.Manifest = *m

	env := Compose(in)

	require.False(t, env.Failed())
	assert.Equal(t, "/apps/app-1.0.0/bin/tool", env.Contract.Execution.Binary)
	assert.Empty(t, env.Contract.Nak.ID)
	assert.False(t, hasWarning(env, warnings.NakNotFound))
	assert.NotContains(t, env.Contract.Environment, "NAH_NAK_ID")
}

// Every absolute path in the contract must lie under the app root, the
// NAK root, or a profile-declared prefix.
func TestCompose_PathContainment(t *testing.T) {
	in := baseInputs(t)
	in.Manifest.LibDirs = []string{"lib"}
	in.Manifest.AssetExports = []manifest.AssetExport{{ID: "data", Path: "share/data"}}
	profile := record.BuiltinEmptyProfile()
	profile.Paths.LibraryPrepend = []string{"/opt/host/lib"}
	in.Profile = profile

	env := Compose(in)
	require.False(t, env.Failed())
	c := env.Contract

	roots := []string{c.App.Root, c.Nak.Root, "/opt/host/lib"}
	contained := func(path string) bool {
		for _, root := range roots {
			if root != "" && pathutil.IsUnderRoot(root, path) {
				return true
			}
		}
		return false
	}

	paths := []string{c.App.Entrypoint, c.Execution.Binary, c.Execution.Cwd}
	paths = append(paths, c.Execution.LibraryPaths...)
	for _, e := range c.Exports {
		paths = append(paths, e.Path)
	}
	for _, p := range paths {
		assert.True(t, contained(p), "path %q not under any root %v", p, roots)
	}
}

func TestCompose_Determinism(t *testing.T) {
	build := func() string {
		in := baseInputs(t)
		in.Manifest.EnvVars = []string{"B=2", "A=1"}
		in.Now = "2024-06-01T00:00:00Z"
		return contract.Serialize(Compose(in), true)
	}

	first := build()
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, build(), "iteration %d differs", i)
	}
}
