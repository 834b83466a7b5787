// End-to-end flow over the real filesystem: pack an app and a NAK,
// install both, compose the launch contract through the host API, and
// check the serialized envelope.
package nah_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/nah-dev/nah/internal/config"
	"github.com/nah-dev/nah/internal/contract"
	"github.com/nah-dev/nah/internal/host"
	"github.com/nah-dev/nah/internal/install"
	"github.com/nah-dev/nah/internal/log"
	"github.com/nah-dev/nah/internal/manifest"
	"github.com/nah-dev/nah/internal/packaging"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestPackInstallCompose(t *testing.T) {
	work := t.TempDir()
	cfg := config.ConfigAt(filepath.Join(work, "nah-root"))
	clock := clockwork.NewFakeClockAt(time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC))
	mgr := install.NewManager(cfg, clock, log.NewNoop())

	// Build and pack a NAK package.
	nakTree := filepath.Join(work, "lua-tree")
	writeFile(t, filepath.Join(nakTree, "bin", "lua"), "#!/bin/sh\n")
	writeFile(t, filepath.Join(nakTree, "lib", "liblua.so"), "")
	writeFile(t, filepath.Join(nakTree, "nak.json"), `{
	  "nak": {"id": "lua", "version": "5.4.6"},
	  "paths": {"lib_dirs": ["lib"]},
	  "environment": {
	    "LUA_HOME": "{NAH_NAK_ROOT}"
	  },
	  "loaders": {"default": {"exec_path": "bin/lua", "args_template": ["{NAH_APP_ENTRY}"]}}
	}`)
	nakPkg := filepath.Join(work, "lua-5.4.6.nak.tgz")
	if err := packaging.Pack(nakTree, nakPkg); err != nil {
		t.Fatal(err)
	}
	if _, err := mgr.InstallNak(nakPkg); err != nil {
		t.Fatalf("InstallNak: %v", err)
	}

	// Build and pack an app package.
	m, err := manifest.ParseInput(`
schema = "nah.manifest.input.v1"
[app]
id = "com.example.greeter"
version = "1.2.0"
nak_id = "lua"
nak_version_req = "^5.4.0"
entrypoint = "main.lua"
args = ["--data", "{NAH_APP_ROOT}/data"]

[env]
GREETING = "hello"

[paths]
lib_dirs = ["lib"]

[[exports]]
id = "docs"
path = "share/docs"
type = "directory"
`)
	if err != nil {
		t.Fatal(err)
	}
	blob, err := m.Encode()
	if err != nil {
		t.Fatal(err)
	}
	appTree := filepath.Join(work, "app-tree")
	if err := os.MkdirAll(filepath.Join(appTree, "lib"), 0o755); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(appTree, "main.lua"), "print('hi')\n")
	writeFile(t, filepath.Join(appTree, "share", "docs", "index.md"), "# docs\n")
	if err := os.WriteFile(filepath.Join(appTree, "manifest.nah"), blob, 0o644); err != nil {
		t.Fatal(err)
	}
	appPkg := filepath.Join(work, "greeter-1.2.0.nah.tgz")
	if err := packaging.Pack(appTree, appPkg); err != nil {
		t.Fatal(err)
	}

	appRes, err := mgr.InstallApp(appPkg)
	if err != nil {
		t.Fatalf("InstallApp: %v", err)
	}
	if !appRes.NakResolved || appRes.NakRef != "lua@5.4.6.json" {
		t.Fatalf("install did not pin lua: %+v", appRes)
	}

	// Compose through the host API.
	h := host.New(cfg, host.WithClock(clock), host.WithLogger(log.NewNoop()))
	app, err := h.FindApplication("com.example.greeter", "")
	if err != nil {
		t.Fatal(err)
	}
	env, err := h.ComposeForApp(app, host.ComposeOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if env.Failed() {
		t.Fatalf("composition failed: %s (warnings %v)", env.CriticalError, env.Warnings)
	}

	c := env.Contract
	nakRoot := c.Nak.Root
	if !strings.HasSuffix(nakRoot, "naks/lua/5.4.6") {
		t.Errorf("nak root = %q", nakRoot)
	}
	if c.Execution.Binary != nakRoot+"/bin/lua" {
		t.Errorf("binary = %q", c.Execution.Binary)
	}
	wantArgs := []string{c.App.Entrypoint, "--data", c.App.Root + "/data"}
	if len(c.Execution.Arguments) != len(wantArgs) {
		t.Fatalf("arguments = %v", c.Execution.Arguments)
	}
	for i, want := range wantArgs {
		if c.Execution.Arguments[i] != want {
			t.Errorf("arguments[%d] = %q, want %q", i, c.Execution.Arguments[i], want)
		}
	}
	if c.Environment["GREETING"] != "hello" {
		t.Errorf("GREETING = %q", c.Environment["GREETING"])
	}
	if c.Environment["LUA_HOME"] != nakRoot {
		t.Errorf("LUA_HOME = %q, want %q", c.Environment["LUA_HOME"], nakRoot)
	}
	if len(c.Execution.LibraryPaths) != 2 {
		t.Errorf("library paths = %v", c.Execution.LibraryPaths)
	}
	if c.Exports["docs"].Path != c.App.Root+"/share/docs" {
		t.Errorf("exports = %+v", c.Exports)
	}
	if c.Trust.State != "unverified" {
		t.Errorf("trust = %+v", c.Trust)
	}

	// Serialized envelope is valid JSON and stable.
	out := contract.Serialize(env, false)
	var parsed map[string]any
	if err := json.Unmarshal([]byte(out), &parsed); err != nil {
		t.Fatalf("envelope not valid JSON: %v", err)
	}
	env2, err := h.ComposeForApp(app, host.ComposeOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if out2 := contract.Serialize(env2, false); out2 != out {
		t.Error("repeated composition serialized differently")
	}

	// Uninstall cleans up tree and record.
	if err := mgr.UninstallApp(appRes.InstanceID, false); err != nil {
		t.Fatal(err)
	}
	if _, err := h.FindApplication("com.example.greeter", ""); err == nil {
		t.Error("app still listed after uninstall")
	}
}
