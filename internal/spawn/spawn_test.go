package spawn

import (
	"strings"
	"testing"

	"github.com/nah-dev/nah/internal/contract"
	"github.com/nah-dev/nah/internal/platform"
)

func TestBuildEnviron_LibraryPathFolding(t *testing.T) {
	c := &contract.Contract{
		Environment: map[string]string{
			"NAH_APP_ID":      "com.example.app",
			"LD_LIBRARY_PATH": "/preexisting",
		},
		Execution: contract.Execution{
			LibraryPathEnvKey: "LD_LIBRARY_PATH",
			LibraryPaths:      []string{"/nak/lib", "/app/lib"},
		},
	}

	env := BuildEnviron(c, nil)

	sep := platform.PathListSeparator()
	want := "LD_LIBRARY_PATH=" + strings.Join([]string{"/nak/lib", "/app/lib", "/preexisting"}, sep)
	found := false
	for _, kv := range env {
		if kv == want {
			found = true
		}
	}
	if !found {
		t.Errorf("env = %v, want entry %q", env, want)
	}
}

func TestBuildEnviron_PathUnionsCaller(t *testing.T) {
	c := &contract.Contract{
		Environment: map[string]string{},
		Execution: contract.Execution{
			LibraryPathEnvKey: "PATH",
			LibraryPaths:      []string{"/nak/bin"},
		},
	}

	env := BuildEnviron(c, map[string]string{"PATH": "/usr/bin:/bin"})

	sep := platform.PathListSeparator()
	want := "PATH=/nak/bin" + sep + "/usr/bin:/bin"
	found := false
	for _, kv := range env {
		if kv == want {
			found = true
		}
	}
	if !found {
		t.Errorf("env = %v, want %q", env, want)
	}
}

func TestBuildEnviron_SortedAndComplete(t *testing.T) {
	c := &contract.Contract{
		Environment: map[string]string{"B": "2", "A": "1", "C": "3"},
	}

	env := BuildEnviron(c, nil)

	if len(env) != 3 {
		t.Fatalf("env = %v", env)
	}
	if env[0] != "A=1" || env[1] != "B=2" || env[2] != "C=3" {
		t.Errorf("env not sorted: %v", env)
	}
}

func TestArgv(t *testing.T) {
	c := &contract.Contract{
		Execution: contract.Execution{
			Binary:    "/bin/lua",
			Arguments: []string{"main.lua", "--flag"},
		},
	}
	argv := Argv(c)
	if len(argv) != 3 || argv[0] != "/bin/lua" || argv[2] != "--flag" {
		t.Errorf("argv = %v", argv)
	}
}
