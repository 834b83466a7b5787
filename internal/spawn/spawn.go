// Package spawn turns a composed launch contract into a running process:
// argv is [binary, arguments...], the working directory is execution.cwd,
// and the environment is the contract's environment with the library
// search path folded into the platform's key.
package spawn

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"

	"github.com/nah-dev/nah/internal/contract"
	"github.com/nah-dev/nah/internal/platform"
)

// BuildEnviron renders the process environment for a contract. Library
// paths prepend onto the contract's value for the library-path key; when
// that key is PATH the caller's own PATH is unioned in so the launched
// app still finds system binaries.
func BuildEnviron(c *contract.Contract, callerEnv map[string]string) []string {
	env := make(map[string]string, len(c.Environment)+1)
	for k, v := range c.Environment {
		env[k] = v
	}

	key := c.Execution.LibraryPathEnvKey
	if key != "" && len(c.Execution.LibraryPaths) > 0 {
		sep := platform.PathListSeparator()
		parts := make([]string, 0, len(c.Execution.LibraryPaths)+2)
		parts = append(parts, c.Execution.LibraryPaths...)
		if existing := env[key]; existing != "" {
			parts = append(parts, existing)
		}
		if key == "PATH" {
			if callerPath := callerEnv["PATH"]; callerPath != "" {
				parts = append(parts, callerPath)
			}
		}
		env[key] = strings.Join(parts, sep)
	}

	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}

// Argv is the full argument vector, binary first.
func Argv(c *contract.Contract) []string {
	argv := make([]string, 0, len(c.Execution.Arguments)+1)
	argv = append(argv, c.Execution.Binary)
	argv = append(argv, c.Execution.Arguments...)
	return argv
}

// Run spawns the contract as a child process and waits, wiring the
// caller's stdio through. The child's exit code is returned.
func Run(c *contract.Contract, callerEnv map[string]string) (int, error) {
	cmd := exec.Command(c.Execution.Binary, c.Execution.Arguments...)
	cmd.Dir = c.Execution.Cwd
	cmd.Env = BuildEnviron(c, callerEnv)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode(), nil
		}
		return -1, fmt.Errorf("spawning %s: %w", c.Execution.Binary, err)
	}
	return 0, nil
}
