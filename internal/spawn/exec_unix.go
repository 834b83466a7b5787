//go:build unix

package spawn

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/nah-dev/nah/internal/contract"
)

// Exec replaces the current process with the contract's binary. On
// success it does not return.
func Exec(c *contract.Contract, callerEnv map[string]string) error {
	if c.Execution.Cwd != "" {
		if err := unix.Chdir(c.Execution.Cwd); err != nil {
			return fmt.Errorf("chdir %s: %w", c.Execution.Cwd, err)
		}
	}
	if err := unix.Exec(c.Execution.Binary, Argv(c), BuildEnviron(c, callerEnv)); err != nil {
		return fmt.Errorf("exec %s: %w", c.Execution.Binary, err)
	}
	return nil
}
