//go:build !unix

package spawn

import (
	"os"

	"github.com/nah-dev/nah/internal/contract"
)

// Exec has no process-replacement primitive here; run as a child and
// exit with its code.
func Exec(c *contract.Contract, callerEnv map[string]string) error {
	code, err := Run(c, callerEnv)
	if err != nil {
		return err
	}
	os.Exit(code)
	return nil
}
