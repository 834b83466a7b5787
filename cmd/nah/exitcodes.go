package main

import "os"

// Exit codes for different failure modes, so scripts can branch on the
// outcome of a composition without parsing output.
const (
	// ExitSuccess indicates successful execution
	ExitSuccess = 0

	// ExitGeneral indicates a general error
	ExitGeneral = 1

	// ExitUsage indicates invalid arguments or usage error
	ExitUsage = 2

	// ExitComposeBlocked indicates composition failed with a critical error
	ExitComposeBlocked = 3

	// ExitPolicyBlocked indicates a warning escalated to error by policy
	ExitPolicyBlocked = 4

	// ExitCancelled indicates the operation was interrupted
	ExitCancelled = 130
)

// exitWithCode exits with the specified exit code
func exitWithCode(code int) {
	os.Exit(code)
}
