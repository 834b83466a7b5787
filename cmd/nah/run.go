package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nah-dev/nah/internal/host"
	"github.com/nah-dev/nah/internal/log"
	"github.com/nah-dev/nah/internal/spawn"
)

var runOverridesFile string

var runCmd = &cobra.Command{
	Use:   "run <app[@version]> [-- args...]",
	Short: "Compose and launch an installed app",
	Long: `Run composes the launch contract and executes it, replacing the nah
process with the application. Extra arguments after -- are appended to
the contract's argument vector.

A critical composition error or a warning escalated to "error" by the
host profile blocks the launch. Setting NAH_REQUIRE_TRUST=1 also blocks
apps whose trust state is not verified.`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		h, err := newHost()
		if err != nil {
			fatalf("%v", err)
		}

		id, version := splitTarget(args[0])
		app, err := h.FindApplication(id, version)
		if err != nil {
			fatalf("%v", err)
		}

		env, err := h.ComposeForApp(app, host.ComposeOptions{OverridesFile: runOverridesFile})
		if err != nil {
			fatalf("%v", err)
		}
		printWarnings(env.Warnings)

		if code := envelopeExitCode(env); code != ExitSuccess {
			if env.Failed() {
				fmt.Fprintf(os.Stderr, "Error: composition failed: %s\n", env.CriticalError)
			} else {
				fmt.Fprintln(os.Stderr, "Error: launch blocked by warning policy")
			}
			exitWithCode(code)
		}

		if requireTrust() && env.Contract.Trust.State != "verified" {
			fmt.Fprintf(os.Stderr, "Error: trust state is %s and NAH_REQUIRE_TRUST is set\n",
				env.Contract.Trust.State)
			exitWithCode(ExitPolicyBlocked)
		}

		env.Contract.Execution.Arguments = append(env.Contract.Execution.Arguments, args[1:]...)

		callerEnv := map[string]string{}
		for _, kv := range os.Environ() {
			if k, v, ok := strings.Cut(kv, "="); ok {
				callerEnv[k] = v
			}
		}

		log.Default().Info("launching", "app", env.Contract.App.ID, "binary", env.Contract.Execution.Binary)
		if err := spawn.Exec(&env.Contract, callerEnv); err != nil {
			fatalf("%v", err)
		}
	},
}

func requireTrust() bool {
	switch strings.ToLower(os.Getenv("NAH_REQUIRE_TRUST")) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

func init() {
	runCmd.Flags().StringVar(&runOverridesFile, "overrides-file", "", "JSON overrides file (environment and warnings)")
}
