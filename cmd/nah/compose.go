package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nah-dev/nah/internal/contract"
	"github.com/nah-dev/nah/internal/host"
)

var (
	composeTrace         bool
	composeOverridesFile string
)

var composeCmd = &cobra.Command{
	Use:   "compose <app[@version]>",
	Short: "Compose and print the launch contract for an installed app",
	Long: `Compose resolves an installed application against the host profile and
NAK inventory and prints the resulting launch contract as JSON on
stdout. Warnings go to stderr; the exit code reports whether the
contract is spawnable (0), blocked by policy (4), or failed with a
critical error (3).`,
	Args: cobra.ExactArgs(1),
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

		env, err := h.ComposeForApp(app, host.ComposeOptions{
			Trace:         composeTrace,
			OverridesFile: composeOverridesFile,
		})
		if err != nil {
			fatalf("%v", err)
		}

		printWarnings(env.Warnings)
		fmt.Println(contract.Serialize(env, composeTrace))
		exitWithCode(envelopeExitCode(env))
	},
}

func init() {
	composeCmd.Flags().BoolVar(&composeTrace, "trace", false, "Include the per-key composition trace")
	composeCmd.Flags().StringVar(&composeOverridesFile, "overrides-file", "", "JSON overrides file (environment and warnings)")
}
