package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the host directory layout",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := hostConfig()
		if err != nil {
			fatalf("%v", err)
		}
		if err := cfg.EnsureDirectories(); err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("Initialized NAH root at %s\n", cfg.RootDir)
	},
}
