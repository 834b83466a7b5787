package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Manage host profiles",
}

var profileListCmd = &cobra.Command{
	Use:   "list",
	Short: "List available host profiles",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		h, err := newHost()
		if err != nil {
			fatalf("%v", err)
		}
		current := h.ActiveProfileName()
		names := h.ListProfiles()
		if len(names) == 0 {
			fmt.Println("No profiles defined (using the builtin empty profile).")
			return
		}
		for _, name := range names {
			marker := " "
			if name == current {
				marker = "*"
			}
			fmt.Printf("%s %s\n", marker, name)
		}
	},
}

var profileCurrentCmd = &cobra.Command{
	Use:   "current",
	Short: "Show the active host profile",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		h, err := newHost()
		if err != nil {
			fatalf("%v", err)
		}
		name := h.ActiveProfileName()
		if name == "" {
			fmt.Println("(builtin empty profile)")
			return
		}
		fmt.Println(name)
	},
}

var profileUseCmd = &cobra.Command{
	Use:   "use <name>",
	Short: "Select the active host profile",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		h, err := newHost()
		if err != nil {
			fatalf("%v", err)
		}
		if err := h.SetActiveProfile(args[0]); err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("Active profile: %s\n", args[0])
	},
}

func init() {
	profileCmd.AddCommand(profileListCmd)
	profileCmd.AddCommand(profileCurrentCmd)
	profileCmd.AddCommand(profileUseCmd)
}
