package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/nah-dev/nah/internal/semver"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List installed applications",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		h, err := newHost()
		if err != nil {
			fatalf("%v", err)
		}

		apps := h.ListApplications()
		if len(apps) == 0 {
			fmt.Println("No applications installed.")
			return
		}
		for _, app := range apps {
			fmt.Printf("%s@%s\t%s\n", app.ID, app.Version, app.InstallRoot)
		}
	},
}

var naksCmd = &cobra.Command{
	Use:   "naks",
	Short: "List installed NAKs (runtimes)",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		h, err := newHost()
		if err != nil {
			fatalf("%v", err)
		}

		inv := h.Inventory()
		if len(inv) == 0 {
			fmt.Println("No NAKs installed.")
			return
		}

		refs := make([]string, 0, len(inv))
		for ref := range inv {
			refs = append(refs, ref)
		}
		sort.Slice(refs, func(i, j int) bool {
			a, b := inv[refs[i]], inv[refs[j]]
			if a.Nak.ID != b.Nak.ID {
				return a.Nak.ID < b.Nak.ID
			}
			va, errA := semver.ParseVersion(a.Nak.Version)
			vb, errB := semver.ParseVersion(b.Nak.Version)
			if errA == nil && errB == nil {
				return va.Compare(vb) < 0
			}
			return a.Nak.Version < b.Nak.Version
		})

		for _, ref := range refs {
			rec := inv[ref]
			kind := "loaders"
			if !rec.HasLoaders() {
				kind = "libs-only"
			}
			fmt.Printf("%s@%s\t%s\t%s\n", rec.Nak.ID, rec.Nak.Version, kind, ref)
		}
	},
}
