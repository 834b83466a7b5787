package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/nah-dev/nah/internal/record"
)

var showCmd = &cobra.Command{
	Use:   "show <app[@version]>",
	Short: "Show an installed app's record: pin, provenance, and trust",
	Args:  cobra.ExactArgs(1),
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

		data, err := os.ReadFile(app.RecordPath)
		if err != nil {
			fatalf("%v", err)
		}
		res := record.ParseAppInstallRecord(string(data), app.RecordPath)
		if !res.OK {
			fatalf("install record invalid: %s", res.Err)
		}
		r := res.Record

		fmt.Printf("instance:     %s\n", r.Install.InstanceID)
		fmt.Printf("app:          %s@%s\n", r.App.ID, r.App.Version)
		fmt.Printf("install_root: %s\n", r.Paths.InstallRoot)
		if r.Nak.ID != "" {
			fmt.Printf("nak:          %s@%s (%s)\n", r.Nak.ID, r.Nak.Version, r.Nak.RecordRef)
			if r.Nak.Loader != "" {
				fmt.Printf("loader:       %s\n", r.Nak.Loader)
			}
			if r.Nak.SelectionReason != "" {
				fmt.Printf("selected:     %s\n", r.Nak.SelectionReason)
			}
		} else if r.App.NakID != "" {
			fmt.Printf("nak:          %s (unresolved, requires %s)\n", r.App.NakID, r.App.NakVersionReq)
		} else {
			fmt.Println("nak:          (standalone)")
		}

		if r.Provenance.InstalledAt != "" {
			fmt.Printf("installed:    %s by %s\n", r.Provenance.InstalledAt, r.Provenance.InstalledBy)
			fmt.Printf("source:       %s\n", r.Provenance.Source)
			fmt.Printf("package_hash: %s\n", r.Provenance.PackageHash)
		}

		fmt.Printf("trust:        %s", r.Trust.State)
		if r.Trust.Source != "" {
			fmt.Printf(" (source %s, evaluated %s)", r.Trust.Source, r.Trust.EvaluatedAt)
		}
		fmt.Println()
		if r.Trust.ExpiresAt != "" {
			fmt.Printf("trust_expiry: %s\n", r.Trust.ExpiresAt)
		}
		if len(r.Trust.Details) > 0 {
			keys := make([]string, 0, len(r.Trust.Details))
			for k := range r.Trust.Details {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Printf("trust.%s: %s\n", k, r.Trust.Details[k])
			}
		}
	},
}
