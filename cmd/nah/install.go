package main

import (
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"

	"github.com/nah-dev/nah/internal/install"
	"github.com/nah-dev/nah/internal/log"
)

var (
	installAsNak bool
	installForce bool
)

var installCmd = &cobra.Command{
	Use:   "install <package>",
	Short: "Install an application or NAK package",
	Long: `Install unpacks a package archive into the host tree and writes its
registry record. Application packages carry a binary manifest
(manifest.nah); a runtime is selected from the NAK inventory and pinned
into the install record. NAK packages (--nak) carry a nak.json or
nak.toml descriptor whose paths are rewritten to their installed
locations.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := hostConfig()
		if err != nil {
			fatalf("%v", err)
		}
		mgr := install.NewManager(cfg, clockwork.NewRealClock(), log.Default())
		mgr.Force = installForce

		if installAsNak {
			res, err := mgr.InstallNak(args[0])
			if err != nil {
				fatalf("%v", err)
			}
			fmt.Printf("Installed NAK %s@%s (%s)\n", res.ID, res.Version, res.RecordRef)
			return
		}

		res, err := mgr.InstallApp(args[0])
		if err != nil {
			fatalf("%v", err)
		}
		printWarnings(res.Warnings)
		fmt.Printf("Installed %s@%s\n", res.ID, res.Version)
		if res.NakResolved {
			fmt.Printf("Pinned runtime: %s\n", res.NakRef)
		} else if !res.Standalone {
			fmt.Println("No runtime pinned (composition will retry against the inventory)")
		}
	},
}

var uninstallKeepFiles bool

var uninstallCmd = &cobra.Command{
	Use:   "uninstall <app[@version]>",
	Short: "Remove an installed application or NAK",
	Long: `Uninstall removes an installed application (or, with --nak, a runtime)
and its registry record. With --keep-files only the record is removed.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := hostConfig()
		if err != nil {
			fatalf("%v", err)
		}
		mgr := install.NewManager(cfg, clockwork.NewRealClock(), log.Default())

		id, version := splitTarget(args[0])
		if installAsNak {
			if version == "" {
				fatalf("NAK uninstall needs id@version")
			}
			if err := mgr.UninstallNak(id, version); err != nil {
				fatalf("%v", err)
			}
			fmt.Printf("Uninstalled NAK %s@%s\n", id, version)
			return
		}

		h, err := newHost()
		if err != nil {
			fatalf("%v", err)
		}
		app, err := h.FindApplication(id, version)
		if err != nil {
			fatalf("%v", err)
		}
		if err := mgr.UninstallApp(app.InstanceID, uninstallKeepFiles); err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("Uninstalled %s@%s\n", app.ID, app.Version)
	},
}

func init() {
	installCmd.Flags().BoolVar(&installAsNak, "nak", false, "Treat the package as a NAK (runtime) package")
	installCmd.Flags().BoolVar(&installForce, "force", false, "Overwrite an existing installation")
	uninstallCmd.Flags().BoolVar(&installAsNak, "nak", false, "Uninstall a NAK (runtime) by id@version")
	uninstallCmd.Flags().BoolVar(&uninstallKeepFiles, "keep-files", false, "Remove only the registry record, keep files")
}
