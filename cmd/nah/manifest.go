package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nah-dev/nah/internal/manifest"
)

var manifestCmd = &cobra.Command{
	Use:   "manifest",
	Short: "Generate and inspect binary manifests",
}

var manifestOut string

var manifestGenerateCmd = &cobra.Command{
	Use:   "generate <input.toml>",
	Short: "Build a binary manifest from its TOML input form",
	Long: `Generate reads a nah.manifest.input.v1 TOML file and writes the
canonical binary manifest blob: tags ascending, END record last, CRC32
over the payload. Identical inputs always produce identical bytes.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		src, err := os.ReadFile(args[0])
		if err != nil {
			fatalf("%v", err)
		}
		m, err := manifest.ParseInput(string(src))
		if err != nil {
			fatalf("%v", err)
		}
		blob, err := m.Encode()
		if err != nil {
			fatalf("%v", err)
		}

		out := manifestOut
		if out == "" {
			out = "manifest.nah"
		}
		if err := os.WriteFile(out, blob, 0o644); err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("Wrote %s (%d bytes) for %s@%s\n", out, len(blob), m.ID, m.Version)
	},
}

var manifestInspectCmd = &cobra.Command{
	Use:   "inspect <manifest.nah>",
	Short: "Decode a binary manifest and print its fields",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		blob, err := os.ReadFile(args[0])
		if err != nil {
			fatalf("%v", err)
		}
		res := manifest.Decode(blob)
		if res.CriticalMissing {
			fatalf("manifest unusable: %s", res.Err)
		}
		m := res.Manifest

		fmt.Printf("id:          %s\n", m.ID)
		fmt.Printf("version:     %s\n", m.Version)
		if m.NakID != "" {
			req := ""
			if m.NakVersionReq != nil {
				req = m.NakVersionReq.String()
			}
			fmt.Printf("nak:         %s (%s)\n", m.NakID, req)
			if m.NakLoader != "" {
				fmt.Printf("nak_loader:  %s\n", m.NakLoader)
			}
		} else {
			fmt.Println("nak:         (standalone)")
		}
		fmt.Printf("entrypoint:  %s\n", m.EntrypointPath)
		if len(m.EntrypointArgs) > 0 {
			fmt.Printf("args:        %s\n", strings.Join(m.EntrypointArgs, " "))
		}
		for _, v := range m.EnvVars {
			fmt.Printf("env:         %s\n", v)
		}
		for _, d := range m.LibDirs {
			fmt.Printf("lib_dir:     %s\n", d)
		}
		for _, e := range m.AssetExports {
			fmt.Printf("export:      %s -> %s\n", e.ID, e.Path)
		}
		for _, p := range m.PermissionsFilesystem {
			fmt.Printf("perm(fs):    %s\n", p)
		}
		for _, p := range m.PermissionsNetwork {
			fmt.Printf("perm(net):   %s\n", p)
		}
		if m.Description != "" {
			fmt.Printf("description: %s\n", m.Description)
		}

		for _, reason := range res.Reasons {
			fmt.Fprintf(os.Stderr, "warning: invalid_manifest: %s\n", reason)
		}
	},
}

func init() {
	manifestGenerateCmd.Flags().StringVarP(&manifestOut, "output", "o", "", "Output path (default manifest.nah)")
	manifestCmd.AddCommand(manifestGenerateCmd)
	manifestCmd.AddCommand(manifestInspectCmd)
}
