package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/nah-dev/nah/internal/packaging"
)

var packOut string

var packCmd = &cobra.Command{
	Use:   "pack <directory>",
	Short: "Pack a directory into a deterministic package archive",
	Long: `Pack writes the directory as a tar.gz package with sorted entries and
zeroed timestamps, so the same tree always packs to the same bytes and
package hashes are reproducible.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		out := packOut
		if out == "" {
			out = filepath.Base(filepath.Clean(args[0])) + ".nah.tgz"
		}
		if err := packaging.Pack(args[0], out); err != nil {
			fatalf("%v", err)
		}
		hash, err := packaging.HashFile(out)
		if err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("Wrote %s (%s)\n", out, hash)
	},
}

func init() {
	packCmd.Flags().StringVarP(&packOut, "output", "o", "", "Output archive path")
}
