package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/nah-dev/nah/internal/buildinfo"
	"github.com/nah-dev/nah/internal/log"
)

var (
	quietFlag   bool
	verboseFlag bool
	debugFlag   bool
	rootFlag    string
)

// globalCtx is the application-level context that is canceled on
// SIGINT/SIGTERM. Commands should use this context for cancellable
// operations.
var globalCtx context.Context
var globalCancel context.CancelFunc

var rootCmd = &cobra.Command{
	Use:   "nah",
	Short: "Native application host",
	Long: `nah installs applications and their shared runtimes (NAKs), and
composes deterministic launch contracts: the exact binary, arguments,
working directory, library paths, environment and trust assessment a
spawned application runs with.`,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&quietFlag, "quiet", "q", false, "Show errors only")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Show verbose output (INFO level)")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "Show debug output (includes timestamps and source locations)")
	rootCmd.PersistentFlags().StringVar(&rootFlag, "root", "", "Host root directory (default $NAH_ROOT or ~/.nah)")

	rootCmd.PersistentPreRun = initLogger
	rootCmd.Version = buildinfo.Version()

	rootCmd.AddCommand(composeCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(uninstallCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(naksCmd)
	rootCmd.AddCommand(profileCmd)
	rootCmd.AddCommand(manifestCmd)
	rootCmd.AddCommand(packCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(showCmd)
}

// initLogger configures the global logger from the verbosity flags.
func initLogger(cmd *cobra.Command, args []string) {
	level := slog.LevelWarn
	switch {
	case debugFlag:
		level = slog.LevelDebug
	case verboseFlag:
		level = slog.LevelInfo
	case quietFlag:
		level = slog.LevelError
	}

	opts := &tint.Options{
		Level:      level,
		AddSource:  debugFlag,
		NoColor:    !term.IsTerminal(int(os.Stderr.Fd())),
		TimeFormat: time.Kitchen,
	}
	if !debugFlag {
		// Without --debug, keep lines terse: no timestamps.
		opts.ReplaceAttr = func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.Attr{}
			}
			return a
		}
	}
	log.SetDefault(log.New(tint.NewHandler(os.Stderr, opts)))
}

func main() {
	globalCtx, globalCancel = context.WithCancel(context.Background())
	defer globalCancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		fmt.Fprintf(os.Stderr, "\nReceived %s, canceling...\n", sig)
		globalCancel()

		<-sigChan
		fmt.Fprintln(os.Stderr, "Forced exit")
		exitWithCode(ExitCancelled)
	}()

	if err := rootCmd.Execute(); err != nil {
		if globalCtx.Err() == context.Canceled {
			exitWithCode(ExitCancelled)
		}
		fmt.Fprintln(os.Stderr, err)
		exitWithCode(ExitGeneral)
	}
}
