package main

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/nah-dev/nah/internal/config"
	"github.com/nah-dev/nah/internal/contract"
	"github.com/nah-dev/nah/internal/host"
	"github.com/nah-dev/nah/internal/log"
	"github.com/nah-dev/nah/internal/warnings"
)

// hostConfig resolves the layout from --root, NAH_ROOT, or the default.
func hostConfig() (*config.Config, error) {
	if rootFlag != "" {
		return config.ConfigAt(rootFlag), nil
	}
	return config.DefaultConfig()
}

// newHost builds the Host for the current invocation.
func newHost() (*host.Host, error) {
	cfg, err := hostConfig()
	if err != nil {
		return nil, err
	}
	return host.New(cfg, host.WithLogger(log.Default())), nil
}

// splitTarget parses "id" or "id@version".
func splitTarget(target string) (id, version string) {
	if at := strings.LastIndex(target, "@"); at > 0 {
		return target[:at], target[at+1:]
	}
	return target, ""
}

// printWarnings reports composition warnings on stderr.
func printWarnings(ws []warnings.Warning) {
	logger := log.Default()
	for _, w := range ws {
		var fields []any
		for _, k := range sortedFieldKeys(w.Fields) {
			fields = append(fields, k, w.Fields[k])
		}
		if w.Action == warnings.ActionError {
			logger.Error(string(w.Key), fields...)
		} else {
			logger.Warn(string(w.Key), fields...)
		}
	}
}

func sortedFieldKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// envelopeExitCode maps an envelope onto the exit-code table: critical
// errors block at 3, policy-escalated warnings at 4.
func envelopeExitCode(env *contract.Envelope) int {
	if env.Failed() {
		return ExitComposeBlocked
	}
	for _, w := range env.Warnings {
		if w.Action == warnings.ActionError {
			return ExitPolicyBlocked
		}
	}
	return ExitSuccess
}

// fatalf prints an error and exits with a general failure.
func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	exitWithCode(ExitGeneral)
}
