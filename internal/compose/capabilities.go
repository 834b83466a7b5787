package compose

import (
	"strings"

	"github.com/nah-dev/nah/internal/contract"
	"github.com/nah-dev/nah/internal/record"
	"github.com/nah-dev/nah/internal/warnings"
)

var fsOps = map[string]struct{}{"read": {}, "write": {}, "execute": {}}
var netOps = map[string]struct{}{"connect": {}, "listen": {}, "bind": {}}

// capabilityKey turns a declared permission "op:resource" into its
// capability key "fs.<op>.<resource>" / "net.<op>.<resource>". The op set
// depends on the domain.
func capabilityKey(domain, entry string) (string, bool) {
	op, resource, ok := strings.Cut(entry, ":")
	if !ok || op == "" || resource == "" {
		return "", false
	}
	switch domain {
	case "fs":
		if _, ok := fsOps[op]; !ok {
			return "", false
		}
	case "net":
		if _, ok := netOps[op]; !ok {
			return "", false
		}
	}
	return domain + "." + op + "." + resource, true
}

// lookupEnforcement resolves a capability key through the profile map:
// exact key first, then the wildcard form "dom.op.*".
func lookupEnforcement(key string, profile *record.HostProfile) (string, bool) {
	if id, ok := profile.Capabilities[key]; ok {
		return id, true
	}
	lastDot := strings.Index(key, ".")
	if lastDot < 0 {
		return "", false
	}
	rest := key[lastDot+1:]
	opDot := strings.Index(rest, ".")
	if opDot < 0 {
		return "", false
	}
	wildcard := key[:lastDot+1] + rest[:opDot+1] + "*"
	id, ok := profile.Capabilities[wildcard]
	return id, ok
}

// deriveEnforcement walks the manifest's declared permissions in order,
// mapping each to an enforcement id via the profile. Malformed entries
// emit capability_malformed; unmapped ones emit capability_missing and
// are counted as critical capability gaps.
func deriveEnforcement(m []string, n []string, profile *record.HostProfile, wc *warnings.Collector) (contract.Enforcement, contract.CapabilityUsage) {
	var enf contract.Enforcement
	var usage contract.CapabilityUsage

	resolve := func(domain, entry string) (string, bool) {
		key, ok := capabilityKey(domain, entry)
		if !ok {
			wc.Emit(warnings.CapabilityMalformed, map[string]string{
				"entry":  entry,
				"domain": domain,
			})
			return "", false
		}
		usage.RequiredCapabilities = append(usage.RequiredCapabilities, key)
		id, ok := lookupEnforcement(key, profile)
		if !ok {
			wc.Emit(warnings.CapabilityMissing, map[string]string{"capability": key})
			usage.CriticalCapabilities = append(usage.CriticalCapabilities, key)
			return "", false
		}
		return id, true
	}

	for _, entry := range m {
		if id, ok := resolve("fs", entry); ok {
			enf.Filesystem = append(enf.Filesystem, id)
		}
	}
	for _, entry := range n {
		if id, ok := resolve("net", entry); ok {
			enf.Network = append(enf.Network, id)
		}
	}

	usage.Present = len(usage.RequiredCapabilities) > 0
	return enf, usage
}
