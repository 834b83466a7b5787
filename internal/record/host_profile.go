package record

import (
	"strings"

	"github.com/nah-dev/nah/internal/warnings"
)

// HostProfileSchema tags host profile records.
const HostProfileSchema = "nah.host.profile.v1"

// BindingMode selects how a NAK version requirement resolves against the
// inventory.
type BindingMode string

const (
	// BindingCanonical picks the highest satisfying version.
	BindingCanonical BindingMode = "canonical"
	// BindingMapped resolves through profile.nak.map keyed by the
	// requirement's selection key.
	BindingMapped BindingMode = "mapped"
)

// ParseBindingMode maps a string (case-insensitive) onto a BindingMode.
func ParseBindingMode(s string) (BindingMode, bool) {
	switch BindingMode(strings.ToLower(s)) {
	case BindingCanonical:
		return BindingCanonical, true
	case BindingMapped:
		return BindingMapped, true
	}
	return "", false
}

// OverrideMode gates per-invocation overrides.
type OverrideMode string

const (
	OverrideAllow     OverrideMode = "allow"
	OverrideDeny      OverrideMode = "deny"
	OverrideAllowlist OverrideMode = "allowlist"
)

// ParseOverrideMode maps a string (case-insensitive) onto an OverrideMode.
func ParseOverrideMode(s string) (OverrideMode, bool) {
	switch OverrideMode(strings.ToLower(s)) {
	case OverrideAllow:
		return OverrideAllow, true
	case OverrideDeny:
		return OverrideDeny, true
	case OverrideAllowlist:
		return OverrideAllowlist, true
	}
	return "", false
}

// HostProfile is per-host policy: binding mode, environment layer 1,
// library path defaults, warning actions, capability mappings, and the
// override gate.
type HostProfile struct {
	Schema     string
	SourcePath string

	Nak struct {
		BindingMode   BindingMode
		AllowVersions []string
		DenyVersions  []string
		Map           map[string]string // selection key -> record_ref
	}

	Environment map[string]EnvValue

	Paths struct {
		LibraryPrepend []string
		LibraryAppend  []string
	}

	Warnings     map[warnings.Key]warnings.Action
	Capabilities map[string]string // capability key -> enforcement id

	Overrides struct {
		Mode      OverrideMode
		AllowKeys []string
	}
}

// BuiltinEmptyProfile returns the profile used when the host has none:
// canonical binding, allow-all overrides, and explicit warn actions for
// the resolution warnings.
func BuiltinEmptyProfile() *HostProfile {
	p := &HostProfile{Schema: HostProfileSchema}
	p.Nak.BindingMode = BindingCanonical
	p.Warnings = map[warnings.Key]warnings.Action{
		warnings.NakNotFound:           warnings.ActionWarn,
		warnings.NakVersionUnsupported: warnings.ActionWarn,
		warnings.ProfileMissing:        warnings.ActionWarn,
	}
	p.Overrides.Mode = OverrideAllow
	return p
}

// matchPattern tests a version or override-target pattern: a trailing '*'
// matches any suffix, anything else matches exactly.
func matchPattern(s, pattern string) bool {
	if pattern == "" {
		return false
	}
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(s, pattern[:len(pattern)-1])
	}
	return s == pattern
}

// VersionAllowed applies the profile's allow/deny patterns. Deny wins over
// allow; an empty allow list admits anything not denied.
func (p *HostProfile) VersionAllowed(version string) bool {
	for _, pat := range p.Nak.DenyVersions {
		if matchPattern(version, pat) {
			return false
		}
	}
	if len(p.Nak.AllowVersions) == 0 {
		return true
	}
	for _, pat := range p.Nak.AllowVersions {
		if matchPattern(version, pat) {
			return true
		}
	}
	return false
}

// OverridePermitted decides whether a per-invocation override target
// ("ENVIRONMENT" or "WARNINGS_<KEY>") is accepted under the profile's
// override mode. Non-standard targets are always denied.
func (p *HostProfile) OverridePermitted(target string) bool {
	standard := target == "ENVIRONMENT" || strings.HasPrefix(target, "WARNINGS_")
	if !standard {
		return false
	}

	switch p.Overrides.Mode {
	case OverrideDeny:
		return false
	case OverrideAllow:
		return true
	case OverrideAllowlist:
		for _, pat := range p.Overrides.AllowKeys {
			if matchPattern(target, pat) {
				return true
			}
		}
		return false
	}
	return false
}

// HostProfileResult is the outcome of parsing a host profile. Parse
// failures are never critical: callers fall back to the builtin profile
// and emit profile_parse_error.
type HostProfileResult struct {
	OK       bool
	Err      string
	Profile  HostProfile
	Warnings []ParseWarning
}

// ParseHostProfile parses a host profile from JSON or TOML. Unknown
// binding modes, override modes, warning keys and warning actions fall
// back to defaults with a profile_invalid warning.
func ParseHostProfile(src, sourcePath string) HostProfileResult {
	var res HostProfileResult
	res.Profile.SourcePath = sourcePath
	res.Profile.Nak.BindingMode = BindingCanonical
	res.Profile.Overrides.Mode = OverrideAllow

	tree, err := DecodeTree(src)
	if err != nil {
		res.Err = err.Error()
		return res
	}

	schema, ok := tree.Str("schema")
	if !ok || emptyAfterTrim(schema) {
		res.Err = "schema missing"
		return res
	}
	res.Profile.Schema = strings.TrimSpace(schema)
	if res.Profile.Schema != HostProfileSchema {
		res.Err = "schema mismatch: expected " + HostProfileSchema
		return res
	}

	invalid := func(reason, value string) {
		res.Warnings = append(res.Warnings, ParseWarning{
			Key:    warnings.ProfileInvalid,
			Fields: map[string]string{"reason": reason, "value": value},
		})
	}

	if nak, ok := tree.Table("nak"); ok {
		if mode, ok := nak.Str("binding_mode"); ok {
			parsed, ok := ParseBindingMode(mode)
			if ok {
				res.Profile.Nak.BindingMode = parsed
			} else {
				invalid("invalid_binding_mode", mode)
			}
		}
		res.Profile.Nak.AllowVersions = nak.StrArray("allow_versions")
		res.Profile.Nak.DenyVersions = nak.StrArray("deny_versions")
		res.Profile.Nak.Map = nak.StringMap("map")
	}

	res.Profile.Environment = tree.EnvMap("environment")

	if paths, ok := tree.Table("paths"); ok {
		res.Profile.Paths.LibraryPrepend = paths.StrArray("library_prepend")
		res.Profile.Paths.LibraryAppend = paths.StrArray("library_append")
	}

	if warnTbl, ok := tree.Table("warnings"); ok {
		res.Profile.Warnings = make(map[warnings.Key]warnings.Action, len(warnTbl))
		for k, v := range warnTbl {
			s, ok := scalarString(v)
			if !ok {
				continue
			}
			key, ok := warnings.ParseKey(k)
			if !ok {
				invalid("unknown_warning_key", k)
				continue
			}
			action, ok := warnings.ParseAction(s)
			if !ok {
				invalid("invalid_warning_action", s)
				continue
			}
			res.Profile.Warnings[key] = action
		}
	}

	res.Profile.Capabilities = tree.StringMap("capabilities")

	if ovr, ok := tree.Table("overrides"); ok {
		if mode, ok := ovr.Str("mode"); ok {
			parsed, ok := ParseOverrideMode(mode)
			if ok {
				res.Profile.Overrides.Mode = parsed
			} else {
				invalid("invalid_override_mode", mode)
			}
		}
		res.Profile.Overrides.AllowKeys = ovr.StrArray("allow_keys")
	}

	res.OK = true
	return res
}
