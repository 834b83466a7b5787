package compose

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/nah-dev/nah/internal/record"
	"github.com/nah-dev/nah/internal/warnings"
)

// overridePrefix marks per-invocation override variables in the process
// environment.
const overridePrefix = "NAH_OVERRIDE_"

// fileOverrides is the decoded shape of an overrides file.
type fileOverrides struct {
	Environment map[string]string
	Warnings    map[string]string
}

// parseOverridesFile decodes the JSON overrides file: an object with
// optional "environment" and "warnings" string-valued objects; anything
// else is an invalid shape.
func parseOverridesFile(content string) (fileOverrides, string) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return fileOverrides{}, "parse_failure"
	}

	out := fileOverrides{}
	for key, val := range raw {
		switch key {
		case "environment":
			if err := json.Unmarshal(val, &out.Environment); err != nil {
				return fileOverrides{}, "invalid_shape"
			}
		case "warnings":
			if err := json.Unmarshal(val, &out.Warnings); err != nil {
				return fileOverrides{}, "invalid_shape"
			}
		default:
			return fileOverrides{}, "invalid_shape"
		}
	}
	return out, ""
}

// parseEnvironmentJSON decodes a NAH_OVERRIDE_ENVIRONMENT value: a JSON
// object whose string-valued members become direct sets. Non-string
// members are skipped.
func parseEnvironmentJSON(val string) (map[string]string, bool) {
	var raw map[string]any
	if err := json.Unmarshal([]byte(val), &raw); err != nil {
		return nil, false
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out, true
}

// applyWarningOverride validates and applies one WARNINGS_<KEY> override.
func applyWarningOverride(ovrKey, warningKey, action, sourceKind, sourceRef string, wc *warnings.Collector) {
	parsedAction, ok := warnings.ParseAction(action)
	if !ok {
		wc.Emit(warnings.OverrideInvalid, map[string]string{
			"key":         ovrKey,
			"reason":      "invalid_value",
			"source_kind": sourceKind,
			"source_ref":  sourceRef,
		})
		return
	}
	parsedKey, ok := warnings.ParseKey(warningKey)
	if !ok {
		wc.Emit(warnings.OverrideInvalid, map[string]string{
			"key":         ovrKey,
			"reason":      "unknown_warning_key",
			"source_kind": sourceKind,
			"source_ref":  sourceRef,
		})
		return
	}
	wc.ApplyOverride(parsedKey, parsedAction)
}

// applyProcessOverrides harvests NAH_OVERRIDE_* variables from the process
// environment snapshot in lexicographic order and applies those the
// profile permits. Environment sets are passed to apply for the caller to
// fold into the composed environment at rank 6.
func applyProcessOverrides(procEnv map[string]string, profile *record.HostProfile, wc *warnings.Collector, apply func(key, value string)) {
	var keys []string
	for k := range procEnv {
		if strings.HasPrefix(k, overridePrefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	for _, envKey := range keys {
		target := strings.TrimPrefix(envKey, overridePrefix)
		val := procEnv[envKey]

		switch {
		case target == "ENVIRONMENT":
			if !profile.OverridePermitted(target) {
				wc.Emit(warnings.OverrideDenied, map[string]string{
					"key":         envKey,
					"source_kind": "process_env",
					"source_ref":  envKey,
				})
				continue
			}
			sets, ok := parseEnvironmentJSON(val)
			if !ok {
				wc.Emit(warnings.OverrideInvalid, map[string]string{
					"key":         envKey,
					"reason":      "parse_failure",
					"source_kind": "process_env",
					"source_ref":  envKey,
				})
				continue
			}
			for _, k := range sortedStrings(sets) {
				apply(k, sets[k])
			}

		case strings.HasPrefix(target, "WARNINGS_"):
			if !profile.OverridePermitted(target) {
				wc.Emit(warnings.OverrideDenied, map[string]string{
					"key":         envKey,
					"source_kind": "process_env",
					"source_ref":  envKey,
				})
				continue
			}
			applyWarningOverride(envKey, strings.TrimPrefix(target, "WARNINGS_"), val, "process_env", envKey, wc)

		default:
			wc.Emit(warnings.OverrideDenied, map[string]string{
				"key":         envKey,
				"source_kind": "process_env",
				"source_ref":  envKey,
			})
		}
	}
}

// applyFileOverrides parses and applies an overrides file at rank 7.
func applyFileOverrides(content, path string, profile *record.HostProfile, wc *warnings.Collector, apply func(key, value string)) {
	if strings.TrimSpace(content) == "" {
		wc.Emit(warnings.OverrideInvalid, map[string]string{
			"key":         "OVERRIDES_FILE",
			"reason":      "parse_failure",
			"source_kind": "overrides_file",
			"source_ref":  path,
		})
		return
	}

	parsed, errReason := parseOverridesFile(content)
	if errReason != "" {
		wc.Emit(warnings.OverrideInvalid, map[string]string{
			"key":         "OVERRIDES_FILE",
			"reason":      errReason,
			"source_kind": "overrides_file",
			"source_ref":  path,
		})
		return
	}

	if len(parsed.Environment) > 0 {
		if !profile.OverridePermitted("ENVIRONMENT") {
			wc.Emit(warnings.OverrideDenied, map[string]string{
				"key":         "NAH_OVERRIDE_ENVIRONMENT",
				"source_kind": "overrides_file",
				"source_ref":  path + ":environment",
			})
		} else {
			for _, k := range sortedStrings(parsed.Environment) {
				apply(k, parsed.Environment[k])
			}
		}
	}

	for _, warningKey := range sortedStrings(parsed.Warnings) {
		target := "WARNINGS_" + warningKey
		sourceRef := path + ":warnings." + warningKey
		if !profile.OverridePermitted(target) {
			wc.Emit(warnings.OverrideDenied, map[string]string{
				"key":         "NAH_OVERRIDE_" + target,
				"source_kind": "overrides_file",
				"source_ref":  sourceRef,
			})
			continue
		}
		applyWarningOverride("NAH_OVERRIDE_"+target, warningKey, parsed.Warnings[warningKey], "overrides_file", sourceRef, wc)
	}
}

func sortedStrings[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
