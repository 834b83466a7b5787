// Package expand substitutes {NAME}, $NAME and ${NAME} placeholders in
// contract inputs. Lookup goes to the composed environment first and falls
// back to a snapshot of the process environment. Misses substitute the
// empty string and emit missing_env_var; the per-string placeholder count
// and the expanded size are both capped so expansion work stays bounded by
// its inputs.
package expand

import (
	"fmt"
	"sort"
	"strings"

	"github.com/nah-dev/nah/internal/warnings"
)

const (
	// MaxPlaceholders caps substitutions in a single string.
	MaxPlaceholders = 128
	// MaxExpandedSize caps the expanded length of a single string.
	MaxExpandedSize = 64 * 1024
)

// Result is the outcome of expanding one string.
type Result struct {
	OK     bool
	Value  string
	Reason string // "placeholder_limit" or "expansion_overflow" when !OK
}

func isNameStart(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

func isNameByte(b byte) bool {
	return isNameStart(b) || (b >= '0' && b <= '9')
}

// String expands a single input against env, falling back to procEnv.
// sourcePath identifies the input's origin in warnings (for example
// "manifest.entrypoint_args[2]").
func String(input string, env, procEnv map[string]string, sourcePath string, wc *warnings.Collector) Result {
	var out strings.Builder
	out.Grow(len(input))

	count := 0
	fail := func(reason string) Result {
		wc.Emit(warnings.InvalidConfiguration, map[string]string{
			"reason":      reason,
			"source_path": sourcePath,
		})
		return Result{Reason: reason}
	}

	substitute := func(name string) bool {
		count++
		if count > MaxPlaceholders {
			return false
		}
		if v, ok := env[name]; ok {
			out.WriteString(v)
			return true
		}
		if v, ok := procEnv[name]; ok && v != "" {
			out.WriteString(v)
			return true
		}
		wc.Emit(warnings.MissingEnvVar, map[string]string{
			"name":        name,
			"source_path": sourcePath,
		})
		return true
	}

	i := 0
	for i < len(input) {
		switch {
		case input[i] == '$' && i+1 < len(input) && input[i+1] == '{':
			// ${NAME}
			close := strings.IndexByte(input[i+2:], '}')
			if close >= 0 {
				name := input[i+2 : i+2+close]
				if name != "" && !strings.Contains(name, "{") {
					if !substitute(name) {
						return fail("placeholder_limit")
					}
					i += close + 3
					continue
				}
			}
			out.WriteByte(input[i])
			i++
		case input[i] == '$' && i+1 < len(input) && isNameStart(input[i+1]):
			// $NAME
			end := i + 1
			for end < len(input) && isNameByte(input[end]) {
				end++
			}
			if !substitute(input[i+1 : end]) {
				return fail("placeholder_limit")
			}
			i = end
		case input[i] == '{':
			// {NAME}
			close := strings.IndexByte(input[i+1:], '}')
			if close >= 0 {
				name := input[i+1 : i+1+close]
				if name != "" && !strings.Contains(name, "{") {
					if !substitute(name) {
						return fail("placeholder_limit")
					}
					i += close + 2
					continue
				}
			}
			out.WriteByte(input[i])
			i++
		default:
			out.WriteByte(input[i])
			i++
		}

		if out.Len() > MaxExpandedSize {
			return fail("expansion_overflow")
		}
	}
	if out.Len() > MaxExpandedSize {
		return fail("expansion_overflow")
	}

	return Result{OK: true, Value: out.String()}
}

// Slice expands every element of input; elements that fail their limits
// become empty strings. Source paths are "<prefix>[<index>]".
func Slice(input []string, env, procEnv map[string]string, prefix string, wc *warnings.Collector) []string {
	out := make([]string, 0, len(input))
	for i, s := range input {
		r := String(s, env, procEnv, fmt.Sprintf("%s[%d]", prefix, i), wc)
		if r.OK {
			out = append(out, r.Value)
		} else {
			out = append(out, "")
		}
	}
	return out
}

// Map expands an environment map in place. Values are expanded against a
// snapshot of the map taken up front, iterating keys lexicographically, so
// the result does not depend on map order and values never see each
// other's expansions.
func Map(env map[string]string, procEnv map[string]string, wc *warnings.Collector) {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	snapshot := make(map[string]string, len(env))
	for k, v := range env {
		snapshot[k] = v
	}

	for _, k := range keys {
		r := String(env[k], snapshot, procEnv, "environment."+k, wc)
		if r.OK {
			env[k] = r.Value
		} else {
			env[k] = ""
		}
	}
}
