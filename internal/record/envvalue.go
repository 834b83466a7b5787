// Package record parses the textual configuration records of a NAH host:
// the app install record, the host profile, and the NAK runtime
// descriptor. Both the JSON and the nested-table TOML encodings are
// accepted; each parser decodes into one generic value tree and walks it
// with a small typed surface (Str, Table, StrArray, EnvMap), so the two
// wire forms share a single code path.
package record

import "strings"

// EnvOp is an environment composition operation.
type EnvOp string

const (
	EnvSet     EnvOp = "set"
	EnvPrepend EnvOp = "prepend"
	EnvAppend  EnvOp = "append"
	EnvUnset   EnvOp = "unset"
)

// ParseEnvOp maps a string (case-insensitive) onto an EnvOp.
func ParseEnvOp(s string) (EnvOp, bool) {
	switch EnvOp(strings.ToLower(s)) {
	case EnvSet:
		return EnvSet, true
	case EnvPrepend:
		return EnvPrepend, true
	case EnvAppend:
		return EnvAppend, true
	case EnvUnset:
		return EnvUnset, true
	}
	return "", false
}

// EnvValue is one tagged environment contribution. Prepend and Append
// compose against the current value using Separator.
type EnvValue struct {
	Op        EnvOp
	Value     string
	Separator string
}

// NewEnvSet returns a plain Set contribution (the shorthand string form).
func NewEnvSet(value string) EnvValue {
	return EnvValue{Op: EnvSet, Value: value, Separator: ":"}
}

// Apply folds the contribution into current. The second return is false
// when the key must be removed (Unset).
func (e EnvValue) Apply(current string, present bool) (string, bool) {
	switch e.Op {
	case EnvSet:
		return e.Value, true
	case EnvPrepend:
		if present && current != "" {
			return e.Value + e.separator() + current, true
		}
		return e.Value, true
	case EnvAppend:
		if present && current != "" {
			return current + e.separator() + e.Value, true
		}
		return e.Value, true
	case EnvUnset:
		return "", false
	}
	return e.Value, true
}

func (e EnvValue) separator() string {
	if e.Separator == "" {
		return ":"
	}
	return e.Separator
}
