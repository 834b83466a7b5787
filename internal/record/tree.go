package record

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/nah-dev/nah/internal/platform"
)

// Tree is a decoded record document: nested string-keyed tables with
// scalar and array leaves. JSON and TOML both decode into this shape.
type Tree map[string]any

// DecodeTree parses src as JSON when its first non-space byte is '{',
// TOML otherwise.
func DecodeTree(src string) (Tree, error) {
	trimmed := strings.TrimLeft(src, " \t\r\n")
	if strings.HasPrefix(trimmed, "{") {
		var t Tree
		if err := json.Unmarshal([]byte(src), &t); err != nil {
			return nil, fmt.Errorf("parse JSON record: %w", err)
		}
		return t, nil
	}
	var t Tree
	if _, err := toml.Decode(src, &t); err != nil {
		return nil, fmt.Errorf("parse TOML record: %w", err)
	}
	return t, nil
}

// scalarString renders a leaf as a string. TOML datetimes become RFC3339
// with +00:00 normalized to Z; booleans become "true"/"false".
func scalarString(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case bool:
		return strconv.FormatBool(x), true
	case time.Time:
		s := x.Format(time.RFC3339)
		return strings.Replace(s, "+00:00", "Z", 1), true
	}
	return "", false
}

// Table returns a nested table.
func (t Tree) Table(key string) (Tree, bool) {
	if v, ok := t[key]; ok {
		if m, ok := v.(map[string]any); ok {
			return Tree(m), true
		}
	}
	return nil, false
}

// Str returns a scalar rendered as a string.
func (t Tree) Str(key string) (string, bool) {
	if v, ok := t[key]; ok {
		return scalarString(v)
	}
	return "", false
}

// StrArray returns the string elements of an array leaf; non-string
// elements are skipped.
func (t Tree) StrArray(key string) []string {
	v, ok := t[key]
	if !ok {
		return nil
	}
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, e := range arr {
		if s, ok := e.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// PathStr returns a scalar path normalized to forward slashes.
func (t Tree) PathStr(key string) (string, bool) {
	s, ok := t.Str(key)
	if !ok {
		return "", false
	}
	return platform.ToPortable(s), true
}

// PathArray returns an array of paths normalized to forward slashes.
func (t Tree) PathArray(key string) []string {
	in := t.StrArray(key)
	out := make([]string, 0, len(in))
	for _, s := range in {
		out = append(out, platform.ToPortable(s))
	}
	return out
}

// StringMap flattens a table of scalars into string values; non-scalar
// entries are skipped.
func (t Tree) StringMap(key string) map[string]string {
	tbl, ok := t.Table(key)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(tbl))
	for k, v := range tbl {
		if s, ok := scalarString(v); ok {
			out[k] = s
		}
	}
	return out
}

// envValueFrom decodes one environment contribution: a bare string is a
// Set, a table carries op/value/separator.
func envValueFrom(v any) (EnvValue, bool) {
	if s, ok := v.(string); ok {
		return NewEnvSet(s), true
	}
	tbl, ok := v.(map[string]any)
	if !ok {
		return EnvValue{}, false
	}
	t := Tree(tbl)

	opStr := "set"
	if s, ok := t.Str("op"); ok {
		opStr = s
	}
	op, ok := ParseEnvOp(opStr)
	if !ok {
		return EnvValue{}, false
	}

	value, _ := t.Str("value")
	sep := ":"
	if s, ok := t.Str("separator"); ok {
		sep = s
	}
	return EnvValue{Op: op, Value: value, Separator: sep}, true
}

// EnvMap decodes a table of environment contributions. Entries that do
// not parse are skipped.
func (t Tree) EnvMap(key string) map[string]EnvValue {
	tbl, ok := t.Table(key)
	if !ok {
		return nil
	}
	out := make(map[string]EnvValue, len(tbl))
	for k, v := range tbl {
		if ev, ok := envValueFrom(v); ok {
			out[k] = ev
		}
	}
	return out
}
