package semver

import (
	"fmt"
	"strings"

	mmsemver "github.com/Masterminds/semver/v3"
)

// comparison operators for a single constraint.
type compOp int

const (
	opEq compOp = iota
	opLt
	opLe
	opGt
	opGe
)

// constraint is one comparator, e.g. ">=1.2.0".
type constraint struct {
	op  compOp
	ver *Version
}

func (c constraint) match(v *Version) bool {
	cmp := v.Compare(c.ver)
	switch c.op {
	case opEq:
		return cmp == 0
	case opLt:
		return cmp < 0
	case opLe:
		return cmp <= 0
	case opGt:
		return cmp > 0
	case opGe:
		return cmp >= 0
	}
	return false
}

// comparatorSet is a conjunction: every constraint must hold.
type comparatorSet []constraint

func (s comparatorSet) match(v *Version) bool {
	for _, c := range s {
		if !c.match(v) {
			return false
		}
	}
	return true
}

// lowerBound returns the highest version named by the set's lower-bound
// comparators, the tightest bound of the conjunction (0.0.0 when the set
// has none).
func (s comparatorSet) lowerBound() *Version {
	low := mmsemver.New(0, 0, 0, "", "")
	for _, c := range s {
		switch c.op {
		case opEq, opGe, opGt:
			if c.ver.Compare(low) > 0 {
				low = c.ver
			}
		}
	}
	return low
}

// Range is a version requirement: an OR-union of comparator sets.
type Range struct {
	sets []comparatorSet
	raw  string
}

// String returns the source expression the range was parsed from.
func (r *Range) String() string {
	return r.raw
}

// Satisfies reports whether v matches any comparator set of the range.
func (r *Range) Satisfies(v *Version) bool {
	for _, s := range r.sets {
		if s.match(v) {
			return true
		}
	}
	return false
}

// MinVersion returns the lowest lower bound across the range's sets. It is
// the anchor for mapped binding mode, not necessarily a satisfying version
// (an exclusive lower bound still anchors here).
func (r *Range) MinVersion() *Version {
	var min *Version
	for _, s := range r.sets {
		low := s.lowerBound()
		if min == nil || low.Compare(min) < 0 {
			min = low
		}
	}
	return min
}

// SelectionKey returns "MAJOR.MINOR" of MinVersion; mapped binding mode
// uses it to index profile.nak.map.
func (r *Range) SelectionKey() string {
	m := r.MinVersion()
	return fmt.Sprintf("%d.%d", m.Major(), m.Minor())
}

// caretUpper computes the exclusive upper bound of ^v with the 0.x and
// 0.0.x rules.
func caretUpper(v *Version) *Version {
	switch {
	case v.Major() > 0:
		return mmsemver.New(v.Major()+1, 0, 0, "", "")
	case v.Minor() > 0:
		return mmsemver.New(0, v.Minor()+1, 0, "", "")
	default:
		return mmsemver.New(0, 0, v.Patch()+1, "", "")
	}
}

// parseWildcard handles "*", "1.x", "1.2.*" forms. Returns nil, false when
// the token is not a wildcard.
func parseWildcard(tok string) (comparatorSet, bool, error) {
	if tok == "*" || tok == "x" {
		return comparatorSet{{op: opGe, ver: mmsemver.New(0, 0, 0, "", "")}}, true, nil
	}

	lower := strings.ToLower(tok)
	var base string
	switch {
	case strings.HasSuffix(lower, ".x"), strings.HasSuffix(lower, ".*"):
		base = tok[:len(tok)-2]
	default:
		return nil, false, nil
	}
	if strings.ContainsAny(base, "*xX") {
		return nil, true, fmt.Errorf("invalid wildcard %q", tok)
	}

	parts := strings.Split(base, ".")
	v, err := parseLoose(base)
	if err != nil {
		return nil, true, err
	}
	var upper *Version
	if len(parts) == 1 {
		// "1.x" spans the major.
		upper = mmsemver.New(v.Major()+1, 0, 0, "", "")
	} else {
		// "1.2.*" spans the minor.
		upper = mmsemver.New(v.Major(), v.Minor()+1, 0, "", "")
	}
	return comparatorSet{
		{op: opGe, ver: v},
		{op: opLt, ver: upper},
	}, true, nil
}

// parseComparatorSet parses a space-separated AND group.
func parseComparatorSet(expr string) (comparatorSet, error) {
	var set comparatorSet
	toks := strings.Fields(expr)
	if len(toks) == 0 {
		return nil, fmt.Errorf("empty comparator set")
	}

	for _, tok := range toks {
		switch {
		case strings.HasPrefix(tok, ">="):
			v, err := parseLoose(tok[2:])
			if err != nil {
				return nil, err
			}
			set = append(set, constraint{op: opGe, ver: v})
		case strings.HasPrefix(tok, "<="):
			v, err := parseLoose(tok[2:])
			if err != nil {
				return nil, err
			}
			set = append(set, constraint{op: opLe, ver: v})
		case strings.HasPrefix(tok, ">"):
			v, err := parseLoose(tok[1:])
			if err != nil {
				return nil, err
			}
			set = append(set, constraint{op: opGt, ver: v})
		case strings.HasPrefix(tok, "<"):
			v, err := parseLoose(tok[1:])
			if err != nil {
				return nil, err
			}
			set = append(set, constraint{op: opLt, ver: v})
		case strings.HasPrefix(tok, "="):
			v, err := parseLoose(tok[1:])
			if err != nil {
				return nil, err
			}
			set = append(set, constraint{op: opEq, ver: v})
		case strings.HasPrefix(tok, "^"):
			v, err := parseLoose(tok[1:])
			if err != nil {
				return nil, err
			}
			set = append(set,
				constraint{op: opGe, ver: v},
				constraint{op: opLt, ver: caretUpper(v)})
		case strings.HasPrefix(tok, "~"):
			v, err := parseLoose(tok[1:])
			if err != nil {
				return nil, err
			}
			set = append(set,
				constraint{op: opGe, ver: v},
				constraint{op: opLt, ver: mmsemver.New(v.Major(), v.Minor()+1, 0, "", "")})
		default:
			wc, isWild, err := parseWildcard(tok)
			if err != nil {
				return nil, err
			}
			if isWild {
				set = append(set, wc...)
				continue
			}
			v, err := parseLoose(tok)
			if err != nil {
				return nil, err
			}
			set = append(set, constraint{op: opEq, ver: v})
		}
	}
	return set, nil
}

// ParseRange parses a range expression: comparators (>=, <=, >, <, =),
// caret, tilde, wildcards, space-separated AND within a set, "||" OR
// across sets.
func ParseRange(expr string) (*Range, error) {
	trimmed := strings.TrimSpace(expr)
	if trimmed == "" {
		return nil, fmt.Errorf("empty range expression")
	}

	var sets []comparatorSet
	for _, part := range strings.Split(trimmed, "||") {
		set, err := parseComparatorSet(part)
		if err != nil {
			return nil, fmt.Errorf("invalid range %q: %w", expr, err)
		}
		sets = append(sets, set)
	}
	return &Range{sets: sets, raw: trimmed}, nil
}

// Satisfies is a convenience wrapper: parse nothing, just test.
func Satisfies(v *Version, r *Range) bool {
	return r.Satisfies(v)
}
