// Copyright 2026 The Metabase Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

// Package query implements the Query Engine: matcher parsing over the
// closed operator set, an index-aware planner, and a deterministic,
// insertion-ordered iterator. Grounded on the selectivity-driven planning
// language of §4.G and on the standard library regexp package for $regex —
// the one stdlib choice here with no ecosystem alternative in the
// retrieval pack (see DESIGN.md).
package query

import (
	"regexp"

	"github.com/metabase-project/metabase/storage"
	"github.com/metabase-project/metabase/value"
)

// operator names, the closed set from §4.G.
const (
	opEq       = "$eq"
	opNe       = "$ne"
	opContains = "$contains"
	opIn       = "$in"
	opGt       = "$gt"
	opGte      = "$gte"
	opLt       = "$lt"
	opLte      = "$lte"
	opExists   = "$exists"
	opRegex    = "$regex"
)

var fieldOperators = map[string]bool{
	opEq: true, opNe: true, opContains: true, opIn: true,
	opGt: true, opGte: true, opLt: true, opLte: true,
	opExists: true, opRegex: true,
}

// Matcher is a single field predicate: an operator plus its operand.
type Matcher struct {
	Op      string
	Operand value.Value
}

func parseMatcher(raw value.Value) (Matcher, error) {
	m, ok := raw.(map[string]value.Value)
	if !ok {
		return Matcher{Op: opEq, Operand: raw}, nil
	}
	if len(m) != 1 {
		return Matcher{}, storage.Query("matcher mapping must have exactly one operator key")
	}
	for k, v := range m {
		if !fieldOperators[k] {
			return Matcher{}, storage.Query("unknown or misplaced operator %q", k)
		}
		return Matcher{Op: k, Operand: v}, nil
	}
	panic("unreachable")
}

// eval applies m against the record's value v (present reports whether the
// field existed at all).
func (m Matcher) eval(v value.Value, present bool) bool {
	if m.Op == opExists {
		want, _ := m.Operand.(bool)
		return present == want
	}
	if !present {
		return false
	}
	switch m.Op {
	case opEq:
		return matchEq(v, m.Operand)
	case opNe:
		return !matchEq(v, m.Operand)
	case opContains:
		return value.Contains(v, m.Operand)
	case opIn:
		return matchIn(v, m.Operand)
	case opGt, opGte, opLt, opLte:
		return matchCompare(m.Op, v, m.Operand)
	case opRegex:
		return matchRegex(v, m.Operand)
	default:
		return false
	}
}

func matchEq(v, operand value.Value) bool {
	if list, ok := v.([]value.Value); ok {
		return value.Contains(list, operand)
	}
	return value.Equal(v, operand)
}

func matchIn(v, operand value.Value) bool {
	list, ok := operand.([]value.Value)
	if !ok {
		return false
	}
	if vs, ok := v.([]value.Value); ok {
		for _, e := range vs {
			for _, o := range list {
				if value.Equal(e, o) {
					return true
				}
			}
		}
		return false
	}
	for _, o := range list {
		if value.Equal(v, o) {
			return true
		}
	}
	return false
}

func matchCompare(op string, v, operand value.Value) bool {
	if vf, ok := v.(float64); ok {
		of, ok := operand.(float64)
		if !ok {
			return false
		}
		return compareOrdered(op, vf < of, vf == of)
	}
	if vs, ok := v.(string); ok {
		os, ok := operand.(string)
		if !ok {
			return false
		}
		return compareOrdered(op, vs < os, vs == os)
	}
	return false
}

func compareOrdered(op string, less, equal bool) bool {
	switch op {
	case opGt:
		return !less && !equal
	case opGte:
		return !less
	case opLt:
		return less
	case opLte:
		return less || equal
	default:
		return false
	}
}

func matchRegex(v, operand value.Value) bool {
	s, ok := v.(string)
	if !ok {
		return false
	}
	pattern, ok := operand.(string)
	if !ok {
		return false
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return false
	}
	return re.MatchString(s)
}
