// Copyright 2026 The Metabase Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

// Package value implements the closed JSON-like value sum that user and
// plugin metadata fields are expressed over: null, bool, number, string,
// ordered lists, and string-keyed mappings. The system never interprets the
// semantics of these values; it only compares, lists, and merges them the
// way encoding/json would.
package value

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Value is any JSON-like scalar, list, or mapping produced by a caller or a
// plugin. It is always one of: nil, bool, float64, string, []Value, or
// map[string]Value.
type Value = any

// FromJSON decodes raw JSON bytes into a Value tree using json.Number, then
// normalizes every json.Number into float64 for uniform comparison (see
// Normalize); integers beyond float64's exact range lose precision.
func FromJSON(raw []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("value: decode json: %w", err)
	}
	return Normalize(v), nil
}

// Normalize walks a decoded any tree (as produced by encoding/json with
// UseNumber) and converts json.Number into float64, []any into []Value, and
// map[string]any into map[string]Value, recursively.
func Normalize(v any) Value {
	switch x := v.(type) {
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return 0.0
		}
		return f
	case []any:
		out := make([]Value, len(x))
		for i, e := range x {
			out[i] = Normalize(e)
		}
		return out
	case map[string]any:
		out := make(map[string]Value, len(x))
		for k, e := range x {
			out[k] = Normalize(e)
		}
		return out
	default:
		return x
	}
}

// DeepCopy returns a recursive copy of v so that mutation of a stored record
// never aliases caller-held state. Grounded on the teacher's
// internal/deepcopy helper, generalized from map[string]any/[]any to the
// closed Value sum.
func DeepCopy(v Value) Value {
	switch x := v.(type) {
	case []Value:
		cpy := make([]Value, len(x))
		for i := range x {
			cpy[i] = DeepCopy(x[i])
		}
		return cpy
	case map[string]Value:
		cpy := make(map[string]Value, len(x))
		for k, e := range x {
			cpy[k] = DeepCopy(e)
		}
		return cpy
	default:
		return x
	}
}

// Equal reports whether a and b represent the same JSON value.
func Equal(a, b Value) bool {
	switch x := a.(type) {
	case []Value:
		y, ok := b.([]Value)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !Equal(x[i], y[i]) {
				return false
			}
		}
		return true
	case map[string]Value:
		y, ok := b.(map[string]Value)
		if !ok || len(x) != len(y) {
			return false
		}
		for k, v := range x {
			yv, ok := y[k]
			if !ok || !Equal(v, yv) {
				return false
			}
		}
		return true
	case float64, int, int64:
		xf, _ := toFloat(x)
		y, ok := toFloat(b)
		return ok && xf == y
	default:
		return a == b
	}
}

func toFloat(v Value) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	}
	return 0, false
}

// Contains reports whether v is a list containing elem (per Equal), or v is a
// string and elem is a string substring of v.
func Contains(v, elem Value) bool {
	switch x := v.(type) {
	case []Value:
		for _, e := range x {
			if Equal(e, elem) {
				return true
			}
		}
		return false
	case string:
		s, ok := elem.(string)
		return ok && strings.Contains(x, s)
	}
	return false
}

// Lookup walks root by the dot-separated segments of dotted and returns the
// value found there, or (nil, false) if any segment is missing or traverses
// through a non-mapping value.
func Lookup(root map[string]Value, dotted string) (Value, bool) {
	segs := splitDotted(dotted)
	if len(segs) == 0 {
		return nil, false
	}
	cur := Value(root)
	for _, seg := range segs {
		m, ok := cur.(map[string]Value)
		if !ok {
			return nil, false
		}
		next, ok := m[seg]
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

func splitDotted(s string) []string {
	var segs []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '.' {
			segs = append(segs, s[start:i])
			start = i + 1
		}
	}
	return append(segs, s[start:])
}

// SortedKeys returns the keys of m in lexical order, for callers that need a
// deterministic traversal of a mapping value.
func SortedKeys(m map[string]Value) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
