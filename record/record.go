// Copyright 2026 The Metabase Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

// Package record implements the three-tier Metadata Record value object and
// the merge rules that assemble it from a probe result, a caller operation,
// and plugin dispatch output. Grounded on the system/user/plugin sub-map
// layout from the specification and on the teacher's deep-copy discipline
// (internal/deepcopy, internal/maps) for isolating stored state from
// caller-held references.
package record

import (
	"encoding/json"
	"fmt"

	"github.com/metabase-project/metabase/value"
)

// System is the fixed-schema sub-map captured by the attribute probe.
type System struct {
	Path      string  `json:"path"`
	Filename  string  `json:"filename"`
	Extension string  `json:"extension"`
	Size      int64   `json:"size"`
	Created   float64 `json:"created"`
	Modified  float64 `json:"modified"`
	Accessed  float64 `json:"accessed"`
}

// Validate enforces invariant 4 from the specification: size must be
// non-negative, and path must be set.
func (s System) Validate() error {
	if s.Path == "" {
		return fmt.Errorf("record: system.path must not be empty")
	}
	if s.Size < 0 {
		return fmt.Errorf("record: system.size must be non-negative, got %d", s.Size)
	}
	return nil
}

// Record is the full three-tier value bound to one canonical path.
type Record struct {
	System System                 `json:"system"`
	User    map[string]value.Value `json:"user"`
	Plugin  map[string]value.Value `json:"plugin"`
}

// New returns a record with empty, non-nil user/plugin sub-maps.
func New(system System) Record {
	return Record{
		System: system,
		User:   map[string]value.Value{},
		Plugin: map[string]value.Value{},
	}
}

// Clone returns a deep, independent copy of r.
func (r Record) Clone() Record {
	return Record{
		System: r.System,
		User:   value.DeepCopy(r.User).(map[string]value.Value),
		Plugin: value.DeepCopy(r.Plugin).(map[string]value.Value),
	}
}

// Equal reports whether two records are record-wise equal, used by the
// export/import round-trip test property.
func Equal(a, b Record) bool {
	return a.System == b.System &&
		value.Equal(mapToValue(a.User), mapToValue(b.User)) &&
		value.Equal(mapToValue(a.Plugin), mapToValue(b.Plugin))
}

// Fields returns a three-key view of r ("system", "user", "plugin") for
// dotted-field lookups by the Index Registry and Query Engine.
func (r Record) Fields() map[string]value.Value {
	sys, err := json.Marshal(r.System)
	if err != nil {
		sys = []byte("{}")
	}
	sysVal, err := value.FromJSON(sys)
	if err != nil {
		sysVal = map[string]value.Value{}
	}
	return map[string]value.Value{
		"system": sysVal,
		"user":   mapToValue(r.User),
		"plugin": mapToValue(r.Plugin),
	}
}

func mapToValue(m map[string]value.Value) value.Value {
	if m == nil {
		return map[string]value.Value{}
	}
	return value.Value(m)
}

// UserOp is a mutation to apply to the user sub-map: shallow overlay
// (update_metadata) or whole-sub-map replacement (replace_metadata).
type UserOp struct {
	Replace bool
	Patch   map[string]value.Value
}

// Overlay returns a copy of UserOp that performs a shallow key overlay,
// preserving unspecified keys.
func Overlay(patch map[string]value.Value) UserOp {
	return UserOp{Patch: patch}
}

// Replace returns a UserOp that replaces the entire user sub-map.
func Replace(newUser map[string]value.Value) UserOp {
	return UserOp{Replace: true, Patch: newUser}
}

// Apply mutates user in place per the assembly rules in §4.D: update_metadata
// is a shallow overlay of keys, replace_metadata replaces the whole map.
func (op UserOp) Apply(user map[string]value.Value) map[string]value.Value {
	if op.Replace {
		cpy := make(map[string]value.Value, len(op.Patch))
		for k, v := range op.Patch {
			cpy[k] = value.DeepCopy(v)
		}
		return cpy
	}
	if user == nil {
		user = map[string]value.Value{}
	}
	for k, v := range op.Patch {
		user[k] = value.DeepCopy(v)
	}
	return user
}

// ConflictPolicy governs how multiple plugin outputs for the same path are
// combined into the record's plugin sub-map. See package plugin.
type ConflictPolicy int

const (
	// PolicyPriority: higher-priority plugin's keys win outright.
	PolicyPriority ConflictPolicy = iota
	// PolicyMerge: shallow union; on collision, higher priority wins, but
	// nested mappings are recursively merged.
	PolicyMerge
	// PolicyFirstOnly: only the first matching plugin's output is used.
	PolicyFirstOnly
	// PolicyLastOnly: only the last matching plugin's output is used.
	PolicyLastOnly
)

// MergePluginOutputs combines a priority-ordered (descending) slice of
// plugin extraction results into one plugin sub-map under policy.
func MergePluginOutputs(outputs []map[string]value.Value, policy ConflictPolicy) map[string]value.Value {
	if len(outputs) == 0 {
		return map[string]value.Value{}
	}
	switch policy {
	case PolicyFirstOnly:
		return value.DeepCopy(outputs[0]).(map[string]value.Value)
	case PolicyLastOnly:
		return value.DeepCopy(outputs[len(outputs)-1]).(map[string]value.Value)
	case PolicyMerge:
		result := map[string]value.Value{}
		// Lowest priority first so higher-priority entries overwrite/merge last.
		for i := len(outputs) - 1; i >= 0; i-- {
			result = mergeRecursive(result, outputs[i])
		}
		return result
	default: // PolicyPriority
		result := map[string]value.Value{}
		for i := len(outputs) - 1; i >= 0; i-- {
			for k, v := range outputs[i] {
				result[k] = value.DeepCopy(v)
			}
		}
		return result
	}
}

func mergeRecursive(dst, src map[string]value.Value) map[string]value.Value {
	for k, v := range src {
		if existing, ok := dst[k]; ok {
			dstMap, dstOK := existing.(map[string]value.Value)
			srcMap, srcOK := v.(map[string]value.Value)
			if dstOK && srcOK {
				dst[k] = mergeRecursive(value.DeepCopy(dstMap).(map[string]value.Value), srcMap)
				continue
			}
		}
		dst[k] = value.DeepCopy(v)
	}
	return dst
}

// MarshalJSON/UnmarshalJSON round-trip records through the export/import
// wire format described in §6, using encoding/json directly on the exported
// field names (system/user/plugin) to match the specified shape exactly.
func (r Record) MarshalJSON() ([]byte, error) {
	type wire struct {
		System System                 `json:"system"`
		User   map[string]value.Value `json:"user"`
		Plugin map[string]value.Value `json:"plugin"`
	}
	return json.Marshal(wire{System: r.System, User: r.User, Plugin: r.Plugin})
}

func (r *Record) UnmarshalJSON(data []byte) error {
	var wire struct {
		System System          `json:"system"`
		User   json.RawMessage `json:"user"`
		Plugin json.RawMessage `json:"plugin"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return fmt.Errorf("record: unmarshal: %w", err)
	}
	r.System = wire.System
	user, err := decodeMapValue(wire.User)
	if err != nil {
		return fmt.Errorf("record: unmarshal user: %w", err)
	}
	plugin, err := decodeMapValue(wire.Plugin)
	if err != nil {
		return fmt.Errorf("record: unmarshal plugin: %w", err)
	}
	r.User = user
	r.Plugin = plugin
	return nil
}

func decodeMapValue(raw json.RawMessage) (map[string]value.Value, error) {
	if len(raw) == 0 {
		return map[string]value.Value{}, nil
	}
	v, err := value.FromJSON(raw)
	if err != nil {
		return nil, err
	}
	m, ok := v.(map[string]value.Value)
	if !ok {
		if v == nil {
			return map[string]value.Value{}, nil
		}
		return nil, fmt.Errorf("expected object, got %T", v)
	}
	return m, nil
}
