// Copyright 2026 The Metabase Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package query

import (
	"strings"

	"github.com/metabase-project/metabase/record"
	"github.com/metabase-project/metabase/storage"
	"github.com/metabase-project/metabase/value"
)

const (
	opAnd = "$and"
	opOr  = "$or"
	opNot = "$not"
)

// compiled is a parsed query: a set of field predicates implicitly
// AND-combined with zero or more nested $and/$or/$not groups.
type compiled struct {
	fields map[string]Matcher
	and    []*compiled
	or     []*compiled
	not    *compiled
}

// Compile parses a raw query mapping into a compiled query, rejecting
// unknown operators or malformed operand shapes with a QueryErr.
func Compile(raw map[string]value.Value) (*compiled, error) {
	c := &compiled{fields: make(map[string]Matcher)}
	for key, v := range raw {
		switch key {
		case opAnd, opOr:
			list, ok := v.([]value.Value)
			if !ok {
				return nil, storage.Query("%s operand must be a list of sub-queries", key)
			}
			for _, sub := range list {
				sm, ok := sub.(map[string]value.Value)
				if !ok {
					return nil, storage.Query("%s sub-query must be a mapping", key)
				}
				compiledSub, err := Compile(sm)
				if err != nil {
					return nil, err
				}
				if key == opAnd {
					c.and = append(c.and, compiledSub)
				} else {
					c.or = append(c.or, compiledSub)
				}
			}
		case opNot:
			sm, ok := v.(map[string]value.Value)
			if !ok {
				return nil, storage.Query("%s operand must be a mapping", opNot)
			}
			compiledSub, err := Compile(sm)
			if err != nil {
				return nil, err
			}
			c.not = compiledSub
		default:
			m, err := parseMatcher(v)
			if err != nil {
				return nil, err
			}
			c.fields[key] = m
		}
	}
	return c, nil
}

func (c *compiled) eval(rec record.Record) bool {
	view := rec.Fields()
	for field, m := range c.fields {
		v, present := value.Lookup(view, field)
		if !m.eval(v, present) {
			return false
		}
	}
	for _, sub := range c.and {
		if !sub.eval(rec) {
			return false
		}
	}
	if len(c.or) > 0 {
		matched := false
		for _, sub := range c.or {
			if sub.eval(rec) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	if c.not != nil && c.not.eval(rec) {
		return false
	}
	return true
}

// Registry is the subset of index.Registry the planner needs, kept as an
// interface so the query package does not import index directly and tests
// can use a fake.
type Registry interface {
	HasIndex(dotted string) bool
	IsListField(dotted string) bool
	Lookup(dotted string, v value.Value) (paths []string, indexed bool)
	BucketSize(dotted string, v value.Value) int
	AllPaths() []string
	Get(path string) (record.Record, bool)
}

// Engine evaluates compiled queries against a Registry, using secondary
// indexes where the planner can and falling back to a full scan otherwise.
type Engine struct {
	registry Registry
	handlers map[string]Handler
}

func New(r Registry) *Engine { return &Engine{registry: r, handlers: make(map[string]Handler)} }

// Handler is a caller-registered custom query operator, layered on top of
// the closed built-in set (additive, never required — §4.G). No handler is
// registered by default.
// A query invokes a handler via the reserved key "$handler:<name>".
type Handler func(registry Registry, operand value.Value) []string

// RegisterHandler installs a named custom query handler.
func (e *Engine) RegisterHandler(name string, h Handler) {
	e.handlers[name] = h
}

const handlerKeyPrefix = "$handler:"

// Search compiles and evaluates raw, returning canonical paths in
// insertion order.
func (e *Engine) Search(raw map[string]value.Value) ([]string, error) {
	builtin := make(map[string]value.Value)
	var handlerSets [][]string
	for k, v := range raw {
		name, isHandler := strings.CutPrefix(k, handlerKeyPrefix)
		if !isHandler {
			builtin[k] = v
			continue
		}
		h, ok := e.handlers[name]
		if !ok {
			return nil, storage.Query("unknown query handler %q", name)
		}
		handlerSets = append(handlerSets, h(e.registry, v))
	}

	c, err := Compile(builtin)
	if err != nil {
		return nil, err
	}
	candidates, planned := e.plan(c)
	var scan []string
	switch {
	case len(handlerSets) > 0:
		scan = handlerSets[0]
		for _, s := range handlerSets[1:] {
			scan = intersectOrdered(scan, s)
		}
		if planned {
			scan = intersectOrdered(scan, candidates)
		}
	case planned:
		scan = candidates
	default:
		scan = e.registry.AllPaths()
	}

	var out []string
	for _, path := range scan {
		rec, ok := e.registry.Get(path)
		if ok && c.eval(rec) {
			out = append(out, path)
		}
	}
	return out, nil
}

// plan resolves every indexable top-level field predicate through the
// registry, intersecting the smallest candidate sets first, and removes
// resolved predicates from c.fields (their membership already reflects the
// exact matcher semantics, so there's nothing left to post-filter for
// them). Predicates left in c.fields, and all $and/$or/$not groups, are
// evaluated by eval during the scan.
func (e *Engine) plan(c *compiled) ([]string, bool) {
	var sets []candidateSet
	remaining := make(map[string]Matcher)

	for field, m := range c.fields {
		if !e.registry.HasIndex(field) {
			remaining[field] = m
			continue
		}
		switch m.Op {
		case opEq:
			if paths, ok := e.registry.Lookup(field, m.Operand); ok {
				sets = append(sets, candidateSet{paths})
				continue
			}
		case opContains:
			// Only a field whose indexed values have always been lists can be
			// resolved from the bucket alone: list-containment is exact-element
			// equality, which the index already encodes. A field that has ever
			// held a bare string needs substring matching, which the index
			// cannot answer, so it must fall through to the post-filter scan
			// below instead of being dropped from c.fields here.
			if isScalar(m.Operand) && e.registry.IsListField(field) {
				if paths, ok := e.registry.Lookup(field, m.Operand); ok {
					sets = append(sets, candidateSet{paths})
					continue
				}
			}
		case opIn:
			if list, ok := m.Operand.([]value.Value); ok {
				seen := make(map[string]struct{})
				for _, v := range list {
					paths, _ := e.registry.Lookup(field, v)
					for _, p := range paths {
						seen[p] = struct{}{}
					}
				}
				var union []string
				for _, p := range e.registry.AllPaths() {
					if _, ok := seen[p]; ok {
						union = append(union, p)
					}
				}
				sets = append(sets, candidateSet{union})
				continue
			}
		}
		remaining[field] = m
	}

	c.fields = remaining
	if len(sets) == 0 {
		return nil, false
	}

	sortBySize(sets)
	result := sets[0].paths
	for _, s := range sets[1:] {
		result = intersectOrdered(result, s.paths)
	}
	return result, true
}

type candidateSet struct {
	paths []string
}

func isScalar(v value.Value) bool {
	switch v.(type) {
	case map[string]value.Value, []value.Value:
		return false
	default:
		return true
	}
}

func sortBySize(sets []candidateSet) {
	for i := 1; i < len(sets); i++ {
		for j := i; j > 0 && len(sets[j-1].paths) > len(sets[j].paths); j-- {
			sets[j-1], sets[j] = sets[j], sets[j-1]
		}
	}
}

func intersectOrdered(a, b []string) []string {
	set := make(map[string]struct{}, len(b))
	for _, p := range b {
		set[p] = struct{}{}
	}
	var out []string
	for _, p := range a {
		if _, ok := set[p]; ok {
			out = append(out, p)
		}
	}
	return out
}
