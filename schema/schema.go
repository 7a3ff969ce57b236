// Copyright 2024-2026 The GraphFuse Authors. SPDX-License-Identifier: Apache-2.0

// Package schema declares, per public op kind, the arity, attribute and
// validation contract of the operator, plus a process-wide registry of those
// contracts.
//
// Registration follows a "register at initialization, read afterwards"
// discipline: the built-in schemas are registered from this package's init,
// and callers may add their own before creating the first graph. After
// initialization the table is read-only and safe to share across goroutines.
package schema

import (
	"maps"

	"github.com/pkg/errors"

	"github.com/graphfuse/graphfuse/ir"
)

// AttrSpec describes one allowed attribute of an op kind.
type AttrSpec struct {
	Kind     ir.AttrKind
	Required bool

	// Default is populated into ops missing the attribute by
	// SetDefaultAttributes. Only meaningful for optional attributes.
	Default *ir.Attr
}

// OpSchema is the contract of one op kind: input/output arity bounds, allowed
// attributes and an optional extra verification predicate.
type OpSchema struct {
	Kind ir.OpKind

	// MinInputs and MaxInputs bound the accepted number of input slots.
	// Variadic lifts the upper bound.
	MinInputs, MaxInputs int
	Variadic             bool

	MinOutputs, MaxOutputs int

	// Attrs maps attribute name to its spec. Attributes not listed here are
	// permitted and ignored by verification.
	Attrs map[string]AttrSpec

	// VerifyFn is an optional extra predicate run after the structural checks.
	VerifyFn func(op *ir.Op) bool
}

// SetDefaultAttributes populates op's missing optional attributes with the
// schema defaults.
func (s *OpSchema) SetDefaultAttributes(op *ir.Op) {
	for name, spec := range s.Attrs {
		if spec.Default == nil || op.HasAttr(name) {
			continue
		}
		op.SetAttr(name, *spec.Default)
	}
}

// Verify reports whether op satisfies the schema: arity within bounds, every
// required attribute present, and every declared attribute carrying the
// declared tag.
func (s *OpSchema) Verify(op *ir.Op) bool {
	n := op.NumInputs()
	if n < s.MinInputs || (!s.Variadic && n > s.MaxInputs) {
		return false
	}
	n = op.NumOutputs()
	if n < s.MinOutputs || n > s.MaxOutputs {
		return false
	}
	for name, spec := range s.Attrs {
		a, ok := op.Attr(name)
		if !ok {
			if spec.Required {
				return false
			}
			continue
		}
		if a.Kind() != spec.Kind {
			return false
		}
	}
	if s.VerifyFn != nil && !s.VerifyFn(op) {
		return false
	}
	return true
}

// equal reports whether two schemas declare the same contract. Used to make
// re-registration idempotent. VerifyFn is compared by presence only.
func (s *OpSchema) equal(other *OpSchema) bool {
	if s.Kind != other.Kind ||
		s.MinInputs != other.MinInputs || s.MaxInputs != other.MaxInputs ||
		s.Variadic != other.Variadic ||
		s.MinOutputs != other.MinOutputs || s.MaxOutputs != other.MaxOutputs ||
		(s.VerifyFn == nil) != (other.VerifyFn == nil) {
		return false
	}
	return maps.EqualFunc(s.Attrs, other.Attrs, func(a, b AttrSpec) bool {
		if a.Kind != b.Kind || a.Required != b.Required {
			return false
		}
		if (a.Default == nil) != (b.Default == nil) {
			return false
		}
		return a.Default == nil || a.Default.Equal(*b.Default)
	})
}

var registry = make(map[ir.OpKind]*OpSchema)

// Register adds the schema for its kind. Re-registration with the same
// content is a no-op; a conflicting registration is rejected with
// ErrInvalidArgument.
//
// Register must only be called during initialization, before the first graph
// is created.
func Register(s OpSchema) error {
	if existing, ok := registry[s.Kind]; ok {
		if existing.equal(&s) {
			return nil
		}
		return errors.Wrapf(ir.ErrInvalidArgument,
			"schema for %s already registered with different content", s.Kind)
	}
	registry[s.Kind] = &s
	return nil
}

// Lookup returns the schema registered for kind, or nil if the kind has no
// schema (such ops bypass verification).
func Lookup(kind ir.OpKind) *OpSchema {
	return registry[kind]
}
