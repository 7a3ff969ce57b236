// Copyright 2024-2026 The GraphFuse Authors. SPDX-License-Identifier: Apache-2.0

// Package passes implements the fusion passes of the compiler core: the Pass
// primitive (name, priority, patterns, rewrite kind), the process-wide pass
// registry, and the pass manager that orders and drives the passes over a
// graph.
//
// The registry is populated at initialization (see fusions.go) and read-only
// afterwards. The pass manager optionally takes a JSON configuration file
// that overrides the priority-based ordering and can disable passes.
package passes

import (
	"slices"

	"github.com/graphfuse/graphfuse/graph"
	"github.com/graphfuse/graphfuse/ir"
	"github.com/graphfuse/graphfuse/pattern"
)

// Pass types, serialized as "pass_type" in the pass-manager JSON.
const (
	// TypeFusion marks a multi-op pattern-fusion pass.
	TypeFusion = "fusion"

	// TypeUnit marks a single-op pass that claims a lone op into its own
	// partition.
	TypeUnit = "pass"
)

// Pass bundles a name, a priority, one or more alternative patterns and the
// fused kind its rewrite produces. Passes are immutable after registration.
type Pass struct {
	name     string
	passType string
	priority float64

	fusedKind ir.OpKind
	patterns  []*pattern.Pattern
}

// NewPass creates a fusion pass. The patterns are alternatives, tried in
// order; each match is rewritten into a fused op of the given kind.
func NewPass(name string, priority float64, fusedKind ir.OpKind, patterns ...*pattern.Pattern) *Pass {
	for _, p := range patterns {
		p.Validate()
	}
	return &Pass{
		name:      name,
		passType:  TypeFusion,
		priority:  priority,
		fusedKind: fusedKind,
		patterns:  patterns,
	}
}

// NewUnitPass creates a single-op pass: it claims every lone op of the given
// kind into its own partition, the fused op being a copy of the op.
func NewUnitPass(name string, priority float64, kind ir.OpKind) *Pass {
	return &Pass{
		name:      name,
		passType:  TypeUnit,
		priority:  priority,
		fusedKind: kind,
		patterns:  []*pattern.Pattern{{Nodes: []pattern.Node{{Kind: kind}}}},
	}
}

// Name returns the unique pass name.
func (p *Pass) Name() string { return p.name }

// Type returns the pass type ("fusion" or "pass").
func (p *Pass) Type() string { return p.passType }

// Priority returns the pass priority. Longer patterns carry higher priority
// so they win over their prefixes.
func (p *Pass) Priority() float64 { return p.priority }

// FusedKind returns the op kind the pass rewrites matches into.
func (p *Pass) FusedKind() ir.OpKind { return p.fusedKind }

// Run matches the pass's patterns against the graph and rewrites each match
// into a partition.
//
// Root candidates are visited in reverse-topological order; when two
// candidates would yield overlapping matches, the first one encountered wins
// and the ops it claims are skipped by later attempts (and by later passes).
// Failing to match is not an error: the graph is simply left as-is.
func (p *Pass) Run(g *graph.Graph) error {
	for _, pat := range p.patterns {
		order, err := g.TopoOrder()
		if err != nil {
			return err
		}
		slices.Reverse(order)
		for _, root := range order {
			if g.IsClaimed(root) {
				continue
			}
			matched, ok := pat.MatchAt(g, root, g.IsClaimed)
			if !ok {
				continue
			}
			if _, err := g.Rewrite(matched, p.fusedKind); err != nil {
				return err
			}
		}
	}
	return nil
}
