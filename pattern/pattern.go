// Copyright 2024-2026 The GraphFuse Authors. SPDX-License-Identifier: Apache-2.0

// Package pattern implements the declarative subgraph patterns used by the
// fusion passes, and the topological matcher that binds them against a graph.
//
// A pattern is data, not code: a list of nodes (op-kind filter, arity
// constraint, attribute predicates) plus edges with optional input-slot
// constraints. The matcher is one general routine; passes differ only in the
// patterns they carry.
package pattern

import (
	"github.com/gomlx/exceptions"

	"github.com/graphfuse/graphfuse/graph"
	"github.com/graphfuse/graphfuse/ir"
)

// AnySlot on an edge lets the matcher try every input slot of the consumer.
// Used for commutative binary ops (Add, Multiply), where the pattern operand
// may arrive on either side.
const AnySlot = -1

// AttrPredicate constrains one attribute of a candidate op. Either Eq is set
// (exact equality, deep for lists) or Min/Max bound a float attribute
// inclusively. A candidate missing the attribute never matches.
type AttrPredicate struct {
	Name     string
	Eq       *ir.Attr
	Min, Max *float32
}

// Match reports whether the op satisfies the predicate.
func (p AttrPredicate) Match(op *ir.Op) bool {
	attr, ok := op.Attr(p.Name)
	if !ok {
		return false
	}
	if p.Eq != nil {
		return attr.Equal(*p.Eq)
	}
	v, err := attr.Float()
	if err != nil {
		return false
	}
	if p.Min != nil && v < *p.Min {
		return false
	}
	if p.Max != nil && v > *p.Max {
		return false
	}
	return true
}

// EqFloat is a convenience predicate: attribute name equals the f32 value.
func EqFloat(name string, value float32) AttrPredicate {
	attr := ir.FloatAttr(value)
	return AttrPredicate{Name: name, Eq: &attr}
}

// Node is one pattern node: a filter over graph ops.
type Node struct {
	// Kind filters the op kind. ir.Wildcard matches any op.
	Kind ir.OpKind

	// NumInputs, when positive, requires the candidate to have exactly that
	// many input slots. This is how passes distinguish the 2-input from the
	// 3-input (with-bias) convolution form.
	NumInputs int

	// OutDegree, when positive, requires the candidate's outputs to have
	// exactly that many consumer slots in total.
	OutDegree int

	// Attrs are attribute predicates that must all hold.
	Attrs []AttrPredicate
}

// Edge declares that the op bound to From produces a value consumed by the op
// bound to To. ToSlot pins the input slot of the consumer (needed for
// non-commutative ops); AnySlot lets the matcher try every slot.
type Edge struct {
	From, To int
	ToSlot   int
}

// Pattern is a rooted DAG of pattern nodes. Root indexes the sink node — the
// op whose outputs survive the rewrite. Nodes must be listed sources-first:
// their order determines the input order of the fused op built from a match.
type Pattern struct {
	Nodes []Node
	Edges []Edge
	Root  int
}

// Validate panics if the pattern is malformed. Called at pass registration.
func (p *Pattern) Validate() {
	if len(p.Nodes) == 0 {
		exceptions.Panicf("pattern has no nodes")
	}
	if p.Root < 0 || p.Root >= len(p.Nodes) {
		exceptions.Panicf("pattern root %d out of range", p.Root)
	}
	for _, e := range p.Edges {
		if e.From < 0 || e.From >= len(p.Nodes) || e.To < 0 || e.To >= len(p.Nodes) {
			exceptions.Panicf("pattern edge %d->%d out of range", e.From, e.To)
		}
		if e.ToSlot < AnySlot {
			exceptions.Panicf("pattern edge %d->%d has invalid slot %d", e.From, e.To, e.ToSlot)
		}
	}
}

// matcher carries the state of one MatchAt attempt.
type matcher struct {
	g       *graph.Graph
	p       *Pattern
	skip    func(*ir.Op) bool
	inEdges [][]Edge

	bound []*ir.Op
	trail []int
}

// MatchAt attempts to bind the pattern with its root at the given op.
// skip filters ops that may not participate (already claimed, typically).
// On success it returns the bound ops, one per pattern node, in node order.
//
// The walk goes backwards along pattern edges: at each step the op kind
// filter, arity constraint and attribute predicates are checked, edges with a
// pinned slot follow exactly that producer, and AnySlot edges backtrack over
// every input-slot assignment, so commutative operands match in either order.
// Every pattern node must bind a distinct op, and no output of a non-root
// bound op may have a consumer outside the match.
func (p *Pattern) MatchAt(g *graph.Graph, root *ir.Op, skip func(*ir.Op) bool) ([]*ir.Op, bool) {
	m := &matcher{
		g:       g,
		p:       p,
		skip:    skip,
		inEdges: make([][]Edge, len(p.Nodes)),
		bound:   make([]*ir.Op, len(p.Nodes)),
	}
	for _, e := range p.Edges {
		m.inEdges[e.To] = append(m.inEdges[e.To], e)
	}

	if !m.bindNode(p.Root, root) {
		return nil, false
	}
	for idx, op := range m.bound {
		if op == nil {
			// A node unreachable from the root can never bind.
			return nil, false
		}
		if idx != p.Root && m.hasExternalConsumer(op) {
			return nil, false
		}
	}
	return m.bound, true
}

// bindNode binds the pattern node to op, recursively satisfying its incoming
// edges. It leaves no bindings behind on failure.
func (m *matcher) bindNode(nodeIdx int, op *ir.Op) bool {
	if bound := m.bound[nodeIdx]; bound != nil {
		return bound == op
	}
	for _, other := range m.bound {
		if other == op {
			return false // already bound to a different pattern node
		}
	}
	if m.skip != nil && m.skip(op) {
		return false
	}
	if !m.checkNode(nodeIdx, op) {
		return false
	}

	m.bound[nodeIdx] = op
	m.trail = append(m.trail, nodeIdx)
	checkpoint := len(m.trail) - 1
	if m.assignEdges(m.inEdges[nodeIdx], 0, 0, op) {
		return true
	}
	m.rollback(checkpoint)
	return false
}

// assignEdges satisfies the incoming edges of one consumer op, assigning each
// edge to a distinct input slot. usedSlots is a bitmask of taken slots.
func (m *matcher) assignEdges(edges []Edge, i int, usedSlots uint64, op *ir.Op) bool {
	if i == len(edges) {
		return true
	}
	e := edges[i]
	trySlot := func(slot int) bool {
		if slot >= op.NumInputs() || usedSlots&(1<<slot) != 0 {
			return false
		}
		producer, _, ok := m.g.ProducerOf(op.Inputs()[slot].ID)
		if !ok {
			return false
		}
		checkpoint := len(m.trail)
		if !m.bindNode(e.From, producer) {
			return false
		}
		if m.assignEdges(edges, i+1, usedSlots|1<<slot, op) {
			return true
		}
		m.rollback(checkpoint)
		return false
	}

	if e.ToSlot != AnySlot {
		return trySlot(e.ToSlot)
	}
	for slot := range op.NumInputs() {
		if trySlot(slot) {
			return true
		}
	}
	return false
}

// rollback undoes bindings recorded after the checkpoint.
func (m *matcher) rollback(checkpoint int) {
	for len(m.trail) > checkpoint {
		idx := m.trail[len(m.trail)-1]
		m.trail = m.trail[:len(m.trail)-1]
		m.bound[idx] = nil
	}
}

// checkNode applies the node's filters to a candidate op.
func (m *matcher) checkNode(nodeIdx int, op *ir.Op) bool {
	n := m.p.Nodes[nodeIdx]
	if n.Kind != ir.Wildcard && op.Kind() != n.Kind {
		return false
	}
	if n.NumInputs > 0 && op.NumInputs() != n.NumInputs {
		return false
	}
	if n.OutDegree > 0 && m.outDegree(op) != n.OutDegree {
		return false
	}
	for _, pred := range n.Attrs {
		if !pred.Match(op) {
			return false
		}
	}
	return true
}

// outDegree counts the consumer slots of all the op's outputs.
func (m *matcher) outDegree(op *ir.Op) int {
	n := 0
	for _, lt := range op.Outputs() {
		n += len(m.g.ConsumersOf(lt.ID))
	}
	return n
}

// hasExternalConsumer reports whether any output of op is consumed by an op
// outside the current binding. Such a match would swallow a value another
// consumer still needs.
func (m *matcher) hasExternalConsumer(op *ir.Op) bool {
	for _, lt := range op.Outputs() {
		for _, consumer := range m.g.ConsumersOf(lt.ID) {
			if !m.isBound(consumer) {
				return true
			}
		}
	}
	return false
}

func (m *matcher) isBound(op *ir.Op) bool {
	for _, bound := range m.bound {
		if bound == op {
			return true
		}
	}
	return false
}
