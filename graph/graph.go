// Copyright 2024-2026 The GraphFuse Authors. SPDX-License-Identifier: Apache-2.0

// Package graph implements the computation-graph container of the compiler
// core: clients add operator nodes carrying logical tensors, Build links
// value producers to consumers, and GetPartitions runs the registered fusion
// passes to produce partitions a backend can lower into single kernel calls.
//
// A Graph is mutated only by its owning caller; there is no internal locking
// and a Graph must not be shared between goroutines. The process-wide tables
// (operator schemas, fusion passes, backend capabilities) follow a "register
// at initialization, read afterwards" discipline and are safe to share.
package graph

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/graphfuse/graphfuse/ir"
	"github.com/graphfuse/graphfuse/schema"
)

// ValueSlot addresses one value slot of an op inside a graph: the arena index
// of the op and the slot position. Referring to ops by index (instead of
// pointer back-references) keeps producer/consumer navigation cycle-free.
type ValueSlot struct {
	OpIndex int
	Slot    int
}

// linkState is the producer/consumer index built by Build. It is recomputed
// lazily whenever ops are added or removed after a build.
type linkState struct {
	// producers maps tensor id to the slot that produces it.
	producers map[uint64]ValueSlot

	// consumers maps tensor id to the input slots consuming it, in op order.
	consumers map[uint64][]ValueSlot

	// topo holds the arena indices of the active ops, producers before
	// consumers.
	topo []int
}

// Graph holds the operations added by the client and, after Build, the
// implicit DAG formed by the value-slot edges. Ops are stored in an arena
// owned by the graph; partitions produced by passes keep read-only views into
// it, so the graph must outlive its partitions.
type Graph struct {
	uid        uuid.UUID
	engineKind ir.EngineKind

	// arena owns every op: client ops in insertion order, followed by fused
	// ops created by rewrites. Entries are never removed.
	arena []*ir.Op

	// active marks arena entries that are part of the live op list, i.e.
	// neither claimed by a partition nor deleted.
	active []bool

	// deleted marks arena entries removed by DeleteOp. Claimed ops are
	// inactive but not deleted: they keep consuming their input values, which
	// the link pass must still see.
	deleted []bool

	// opIDs maps op id to arena index.
	opIDs map[uint64]int

	// tensors records every tensor id seen, to enforce structural equality
	// of same-id tensors.
	tensors map[uint64]ir.LogicalTensor

	built bool
	link  linkState

	partitions []*Partition
	claimed    map[int]*Partition

	internalSeq uint64
}

// New creates an empty graph for the given engine kind.
func New(engineKind ir.EngineKind) *Graph {
	return &Graph{
		uid:        uuid.New(),
		engineKind: engineKind,
		opIDs:      make(map[uint64]int),
		tensors:    make(map[uint64]ir.LogicalTensor),
		claimed:    make(map[int]*Partition),
	}
}

// EngineKind returns the engine kind the graph is being compiled for.
func (g *Graph) EngineKind() ir.EngineKind { return g.engineKind }

// UID returns the graph's unique identifier, used to correlate log lines.
func (g *Graph) UID() uuid.UUID { return g.uid }

// AddOp inserts a copy of op into the graph.
//
// It fails with ErrDuplicateID if the op id is already present, with
// ErrInvalidArgument if one of the op's tensors reuses an id with different
// content, and with ErrInvalidOp if the op kind has a registered schema and
// the op fails its verification (schema defaults are applied first). On
// failure the graph is left unchanged.
//
// AddOp after Build is allowed; it invalidates the link state, which is
// rebuilt on the next access.
func (g *Graph) AddOp(op *ir.Op) error {
	if _, dup := g.opIDs[op.ID()]; dup {
		return errors.Wrapf(ir.ErrDuplicateID, "op id %d already present in graph", op.ID())
	}

	stored := op.Clone()
	if s := schema.Lookup(stored.Kind()); s != nil {
		s.SetDefaultAttributes(stored)
		if !s.Verify(stored) {
			return errors.Wrapf(ir.ErrInvalidOp, "op %s failed schema verification", stored)
		}
	}

	// Validate tensor ids before committing anything.
	fresh := make(map[uint64]ir.LogicalTensor)
	check := func(lt ir.LogicalTensor) error {
		seen, ok := g.tensors[lt.ID]
		if !ok {
			seen, ok = fresh[lt.ID]
		}
		if ok && !seen.Equal(lt) {
			return errors.Wrapf(ir.ErrInvalidArgument,
				"tensor id %d reused with different content by op %s", lt.ID, stored)
		}
		fresh[lt.ID] = lt
		return nil
	}
	for _, lt := range stored.Inputs() {
		if err := check(lt); err != nil {
			return err
		}
	}
	for _, lt := range stored.Outputs() {
		if err := check(lt); err != nil {
			return err
		}
	}

	for id, lt := range fresh {
		g.tensors[id] = lt
	}
	g.opIDs[stored.ID()] = len(g.arena)
	g.arena = append(g.arena, stored)
	g.active = append(g.active, true)
	g.deleted = append(g.deleted, false)
	g.built = false
	return nil
}

// Build runs the link pass: for each op input slot it finds the unique op
// whose output slot holds a tensor with that id and records the
// producer/consumer edges. Input slots with no producer are graph inputs.
//
// It fails with ErrInvalidGraph if two ops produce the same tensor id or if
// the value graph has a cycle. On failure the previous link state (if any) is
// kept.
func (g *Graph) Build() error {
	link := linkState{
		producers: make(map[uint64]ValueSlot),
		consumers: make(map[uint64][]ValueSlot),
	}

	for idx, op := range g.arena {
		if !g.active[idx] {
			continue
		}
		for slot, lt := range op.Outputs() {
			if prev, dup := link.producers[lt.ID]; dup {
				return errors.Wrapf(ir.ErrInvalidGraph,
					"tensor id %d produced by both %s and %s",
					lt.ID, g.arena[prev.OpIndex], op)
			}
			link.producers[lt.ID] = ValueSlot{OpIndex: idx, Slot: slot}
		}
	}
	// Claimed member ops still consume their input values; only deleted ops
	// and the fused representatives drop out. Fan-out checks rely on seeing
	// the claimed consumers.
	for idx, op := range g.arena {
		if g.deleted[idx] {
			continue
		}
		if !g.active[idx] {
			p := g.claimed[idx]
			if p == nil || p.fused == op {
				continue
			}
		}
		for slot, lt := range op.Inputs() {
			link.consumers[lt.ID] = append(link.consumers[lt.ID],
				ValueSlot{OpIndex: idx, Slot: slot})
		}
	}

	topo, err := g.topoSort(&link)
	if err != nil {
		return err
	}
	link.topo = topo

	g.link = link
	g.built = true
	klog.V(1).Infof("graph %s: linked %d ops", g.uid, len(topo))
	return nil
}

// topoSort orders the active ops producers-first (Kahn's algorithm over the
// value edges). A leftover op means a cycle.
func (g *Graph) topoSort(link *linkState) ([]int, error) {
	indegree := make(map[int]int)
	numActive := 0
	for idx := range g.arena {
		if !g.active[idx] {
			continue
		}
		numActive++
		for _, lt := range g.arena[idx].Inputs() {
			if _, ok := link.producers[lt.ID]; ok {
				indegree[idx]++
			}
		}
	}

	queue := make([]int, 0, numActive)
	for idx := range g.arena {
		if g.active[idx] && indegree[idx] == 0 {
			queue = append(queue, idx)
		}
	}

	topo := make([]int, 0, numActive)
	for len(queue) > 0 {
		idx := queue[0]
		queue = queue[1:]
		topo = append(topo, idx)
		for _, lt := range g.arena[idx].Outputs() {
			for _, consumer := range link.consumers[lt.ID] {
				if !g.active[consumer.OpIndex] {
					continue
				}
				indegree[consumer.OpIndex]--
				if indegree[consumer.OpIndex] == 0 {
					queue = append(queue, consumer.OpIndex)
				}
			}
		}
	}
	if len(topo) != numActive {
		return nil, errors.Wrapf(ir.ErrInvalidGraph,
			"cycle detected: only %d of %d ops orderable", len(topo), numActive)
	}
	return topo, nil
}

// ensureLinked rebuilds the link state if it is stale.
func (g *Graph) ensureLinked() error {
	if g.built {
		return nil
	}
	return g.Build()
}

// NumOps returns the number of active ops (not claimed by any partition).
func (g *Graph) NumOps() int {
	n := 0
	for idx := range g.arena {
		if g.active[idx] {
			n++
		}
	}
	return n
}

// Ops returns the active ops in insertion order.
func (g *Graph) Ops() []*ir.Op {
	ops := make([]*ir.Op, 0, len(g.arena))
	for idx, op := range g.arena {
		if g.active[idx] {
			ops = append(ops, op)
		}
	}
	return ops
}

// OpByID returns the op with the given id (active or claimed), or nil.
func (g *Graph) OpByID(id uint64) *ir.Op {
	idx, ok := g.opIDs[id]
	if !ok {
		return nil
	}
	return g.arena[idx]
}

// Inputs returns the active ops with no linked input producer, i.e. the ops
// fed purely by graph inputs.
func (g *Graph) Inputs() ([]*ir.Op, error) {
	if err := g.ensureLinked(); err != nil {
		return nil, err
	}
	var inputs []*ir.Op
	for idx, op := range g.arena {
		if !g.active[idx] {
			continue
		}
		linked := false
		for _, lt := range op.Inputs() {
			if producer, ok := g.link.producers[lt.ID]; ok && producer.OpIndex != idx {
				linked = true
				break
			}
		}
		if !linked {
			inputs = append(inputs, op)
		}
	}
	return inputs, nil
}

// Outputs returns the active ops none of whose outputs is consumed, i.e. the
// sinks of the graph.
func (g *Graph) Outputs() ([]*ir.Op, error) {
	if err := g.ensureLinked(); err != nil {
		return nil, err
	}
	var outputs []*ir.Op
	for idx, op := range g.arena {
		if !g.active[idx] {
			continue
		}
		consumed := false
		for _, lt := range op.Outputs() {
			if len(g.link.consumers[lt.ID]) > 0 {
				consumed = true
				break
			}
		}
		if !consumed {
			outputs = append(outputs, op)
		}
	}
	return outputs, nil
}

// ProducerOf returns the active op producing the tensor id and the output
// slot it flows from. ok is false for graph inputs and tensors produced by
// claimed ops.
func (g *Graph) ProducerOf(tensorID uint64) (op *ir.Op, slot int, ok bool) {
	if err := g.ensureLinked(); err != nil {
		return nil, 0, false
	}
	ref, ok := g.link.producers[tensorID]
	if !ok || !g.active[ref.OpIndex] {
		return nil, 0, false
	}
	return g.arena[ref.OpIndex], ref.Slot, true
}

// ConsumersOf returns the ops consuming the tensor id, in op order. An op
// consuming the tensor through several slots appears once per slot. Claimed
// consumers are included.
func (g *Graph) ConsumersOf(tensorID uint64) []*ir.Op {
	if err := g.ensureLinked(); err != nil {
		return nil
	}
	refs := g.link.consumers[tensorID]
	consumers := make([]*ir.Op, 0, len(refs))
	for _, ref := range refs {
		consumers = append(consumers, g.arena[ref.OpIndex])
	}
	return consumers
}

// TopoOrder returns the active ops, producers before consumers.
func (g *Graph) TopoOrder() ([]*ir.Op, error) {
	if err := g.ensureLinked(); err != nil {
		return nil, err
	}
	ops := make([]*ir.Op, 0, len(g.link.topo))
	for _, idx := range g.link.topo {
		if g.active[idx] {
			ops = append(ops, g.arena[idx])
		}
	}
	return ops, nil
}

// DeleteOp removes an op from the graph's active list and from its partition
// references, if any. A no-op if the op is not part of the graph.
func (g *Graph) DeleteOp(op *ir.Op) {
	idx, ok := g.opIDs[op.ID()]
	if !ok || g.arena[idx] != op {
		return
	}
	g.active[idx] = false
	g.deleted[idx] = true
	if p := g.claimed[idx]; p != nil {
		p.removeOp(op)
		delete(g.claimed, idx)
	}
	g.built = false
}

// IsClaimed reports whether the op has been claimed by a partition.
func (g *Graph) IsClaimed(op *ir.Op) bool {
	idx, ok := g.opIDs[op.ID()]
	if !ok {
		return false
	}
	_, claimed := g.claimed[idx]
	return claimed
}

// newInternalID allocates an id for a fused op, outside the range of any
// client-provided id.
func (g *Graph) newInternalID() uint64 {
	for {
		id := ^uint64(0) - g.internalSeq
		g.internalSeq++
		if _, taken := g.opIDs[id]; !taken {
			return id
		}
	}
}

// String implements fmt.Stringer, listing the active ops.
func (g *Graph) String() string {
	parts := []string{fmt.Sprintf("Graph(%s, %d ops, %d partitions)",
		g.engineKind, g.NumOps(), len(g.partitions))}
	for _, op := range g.Ops() {
		parts = append(parts, "  "+op.String())
	}
	return strings.Join(parts, "\n")
}
