// Copyright 2024-2026 The GraphFuse Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"slices"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/graphfuse/graphfuse/ir"
	"github.com/graphfuse/graphfuse/shapeinference"
	"github.com/graphfuse/graphfuse/types"
)

// Policy selects the partitioning strategy used by GetPartitions.
type Policy int

const (
	// PolicyFusion runs the full fusion pass list.
	PolicyFusion Policy = iota

	// PolicyDebug runs only the single-op passes: every op becomes its own
	// partition.
	PolicyDebug
)

// String returns the name of the policy.
func (p Policy) String() string {
	switch p {
	case PolicyFusion:
		return "fusion"
	case PolicyDebug:
		return "debug"
	default:
		return "unknown"
	}
}

// Partition is the result of one successful rewrite: an ordered group of ops
// owned together, with a single fused-op representative whose kind denotes
// the fused pattern. Partitions are immutable after creation and remain valid
// only while their graph is alive.
type Partition struct {
	graph *Graph
	fused *ir.Op

	// ops holds the claimed member ops in graph insertion order.
	ops []*ir.Op

	inputs  []ir.LogicalTensor
	outputs []ir.LogicalTensor
}

// FusedOp returns the representative fused op. Its inputs are the external
// input tensors of the matched region, its outputs the externally visible
// outputs; the boundary tensor ids are the original ones, so downstream
// consumers need no change.
func (p *Partition) FusedOp() *ir.Op { return p.fused }

// Ops returns the ids of the member ops, in graph insertion order.
func (p *Partition) Ops() []uint64 {
	ids := make([]uint64, len(p.ops))
	for i, op := range p.ops {
		ids[i] = op.ID()
	}
	return ids
}

// NumOps returns the number of member ops.
func (p *Partition) NumOps() int { return len(p.ops) }

// Inputs returns the ordered ids of the partition's input tensors. Ids may
// repeat when the same tensor feeds several slots.
func (p *Partition) Inputs() []uint64 {
	ids := make([]uint64, len(p.inputs))
	for i, lt := range p.inputs {
		ids[i] = lt.ID
	}
	return ids
}

// Outputs returns the ordered ids of the partition's output tensors.
func (p *Partition) Outputs() []uint64 {
	ids := make([]uint64, len(p.outputs))
	for i, lt := range p.outputs {
		ids[i] = lt.ID
	}
	return ids
}

// InputTensors returns the partition's input logical tensors.
func (p *Partition) InputTensors() []ir.LogicalTensor { return slices.Clone(p.inputs) }

// OutputTensors returns the partition's output logical tensors.
func (p *Partition) OutputTensors() []ir.LogicalTensor { return slices.Clone(p.outputs) }

// IsSupported reports whether the partition's fused-op kind has a backend
// implementation for the graph's engine kind.
func (p *Partition) IsSupported() bool {
	backend := registeredBackend
	if backend == nil {
		return false
	}
	return backend.Supports(p.fused.Kind(), p.graph.engineKind)
}

// InferShape propagates shapes from the given inputs through the member ops'
// shape rules and writes the resolved dims into the caller's output tensors
// (matched by tensor id). Inputs override the dims the tensors were declared
// with; unknown extents stay unknown where the rules cannot resolve them.
func (p *Partition) InferShape(inputs []ir.LogicalTensor, outputs []*ir.LogicalTensor) error {
	known := make(map[uint64][]int64)
	for _, lt := range inputs {
		known[lt.ID] = lt.Dims
	}

	for _, op := range p.topoOps() {
		inDims := make([][]int64, op.NumInputs())
		for i, lt := range op.Inputs() {
			if dims, ok := known[lt.ID]; ok {
				inDims[i] = dims
			} else {
				inDims[i] = lt.Dims
			}
		}
		outDims, err := shapeinference.InferOp(op, inDims)
		if err != nil {
			return errors.Wrapf(err, "inferring shapes of partition member %s", op)
		}
		for i, lt := range op.Outputs() {
			known[lt.ID] = outDims[i]
		}
	}

	for _, out := range outputs {
		if dims, ok := known[out.ID]; ok && dims != nil {
			out.Dims = slices.Clone(dims)
		}
	}
	return nil
}

// topoOps returns the member ops ordered producers-first, using the tensor
// edges internal to the partition.
func (p *Partition) topoOps() []*ir.Op {
	produced := make(map[uint64]*ir.Op)
	for _, op := range p.ops {
		for _, lt := range op.Outputs() {
			produced[lt.ID] = op
		}
	}
	var ordered []*ir.Op
	done := types.MakeSet[uint64](len(p.ops))
	var visit func(op *ir.Op)
	visit = func(op *ir.Op) {
		if done.Has(op.ID()) {
			return
		}
		done.Insert(op.ID())
		for _, lt := range op.Inputs() {
			if producer, ok := produced[lt.ID]; ok && producer != op {
				visit(producer)
			}
		}
		ordered = append(ordered, op)
	}
	for _, op := range p.ops {
		visit(op)
	}
	return ordered
}

// removeOp drops a deleted op from the member list. Only DeleteOp calls this.
func (p *Partition) removeOp(op *ir.Op) {
	p.ops = slices.DeleteFunc(p.ops, func(member *ir.Op) bool { return member == op })
}

// Rewrite atomically replaces the matched ops with a fused op of the given
// kind, transferring the ops into a new partition.
//
// matched must be given in pattern order: the fused op's inputs are collected
// per matched op, in that order, taking every input slot whose producer is
// outside the match. The fused op's outputs are the matched outputs with an
// external consumer or none. When the match is a single op rewritten to its
// own kind, the fused op is a copy of the op.
//
// The matched ops are removed from the graph's active op list but stay live
// inside the partition for introspection. On any failure the graph is left
// unchanged.
func (g *Graph) Rewrite(matched []*ir.Op, fusedKind ir.OpKind) (*Partition, error) {
	if len(matched) == 0 {
		return nil, errors.Wrap(ir.ErrInvalidArgument, "empty match")
	}
	indices := make([]int, len(matched))
	matchedSet := types.MakeSet[uint64](len(matched))
	for i, op := range matched {
		idx, ok := g.opIDs[op.ID()]
		if !ok || g.arena[idx] != op {
			return nil, errors.Wrapf(ir.ErrInvalidArgument, "op %s is not part of this graph", op)
		}
		if !g.active[idx] {
			return nil, errors.Wrapf(ir.ErrInvalidArgument, "op %s is already claimed", op)
		}
		if matchedSet.Has(op.ID()) {
			return nil, errors.Wrapf(ir.ErrInvalidArgument, "op %s matched twice", op)
		}
		matchedSet.Insert(op.ID())
		indices[i] = idx
	}
	if err := g.ensureLinked(); err != nil {
		return nil, err
	}

	producedInside := types.MakeSet[uint64]()
	for _, op := range matched {
		for _, lt := range op.Outputs() {
			producedInside.Insert(lt.ID)
		}
	}

	var fused *ir.Op
	if len(matched) == 1 && matched[0].Kind() == fusedKind {
		fused = matched[0].Clone()
	} else {
		fused = ir.NewOp(g.newInternalID(), fusedKind, fusedKind.String())
		for _, op := range matched {
			for name, attr := range op.Attrs() {
				if !fused.HasAttr(name) {
					fused.SetAttr(name, attr)
				}
			}
		}
		for _, op := range matched {
			for _, lt := range op.Inputs() {
				if producedInside.Has(lt.ID) {
					continue
				}
				fused.AddInput(lt)
			}
		}
		for _, op := range matched {
			for _, lt := range op.Outputs() {
				if g.hasExternalOrNoConsumer(lt.ID, matchedSet) {
					fused.AddOutput(lt)
				}
			}
		}
	}

	partition := &Partition{
		graph:   g,
		fused:   fused,
		inputs:  slices.Clone(fused.Inputs()),
		outputs: slices.Clone(fused.Outputs()),
	}
	// Members keep their graph insertion order.
	slices.Sort(indices)
	for _, idx := range indices {
		partition.ops = append(partition.ops, g.arena[idx])
	}

	fusedIdx := len(g.arena)
	if _, exists := g.opIDs[fused.ID()]; !exists {
		// Single-op rewrites clone the member, so the id may already map to it.
		g.opIDs[fused.ID()] = fusedIdx
	}
	g.arena = append(g.arena, fused)
	g.active = append(g.active, false)
	g.deleted = append(g.deleted, false)
	for _, idx := range indices {
		g.active[idx] = false
		g.claimed[idx] = partition
	}
	g.claimed[fusedIdx] = partition
	g.partitions = append(g.partitions, partition)
	g.built = false

	klog.V(2).Infof("graph %s: rewrote %d op(s) into %s", g.uid, len(matched), fused.Kind())
	return partition, nil
}

// hasExternalOrNoConsumer reports whether the tensor is consumed by an op
// outside the matched set, or not consumed at all.
func (g *Graph) hasExternalOrNoConsumer(tensorID uint64, matched types.Set[uint64]) bool {
	refs := g.link.consumers[tensorID]
	if len(refs) == 0 {
		return true
	}
	for _, ref := range refs {
		if !matched.Has(g.arena[ref.OpIndex].ID()) {
			return true
		}
	}
	return false
}

// NumPartitions returns the number of partitions produced so far.
func (g *Graph) NumPartitions() int { return len(g.partitions) }

// Partitions returns the partitions produced so far, in creation order.
func (g *Graph) Partitions() []*Partition { return slices.Clone(g.partitions) }

// GetPartitions runs the registered passes under the given policy and returns
// the resulting partitions, wrapping every still-unclaimed op into a
// single-op partition.
func (g *Graph) GetPartitions(policy Policy) ([]*Partition, error) {
	if err := g.ensureLinked(); err != nil {
		return nil, err
	}
	if backend := registeredBackend; backend != nil {
		if err := backend.RunPasses(g, policy); err != nil {
			return nil, err
		}
	}
	// Any remaining unclaimed op becomes a single-op partition.
	for _, op := range g.Ops() {
		if _, err := g.Rewrite([]*ir.Op{op}, op.Kind()); err != nil {
			return nil, err
		}
	}
	return g.Partitions(), nil
}
