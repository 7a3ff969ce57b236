// Copyright 2024-2026 The GraphFuse Authors. SPDX-License-Identifier: Apache-2.0

// Package backend registers the built-in backend with the graph layer: it
// drives the fusion passes when a graph is partitioned and answers which
// (fused) op kinds have a kernel implementation.
//
// Importing this package (often blank) is what arms graph.GetPartitions and
// Partition.IsSupported:
//
//	import _ "github.com/graphfuse/graphfuse/backend"
package backend

import (
	"github.com/graphfuse/graphfuse/graph"
	"github.com/graphfuse/graphfuse/ir"
	"github.com/graphfuse/graphfuse/passes"
	"github.com/graphfuse/graphfuse/types"
)

// supportedKinds lists the op kinds with a kernel implementation: the kinds
// claimable by a single-op pass, plus every fused kind a rewrite can produce.
// Kinds absent here (BiasAdd alone, Sigmoid alone, Divide, Erf, Concat,
// Reshape, Transpose, Wildcard, End, ...) still end up in single-op
// partitions, but those report IsSupported() == false.
var supportedKinds = func() types.Set[ir.OpKind] {
	set := types.MakeSet[ir.OpKind]()
	for _, p := range passes.Default().Passes() {
		set.Insert(p.FusedKind())
	}
	return set
}()

// Backend implements graph.Backend on top of the built-in pass registry.
type Backend struct {
	manager *passes.Manager
}

// Compile-time check that Backend implements graph.Backend.
var _ graph.Backend = (*Backend)(nil)

// New creates the built-in backend over the default pass registry.
func New() *Backend {
	return &Backend{manager: passes.NewManager(passes.Default())}
}

// RunPasses implements graph.Backend. PolicyFusion runs the full pass list in
// priority order; PolicyDebug runs only the single-op passes.
func (b *Backend) RunPasses(g *graph.Graph, policy graph.Policy) error {
	if policy == graph.PolicyDebug {
		return b.manager.RunUnitPasses(g)
	}
	return b.manager.RunPasses(g, passes.NoConfig)
}

// Supports implements graph.Backend. The kernel set is the same for both
// engine kinds.
func (b *Backend) Supports(kind ir.OpKind, _ ir.EngineKind) bool {
	return supportedKinds.Has(kind)
}

func init() {
	graph.RegisterBackend(New())
}
