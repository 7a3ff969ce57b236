// Copyright 2024-2026 The GraphFuse Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"github.com/gomlx/exceptions"

	"github.com/graphfuse/graphfuse/ir"
)

// Backend is what a backend package registers with the graph layer: the
// ability to partition a graph by running its pass list, and the capability
// table consulted by Partition.IsSupported.
type Backend interface {
	// RunPasses executes the backend's passes over the graph under the given
	// policy, claiming matched regions into partitions.
	RunPasses(g *Graph, policy Policy) error

	// Supports reports whether the (possibly fused) op kind has a kernel
	// implementation for the engine kind.
	Supports(kind ir.OpKind, engine ir.EngineKind) bool
}

var registeredBackend Backend

// RegisterBackend installs the backend used by GetPartitions and
// Partition.IsSupported. It must be called once, during initialization,
// before the first graph is partitioned; a second registration panics.
func RegisterBackend(b Backend) {
	if registeredBackend != nil {
		exceptions.Panicf("graph.RegisterBackend: a backend is already registered")
	}
	registeredBackend = b
}
