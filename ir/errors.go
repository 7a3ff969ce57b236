// Copyright 2024-2026 The GraphFuse Authors. SPDX-License-Identifier: Apache-2.0

package ir

import "github.com/pkg/errors"

// Error taxonomy of the compiler core. All graph-level APIs report failures
// with these sentinels (possibly wrapped with context); callers test them
// with errors.Is. Operations that fail leave their receiver unchanged.
var (
	// ErrInvalidArgument indicates a typed attribute access with the wrong
	// kind, or a malformed shape.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrInvalidOp indicates an op that failed its schema verification.
	ErrInvalidOp = errors.New("invalid op")

	// ErrInvalidGraph indicates a malformed graph: two producers for the same
	// tensor id, or a cycle detected while linking.
	ErrInvalidGraph = errors.New("invalid graph")

	// ErrDuplicateID indicates an op id that is already present in the graph.
	ErrDuplicateID = errors.New("duplicate id")

	// ErrUnsupported indicates an op kind the called facility has no rule for,
	// such as a kind without a shape rule in shapeinference.InferOp.
	ErrUnsupported = errors.New("unsupported")
)
