// Copyright 2024-2026 The GraphFuse Authors. SPDX-License-Identifier: Apache-2.0

package ir

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// DimUnknown marks an extent that is not known at graph-building time. Shape
// inference resolves it where the op's shape rules allow.
const DimUnknown int64 = -1

// LayoutKind describes how a logical tensor is laid out in memory. The
// compiler core only reads it; the backend gives it meaning.
type LayoutKind int

const (
	// LayoutUndef means the layout has not been decided yet.
	LayoutUndef LayoutKind = iota

	// LayoutAny lets the backend pick whatever layout it prefers.
	LayoutAny

	// LayoutStrided is a dense row-major-style layout described by strides.
	LayoutStrided

	// LayoutOpaque is a backend-private layout.
	LayoutOpaque
)

// String returns the name of the layout kind.
func (l LayoutKind) String() string {
	switch l {
	case LayoutUndef:
		return "undef"
	case LayoutAny:
		return "any"
	case LayoutStrided:
		return "strided"
	case LayoutOpaque:
		return "opaque"
	default:
		return "unknown"
	}
}

// LogicalTensor is a named, typed, possibly-shape-unknown value on an edge of
// the IR. The identifier is stable and client-provided; it is globally unique
// within a graph, and two tensors with the same id in the same graph must be
// structurally equal.
type LogicalTensor struct {
	ID     uint64
	DType  dtypes.DType
	Dims   []int64 // nil means unknown rank; DimUnknown extents are allowed.
	Layout LayoutKind
}

// NewLogicalTensor creates a logical tensor. dims is cloned; pass nil for an
// unknown rank. Extents must be positive or DimUnknown.
func NewLogicalTensor(id uint64, dtype dtypes.DType, dims []int64, layout LayoutKind) (LogicalTensor, error) {
	for _, d := range dims {
		if d <= 0 && d != DimUnknown {
			return LogicalTensor{}, errors.Wrapf(ErrInvalidArgument,
				"logical tensor #%d: extent %d is neither positive nor unknown (-1)", id, d)
		}
	}
	return LogicalTensor{ID: id, DType: dtype, Dims: slices.Clone(dims), Layout: layout}, nil
}

// Rank returns the number of axes, or -1 when the rank itself is unknown.
func (lt LogicalTensor) Rank() int {
	if lt.Dims == nil {
		return -1
	}
	return len(lt.Dims)
}

// ShapeKnown reports whether the rank and every extent are known.
func (lt LogicalTensor) ShapeKnown() bool {
	if lt.Dims == nil {
		return false
	}
	return !slices.Contains(lt.Dims, DimUnknown)
}

// Equal reports structural equality: same id, dtype, dims and layout.
func (lt LogicalTensor) Equal(other LogicalTensor) bool {
	return lt.ID == other.ID && lt.DType == other.DType &&
		lt.Layout == other.Layout && slices.Equal(lt.Dims, other.Dims)
}

// String implements fmt.Stringer.
func (lt LogicalTensor) String() string {
	if lt.Dims == nil {
		return fmt.Sprintf("#%d:(%s)?", lt.ID, lt.DType)
	}
	parts := make([]string, len(lt.Dims))
	for i, d := range lt.Dims {
		if d == DimUnknown {
			parts[i] = "?"
		} else {
			parts[i] = fmt.Sprintf("%d", d)
		}
	}
	return fmt.Sprintf("#%d:(%s)[%s]", lt.ID, lt.DType, strings.Join(parts, " "))
}
