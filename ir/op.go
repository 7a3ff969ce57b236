// Copyright 2024-2026 The GraphFuse Authors. SPDX-License-Identifier: Apache-2.0

package ir

import (
	"fmt"
	"maps"
	"slices"

	"github.com/pkg/errors"
)

// Op is a single operator instance: an id unique within its graph, a kind, a
// debug name, ordered input and output value slots (one logical tensor each),
// and an attribute map.
//
// Clients create ops with NewOp and hand them to Graph.AddOp, which stores a
// copy; the graph owns its copy's lifetime.
type Op struct {
	id    uint64
	kind  OpKind
	name  string
	attrs map[string]Attr

	inputs  []LogicalTensor
	outputs []LogicalTensor
}

// NewOp creates an op with the given id, kind and debug name.
func NewOp(id uint64, kind OpKind, name string) *Op {
	return &Op{
		id:    id,
		kind:  kind,
		name:  name,
		attrs: make(map[string]Attr),
	}
}

// ID returns the client-provided op id.
func (op *Op) ID() uint64 { return op.id }

// Kind returns the op kind.
func (op *Op) Kind() OpKind { return op.kind }

// Name returns the debug name.
func (op *Op) Name() string { return op.name }

// AddInput appends an input value slot holding the given tensor.
func (op *Op) AddInput(lt LogicalTensor) *Op {
	op.inputs = append(op.inputs, lt)
	return op
}

// AddInputs appends one input slot per tensor, in order.
func (op *Op) AddInputs(lts ...LogicalTensor) *Op {
	op.inputs = append(op.inputs, lts...)
	return op
}

// AddOutput appends an output value slot holding the given tensor.
func (op *Op) AddOutput(lt LogicalTensor) *Op {
	op.outputs = append(op.outputs, lt)
	return op
}

// Inputs returns the ordered input tensors. The slice is owned by the op.
func (op *Op) Inputs() []LogicalTensor { return op.inputs }

// Outputs returns the ordered output tensors. The slice is owned by the op.
func (op *Op) Outputs() []LogicalTensor { return op.outputs }

// NumInputs returns the number of input value slots.
func (op *Op) NumInputs() int { return len(op.inputs) }

// NumOutputs returns the number of output value slots.
func (op *Op) NumOutputs() int { return len(op.outputs) }

// SetAttr sets (or replaces) the named attribute.
func (op *Op) SetAttr(name string, a Attr) *Op {
	op.attrs[name] = a
	return op
}

// Attr returns the named attribute and whether it is present.
func (op *Op) Attr(name string) (Attr, bool) {
	a, ok := op.attrs[name]
	return a, ok
}

// HasAttr reports whether the named attribute is present.
func (op *Op) HasAttr(name string) bool {
	_, ok := op.attrs[name]
	return ok
}

// AttrKindOf returns the tag of the named attribute, or ErrInvalidArgument if
// it is absent.
func (op *Op) AttrKindOf(name string) (AttrKind, error) {
	a, ok := op.attrs[name]
	if !ok {
		return 0, attrMissingError(op, name)
	}
	return a.kind, nil
}

// IntAttr reads the named attribute as i64.
func (op *Op) IntAttr(name string) (int64, error) {
	a, ok := op.attrs[name]
	if !ok {
		return 0, attrMissingError(op, name)
	}
	return a.Int()
}

// FloatAttr reads the named attribute as f32.
func (op *Op) FloatAttr(name string) (float32, error) {
	a, ok := op.attrs[name]
	if !ok {
		return 0, attrMissingError(op, name)
	}
	return a.Float()
}

// BoolAttr reads the named attribute as bool.
func (op *Op) BoolAttr(name string) (bool, error) {
	a, ok := op.attrs[name]
	if !ok {
		return false, attrMissingError(op, name)
	}
	return a.Bool()
}

// StrAttr reads the named attribute as string.
func (op *Op) StrAttr(name string) (string, error) {
	a, ok := op.attrs[name]
	if !ok {
		return "", attrMissingError(op, name)
	}
	return a.Str()
}

// IntsAttr reads the named attribute as an i64 list.
func (op *Op) IntsAttr(name string) ([]int64, error) {
	a, ok := op.attrs[name]
	if !ok {
		return nil, attrMissingError(op, name)
	}
	return a.Ints()
}

// Attrs returns the attribute map. The map is owned by the op.
func (op *Op) Attrs() map[string]Attr { return op.attrs }

// Clone returns a deep-enough copy of the op: the attribute map and the slot
// slices are copied, the tensors and attribute values are immutable.
func (op *Op) Clone() *Op {
	return &Op{
		id:      op.id,
		kind:    op.kind,
		name:    op.name,
		attrs:   maps.Clone(op.attrs),
		inputs:  slices.Clone(op.inputs),
		outputs: slices.Clone(op.outputs),
	}
}

// String implements fmt.Stringer.
func (op *Op) String() string {
	return fmt.Sprintf("%s#%d(%q)", op.kind, op.id, op.name)
}

func attrMissingError(op *Op, name string) error {
	return errors.Wrapf(ErrInvalidArgument, "op %s has no attribute %q", op, name)
}
