// Copyright 2024-2026 The GraphFuse Authors. SPDX-License-Identifier: Apache-2.0

// Package shapeinference calculates the output shape of operators from their
// input shapes and attributes, and validates the inputs while doing so.
//
// Unlike concrete tensor shapes, the logical shapes here may carry unknown
// extents (ir.DimUnknown); every rule propagates unknowns instead of failing,
// so a partially-specified graph still infers what it can.
//
// It defines BinaryOp for the shape inference of the broadcasting binary
// functions. The unary functions don't change the shape. For the remaining
// ops it defines one function per kind, and InferOp dispatches over all of
// them.
package shapeinference

import (
	"slices"

	"github.com/pkg/errors"

	"github.com/graphfuse/graphfuse/ir"
	"github.com/graphfuse/graphfuse/types"
)

var (
	// identityOperations produce an output shaped like their first input.
	identityOperations = types.SetWith(
		ir.Abs, ir.Clamp, ir.Elu, ir.Erf, ir.Exp, ir.GELU, ir.HardTanh,
		ir.Log, ir.LogSoftmax, ir.ReLU, ir.Round, ir.Sigmoid, ir.SoftMax,
		ir.Sqrt, ir.Square, ir.Tanh,
		// Normalizations keep the data shape; their statistics outputs are
		// handled separately.
		ir.BatchNormInference, ir.BatchNormForwardTraining, ir.LayerNorm,
		// Backprops produce gradients shaped like the forward input.
		ir.ReLUBackprop, ir.GELUBackprop, ir.BatchNormTrainingBackprop,
	)

	// binaryOperations broadcast their two inputs.
	binaryOperations = types.SetWith(
		ir.Add, ir.Divide, ir.Maximum, ir.Minimum, ir.Multiply, ir.Pow,
		ir.BiasAdd,
	)

	poolOperations = types.SetWith(ir.AvgPool, ir.MaxPool)
)

// UnaryOp returns the shape of an element-wise unary op: the operand shape.
func UnaryOp(operand []int64) []int64 {
	return slices.Clone(operand)
}

// BinaryOp returns the shape of a broadcasting binary op.
//
// Standard broadcasting rules apply: shapes are right-aligned, a 1 extent
// broadcasts against anything, equal extents pass through and an unknown
// extent on either side yields an unknown output extent. nil (unknown rank)
// on either side yields unknown rank.
func BinaryOp(lhs, rhs []int64) ([]int64, error) {
	if lhs == nil || rhs == nil {
		return nil, nil
	}
	rank := max(len(lhs), len(rhs))
	output := make([]int64, rank)
	for i := range rank {
		l, r := int64(1), int64(1)
		if i >= rank-len(lhs) {
			l = lhs[i-(rank-len(lhs))]
		}
		if i >= rank-len(rhs) {
			r = rhs[i-(rank-len(rhs))]
		}
		switch {
		case l == r:
			output[i] = l
		case l == 1:
			output[i] = r
		case r == 1:
			output[i] = l
		case l == ir.DimUnknown || r == ir.DimUnknown:
			output[i] = ir.DimUnknown
		default:
			return nil, errors.Wrapf(ir.ErrInvalidArgument,
				"cannot broadcast extents %d and %d (shapes %v and %v)", l, r, lhs, rhs)
		}
	}
	return output, nil
}

// spatialAxes returns the axes of input holding spatial extents, plus the
// channel axis, for the given data_format ("NCX" or "NXC").
func spatialAxes(rank int, dataFormat string) (spatial []int, channelAxis int, err error) {
	if rank < 3 {
		return nil, 0, errors.Wrapf(ir.ErrInvalidArgument,
			"spatial op requires rank >= 3, got %d", rank)
	}
	spatial = make([]int, rank-2)
	switch dataFormat {
	case "NCX":
		channelAxis = 1
		for i := range spatial {
			spatial[i] = 2 + i
		}
	case "NXC":
		channelAxis = rank - 1
		for i := range spatial {
			spatial[i] = 1 + i
		}
	default:
		return nil, 0, errors.Wrapf(ir.ErrInvalidArgument,
			"unknown data_format %q", dataFormat)
	}
	return spatial, channelAxis, nil
}

// windowExtent computes one output spatial extent of a convolution or pooling
// window. Any unknown contributor makes the result unknown.
func windowExtent(in, kernel, stride, padBegin, padEnd, dilation int64, autoPad string) int64 {
	if in == ir.DimUnknown || kernel == ir.DimUnknown {
		return ir.DimUnknown
	}
	effKernel := (kernel-1)*dilation + 1
	switch autoPad {
	case "SAME_UPPER", "SAME_LOWER":
		return (in + stride - 1) / stride
	case "VALID":
		return (in-effKernel)/stride + 1
	default: // "None": use the explicit paddings.
		return (in+padBegin+padEnd-effKernel)/stride + 1
	}
}

// ConvolutionOp returns the output shape of a convolution given the input and
// filter shapes and the op's attributes (strides, paddings, dilations,
// data_format, filter_format, auto_pad).
func ConvolutionOp(op *ir.Op, input, filter []int64) ([]int64, error) {
	if input == nil || filter == nil {
		return nil, nil
	}
	strides, err := op.IntsAttr("strides")
	if err != nil {
		return nil, err
	}
	padsBegin, err := op.IntsAttr("pads_begin")
	if err != nil {
		return nil, err
	}
	padsEnd, err := op.IntsAttr("pads_end")
	if err != nil {
		return nil, err
	}
	dilations, err := op.IntsAttr("dilations")
	if err != nil {
		return nil, err
	}
	dataFormat, err := op.StrAttr("data_format")
	if err != nil {
		return nil, err
	}
	filterFormat, err := op.StrAttr("filter_format")
	if err != nil {
		return nil, err
	}
	autoPad, err := op.StrAttr("auto_pad")
	if err != nil {
		return nil, err
	}

	rank := len(input)
	numSpatial := rank - 2
	if len(strides) != numSpatial || len(padsBegin) != numSpatial ||
		len(padsEnd) != numSpatial || len(dilations) != numSpatial {
		return nil, errors.Wrapf(ir.ErrInvalidArgument,
			"convolution %s: strides/pads/dilations must have %d elements", op, numSpatial)
	}
	if len(filter) != rank {
		return nil, errors.Wrapf(ir.ErrInvalidArgument,
			"convolution %s: filter rank %d != input rank %d", op, len(filter), rank)
	}

	spatial, channelAxis, err := spatialAxes(rank, dataFormat)
	if err != nil {
		return nil, err
	}

	// Filter extents: OIX = [out_channels, in_channels/groups, spatial...],
	// XIO = [spatial..., in_channels/groups, out_channels].
	var outChannels int64
	filterSpatial := make([]int64, numSpatial)
	switch filterFormat {
	case "OIX":
		outChannels = filter[0]
		copy(filterSpatial, filter[2:])
	case "XIO":
		outChannels = filter[rank-1]
		copy(filterSpatial, filter[:numSpatial])
	default:
		return nil, errors.Wrapf(ir.ErrInvalidArgument, "unknown filter_format %q", filterFormat)
	}

	output := slices.Clone(input)
	output[channelAxis] = outChannels
	for i, axis := range spatial {
		output[axis] = windowExtent(input[axis], filterSpatial[i],
			strides[i], padsBegin[i], padsEnd[i], dilations[i], autoPad)
	}
	return output, nil
}

// PoolOp returns the output shape of AvgPool/MaxPool.
func PoolOp(op *ir.Op, input []int64) ([]int64, error) {
	if input == nil {
		return nil, nil
	}
	strides, err := op.IntsAttr("strides")
	if err != nil {
		return nil, err
	}
	kernel, err := op.IntsAttr("kernel")
	if err != nil {
		return nil, err
	}
	padsBegin, err := op.IntsAttr("pads_begin")
	if err != nil {
		return nil, err
	}
	padsEnd, err := op.IntsAttr("pads_end")
	if err != nil {
		return nil, err
	}
	dataFormat, err := op.StrAttr("data_format")
	if err != nil {
		return nil, err
	}
	spatial, _, err := spatialAxes(len(input), dataFormat)
	if err != nil {
		return nil, err
	}
	if len(kernel) != len(spatial) || len(strides) != len(spatial) {
		return nil, errors.Wrapf(ir.ErrInvalidArgument,
			"pool %s: kernel/strides must have %d elements", op, len(spatial))
	}
	output := slices.Clone(input)
	for i, axis := range spatial {
		output[axis] = windowExtent(input[axis], kernel[i],
			strides[i], padsBegin[i], padsEnd[i], 1, "None")
	}
	return output, nil
}

// MatMulOp returns the output shape of a (possibly batched) matrix multiply,
// honoring the transpose_a/transpose_b attributes.
func MatMulOp(op *ir.Op, lhs, rhs []int64) ([]int64, error) {
	if lhs == nil || rhs == nil {
		return nil, nil
	}
	if len(lhs) == 0 || len(rhs) == 0 {
		return nil, errors.Wrapf(ir.ErrInvalidArgument, "matmul %s: scalar operand", op)
	}
	transposeA, err := op.BoolAttr("transpose_a")
	if err != nil {
		return nil, err
	}
	transposeB, err := op.BoolAttr("transpose_b")
	if err != nil {
		return nil, err
	}

	// Promote vectors to matrices, remembering to squeeze afterwards.
	a, b := slices.Clone(lhs), slices.Clone(rhs)
	squeezeM, squeezeN := false, false
	if len(a) == 1 {
		a, squeezeM = []int64{1, a[0]}, true
	}
	if len(b) == 1 {
		b, squeezeN = []int64{b[0], 1}, true
	}
	if transposeA {
		a[len(a)-2], a[len(a)-1] = a[len(a)-1], a[len(a)-2]
	}
	if transposeB {
		b[len(b)-2], b[len(b)-1] = b[len(b)-1], b[len(b)-2]
	}

	contractA, contractB := a[len(a)-1], b[len(b)-2]
	if contractA != contractB && contractA != ir.DimUnknown && contractB != ir.DimUnknown {
		return nil, errors.Wrapf(ir.ErrInvalidArgument,
			"matmul %s: contracting extents %d and %d differ", op, contractA, contractB)
	}

	batch, err := BinaryOp(a[:len(a)-2], b[:len(b)-2])
	if err != nil {
		return nil, errors.Wrapf(err, "matmul %s: batch dims", op)
	}
	output := append(batch, a[len(a)-2], b[len(b)-1])
	if squeezeM {
		output = append(output[:len(output)-2], output[len(output)-1])
	}
	if squeezeN {
		output = output[:len(output)-1]
	}
	return output, nil
}

// ConcatOp returns the shape of a concatenation over the given inputs.
func ConcatOp(op *ir.Op, inputs [][]int64) ([]int64, error) {
	axis, err := op.IntAttr("axis")
	if err != nil {
		return nil, err
	}
	if len(inputs) == 0 || inputs[0] == nil {
		return nil, nil
	}
	output := slices.Clone(inputs[0])
	rank := int64(len(output))
	if axis < 0 {
		axis += rank
	}
	if axis < 0 || axis >= rank {
		return nil, errors.Wrapf(ir.ErrInvalidArgument,
			"concat %s: axis %d out of range for rank %d", op, axis, rank)
	}
	var total int64
	for _, in := range inputs {
		if in == nil || in[axis] == ir.DimUnknown || total == ir.DimUnknown {
			total = ir.DimUnknown
			continue
		}
		total += in[axis]
	}
	output[axis] = total
	return output, nil
}

// ReshapeOp returns the shape declared by the op's "shape" attribute, filling
// a single -1 extent from the input size when it is fully known.
func ReshapeOp(op *ir.Op, input []int64) ([]int64, error) {
	target, err := op.IntsAttr("shape")
	if err != nil {
		return nil, err
	}
	output := slices.Clone(target)
	fill := -1
	known := int64(1)
	for i, d := range output {
		if d == ir.DimUnknown {
			if fill >= 0 {
				return output, nil // more than one unknown: leave as-is
			}
			fill = i
			continue
		}
		known *= d
	}
	if fill < 0 {
		return output, nil
	}
	size := int64(1)
	for _, d := range input {
		if d == ir.DimUnknown {
			return output, nil
		}
		size *= d
	}
	if input != nil && known > 0 && size%known == 0 {
		output[fill] = size / known
	}
	return output, nil
}

// TransposeOp permutes the input shape by the "order" attribute.
func TransposeOp(op *ir.Op, input []int64) ([]int64, error) {
	order, err := op.IntsAttr("order")
	if err != nil {
		return nil, err
	}
	if input == nil {
		return nil, nil
	}
	if len(order) != len(input) {
		return nil, errors.Wrapf(ir.ErrInvalidArgument,
			"transpose %s: order has %d axes, input rank is %d", op, len(order), len(input))
	}
	output := make([]int64, len(input))
	for i, axis := range order {
		if axis < 0 || int(axis) >= len(input) {
			return nil, errors.Wrapf(ir.ErrInvalidArgument,
				"transpose %s: axis %d out of range", op, axis)
		}
		output[i] = input[axis]
	}
	return output, nil
}

// InferOp computes the output shapes of op from the given input shapes,
// dispatching on the op kind. Kinds without a shape rule return
// ErrUnsupported.
//
// The returned slice has one entry per op output; auxiliary outputs (e.g.
// batch-norm statistics) keep their declared dims.
func InferOp(op *ir.Op, inputs [][]int64) ([][]int64, error) {
	kind := op.Kind()
	var primary []int64
	var err error
	switch {
	case identityOperations.Has(kind):
		if len(inputs) < 1 {
			return nil, errors.Wrapf(ir.ErrInvalidArgument, "%s has no inputs", op)
		}
		primary = UnaryOp(inputs[0])
	case binaryOperations.Has(kind):
		if len(inputs) < 2 {
			return nil, errors.Wrapf(ir.ErrInvalidArgument, "%s requires two inputs", op)
		}
		primary, err = BinaryOp(inputs[0], inputs[1])
	case kind == ir.Convolution:
		if len(inputs) < 2 {
			return nil, errors.Wrapf(ir.ErrInvalidArgument, "%s requires input and filter", op)
		}
		primary, err = ConvolutionOp(op, inputs[0], inputs[1])
	case poolOperations.Has(kind):
		if len(inputs) < 1 {
			return nil, errors.Wrapf(ir.ErrInvalidArgument, "%s has no inputs", op)
		}
		primary, err = PoolOp(op, inputs[0])
	case kind == ir.MatMul:
		if len(inputs) < 2 {
			return nil, errors.Wrapf(ir.ErrInvalidArgument, "%s requires two inputs", op)
		}
		primary, err = MatMulOp(op, inputs[0], inputs[1])
	case kind == ir.Concat:
		primary, err = ConcatOp(op, inputs)
	case kind == ir.Reshape:
		if len(inputs) < 1 {
			return nil, errors.Wrapf(ir.ErrInvalidArgument, "%s has no inputs", op)
		}
		primary, err = ReshapeOp(op, inputs[0])
	case kind == ir.Transpose:
		if len(inputs) < 1 {
			return nil, errors.Wrapf(ir.ErrInvalidArgument, "%s has no inputs", op)
		}
		primary, err = TransposeOp(op, inputs[0])
	default:
		return nil, errors.Wrapf(ir.ErrUnsupported, "no shape rule for op kind %s", kind)
	}
	if err != nil {
		return nil, err
	}

	outputs := make([][]int64, op.NumOutputs())
	for i := range outputs {
		if i == 0 {
			outputs[i] = primary
			continue
		}
		outputs[i] = slices.Clone(op.Outputs()[i].Dims)
	}
	return outputs, nil
}
