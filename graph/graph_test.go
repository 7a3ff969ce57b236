// Copyright 2024-2026 The GraphFuse Authors. SPDX-License-Identifier: Apache-2.0

package graph_test

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/graphfuse/graphfuse/graph"
	"github.com/graphfuse/graphfuse/ir"
)

// lt creates an f32 logical tensor with unknown rank, the way most linking
// tests declare values.
func lt(id uint64) ir.LogicalTensor {
	tensor, err := ir.NewLogicalTensor(id, dtypes.Float32, nil, ir.LayoutUndef)
	if err != nil {
		panic(err)
	}
	return tensor
}

func setConvCommonAttrs(conv *ir.Op) {
	conv.SetAttr("strides", ir.IntsAttr(1, 1))
	conv.SetAttr("pads_begin", ir.IntsAttr(0, 0))
	conv.SetAttr("pads_end", ir.IntsAttr(0, 0))
	conv.SetAttr("dilations", ir.IntsAttr(1, 1))
}

func TestAddOp(t *testing.T) {
	g := graph.New(ir.EngineCPU)

	conv := ir.NewOp(0, ir.Convolution, "conv")
	setConvCommonAttrs(conv)
	conv.AddInputs(lt(0), lt(1)).AddOutput(lt(2))
	require.NoError(t, g.AddOp(conv))
	assert.Equal(t, 1, g.NumOps())

	// Schema defaults were applied to the stored copy, not the original.
	stored := g.OpByID(0)
	format, err := stored.StrAttr("data_format")
	require.NoError(t, err)
	assert.Equal(t, "NXC", format)
	assert.False(t, conv.HasAttr("data_format"))

	// Duplicate op id.
	dup := ir.NewOp(0, ir.ReLU, "relu")
	dup.AddInput(lt(2)).AddOutput(lt(3))
	err = g.AddOp(dup)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ir.ErrDuplicateID))
	assert.Equal(t, 1, g.NumOps())
}

func TestAddOpSchemaVerification(t *testing.T) {
	g := graph.New(ir.EngineCPU)

	// Convolution without its required attributes fails verification.
	conv := ir.NewOp(0, ir.Convolution, "conv")
	conv.AddInputs(lt(0), lt(1)).AddOutput(lt(2))
	err := g.AddOp(conv)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ir.ErrInvalidOp))
	assert.Equal(t, 0, g.NumOps())

	// Kinds without a schema bypass verification.
	unknown := ir.NewOp(1, ir.Wildcard, "anything")
	unknown.AddOutput(lt(9))
	require.NoError(t, g.AddOp(unknown))
}

func TestAddOpTensorConsistency(t *testing.T) {
	g := graph.New(ir.EngineCPU)

	relu := ir.NewOp(0, ir.ReLU, "relu")
	relu.AddInput(lt(0)).AddOutput(lt(1))
	require.NoError(t, g.AddOp(relu))

	// Tensor id 1 reused with a different dtype.
	other, err := ir.NewLogicalTensor(1, dtypes.Float16, nil, ir.LayoutUndef)
	require.NoError(t, err)
	tanh := ir.NewOp(1, ir.Tanh, "tanh")
	tanh.AddInput(other).AddOutput(lt(2))
	err = g.AddOp(tanh)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ir.ErrInvalidArgument))
	assert.Equal(t, 1, g.NumOps())
}

func buildConvBNReLU(t *testing.T) *graph.Graph {
	t.Helper()
	g := graph.New(ir.EngineCPU)

	conv := ir.NewOp(0, ir.Convolution, "conv")
	setConvCommonAttrs(conv)
	conv.AddInputs(lt(0), lt(1)).AddOutput(lt(2))

	bn := ir.NewOp(1, ir.BatchNormInference, "bn")
	bn.SetAttr("epsilon", ir.FloatAttr(0.001))
	bn.AddInputs(lt(2), lt(3), lt(4), lt(5), lt(6)).AddOutput(lt(7))

	relu := ir.NewOp(2, ir.ReLU, "relu")
	relu.AddInput(lt(7)).AddOutput(lt(8))

	require.NoError(t, g.AddOp(conv))
	require.NoError(t, g.AddOp(bn))
	require.NoError(t, g.AddOp(relu))
	require.NoError(t, g.Build())
	return g
}

func TestBuildLinks(t *testing.T) {
	g := buildConvBNReLU(t)
	assert.Equal(t, 3, g.NumOps())

	producer, slot, ok := g.ProducerOf(2)
	require.True(t, ok)
	assert.Equal(t, ir.Convolution, producer.Kind())
	assert.Equal(t, 0, slot)

	_, _, ok = g.ProducerOf(0)
	assert.False(t, ok, "graph inputs have no producer")

	consumers := g.ConsumersOf(7)
	require.Len(t, consumers, 1)
	assert.Equal(t, ir.ReLU, consumers[0].Kind())

	inputs, err := g.Inputs()
	require.NoError(t, err)
	require.Len(t, inputs, 1)
	assert.Equal(t, ir.Convolution, inputs[0].Kind())

	outputs, err := g.Outputs()
	require.NoError(t, err)
	require.Len(t, outputs, 1)
	assert.Equal(t, ir.ReLU, outputs[0].Kind())

	order, err := g.TopoOrder()
	require.NoError(t, err)
	require.Len(t, order, 3)
	assert.Equal(t, ir.Convolution, order[0].Kind())
	assert.Equal(t, ir.ReLU, order[2].Kind())
}

func TestBuildDuplicateProducer(t *testing.T) {
	g := graph.New(ir.EngineCPU)

	a := ir.NewOp(0, ir.ReLU, "a")
	a.AddInput(lt(0)).AddOutput(lt(1))
	b := ir.NewOp(1, ir.Tanh, "b")
	b.AddInput(lt(2)).AddOutput(lt(1)) // same output tensor id
	require.NoError(t, g.AddOp(a))
	require.NoError(t, g.AddOp(b))

	err := g.Build()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ir.ErrInvalidGraph))
}

func TestBuildCycle(t *testing.T) {
	g := graph.New(ir.EngineCPU)

	a := ir.NewOp(0, ir.ReLU, "a")
	a.AddInput(lt(1)).AddOutput(lt(0))
	b := ir.NewOp(1, ir.Tanh, "b")
	b.AddInput(lt(0)).AddOutput(lt(1))
	require.NoError(t, g.AddOp(a))
	require.NoError(t, g.AddOp(b))

	err := g.Build()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ir.ErrInvalidGraph))
}

func TestAddOpAfterBuildRelinks(t *testing.T) {
	g := buildConvBNReLU(t)

	// Append a consumer of the ReLU output; the stale link state must be
	// rebuilt on the next access.
	tanh := ir.NewOp(3, ir.Tanh, "tanh")
	tanh.AddInput(lt(8)).AddOutput(lt(9))
	require.NoError(t, g.AddOp(tanh))

	outputs, err := g.Outputs()
	require.NoError(t, err)
	require.Len(t, outputs, 1)
	assert.Equal(t, ir.Tanh, outputs[0].Kind())
}

func TestDeleteOp(t *testing.T) {
	g := buildConvBNReLU(t)
	relu := g.OpByID(2)
	g.DeleteOp(relu)
	assert.Equal(t, 2, g.NumOps())

	outputs, err := g.Outputs()
	require.NoError(t, err)
	require.Len(t, outputs, 1)
	assert.Equal(t, ir.BatchNormInference, outputs[0].Kind())
}

func TestRewrite(t *testing.T) {
	g := buildConvBNReLU(t)
	conv, bn, relu := g.OpByID(0), g.OpByID(1), g.OpByID(2)

	p, err := g.Rewrite([]*ir.Op{conv, bn, relu}, ir.ConvBNReLU)
	require.NoError(t, err)

	assert.Equal(t, ir.ConvBNReLU, p.FusedOp().Kind())
	// External inputs in pattern order: conv's two, then the four batch-norm
	// parameters; the conv output and bn output stay internal.
	assert.Equal(t, []uint64{0, 1, 3, 4, 5, 6}, p.Inputs())
	assert.Equal(t, []uint64{8}, p.Outputs())
	assert.Equal(t, []uint64{0, 1, 2}, p.Ops())

	// Matched ops are claimed and removed from the active list, but stay
	// introspectable.
	assert.Equal(t, 0, g.NumOps())
	assert.True(t, g.IsClaimed(conv))
	assert.Equal(t, 1, g.NumPartitions())
	assert.NotNil(t, g.OpByID(0))

	// Fused attributes were merged from the members.
	epsilon, err := p.FusedOp().FloatAttr("epsilon")
	require.NoError(t, err)
	assert.Equal(t, float32(0.001), epsilon)

	// Claimed ops cannot be rewritten twice.
	_, err = g.Rewrite([]*ir.Op{conv}, ir.Convolution)
	require.Error(t, err)
}

func TestRewriteSingleOpClone(t *testing.T) {
	g := graph.New(ir.EngineCPU)
	add := ir.NewOp(0, ir.Add, "add")
	add.AddInputs(lt(0), lt(0)).AddOutput(lt(1))
	require.NoError(t, g.AddOp(add))
	require.NoError(t, g.Build())

	p, err := g.Rewrite([]*ir.Op{g.OpByID(0)}, ir.Add)
	require.NoError(t, err)
	assert.Equal(t, ir.Add, p.FusedOp().Kind())
	// Both consuming slots are reported, even though they alias one tensor.
	assert.Equal(t, []uint64{0, 0}, p.Inputs())
	assert.Equal(t, []uint64{1}, p.Outputs())
}

func TestGetPartitionsWithoutBackend(t *testing.T) {
	// The graph package alone has no backend registered: every op becomes a
	// single-op partition and nothing reports a kernel.
	g := buildConvBNReLU(t)
	parts, err := g.GetPartitions(graph.PolicyFusion)
	require.NoError(t, err)
	require.Len(t, parts, 3)
	for _, p := range parts {
		assert.Equal(t, 1, p.NumOps())
		assert.False(t, p.IsSupported())
	}

	// Running the partitioner again over the same graph is idempotent.
	again, err := g.GetPartitions(graph.PolicyFusion)
	require.NoError(t, err)
	assert.Equal(t, len(parts), len(again))
}
