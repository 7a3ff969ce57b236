// Copyright 2024-2026 The GraphFuse Authors. SPDX-License-Identifier: Apache-2.0

package passes

import (
	"github.com/graphfuse/graphfuse/ir"
	"github.com/graphfuse/graphfuse/pattern"
	"github.com/graphfuse/graphfuse/types"
)

// The built-in pass list. Patterns are declared sources-first: the node order
// fixes the input order of the fused op, so e.g. conv_bn_relu partitions
// expose the convolution inputs before the batch-norm parameters.

// Pass priorities prefer longer patterns: a chain always outranks its
// prefixes, so conv_bias_bn_relu wins over conv_bias_bn wins over conv_bias.
// Attribute-constrained variants (relu6) outrank their unconstrained twins.
const unitPriority = 1.0

func fusionPriority(chainLen int) float64 {
	return 4 + float64(chainLen)
}

// commutativeKinds lists the binary ops whose pattern operand may arrive on
// either input slot.
var commutativeKinds = types.SetWith(ir.Add, ir.Multiply, ir.Maximum, ir.Minimum)

func node(kind ir.OpKind) pattern.Node {
	return pattern.Node{Kind: kind}
}

func nodeN(kind ir.OpKind, numInputs int) pattern.Node {
	return pattern.Node{Kind: kind, NumInputs: numInputs}
}

// relu6 is a HardTanh clamped to exactly [0, 6].
func relu6() pattern.Node {
	return pattern.Node{Kind: ir.HardTanh, Attrs: []pattern.AttrPredicate{
		pattern.EqFloat("min", 0),
		pattern.EqFloat("max", 6),
	}}
}

// chain builds a linear pattern: each node feeds the next, into slot 0 for
// non-commutative consumers and into either slot for commutative ones. The
// last node is the root.
func chain(nodes ...pattern.Node) *pattern.Pattern {
	p := &pattern.Pattern{Nodes: nodes, Root: len(nodes) - 1}
	for i := 0; i+1 < len(nodes); i++ {
		slot := 0
		if commutativeKinds.Has(nodes[i+1].Kind) {
			slot = pattern.AnySlot
		}
		p.Edges = append(p.Edges, pattern.Edge{From: i, To: i + 1, ToSlot: slot})
	}
	return p
}

// swish appends Sigmoid and Multiply to the base chain, with the Multiply
// consuming both the Sigmoid output and the base output directly
// (x * sigmoid(x), either operand order).
func swish(base ...pattern.Node) *pattern.Pattern {
	p := chain(append(base, node(ir.Sigmoid), node(ir.Multiply))...)
	baseIdx := len(base) - 1
	mulIdx := len(p.Nodes) - 1
	p.Edges = append(p.Edges, pattern.Edge{From: baseIdx, To: mulIdx, ToSlot: pattern.AnySlot})
	return p
}

// geluTanh is the tanh-approximation expansion of GELU:
// x is cubed (Pow), scaled, added to x, scaled by sqrt(2/pi), passed through
// Tanh, shifted by 1 and twice multiplied back. The Add operands may arrive
// in either order.
func geluTanh() *pattern.Pattern {
	return chain(
		node(ir.Pow),
		node(ir.Multiply),
		node(ir.Add),
		node(ir.Multiply),
		node(ir.Tanh),
		node(ir.Add),
		node(ir.Multiply),
		node(ir.Multiply),
	)
}

// geluErf is the exact (erf-based) expansion of GELU.
func geluErf() *pattern.Pattern {
	return chain(
		node(ir.Divide),
		node(ir.Erf),
		node(ir.Add),
		node(ir.Multiply),
		node(ir.Multiply),
	)
}

// unitPasses maps single-op pass names to the op kind they claim. The set
// mirrors the kinds the backend can execute as lone kernels.
var unitPasses = []struct {
	name string
	kind ir.OpKind
}{
	{"conv_pass", ir.Convolution},
	{"matmul_pass", ir.MatMul},
	{"sum_pass", ir.Add},
	{"mul_pass", ir.Multiply},
	{"max_pass", ir.Maximum},
	{"min_pass", ir.Minimum},
	{"pow_pass", ir.Pow},
	{"relu_pass", ir.ReLU},
	{"elu_pass", ir.Elu},
	{"exp_pass", ir.Exp},
	{"log_pass", ir.Log},
	{"sqrt_pass", ir.Sqrt},
	{"square_pass", ir.Square},
	{"tanh_pass", ir.Tanh},
	{"hardtanh_pass", ir.HardTanh},
	{"bn_pass", ir.BatchNormInference},
	{"bn_fw_train_pass", ir.BatchNormForwardTraining},
	{"bn_bw_pass", ir.BatchNormTrainingBackprop},
	{"layernorm_pass", ir.LayerNorm},
	{"softmax_pass", ir.SoftMax},
	{"logsoftmax_pass", ir.LogSoftmax},
	{"avg_pool_pass", ir.AvgPool},
	{"avg_pool_bw_pass", ir.AvgPoolBackprop},
	{"max_pool_pass", ir.MaxPool},
	{"max_pool_bw_pass", ir.MaxPoolBackprop},
	{"conv_data_bw_pass", ir.ConvolutionBackpropData},
	{"conv_filter_bw_pass", ir.ConvolutionBackpropFilters},
	{"relu_bw_pass", ir.ReLUBackprop},
	{"gelu_bw_pass", ir.GELUBackprop},
}

func init() {
	r := Default()

	for _, unit := range unitPasses {
		r.Register(NewUnitPass(unit.name, unitPriority, unit.kind))
	}

	conv2 := func() pattern.Node { return nodeN(ir.Convolution, 2) }
	conv3 := func() pattern.Node { return nodeN(ir.Convolution, 3) }
	mm2 := func() pattern.Node { return nodeN(ir.MatMul, 2) }
	mm3 := func() pattern.Node { return nodeN(ir.MatMul, 3) }
	bias := func() pattern.Node { return node(ir.BiasAdd) }
	bn := func() pattern.Node { return node(ir.BatchNormInference) }

	// Convolution chains without bias.
	r.Register(NewPass("conv_relu_fusion", fusionPriority(2), ir.ConvReLU,
		chain(conv2(), node(ir.ReLU))))
	r.Register(NewPass("conv_bn_fusion", fusionPriority(2), ir.ConvBN,
		chain(conv2(), bn())))
	r.Register(NewPass("conv_sum_fusion", fusionPriority(2), ir.ConvAdd,
		chain(conv2(), node(ir.Add))))
	r.Register(NewPass("conv_sum_relu_fusion", fusionPriority(3), ir.ConvAddReLU,
		chain(conv2(), node(ir.Add), node(ir.ReLU))))
	r.Register(NewPass("conv_sum_elu_fusion", fusionPriority(3), ir.ConvAddElu,
		chain(conv2(), node(ir.Add), node(ir.Elu))))
	r.Register(NewPass("conv_sum_relu6_fusion", fusionPriority(3)+0.5, ir.ConvAddReLU6,
		chain(conv2(), node(ir.Add), relu6())))
	r.Register(NewPass("conv_bn_relu_fusion", fusionPriority(3), ir.ConvBNReLU,
		chain(conv2(), bn(), node(ir.ReLU))))
	r.Register(NewPass("conv_bn_sum_fusion", fusionPriority(3), ir.ConvBNAdd,
		chain(conv2(), bn(), node(ir.Add))))
	r.Register(NewPass("conv_bn_sum_relu_fusion", fusionPriority(4), ir.ConvBNAddReLU,
		chain(conv2(), bn(), node(ir.Add), node(ir.ReLU))))

	// Convolution chains with bias: each pass accepts both the 3-input
	// convolution form and the 2-input form followed by BiasAdd.
	r.Register(NewPass("conv_bias_fusion", fusionPriority(2), ir.ConvBias,
		chain(conv3()),
		chain(conv2(), bias())))
	r.Register(NewPass("conv_bias_relu_fusion", fusionPriority(3), ir.ConvBiasReLU,
		chain(conv3(), node(ir.ReLU)),
		chain(conv2(), bias(), node(ir.ReLU))))
	r.Register(NewPass("conv_bias_elu_fusion", fusionPriority(3), ir.ConvBiasElu,
		chain(conv3(), node(ir.Elu)),
		chain(conv2(), bias(), node(ir.Elu))))
	r.Register(NewPass("conv_bias_sigmoid_fusion", fusionPriority(3), ir.ConvBiasSigmoid,
		chain(conv3(), node(ir.Sigmoid)),
		chain(conv2(), bias(), node(ir.Sigmoid))))
	r.Register(NewPass("conv_bias_hardtanh_fusion", fusionPriority(3), ir.ConvBiasHardTanh,
		chain(conv3(), node(ir.HardTanh)),
		chain(conv2(), bias(), node(ir.HardTanh))))
	r.Register(NewPass("conv_bias_relu6_fusion", fusionPriority(3)+0.5, ir.ConvBiasReLU6,
		chain(conv3(), relu6()),
		chain(conv2(), bias(), relu6())))
	r.Register(NewPass("conv_bias_square_fusion", fusionPriority(3), ir.ConvBiasSquare,
		chain(conv3(), node(ir.Square)),
		chain(conv2(), bias(), node(ir.Square))))
	r.Register(NewPass("conv_bias_tanh_fusion", fusionPriority(3), ir.ConvBiasTanh,
		chain(conv3(), node(ir.Tanh)),
		chain(conv2(), bias(), node(ir.Tanh))))
	r.Register(NewPass("conv_bias_abs_fusion", fusionPriority(3), ir.ConvBiasAbs,
		chain(conv3(), node(ir.Abs)),
		chain(conv2(), bias(), node(ir.Abs))))
	r.Register(NewPass("conv_bias_sqrt_fusion", fusionPriority(3), ir.ConvBiasSqrt,
		chain(conv3(), node(ir.Sqrt)),
		chain(conv2(), bias(), node(ir.Sqrt))))
	r.Register(NewPass("conv_bias_swish_fusion", fusionPriority(4), ir.ConvBiasSwish,
		swish(conv3()),
		swish(conv2(), bias())))
	r.Register(NewPass("conv_bias_bn_fusion", fusionPriority(3), ir.ConvBiasBN,
		chain(conv3(), bn()),
		chain(conv2(), bias(), bn())))
	r.Register(NewPass("conv_bias_bn_relu_fusion", fusionPriority(4), ir.ConvBiasBNReLU,
		chain(conv3(), bn(), node(ir.ReLU)),
		chain(conv2(), bias(), bn(), node(ir.ReLU))))
	r.Register(NewPass("conv_bias_bn_sum_fusion", fusionPriority(4), ir.ConvBiasBNAdd,
		chain(conv3(), bn(), node(ir.Add)),
		chain(conv2(), bias(), bn(), node(ir.Add))))
	r.Register(NewPass("conv_bias_bn_sum_relu_fusion", fusionPriority(5), ir.ConvBiasBNAddReLU,
		chain(conv3(), bn(), node(ir.Add), node(ir.ReLU)),
		chain(conv2(), bias(), bn(), node(ir.Add), node(ir.ReLU))))
	r.Register(NewPass("conv_bias_sum_fusion", fusionPriority(3), ir.ConvBiasAdd,
		chain(conv3(), node(ir.Add)),
		chain(conv2(), bias(), node(ir.Add))))
	r.Register(NewPass("conv_bias_sum_relu_fusion", fusionPriority(4), ir.ConvBiasAddReLU,
		chain(conv3(), node(ir.Add), node(ir.ReLU)),
		chain(conv2(), bias(), node(ir.Add), node(ir.ReLU))))
	r.Register(NewPass("conv_bias_sum_elu_fusion", fusionPriority(4), ir.ConvBiasAddElu,
		chain(conv3(), node(ir.Add), node(ir.Elu)),
		chain(conv2(), bias(), node(ir.Add), node(ir.Elu))))
	r.Register(NewPass("conv_bias_sum_relu6_fusion", fusionPriority(4)+0.5, ir.ConvBiasAddReLU6,
		chain(conv3(), node(ir.Add), relu6()),
		chain(conv2(), bias(), node(ir.Add), relu6())))

	// Batch-norm fusions.
	r.Register(NewPass("bn_relu_fusion", fusionPriority(2), ir.BNReLU,
		chain(bn(), node(ir.ReLU))))
	r.Register(NewPass("bn_bwd_relu_bwd_fusion", fusionPriority(2), ir.BNBwdReLUBwd,
		chain(node(ir.ReLUBackprop), node(ir.BatchNormTrainingBackprop))))

	// MatMul chains.
	r.Register(NewPass("matmul_relu_fusion", fusionPriority(2), ir.MatMulReLU,
		chain(mm2(), node(ir.ReLU))))
	r.Register(NewPass("matmul_elu_fusion", fusionPriority(2), ir.MatMulElu,
		chain(mm2(), node(ir.Elu))))
	r.Register(NewPass("matmul_sigmoid_fusion", fusionPriority(2), ir.MatMulSigmoid,
		chain(mm2(), node(ir.Sigmoid))))
	r.Register(NewPass("matmul_hardtanh_fusion", fusionPriority(2), ir.MatMulHardTanh,
		chain(mm2(), node(ir.HardTanh))))
	r.Register(NewPass("matmul_gelu_fusion", fusionPriority(2), ir.MatMulGELU,
		chain(mm2(), node(ir.GELU))))
	r.Register(NewPass("matmul_sum_fusion", fusionPriority(2), ir.MatMulAdd,
		chain(mm2(), node(ir.Add))))
	r.Register(NewPass("matmul_sum_gelu_fusion", fusionPriority(3), ir.MatMulAddGELU,
		chain(mm2(), node(ir.Add), node(ir.GELU))))
	r.Register(NewPass("matmul_sum_relu_fusion", fusionPriority(3), ir.MatMulAddReLU,
		chain(mm2(), node(ir.Add), node(ir.ReLU))))
	r.Register(NewPass("matmul_bias_fusion", fusionPriority(2), ir.MatMulBias,
		chain(mm3()),
		chain(mm2(), bias())))
	r.Register(NewPass("matmul_bias_relu_fusion", fusionPriority(3), ir.MatMulBiasReLU,
		chain(mm3(), node(ir.ReLU)),
		chain(mm2(), bias(), node(ir.ReLU))))
	r.Register(NewPass("matmul_bias_elu_fusion", fusionPriority(3), ir.MatMulBiasElu,
		chain(mm3(), node(ir.Elu)),
		chain(mm2(), bias(), node(ir.Elu))))
	r.Register(NewPass("matmul_bias_sigmoid_fusion", fusionPriority(3), ir.MatMulBiasSigmoid,
		chain(mm3(), node(ir.Sigmoid)),
		chain(mm2(), bias(), node(ir.Sigmoid))))
	r.Register(NewPass("matmul_bias_hardtanh_fusion", fusionPriority(3), ir.MatMulBiasHardTanh,
		chain(mm3(), node(ir.HardTanh)),
		chain(mm2(), bias(), node(ir.HardTanh))))
	r.Register(NewPass("matmul_bias_relu6_fusion", fusionPriority(3)+0.5, ir.MatMulBiasReLU6,
		chain(mm3(), relu6()),
		chain(mm2(), bias(), relu6())))
	r.Register(NewPass("matmul_bias_bn_fusion", fusionPriority(3), ir.MatMulBiasBN,
		chain(mm3(), bn()),
		chain(mm2(), bias(), bn())))
	r.Register(NewPass("matmul_bias_sum_fusion", fusionPriority(3), ir.MatMulBiasAdd,
		chain(mm3(), node(ir.Add)),
		chain(mm2(), bias(), node(ir.Add))))
	r.Register(NewPass("matmul_bias_sum_relu_fusion", fusionPriority(4), ir.MatMulBiasAddReLU,
		chain(mm3(), node(ir.Add), node(ir.ReLU)),
		chain(mm2(), bias(), node(ir.Add), node(ir.ReLU))))
	r.Register(NewPass("matmul_bias_swish_fusion", fusionPriority(4), ir.MatMulBiasSwish,
		swish(mm3()),
		swish(mm2(), bias())))

	// GELU decompositions collapse back into a single GELU op. The tanh
	// expansion is longer, so it is tried first.
	r.Register(NewPass("gelu_fusion", fusionPriority(8), ir.GELU,
		geluTanh(),
		geluErf()))

	// Backprop fusion.
	r.Register(NewPass("conv_bwd_f_biasadd_bwd_fusion", fusionPriority(2), ir.ConvBwdFBiasAddBwd,
		chain(node(ir.ConvolutionBackpropFilters), node(ir.BiasAddBackprop))))
}
