// Copyright 2024-2026 The GraphFuse Authors. SPDX-License-Identifier: Apache-2.0

package schema

import (
	"github.com/gomlx/exceptions"

	"github.com/graphfuse/graphfuse/ir"
)

// Built-in schemas for the public op kinds. Fused (internal) kinds carry no
// schema: their arity is fixed by construction (the sum of the external slots
// of their sub-pattern) and they are never built by clients.

func mustRegister(s OpSchema) {
	if err := Register(s); err != nil {
		exceptions.Panicf("schema: built-in registration failed: %+v", err)
	}
}

func attrDefault(a ir.Attr) *ir.Attr { return &a }

// unary is the schema of a one-input one-output element-wise op.
func unary(kind ir.OpKind) OpSchema {
	return OpSchema{Kind: kind, MinInputs: 1, MaxInputs: 1, MinOutputs: 1, MaxOutputs: 1}
}

// binary is the schema of a two-input one-output (broadcasting) op.
func binary(kind ir.OpKind) OpSchema {
	return OpSchema{Kind: kind, MinInputs: 2, MaxInputs: 2, MinOutputs: 1, MaxOutputs: 1}
}

// convAttrs is the attribute contract shared by the convolution family.
func convAttrs() map[string]AttrSpec {
	return map[string]AttrSpec{
		"strides":       {Kind: ir.AttrInt64s, Required: true},
		"pads_begin":    {Kind: ir.AttrInt64s, Required: true},
		"pads_end":      {Kind: ir.AttrInt64s, Required: true},
		"dilations":     {Kind: ir.AttrInt64s, Required: true},
		"data_format":   {Kind: ir.AttrString, Default: attrDefault(ir.StringAttr("NXC"))},
		"filter_format": {Kind: ir.AttrString, Default: attrDefault(ir.StringAttr("XIO"))},
		"groups":        {Kind: ir.AttrInt64, Default: attrDefault(ir.IntAttr(1))},
		"auto_pad":      {Kind: ir.AttrString, Default: attrDefault(ir.StringAttr("None"))},
	}
}

// poolAttrs is the attribute contract shared by the pooling ops.
func poolAttrs() map[string]AttrSpec {
	return map[string]AttrSpec{
		"strides":     {Kind: ir.AttrInt64s, Required: true},
		"kernel":      {Kind: ir.AttrInt64s, Required: true},
		"pads_begin":  {Kind: ir.AttrInt64s, Required: true},
		"pads_end":    {Kind: ir.AttrInt64s, Required: true},
		"data_format": {Kind: ir.AttrString, Default: attrDefault(ir.StringAttr("NXC"))},
	}
}

func init() {
	for _, kind := range []ir.OpKind{
		ir.Abs, ir.Erf, ir.Exp, ir.GELU, ir.Log, ir.ReLU, ir.Round,
		ir.Sigmoid, ir.Sqrt, ir.Square, ir.Tanh,
	} {
		mustRegister(unary(kind))
	}
	for _, kind := range []ir.OpKind{
		ir.Add, ir.Divide, ir.Maximum, ir.Minimum, ir.Multiply, ir.Pow,
	} {
		mustRegister(binary(kind))
	}

	mustRegister(OpSchema{
		Kind: ir.Convolution, MinInputs: 2, MaxInputs: 3, MinOutputs: 1, MaxOutputs: 1,
		Attrs: convAttrs(),
	})
	mustRegister(OpSchema{
		Kind: ir.ConvolutionBackpropData, MinInputs: 2, MaxInputs: 3, MinOutputs: 1, MaxOutputs: 1,
		Attrs: convAttrs(),
	})
	mustRegister(OpSchema{
		Kind: ir.ConvolutionBackpropFilters, MinInputs: 2, MaxInputs: 3, MinOutputs: 1, MaxOutputs: 1,
		Attrs: convAttrs(),
	})

	mustRegister(OpSchema{
		Kind: ir.BiasAdd, MinInputs: 2, MaxInputs: 2, MinOutputs: 1, MaxOutputs: 1,
		Attrs: map[string]AttrSpec{
			"data_format": {Kind: ir.AttrString, Default: attrDefault(ir.StringAttr("NXC"))},
		},
	})
	mustRegister(OpSchema{
		Kind: ir.BiasAddBackprop, MinInputs: 1, MaxInputs: 1, MinOutputs: 1, MaxOutputs: 1,
		Attrs: map[string]AttrSpec{
			"data_format": {Kind: ir.AttrString, Default: attrDefault(ir.StringAttr("NXC"))},
		},
	})

	mustRegister(OpSchema{
		Kind: ir.BatchNormInference, MinInputs: 5, MaxInputs: 5, MinOutputs: 1, MaxOutputs: 1,
		Attrs: map[string]AttrSpec{
			"epsilon":     {Kind: ir.AttrFloat32, Required: true},
			"data_format": {Kind: ir.AttrString, Default: attrDefault(ir.StringAttr("NXC"))},
		},
	})
	mustRegister(OpSchema{
		Kind: ir.BatchNormForwardTraining, MinInputs: 3, MaxInputs: 5, MinOutputs: 1, MaxOutputs: 5,
		Attrs: map[string]AttrSpec{
			"epsilon":     {Kind: ir.AttrFloat32, Required: true},
			"momentum":    {Kind: ir.AttrFloat32, Default: attrDefault(ir.FloatAttr(0.9))},
			"data_format": {Kind: ir.AttrString, Default: attrDefault(ir.StringAttr("NXC"))},
		},
	})
	mustRegister(OpSchema{
		Kind: ir.BatchNormTrainingBackprop, MinInputs: 4, MaxInputs: 7, MinOutputs: 1, MaxOutputs: 3,
		Attrs: map[string]AttrSpec{
			"epsilon":     {Kind: ir.AttrFloat32, Required: true},
			"is_training": {Kind: ir.AttrBool, Default: attrDefault(ir.BoolAttr(true))},
			"data_format": {Kind: ir.AttrString, Default: attrDefault(ir.StringAttr("NXC"))},
		},
	})

	mustRegister(OpSchema{
		Kind: ir.Elu, MinInputs: 1, MaxInputs: 1, MinOutputs: 1, MaxOutputs: 1,
		Attrs: map[string]AttrSpec{
			"alpha": {Kind: ir.AttrFloat32, Required: true},
		},
	})
	mustRegister(OpSchema{
		Kind: ir.HardTanh, MinInputs: 1, MaxInputs: 1, MinOutputs: 1, MaxOutputs: 1,
		Attrs: map[string]AttrSpec{
			"min": {Kind: ir.AttrFloat32, Required: true},
			"max": {Kind: ir.AttrFloat32, Required: true},
		},
	})
	mustRegister(OpSchema{
		Kind: ir.Clamp, MinInputs: 1, MaxInputs: 1, MinOutputs: 1, MaxOutputs: 1,
		Attrs: map[string]AttrSpec{
			"min": {Kind: ir.AttrFloat32, Required: true},
			"max": {Kind: ir.AttrFloat32, Required: true},
		},
	})

	mustRegister(OpSchema{
		Kind: ir.MatMul, MinInputs: 2, MaxInputs: 3, MinOutputs: 1, MaxOutputs: 1,
		Attrs: map[string]AttrSpec{
			"transpose_a": {Kind: ir.AttrBool, Default: attrDefault(ir.BoolAttr(false))},
			"transpose_b": {Kind: ir.AttrBool, Default: attrDefault(ir.BoolAttr(false))},
		},
	})

	mustRegister(OpSchema{
		Kind: ir.AvgPool, MinInputs: 1, MaxInputs: 1, MinOutputs: 1, MaxOutputs: 1,
		Attrs: func() map[string]AttrSpec {
			attrs := poolAttrs()
			attrs["exclude_pad"] = AttrSpec{Kind: ir.AttrBool, Default: attrDefault(ir.BoolAttr(false))}
			return attrs
		}(),
	})
	mustRegister(OpSchema{
		Kind: ir.MaxPool, MinInputs: 1, MaxInputs: 1, MinOutputs: 1, MaxOutputs: 1,
		Attrs: func() map[string]AttrSpec {
			attrs := poolAttrs()
			attrs["dilations"] = AttrSpec{Kind: ir.AttrInt64s}
			return attrs
		}(),
	})
	mustRegister(OpSchema{
		Kind: ir.AvgPoolBackprop, MinInputs: 1, MaxInputs: 2, MinOutputs: 1, MaxOutputs: 1,
		Attrs: poolAttrs(),
	})
	mustRegister(OpSchema{
		Kind: ir.MaxPoolBackprop, MinInputs: 2, MaxInputs: 3, MinOutputs: 1, MaxOutputs: 1,
		Attrs: poolAttrs(),
	})

	mustRegister(OpSchema{
		Kind: ir.LayerNorm, MinInputs: 1, MaxInputs: 3, MinOutputs: 1, MaxOutputs: 3,
		Attrs: map[string]AttrSpec{
			"epsilon":         {Kind: ir.AttrFloat32, Default: attrDefault(ir.FloatAttr(1e-5))},
			"begin_norm_axis": {Kind: ir.AttrInt64, Default: attrDefault(ir.IntAttr(-1))},
			"keep_stats":      {Kind: ir.AttrBool, Default: attrDefault(ir.BoolAttr(true))},
			"use_affine":      {Kind: ir.AttrBool, Default: attrDefault(ir.BoolAttr(true))},
		},
	})

	mustRegister(OpSchema{
		Kind: ir.SoftMax, MinInputs: 1, MaxInputs: 1, MinOutputs: 1, MaxOutputs: 1,
		Attrs: map[string]AttrSpec{
			"axis": {Kind: ir.AttrInt64, Default: attrDefault(ir.IntAttr(1))},
		},
	})
	mustRegister(OpSchema{
		Kind: ir.LogSoftmax, MinInputs: 1, MaxInputs: 1, MinOutputs: 1, MaxOutputs: 1,
		Attrs: map[string]AttrSpec{
			"axis": {Kind: ir.AttrInt64, Default: attrDefault(ir.IntAttr(-1))},
		},
	})

	mustRegister(OpSchema{
		Kind: ir.Concat, MinInputs: 1, MaxInputs: 1, Variadic: true, MinOutputs: 1, MaxOutputs: 1,
		Attrs: map[string]AttrSpec{
			"axis": {Kind: ir.AttrInt64, Required: true},
		},
	})
	mustRegister(OpSchema{
		Kind: ir.Reshape, MinInputs: 1, MaxInputs: 1, MinOutputs: 1, MaxOutputs: 1,
		Attrs: map[string]AttrSpec{
			"shape":        {Kind: ir.AttrInt64s, Required: true},
			"special_zero": {Kind: ir.AttrBool, Default: attrDefault(ir.BoolAttr(false))},
		},
	})
	mustRegister(OpSchema{
		Kind: ir.Transpose, MinInputs: 1, MaxInputs: 1, MinOutputs: 1, MaxOutputs: 1,
		Attrs: map[string]AttrSpec{
			"order": {Kind: ir.AttrInt64s, Required: true},
		},
	})

	mustRegister(OpSchema{
		Kind: ir.ReLUBackprop, MinInputs: 2, MaxInputs: 2, MinOutputs: 1, MaxOutputs: 1,
	})
	mustRegister(OpSchema{
		Kind: ir.GELUBackprop, MinInputs: 2, MaxInputs: 2, MinOutputs: 1, MaxOutputs: 1,
	})
}
