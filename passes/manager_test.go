// Copyright 2024-2026 The GraphFuse Authors. SPDX-License-Identifier: Apache-2.0

package passes

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/graphfuse/graphfuse/graph"
	"github.com/graphfuse/graphfuse/ir"
)

func passNames(passes []*Pass) []string {
	names := make([]string, len(passes))
	for i, p := range passes {
		names[i] = p.Name()
	}
	return names
}

func indexOf(names []string, name string) int {
	for i, n := range names {
		if n == name {
			return i
		}
	}
	return -1
}

func TestPassesPriorityOrder(t *testing.T) {
	m := NewManager(Default())
	names := passNames(m.Passes())

	// Longer chains run before their prefixes.
	ordered := []string{
		"gelu_fusion",
		"conv_bias_bn_sum_relu_fusion",
		"conv_bias_bn_relu_fusion",
		"conv_bias_bn_fusion",
		"conv_bias_fusion",
		"conv_pass",
	}
	for i := 0; i+1 < len(ordered); i++ {
		a, b := indexOf(names, ordered[i]), indexOf(names, ordered[i+1])
		require.GreaterOrEqual(t, a, 0, ordered[i])
		require.GreaterOrEqual(t, b, 0, ordered[i+1])
		assert.Less(t, a, b, "%s should run before %s", ordered[i], ordered[i+1])
	}

	// The attribute-constrained relu6 variant outranks the generic hardtanh.
	assert.Less(t,
		indexOf(names, "conv_bias_relu6_fusion"),
		indexOf(names, "conv_bias_hardtanh_fusion"))
}

func TestEffectivePassesFromConfig(t *testing.T) {
	m := NewManager(Default())

	disabled := false
	config := managerConfig{Passes: []passConfig{
		{PassName: "conv_relu_fusion", PassType: TypeFusion, Priority: 6},
		{PassName: "conv_bn_fusion", PassType: TypeFusion, Enable: &disabled, Priority: 6},
		{PassName: "no_such_pass", PassType: TypeFusion, Priority: 1},
		{PassName: "sum_pass", PassType: TypeUnit, Priority: 1},
	}}
	path := filepath.Join(t.TempDir(), "passes.json")
	require.NoError(t, os.WriteFile(path, must.M1(json.Marshal(&config)), 0o644))

	effective, err := m.effectivePasses(path)
	require.NoError(t, err)
	// Config order is taken verbatim, disabled passes dropped, unknown names
	// ignored. Missing "enable" defaults to enabled.
	assert.Equal(t, []string{"conv_relu_fusion", "sum_pass"}, passNames(effective))
}

func TestPrintPassesRoundTrip(t *testing.T) {
	m := NewManager(Default())
	path := filepath.Join(t.TempDir(), "passes.json")
	require.NoError(t, m.PrintPasses(path))

	// Re-importing the dump yields the same effective ordering.
	fromConfig, err := m.effectivePasses(path)
	require.NoError(t, err)
	assert.Equal(t, passNames(m.Passes()), passNames(fromConfig))
}

func lt(id uint64) ir.LogicalTensor {
	tensor := must.M1(ir.NewLogicalTensor(id, dtypes.Float32, nil, ir.LayoutUndef))
	return tensor
}

// saveLoadGraph is the two-chain graph of the JSON round-trip scenario:
// conv -> bn -> relu feeding an add that also consumes a second conv.
func saveLoadGraph(t *testing.T) *graph.Graph {
	t.Helper()
	g := graph.New(ir.EngineCPU)

	conv1 := ir.NewOp(0, ir.Convolution, "conv")
	for name, attr := range map[string]ir.Attr{
		"strides": ir.IntsAttr(1, 1), "pads_begin": ir.IntsAttr(0, 0),
		"pads_end": ir.IntsAttr(0, 0), "dilations": ir.IntsAttr(1, 1),
	} {
		conv1.SetAttr(name, attr)
	}
	conv1.AddInputs(lt(0), lt(1)).AddOutput(lt(2))

	bn := ir.NewOp(1, ir.BatchNormInference, "bn")
	bn.SetAttr("epsilon", ir.FloatAttr(0.001))
	bn.AddInputs(lt(2), lt(3), lt(4), lt(5), lt(6)).AddOutput(lt(7))

	relu := ir.NewOp(2, ir.ReLU, "relu")
	relu.AddInput(lt(7)).AddOutput(lt(8))

	conv2 := ir.NewOp(3, ir.Convolution, "conv")
	for name, attr := range conv1.Attrs() {
		conv2.SetAttr(name, attr)
	}
	conv2.AddInputs(lt(9), lt(10)).AddOutput(lt(11))

	add := ir.NewOp(4, ir.Add, "add")
	add.AddInputs(lt(11), lt(8)).AddOutput(lt(12))

	for _, op := range []*ir.Op{conv1, bn, relu, conv2, add} {
		require.NoError(t, g.AddOp(op))
	}
	require.NoError(t, g.Build())
	return g
}

func TestRunPassesWithSavedConfig(t *testing.T) {
	m := NewManager(Default())
	g := saveLoadGraph(t)
	require.Equal(t, 5, g.NumOps())

	path := filepath.Join(t.TempDir(), "passes.json")
	require.NoError(t, m.PrintPasses(path))
	require.NoError(t, m.RunPasses(g, path))

	// conv+bn+relu collapse into conv_bn_relu, conv+add into conv_add.
	require.Equal(t, 2, g.NumPartitions())
	kinds := []ir.OpKind{
		g.Partitions()[0].FusedOp().Kind(),
		g.Partitions()[1].FusedOp().Kind(),
	}
	assert.Contains(t, kinds, ir.ConvBNReLU)
	assert.Contains(t, kinds, ir.ConvAdd)
	assert.Equal(t, 0, g.NumOps())
}

func TestRunPassesIdempotent(t *testing.T) {
	m := NewManager(Default())
	g := saveLoadGraph(t)
	require.NoError(t, m.RunPasses(g, NoConfig))
	first := g.NumPartitions()

	// A second run over the already-partitioned graph changes nothing.
	require.NoError(t, m.RunPasses(g, NoConfig))
	assert.Equal(t, first, g.NumPartitions())
}

func TestRunUnitPasses(t *testing.T) {
	m := NewManager(Default())
	g := saveLoadGraph(t)
	require.NoError(t, m.RunUnitPasses(g))

	// No fusion: every claimable op is its own partition.
	require.Equal(t, 5, g.NumPartitions())
	for _, p := range g.Partitions() {
		assert.Equal(t, 1, p.NumOps())
	}
}
