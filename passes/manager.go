// Copyright 2024-2026 The GraphFuse Authors. SPDX-License-Identifier: Apache-2.0

package passes

import (
	"encoding/json"
	"os"
	"slices"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/graphfuse/graphfuse/graph"
)

// NoConfig is the sentinel config path meaning "no configuration file": the
// effective pass list is the registry sorted by priority, descending.
const NoConfig = "no_config"

// passConfig is one entry of the persisted pass-manager JSON.
type passConfig struct {
	PassName string  `json:"pass_name"`
	PassType string  `json:"pass_type"`
	Enable   *bool   `json:"enable,omitempty"`
	Priority float64 `json:"priority"`
}

type managerConfig struct {
	Passes []passConfig `json:"passes"`
}

// Manager orders the passes of a registry and drives them over a graph.
type Manager struct {
	registry *Registry
}

// NewManager creates a pass manager over the given registry.
func NewManager(registry *Registry) *Manager {
	return &Manager{registry: registry}
}

// Passes returns the registry's passes in descending priority order; ties
// keep registration order.
func (m *Manager) Passes() []*Pass {
	passes := m.registry.Passes()
	slices.SortStableFunc(passes, func(a, b *Pass) int {
		switch {
		case a.priority > b.priority:
			return -1
		case a.priority < b.priority:
			return 1
		default:
			return 0
		}
	})
	return passes
}

// effectivePasses resolves the pass list to execute: the config file's order
// verbatim minus disabled passes when a config is supplied, the
// priority-descending order otherwise. Unknown pass names in a config are
// ignored with a warning.
func (m *Manager) effectivePasses(configPath string) ([]*Pass, error) {
	if configPath == "" || configPath == NoConfig {
		return m.Passes(), nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, errors.Wrapf(err, "reading pass config %q", configPath)
	}
	var config managerConfig
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, errors.Wrapf(err, "parsing pass config %q", configPath)
	}

	passes := make([]*Pass, 0, len(config.Passes))
	for _, entry := range config.Passes {
		p := m.registry.Get(entry.PassName)
		if p == nil {
			klog.Warningf("pass config %q names unknown pass %q, ignored", configPath, entry.PassName)
			continue
		}
		if entry.Enable != nil && !*entry.Enable {
			continue
		}
		passes = append(passes, p)
	}
	return passes, nil
}

// RunPasses executes the effective pass list sequentially over the graph;
// each pass sees the graph as mutated by its predecessors. configPath is a
// JSON file or NoConfig.
func (m *Manager) RunPasses(g *graph.Graph, configPath string) error {
	passes, err := m.effectivePasses(configPath)
	if err != nil {
		return err
	}
	klog.V(1).Infof("graph %s: running %d passes (config=%q)", g.UID(), len(passes), configPath)
	for _, p := range passes {
		if err := p.Run(g); err != nil {
			return errors.Wrapf(err, "pass %q", p.name)
		}
	}
	return nil
}

// RunUnitPasses executes only the single-op passes, in priority order. This
// is the debug partitioning policy: no fusion, every claimable op becomes its
// own partition.
func (m *Manager) RunUnitPasses(g *graph.Graph) error {
	for _, p := range m.Passes() {
		if p.passType != TypeUnit {
			continue
		}
		if err := p.Run(g); err != nil {
			return errors.Wrapf(err, "pass %q", p.name)
		}
	}
	return nil
}

// PrintPasses dumps the current effective ordering and pass metadata to a
// JSON file that RunPasses can replay later.
func (m *Manager) PrintPasses(path string) error {
	config := managerConfig{}
	enabled := true
	for _, p := range m.Passes() {
		config.Passes = append(config.Passes, passConfig{
			PassName: p.name,
			PassType: p.passType,
			Enable:   &enabled,
			Priority: p.priority,
		})
	}
	data, err := json.MarshalIndent(&config, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encoding pass config")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrapf(err, "writing pass config %q", path)
	}
	return nil
}
