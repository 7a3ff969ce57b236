// Copyright 2024-2026 The GraphFuse Authors. SPDX-License-Identifier: Apache-2.0

package passes

import (
	"slices"

	"github.com/gomlx/exceptions"
)

// Registry stores passes keyed by name, in registration order. Registration
// is append-only and names are unique; it must complete during process
// initialization, after which the registry is read-only and safe to share.
type Registry struct {
	passes []*Pass
	byName map[string]*Pass
}

// NewRegistry creates an empty pass registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*Pass)}
}

// Register appends the pass. A duplicate name panics: pass names are the keys
// of the JSON configuration and must be unambiguous.
func (r *Registry) Register(p *Pass) *Pass {
	if _, dup := r.byName[p.name]; dup {
		exceptions.Panicf("passes: pass %q registered twice", p.name)
	}
	r.byName[p.name] = p
	r.passes = append(r.passes, p)
	return p
}

// Get returns the pass with the given name, or nil.
func (r *Registry) Get(name string) *Pass {
	return r.byName[name]
}

// Passes returns the registered passes in registration order.
func (r *Registry) Passes() []*Pass {
	return slices.Clone(r.passes)
}

// defaultRegistry holds the built-in passes, populated by fusions.go.
var defaultRegistry = NewRegistry()

// Default returns the process-wide registry with the built-in passes.
func Default() *Registry {
	return defaultRegistry
}
