package passes

import (
	"fmt"
	"slices"
	"strings"

	"github.com/wippyai/wasm-ir/ir"
)

// Pass transforms a function in place.
//
// Passes are stateless and can be shared across concurrent tasks, each
// working on its own function.
type Pass interface {
	Name() string
	Run(f *ir.Function) error
}

// Func is an adapter to use ordinary functions as Passes.
type Func struct {
	name string
	fn   func(f *ir.Function) error
}

// New wraps fn as a pass called name.
func New(name string, fn func(f *ir.Function) error) Func {
	return Func{name: name, fn: fn}
}

func (p Func) Name() string             { return p.name }
func (p Func) Run(f *ir.Function) error { return p.fn(f) }

// Registry maps pass names to passes.
type Registry struct {
	passes map[string]Pass
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{passes: make(map[string]Pass)}
}

// Default returns a registry holding the built-in passes.
func Default() *Registry {
	r := NewRegistry()
	r.Register(New("prune", Prune))
	r.Register(New("split-critical-edges", SplitCriticalEdges))
	return r
}

// Register adds p under its name, replacing any pass of that name.
func (r *Registry) Register(p Pass) {
	r.passes[p.Name()] = p
}

// Get returns the pass called name, or nil.
func (r *Registry) Get(name string) Pass {
	return r.passes[name]
}

// Has reports whether a pass is registered under name.
func (r *Registry) Has(name string) bool {
	_, ok := r.passes[name]
	return ok
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.passes))
	for n := range r.passes {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Parse resolves a comma-separated list of pass names, keeping its order.
// Empty entries are skipped.
func (r *Registry) Parse(list string) ([]Pass, error) {
	var out []Pass
	for _, name := range strings.Split(list, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		p := r.Get(name)
		if p == nil {
			return nil, fmt.Errorf("unknown pass %q (have %s)", name, strings.Join(r.Names(), ", "))
		}
		out = append(out, p)
	}
	return out, nil
}
