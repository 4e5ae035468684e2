package ir

import (
	"strings"

	"github.com/wippyai/wasm-ir/wasm"
)

// Module indexes a decoded module's functions. Function indices follow the
// wasm function index space and never change; tables, memories and globals
// stay in Source.
type Module struct {
	Source *wasm.Module
	Types  []Signature
	Funcs  []FuncDecl
}

// FuncDecl is one entry of the function index space.
type FuncDecl struct {
	Body   *Function // nil for imports and bodies not built yet
	Import *wasm.Import
	Name   string // first export name, if any
	Type   uint32
	Index  uint32
}

// Imported reports whether the function is an import.
func (d *FuncDecl) Imported() bool { return d.Import != nil }

// NewModule builds the function index of src.
func NewModule(src *wasm.Module) *Module {
	m := &Module{Source: src, Types: make([]Signature, len(src.Types))}
	for i, ft := range src.Types {
		m.Types[i], _ = SignatureOf(ft)
	}
	for i := range src.Imports {
		imp := &src.Imports[i]
		if imp.Desc.Kind != wasm.KindFunc {
			continue
		}
		m.Funcs = append(m.Funcs, FuncDecl{Import: imp, Type: imp.Desc.TypeIdx, Index: uint32(len(m.Funcs))})
	}
	for _, typeIdx := range src.Funcs {
		m.Funcs = append(m.Funcs, FuncDecl{Type: typeIdx, Index: uint32(len(m.Funcs))})
	}
	for _, exp := range src.Exports {
		if exp.Kind == wasm.KindFunc && int(exp.Idx) < len(m.Funcs) && m.Funcs[exp.Idx].Name == "" {
			m.Funcs[exp.Idx].Name = exp.Name
		}
	}
	return m
}

// NumImported returns the number of imported functions.
func (m *Module) NumImported() int { return m.Source.NumImportedFuncs() }

// Func returns the declaration at a function index, or nil.
func (m *Module) Func(idx uint32) *FuncDecl {
	if int(idx) >= len(m.Funcs) {
		return nil
	}
	return &m.Funcs[idx]
}

// Signature returns the signature of a function index.
func (m *Module) Signature(idx uint32) (Signature, bool) {
	d := m.Func(idx)
	if d == nil || int(d.Type) >= len(m.Types) {
		return Signature{}, false
	}
	return m.Types[d.Type], true
}

// Format renders every built function body.
func (m *Module) Format() string {
	var sb strings.Builder
	for i := range m.Funcs {
		if b := m.Funcs[i].Body; b != nil {
			sb.WriteString(Format(b))
		}
	}
	return sb.String()
}
