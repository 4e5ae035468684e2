package wasm

// Module represents a parsed WebAssembly module
type Module struct {
	Types    []FuncType
	Imports  []Import
	Funcs    []uint32 // type indices for defined functions
	Tables   []TableType
	Memories []MemoryType
	Globals  []Global
	Exports  []Export
	Start    *uint32
	Elements []Element
	Code     []FuncBody
	Data     []DataSegment

	// DataCount holds the count from the DataCount section (ID 12).
	DataCount *uint32

	CustomSections []CustomSection
}

// FuncType represents a function signature.
type FuncType struct {
	Params  []ValType
	Results []ValType
}

// Equal reports whether two signatures are identical.
func (ft FuncType) Equal(o FuncType) bool {
	return valTypesEqual(ft.Params, o.Params) && valTypesEqual(ft.Results, o.Results)
}

func valTypesEqual(a, b []ValType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// ValType represents a WebAssembly value type.
type ValType byte

func (v ValType) String() string {
	switch v {
	case ValI32:
		return "i32"
	case ValI64:
		return "i64"
	case ValF32:
		return "f32"
	case ValF64:
		return "f64"
	case ValV128:
		return "v128"
	case ValFuncRef:
		return "funcref"
	case ValExtern:
		return "externref"
	default:
		return "unknown"
	}
}

// Import represents an imported function, table, memory or global.
type Import struct {
	Desc   ImportDesc
	Module string
	Name   string
}

// ImportDesc describes an imported item.
// Kind uses KindFunc, KindTable, KindMemory or KindGlobal.
type ImportDesc struct {
	Table   *TableType
	Memory  *MemoryType
	Global  *GlobalType
	TypeIdx uint32
	Kind    byte
}

// TableType describes a table with element type and size limits.
type TableType struct {
	Limits   Limits
	ElemType ValType
}

// MemoryType describes a linear memory with size limits.
type MemoryType struct {
	Limits Limits
}

// Limits describes size constraints for tables and memories.
type Limits struct {
	Max      *uint64
	Min      uint64
	Shared   bool
	Memory64 bool
}

// GlobalType describes a global variable's type and mutability.
type GlobalType struct {
	ValType ValType
	Mutable bool
}

// Global is a global with its raw init expression (including end).
type Global struct {
	Type GlobalType
	Init []byte
}

// Export describes an exported item.
type Export struct {
	Name string
	Kind byte
	Idx  uint32
}

// Element is an element segment. Flags select the encoding variant:
// bit 0 passive/declarative, bit 1 explicit table index (or declarative),
// bit 2 expressions instead of function indices.
type Element struct {
	Offset   []byte
	FuncIdxs []uint32
	Exprs    [][]byte
	Flags    uint32
	TableIdx uint32
	ElemKind byte
	Type     ValType
}

// FuncBody holds a function's local declarations and raw code.
type FuncBody struct {
	Locals []LocalEntry
	Code   []byte // includes the final end opcode
}

// LocalEntry is a run of locals sharing a type.
type LocalEntry struct {
	Count   uint32
	ValType ValType
}

// DataSegment is a data segment. Flags: 0 active mem 0, 1 passive,
// 2 active with explicit memory index.
type DataSegment struct {
	Offset []byte
	Init   []byte
	Flags  uint32
	MemIdx uint32
}

// CustomSection holds a named custom section's data.
type CustomSection struct {
	Name string
	Data []byte
}

func (m *Module) countImports(kind byte) int {
	n := 0
	for _, imp := range m.Imports {
		if imp.Desc.Kind == kind {
			n++
		}
	}
	return n
}

// NumImportedFuncs returns the number of imported functions
func (m *Module) NumImportedFuncs() int { return m.countImports(KindFunc) }

// NumImportedGlobals returns the number of imported globals
func (m *Module) NumImportedGlobals() int { return m.countImports(KindGlobal) }

// NumImportedTables returns the number of imported tables
func (m *Module) NumImportedTables() int { return m.countImports(KindTable) }

// NumFuncs returns the size of the function index space.
func (m *Module) NumFuncs() int { return m.NumImportedFuncs() + len(m.Funcs) }

// TypeAt returns the signature at a type index, or nil.
func (m *Module) TypeAt(typeIdx uint32) *FuncType {
	if int(typeIdx) >= len(m.Types) {
		return nil
	}
	return &m.Types[typeIdx]
}

// GetFuncType returns the type of a function by its index in the function
// index space, or nil if the index is out of range.
func (m *Module) GetFuncType(funcIdx uint32) *FuncType {
	for _, imp := range m.Imports {
		if imp.Desc.Kind != KindFunc {
			continue
		}
		if funcIdx == 0 {
			return m.TypeAt(imp.Desc.TypeIdx)
		}
		funcIdx--
	}
	if int(funcIdx) >= len(m.Funcs) {
		return nil
	}
	return m.TypeAt(m.Funcs[funcIdx])
}

// GlobalType returns the type of the global at idx, or nil.
func (m *Module) GlobalType(idx uint32) *GlobalType {
	for _, imp := range m.Imports {
		if imp.Desc.Kind != KindGlobal {
			continue
		}
		if idx == 0 {
			return imp.Desc.Global
		}
		idx--
	}
	if int(idx) >= len(m.Globals) {
		return nil
	}
	return &m.Globals[idx].Type
}

// TableType returns the type of the table at idx, or nil.
func (m *Module) TableType(idx uint32) *TableType {
	for _, imp := range m.Imports {
		if imp.Desc.Kind != KindTable {
			continue
		}
		if idx == 0 {
			return imp.Desc.Table
		}
		idx--
	}
	if int(idx) >= len(m.Tables) {
		return nil
	}
	return &m.Tables[idx]
}

// AddType adds a function type and returns its index, reusing an existing
// identical entry.
func (m *Module) AddType(ft FuncType) uint32 {
	for i, t := range m.Types {
		if t.Equal(ft) {
			return uint32(i)
		}
	}
	m.Types = append(m.Types, ft)
	return uint32(len(m.Types) - 1)
}

// NumLocals returns the number of declared locals, excluding params.
func (b *FuncBody) NumLocals() uint64 {
	var n uint64
	for _, l := range b.Locals {
		n += uint64(l.Count)
	}
	return n
}

// ExpandLocals flattens the run-length local declarations.
func (b *FuncBody) ExpandLocals() []ValType {
	out := make([]ValType, 0, b.NumLocals())
	for _, l := range b.Locals {
		for i := uint32(0); i < l.Count; i++ {
			out = append(out, l.ValType)
		}
	}
	return out
}

// CompressLocals groups consecutive locals of the same type.
func CompressLocals(types []ValType) []LocalEntry {
	var out []LocalEntry
	for _, t := range types {
		if n := len(out); n > 0 && out[n-1].ValType == t {
			out[n-1].Count++
			continue
		}
		out = append(out, LocalEntry{Count: 1, ValType: t})
	}
	return out
}
