package ir

import (
	"strconv"

	"github.com/wippyai/wasm-ir/wasm"
)

// Type is the type of an SSA value.
type Type uint8

const (
	TypeInvalid Type = iota
	I32
	I64
	F32
	F64
	V128 // recognised so signatures convert; the builder rejects it
	FuncRef
	ExternRef
)

func (t Type) String() string {
	switch t {
	case I32:
		return "i32"
	case I64:
		return "i64"
	case F32:
		return "f32"
	case F64:
		return "f64"
	case V128:
		return "v128"
	case FuncRef:
		return "funcref"
	case ExternRef:
		return "externref"
	}
	return "invalid"
}

// IsRef reports whether t is a reference type.
func (t Type) IsRef() bool { return t == FuncRef || t == ExternRef }

// ValType returns the binary encoding of t.
func (t Type) ValType() wasm.ValType {
	switch t {
	case I32:
		return wasm.ValI32
	case I64:
		return wasm.ValI64
	case F32:
		return wasm.ValF32
	case F64:
		return wasm.ValF64
	case V128:
		return wasm.ValV128
	case FuncRef:
		return wasm.ValFuncRef
	case ExternRef:
		return wasm.ValExtern
	}
	return 0
}

// TypeOf converts a binary value type.
func TypeOf(v wasm.ValType) (Type, bool) {
	switch v {
	case wasm.ValI32:
		return I32, true
	case wasm.ValI64:
		return I64, true
	case wasm.ValF32:
		return F32, true
	case wasm.ValF64:
		return F64, true
	case wasm.ValV128:
		return V128, true
	case wasm.ValFuncRef:
		return FuncRef, true
	case wasm.ValExtern:
		return ExternRef, true
	}
	return TypeInvalid, false
}

// TypesOf converts a list of binary value types.
func TypesOf(vs []wasm.ValType) ([]Type, bool) {
	if len(vs) == 0 {
		return nil, true
	}
	out := make([]Type, len(vs))
	for i, v := range vs {
		t, ok := TypeOf(v)
		if !ok {
			return nil, false
		}
		out[i] = t
	}
	return out, true
}

// ValTypes converts back to binary value types.
func ValTypes(ts []Type) []wasm.ValType {
	if len(ts) == 0 {
		return nil
	}
	out := make([]wasm.ValType, len(ts))
	for i, t := range ts {
		out[i] = t.ValType()
	}
	return out
}

// Signature is a function or block type.
type Signature struct {
	Params  []Type
	Results []Type
}

// SignatureOf converts a binary function type.
func SignatureOf(ft wasm.FuncType) (Signature, bool) {
	params, ok := TypesOf(ft.Params)
	if !ok {
		return Signature{}, false
	}
	results, ok := TypesOf(ft.Results)
	if !ok {
		return Signature{}, false
	}
	return Signature{Params: params, Results: results}, true
}

// FuncType converts back to a binary function type.
func (s Signature) FuncType() wasm.FuncType {
	return wasm.FuncType{Params: ValTypes(s.Params), Results: ValTypes(s.Results)}
}

func (s Signature) String() string {
	return typeList(s.Params) + " -> " + typeList(s.Results)
}

func typeList(ts []Type) string {
	buf := []byte{'('}
	for i, t := range ts {
		if i > 0 {
			buf = append(buf, ", "...)
		}
		buf = append(buf, t.String()...)
	}
	return string(append(buf, ')'))
}

func typesEqual(a, b []Type) bool {
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

const invalidHandle = ^uint32(0)

// Block is a handle to a basic block, scoped to its Function.
type Block uint32

// Value is a handle to an SSA value, scoped to its Function.
type Value uint32

// Inst is a handle to an instruction, scoped to its Function.
type Inst uint32

// Invalid handles.
const (
	NoBlock Block = Block(invalidHandle)
	NoValue Value = Value(invalidHandle)
	NoInst  Inst  = Inst(invalidHandle)
)

func (b Block) String() string {
	if b == NoBlock {
		return "block?"
	}
	return "block" + strconv.FormatUint(uint64(b), 10)
}

func (v Value) String() string {
	if v == NoValue {
		return "v?"
	}
	return "v" + strconv.FormatUint(uint64(v), 10)
}

func (i Inst) String() string {
	if i == NoInst {
		return "inst?"
	}
	return "inst" + strconv.FormatUint(uint64(i), 10)
}

// BlockState tracks how much of a block's predecessor set is known.
type BlockState uint8

const (
	// Open blocks may still gain predecessors.
	Open BlockState = iota
	// Sealed blocks have a known predecessor set. Loop headers are sealed
	// provisionally on entry while their back edges are still unknown.
	Sealed
	// Resealed loop headers have had their back edges resolved.
	Resealed
)

func (s BlockState) String() string {
	switch s {
	case Open:
		return "open"
	case Sealed:
		return "sealed"
	case Resealed:
		return "resealed"
	}
	return "unknown"
}

// ValueKind identifies a value's definition site.
type ValueKind uint8

const (
	// ValueResult is an instruction result.
	ValueResult ValueKind = iota
	// ValueParam is a block parameter.
	ValueParam
	// ValueAlias has been replaced by another value; see ValueData.Alias.
	ValueAlias
)

// Edge identifies one control transfer into a block: successor slot Succ of
// the terminator Inst in block From.
type Edge struct {
	From Block
	Inst Inst
	Succ int
}

// BlockTarget is one successor of a terminator together with the
// arguments passed to the target's params.
type BlockTarget struct {
	Block Block
	Args  []Value
}

// BlockData is the arena record of a block.
type BlockData struct {
	Insts  []Inst
	Params []Value
	Preds  []Edge
	State  BlockState
	Dead   bool
}

// ValueData is the arena record of a value.
type ValueData struct {
	Users []Inst // one entry per use, so an inst may appear more than once
	Inst  Inst   // defining inst for results
	Block Block  // owning block for params
	Alias Value  // replacement for aliases
	Index int    // result or param position
	Type  Type
	Kind  ValueKind
	Dead  bool
}

// InstData is the arena record of an instruction.
type InstData struct {
	Imm     interface{} // immediate in the wasm.*Imm form, or nil
	Args    []Value
	Results []Value
	Targets []BlockTarget
	Block   Block
	Pos     int // source token position, -1 if synthesized
	Op      Op
	Dead    bool
}

// Heap types of ref.null.
const (
	HeapFunc   = -16
	HeapExtern = -17
)

// Zero returns the constant operator and immediate producing the zero
// value of t.
func Zero(t Type) (Op, interface{}) {
	switch t {
	case I32:
		return OpI32Const, wasm.I32Imm{}
	case I64:
		return OpI64Const, wasm.I64Imm{}
	case F32:
		return OpF32Const, wasm.F32Imm{}
	case F64:
		return OpF64Const, wasm.F64Imm{}
	case FuncRef:
		return OpRefNull, wasm.RefNullImm{HeapType: HeapFunc}
	default:
		return OpRefNull, wasm.RefNullImm{HeapType: HeapExtern}
	}
}
