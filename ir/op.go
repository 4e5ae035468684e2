package ir

import (
	"fmt"
	"strings"

	"github.com/wippyai/wasm-ir/wasm"
)

// Op is an IR operator. Single-byte wasm opcodes map to themselves;
// 0xFC-prefixed operators are encoded as 0xFC00 | sub-opcode.
type Op uint16

const miscBase Op = Op(wasm.OpPrefixMisc) << 8

// MiscOp returns the operator for a 0xFC sub-opcode.
func MiscOp(sub uint32) Op { return miscBase | Op(sub) }

// Operators the builder, verifier and backend treat specially.
const (
	OpUnreachable        = Op(wasm.OpUnreachable)
	OpBr                 = Op(wasm.OpBr)
	OpBrIf               = Op(wasm.OpBrIf)
	OpBrTable            = Op(wasm.OpBrTable)
	OpReturn             = Op(wasm.OpReturn)
	OpCall               = Op(wasm.OpCall)
	OpCallIndirect       = Op(wasm.OpCallIndirect)
	OpReturnCall         = Op(wasm.OpReturnCall)
	OpReturnCallIndirect = Op(wasm.OpReturnCallIndirect)
	OpSelect             = Op(wasm.OpSelect)
	OpGlobalGet          = Op(wasm.OpGlobalGet)
	OpGlobalSet          = Op(wasm.OpGlobalSet)
	OpTableGet           = Op(wasm.OpTableGet)
	OpTableSet           = Op(wasm.OpTableSet)
	OpI32Const           = Op(wasm.OpI32Const)
	OpI64Const           = Op(wasm.OpI64Const)
	OpF32Const           = Op(wasm.OpF32Const)
	OpF64Const           = Op(wasm.OpF64Const)
	OpRefNull            = Op(wasm.OpRefNull)
	OpRefIsNull          = Op(wasm.OpRefIsNull)
	OpRefFunc            = Op(wasm.OpRefFunc)
	OpTableGrow          = miscBase | Op(wasm.MiscTableGrow)
	OpTableFill          = miscBase | Op(wasm.MiscTableFill)
)

// IsMisc reports whether op is 0xFC-prefixed.
func (op Op) IsMisc() bool { return op&0xFF00 == miscBase }

// Encoding returns the wasm opcode byte and, for 0xFC operators, the
// sub-opcode.
func (op Op) Encoding() (opcode byte, sub uint32, misc bool) {
	if op.IsMisc() {
		return wasm.OpPrefixMisc, uint32(op & 0xFF), true
	}
	return byte(op), 0, false
}

// Flags describe operator behaviour.
type Flags uint8

const (
	// FlagTerminator marks block-ending operators.
	FlagTerminator Flags = 1 << iota
	// FlagBranch marks terminators with block targets.
	FlagBranch
	// FlagEffect marks operators that write state outside their results.
	FlagEffect
	// FlagTrap marks operators that may trap.
	FlagTrap
	// FlagDynamic marks operators whose signature depends on module context
	// or the immediate; Args and Results in OpInfo are then nil.
	FlagDynamic
)

// OpInfo is the static metadata of an operator.
type OpInfo struct {
	Name    string
	Args    []Type
	Results []Type
	Flags   Flags
}

// Has reports whether all of fl are set.
func (i *OpInfo) Has(fl Flags) bool { return i.Flags&fl == fl }

// Pure reports whether an unused result makes the operator removable.
func (i *OpInfo) Pure() bool { return i.Flags&(FlagTerminator|FlagEffect|FlagTrap) == 0 }

var (
	plainInfo [256]OpInfo
	miscInfo  [wasm.MiscTableFill + 1]OpInfo
)

// Info returns the metadata for op, or nil for operators outside the set.
// The table is populated at init and read-only afterwards.
func (op Op) Info() *OpInfo {
	var info *OpInfo
	if op.IsMisc() {
		sub := int(op & 0xFF)
		if sub >= len(miscInfo) {
			return nil
		}
		info = &miscInfo[sub]
	} else if op < 256 {
		info = &plainInfo[op]
	}
	if info == nil || info.Name == "" {
		return nil
	}
	return info
}

func (op Op) String() string {
	if info := op.Info(); info != nil {
		return info.Name
	}
	return fmt.Sprintf("op(0x%x)", uint16(op))
}

const (
	term   = FlagTerminator
	branch = FlagTerminator | FlagBranch
	effect = FlagEffect
	trap   = FlagTrap
	dyn    = FlagDynamic
)

// opTable lists every operator with its signature as "args>results" using
// i=i32, l=i64, f=f32, d=f64. Dynamic entries leave the signature empty.
var opTable = []struct {
	name  string
	sig   string
	op    Op
	flags Flags
}{
	// Control
	{"unreachable", ">", OpUnreachable, term | trap},
	{"br", ">", OpBr, branch},
	{"br_if", "i>", OpBrIf, branch},
	{"br_table", "i>", OpBrTable, branch},
	{"return", "", OpReturn, term | dyn},
	{"call", "", OpCall, effect | trap | dyn},
	{"call_indirect", "", OpCallIndirect, effect | trap | dyn},
	{"return_call", "", OpReturnCall, term | effect | trap | dyn},
	{"return_call_indirect", "", OpReturnCallIndirect, term | effect | trap | dyn},

	// Parametric and variables
	{"select", "", OpSelect, dyn},
	{"global.get", "", OpGlobalGet, dyn},
	{"global.set", "", OpGlobalSet, effect | dyn},
	{"table.get", "", OpTableGet, trap | dyn},
	{"table.set", "", OpTableSet, effect | trap | dyn},

	// Memory
	{"i32.load", "i>i", Op(wasm.OpI32Load), trap},
	{"i64.load", "i>l", Op(wasm.OpI64Load), trap},
	{"f32.load", "i>f", Op(wasm.OpF32Load), trap},
	{"f64.load", "i>d", Op(wasm.OpF64Load), trap},
	{"i32.load8_s", "i>i", Op(wasm.OpI32Load8S), trap},
	{"i32.load8_u", "i>i", Op(wasm.OpI32Load8U), trap},
	{"i32.load16_s", "i>i", Op(wasm.OpI32Load16S), trap},
	{"i32.load16_u", "i>i", Op(wasm.OpI32Load16U), trap},
	{"i64.load8_s", "i>l", Op(wasm.OpI64Load8S), trap},
	{"i64.load8_u", "i>l", Op(wasm.OpI64Load8U), trap},
	{"i64.load16_s", "i>l", Op(wasm.OpI64Load16S), trap},
	{"i64.load16_u", "i>l", Op(wasm.OpI64Load16U), trap},
	{"i64.load32_s", "i>l", Op(wasm.OpI64Load32S), trap},
	{"i64.load32_u", "i>l", Op(wasm.OpI64Load32U), trap},
	{"i32.store", "ii>", Op(wasm.OpI32Store), effect | trap},
	{"i64.store", "il>", Op(wasm.OpI64Store), effect | trap},
	{"f32.store", "if>", Op(wasm.OpF32Store), effect | trap},
	{"f64.store", "id>", Op(wasm.OpF64Store), effect | trap},
	{"i32.store8", "ii>", Op(wasm.OpI32Store8), effect | trap},
	{"i32.store16", "ii>", Op(wasm.OpI32Store16), effect | trap},
	{"i64.store8", "il>", Op(wasm.OpI64Store8), effect | trap},
	{"i64.store16", "il>", Op(wasm.OpI64Store16), effect | trap},
	{"i64.store32", "il>", Op(wasm.OpI64Store32), effect | trap},
	{"memory.size", ">i", Op(wasm.OpMemorySize), 0},
	{"memory.grow", "i>i", Op(wasm.OpMemoryGrow), effect},

	// Constants
	{"i32.const", ">i", OpI32Const, 0},
	{"i64.const", ">l", OpI64Const, 0},
	{"f32.const", ">f", OpF32Const, 0},
	{"f64.const", ">d", OpF64Const, 0},

	// Comparison
	{"i32.eqz", "i>i", Op(wasm.OpI32Eqz), 0},
	{"i32.eq", "ii>i", Op(wasm.OpI32Eq), 0},
	{"i32.ne", "ii>i", Op(wasm.OpI32Ne), 0},
	{"i32.lt_s", "ii>i", Op(wasm.OpI32LtS), 0},
	{"i32.lt_u", "ii>i", Op(wasm.OpI32LtU), 0},
	{"i32.gt_s", "ii>i", Op(wasm.OpI32GtS), 0},
	{"i32.gt_u", "ii>i", Op(wasm.OpI32GtU), 0},
	{"i32.le_s", "ii>i", Op(wasm.OpI32LeS), 0},
	{"i32.le_u", "ii>i", Op(wasm.OpI32LeU), 0},
	{"i32.ge_s", "ii>i", Op(wasm.OpI32GeS), 0},
	{"i32.ge_u", "ii>i", Op(wasm.OpI32GeU), 0},
	{"i64.eqz", "l>i", Op(wasm.OpI64Eqz), 0},
	{"i64.eq", "ll>i", Op(wasm.OpI64Eq), 0},
	{"i64.ne", "ll>i", Op(wasm.OpI64Ne), 0},
	{"i64.lt_s", "ll>i", Op(wasm.OpI64LtS), 0},
	{"i64.lt_u", "ll>i", Op(wasm.OpI64LtU), 0},
	{"i64.gt_s", "ll>i", Op(wasm.OpI64GtS), 0},
	{"i64.gt_u", "ll>i", Op(wasm.OpI64GtU), 0},
	{"i64.le_s", "ll>i", Op(wasm.OpI64LeS), 0},
	{"i64.le_u", "ll>i", Op(wasm.OpI64LeU), 0},
	{"i64.ge_s", "ll>i", Op(wasm.OpI64GeS), 0},
	{"i64.ge_u", "ll>i", Op(wasm.OpI64GeU), 0},
	{"f32.eq", "ff>i", Op(wasm.OpF32Eq), 0},
	{"f32.ne", "ff>i", Op(wasm.OpF32Ne), 0},
	{"f32.lt", "ff>i", Op(wasm.OpF32Lt), 0},
	{"f32.gt", "ff>i", Op(wasm.OpF32Gt), 0},
	{"f32.le", "ff>i", Op(wasm.OpF32Le), 0},
	{"f32.ge", "ff>i", Op(wasm.OpF32Ge), 0},
	{"f64.eq", "dd>i", Op(wasm.OpF64Eq), 0},
	{"f64.ne", "dd>i", Op(wasm.OpF64Ne), 0},
	{"f64.lt", "dd>i", Op(wasm.OpF64Lt), 0},
	{"f64.gt", "dd>i", Op(wasm.OpF64Gt), 0},
	{"f64.le", "dd>i", Op(wasm.OpF64Le), 0},
	{"f64.ge", "dd>i", Op(wasm.OpF64Ge), 0},

	// i32 arithmetic
	{"i32.clz", "i>i", Op(wasm.OpI32Clz), 0},
	{"i32.ctz", "i>i", Op(wasm.OpI32Ctz), 0},
	{"i32.popcnt", "i>i", Op(wasm.OpI32Popcnt), 0},
	{"i32.add", "ii>i", Op(wasm.OpI32Add), 0},
	{"i32.sub", "ii>i", Op(wasm.OpI32Sub), 0},
	{"i32.mul", "ii>i", Op(wasm.OpI32Mul), 0},
	{"i32.div_s", "ii>i", Op(wasm.OpI32DivS), trap},
	{"i32.div_u", "ii>i", Op(wasm.OpI32DivU), trap},
	{"i32.rem_s", "ii>i", Op(wasm.OpI32RemS), trap},
	{"i32.rem_u", "ii>i", Op(wasm.OpI32RemU), trap},
	{"i32.and", "ii>i", Op(wasm.OpI32And), 0},
	{"i32.or", "ii>i", Op(wasm.OpI32Or), 0},
	{"i32.xor", "ii>i", Op(wasm.OpI32Xor), 0},
	{"i32.shl", "ii>i", Op(wasm.OpI32Shl), 0},
	{"i32.shr_s", "ii>i", Op(wasm.OpI32ShrS), 0},
	{"i32.shr_u", "ii>i", Op(wasm.OpI32ShrU), 0},
	{"i32.rotl", "ii>i", Op(wasm.OpI32Rotl), 0},
	{"i32.rotr", "ii>i", Op(wasm.OpI32Rotr), 0},

	// i64 arithmetic
	{"i64.clz", "l>l", Op(wasm.OpI64Clz), 0},
	{"i64.ctz", "l>l", Op(wasm.OpI64Ctz), 0},
	{"i64.popcnt", "l>l", Op(wasm.OpI64Popcnt), 0},
	{"i64.add", "ll>l", Op(wasm.OpI64Add), 0},
	{"i64.sub", "ll>l", Op(wasm.OpI64Sub), 0},
	{"i64.mul", "ll>l", Op(wasm.OpI64Mul), 0},
	{"i64.div_s", "ll>l", Op(wasm.OpI64DivS), trap},
	{"i64.div_u", "ll>l", Op(wasm.OpI64DivU), trap},
	{"i64.rem_s", "ll>l", Op(wasm.OpI64RemS), trap},
	{"i64.rem_u", "ll>l", Op(wasm.OpI64RemU), trap},
	{"i64.and", "ll>l", Op(wasm.OpI64And), 0},
	{"i64.or", "ll>l", Op(wasm.OpI64Or), 0},
	{"i64.xor", "ll>l", Op(wasm.OpI64Xor), 0},
	{"i64.shl", "ll>l", Op(wasm.OpI64Shl), 0},
	{"i64.shr_s", "ll>l", Op(wasm.OpI64ShrS), 0},
	{"i64.shr_u", "ll>l", Op(wasm.OpI64ShrU), 0},
	{"i64.rotl", "ll>l", Op(wasm.OpI64Rotl), 0},
	{"i64.rotr", "ll>l", Op(wasm.OpI64Rotr), 0},

	// f32 arithmetic
	{"f32.abs", "f>f", Op(wasm.OpF32Abs), 0},
	{"f32.neg", "f>f", Op(wasm.OpF32Neg), 0},
	{"f32.ceil", "f>f", Op(wasm.OpF32Ceil), 0},
	{"f32.floor", "f>f", Op(wasm.OpF32Floor), 0},
	{"f32.trunc", "f>f", Op(wasm.OpF32Trunc), 0},
	{"f32.nearest", "f>f", Op(wasm.OpF32Nearest), 0},
	{"f32.sqrt", "f>f", Op(wasm.OpF32Sqrt), 0},
	{"f32.add", "ff>f", Op(wasm.OpF32Add), 0},
	{"f32.sub", "ff>f", Op(wasm.OpF32Sub), 0},
	{"f32.mul", "ff>f", Op(wasm.OpF32Mul), 0},
	{"f32.div", "ff>f", Op(wasm.OpF32Div), 0},
	{"f32.min", "ff>f", Op(wasm.OpF32Min), 0},
	{"f32.max", "ff>f", Op(wasm.OpF32Max), 0},
	{"f32.copysign", "ff>f", Op(wasm.OpF32Copysign), 0},

	// f64 arithmetic
	{"f64.abs", "d>d", Op(wasm.OpF64Abs), 0},
	{"f64.neg", "d>d", Op(wasm.OpF64Neg), 0},
	{"f64.ceil", "d>d", Op(wasm.OpF64Ceil), 0},
	{"f64.floor", "d>d", Op(wasm.OpF64Floor), 0},
	{"f64.trunc", "d>d", Op(wasm.OpF64Trunc), 0},
	{"f64.nearest", "d>d", Op(wasm.OpF64Nearest), 0},
	{"f64.sqrt", "d>d", Op(wasm.OpF64Sqrt), 0},
	{"f64.add", "dd>d", Op(wasm.OpF64Add), 0},
	{"f64.sub", "dd>d", Op(wasm.OpF64Sub), 0},
	{"f64.mul", "dd>d", Op(wasm.OpF64Mul), 0},
	{"f64.div", "dd>d", Op(wasm.OpF64Div), 0},
	{"f64.min", "dd>d", Op(wasm.OpF64Min), 0},
	{"f64.max", "dd>d", Op(wasm.OpF64Max), 0},
	{"f64.copysign", "dd>d", Op(wasm.OpF64Copysign), 0},

	// Conversions
	{"i32.wrap_i64", "l>i", Op(wasm.OpI32WrapI64), 0},
	{"i32.trunc_f32_s", "f>i", Op(wasm.OpI32TruncF32S), trap},
	{"i32.trunc_f32_u", "f>i", Op(wasm.OpI32TruncF32U), trap},
	{"i32.trunc_f64_s", "d>i", Op(wasm.OpI32TruncF64S), trap},
	{"i32.trunc_f64_u", "d>i", Op(wasm.OpI32TruncF64U), trap},
	{"i64.extend_i32_s", "i>l", Op(wasm.OpI64ExtendI32S), 0},
	{"i64.extend_i32_u", "i>l", Op(wasm.OpI64ExtendI32U), 0},
	{"i64.trunc_f32_s", "f>l", Op(wasm.OpI64TruncF32S), trap},
	{"i64.trunc_f32_u", "f>l", Op(wasm.OpI64TruncF32U), trap},
	{"i64.trunc_f64_s", "d>l", Op(wasm.OpI64TruncF64S), trap},
	{"i64.trunc_f64_u", "d>l", Op(wasm.OpI64TruncF64U), trap},
	{"f32.convert_i32_s", "i>f", Op(wasm.OpF32ConvertI32S), 0},
	{"f32.convert_i32_u", "i>f", Op(wasm.OpF32ConvertI32U), 0},
	{"f32.convert_i64_s", "l>f", Op(wasm.OpF32ConvertI64S), 0},
	{"f32.convert_i64_u", "l>f", Op(wasm.OpF32ConvertI64U), 0},
	{"f32.demote_f64", "d>f", Op(wasm.OpF32DemoteF64), 0},
	{"f64.convert_i32_s", "i>d", Op(wasm.OpF64ConvertI32S), 0},
	{"f64.convert_i32_u", "i>d", Op(wasm.OpF64ConvertI32U), 0},
	{"f64.convert_i64_s", "l>d", Op(wasm.OpF64ConvertI64S), 0},
	{"f64.convert_i64_u", "l>d", Op(wasm.OpF64ConvertI64U), 0},
	{"f64.promote_f32", "f>d", Op(wasm.OpF64PromoteF32), 0},
	{"i32.reinterpret_f32", "f>i", Op(wasm.OpI32ReinterpretF32), 0},
	{"i64.reinterpret_f64", "d>l", Op(wasm.OpI64ReinterpretF64), 0},
	{"f32.reinterpret_i32", "i>f", Op(wasm.OpF32ReinterpretI32), 0},
	{"f64.reinterpret_i64", "l>d", Op(wasm.OpF64ReinterpretI64), 0},
	{"i32.extend8_s", "i>i", Op(wasm.OpI32Extend8S), 0},
	{"i32.extend16_s", "i>i", Op(wasm.OpI32Extend16S), 0},
	{"i64.extend8_s", "l>l", Op(wasm.OpI64Extend8S), 0},
	{"i64.extend16_s", "l>l", Op(wasm.OpI64Extend16S), 0},
	{"i64.extend32_s", "l>l", Op(wasm.OpI64Extend32S), 0},

	// Reference types
	{"ref.null", "", OpRefNull, dyn},
	{"ref.is_null", "", OpRefIsNull, dyn},
	{"ref.func", "", OpRefFunc, dyn},

	// 0xFC prefix
	{"i32.trunc_sat_f32_s", "f>i", MiscOp(wasm.MiscI32TruncSatF32S), 0},
	{"i32.trunc_sat_f32_u", "f>i", MiscOp(wasm.MiscI32TruncSatF32U), 0},
	{"i32.trunc_sat_f64_s", "d>i", MiscOp(wasm.MiscI32TruncSatF64S), 0},
	{"i32.trunc_sat_f64_u", "d>i", MiscOp(wasm.MiscI32TruncSatF64U), 0},
	{"i64.trunc_sat_f32_s", "f>l", MiscOp(wasm.MiscI64TruncSatF32S), 0},
	{"i64.trunc_sat_f32_u", "f>l", MiscOp(wasm.MiscI64TruncSatF32U), 0},
	{"i64.trunc_sat_f64_s", "d>l", MiscOp(wasm.MiscI64TruncSatF64S), 0},
	{"i64.trunc_sat_f64_u", "d>l", MiscOp(wasm.MiscI64TruncSatF64U), 0},
	{"memory.init", "iii>", MiscOp(wasm.MiscMemoryInit), effect | trap},
	{"data.drop", ">", MiscOp(wasm.MiscDataDrop), effect},
	{"memory.copy", "iii>", MiscOp(wasm.MiscMemoryCopy), effect | trap},
	{"memory.fill", "iii>", MiscOp(wasm.MiscMemoryFill), effect | trap},
	{"table.init", "iii>", MiscOp(wasm.MiscTableInit), effect | trap},
	{"elem.drop", ">", MiscOp(wasm.MiscElemDrop), effect},
	{"table.copy", "iii>", MiscOp(wasm.MiscTableCopy), effect | trap},
	{"table.grow", "", OpTableGrow, effect | dyn},
	{"table.size", ">i", MiscOp(wasm.MiscTableSize), 0},
	{"table.fill", "", OpTableFill, effect | trap | dyn},
}

func init() {
	for _, e := range opTable {
		info := OpInfo{Name: e.name, Flags: e.flags}
		if e.sig != "" {
			args, results, _ := strings.Cut(e.sig, ">")
			info.Args = sigTypes(args)
			info.Results = sigTypes(results)
		}
		if e.op.IsMisc() {
			miscInfo[e.op&0xFF] = info
		} else {
			plainInfo[e.op] = info
		}
	}
}

func sigTypes(s string) []Type {
	if s == "" {
		return nil
	}
	out := make([]Type, len(s))
	for i := range s {
		switch s[i] {
		case 'i':
			out[i] = I32
		case 'l':
			out[i] = I64
		case 'f':
			out[i] = F32
		case 'd':
			out[i] = F64
		default:
			panic("ir: bad signature " + s)
		}
	}
	return out
}
