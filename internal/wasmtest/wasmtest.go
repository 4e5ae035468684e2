// Package wasmtest assembles small modules from instruction lists for tests.
package wasmtest

import (
	"math"

	"github.com/wippyai/wasm-ir/wasm"
)

// Func describes one defined function. Body omits the final end.
type Func struct {
	Export  string
	Params  []wasm.ValType
	Results []wasm.ValType
	Locals  []wasm.ValType
	Body    []wasm.Instruction
}

// Module builds a module from funcs. Extra types come first in the type
// section, so multi-value block types can refer to them by index 0, 1, ...
func Module(funcs []Func, types ...wasm.FuncType) *wasm.Module {
	m := &wasm.Module{Types: append([]wasm.FuncType(nil), types...)}
	for i, fn := range funcs {
		m.Funcs = append(m.Funcs, m.AddType(wasm.FuncType{Params: fn.Params, Results: fn.Results}))
		body := append(append([]wasm.Instruction(nil), fn.Body...), End())
		m.Code = append(m.Code, wasm.FuncBody{
			Locals: wasm.CompressLocals(fn.Locals),
			Code:   wasm.EncodeInstructions(body),
		})
		if fn.Export != "" {
			m.Exports = append(m.Exports, wasm.Export{Name: fn.Export, Kind: wasm.KindFunc, Idx: uint32(i)})
		}
	}
	return m
}

// Binary encodes Module(funcs, types...).
func Binary(funcs []Func, types ...wasm.FuncType) []byte {
	return Module(funcs, types...).Encode()
}

func Op(op byte) wasm.Instruction { return wasm.Instruction{Opcode: op} }

func End() wasm.Instruction  { return Op(wasm.OpEnd) }
func Else() wasm.Instruction { return Op(wasm.OpElse) }

func Block(bt int32) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpBlock, Imm: wasm.BlockImm{Type: bt}}
}

func Loop(bt int32) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpLoop, Imm: wasm.BlockImm{Type: bt}}
}

func If(bt int32) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpIf, Imm: wasm.BlockImm{Type: bt}}
}

func Br(l uint32) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpBr, Imm: wasm.BranchImm{LabelIdx: l}}
}

func BrIf(l uint32) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpBrIf, Imm: wasm.BranchImm{LabelIdx: l}}
}

func BrTable(def uint32, labels ...uint32) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpBrTable, Imm: wasm.BrTableImm{Labels: labels, Default: def}}
}

func Call(idx uint32) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpCall, Imm: wasm.CallImm{FuncIdx: idx}}
}

func LocalGet(i uint32) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpLocalGet, Imm: wasm.LocalImm{LocalIdx: i}}
}

func LocalSet(i uint32) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpLocalSet, Imm: wasm.LocalImm{LocalIdx: i}}
}

func LocalTee(i uint32) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpLocalTee, Imm: wasm.LocalImm{LocalIdx: i}}
}

func I32(v int32) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpI32Const, Imm: wasm.I32Imm{Value: v}}
}

func I64(v int64) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpI64Const, Imm: wasm.I64Imm{Value: v}}
}

func F32(v float32) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpF32Const, Imm: wasm.F32Imm{Bits: math.Float32bits(v)}}
}

func F64(v float64) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpF64Const, Imm: wasm.F64Imm{Bits: math.Float64bits(v)}}
}

// Seq concatenates instruction groups.
func Seq(groups ...[]wasm.Instruction) []wasm.Instruction {
	var out []wasm.Instruction
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

// Is is shorthand for an instruction list.
func Is(ins ...wasm.Instruction) []wasm.Instruction { return ins }
