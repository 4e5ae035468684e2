package backend

import (
	"math"

	"github.com/wippyai/wasm-ir/wasm"
)

// Emitter accumulates an instruction stream. Methods return the emitter
// for chaining.
type Emitter struct {
	instrs []wasm.Instruction
}

// NewEmitter creates an empty emitter.
func NewEmitter() *Emitter {
	return &Emitter{}
}

// Len returns the number of instructions emitted.
func (e *Emitter) Len() int { return len(e.instrs) }

// Instructions returns the emitted instructions.
func (e *Emitter) Instructions() []wasm.Instruction { return e.instrs }

// Bytes encodes the emitted instructions.
func (e *Emitter) Bytes() []byte { return wasm.EncodeInstructions(e.instrs) }

// Reset discards everything emitted.
func (e *Emitter) Reset() { e.instrs = e.instrs[:0] }

// Last returns the most recent instruction.
func (e *Emitter) Last() (wasm.Instruction, bool) {
	if len(e.instrs) == 0 {
		return wasm.Instruction{}, false
	}
	return e.instrs[len(e.instrs)-1], true
}

// Emit appends one instruction.
func (e *Emitter) Emit(in wasm.Instruction) *Emitter {
	e.instrs = append(e.instrs, in)
	return e
}

func (e *Emitter) op(op byte) *Emitter {
	return e.Emit(wasm.Instruction{Opcode: op})
}

// Control flow

func (e *Emitter) Block(bt int32) *Emitter {
	return e.Emit(wasm.Instruction{Opcode: wasm.OpBlock, Imm: wasm.BlockImm{Type: bt}})
}

func (e *Emitter) Loop(bt int32) *Emitter {
	return e.Emit(wasm.Instruction{Opcode: wasm.OpLoop, Imm: wasm.BlockImm{Type: bt}})
}

func (e *Emitter) If(bt int32) *Emitter {
	return e.Emit(wasm.Instruction{Opcode: wasm.OpIf, Imm: wasm.BlockImm{Type: bt}})
}

func (e *Emitter) Else() *Emitter        { return e.op(wasm.OpElse) }
func (e *Emitter) End() *Emitter         { return e.op(wasm.OpEnd) }
func (e *Emitter) Nop() *Emitter         { return e.op(wasm.OpNop) }
func (e *Emitter) Unreachable() *Emitter { return e.op(wasm.OpUnreachable) }
func (e *Emitter) Return() *Emitter      { return e.op(wasm.OpReturn) }
func (e *Emitter) Drop() *Emitter        { return e.op(wasm.OpDrop) }

func (e *Emitter) Br(depth uint32) *Emitter {
	return e.Emit(wasm.Instruction{Opcode: wasm.OpBr, Imm: wasm.BranchImm{LabelIdx: depth}})
}

func (e *Emitter) BrTable(labels []uint32, def uint32) *Emitter {
	return e.Emit(wasm.Instruction{Opcode: wasm.OpBrTable, Imm: wasm.BrTableImm{Labels: labels, Default: def}})
}

// Variables

func (e *Emitter) LocalGet(idx uint32) *Emitter {
	return e.Emit(wasm.Instruction{Opcode: wasm.OpLocalGet, Imm: wasm.LocalImm{LocalIdx: idx}})
}

func (e *Emitter) LocalSet(idx uint32) *Emitter {
	return e.Emit(wasm.Instruction{Opcode: wasm.OpLocalSet, Imm: wasm.LocalImm{LocalIdx: idx}})
}

func (e *Emitter) LocalTee(idx uint32) *Emitter {
	return e.Emit(wasm.Instruction{Opcode: wasm.OpLocalTee, Imm: wasm.LocalImm{LocalIdx: idx}})
}

// Constants

func (e *Emitter) I32Const(v int32) *Emitter {
	return e.Emit(wasm.Instruction{Opcode: wasm.OpI32Const, Imm: wasm.I32Imm{Value: v}})
}

func (e *Emitter) I64Const(v int64) *Emitter {
	return e.Emit(wasm.Instruction{Opcode: wasm.OpI64Const, Imm: wasm.I64Imm{Value: v}})
}

func (e *Emitter) F32Const(v float32) *Emitter {
	return e.Emit(wasm.Instruction{Opcode: wasm.OpF32Const, Imm: wasm.F32Imm{Bits: math.Float32bits(v)}})
}

func (e *Emitter) F64Const(v float64) *Emitter {
	return e.Emit(wasm.Instruction{Opcode: wasm.OpF64Const, Imm: wasm.F64Imm{Bits: math.Float64bits(v)}})
}
