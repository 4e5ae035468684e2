package backend

import (
	"testing"

	"github.com/wippyai/wasm-ir/wasm"
)

func TestEmitter_NewAndReset(t *testing.T) {
	e := NewEmitter()
	if e.Len() != 0 {
		t.Errorf("new emitter should be empty, got len %d", e.Len())
	}
	if _, ok := e.Last(); ok {
		t.Error("Last on empty emitter should report false")
	}

	e.I32Const(42).I32Const(100)
	if e.Len() != 2 {
		t.Fatalf("len = %d, want 2", e.Len())
	}
	if last, _ := e.Last(); last.Imm.(wasm.I32Imm).Value != 100 {
		t.Errorf("last = %v, want i32.const 100", last)
	}

	e.Reset()
	if e.Len() != 0 {
		t.Errorf("emitter should be empty after reset, got len %d", e.Len())
	}
}

func TestEmitter_ControlFlow(t *testing.T) {
	tests := []struct {
		emit func(e *Emitter)
		want []byte
		name string
	}{
		{
			name: "block void",
			emit: func(e *Emitter) { e.Block(wasm.BlockTypeVoid).End() },
			want: []byte{wasm.OpBlock, wasm.OpEnd},
		},
		{
			name: "loop",
			emit: func(e *Emitter) { e.Loop(wasm.BlockTypeVoid).Br(0).End() },
			want: []byte{wasm.OpLoop, wasm.OpBr, wasm.OpEnd},
		},
		{
			name: "if else",
			emit: func(e *Emitter) {
				e.I32Const(1).If(wasm.BlockTypeVoid).Nop().Else().Unreachable().End()
			},
			want: []byte{wasm.OpI32Const, wasm.OpIf, wasm.OpNop, wasm.OpElse, wasm.OpUnreachable, wasm.OpEnd},
		},
		{
			name: "br_table",
			emit: func(e *Emitter) {
				e.Block(wasm.BlockTypeVoid).Block(wasm.BlockTypeVoid).I32Const(0).BrTable([]uint32{0}, 1).End().End()
			},
			want: []byte{wasm.OpBlock, wasm.OpBlock, wasm.OpI32Const, wasm.OpBrTable, wasm.OpEnd, wasm.OpEnd},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEmitter()
			tt.emit(e)
			instrs, err := wasm.DecodeInstructions(e.Bytes())
			if err != nil {
				t.Fatalf("decode error: %v", err)
			}
			if len(instrs) != len(tt.want) {
				t.Fatalf("got %d instrs, want %d", len(instrs), len(tt.want))
			}
			for i, op := range tt.want {
				if instrs[i].Opcode != op {
					t.Errorf("instr[%d] = %#x, want %#x", i, instrs[i].Opcode, op)
				}
			}
		})
	}
}

func TestEmitter_Variables(t *testing.T) {
	e := NewEmitter()
	e.LocalGet(0).LocalSet(1).LocalTee(2).Drop()

	instrs, err := wasm.DecodeInstructions(e.Bytes())
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	expected := []byte{wasm.OpLocalGet, wasm.OpLocalSet, wasm.OpLocalTee, wasm.OpDrop}
	for i, op := range expected {
		if instrs[i].Opcode != op {
			t.Errorf("instr[%d] = %#x, want %#x", i, instrs[i].Opcode, op)
		}
	}
	if idx := instrs[2].Imm.(wasm.LocalImm).LocalIdx; idx != 2 {
		t.Errorf("local.tee index = %d, want 2", idx)
	}
}

func TestEmitter_Constants(t *testing.T) {
	e := NewEmitter()
	e.I32Const(42).I64Const(100).F32Const(3.14).F64Const(2.718)

	instrs, err := wasm.DecodeInstructions(e.Bytes())
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if len(instrs) != 4 {
		t.Fatalf("expected 4 instrs, got %d", len(instrs))
	}
	if instrs[0].Imm.(wasm.I32Imm).Value != 42 {
		t.Errorf("i32 value = %d, want 42", instrs[0].Imm.(wasm.I32Imm).Value)
	}
	if instrs[1].Imm.(wasm.I64Imm).Value != 100 {
		t.Errorf("i64 value = %d, want 100", instrs[1].Imm.(wasm.I64Imm).Value)
	}
}

func TestFold(t *testing.T) {
	get := func(i uint32) wasm.Instruction {
		return wasm.Instruction{Opcode: wasm.OpLocalGet, Imm: wasm.LocalImm{LocalIdx: i}}
	}
	set := func(i uint32) wasm.Instruction {
		return wasm.Instruction{Opcode: wasm.OpLocalSet, Imm: wasm.LocalImm{LocalIdx: i}}
	}
	op := func(b byte) wasm.Instruction { return wasm.Instruction{Opcode: b} }
	i32, i64 := wasm.ValI32, wasm.ValI64

	tests := []struct {
		name       string
		code       []wasm.Instruction
		types      []wasm.ValType
		want       []byte
		wantLocals []wasm.ValType
	}{
		{
			name:  "single use temporary",
			code:  []wasm.Instruction{get(0), op(wasm.OpI32Eqz), set(1), get(1), op(wasm.OpReturn)},
			types: []wasm.ValType{i32},
			want:  []byte{wasm.OpLocalGet, wasm.OpI32Eqz, wasm.OpReturn},
		},
		{
			name:       "reused value becomes tee",
			code:       []wasm.Instruction{get(0), set(1), get(1), get(1), op(wasm.OpI32Add)},
			types:      []wasm.ValType{i32},
			want:       []byte{wasm.OpLocalGet, wasm.OpLocalTee, wasm.OpLocalGet, wasm.OpI32Add},
			wantLocals: []wasm.ValType{i32},
		},
		{
			name:  "never read becomes drop",
			code:  []wasm.Instruction{get(0), set(1), op(wasm.OpNop)},
			types: []wasm.ValType{i32},
			want:  []byte{wasm.OpLocalGet, wasm.OpDrop, wasm.OpNop},
		},
		{
			name:  "params stay",
			code:  []wasm.Instruction{get(0), set(0), get(0)},
			types: nil,
			want:  []byte{wasm.OpLocalGet, wasm.OpLocalSet, wasm.OpLocalGet},
		},
		{
			name:       "renumbered",
			code:       []wasm.Instruction{get(0), set(1), op(wasm.OpNop), get(0), set(2), op(wasm.OpNop), get(2), get(2)},
			types:      []wasm.ValType{i32, i64},
			want:       []byte{wasm.OpLocalGet, wasm.OpDrop, wasm.OpNop, wasm.OpLocalGet, wasm.OpLocalSet, wasm.OpNop, wasm.OpLocalGet, wasm.OpLocalGet},
			wantLocals: []wasm.ValType{i64},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, locals := fold(tt.code, 1, tt.types)
			if len(code) != len(tt.want) {
				t.Fatalf("got %d instrs %v, want %d", len(code), code, len(tt.want))
			}
			for i, op := range tt.want {
				if code[i].Opcode != op {
					t.Errorf("instr[%d] = %#x, want %#x", i, code[i].Opcode, op)
				}
			}
			if len(locals) != len(tt.wantLocals) {
				t.Fatalf("locals = %v, want %v", locals, tt.wantLocals)
			}
			for i := range locals {
				if locals[i] != tt.wantLocals[i] {
					t.Errorf("local %d = %v, want %v", i, locals[i], tt.wantLocals[i])
				}
			}
			for _, in := range code {
				if idx, ok := localIdx(in); ok && idx >= 1+uint32(len(locals)) {
					t.Errorf("local index %d out of range", idx)
				}
			}
		})
	}
}
