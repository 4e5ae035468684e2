package wasm_test

import (
	"bytes"
	"errors"
	"reflect"
	"testing"

	"github.com/wippyai/wasm-ir/internal/wasmtest"
	"github.com/wippyai/wasm-ir/wasm"
)

func TestEncodeEmptyModule(t *testing.T) {
	data := (&wasm.Module{}).Encode()
	if !bytes.Equal(data, []byte{0x00, 0x61, 0x73, 0x6D, 0x01, 0x00, 0x00, 0x00}) {
		t.Fatalf("empty module = %x", data)
	}
}

func TestParseRejectsHeader(t *testing.T) {
	if _, err := wasm.ParseModule([]byte{1, 2, 3, 4, 1, 0, 0, 0}); !errors.Is(err, wasm.ErrInvalidMagic) {
		t.Errorf("bad magic: %v", err)
	}
	if _, err := wasm.ParseModule([]byte{0x00, 0x61, 0x73, 0x6D, 2, 0, 0, 0}); !errors.Is(err, wasm.ErrInvalidVersion) {
		t.Errorf("bad version: %v", err)
	}
}

func TestModuleRoundTrip(t *testing.T) {
	max := uint64(4)
	start := uint32(0)
	m := wasmtest.Module([]wasmtest.Func{
		{Export: "f", Params: []wasm.ValType{wasm.ValI32}, Results: []wasm.ValType{wasm.ValI32},
			Locals: []wasm.ValType{wasm.ValI64, wasm.ValI64, wasm.ValF32},
			Body:   wasmtest.Is(wasmtest.LocalGet(0))},
		{Body: wasmtest.Is(wasmtest.Op(wasm.OpNop))},
	})
	m.Imports = []wasm.Import{
		{Module: "env", Name: "mem", Desc: wasm.ImportDesc{Kind: wasm.KindMemory, Memory: &wasm.MemoryType{Limits: wasm.Limits{Min: 1, Max: &max}}}},
		{Module: "env", Name: "g", Desc: wasm.ImportDesc{Kind: wasm.KindGlobal, Global: &wasm.GlobalType{ValType: wasm.ValI32}}},
	}
	m.Tables = []wasm.TableType{{ElemType: wasm.ValFuncRef, Limits: wasm.Limits{Min: 2}}}
	m.Globals = []wasm.Global{{Type: wasm.GlobalType{ValType: wasm.ValI64, Mutable: true}, Init: []byte{wasm.OpI64Const, 0x7F, wasm.OpEnd}}}
	m.Elements = []wasm.Element{{Offset: []byte{wasm.OpI32Const, 0, wasm.OpEnd}, FuncIdxs: []uint32{0, 1}}}
	m.Data = []wasm.DataSegment{{Offset: []byte{wasm.OpI32Const, 8, wasm.OpEnd}, Init: []byte("hi")}, {Flags: 1, Init: []byte{9}}}
	dc := uint32(2)
	m.DataCount = &dc
	m.Start = &start
	m.CustomSections = []wasm.CustomSection{{Name: "note", Data: []byte{1, 2}}}

	data := m.Encode()
	parsed, err := wasm.ParseModule(data)
	if err != nil {
		t.Fatalf("ParseModule: %v", err)
	}
	if !reflect.DeepEqual(parsed, m) {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", parsed, m)
	}
	if !bytes.Equal(parsed.Encode(), data) {
		t.Error("re-encoding is not stable")
	}
	if got := parsed.Code[0].NumLocals(); got != 3 {
		t.Errorf("locals = %d", got)
	}
}

func TestInstructionRoundTrip(t *testing.T) {
	instrs := []wasm.Instruction{
		wasmtest.Block(wasm.BlockTypeI32),
		wasmtest.I32(-1),
		wasmtest.I64(1 << 40),
		wasmtest.F32(1.5),
		wasmtest.F64(-2.25),
		{Opcode: wasm.OpI32Load, Imm: wasm.MemoryImm{Offset: 16, Align: 2}},
		{Opcode: wasm.OpI64Store, Imm: wasm.MemoryImm{Offset: 1 << 33, Align: 3, MemIdx: 1}},
		wasmtest.BrTable(2, 0, 1),
		{Opcode: wasm.OpCallIndirect, Imm: wasm.CallIndirectImm{TypeIdx: 3, TableIdx: 1}},
		{Opcode: wasm.OpPrefixMisc, Imm: wasm.MiscImm{SubOpcode: wasm.MiscMemoryCopy, Operands: []uint32{0, 0}}},
		{Opcode: wasm.OpRefNull, Imm: wasm.RefNullImm{HeapType: -17}},
		{Opcode: wasm.OpSelectType, Imm: wasm.SelectTypeImm{Types: []wasm.ValType{wasm.ValF64}}},
		wasmtest.End(),
	}
	code := wasm.EncodeInstructions(instrs)
	got, err := wasm.DecodeInstructions(code)
	if err != nil {
		t.Fatalf("DecodeInstructions: %v", err)
	}
	if !reflect.DeepEqual(got, instrs) {
		t.Errorf("got %+v\nwant %+v", got, instrs)
	}
}

func TestDecodeUnsupported(t *testing.T) {
	tests := []struct {
		name string
		code []byte
	}{
		{"simd", []byte{wasm.OpPrefixSIMD, 0x0C}},
		{"atomic", []byte{wasm.OpPrefixAtomic, 0x00}},
		{"try", []byte{0x06, 0x40}},
		{"misc_unknown", []byte{wasm.OpPrefixMisc, 0x7F}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := wasm.DecodeInstructions(tt.code)
			if !errors.Is(err, wasm.ErrUnsupportedOpcode) {
				t.Errorf("err = %v, want ErrUnsupportedOpcode", err)
			}
		})
	}
}

func TestDecodeTruncated(t *testing.T) {
	if _, err := wasm.DecodeInstructions([]byte{wasm.OpI32Const, 0x80}); err == nil {
		t.Error("expected error for truncated immediate")
	}
}

func TestBlockTypeOf(t *testing.T) {
	m := &wasm.Module{Types: []wasm.FuncType{{Params: []wasm.ValType{wasm.ValI32}, Results: []wasm.ValType{wasm.ValI64, wasm.ValF32}}}}
	if p, r, ok := m.BlockTypeOf(wasm.BlockTypeVoid); !ok || p != nil || r != nil {
		t.Error("void block type")
	}
	if _, r, ok := m.BlockTypeOf(wasm.BlockTypeF64); !ok || len(r) != 1 || r[0] != wasm.ValF64 {
		t.Error("f64 block type")
	}
	if p, r, ok := m.BlockTypeOf(0); !ok || len(p) != 1 || len(r) != 2 {
		t.Error("indexed block type")
	}
	if _, _, ok := m.BlockTypeOf(5); ok {
		t.Error("out of range block type accepted")
	}
}

func TestCompressLocals(t *testing.T) {
	got := wasm.CompressLocals([]wasm.ValType{wasm.ValI32, wasm.ValI32, wasm.ValF64, wasm.ValI32})
	want := []wasm.LocalEntry{{Count: 2, ValType: wasm.ValI32}, {Count: 1, ValType: wasm.ValF64}, {Count: 1, ValType: wasm.ValI32}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	body := wasm.FuncBody{Locals: got}
	if exp := body.ExpandLocals(); len(exp) != 4 || exp[2] != wasm.ValF64 {
		t.Errorf("expand = %v", exp)
	}
}

func TestParseCountMismatch(t *testing.T) {
	m := wasmtest.Module([]wasmtest.Func{{}})
	m.Code = nil
	if _, err := wasm.ParseModule(m.Encode()); err == nil {
		t.Error("function/code count mismatch accepted")
	}
}
