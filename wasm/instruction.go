package wasm

import (
	"encoding/binary"
	"errors"
	"fmt"

	leb "github.com/wippyai/wasm-ir/wasm/internal/binary"
)

// ErrUnsupportedOpcode is returned for opcodes from proposals the decoder
// does not model (SIMD, threads, GC, exceptions).
var ErrUnsupportedOpcode = errors.New("unsupported opcode")

// Instruction represents a decoded WebAssembly instruction
type Instruction struct {
	Imm    interface{}
	Opcode byte
}

// BlockImm holds the block type for block, loop and if.
type BlockImm struct {
	Type int32 // -64=void, -1=i32, -2=i64, -3=f32, -4=f64, -16/-17 ref, >=0 type index
}

// BranchImm holds the label index for br and br_if.
type BranchImm struct {
	LabelIdx uint32
}

// BrTableImm holds the label table for br_table.
type BrTableImm struct {
	Labels  []uint32
	Default uint32
}

// CallImm holds the function index for call and return_call.
type CallImm struct {
	FuncIdx uint32
}

// CallIndirectImm holds type and table indices for call_indirect.
type CallIndirectImm struct {
	TypeIdx  uint32
	TableIdx uint32
}

// LocalImm holds the local index for local.get, local.set, local.tee.
type LocalImm struct {
	LocalIdx uint32
}

// GlobalImm holds the global index for global.get and global.set.
type GlobalImm struct {
	GlobalIdx uint32
}

// MemoryImm holds the memarg of loads and stores.
type MemoryImm struct {
	Offset uint64
	Align  uint32
	MemIdx uint32
}

// MemoryIdxImm holds the memory index for memory.size and memory.grow.
type MemoryIdxImm struct {
	MemIdx uint32
}

// I32Imm holds the constant for i32.const.
type I32Imm struct {
	Value int32
}

// I64Imm holds the constant for i64.const.
type I64Imm struct {
	Value int64
}

// F32Imm holds the raw bits of an f32.const.
type F32Imm struct {
	Bits uint32
}

// F64Imm holds the raw bits of an f64.const.
type F64Imm struct {
	Bits uint64
}

// MiscImm holds the sub-opcode and index immediates of 0xFC instructions.
type MiscImm struct {
	Operands  []uint32
	SubOpcode uint32
}

// TableImm holds the table index for table.get and table.set.
type TableImm struct {
	TableIdx uint32
}

// RefNullImm holds the heap type for ref.null as an s33.
type RefNullImm struct {
	HeapType int64
}

// RefFuncImm holds the function index for ref.func.
type RefFuncImm struct {
	FuncIdx uint32
}

// SelectTypeImm holds the value types of a typed select.
type SelectTypeImm struct {
	Types []ValType
}

type immKind uint8

const (
	immInvalid immKind = iota
	immNone
	immBlock
	immLabel
	immBrTable
	immFunc
	immCallIndirect
	immLocal
	immGlobal
	immTable
	immMem
	immMemIdx
	immI32
	immI64
	immF32
	immF64
	immRefNull
	immSelectT
	immMisc
	immUnsupported
)

// immKinds maps every single-byte opcode to its immediate encoding.
// Populated once at init and read-only afterwards.
var immKinds [256]immKind

func init() {
	set := func(k immKind, ops ...byte) {
		for _, op := range ops {
			immKinds[op] = k
		}
	}
	set(immNone, OpUnreachable, OpNop, OpElse, OpEnd, OpReturn, OpDrop, OpSelect, OpRefIsNull)
	for op := OpI32Eqz; op <= OpI64Extend32S; op++ {
		immKinds[op] = immNone
	}
	set(immBlock, OpBlock, OpLoop, OpIf)
	set(immLabel, OpBr, OpBrIf)
	set(immBrTable, OpBrTable)
	set(immFunc, OpCall, OpReturnCall)
	set(immCallIndirect, OpCallIndirect, OpReturnCallIndirect)
	set(immLocal, OpLocalGet, OpLocalSet, OpLocalTee)
	set(immGlobal, OpGlobalGet, OpGlobalSet)
	set(immTable, OpTableGet, OpTableSet)
	for op := OpI32Load; op <= OpI64Store32; op++ {
		immKinds[op] = immMem
	}
	set(immMemIdx, OpMemorySize, OpMemoryGrow)
	set(immI32, OpI32Const)
	set(immI64, OpI64Const)
	set(immF32, OpF32Const)
	set(immF64, OpF64Const)
	set(immRefNull, OpRefNull)
	set(immFunc, OpRefFunc)
	set(immSelectT, OpSelectType)
	set(immMisc, OpPrefixMisc)
	set(immUnsupported, OpPrefixSIMD, OpPrefixAtomic, OpPrefixGC,
		0x06, 0x07, 0x08, 0x09, 0x0A, 0x14, 0x15, 0x18, 0x19, 0x1F, 0xD3, 0xD4, 0xD5, 0xD6)
}

// miscOperandCount is the number of index immediates per 0xFC sub-opcode.
func miscOperandCount(sub uint32) (int, bool) {
	switch sub {
	case MiscI32TruncSatF32S, MiscI32TruncSatF32U, MiscI32TruncSatF64S, MiscI32TruncSatF64U,
		MiscI64TruncSatF32S, MiscI64TruncSatF32U, MiscI64TruncSatF64S, MiscI64TruncSatF64U:
		return 0, true
	case MiscDataDrop, MiscMemoryFill, MiscElemDrop, MiscTableGrow, MiscTableSize, MiscTableFill:
		return 1, true
	case MiscMemoryInit, MiscMemoryCopy, MiscTableInit, MiscTableCopy:
		return 2, true
	}
	return 0, false
}

// InstrError reports the instruction a body failed to decode at.
type InstrError struct {
	Err    error
	Index  int // instruction index in the body
	Offset int // byte offset in the body
	Opcode byte
}

func (e *InstrError) Error() string {
	return fmt.Sprintf("instr %d (opcode 0x%02x at byte %d): %v", e.Index, e.Opcode, e.Offset, e.Err)
}

func (e *InstrError) Unwrap() error { return e.Err }

// DecodeInstructions decodes a function body's instruction stream, including
// the final end.
func DecodeInstructions(code []byte) ([]Instruction, error) {
	r := leb.NewReader(code)
	instrs := make([]Instruction, 0, len(code)/2)
	for r.Len() > 0 {
		start := r.Position()
		op, _ := r.ReadByte()
		imm, err := decodeImmediate(r, op)
		if err != nil {
			return nil, &InstrError{Index: len(instrs), Offset: start, Opcode: op, Err: err}
		}
		instrs = append(instrs, Instruction{Opcode: op, Imm: imm})
	}
	return instrs, nil
}

func decodeImmediate(r *leb.Reader, op byte) (interface{}, error) {
	switch immKinds[op] {
	case immNone:
		return nil, nil
	case immBlock:
		bt, err := r.ReadS33()
		if err != nil {
			return nil, err
		}
		if bt > 1<<31-1 || bt < -1<<31 {
			return nil, fmt.Errorf("block type %d out of range", bt)
		}
		return BlockImm{Type: int32(bt)}, nil
	case immLabel:
		idx, err := r.ReadU32()
		return BranchImm{LabelIdx: idx}, err
	case immBrTable:
		n, err := r.ReadVecLen(1)
		if err != nil {
			return nil, err
		}
		labels := make([]uint32, n)
		for i := range labels {
			if labels[i], err = r.ReadU32(); err != nil {
				return nil, err
			}
		}
		def, err := r.ReadU32()
		return BrTableImm{Labels: labels, Default: def}, err
	case immFunc:
		idx, err := r.ReadU32()
		if op == OpRefFunc {
			return RefFuncImm{FuncIdx: idx}, err
		}
		return CallImm{FuncIdx: idx}, err
	case immCallIndirect:
		typeIdx, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		tableIdx, err := r.ReadU32()
		return CallIndirectImm{TypeIdx: typeIdx, TableIdx: tableIdx}, err
	case immLocal:
		idx, err := r.ReadU32()
		return LocalImm{LocalIdx: idx}, err
	case immGlobal:
		idx, err := r.ReadU32()
		return GlobalImm{GlobalIdx: idx}, err
	case immTable:
		idx, err := r.ReadU32()
		return TableImm{TableIdx: idx}, err
	case immMem:
		return readMemArg(r)
	case immMemIdx:
		idx, err := r.ReadU32()
		return MemoryIdxImm{MemIdx: idx}, err
	case immI32:
		v, err := r.ReadS32()
		return I32Imm{Value: v}, err
	case immI64:
		v, err := r.ReadS64()
		return I64Imm{Value: v}, err
	case immF32:
		v, err := r.ReadU32LE()
		return F32Imm{Bits: v}, err
	case immF64:
		v, err := r.ReadU64LE()
		return F64Imm{Bits: v}, err
	case immRefNull:
		ht, err := r.ReadS33()
		return RefNullImm{HeapType: ht}, err
	case immSelectT:
		n, err := r.ReadVecLen(1)
		if err != nil {
			return nil, err
		}
		types := make([]ValType, n)
		for i := range types {
			b, err := r.ReadByte()
			if err != nil {
				return nil, err
			}
			types[i] = ValType(b)
		}
		return SelectTypeImm{Types: types}, nil
	case immMisc:
		sub, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		n, ok := miscOperandCount(sub)
		if !ok {
			return nil, fmt.Errorf("0xFC sub-opcode 0x%02x: %w", sub, ErrUnsupportedOpcode)
		}
		imm := MiscImm{SubOpcode: sub}
		for i := 0; i < n; i++ {
			v, err := r.ReadU32()
			if err != nil {
				return nil, err
			}
			imm.Operands = append(imm.Operands, v)
		}
		return imm, nil
	case immUnsupported:
		return nil, ErrUnsupportedOpcode
	}
	return nil, fmt.Errorf("unknown opcode 0x%02x", op)
}

func readMemArg(r *leb.Reader) (MemoryImm, error) {
	alignRaw, err := r.ReadU32()
	if err != nil {
		return MemoryImm{}, err
	}
	var memIdx uint32
	if alignRaw&memArgMultiMemBit != 0 {
		if memIdx, err = r.ReadU32(); err != nil {
			return MemoryImm{}, err
		}
	}
	offset, err := r.ReadU64()
	if err != nil {
		return MemoryImm{}, err
	}
	return MemoryImm{Align: alignRaw &^ memArgMultiMemBit, Offset: offset, MemIdx: memIdx}, nil
}

// AppendInstruction appends the binary encoding of instr to dst.
func AppendInstruction(dst []byte, instr *Instruction) []byte {
	dst = append(dst, instr.Opcode)
	switch imm := instr.Imm.(type) {
	case nil:
	case BlockImm:
		dst = leb.AppendSigned(dst, int64(imm.Type))
	case BranchImm:
		dst = leb.AppendUnsigned(dst, uint64(imm.LabelIdx))
	case BrTableImm:
		dst = leb.AppendUnsigned(dst, uint64(len(imm.Labels)))
		for _, l := range imm.Labels {
			dst = leb.AppendUnsigned(dst, uint64(l))
		}
		dst = leb.AppendUnsigned(dst, uint64(imm.Default))
	case CallImm:
		dst = leb.AppendUnsigned(dst, uint64(imm.FuncIdx))
	case RefFuncImm:
		dst = leb.AppendUnsigned(dst, uint64(imm.FuncIdx))
	case CallIndirectImm:
		dst = leb.AppendUnsigned(dst, uint64(imm.TypeIdx))
		dst = leb.AppendUnsigned(dst, uint64(imm.TableIdx))
	case LocalImm:
		dst = leb.AppendUnsigned(dst, uint64(imm.LocalIdx))
	case GlobalImm:
		dst = leb.AppendUnsigned(dst, uint64(imm.GlobalIdx))
	case TableImm:
		dst = leb.AppendUnsigned(dst, uint64(imm.TableIdx))
	case MemoryImm:
		align := imm.Align
		if imm.MemIdx != 0 {
			align |= memArgMultiMemBit
		}
		dst = leb.AppendUnsigned(dst, uint64(align))
		if imm.MemIdx != 0 {
			dst = leb.AppendUnsigned(dst, uint64(imm.MemIdx))
		}
		dst = leb.AppendUnsigned(dst, imm.Offset)
	case MemoryIdxImm:
		dst = leb.AppendUnsigned(dst, uint64(imm.MemIdx))
	case I32Imm:
		dst = leb.AppendSigned(dst, int64(imm.Value))
	case I64Imm:
		dst = leb.AppendSigned(dst, imm.Value)
	case F32Imm:
		dst = binary.LittleEndian.AppendUint32(dst, imm.Bits)
	case F64Imm:
		dst = binary.LittleEndian.AppendUint64(dst, imm.Bits)
	case RefNullImm:
		dst = leb.AppendSigned(dst, imm.HeapType)
	case SelectTypeImm:
		dst = leb.AppendUnsigned(dst, uint64(len(imm.Types)))
		for _, t := range imm.Types {
			dst = append(dst, byte(t))
		}
	case MiscImm:
		dst = leb.AppendUnsigned(dst, uint64(imm.SubOpcode))
		for _, v := range imm.Operands {
			dst = leb.AppendUnsigned(dst, uint64(v))
		}
	}
	return dst
}

// EncodeInstructions encodes instructions to bytes
func EncodeInstructions(instrs []Instruction) []byte {
	buf := make([]byte, 0, len(instrs)*3)
	for i := range instrs {
		buf = AppendInstruction(buf, &instrs[i])
	}
	return buf
}

// BlockTypeOf resolves a block type immediate to params and results.
func (m *Module) BlockTypeOf(bt int32) (params, results []ValType, ok bool) {
	switch bt {
	case BlockTypeVoid:
		return nil, nil, true
	case BlockTypeI32:
		return nil, []ValType{ValI32}, true
	case BlockTypeI64:
		return nil, []ValType{ValI64}, true
	case BlockTypeF32:
		return nil, []ValType{ValF32}, true
	case BlockTypeF64:
		return nil, []ValType{ValF64}, true
	case BlockTypeV128:
		return nil, []ValType{ValV128}, true
	case -16:
		return nil, []ValType{ValFuncRef}, true
	case -17:
		return nil, []ValType{ValExtern}, true
	}
	if bt < 0 {
		return nil, nil, false
	}
	ft := m.TypeAt(uint32(bt))
	if ft == nil {
		return nil, nil, false
	}
	return ft.Params, ft.Results, true
}
