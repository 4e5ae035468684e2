package frontend

import (
	"github.com/wippyai/wasm-ir/errors"
	"github.com/wippyai/wasm-ir/ir"
	"github.com/wippyai/wasm-ir/wasm"
)

// lower translates one instruction at b.pc.
func (b *builder) lower(in *wasm.Instruction) error {
	if b.unreachable {
		switch in.Opcode {
		case wasm.OpBlock, wasm.OpLoop, wasm.OpIf:
			b.unreachableDepth++
			return nil
		case wasm.OpElse:
			if b.unreachableDepth > 0 {
				return nil
			}
		case wasm.OpEnd:
			if b.unreachableDepth > 0 {
				b.unreachableDepth--
				return nil
			}
		default:
			return nil
		}
	}

	switch in.Opcode {
	case wasm.OpUnreachable:
		b.terminate(ir.OpUnreachable, nil, nil)
		b.unreachable = true
	case wasm.OpNop:
	case wasm.OpBlock:
		return b.lowerBlock(in.Imm.(wasm.BlockImm))
	case wasm.OpLoop:
		return b.lowerLoop(in.Imm.(wasm.BlockImm))
	case wasm.OpIf:
		return b.lowerIf(in.Imm.(wasm.BlockImm))
	case wasm.OpElse:
		return b.lowerElse()
	case wasm.OpEnd:
		return b.lowerEnd()
	case wasm.OpBr:
		return b.lowerBr(in.Imm.(wasm.BranchImm).LabelIdx)
	case wasm.OpBrIf:
		return b.lowerBrIf(in.Imm.(wasm.BranchImm).LabelIdx)
	case wasm.OpBrTable:
		return b.lowerBrTable(in.Imm.(wasm.BrTableImm))
	case wasm.OpReturn:
		args, err := b.popN(b.results)
		if err != nil {
			return err
		}
		b.terminate(ir.OpReturn, nil, args)
		b.unreachable = true
	case wasm.OpCall:
		return b.lowerCall(in)
	case wasm.OpCallIndirect:
		return b.lowerCallIndirect(in)
	case wasm.OpReturnCall, wasm.OpReturnCallIndirect:
		return b.lowerReturnCall(in)

	case wasm.OpDrop:
		_, err := b.pop(ir.TypeInvalid)
		return err
	case wasm.OpSelect, wasm.OpSelectType:
		return b.lowerSelect(in)

	case wasm.OpLocalGet, wasm.OpLocalSet, wasm.OpLocalTee:
		return b.lowerLocal(in.Opcode, in.Imm.(wasm.LocalImm).LocalIdx)
	case wasm.OpGlobalGet, wasm.OpGlobalSet:
		return b.lowerGlobal(in.Opcode, in.Imm.(wasm.GlobalImm))

	case wasm.OpI32Const:
		b.push(b.constant(ir.OpI32Const, in.Imm, ir.I32))
	case wasm.OpI64Const:
		b.push(b.constant(ir.OpI64Const, in.Imm, ir.I64))
	case wasm.OpF32Const:
		b.push(b.constant(ir.OpF32Const, in.Imm, ir.F32))
	case wasm.OpF64Const:
		b.push(b.constant(ir.OpF64Const, in.Imm, ir.F64))

	case wasm.OpRefNull, wasm.OpRefIsNull, wasm.OpRefFunc:
		return b.lowerRef(in)
	case wasm.OpTableGet, wasm.OpTableSet:
		return b.lowerTableAccess(in)
	case wasm.OpPrefixMisc:
		imm := in.Imm.(wasm.MiscImm)
		switch imm.SubOpcode {
		case wasm.MiscTableGrow, wasm.MiscTableFill:
			return b.lowerTableBulk(imm)
		}
		return b.lowerStatic(ir.MiscOp(imm.SubOpcode), imm)
	default:
		return b.lowerStatic(ir.Op(in.Opcode), in.Imm)
	}
	return nil
}

// lowerStatic handles operators whose signature is fixed by the op table.
func (b *builder) lowerStatic(op ir.Op, imm interface{}) error {
	info := op.Info()
	if info == nil || info.Has(ir.FlagDynamic) || info.Has(ir.FlagTerminator) {
		return b.errorf(errors.KindUnsupported, "unsupported operator %s", op)
	}
	args, err := b.popN(info.Args)
	if err != nil {
		return err
	}
	b.emit(op, imm, args, info.Results...)
	return nil
}

func (b *builder) blockType(imm wasm.BlockImm) (params, results []ir.Type, err error) {
	ps, rs, ok := b.mod.BlockTypeOf(imm.Type)
	if !ok {
		return nil, nil, b.errorf(errors.KindInvalidIndex, "invalid block type %d", imm.Type)
	}
	params, ok1 := ir.TypesOf(ps)
	results, ok2 := ir.TypesOf(rs)
	if !ok1 || !ok2 || containsV128(params) || containsV128(results) {
		return nil, nil, b.errorf(errors.KindUnsupported, "unsupported block type %d", imm.Type)
	}
	return params, results, nil
}

// joinBlock creates an open block carrying one param per result type.
func (b *builder) joinBlock(results []ir.Type) ir.Block {
	blk := b.f.NewBlock()
	for _, t := range results {
		b.f.AddParam(blk, t)
	}
	return blk
}

func (b *builder) lowerBlock(imm wasm.BlockImm) error {
	params, results, err := b.blockType(imm)
	if err != nil {
		return err
	}
	if _, err := b.peekN(params); err != nil {
		return err
	}
	b.frames = append(b.frames, frame{
		kind:    frameBlock,
		height:  len(b.stack) - len(params),
		header:  ir.NoBlock,
		next:    b.joinBlock(results),
		params:  params,
		results: results,
	})
	return nil
}

func (b *builder) lowerLoop(imm wasm.BlockImm) error {
	params, results, err := b.blockType(imm)
	if err != nil {
		return err
	}
	args, err := b.popN(params)
	if err != nil {
		return err
	}
	header := b.joinBlock(params)
	b.f.Block(header).State = ir.Sealed
	b.info(header).provisional = true
	after := b.joinBlock(results)
	b.terminate(ir.OpBr, nil, nil, ir.BlockTarget{Block: header, Args: args})

	height := len(b.stack)
	b.frames = append(b.frames, frame{
		kind:    frameLoop,
		height:  height,
		header:  header,
		next:    after,
		params:  params,
		results: results,
	})
	b.switchTo(height, header, len(params))
	return nil
}

func (b *builder) lowerIf(imm wasm.BlockImm) error {
	params, results, err := b.blockType(imm)
	if err != nil {
		return err
	}
	cond, err := b.pop(ir.I32)
	if err != nil {
		return err
	}
	args, err := b.peekN(params)
	if err != nil {
		return err
	}
	then, els := b.sealedBlock(), b.sealedBlock()
	b.terminate(ir.OpBrIf, nil, []ir.Value{cond},
		ir.BlockTarget{Block: then}, ir.BlockTarget{Block: els})
	b.frames = append(b.frames, frame{
		kind:     frameIfWithoutElse,
		height:   len(b.stack) - len(params),
		header:   els,
		next:     b.joinBlock(results),
		params:   params,
		results:  results,
		elseArgs: args,
	})
	b.cur = then
	return nil
}

func (b *builder) lowerElse() error {
	fr := &b.frames[len(b.frames)-1]
	if fr.kind != frameIfWithoutElse {
		return b.errorf(errors.KindInvalidData, "else without a matching if")
	}
	if !b.unreachable {
		if err := b.exitFrame(fr); err != nil {
			return err
		}
	}
	b.unreachable = false
	fr.kind = frameIfWithElse
	b.stack = b.stack[:fr.height]
	for _, v := range fr.elseArgs {
		b.push(b.f.Resolve(v))
	}
	b.cur = fr.header
	return nil
}

// exitFrame pops the frame's results and branches to its join block.
func (b *builder) exitFrame(fr *frame) error {
	results, err := b.popN(fr.results)
	if err != nil {
		return err
	}
	if len(b.stack) != fr.height {
		return b.errorf(errors.KindTypeMismatch, "%d values remain on the stack at the end of the block", len(b.stack)-fr.height)
	}
	if fr.kind == frameFunction {
		b.terminate(ir.OpReturn, nil, results)
	} else {
		b.terminate(ir.OpBr, nil, nil, ir.BlockTarget{Block: fr.next, Args: results})
	}
	return nil
}

func (b *builder) lowerEnd() error {
	fr := &b.frames[len(b.frames)-1]
	if !b.unreachable {
		if err := b.exitFrame(fr); err != nil {
			return err
		}
	}
	b.unreachable = false
	if fr.kind == frameFunction {
		b.frames = b.frames[:len(b.frames)-1]
		return nil
	}

	switch fr.kind {
	case frameIfWithoutElse:
		if !typesEqual(fr.params, fr.results) {
			return b.errorf(errors.KindTypeMismatch, "if without else must not change the stack type")
		}
		args := make([]ir.Value, len(fr.elseArgs))
		for k, v := range fr.elseArgs {
			args[k] = b.f.Resolve(v)
		}
		b.cur = fr.header
		b.terminate(ir.OpBr, nil, nil, ir.BlockTarget{Block: fr.next, Args: args})
	case frameLoop:
		b.seal(fr.header)
	}

	done := *fr
	b.frames = b.frames[:len(b.frames)-1]
	if len(b.f.Block(done.next).Preds) == 0 {
		b.f.KillBlock(done.next)
		b.stack = b.stack[:done.height]
		b.unreachable = true
		return nil
	}
	b.seal(done.next)
	b.switchTo(done.height, done.next, len(done.results))
	return nil
}

// label returns the frame a branch of depth l targets.
func (b *builder) label(l uint32) (*frame, error) {
	if int(l) >= len(b.frames) {
		return nil, b.errorf(errors.KindInvalidLabel, "label %d exceeds the control depth %d", l, len(b.frames))
	}
	return &b.frames[len(b.frames)-1-int(l)], nil
}

func (b *builder) lowerBr(l uint32) error {
	fr, err := b.label(l)
	if err != nil {
		return err
	}
	args, err := b.popN(fr.labelTypes())
	if err != nil {
		return err
	}
	if fr.kind == frameFunction {
		b.terminate(ir.OpReturn, nil, args)
	} else {
		b.terminate(ir.OpBr, nil, nil, ir.BlockTarget{Block: fr.labelBlock(), Args: args})
	}
	b.unreachable = true
	return nil
}

func (b *builder) lowerBrIf(l uint32) error {
	fr, err := b.label(l)
	if err != nil {
		return err
	}
	cond, err := b.pop(ir.I32)
	if err != nil {
		return err
	}
	args, err := b.peekN(fr.labelTypes())
	if err != nil {
		return err
	}
	fallthru := b.sealedBlock()
	if fr.kind != frameFunction {
		b.terminate(ir.OpBrIf, nil, []ir.Value{cond},
			ir.BlockTarget{Block: fr.labelBlock(), Args: args}, ir.BlockTarget{Block: fallthru})
		b.cur = fallthru
		return nil
	}
	ret := b.sealedBlock()
	b.terminate(ir.OpBrIf, nil, []ir.Value{cond},
		ir.BlockTarget{Block: ret}, ir.BlockTarget{Block: fallthru})
	b.cur = ret
	b.terminate(ir.OpReturn, nil, args)
	b.cur = fallthru
	return nil
}

func (b *builder) lowerBrTable(imm wasm.BrTableImm) error {
	def, err := b.label(imm.Default)
	if err != nil {
		return err
	}
	idx, err := b.pop(ir.I32)
	if err != nil {
		return err
	}
	types := def.labelTypes()
	args, err := b.popN(types)
	if err != nil {
		return err
	}

	ret := ir.NoBlock
	target := func(fr *frame) ir.BlockTarget {
		if fr.kind != frameFunction {
			return ir.BlockTarget{Block: fr.labelBlock(), Args: args}
		}
		if ret == ir.NoBlock {
			ret = b.sealedBlock()
		}
		return ir.BlockTarget{Block: ret}
	}
	targets := make([]ir.BlockTarget, 0, len(imm.Labels)+1)
	for _, l := range imm.Labels {
		fr, err := b.label(l)
		if err != nil {
			return err
		}
		if !typesEqual(fr.labelTypes(), types) {
			return b.errorf(errors.KindTypeMismatch, "br_table label %d carries %v, default carries %v", l, fr.labelTypes(), types)
		}
		targets = append(targets, target(fr))
	}
	targets = append(targets, target(def))

	b.terminate(ir.OpBrTable, nil, []ir.Value{idx}, targets...)
	if ret != ir.NoBlock {
		b.cur = ret
		b.terminate(ir.OpReturn, nil, args)
	}
	b.unreachable = true
	return nil
}

func (b *builder) callType(idx uint32) (ir.Signature, error) {
	ft := b.mod.GetFuncType(idx)
	if ft == nil {
		return ir.Signature{}, b.errorf(errors.KindInvalidIndex, "function %d out of range", idx)
	}
	return b.signature(*ft)
}

func (b *builder) indirectType(imm wasm.CallIndirectImm) (ir.Signature, error) {
	ft := b.mod.TypeAt(imm.TypeIdx)
	if ft == nil {
		return ir.Signature{}, b.errorf(errors.KindInvalidIndex, "type %d out of range", imm.TypeIdx)
	}
	tt := b.mod.TableType(imm.TableIdx)
	if tt == nil {
		return ir.Signature{}, b.errorf(errors.KindInvalidIndex, "table %d out of range", imm.TableIdx)
	}
	if tt.ElemType != wasm.ValFuncRef {
		return ir.Signature{}, b.errorf(errors.KindTypeMismatch, "call_indirect through a table of %s", tt.ElemType)
	}
	return b.signature(*ft)
}

func (b *builder) lowerCall(in *wasm.Instruction) error {
	sig, err := b.callType(in.Imm.(wasm.CallImm).FuncIdx)
	if err != nil {
		return err
	}
	args, err := b.popN(sig.Params)
	if err != nil {
		return err
	}
	b.emit(ir.OpCall, in.Imm, args, sig.Results...)
	return nil
}

func (b *builder) lowerCallIndirect(in *wasm.Instruction) error {
	sig, err := b.indirectType(in.Imm.(wasm.CallIndirectImm))
	if err != nil {
		return err
	}
	idx, err := b.pop(ir.I32)
	if err != nil {
		return err
	}
	args, err := b.popN(sig.Params)
	if err != nil {
		return err
	}
	b.emit(ir.OpCallIndirect, in.Imm, append(args, idx), sig.Results...)
	return nil
}

func (b *builder) lowerReturnCall(in *wasm.Instruction) error {
	var (
		sig ir.Signature
		idx = ir.NoValue
		err error
	)
	if in.Opcode == wasm.OpReturnCall {
		sig, err = b.callType(in.Imm.(wasm.CallImm).FuncIdx)
	} else {
		sig, err = b.indirectType(in.Imm.(wasm.CallIndirectImm))
		if err == nil {
			idx, err = b.pop(ir.I32)
		}
	}
	if err != nil {
		return err
	}
	if !typesEqual(sig.Results, b.results) {
		return b.errorf(errors.KindTypeMismatch, "tail call returns %v, function returns %v", sig.Results, b.results)
	}
	args, err := b.popN(sig.Params)
	if err != nil {
		return err
	}
	if idx != ir.NoValue {
		args = append(args, idx)
	}
	b.terminate(ir.Op(in.Opcode), in.Imm, args)
	b.unreachable = true
	return nil
}

func (b *builder) lowerSelect(in *wasm.Instruction) error {
	want := ir.TypeInvalid
	if in.Opcode == wasm.OpSelectType {
		types := in.Imm.(wasm.SelectTypeImm).Types
		if len(types) != 1 {
			return b.errorf(errors.KindUnsupported, "select with %d result types", len(types))
		}
		t, ok := ir.TypeOf(types[0])
		if !ok || t == ir.V128 {
			return b.errorf(errors.KindUnsupported, "select of %s", types[0])
		}
		want = t
	}
	cond, err := b.pop(ir.I32)
	if err != nil {
		return err
	}
	v2, err := b.pop(want)
	if err != nil {
		return err
	}
	t := b.typeOf(v2)
	if want == ir.TypeInvalid && t.IsRef() {
		return b.errorf(errors.KindTypeMismatch, "untyped select of %s", t)
	}
	v1, err := b.pop(t)
	if err != nil {
		return err
	}
	b.emit(ir.OpSelect, nil, []ir.Value{v1, v2, cond}, t)
	return nil
}

func (b *builder) lowerLocal(op byte, idx uint32) error {
	if int(idx) >= len(b.slots) {
		return b.errorf(errors.KindInvalidIndex, "local %d out of range", idx)
	}
	switch op {
	case wasm.OpLocalGet:
		b.push(b.readSlot(idx))
	case wasm.OpLocalSet, wasm.OpLocalTee:
		v, err := b.pop(b.slots[idx])
		if err != nil {
			return err
		}
		b.writeSlot(b.cur, idx, v)
		if op == wasm.OpLocalTee {
			b.push(v)
		}
	}
	return nil
}

func (b *builder) lowerGlobal(op byte, imm wasm.GlobalImm) error {
	gt := b.mod.GlobalType(imm.GlobalIdx)
	if gt == nil {
		return b.errorf(errors.KindInvalidIndex, "global %d out of range", imm.GlobalIdx)
	}
	t, ok := ir.TypeOf(gt.ValType)
	if !ok || t == ir.V128 {
		return b.errorf(errors.KindUnsupported, "global of type %s", gt.ValType)
	}
	if op == wasm.OpGlobalGet {
		b.emit(ir.OpGlobalGet, imm, nil, t)
		return nil
	}
	if !gt.Mutable {
		return b.errorf(errors.KindTypeMismatch, "global %d is immutable", imm.GlobalIdx)
	}
	v, err := b.pop(t)
	if err != nil {
		return err
	}
	b.emit(ir.OpGlobalSet, imm, []ir.Value{v})
	return nil
}

func (b *builder) lowerRef(in *wasm.Instruction) error {
	switch in.Opcode {
	case wasm.OpRefNull:
		imm := in.Imm.(wasm.RefNullImm)
		switch imm.HeapType {
		case ir.HeapFunc:
			b.push(b.constant(ir.OpRefNull, imm, ir.FuncRef))
		case ir.HeapExtern:
			b.push(b.constant(ir.OpRefNull, imm, ir.ExternRef))
		default:
			return b.errorf(errors.KindUnsupported, "ref.null of heap type %d", imm.HeapType)
		}
	case wasm.OpRefIsNull:
		v, err := b.pop(ir.TypeInvalid)
		if err != nil {
			return err
		}
		if !b.typeOf(v).IsRef() {
			return b.errorf(errors.KindTypeMismatch, "ref.is_null of %s", b.typeOf(v))
		}
		b.emit(ir.OpRefIsNull, nil, []ir.Value{v}, ir.I32)
	case wasm.OpRefFunc:
		imm := in.Imm.(wasm.RefFuncImm)
		if int(imm.FuncIdx) >= b.mod.NumFuncs() {
			return b.errorf(errors.KindInvalidIndex, "function %d out of range", imm.FuncIdx)
		}
		b.emit(ir.OpRefFunc, imm, nil, ir.FuncRef)
	}
	return nil
}

func (b *builder) elemType(table uint32) (ir.Type, error) {
	tt := b.mod.TableType(table)
	if tt == nil {
		return ir.TypeInvalid, b.errorf(errors.KindInvalidIndex, "table %d out of range", table)
	}
	t, ok := ir.TypeOf(tt.ElemType)
	if !ok || !t.IsRef() {
		return ir.TypeInvalid, b.errorf(errors.KindUnsupported, "table of %s", tt.ElemType)
	}
	return t, nil
}

func (b *builder) lowerTableAccess(in *wasm.Instruction) error {
	imm := in.Imm.(wasm.TableImm)
	t, err := b.elemType(imm.TableIdx)
	if err != nil {
		return err
	}
	if in.Opcode == wasm.OpTableGet {
		i, err := b.pop(ir.I32)
		if err != nil {
			return err
		}
		b.emit(ir.OpTableGet, imm, []ir.Value{i}, t)
		return nil
	}
	args, err := b.popN([]ir.Type{ir.I32, t})
	if err != nil {
		return err
	}
	b.emit(ir.OpTableSet, imm, args)
	return nil
}

func (b *builder) lowerTableBulk(imm wasm.MiscImm) error {
	if len(imm.Operands) != 1 {
		return b.errorf(errors.KindInvalidData, "table operator without a table index")
	}
	t, err := b.elemType(imm.Operands[0])
	if err != nil {
		return err
	}
	op := ir.MiscOp(imm.SubOpcode)
	if imm.SubOpcode == wasm.MiscTableGrow {
		args, err := b.popN([]ir.Type{t, ir.I32})
		if err != nil {
			return err
		}
		b.emit(op, imm, args, ir.I32)
		return nil
	}
	args, err := b.popN([]ir.Type{ir.I32, t, ir.I32})
	if err != nil {
		return err
	}
	b.emit(op, imm, args)
	return nil
}

func typesEqual(a, b []ir.Type) bool {
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
