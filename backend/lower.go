package backend

import (
	"go.uber.org/zap"

	"github.com/wippyai/wasm-ir/errors"
	"github.com/wippyai/wasm-ir/ir"
	"github.com/wippyai/wasm-ir/restructure"
	"github.com/wippyai/wasm-ir/wasm"
)

const noLocal = ^uint32(0)

// Lower emits the body of f in the shape of tree.
func Lower(f *ir.Function, tree *restructure.Tree) (wasm.FuncBody, error) {
	code, locals, err := Instructions(f, tree)
	if err != nil {
		return wasm.FuncBody{}, err
	}
	return wasm.FuncBody{
		Locals: wasm.CompressLocals(locals),
		Code:   wasm.EncodeInstructions(code),
	}, nil
}

// Instructions returns the instruction stream of f, final end included,
// and the types of the locals it declares after the params.
func Instructions(f *ir.Function, tree *restructure.Tree) ([]wasm.Instruction, []wasm.ValType, error) {
	l := &lowerer{f: f, e: NewEmitter(), nparams: uint32(len(f.Sig.Params))}
	l.assignLocals()
	if err := l.emit(tree.Body); err != nil {
		return nil, nil, err
	}
	if len(f.Sig.Results) > 0 {
		if last, ok := l.e.Last(); !ok || !transfers(last.Opcode) {
			l.e.Unreachable()
		}
	}
	l.e.End()

	code, locals := fold(l.e.Instructions(), l.nparams, l.types)
	Logger().Debug("lowered function",
		zap.Uint32("func", f.Index),
		zap.Int("instructions", len(code)),
		zap.Int("locals", len(locals)))
	return code, locals, nil
}

type lowerer struct {
	f       *ir.Function
	e       *Emitter
	local   []uint32
	types   []wasm.ValType
	nparams uint32
}

// assignLocals gives every used value a local of its own. Entry params are
// the function's params and constants are rematerialized at each use.
func (l *lowerer) assignLocals() {
	f := l.f
	l.local = make([]uint32, f.NumValues())
	for v := range l.local {
		l.local[v] = noLocal
	}
	for k, p := range f.Block(f.Entry).Params {
		l.local[p] = uint32(k)
	}
	for v := 0; v < f.NumValues(); v++ {
		vd := f.Value(ir.Value(v))
		if vd.Dead || vd.Kind == ir.ValueAlias || l.local[v] != noLocal {
			continue
		}
		if len(vd.Users) == 0 || l.remat(ir.Value(v)) {
			continue
		}
		l.local[v] = l.nparams + uint32(len(l.types))
		l.types = append(l.types, vd.Type.ValType())
	}
}

func (l *lowerer) remat(v ir.Value) bool {
	vd := l.f.Value(v)
	return vd.Kind == ir.ValueResult && isConst(l.f.Inst(vd.Inst).Op)
}

func isConst(op ir.Op) bool {
	switch op {
	case ir.OpI32Const, ir.OpI64Const, ir.OpF32Const, ir.OpF64Const, ir.OpRefNull, ir.OpRefFunc:
		return true
	}
	return false
}

func transfers(op byte) bool {
	switch op {
	case wasm.OpBr, wasm.OpBrTable, wasm.OpReturn, wasm.OpUnreachable, wasm.OpReturnCall, wasm.OpReturnCallIndirect:
		return true
	}
	return false
}

func (l *lowerer) internal(msg string, args ...any) error {
	return errors.New(errors.PhaseLower, errors.KindInternal).
		Func(l.f.Index).Detail(msg, args...).Build()
}

// item is a pending node, or a closing instruction when n is nil.
type item struct {
	n     restructure.Node
	close byte
}

func (l *lowerer) emit(body restructure.Seq) error {
	var stack []item
	pushSeq := func(s restructure.Seq) {
		for k := len(s) - 1; k >= 0; k-- {
			stack = append(stack, item{n: s[k]})
		}
	}
	pushSeq(body)
	for len(stack) > 0 {
		it := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if it.n == nil {
			l.e.Emit(wasm.Instruction{Opcode: it.close})
			continue
		}
		switch n := it.n.(type) {
		case *restructure.Code:
			if err := l.code(n.Block); err != nil {
				return err
			}
		case *restructure.BlockRegion:
			l.e.Block(wasm.BlockTypeVoid)
			stack = append(stack, item{close: wasm.OpEnd})
			pushSeq(n.Body)
		case *restructure.LoopRegion:
			l.e.Loop(wasm.BlockTypeVoid)
			stack = append(stack, item{close: wasm.OpEnd})
			pushSeq(n.Body)
		case *restructure.IfRegion:
			if err := l.get(n.Cond); err != nil {
				return err
			}
			l.e.If(wasm.BlockTypeVoid)
			stack = append(stack, item{close: wasm.OpEnd})
			pushSeq(n.Else)
			stack = append(stack, item{close: wasm.OpElse})
			pushSeq(n.Then)
		case *restructure.BrTable:
			if err := l.brTable(n); err != nil {
				return err
			}
			for a := len(n.Arms) - 1; a >= 0; a-- {
				pushSeq(n.Arms[a])
				stack = append(stack, item{close: wasm.OpEnd})
			}
		case *restructure.Moves:
			if err := l.moves(n.Edge); err != nil {
				return err
			}
		case *restructure.Br:
			l.e.Br(uint32(n.Depth))
		case *restructure.Return:
			if err := l.gets(l.f.Inst(n.Inst).Args); err != nil {
				return err
			}
			l.e.Return()
		case *restructure.ReturnCall:
			in := l.f.Inst(n.Inst)
			if err := l.gets(in.Args); err != nil {
				return err
			}
			l.e.Emit(l.instr(in))
		case *restructure.Unreachable:
			l.e.Unreachable()
		default:
			return l.internal("unknown region %T", n)
		}
	}
	return nil
}

// brTable opens one block per arm and dispatches into them; arm a starts
// after the a-th end.
func (l *lowerer) brTable(n *restructure.BrTable) error {
	for range n.Arms {
		l.e.Block(wasm.BlockTypeVoid)
	}
	if err := l.get(n.Index); err != nil {
		return err
	}
	labels := make([]uint32, len(n.Table)-1)
	for k := range labels {
		labels[k] = uint32(n.Table[k])
	}
	l.e.BrTable(labels, uint32(n.Table[len(n.Table)-1]))
	return nil
}

func (l *lowerer) code(b ir.Block) error {
	for _, i := range l.f.Block(b).Insts {
		in := l.f.Inst(i)
		if in.Dead || isConst(in.Op) {
			continue
		}
		info := in.Op.Info()
		if info == nil {
			return l.internal("unknown operator %s", in.Op)
		}
		if info.Has(ir.FlagTerminator) {
			break
		}
		if err := l.gets(in.Args); err != nil {
			return err
		}
		l.e.Emit(l.instr(in))
		for k := len(in.Results) - 1; k >= 0; k-- {
			if loc := l.local[in.Results[k]]; loc != noLocal {
				l.e.LocalSet(loc)
			} else {
				l.e.Drop()
			}
		}
	}
	return nil
}

// moves copies edge arguments into the destination's param locals. All
// sources are pushed before any param is written, which makes the copy
// parallel.
func (l *lowerer) moves(e ir.Edge) error {
	params := l.f.Block(l.f.Dest(e)).Params
	args := l.f.EdgeArgs(e)
	if len(args) != len(params) {
		return l.internal("edge from %s passes %d args to %d params", e.From, len(args), len(params))
	}
	var dsts []uint32
	for k, p := range params {
		a := l.f.Resolve(args[k])
		if a == p || l.local[p] == noLocal {
			continue
		}
		if err := l.get(a); err != nil {
			return err
		}
		dsts = append(dsts, l.local[p])
	}
	for k := len(dsts) - 1; k >= 0; k-- {
		l.e.LocalSet(dsts[k])
	}
	return nil
}

func (l *lowerer) gets(vs []ir.Value) error {
	for _, v := range vs {
		if err := l.get(v); err != nil {
			return err
		}
	}
	return nil
}

func (l *lowerer) get(v ir.Value) error {
	v = l.f.Resolve(v)
	if !l.f.HasValue(v) {
		return l.internal("use of dead value %s", v)
	}
	if l.remat(v) {
		l.e.Emit(l.instr(l.f.Inst(l.f.Value(v).Inst)))
		return nil
	}
	loc := l.local[v]
	if loc == noLocal {
		return l.internal("value %s has no local", v)
	}
	l.e.LocalGet(loc)
	return nil
}

// instr converts one IR instruction to its wasm form.
func (l *lowerer) instr(in *ir.InstData) wasm.Instruction {
	opcode, sub, misc := in.Op.Encoding()
	if misc {
		imm, ok := in.Imm.(wasm.MiscImm)
		if !ok {
			imm = wasm.MiscImm{SubOpcode: sub}
		}
		return wasm.Instruction{Opcode: opcode, Imm: imm}
	}
	if in.Op == ir.OpSelect {
		t := l.f.Value(in.Results[0]).Type
		if t.IsRef() {
			return wasm.Instruction{Opcode: wasm.OpSelectType, Imm: wasm.SelectTypeImm{Types: []wasm.ValType{t.ValType()}}}
		}
		return wasm.Instruction{Opcode: wasm.OpSelect}
	}
	return wasm.Instruction{Opcode: opcode, Imm: in.Imm}
}
