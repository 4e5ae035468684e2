package frontend_test

import (
	stderrors "errors"
	"testing"

	"github.com/wippyai/wasm-ir/errors"
	"github.com/wippyai/wasm-ir/frontend"
	. "github.com/wippyai/wasm-ir/internal/wasmtest"
	"github.com/wippyai/wasm-ir/ir"
	"github.com/wippyai/wasm-ir/wasm"
)

var (
	i32  = []wasm.ValType{wasm.ValI32}
	i32x = func(n int) []wasm.ValType {
		out := make([]wasm.ValType, n)
		for i := range out {
			out[i] = wasm.ValI32
		}
		return out
	}
)

func build(t *testing.T, fn Func) *ir.Function {
	t.Helper()
	f, err := frontend.Build(Module([]Func{fn}), 0)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return f
}

// returning finds the live block that ends in return.
func returning(t *testing.T, f *ir.Function) ir.Block {
	t.Helper()
	for _, b := range f.Blocks() {
		if term := f.Terminator(b); term != ir.NoInst && f.Inst(term).Op == ir.OpReturn {
			return b
		}
	}
	t.Fatalf("no return block in\n%s", f)
	return ir.NoBlock
}

func constValue(f *ir.Function, v ir.Value) (int32, bool) {
	vd := f.Value(f.Resolve(v))
	if vd.Kind != ir.ValueResult {
		return 0, false
	}
	in := f.Inst(vd.Inst)
	if in.Op != ir.OpI32Const {
		return 0, false
	}
	return in.Imm.(wasm.I32Imm).Value, true
}

func ifElseAssign(a, b int32) Func {
	return Func{
		Params:  i32,
		Results: i32,
		Locals:  i32,
		Body: Is(
			LocalGet(0),
			If(wasm.BlockTypeVoid),
			I32(a), LocalSet(1),
			Else(),
			I32(b), LocalSet(1),
			End(),
			LocalGet(1),
			Op(wasm.OpReturn),
		),
	}
}

func TestIfElseJoinDifferentConstants(t *testing.T) {
	f := build(t, ifElseAssign(1, 2))
	join := returning(t, f)
	bd := f.Block(join)
	if len(bd.Params) != 1 {
		t.Fatalf("join params = %d, want 1\n%s", len(bd.Params), f)
	}
	if len(bd.Preds) != 2 {
		t.Fatalf("join preds = %d, want 2", len(bd.Preds))
	}
	got := map[int32]bool{}
	for _, e := range bd.Preds {
		args := f.EdgeArgs(e)
		if len(args) != 1 {
			t.Fatalf("edge from %s carries %d args", e.From, len(args))
		}
		c, ok := constValue(f, args[0])
		if !ok {
			t.Fatalf("edge arg %s is not a constant", args[0])
		}
		got[c] = true
	}
	if !got[1] || !got[2] {
		t.Errorf("incoming constants = %v, want 1 and 2", got)
	}
	ret := f.Inst(f.Terminator(join))
	if ret.Args[0] != bd.Params[0] {
		t.Errorf("return uses %s, want the join param %s", ret.Args[0], bd.Params[0])
	}
}

func TestIfElseJoinSameConstant(t *testing.T) {
	f := build(t, ifElseAssign(7, 7))
	join := returning(t, f)
	for v := 0; v < f.NumValues(); v++ {
		vd := f.Value(ir.Value(v))
		if vd.Kind == ir.ValueParam && vd.Block != f.Entry {
			t.Fatalf("param %s created in %s\n%s", ir.Value(v), vd.Block, f)
		}
	}
	if n := len(f.Block(join).Params); n != 0 {
		t.Fatalf("join params = %d, want 0", n)
	}
	ret := f.Inst(f.Terminator(join))
	if c, ok := constValue(f, ret.Args[0]); !ok || c != 7 {
		t.Errorf("return arg %s is not the constant 7", ret.Args[0])
	}
}

func TestUnassignedLocalIsZero(t *testing.T) {
	f := build(t, Func{
		Results: []wasm.ValType{wasm.ValI64},
		Locals:  []wasm.ValType{wasm.ValI64},
		Body:    Is(LocalGet(0)),
	})
	ret := f.Inst(f.Terminator(returning(t, f)))
	in := f.Inst(f.Value(ret.Args[0]).Inst)
	if in.Op != ir.OpI64Const || in.Imm.(wasm.I64Imm).Value != 0 || in.Block != f.Entry {
		t.Errorf("local reads %s in %s", in.Op, in.Block)
	}
}

func TestLoopCounter(t *testing.T) {
	f := build(t, Func{
		Params:  i32,
		Results: i32,
		Locals:  i32,
		Body: Is(
			Loop(wasm.BlockTypeVoid),
			LocalGet(1), I32(1), Op(wasm.OpI32Add), LocalSet(1),
			LocalGet(1), LocalGet(0), Op(wasm.OpI32LtS),
			BrIf(0),
			End(),
			LocalGet(1),
		),
	})
	header := f.Succs(f.Entry)[0]
	hd := f.Block(header)
	if hd.State != ir.Resealed {
		t.Errorf("header state = %s, want resealed", hd.State)
	}
	if len(hd.Params) != 1 {
		t.Fatalf("header params = %d, want 1 (the counter)\n%s", len(hd.Params), f)
	}
	if len(hd.Preds) != 2 {
		t.Fatalf("header preds = %d, want 2", len(hd.Preds))
	}
	var sawZero, sawBack bool
	for _, e := range hd.Preds {
		arg := f.EdgeArgs(e)[0]
		if c, ok := constValue(f, arg); ok && c == 0 {
			sawZero = true
		}
		if vd := f.Value(arg); vd.Kind == ir.ValueResult && f.Inst(vd.Inst).Op == ir.Op(wasm.OpI32Add) {
			sawBack = true
		}
	}
	if !sawZero || !sawBack {
		t.Errorf("header args: zero=%v add=%v\n%s", sawZero, sawBack, f)
	}

	ret := f.Inst(f.Terminator(returning(t, f)))
	if vd := f.Value(ret.Args[0]); vd.Kind != ir.ValueResult || f.Inst(vd.Inst).Op != ir.Op(wasm.OpI32Add) {
		t.Errorf("function returns %s, want the loop's sum", ret.Args[0])
	}
}

func TestLoopInvariantLocalGetsNoParam(t *testing.T) {
	f := build(t, Func{
		Params: i32,
		Body: Is(
			Loop(wasm.BlockTypeVoid),
			LocalGet(0), BrIf(0),
			End(),
		),
	})
	header := f.Succs(f.Entry)[0]
	if n := len(f.Block(header).Params); n != 0 {
		t.Errorf("header params = %d, want 0\n%s", n, f)
	}
}

func TestBlockResults(t *testing.T) {
	f := build(t, Func{
		Params:  i32,
		Results: i32,
		Body: Is(
			Block(wasm.BlockTypeI32),
			I32(10),
			LocalGet(0),
			BrIf(0),
			Op(wasm.OpDrop),
			I32(20),
			End(),
		),
	})
	join := returning(t, f)
	bd := f.Block(join)
	if len(bd.Params) != 1 || len(bd.Preds) != 2 {
		t.Fatalf("join has %d params and %d preds\n%s", len(bd.Params), len(bd.Preds), f)
	}
}

func TestBrTableTargets(t *testing.T) {
	f := build(t, Func{
		Params: i32,
		Body: Is(
			Block(wasm.BlockTypeVoid),
			Block(wasm.BlockTypeVoid),
			LocalGet(0),
			BrTable(2, 0, 1),
			End(),
			End(),
		),
	})
	term := f.Inst(f.Terminator(f.Entry))
	if term.Op != ir.OpBrTable {
		t.Fatalf("entry ends in %s", term.Op)
	}
	if len(term.Targets) != 3 {
		t.Fatalf("targets = %d, want 3", len(term.Targets))
	}
	def := term.Targets[2].Block
	if ret := f.Inst(f.Terminator(def)); ret.Op != ir.OpReturn {
		t.Errorf("default target ends in %s, want return", ret.Op)
	}
	if term.Targets[0].Block == term.Targets[1].Block {
		t.Error("labels 0 and 1 share a target")
	}
}

func TestBrIfToFunction(t *testing.T) {
	f := build(t, Func{
		Params:  i32,
		Results: i32,
		Body: Is(
			I32(5),
			LocalGet(0),
			BrIf(0),
		),
	})
	term := f.Inst(f.Terminator(f.Entry))
	if term.Op != ir.OpBrIf || len(term.Targets) != 2 {
		t.Fatalf("entry ends in %s", term.Op)
	}
	taken := term.Targets[0].Block
	if ret := f.Inst(f.Terminator(taken)); ret.Op != ir.OpReturn || len(ret.Args) != 1 {
		t.Errorf("taken branch does not return the value")
	}
}

func TestUnreachableCodeSkipped(t *testing.T) {
	f := build(t, Func{
		Results: i32,
		Body: Is(
			Block(wasm.BlockTypeVoid),
			Br(0),
			Op(wasm.OpI32Add),
			Block(wasm.BlockTypeVoid),
			Op(wasm.OpI64Add),
			End(),
			End(),
			I32(3),
			Op(wasm.OpReturn),
			Op(wasm.OpF32Add),
		),
	})
	for _, b := range f.Blocks() {
		for _, i := range f.Block(b).Insts {
			if op := f.Inst(i).Op; op == ir.Op(wasm.OpI32Add) || op == ir.Op(wasm.OpI64Add) || op == ir.Op(wasm.OpF32Add) {
				t.Errorf("unreachable %s was lowered", op)
			}
		}
	}
}

func TestDeadJoinIsRemoved(t *testing.T) {
	f := build(t, Func{
		Results: i32,
		Body: Is(
			Block(wasm.BlockTypeI32),
			Op(wasm.OpUnreachable),
			End(),
		),
	})
	for _, b := range f.Blocks() {
		if b != f.Entry && len(f.Block(b).Preds) == 0 {
			t.Errorf("%s has no preds\n%s", b, f)
		}
	}
}

func TestCallsAndSelect(t *testing.T) {
	m := Module([]Func{
		{
			Params:  i32x(2),
			Results: i32,
			Body: Is(
				LocalGet(0), Call(0),
				LocalGet(1),
				LocalGet(0),
				Op(wasm.OpSelect),
			),
		},
	})
	m.Imports = []wasm.Import{{Module: "env", Name: "f", Desc: wasm.ImportDesc{Kind: wasm.KindFunc, TypeIdx: m.AddType(wasm.FuncType{Params: i32, Results: i32})}}}
	f, err := frontend.Build(m, 1)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	var ops []ir.Op
	for _, i := range f.Block(f.Entry).Insts {
		ops = append(ops, f.Inst(i).Op)
	}
	want := []ir.Op{ir.OpCall, ir.OpSelect, ir.OpReturn}
	if len(ops) != len(want) {
		t.Fatalf("ops = %v, want %v", ops, want)
	}
	for k := range want {
		if ops[k] != want[k] {
			t.Errorf("op %d = %s, want %s", k, ops[k], want[k])
		}
	}
}

func TestDeterministic(t *testing.T) {
	fn := Func{
		Params:  i32x(2),
		Results: i32,
		Locals:  i32x(2),
		Body: Is(
			Loop(wasm.BlockTypeVoid),
			LocalGet(0),
			If(wasm.BlockTypeVoid),
			LocalGet(2), LocalGet(1), Op(wasm.OpI32Add), LocalSet(2),
			Else(),
			LocalGet(3), I32(1), Op(wasm.OpI32Sub), LocalSet(3),
			End(),
			LocalGet(0), I32(1), Op(wasm.OpI32Sub), LocalTee(0),
			BrIf(0),
			End(),
			LocalGet(2), LocalGet(3), Op(wasm.OpI32Add),
		),
	}
	first := build(t, fn).String()
	for i := 0; i < 5; i++ {
		if got := build(t, fn).String(); got != first {
			t.Fatalf("run %d differs:\n%s\nvs\n%s", i, got, first)
		}
	}
}

func TestBuildErrors(t *testing.T) {
	tests := []struct {
		name string
		fn   Func
		kind errors.Kind
		pos  int
	}{
		{"underflow", Func{Body: Is(Op(wasm.OpNop), Op(wasm.OpI32Add))}, errors.KindStackUnderflow, 1},
		{"type", Func{Body: Is(I64(1), I32(2), Op(wasm.OpI32Add))}, errors.KindTypeMismatch, 2},
		{"label", Func{Body: Is(Br(3))}, errors.KindInvalidLabel, 0},
		{"local", Func{Body: Is(LocalGet(4))}, errors.KindInvalidIndex, 0},
		{"call", Func{Body: Is(Call(9))}, errors.KindInvalidIndex, 0},
		{"leftover", Func{Body: Is(I32(1))}, errors.KindTypeMismatch, 1},
		{"result", Func{Results: i32, Body: Is(I64(1))}, errors.KindTypeMismatch, 1},
		{"global", Func{Body: Is(wasm.Instruction{Opcode: wasm.OpGlobalGet, Imm: wasm.GlobalImm{GlobalIdx: 0}}, Op(wasm.OpDrop))}, errors.KindInvalidIndex, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := frontend.Build(Module([]Func{tt.fn}), 0)
			var e *errors.Error
			if !stderrors.As(err, &e) {
				t.Fatalf("err = %v, want *errors.Error", err)
			}
			if e.Phase != errors.PhaseBuild || e.Kind != tt.kind {
				t.Errorf("got %s/%s, want build/%s: %v", e.Phase, e.Kind, tt.kind, e)
			}
			if e.Pos != tt.pos || e.Func != 0 {
				t.Errorf("reported func %d pos %d, want func 0 pos %d", e.Func, e.Pos, tt.pos)
			}
		})
	}
}

func TestUnsupportedInstruction(t *testing.T) {
	m := Module([]Func{{}})
	m.Code[0].Code = []byte{wasm.OpI32Const, 0, wasm.OpDrop, wasm.OpPrefixSIMD, 0x0C, wasm.OpEnd}
	_, err := frontend.Build(m, 0)
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseBuild, Kind: errors.KindUnsupported}) {
		t.Fatalf("err = %v, want build/unsupported", err)
	}
	var e *errors.Error
	stderrors.As(err, &e)
	if e.Pos != 2 {
		t.Errorf("pos = %d, want 2", e.Pos)
	}
}

func TestTooManyLocals(t *testing.T) {
	m := Module([]Func{{}})
	m.Code[0].Locals = []wasm.LocalEntry{{Count: frontend.MaxLocals + 1, ValType: wasm.ValI32}}
	_, err := frontend.Build(m, 0)
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseBuild, Kind: errors.KindUnsupported}) {
		t.Fatalf("err = %v, want build/unsupported", err)
	}
}

func TestImmutableGlobal(t *testing.T) {
	m := Module([]Func{{Body: Is(I32(1), wasm.Instruction{Opcode: wasm.OpGlobalSet, Imm: wasm.GlobalImm{}})}})
	m.Globals = []wasm.Global{{Type: wasm.GlobalType{ValType: wasm.ValI32}, Init: []byte{wasm.OpI32Const, 0, wasm.OpEnd}}}
	_, err := frontend.Build(m, 0)
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseBuild, Kind: errors.KindTypeMismatch}) {
		t.Fatalf("err = %v, want build/type_mismatch", err)
	}
}
