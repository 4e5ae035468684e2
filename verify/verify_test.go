package verify_test

import (
	stderrors "errors"
	"testing"

	"go.uber.org/multierr"

	"github.com/wippyai/wasm-ir/errors"
	"github.com/wippyai/wasm-ir/frontend"
	. "github.com/wippyai/wasm-ir/internal/wasmtest"
	"github.com/wippyai/wasm-ir/ir"
	"github.com/wippyai/wasm-ir/verify"
	"github.com/wippyai/wasm-ir/wasm"
)

var i32Sig = ir.Signature{Params: []ir.Type{ir.I32}, Results: []ir.Type{ir.I32}}

func i32const(f *ir.Function, b ir.Block, v int32) ir.Value {
	return f.Inst(f.AddInst(b, ir.OpI32Const, wasm.I32Imm{Value: v}, nil, ir.I32)).Results[0]
}

func wantKind(t *testing.T, err error, kind errors.Kind) {
	t.Helper()
	var e *errors.Error
	if !stderrors.As(err, &e) {
		t.Fatalf("err = %v, want a verify error", err)
	}
	if e.Phase != errors.PhaseVerify || e.Kind != kind {
		t.Fatalf("got %s/%s, want verify/%s: %v", e.Phase, e.Kind, kind, e)
	}
}

func TestBuiltFunctionsVerify(t *testing.T) {
	funcs := []Func{
		{Params: []wasm.ValType{wasm.ValI32}, Results: []wasm.ValType{wasm.ValI32}, Locals: []wasm.ValType{wasm.ValI32},
			Body: Is(
				LocalGet(0),
				If(wasm.BlockTypeVoid), I32(1), LocalSet(1), Else(), I32(2), LocalSet(1), End(),
				LocalGet(1),
			)},
		{Params: []wasm.ValType{wasm.ValI32}, Results: []wasm.ValType{wasm.ValI32}, Locals: []wasm.ValType{wasm.ValI32},
			Body: Is(
				Loop(wasm.BlockTypeVoid),
				LocalGet(1), LocalGet(0), Op(wasm.OpI32Add), LocalSet(1),
				LocalGet(0), I32(1), Op(wasm.OpI32Sub), LocalTee(0),
				BrIf(0),
				End(),
				Block(wasm.BlockTypeVoid),
				Block(wasm.BlockTypeVoid),
				LocalGet(1), BrTable(0, 1, 0),
				End(),
				End(),
				LocalGet(1),
			)},
	}
	m := Module(funcs)
	mod := ir.NewModule(m)
	for i := range funcs {
		f, err := frontend.Build(m, uint32(i))
		if err != nil {
			t.Fatalf("Build(%d): %v", i, err)
		}
		if err := verify.Function(f); err != nil {
			t.Errorf("Function(%d): %v\n%s", i, err, f)
		}
		if err := verify.Reducible(f); err != nil {
			t.Errorf("Reducible(%d): %v", i, err)
		}
		mod.Funcs[i].Body = f
	}
	if err := verify.Module(mod); err != nil {
		t.Errorf("Module: %v", err)
	}
}

func TestEdgeArity(t *testing.T) {
	f := ir.NewFunction(0, i32Sig)
	join := f.NewBlock()
	f.AddParam(join, ir.I32)
	f.Block(join).State = ir.Sealed
	f.AddTerminator(f.Entry, ir.OpBr, nil, nil, []ir.BlockTarget{{Block: join}})
	f.AddTerminator(join, ir.OpReturn, nil, f.Block(join).Params, nil)
	wantKind(t, verify.Function(f), errors.KindArity)
}

func TestEdgeType(t *testing.T) {
	f := ir.NewFunction(0, i32Sig)
	join := f.NewBlock()
	f.AddParam(join, ir.I64)
	c := i32const(f, f.Entry, 1)
	f.AddTerminator(f.Entry, ir.OpBr, nil, nil, []ir.BlockTarget{{Block: join, Args: []ir.Value{c}}})
	f.AddTerminator(join, ir.OpReturn, nil, []ir.Value{c}, nil)
	wantKind(t, verify.Function(f), errors.KindArity)
}

func TestOperandType(t *testing.T) {
	f := ir.NewFunction(0, i32Sig)
	x := f.Block(f.Entry).Params[0]
	f.AddInst(f.Entry, ir.Op(wasm.OpI64Add), nil, []ir.Value{x, x}, ir.I64)
	f.AddTerminator(f.Entry, ir.OpReturn, nil, []ir.Value{x}, nil)
	wantKind(t, verify.Function(f), errors.KindArity)
}

func TestReturnArity(t *testing.T) {
	f := ir.NewFunction(0, i32Sig)
	f.AddTerminator(f.Entry, ir.OpReturn, nil, nil, nil)
	wantKind(t, verify.Function(f), errors.KindArity)
}

func TestDanglingValue(t *testing.T) {
	f := ir.NewFunction(0, i32Sig)
	c := i32const(f, f.Entry, 3)
	f.AddTerminator(f.Entry, ir.OpReturn, nil, []ir.Value{c}, nil)
	f.Kill(f.Value(c).Inst)
	wantKind(t, verify.Function(f), errors.KindDangling)
}

func TestDanglingTarget(t *testing.T) {
	f := ir.NewFunction(0, i32Sig)
	dead := f.NewBlock()
	f.AddTerminator(f.Entry, ir.OpBr, nil, nil, []ir.BlockTarget{{Block: dead}})
	f.Block(dead).Dead = true
	wantKind(t, verify.Function(f), errors.KindDangling)
}

func TestMissingTerminator(t *testing.T) {
	f := ir.NewFunction(0, i32Sig)
	i32const(f, f.Entry, 1)
	wantKind(t, verify.Function(f), errors.KindMalformed)
}

func TestDominanceAcrossBlocks(t *testing.T) {
	f := ir.NewFunction(0, i32Sig)
	x := f.Block(f.Entry).Params[0]
	then, els, join := f.NewBlock(), f.NewBlock(), f.NewBlock()
	f.AddTerminator(f.Entry, ir.OpBrIf, nil, []ir.Value{x}, []ir.BlockTarget{{Block: then}, {Block: els}})
	c := i32const(f, then, 1)
	f.AddTerminator(then, ir.OpBr, nil, nil, []ir.BlockTarget{{Block: join}})
	f.AddTerminator(els, ir.OpBr, nil, nil, []ir.BlockTarget{{Block: join}})
	f.AddTerminator(join, ir.OpReturn, nil, []ir.Value{c}, nil)

	err := verify.Function(f)
	wantKind(t, err, errors.KindDominance)
	var e *errors.Error
	stderrors.As(err, &e)
	if len(e.Path) == 0 || e.Path[0] != join.String() {
		t.Errorf("path = %v, want the join block first", e.Path)
	}
}

func TestDominanceWithinBlock(t *testing.T) {
	f := ir.NewFunction(0, i32Sig)
	x := f.Block(f.Entry).Params[0]
	first := f.AddInst(f.Entry, ir.Op(wasm.OpI32Add), nil, []ir.Value{x, x}, ir.I32)
	second := f.AddInst(f.Entry, ir.Op(wasm.OpI32Add), nil, []ir.Value{x, x}, ir.I32)
	f.SetArg(first, 1, f.Inst(second).Results[0])
	f.AddTerminator(f.Entry, ir.OpReturn, nil, f.Inst(first).Results, nil)
	wantKind(t, verify.Function(f), errors.KindDominance)
}

func TestUnreachableBlockIgnoredForDominance(t *testing.T) {
	f := ir.NewFunction(0, i32Sig)
	x := f.Block(f.Entry).Params[0]
	f.AddTerminator(f.Entry, ir.OpReturn, nil, []ir.Value{x}, nil)
	island := f.NewBlock()
	other := f.NewBlock()
	c := i32const(f, other, 1)
	f.AddTerminator(other, ir.OpReturn, nil, []ir.Value{c}, nil)
	f.AddTerminator(island, ir.OpReturn, nil, []ir.Value{c}, nil)
	if err := verify.Function(f); err != nil {
		t.Errorf("Function: %v", err)
	}
}

func TestAllCollectsEveryViolation(t *testing.T) {
	f := ir.NewFunction(0, i32Sig)
	x := f.Block(f.Entry).Params[0]
	f.AddInst(f.Entry, ir.Op(wasm.OpI64Add), nil, []ir.Value{x, x}, ir.I64)
	f.AddTerminator(f.Entry, ir.OpReturn, nil, nil, nil)
	err := verify.All(f)
	if n := len(multierr.Errors(err)); n < 2 {
		t.Fatalf("All found %d violations, want at least 2: %v", n, err)
	}
	if n := len(multierr.Errors(verify.Function(f))); n != 1 {
		t.Errorf("Function returned %d violations, want 1", n)
	}
}

func TestReducible(t *testing.T) {
	f := ir.NewFunction(0, i32Sig)
	x := f.Block(f.Entry).Params[0]
	a, b := f.NewBlock(), f.NewBlock()
	f.AddTerminator(f.Entry, ir.OpBrIf, nil, []ir.Value{x}, []ir.BlockTarget{{Block: a}, {Block: b}})
	f.AddTerminator(a, ir.OpBrIf, nil, []ir.Value{x}, []ir.BlockTarget{{Block: b}, {Block: a}})
	f.AddTerminator(b, ir.OpBr, nil, nil, []ir.BlockTarget{{Block: a}})

	if err := verify.Function(f); err != nil {
		t.Fatalf("Function: %v", err)
	}
	wantKind(t, verify.Reducible(f), errors.KindIrreducible)
}

func TestModuleChecksCalls(t *testing.T) {
	m := Module([]Func{{Params: []wasm.ValType{wasm.ValI32}, Results: []wasm.ValType{wasm.ValI32}, Body: Is(LocalGet(0))}})
	mod := ir.NewModule(m)
	f := ir.NewFunction(0, i32Sig)
	c := f.Inst(f.AddInst(f.Entry, ir.OpI64Const, wasm.I64Imm{}, nil, ir.I64)).Results[0]
	call := f.AddInst(f.Entry, ir.OpCall, wasm.CallImm{FuncIdx: 0}, []ir.Value{c}, ir.I32)
	f.AddTerminator(f.Entry, ir.OpReturn, nil, f.Inst(call).Results, nil)
	mod.Funcs[0].Body = f

	if err := verify.Function(f); err != nil {
		t.Fatalf("Function without module context: %v", err)
	}
	wantKind(t, verify.Module(mod), errors.KindArity)
}
