package ir

import (
	"strings"
	"testing"

	"github.com/wippyai/wasm-ir/wasm"
)

func i32Const(f *Function, b Block, v int32) Value {
	return f.Inst(f.AddInst(b, OpI32Const, wasm.I32Imm{Value: v}, nil, I32)).Results[0]
}

// diamond builds
//
//	entry -> then | else -> join(p) -> return p
func diamond(t *testing.T) (f *Function, then, els, join Block, p Value) {
	t.Helper()
	f = NewFunction(0, Signature{Params: []Type{I32}, Results: []Type{I32}})
	cond := f.Block(f.Entry).Params[0]
	then, els, join = f.NewBlock(), f.NewBlock(), f.NewBlock()
	f.AddTerminator(f.Entry, OpBrIf, nil, []Value{cond}, []BlockTarget{{Block: then}, {Block: els}})
	p = f.AddParam(join, I32)
	a := i32Const(f, then, 1)
	f.AddTerminator(then, OpBr, nil, nil, []BlockTarget{{Block: join, Args: []Value{a}}})
	c := i32Const(f, els, 2)
	f.AddTerminator(els, OpBr, nil, nil, []BlockTarget{{Block: join, Args: []Value{c}}})
	f.AddTerminator(join, OpReturn, nil, []Value{p}, nil)
	return f, then, els, join, p
}

func TestNewFunctionEntry(t *testing.T) {
	f := NewFunction(3, Signature{Params: []Type{I32, F64}})
	entry := f.Block(f.Entry)
	if len(entry.Params) != 2 {
		t.Fatalf("entry params = %d, want 2", len(entry.Params))
	}
	if got := f.Value(entry.Params[1]).Type; got != F64 {
		t.Errorf("param 1 type = %s, want f64", got)
	}
	if entry.State != Sealed {
		t.Errorf("entry state = %s, want sealed", entry.State)
	}
	if len(entry.Preds) != 0 {
		t.Errorf("entry has preds")
	}
}

func TestOpInfo(t *testing.T) {
	tests := []struct {
		op      Op
		name    string
		args    []Type
		results []Type
		pure    bool
	}{
		{Op(wasm.OpI32Add), "i32.add", []Type{I32, I32}, []Type{I32}, true},
		{Op(wasm.OpI64Eqz), "i64.eqz", []Type{I64}, []Type{I32}, true},
		{Op(wasm.OpI32DivS), "i32.div_s", []Type{I32, I32}, []Type{I32}, false},
		{Op(wasm.OpF64Store), "f64.store", []Type{I32, F64}, nil, false},
		{MiscOp(wasm.MiscI64TruncSatF64U), "i64.trunc_sat_f64_u", []Type{F64}, []Type{I64}, true},
		{MiscOp(wasm.MiscMemoryFill), "memory.fill", []Type{I32, I32, I32}, nil, false},
	}
	for _, tt := range tests {
		info := tt.op.Info()
		if info == nil {
			t.Fatalf("%s: no info", tt.name)
		}
		if info.Name != tt.name {
			t.Errorf("name = %q, want %q", info.Name, tt.name)
		}
		if !typesEqual(info.Args, tt.args) || !typesEqual(info.Results, tt.results) {
			t.Errorf("%s: sig %v -> %v", tt.name, info.Args, info.Results)
		}
		if info.Pure() != tt.pure {
			t.Errorf("%s: pure = %v", tt.name, info.Pure())
		}
	}
	if Op(0x06).Info() != nil {
		t.Error("0x06 should not be an operator")
	}
	if !OpBrTable.Info().Has(FlagTerminator | FlagBranch) {
		t.Error("br_table should be a branch terminator")
	}
	if op, sub, misc := OpTableGrow.Encoding(); op != wasm.OpPrefixMisc || sub != wasm.MiscTableGrow || !misc {
		t.Errorf("table.grow encoding = %x %d %v", op, sub, misc)
	}
}

func TestAddInstBeforeTerminator(t *testing.T) {
	f, then, _, join, _ := diamond(t)
	v := i32Const(f, then, 7)
	insts := f.Block(then).Insts
	if f.Terminator(then) != insts[len(insts)-1] {
		t.Fatal("terminator is not last")
	}
	if f.Inst(insts[len(insts)-2]).Results[0] != v {
		t.Error("new instruction not placed before terminator")
	}
	if len(f.Block(join).Preds) != 2 {
		t.Errorf("join preds = %d, want 2", len(f.Block(join).Preds))
	}
}

func TestReplaceAllUses(t *testing.T) {
	f, _, _, join, p := diamond(t)
	ret := f.Terminator(join)
	x := f.Block(f.Entry).Params[0]

	f.ReplaceAllUses(p, x)
	if f.Inst(ret).Args[0] != x {
		t.Fatalf("return arg = %s, want %s", f.Inst(ret).Args[0], x)
	}
	if f.Value(p).Kind != ValueAlias || f.Resolve(p) != x {
		t.Errorf("p not aliased to %s", x)
	}
	if len(f.Value(p).Users) != 0 {
		t.Errorf("old value keeps users")
	}
	users := f.Value(x).Users
	if len(users) != 2 || users[1] != ret {
		t.Errorf("users of x = %v", users)
	}
}

func TestRemoveParamDropsEdgeArgs(t *testing.T) {
	f, then, els, join, p := diamond(t)
	a := f.EdgeArgs(f.Block(join).Preds[0])[0]
	f.ReplaceAllUses(p, a)
	f.RemoveParam(p)

	if n := len(f.Block(join).Params); n != 0 {
		t.Fatalf("join params = %d", n)
	}
	for _, b := range []Block{then, els} {
		term := f.Terminator(b)
		if n := len(f.Inst(term).Targets[0].Args); n != 0 {
			t.Errorf("%s still passes %d args", b, n)
		}
	}
	if n := len(f.Value(a).Users); n != 1 {
		t.Errorf("users of %s = %d, want 1 (the return)", a, n)
	}
}

func TestKillBranchRemovesPreds(t *testing.T) {
	f, then, _, join, _ := diamond(t)
	f.Kill(f.Terminator(then))
	preds := f.Block(join).Preds
	if len(preds) != 1 || preds[0].From == then {
		t.Fatalf("preds after kill = %v", preds)
	}
	if f.Terminator(then) != NoInst {
		t.Error("killed terminator still listed")
	}
}

func TestRetarget(t *testing.T) {
	f, then, els, join, _ := diamond(t)
	other := f.NewBlock()
	q := f.AddParam(other, I32)
	f.AddTerminator(other, OpReturn, nil, []Value{q}, nil)

	e := f.Block(join).Preds[1]
	v := i32Const(f, els, 9)
	f.Retarget(e, other, []Value{v})
	if f.Dest(e) != other {
		t.Fatalf("dest = %s", f.Dest(e))
	}
	if len(f.Block(join).Preds) != 1 || f.Block(join).Preds[0].From != then {
		t.Errorf("join preds = %v", f.Block(join).Preds)
	}
	if len(f.Block(other).Preds) != 1 {
		t.Errorf("other preds = %v", f.Block(other).Preds)
	}
}

func TestRecomputePreds(t *testing.T) {
	f, _, _, join, _ := diamond(t)
	want := append([]Edge(nil), f.Block(join).Preds...)
	f.Block(join).Preds = nil
	f.RecomputePreds()
	got := f.Block(join).Preds
	if len(got) != len(want) {
		t.Fatalf("preds = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("pred %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestCompact(t *testing.T) {
	f, then, els, join, p := diamond(t)
	dead := i32Const(f, f.Entry, 42)
	f.Kill(f.Value(dead).Inst)
	spare := f.NewBlock()
	f.KillBlock(spare)

	retOld := f.Terminator(join)
	r := f.Compact()

	if r.Block(spare) != NoBlock {
		t.Error("dead block survived")
	}
	if r.Value(dead) != NoValue {
		t.Error("dead value survived")
	}
	if f.NumBlocks() != 4 {
		t.Errorf("blocks = %d, want 4", f.NumBlocks())
	}
	nj := r.Block(join)
	if f.Terminator(nj) != r.Inst(retOld) {
		t.Error("terminator remap mismatch")
	}
	if f.Inst(f.Terminator(nj)).Args[0] != r.Value(p) {
		t.Error("return arg remap mismatch")
	}
	preds := f.Block(nj).Preds
	if len(preds) != 2 || preds[0].From != r.Block(then) || preds[1].From != r.Block(els) {
		t.Errorf("preds = %v", preds)
	}
	for v := 0; v < f.NumValues(); v++ {
		for _, u := range f.Value(Value(v)).Users {
			if !f.HasInst(u) {
				t.Errorf("v%d has dangling user %s", v, u)
			}
		}
	}
}

func TestCompactResolvesAliases(t *testing.T) {
	f, _, _, join, p := diamond(t)
	x := f.Block(f.Entry).Params[0]
	f.ReplaceAllUses(p, x)
	f.RemoveParam(p)
	r := f.Compact()
	if r.Value(p) != r.Value(x) {
		t.Errorf("alias remapped to %s, want %s", r.Value(p), r.Value(x))
	}
	if got := f.Inst(f.Terminator(r.Block(join))).Args[0]; got != r.Value(x) {
		t.Errorf("return arg = %s", got)
	}
}

func TestDominators(t *testing.T) {
	f, then, els, join, _ := diamond(t)
	dt := Dominators(f)
	if dt.Idom(then) != f.Entry || dt.Idom(els) != f.Entry || dt.Idom(join) != f.Entry {
		t.Errorf("idoms: %s %s %s", dt.Idom(then), dt.Idom(els), dt.Idom(join))
	}
	if dt.Dominates(then, join) {
		t.Error("then must not dominate join")
	}
	if !dt.Dominates(f.Entry, join) || !dt.Dominates(join, join) {
		t.Error("entry dominates join and join dominates itself")
	}
	if dt.StrictlyDominates(join, join) {
		t.Error("strict dominance is irreflexive")
	}
	if got := dt.Children(f.Entry); len(got) != 3 {
		t.Errorf("entry children = %v", got)
	}

	pdt := PostDominators(f)
	if pdt.Idom(then) != join || pdt.Idom(f.Entry) != join {
		t.Errorf("ipdom(then) = %s, ipdom(entry) = %s", pdt.Idom(then), pdt.Idom(f.Entry))
	}
	if pdt.Idom(join) != NoBlock {
		t.Errorf("ipdom(join) = %s, want virtual exit", pdt.Idom(join))
	}
}

func TestUnreachableBlock(t *testing.T) {
	f, _, _, join, _ := diamond(t)
	orphan := f.NewBlock()
	f.AddTerminator(orphan, OpBr, nil, nil, []BlockTarget{{Block: join, Args: []Value{i32Const(f, orphan, 3)}}})
	dt := Dominators(f)
	if dt.Reachable(orphan) {
		t.Error("orphan reported reachable")
	}
	if dt.Idom(join) != f.Entry {
		t.Errorf("idom(join) = %s", dt.Idom(join))
	}
	for _, b := range ReversePostOrder(f) {
		if b == orphan {
			t.Error("orphan in RPO")
		}
	}
}

// twoEntryLoop builds entry -> a | b, a -> b, b -> a | exit.
func twoEntryLoop() (f *Function, a, b, exit Block) {
	f = NewFunction(0, Signature{Params: []Type{I32}})
	c := f.Block(f.Entry).Params[0]
	a, b, exit = f.NewBlock(), f.NewBlock(), f.NewBlock()
	f.AddTerminator(f.Entry, OpBrIf, nil, []Value{c}, []BlockTarget{{Block: a}, {Block: b}})
	f.AddTerminator(a, OpBr, nil, nil, []BlockTarget{{Block: b}})
	f.AddTerminator(b, OpBrIf, nil, []Value{c}, []BlockTarget{{Block: a}, {Block: exit}})
	f.AddTerminator(exit, OpReturn, nil, nil, nil)
	return f, a, b, exit
}

func TestReducibility(t *testing.T) {
	f, _, _, _, _ := diamond(t)
	if !IsReducible(f) {
		t.Error("diamond must be reducible")
	}

	loop := NewFunction(0, Signature{Params: []Type{I32}})
	h := loop.NewBlock()
	exit := loop.NewBlock()
	loop.AddTerminator(loop.Entry, OpBr, nil, nil, []BlockTarget{{Block: h}})
	c := loop.Block(loop.Entry).Params[0]
	loop.AddTerminator(h, OpBrIf, nil, []Value{c}, []BlockTarget{{Block: h}, {Block: exit}})
	loop.AddTerminator(exit, OpReturn, nil, nil, nil)
	if !IsReducible(loop) {
		t.Error("self loop must be reducible")
	}
	if be := BackEdges(loop, Dominators(loop)); len(be) != 1 || loop.Dest(be[0]) != h {
		t.Errorf("back edges = %v", be)
	}

	irr, _, _, _ := twoEntryLoop()
	if IsReducible(irr) {
		t.Error("two-entry loop must be irreducible")
	}
	if len(BackEdges(irr, Dominators(irr))) != 0 {
		t.Error("two-entry loop has no dominating back edge")
	}
	if len(RetreatingEdges(irr)) != 1 {
		t.Errorf("retreating edges = %v", RetreatingEdges(irr))
	}
}

func TestDeepChain(t *testing.T) {
	const depth = 200000
	f := NewFunction(0, Signature{})
	prev := f.Entry
	for i := 0; i < depth; i++ {
		next := f.NewBlock()
		f.AddTerminator(prev, OpBr, nil, nil, []BlockTarget{{Block: next}})
		prev = next
	}
	f.AddTerminator(prev, OpReturn, nil, nil, nil)

	dt := Dominators(f)
	if !dt.Dominates(f.Entry, prev) {
		t.Error("entry must dominate the tail")
	}
	if got := len(ReversePostOrder(f)); got != depth+1 {
		t.Errorf("rpo len = %d", got)
	}
	if pdt := PostDominators(f); !pdt.Dominates(prev, f.Entry) {
		t.Error("tail must postdominate the entry")
	}
}

func TestFormat(t *testing.T) {
	f, _, _, _, _ := diamond(t)
	out := Format(f)
	for _, want := range []string{
		"func 0 (i32) -> (i32) {",
		"block0(v0: i32): ; entry",
		"br_if v0, block1(), block2()",
		"v2 = i32.const <1>",
		"block3(v1: i32):",
		"return v1",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in\n%s", want, out)
		}
	}
	if Format(f) != out {
		t.Error("format is not stable")
	}
}

func TestModule(t *testing.T) {
	src := &wasm.Module{
		Types: []wasm.FuncType{{Params: []wasm.ValType{wasm.ValI32}}, {Results: []wasm.ValType{wasm.ValI64}}},
		Imports: []wasm.Import{
			{Module: "env", Name: "log", Desc: wasm.ImportDesc{Kind: wasm.KindFunc, TypeIdx: 0}},
			{Module: "env", Name: "mem", Desc: wasm.ImportDesc{Kind: wasm.KindMemory, Memory: &wasm.MemoryType{}}},
		},
		Funcs:   []uint32{1},
		Exports: []wasm.Export{{Name: "run", Kind: wasm.KindFunc, Idx: 1}},
	}
	m := NewModule(src)
	if len(m.Funcs) != 2 || m.NumImported() != 1 {
		t.Fatalf("funcs = %d, imported = %d", len(m.Funcs), m.NumImported())
	}
	if !m.Func(0).Imported() || m.Func(1).Imported() {
		t.Error("import flags wrong")
	}
	if m.Func(1).Name != "run" {
		t.Errorf("name = %q", m.Func(1).Name)
	}
	sig, ok := m.Signature(1)
	if !ok || len(sig.Results) != 1 || sig.Results[0] != I64 {
		t.Errorf("signature = %v", sig)
	}
}
