// Package irtest holds hand-built IR functions for tests.
package irtest

import (
	"github.com/wippyai/wasm-ir/ir"
	"github.com/wippyai/wasm-ir/wasm"
)

// TwoEntrySig is the signature of TwoEntryLoop: (n, start i32) -> i32.
var TwoEntrySig = ir.Signature{Params: []ir.Type{ir.I32, ir.I32}, Results: []ir.Type{ir.I32}}

// TwoEntryLoop builds an irreducible loop between blocks A and B, entered
// at A when start is non-zero and at B otherwise. A adds one, B triples,
// and each step decrements n until it reaches zero.
//
//	entry(n, start): br_if start A(n, 0) B(n, 0)
//	A(n, acc):       br_if n-1 B(n-1, acc+1) X(acc+1)
//	B(n, acc):       br_if n-1 A(n-1, acc*3) X(acc*3)
//	X(r):            return r
func TwoEntryLoop() *ir.Function {
	f := ir.NewFunction(0, TwoEntrySig)
	params := f.Block(f.Entry).Params
	n, start := params[0], params[1]
	zero, one, three := i32(f, 0), i32(f, 1), i32(f, 3)

	a, b, x := f.NewBlock(), f.NewBlock(), f.NewBlock()
	an, aacc := f.AddParam(a, ir.I32), f.AddParam(a, ir.I32)
	bn, bacc := f.AddParam(b, ir.I32), f.AddParam(b, ir.I32)
	r := f.AddParam(x, ir.I32)
	for _, blk := range []ir.Block{a, b, x} {
		f.Block(blk).State = ir.Sealed
	}

	f.AddTerminator(f.Entry, ir.OpBrIf, nil, []ir.Value{start}, []ir.BlockTarget{
		{Block: a, Args: []ir.Value{n, zero}},
		{Block: b, Args: []ir.Value{n, zero}},
	})

	acc1 := result(f, f.AddInst(a, ir.Op(wasm.OpI32Add), nil, []ir.Value{aacc, one}, ir.I32))
	n1 := result(f, f.AddInst(a, ir.Op(wasm.OpI32Sub), nil, []ir.Value{an, one}, ir.I32))
	f.AddTerminator(a, ir.OpBrIf, nil, []ir.Value{n1}, []ir.BlockTarget{
		{Block: b, Args: []ir.Value{n1, acc1}},
		{Block: x, Args: []ir.Value{acc1}},
	})

	acc2 := result(f, f.AddInst(b, ir.Op(wasm.OpI32Mul), nil, []ir.Value{bacc, three}, ir.I32))
	n2 := result(f, f.AddInst(b, ir.Op(wasm.OpI32Sub), nil, []ir.Value{bn, one}, ir.I32))
	f.AddTerminator(b, ir.OpBrIf, nil, []ir.Value{n2}, []ir.BlockTarget{
		{Block: a, Args: []ir.Value{n2, acc2}},
		{Block: x, Args: []ir.Value{acc2}},
	})

	f.AddTerminator(x, ir.OpReturn, nil, []ir.Value{r}, nil)
	return f
}

// TwoEntryResult computes what TwoEntryLoop returns, for n >= 1.
func TwoEntryResult(n, start int32) int32 {
	var acc int32
	inA := start != 0
	for {
		if inA {
			acc++
		} else {
			acc *= 3
		}
		n--
		if n == 0 {
			return acc
		}
		inA = !inA
	}
}

func i32(f *ir.Function, v int32) ir.Value {
	return result(f, f.AddInst(f.Entry, ir.OpI32Const, wasm.I32Imm{Value: v}, nil, ir.I32))
}

func result(f *ir.Function, i ir.Inst) ir.Value { return f.Inst(i).Results[0] }
