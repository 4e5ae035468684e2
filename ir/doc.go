// Package ir is the arena-backed CFG/SSA representation of function bodies.
//
// A Function owns three arenas (blocks, values, instructions) addressed by
// small typed handles. Block parameters take the place of phi nodes: every
// terminator target carries the argument list for the destination's params.
//
//	f := ir.NewFunction(0, ir.Signature{Params: []ir.Type{ir.I32}, Results: []ir.Type{ir.I32}})
//	x := f.Block(f.Entry).Params[0]
//	one := f.AddInst(f.Entry, ir.OpI32Const, wasm.I32Imm{Value: 1}, nil, ir.I32)
//	sum := f.AddInst(f.Entry, ir.Op(wasm.OpI32Add), nil, []ir.Value{x, f.Inst(one).Results[0]}, ir.I32)
//	f.AddTerminator(f.Entry, ir.OpReturn, nil, f.Inst(sum).Results, nil)
//
// Entities are never removed in place. Kill, KillBlock and RemoveParam
// tombstone them, ReplaceAllUses turns a value into an alias, and Compact
// renumbers what is left and returns a Remap for handles held elsewhere.
//
// Operator metadata lives in a table built at package init and is only read
// afterwards, so it is safe to share across goroutines. A single Function is
// not safe for concurrent use.
package ir
