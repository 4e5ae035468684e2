package passes

import "github.com/wippyai/wasm-ir/ir"

// SplitCriticalEdges gives every edge from a block with several successors
// to a block with several predecessors a block of its own. The new block
// forwards the edge's arguments with a br.
func SplitCriticalEdges(f *ir.Function) error {
	for _, b := range f.Blocks() {
		term := f.Terminator(b)
		if term == ir.NoInst {
			continue
		}
		targets := f.Inst(term).Targets
		if len(targets) < 2 {
			continue
		}
		for k := range targets {
			e := ir.Edge{From: b, Inst: term, Succ: k}
			dest := f.Dest(e)
			if len(f.Block(dest).Preds) < 2 {
				continue
			}
			args := append([]ir.Value(nil), f.EdgeArgs(e)...)
			mid := f.NewBlock()
			f.Block(mid).State = ir.Sealed
			f.Retarget(e, mid, nil)
			f.AddTerminator(mid, ir.OpBr, nil, nil, []ir.BlockTarget{{Block: dest, Args: args}})
		}
	}
	return nil
}
