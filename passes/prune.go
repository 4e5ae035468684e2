package passes

import "github.com/wippyai/wasm-ir/ir"

// Prune removes unreachable blocks, then pure instructions and block params
// whose values are never used. Removing one use can make its operands dead
// in turn; this is followed through a worklist.
func Prune(f *ir.Function) error {
	dt := ir.Dominators(f)
	for _, b := range f.Blocks() {
		if !dt.Reachable(b) {
			f.KillBlock(b)
		}
	}

	var work []ir.Value
	for v := 0; v < f.NumValues(); v++ {
		work = append(work, ir.Value(v))
	}
	for len(work) > 0 {
		v := work[len(work)-1]
		work = work[:len(work)-1]
		if !f.HasValue(v) {
			continue
		}
		vd := f.Value(v)
		if vd.Kind == ir.ValueAlias || len(vd.Users) > 0 {
			continue
		}
		switch vd.Kind {
		case ir.ValueResult:
			in := f.Inst(vd.Inst)
			info := in.Op.Info()
			if in.Dead || info == nil || !info.Pure() || anyUsed(f, in.Results) {
				continue
			}
			args := append([]ir.Value(nil), in.Args...)
			f.Kill(vd.Inst)
			work = append(work, args...)
		case ir.ValueParam:
			if vd.Block == f.Entry {
				continue
			}
			var args []ir.Value
			for _, e := range f.Block(vd.Block).Preds {
				if ea := f.EdgeArgs(e); vd.Index < len(ea) {
					args = append(args, ea[vd.Index])
				}
			}
			f.RemoveParam(v)
			work = append(work, args...)
		}
	}
	return nil
}

func anyUsed(f *ir.Function, vs []ir.Value) bool {
	for _, v := range vs {
		if len(f.Value(v).Users) > 0 {
			return true
		}
	}
	return false
}
