package restructure

import (
	"slices"

	"github.com/wippyai/wasm-ir/errors"
	"github.com/wippyai/wasm-ir/ir"
)

// makeReducible funnels every multi-entry cycle through a dispatch block:
// a new block whose first param selects the original entry through a
// br_table and whose other params carry each entry's params. Entry edges
// pass their selector and arguments, and zeros for the other entries.
// It repeats until f is reducible and returns the number of dispatch
// blocks added.
func makeReducible(f *ir.Function, maxRounds int) (int, error) {
	if maxRounds <= 0 {
		maxRounds = f.NumBlocks()
	}
	consts := ir.NewConsts(f)
	added := 0
	for round := 0; !ir.IsReducible(f); round++ {
		if round >= maxRounds {
			return added, errors.New(errors.PhaseRestructure, errors.KindInternal).
				Func(f.Index).Detail("still irreducible after %d rounds", round).Build()
		}
		n := splitCycles(f, consts)
		if n == 0 {
			return added, errors.New(errors.PhaseRestructure, errors.KindInternal).
				Func(f.Index).Detail("irreducible cycle without multiple entries").Build()
		}
		added += n
	}
	return added, nil
}

// splitCycles walks the loop nest of f: each strongly connected component
// with more than one entry gets a dispatch block, and the components nested
// inside it are visited with its header removed.
func splitCycles(f *ir.Function, consts *ir.Consts) int {
	dt := ir.Dominators(f)
	rpo := dt.RPO()
	known := ir.Block(f.NumBlocks())
	// Dispatch blocks added in this round are reachable but not in dt.
	reachable := func(b ir.Block) bool { return b >= known || dt.Reachable(b) }
	added := 0
	work := [][]ir.Block{rpo}
	for len(work) > 0 {
		set := work[len(work)-1]
		work = work[:len(work)-1]
		for _, comp := range components(f, set) {
			in := make(map[ir.Block]bool, len(comp))
			for _, b := range comp {
				in[b] = true
			}
			if len(comp) == 1 && !selfLoop(f, comp[0]) {
				continue
			}
			var entries []ir.Block
			for _, b := range comp {
				for _, e := range f.Block(b).Preds {
					if !in[e.From] && reachable(e.From) {
						entries = append(entries, b)
						break
					}
				}
			}
			slices.SortFunc(entries, func(a, b ir.Block) int {
				return dt.RPONumber(a) - dt.RPONumber(b)
			})
			if len(entries) > 1 {
				dispatch(f, consts, entries)
				added++
				work = append(work, comp)
				continue
			}
			if len(entries) == 1 {
				rest := make([]ir.Block, 0, len(comp)-1)
				for _, b := range comp {
					if b != entries[0] {
						rest = append(rest, b)
					}
				}
				work = append(work, rest)
			}
		}
	}
	return added
}

func selfLoop(f *ir.Function, b ir.Block) bool {
	for _, s := range f.Succs(b) {
		if s == b {
			return true
		}
	}
	return false
}

// dispatch redirects every edge into entries through a new block.
func dispatch(f *ir.Function, consts *ir.Consts, entries []ir.Block) ir.Block {
	d := f.NewBlock()
	f.Block(d).State = ir.Sealed
	sel := f.AddParam(d, ir.I32)

	slots := make([][]ir.Value, len(entries))
	for k, e := range entries {
		for _, p := range f.Block(e).Params {
			slots[k] = append(slots[k], f.AddParam(d, f.Value(p).Type))
		}
	}

	preds := make([][]ir.Edge, len(entries))
	for k, e := range entries {
		preds[k] = slices.Clone(f.Block(e).Preds)
	}

	targets := make([]ir.BlockTarget, len(entries))
	for k, e := range entries {
		targets[k] = ir.BlockTarget{Block: e, Args: slots[k]}
	}
	f.AddTerminator(d, ir.OpBrTable, nil, []ir.Value{sel}, targets)

	for k := range entries {
		for _, e := range preds[k] {
			args := []ir.Value{consts.I32(int32(k))}
			orig := f.EdgeArgs(e)
			for j := range entries {
				if j == k {
					args = append(args, orig...)
					continue
				}
				for _, p := range slots[j] {
					args = append(args, consts.Zero(f.Value(p).Type))
				}
			}
			f.Retarget(e, d, args)
		}
	}
	return d
}

type sccFrame struct {
	block ir.Block
	succs []ir.Block
	next  int
}

// components returns the strongly connected components of the subgraph
// induced by set, using an iterative form of Tarjan's algorithm.
func components(f *ir.Function, set []ir.Block) [][]ir.Block {
	in := make(map[ir.Block]bool, len(set))
	for _, b := range set {
		in[b] = true
	}
	index := make(map[ir.Block]int, len(set))
	low := make(map[ir.Block]int, len(set))
	onStack := make(map[ir.Block]bool, len(set))
	var (
		stack []ir.Block
		out   [][]ir.Block
		next  int
	)
	succs := func(b ir.Block) []ir.Block {
		var ss []ir.Block
		for _, s := range f.Succs(b) {
			if in[s] {
				ss = append(ss, s)
			}
		}
		return ss
	}
	visit := func(b ir.Block) sccFrame {
		index[b] = next
		low[b] = next
		next++
		stack = append(stack, b)
		onStack[b] = true
		return sccFrame{block: b, succs: succs(b)}
	}

	for _, root := range set {
		if _, seen := index[root]; seen {
			continue
		}
		calls := []sccFrame{visit(root)}
		for len(calls) > 0 {
			top := &calls[len(calls)-1]
			if top.next < len(top.succs) {
				w := top.succs[top.next]
				top.next++
				if _, seen := index[w]; !seen {
					calls = append(calls, visit(w))
				} else if onStack[w] {
					low[top.block] = min(low[top.block], index[w])
				}
				continue
			}
			v := top.block
			calls = calls[:len(calls)-1]
			if len(calls) > 0 {
				p := calls[len(calls)-1].block
				low[p] = min(low[p], low[v])
			}
			if low[v] != index[v] {
				continue
			}
			var comp []ir.Block
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				comp = append(comp, w)
				if w == v {
					break
				}
			}
			out = append(out, comp)
		}
	}
	return out
}
