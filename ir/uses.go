package ir

func (f *Function) addUser(v Value, i Inst) {
	if int(v) < len(f.values) {
		f.values[v].Users = append(f.values[v].Users, i)
	}
}

func (f *Function) removeUser(v Value, i Inst) {
	if int(v) >= len(f.values) {
		return
	}
	users := f.values[v].Users
	for k, u := range users {
		if u == i {
			f.values[v].Users = append(users[:k], users[k+1:]...)
			return
		}
	}
}

// Resolve follows alias links to the value that replaced v.
func (f *Function) Resolve(v Value) Value {
	for int(v) < len(f.values) && f.values[v].Kind == ValueAlias {
		v = f.values[v].Alias
	}
	return v
}

// SetArg replaces operand k of i.
func (f *Function) SetArg(i Inst, k int, v Value) {
	f.removeUser(f.insts[i].Args[k], i)
	f.insts[i].Args[k] = v
	f.addUser(v, i)
}

// ReplaceAllUses rewrites every use of old to new and marks old as an alias
// of new.
func (f *Function) ReplaceAllUses(old, new Value) {
	if old == new {
		return
	}
	users := f.values[old].Users
	f.values[old].Users = nil
	seen := make(map[Inst]bool, len(users))
	for _, u := range users {
		if seen[u] {
			continue
		}
		seen[u] = true
		d := &f.insts[u]
		for k, a := range d.Args {
			if a == old {
				d.Args[k] = new
				f.addUser(new, u)
			}
		}
		for t := range d.Targets {
			args := d.Targets[t].Args
			for k, a := range args {
				if a == old {
					args[k] = new
					f.addUser(new, u)
				}
			}
		}
	}
	f.values[old].Kind = ValueAlias
	f.values[old].Alias = new
}

// Kill tombstones an instruction and its results. Its operands lose the use,
// its edges are removed from their targets, and it leaves its block's list.
func (f *Function) Kill(i Inst) {
	d := &f.insts[i]
	if d.Dead {
		return
	}
	d.Dead = true
	for _, a := range d.Args {
		f.removeUser(a, i)
	}
	for k, t := range d.Targets {
		for _, a := range t.Args {
			f.removeUser(a, i)
		}
		if int(t.Block) < len(f.blocks) {
			f.removePred(t.Block, Edge{From: d.Block, Inst: i, Succ: k})
		}
	}
	for _, r := range d.Results {
		f.values[r].Dead = true
	}
	bd := &f.blocks[d.Block]
	for k, x := range bd.Insts {
		if x == i {
			bd.Insts = append(bd.Insts[:k], bd.Insts[k+1:]...)
			break
		}
	}
}

// KillBlock tombstones b together with its params and instructions.
func (f *Function) KillBlock(b Block) {
	bd := &f.blocks[b]
	if bd.Dead {
		return
	}
	for len(bd.Insts) > 0 {
		f.Kill(bd.Insts[len(bd.Insts)-1])
		bd = &f.blocks[b]
	}
	for _, p := range bd.Params {
		f.values[p].Dead = true
	}
	bd.Dead = true
}

// RemoveParam drops param v from its block along with the matching
// argument on every incoming edge.
func (f *Function) RemoveParam(v Value) {
	vd := &f.values[v]
	b, idx := vd.Block, vd.Index
	bd := &f.blocks[b]
	bd.Params = append(bd.Params[:idx], bd.Params[idx+1:]...)
	for k := idx; k < len(bd.Params); k++ {
		f.values[bd.Params[k]].Index = k
	}
	for _, e := range bd.Preds {
		t := &f.insts[e.Inst].Targets[e.Succ]
		if idx < len(t.Args) {
			f.removeUser(t.Args[idx], e.Inst)
			t.Args = append(t.Args[:idx], t.Args[idx+1:]...)
		}
	}
	vd.Dead = true
}

// RecomputePreds rebuilds every block's pred list from the terminators of
// live blocks.
func (f *Function) RecomputePreds() {
	for b := range f.blocks {
		f.blocks[b].Preds = f.blocks[b].Preds[:0]
	}
	for b := range f.blocks {
		if f.blocks[b].Dead {
			continue
		}
		t := f.Terminator(Block(b))
		if t == NoInst {
			continue
		}
		for k, tg := range f.insts[t].Targets {
			if int(tg.Block) < len(f.blocks) {
				f.blocks[tg.Block].Preds = append(f.blocks[tg.Block].Preds, Edge{From: Block(b), Inst: t, Succ: k})
			}
		}
	}
}
