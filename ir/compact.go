package ir

// Remap translates handles from before a Compact to after it. Handles of
// entities that were dropped map to the invalid handle.
type Remap struct {
	Blocks []Block
	Values []Value
	Insts  []Inst
}

func (r *Remap) Block(b Block) Block {
	if int(b) < len(r.Blocks) {
		return r.Blocks[b]
	}
	return NoBlock
}

func (r *Remap) Value(v Value) Value {
	if int(v) < len(r.Values) {
		return r.Values[v]
	}
	return NoValue
}

func (r *Remap) Inst(i Inst) Inst {
	if int(i) < len(r.Insts) {
		return r.Insts[i]
	}
	return NoInst
}

// Compact drops tombstoned entities and renumbers the rest in block layout
// order: blocks in creation order, then per block its params followed by
// its instructions and their results. Every handle obtained before the call
// is invalid afterwards; use the returned Remap to translate.
func (f *Function) Compact() *Remap {
	r := &Remap{
		Blocks: fill(make([]Block, len(f.blocks)), NoBlock),
		Values: fill(make([]Value, len(f.values)), NoValue),
		Insts:  fill(make([]Inst, len(f.insts)), NoInst),
	}

	var nb, nv, ni uint32
	for b := range f.blocks {
		if f.blocks[b].Dead {
			continue
		}
		r.Blocks[b] = Block(nb)
		nb++
	}
	for b := range f.blocks {
		bd := &f.blocks[b]
		if bd.Dead {
			continue
		}
		for _, p := range bd.Params {
			r.Values[p] = Value(nv)
			nv++
		}
		for _, i := range bd.Insts {
			if f.insts[i].Dead {
				continue
			}
			r.Insts[i] = Inst(ni)
			ni++
			for _, res := range f.insts[i].Results {
				r.Values[res] = Value(nv)
				nv++
			}
		}
	}
	for v := range f.values {
		if f.values[v].Kind == ValueAlias {
			r.Values[v] = r.Value(f.Resolve(Value(v)))
		}
	}

	blocks := make([]BlockData, nb)
	values := make([]ValueData, nv)
	insts := make([]InstData, ni)
	for old := range f.values {
		nw := r.Values[old]
		if nw == NoValue || f.values[old].Kind == ValueAlias {
			continue
		}
		d := f.values[old]
		d.Block = r.Block(d.Block)
		d.Inst = r.Inst(d.Inst)
		d.Users = remapInsts(r, d.Users)
		values[nw] = d
	}
	for old := range f.insts {
		nw := r.Insts[old]
		if nw == NoInst {
			continue
		}
		d := f.insts[old]
		d.Block = r.Block(d.Block)
		d.Args = remapValues(r, d.Args)
		d.Results = remapValues(r, d.Results)
		if len(d.Targets) > 0 {
			ts := make([]BlockTarget, len(d.Targets))
			for k, t := range d.Targets {
				ts[k] = BlockTarget{Block: r.Block(t.Block), Args: remapValues(r, t.Args)}
			}
			d.Targets = ts
		}
		insts[nw] = d
	}
	for old := range f.blocks {
		nw := r.Blocks[old]
		if nw == NoBlock {
			continue
		}
		d := f.blocks[old]
		d.Params = remapValues(r, d.Params)
		d.Insts = remapInsts(r, d.Insts)
		preds := make([]Edge, 0, len(d.Preds))
		for _, e := range d.Preds {
			if e.Inst = r.Inst(e.Inst); e.Inst == NoInst {
				continue
			}
			e.From = r.Block(e.From)
			preds = append(preds, e)
		}
		d.Preds = preds
		blocks[nw] = d
	}

	f.blocks, f.values, f.insts = blocks, values, insts
	f.Entry = r.Block(f.Entry)
	return r
}

func fill[T any](s []T, v T) []T {
	for i := range s {
		s[i] = v
	}
	return s
}

func remapValues(r *Remap, vs []Value) []Value {
	if vs == nil {
		return nil
	}
	out := make([]Value, len(vs))
	for k, v := range vs {
		out[k] = r.Value(v)
	}
	return out
}

func remapInsts(r *Remap, is []Inst) []Inst {
	out := make([]Inst, 0, len(is))
	for _, i := range is {
		if n := r.Inst(i); n != NoInst {
			out = append(out, n)
		}
	}
	return out
}
