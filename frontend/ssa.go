package frontend

import "github.com/wippyai/wasm-ir/ir"

func (b *builder) info(blk ir.Block) *blockInfo {
	for int(blk) >= len(b.blocks) {
		b.blocks = append(b.blocks, blockInfo{})
	}
	bi := &b.blocks[blk]
	if bi.defs == nil {
		bi.defs = make(map[uint32]ir.Value)
	}
	return bi
}

func (b *builder) writeSlot(blk ir.Block, slot uint32, v ir.Value) {
	b.info(blk).defs[slot] = v
}

// readSlot returns the current value of a local in the current block.
func (b *builder) readSlot(slot uint32) ir.Value {
	v := b.lookupSlot(b.cur, slot)
	b.drain()
	return b.f.Resolve(v)
}

// lookupSlot finds the value of slot at the end of blk, or at the current
// point if blk is being built. Parameters created in sealed blocks are
// queued rather than resolved; callers drain the queue.
func (b *builder) lookupSlot(blk ir.Block, slot uint32) ir.Value {
	var path []ir.Block
	result := ir.NoValue
	for steps := 0; ; steps++ {
		bi := b.info(blk)
		if v, ok := bi.defs[slot]; ok {
			result = b.f.Resolve(v)
			break
		}
		bd := b.f.Block(blk)
		if blk == b.f.Entry || steps > b.f.NumBlocks() {
			result = b.zero(b.slots[slot])
			break
		}
		if bd.State == ir.Open || bi.provisional {
			result = b.placeholder(blk, slot)
			bi = b.info(blk)
			bi.pending = append(bi.pending, result)
			break
		}
		if len(bd.Preds) == 1 {
			path = append(path, blk)
			blk = bd.Preds[0].From
			continue
		}
		if len(bd.Preds) == 0 {
			result = b.zero(b.slots[slot])
			break
		}
		if v := b.peekAgree(blk, slot); v != ir.NoValue {
			result = v
		} else {
			result = b.placeholder(blk, slot)
			b.queue = append(b.queue, result)
		}
		b.writeSlot(blk, slot, result)
		break
	}
	for _, p := range path {
		b.writeSlot(p, slot, result)
	}
	return result
}

func (b *builder) placeholder(blk ir.Block, slot uint32) ir.Value {
	p := b.f.AddParam(blk, b.slots[slot])
	b.slotOf[p] = slot
	b.writeSlot(blk, slot, p)
	return p
}

// peekAgree reports the value every predecessor of blk already has for
// slot, or NoValue if they differ or one of them would need a parameter.
func (b *builder) peekAgree(blk ir.Block, slot uint32) ir.Value {
	agreed := ir.NoValue
	for _, e := range b.f.Block(blk).Preds {
		v := b.peek(e.From, slot)
		if v == ir.NoValue || (agreed != ir.NoValue && v != agreed) {
			return ir.NoValue
		}
		agreed = v
	}
	return agreed
}

// peek is lookupSlot without creating parameters.
func (b *builder) peek(blk ir.Block, slot uint32) ir.Value {
	var path []ir.Block
	result := ir.NoValue
	for steps := 0; steps <= b.f.NumBlocks(); steps++ {
		bi := b.info(blk)
		if v, ok := bi.defs[slot]; ok {
			result = b.f.Resolve(v)
			break
		}
		bd := b.f.Block(blk)
		if blk == b.f.Entry {
			result = b.zero(b.slots[slot])
			break
		}
		if bd.State == ir.Open || bi.provisional || len(bd.Preds) != 1 {
			return ir.NoValue
		}
		path = append(path, blk)
		blk = bd.Preds[0].From
	}
	if result == ir.NoValue {
		return ir.NoValue
	}
	for _, p := range path {
		b.writeSlot(p, slot, result)
	}
	return result
}

// seal fixes blk's predecessor set and resolves the parameters created
// while it was open or provisional.
func (b *builder) seal(blk ir.Block) {
	bi := b.info(blk)
	bd := b.f.Block(blk)
	if bi.provisional {
		bd.State = ir.Resealed
		bi.provisional = false
	} else {
		bd.State = ir.Sealed
	}
	b.queue = append(b.queue, bi.pending...)
	bi.pending = nil
	b.drain()
}

// drain resolves queued parameters in creation order, which keeps the
// argument lists of every edge aligned with the destination's params.
func (b *builder) drain() {
	for len(b.queue) > 0 {
		p := b.queue[0]
		b.queue = b.queue[1:]
		b.resolve(p)
	}
}

func (b *builder) resolve(p ir.Value) {
	if !b.f.HasValue(p) || b.f.Value(p).Kind != ir.ValueParam {
		return
	}
	blk, slot := b.f.Value(p).Block, b.slotOf[p]
	preds := append([]ir.Edge(nil), b.f.Block(blk).Preds...)
	vals := make([]ir.Value, len(preds))
	for k, e := range preds {
		vals[k] = b.lookupSlot(e.From, slot)
	}
	if same, trivial := b.agree(p, vals); trivial {
		b.replaceParam(p, same)
		return
	}
	for k, e := range preds {
		b.f.AppendEdgeArg(e, vals[k])
	}
	b.resolved[p] = true
}

// agree returns the single value vals carry besides p itself.
func (b *builder) agree(p ir.Value, vals []ir.Value) (ir.Value, bool) {
	same := ir.NoValue
	for _, v := range vals {
		v = b.f.Resolve(v)
		if v == p || v == same {
			continue
		}
		if same != ir.NoValue {
			return ir.NoValue, false
		}
		same = v
	}
	if same == ir.NoValue {
		same = b.zero(b.f.Value(p).Type)
	}
	return same, true
}

// replaceParam removes a redundant parameter and rechecks the resolved
// parameters that received it as an argument.
func (b *builder) replaceParam(p, same ir.Value) {
	b.recheck = append(b.recheck[:0], p)
	first := true
	for len(b.recheck) > 0 {
		q := b.recheck[len(b.recheck)-1]
		b.recheck = b.recheck[:len(b.recheck)-1]
		if !b.f.HasValue(q) || b.f.Value(q).Kind != ir.ValueParam {
			continue
		}
		to := same
		if !first {
			var trivial bool
			if to, trivial = b.agree(q, b.incoming(q)); !trivial {
				continue
			}
		}
		first = false

		users := append([]ir.Inst(nil), b.f.Value(q).Users...)
		b.f.ReplaceAllUses(q, to)
		b.f.RemoveParam(q)
		delete(b.resolved, q)
		for _, u := range users {
			for _, t := range b.f.Inst(u).Targets {
				for _, r := range b.f.Block(t.Block).Params {
					if r != q && b.resolved[r] {
						b.recheck = append(b.recheck, r)
					}
				}
			}
		}
	}
}

// incoming lists the arguments every edge passes to param q.
func (b *builder) incoming(q ir.Value) []ir.Value {
	vd := b.f.Value(q)
	preds := b.f.Block(vd.Block).Preds
	out := make([]ir.Value, 0, len(preds))
	for _, e := range preds {
		if args := b.f.EdgeArgs(e); vd.Index < len(args) {
			out = append(out, args[vd.Index])
		}
	}
	return out
}

// constant returns the value of a constant, creating it in the entry block
// the first time it is seen.
func (b *builder) constant(op ir.Op, imm interface{}, t ir.Type) ir.Value {
	return b.consts.Get(op, imm, t)
}

func (b *builder) zero(t ir.Type) ir.Value {
	return b.consts.Zero(t)
}
