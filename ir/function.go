package ir

// Function owns the blocks, values and instructions of one function body.
// Handles index its arenas and are only meaningful for this Function.
//
// Pointers returned by Block, Value and Inst alias the arenas and are valid
// until the next call that creates an entity.
type Function struct {
	Name  string
	Sig   Signature
	Entry Block
	Index uint32

	blocks []BlockData
	values []ValueData
	insts  []InstData
	pos    int
}

// NewFunction creates a function whose entry block carries sig's params.
func NewFunction(index uint32, sig Signature) *Function {
	f := &Function{Index: index, Sig: sig, pos: -1}
	f.Entry = f.NewBlock()
	for _, t := range sig.Params {
		f.AddParam(f.Entry, t)
	}
	f.blocks[f.Entry].State = Sealed
	return f
}

// NumBlocks returns the arena size, including dead blocks.
func (f *Function) NumBlocks() int { return len(f.blocks) }

// NumValues returns the arena size, including dead values.
func (f *Function) NumValues() int { return len(f.values) }

// NumInsts returns the arena size, including dead instructions.
func (f *Function) NumInsts() int { return len(f.insts) }

func (f *Function) Block(b Block) *BlockData { return &f.blocks[b] }
func (f *Function) Value(v Value) *ValueData { return &f.values[v] }
func (f *Function) Inst(i Inst) *InstData    { return &f.insts[i] }

// HasBlock reports whether b is in range and not dead.
func (f *Function) HasBlock(b Block) bool {
	return int(b) < len(f.blocks) && !f.blocks[b].Dead
}

// HasValue reports whether v is in range and not dead.
func (f *Function) HasValue(v Value) bool {
	return int(v) < len(f.values) && !f.values[v].Dead
}

// HasInst reports whether i is in range and not dead.
func (f *Function) HasInst(i Inst) bool {
	return int(i) < len(f.insts) && !f.insts[i].Dead
}

// Blocks returns the live blocks in creation order.
func (f *Function) Blocks() []Block {
	out := make([]Block, 0, len(f.blocks))
	for i := range f.blocks {
		if !f.blocks[i].Dead {
			out = append(out, Block(i))
		}
	}
	return out
}

// SetSourcePos sets the token position recorded on new instructions.
func (f *Function) SetSourcePos(pos int) { f.pos = pos }

// NewBlock creates an empty open block.
func (f *Function) NewBlock() Block {
	f.blocks = append(f.blocks, BlockData{State: Open})
	return Block(len(f.blocks) - 1)
}

// AddParam appends a param of type t to b.
func (f *Function) AddParam(b Block, t Type) Value {
	v := f.newValue(ValueData{Type: t, Kind: ValueParam, Block: b, Inst: NoInst, Index: len(f.blocks[b].Params)})
	f.blocks[b].Params = append(f.blocks[b].Params, v)
	return v
}

func (f *Function) newValue(d ValueData) Value {
	d.Alias = NoValue
	f.values = append(f.values, d)
	return Value(len(f.values) - 1)
}

// AddInst adds a non-terminator instruction to b. If b already ends in a
// terminator the instruction is placed before it.
func (f *Function) AddInst(b Block, op Op, imm interface{}, args []Value, results ...Type) Inst {
	i := f.newInst(b, op, imm, args)
	for k, t := range results {
		v := f.newValue(ValueData{Type: t, Kind: ValueResult, Inst: i, Block: NoBlock, Index: k})
		f.insts[i].Results = append(f.insts[i].Results, v)
	}
	bd := &f.blocks[b]
	if n := len(bd.Insts); n > 0 && f.isTerminator(bd.Insts[n-1]) {
		bd.Insts = append(bd.Insts, bd.Insts[n-1])
		bd.Insts[n-1] = i
	} else {
		bd.Insts = append(bd.Insts, i)
	}
	return i
}

// AddTerminator ends b with a control transfer. Each target records an
// incoming edge on its block.
func (f *Function) AddTerminator(b Block, op Op, imm interface{}, args []Value, targets []BlockTarget) Inst {
	i := f.newInst(b, op, imm, args)
	if len(targets) > 0 {
		ts := make([]BlockTarget, len(targets))
		for k, t := range targets {
			ts[k] = BlockTarget{Block: t.Block, Args: append([]Value(nil), t.Args...)}
			for _, a := range t.Args {
				f.addUser(a, i)
			}
			f.blocks[t.Block].Preds = append(f.blocks[t.Block].Preds, Edge{From: b, Inst: i, Succ: k})
		}
		f.insts[i].Targets = ts
	}
	f.blocks[b].Insts = append(f.blocks[b].Insts, i)
	return i
}

func (f *Function) newInst(b Block, op Op, imm interface{}, args []Value) Inst {
	i := Inst(len(f.insts))
	f.insts = append(f.insts, InstData{
		Op:    op,
		Imm:   imm,
		Args:  append([]Value(nil), args...),
		Block: b,
		Pos:   f.pos,
	})
	for _, a := range args {
		f.addUser(a, i)
	}
	return i
}

func (f *Function) isTerminator(i Inst) bool {
	info := f.insts[i].Op.Info()
	return info != nil && info.Has(FlagTerminator)
}

// Terminator returns the last instruction of b if it is a terminator.
func (f *Function) Terminator(b Block) Inst {
	insts := f.blocks[b].Insts
	if n := len(insts); n > 0 && f.isTerminator(insts[n-1]) {
		return insts[n-1]
	}
	return NoInst
}

// Succs returns the targets of b's terminator, one entry per edge.
func (f *Function) Succs(b Block) []Block {
	t := f.Terminator(b)
	if t == NoInst {
		return nil
	}
	targets := f.insts[t].Targets
	out := make([]Block, len(targets))
	for k, tg := range targets {
		out[k] = tg.Block
	}
	return out
}

// Dest returns the block an edge enters.
func (f *Function) Dest(e Edge) Block { return f.insts[e.Inst].Targets[e.Succ].Block }

// EdgeArgs returns the values an edge passes to its destination's params.
func (f *Function) EdgeArgs(e Edge) []Value { return f.insts[e.Inst].Targets[e.Succ].Args }

// AppendEdgeArg passes one more argument along e.
func (f *Function) AppendEdgeArg(e Edge, v Value) {
	t := &f.insts[e.Inst].Targets[e.Succ]
	t.Args = append(t.Args, v)
	f.addUser(v, e.Inst)
}

// Retarget redirects e to a new destination with new arguments.
func (f *Function) Retarget(e Edge, to Block, args []Value) {
	t := &f.insts[e.Inst].Targets[e.Succ]
	for _, a := range t.Args {
		f.removeUser(a, e.Inst)
	}
	f.removePred(t.Block, e)
	t.Block = to
	t.Args = append([]Value(nil), args...)
	for _, a := range args {
		f.addUser(a, e.Inst)
	}
	f.blocks[to].Preds = append(f.blocks[to].Preds, e)
}

func (f *Function) removePred(b Block, e Edge) {
	preds := f.blocks[b].Preds
	for k, p := range preds {
		if p == e {
			f.blocks[b].Preds = append(preds[:k], preds[k+1:]...)
			return
		}
	}
}
