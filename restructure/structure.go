package restructure

import (
	"slices"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-ir/errors"
	"github.com/wippyai/wasm-ir/ir"
)

// Options controls Structure.
type Options struct {
	// MaxRounds bounds the dispatch rounds for irreducible control flow.
	// Zero means one round per block.
	MaxRounds int
	// NoFallback makes irreducible input an error instead of adding
	// dispatch blocks.
	NoFallback bool
}

// Structure converts f's CFG into a region tree. Irreducible loops are
// first rewritten into single-entry form, which adds blocks to f.
// Unreachable blocks are left out of the tree.
func Structure(f *ir.Function, opts Options) (*Tree, error) {
	tree := &Tree{}
	if !ir.IsReducible(f) {
		if opts.NoFallback {
			return nil, errors.New(errors.PhaseRestructure, errors.KindIrreducible).
				Func(f.Index).Detail("irreducible control flow").Build()
		}
		n, err := makeReducible(f, opts.MaxRounds)
		if err != nil {
			return nil, err
		}
		tree.Dispatches = n
		Logger().Debug("added dispatch blocks",
			zap.Uint32("func", f.Index), zap.Int("dispatches", n))
	}

	s := newStructurer(f)
	if err := s.run(tree); err != nil {
		return nil, err
	}
	return tree, nil
}

type frameKind uint8

const (
	frameBlock frameKind = iota
	frameLoop
	frameIf
	frameArm
)

// scope is one enclosing wasm label. Scopes form a persistent list so
// siblings share their common outer part.
type scope struct {
	parent *scope
	block  ir.Block
	kind   frameKind
}

func (s *scope) push(kind frameKind, b ir.Block) *scope {
	return &scope{parent: s, block: b, kind: kind}
}

// depth returns the label index of the scope of the given kind for b.
func (s *scope) depth(kind frameKind, b ir.Block) (int, bool) {
	d := 0
	for ; s != nil; s = s.parent {
		if s.kind == kind && s.block == b {
			return d, true
		}
		d++
	}
	return 0, false
}

type taskKind uint8

const (
	taskTree taskKind = iota
	taskWithin
	taskBranch
)

type task struct {
	out    *Seq
	scope  *scope
	merges []ir.Block
	edge   ir.Edge
	block  ir.Block
	kind   taskKind
}

type structurer struct {
	f      *ir.Function
	dt     *ir.DomTree
	merge  []bool
	header []bool
	merges [][]ir.Block
	stack  []task
}

func newStructurer(f *ir.Function) *structurer {
	n := f.NumBlocks()
	s := &structurer{
		f:      f,
		dt:     ir.Dominators(f),
		merge:  make([]bool, n),
		header: make([]bool, n),
		merges: make([][]ir.Block, n),
	}
	forward := make([]int, n)
	for _, e := range ir.Edges(f, s.dt) {
		dest := f.Dest(e)
		if s.backward(e) {
			s.header[dest] = true
		} else {
			forward[dest]++
		}
	}
	for _, b := range s.dt.RPO() {
		s.merge[b] = forward[b] > 1
	}
	for _, b := range s.dt.RPO() {
		var ys []ir.Block
		for _, c := range s.dt.Children(b) {
			if s.merge[c] {
				ys = append(ys, c)
			}
		}
		// Highest reverse postorder first: its block wraps all the others.
		slices.SortFunc(ys, func(a, b ir.Block) int {
			return s.dt.RPONumber(b) - s.dt.RPONumber(a)
		})
		s.merges[b] = ys
	}
	return s
}

func (s *structurer) backward(e ir.Edge) bool {
	return s.dt.RPONumber(s.f.Dest(e)) <= s.dt.RPONumber(e.From)
}

func (s *structurer) internal(b ir.Block, msg string, args ...any) error {
	return errors.New(errors.PhaseRestructure, errors.KindInternal).
		Func(s.f.Index).Path(b.String()).Detail(msg, args...).Build()
}

func (s *structurer) run(tree *Tree) error {
	s.stack = append(s.stack[:0], task{kind: taskTree, block: s.f.Entry, out: &tree.Body})
	for len(s.stack) > 0 {
		t := s.stack[len(s.stack)-1]
		s.stack = s.stack[:len(s.stack)-1]
		var err error
		switch t.kind {
		case taskTree:
			s.doTree(t)
		case taskWithin:
			err = s.nodeWithin(t)
		case taskBranch:
			err = s.doBranch(t.edge, t.scope, t.out)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *structurer) push(t task) { s.stack = append(s.stack, t) }

func (s *structurer) doTree(t task) {
	x := t.block
	if s.header[x] {
		loop := &LoopRegion{Header: x}
		*t.out = append(*t.out, loop)
		s.push(task{kind: taskWithin, block: x, merges: s.merges[x], scope: t.scope.push(frameLoop, x), out: &loop.Body})
		return
	}
	s.push(task{kind: taskWithin, block: x, merges: s.merges[x], scope: t.scope, out: t.out})
}

// nodeWithin places x's code inside one block per remaining merge child,
// each child's tree following its block.
func (s *structurer) nodeWithin(t task) error {
	x := t.block
	if len(t.merges) == 0 {
		*t.out = append(*t.out, &Code{Block: x})
		return s.terminator(x, t.scope, t.out)
	}
	y := t.merges[0]
	blk := &BlockRegion{Follow: y}
	*t.out = append(*t.out, blk)
	s.push(task{kind: taskTree, block: y, scope: t.scope, out: t.out})
	s.push(task{kind: taskWithin, block: x, merges: t.merges[1:], scope: t.scope.push(frameBlock, y), out: &blk.Body})
	return nil
}

func (s *structurer) terminator(x ir.Block, sc *scope, out *Seq) error {
	term := s.f.Terminator(x)
	if term == ir.NoInst {
		return s.internal(x, "block has no terminator")
	}
	in := s.f.Inst(term)
	switch in.Op {
	case ir.OpBr:
		s.push(task{kind: taskBranch, edge: ir.Edge{From: x, Inst: term}, scope: sc, out: out})
	case ir.OpBrIf:
		r := &IfRegion{Cond: in.Args[0], Inst: term}
		*out = append(*out, r)
		inner := sc.push(frameIf, ir.NoBlock)
		s.push(task{kind: taskBranch, edge: ir.Edge{From: x, Inst: term, Succ: 1}, scope: inner, out: &r.Else})
		s.push(task{kind: taskBranch, edge: ir.Edge{From: x, Inst: term, Succ: 0}, scope: inner, out: &r.Then})
	case ir.OpBrTable:
		s.brTable(x, term, sc, out)
	case ir.OpReturn:
		*out = append(*out, &Return{Inst: term})
	case ir.OpReturnCall, ir.OpReturnCallIndirect:
		*out = append(*out, &ReturnCall{Inst: term})
	case ir.OpUnreachable:
		*out = append(*out, &Unreachable{Inst: term})
	default:
		return s.internal(x, "unexpected terminator %s", in.Op)
	}
	return nil
}

// brTable gives each distinct (target, args) pair one arm. Arm a is
// nested inside the blocks of arms a+1 and up.
func (s *structurer) brTable(x ir.Block, term ir.Inst, sc *scope, out *Seq) {
	in := s.f.Inst(term)
	r := &BrTable{Index: in.Args[0], Inst: term, Table: make([]int, len(in.Targets))}
	var arms []int
	for k, tgt := range in.Targets {
		arm := -1
		for a, j := range arms {
			if o := in.Targets[j]; o.Block == tgt.Block && slices.Equal(o.Args, tgt.Args) {
				arm = a
				break
			}
		}
		if arm < 0 {
			arm = len(arms)
			arms = append(arms, k)
		}
		r.Table[k] = arm
	}
	r.Arms = make([]Seq, len(arms))
	*out = append(*out, r)

	scopes := make([]*scope, len(arms))
	c := sc
	for a := len(arms) - 1; a >= 0; a-- {
		scopes[a] = c
		c = c.push(frameArm, ir.NoBlock)
	}
	for a := len(arms) - 1; a >= 0; a-- {
		s.push(task{kind: taskBranch, edge: ir.Edge{From: x, Inst: term, Succ: arms[a]}, scope: scopes[a], out: &r.Arms[a]})
	}
}

func (s *structurer) doBranch(e ir.Edge, sc *scope, out *Seq) error {
	dest := s.f.Dest(e)
	if len(s.f.Block(dest).Params) > 0 {
		*out = append(*out, &Moves{Edge: e})
	}
	switch {
	case s.backward(e):
		d, ok := sc.depth(frameLoop, dest)
		if !ok {
			return s.internal(e.From, "no enclosing loop for back edge to %s", dest)
		}
		*out = append(*out, &Br{Depth: d, Target: dest})
	case s.merge[dest]:
		d, ok := sc.depth(frameBlock, dest)
		if !ok {
			return s.internal(e.From, "no enclosing block for edge to %s", dest)
		}
		*out = append(*out, &Br{Depth: d, Target: dest})
	default:
		s.push(task{kind: taskTree, block: dest, scope: sc, out: out})
	}
	return nil
}
