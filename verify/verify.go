// Package verify checks the structural invariants of an ir.Function.
//
// Function reports the first violation, All reports every violation it can
// find, and Reducible reports retreating edges whose target does not
// dominate their source. A function that fails Function must not be handed
// to the restructurer.
package verify

import (
	"go.uber.org/multierr"

	"github.com/wippyai/wasm-ir/errors"
	"github.com/wippyai/wasm-ir/ir"
	"github.com/wippyai/wasm-ir/wasm"
)

// Function returns the first violation found in f, or nil.
func Function(f *ir.Function) error {
	c := newChecker(f, nil, true)
	c.run()
	return c.err
}

// All returns every violation found in f combined with multierr.
func All(f *ir.Function) error {
	c := newChecker(f, nil, false)
	c.run()
	return c.err
}

// InModule is Function with calls, globals and call_indirect types also
// checked against m. m is only read.
func InModule(m *ir.Module, f *ir.Function) error {
	c := newChecker(f, m, true)
	c.run()
	return c.err
}

// Module verifies every defined function of m. Calls, globals and
// call_indirect types are additionally checked against the module. The
// result combines one error per failing function.
func Module(m *ir.Module) error {
	var err error
	for i := range m.Funcs {
		d := &m.Funcs[i]
		if d.Body == nil {
			continue
		}
		c := newChecker(d.Body, m, true)
		c.run()
		err = multierr.Append(err, c.err)
	}
	return err
}

// Reducible reports every retreating edge of f that is not a back edge,
// that is, whose destination does not dominate its source.
func Reducible(f *ir.Function) error {
	dt := ir.Dominators(f)
	var err error
	for _, e := range ir.RetreatingEdges(f) {
		dest := f.Dest(e)
		if dt.Dominates(dest, e.From) {
			continue
		}
		err = multierr.Append(err, errors.New(errors.PhaseVerify, errors.KindIrreducible).
			Func(f.Index).At(f.Inst(e.Inst).Pos).
			Path(e.From.String(), dest.String()).
			Detail("edge %s -> %s enters a loop that %s does not dominate", e.From, dest, dest).
			Build())
	}
	return err
}

type checker struct {
	f     *ir.Function
	mod   *ir.Module
	first bool
	err   error
	stop  bool

	dt  *ir.DomTree
	pos []int // index of each live instruction within its block
}

func newChecker(f *ir.Function, mod *ir.Module, first bool) *checker {
	return &checker{f: f, mod: mod, first: first}
}

func (c *checker) report(kind errors.Kind, at ir.Inst, path []string, format string, args ...any) {
	if c.stop {
		return
	}
	b := errors.New(errors.PhaseVerify, kind).Func(c.f.Index).Path(path...).Detail(format, args...)
	if at != ir.NoInst && int(at) < c.f.NumInsts() {
		b = b.At(c.f.Inst(at).Pos)
	}
	c.err = multierr.Append(c.err, b.Build())
	if c.first {
		c.stop = true
	}
}

func (c *checker) run() {
	f := c.f
	if !f.HasBlock(f.Entry) {
		c.report(errors.KindDangling, ir.NoInst, nil, "entry %s is missing", f.Entry)
		return
	}
	c.checkEntry()
	c.pos = make([]int, f.NumInsts())
	for _, b := range f.Blocks() {
		c.checkBlock(b)
		if c.stop {
			return
		}
	}
	if c.err != nil && c.first {
		return
	}
	c.dt = ir.Dominators(f)
	for _, b := range f.Blocks() {
		if !c.dt.Reachable(b) {
			continue
		}
		c.checkTerminated(b)
		c.checkDominance(b)
		if c.stop {
			return
		}
	}
}

func (c *checker) checkEntry() {
	f := c.f
	bd := f.Block(f.Entry)
	if len(bd.Preds) != 0 {
		c.report(errors.KindMalformed, ir.NoInst, []string{f.Entry.String()}, "entry has %d predecessors", len(bd.Preds))
	}
	if !typesMatch(c.valueTypes(bd.Params), f.Sig.Params) {
		c.report(errors.KindArity, ir.NoInst, []string{f.Entry.String()}, "entry params %v do not match the signature %s", c.valueTypes(bd.Params), f.Sig)
	}
}

// checkBlock validates handles, operand types and edge arity in b.
func (c *checker) checkBlock(b ir.Block) {
	f := c.f
	bd := f.Block(b)
	path := []string{b.String()}

	for k, p := range bd.Params {
		if !f.HasValue(p) {
			c.report(errors.KindDangling, ir.NoInst, path, "param %d is dangling value %s", k, p)
			continue
		}
		vd := f.Value(p)
		if vd.Kind != ir.ValueParam || vd.Block != b || vd.Index != k {
			c.report(errors.KindMalformed, ir.NoInst, path, "param %d: %s is not param %d of %s", k, p, k, b)
		}
	}

	for k, i := range bd.Insts {
		if !f.HasInst(i) {
			c.report(errors.KindDangling, ir.NoInst, path, "instruction %d is dangling %s", k, i)
			continue
		}
		c.pos[i] = k
		in := f.Inst(i)
		if in.Block != b {
			c.report(errors.KindMalformed, i, path, "%s records block %s", i, in.Block)
		}
		info := in.Op.Info()
		if info == nil {
			c.report(errors.KindMalformed, i, path, "%s has unknown operator %s", i, in.Op)
			continue
		}
		if info.Has(ir.FlagTerminator) && k != len(bd.Insts)-1 {
			c.report(errors.KindMalformed, i, path, "terminator %s %s is not last in its block", i, in.Op)
		}
		c.checkInst(b, i, info)
	}

	for _, e := range bd.Preds {
		if !f.HasInst(e.Inst) || f.Inst(e.Inst).Block != e.From || e.Succ >= len(f.Inst(e.Inst).Targets) ||
			f.Dest(e) != b || !f.HasBlock(e.From) {
			c.report(errors.KindDangling, ir.NoInst, path, "predecessor edge %s/%s#%d does not lead here", e.From, e.Inst, e.Succ)
		}
	}
}

func (c *checker) checkInst(b ir.Block, i ir.Inst, info *ir.OpInfo) {
	f := c.f
	in := f.Inst(i)
	path := []string{b.String(), i.String()}

	for k, a := range in.Args {
		if !c.live(a) {
			c.report(errors.KindDangling, i, path, "operand %d of %s is dangling value %s", k, in.Op, a)
			return
		}
	}
	for k, r := range in.Results {
		if !f.HasValue(r) {
			c.report(errors.KindDangling, i, path, "result %d of %s is dangling value %s", k, in.Op, r)
			return
		}
		vd := f.Value(r)
		if vd.Kind != ir.ValueResult || vd.Inst != i || vd.Index != k {
			c.report(errors.KindMalformed, i, path, "result %d of %s does not point back to it", k, in.Op)
		}
	}

	if !info.Has(ir.FlagDynamic) {
		c.checkTypes(i, path, info.Args, info.Results)
	} else {
		c.checkDynamic(i, path)
	}

	for k, t := range in.Targets {
		if !f.HasBlock(t.Block) {
			c.report(errors.KindDangling, i, path, "target %d of %s is dangling block %s", k, in.Op, t.Block)
			continue
		}
		for j, a := range t.Args {
			if !c.live(a) {
				c.report(errors.KindDangling, i, path, "argument %d to %s is dangling value %s", j, t.Block, a)
				return
			}
		}
		params := f.Block(t.Block).Params
		if !typesMatch(c.valueTypes(t.Args), c.valueTypes(params)) {
			c.report(errors.KindArity, i, path, "edge to %s passes %v, params are %v",
				t.Block, c.valueTypes(t.Args), c.valueTypes(params))
		}
		if !c.hasPred(t.Block, ir.Edge{From: b, Inst: i, Succ: k}) {
			c.report(errors.KindMalformed, i, path, "edge %d to %s is missing from its predecessor list", k, t.Block)
		}
	}
	if info.Has(ir.FlagBranch) && len(in.Targets) == 0 {
		c.report(errors.KindMalformed, i, path, "%s has no targets", in.Op)
	}
	if in.Op == ir.OpBrIf && len(in.Targets) != 2 {
		c.report(errors.KindMalformed, i, path, "br_if has %d targets, want 2", len(in.Targets))
	}
}

// live reports whether v may be used: in range, not tombstoned and not
// replaced by an alias.
func (c *checker) live(v ir.Value) bool {
	return c.f.HasValue(v) && c.f.Value(v).Kind != ir.ValueAlias
}

func (c *checker) hasPred(b ir.Block, e ir.Edge) bool {
	for _, p := range c.f.Block(b).Preds {
		if p == e {
			return true
		}
	}
	return false
}

func (c *checker) checkTypes(i ir.Inst, path []string, args, results []ir.Type) {
	in := c.f.Inst(i)
	if got := c.valueTypes(in.Args); !typesMatch(got, args) {
		c.report(errors.KindArity, i, path, "%s takes %v, got %v", in.Op, args, got)
	}
	if got := c.valueTypes(in.Results); !typesMatch(got, results) {
		c.report(errors.KindArity, i, path, "%s yields %v, got %v", in.Op, results, got)
	}
}

// checkDynamic checks operators whose signature depends on the function or
// the module.
func (c *checker) checkDynamic(i ir.Inst, path []string) {
	f := c.f
	in := f.Inst(i)
	args := c.valueTypes(in.Args)
	switch in.Op {
	case ir.OpReturn:
		c.checkTypes(i, path, f.Sig.Results, nil)
	case ir.OpSelect:
		if len(args) != 3 || args[0] != args[1] || args[2] != ir.I32 || len(in.Results) != 1 {
			c.report(errors.KindArity, i, path, "select takes (t, t, i32), got %v", args)
			return
		}
		c.checkTypes(i, path, args, args[:1])
	case ir.OpRefIsNull:
		if len(args) != 1 || !args[0].IsRef() {
			c.report(errors.KindArity, i, path, "ref.is_null of %v", args)
			return
		}
		c.checkTypes(i, path, args, []ir.Type{ir.I32})
	case ir.OpRefNull, ir.OpRefFunc:
		if len(args) != 0 || len(in.Results) != 1 || !c.valueTypes(in.Results)[0].IsRef() {
			c.report(errors.KindArity, i, path, "%s must produce one reference", in.Op)
		}
	case ir.OpTableGet:
		if len(args) != 1 || args[0] != ir.I32 || len(in.Results) != 1 {
			c.report(errors.KindArity, i, path, "table.get takes an i32 index, got %v", args)
		}
	case ir.OpTableSet:
		if len(args) != 2 || args[0] != ir.I32 || !args[1].IsRef() || len(in.Results) != 0 {
			c.report(errors.KindArity, i, path, "table.set takes (i32, ref), got %v", args)
		}
	case ir.OpTableGrow:
		if len(args) != 2 || !args[0].IsRef() || args[1] != ir.I32 {
			c.report(errors.KindArity, i, path, "table.grow takes (ref, i32), got %v", args)
			return
		}
		c.checkTypes(i, path, args, []ir.Type{ir.I32})
	case ir.OpTableFill:
		if len(args) != 3 || args[0] != ir.I32 || !args[1].IsRef() || args[2] != ir.I32 {
			c.report(errors.KindArity, i, path, "table.fill takes (i32, ref, i32), got %v", args)
		}
	case ir.OpCall, ir.OpReturnCall, ir.OpCallIndirect, ir.OpReturnCallIndirect:
		c.checkCall(i, path)
	case ir.OpGlobalGet, ir.OpGlobalSet:
		c.checkGlobal(i, path)
	}
}

func (c *checker) checkCall(i ir.Inst, path []string) {
	if c.mod == nil {
		return
	}
	in := c.f.Inst(i)
	sig, ok := callSignature(c.mod, in)
	args := in.Args
	if in.Op == ir.OpCallIndirect || in.Op == ir.OpReturnCallIndirect {
		if len(args) == 0 || c.f.Value(args[len(args)-1]).Type != ir.I32 {
			c.report(errors.KindArity, i, path, "%s needs an i32 table index", in.Op)
			return
		}
		args = args[:len(args)-1]
	}
	if !ok {
		c.report(errors.KindDangling, i, path, "%s refers to an unknown signature", in.Op)
		return
	}
	if got := c.valueTypes(args); !typesMatch(got, sig.Params) {
		c.report(errors.KindArity, i, path, "%s takes %v, got %v", in.Op, sig.Params, got)
	}
	results := sig.Results
	if in.Op == ir.OpReturnCall || in.Op == ir.OpReturnCallIndirect {
		if !typesMatch(results, c.f.Sig.Results) {
			c.report(errors.KindArity, i, path, "tail call returns %v, function returns %v", results, c.f.Sig.Results)
		}
		results = nil
	}
	if got := c.valueTypes(in.Results); !typesMatch(got, results) {
		c.report(errors.KindArity, i, path, "%s yields %v, got %v", in.Op, results, got)
	}
}

func (c *checker) checkGlobal(i ir.Inst, path []string) {
	if c.mod == nil {
		return
	}
	in := c.f.Inst(i)
	idx, ok := globalIndex(in)
	gt := c.mod.Source.GlobalType(idx)
	if !ok || gt == nil {
		c.report(errors.KindDangling, i, path, "%s refers to an unknown global", in.Op)
		return
	}
	t, _ := ir.TypeOf(gt.ValType)
	if in.Op == ir.OpGlobalGet {
		c.checkTypes(i, path, nil, []ir.Type{t})
		return
	}
	if !gt.Mutable {
		c.report(errors.KindArity, i, path, "global.set of immutable global %d", idx)
	}
	c.checkTypes(i, path, []ir.Type{t}, nil)
}

// checkTerminated requires a reachable block to end in a terminator.
func (c *checker) checkTerminated(b ir.Block) {
	if c.f.Terminator(b) == ir.NoInst {
		c.report(errors.KindMalformed, ir.NoInst, []string{b.String()}, "%s does not end in a terminator", b)
	}
}

// checkDominance requires every use in b to be dominated by its definition.
func (c *checker) checkDominance(b ir.Block) {
	f := c.f
	for k, i := range f.Block(b).Insts {
		in := f.Inst(i)
		for _, a := range in.Args {
			c.checkUse(b, k, i, a)
		}
		for _, t := range in.Targets {
			for _, a := range t.Args {
				c.checkUse(b, k, i, a)
			}
		}
	}
}

func (c *checker) checkUse(b ir.Block, k int, i ir.Inst, v ir.Value) {
	f := c.f
	if !c.live(v) {
		return
	}
	vd := f.Value(v)
	var def ir.Block
	switch vd.Kind {
	case ir.ValueParam:
		def = vd.Block
		if def == b {
			return
		}
	case ir.ValueResult:
		def = f.Inst(vd.Inst).Block
		if def == b {
			if c.pos[vd.Inst] < k {
				return
			}
			c.report(errors.KindDominance, i, []string{b.String(), i.String()},
				"%s is used by %s before its definition", v, f.Inst(i).Op)
			return
		}
	default:
		return
	}
	if !c.dt.StrictlyDominates(def, b) {
		c.report(errors.KindDominance, i, []string{b.String(), i.String()},
			"%s defined in %s does not dominate its use in %s", v, def, b)
	}
}

func (c *checker) valueTypes(vs []ir.Value) []ir.Type {
	out := make([]ir.Type, len(vs))
	for k, v := range vs {
		if c.f.HasValue(v) {
			out[k] = c.f.Value(v).Type
		}
	}
	return out
}

func typesMatch(a, b []ir.Type) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if a[k] != b[k] {
			return false
		}
	}
	return true
}

func callSignature(m *ir.Module, in *ir.InstData) (ir.Signature, bool) {
	switch imm := in.Imm.(type) {
	case wasm.CallImm:
		return m.Signature(imm.FuncIdx)
	case wasm.CallIndirectImm:
		if int(imm.TypeIdx) < len(m.Types) {
			return m.Types[imm.TypeIdx], true
		}
	}
	return ir.Signature{}, false
}

func globalIndex(in *ir.InstData) (uint32, bool) {
	imm, ok := in.Imm.(wasm.GlobalImm)
	return imm.GlobalIdx, ok
}
