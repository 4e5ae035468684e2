package frontend

import (
	stderrors "errors"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-ir/errors"
	"github.com/wippyai/wasm-ir/ir"
	"github.com/wippyai/wasm-ir/wasm"
)

// MaxLocals bounds the declared locals of one function.
const MaxLocals = 50000

type frameKind byte

const (
	frameFunction frameKind = iota + 1
	frameBlock
	frameLoop
	frameIfWithElse
	frameIfWithoutElse
)

// frame is one entry of the control stack.
type frame struct {
	kind frameKind
	// height is the operand stack height below the frame's params.
	height int
	// header is the loop header for loops and the else block for ifs.
	header ir.Block
	// next is the block that follows the frame's end.
	next     ir.Block
	params   []ir.Type
	results  []ir.Type
	elseArgs []ir.Value
}

// labelTypes returns the types a branch to this frame carries.
func (fr *frame) labelTypes() []ir.Type {
	if fr.kind == frameLoop {
		return fr.params
	}
	return fr.results
}

func (fr *frame) labelBlock() ir.Block {
	if fr.kind == frameLoop {
		return fr.header
	}
	return fr.next
}

// blockInfo is the builder's per-block SSA state.
type blockInfo struct {
	defs map[uint32]ir.Value
	// pending holds placeholders created while the block was open or only
	// provisionally sealed, in param order.
	pending     []ir.Value
	provisional bool
}

type builder struct {
	mod     *wasm.Module
	f       *ir.Function
	results []ir.Type
	slots   []ir.Type

	stack            []ir.Value
	frames           []frame
	cur              ir.Block
	unreachable      bool
	unreachableDepth int
	pc               int
	funcIdx          uint32

	blocks   []blockInfo
	slotOf   map[ir.Value]uint32
	resolved map[ir.Value]bool
	queue    []ir.Value
	recheck  []ir.Value
	consts   *ir.Consts
}

// Build lowers the body of function funcIdx, an index into the module's
// function index space, into SSA form.
func Build(mod *wasm.Module, funcIdx uint32) (*ir.Function, error) {
	defined := int(funcIdx) - mod.NumImportedFuncs()
	if defined < 0 || defined >= len(mod.Code) {
		return nil, errors.New(errors.PhaseBuild, errors.KindInvalidIndex).
			Func(funcIdx).Detail("function %d has no body", funcIdx).Build()
	}
	body := &mod.Code[defined]
	instrs, err := wasm.DecodeInstructions(body.Code)
	if err != nil {
		return nil, decodeError(funcIdx, err)
	}
	return BuildBody(mod, funcIdx, body, instrs)
}

func decodeError(funcIdx uint32, err error) error {
	pos := errors.NoPos
	var ie *wasm.InstrError
	if stderrors.As(err, &ie) {
		pos = ie.Index
	}
	if stderrors.Is(err, wasm.ErrUnsupportedOpcode) {
		return errors.New(errors.PhaseBuild, errors.KindUnsupported).
			Func(funcIdx).At(pos).Cause(err).Detail("unsupported instruction").Build()
	}
	return errors.New(errors.PhaseDecode, errors.KindInvalidData).
		Func(funcIdx).At(pos).Cause(err).Detail("malformed function body").Build()
}

// BuildBody lowers an already decoded instruction stream. instrs must
// include the final end.
func BuildBody(mod *wasm.Module, funcIdx uint32, body *wasm.FuncBody, instrs []wasm.Instruction) (*ir.Function, error) {
	ft := mod.GetFuncType(funcIdx)
	if ft == nil {
		return nil, errors.New(errors.PhaseBuild, errors.KindInvalidIndex).
			Func(funcIdx).Detail("function %d has no type", funcIdx).Build()
	}
	b := &builder{
		mod:      mod,
		funcIdx:  funcIdx,
		slotOf:   make(map[ir.Value]uint32),
		resolved: make(map[ir.Value]bool),
	}
	sig, err := b.signature(*ft)
	if err != nil {
		return nil, err
	}
	if n := body.NumLocals(); n > MaxLocals {
		return nil, b.errorf(errors.KindUnsupported, "%d locals exceeds the limit of %d", n, MaxLocals)
	}
	locals, ok := ir.TypesOf(body.ExpandLocals())
	if !ok || containsV128(locals) {
		return nil, b.errorf(errors.KindUnsupported, "unsupported local type")
	}

	b.f = ir.NewFunction(funcIdx, sig)
	b.consts = ir.NewConsts(b.f)
	b.results = sig.Results
	b.slots = append(append([]ir.Type(nil), sig.Params...), locals...)
	b.cur = b.f.Entry
	for i, p := range b.f.Block(b.f.Entry).Params {
		b.writeSlot(b.f.Entry, uint32(i), p)
	}
	b.frames = append(b.frames, frame{kind: frameFunction, results: sig.Results, header: ir.NoBlock, next: ir.NoBlock})

	for b.pc = 0; b.pc < len(instrs); b.pc++ {
		if len(b.frames) == 0 {
			return nil, b.errorf(errors.KindInvalidData, "instructions after the function end")
		}
		b.f.SetSourcePos(b.pc)
		if err := b.lower(&instrs[b.pc]); err != nil {
			return nil, err
		}
	}
	if len(b.frames) != 0 {
		return nil, b.errorf(errors.KindInvalidData, "function body is missing its end")
	}

	Logger().Debug("built function",
		zap.Uint32("func", funcIdx),
		zap.Int("blocks", len(b.f.Blocks())),
		zap.Int("values", b.f.NumValues()),
		zap.Int("instrs", len(instrs)))
	return b.f, nil
}

func (b *builder) signature(ft wasm.FuncType) (ir.Signature, error) {
	sig, ok := ir.SignatureOf(ft)
	if !ok || containsV128(sig.Params) || containsV128(sig.Results) {
		return ir.Signature{}, b.errorf(errors.KindUnsupported, "unsupported signature %v -> %v", ft.Params, ft.Results)
	}
	return sig, nil
}

func containsV128(ts []ir.Type) bool {
	for _, t := range ts {
		if t == ir.V128 {
			return true
		}
	}
	return false
}

func (b *builder) errorf(kind errors.Kind, format string, args ...any) *errors.Error {
	pos := errors.NoPos
	if b.f != nil {
		pos = b.pc
	}
	return errors.New(errors.PhaseBuild, kind).Func(b.funcIdx).At(pos).Detail(format, args...).Build()
}

// Operand stack.

func (b *builder) push(v ir.Value) { b.stack = append(b.stack, v) }

func (b *builder) typeOf(v ir.Value) ir.Type { return b.f.Value(b.f.Resolve(v)).Type }

// floor is the lowest stack slot the innermost frame may pop.
func (b *builder) floor() int {
	return b.frames[len(b.frames)-1].height
}

// pop removes the top value, checking it against want unless want is
// TypeInvalid.
func (b *builder) pop(want ir.Type) (ir.Value, error) {
	if len(b.stack) <= b.floor() {
		return ir.NoValue, b.errorf(errors.KindStackUnderflow, "operand stack is empty")
	}
	v := b.f.Resolve(b.stack[len(b.stack)-1])
	b.stack = b.stack[:len(b.stack)-1]
	if got := b.f.Value(v).Type; want != ir.TypeInvalid && got != want {
		return ir.NoValue, b.errorf(errors.KindTypeMismatch, "expected %s, found %s", want, got)
	}
	return v, nil
}

// popN pops len(ts) values, returned in stack order.
func (b *builder) popN(ts []ir.Type) ([]ir.Value, error) {
	if len(ts) == 0 {
		return nil, nil
	}
	out := make([]ir.Value, len(ts))
	for i := len(ts) - 1; i >= 0; i-- {
		v, err := b.pop(ts[i])
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// peekN returns the top len(ts) values without popping them.
func (b *builder) peekN(ts []ir.Type) ([]ir.Value, error) {
	vs, err := b.popN(ts)
	if err != nil {
		return nil, err
	}
	b.stack = append(b.stack, vs...)
	return vs, nil
}

func (b *builder) emit(op ir.Op, imm interface{}, args []ir.Value, results ...ir.Type) {
	i := b.f.AddInst(b.cur, op, imm, args, results...)
	for _, r := range b.f.Inst(i).Results {
		b.push(r)
	}
}

func (b *builder) terminate(op ir.Op, imm interface{}, args []ir.Value, targets ...ir.BlockTarget) {
	b.f.AddTerminator(b.cur, op, imm, args, targets)
}

// sealedBlock creates a block whose only predecessor will be added next.
func (b *builder) sealedBlock() ir.Block {
	blk := b.f.NewBlock()
	b.f.Block(blk).State = ir.Sealed
	return blk
}

// switchTo continues building in blk with the stack cut back to height
// followed by blk's first n params.
func (b *builder) switchTo(height int, blk ir.Block, n int) {
	b.stack = b.stack[:height]
	for _, p := range b.f.Block(blk).Params[:n] {
		b.push(p)
	}
	b.cur = blk
}
