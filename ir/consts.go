package ir

import "github.com/wippyai/wasm-ir/wasm"

type constKey struct {
	op   Op
	bits uint64
}

// Consts value-numbers constants into a function's entry block, where they
// dominate every use.
type Consts struct {
	f    *Function
	vals map[constKey]Value
}

// NewConsts returns an empty pool for f.
func NewConsts(f *Function) *Consts {
	return &Consts{f: f, vals: make(map[constKey]Value)}
}

// Get returns the value of the constant op imm, creating it the first time.
func (c *Consts) Get(op Op, imm interface{}, t Type) Value {
	key := constKey{op: op}
	switch imm := imm.(type) {
	case wasm.I32Imm:
		key.bits = uint64(uint32(imm.Value))
	case wasm.I64Imm:
		key.bits = uint64(imm.Value)
	case wasm.F32Imm:
		key.bits = uint64(imm.Bits)
	case wasm.F64Imm:
		key.bits = imm.Bits
	case wasm.RefNullImm:
		key.bits = uint64(imm.HeapType)
	}
	if v, ok := c.vals[key]; ok && c.f.HasValue(v) {
		return v
	}
	i := c.f.AddInst(c.f.Entry, op, imm, nil, t)
	v := c.f.insts[i].Results[0]
	c.vals[key] = v
	return v
}

// I32 returns the i32 constant v.
func (c *Consts) I32(v int32) Value {
	return c.Get(OpI32Const, wasm.I32Imm{Value: v}, I32)
}

// Zero returns the zero value of t.
func (c *Consts) Zero(t Type) Value {
	op, imm := Zero(t)
	return c.Get(op, imm, t)
}
