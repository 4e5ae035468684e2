package backend

import "github.com/wippyai/wasm-ir/wasm"

func localIdx(in wasm.Instruction) (uint32, bool) {
	switch in.Opcode {
	case wasm.OpLocalGet, wasm.OpLocalSet, wasm.OpLocalTee:
		return in.Imm.(wasm.LocalImm).LocalIdx, true
	}
	return 0, false
}

// fold keeps single-use temporaries on the operand stack. A local.set
// directly followed by a local.get of the same local is removed when that
// get is the local's only read, and becomes local.tee otherwise. Locals
// that are never read are then dropped and the rest renumbered.
func fold(code []wasm.Instruction, nparams uint32, types []wasm.ValType) ([]wasm.Instruction, []wasm.ValType) {
	n := int(nparams) + len(types)
	gets := make([]int, n)
	sets := make([]int, n)
	for _, in := range code {
		idx, ok := localIdx(in)
		if !ok {
			continue
		}
		if in.Opcode == wasm.OpLocalGet {
			gets[idx]++
		} else {
			sets[idx]++
		}
	}

	out := make([]wasm.Instruction, 0, len(code))
	for i := 0; i < len(code); i++ {
		in := code[i]
		if in.Opcode == wasm.OpLocalSet && i+1 < len(code) && code[i+1].Opcode == wasm.OpLocalGet {
			x, _ := localIdx(in)
			y, _ := localIdx(code[i+1])
			if x == y && x >= nparams {
				i++
				gets[x]--
				if gets[x] == 0 && sets[x] == 1 {
					sets[x] = 0
					continue
				}
				out = append(out, wasm.Instruction{Opcode: wasm.OpLocalTee, Imm: wasm.LocalImm{LocalIdx: x}})
				continue
			}
		}
		out = append(out, in)
	}

	remap := make([]uint32, n)
	var kept []wasm.ValType
	for x := uint32(0); x < uint32(n); x++ {
		switch {
		case x < nparams:
			remap[x] = x
		case gets[x] > 0:
			remap[x] = nparams + uint32(len(kept))
			kept = append(kept, types[x-nparams])
		default:
			remap[x] = noLocal
		}
	}

	code = out[:0]
	for _, in := range out {
		idx, ok := localIdx(in)
		if !ok {
			code = append(code, in)
			continue
		}
		if remap[idx] == noLocal {
			// Written but never read.
			if in.Opcode == wasm.OpLocalSet {
				code = append(code, wasm.Instruction{Opcode: wasm.OpDrop})
			}
			continue
		}
		code = append(code, wasm.Instruction{Opcode: in.Opcode, Imm: wasm.LocalImm{LocalIdx: remap[idx]}})
	}
	return code, kept
}
