// Package wasm parses and encodes WebAssembly binary modules.
//
// It is the byte-level boundary of the IR pipeline: ParseModule reads a module
// and keeps function bodies as raw code, DecodeInstructions turns one body
// into the flat token stream the SSA builder consumes, and EncodeInstructions
// plus (*Module).Encode serialize the lowered result.
//
// # Supported Features
//
//	WebAssembly 1.0 core instructions and sections
//	Multi-value block types (type-index block types)
//	Reference types (funcref, externref, ref.null, ref.func, table.get/set)
//	Bulk memory and table operations (0xFC prefix)
//	Non-trapping float-to-int conversions, sign extension
//	Tail calls (return_call, return_call_indirect)
//
// SIMD, threads, GC and exception handling opcodes decode to
// ErrUnsupportedOpcode so callers can skip the affected function.
//
// # Tokens
//
// An Instruction is an opcode plus a typed immediate:
//
//	instrs, err := wasm.DecodeInstructions(m.Code[0].Code)
//	for _, in := range instrs {
//	    if in.Opcode == wasm.OpBr {
//	        depth := in.Imm.(wasm.BranchImm).LabelIdx
//	        _ = depth
//	    }
//	}
//
// Float constants keep their raw bit patterns so NaN payloads survive a
// decode/encode round trip.
package wasm
