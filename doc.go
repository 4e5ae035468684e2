// Package wasmir is a control-flow-graph IR for WebAssembly function bodies.
//
// Function bodies are lifted from the structured wasm stack machine into
// SSA form over basic blocks with block parameters, checked, optionally
// transformed, and lowered back into structured control flow.
//
// # Architecture Overview
//
//	wasmir/
//	├── wasm/          Module and instruction decoding and encoding
//	├── ir/            Arena IR: blocks, values, instructions, CFG queries
//	├── frontend/      SSA construction from instruction streams
//	├── verify/        Arity, type, handle and dominance checks
//	├── passes/        IR passes and the pass registry
//	├── restructure/   CFG to nested block/loop/if regions
//	├── backend/       Regions to instruction streams with locals
//	├── pipeline/      Per-function worker pool over whole modules
//	├── check/         Validation and differential runs in wazero
//	├── errors/        Structured error types
//	└── cmd/wasm-ir/   Command line tool and interactive explorer
//
// # Quick Start
//
// Rewrite every function of a module:
//
//	out, res, err := pipeline.Run(ctx, wasmBytes, pipeline.Config{})
//	if res == nil || res.Module == nil {
//	    log.Fatal(err)
//	}
//	for _, o := range res.Failed() {
//	    log.Printf("func %d kept its body: %v", o.Index, o.Err)
//	}
//
// Work on a single function:
//
//	f, err := frontend.Build(mod, idx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := verify.Function(f); err != nil {
//	    log.Fatal(err)
//	}
//	tree, err := restructure.Structure(f, restructure.Options{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	body, err := backend.Lower(f, tree)
//
// # Irreducible Control Flow
//
// Bodies built from wasm are always reducible. Passes may produce CFGs that
// are not; restructure then routes every multi-entry cycle through a
// dispatch block that selects the entry with a br_table.
//
// # Thread Safety
//
// A Function is owned by one goroutine at a time. Operator metadata and
// module type tables are read-only once built and can be shared freely.
package wasmir
