// Package backend lowers a restructured function to a wasm instruction
// stream.
//
// Every value that is used gets a local of its own, except entry params,
// which are the function's params, and constants, which are emitted again
// at each use. Regions are void typed: edges copy their arguments into the
// destination's param locals with a parallel move before branching. br_if
// becomes if/else and br_table branches into a nest of one block per
// distinct target.
//
// A final peephole keeps single-use temporaries on the operand stack and
// removes locals that are never read.
package backend
