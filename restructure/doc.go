// Package restructure rebuilds structured control flow from an SSA CFG.
//
// Nesting follows the dominator tree. A block with more than one forward
// incoming edge is a merge node: it is emitted right after a wasm block
// wrapping the code of its immediate dominator, so forward branches to it
// become br out of that block. A block entered by a back edge is wrapped in
// a wasm loop. Every other block is inlined at its single incoming edge.
// Blocks placed after a wrapper are ordered so the child with the highest
// reverse postorder number gets the outermost block.
//
// Irreducible cycles are made single-entry first by routing their entries
// through a dispatch block that selects the original target with a
// br_table. Reducible input is never changed.
//
// The traversal runs on an explicit task stack, so deeply nested input
// does not depend on the call stack.
package restructure
