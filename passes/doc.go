// Package passes holds IR-to-IR transformations run between building and
// verification.
//
// A Pass mutates one function in place. Passes are looked up by name in a
// Registry; Default registers the built-in ones:
//
//	prune                 remove unreachable blocks and unused pure values
//	split-critical-edges  give critical edges a block of their own
package passes
