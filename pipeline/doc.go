// Package pipeline drives whole modules through the IR.
//
// Every defined function becomes one task: decode, SSA construction, the
// configured passes, verification, compaction, restructuring and lowering.
// Tasks run on a bounded errgroup and never share a function, so the only
// state they have in common is the read-only module and operator tables.
// The driver joins every task before it reassembles the module.
//
// A failing function does not stop the others. What happens to the module
// is decided by Config.Policy:
//
//	res, err := pipeline.Transform(ctx, mod, pipeline.Config{Policy: pipeline.IsolateFunction})
//	// res.Module holds rewritten bodies, plus the original body of every
//	// function listed in err.
package pipeline
