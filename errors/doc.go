// Package errors provides structured error types for the wasm-ir pipeline.
//
// Errors are categorized by Phase (pipeline stage) and Kind (error category).
// The Error type carries the function index and token position where they are
// known, plus an optional entity path and cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseBuild, errors.KindStackUnderflow).
//		Func(3).
//		At(17).
//		Detail("i32.add needs 2 operands, stack has 1").
//		Build()
//
// The error kinds map to the pipeline failures:
//
//	DecodeError       PhaseDecode       whole module, fatal
//	BuildError        PhaseBuild        one function
//	PassError         PhasePass         one function, failing pass named in Path
//	VerifyError       PhaseVerify       one function, internal defect
//	RestructureError  PhaseRestructure  one function, internal defect
//
// All errors implement the standard error interface and support errors.Is/As;
// Is matches on Phase and Kind only.
package errors
