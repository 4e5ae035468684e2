package errors

import (
	"fmt"
	"strings"
)

// Phase indicates where in the pipeline the error occurred
type Phase string

const (
	PhaseDecode      Phase = "decode"      // bytes to module / token stream
	PhaseBuild       Phase = "build"       // token stream to SSA
	PhasePass        Phase = "pass"        // IR transformation passes
	PhaseVerify      Phase = "verify"      // IR invariant checks
	PhaseRestructure Phase = "restructure" // CFG to nested regions
	PhaseLower       Phase = "lower"       // regions to instruction stream
	PhaseEncode      Phase = "encode"      // module to bytes
	PhaseCheck       Phase = "check"       // behavioural comparison
)

// Kind categorizes the error
type Kind string

const (
	KindStackUnderflow Kind = "stack_underflow"
	KindTypeMismatch   Kind = "type_mismatch"
	KindInvalidLabel   Kind = "invalid_label"
	KindInvalidIndex   Kind = "invalid_index"
	KindUnsupported    Kind = "unsupported"
	KindInvalidData    Kind = "invalid_data"
	KindArity          Kind = "arity_mismatch"
	KindDangling       Kind = "dangling_handle"
	KindDominance      Kind = "dominance"
	KindMalformed      Kind = "malformed_block"
	KindIrreducible    Kind = "irreducible"
	KindInternal       Kind = "internal"
	KindMismatch       Kind = "behaviour_mismatch"
)

// NoPos marks an error without a token position.
const NoPos = -1

// Error is the structured error type used throughout the module
type Error struct {
	Value  any
	Cause  error
	Phase  Phase
	Kind   Kind
	Detail string
	Path   []string
	Func   int64 // function index, -1 when not tied to a function
	Pos    int   // token position inside the function body, NoPos if unknown
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Func >= 0 {
		fmt.Fprintf(&b, " in func %d", e.Func)
	}
	if e.Pos >= 0 {
		fmt.Fprintf(&b, " at instr %d", e.Pos)
	}
	if len(e.Path) > 0 {
		b.WriteString(" (")
		b.WriteString(strings.Join(e.Path, "."))
		b.WriteByte(')')
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
			Func:  -1,
			Pos:   NoPos,
		},
	}
}

// Func sets the function index
func (b *Builder) Func(idx uint32) *Builder {
	b.err.Func = int64(idx)
	return b
}

// At sets the token position
func (b *Builder) At(pos int) *Builder {
	b.err.Pos = pos
	return b
}

// Path sets the entity path, e.g. block and value names
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// Unsupported creates an unsupported operation error
func Unsupported(phase Phase, what string) *Error {
	return New(phase, KindUnsupported).Detail("%s", what).Build()
}

// Internal creates an internal invariant violation error
func Internal(phase Phase, detail string) *Error {
	return New(phase, KindInternal).Detail("%s", detail).Build()
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return New(phase, kind).Detail("%s", detail).Cause(cause).Build()
}

// Decode creates a whole-module decode error
func Decode(cause error) *Error {
	return Wrap(PhaseDecode, KindInvalidData, cause, "decode module")
}

// WithFunc returns a copy of err tagged with a function index. Errors that are
// not *Error are wrapped as internal errors of the given phase.
func WithFunc(phase Phase, idx uint32, err error) *Error {
	if err == nil {
		return nil
	}
	if e, ok := err.(*Error); ok {
		c := *e
		c.Func = int64(idx)
		return &c
	}
	return New(phase, KindInternal).Func(idx).Cause(err).Build()
}

// PhaseOf returns the phase of err if it is an *Error.
func PhaseOf(err error) (Phase, bool) {
	var e *Error
	for err != nil {
		if x, ok := err.(*Error); ok {
			e = x
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	if e == nil {
		return "", false
	}
	return e.Phase, true
}
