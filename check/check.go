package check

import (
	"context"
	stderrors "errors"
	"fmt"
	"slices"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-ir/errors"
)

// Call is one invocation of an exported function.
type Call struct {
	Export string
	Args   []uint64
}

func (c Call) String() string { return fmt.Sprintf("%s%v", c.Export, c.Args) }

// Result is the outcome of a Call: its results, or the error it trapped
// with.
type Result struct {
	Err    error
	Values []uint64
}

// Trapped reports whether the call ended in a trap.
func (r Result) Trapped() bool { return r.Err != nil }

// Config holds configuration for a Checker.
type Config struct {
	// MemoryLimitPages caps guest memory in 64KiB pages. 0 means the
	// wazero default.
	MemoryLimitPages uint32
}

// Checker validates and runs modules in a private wazero runtime.
type Checker struct {
	runtime wazero.Runtime
}

// New creates a checker. Canceling ctx during a call aborts it.
func New(ctx context.Context, cfg *Config) *Checker {
	rc := wazero.NewRuntimeConfig().
		WithCoreFeatures(api.CoreFeaturesV2).
		WithCloseOnContextDone(true)
	if cfg != nil && cfg.MemoryLimitPages > 0 {
		rc = rc.WithMemoryLimitPages(cfg.MemoryLimitPages)
	}
	return &Checker{runtime: wazero.NewRuntimeWithConfig(ctx, rc)}
}

// Close releases the runtime and every module compiled by it.
func (c *Checker) Close(ctx context.Context) error {
	return c.runtime.Close(ctx)
}

// Validate compiles bin, which runs wazero's validator.
func (c *Checker) Validate(ctx context.Context, bin []byte) error {
	compiled, err := c.runtime.CompileModule(ctx, bin)
	if err != nil {
		return errors.New(errors.PhaseCheck, errors.KindInvalidData).
			Cause(err).Detail("module does not validate").Build()
	}
	return compiled.Close(ctx)
}

// Run instantiates bin once and performs calls in order against that
// instance. A trap is recorded in the call's Result; failing to compile or
// instantiate is returned as an error.
func (c *Checker) Run(ctx context.Context, bin []byte, calls []Call) ([]Result, error) {
	compiled, err := c.runtime.CompileModule(ctx, bin)
	if err != nil {
		return nil, errors.New(errors.PhaseCheck, errors.KindInvalidData).
			Cause(err).Detail("module does not validate").Build()
	}
	defer compiled.Close(ctx)

	mod, err := c.runtime.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName(""))
	if err != nil {
		return nil, errors.New(errors.PhaseCheck, errors.KindInvalidData).
			Cause(err).Detail("instantiate").Build()
	}
	defer mod.Close(ctx)

	results := make([]Result, len(calls))
	for k, call := range calls {
		fn := mod.ExportedFunction(call.Export)
		if fn == nil {
			return nil, errors.New(errors.PhaseCheck, errors.KindInvalidIndex).
				Value(call.Export).Detail("no exported function %q", call.Export).Build()
		}
		vals, err := fn.Call(ctx, call.Args...)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		results[k] = Result{Values: vals, Err: err}
	}
	return results, nil
}

// Compare runs calls against both binaries and reports every call whose
// results differ, or that traps in one but not the other.
func (c *Checker) Compare(ctx context.Context, want, got []byte, calls []Call) error {
	wr, err := c.Run(ctx, want, calls)
	if err != nil {
		return err
	}
	gr, err := c.Run(ctx, got, calls)
	if err != nil {
		return err
	}
	var errs error
	for k, call := range calls {
		w, g := wr[k], gr[k]
		switch {
		case w.Trapped() != g.Trapped():
			errs = multierr.Append(errs, mismatch(call, "trap %v, want %v", g.Err, w.Err))
		case !w.Trapped() && !slices.Equal(w.Values, g.Values):
			errs = multierr.Append(errs, mismatch(call, "results %v, want %v", g.Values, w.Values))
		}
	}
	if errs != nil {
		Logger().Debug("behaviour differs",
			zap.Int("calls", len(calls)),
			zap.Int("mismatches", len(multierr.Errors(errs))))
	}
	return errs
}

func mismatch(call Call, msg string, args ...any) error {
	return errors.New(errors.PhaseCheck, errors.KindMismatch).
		Path(call.String()).Detail(msg, args...).Build()
}

// Validate compiles bin in a throwaway runtime.
func Validate(ctx context.Context, bin []byte) error {
	c := New(ctx, nil)
	return multierr.Append(c.Validate(ctx, bin), c.Close(ctx))
}

// IsMismatch reports whether err carries a behaviour mismatch.
func IsMismatch(err error) bool {
	for _, e := range multierr.Errors(err) {
		var ce *errors.Error
		if stderrors.As(e, &ce) && ce.Kind == errors.KindMismatch {
			return true
		}
	}
	return false
}
