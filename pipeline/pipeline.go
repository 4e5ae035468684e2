package pipeline

import (
	"context"
	"slices"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wippyai/wasm-ir/backend"
	"github.com/wippyai/wasm-ir/errors"
	"github.com/wippyai/wasm-ir/frontend"
	"github.com/wippyai/wasm-ir/ir"
	"github.com/wippyai/wasm-ir/restructure"
	"github.com/wippyai/wasm-ir/verify"
	"github.com/wippyai/wasm-ir/wasm"
)

// Stage names the step a function task reached.
type Stage string

const (
	StageBuild       Stage = "build"
	StagePasses      Stage = "passes"
	StageVerify      Stage = "verify"
	StageRestructure Stage = "restructure"
	StageLower       Stage = "lower"
	StageDone        Stage = "done"
	StageSkipped     Stage = "skipped"
)

var stagePhase = map[Stage]errors.Phase{
	StageBuild:       errors.PhaseBuild,
	StagePasses:      errors.PhasePass,
	StageVerify:      errors.PhaseVerify,
	StageRestructure: errors.PhaseRestructure,
	StageLower:       errors.PhaseLower,
}

// Outcome is the result of one function task. Stage is where the task
// stopped: StageDone on success, the failing step otherwise.
type Outcome struct {
	Err   error
	Func  *ir.Function // last IR state, nil if building failed
	Tree  *restructure.Tree
	Body  wasm.FuncBody
	Stage Stage
	Index uint32
}

// OK reports whether the function was rewritten.
func (o *Outcome) OK() bool { return o.Stage == StageDone }

// Result collects the outcomes of a run.
type Result struct {
	// Module is the reassembled module, nil when none was produced.
	Module   *wasm.Module
	IR       *ir.Module
	Outcomes []Outcome // one per defined function, in index order
}

// Failed returns the outcomes of functions that were not rewritten.
func (r *Result) Failed() []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if !o.OK() {
			out = append(out, o)
		}
	}
	return out
}

// Run decodes bin, transforms every defined function and encodes the
// result. Malformed module bytes are always fatal.
func Run(ctx context.Context, bin []byte, cfg Config) ([]byte, *Result, error) {
	m, err := wasm.ParseModule(bin)
	if err != nil {
		return nil, nil, errors.Decode(err)
	}
	res, err := Transform(ctx, m, cfg)
	if res == nil || res.Module == nil {
		return nil, res, err
	}
	return res.Module.Encode(), res, err
}

// Transform rebuilds every defined function of m through SSA construction,
// the configured passes, verification, restructuring and lowering. Each
// function is an independent task; at most cfg.Workers run at once.
//
// Under IsolateFunction the returned module is non-nil even when err is
// not: err then lists the functions that kept their original bodies.
// A malformed function body or a cancelled ctx yields no module under any
// policy. m is not modified.
func Transform(ctx context.Context, m *wasm.Module, cfg Config) (*Result, error) {
	cfg = cfg.withDefaults()
	log := cfg.Logger
	start := time.Now()

	res := &Result{IR: ir.NewModule(m), Outcomes: make([]Outcome, len(m.Code))}
	d := &driver{mod: m, irm: res.IR, cfg: cfg, nimp: uint32(m.NumImportedFuncs())}

	var (
		g      errgroup.Group
		failed atomic.Bool
	)
	g.SetLimit(cfg.Workers)
	for i := range res.Outcomes {
		if ctx.Err() != nil || (cfg.StopOnFailure && failed.Load()) {
			res.Outcomes[i] = Outcome{Index: d.nimp + uint32(i), Stage: StageSkipped}
			continue
		}
		g.Go(func() error {
			res.Outcomes[i] = d.task(uint32(i))
			if res.Outcomes[i].Err != nil {
				failed.Store(true)
			}
			return nil
		})
	}
	_ = g.Wait()

	var errs error
	for i := range res.Outcomes {
		o := &res.Outcomes[i]
		res.IR.Funcs[o.Index].Body = o.Func
		if o.Err == nil {
			continue
		}
		if phase, _ := errors.PhaseOf(o.Err); phase == errors.PhaseDecode {
			log.Error("malformed function body", zap.Uint32("func", o.Index), zap.Error(o.Err))
			return res, o.Err
		}
		log.Warn("function not rewritten",
			zap.Uint32("func", o.Index),
			zap.String("stage", string(o.Stage)),
			zap.Error(o.Err))
		errs = multierr.Append(errs, o.Err)
	}
	if err := ctx.Err(); err != nil {
		return res, multierr.Append(err, errs)
	}
	if errs != nil && cfg.Policy == DiscardModule {
		log.Warn("module discarded", zap.Int("failed", len(multierr.Errors(errs))))
		return res, errs
	}

	out := *m
	out.Code = slices.Clone(m.Code)
	for i := range res.Outcomes {
		if res.Outcomes[i].OK() {
			out.Code[i] = res.Outcomes[i].Body
		}
	}
	res.Module = &out

	log.Info("transformed module",
		zap.Int("funcs", len(res.Outcomes)),
		zap.Int("failed", len(res.Failed())),
		zap.Int("workers", cfg.Workers),
		zap.String("policy", cfg.Policy.String()),
		zap.Duration("elapsed", time.Since(start)))
	return res, errs
}

type driver struct {
	mod  *wasm.Module
	irm  *ir.Module // read-only until every task has finished
	cfg  Config
	nimp uint32
}

// task runs one defined function through the pipeline. It owns the
// function it builds and touches no other shared state.
func (d *driver) task(i uint32) (out Outcome) {
	idx := d.nimp + i
	out = Outcome{Index: idx, Stage: StageBuild}
	defer func() {
		if r := recover(); r != nil {
			phase, ok := stagePhase[out.Stage]
			if !ok {
				phase = errors.PhaseBuild
			}
			out.Err = errors.New(phase, errors.KindInternal).Func(idx).
				Value(r).Detail("panic: %v", r).Build()
			d.cfg.Logger.Error("function task panicked",
				zap.Uint32("func", idx),
				zap.String("stage", string(out.Stage)),
				zap.Any("panic", r),
				zap.Stack("stack"))
		}
	}()

	f, err := frontend.Build(d.mod, idx)
	if err != nil {
		out.Err = err
		return out
	}
	out.Func = f

	out.Stage = StagePasses
	for _, p := range d.cfg.Passes {
		if err := p.Run(f); err != nil {
			out.Err = passError(idx, p.Name(), err)
			return out
		}
	}

	out.Stage = StageVerify
	if err := verify.InModule(d.irm, f); err != nil {
		out.Err = errors.WithFunc(errors.PhaseVerify, idx, err)
		return out
	}
	f.Compact()

	out.Stage = StageRestructure
	tree, err := restructure.Structure(f, d.cfg.Restructure)
	if err != nil {
		out.Err = errors.WithFunc(errors.PhaseRestructure, idx, err)
		return out
	}
	out.Tree = tree

	out.Stage = StageLower
	body, err := backend.Lower(f, tree)
	if err != nil {
		out.Err = errors.WithFunc(errors.PhaseLower, idx, err)
		return out
	}
	out.Body = body
	out.Stage = StageDone
	return out
}

func passError(idx uint32, name string, err error) error {
	if e, ok := err.(*errors.Error); ok {
		c := *e
		c.Func = int64(idx)
		c.Path = append([]string{name}, c.Path...)
		return &c
	}
	return errors.New(errors.PhasePass, errors.KindInternal).
		Func(idx).Path(name).Cause(err).Detail("pass failed").Build()
}
