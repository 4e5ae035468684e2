package pipeline_test

import (
	"bytes"
	"context"
	stderrors "errors"
	"testing"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/multierr"

	"github.com/wippyai/wasm-ir/check"
	"github.com/wippyai/wasm-ir/errors"
	. "github.com/wippyai/wasm-ir/internal/wasmtest"
	"github.com/wippyai/wasm-ir/ir"
	"github.com/wippyai/wasm-ir/passes"
	"github.com/wippyai/wasm-ir/pipeline"
	"github.com/wippyai/wasm-ir/wasm"
)

var i32 = []wasm.ValType{wasm.ValI32}

func call(name string, vs ...int32) check.Call {
	args := make([]uint64, len(vs))
	for k, v := range vs {
		args[k] = api.EncodeI32(v)
	}
	return check.Call{Export: name, Args: args}
}

func counter() Func {
	return Func{Export: "count", Params: i32, Results: i32, Locals: i32, Body: Is(
		Block(wasm.BlockTypeVoid),
		Loop(wasm.BlockTypeVoid),
		LocalGet(0), Op(wasm.OpI32Eqz), BrIf(1),
		LocalGet(1), I32(3), Op(wasm.OpI32Add), LocalSet(1),
		LocalGet(0), I32(1), Op(wasm.OpI32Sub), LocalSet(0),
		Br(0),
		End(),
		End(),
		LocalGet(1),
	)}
}

func abs() Func {
	return Func{Export: "abs", Params: i32, Results: i32, Body: Is(
		LocalGet(0), I32(0), Op(wasm.OpI32LtS),
		If(wasm.BlockTypeI32),
		I32(0), LocalGet(0), Op(wasm.OpI32Sub),
		Else(),
		LocalGet(0),
		End(),
	)}
}

// vector declares a v128 local, which the SSA builder rejects.
func vector() Func {
	return Func{Export: "vec", Params: i32, Results: i32, Locals: []wasm.ValType{wasm.ValV128}, Body: Is(
		LocalGet(0), I32(1), Op(wasm.OpI32Add),
	)}
}

func TestRunPreservesBehaviour(t *testing.T) {
	bin := Binary([]Func{counter(), abs()})
	ctx := context.Background()

	got, res, err := pipeline.Run(ctx, bin, pipeline.Config{
		Workers: 2,
		Passes:  []passes.Pass{passes.New("prune", passes.Prune)},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Failed()) != 0 {
		t.Fatalf("failed outcomes: %v", res.Failed())
	}
	for _, o := range res.Outcomes {
		if o.Func == nil || o.Tree == nil {
			t.Errorf("func %d: outcome misses IR or tree", o.Index)
		}
		if res.IR.Func(o.Index).Body != o.Func {
			t.Errorf("func %d: IR module not populated", o.Index)
		}
	}

	c := check.New(ctx, nil)
	defer c.Close(ctx)
	calls := []check.Call{
		call("count", 0), call("count", 5), call("count", 40),
		call("abs", -7), call("abs", 0), call("abs", 12),
	}
	if err := c.Compare(ctx, bin, got, calls); err != nil {
		t.Errorf("Compare: %v", err)
	}
}

func TestRunIsDeterministic(t *testing.T) {
	bin := Binary([]Func{counter(), abs(), counter(), abs()})
	ctx := context.Background()
	first, _, err := pipeline.Run(ctx, bin, pipeline.Config{Workers: 4})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for range 5 {
		again, _, err := pipeline.Run(ctx, bin, pipeline.Config{Workers: 4})
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if !bytes.Equal(first, again) {
			t.Fatal("output differs between runs")
		}
	}
}

func TestPolicy(t *testing.T) {
	m := Module([]Func{abs(), vector(), counter()})
	ctx := context.Background()

	t.Run("isolate", func(t *testing.T) {
		res, err := pipeline.Transform(ctx, m, pipeline.Config{})
		if err == nil {
			t.Fatal("expected an error for the v128 function")
		}
		if !stderrors.Is(err, errors.New(errors.PhaseBuild, errors.KindUnsupported).Build()) {
			t.Errorf("err = %v, want build/unsupported", err)
		}
		if res.Module == nil {
			t.Fatal("no module produced")
		}
		o := res.Outcomes[1]
		if o.OK() || o.Stage != pipeline.StageBuild {
			t.Errorf("outcome stage = %s, want build", o.Stage)
		}
		if !bytes.Equal(res.Module.Code[1].Code, m.Code[1].Code) {
			t.Error("failing function lost its original body")
		}
		if !res.Outcomes[0].OK() || !res.Outcomes[2].OK() {
			t.Error("healthy functions were not rewritten")
		}

		c := check.New(ctx, nil)
		defer c.Close(ctx)
		calls := []check.Call{call("abs", -3), call("vec", 41), call("count", 6)}
		if err := c.Compare(ctx, m.Encode(), res.Module.Encode(), calls); err != nil {
			t.Errorf("Compare: %v", err)
		}
	})

	t.Run("discard", func(t *testing.T) {
		res, err := pipeline.Transform(ctx, m, pipeline.Config{Policy: pipeline.DiscardModule})
		if err == nil {
			t.Fatal("expected an error")
		}
		if res.Module != nil {
			t.Error("module produced under DiscardModule")
		}
		if len(res.Failed()) != 1 {
			t.Errorf("failed = %d, want 1", len(res.Failed()))
		}
	})
}

func TestParsePolicy(t *testing.T) {
	tests := []struct {
		in   string
		want pipeline.Policy
		err  bool
	}{
		{"", pipeline.IsolateFunction, false},
		{"isolate", pipeline.IsolateFunction, false},
		{"discard", pipeline.DiscardModule, false},
		{"ignore", 0, true},
	}
	for _, tt := range tests {
		got, err := pipeline.ParsePolicy(tt.in)
		if (err != nil) != tt.err {
			t.Errorf("ParsePolicy(%q) err = %v", tt.in, err)
			continue
		}
		if err == nil && got != tt.want {
			t.Errorf("ParsePolicy(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestStopOnFailure(t *testing.T) {
	m := Module([]Func{vector(), abs(), abs(), abs()})
	res, err := pipeline.Transform(context.Background(), m, pipeline.Config{Workers: 1, StopOnFailure: true})
	if err == nil {
		t.Fatal("expected an error")
	}
	if n := len(multierr.Errors(err)); n != 1 {
		t.Errorf("%d errors, want 1", n)
	}
	for _, i := range []int{2, 3} {
		if got := res.Outcomes[i].Stage; got != pipeline.StageSkipped {
			t.Errorf("outcome %d stage = %s, want skipped", i, got)
		}
		if !bytes.Equal(res.Module.Code[i].Code, m.Code[i].Code) {
			t.Errorf("skipped function %d was modified", i)
		}
	}
}

func TestPassFailures(t *testing.T) {
	tests := []struct {
		name  string
		pass  passes.Pass
		phase errors.Phase
		kind  errors.Kind
		stage pipeline.Stage
	}{
		{
			name:  "error",
			pass:  passes.New("fail", func(*ir.Function) error { return stderrors.New("boom") }),
			phase: errors.PhasePass,
			kind:  errors.KindInternal,
			stage: pipeline.StagePasses,
		},
		{
			name:  "panic",
			pass:  passes.New("crash", func(*ir.Function) error { panic("boom") }),
			phase: errors.PhasePass,
			kind:  errors.KindInternal,
			stage: pipeline.StagePasses,
		},
		{
			name: "broken IR",
			pass: passes.New("kill-return", func(f *ir.Function) error {
				for _, b := range f.Blocks() {
					term := f.Terminator(b)
					if term != ir.NoInst && f.Inst(term).Op == ir.OpReturn {
						f.Kill(term)
					}
				}
				return nil
			}),
			phase: errors.PhaseVerify,
			kind:  errors.KindMalformed,
			stage: pipeline.StageVerify,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := Module([]Func{abs()})
			res, err := pipeline.Transform(context.Background(), m, pipeline.Config{Passes: []passes.Pass{tt.pass}})
			if err == nil {
				t.Fatal("expected an error")
			}
			o := res.Outcomes[0]
			if o.Stage != tt.stage {
				t.Errorf("stage = %s, want %s", o.Stage, tt.stage)
			}
			var e *errors.Error
			if !stderrors.As(o.Err, &e) {
				t.Fatalf("error %T is not *errors.Error", o.Err)
			}
			if e.Phase != tt.phase || e.Kind != tt.kind || e.Func != 0 {
				t.Errorf("error = %v, want %s/%s in func 0", e, tt.phase, tt.kind)
			}
		})
	}
}

func TestMalformedBodyIsFatal(t *testing.T) {
	m := Module([]Func{abs(), abs()})
	m.Code[1].Code = []byte{wasm.OpI32Const}

	res, err := pipeline.Transform(context.Background(), m, pipeline.Config{})
	if err == nil {
		t.Fatal("expected an error")
	}
	if phase, _ := errors.PhaseOf(err); phase != errors.PhaseDecode {
		t.Errorf("phase = %q, want decode: %v", phase, err)
	}
	if res.Module != nil {
		t.Error("module produced from a malformed body")
	}

	if _, _, err := pipeline.Run(context.Background(), []byte("\x00asm\x02"), pipeline.Config{}); err == nil {
		t.Error("Run accepted malformed module bytes")
	}
}

func TestCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := pipeline.Transform(ctx, Module([]Func{abs(), abs()}), pipeline.Config{})
	if !stderrors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if res.Module != nil {
		t.Error("module produced after cancellation")
	}
	for _, o := range res.Outcomes {
		if o.Stage != pipeline.StageSkipped {
			t.Errorf("func %d stage = %s, want skipped", o.Index, o.Stage)
		}
	}
}
