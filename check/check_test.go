package check_test

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/multierr"

	"github.com/wippyai/wasm-ir/check"
	"github.com/wippyai/wasm-ir/errors"
	. "github.com/wippyai/wasm-ir/internal/wasmtest"
	"github.com/wippyai/wasm-ir/wasm"
)

var i32 = []wasm.ValType{wasm.ValI32}

func module(k int32) []byte {
	return Binary([]Func{
		{Export: "add", Params: i32, Results: i32, Body: Is(LocalGet(0), I32(k), Op(wasm.OpI32Add))},
		{Export: "div", Params: i32, Results: i32, Body: Is(I32(100), LocalGet(0), Op(wasm.OpI32DivS))},
	})
}

func call(name string, v int32) check.Call {
	return check.Call{Export: name, Args: []uint64{api.EncodeI32(v)}}
}

func TestValidate(t *testing.T) {
	ctx := context.Background()
	if err := check.Validate(ctx, module(1)); err != nil {
		t.Errorf("valid module rejected: %v", err)
	}

	bad := Binary([]Func{{Results: i32, Body: Is(Op(wasm.OpDrop))}})
	err := check.Validate(ctx, bad)
	if err == nil {
		t.Fatal("invalid module accepted")
	}
	if !stderrors.Is(err, errors.New(errors.PhaseCheck, errors.KindInvalidData).Build()) {
		t.Errorf("err = %v, want check/invalid_data", err)
	}
}

func TestRun(t *testing.T) {
	ctx := context.Background()
	c := check.New(ctx, &check.Config{MemoryLimitPages: 1})
	defer c.Close(ctx)

	res, err := c.Run(ctx, module(2), []check.Call{call("add", 40), call("div", 0), call("div", 4)})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res[0].Trapped() || api.DecodeI32(res[0].Values[0]) != 42 {
		t.Errorf("add(40) = %+v, want 42", res[0])
	}
	if !res[1].Trapped() {
		t.Errorf("div(0) did not trap: %+v", res[1])
	}
	if res[2].Trapped() || api.DecodeI32(res[2].Values[0]) != 25 {
		t.Errorf("div(4) = %+v, want 25", res[2])
	}

	_, err = c.Run(ctx, module(2), []check.Call{call("mul", 1)})
	if !stderrors.Is(err, errors.New(errors.PhaseCheck, errors.KindInvalidIndex).Build()) {
		t.Errorf("missing export err = %v, want check/invalid_index", err)
	}
}

func TestCompare(t *testing.T) {
	ctx := context.Background()
	c := check.New(ctx, nil)
	defer c.Close(ctx)

	calls := []check.Call{call("add", 1), call("add", 2), call("div", 0)}
	if err := c.Compare(ctx, module(5), module(5), calls); err != nil {
		t.Errorf("identical modules differ: %v", err)
	}

	err := c.Compare(ctx, module(5), module(6), calls)
	if !check.IsMismatch(err) {
		t.Fatalf("err = %v, want a mismatch", err)
	}
	if n := len(multierr.Errors(err)); n != 2 {
		t.Errorf("%d mismatches, want 2 (div traps in both)", n)
	}
	if check.IsMismatch(stderrors.New("other")) {
		t.Error("plain error reported as mismatch")
	}
}
