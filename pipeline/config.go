package pipeline

import (
	"fmt"
	"runtime"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-ir/passes"
	"github.com/wippyai/wasm-ir/restructure"
)

// Policy decides what a failing function does to the module.
type Policy int

const (
	// IsolateFunction keeps the original body of a failing function and
	// rewrites the rest.
	IsolateFunction Policy = iota
	// DiscardModule produces no module when any function fails.
	DiscardModule
)

func (p Policy) String() string {
	switch p {
	case IsolateFunction:
		return "isolate"
	case DiscardModule:
		return "discard"
	}
	return fmt.Sprintf("Policy(%d)", int(p))
}

// ParsePolicy accepts the names printed by Policy.String.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "isolate", "":
		return IsolateFunction, nil
	case "discard":
		return DiscardModule, nil
	}
	return 0, fmt.Errorf("unknown policy %q (want isolate or discard)", s)
}

// Config controls a pipeline run. The zero value is usable.
type Config struct {
	Logger *zap.Logger
	// Passes run in order on every function after it is built.
	Passes      []passes.Pass
	Restructure restructure.Options
	// Workers bounds the number of functions processed at once.
	// Zero means runtime.GOMAXPROCS(0).
	Workers int
	Policy  Policy
	// StopOnFailure stops submitting functions after the first failure.
	// Functions already running finish.
	StopOnFailure bool
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = runtime.GOMAXPROCS(0)
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}
