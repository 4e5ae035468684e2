package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/wippyai/wasm-ir/backend"
	"github.com/wippyai/wasm-ir/check"
	"github.com/wippyai/wasm-ir/frontend"
	"github.com/wippyai/wasm-ir/passes"
	"github.com/wippyai/wasm-ir/pipeline"
	"github.com/wippyai/wasm-ir/restructure"
	"github.com/wippyai/wasm-ir/wasm"
)

type options struct {
	in, out     string
	passes      string
	policy      string
	dump        string
	calls       []string
	workers     int
	check       bool
	verbose     bool
	interactive bool
	noFallback  bool
}

func main() {
	var o options
	flag.StringVar(&o.in, "in", "", "Path to the input module")
	flag.StringVar(&o.out, "out", "", "Path to write the rewritten module (optional)")
	flag.StringVar(&o.passes, "passes", "", "Comma-separated passes to run ("+strings.Join(passes.Default().Names(), ", ")+")")
	flag.StringVar(&o.policy, "policy", "isolate", "Failure policy: isolate or discard")
	flag.StringVar(&o.dump, "dump", "", "Print ir, tree or wasm for every function")
	flag.IntVar(&o.workers, "workers", 0, "Concurrent function tasks (default GOMAXPROCS)")
	flag.BoolVar(&o.check, "check", false, "Validate the output in wazero and compare -call results")
	flag.BoolVar(&o.noFallback, "no-fallback", false, "Fail on irreducible control flow instead of adding dispatch blocks")
	flag.BoolVar(&o.verbose, "v", false, "Verbose development logging")
	flag.BoolVar(&o.interactive, "i", false, "Interactive explorer")
	flag.Func("call", "Export call to compare with -check, e.g. fib:10 (repeatable)", func(s string) error {
		o.calls = append(o.calls, s)
		return nil
	})
	flag.Parse()

	if o.in == "" {
		fmt.Fprintln(os.Stderr, "Usage: wasm-ir -in <file.wasm> [-out out.wasm] [-passes prune,...] [-check -call f:1,2]")
		fmt.Fprintln(os.Stderr, "       wasm-ir -in <file.wasm> -dump ir|tree|wasm")
		fmt.Fprintln(os.Stderr, "       wasm-ir -in <file.wasm> -i  (interactive mode)")
		os.Exit(1)
	}

	log, err := newLogger(o.verbose)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if o.interactive {
		if !term.IsTerminal(int(os.Stdout.Fd())) {
			fmt.Fprintln(os.Stderr, "Error: -i needs a terminal")
			os.Exit(1)
		}
		if err := runInteractive(o); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(context.Background(), o, log); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newLogger builds the process logger and hands it to the packages that
// log on their own.
func newLogger(verbose bool) (*zap.Logger, error) {
	var (
		log *zap.Logger
		err error
	)
	if verbose {
		log, err = zap.NewDevelopment()
	} else {
		cfg := zap.NewProductionConfig()
		cfg.Encoding = "console"
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
		log, err = cfg.Build()
	}
	if err != nil {
		return nil, err
	}
	frontend.SetLogger(log.Named("frontend"))
	restructure.SetLogger(log.Named("restructure"))
	backend.SetLogger(log.Named("backend"))
	check.SetLogger(log.Named("check"))
	return log, nil
}

func config(o options, log *zap.Logger) (pipeline.Config, error) {
	ps, err := passes.Default().Parse(o.passes)
	if err != nil {
		return pipeline.Config{}, err
	}
	policy, err := pipeline.ParsePolicy(o.policy)
	if err != nil {
		return pipeline.Config{}, err
	}
	return pipeline.Config{
		Logger:      log.Named("pipeline"),
		Passes:      ps,
		Restructure: restructure.Options{NoFallback: o.noFallback},
		Workers:     o.workers,
		Policy:      policy,
	}, nil
}

func run(ctx context.Context, o options, log *zap.Logger) error {
	data, err := os.ReadFile(o.in)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}
	cfg, err := config(o, log)
	if err != nil {
		return err
	}

	out, res, err := pipeline.Run(ctx, data, cfg)
	if res != nil {
		report(res)
		if o.dump != "" {
			if derr := dump(res, o.dump); derr != nil {
				return derr
			}
		}
	}
	if out == nil {
		return err
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%d function(s) kept their original body:\n", len(multierr.Errors(err)))
		for _, e := range multierr.Errors(err) {
			fmt.Fprintf(os.Stderr, "  %v\n", e)
		}
	}

	if o.check {
		if err := verifyOutput(ctx, data, out, res.Module, o.calls); err != nil {
			return err
		}
	}

	if o.out != "" {
		if err := os.WriteFile(o.out, out, 0o644); err != nil {
			return fmt.Errorf("write file: %w", err)
		}
		fmt.Printf("Wrote %s (%d bytes, was %d)\n", o.out, len(out), len(data))
	}
	return nil
}

func report(res *pipeline.Result) {
	rewritten, dispatches := 0, 0
	for _, oc := range res.Outcomes {
		if oc.OK() {
			rewritten++
			dispatches += oc.Tree.Dispatches
		}
	}
	fmt.Printf("Functions: %d defined, %d rewritten\n", len(res.Outcomes), rewritten)
	if dispatches > 0 {
		fmt.Printf("Dispatch blocks: %d\n", dispatches)
	}
}

func verifyOutput(ctx context.Context, orig, out []byte, m *wasm.Module, specs []string) error {
	c := check.New(ctx, nil)
	defer c.Close(ctx)

	if err := c.Validate(ctx, out); err != nil {
		return fmt.Errorf("output does not validate: %w", err)
	}
	fmt.Println("Output validates")
	if len(specs) == 0 {
		return nil
	}

	calls := make([]check.Call, len(specs))
	for i, s := range specs {
		call, err := parseCall(m, s)
		if err != nil {
			return err
		}
		calls[i] = call
	}
	if err := c.Compare(ctx, orig, out, calls); err != nil {
		return fmt.Errorf("behaviour differs: %w", err)
	}
	fmt.Printf("%d call(s) agree\n", len(calls))
	return nil
}

func dump(res *pipeline.Result, what string) error {
	for _, oc := range res.Outcomes {
		text, err := render(res.IR.Source, oc, what)
		if err != nil {
			return err
		}
		fmt.Printf(";; func %d (%s)\n%s\n", oc.Index, oc.Stage, text)
	}
	return nil
}

// render formats one outcome as ir, tree or wasm text.
func render(m *wasm.Module, oc pipeline.Outcome, what string) (string, error) {
	switch what {
	case "ir":
		if oc.Func == nil {
			return errText(oc), nil
		}
		return oc.Func.String(), nil
	case "tree":
		if oc.Tree == nil {
			return errText(oc), nil
		}
		return oc.Tree.Format(), nil
	case "wasm":
		body := m.Code[int(oc.Index)-m.NumImportedFuncs()]
		if oc.OK() {
			body = oc.Body
		}
		return disasm(body)
	}
	return "", fmt.Errorf("unknown dump %q (want ir, tree or wasm)", what)
}

func errText(oc pipeline.Outcome) string {
	if oc.Err == nil {
		return "  (not built)"
	}
	return "  " + oc.Err.Error()
}
