package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/wasm-ir/check"
	"github.com/wippyai/wasm-ir/ir"
	"github.com/wippyai/wasm-ir/wasm"
)

// exportType returns the signature of an exported function.
func exportType(m *wasm.Module, name string) (*wasm.FuncType, error) {
	for _, e := range m.Exports {
		if e.Kind == wasm.KindFunc && e.Name == name {
			if ft := m.GetFuncType(e.Idx); ft != nil {
				return ft, nil
			}
		}
	}
	return nil, fmt.Errorf("no exported function %q", name)
}

// parseCall reads "name:1,2" into a call, encoding each argument for the
// export's parameter type.
func parseCall(m *wasm.Module, s string) (check.Call, error) {
	name, list, _ := strings.Cut(s, ":")
	ft, err := exportType(m, name)
	if err != nil {
		return check.Call{}, err
	}
	args, err := encodeArgs(ft.Params, list)
	if err != nil {
		return check.Call{}, fmt.Errorf("call %s: %w", name, err)
	}
	return check.Call{Export: name, Args: args}, nil
}

func encodeArgs(types []wasm.ValType, list string) ([]uint64, error) {
	var fields []string
	if strings.TrimSpace(list) != "" {
		fields = strings.Split(list, ",")
	}
	if len(fields) != len(types) {
		return nil, fmt.Errorf("got %d arguments, want %d", len(fields), len(types))
	}
	out := make([]uint64, len(types))
	for i, t := range types {
		v, err := encodeArg(t, strings.TrimSpace(fields[i]))
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

func encodeArg(t wasm.ValType, s string) (uint64, error) {
	switch t {
	case wasm.ValI32:
		v, err := strconv.ParseInt(s, 0, 32)
		return api.EncodeI32(int32(v)), err
	case wasm.ValI64:
		v, err := strconv.ParseInt(s, 0, 64)
		return api.EncodeI64(v), err
	case wasm.ValF32:
		v, err := strconv.ParseFloat(s, 32)
		return api.EncodeF32(float32(v)), err
	case wasm.ValF64:
		v, err := strconv.ParseFloat(s, 64)
		return api.EncodeF64(v), err
	}
	return 0, fmt.Errorf("cannot pass %s from the command line", t)
}

// formatValues decodes raw results for display.
func formatValues(types []wasm.ValType, vs []uint64) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		t := wasm.ValI64
		if i < len(types) {
			t = types[i]
		}
		switch t {
		case wasm.ValI32:
			parts[i] = strconv.FormatInt(int64(api.DecodeI32(v)), 10)
		case wasm.ValF32:
			parts[i] = strconv.FormatFloat(float64(api.DecodeF32(v)), 'g', -1, 32)
		case wasm.ValF64:
			parts[i] = strconv.FormatFloat(api.DecodeF64(v), 'g', -1, 64)
		default:
			parts[i] = strconv.FormatInt(int64(v), 10)
		}
	}
	return strings.Join(parts, ", ")
}

var structural = map[byte]string{
	wasm.OpBlock:    "block",
	wasm.OpLoop:     "loop",
	wasm.OpIf:       "if",
	wasm.OpElse:     "else",
	wasm.OpEnd:      "end",
	wasm.OpNop:      "nop",
	wasm.OpDrop:     "drop",
	wasm.OpLocalGet: "local.get",
	wasm.OpLocalSet: "local.set",
	wasm.OpLocalTee: "local.tee",
}

// disasm prints a body one instruction per line, indented by nesting.
func disasm(body wasm.FuncBody) (string, error) {
	instrs, err := wasm.DecodeInstructions(body.Code)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	if locals := body.ExpandLocals(); len(locals) > 0 {
		fmt.Fprintf(&sb, "  (locals %v)\n", locals)
	}
	depth := 1
	for _, in := range instrs {
		if in.Opcode == wasm.OpEnd || in.Opcode == wasm.OpElse {
			depth--
		}
		sb.WriteString(strings.Repeat("  ", max(depth, 0)))
		sb.WriteString(opName(in))
		if in.Imm != nil {
			if _, misc := in.Imm.(wasm.MiscImm); !misc {
				fmt.Fprintf(&sb, " %v", in.Imm)
			}
		}
		sb.WriteByte('\n')
		switch in.Opcode {
		case wasm.OpBlock, wasm.OpLoop, wasm.OpIf, wasm.OpElse:
			depth++
		}
	}
	return sb.String(), nil
}

func opName(in wasm.Instruction) string {
	if name, ok := structural[in.Opcode]; ok {
		return name
	}
	if imm, ok := in.Imm.(wasm.MiscImm); ok && in.Opcode == wasm.OpPrefixMisc {
		return ir.MiscOp(imm.SubOpcode).String()
	}
	return ir.Op(in.Opcode).String()
}
