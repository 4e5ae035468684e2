package ir

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/wippyai/wasm-ir/wasm"
)

// Format renders f as text. The output depends only on the arena contents,
// so two structurally identical functions print identically.
func Format(f *Function) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "func %d", f.Index)
	if f.Name != "" {
		fmt.Fprintf(&sb, " %q", f.Name)
	}
	fmt.Fprintf(&sb, " %s {\n", f.Sig)
	for _, b := range f.Blocks() {
		formatBlock(&sb, f, b)
	}
	sb.WriteString("}\n")
	return sb.String()
}

func (f *Function) String() string { return Format(f) }

func formatBlock(sb *strings.Builder, f *Function, b Block) {
	bd := &f.blocks[b]
	sb.WriteString(b.String())
	sb.WriteByte('(')
	for k, p := range bd.Params {
		if k > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(sb, "%s: %s", p, f.values[p].Type)
	}
	sb.WriteString("):")
	if b == f.Entry {
		sb.WriteString(" ; entry")
	}
	sb.WriteByte('\n')
	for _, i := range bd.Insts {
		sb.WriteString("  ")
		formatInst(sb, f, i)
		sb.WriteByte('\n')
	}
}

func formatInst(sb *strings.Builder, f *Function, i Inst) {
	d := &f.insts[i]
	if len(d.Results) > 0 {
		for k, r := range d.Results {
			if k > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(r.String())
		}
		sb.WriteString(" = ")
	}
	sb.WriteString(d.Op.String())
	if imm := formatImm(d.Imm); imm != "" {
		sb.WriteString(" <")
		sb.WriteString(imm)
		sb.WriteByte('>')
	}
	for k, a := range d.Args {
		if k == 0 {
			sb.WriteByte(' ')
		} else {
			sb.WriteString(", ")
		}
		sb.WriteString(a.String())
	}
	for k, t := range d.Targets {
		if k == 0 && len(d.Args) == 0 {
			sb.WriteByte(' ')
		} else {
			sb.WriteString(", ")
		}
		sb.WriteString(t.Block.String())
		sb.WriteByte('(')
		for j, a := range t.Args {
			if j > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(a.String())
		}
		sb.WriteByte(')')
	}
}

func formatImm(imm interface{}) string {
	switch v := imm.(type) {
	case nil:
		return ""
	case wasm.I32Imm:
		return strconv.FormatInt(int64(v.Value), 10)
	case wasm.I64Imm:
		return strconv.FormatInt(v.Value, 10)
	case wasm.F32Imm:
		return strconv.FormatFloat(float64(math.Float32frombits(v.Bits)), 'g', -1, 32)
	case wasm.F64Imm:
		return strconv.FormatFloat(math.Float64frombits(v.Bits), 'g', -1, 64)
	case wasm.CallImm:
		return "func " + strconv.FormatUint(uint64(v.FuncIdx), 10)
	case wasm.RefFuncImm:
		return "func " + strconv.FormatUint(uint64(v.FuncIdx), 10)
	case wasm.CallIndirectImm:
		return fmt.Sprintf("type %d table %d", v.TypeIdx, v.TableIdx)
	case wasm.GlobalImm:
		return "global " + strconv.FormatUint(uint64(v.GlobalIdx), 10)
	case wasm.TableImm:
		return "table " + strconv.FormatUint(uint64(v.TableIdx), 10)
	case wasm.MemoryImm:
		s := fmt.Sprintf("offset=%d align=%d", v.Offset, v.Align)
		if v.MemIdx != 0 {
			s += fmt.Sprintf(" mem=%d", v.MemIdx)
		}
		return s
	case wasm.MemoryIdxImm:
		return "mem " + strconv.FormatUint(uint64(v.MemIdx), 10)
	case wasm.MiscImm:
		parts := make([]string, len(v.Operands))
		for k, o := range v.Operands {
			parts[k] = strconv.FormatUint(uint64(o), 10)
		}
		return strings.Join(parts, " ")
	case wasm.RefNullImm:
		if v.HeapType == -17 {
			return "extern"
		}
		return "func"
	}
	return fmt.Sprint(imm)
}
