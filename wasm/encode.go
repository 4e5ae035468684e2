package wasm

import (
	"github.com/wippyai/wasm-ir/wasm/internal/binary"
)

// Encode encodes the module to WebAssembly binary format. Sections are
// emitted in canonical order; empty sections are omitted and custom sections
// are appended at the end.
func (m *Module) Encode() []byte {
	w := binary.NewWriter()
	w.WriteU32LE(Magic)
	w.WriteU32LE(Version)

	section := func(id byte, n int, body func(sec *binary.Writer)) {
		if n == 0 {
			return
		}
		sec := binary.NewWriter()
		sec.WriteU32(uint32(n))
		body(sec)
		writeSection(w, id, sec.Bytes())
	}

	section(SectionType, len(m.Types), func(sec *binary.Writer) {
		for _, ft := range m.Types {
			sec.Byte(FuncTypeByte)
			writeValTypes(sec, ft.Params)
			writeValTypes(sec, ft.Results)
		}
	})

	section(SectionImport, len(m.Imports), func(sec *binary.Writer) {
		for _, imp := range m.Imports {
			sec.WriteName(imp.Module)
			sec.WriteName(imp.Name)
			sec.Byte(imp.Desc.Kind)
			switch imp.Desc.Kind {
			case KindFunc:
				sec.WriteU32(imp.Desc.TypeIdx)
			case KindTable:
				writeTableType(sec, *imp.Desc.Table)
			case KindMemory:
				writeLimits(sec, imp.Desc.Memory.Limits)
			case KindGlobal:
				writeGlobalType(sec, *imp.Desc.Global)
			}
		}
	})

	section(SectionFunction, len(m.Funcs), func(sec *binary.Writer) {
		for _, idx := range m.Funcs {
			sec.WriteU32(idx)
		}
	})

	section(SectionTable, len(m.Tables), func(sec *binary.Writer) {
		for _, t := range m.Tables {
			writeTableType(sec, t)
		}
	})

	section(SectionMemory, len(m.Memories), func(sec *binary.Writer) {
		for _, mem := range m.Memories {
			writeLimits(sec, mem.Limits)
		}
	})

	section(SectionGlobal, len(m.Globals), func(sec *binary.Writer) {
		for _, g := range m.Globals {
			writeGlobalType(sec, g.Type)
			sec.WriteBytes(g.Init)
		}
	})

	section(SectionExport, len(m.Exports), func(sec *binary.Writer) {
		for _, exp := range m.Exports {
			sec.WriteName(exp.Name)
			sec.Byte(exp.Kind)
			sec.WriteU32(exp.Idx)
		}
	})

	if m.Start != nil {
		sec := binary.NewWriter()
		sec.WriteU32(*m.Start)
		writeSection(w, SectionStart, sec.Bytes())
	}

	section(SectionElement, len(m.Elements), func(sec *binary.Writer) {
		for _, elem := range m.Elements {
			writeElement(sec, elem)
		}
	})

	if m.DataCount != nil {
		sec := binary.NewWriter()
		sec.WriteU32(*m.DataCount)
		writeSection(w, SectionDataCount, sec.Bytes())
	}

	section(SectionCode, len(m.Code), func(sec *binary.Writer) {
		for _, body := range m.Code {
			b := binary.NewWriter()
			b.WriteU32(uint32(len(body.Locals)))
			for _, l := range body.Locals {
				b.WriteU32(l.Count)
				b.Byte(byte(l.ValType))
			}
			b.WriteBytes(body.Code)
			sec.WriteU32(uint32(b.Len()))
			sec.WriteBytes(b.Bytes())
		}
	})

	section(SectionData, len(m.Data), func(sec *binary.Writer) {
		for _, d := range m.Data {
			sec.WriteU32(d.Flags)
			if d.Flags == 2 {
				sec.WriteU32(d.MemIdx)
			}
			if d.Flags != 1 {
				sec.WriteBytes(d.Offset)
			}
			sec.WriteU32(uint32(len(d.Init)))
			sec.WriteBytes(d.Init)
		}
	})

	for _, cs := range m.CustomSections {
		sec := binary.NewWriter()
		sec.WriteName(cs.Name)
		sec.WriteBytes(cs.Data)
		writeSection(w, SectionCustom, sec.Bytes())
	}

	return w.Bytes()
}

func writeSection(w *binary.Writer, id byte, data []byte) {
	w.Byte(id)
	w.WriteU32(uint32(len(data)))
	w.WriteBytes(data)
}

func writeValTypes(w *binary.Writer, types []ValType) {
	w.WriteU32(uint32(len(types)))
	for _, t := range types {
		w.Byte(byte(t))
	}
}

func writeLimits(w *binary.Writer, l Limits) {
	var flags byte
	if l.Max != nil {
		flags |= LimitsHasMax
	}
	if l.Shared {
		flags |= LimitsShared
	}
	if l.Memory64 {
		flags |= LimitsMemory64
	}
	w.Byte(flags)
	put := w.WriteU64
	if !l.Memory64 {
		put = func(v uint64) { w.WriteU32(uint32(v)) }
	}
	put(l.Min)
	if l.Max != nil {
		put(*l.Max)
	}
}

func writeTableType(w *binary.Writer, t TableType) {
	w.Byte(byte(t.ElemType))
	writeLimits(w, t.Limits)
}

func writeGlobalType(w *binary.Writer, g GlobalType) {
	w.Byte(byte(g.ValType))
	if g.Mutable {
		w.Byte(1)
	} else {
		w.Byte(0)
	}
}

func writeElement(w *binary.Writer, elem Element) {
	w.WriteU32(elem.Flags)
	active := elem.Flags&0x01 == 0
	usesExprs := elem.Flags&0x04 != 0
	if active && elem.Flags&0x02 != 0 {
		w.WriteU32(elem.TableIdx)
	}
	if active {
		w.WriteBytes(elem.Offset)
	}
	if elem.Flags&0x03 != 0 {
		if usesExprs {
			w.Byte(byte(elem.Type))
		} else {
			w.Byte(elem.ElemKind)
		}
	}
	if usesExprs {
		w.WriteU32(uint32(len(elem.Exprs)))
		for _, e := range elem.Exprs {
			w.WriteBytes(e)
		}
		return
	}
	w.WriteU32(uint32(len(elem.FuncIdxs)))
	for _, idx := range elem.FuncIdxs {
		w.WriteU32(idx)
	}
}
