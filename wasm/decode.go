package wasm

import (
	"errors"
	"fmt"

	"github.com/wippyai/wasm-ir/wasm/internal/binary"
)

// Parsing errors returned by ParseModule.
var (
	ErrInvalidMagic   = errors.New("invalid wasm magic number")
	ErrInvalidVersion = errors.New("invalid wasm version")
)

// sectionOrder gives the canonical position of each non-custom section.
var sectionOrder = map[byte]int{
	SectionType:      1,
	SectionImport:    2,
	SectionFunction:  3,
	SectionTable:     4,
	SectionMemory:    5,
	SectionGlobal:    6,
	SectionExport:    7,
	SectionStart:     8,
	SectionElement:   9,
	SectionDataCount: 10,
	SectionCode:      11,
	SectionData:      12,
}

type sectionParser func(r *binary.Reader, m *Module) error

var sectionParsers = map[byte]struct {
	name  string
	parse sectionParser
}{
	SectionCustom:    {"custom", parseCustomSection},
	SectionType:      {"type", parseTypeSection},
	SectionImport:    {"import", parseImportSection},
	SectionFunction:  {"function", parseFunctionSection},
	SectionTable:     {"table", parseTableSection},
	SectionMemory:    {"memory", parseMemorySection},
	SectionGlobal:    {"global", parseGlobalSection},
	SectionExport:    {"export", parseExportSection},
	SectionStart:     {"start", parseStartSection},
	SectionElement:   {"element", parseElementSection},
	SectionDataCount: {"data count", parseDataCountSection},
	SectionCode:      {"code", parseCodeSection},
	SectionData:      {"data", parseDataSection},
}

// ParseModule parses a WebAssembly binary module. Function bodies are kept as
// raw bytes; use DecodeInstructions to obtain their token streams.
func ParseModule(data []byte) (*Module, error) {
	r := binary.NewReader(data)

	magic, err := r.ReadU32LE()
	if err != nil {
		return nil, r.WrapError("header", err)
	}
	if magic != Magic {
		return nil, ErrInvalidMagic
	}
	version, err := r.ReadU32LE()
	if err != nil {
		return nil, r.WrapError("header", err)
	}
	if version != Version {
		return nil, ErrInvalidVersion
	}

	m := &Module{}
	lastOrder := 0
	for r.Len() > 0 {
		id, _ := r.ReadByte()
		p, known := sectionParsers[id]
		if !known {
			return nil, r.WrapError("section header", fmt.Errorf("unknown section ID 0x%02x", id))
		}
		if id != SectionCustom {
			order := sectionOrder[id]
			if order <= lastOrder {
				return nil, fmt.Errorf("%s section appears out of order", p.name)
			}
			lastOrder = order
		}
		size, err := r.ReadU32()
		if err != nil {
			return nil, r.WrapError("section size", err)
		}
		body, err := r.ReadBytes(int(size))
		if err != nil {
			return nil, r.WrapError(p.name+" section", err)
		}
		sr := binary.NewReader(body)
		if err := p.parse(sr, m); err != nil {
			return nil, sr.WrapError(p.name+" section", err)
		}
		if id != SectionCustom && sr.Len() != 0 {
			return nil, sr.WrapError(p.name+" section", errors.New("section size mismatch"))
		}
	}

	if len(m.Funcs) != len(m.Code) {
		return nil, fmt.Errorf("function and code section counts differ: %d != %d", len(m.Funcs), len(m.Code))
	}
	return m, nil
}

// readVec reads a vector header and calls fn for each element.
func readVec(r *binary.Reader, fn func(i uint32) error) error {
	n, err := r.ReadVecLen(1)
	if err != nil {
		return err
	}
	for i := uint32(0); i < n; i++ {
		if err := fn(i); err != nil {
			return err
		}
	}
	return nil
}

func parseCustomSection(r *binary.Reader, m *Module) error {
	name, err := r.ReadName()
	if err != nil {
		return err
	}
	m.CustomSections = append(m.CustomSections, CustomSection{Name: name, Data: r.Remaining()})
	return nil
}

func parseTypeSection(r *binary.Reader, m *Module) error {
	return readVec(r, func(i uint32) error {
		form, err := r.ReadByte()
		if err != nil {
			return err
		}
		if form != FuncTypeByte {
			return fmt.Errorf("type %d: form 0x%02x: %w", i, form, ErrUnsupportedOpcode)
		}
		params, err := readValTypes(r)
		if err != nil {
			return err
		}
		results, err := readValTypes(r)
		if err != nil {
			return err
		}
		m.Types = append(m.Types, FuncType{Params: params, Results: results})
		return nil
	})
}

func readValTypes(r *binary.Reader) ([]ValType, error) {
	n, err := r.ReadVecLen(1)
	if err != nil || n == 0 {
		return nil, err
	}
	out := make([]ValType, n)
	for i := range out {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		if err := checkValType(ValType(b)); err != nil {
			return nil, err
		}
		out[i] = ValType(b)
	}
	return out, nil
}

func checkValType(t ValType) error {
	switch t {
	case ValI32, ValI64, ValF32, ValF64, ValV128, ValFuncRef, ValExtern:
		return nil
	}
	return fmt.Errorf("value type 0x%02x: %w", byte(t), ErrUnsupportedOpcode)
}

func parseImportSection(r *binary.Reader, m *Module) error {
	return readVec(r, func(uint32) error {
		module, err := r.ReadName()
		if err != nil {
			return err
		}
		name, err := r.ReadName()
		if err != nil {
			return err
		}
		kind, err := r.ReadByte()
		if err != nil {
			return err
		}
		imp := Import{Module: module, Name: name, Desc: ImportDesc{Kind: kind}}
		switch kind {
		case KindFunc:
			imp.Desc.TypeIdx, err = r.ReadU32()
		case KindTable:
			var t TableType
			t, err = readTableType(r)
			imp.Desc.Table = &t
		case KindMemory:
			var mt MemoryType
			mt, err = readMemoryType(r)
			imp.Desc.Memory = &mt
		case KindGlobal:
			var g GlobalType
			g, err = readGlobalType(r)
			imp.Desc.Global = &g
		default:
			return fmt.Errorf("import kind %d: %w", kind, ErrUnsupportedOpcode)
		}
		if err != nil {
			return err
		}
		m.Imports = append(m.Imports, imp)
		return nil
	})
}

func parseFunctionSection(r *binary.Reader, m *Module) error {
	return readVec(r, func(uint32) error {
		idx, err := r.ReadU32()
		m.Funcs = append(m.Funcs, idx)
		return err
	})
}

func parseTableSection(r *binary.Reader, m *Module) error {
	return readVec(r, func(uint32) error {
		t, err := readTableType(r)
		m.Tables = append(m.Tables, t)
		return err
	})
}

func parseMemorySection(r *binary.Reader, m *Module) error {
	return readVec(r, func(uint32) error {
		mt, err := readMemoryType(r)
		m.Memories = append(m.Memories, mt)
		return err
	})
}

func parseGlobalSection(r *binary.Reader, m *Module) error {
	return readVec(r, func(uint32) error {
		gt, err := readGlobalType(r)
		if err != nil {
			return err
		}
		init, err := readInitExpr(r)
		if err != nil {
			return err
		}
		m.Globals = append(m.Globals, Global{Type: gt, Init: init})
		return nil
	})
}

func parseExportSection(r *binary.Reader, m *Module) error {
	return readVec(r, func(uint32) error {
		name, err := r.ReadName()
		if err != nil {
			return err
		}
		kind, err := r.ReadByte()
		if err != nil {
			return err
		}
		if kind > KindGlobal {
			return fmt.Errorf("invalid export kind 0x%02x", kind)
		}
		idx, err := r.ReadU32()
		m.Exports = append(m.Exports, Export{Name: name, Kind: kind, Idx: idx})
		return err
	})
}

func parseStartSection(r *binary.Reader, m *Module) error {
	idx, err := r.ReadU32()
	if err != nil {
		return err
	}
	m.Start = &idx
	return nil
}

func parseElementSection(r *binary.Reader, m *Module) error {
	return readVec(r, func(uint32) error {
		flags, err := r.ReadU32()
		if err != nil {
			return err
		}
		if flags > 7 {
			return fmt.Errorf("invalid element segment flags %d", flags)
		}
		elem := Element{Flags: flags}
		active := flags&0x01 == 0
		if active && flags&0x02 != 0 {
			if elem.TableIdx, err = r.ReadU32(); err != nil {
				return err
			}
		}
		if active {
			if elem.Offset, err = readInitExpr(r); err != nil {
				return err
			}
		}
		usesExprs := flags&0x04 != 0
		if flags&0x03 != 0 {
			b, err := r.ReadByte()
			if err != nil {
				return err
			}
			if usesExprs {
				elem.Type = ValType(b)
			} else {
				elem.ElemKind = b
			}
		}
		err = readVec(r, func(uint32) error {
			if usesExprs {
				e, err := readInitExpr(r)
				elem.Exprs = append(elem.Exprs, e)
				return err
			}
			idx, err := r.ReadU32()
			elem.FuncIdxs = append(elem.FuncIdxs, idx)
			return err
		})
		if err != nil {
			return err
		}
		m.Elements = append(m.Elements, elem)
		return nil
	})
}

func parseCodeSection(r *binary.Reader, m *Module) error {
	return readVec(r, func(i uint32) error {
		size, err := r.ReadU32()
		if err != nil {
			return err
		}
		data, err := r.ReadBytes(int(size))
		if err != nil {
			return err
		}
		br := binary.NewReader(data)
		var locals []LocalEntry
		err = readVec(br, func(uint32) error {
			n, err := br.ReadU32()
			if err != nil {
				return err
			}
			t, err := br.ReadByte()
			if err != nil {
				return err
			}
			if err := checkValType(ValType(t)); err != nil {
				return err
			}
			locals = append(locals, LocalEntry{Count: n, ValType: ValType(t)})
			return nil
		})
		if err != nil {
			return fmt.Errorf("body %d locals: %w", i, err)
		}
		m.Code = append(m.Code, FuncBody{Locals: locals, Code: br.Remaining()})
		return nil
	})
}

func parseDataSection(r *binary.Reader, m *Module) error {
	return readVec(r, func(uint32) error {
		flags, err := r.ReadU32()
		if err != nil {
			return err
		}
		if flags > 2 {
			return fmt.Errorf("invalid data segment flags %d", flags)
		}
		seg := DataSegment{Flags: flags}
		if flags == 2 {
			if seg.MemIdx, err = r.ReadU32(); err != nil {
				return err
			}
		}
		if flags != 1 {
			if seg.Offset, err = readInitExpr(r); err != nil {
				return err
			}
		}
		n, err := r.ReadU32()
		if err != nil {
			return err
		}
		if seg.Init, err = r.ReadBytes(int(n)); err != nil {
			return err
		}
		m.Data = append(m.Data, seg)
		return nil
	})
}

func parseDataCountSection(r *binary.Reader, m *Module) error {
	n, err := r.ReadU32()
	if err != nil {
		return err
	}
	m.DataCount = &n
	return nil
}

func readLimits(r *binary.Reader) (Limits, error) {
	flags, err := r.ReadByte()
	if err != nil {
		return Limits{}, err
	}
	l := Limits{Shared: flags&LimitsShared != 0, Memory64: flags&LimitsMemory64 != 0}
	read := func() (uint64, error) {
		if l.Memory64 {
			return r.ReadU64()
		}
		v, err := r.ReadU32()
		return uint64(v), err
	}
	if l.Min, err = read(); err != nil {
		return Limits{}, err
	}
	if flags&LimitsHasMax != 0 {
		max, err := read()
		if err != nil {
			return Limits{}, err
		}
		if l.Min > max {
			return Limits{}, fmt.Errorf("limits min (%d) exceeds max (%d)", l.Min, max)
		}
		l.Max = &max
	}
	return l, nil
}

func readTableType(r *binary.Reader) (TableType, error) {
	et, err := r.ReadByte()
	if err != nil {
		return TableType{}, err
	}
	if ValType(et) != ValFuncRef && ValType(et) != ValExtern {
		return TableType{}, fmt.Errorf("table element type 0x%02x: %w", et, ErrUnsupportedOpcode)
	}
	limits, err := readLimits(r)
	return TableType{ElemType: ValType(et), Limits: limits}, err
}

func readMemoryType(r *binary.Reader) (MemoryType, error) {
	limits, err := readLimits(r)
	return MemoryType{Limits: limits}, err
}

func readGlobalType(r *binary.Reader) (GlobalType, error) {
	t, err := r.ReadByte()
	if err != nil {
		return GlobalType{}, err
	}
	if err := checkValType(ValType(t)); err != nil {
		return GlobalType{}, err
	}
	mut, err := r.ReadByte()
	if err != nil {
		return GlobalType{}, err
	}
	return GlobalType{ValType: ValType(t), Mutable: mut != 0}, nil
}

// readInitExpr copies a constant expression up to and including its end.
// Constant expressions reuse the instruction immediate decoder so every
// allowed operator is copied byte for byte.
func readInitExpr(r *binary.Reader) ([]byte, error) {
	start := r.Position()
	depth := 0
	for {
		op, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		if _, err := decodeImmediate(r, op); err != nil {
			return nil, fmt.Errorf("init expression: %w", err)
		}
		switch op {
		case OpBlock, OpLoop, OpIf:
			depth++
		case OpEnd:
			if depth == 0 {
				return r.Since(start), nil
			}
			depth--
		}
	}
}
