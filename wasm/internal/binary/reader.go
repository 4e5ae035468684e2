package binary

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"
)

// ErrOverflow is returned when a LEB128 value exceeds its bit width.
var ErrOverflow = errors.New("leb128: overflow")

// Reader is a cursor over an in-memory byte slice with WASM-specific reads.
type Reader struct {
	data []byte
	pos  int
}

// NewReader creates a Reader over data.
func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// Position returns the current byte offset.
func (r *Reader) Position() int {
	return r.pos
}

// Len returns the number of unread bytes.
func (r *Reader) Len() int {
	return len(r.data) - r.pos
}

// ReadByte reads a single byte.
func (r *Reader) ReadByte() (byte, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	b := r.data[r.pos]
	r.pos++
	return b, nil
}

// ReadBytes returns the next n bytes. The result aliases the input.
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	if n < 0 || n > r.Len() {
		return nil, io.ErrUnexpectedEOF
	}
	out := r.data[r.pos : r.pos+n]
	r.pos += n
	return out, nil
}

// Since returns the bytes consumed from offset start up to the current
// position. The result aliases the input.
func (r *Reader) Since(start int) []byte {
	return r.data[start:r.pos]
}

// Remaining consumes and returns every unread byte.
func (r *Reader) Remaining() []byte {
	out := r.data[r.pos:]
	r.pos = len(r.data)
	return out
}

// ReadU32 reads an unsigned LEB128 uint32.
func (r *Reader) ReadU32() (uint32, error) {
	v, err := readUnsigned(r, 32)
	return uint32(v), r.wrap(err)
}

// ReadU64 reads an unsigned LEB128 uint64.
func (r *Reader) ReadU64() (uint64, error) {
	v, err := readUnsigned(r, 64)
	return v, r.wrap(err)
}

// ReadS32 reads a signed LEB128 int32.
func (r *Reader) ReadS32() (int32, error) {
	v, err := readSigned(r, 32)
	return int32(v), r.wrap(err)
}

// ReadS33 reads a signed LEB128 33-bit value, used by block types.
func (r *Reader) ReadS33() (int64, error) {
	v, err := readSigned(r, 33)
	return v, r.wrap(err)
}

// ReadS64 reads a signed LEB128 int64.
func (r *Reader) ReadS64() (int64, error) {
	v, err := readSigned(r, 64)
	return v, r.wrap(err)
}

// ReadU32LE reads a fixed 4-byte little-endian value.
func (r *Reader) ReadU32LE() (uint32, error) {
	buf, err := r.ReadBytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf), nil
}

// ReadU64LE reads a fixed 8-byte little-endian value.
func (r *Reader) ReadU64LE() (uint64, error) {
	buf, err := r.ReadBytes(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf), nil
}

// ReadName reads a length-prefixed UTF-8 name.
func (r *Reader) ReadName() (string, error) {
	n, err := r.ReadU32()
	if err != nil {
		return "", err
	}
	data, err := r.ReadBytes(int(n))
	if err != nil {
		return "", err
	}
	if !utf8.Valid(data) {
		return "", r.wrap(errors.New("invalid UTF-8 in name"))
	}
	return string(data), nil
}

// ReadVecLen reads a vector length and rejects lengths that cannot fit in
// the remaining input, given a minimum encoded size per element.
func (r *Reader) ReadVecLen(minElemSize int) (uint32, error) {
	n, err := r.ReadU32()
	if err != nil {
		return 0, err
	}
	if minElemSize > 0 && uint64(n)*uint64(minElemSize) > uint64(r.Len()) {
		return 0, r.wrap(fmt.Errorf("vector length %d exceeds input", n))
	}
	return n, nil
}

func (r *Reader) wrap(err error) error {
	if err == nil || errors.Is(err, io.EOF) {
		return err
	}
	return fmt.Errorf("at position %d: %w", r.pos, err)
}

func readUnsigned(r io.ByteReader, bits uint) (uint64, error) {
	maxShift := (bits + 6) / 7 * 7
	var result uint64
	var shift uint
	for {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		result |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return result, nil
		}
		shift += 7
		if shift >= maxShift {
			return 0, ErrOverflow
		}
	}
}

func readSigned(r io.ByteReader, bits uint) (int64, error) {
	maxShift := (bits + 6) / 7 * 7
	var result int64
	var shift uint
	for {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		result |= int64(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			if shift < 64 && b&0x40 != 0 {
				result |= -1 << shift
			}
			return result, nil
		}
		if shift >= maxShift {
			return 0, ErrOverflow
		}
	}
}

// ParseError represents an error during binary parsing with position information.
type ParseError struct {
	Err      error
	Section  string
	Position int
}

func (e *ParseError) Error() string {
	if e.Section != "" {
		return fmt.Sprintf("wasm: %s at position %d: %v", e.Section, e.Position, e.Err)
	}
	return fmt.Sprintf("wasm: at position %d: %v", e.Position, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// WrapError creates a ParseError at the current position.
func (r *Reader) WrapError(section string, err error) error {
	return &ParseError{
		Position: r.pos,
		Section:  section,
		Err:      err,
	}
}
