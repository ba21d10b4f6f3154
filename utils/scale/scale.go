// Package scale reads and writes the subset of the SCALE codec spoken by the
// chain node: fixed little-endian integers, compact integers, length-prefixed
// byte vectors and strings.
package scale

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/bits"

	"github.com/holiman/uint256"
)

var (
	ErrUnexpectedEOF    = errors.New("scale: unexpected end of input")
	ErrNonCanonical     = errors.New("scale: non canonical compact integer")
	ErrCompactOverflow  = errors.New("scale: compact integer overflows 64 bits")
	ErrTooLargeAlloc    = errors.New("scale: vector exceeds allocation limit")
	ErrInvalidBool      = errors.New("scale: invalid bool byte")
	ErrInvalidOptionTag = errors.New("scale: invalid option tag")
)

// MaxAlloc bounds a single decoded vector.
const MaxAlloc = 64 << 20

// Reader is a cursor over SCALE encoded bytes. The first error sticks and every
// later read returns zero values.
type Reader struct {
	buf []byte
	off int
	err error
}

func NewReader(b []byte) *Reader {
	return &Reader{buf: b}
}

func (r *Reader) Err() error { return r.err }

func (r *Reader) Remaining() int { return len(r.buf) - r.off }

func (r *Reader) Position() int { return r.off }

func (r *Reader) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

func (r *Reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.Remaining() < n {
		r.fail(ErrUnexpectedEOF)
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *Reader) U8() uint8 {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *Reader) Bool() bool {
	switch r.U8() {
	case 0:
		return false
	case 1:
		return true
	default:
		r.fail(ErrInvalidBool)
		return false
	}
}

func (r *Reader) U16() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

func (r *Reader) U32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (r *Reader) U64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

// U128 reads a little-endian 128 bit integer.
func (r *Reader) U128() *uint256.Int {
	b := r.take(16)
	if b == nil {
		return new(uint256.Int)
	}
	be := make([]byte, 16)
	for i := range b {
		be[15-i] = b[i]
	}
	return new(uint256.Int).SetBytes(be)
}

// Fixed reads exactly n bytes. The result aliases the input.
func (r *Reader) Fixed(n int) []byte {
	return r.take(n)
}

// Compact reads a compact integer that fits in 64 bits. Encodings using a wider
// mode than necessary are rejected.
func (r *Reader) Compact() uint64 {
	first := r.U8()
	if r.err != nil {
		return 0
	}
	switch first & 0b11 {
	case 0b00:
		return uint64(first >> 2)
	case 0b01:
		hi := r.U8()
		v := uint64(first)>>2 | uint64(hi)<<6
		if r.err == nil && v < 1<<6 {
			r.fail(ErrNonCanonical)
		}
		return v
	case 0b10:
		rest := r.take(3)
		if rest == nil {
			return 0
		}
		v := uint64(first)>>2 | uint64(rest[0])<<6 | uint64(rest[1])<<14 | uint64(rest[2])<<22
		if v < 1<<14 {
			r.fail(ErrNonCanonical)
		}
		return v
	default:
		n := int(first>>2) + 4
		if n > 8 {
			r.fail(ErrCompactOverflow)
			return 0
		}
		b := r.take(n)
		if b == nil {
			return 0
		}
		var v uint64
		for i := n - 1; i >= 0; i-- {
			v = v<<8 | uint64(b[i])
		}
		if b[n-1] == 0 || v < 1<<30 {
			r.fail(ErrNonCanonical)
		}
		return v
	}
}

// Vec reads a Vec<u8>.
func (r *Reader) Vec() []byte {
	n := r.Compact()
	if r.err != nil {
		return nil
	}
	if n > MaxAlloc {
		r.fail(ErrTooLargeAlloc)
		return nil
	}
	b := r.take(int(n))
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}

func (r *Reader) String() string {
	return string(r.Vec())
}

// Option reads the presence byte of an Option<T>.
func (r *Reader) Option() bool {
	switch r.U8() {
	case 0:
		return false
	case 1:
		return true
	default:
		r.fail(ErrInvalidOptionTag)
		return false
	}
}

// Writer appends SCALE encoded values.
type Writer struct {
	buf []byte
}

func NewWriter() *Writer {
	return &Writer{buf: make([]byte, 0, 64)}
}

func (w *Writer) Bytes() []byte { return w.buf }

func (w *Writer) U8(v uint8) { w.buf = append(w.buf, v) }

func (w *Writer) Bool(v bool) {
	if v {
		w.U8(1)
	} else {
		w.U8(0)
	}
}

func (w *Writer) U16(v uint16) { w.buf = binary.LittleEndian.AppendUint16(w.buf, v) }

func (w *Writer) U32(v uint32) { w.buf = binary.LittleEndian.AppendUint32(w.buf, v) }

func (w *Writer) U64(v uint64) { w.buf = binary.LittleEndian.AppendUint64(w.buf, v) }

func (w *Writer) U128(v *uint256.Int) {
	be := v.Bytes32()
	for i := 31; i >= 16; i-- {
		w.buf = append(w.buf, be[i])
	}
}

func (w *Writer) Fixed(b []byte) { w.buf = append(w.buf, b...) }

func (w *Writer) Compact(v uint64) {
	switch {
	case v < 1<<6:
		w.U8(uint8(v << 2))
	case v < 1<<14:
		w.U16(uint16(v<<2 | 0b01))
	case v < 1<<30:
		w.U32(uint32(v<<2 | 0b10))
	default:
		n := (bits.Len64(v) + 7) / 8
		w.U8(uint8((n-4)<<2 | 0b11))
		for i := 0; i < n; i++ {
			w.U8(uint8(v >> (8 * uint(i))))
		}
	}
}

func (w *Writer) Vec(b []byte) {
	w.Compact(uint64(len(b)))
	w.Fixed(b)
}

func (w *Writer) String(s string) {
	w.Vec([]byte(s))
}

// EncodeBytes returns b as a SCALE Vec<u8>.
func EncodeBytes(b []byte) []byte {
	w := NewWriter()
	w.Vec(b)
	return w.Bytes()
}

// DecodeString decodes a whole buffer as a SCALE string.
func DecodeString(b []byte) (string, error) {
	r := NewReader(b)
	s := r.String()
	if r.Err() != nil {
		return "", r.Err()
	}
	if r.Remaining() != 0 {
		return "", fmt.Errorf("scale: %d trailing bytes after string", r.Remaining())
	}
	return s, nil
}
