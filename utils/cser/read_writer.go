// Package cser is the canonical split encoding used for every ledger object
// that gets hashed, signed or proven. Small values (booleans, integer widths)
// go to a bit stream, the payload bytes go to a byte stream, and decoding
// rejects anything that is not the unique minimal encoding.
package cser

import (
	"errors"

	"github.com/Fantom-foundation/lachesis-base/hash"
	"github.com/holiman/uint256"

	"github.com/rony4d/ledger-txbuilder/utils/bits"
	"github.com/rony4d/ledger-txbuilder/utils/fast"
)

var (
	ErrNonCanonicalEncoding = errors.New("non canonical encoding")
	ErrMalformedEncoding    = errors.New("malformed encoding")
	ErrTooLargeAlloc        = errors.New("too large allocation")
)

// MaxAlloc bounds a single decoded byte slice.
const MaxAlloc = 100 * 1024

type Writer struct {
	BitsW  *bits.Writer
	BytesW *fast.Writer
}

type Reader struct {
	BitsR  *bits.Reader
	BytesR *fast.Reader
}

func NewWriter() *Writer {
	bbits := &bits.Array{Bytes: make([]byte, 0, 32)}
	bbytes := make([]byte, 0, 200)
	return &Writer{
		BitsW:  bits.NewWriter(bbits),
		BytesW: fast.NewWriter(bbytes),
	}
}

// writeUint64Compact is a base-128 varint where a set high bit marks the last
// group. It only encodes the trailing bit-stream size.
func writeUint64Compact(bytesW *fast.Writer, v uint64) {
	for {
		chunk := v & 0x7f
		v >>= 7
		if v == 0 {
			bytesW.PutByte(byte(chunk | 0x80))
			return
		}
		bytesW.PutByte(byte(chunk))
	}
}

func readUint64Compact(bytesR *fast.Reader) uint64 {
	var v uint64
	for i := 0; ; i++ {
		chunk := uint64(bytesR.NextByte())
		stop := chunk&0x80 != 0
		word := chunk & 0x7f
		v |= word << (7 * uint(i))
		if stop {
			if i > 0 && word == 0 {
				panic(ErrNonCanonicalEncoding)
			}
			return v
		}
	}
}

func writeUint64BitCompact(bytesW *fast.Writer, v uint64, minSize int) (size int) {
	for size < minSize || v != 0 {
		bytesW.PutByte(byte(v))
		size++
		v >>= 8
	}
	return size
}

func readUint64BitCompact(bytesR *fast.Reader, size int) uint64 {
	var (
		v    uint64
		last byte
	)
	for i, b := range bytesR.Read(size) {
		v |= uint64(b) << uint(8*i)
		last = b
	}
	if size > 1 && last == 0 {
		panic(ErrNonCanonicalEncoding)
	}
	return v
}

func (r *Reader) readU64Bits(minSize, bitsForSize int) uint64 {
	size := int(r.BitsR.Read(bitsForSize)) + minSize
	return readUint64BitCompact(r.BytesR, size)
}

func (w *Writer) writeU64Bits(minSize, bitsForSize int, v uint64) {
	size := writeUint64BitCompact(w.BytesW, v, minSize)
	w.BitsW.Write(bitsForSize, uint(size-minSize))
}

func (w *Writer) U8(v uint8) {
	w.BytesW.PutByte(v)
}

func (r *Reader) U8() uint8 {
	return r.BytesR.NextByte()
}

func (w *Writer) U16(v uint16) {
	w.writeU64Bits(1, 1, uint64(v))
}

func (r *Reader) U16() uint16 {
	return uint16(r.readU64Bits(1, 1))
}

func (w *Writer) U32(v uint32) {
	w.writeU64Bits(1, 2, uint64(v))
}

func (r *Reader) U32() uint32 {
	return uint32(r.readU64Bits(1, 2))
}

func (w *Writer) U64(v uint64) {
	w.writeU64Bits(1, 3, v)
}

func (r *Reader) U64() uint64 {
	return r.readU64Bits(1, 3)
}

// U56 encodes lengths. Zero takes no body bytes.
func (w *Writer) U56(v uint64) {
	const max = 1<<(8*7) - 1
	if v > max {
		panic("cser: value exceeds 56 bits")
	}
	w.writeU64Bits(0, 3, v)
}

func (r *Reader) U56() uint64 {
	return r.readU64Bits(0, 3)
}

func (w *Writer) Bool(v bool) {
	var b uint
	if v {
		b = 1
	}
	w.BitsW.Write(1, b)
}

func (r *Reader) Bool() bool {
	return r.BitsR.Read(1) != 0
}

func (w *Writer) FixedBytes(v []byte) {
	w.BytesW.Write(v)
}

func (r *Reader) FixedBytes(v []byte) {
	copy(v, r.BytesR.Read(len(v)))
}

func (w *Writer) SliceBytes(v []byte) {
	w.U56(uint64(len(v)))
	w.FixedBytes(v)
}

// SliceBytes reads a length-prefixed slice. An empty slice decodes as nil.
func (r *Reader) SliceBytes(maxLen int) []byte {
	size := r.U56()
	if size > uint64(maxLen) {
		panic(ErrTooLargeAlloc)
	}
	if size == 0 {
		return nil
	}
	buf := make([]byte, size)
	r.FixedBytes(buf)
	return buf
}

func (w *Writer) String(s string) {
	w.SliceBytes([]byte(s))
}

func (r *Reader) String(maxLen int) string {
	return string(r.SliceBytes(maxLen))
}

func (w *Writer) Hash(h hash.Hash) {
	w.FixedBytes(h[:])
}

func (r *Reader) Hash() (h hash.Hash) {
	r.FixedBytes(h[:])
	return h
}

// U256 writes the minimal big-endian magnitude. Zero is an empty slice.
func (w *Writer) U256(v *uint256.Int) {
	if v == nil || v.IsZero() {
		w.SliceBytes(nil)
		return
	}
	w.SliceBytes(v.Bytes())
}

func (r *Reader) U256() *uint256.Int {
	buf := r.SliceBytes(32)
	if len(buf) > 0 && buf[0] == 0 {
		panic(ErrNonCanonicalEncoding)
	}
	return new(uint256.Int).SetBytes(buf)
}

// PaddedBytes left-pads b with zeros up to n bytes.
func PaddedBytes(b []byte, n int) []byte {
	if len(b) >= n {
		return b
	}
	return append(make([]byte, n-len(b)), b...)
}
