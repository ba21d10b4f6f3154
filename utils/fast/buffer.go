// Package fast provides append-only byte writers and cursor readers used by the
// canonical codec. Readers do not return errors: reading past the end panics and
// the caller (cser.UnmarshalBinaryAdapter) recovers it.
package fast

import "errors"

// ErrOutOfBounds is the panic value of a read past the end of the buffer.
var ErrOutOfBounds = errors.New("read out of bounds")

// Reader is a cursor over a byte slice.
type Reader struct {
	buf    []byte
	offset int
}

// Writer accumulates bytes.
type Writer struct {
	buf []byte
}

// NewReader returns a reader over bb.
func NewReader(bb []byte) *Reader {
	return &Reader{buf: bb}
}

// NewWriter returns a writer appending to bb.
func NewWriter(bb []byte) *Writer {
	return &Writer{buf: bb}
}

// PutByte appends one byte.
func (w *Writer) PutByte(v byte) {
	w.buf = append(w.buf, v)
}

// Write appends v.
func (w *Writer) Write(v []byte) {
	w.buf = append(w.buf, v...)
}

// Bytes returns everything written so far.
func (w *Writer) Bytes() []byte {
	return w.buf
}

// Read returns the next n bytes. The result aliases the underlying buffer and
// is capped at n, so appending to it never overwrites what follows.
func (r *Reader) Read(n int) []byte {
	if n < 0 || n > r.Remaining() {
		panic(ErrOutOfBounds)
	}
	res := r.buf[r.offset : r.offset+n : r.offset+n]
	r.offset += n
	return res
}

// NextByte returns the next byte.
func (r *Reader) NextByte() byte {
	if r.offset >= len(r.buf) {
		panic(ErrOutOfBounds)
	}
	res := r.buf[r.offset]
	r.offset++
	return res
}

// Position is the number of bytes consumed.
func (r *Reader) Position() int {
	return r.offset
}

// Remaining is the number of bytes left.
func (r *Reader) Remaining() int {
	return len(r.buf) - r.offset
}

// Bytes returns the whole underlying buffer.
func (r *Reader) Bytes() []byte {
	return r.buf
}

// Empty reports whether every byte was consumed.
func (r *Reader) Empty() bool {
	return len(r.buf) == r.offset
}
