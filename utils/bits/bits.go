// Package bits implements an LSB-first bit stream. It carries the small values
// of the canonical codec (booleans, length selectors, type markers) so that they
// do not cost a whole byte each.
package bits

type (
	// Array holds the packed bytes of a stream.
	Array struct {
		Bytes []byte
	}

	// Writer appends bit groups to an Array.
	Writer struct {
		*Array
		bitOffset int // next free bit inside the last byte, 0 means "start a new byte"
	}

	// Reader consumes bit groups from an Array.
	Reader struct {
		*Array
		byteOffset int
		bitOffset  int
	}
)

// NewWriter returns a writer appending to arr.
func NewWriter(arr *Array) *Writer {
	return &Writer{Array: arr}
}

// NewReader returns a reader positioned at the first bit of arr.
func NewReader(arr *Array) *Reader {
	return &Reader{Array: arr}
}

func lowMask(n int) uint {
	return (uint(1) << uint(n)) - 1
}

// Write appends the lowest `bits` bits of v. Bits above that width must be zero.
func (w *Writer) Write(bits int, v uint) {
	for bits > 0 {
		if w.bitOffset == 0 {
			w.Bytes = append(w.Bytes, 0)
		}
		n := 8 - w.bitOffset
		if bits < n {
			n = bits
		}
		w.Bytes[len(w.Bytes)-1] |= byte((v & lowMask(n)) << uint(w.bitOffset))
		w.bitOffset = (w.bitOffset + n) % 8
		v >>= uint(n)
		bits -= n
	}
}

// Read consumes `bits` bits and returns them as an unsigned value.
// Reading past the end panics with an index error; the cser adapter turns that
// panic into ErrMalformedEncoding.
func (r *Reader) Read(bits int) uint {
	var (
		v     uint
		shift uint
	)
	for bits > 0 {
		n := 8 - r.bitOffset
		if bits < n {
			n = bits
		}
		chunk := (uint(r.Bytes[r.byteOffset]) >> uint(r.bitOffset)) & lowMask(n)
		v |= chunk << shift
		shift += uint(n)
		r.bitOffset += n
		if r.bitOffset == 8 {
			r.bitOffset = 0
			r.byteOffset++
		}
		bits -= n
	}
	return v
}

// View returns the next `bits` bits without consuming them.
func (r *Reader) View(bits int) uint {
	cp := *r
	return cp.Read(bits)
}

// NonReadBytes is the number of bytes not yet fully consumed, counting a
// partially read byte.
func (r *Reader) NonReadBytes() int {
	return len(r.Bytes) - r.byteOffset
}

// NonReadBits is the number of bits left in the stream.
func (r *Reader) NonReadBits() int {
	return r.NonReadBytes()*8 - r.bitOffset
}
