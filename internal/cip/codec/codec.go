package codec

// Bounds-checked little-endian reader and writer for CIP data.

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	// ErrShortBuffer is returned when a read would go past the end of the input.
	ErrShortBuffer = errors.New("read past end of buffer")
	// ErrMalformedPath is returned for EPaths with reserved or out-of-order segments.
	ErrMalformedPath = errors.New("malformed path")
	// ErrUnsupportedSegment is returned for well-formed segments this codec does not handle.
	ErrUnsupportedSegment = errors.New("unsupported path segment")
	// ErrTypeMismatch is returned when a Go value cannot carry the requested CIP type.
	ErrTypeMismatch = errors.New("value does not match data type")
	// ErrUnsupportedType is returned for unknown or disabled data types.
	ErrUnsupportedType = errors.New("unsupported data type")
	// ErrValueTooLong is returned when a string exceeds its length prefix.
	ErrValueTooLong = errors.New("value too long")
)

// Cursor reads CIP little-endian values from a byte slice without ever
// reading past its end.
type Cursor struct {
	buf []byte
	off int
}

// NewCursor returns a cursor positioned at the start of b.
func NewCursor(b []byte) *Cursor {
	return &Cursor{buf: b}
}

// Len returns the number of unread bytes.
func (c *Cursor) Len() int {
	return len(c.buf) - c.off
}

// Offset returns the number of bytes consumed so far.
func (c *Cursor) Offset() int {
	return c.off
}

func (c *Cursor) need(n int) error {
	if n < 0 || c.Len() < n {
		return fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrShortBuffer, n, c.off, c.Len())
	}
	return nil
}

// Uint8 reads one byte.
func (c *Cursor) Uint8() (uint8, error) {
	if err := c.need(1); err != nil {
		return 0, err
	}
	v := c.buf[c.off]
	c.off++
	return v, nil
}

// Peek returns the next byte without consuming it.
func (c *Cursor) Peek() (uint8, error) {
	if err := c.need(1); err != nil {
		return 0, err
	}
	return c.buf[c.off], nil
}

// Uint16 reads a little-endian uint16.
func (c *Cursor) Uint16() (uint16, error) {
	if err := c.need(2); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint16(c.buf[c.off:])
	c.off += 2
	return v, nil
}

// Uint32 reads a little-endian uint32.
func (c *Cursor) Uint32() (uint32, error) {
	if err := c.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(c.buf[c.off:])
	c.off += 4
	return v, nil
}

// Uint64 reads a little-endian uint64.
func (c *Cursor) Uint64() (uint64, error) {
	if err := c.need(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(c.buf[c.off:])
	c.off += 8
	return v, nil
}

// Bytes returns the next n bytes. The result aliases the cursor's buffer.
func (c *Cursor) Bytes(n int) ([]byte, error) {
	if err := c.need(n); err != nil {
		return nil, err
	}
	v := c.buf[c.off : c.off+n : c.off+n]
	c.off += n
	return v, nil
}

// Skip advances past n bytes.
func (c *Cursor) Skip(n int) error {
	if err := c.need(n); err != nil {
		return err
	}
	c.off += n
	return nil
}

// Rest consumes and returns every remaining byte.
func (c *Cursor) Rest() []byte {
	v := c.buf[c.off:]
	c.off = len(c.buf)
	return v
}

// Writer appends CIP little-endian values to a growing buffer.
type Writer struct {
	buf []byte
}

// NewWriter returns a writer with the given initial capacity.
func NewWriter(capacity int) *Writer {
	return &Writer{buf: make([]byte, 0, capacity)}
}

// Len returns the number of bytes written.
func (w *Writer) Len() int {
	return len(w.buf)
}

// Bytes returns the written bytes.
func (w *Writer) Bytes() []byte {
	return w.buf
}

// PutUint8 appends one byte.
func (w *Writer) PutUint8(v uint8) {
	w.buf = append(w.buf, v)
}

// PutUint16 appends a little-endian uint16.
func (w *Writer) PutUint16(v uint16) {
	w.buf = binary.LittleEndian.AppendUint16(w.buf, v)
}

// PutUint32 appends a little-endian uint32.
func (w *Writer) PutUint32(v uint32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
}

// PutUint64 appends a little-endian uint64.
func (w *Writer) PutUint64(v uint64) {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, v)
}

// PutBytes appends b verbatim.
func (w *Writer) PutBytes(b []byte) {
	w.buf = append(w.buf, b...)
}

// PutZeros appends n zero bytes.
func (w *Writer) PutZeros(n int) {
	for i := 0; i < n; i++ {
		w.buf = append(w.buf, 0)
	}
}

// SetUint16At overwrites a previously written uint16, used to backpatch lengths.
func (w *Writer) SetUint16At(off int, v uint16) {
	binary.LittleEndian.PutUint16(w.buf[off:], v)
}
