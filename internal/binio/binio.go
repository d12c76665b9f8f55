// Package binio provides the big-endian primitives used by every layer of
// the class-file codec.
package binio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
)

// Reader reads big-endian integers from an underlying stream and tracks how
// many bytes have been consumed.
type Reader struct {
	r   io.Reader
	off int
	buf [8]byte
}

// NewReader returns a Reader over r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// NewBytesReader returns a Reader over b.
func NewBytesReader(b []byte) *Reader {
	return &Reader{r: bytes.NewReader(b)}
}

// Offset reports the number of bytes consumed so far.
func (r *Reader) Offset() int { return r.off }

// Remaining reports how many unread bytes are left, or -1 if the underlying
// stream cannot tell.
func (r *Reader) Remaining() int {
	if l, ok := r.r.(interface{ Len() int }); ok {
		return l.Len()
	}
	return -1
}

func (r *Reader) fill(n int) ([]byte, error) {
	b := r.buf[:n]
	if _, err := io.ReadFull(r.r, b); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	r.off += n
	return b, nil
}

// Read implements io.Reader so nested decoders can share the stream while
// the offset keeps counting.
func (r *Reader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	r.off += n
	return n, err
}

// U1 reads an unsigned byte.
func (r *Reader) U1() (uint8, error) {
	b, err := r.fill(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// U2 reads a big-endian uint16.
func (r *Reader) U2() (uint16, error) {
	b, err := r.fill(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

// U4 reads a big-endian uint32.
func (r *Reader) U4() (uint32, error) {
	b, err := r.fill(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

// U8 reads a big-endian uint64.
func (r *Reader) U8() (uint64, error) {
	b, err := r.fill(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

// Bytes reads exactly n bytes into a new slice.
func (r *Reader) Bytes(n int) ([]byte, error) {
	if rem := r.Remaining(); rem >= 0 && n > rem {
		return nil, io.ErrUnexpectedEOF
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r.r, b); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	r.off += n
	return b, nil
}

// Writer accumulates big-endian output in memory. Writes never fail.
type Writer struct {
	buf bytes.Buffer
}

// NewWriter returns an empty Writer.
func NewWriter() *Writer {
	return &Writer{}
}

func (w *Writer) U1(v uint8) { w.buf.WriteByte(v) }

func (w *Writer) U2(v uint16) {
	w.buf.Write(binary.BigEndian.AppendUint16(nil, v))
}

func (w *Writer) U4(v uint32) {
	w.buf.Write(binary.BigEndian.AppendUint32(nil, v))
}

func (w *Writer) U8(v uint64) {
	w.buf.Write(binary.BigEndian.AppendUint64(nil, v))
}

// Write appends b verbatim.
func (w *Writer) Write(b []byte) (int, error) {
	return w.buf.Write(b)
}

// Len reports the number of bytes written so far.
func (w *Writer) Len() int { return w.buf.Len() }

// Bytes returns the accumulated output.
func (w *Writer) Bytes() []byte { return w.buf.Bytes() }

// WriteTo copies the accumulated output to dst.
func (w *Writer) WriteTo(dst io.Writer) (int64, error) {
	return w.buf.WriteTo(dst)
}
