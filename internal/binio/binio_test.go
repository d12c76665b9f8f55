package binio

import (
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriterReaderRoundTrip(t *testing.T) {
	w := NewWriter()
	w.U1(0xCA)
	w.U2(0xFEBA)
	w.U4(0xBE000034)
	w.U8(0x0102030405060708)
	_, _ = w.Write([]byte("ok"))
	require.Equal(t, 17, w.Len())

	r := NewBytesReader(w.Bytes())
	u1, err := r.U1()
	require.NoError(t, err)
	assert.Equal(t, uint8(0xCA), u1)
	u2, err := r.U2()
	require.NoError(t, err)
	assert.Equal(t, uint16(0xFEBA), u2)
	u4, err := r.U4()
	require.NoError(t, err)
	assert.Equal(t, uint32(0xBE000034), u4)
	u8, err := r.U8()
	require.NoError(t, err)
	assert.Equal(t, uint64(0x0102030405060708), u8)
	assert.Equal(t, 2, r.Remaining())
	b, err := r.Bytes(2)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(b))
	assert.Equal(t, 17, r.Offset())
}

func TestReaderTruncated(t *testing.T) {
	r := NewBytesReader([]byte{0x01})
	_, err := r.U2()
	assert.True(t, errors.Is(err, io.ErrUnexpectedEOF), "got %v", err)

	r = NewBytesReader(nil)
	_, err = r.U1()
	assert.True(t, errors.Is(err, io.ErrUnexpectedEOF), "got %v", err)

	r = NewBytesReader([]byte{1, 2, 3})
	_, err = r.Bytes(4)
	assert.True(t, errors.Is(err, io.ErrUnexpectedEOF), "got %v", err)
}
