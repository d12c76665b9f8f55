package constpool

import (
	"bytes"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daimatz/gojasm/internal/binio"
	"github.com/daimatz/gojasm/pkg/derrors"
)

func TestFindDeduplicates(t *testing.T) {
	p := New()
	i, err := p.Find(NewUtf8("hello"))
	require.NoError(t, err)
	assert.Equal(t, uint16(1), i)
	n := p.Len()

	j, err := p.Find(NewUtf8("hello"))
	require.NoError(t, err)
	assert.Equal(t, i, j, "same text must map to the same index")
	assert.Equal(t, n, p.Len(), "pool grew on a duplicate insert")
}

func TestFindInsertsChildrenFirst(t *testing.T) {
	p := New()
	i, err := p.Find(NewMethodRef("java/lang/Object", "<init>", "()V"))
	require.NoError(t, err)

	// Utf8 owner, Class, Utf8 name, Utf8 desc, NameAndType, then the ref.
	assert.Equal(t, uint16(6), i)
	assert.Equal(t, 7, p.Len())

	// A second structurally equal reference built from fresh objects.
	j, err := p.Find(&MethodRef{MemberRef{
		Class:       &Class{Name: &Utf8{Value: "java/lang/Object"}},
		NameAndType: &NameAndType{Name: &Utf8{Value: "<init>"}, Descriptor: &Utf8{Value: "()V"}},
	}})
	require.NoError(t, err)
	assert.Equal(t, i, j)
	assert.Equal(t, 7, p.Len())

	// Same class and NameAndType under a different tag is a different entry.
	k, err := p.Find(NewInterfaceMethodRef("java/lang/Object", "<init>", "()V"))
	require.NoError(t, err)
	assert.NotEqual(t, i, k)
	assert.Equal(t, 8, p.Len())
}

func TestWideEntrySkipsSlot(t *testing.T) {
	p := New()
	i, err := p.Find(&Long{Value: 42})
	require.NoError(t, err)
	assert.Equal(t, uint16(1), i)
	assert.Equal(t, 3, p.Len())

	_, err = p.Entry(i + 1)
	assert.True(t, errors.Is(err, derrors.MalformedPool), "got %v", err)

	next, err := p.Find(&Integer{Value: 1})
	require.NoError(t, err)
	assert.Equal(t, uint16(3), next)

	d, err := p.Find(&Double{Value: math.Pi})
	require.NoError(t, err)
	_, err = Get[*Utf8](p, d+1)
	assert.True(t, errors.Is(err, derrors.MalformedPool), "got %v", err)
}

func TestGetErrors(t *testing.T) {
	p := New()
	utf, err := p.Find(NewUtf8("x"))
	require.NoError(t, err)

	tests := []struct {
		name  string
		index uint16
	}{
		{"zero", 0},
		{"out of range", 99},
		{"wrong variant", utf},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Get[*Class](p, tt.index)
			assert.True(t, errors.Is(err, derrors.MalformedPool), "got %v", err)
		})
	}

	got, err := Get[*Utf8](p, utf)
	require.NoError(t, err)
	assert.Equal(t, "x", got.Value)
}

func TestFloatDedupUsesBits(t *testing.T) {
	p := New()
	a, err := p.Find(&Float{Value: float32(math.NaN())})
	require.NoError(t, err)
	b, err := p.Find(&Float{Value: float32(math.NaN())})
	require.NoError(t, err)
	assert.Equal(t, a, b)

	pos, err := p.Find(&Double{Value: 0})
	require.NoError(t, err)
	neg, err := p.Find(&Double{Value: math.Copysign(0, -1)})
	require.NoError(t, err)
	assert.NotEqual(t, pos, neg, "+0 and -0 are distinct constants")
}

func TestFindNilReference(t *testing.T) {
	p := New()
	_, err := p.Find(&Class{})
	assert.True(t, errors.Is(err, derrors.MalformedPool), "got %v", err)
}

func TestMethodHandleKindMustMatchReference(t *testing.T) {
	tests := []struct {
		name string
		h    *MethodHandle
		ok   bool
	}{
		{"getfield on field", &MethodHandle{Kind: RefGetField, Reference: NewFieldRef("A", "f", "I")}, true},
		{"getfield on method", &MethodHandle{Kind: RefGetField, Reference: NewMethodRef("A", "m", "()V")}, false},
		{"invokevirtual on field", &MethodHandle{Kind: RefInvokeVirtual, Reference: NewFieldRef("A", "f", "I")}, false},
		{"invokestatic on interface method", &MethodHandle{Kind: RefInvokeStatic, Reference: NewInterfaceMethodRef("A", "m", "()V")}, true},
		{"invokeinterface on method", &MethodHandle{Kind: RefInvokeInterface, Reference: NewMethodRef("A", "m", "()V")}, false},
		{"newinvokespecial on interface method", &MethodHandle{Kind: RefNewInvokeSpecial, Reference: NewInterfaceMethodRef("A", "<init>", "()V")}, false},
		{"kind out of range", &MethodHandle{Kind: 10, Reference: NewMethodRef("A", "m", "()V")}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New().Find(tt.h)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, derrors.MalformedPool), "got %v", err)
		})
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	p := New()
	entries := []Entry{
		NewFieldRef("Foo", "bar", "I"),
		NewMethodRef("Foo", "baz", "()V"),
		&Long{Value: -1},
		NewString("text"),
		&Float{Value: 1.5},
		&Double{Value: 2.5},
		&Integer{Value: -7},
		NewMethodType("(I)V"),
		&MethodHandle{Kind: RefInvokeStatic, Reference: NewMethodRef("Foo", "baz", "()V")},
		NewInvokeDynamic(0, "run", "()Ljava/lang/Runnable;"),
		NewDynamic(1, "c", "I"),
		&Module{Name: NewUtf8("m")},
		&Package{Name: NewUtf8("p/q")},
		NewUtf8("nul\x00 and \U0001F600"),
	}
	indices := make([]uint16, len(entries))
	for i, e := range entries {
		var err error
		indices[i], err = p.Find(e)
		require.NoError(t, err)
	}

	var buf bytes.Buffer
	require.NoError(t, p.Write(&buf))
	q, err := Read(&buf)
	require.NoError(t, err)
	assert.Equal(t, p.Len(), q.Len())

	// Every entry finds itself at the same index in the re-read pool.
	for i, e := range entries {
		j, err := q.Find(e)
		require.NoError(t, err)
		assert.Equal(t, indices[i], j, "entry %d (%T)", i, e)
	}
	assert.Equal(t, p.Len(), q.Len(), "re-read pool grew during Find")

	mh, err := Get[*MethodHandle](q, indices[8])
	require.NoError(t, err)
	ref, ok := mh.Reference.(*MethodRef)
	require.True(t, ok)
	assert.Equal(t, "baz", ref.NameAndType.Name.Value)

	s, err := q.Utf8At(indices[len(indices)-1])
	require.NoError(t, err)
	assert.Equal(t, "nul\x00 and \U0001F600", s)
}

func TestReadForwardReferences(t *testing.T) {
	w := binio.NewWriter()
	w.U2(4)
	w.U1(uint8(TagClass)) // #1 -> #3
	w.U2(3)
	w.U1(uint8(TagString)) // #2 -> #3
	w.U2(3)
	w.U1(uint8(TagUtf8)) // #3
	w.U2(3)
	_, _ = w.Write([]byte("Foo"))

	p, err := Read(bytes.NewReader(w.Bytes()))
	require.NoError(t, err)
	name, err := p.ClassNameAt(1)
	require.NoError(t, err)
	assert.Equal(t, "Foo", name)

	c, err := Get[*Class](p, 1)
	require.NoError(t, err)
	s, err := Get[*String](p, 2)
	require.NoError(t, err)
	assert.Same(t, c.Name, s.Value, "both entries must share the Utf8 entry")
}

func TestReadMalformed(t *testing.T) {
	tests := []struct {
		name  string
		build func(w *binio.Writer)
	}{
		{"zero count", func(w *binio.Writer) { w.U2(0) }},
		{"unknown tag", func(w *binio.Writer) {
			w.U2(2)
			w.U1(2)
		}},
		{"dangling reference", func(w *binio.Writer) {
			w.U2(2)
			w.U1(uint8(TagClass))
			w.U2(9)
		}},
		{"wrong variant", func(w *binio.Writer) {
			w.U2(3)
			w.U1(uint8(TagClass))
			w.U2(2)
			w.U1(uint8(TagInteger))
			w.U4(5)
		}},
		{"wide overrun", func(w *binio.Writer) {
			w.U2(2)
			w.U1(uint8(TagLong))
			w.U8(1)
		}},
		{"reference into wide tail", func(w *binio.Writer) {
			w.U2(4)
			w.U1(uint8(TagLong))
			w.U8(1)
			w.U1(uint8(TagString))
			w.U2(2)
		}},
		{"handle kind mismatch", func(w *binio.Writer) {
			w.U2(8)
			w.U1(uint8(TagUtf8))
			w.U2(1)
			_, _ = w.Write([]byte("A"))
			w.U1(uint8(TagClass))
			w.U2(1)
			w.U1(uint8(TagUtf8))
			w.U2(1)
			_, _ = w.Write([]byte("m"))
			w.U1(uint8(TagUtf8))
			w.U2(3)
			_, _ = w.Write([]byte("()V"))
			w.U1(uint8(TagNameAndType))
			w.U2(3)
			w.U2(4)
			w.U1(uint8(TagMethodref))
			w.U2(2)
			w.U2(5)
			w.U1(uint8(TagMethodHandle))
			w.U1(uint8(RefGetField))
			w.U2(6)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := binio.NewWriter()
			tt.build(w)
			_, err := Read(bytes.NewReader(w.Bytes()))
			assert.True(t, errors.Is(err, derrors.MalformedPool), "got %v", err)
		})
	}
}

func TestModifiedUTF8(t *testing.T) {
	for _, s := range []string{"", "plain", "nul\x00", "é", "日本語", "\U0001F600"} {
		b := encodeModifiedUTF8(s)
		assert.NotContains(t, string(b), "\x00", "encoded %q contains a raw NUL", s)
		got, ok := decodeModifiedUTF8(b)
		assert.True(t, ok, "%q", s)
		assert.Equal(t, s, got)
	}
	assert.Equal(t, []byte{0xC0, 0x80}, encodeModifiedUTF8("\x00"))
	assert.Equal(t, []byte{0xED, 0xA0, 0xBD, 0xED, 0xB8, 0x80}, encodeModifiedUTF8("\U0001F600"))

	for _, raw := range [][]byte{
		{0xFF, 'a', 0xED, 0xA0, 0xBD},
		{0xF0, 0x9F, 0x98, 0x80}, // standard UTF-8, not modified
		{'a', 0x00, 'b'},
		{0xC1, 0x81}, // overlong
	} {
		s, ok := decodeModifiedUTF8(raw)
		assert.False(t, ok, "% X", raw)
		assert.Equal(t, string(raw), s)
	}
}

func TestUtf8KeepsRawBytes(t *testing.T) {
	emoji := []byte{0xF0, 0x9F, 0x98, 0x80}
	modified := []byte{0xED, 0xA0, 0xBD, 0xED, 0xB8, 0x80}
	nul := []byte{'a', 0x00, 'b'}

	w := binio.NewWriter()
	w.U2(5)
	for _, b := range [][]byte{emoji, modified, nul} {
		w.U1(uint8(TagUtf8))
		w.U2(uint16(len(b)))
		_, _ = w.Write(b)
	}
	w.U1(uint8(TagClass)) // #4 -> #3
	w.U2(3)
	in := w.Bytes()

	p, err := Read(bytes.NewReader(in))
	require.NoError(t, err)

	// The first two entries hold the same text but stay distinct.
	for i := uint16(1); i <= 2; i++ {
		s, err := p.Utf8At(i)
		require.NoError(t, err)
		assert.Equal(t, "\U0001F600", s)
	}
	i, err := p.Find(NewUtf8("\U0001F600"))
	require.NoError(t, err)
	assert.Equal(t, uint16(2), i, "exact match wins over raw bytes")
	i, err = p.Find(NewClass("a\x00b"))
	require.NoError(t, err)
	assert.Equal(t, uint16(4), i, "raw entry is found by its text")
	assert.Equal(t, 5, p.Len())

	var buf bytes.Buffer
	require.NoError(t, p.Clone().Write(&buf))
	assert.Equal(t, in, buf.Bytes())

	// A fresh pool writes the text in modified UTF-8.
	q := New()
	_, err = q.Find(NewUtf8("a\x00b"))
	require.NoError(t, err)
	buf.Reset()
	require.NoError(t, q.Write(&buf))
	assert.Equal(t, []byte{0x00, 0x02, byte(TagUtf8), 0x00, 0x04, 'a', 0xC0, 0x80, 'b'}, buf.Bytes())
}

func TestAllSkipsWideTails(t *testing.T) {
	p := New()
	_, err := p.Find(&Long{Value: 1})
	require.NoError(t, err)
	_, err = p.Find(NewUtf8("a"))
	require.NoError(t, err)

	var got []uint16
	for i := range p.All() {
		got = append(got, i)
	}
	assert.Equal(t, []uint16{1, 3}, got)
}

func TestCloneGrowsIndependently(t *testing.T) {
	p := New()
	i, err := p.Find(NewClass("A"))
	require.NoError(t, err)

	q := p.Clone()
	j, err := q.Find(NewClass("A"))
	require.NoError(t, err)
	assert.Equal(t, i, j)

	_, err = q.Find(NewUtf8("only in the clone"))
	require.NoError(t, err)
	assert.Equal(t, p.Len()+1, q.Len())
}

func TestReadTruncated(t *testing.T) {
	w := binio.NewWriter()
	w.U2(3)
	w.U1(uint8(TagUtf8))
	w.U2(10)
	_, _ = w.Write([]byte("abc"))

	_, err := Read(bytes.NewReader(w.Bytes()))
	assert.True(t, errors.Is(err, derrors.MalformedPool), "got %v", err)
}
