// Package constpool implements the constant pool: the deduplicating,
// index-addressed symbol table shared by everything in a class file.
//
// A Pool is either read from disk, in which case indices are fixed by
// position and references are resolved in a second pass, or built while a
// class is written, in which case Find assigns indices in first-use order.
package constpool

import (
	"errors"
	"fmt"
	"io"
	"iter"
	"maps"
	"math"
	"reflect"
	"slices"

	"github.com/daimatz/gojasm/internal/binio"
	"github.com/daimatz/gojasm/pkg/derrors"
)

// maxCount is the largest constant_pool_count the u2 field can hold.
const maxCount = math.MaxUint16

// Pool is a constant pool. The zero value is not usable; call New or Read.
type Pool struct {
	// entries and keys are index-aligned. Slot 0 and the slot after a
	// wide entry hold nil.
	entries []Entry
	keys    []entryKey
	lookup  map[entryKey]uint16
}

// New returns an empty pool.
func New() *Pool {
	return &Pool{
		entries: make([]Entry, 1),
		keys:    make([]entryKey, 1),
		lookup:  make(map[entryKey]uint16),
	}
}

// Read reads constant_pool_count and the entries that follow it, then
// resolves every reference between entries.
func Read(r io.Reader) (_ *Pool, err error) {
	defer derrors.Wrap(&err, "reading constant pool")
	defer func() {
		if errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, derrors.MalformedPool) {
			err = fmt.Errorf("%w: %w", derrors.MalformedPool, err)
		}
	}()

	br, ok := r.(*binio.Reader)
	if !ok {
		br = binio.NewReader(r)
	}
	count, err := br.U2()
	if err != nil {
		return nil, fmt.Errorf("reading count: %w", err)
	}
	if count == 0 {
		return nil, derrors.Errorf(derrors.MalformedPool, "constant_pool_count is 0")
	}

	p := &Pool{
		entries: make([]Entry, count),
		keys:    make([]entryKey, count),
		lookup:  make(map[entryKey]uint16, count),
	}
	// Raw indices first: every entry is allocated before any is linked,
	// because references may point forward.
	for i := 1; i < int(count); i++ {
		k, err := readKey(br)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		e, err := newEntry(k)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		p.entries[i] = e
		p.keys[i] = k
		if k.tag.Wide() {
			i++
			if i >= int(count) {
				return nil, derrors.Errorf(derrors.MalformedPool, "wide entry %d overruns the pool", i-1)
			}
		}
	}
	if err := p.resolve(); err != nil {
		return nil, err
	}
	return p, nil
}

// resolve turns the raw indices of every entry into references.
func (p *Pool) resolve() error {
	for i, e := range p.entries {
		if e == nil {
			continue
		}
		if err := e.link(p, p.keys[i]); err != nil {
			return fmt.Errorf("resolving %s entry %d: %w", e.Tag(), i, err)
		}
		if _, dup := p.lookup[p.keys[i]]; !dup {
			p.lookup[p.keys[i]] = uint16(i)
		}
	}
	return nil
}

func readKey(r *binio.Reader) (entryKey, error) {
	t, err := r.U1()
	if err != nil {
		return entryKey{}, fmt.Errorf("reading tag: %w", err)
	}
	k := entryKey{tag: Tag(t)}
	switch k.tag {
	case TagUtf8:
		n, err := r.U2()
		if err != nil {
			return k, fmt.Errorf("reading Utf8 length: %w", err)
		}
		b, err := r.Bytes(int(n))
		if err != nil {
			return k, fmt.Errorf("reading Utf8 bytes: %w", err)
		}
		var ok bool
		k.s, ok = decodeModifiedUTF8(b)
		k.raw = !ok
	case TagInteger, TagFloat:
		v, err := r.U4()
		if err != nil {
			return k, fmt.Errorf("reading %s: %w", k.tag, err)
		}
		k.x = uint64(v)
	case TagLong, TagDouble:
		k.x, err = r.U8()
		if err != nil {
			return k, fmt.Errorf("reading %s: %w", k.tag, err)
		}
	case TagClass, TagString, TagMethodType, TagModule, TagPackage:
		k.p1, err = r.U2()
		if err != nil {
			return k, fmt.Errorf("reading %s: %w", k.tag, err)
		}
	case TagMethodHandle:
		kind, err := r.U1()
		if err != nil {
			return k, fmt.Errorf("reading MethodHandle kind: %w", err)
		}
		k.x = uint64(kind)
		if k.p1, err = r.U2(); err != nil {
			return k, fmt.Errorf("reading MethodHandle reference: %w", err)
		}
	case TagFieldref, TagMethodref, TagInterfaceMethodref, TagNameAndType, TagDynamic, TagInvokeDynamic:
		if k.p1, err = r.U2(); err != nil {
			return k, fmt.Errorf("reading %s: %w", k.tag, err)
		}
		if k.p2, err = r.U2(); err != nil {
			return k, fmt.Errorf("reading %s: %w", k.tag, err)
		}
	default:
		return k, derrors.Errorf(derrors.MalformedPool, "unknown constant pool tag %d", t)
	}
	return k, nil
}

// Clone returns a copy of p that can grow independently. Entries are
// shared; they are never mutated by the pool.
func (p *Pool) Clone() *Pool {
	q := &Pool{
		entries: slices.Clone(p.entries),
		keys:    slices.Clone(p.keys),
		lookup:  make(map[entryKey]uint16, len(p.lookup)),
	}
	maps.Copy(q.lookup, p.lookup)
	return q
}

// Len reports constant_pool_count: one more than the highest index.
func (p *Pool) Len() int { return len(p.entries) }

// Entry returns the entry at index.
func (p *Pool) Entry(index uint16) (Entry, error) {
	if index == 0 {
		return nil, derrors.Errorf(derrors.MalformedPool, "index 0 is not addressable")
	}
	if int(index) >= len(p.entries) {
		return nil, derrors.Errorf(derrors.MalformedPool, "index %d out of range [1, %d)", index, len(p.entries))
	}
	e := p.entries[index]
	if e == nil {
		return nil, derrors.Errorf(derrors.MalformedPool, "index %d is the second slot of a wide entry", index)
	}
	return e, nil
}

// Get returns the entry at index as a T.
func Get[T Entry](p *Pool, index uint16) (T, error) {
	var zero T
	e, err := p.Entry(index)
	if err != nil {
		return zero, err
	}
	t, ok := e.(T)
	if !ok {
		return zero, derrors.Errorf(derrors.MalformedPool, "index %d is %s, want %T", index, e.Tag(), zero)
	}
	return t, nil
}

// Utf8At returns the text of the Utf8 entry at index.
func (p *Pool) Utf8At(index uint16) (string, error) {
	u, err := Get[*Utf8](p, index)
	if err != nil {
		return "", err
	}
	return u.Value, nil
}

// ClassNameAt returns the name of the Class entry at index.
func (p *Pool) ClassNameAt(index uint16) (string, error) {
	c, err := Get[*Class](p, index)
	if err != nil {
		return "", err
	}
	return c.Name.Value, nil
}

// All iterates over the addressable entries in index order.
func (p *Pool) All() iter.Seq2[uint16, Entry] {
	return func(yield func(uint16, Entry) bool) {
		for i, e := range p.entries {
			if e == nil {
				continue
			}
			if !yield(uint16(i), e) {
				return
			}
		}
	}
}

// Find returns the index of the entry structurally equal to e, inserting e
// (and everything it refers to) if the pool has none.
func (p *Pool) Find(e Entry) (_ uint16, err error) {
	defer derrors.Wrap(&err, "constant pool find %T", e)
	return p.findRef(e)
}

func (p *Pool) findRef(e Entry) (uint16, error) {
	if isNil(e) {
		return 0, derrors.Errorf(derrors.MalformedPool, "nil entry reference")
	}
	k, err := e.intern(p)
	if err != nil {
		return 0, err
	}
	if i, ok := p.lookup[k]; ok {
		return i, nil
	}
	if k.tag == TagUtf8 {
		// Text read from bytes that were not modified UTF-8 is found by
		// value too, so references to it keep the original bytes.
		raw := k
		raw.raw = true
		if i, ok := p.lookup[raw]; ok {
			return i, nil
		}
	}
	if k.tag == TagUtf8 && len(encodeModifiedUTF8(k.s)) > math.MaxUint16 {
		return 0, derrors.Errorf(derrors.TooManyEntries, "Utf8 constant of %d bytes", len(encodeModifiedUTF8(k.s)))
	}
	width := 1
	if k.tag.Wide() {
		width = 2
	}
	if len(p.entries)+width > maxCount {
		return 0, derrors.Errorf(derrors.TooManyEntries, "constant pool full at %d slots", len(p.entries))
	}
	i := uint16(len(p.entries))
	p.entries = append(p.entries, e)
	p.keys = append(p.keys, k)
	if width == 2 {
		p.entries = append(p.entries, nil)
		p.keys = append(p.keys, entryKey{})
	}
	p.lookup[k] = i
	return i, nil
}

func isNil(e Entry) bool {
	if e == nil {
		return true
	}
	v := reflect.ValueOf(e)
	return v.Kind() == reflect.Pointer && v.IsNil()
}

// Write emits constant_pool_count followed by every entry in index order.
func (p *Pool) Write(w io.Writer) error {
	bw := binio.NewWriter()
	p.Encode(bw)
	_, err := bw.WriteTo(w)
	return err
}

// Encode appends the pool to w.
func (p *Pool) Encode(w *binio.Writer) {
	w.U2(uint16(len(p.entries)))
	for i, e := range p.entries {
		if e == nil {
			continue
		}
		k := p.keys[i]
		w.U1(uint8(k.tag))
		switch k.tag {
		case TagUtf8:
			b := []byte(k.s)
			if !k.raw {
				b = encodeModifiedUTF8(k.s)
			}
			w.U2(uint16(len(b)))
			_, _ = w.Write(b)
		case TagInteger, TagFloat:
			w.U4(uint32(k.x))
		case TagLong, TagDouble:
			w.U8(k.x)
		case TagClass, TagString, TagMethodType, TagModule, TagPackage:
			w.U2(k.p1)
		case TagMethodHandle:
			w.U1(uint8(k.x))
			w.U2(k.p1)
		default:
			w.U2(k.p1)
			w.U2(k.p2)
		}
	}
}
