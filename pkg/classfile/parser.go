// Package classfile reads and writes JVM class files.
//
// Parse turns a class file into a ClassNode whose attributes are dispatched
// through a registry keyed by attribute name and scope; attributes the
// registry does not know are kept as raw bytes. Marshal and Write turn a
// ClassNode back into bytes.
package classfile

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"

	"github.com/daimatz/gojasm/internal/binio"
	"github.com/daimatz/gojasm/pkg/constpool"
	"github.com/daimatz/gojasm/pkg/derrors"
	"github.com/daimatz/gojasm/pkg/descriptor"
)

const classMagic = 0xCAFEBABE

type options struct {
	logger    zerolog.Logger
	raw       bool
	freshPool bool
}

// Option configures Parse, Marshal and Write.
type Option func(*options)

// WithLogger sets the logger used for debug output. The default discards
// everything.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithRawAttributes makes Parse keep every attribute as raw bytes.
func WithRawAttributes() Option {
	return func(o *options) { o.raw = true }
}

// WithFreshPool makes Marshal and Write build the constant pool from
// scratch instead of extending the pool the class was read from. Raw
// attributes that hold pool indices are not rewritten, so this is only
// safe for classes without such attributes.
func WithFreshPool() Option {
	return func(o *options) { o.freshPool = true }
}

func newOptions(opts []Option) *options {
	o := &options{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// ParseFile opens and parses a .class file from the given path.
func ParseFile(path string, opts ...Option) (_ *ClassNode, err error) {
	defer derrors.Wrap(&err, "classfile.ParseFile(%q)", path)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseBytes(data, opts...)
}

// Parse reads a .class file from the given reader.
func Parse(r io.Reader, opts ...Option) (*ClassNode, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return ParseBytes(data, opts...)
}

// ParseBytes parses a class file held in memory.
func ParseBytes(data []byte, opts ...Option) (_ *ClassNode, err error) {
	o := newOptions(opts)
	defer func() {
		if errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, derrors.MalformedPool) {
			err = fmt.Errorf("%w: %w", derrors.MalformedHeader, err)
		}
	}()

	br := binio.NewBytesReader(data)
	c := &ClassNode{}

	magic, err := br.U4()
	if err != nil {
		return nil, fmt.Errorf("reading magic number: %w", err)
	}
	if magic != classMagic {
		return nil, derrors.Errorf(derrors.MalformedHeader, "invalid magic number: 0x%X (expected 0xCAFEBABE)", magic)
	}
	if c.MinorVersion, err = br.U2(); err != nil {
		return nil, fmt.Errorf("reading minor version: %w", err)
	}
	if c.MajorVersion, err = br.U2(); err != nil {
		return nil, fmt.Errorf("reading major version: %w", err)
	}

	if c.Pool, err = constpool.Read(br); err != nil {
		return nil, err
	}
	st := &ReaderState{Pool: c.Pool, Class: c, Logger: o.logger, raw: o.raw}

	access, err := br.U2()
	if err != nil {
		return nil, fmt.Errorf("reading access flags: %w", err)
	}
	c.Access = AccessFlags(access)
	thisClass, err := br.U2()
	if err != nil {
		return nil, fmt.Errorf("reading this_class: %w", err)
	}
	if c.Name, err = c.Pool.ClassNameAt(thisClass); err != nil {
		return nil, fmt.Errorf("resolving this_class: %w", err)
	}
	superClass, err := br.U2()
	if err != nil {
		return nil, fmt.Errorf("reading super_class: %w", err)
	}
	if c.SuperName, err = optionalClass(c.Pool, superClass); err != nil {
		return nil, fmt.Errorf("resolving super_class: %w", err)
	}

	interfacesCount, err := br.U2()
	if err != nil {
		return nil, fmt.Errorf("reading interfaces count: %w", err)
	}
	c.Interfaces = make([]string, interfacesCount)
	for i := range c.Interfaces {
		idx, err := br.U2()
		if err != nil {
			return nil, fmt.Errorf("reading interface %d: %w", i, err)
		}
		if c.Interfaces[i], err = c.Pool.ClassNameAt(idx); err != nil {
			return nil, fmt.Errorf("resolving interface %d: %w", i, err)
		}
	}

	if c.Fields, err = parseFields(br, st); err != nil {
		return nil, fmt.Errorf("parsing fields: %w", err)
	}
	if c.Methods, err = parseMethods(br, st); err != nil {
		return nil, fmt.Errorf("parsing methods: %w", err)
	}
	if c.Attributes, err = readAttributes(br, st, ScopeClass); err != nil {
		return nil, fmt.Errorf("parsing class attributes: %w", err)
	}
	if rem := br.Remaining(); rem != 0 {
		return nil, derrors.Errorf(derrors.MalformedHeader, "%d trailing bytes after the class attributes", rem)
	}

	o.logger.Debug().
		Str("class", c.Name).
		Int("pool", c.Pool.Len()).
		Int("fields", len(c.Fields)).
		Int("methods", len(c.Methods)).
		Msg("parsed class")
	return c, nil
}

// member is the part of field_info and method_info before the attributes.
type member struct {
	access     AccessFlags
	name, desc string
}

func readMember(br *binio.Reader, p *constpool.Pool) (member, error) {
	var m member
	var f [3]uint16 // access, name, descriptor
	for i := range f {
		v, err := br.U2()
		if err != nil {
			return m, err
		}
		f[i] = v
	}
	m.access = AccessFlags(f[0])
	var err error
	if m.name, err = p.Utf8At(f[1]); err != nil {
		return m, fmt.Errorf("resolving name: %w", err)
	}
	if m.desc, err = p.Utf8At(f[2]); err != nil {
		return m, fmt.Errorf("resolving descriptor: %w", err)
	}
	return m, nil
}

func parseFields(br *binio.Reader, st *ReaderState) ([]*FieldNode, error) {
	count, err := br.U2()
	if err != nil {
		return nil, fmt.Errorf("reading fields count: %w", err)
	}
	fields := make([]*FieldNode, count)
	for i := range fields {
		m, err := readMember(br, st.Pool)
		if err != nil {
			return nil, fmt.Errorf("field %d: %w", i, err)
		}
		desc, err := descriptor.ParseField(m.desc)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", m.name, err)
		}
		f := &FieldNode{Owner: st.Class, Access: m.access, Name: m.name, Descriptor: desc}
		if f.Attributes, err = readAttributes(br, st, ScopeField); err != nil {
			return nil, fmt.Errorf("field %s: %w", m.name, err)
		}
		fields[i] = f
	}
	return fields, nil
}

func parseMethods(br *binio.Reader, st *ReaderState) ([]*MethodNode, error) {
	count, err := br.U2()
	if err != nil {
		return nil, fmt.Errorf("reading methods count: %w", err)
	}
	methods := make([]*MethodNode, count)
	for i := range methods {
		m, err := readMember(br, st.Pool)
		if err != nil {
			return nil, fmt.Errorf("method %d: %w", i, err)
		}
		desc, err := descriptor.ParseMethod(m.desc)
		if err != nil {
			return nil, fmt.Errorf("method %s: %w", m.name, err)
		}
		mn := &MethodNode{Owner: st.Class, Access: m.access, Name: m.name, Descriptor: desc}
		if mn.Attributes, err = readAttributes(br, st, ScopeMethod); err != nil {
			return nil, fmt.Errorf("method %s%s: %w", m.name, m.desc, err)
		}
		methods[i] = mn
	}
	return methods, nil
}
