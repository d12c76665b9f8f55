package classfile

import (
	"fmt"
	"io"

	"github.com/daimatz/gojasm/internal/binio"
	"github.com/daimatz/gojasm/pkg/constpool"
	"github.com/daimatz/gojasm/pkg/derrors"
)

// Marshal serializes c into class file bytes.
//
// Constants are interned into a copy of c.Pool, so indices held by raw
// attributes stay valid and c itself is not modified. A class without a
// pool, or WithFreshPool, gets a pool built in first-use order.
func Marshal(c *ClassNode, opts ...Option) (_ []byte, err error) {
	defer derrors.Wrap(&err, "classfile.Marshal(%q)", c.Name)
	o := newOptions(opts)

	pool := constpool.New()
	if c.Pool != nil && !o.freshPool {
		pool = c.Pool.Clone()
	}
	st := &WriterState{Pool: pool, Class: c, Logger: o.logger}

	// The body goes first: the pool is only complete once every member and
	// attribute has interned its constants.
	body := binio.NewWriter()
	if err := writeBody(body, st); err != nil {
		return nil, err
	}

	out := binio.NewWriter()
	out.U4(classMagic)
	out.U2(c.MinorVersion)
	out.U2(c.MajorVersion)
	pool.Encode(out)
	_, _ = out.Write(body.Bytes())

	o.logger.Debug().
		Str("class", c.Name).
		Int("pool", pool.Len()).
		Int("size", out.Len()).
		Msg("wrote class")
	return out.Bytes(), nil
}

// Write serializes c to w.
func Write(w io.Writer, c *ClassNode, opts ...Option) error {
	b, err := Marshal(c, opts...)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

func writeBody(bw *binio.Writer, st *WriterState) error {
	c := st.Class
	p := st.Pool

	if c.Name == "" {
		return derrors.Errorf(derrors.MalformedHeader, "class has no name")
	}
	this, err := p.Find(constpool.NewClass(c.Name))
	if err != nil {
		return fmt.Errorf("this_class: %w", err)
	}
	super, err := findOptionalClass(p, c.SuperName)
	if err != nil {
		return fmt.Errorf("super_class: %w", err)
	}
	bw.U2(uint16(c.Access))
	bw.U2(this)
	bw.U2(super)

	if err := writeCount(bw, len(c.Interfaces), "interfaces"); err != nil {
		return err
	}
	for _, name := range c.Interfaces {
		idx, err := p.Find(constpool.NewClass(name))
		if err != nil {
			return fmt.Errorf("interface %s: %w", name, err)
		}
		bw.U2(idx)
	}

	if err := writeCount(bw, len(c.Fields), "fields"); err != nil {
		return err
	}
	for _, f := range c.Fields {
		if err := writeMember(bw, st, ScopeField, f.Access, f.Name, f.Descriptor.String(), f.Attributes); err != nil {
			return fmt.Errorf("field %s: %w", f.Name, err)
		}
	}

	if err := writeCount(bw, len(c.Methods), "methods"); err != nil {
		return err
	}
	for _, m := range c.Methods {
		desc := m.Descriptor.String()
		if err := writeMember(bw, st, ScopeMethod, m.Access, m.Name, desc, m.Attributes); err != nil {
			return fmt.Errorf("method %s%s: %w", m.Name, desc, err)
		}
	}

	if err := writeAttributes(bw, st, ScopeClass, c.Attributes); err != nil {
		return fmt.Errorf("class attributes: %w", err)
	}
	return nil
}

func writeMember(bw *binio.Writer, st *WriterState, scope Scope, access AccessFlags, name, desc string, attrs []*AttributeNode) error {
	nameIdx, err := st.Pool.Find(constpool.NewUtf8(name))
	if err != nil {
		return err
	}
	descIdx, err := st.Pool.Find(constpool.NewUtf8(desc))
	if err != nil {
		return err
	}
	bw.U2(uint16(access))
	bw.U2(nameIdx)
	bw.U2(descIdx)
	return writeAttributes(bw, st, scope, attrs)
}
