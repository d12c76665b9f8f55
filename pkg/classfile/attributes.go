package classfile

import (
	"math"

	"github.com/daimatz/gojasm/internal/binio"
	"github.com/daimatz/gojasm/pkg/constpool"
	"github.com/daimatz/gojasm/pkg/derrors"
)

// ConstantValueAttribute is the initial value of a static field.
type ConstantValueAttribute struct {
	Value constpool.Entry
}

func parseConstantValue(node *AttributeNode, r *ReaderState, _ Scope) (Attribute, error) {
	a := &ConstantValueAttribute{}
	err := decodePayload(node, func(br *binio.Reader) error {
		idx, err := br.U2()
		if err != nil {
			return err
		}
		if a.Value, err = r.Pool.Entry(idx); err != nil {
			return err
		}
		switch a.Value.(type) {
		case *constpool.Integer, *constpool.Float, *constpool.Long, *constpool.Double, *constpool.String:
			return nil
		}
		return derrors.Errorf(derrors.MalformedAttribute, "ConstantValue of %s entry", a.Value.Tag())
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (a *ConstantValueAttribute) Save(w *WriterState, _ Scope) ([]byte, error) {
	idx, err := w.Pool.Find(a.Value)
	if err != nil {
		return nil, err
	}
	return u2(idx), nil
}

// SyntheticAttribute marks a member that does not appear in source.
type SyntheticAttribute struct{}

func (*SyntheticAttribute) Save(*WriterState, Scope) ([]byte, error) { return nil, nil }

// DeprecatedAttribute marks a deprecated class or member.
type DeprecatedAttribute struct{}

func (*DeprecatedAttribute) Save(*WriterState, Scope) ([]byte, error) { return nil, nil }

func parseMarker(mk func() Attribute) AttributeFactoryFunc {
	return func(node *AttributeNode, _ *ReaderState, _ Scope) (Attribute, error) {
		if len(node.Data) != 0 {
			return nil, derrors.Errorf(derrors.MalformedAttribute, "%d bytes in a marker attribute", len(node.Data))
		}
		return mk(), nil
	}
}

// SignatureAttribute is the generic signature of a class, field or method.
type SignatureAttribute struct {
	Signature string
}

func parseSignature(node *AttributeNode, r *ReaderState, _ Scope) (Attribute, error) {
	s, err := parseUtf8Payload(node, r)
	if err != nil {
		return nil, err
	}
	return &SignatureAttribute{s}, nil
}

func (a *SignatureAttribute) Save(w *WriterState, _ Scope) ([]byte, error) {
	return saveUtf8Payload(w, a.Signature)
}

// SourceFileAttribute names the source file a class was compiled from.
type SourceFileAttribute struct {
	SourceFile string
}

func parseSourceFile(node *AttributeNode, r *ReaderState, _ Scope) (Attribute, error) {
	s, err := parseUtf8Payload(node, r)
	if err != nil {
		return nil, err
	}
	return &SourceFileAttribute{s}, nil
}

func (a *SourceFileAttribute) Save(w *WriterState, _ Scope) ([]byte, error) {
	return saveUtf8Payload(w, a.SourceFile)
}

func parseUtf8Payload(node *AttributeNode, r *ReaderState) (string, error) {
	var s string
	err := decodePayload(node, func(br *binio.Reader) error {
		idx, err := br.U2()
		if err != nil {
			return err
		}
		s, err = r.Pool.Utf8At(idx)
		return err
	})
	return s, err
}

func saveUtf8Payload(w *WriterState, s string) ([]byte, error) {
	idx, err := w.Pool.Find(constpool.NewUtf8(s))
	if err != nil {
		return nil, err
	}
	return u2(idx), nil
}

// SourceDebugExtensionAttribute holds tool-specific debugging text (for
// example an SMAP). The bytes are kept exactly as stored.
type SourceDebugExtensionAttribute struct {
	Debug []byte
}

func parseSourceDebugExtension(node *AttributeNode, _ *ReaderState, _ Scope) (Attribute, error) {
	return &SourceDebugExtensionAttribute{Debug: append([]byte(nil), node.Data...)}, nil
}

func (a *SourceDebugExtensionAttribute) Save(*WriterState, Scope) ([]byte, error) {
	return a.Debug, nil
}

// ExceptionsAttribute lists the checked exceptions a method declares.
type ExceptionsAttribute struct {
	Exceptions []string
}

func parseExceptions(node *AttributeNode, r *ReaderState, _ Scope) (Attribute, error) {
	a := &ExceptionsAttribute{}
	err := decodePayload(node, func(br *binio.Reader) error {
		n, err := br.U2()
		if err != nil {
			return err
		}
		a.Exceptions = make([]string, n)
		for i := range a.Exceptions {
			idx, err := br.U2()
			if err != nil {
				return err
			}
			if a.Exceptions[i], err = r.Pool.ClassNameAt(idx); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (a *ExceptionsAttribute) Save(w *WriterState, _ Scope) ([]byte, error) {
	bw := binio.NewWriter()
	if err := writeCount(bw, len(a.Exceptions), "exceptions"); err != nil {
		return nil, err
	}
	for _, name := range a.Exceptions {
		idx, err := w.Pool.Find(constpool.NewClass(name))
		if err != nil {
			return nil, err
		}
		bw.U2(idx)
	}
	return bw.Bytes(), nil
}

// InnerClass is one entry of an InnerClasses attribute. Outer and Name are
// "" for local and anonymous classes.
type InnerClass struct {
	Inner  string
	Outer  string
	Name   string
	Access AccessFlags
}

// InnerClassesAttribute records the nesting of classes.
type InnerClassesAttribute struct {
	Classes []InnerClass
}

func parseInnerClasses(node *AttributeNode, r *ReaderState, _ Scope) (Attribute, error) {
	a := &InnerClassesAttribute{}
	err := decodePayload(node, func(br *binio.Reader) error {
		n, err := br.U2()
		if err != nil {
			return err
		}
		a.Classes = make([]InnerClass, n)
		for i := range a.Classes {
			var idx [3]uint16
			for k := range idx {
				if idx[k], err = br.U2(); err != nil {
					return err
				}
			}
			flags, err := br.U2()
			if err != nil {
				return err
			}
			c := &a.Classes[i]
			c.Access = AccessFlags(flags)
			if c.Inner, err = r.Pool.ClassNameAt(idx[0]); err != nil {
				return err
			}
			if c.Outer, err = optionalClass(r.Pool, idx[1]); err != nil {
				return err
			}
			if c.Name, err = optionalUtf8(r.Pool, idx[2]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (a *InnerClassesAttribute) Save(w *WriterState, _ Scope) ([]byte, error) {
	bw := binio.NewWriter()
	if err := writeCount(bw, len(a.Classes), "inner classes"); err != nil {
		return nil, err
	}
	for _, c := range a.Classes {
		inner, err := w.Pool.Find(constpool.NewClass(c.Inner))
		if err != nil {
			return nil, err
		}
		outer, err := findOptionalClass(w.Pool, c.Outer)
		if err != nil {
			return nil, err
		}
		name, err := findOptionalUtf8(w.Pool, c.Name)
		if err != nil {
			return nil, err
		}
		bw.U2(inner)
		bw.U2(outer)
		bw.U2(name)
		bw.U2(uint16(c.Access))
	}
	return bw.Bytes(), nil
}

// EnclosingMethodAttribute names the method enclosing a local or anonymous
// class. Method and Descriptor are "" when the class is not enclosed by a
// method.
type EnclosingMethodAttribute struct {
	Class      string
	Method     string
	Descriptor string
}

func parseEnclosingMethod(node *AttributeNode, r *ReaderState, _ Scope) (Attribute, error) {
	a := &EnclosingMethodAttribute{}
	err := decodePayload(node, func(br *binio.Reader) error {
		classIdx, err := br.U2()
		if err != nil {
			return err
		}
		methodIdx, err := br.U2()
		if err != nil {
			return err
		}
		if a.Class, err = r.Pool.ClassNameAt(classIdx); err != nil {
			return err
		}
		if methodIdx == 0 {
			return nil
		}
		nat, err := constpool.Get[*constpool.NameAndType](r.Pool, methodIdx)
		if err != nil {
			return err
		}
		a.Method, a.Descriptor = nat.Name.Value, nat.Descriptor.Value
		return nil
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (a *EnclosingMethodAttribute) Save(w *WriterState, _ Scope) ([]byte, error) {
	class, err := w.Pool.Find(constpool.NewClass(a.Class))
	if err != nil {
		return nil, err
	}
	var method uint16
	if a.Method != "" {
		if method, err = w.Pool.Find(constpool.NewNameAndType(a.Method, a.Descriptor)); err != nil {
			return nil, err
		}
	}
	return append(u2(class), u2(method)...), nil
}

// MethodParameter is one entry of a MethodParameters attribute. Name is ""
// for a parameter without a recorded name.
type MethodParameter struct {
	Name   string
	Access AccessFlags
}

// MethodParametersAttribute records parameter names and modifiers.
type MethodParametersAttribute struct {
	Parameters []MethodParameter
}

func parseMethodParameters(node *AttributeNode, r *ReaderState, _ Scope) (Attribute, error) {
	a := &MethodParametersAttribute{}
	err := decodePayload(node, func(br *binio.Reader) error {
		n, err := br.U1()
		if err != nil {
			return err
		}
		a.Parameters = make([]MethodParameter, n)
		for i := range a.Parameters {
			idx, err := br.U2()
			if err != nil {
				return err
			}
			flags, err := br.U2()
			if err != nil {
				return err
			}
			if a.Parameters[i].Name, err = optionalUtf8(r.Pool, idx); err != nil {
				return err
			}
			a.Parameters[i].Access = AccessFlags(flags)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (a *MethodParametersAttribute) Save(w *WriterState, _ Scope) ([]byte, error) {
	if len(a.Parameters) > math.MaxUint8 {
		return nil, derrors.Errorf(derrors.TooManyEntries, "%d method parameters", len(a.Parameters))
	}
	bw := binio.NewWriter()
	bw.U1(uint8(len(a.Parameters)))
	for _, p := range a.Parameters {
		idx, err := findOptionalUtf8(w.Pool, p.Name)
		if err != nil {
			return nil, err
		}
		bw.U2(idx)
		bw.U2(uint16(p.Access))
	}
	return bw.Bytes(), nil
}

// BootstrapMethod is one entry of the BootstrapMethods attribute.
type BootstrapMethod struct {
	Handle    *constpool.MethodHandle
	Arguments []constpool.Entry
}

// BootstrapMethodsAttribute holds the bootstrap methods referenced by
// invokedynamic instructions and dynamic constants.
type BootstrapMethodsAttribute struct {
	Methods []BootstrapMethod
}

func parseBootstrapMethods(node *AttributeNode, r *ReaderState, _ Scope) (Attribute, error) {
	a := &BootstrapMethodsAttribute{}
	err := decodePayload(node, func(br *binio.Reader) error {
		n, err := br.U2()
		if err != nil {
			return err
		}
		a.Methods = make([]BootstrapMethod, n)
		for i := range a.Methods {
			ref, err := br.U2()
			if err != nil {
				return err
			}
			m := &a.Methods[i]
			if m.Handle, err = constpool.Get[*constpool.MethodHandle](r.Pool, ref); err != nil {
				return err
			}
			nargs, err := br.U2()
			if err != nil {
				return err
			}
			m.Arguments = make([]constpool.Entry, nargs)
			for j := range m.Arguments {
				idx, err := br.U2()
				if err != nil {
					return err
				}
				e, err := r.Pool.Entry(idx)
				if err != nil {
					return err
				}
				if !constpool.Loadable(e) {
					return derrors.Errorf(derrors.MalformedAttribute, "bootstrap argument of %s entry %d", e.Tag(), idx)
				}
				m.Arguments[j] = e
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (a *BootstrapMethodsAttribute) Save(w *WriterState, _ Scope) ([]byte, error) {
	bw := binio.NewWriter()
	if err := writeCount(bw, len(a.Methods), "bootstrap methods"); err != nil {
		return nil, err
	}
	for _, m := range a.Methods {
		ref, err := w.Pool.Find(m.Handle)
		if err != nil {
			return nil, err
		}
		bw.U2(ref)
		if err := writeCount(bw, len(m.Arguments), "bootstrap arguments"); err != nil {
			return nil, err
		}
		for _, arg := range m.Arguments {
			idx, err := w.Pool.Find(arg)
			if err != nil {
				return nil, err
			}
			bw.U2(idx)
		}
	}
	return bw.Bytes(), nil
}

func u2(v uint16) []byte {
	return []byte{byte(v >> 8), byte(v)}
}
