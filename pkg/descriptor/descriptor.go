// Package descriptor parses and prints field and method descriptors, the
// string grammar the class-file format uses for type signatures.
package descriptor

import (
	"strings"

	"github.com/daimatz/gojasm/pkg/derrors"
)

// Kind is the base type letter of a descriptor.
type Kind byte

const (
	Byte    Kind = 'B'
	Char    Kind = 'C'
	Double  Kind = 'D'
	Float   Kind = 'F'
	Int     Kind = 'I'
	Long    Kind = 'J'
	Short   Kind = 'S'
	Boolean Kind = 'Z'
	Object  Kind = 'L'
	Void    Kind = 'V'
)

// maxDims is the largest array rank the format allows.
const maxDims = 255

// Type is a parsed field descriptor. Dims is the array rank (0 for
// non-arrays); Class is the internal class name when Kind is Object.
type Type struct {
	Kind  Kind
	Dims  int
	Class string
}

// Method is a parsed method descriptor.
type Method struct {
	Params []Type
	Return Type
}

// ParseField parses a field descriptor such as "I" or "[Ljava/lang/String;".
func ParseField(s string) (Type, error) {
	t, n, err := parseType(s, 0)
	if err != nil {
		return Type{}, err
	}
	if n != len(s) {
		return Type{}, derrors.Errorf(derrors.MalformedDescriptor, "trailing data in %q", s)
	}
	if t.Kind == Void {
		return Type{}, derrors.Errorf(derrors.MalformedDescriptor, "void field type in %q", s)
	}
	return t, nil
}

// ParseMethod parses a method descriptor such as "(ILjava/lang/String;)V".
func ParseMethod(s string) (Method, error) {
	if !strings.HasPrefix(s, "(") {
		return Method{}, derrors.Errorf(derrors.MalformedDescriptor, "method descriptor %q does not start with '('", s)
	}
	var m Method
	i := 1
	for {
		if i >= len(s) {
			return Method{}, derrors.Errorf(derrors.MalformedDescriptor, "unterminated parameter list in %q", s)
		}
		if s[i] == ')' {
			i++
			break
		}
		t, n, err := parseType(s, i)
		if err != nil {
			return Method{}, err
		}
		if t.Kind == Void {
			return Method{}, derrors.Errorf(derrors.MalformedDescriptor, "void parameter in %q", s)
		}
		m.Params = append(m.Params, t)
		i = n
	}
	ret, n, err := parseType(s, i)
	if err != nil {
		return Method{}, err
	}
	if n != len(s) {
		return Method{}, derrors.Errorf(derrors.MalformedDescriptor, "trailing data in %q", s)
	}
	if ret.Kind == Void && ret.Dims > 0 {
		return Method{}, derrors.Errorf(derrors.MalformedDescriptor, "array of void in %q", s)
	}
	m.Return = ret
	return m, nil
}

// parseType parses one type starting at s[i] and returns it with the index
// just past it.
func parseType(s string, i int) (Type, int, error) {
	var t Type
	for i < len(s) && s[i] == '[' {
		t.Dims++
		i++
	}
	if t.Dims > maxDims {
		return Type{}, 0, derrors.Errorf(derrors.MalformedDescriptor, "array rank %d exceeds %d in %q", t.Dims, maxDims, s)
	}
	if i >= len(s) {
		return Type{}, 0, derrors.Errorf(derrors.MalformedDescriptor, "unexpected end of %q", s)
	}
	switch k := Kind(s[i]); k {
	case Byte, Char, Double, Float, Int, Long, Short, Boolean, Void:
		if k == Void && t.Dims > 0 {
			return Type{}, 0, derrors.Errorf(derrors.MalformedDescriptor, "array of void in %q", s)
		}
		t.Kind = k
		return t, i + 1, nil
	case Object:
		end := strings.IndexByte(s[i:], ';')
		if end <= 1 {
			return Type{}, 0, derrors.Errorf(derrors.MalformedDescriptor, "bad class type in %q", s)
		}
		t.Kind = Object
		t.Class = s[i+1 : i+end]
		return t, i + end + 1, nil
	default:
		return Type{}, 0, derrors.Errorf(derrors.MalformedDescriptor, "unknown type letter %q in %q", s[i], s)
	}
}

// String returns the descriptor form of t.
func (t Type) String() string {
	var b strings.Builder
	t.write(&b)
	return b.String()
}

func (t Type) write(b *strings.Builder) {
	for range t.Dims {
		b.WriteByte('[')
	}
	b.WriteByte(byte(t.Kind))
	if t.Kind == Object {
		b.WriteString(t.Class)
		b.WriteByte(';')
	}
}

// Slots reports how many local-variable or operand-stack slots a value of
// type t occupies.
func (t Type) Slots() int {
	switch {
	case t.Kind == Void && t.Dims == 0:
		return 0
	case t.Dims == 0 && (t.Kind == Long || t.Kind == Double):
		return 2
	default:
		return 1
	}
}

// String returns the descriptor form of m.
func (m Method) String() string {
	var b strings.Builder
	b.WriteByte('(')
	for _, p := range m.Params {
		p.write(&b)
	}
	b.WriteByte(')')
	m.Return.write(&b)
	return b.String()
}

// ArgSlots reports the number of slots the parameters occupy, not counting
// the receiver.
func (m Method) ArgSlots() int {
	n := 0
	for _, p := range m.Params {
		n += p.Slots()
	}
	return n
}
