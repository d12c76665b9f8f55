package classfile

import (
	"math"

	"github.com/daimatz/gojasm/internal/binio"
	"github.com/daimatz/gojasm/pkg/bytecode"
	"github.com/daimatz/gojasm/pkg/constpool"
	"github.com/daimatz/gojasm/pkg/derrors"
)

// Annotation is a single annotation: its type descriptor and the
// element/value pairs that were given explicitly.
type Annotation struct {
	Type     string
	Elements []AnnotationElement
}

// AnnotationElement is one name = value pair of an annotation.
type AnnotationElement struct {
	Name  string
	Value ElementValue
}

// ElementValue is the value of an annotation element. Tag selects which of
// the other fields is meaningful:
//
//	B C D F I J S Z s  Const
//	e                  EnumType, EnumName
//	c                  Class (a return descriptor)
//	@                  Annotation
//	[                  Values
type ElementValue struct {
	Tag        byte
	Const      constpool.Entry
	EnumType   string
	EnumName   string
	Class      string
	Annotation *Annotation
	Values     []ElementValue
}

// AnnotationsAttribute is RuntimeVisibleAnnotations or
// RuntimeInvisibleAnnotations; the attribute name tells them apart.
type AnnotationsAttribute struct {
	Annotations []Annotation
}

// ParameterAnnotationsAttribute is RuntimeVisibleParameterAnnotations or
// RuntimeInvisibleParameterAnnotations. Parameters[i] annotates the i-th
// formal parameter.
type ParameterAnnotationsAttribute struct {
	Parameters [][]Annotation
}

// AnnotationDefaultAttribute is the default value of an annotation
// interface element.
type AnnotationDefaultAttribute struct {
	Value ElementValue
}

// TypeAnnotation is an annotation on a use of a type. TargetType selects
// which fields of Target are meaningful:
//
//	0x00 0x01            Index (type parameter)
//	0x10                 Index (supertype, 65535 for the superclass)
//	0x11 0x12            Index (type parameter), Bound
//	0x13 0x14 0x15       none
//	0x16                 Index (formal parameter)
//	0x17                 Index (throws clause)
//	0x40 0x41            Locals
//	0x42                 Index (exception table entry)
//	0x43 .. 0x46         Offset
//	0x47 .. 0x4B         Offset, Index (type argument)
//
// Targets from 0x40 up only occur inside a Code attribute.
type TypeAnnotation struct {
	TargetType uint8
	Target     TypeTarget
	Path       []TypePathEntry
	Annotation Annotation
}

// TypeTarget locates the annotated type within its declaration or code.
type TypeTarget struct {
	Index  uint16
	Bound  uint8
	Offset *bytecode.Label
	Locals []LocalVarTarget
}

// LocalVarTarget is a live range [Start, End) of the local in slot Index.
type LocalVarTarget struct {
	Start *bytecode.Label
	End   *bytecode.Label
	Index uint16
}

// TypePathEntry is one step into a nested, array or parameterized type.
type TypePathEntry struct {
	Kind     uint8
	Argument uint8
}

// TypeAnnotationsAttribute is RuntimeVisibleTypeAnnotations or
// RuntimeInvisibleTypeAnnotations.
type TypeAnnotationsAttribute struct {
	Annotations []TypeAnnotation
}

// maxElementDepth bounds the nesting of element values read from disk.
const maxElementDepth = 256

func parseAnnotations(node *AttributeNode, r *ReaderState, _ Scope) (Attribute, error) {
	a := &AnnotationsAttribute{}
	err := decodePayload(node, func(br *binio.Reader) error {
		var err error
		a.Annotations, err = readAnnotations(br, r.Pool)
		return err
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (a *AnnotationsAttribute) Save(w *WriterState, _ Scope) ([]byte, error) {
	bw := binio.NewWriter()
	if err := writeAnnotations(bw, w.Pool, a.Annotations); err != nil {
		return nil, err
	}
	return bw.Bytes(), nil
}

func parseTypeAnnotations(node *AttributeNode, r *ReaderState, _ Scope) (Attribute, error) {
	a := &TypeAnnotationsAttribute{}
	err := decodePayload(node, func(br *binio.Reader) error {
		n, err := br.U2()
		if err != nil {
			return err
		}
		a.Annotations = make([]TypeAnnotation, n)
		for i := range a.Annotations {
			if err := readTypeAnnotation(br, r, &a.Annotations[i]); err != nil {
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

func readTypeAnnotation(br *binio.Reader, r *ReaderState, ta *TypeAnnotation) error {
	var err error
	if ta.TargetType, err = br.U1(); err != nil {
		return err
	}
	t := &ta.Target
	switch tt := ta.TargetType; {
	case tt == 0x00 || tt == 0x01 || tt == 0x16:
		var v uint8
		v, err = br.U1()
		t.Index = uint16(v)
	case tt == 0x10 || tt == 0x17 || tt == 0x42:
		t.Index, err = br.U2()
	case tt == 0x11 || tt == 0x12:
		var v uint8
		if v, err = br.U1(); err == nil {
			t.Index = uint16(v)
			t.Bound, err = br.U1()
		}
	case tt >= 0x13 && tt <= 0x15:
	case tt == 0x40 || tt == 0x41:
		if r.Labels == nil {
			return derrors.Errorf(derrors.MalformedAttribute, "local variable target 0x%02X outside a Code attribute", tt)
		}
		t.Locals, err = readLocalVarTargets(br, r.Labels)
	case tt >= 0x43 && tt <= 0x4B:
		if r.Labels == nil {
			return derrors.Errorf(derrors.MalformedAttribute, "offset target 0x%02X outside a Code attribute", tt)
		}
		var off uint16
		if off, err = br.U2(); err != nil {
			return err
		}
		if t.Offset, err = r.Labels.LabelAt(int(off)); err != nil {
			return err
		}
		if tt >= 0x47 {
			var v uint8
			v, err = br.U1()
			t.Index = uint16(v)
		}
	default:
		return derrors.Errorf(derrors.MalformedAttribute, "unknown type annotation target 0x%02X", tt)
	}
	if err != nil {
		return err
	}

	n, err := br.U1()
	if err != nil {
		return err
	}
	if n > 0 {
		ta.Path = make([]TypePathEntry, n)
	}
	for i := range ta.Path {
		if ta.Path[i].Kind, err = br.U1(); err != nil {
			return err
		}
		if ta.Path[i].Argument, err = br.U1(); err != nil {
			return err
		}
	}
	return readAnnotation(br, r.Pool, &ta.Annotation, 0)
}

func readLocalVarTargets(br *binio.Reader, dec *bytecode.Decoder) ([]LocalVarTarget, error) {
	n, err := br.U2()
	if err != nil {
		return nil, err
	}
	locals := make([]LocalVarTarget, n)
	for i := range locals {
		var f [3]uint16 // start_pc, length, index
		for k := range f {
			if f[k], err = br.U2(); err != nil {
				return nil, err
			}
		}
		l := &locals[i]
		l.Index = f[2]
		if l.Start, err = dec.LabelAt(int(f[0])); err != nil {
			return nil, err
		}
		if l.End, err = dec.LabelAt(int(f[0]) + int(f[1])); err != nil {
			return nil, err
		}
	}
	return locals, nil
}

func (a *TypeAnnotationsAttribute) Save(w *WriterState, _ Scope) ([]byte, error) {
	bw := binio.NewWriter()
	if err := writeCount(bw, len(a.Annotations), "type annotations"); err != nil {
		return nil, err
	}
	for _, ta := range a.Annotations {
		if err := writeTypeAnnotation(bw, w, ta); err != nil {
			return nil, err
		}
	}
	return bw.Bytes(), nil
}

func writeTypeAnnotation(bw *binio.Writer, w *WriterState, ta TypeAnnotation) error {
	t := ta.Target
	bw.U1(ta.TargetType)
	switch tt := ta.TargetType; {
	case tt == 0x00 || tt == 0x01 || tt == 0x16:
		if t.Index > math.MaxUint8 {
			return derrors.Errorf(derrors.MalformedAttribute, "type annotation index %d does not fit a byte", t.Index)
		}
		bw.U1(uint8(t.Index))
	case tt == 0x10 || tt == 0x17 || tt == 0x42:
		bw.U2(t.Index)
	case tt == 0x11 || tt == 0x12:
		if t.Index > math.MaxUint8 {
			return derrors.Errorf(derrors.MalformedAttribute, "type parameter index %d does not fit a byte", t.Index)
		}
		bw.U1(uint8(t.Index))
		bw.U1(t.Bound)
	case tt >= 0x13 && tt <= 0x15:
	case tt == 0x40 || tt == 0x41:
		if w.Offsets == nil {
			return derrors.Errorf(derrors.MalformedAttribute, "local variable target 0x%02X outside a Code attribute", tt)
		}
		if err := writeLocalVarTargets(bw, w.Offsets, t.Locals); err != nil {
			return err
		}
	case tt >= 0x43 && tt <= 0x4B:
		if w.Offsets == nil {
			return derrors.Errorf(derrors.MalformedAttribute, "offset target 0x%02X outside a Code attribute", tt)
		}
		off, err := w.Offsets.Offset(t.Offset)
		if err != nil {
			return err
		}
		bw.U2(uint16(off))
		if tt >= 0x47 {
			if t.Index > math.MaxUint8 {
				return derrors.Errorf(derrors.MalformedAttribute, "type argument index %d does not fit a byte", t.Index)
			}
			bw.U1(uint8(t.Index))
		}
	default:
		return derrors.Errorf(derrors.MalformedAttribute, "unknown type annotation target 0x%02X", tt)
	}

	if len(ta.Path) > math.MaxUint8 {
		return derrors.Errorf(derrors.TooManyEntries, "%d type path entries", len(ta.Path))
	}
	bw.U1(uint8(len(ta.Path)))
	for _, pe := range ta.Path {
		bw.U1(pe.Kind)
		bw.U1(pe.Argument)
	}
	return writeAnnotation(bw, w.Pool, ta.Annotation)
}

func writeLocalVarTargets(bw *binio.Writer, enc *bytecode.Encoder, locals []LocalVarTarget) error {
	if err := writeCount(bw, len(locals), "local variable targets"); err != nil {
		return err
	}
	for _, l := range locals {
		start, err := enc.Offset(l.Start)
		if err != nil {
			return err
		}
		end, err := enc.Offset(l.End)
		if err != nil {
			return err
		}
		if end < start || end-start > math.MaxUint16 {
			return derrors.Errorf(derrors.MisalignedLabel, "local %d ends at %d before it starts at %d", l.Index, end, start)
		}
		bw.U2(uint16(start))
		bw.U2(uint16(end - start))
		bw.U2(l.Index)
	}
	return nil
}

func parseParameterAnnotations(node *AttributeNode, r *ReaderState, _ Scope) (Attribute, error) {
	a := &ParameterAnnotationsAttribute{}
	err := decodePayload(node, func(br *binio.Reader) error {
		n, err := br.U1()
		if err != nil {
			return err
		}
		a.Parameters = make([][]Annotation, n)
		for i := range a.Parameters {
			if a.Parameters[i], err = readAnnotations(br, r.Pool); err != nil {
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

func (a *ParameterAnnotationsAttribute) Save(w *WriterState, _ Scope) ([]byte, error) {
	if len(a.Parameters) > math.MaxUint8 {
		return nil, derrors.Errorf(derrors.TooManyEntries, "%d annotated parameters", len(a.Parameters))
	}
	bw := binio.NewWriter()
	bw.U1(uint8(len(a.Parameters)))
	for _, anns := range a.Parameters {
		if err := writeAnnotations(bw, w.Pool, anns); err != nil {
			return nil, err
		}
	}
	return bw.Bytes(), nil
}

func parseAnnotationDefault(node *AttributeNode, r *ReaderState, _ Scope) (Attribute, error) {
	a := &AnnotationDefaultAttribute{}
	err := decodePayload(node, func(br *binio.Reader) error {
		var err error
		a.Value, err = readElementValue(br, r.Pool, 0)
		return err
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (a *AnnotationDefaultAttribute) Save(w *WriterState, _ Scope) ([]byte, error) {
	bw := binio.NewWriter()
	if err := writeElementValue(bw, w.Pool, a.Value); err != nil {
		return nil, err
	}
	return bw.Bytes(), nil
}

func readAnnotations(br *binio.Reader, p *constpool.Pool) ([]Annotation, error) {
	n, err := br.U2()
	if err != nil {
		return nil, err
	}
	anns := make([]Annotation, n)
	for i := range anns {
		if err := readAnnotation(br, p, &anns[i], 0); err != nil {
			return nil, err
		}
	}
	return anns, nil
}

func readAnnotation(br *binio.Reader, p *constpool.Pool, a *Annotation, depth int) error {
	typeIdx, err := br.U2()
	if err != nil {
		return err
	}
	if a.Type, err = p.Utf8At(typeIdx); err != nil {
		return err
	}
	n, err := br.U2()
	if err != nil {
		return err
	}
	a.Elements = make([]AnnotationElement, n)
	for i := range a.Elements {
		nameIdx, err := br.U2()
		if err != nil {
			return err
		}
		if a.Elements[i].Name, err = p.Utf8At(nameIdx); err != nil {
			return err
		}
		if a.Elements[i].Value, err = readElementValue(br, p, depth+1); err != nil {
			return err
		}
	}
	return nil
}

func readElementValue(br *binio.Reader, p *constpool.Pool, depth int) (ElementValue, error) {
	var v ElementValue
	if depth > maxElementDepth {
		return v, derrors.Errorf(derrors.MalformedAttribute, "element values nested deeper than %d", maxElementDepth)
	}
	tag, err := br.U1()
	if err != nil {
		return v, err
	}
	v.Tag = tag
	switch tag {
	case 'B', 'C', 'I', 'S', 'Z', 'D', 'F', 'J', 's':
		idx, err := br.U2()
		if err != nil {
			return v, err
		}
		if v.Const, err = p.Entry(idx); err != nil {
			return v, err
		}
		if !constMatchesTag(tag, v.Const) {
			return v, derrors.Errorf(derrors.MalformedAttribute, "element value %q of %s entry", tag, v.Const.Tag())
		}
	case 'e':
		typeIdx, err := br.U2()
		if err != nil {
			return v, err
		}
		nameIdx, err := br.U2()
		if err != nil {
			return v, err
		}
		if v.EnumType, err = p.Utf8At(typeIdx); err != nil {
			return v, err
		}
		if v.EnumName, err = p.Utf8At(nameIdx); err != nil {
			return v, err
		}
	case 'c':
		idx, err := br.U2()
		if err != nil {
			return v, err
		}
		if v.Class, err = p.Utf8At(idx); err != nil {
			return v, err
		}
	case '@':
		v.Annotation = &Annotation{}
		if err := readAnnotation(br, p, v.Annotation, depth+1); err != nil {
			return v, err
		}
	case '[':
		n, err := br.U2()
		if err != nil {
			return v, err
		}
		v.Values = make([]ElementValue, n)
		for i := range v.Values {
			if v.Values[i], err = readElementValue(br, p, depth+1); err != nil {
				return v, err
			}
		}
	default:
		return v, derrors.Errorf(derrors.MalformedAttribute, "unknown element value tag %q", tag)
	}
	return v, nil
}

func constMatchesTag(tag byte, e constpool.Entry) bool {
	switch e.(type) {
	case *constpool.Integer:
		return tag == 'B' || tag == 'C' || tag == 'I' || tag == 'S' || tag == 'Z'
	case *constpool.Double:
		return tag == 'D'
	case *constpool.Float:
		return tag == 'F'
	case *constpool.Long:
		return tag == 'J'
	case *constpool.Utf8:
		return tag == 's'
	}
	return false
}

func writeAnnotations(bw *binio.Writer, p *constpool.Pool, anns []Annotation) error {
	if err := writeCount(bw, len(anns), "annotations"); err != nil {
		return err
	}
	for _, a := range anns {
		if err := writeAnnotation(bw, p, a); err != nil {
			return err
		}
	}
	return nil
}

func writeAnnotation(bw *binio.Writer, p *constpool.Pool, a Annotation) error {
	typeIdx, err := p.Find(constpool.NewUtf8(a.Type))
	if err != nil {
		return err
	}
	bw.U2(typeIdx)
	if err := writeCount(bw, len(a.Elements), "annotation elements"); err != nil {
		return err
	}
	for _, el := range a.Elements {
		nameIdx, err := p.Find(constpool.NewUtf8(el.Name))
		if err != nil {
			return err
		}
		bw.U2(nameIdx)
		if err := writeElementValue(bw, p, el.Value); err != nil {
			return err
		}
	}
	return nil
}

func writeElementValue(bw *binio.Writer, p *constpool.Pool, v ElementValue) error {
	bw.U1(v.Tag)
	switch v.Tag {
	case 'B', 'C', 'I', 'S', 'Z', 'D', 'F', 'J', 's':
		if v.Const == nil || !constMatchesTag(v.Tag, v.Const) {
			return derrors.Errorf(derrors.MalformedAttribute, "element value %q with constant %T", v.Tag, v.Const)
		}
		idx, err := p.Find(v.Const)
		if err != nil {
			return err
		}
		bw.U2(idx)
	case 'e':
		typeIdx, err := p.Find(constpool.NewUtf8(v.EnumType))
		if err != nil {
			return err
		}
		nameIdx, err := p.Find(constpool.NewUtf8(v.EnumName))
		if err != nil {
			return err
		}
		bw.U2(typeIdx)
		bw.U2(nameIdx)
	case 'c':
		idx, err := p.Find(constpool.NewUtf8(v.Class))
		if err != nil {
			return err
		}
		bw.U2(idx)
	case '@':
		if v.Annotation == nil {
			return derrors.Errorf(derrors.MalformedAttribute, "nested annotation element without an annotation")
		}
		return writeAnnotation(bw, p, *v.Annotation)
	case '[':
		if err := writeCount(bw, len(v.Values), "array element values"); err != nil {
			return err
		}
		for _, e := range v.Values {
			if err := writeElementValue(bw, p, e); err != nil {
				return err
			}
		}
	default:
		return derrors.Errorf(derrors.MalformedAttribute, "unknown element value tag %q", v.Tag)
	}
	return nil
}
