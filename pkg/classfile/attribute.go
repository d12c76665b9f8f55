package classfile

import (
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/rs/zerolog"

	"github.com/daimatz/gojasm/internal/binio"
	"github.com/daimatz/gojasm/pkg/bytecode"
	"github.com/daimatz/gojasm/pkg/constpool"
	"github.com/daimatz/gojasm/pkg/derrors"
)

// Scope is the structure an attribute is attached to. The same attribute
// name may be understood in one scope and opaque in another.
type Scope uint8

const (
	ScopeClass Scope = iota
	ScopeField
	ScopeMethod
	ScopeCode
)

func (s Scope) String() string {
	switch s {
	case ScopeClass:
		return "class"
	case ScopeField:
		return "field"
	case ScopeMethod:
		return "method"
	case ScopeCode:
		return "code"
	}
	return fmt.Sprintf("Scope(%d)", uint8(s))
}

// Attribute names
const (
	AttrCode                                 = "Code"
	AttrConstantValue                        = "ConstantValue"
	AttrSynthetic                            = "Synthetic"
	AttrDeprecated                           = "Deprecated"
	AttrSignature                            = "Signature"
	AttrSourceFile                           = "SourceFile"
	AttrSourceDebugExtension                 = "SourceDebugExtension"
	AttrLineNumberTable                      = "LineNumberTable"
	AttrLocalVariableTable                   = "LocalVariableTable"
	AttrLocalVariableTypeTable               = "LocalVariableTypeTable"
	AttrExceptions                           = "Exceptions"
	AttrInnerClasses                         = "InnerClasses"
	AttrEnclosingMethod                      = "EnclosingMethod"
	AttrMethodParameters                     = "MethodParameters"
	AttrBootstrapMethods                     = "BootstrapMethods"
	AttrRuntimeVisibleAnnotations            = "RuntimeVisibleAnnotations"
	AttrRuntimeInvisibleAnnotations          = "RuntimeInvisibleAnnotations"
	AttrRuntimeVisibleParameterAnnotations   = "RuntimeVisibleParameterAnnotations"
	AttrRuntimeInvisibleParameterAnnotations = "RuntimeInvisibleParameterAnnotations"
	AttrRuntimeVisibleTypeAnnotations        = "RuntimeVisibleTypeAnnotations"
	AttrRuntimeInvisibleTypeAnnotations      = "RuntimeInvisibleTypeAnnotations"
	AttrAnnotationDefault                    = "AnnotationDefault"
	AttrStackMapTable                        = "StackMapTable"
)

// Attribute is the typed form of an attribute payload.
type Attribute interface {
	// Save serializes the attribute payload, interning constants in the
	// writer's pool. It does not include the name index or length.
	Save(w *WriterState, scope Scope) ([]byte, error)
}

// AttributeFactory builds the typed form of a raw attribute.
type AttributeFactory interface {
	Parse(node *AttributeNode, r *ReaderState, scope Scope) (Attribute, error)
}

// AttributeFactoryFunc adapts a function to AttributeFactory.
type AttributeFactoryFunc func(node *AttributeNode, r *ReaderState, scope Scope) (Attribute, error)

func (f AttributeFactoryFunc) Parse(node *AttributeNode, r *ReaderState, scope Scope) (Attribute, error) {
	return f(node, r, scope)
}

type attributeKey struct {
	name  string
	scope Scope
}

// registry is filled once by init and only read afterwards.
var registry = map[attributeKey]AttributeFactory{}

func register(name string, f AttributeFactoryFunc, scopes ...Scope) {
	for _, s := range scopes {
		registry[attributeKey{name, s}] = f
	}
}

func init() {
	register(AttrCode, parseCode, ScopeMethod)
	register(AttrConstantValue, parseConstantValue, ScopeField)
	register(AttrSynthetic, parseMarker(func() Attribute { return &SyntheticAttribute{} }), ScopeClass, ScopeField, ScopeMethod)
	register(AttrDeprecated, parseMarker(func() Attribute { return &DeprecatedAttribute{} }), ScopeClass, ScopeField, ScopeMethod)
	register(AttrSignature, parseSignature, ScopeClass, ScopeField, ScopeMethod)
	register(AttrSourceFile, parseSourceFile, ScopeClass)
	register(AttrSourceDebugExtension, parseSourceDebugExtension, ScopeClass)
	register(AttrLineNumberTable, parseLineNumberTable, ScopeCode)
	register(AttrLocalVariableTable, parseLocalVariables(false), ScopeCode)
	register(AttrLocalVariableTypeTable, parseLocalVariables(true), ScopeCode)
	register(AttrExceptions, parseExceptions, ScopeMethod)
	register(AttrInnerClasses, parseInnerClasses, ScopeClass)
	register(AttrEnclosingMethod, parseEnclosingMethod, ScopeClass)
	register(AttrMethodParameters, parseMethodParameters, ScopeMethod)
	register(AttrBootstrapMethods, parseBootstrapMethods, ScopeClass)
	register(AttrRuntimeVisibleAnnotations, parseAnnotations, ScopeClass, ScopeField, ScopeMethod)
	register(AttrRuntimeInvisibleAnnotations, parseAnnotations, ScopeClass, ScopeField, ScopeMethod)
	register(AttrRuntimeVisibleParameterAnnotations, parseParameterAnnotations, ScopeMethod)
	register(AttrRuntimeInvisibleParameterAnnotations, parseParameterAnnotations, ScopeMethod)
	register(AttrRuntimeVisibleTypeAnnotations, parseTypeAnnotations, ScopeClass, ScopeField, ScopeMethod, ScopeCode)
	register(AttrRuntimeInvisibleTypeAnnotations, parseTypeAnnotations, ScopeClass, ScopeField, ScopeMethod, ScopeCode)
	register(AttrAnnotationDefault, parseAnnotationDefault, ScopeMethod)
}

// LookupAttribute returns the factory registered for name in scope.
func LookupAttribute(name string, scope Scope) (AttributeFactory, bool) {
	f, ok := registry[attributeKey{name, scope}]
	return f, ok
}

// AttributeNode is a named attribute. Data is the payload as read; Parsed
// is its typed form when the registry knows the attribute. When Parsed is
// set it is re-saved on write and Data is ignored.
type AttributeNode struct {
	Name   string
	Data   []byte
	Parsed Attribute
}

// NewAttribute returns a node that will be written from a.
func NewAttribute(name string, a Attribute) *AttributeNode {
	return &AttributeNode{Name: name, Parsed: a}
}

// Parse fills in n.Parsed if a factory is registered for n.Name in scope.
// Unknown attributes are kept raw.
func (n *AttributeNode) Parse(scope Scope, r *ReaderState) error {
	f, ok := LookupAttribute(n.Name, scope)
	if !ok {
		r.Logger.Debug().Str("attribute", n.Name).Stringer("scope", scope).Int("length", len(n.Data)).Msg("keeping raw attribute")
		return nil
	}
	a, err := f.Parse(n, r, scope)
	if err != nil {
		return fmt.Errorf("%s attribute: %w", n.Name, err)
	}
	n.Parsed = a
	return nil
}

// Payload returns the bytes that will be written for n.
func (n *AttributeNode) Payload(w *WriterState, scope Scope) ([]byte, error) {
	if n.Parsed == nil {
		return n.Data, nil
	}
	b, err := n.Parsed.Save(w, scope)
	if err != nil {
		return nil, fmt.Errorf("%s attribute: %w", n.Name, err)
	}
	return b, nil
}

// ReaderState is the context available to attribute factories.
type ReaderState struct {
	Pool  *constpool.Pool
	Class *ClassNode
	// Labels is set while the attributes nested in a Code attribute are
	// parsed; offsets must be turned into Labels through it.
	Labels *bytecode.Decoder
	Logger zerolog.Logger

	raw bool
}

// WriterState is the context available to Attribute.Save.
type WriterState struct {
	Pool  *constpool.Pool
	Class *ClassNode
	// Offsets is set while the attributes nested in a Code attribute are
	// saved; Labels must be turned into offsets through it.
	Offsets *bytecode.Encoder
	Logger  zerolog.Logger
}

func readAttributes(br *binio.Reader, st *ReaderState, scope Scope) ([]*AttributeNode, error) {
	count, err := br.U2()
	if err != nil {
		return nil, fmt.Errorf("reading attributes count: %w", err)
	}
	attrs := make([]*AttributeNode, count)
	for i := range attrs {
		nameIndex, err := br.U2()
		if err != nil {
			return nil, fmt.Errorf("reading attribute %d name index: %w", i, err)
		}
		name, err := st.Pool.Utf8At(nameIndex)
		if err != nil {
			return nil, fmt.Errorf("resolving attribute %d name: %w", i, err)
		}
		length, err := br.U4()
		if err != nil {
			return nil, fmt.Errorf("reading attribute %s length: %w", name, err)
		}
		data, err := br.Bytes(int(length))
		if err != nil {
			return nil, fmt.Errorf("reading attribute %s data: %w", name, err)
		}
		a := &AttributeNode{Name: name, Data: data}
		if !st.raw {
			if err := a.Parse(scope, st); err != nil {
				return nil, err
			}
		}
		attrs[i] = a
	}
	return attrs, nil
}

func writeAttributes(bw *binio.Writer, st *WriterState, scope Scope, attrs []*AttributeNode) error {
	if err := writeCount(bw, len(attrs), "attributes"); err != nil {
		return err
	}
	for _, a := range attrs {
		nameIndex, err := st.Pool.Find(constpool.NewUtf8(a.Name))
		if err != nil {
			return err
		}
		payload, err := a.Payload(st, scope)
		if err != nil {
			return err
		}
		if int64(len(payload)) > math.MaxUint32 {
			return derrors.Errorf(derrors.AttributeTooLarge, "%s attribute of %d bytes", a.Name, len(payload))
		}
		bw.U2(nameIndex)
		bw.U4(uint32(len(payload)))
		_, _ = bw.Write(payload)
	}
	return nil
}

func writeCount(bw *binio.Writer, n int, what string) error {
	if n > math.MaxUint16 {
		return derrors.Errorf(derrors.TooManyEntries, "%d %s", n, what)
	}
	bw.U2(uint16(n))
	return nil
}

// decodePayload runs fn over the payload of n and checks that every byte
// was consumed.
func decodePayload(n *AttributeNode, fn func(br *binio.Reader) error) error {
	br := binio.NewBytesReader(n.Data)
	if err := fn(br); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return derrors.Errorf(derrors.MalformedAttribute, "truncated after %d of %d bytes", br.Offset(), len(n.Data))
		}
		return err
	}
	if rem := br.Remaining(); rem != 0 {
		return derrors.Errorf(derrors.MalformedAttribute, "%d trailing bytes", rem)
	}
	return nil
}

// optionalClass resolves a class index that may be 0.
func optionalClass(p *constpool.Pool, index uint16) (string, error) {
	if index == 0 {
		return "", nil
	}
	return p.ClassNameAt(index)
}

func optionalUtf8(p *constpool.Pool, index uint16) (string, error) {
	if index == 0 {
		return "", nil
	}
	return p.Utf8At(index)
}

func findOptionalClass(p *constpool.Pool, name string) (uint16, error) {
	if name == "" {
		return 0, nil
	}
	return p.Find(constpool.NewClass(name))
}

func findOptionalUtf8(p *constpool.Pool, s string) (uint16, error) {
	if s == "" {
		return 0, nil
	}
	return p.Find(constpool.NewUtf8(s))
}
