package constpool

import (
	"fmt"
	"math"

	"github.com/daimatz/gojasm/pkg/derrors"
)

// Tag identifies the kind of a constant pool entry on disk.
type Tag uint8

// Constant pool tags
const (
	TagUtf8               Tag = 1
	TagInteger            Tag = 3
	TagFloat              Tag = 4
	TagLong               Tag = 5
	TagDouble             Tag = 6
	TagClass              Tag = 7
	TagString             Tag = 8
	TagFieldref           Tag = 9
	TagMethodref          Tag = 10
	TagInterfaceMethodref Tag = 11
	TagNameAndType        Tag = 12
	TagMethodHandle       Tag = 15
	TagMethodType         Tag = 16
	TagDynamic            Tag = 17
	TagInvokeDynamic      Tag = 18
	TagModule             Tag = 19
	TagPackage            Tag = 20
)

var tagNames = map[Tag]string{
	TagUtf8:               "Utf8",
	TagInteger:            "Integer",
	TagFloat:              "Float",
	TagLong:               "Long",
	TagDouble:             "Double",
	TagClass:              "Class",
	TagString:             "String",
	TagFieldref:           "Fieldref",
	TagMethodref:          "Methodref",
	TagInterfaceMethodref: "InterfaceMethodref",
	TagNameAndType:        "NameAndType",
	TagMethodHandle:       "MethodHandle",
	TagMethodType:         "MethodType",
	TagDynamic:            "Dynamic",
	TagInvokeDynamic:      "InvokeDynamic",
	TagModule:             "Module",
	TagPackage:            "Package",
}

func (t Tag) String() string {
	if s, ok := tagNames[t]; ok {
		return s
	}
	return fmt.Sprintf("Tag(%d)", uint8(t))
}

// Wide reports whether entries with this tag occupy two index slots.
func (t Tag) Wide() bool {
	return t == TagLong || t == TagDouble
}

// ReferenceKind is the kind of a method handle.
type ReferenceKind uint8

const (
	RefGetField         ReferenceKind = 1
	RefGetStatic        ReferenceKind = 2
	RefPutField         ReferenceKind = 3
	RefPutStatic        ReferenceKind = 4
	RefInvokeVirtual    ReferenceKind = 5
	RefInvokeStatic     ReferenceKind = 6
	RefInvokeSpecial    ReferenceKind = 7
	RefNewInvokeSpecial ReferenceKind = 8
	RefInvokeInterface  ReferenceKind = 9
)

var referenceKindNames = [...]string{
	RefGetField:         "REF_getField",
	RefGetStatic:        "REF_getStatic",
	RefPutField:         "REF_putField",
	RefPutStatic:        "REF_putStatic",
	RefInvokeVirtual:    "REF_invokeVirtual",
	RefInvokeStatic:     "REF_invokeStatic",
	RefInvokeSpecial:    "REF_invokeSpecial",
	RefNewInvokeSpecial: "REF_newInvokeSpecial",
	RefInvokeInterface:  "REF_invokeInterface",
}

func (k ReferenceKind) String() string {
	if int(k) < len(referenceKindNames) && referenceKindNames[k] != "" {
		return referenceKindNames[k]
	}
	return fmt.Sprintf("ReferenceKind(%d)", uint8(k))
}

// accepts reports whether a handle of kind k may refer to e.
func (k ReferenceKind) accepts(e Entry) bool {
	switch e.(type) {
	case *FieldRef:
		return k >= RefGetField && k <= RefPutStatic
	case *MethodRef:
		return k >= RefInvokeVirtual && k <= RefNewInvokeSpecial
	case *InterfaceMethodRef:
		return k == RefInvokeStatic || k == RefInvokeSpecial || k == RefInvokeInterface
	}
	return false
}

// Entry is one constant pool entry. The set of implementations is closed.
//
// Entries that refer to other entries hold direct pointers to them; the
// indices on disk only exist inside a Pool.
type Entry interface {
	Tag() Tag

	// link replaces the raw indices recorded in k with references to the
	// entries of p.
	link(p *Pool, k entryKey) error
	// intern inserts the entries this one refers to into p and returns the
	// key identifying this entry.
	intern(p *Pool) (entryKey, error)
}

// entryKey is the structural identity of an entry. Two entries with equal
// keys in the same pool are the same entry.
type entryKey struct {
	tag    Tag
	s      string
	p1, p2 uint16
	x      uint64
	raw    bool // s holds Utf8 bytes that were not modified UTF-8
}

type Utf8 struct {
	Value string
}

type Integer struct {
	Value int32
}

type Float struct {
	Value float32
}

type Long struct {
	Value int64
}

type Double struct {
	Value float64
}

type Class struct {
	Name *Utf8
}

type String struct {
	Value *Utf8
}

// MemberRef is the shared shape of Fieldref, Methodref and
// InterfaceMethodref entries.
type MemberRef struct {
	Class       *Class
	NameAndType *NameAndType
}

type FieldRef struct{ MemberRef }

type MethodRef struct{ MemberRef }

type InterfaceMethodRef struct{ MemberRef }

type NameAndType struct {
	Name       *Utf8
	Descriptor *Utf8
}

// MethodHandle refers to a FieldRef, MethodRef or InterfaceMethodRef.
type MethodHandle struct {
	Kind      ReferenceKind
	Reference Entry
}

type MethodType struct {
	Descriptor *Utf8
}

// Dynamic is a dynamically computed constant. BootstrapIndex indexes the
// class's BootstrapMethods attribute.
type Dynamic struct {
	BootstrapIndex uint16
	NameAndType    *NameAndType
}

// InvokeDynamic is a dynamically computed call site.
type InvokeDynamic struct {
	BootstrapIndex uint16
	NameAndType    *NameAndType
}

type Module struct {
	Name *Utf8
}

type Package struct {
	Name *Utf8
}

func (*Utf8) Tag() Tag               { return TagUtf8 }
func (*Integer) Tag() Tag            { return TagInteger }
func (*Float) Tag() Tag              { return TagFloat }
func (*Long) Tag() Tag               { return TagLong }
func (*Double) Tag() Tag             { return TagDouble }
func (*Class) Tag() Tag              { return TagClass }
func (*String) Tag() Tag             { return TagString }
func (*FieldRef) Tag() Tag           { return TagFieldref }
func (*MethodRef) Tag() Tag          { return TagMethodref }
func (*InterfaceMethodRef) Tag() Tag { return TagInterfaceMethodref }
func (*NameAndType) Tag() Tag        { return TagNameAndType }
func (*MethodHandle) Tag() Tag       { return TagMethodHandle }
func (*MethodType) Tag() Tag         { return TagMethodType }
func (*Dynamic) Tag() Tag            { return TagDynamic }
func (*InvokeDynamic) Tag() Tag      { return TagInvokeDynamic }
func (*Module) Tag() Tag             { return TagModule }
func (*Package) Tag() Tag            { return TagPackage }

func NewUtf8(s string) *Utf8 { return &Utf8{Value: s} }

func NewClass(name string) *Class { return &Class{Name: NewUtf8(name)} }

func NewString(s string) *String { return &String{Value: NewUtf8(s)} }

func NewNameAndType(name, descriptor string) *NameAndType {
	return &NameAndType{Name: NewUtf8(name), Descriptor: NewUtf8(descriptor)}
}

func NewFieldRef(owner, name, descriptor string) *FieldRef {
	return &FieldRef{MemberRef{Class: NewClass(owner), NameAndType: NewNameAndType(name, descriptor)}}
}

func NewMethodRef(owner, name, descriptor string) *MethodRef {
	return &MethodRef{MemberRef{Class: NewClass(owner), NameAndType: NewNameAndType(name, descriptor)}}
}

func NewInterfaceMethodRef(owner, name, descriptor string) *InterfaceMethodRef {
	return &InterfaceMethodRef{MemberRef{Class: NewClass(owner), NameAndType: NewNameAndType(name, descriptor)}}
}

func NewMethodType(descriptor string) *MethodType { return &MethodType{Descriptor: NewUtf8(descriptor)} }

func NewInvokeDynamic(bootstrap uint16, name, descriptor string) *InvokeDynamic {
	return &InvokeDynamic{BootstrapIndex: bootstrap, NameAndType: NewNameAndType(name, descriptor)}
}

func NewDynamic(bootstrap uint16, name, descriptor string) *Dynamic {
	return &Dynamic{BootstrapIndex: bootstrap, NameAndType: NewNameAndType(name, descriptor)}
}

// Loadable reports whether e may be the operand of an ldc instruction or a
// ConstantValue / bootstrap argument.
func Loadable(e Entry) bool {
	switch e.(type) {
	case *Integer, *Float, *Long, *Double, *String, *Class, *MethodType, *MethodHandle, *Dynamic:
		return true
	}
	return false
}

// newEntry allocates the entry for k with its literal operands filled in.
// References are filled in later by link.
func newEntry(k entryKey) (Entry, error) {
	switch k.tag {
	case TagUtf8:
		return &Utf8{Value: k.s}, nil
	case TagInteger:
		return &Integer{Value: int32(uint32(k.x))}, nil
	case TagFloat:
		return &Float{Value: math.Float32frombits(uint32(k.x))}, nil
	case TagLong:
		return &Long{Value: int64(k.x)}, nil
	case TagDouble:
		return &Double{Value: math.Float64frombits(k.x)}, nil
	case TagClass:
		return &Class{}, nil
	case TagString:
		return &String{}, nil
	case TagFieldref:
		return &FieldRef{}, nil
	case TagMethodref:
		return &MethodRef{}, nil
	case TagInterfaceMethodref:
		return &InterfaceMethodRef{}, nil
	case TagNameAndType:
		return &NameAndType{}, nil
	case TagMethodHandle:
		return &MethodHandle{Kind: ReferenceKind(k.x)}, nil
	case TagMethodType:
		return &MethodType{}, nil
	case TagDynamic:
		return &Dynamic{BootstrapIndex: k.p1}, nil
	case TagInvokeDynamic:
		return &InvokeDynamic{BootstrapIndex: k.p1}, nil
	case TagModule:
		return &Module{}, nil
	case TagPackage:
		return &Package{}, nil
	}
	return nil, derrors.Errorf(derrors.MalformedPool, "unknown constant pool tag %d", k.tag)
}

func (e *Utf8) link(*Pool, entryKey) error    { return nil }
func (e *Integer) link(*Pool, entryKey) error { return nil }
func (e *Float) link(*Pool, entryKey) error   { return nil }
func (e *Long) link(*Pool, entryKey) error    { return nil }
func (e *Double) link(*Pool, entryKey) error  { return nil }

func (e *Dynamic) link(p *Pool, k entryKey) error {
	var err error
	e.NameAndType, err = Get[*NameAndType](p, k.p2)
	return err
}

func (e *InvokeDynamic) link(p *Pool, k entryKey) error {
	var err error
	e.NameAndType, err = Get[*NameAndType](p, k.p2)
	return err
}

func (e *Class) link(p *Pool, k entryKey) (err error) {
	e.Name, err = Get[*Utf8](p, k.p1)
	return err
}

func (e *String) link(p *Pool, k entryKey) (err error) {
	e.Value, err = Get[*Utf8](p, k.p1)
	return err
}

func (e *MethodType) link(p *Pool, k entryKey) (err error) {
	e.Descriptor, err = Get[*Utf8](p, k.p1)
	return err
}

func (e *Module) link(p *Pool, k entryKey) (err error) {
	e.Name, err = Get[*Utf8](p, k.p1)
	return err
}

func (e *Package) link(p *Pool, k entryKey) (err error) {
	e.Name, err = Get[*Utf8](p, k.p1)
	return err
}

func (e *MemberRef) link(p *Pool, k entryKey) (err error) {
	if e.Class, err = Get[*Class](p, k.p1); err != nil {
		return err
	}
	e.NameAndType, err = Get[*NameAndType](p, k.p2)
	return err
}

func (e *NameAndType) link(p *Pool, k entryKey) (err error) {
	if e.Name, err = Get[*Utf8](p, k.p1); err != nil {
		return err
	}
	e.Descriptor, err = Get[*Utf8](p, k.p2)
	return err
}

func (e *MethodHandle) link(p *Pool, k entryKey) error {
	if e.Kind < RefGetField || e.Kind > RefInvokeInterface {
		return derrors.Errorf(derrors.MalformedPool, "method handle kind %d", e.Kind)
	}
	ref, err := p.Entry(k.p1)
	if err != nil {
		return err
	}
	switch ref.(type) {
	case *FieldRef, *MethodRef, *InterfaceMethodRef:
	default:
		return derrors.Errorf(derrors.MalformedPool, "method handle refers to %s entry %d", ref.Tag(), k.p1)
	}
	if !e.Kind.accepts(ref) {
		return derrors.Errorf(derrors.MalformedPool, "%s cannot refer to %s entry %d", e.Kind, ref.Tag(), k.p1)
	}
	e.Reference = ref
	return nil
}

func (e *Utf8) intern(*Pool) (entryKey, error) {
	return entryKey{tag: TagUtf8, s: e.Value}, nil
}

func (e *Integer) intern(*Pool) (entryKey, error) {
	return entryKey{tag: TagInteger, x: uint64(uint32(e.Value))}, nil
}

func (e *Float) intern(*Pool) (entryKey, error) {
	return entryKey{tag: TagFloat, x: uint64(math.Float32bits(e.Value))}, nil
}

func (e *Long) intern(*Pool) (entryKey, error) {
	return entryKey{tag: TagLong, x: uint64(e.Value)}, nil
}

func (e *Double) intern(*Pool) (entryKey, error) {
	return entryKey{tag: TagDouble, x: math.Float64bits(e.Value)}, nil
}

func (e *Class) intern(p *Pool) (entryKey, error) {
	return internOne(p, TagClass, e.Name)
}

func (e *String) intern(p *Pool) (entryKey, error) {
	return internOne(p, TagString, e.Value)
}

func (e *MethodType) intern(p *Pool) (entryKey, error) {
	return internOne(p, TagMethodType, e.Descriptor)
}

func (e *Module) intern(p *Pool) (entryKey, error) {
	return internOne(p, TagModule, e.Name)
}

func (e *Package) intern(p *Pool) (entryKey, error) {
	return internOne(p, TagPackage, e.Name)
}

func (e *FieldRef) intern(p *Pool) (entryKey, error) {
	return e.MemberRef.internAs(p, TagFieldref)
}

func (e *MethodRef) intern(p *Pool) (entryKey, error) {
	return e.MemberRef.internAs(p, TagMethodref)
}

func (e *InterfaceMethodRef) intern(p *Pool) (entryKey, error) {
	return e.MemberRef.internAs(p, TagInterfaceMethodref)
}

func (e *MemberRef) internAs(p *Pool, tag Tag) (entryKey, error) {
	return internTwo(p, tag, e.Class, e.NameAndType)
}

func (e *NameAndType) intern(p *Pool) (entryKey, error) {
	return internTwo(p, TagNameAndType, e.Name, e.Descriptor)
}

func (e *MethodHandle) intern(p *Pool) (entryKey, error) {
	switch e.Reference.(type) {
	case *FieldRef, *MethodRef, *InterfaceMethodRef:
	default:
		return entryKey{}, derrors.Errorf(derrors.MalformedPool, "method handle must refer to a member, got %T", e.Reference)
	}
	if !e.Kind.accepts(e.Reference) {
		return entryKey{}, derrors.Errorf(derrors.MalformedPool, "%s cannot refer to %T", e.Kind, e.Reference)
	}
	k, err := internOne(p, TagMethodHandle, e.Reference)
	k.x = uint64(e.Kind)
	return k, err
}

func (e *Dynamic) intern(p *Pool) (entryKey, error) {
	k, err := internOne(p, TagDynamic, e.NameAndType)
	k.p1, k.p2 = e.BootstrapIndex, k.p1
	return k, err
}

func (e *InvokeDynamic) intern(p *Pool) (entryKey, error) {
	k, err := internOne(p, TagInvokeDynamic, e.NameAndType)
	k.p1, k.p2 = e.BootstrapIndex, k.p1
	return k, err
}

// internOne finds ref in p and returns a key carrying its index in p1.
func internOne[E Entry](p *Pool, tag Tag, ref E) (entryKey, error) {
	i, err := p.findRef(ref)
	if err != nil {
		return entryKey{}, err
	}
	return entryKey{tag: tag, p1: i}, nil
}

func internTwo[A, B Entry](p *Pool, tag Tag, a A, b B) (entryKey, error) {
	i, err := p.findRef(a)
	if err != nil {
		return entryKey{}, err
	}
	j, err := p.findRef(b)
	if err != nil {
		return entryKey{}, err
	}
	return entryKey{tag: tag, p1: i, p2: j}, nil
}
