package classfile

import (
	"github.com/daimatz/gojasm/pkg/constpool"
	"github.com/daimatz/gojasm/pkg/descriptor"
)

// ClassNode is a parsed class file. Names are internal binary names such as
// "java/lang/Object".
type ClassNode struct {
	MinorVersion uint16
	MajorVersion uint16
	Access       AccessFlags
	Name         string
	SuperName    string // "" when the class has no super class
	Interfaces   []string
	Fields       []*FieldNode
	Methods      []*MethodNode
	Attributes   []*AttributeNode

	// Pool is the constant pool the class was read from. Write starts from
	// a copy of it so that raw attributes referring to pool indices stay
	// valid; set it to nil to write a compact pool built from scratch.
	Pool *constpool.Pool
}

// FieldNode represents a field in a class file.
type FieldNode struct {
	Owner      *ClassNode
	Access     AccessFlags
	Name       string
	Descriptor descriptor.Type
	Attributes []*AttributeNode
}

// MethodNode represents a method in a class file.
type MethodNode struct {
	Owner      *ClassNode
	Access     AccessFlags
	Name       string
	Descriptor descriptor.Method
	Attributes []*AttributeNode
}

// FindMethod finds a method by name and descriptor.
func (c *ClassNode) FindMethod(name, desc string) *MethodNode {
	for _, m := range c.Methods {
		if m.Name == name && m.Descriptor.String() == desc {
			return m
		}
	}
	return nil
}

// FindMethodByName finds a method by name only (first match).
func (c *ClassNode) FindMethodByName(name string) *MethodNode {
	for _, m := range c.Methods {
		if m.Name == name {
			return m
		}
	}
	return nil
}

// FindField finds a field by name.
func (c *ClassNode) FindField(name string) *FieldNode {
	for _, f := range c.Fields {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// Attribute returns the first class attribute with the given name.
func (c *ClassNode) Attribute(name string) *AttributeNode {
	return findAttribute(c.Attributes, name)
}

// Attribute returns the first field attribute with the given name.
func (f *FieldNode) Attribute(name string) *AttributeNode {
	return findAttribute(f.Attributes, name)
}

// Attribute returns the first method attribute with the given name.
func (m *MethodNode) Attribute(name string) *AttributeNode {
	return findAttribute(m.Attributes, name)
}

// Code returns the parsed Code attribute of m, or nil if the method has
// none or it was left raw.
func (m *MethodNode) Code() *CodeAttribute {
	if a := m.Attribute(AttrCode); a != nil {
		if code, ok := a.Parsed.(*CodeAttribute); ok {
			return code
		}
	}
	return nil
}

// BootstrapMethods returns the parsed BootstrapMethods attribute of c, or
// nil.
func (c *ClassNode) BootstrapMethods() *BootstrapMethodsAttribute {
	if a := c.Attribute(AttrBootstrapMethods); a != nil {
		if bsm, ok := a.Parsed.(*BootstrapMethodsAttribute); ok {
			return bsm
		}
	}
	return nil
}

func findAttribute(attrs []*AttributeNode, name string) *AttributeNode {
	for _, a := range attrs {
		if a.Name == name {
			return a
		}
	}
	return nil
}
