package bytecode

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/daimatz/gojasm/pkg/constpool"
)

// LabelNames assigns printable names to Labels.
type LabelNames map[*Label]string

// NameLabels names the Labels of insns L0, L1, ... in the order they are
// placed. Labels that are referenced but never placed are named after all
// placed ones, in order of first reference.
func NameLabels(insns []Instruction) LabelNames {
	names := make(LabelNames)
	add := func(l *Label) {
		if _, ok := names[l]; !ok && l != nil {
			names[l] = "L" + strconv.Itoa(len(names))
		}
	}
	for _, insn := range insns {
		if l, ok := insn.(*Label); ok {
			add(l)
		}
	}
	for _, insn := range insns {
		for _, l := range targets(insn) {
			add(l)
		}
	}
	return names
}

// Name returns the name of l, or "L?" for a Label the set does not know.
func (n LabelNames) Name(l *Label) string {
	if s, ok := n[l]; ok {
		return s
	}
	return "L?"
}

func targets(insn Instruction) []*Label {
	switch insn := insn.(type) {
	case *JumpInstruction:
		return []*Label{insn.Target}
	case *TableSwitchInstruction:
		return append([]*Label{insn.Default}, insn.Labels...)
	case *LookupSwitchInstruction:
		ls := []*Label{insn.Default}
		for _, c := range insn.Cases {
			ls = append(ls, c.Target)
		}
		return ls
	}
	return nil
}

// Fprint writes a listing of insns to w, one instruction per line. Two
// sequences with the same structure print identically, whatever their
// Label identities.
func Fprint(w io.Writer, insns []Instruction) error {
	names := NameLabels(insns)
	for _, insn := range insns {
		var line string
		if l, ok := insn.(*Label); ok {
			line = names.Name(l) + ":"
		} else {
			line = "    " + Format(insn, names)
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}

// Format renders a single instruction using names for its Labels.
func Format(insn Instruction, names LabelNames) string {
	switch insn := insn.(type) {
	case *Label:
		return names.Name(insn) + ":"
	case *SimpleInstruction:
		return insn.code.String()
	case *PushInstruction:
		return fmt.Sprintf("%s %d", insn.code, insn.Value)
	case *LdcInstruction:
		return fmt.Sprintf("%s %s", insn.Opcode(), FormatConstant(insn.Value))
	case *VarInstruction:
		return fmt.Sprintf("%s %d", insn.code, insn.Index)
	case *IncrementInstruction:
		return fmt.Sprintf("%s %d %d", insn.code, insn.Index, insn.Delta)
	case *JumpInstruction:
		return fmt.Sprintf("%s %s", insn.code, names.Name(insn.Target))
	case *TableSwitchInstruction:
		var b strings.Builder
		fmt.Fprintf(&b, "%s %d..%d {", insn.code, insn.Low, insn.High())
		for k, l := range insn.Labels {
			fmt.Fprintf(&b, " %d: %s,", int64(insn.Low)+int64(k), names.Name(l))
		}
		fmt.Fprintf(&b, " default: %s }", names.Name(insn.Default))
		return b.String()
	case *LookupSwitchInstruction:
		var b strings.Builder
		fmt.Fprintf(&b, "%s {", insn.code)
		for _, c := range insn.Cases {
			fmt.Fprintf(&b, " %d: %s,", c.Key, names.Name(c.Target))
		}
		fmt.Fprintf(&b, " default: %s }", names.Name(insn.Default))
		return b.String()
	case *FieldInstruction:
		return fmt.Sprintf("%s %s.%s %s", insn.code, insn.Owner, insn.Name, insn.Descriptor)
	case *MethodInstruction:
		s := fmt.Sprintf("%s %s.%s%s", insn.code, insn.Owner, insn.Name, insn.Descriptor)
		if insn.Interface && insn.code != OpInvokeinterface {
			s += " itf"
		}
		return s
	case *InvokeDynamicInstruction:
		return fmt.Sprintf("%s #%d:%s%s", insn.code, insn.BootstrapIndex, insn.Name, insn.Descriptor)
	case *TypeInstruction:
		return fmt.Sprintf("%s %s", insn.code, insn.Class)
	case *NewArrayInstruction:
		return fmt.Sprintf("%s %s", insn.code, insn.Type)
	case *MultiANewArrayInstruction:
		return fmt.Sprintf("%s %s %d", insn.code, insn.Class, insn.Dimensions)
	}
	return fmt.Sprintf("<%T>", insn)
}

// FormatConstant renders a loadable constant the way it would appear in
// source.
func FormatConstant(e constpool.Entry) string {
	switch e := e.(type) {
	case *constpool.Integer:
		return strconv.FormatInt(int64(e.Value), 10)
	case *constpool.Long:
		return strconv.FormatInt(e.Value, 10) + "L"
	case *constpool.Float:
		return strconv.FormatFloat(float64(e.Value), 'g', -1, 32) + "f"
	case *constpool.Double:
		return strconv.FormatFloat(e.Value, 'g', -1, 64) + "d"
	case *constpool.String:
		return strconv.Quote(e.Value.Value)
	case *constpool.Class:
		return e.Name.Value + ".class"
	case *constpool.MethodType:
		return "MethodType " + e.Descriptor.Value
	case *constpool.MethodHandle:
		return fmt.Sprintf("MethodHandle %s %s", e.Kind, formatRef(e.Reference))
	case *constpool.Dynamic:
		return fmt.Sprintf("Dynamic #%d:%s %s", e.BootstrapIndex, e.NameAndType.Name.Value, e.NameAndType.Descriptor.Value)
	case nil:
		return "<nil>"
	}
	return e.Tag().String()
}

func formatRef(e constpool.Entry) string {
	var m *constpool.MemberRef
	switch e := e.(type) {
	case *constpool.FieldRef:
		m = &e.MemberRef
	case *constpool.MethodRef:
		m = &e.MemberRef
	case *constpool.InterfaceMethodRef:
		m = &e.MemberRef
	default:
		return fmt.Sprintf("%T", e)
	}
	return fmt.Sprintf("%s.%s:%s", m.Class.Name.Value, m.NameAndType.Name.Value, m.NameAndType.Descriptor.Value)
}
