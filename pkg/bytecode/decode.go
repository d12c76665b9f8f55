package bytecode

import (
	"fmt"
	"math"
	"sort"

	"github.com/daimatz/gojasm/pkg/constpool"
	"github.com/daimatz/gojasm/pkg/derrors"
)

// cursor reads big-endian operands from a code array and advances PC.
type cursor struct {
	code []byte
	pc   int
}

func (c *cursor) need(n int) error {
	if c.pc+n > len(c.code) {
		return derrors.Errorf(derrors.MalformedCode, "truncated instruction at offset %d", c.pc)
	}
	return nil
}

// ReadU8 reads a uint8 operand and advances PC.
func (c *cursor) ReadU8() (uint8, error) {
	if err := c.need(1); err != nil {
		return 0, err
	}
	v := c.code[c.pc]
	c.pc++
	return v, nil
}

// ReadI8 reads an int8 operand and advances PC.
func (c *cursor) ReadI8() (int8, error) {
	v, err := c.ReadU8()
	return int8(v), err
}

// ReadU16 reads a uint16 operand and advances PC by 2.
func (c *cursor) ReadU16() (uint16, error) {
	if err := c.need(2); err != nil {
		return 0, err
	}
	v := uint16(c.code[c.pc])<<8 | uint16(c.code[c.pc+1])
	c.pc += 2
	return v, nil
}

// ReadI16 reads an int16 operand and advances PC by 2.
func (c *cursor) ReadI16() (int16, error) {
	v, err := c.ReadU16()
	return int16(v), err
}

// ReadI32 reads an int32 operand and advances PC by 4.
func (c *cursor) ReadI32() (int32, error) {
	if err := c.need(4); err != nil {
		return 0, err
	}
	v := uint32(c.code[c.pc])<<24 | uint32(c.code[c.pc+1])<<16 | uint32(c.code[c.pc+2])<<8 | uint32(c.code[c.pc+3])
	c.pc += 4
	return int32(v), nil
}

// align skips switch padding so that PC is a multiple of 4.
func (c *cursor) align() error {
	pad := (4 - c.pc%4) % 4
	if err := c.need(pad); err != nil {
		return err
	}
	c.pc += pad
	return nil
}

type located struct {
	offset int
	insn   Instruction
}

// A Decoder turns a code array into instructions. Labels minted while
// scanning are shared with later LabelAt calls, so exception ranges and
// debug tables point at the same Label objects as the branches.
type Decoder struct {
	pool   *constpool.Pool
	size   int
	insns  []located
	starts map[int]bool
	labels map[int]*Label
}

// NewDecoder scans code, resolving operands through pool. Every branch
// target must be the start of an instruction; the end of the code is not.
func NewDecoder(code []byte, pool *constpool.Pool) (*Decoder, error) {
	d := &Decoder{
		pool:   pool,
		size:   len(code),
		starts: make(map[int]bool),
		labels: make(map[int]*Label),
	}
	c := &cursor{code: code}
	for c.pc < len(code) {
		start := c.pc
		insn, err := d.decode(c)
		if err != nil {
			return nil, fmt.Errorf("offset %d: %w", start, err)
		}
		d.starts[start] = true
		d.insns = append(d.insns, located{start, insn})
	}
	for off := range d.labels {
		if !d.starts[off] {
			return nil, derrors.Errorf(derrors.MisalignedLabel, "branch target %d is not an instruction start", off)
		}
	}
	return d, nil
}

// label returns the Label for a branch target, minting it on first use.
// Alignment is checked once the whole array has been scanned.
func (d *Decoder) label(off int) (*Label, error) {
	if off < 0 || off > d.size {
		return nil, derrors.Errorf(derrors.MisalignedLabel, "branch target %d outside code of length %d", off, d.size)
	}
	if l, ok := d.labels[off]; ok {
		return l, nil
	}
	l := NewLabel()
	d.labels[off] = l
	return l, nil
}

// LabelAt returns the Label for offset, which must be an instruction
// boundary or the end of the code. It is how exception handlers and
// Code-scoped attributes join the label space built by the scan.
func (d *Decoder) LabelAt(offset int) (*Label, error) {
	if offset < 0 || offset > d.size || offset != d.size && !d.starts[offset] {
		return nil, derrors.Errorf(derrors.MisalignedLabel, "offset %d is not an instruction boundary", offset)
	}
	return d.label(offset)
}

// Len reports the length of the decoded code array.
func (d *Decoder) Len() int { return d.size }

// Instructions returns the decoded sequence with every Label placed before
// the instruction at its offset. A Label at the end of the code comes last.
func (d *Decoder) Instructions() []Instruction {
	offsets := make([]int, 0, len(d.labels))
	for off := range d.labels {
		offsets = append(offsets, off)
	}
	sort.Ints(offsets)

	out := make([]Instruction, 0, len(d.insns)+len(offsets))
	j := 0
	for _, li := range d.insns {
		for j < len(offsets) && offsets[j] <= li.offset {
			out = append(out, d.labels[offsets[j]])
			j++
		}
		out = append(out, li.insn)
	}
	for ; j < len(offsets); j++ {
		out = append(out, d.labels[offsets[j]])
	}
	return out
}

func (d *Decoder) decode(c *cursor) (Instruction, error) {
	start := c.pc
	b, err := c.ReadU8()
	if err != nil {
		return nil, err
	}
	code := Opcode(b)

	switch {
	case !code.Valid():
		return nil, derrors.Errorf(derrors.MalformedCode, "unknown opcode 0x%02X", b)
	case isSimple(code):
		return &SimpleInstruction{op{code}}, nil
	case code >= OpIload0 && code <= OpAload3:
		n := code - OpIload0
		return &VarInstruction{op: op{OpIload + n/4}, Index: uint16(n % 4)}, nil
	case code >= OpIstore0 && code <= OpAstore3:
		n := code - OpIstore0
		return &VarInstruction{op: op{OpIstore + n/4}, Index: uint16(n % 4)}, nil
	case isVar(code):
		idx, err := c.ReadU8()
		if err != nil {
			return nil, err
		}
		insn := &VarInstruction{op: op{code}, Index: uint16(idx)}
		if idx <= 3 && code != OpRet {
			insn.Form = FormExplicit
		}
		return insn, nil
	case isJump(code):
		off, err := c.ReadI16()
		if err != nil {
			return nil, err
		}
		l, err := d.label(start + int(off))
		if err != nil {
			return nil, err
		}
		return &JumpInstruction{op: op{code}, Target: l}, nil
	}

	switch code {
	case OpBipush:
		v, err := c.ReadI8()
		if err != nil {
			return nil, err
		}
		return &PushInstruction{op{code}, int16(v)}, nil
	case OpSipush:
		v, err := c.ReadI16()
		if err != nil {
			return nil, err
		}
		return &PushInstruction{op{code}, v}, nil
	case OpLdc:
		idx, err := c.ReadU8()
		if err != nil {
			return nil, err
		}
		return d.ldc(code, uint16(idx))
	case OpLdcW, OpLdc2W:
		idx, err := c.ReadU16()
		if err != nil {
			return nil, err
		}
		return d.ldc(code, idx)
	case OpIinc:
		idx, err := c.ReadU8()
		if err != nil {
			return nil, err
		}
		delta, err := c.ReadI8()
		if err != nil {
			return nil, err
		}
		return &IncrementInstruction{op: op{code}, Index: uint16(idx), Delta: int16(delta)}, nil
	case OpWide:
		return d.wide(c)
	case OpGotoW, OpJsrW:
		off, err := c.ReadI32()
		if err != nil {
			return nil, err
		}
		l, err := d.label(start + int(off))
		if err != nil {
			return nil, err
		}
		narrow := OpGoto
		if code == OpJsrW {
			narrow = OpJsr
		}
		return &JumpInstruction{op: op{narrow}, Target: l, Form: FormWide}, nil
	case OpTableswitch:
		return d.tableSwitch(c, start)
	case OpLookupswitch:
		return d.lookupSwitch(c, start)
	case OpGetstatic, OpPutstatic, OpGetfield, OpPutfield:
		idx, err := c.ReadU16()
		if err != nil {
			return nil, err
		}
		ref, err := constpool.Get[*constpool.FieldRef](d.pool, idx)
		if err != nil {
			return nil, err
		}
		return &FieldInstruction{op{code}, ref.Class.Name.Value, ref.NameAndType.Name.Value, ref.NameAndType.Descriptor.Value}, nil
	case OpInvokevirtual, OpInvokespecial, OpInvokestatic, OpInvokeinterface:
		return d.invoke(c, code)
	case OpInvokedynamic:
		idx, err := c.ReadU16()
		if err != nil {
			return nil, err
		}
		if _, err := c.ReadU16(); err != nil {
			return nil, err
		}
		ref, err := constpool.Get[*constpool.InvokeDynamic](d.pool, idx)
		if err != nil {
			return nil, err
		}
		return &InvokeDynamicInstruction{op{code}, ref.BootstrapIndex, ref.NameAndType.Name.Value, ref.NameAndType.Descriptor.Value}, nil
	case OpNew, OpAnewarray, OpCheckcast, OpInstanceof:
		idx, err := c.ReadU16()
		if err != nil {
			return nil, err
		}
		name, err := d.pool.ClassNameAt(idx)
		if err != nil {
			return nil, err
		}
		return &TypeInstruction{op{code}, name}, nil
	case OpNewarray:
		t, err := c.ReadU8()
		if err != nil {
			return nil, err
		}
		if t < uint8(TBoolean) || t > uint8(TLong) {
			return nil, derrors.Errorf(derrors.MalformedCode, "newarray type code %d", t)
		}
		return &NewArrayInstruction{op{code}, ArrayType(t)}, nil
	case OpMultianewarray:
		idx, err := c.ReadU16()
		if err != nil {
			return nil, err
		}
		dims, err := c.ReadU8()
		if err != nil {
			return nil, err
		}
		if dims == 0 {
			return nil, derrors.Errorf(derrors.MalformedCode, "multianewarray with 0 dimensions")
		}
		name, err := d.pool.ClassNameAt(idx)
		if err != nil {
			return nil, err
		}
		return &MultiANewArrayInstruction{op{code}, name, dims}, nil
	}
	return nil, derrors.Errorf(derrors.MalformedCode, "unsupported opcode %s", code)
}

func (d *Decoder) ldc(code Opcode, idx uint16) (Instruction, error) {
	e, err := d.pool.Entry(idx)
	if err != nil {
		return nil, err
	}
	if !constpool.Loadable(e) {
		return nil, derrors.Errorf(derrors.MalformedPool, "%s of non-loadable %s entry %d", code, e.Tag(), idx)
	}
	if e.Tag().Wide() != (code == OpLdc2W) {
		return nil, derrors.Errorf(derrors.MalformedCode, "%s of %s entry %d", code, e.Tag(), idx)
	}
	insn := &LdcInstruction{Value: e}
	if code == OpLdcW && idx <= math.MaxUint8 {
		insn.Form = FormWide
	}
	return insn, nil
}

func (d *Decoder) wide(c *cursor) (Instruction, error) {
	b, err := c.ReadU8()
	if err != nil {
		return nil, err
	}
	code := Opcode(b)
	idx, err := c.ReadU16()
	if err != nil {
		return nil, err
	}
	switch {
	case code == OpIinc:
		delta, err := c.ReadI16()
		if err != nil {
			return nil, err
		}
		insn := &IncrementInstruction{op: op{code}, Index: idx, Delta: delta}
		if idx <= math.MaxUint8 && delta >= math.MinInt8 && delta <= math.MaxInt8 {
			insn.Form = FormWide
		}
		return insn, nil
	case isVar(code):
		insn := &VarInstruction{op: op{code}, Index: idx}
		if idx <= math.MaxUint8 {
			insn.Form = FormWide
		}
		return insn, nil
	}
	return nil, derrors.Errorf(derrors.MalformedCode, "wide cannot modify %s", code)
}

func (d *Decoder) invoke(c *cursor, code Opcode) (Instruction, error) {
	idx, err := c.ReadU16()
	if err != nil {
		return nil, err
	}
	if code == OpInvokeinterface {
		// count and a zero byte; the count is recomputed from the
		// descriptor on encode.
		if _, err := c.ReadU16(); err != nil {
			return nil, err
		}
	}
	e, err := d.pool.Entry(idx)
	if err != nil {
		return nil, err
	}
	var ref *constpool.MemberRef
	itf := false
	switch e := e.(type) {
	case *constpool.MethodRef:
		ref = &e.MemberRef
	case *constpool.InterfaceMethodRef:
		ref, itf = &e.MemberRef, true
	default:
		return nil, derrors.Errorf(derrors.MalformedPool, "%s of %s entry %d", code, e.Tag(), idx)
	}
	if code == OpInvokeinterface && !itf {
		return nil, derrors.Errorf(derrors.MalformedPool, "invokeinterface of Methodref entry %d", idx)
	}
	return &MethodInstruction{op{code}, ref.Class.Name.Value, ref.NameAndType.Name.Value, ref.NameAndType.Descriptor.Value, itf}, nil
}

func (d *Decoder) tableSwitch(c *cursor, start int) (Instruction, error) {
	if err := c.align(); err != nil {
		return nil, err
	}
	dflt, err := c.ReadI32()
	if err != nil {
		return nil, err
	}
	low, err := c.ReadI32()
	if err != nil {
		return nil, err
	}
	high, err := c.ReadI32()
	if err != nil {
		return nil, err
	}
	if low > high {
		return nil, derrors.Errorf(derrors.MalformedCode, "tableswitch low %d > high %d", low, high)
	}
	n := int64(high) - int64(low) + 1
	if err := c.need(int(min(n*4, int64(len(c.code)+1)))); err != nil {
		return nil, err
	}
	insn := &TableSwitchInstruction{op: op{OpTableswitch}, Low: low, Labels: make([]*Label, n)}
	if insn.Default, err = d.label(start + int(dflt)); err != nil {
		return nil, err
	}
	for k := range insn.Labels {
		off, err := c.ReadI32()
		if err != nil {
			return nil, err
		}
		if insn.Labels[k], err = d.label(start + int(off)); err != nil {
			return nil, err
		}
	}
	return insn, nil
}

func (d *Decoder) lookupSwitch(c *cursor, start int) (Instruction, error) {
	if err := c.align(); err != nil {
		return nil, err
	}
	dflt, err := c.ReadI32()
	if err != nil {
		return nil, err
	}
	npairs, err := c.ReadI32()
	if err != nil {
		return nil, err
	}
	if npairs < 0 {
		return nil, derrors.Errorf(derrors.MalformedCode, "lookupswitch with %d pairs", npairs)
	}
	if err := c.need(int(min(int64(npairs)*8, int64(len(c.code)+1)))); err != nil {
		return nil, err
	}
	insn := &LookupSwitchInstruction{op: op{OpLookupswitch}, Cases: make([]SwitchCase, npairs)}
	if insn.Default, err = d.label(start + int(dflt)); err != nil {
		return nil, err
	}
	for k := range insn.Cases {
		key, err := c.ReadI32()
		if err != nil {
			return nil, err
		}
		off, err := c.ReadI32()
		if err != nil {
			return nil, err
		}
		l, err := d.label(start + int(off))
		if err != nil {
			return nil, err
		}
		insn.Cases[k] = SwitchCase{key, l}
	}
	return insn, nil
}
