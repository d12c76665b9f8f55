package bytecode

import (
	"fmt"
	"math"

	"github.com/daimatz/gojasm/internal/binio"
	"github.com/daimatz/gojasm/pkg/constpool"
	"github.com/daimatz/gojasm/pkg/derrors"
	"github.com/daimatz/gojasm/pkg/descriptor"
)

// MaxCodeLength is the largest code array a Code attribute can carry.
const MaxCodeLength = math.MaxUint16

// An Encoder lays out instruction sequences and assigns offsets to their
// Labels. Pool entries referenced by the instructions are interned in the
// Encoder's pool.
type Encoder struct {
	pool    *constpool.Pool
	offsets map[*Label]int
	passes  int
}

// NewEncoder returns an Encoder that interns constants in pool.
func NewEncoder(pool *constpool.Pool) *Encoder {
	return &Encoder{pool: pool, offsets: make(map[*Label]int)}
}

// Offset returns the offset assigned to l by the last Encode. Labels that
// were not placed in that sequence are an error.
func (e *Encoder) Offset(l *Label) (int, error) {
	off, ok := e.offsets[l]
	if !ok {
		return 0, derrors.Errorf(derrors.MisalignedLabel, "label %p is not placed in the method body", l)
	}
	return off, nil
}

// Passes reports how many layout passes the last Encode needed.
func (e *Encoder) Passes() int { return e.passes }

// layout is the per-instruction state of one Encode call.
type layout struct {
	insns   []Instruction
	offsets []int
	index   []uint16 // pool index of the operand, if any
	wide    []bool   // GOTO/JSR widened to the _W form
	size    int
}

// Encode converts insns into a code array. Widths are recomputed until no
// offset moves: switch padding depends on position, GOTO and JSR widen when
// their distance outgrows 16 bits, and LDC needs LDC_W for large pool
// indices. An instruction's Form is a lower bound on its width.
func (e *Encoder) Encode(insns []Instruction) (_ []byte, err error) {
	defer derrors.Wrap(&err, "encoding code")

	e.offsets = make(map[*Label]int)
	e.passes = 0
	lay := &layout{
		insns:   insns,
		offsets: make([]int, len(insns)),
		index:   make([]uint16, len(insns)),
		wide:    make([]bool, len(insns)),
	}
	for i, insn := range insns {
		if j, ok := insn.(*JumpInstruction); ok && j.Form == FormWide && !j.Conditional() {
			lay.wide[i] = true
		}
	}
	if err := e.prepare(lay); err != nil {
		return nil, err
	}

	// Widening is monotonic, so each pass either widens at least one jump
	// or reaches the fixed point.
	limit := len(insns) + 2
	for {
		e.passes++
		if e.passes > limit {
			return nil, derrors.Errorf(derrors.Internal, "layout did not converge after %d passes", limit)
		}
		if err := e.place(lay); err != nil {
			return nil, err
		}
		changed := false
		for i, insn := range insns {
			j, ok := insn.(*JumpInstruction)
			if !ok || j.Conditional() || lay.wide[i] {
				continue
			}
			if !fitsInt16(e.offsets[j.Target] - lay.offsets[i]) {
				lay.wide[i] = true
				changed = true
			}
		}
		if !changed {
			break
		}
	}
	if lay.size > MaxCodeLength {
		return nil, derrors.Errorf(derrors.AttributeTooLarge, "code length %d exceeds %d", lay.size, MaxCodeLength)
	}

	w := binio.NewWriter()
	for i, insn := range insns {
		if err := e.emit(w, lay, i, insn); err != nil {
			return nil, fmt.Errorf("instruction %d (%T): %w", i, insn, err)
		}
	}
	if w.Len() != lay.size {
		return nil, derrors.Errorf(derrors.Internal, "emitted %d bytes, laid out %d", w.Len(), lay.size)
	}
	return w.Bytes(), nil
}

// prepare interns every pool operand and checks that each Label is placed
// exactly once and that every branch target is placed before an
// instruction.
func (e *Encoder) prepare(lay *layout) error {
	placed := make(map[*Label]bool)
	for _, insn := range lay.insns {
		if l, ok := insn.(*Label); ok {
			if placed[l] {
				return derrors.Errorf(derrors.MisalignedLabel, "label %p placed twice", l)
			}
			placed[l] = true
		}
	}
	// Labels after the last instruction can end a range but cannot be
	// branched to.
	trailing := make(map[*Label]bool)
	for i := len(lay.insns) - 1; i >= 0; i-- {
		l, ok := lay.insns[i].(*Label)
		if !ok {
			break
		}
		trailing[l] = true
	}
	check := func(l *Label) error {
		switch {
		case l == nil || !placed[l]:
			return derrors.Errorf(derrors.MisalignedLabel, "branch to a label that is not placed in the method body")
		case trailing[l]:
			return derrors.Errorf(derrors.MisalignedLabel, "branch to the end of the method body")
		}
		return nil
	}

	for i, insn := range lay.insns {
		var (
			entry constpool.Entry
			err   error
		)
		switch insn := insn.(type) {
		case nil:
			return derrors.Errorf(derrors.InvalidOperand, "nil instruction at %d", i)
		case *LdcInstruction:
			if insn.Value == nil || !constpool.Loadable(insn.Value) {
				return derrors.Errorf(derrors.InvalidOperand, "ldc of %T", insn.Value)
			}
			entry = insn.Value
		case *FieldInstruction:
			entry = constpool.NewFieldRef(insn.Owner, insn.Name, insn.Descriptor)
		case *MethodInstruction:
			if insn.Interface {
				entry = constpool.NewInterfaceMethodRef(insn.Owner, insn.Name, insn.Descriptor)
			} else {
				entry = constpool.NewMethodRef(insn.Owner, insn.Name, insn.Descriptor)
			}
		case *InvokeDynamicInstruction:
			entry = constpool.NewInvokeDynamic(insn.BootstrapIndex, insn.Name, insn.Descriptor)
		case *TypeInstruction:
			entry = constpool.NewClass(insn.Class)
		case *MultiANewArrayInstruction:
			entry = constpool.NewClass(insn.Class)
		case *JumpInstruction:
			err = check(insn.Target)
		case *TableSwitchInstruction:
			if len(insn.Labels) == 0 {
				return derrors.Errorf(derrors.MalformedCode, "tableswitch without cases")
			}
			if int64(insn.Low)+int64(len(insn.Labels))-1 > math.MaxInt32 {
				return derrors.Errorf(derrors.MalformedCode, "tableswitch high bound overflows int32")
			}
			err = check(insn.Default)
			for _, l := range insn.Labels {
				if err == nil {
					err = check(l)
				}
			}
		case *LookupSwitchInstruction:
			err = check(insn.Default)
			for k, c := range insn.Cases {
				if err == nil {
					err = check(c.Target)
				}
				if k > 0 && insn.Cases[k-1].Key >= c.Key {
					return derrors.Errorf(derrors.MalformedCode, "lookupswitch keys not strictly ascending at %d", c.Key)
				}
			}
		}
		if err != nil {
			return err
		}
		if entry != nil {
			if lay.index[i], err = e.pool.Find(entry); err != nil {
				return err
			}
		}
	}
	return nil
}

// place assigns offsets to every instruction and Label with the current
// widths.
func (e *Encoder) place(lay *layout) error {
	off := 0
	for i, insn := range lay.insns {
		lay.offsets[i] = off
		if l, ok := insn.(*Label); ok {
			e.offsets[l] = off
			continue
		}
		n, err := size(lay, i, insn, off)
		if err != nil {
			return err
		}
		off += n
	}
	lay.size = off
	return nil
}

func size(lay *layout, i int, insn Instruction, off int) (int, error) {
	switch insn := insn.(type) {
	case *SimpleInstruction:
		return 1, nil
	case *PushInstruction:
		if insn.code == OpBipush {
			return 2, nil
		}
		return 3, nil
	case *LdcInstruction:
		if ldcShort(insn, lay.index[i]) {
			return 2, nil
		}
		return 3, nil
	case *VarInstruction:
		return varWidth(insn), nil
	case *IncrementInstruction:
		if iincWide(insn) {
			return 6, nil
		}
		return 3, nil
	case *JumpInstruction:
		if lay.wide[i] {
			return 5, nil
		}
		return 3, nil
	case *TableSwitchInstruction:
		return 1 + padding(off) + 12 + 4*len(insn.Labels), nil
	case *LookupSwitchInstruction:
		return 1 + padding(off) + 8 + 8*len(insn.Cases), nil
	case *FieldInstruction, *TypeInstruction:
		return 3, nil
	case *MethodInstruction:
		if insn.code == OpInvokeinterface {
			return 5, nil
		}
		return 3, nil
	case *InvokeDynamicInstruction:
		return 5, nil
	case *NewArrayInstruction:
		return 2, nil
	case *MultiANewArrayInstruction:
		return 4, nil
	}
	return 0, derrors.Errorf(derrors.InvalidOperand, "unknown instruction type %T", insn)
}

// padding returns the number of zero bytes after a switch opcode at off so
// that its operands start on a 4-byte boundary.
func padding(off int) int {
	return (4 - (off+1)%4) % 4
}

// ldcShort reports whether a constant at pool index idx is loaded with the
// two-byte LDC.
func ldcShort(insn *LdcInstruction, idx uint16) bool {
	return insn.Opcode() == OpLdc && insn.Form != FormWide && idx <= math.MaxUint8
}

// varWidth is 1 for the _0.._3 forms, 2 with an index byte and 4 with WIDE.
func varWidth(insn *VarInstruction) int {
	switch {
	case insn.Index > math.MaxUint8 || insn.Form == FormWide:
		return 4
	case insn.Index <= 3 && insn.code != OpRet && insn.Form == FormCompact:
		return 1
	}
	return 2
}

func iincWide(insn *IncrementInstruction) bool {
	return insn.Form == FormWide || insn.Index > math.MaxUint8 ||
		insn.Delta < math.MinInt8 || insn.Delta > math.MaxInt8
}

func fitsInt16(v int) bool {
	return v >= math.MinInt16 && v <= math.MaxInt16
}

func (e *Encoder) emit(w *binio.Writer, lay *layout, i int, insn Instruction) error {
	here := lay.offsets[i]
	rel := func(l *Label) int { return e.offsets[l] - here }

	switch insn := insn.(type) {
	case *Label:
	case *SimpleInstruction:
		w.U1(uint8(insn.code))
	case *PushInstruction:
		w.U1(uint8(insn.code))
		if insn.code == OpBipush {
			w.U1(uint8(int8(insn.Value)))
		} else {
			w.U2(uint16(insn.Value))
		}
	case *LdcInstruction:
		idx := lay.index[i]
		switch {
		case insn.Opcode() == OpLdc2W:
			w.U1(uint8(OpLdc2W))
			w.U2(idx)
		case ldcShort(insn, idx):
			w.U1(uint8(OpLdc))
			w.U1(uint8(idx))
		default:
			w.U1(uint8(OpLdcW))
			w.U2(idx)
		}
	case *VarInstruction:
		switch varWidth(insn) {
		case 1:
			w.U1(uint8(shortForm(insn.code)) + uint8(insn.Index))
		case 2:
			w.U1(uint8(insn.code))
			w.U1(uint8(insn.Index))
		default:
			w.U1(uint8(OpWide))
			w.U1(uint8(insn.code))
			w.U2(insn.Index)
		}
	case *IncrementInstruction:
		if iincWide(insn) {
			w.U1(uint8(OpWide))
			w.U1(uint8(OpIinc))
			w.U2(insn.Index)
			w.U2(uint16(insn.Delta))
		} else {
			w.U1(uint8(OpIinc))
			w.U1(uint8(insn.Index))
			w.U1(uint8(int8(insn.Delta)))
		}
	case *JumpInstruction:
		d := rel(insn.Target)
		if lay.wide[i] {
			wideOp := OpGotoW
			if insn.code == OpJsr {
				wideOp = OpJsrW
			}
			w.U1(uint8(wideOp))
			w.U4(uint32(int32(d)))
			break
		}
		if !fitsInt16(d) {
			return derrors.Errorf(derrors.BranchOffsetOverflow, "%s offset %d does not fit 16 bits", insn.code, d)
		}
		w.U1(uint8(insn.code))
		w.U2(uint16(int16(d)))
	case *TableSwitchInstruction:
		w.U1(uint8(OpTableswitch))
		writePadding(w, here)
		w.U4(uint32(int32(rel(insn.Default))))
		w.U4(uint32(insn.Low))
		w.U4(uint32(insn.High()))
		for _, l := range insn.Labels {
			w.U4(uint32(int32(rel(l))))
		}
	case *LookupSwitchInstruction:
		w.U1(uint8(OpLookupswitch))
		writePadding(w, here)
		w.U4(uint32(int32(rel(insn.Default))))
		w.U4(uint32(len(insn.Cases)))
		for _, c := range insn.Cases {
			w.U4(uint32(c.Key))
			w.U4(uint32(int32(rel(c.Target))))
		}
	case *FieldInstruction:
		w.U1(uint8(insn.code))
		w.U2(lay.index[i])
	case *MethodInstruction:
		w.U1(uint8(insn.code))
		w.U2(lay.index[i])
		if insn.code == OpInvokeinterface {
			m, err := descriptor.ParseMethod(insn.Descriptor)
			if err != nil {
				return err
			}
			w.U1(uint8(m.ArgSlots() + 1))
			w.U1(0)
		}
	case *InvokeDynamicInstruction:
		w.U1(uint8(OpInvokedynamic))
		w.U2(lay.index[i])
		w.U2(0)
	case *TypeInstruction:
		w.U1(uint8(insn.code))
		w.U2(lay.index[i])
	case *NewArrayInstruction:
		if insn.Type < TBoolean || insn.Type > TLong {
			return derrors.Errorf(derrors.InvalidOperand, "newarray type code %d", insn.Type)
		}
		w.U1(uint8(OpNewarray))
		w.U1(uint8(insn.Type))
	case *MultiANewArrayInstruction:
		if insn.Dimensions == 0 {
			return derrors.Errorf(derrors.InvalidOperand, "multianewarray with 0 dimensions")
		}
		w.U1(uint8(OpMultianewarray))
		w.U2(lay.index[i])
		w.U1(insn.Dimensions)
	default:
		return derrors.Errorf(derrors.InvalidOperand, "unknown instruction type %T", insn)
	}
	return nil
}

// shortForm returns the _0 opcode of a load or store.
func shortForm(code Opcode) Opcode {
	if code <= OpAload {
		return OpIload0 + (code-OpIload)*4
	}
	return OpIstore0 + (code-OpIstore)*4
}

func writePadding(w *binio.Writer, off int) {
	for range padding(off) {
		w.U1(0)
	}
}
