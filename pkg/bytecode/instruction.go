// Package bytecode models method bodies as ordered sequences of typed
// instructions and converts them to and from the byte array stored in a
// Code attribute.
//
// Branch targets are Labels: pointer-identity tokens that carry no offset of
// their own. A Decoder mints one Label per distinct target offset; an Encoder
// assigns offsets to Labels while laying out the code and reports them
// through Offset.
package bytecode

import (
	"math"

	"github.com/daimatz/gojasm/pkg/constpool"
	"github.com/daimatz/gojasm/pkg/derrors"
)

// Instruction is one element of a method body. The set of implementations
// is closed: *Label and the *XxxInstruction types of this package.
type Instruction interface {
	instruction()
}

// Label marks a position in an instruction sequence. Labels are compared by
// pointer; the field only keeps distinct Labels at distinct addresses.
type Label struct {
	_ byte
}

// NewLabel returns a fresh Label.
func NewLabel() *Label { return new(Label) }

func (*Label) instruction() {}

// op is embedded by every real instruction. The opcode is fixed by the
// constructor.
type op struct {
	code Opcode
}

// Opcode returns the instruction's opcode.
func (o op) Opcode() Opcode { return o.code }

func (op) instruction() {}

// SimpleInstruction is an instruction without operands.
type SimpleInstruction struct{ op }

// NewSimpleInstruction returns an operand-less instruction.
func NewSimpleInstruction(code Opcode) (*SimpleInstruction, error) {
	if !isSimple(code) {
		return nil, shapeError(code, "SimpleInstruction")
	}
	return &SimpleInstruction{op{code}}, nil
}

func isSimple(code Opcode) bool {
	switch {
	case code <= OpDconst1,
		code >= OpIaload && code <= OpSaload,
		code >= OpIastore && code <= OpLxor,
		code >= OpI2l && code <= OpDcmpg,
		code >= OpIreturn && code <= OpReturn,
		code == OpArraylength, code == OpAthrow,
		code == OpMonitorenter, code == OpMonitorexit:
		return true
	}
	return false
}

// PushInstruction pushes a sign-extended immediate: BIPUSH or SIPUSH.
type PushInstruction struct {
	op
	Value int16
}

// NewPushInstruction returns a BIPUSH or SIPUSH of v.
func NewPushInstruction(code Opcode, v int16) (*PushInstruction, error) {
	switch code {
	case OpBipush:
		if v < math.MinInt8 || v > math.MaxInt8 {
			return nil, derrors.Errorf(derrors.InvalidOperand, "bipush value %d out of range", v)
		}
	case OpSipush:
	default:
		return nil, shapeError(code, "PushInstruction")
	}
	return &PushInstruction{op{code}, v}, nil
}

// Form is the encoding requested for an instruction that has more than one.
// The encoder uses the requested form unless the operands need a longer
// one, so a decoded method keeps the widths it was read with.
type Form uint8

const (
	// FormCompact is the shortest encoding that fits the operands.
	FormCompact Form = iota
	// FormExplicit spells out an operand that has an implicit form:
	// ILOAD 1 instead of ILOAD_1.
	FormExplicit
	// FormWide is the WIDE prefix for locals and IINC, LDC_W for LDC and
	// GOTO_W/JSR_W for GOTO/JSR.
	FormWide
)

// LdcInstruction pushes a loadable constant. Whether it is written as LDC,
// LDC_W or LDC2_W is decided by the encoder.
type LdcInstruction struct {
	Value constpool.Entry
	Form  Form
}

// NewLdcInstruction returns an instruction loading v.
func NewLdcInstruction(v constpool.Entry) (*LdcInstruction, error) {
	if v == nil || !constpool.Loadable(v) {
		return nil, derrors.Errorf(derrors.InvalidOperand, "%T is not a loadable constant", v)
	}
	return &LdcInstruction{Value: v}, nil
}

func (*LdcInstruction) instruction() {}

// Opcode returns LDC2_W for long and double constants and LDC otherwise.
func (i *LdcInstruction) Opcode() Opcode {
	if i.Value != nil && i.Value.Tag().Wide() {
		return OpLdc2W
	}
	return OpLdc
}

// VarInstruction reads or writes a local variable slot: xLOAD, xSTORE and
// RET. The one-byte _0.._3 forms and WIDE are encoding details.
type VarInstruction struct {
	op
	Index uint16
	Form  Form
}

// NewVarInstruction returns a local variable access of the given slot.
func NewVarInstruction(code Opcode, index uint16) (*VarInstruction, error) {
	if !isVar(code) {
		return nil, shapeError(code, "VarInstruction")
	}
	return &VarInstruction{op: op{code}, Index: index}, nil
}

func isVar(code Opcode) bool {
	return code >= OpIload && code <= OpAload ||
		code >= OpIstore && code <= OpAstore ||
		code == OpRet
}

// IncrementInstruction is IINC.
type IncrementInstruction struct {
	op
	Index uint16
	Delta int16
	Form  Form
}

// NewIncrementInstruction returns an IINC of slot index by delta.
func NewIncrementInstruction(index uint16, delta int16) *IncrementInstruction {
	return &IncrementInstruction{op: op{OpIinc}, Index: index, Delta: delta}
}

// JumpInstruction is a conditional or unconditional branch. GOTO and JSR are
// widened to GOTO_W and JSR_W by the encoder when needed.
type JumpInstruction struct {
	op
	Target *Label
	// Form is FormWide to keep GOTO_W or JSR_W. Conditional branches have
	// a single form.
	Form Form
}

// NewJumpInstruction returns a branch to target.
func NewJumpInstruction(code Opcode, target *Label) (*JumpInstruction, error) {
	if !isJump(code) {
		return nil, shapeError(code, "JumpInstruction")
	}
	if target == nil {
		return nil, derrors.Errorf(derrors.InvalidOperand, "%s without a target", code)
	}
	return &JumpInstruction{op: op{code}, Target: target}, nil
}

func isJump(code Opcode) bool {
	return code >= OpIfeq && code <= OpJsr || code == OpIfnull || code == OpIfnonnull
}

// Conditional reports whether the branch has a fall-through path. Only
// unconditional branches can be widened.
func (i *JumpInstruction) Conditional() bool {
	return i.code != OpGoto && i.code != OpJsr
}

// TableSwitchInstruction is TABLESWITCH. Labels[k] is the target for key
// Low+k; the upper bound is derived, never stored.
type TableSwitchInstruction struct {
	op
	Default *Label
	Low     int32
	Labels  []*Label
}

// NewTableSwitchInstruction returns a TABLESWITCH over [low, low+len(labels)-1].
func NewTableSwitchInstruction(dflt *Label, low int32, labels []*Label) (*TableSwitchInstruction, error) {
	if len(labels) == 0 {
		return nil, derrors.Errorf(derrors.InvalidOperand, "tableswitch without cases")
	}
	if int64(low)+int64(len(labels))-1 > math.MaxInt32 {
		return nil, derrors.Errorf(derrors.InvalidOperand, "tableswitch high bound overflows int32")
	}
	if dflt == nil || hasNil(labels) {
		return nil, derrors.Errorf(derrors.InvalidOperand, "tableswitch with a nil target")
	}
	return &TableSwitchInstruction{op{OpTableswitch}, dflt, low, labels}, nil
}

// High returns the largest key covered by the table.
func (i *TableSwitchInstruction) High() int32 {
	return i.Low + int32(len(i.Labels)) - 1
}

// SwitchCase is one key/target pair of a LOOKUPSWITCH.
type SwitchCase struct {
	Key    int32
	Target *Label
}

// LookupSwitchInstruction is LOOKUPSWITCH. Cases must be sorted by Key when
// the instruction is encoded.
type LookupSwitchInstruction struct {
	op
	Default *Label
	Cases   []SwitchCase
}

// NewLookupSwitchInstruction returns a LOOKUPSWITCH.
func NewLookupSwitchInstruction(dflt *Label, cases []SwitchCase) (*LookupSwitchInstruction, error) {
	if dflt == nil {
		return nil, derrors.Errorf(derrors.InvalidOperand, "lookupswitch without a default target")
	}
	for _, c := range cases {
		if c.Target == nil {
			return nil, derrors.Errorf(derrors.InvalidOperand, "lookupswitch case %d without a target", c.Key)
		}
	}
	return &LookupSwitchInstruction{op{OpLookupswitch}, dflt, cases}, nil
}

// FieldInstruction is GETFIELD, PUTFIELD, GETSTATIC or PUTSTATIC.
type FieldInstruction struct {
	op
	Owner      string
	Name       string
	Descriptor string
}

// NewFieldInstruction returns a field access of owner.name:descriptor.
func NewFieldInstruction(code Opcode, owner, name, descriptor string) (*FieldInstruction, error) {
	if code < OpGetstatic || code > OpPutfield {
		return nil, shapeError(code, "FieldInstruction")
	}
	return &FieldInstruction{op{code}, owner, name, descriptor}, nil
}

// MethodInstruction is INVOKEVIRTUAL, INVOKESPECIAL, INVOKESTATIC or
// INVOKEINTERFACE. Interface selects an InterfaceMethodref pool entry.
type MethodInstruction struct {
	op
	Owner      string
	Name       string
	Descriptor string
	Interface  bool
}

// NewMethodInstruction returns a method invocation. INVOKEINTERFACE always
// refers to an interface method.
func NewMethodInstruction(code Opcode, owner, name, descriptor string, itf bool) (*MethodInstruction, error) {
	if code < OpInvokevirtual || code > OpInvokeinterface {
		return nil, shapeError(code, "MethodInstruction")
	}
	if code == OpInvokeinterface {
		itf = true
	}
	return &MethodInstruction{op{code}, owner, name, descriptor, itf}, nil
}

// InvokeDynamicInstruction is INVOKEDYNAMIC. BootstrapIndex indexes the
// class's BootstrapMethods attribute.
type InvokeDynamicInstruction struct {
	op
	BootstrapIndex uint16
	Name           string
	Descriptor     string
}

// NewInvokeDynamicInstruction returns an INVOKEDYNAMIC call site.
func NewInvokeDynamicInstruction(bootstrap uint16, name, descriptor string) *InvokeDynamicInstruction {
	return &InvokeDynamicInstruction{op{OpInvokedynamic}, bootstrap, name, descriptor}
}

// TypeInstruction is NEW, ANEWARRAY, CHECKCAST or INSTANCEOF.
type TypeInstruction struct {
	op
	Class string
}

// NewTypeInstruction returns an instruction operating on the named class.
func NewTypeInstruction(code Opcode, class string) (*TypeInstruction, error) {
	switch code {
	case OpNew, OpAnewarray, OpCheckcast, OpInstanceof:
	default:
		return nil, shapeError(code, "TypeInstruction")
	}
	return &TypeInstruction{op{code}, class}, nil
}

// ArrayType is the element type code of NEWARRAY.
type ArrayType uint8

// Array type codes
const (
	TBoolean ArrayType = 4
	TChar    ArrayType = 5
	TFloat   ArrayType = 6
	TDouble  ArrayType = 7
	TByte    ArrayType = 8
	TShort   ArrayType = 9
	TInt     ArrayType = 10
	TLong    ArrayType = 11
)

var arrayTypeNames = map[ArrayType]string{
	TBoolean: "boolean",
	TChar:    "char",
	TFloat:   "float",
	TDouble:  "double",
	TByte:    "byte",
	TShort:   "short",
	TInt:     "int",
	TLong:    "long",
}

func (t ArrayType) String() string {
	if s, ok := arrayTypeNames[t]; ok {
		return s
	}
	return "invalid"
}

// NewArrayInstruction is NEWARRAY.
type NewArrayInstruction struct {
	op
	Type ArrayType
}

// NewNewArrayInstruction returns a NEWARRAY of primitive element type t.
func NewNewArrayInstruction(t ArrayType) (*NewArrayInstruction, error) {
	if t < TBoolean || t > TLong {
		return nil, derrors.Errorf(derrors.InvalidOperand, "newarray type code %d", t)
	}
	return &NewArrayInstruction{op{OpNewarray}, t}, nil
}

// MultiANewArrayInstruction is MULTIANEWARRAY.
type MultiANewArrayInstruction struct {
	op
	Class      string
	Dimensions uint8
}

// NewMultiANewArrayInstruction returns a MULTIANEWARRAY creating dims
// dimensions of the array class.
func NewMultiANewArrayInstruction(class string, dims uint8) (*MultiANewArrayInstruction, error) {
	if dims == 0 {
		return nil, derrors.Errorf(derrors.InvalidOperand, "multianewarray with 0 dimensions")
	}
	return &MultiANewArrayInstruction{op{OpMultianewarray}, class, dims}, nil
}

func shapeError(code Opcode, shape string) error {
	return derrors.Errorf(derrors.InvalidOpcodeForShape, "%s cannot be a %s", code, shape)
}

func hasNil(labels []*Label) bool {
	for _, l := range labels {
		if l == nil {
			return true
		}
	}
	return false
}
