package bytecode

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daimatz/gojasm/pkg/constpool"
	"github.com/daimatz/gojasm/pkg/derrors"
)

// branchy is:
//
//	0: iload_1
//	1: ifeq 8
//	4: iconst_1
//	5: goto 9
//	8: iconst_0
//	9: ireturn
var branchy = []byte{0x1B, 0x99, 0x00, 0x07, 0x04, 0xA7, 0x00, 0x04, 0x03, 0xAC}

func listing(t *testing.T, insns []Instruction) string {
	t.Helper()
	var b strings.Builder
	require.NoError(t, Fprint(&b, insns))
	return b.String()
}

func TestDecodeBranches(t *testing.T) {
	d, err := NewDecoder(branchy, constpool.New())
	require.NoError(t, err)

	want := `    iload 1
    ifeq L0
    iconst_1
    goto L1
L0:
    iconst_0
L1:
    ireturn
`
	assert.Equal(t, want, listing(t, d.Instructions()))
}

func TestDecodeSharesLabels(t *testing.T) {
	// 0: iload_0; 1: ifeq 7; 4: goto 7; 7: return
	code := []byte{0x1A, 0x99, 0x00, 0x06, 0xA7, 0x00, 0x03, 0xB1}
	d, err := NewDecoder(code, constpool.New())
	require.NoError(t, err)
	insns := d.Instructions()

	ifeq := insns[1].(*JumpInstruction)
	jmp := insns[2].(*JumpInstruction)
	assert.Same(t, ifeq.Target, jmp.Target)

	l, err := d.LabelAt(7)
	require.NoError(t, err)
	assert.Same(t, ifeq.Target, l, "LabelAt must reuse the label minted by the scan")
	assert.Same(t, l, insns[3], "label is placed before the instruction at its offset")
}

func TestLabelAt(t *testing.T) {
	d, err := NewDecoder(branchy, constpool.New())
	require.NoError(t, err)

	tests := []struct {
		offset int
		ok     bool
	}{
		{0, true},
		{1, true},
		{2, false}, // inside ifeq
		{9, true},
		{10, true}, // end of code
		{11, false},
		{-1, false},
	}
	for _, tt := range tests {
		_, err := d.LabelAt(tt.offset)
		if tt.ok && err != nil {
			t.Errorf("LabelAt(%d): %v", tt.offset, err)
		}
		if !tt.ok && !errors.Is(err, derrors.MisalignedLabel) {
			t.Errorf("LabelAt(%d): got %v, want MisalignedLabel", tt.offset, err)
		}
	}

	// A label minted for the end of the code is placed last.
	end, err := d.LabelAt(10)
	require.NoError(t, err)
	insns := d.Instructions()
	assert.Same(t, end, insns[len(insns)-1])
}

func TestDecodeTableSwitch(t *testing.T) {
	code := []byte{
		0x1A,                   // 0: iload_0
		0xAA, 0x00, 0x00,       // 1: tableswitch, 2 bytes of padding
		0x00, 0x00, 0x00, 0x19, // default -> 26
		0x00, 0x00, 0x00, 0x01, // low
		0x00, 0x00, 0x00, 0x02, // high
		0x00, 0x00, 0x00, 0x17, // 1 -> 24
		0x00, 0x00, 0x00, 0x17, // 2 -> 24
		0x03, 0xAC,             // 24: iconst_0, ireturn
		0x04, 0xAC,             // 26: iconst_1, ireturn
	}
	d, err := NewDecoder(code, constpool.New())
	require.NoError(t, err)
	insns := d.Instructions()

	ts, ok := insns[1].(*TableSwitchInstruction)
	require.True(t, ok, "got %T", insns[1])
	assert.Equal(t, int32(1), ts.Low)
	assert.Equal(t, int32(2), ts.High())
	assert.Len(t, ts.Labels, 2)
	assert.Same(t, ts.Labels[0], ts.Labels[1])
	assert.NotSame(t, ts.Default, ts.Labels[0])

	want := `    iload 0
    tableswitch 1..2 { 1: L0, 2: L0, default: L1 }
L0:
    iconst_0
    ireturn
L1:
    iconst_1
    ireturn
`
	assert.Equal(t, want, listing(t, insns))

	got, err := NewEncoder(constpool.New()).Encode(insns)
	require.NoError(t, err)
	assert.Equal(t, code, got)
}

func TestDecodeKeepsForms(t *testing.T) {
	code := []byte{
		0xC4, 0x15, 0x01, 0x00,             // wide iload 256
		0x2D,                               // aload_3
		0x4B,                               // astore_0
		0xC4, 0x84, 0x00, 0x02, 0xFF, 0x38, // wide iinc 2 -200
		0xC8, 0xFF, 0xFF, 0xFF, 0xF4,       // goto_w 0
	}
	d, err := NewDecoder(code, constpool.New())
	require.NoError(t, err)
	insns := d.Instructions()

	// The listing does not depend on the form.
	want := `L0:
    iload 256
    aload 3
    astore 0
    iinc 2 -200
    goto L0
`
	assert.Equal(t, want, listing(t, insns))
	assert.Equal(t, FormWide, insns[5].(*JumpInstruction).Form)

	got, err := NewEncoder(constpool.New()).Encode(insns)
	require.NoError(t, err)
	assert.Equal(t, code, got)
}

// 長い形式で書かれた命令は、同じ長さのまま書き戻されること。
func TestReencodeLongForms(t *testing.T) {
	p := constpool.New()
	str, err := p.Find(constpool.NewString("x"))
	require.NoError(t, err)
	require.Less(t, str, uint16(256))

	tests := []struct {
		name string
		code []byte
		form Form
	}{
		{"iload with index byte", []byte{0x15, 0x01, 0xAC}, FormExplicit},
		{"astore with index byte", []byte{0x3A, 0x00, 0xB1}, FormExplicit},
		{"wide iload", []byte{0xC4, 0x15, 0x00, 0x02, 0xAC}, FormWide},
		{"wide iinc", []byte{0xC4, 0x84, 0x00, 0x01, 0x00, 0x01, 0xB1}, FormWide},
		{"ldc_w of small index", []byte{0x13, 0x00, byte(str), 0xB0}, FormWide},
		{"goto_w of short offset", []byte{0xC8, 0x00, 0x00, 0x00, 0x05, 0xB1}, FormWide},
		{"jsr_w", []byte{0xC9, 0x00, 0x00, 0x00, 0x05, 0xB1}, FormWide},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := NewDecoder(tt.code, p)
			require.NoError(t, err)
			insns := d.Instructions()

			var form Form
			switch insn := insns[0].(type) {
			case *VarInstruction:
				form = insn.Form
			case *IncrementInstruction:
				form = insn.Form
			case *LdcInstruction:
				form = insn.Form
			case *JumpInstruction:
				form = insn.Form
			default:
				t.Fatalf("first instruction is %T", insns[0])
			}
			assert.Equal(t, tt.form, form)

			got, err := NewEncoder(p).Encode(insns)
			require.NoError(t, err)
			assert.Equal(t, tt.code, got)
		})
	}
}

func TestDecodeMalformed(t *testing.T) {
	tests := []struct {
		name string
		code []byte
		want error
	}{
		{"unknown opcode", []byte{0xCA}, derrors.MalformedCode},
		{"truncated sipush", []byte{0x11, 0x00}, derrors.MalformedCode},
		{"truncated switch padding", []byte{0x00, 0xAA, 0x00}, derrors.MalformedCode},
		{"wide of non-local", []byte{0xC4, 0x60, 0x00, 0x01}, derrors.MalformedCode},
		{"newarray bad type", []byte{0xBC, 0x03}, derrors.MalformedCode},
		{"tableswitch low > high", []byte{
			0xAA, 0x00, 0x00, 0x00,
			0x00, 0x00, 0x00, 0x00,
			0x00, 0x00, 0x00, 0x02,
			0x00, 0x00, 0x00, 0x01,
		}, derrors.MalformedCode},
		{"lookupswitch negative count", []byte{
			0xAB, 0x00, 0x00, 0x00,
			0x00, 0x00, 0x00, 0x00,
			0xFF, 0xFF, 0xFF, 0xFF,
		}, derrors.MalformedCode},
		{"branch into instruction", []byte{0xA7, 0x00, 0x01, 0xB1}, derrors.MisalignedLabel},
		{"branch before start", []byte{0xA7, 0xFF, 0xFE}, derrors.MisalignedLabel},
		{"branch to end of code", []byte{0xA7, 0x00, 0x03}, derrors.MisalignedLabel},
		{"switch default to end of code", []byte{
			0xAB, 0x00, 0x00, 0x00,
			0x00, 0x00, 0x00, 0x0C,
			0x00, 0x00, 0x00, 0x00,
		}, derrors.MisalignedLabel},
		{"ldc of bad index", []byte{0x12, 0x05}, derrors.MalformedPool},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewDecoder(tt.code, constpool.New())
			if !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestDecodePoolOperands(t *testing.T) {
	p := constpool.New()
	find := func(e constpool.Entry) byte {
		i, err := p.Find(e)
		require.NoError(t, err)
		require.Less(t, i, uint16(256))
		return byte(i)
	}
	out := find(constpool.NewFieldRef("java/lang/System", "out", "Ljava/io/PrintStream;"))
	hello := find(constpool.NewString("hello"))
	printlnRef := find(constpool.NewMethodRef("java/io/PrintStream", "println", "(Ljava/lang/String;)V"))
	run := find(constpool.NewInterfaceMethodRef("java/lang/Runnable", "run", "()V"))
	list := find(constpool.NewClass("java/util/ArrayList"))
	big := find(&constpool.Long{Value: 1 << 40})

	code := []byte{
		0xB2, 0x00, out,             // getstatic
		0x12, hello,                 // ldc
		0xB6, 0x00, printlnRef,      // invokevirtual
		0xBB, 0x00, list,            // new
		0x59,                        // dup
		0xB9, 0x00, run, 0x01, 0x00, // invokeinterface
		0x14, 0x00, big,             // ldc2_w
		0xB1,                        // return
	}
	d, err := NewDecoder(code, p)
	require.NoError(t, err)
	insns := d.Instructions()

	want := `    getstatic java/lang/System.out Ljava/io/PrintStream;
    ldc "hello"
    invokevirtual java/io/PrintStream.println(Ljava/lang/String;)V
    new java/util/ArrayList
    dup
    invokeinterface java/lang/Runnable.run()V
    ldc2_w 1099511627776L
    return
`
	assert.Equal(t, want, listing(t, insns))

	// Re-encoding into the same pool reproduces the bytes.
	got, err := NewEncoder(p).Encode(insns)
	require.NoError(t, err)
	assert.Equal(t, code, got)

	// Into a fresh pool the indices differ, but the structure survives.
	q := constpool.New()
	again, err := NewEncoder(q).Encode(insns)
	require.NoError(t, err)
	d2, err := NewDecoder(again, q)
	require.NoError(t, err)
	assert.Equal(t, want, listing(t, d2.Instructions()))
}

func TestDecodeInvokeinterfaceNeedsInterfaceRef(t *testing.T) {
	p := constpool.New()
	i, err := p.Find(constpool.NewMethodRef("A", "m", "()V"))
	require.NoError(t, err)
	code := []byte{0xB9, byte(i >> 8), byte(i), 0x01, 0x00}
	_, err = NewDecoder(code, p)
	assert.True(t, errors.Is(err, derrors.MalformedPool), "got %v", err)
}

func TestFprintSimple(t *testing.T) {
	insns := []Instruction{&SimpleInstruction{op{OpNop}}}
	var buf bytes.Buffer
	require.NoError(t, Fprint(&buf, insns))
	assert.Equal(t, "    nop\n", buf.String())
}
