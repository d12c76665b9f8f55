package classfile

import (
	"fmt"
	"math"

	"github.com/daimatz/gojasm/internal/binio"
	"github.com/daimatz/gojasm/pkg/bytecode"
	"github.com/daimatz/gojasm/pkg/derrors"
)

// ExceptionHandler represents an entry in the exception table. The range
// [Start, End) is protected; CatchType "" catches everything.
type ExceptionHandler struct {
	Start     *bytecode.Label
	End       *bytecode.Label
	Handler   *bytecode.Label
	CatchType string
}

// CodeAttribute represents the Code attribute of a method.
type CodeAttribute struct {
	MaxStack       uint16
	MaxLocals      uint16
	Instructions   []bytecode.Instruction
	ExceptionTable []ExceptionHandler
	Attributes     []*AttributeNode
}

// Attribute returns the first nested attribute with the given name.
func (c *CodeAttribute) Attribute(name string) *AttributeNode {
	return findAttribute(c.Attributes, name)
}

func parseCode(node *AttributeNode, r *ReaderState, _ Scope) (Attribute, error) {
	c := &CodeAttribute{}
	err := decodePayload(node, func(br *binio.Reader) error {
		var err error
		if c.MaxStack, err = br.U2(); err != nil {
			return err
		}
		if c.MaxLocals, err = br.U2(); err != nil {
			return err
		}
		length, err := br.U4()
		if err != nil {
			return err
		}
		if length == 0 || length > bytecode.MaxCodeLength {
			return derrors.Errorf(derrors.MalformedAttribute, "code_length %d", length)
		}
		code, err := br.Bytes(int(length))
		if err != nil {
			return err
		}
		dec, err := bytecode.NewDecoder(code, r.Pool)
		if err != nil {
			return err
		}

		n, err := br.U2()
		if err != nil {
			return err
		}
		c.ExceptionTable = make([]ExceptionHandler, n)
		for i := range c.ExceptionTable {
			if c.ExceptionTable[i], err = readHandler(br, r, dec); err != nil {
				return fmt.Errorf("exception handler %d: %w", i, err)
			}
		}

		// Nested attributes share the label space of the code.
		outer := r.Labels
		r.Labels = dec
		defer func() { r.Labels = outer }()
		if c.Attributes, err = readAttributes(br, r, ScopeCode); err != nil {
			return err
		}

		c.Instructions = dec.Instructions()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

func readHandler(br *binio.Reader, r *ReaderState, dec *bytecode.Decoder) (ExceptionHandler, error) {
	var h ExceptionHandler
	var offs [3]uint16
	for i := range offs {
		v, err := br.U2()
		if err != nil {
			return h, err
		}
		offs[i] = v
	}
	catch, err := br.U2()
	if err != nil {
		return h, err
	}
	if offs[0] >= offs[1] {
		return h, derrors.Errorf(derrors.MalformedAttribute, "empty protected range [%d, %d)", offs[0], offs[1])
	}
	if h.Start, err = dec.LabelAt(int(offs[0])); err != nil {
		return h, err
	}
	if h.End, err = dec.LabelAt(int(offs[1])); err != nil {
		return h, err
	}
	if h.Handler, err = dec.LabelAt(int(offs[2])); err != nil {
		return h, err
	}
	if int(offs[2]) == dec.Len() {
		return h, derrors.Errorf(derrors.MisalignedLabel, "handler at end of code")
	}
	if h.CatchType, err = optionalClass(r.Pool, catch); err != nil {
		return h, err
	}
	return h, nil
}

// Save encodes the instructions, then the exception table and nested
// attributes, whose Labels resolve against the fresh layout.
func (c *CodeAttribute) Save(w *WriterState, _ Scope) ([]byte, error) {
	enc := bytecode.NewEncoder(w.Pool)
	code, err := enc.Encode(c.Instructions)
	if err != nil {
		return nil, err
	}
	if len(code) == 0 {
		return nil, derrors.Errorf(derrors.MalformedCode, "empty code array")
	}
	w.Logger.Debug().Int("length", len(code)).Int("passes", enc.Passes()).Msg("encoded code")

	bw := binio.NewWriter()
	bw.U2(c.MaxStack)
	bw.U2(c.MaxLocals)
	bw.U4(uint32(len(code)))
	_, _ = bw.Write(code)

	if err := writeCount(bw, len(c.ExceptionTable), "exception handlers"); err != nil {
		return nil, err
	}
	for i, h := range c.ExceptionTable {
		if err := writeHandler(bw, w, enc, len(code), h); err != nil {
			return nil, fmt.Errorf("exception handler %d: %w", i, err)
		}
	}

	outer := w.Offsets
	w.Offsets = enc
	defer func() { w.Offsets = outer }()
	if err := writeAttributes(bw, w, ScopeCode, c.Attributes); err != nil {
		return nil, err
	}
	return bw.Bytes(), nil
}

func writeHandler(bw *binio.Writer, w *WriterState, enc *bytecode.Encoder, codeLen int, h ExceptionHandler) error {
	var offs [3]int
	for i, l := range []*bytecode.Label{h.Start, h.End, h.Handler} {
		off, err := enc.Offset(l)
		if err != nil {
			return err
		}
		if off > math.MaxUint16 {
			return derrors.Errorf(derrors.AttributeTooLarge, "handler offset %d", off)
		}
		offs[i] = off
	}
	if offs[0] >= offs[1] {
		return derrors.Errorf(derrors.MalformedAttribute, "empty protected range [%d, %d)", offs[0], offs[1])
	}
	if offs[2] == codeLen {
		return derrors.Errorf(derrors.MisalignedLabel, "handler at end of code")
	}
	catch, err := findOptionalClass(w.Pool, h.CatchType)
	if err != nil {
		return err
	}
	for _, off := range offs {
		bw.U2(uint16(off))
	}
	bw.U2(catch)
	return nil
}
