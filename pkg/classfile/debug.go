package classfile

import (
	"math"

	"github.com/daimatz/gojasm/internal/binio"
	"github.com/daimatz/gojasm/pkg/bytecode"
	"github.com/daimatz/gojasm/pkg/constpool"
	"github.com/daimatz/gojasm/pkg/derrors"
)

// LineNumber maps the instruction at Start to a source line.
type LineNumber struct {
	Start *bytecode.Label
	Line  uint16
}

// LineNumberTableAttribute is the LineNumberTable of a Code attribute.
type LineNumberTableAttribute struct {
	Lines []LineNumber
}

func parseLineNumberTable(node *AttributeNode, r *ReaderState, _ Scope) (Attribute, error) {
	if r.Labels == nil {
		return nil, derrors.Errorf(derrors.Internal, "LineNumberTable outside a Code attribute")
	}
	a := &LineNumberTableAttribute{}
	err := decodePayload(node, func(br *binio.Reader) error {
		n, err := br.U2()
		if err != nil {
			return err
		}
		a.Lines = make([]LineNumber, n)
		for i := range a.Lines {
			pc, err := br.U2()
			if err != nil {
				return err
			}
			if a.Lines[i].Line, err = br.U2(); err != nil {
				return err
			}
			if a.Lines[i].Start, err = r.Labels.LabelAt(int(pc)); err != nil {
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

func (a *LineNumberTableAttribute) Save(w *WriterState, _ Scope) ([]byte, error) {
	if w.Offsets == nil {
		return nil, derrors.Errorf(derrors.Internal, "LineNumberTable outside a Code attribute")
	}
	bw := binio.NewWriter()
	if err := writeCount(bw, len(a.Lines), "line numbers"); err != nil {
		return nil, err
	}
	for _, ln := range a.Lines {
		pc, err := w.Offsets.Offset(ln.Start)
		if err != nil {
			return nil, err
		}
		bw.U2(uint16(pc))
		bw.U2(ln.Line)
	}
	return bw.Bytes(), nil
}

// LocalVariable is one entry of a local variable table: the variable in
// slot Index is live over [Start, End). In a LocalVariableTypeTable,
// Descriptor holds the generic signature.
type LocalVariable struct {
	Start      *bytecode.Label
	End        *bytecode.Label
	Name       string
	Descriptor string
	Index      uint16
}

// LocalVariableTableAttribute is the LocalVariableTable of a Code attribute.
type LocalVariableTableAttribute struct {
	Variables []LocalVariable
}

// LocalVariableTypeTableAttribute is the LocalVariableTypeTable of a Code
// attribute.
type LocalVariableTypeTableAttribute struct {
	Variables []LocalVariable
}

func parseLocalVariables(typed bool) AttributeFactoryFunc {
	return func(node *AttributeNode, r *ReaderState, _ Scope) (Attribute, error) {
		if r.Labels == nil {
			return nil, derrors.Errorf(derrors.Internal, "%s outside a Code attribute", node.Name)
		}
		vars, err := readLocalVariables(node, r)
		if err != nil {
			return nil, err
		}
		if typed {
			return &LocalVariableTypeTableAttribute{vars}, nil
		}
		return &LocalVariableTableAttribute{vars}, nil
	}
}

func readLocalVariables(node *AttributeNode, r *ReaderState) ([]LocalVariable, error) {
	var vars []LocalVariable
	err := decodePayload(node, func(br *binio.Reader) error {
		n, err := br.U2()
		if err != nil {
			return err
		}
		vars = make([]LocalVariable, n)
		for i := range vars {
			var f [5]uint16 // start_pc, length, name, descriptor, index
			for k := range f {
				if f[k], err = br.U2(); err != nil {
					return err
				}
			}
			v := &vars[i]
			v.Index = f[4]
			if v.Start, err = r.Labels.LabelAt(int(f[0])); err != nil {
				return err
			}
			if v.End, err = r.Labels.LabelAt(int(f[0]) + int(f[1])); err != nil {
				return err
			}
			if v.Name, err = r.Pool.Utf8At(f[2]); err != nil {
				return err
			}
			if v.Descriptor, err = r.Pool.Utf8At(f[3]); err != nil {
				return err
			}
		}
		return nil
	})
	return vars, err
}

func (a *LocalVariableTableAttribute) Save(w *WriterState, _ Scope) ([]byte, error) {
	return saveLocalVariables(w, a.Variables)
}

func (a *LocalVariableTypeTableAttribute) Save(w *WriterState, _ Scope) ([]byte, error) {
	return saveLocalVariables(w, a.Variables)
}

func saveLocalVariables(w *WriterState, vars []LocalVariable) ([]byte, error) {
	if w.Offsets == nil {
		return nil, derrors.Errorf(derrors.Internal, "local variable table outside a Code attribute")
	}
	bw := binio.NewWriter()
	if err := writeCount(bw, len(vars), "local variables"); err != nil {
		return nil, err
	}
	for _, v := range vars {
		start, err := w.Offsets.Offset(v.Start)
		if err != nil {
			return nil, err
		}
		end, err := w.Offsets.Offset(v.End)
		if err != nil {
			return nil, err
		}
		if end < start || end-start > math.MaxUint16 {
			return nil, derrors.Errorf(derrors.MisalignedLabel, "local %s ends at %d before it starts at %d", v.Name, end, start)
		}
		name, err := w.Pool.Find(constpool.NewUtf8(v.Name))
		if err != nil {
			return nil, err
		}
		desc, err := w.Pool.Find(constpool.NewUtf8(v.Descriptor))
		if err != nil {
			return nil, err
		}
		bw.U2(uint16(start))
		bw.U2(uint16(end - start))
		bw.U2(name)
		bw.U2(desc)
		bw.U2(v.Index)
	}
	return bw.Bytes(), nil
}
