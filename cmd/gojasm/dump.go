package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/hokaccha/go-prettyjson"
	"github.com/spf13/cobra"

	"github.com/daimatz/gojasm/pkg/bytecode"
	"github.com/daimatz/gojasm/pkg/classfile"
	"github.com/daimatz/gojasm/pkg/classpath"
	"github.com/daimatz/gojasm/pkg/constpool"
)

type dumpOptions struct {
	from     string
	json     bool
	pool     bool
	noCode   bool
	rawAttrs bool
}

func newDumpCmd(a *app) *cobra.Command {
	var o dumpOptions
	cmd := &cobra.Command{
		Use:   "dump <file.class | class-name>",
		Short: "Print the structure and disassembly of a class",
		Long: "Print the header, members, attributes and disassembled code of a class.\n" +
			"With --from the argument is a class name looked up in a directory, jar or jmod.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.loadClass(args[0], o.from, o.rawAttrs)
			if err != nil {
				return err
			}
			if o.json {
				return writeJSON(a.out, summarize(c), color.NoColor)
			}
			return dumpClass(a.out, c, o)
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.from, "from", "", "directory, jar or jmod to load the class from")
	f.BoolVar(&o.json, "json", false, "print a JSON summary")
	f.BoolVar(&o.pool, "pool", false, "print the constant pool")
	f.BoolVar(&o.noCode, "no-code", false, "omit disassembly")
	f.BoolVar(&o.rawAttrs, "raw", false, "do not decode attributes")
	return cmd
}

func (a *app) loadClass(arg, from string, raw bool) (*classfile.ClassNode, error) {
	opts := []classfile.Option{classfile.WithLogger(a.log)}
	if raw {
		opts = append(opts, classfile.WithRawAttributes())
	}
	if from == "" {
		return classfile.ParseFile(arg, opts...)
	}
	src, err := classpath.Open(from)
	if err != nil {
		return nil, err
	}
	defer src.Close()
	return classpath.NewLoader(src, opts...).LoadClass(strings.ReplaceAll(arg, ".", "/"))
}

func writeJSON(w io.Writer, v any, noColor bool) error {
	var (
		data []byte
		err  error
	)
	if noColor {
		data, err = json.MarshalIndent(v, "", "  ")
	} else {
		data, err = prettyjson.Marshal(v)
	}
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s\n", data)
	return err
}

type attrSummary struct {
	Name string `json:"name"`
	Size int    `json:"size"`
	Raw  bool   `json:"raw,omitempty"`
}

type memberSummary struct {
	Name       string        `json:"name"`
	Descriptor string        `json:"descriptor"`
	Access     []string      `json:"access,omitempty"`
	Attributes []attrSummary `json:"attributes,omitempty"`
}

type classSummary struct {
	Name       string          `json:"name"`
	Version    string          `json:"version"`
	Access     []string        `json:"access,omitempty"`
	Super      string          `json:"super,omitempty"`
	Interfaces []string        `json:"interfaces,omitempty"`
	PoolSize   int             `json:"pool_size"`
	Attributes []attrSummary   `json:"attributes,omitempty"`
	Fields     []memberSummary `json:"fields,omitempty"`
	Methods    []memberSummary `json:"methods,omitempty"`
}

func summarize(c *classfile.ClassNode) classSummary {
	s := classSummary{
		Name:       c.Name,
		Version:    fmt.Sprintf("%d.%d", c.MajorVersion, c.MinorVersion),
		Access:     c.Access.Keywords(classfile.ScopeClass),
		Super:      c.SuperName,
		Interfaces: c.Interfaces,
		Attributes: summarizeAttrs(c.Attributes),
	}
	if c.Pool != nil {
		s.PoolSize = c.Pool.Len()
	}
	for _, f := range c.Fields {
		s.Fields = append(s.Fields, memberSummary{
			Name:       f.Name,
			Descriptor: f.Descriptor.String(),
			Access:     f.Access.Keywords(classfile.ScopeField),
			Attributes: summarizeAttrs(f.Attributes),
		})
	}
	for _, m := range c.Methods {
		s.Methods = append(s.Methods, memberSummary{
			Name:       m.Name,
			Descriptor: m.Descriptor.String(),
			Access:     m.Access.Keywords(classfile.ScopeMethod),
			Attributes: summarizeAttrs(m.Attributes),
		})
	}
	return s
}

func summarizeAttrs(attrs []*classfile.AttributeNode) []attrSummary {
	var out []attrSummary
	for _, a := range attrs {
		out = append(out, attrSummary{Name: a.Name, Size: len(a.Data), Raw: a.Parsed == nil})
	}
	return out
}

// dumpWriter remembers the first write error so the printing code can stay
// linear.
type dumpWriter struct {
	w   io.Writer
	err error
}

func (d *dumpWriter) printf(format string, args ...any) {
	if d.err != nil {
		return
	}
	_, d.err = fmt.Fprintf(d.w, format, args...)
}

func dumpClass(w io.Writer, c *classfile.ClassNode, o dumpOptions) error {
	d := &dumpWriter{w: w}
	kind := "class"
	if c.Access.IsInterface() {
		kind = "interface"
	}
	d.printf("%s %s\n", cyan(kind), bold(c.Name))
	d.printf("  version: %d.%d\n", c.MajorVersion, c.MinorVersion)
	d.printf("  flags: %s\n", c.Access.Format(classfile.ScopeClass))
	if c.SuperName != "" {
		d.printf("  super: %s\n", c.SuperName)
	}
	if len(c.Interfaces) > 0 {
		d.printf("  interfaces: %s\n", strings.Join(c.Interfaces, ", "))
	}
	if c.Pool != nil {
		d.printf("  constant pool: %d slots\n", c.Pool.Len())
		if o.pool {
			for i, e := range c.Pool.All() {
				d.printf("    #%-5d %-18s %s\n", i, e.Tag(), formatEntry(e))
			}
		}
	}
	dumpAttrs(d, "  ", c.Attributes)

	for _, f := range c.Fields {
		d.printf("\n%s %s %s\n", cyan("field"), bold(f.Name), f.Descriptor)
		d.printf("  flags: %s\n", f.Access.Format(classfile.ScopeField))
		dumpAttrs(d, "  ", f.Attributes)
	}
	for _, m := range c.Methods {
		d.printf("\n%s %s%s\n", cyan("method"), bold(m.Name), m.Descriptor)
		d.printf("  flags: %s\n", m.Access.Format(classfile.ScopeMethod))
		dumpAttrs(d, "  ", m.Attributes)
		if code := m.Code(); code != nil && !o.noCode {
			dumpCode(d, code)
		}
	}
	return d.err
}

func dumpAttrs(d *dumpWriter, indent string, attrs []*classfile.AttributeNode) {
	if len(attrs) == 0 {
		return
	}
	names := make([]string, len(attrs))
	for i, a := range attrs {
		names[i] = a.Name
		if a.Parsed == nil {
			names[i] += yellow(fmt.Sprintf(" [raw %d bytes]", len(a.Data)))
		}
	}
	d.printf("%sattributes: %s\n", indent, strings.Join(names, ", "))
}

func dumpCode(d *dumpWriter, code *classfile.CodeAttribute) {
	d.printf("  code: max_stack=%d max_locals=%d\n", code.MaxStack, code.MaxLocals)
	names := bytecode.NameLabels(code.Instructions)
	for _, insn := range code.Instructions {
		if l, ok := insn.(*bytecode.Label); ok {
			d.printf("  %s:\n", green(names.Name(l)))
			continue
		}
		d.printf("      %s\n", bytecode.Format(insn, names))
	}
	if len(code.ExceptionTable) > 0 {
		d.printf("  exception table:\n")
		for _, h := range code.ExceptionTable {
			catch := h.CatchType
			if catch == "" {
				catch = "any"
			}
			d.printf("    [%s, %s) -> %s %s\n", names.Name(h.Start), names.Name(h.End), names.Name(h.Handler), catch)
		}
	}
	dumpAttrs(d, "  ", code.Attributes)
}

func formatEntry(e constpool.Entry) string {
	switch e := e.(type) {
	case *constpool.Utf8:
		return strconv.Quote(e.Value)
	case *constpool.NameAndType:
		return e.Name.Value + ":" + e.Descriptor.Value
	case *constpool.FieldRef:
		return formatMember(&e.MemberRef)
	case *constpool.MethodRef:
		return formatMember(&e.MemberRef)
	case *constpool.InterfaceMethodRef:
		return formatMember(&e.MemberRef)
	case *constpool.InvokeDynamic:
		return fmt.Sprintf("#%d:%s:%s", e.BootstrapIndex, e.NameAndType.Name.Value, e.NameAndType.Descriptor.Value)
	case *constpool.Module:
		return e.Name.Value
	case *constpool.Package:
		return e.Name.Value
	}
	return bytecode.FormatConstant(e)
}

func formatMember(m *constpool.MemberRef) string {
	return m.Class.Name.Value + "." + m.NameAndType.Name.Value + ":" + m.NameAndType.Descriptor.Value
}
