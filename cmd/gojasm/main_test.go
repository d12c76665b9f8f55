package main

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/fatih/color"
	"github.com/mitchellh/go-homedir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daimatz/gojasm/pkg/bytecode"
	"github.com/daimatz/gojasm/pkg/classfile"
	"github.com/daimatz/gojasm/pkg/constpool"
	"github.com/daimatz/gojasm/pkg/derrors"
	"github.com/daimatz/gojasm/pkg/descriptor"
)

func must[T any](t *testing.T) func(T, error) T {
	return func(v T, err error) T {
		t.Helper()
		require.NoError(t, err)
		return v
	}
}

// helloBytes is a class whose run method prints "hello" and swallows any
// Exception.
func helloBytes(t *testing.T, name string) []byte {
	t.Helper()
	c := &classfile.ClassNode{
		MajorVersion: 52,
		Access:       classfile.AccPublic | classfile.AccSuper,
		Name:         name,
		SuperName:    "java/lang/Object",
	}
	start, end, handler, done := bytecode.NewLabel(), bytecode.NewLabel(), bytecode.NewLabel(), bytecode.NewLabel()
	code := &classfile.CodeAttribute{
		MaxStack:  2,
		MaxLocals: 2,
		Instructions: []bytecode.Instruction{
			start,
			must[*bytecode.FieldInstruction](t)(bytecode.NewFieldInstruction(bytecode.OpGetstatic, "java/lang/System", "out", "Ljava/io/PrintStream;")),
			must[*bytecode.LdcInstruction](t)(bytecode.NewLdcInstruction(constpool.NewString("hello"))),
			must[*bytecode.MethodInstruction](t)(bytecode.NewMethodInstruction(bytecode.OpInvokevirtual, "java/io/PrintStream", "println", "(Ljava/lang/String;)V", false)),
			end,
			must[*bytecode.JumpInstruction](t)(bytecode.NewJumpInstruction(bytecode.OpGoto, done)),
			handler,
			must[*bytecode.VarInstruction](t)(bytecode.NewVarInstruction(bytecode.OpAstore, 1)),
			done,
			must[*bytecode.SimpleInstruction](t)(bytecode.NewSimpleInstruction(bytecode.OpReturn)),
		},
		ExceptionTable: []classfile.ExceptionHandler{{Start: start, End: end, Handler: handler, CatchType: "java/lang/Exception"}},
	}
	c.Methods = []*classfile.MethodNode{{
		Owner:      c,
		Access:     classfile.AccPublic,
		Name:       "run",
		Descriptor: must[descriptor.Method](t)(descriptor.ParseMethod("()V")),
		Attributes: []*classfile.AttributeNode{classfile.NewAttribute(classfile.AttrCode, code)},
	}}
	c.Attributes = []*classfile.AttributeNode{{Name: "Custom", Data: []byte{1, 2, 3}}}
	return must[[]byte](t)(classfile.Marshal(c))
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	homedir.DisableCache = true
	t.Cleanup(func() { homedir.DisableCache = false })
	t.Setenv("HOME", t.TempDir())
	noColor := color.NoColor
	t.Cleanup(func() { color.NoColor = noColor })

	var out, errOut bytes.Buffer
	cmd := newRootCmd(&out, &errOut)
	cmd.SetArgs(append([]string{"--color", "never"}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "gojasm dev\n", out)
}

func TestDump(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Hello.class")
	require.NoError(t, os.WriteFile(path, helloBytes(t, "Hello"), 0o644))

	out, err := run(t, "dump", "--pool", path)
	require.NoError(t, err)
	for _, want := range []string{
		"class Hello\n",
		"  flags: public super\n",
		"  super: java/lang/Object\n",
		"attributes: Custom [raw 3 bytes]\n",
		"method run()V\n",
		"      getstatic java/lang/System.out Ljava/io/PrintStream;\n",
		"      ldc \"hello\"\n",
		"    [L0, L1) -> L2 java/lang/Exception\n",
		"Utf8",
	} {
		assert.Contains(t, out, want)
	}
}

func TestDumpJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Hello.class")
	require.NoError(t, os.WriteFile(path, helloBytes(t, "Hello"), 0o644))

	out, err := run(t, "dump", "--json", path)
	require.NoError(t, err)
	var got classSummary
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "Hello", got.Name)
	assert.Equal(t, "52.0", got.Version)
	require.Len(t, got.Methods, 1)
	assert.Equal(t, "()V", got.Methods[0].Descriptor)
	assert.Equal(t, []attrSummary{{Name: "Custom", Size: 3, Raw: true}}, got.Attributes)
}

func TestDumpFromJar(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("com/example/Hello.class")
	require.NoError(t, err)
	_, err = w.Write(helloBytes(t, "com/example/Hello"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	jar := filepath.Join(t.TempDir(), "app.jar")
	require.NoError(t, os.WriteFile(jar, buf.Bytes(), 0o644))

	out, err := run(t, "dump", "--no-code", "--from", jar, "com.example.Hello")
	require.NoError(t, err)
	assert.Contains(t, out, "class com/example/Hello\n")
	assert.NotContains(t, out, "getstatic")
}

func TestRoundtrip(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "A.class"), helloBytes(t, "A"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "p"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "p", "B.class"), helloBytes(t, "p/B"), 0o644))
	single := filepath.Join(t.TempDir(), "C.class")
	require.NoError(t, os.WriteFile(single, helloBytes(t, "C"), 0o644))

	out, err := run(t, "--workers", "2", "roundtrip", dir, single)
	require.NoError(t, err)
	assert.Equal(t, "ok 3 classes\n", out)
}

func TestRoundtripReportsEveryFailure(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Good.class"), helloBytes(t, "Good"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Bad1.class"), []byte{0xCA, 0xFE}, 0o644))
	truncated := helloBytes(t, "Bad2")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Bad2.class"), truncated[:len(truncated)-2], 0o644))

	_, err := run(t, "roundtrip", dir)
	require.Error(t, err)
	assert.ErrorContains(t, err, "Bad1")
	assert.ErrorContains(t, err, "Bad2")
	assert.NotContains(t, err.Error(), "Good")
	assert.True(t, errors.Is(err, derrors.MalformedHeader), "got %v", err)
}

func TestRewrite(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "Hello.class")
	out := filepath.Join(dir, "Out.class")
	data := helloBytes(t, "Hello")
	require.NoError(t, os.WriteFile(in, data, 0o644))

	for _, flags := range [][]string{nil, {"--compact"}, {"--raw"}} {
		_, err := run(t, append(append([]string{"rewrite"}, flags...), in, out)...)
		require.NoError(t, err, "flags %v", flags)
		got, err := os.ReadFile(out)
		require.NoError(t, err)
		assert.Equal(t, data, got, "flags %v", flags)
	}
}

func TestBadConfig(t *testing.T) {
	_, err := run(t, "--log-level", "loud", "version")
	assert.True(t, errors.Is(err, derrors.InvalidArgument), "got %v", err)
}
