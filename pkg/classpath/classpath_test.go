package classpath

import (
	"archive/zip"
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daimatz/gojasm/pkg/classfile"
	"github.com/daimatz/gojasm/pkg/derrors"
)

func classBytes(t *testing.T, name string) []byte {
	t.Helper()
	data, err := classfile.Marshal(&classfile.ClassNode{MajorVersion: 52, Name: name, SuperName: "java/lang/Object"})
	require.NoError(t, err)
	return data
}

func zipBytes(t *testing.T, files map[string][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, data := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func walkNames(t *testing.T, s Source) []string {
	t.Helper()
	var names []string
	require.NoError(t, s.Walk(func(name string, data []byte) error {
		names = append(names, name)
		return nil
	}))
	return names
}

func TestDirSource(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "com", "example"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "Hello.class"), classBytes(t, "Hello"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "com", "example", "Util.class"), classBytes(t, "com/example/Util"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "README"), []byte("not a class"), 0o644))

	s, err := Open(root)
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, []string{"Hello", "com/example/Util"}, walkNames(t, s))

	data, err := s.Load("com/example/Util")
	require.NoError(t, err)
	assert.Equal(t, classBytes(t, "com/example/Util"), data)

	_, err = s.Load("Missing")
	assert.True(t, errors.Is(err, derrors.NotFound), "got %v", err)
}

func TestJarSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.jar")
	require.NoError(t, os.WriteFile(path, zipBytes(t, map[string][]byte{
		"META-INF/MANIFEST.MF": []byte("Manifest-Version: 1.0\n"),
		"b/B.class":            classBytes(t, "b/B"),
		"a/A.class":            classBytes(t, "a/A"),
	}), 0o644))

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, []string{"a/A", "b/B"}, walkNames(t, s))
	z, ok := s.(*ZipSource)
	require.True(t, ok)
	assert.Equal(t, 2, z.Len())

	_, err = s.Load("META-INF/MANIFEST")
	assert.True(t, errors.Is(err, derrors.NotFound), "got %v", err)
}

func TestJmodSource(t *testing.T) {
	data := append([]byte("JM\x01\x00"), zipBytes(t, map[string][]byte{
		"classes/java/lang/Object.class": classBytes(t, "java/lang/Object"),
		"classes/module-info.class":      classBytes(t, "module-info"),
		"lib/libjava.so":                 {0x7F, 'E', 'L', 'F'},
	})...)
	path := filepath.Join(t.TempDir(), "java.base.jmod")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, []string{"java/lang/Object", "module-info"}, walkNames(t, s))
	got, err := s.Load("java/lang/Object")
	require.NoError(t, err)
	assert.Equal(t, classBytes(t, "java/lang/Object"), got)
}

func TestJmodBadHeader(t *testing.T) {
	for _, data := range [][]byte{nil, []byte("J"), []byte("PK\x03\x04rest")} {
		_, err := NewJmod("x.jmod", data)
		assert.True(t, errors.Is(err, derrors.InvalidArgument), "got %v", err)
	}
}

func TestOpenUnsupported(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, nil, 0o644))
	_, err := Open(path)
	assert.True(t, errors.Is(err, derrors.InvalidArgument), "got %v", err)
}

func TestWalkStopsOnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.jar")
	require.NoError(t, os.WriteFile(path, zipBytes(t, map[string][]byte{
		"A.class": classBytes(t, "A"),
		"B.class": classBytes(t, "B"),
	}), 0o644))
	s, err := OpenJar(path)
	require.NoError(t, err)
	defer s.Close()

	stop := errors.New("stop")
	calls := 0
	err = s.Walk(func(string, []byte) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

func TestPathSearchOrder(t *testing.T) {
	first, second := t.TempDir(), t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(first, "A.class"), classBytes(t, "A"), 0o644))
	shadowed := classBytes(t, "B")
	require.NoError(t, os.WriteFile(filepath.Join(first, "B.class"), shadowed, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(second, "B.class"), append(classBytes(t, "B"), 0), 0o644))

	p, err := OpenPath(first + string(filepath.ListSeparator) + second)
	require.NoError(t, err)
	defer p.Close()
	require.Len(t, p, 2)

	got, err := p.Load("B")
	require.NoError(t, err)
	assert.Equal(t, shadowed, got)

	assert.Equal(t, []string{"A", "B", "B"}, walkNames(t, p))

	_, err = p.Load("C")
	assert.True(t, errors.Is(err, derrors.NotFound), "got %v", err)
}

func TestLoaderCaches(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "Hello.class"), classBytes(t, "Hello"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "Liar.class"), classBytes(t, "Other"), 0o644))

	l := NewLoader(NewDirSource(root))
	c1, err := l.LoadClass("Hello")
	require.NoError(t, err)
	assert.Equal(t, "Hello", c1.Name)
	assert.Equal(t, "java/lang/Object", c1.SuperName)

	c2, err := l.LoadClass("Hello")
	require.NoError(t, err)
	assert.Same(t, c1, c2)

	_, err = l.LoadClass("Liar")
	assert.True(t, errors.Is(err, derrors.InvalidArgument), "got %v", err)

	_, err = l.LoadClass("Nope")
	assert.True(t, errors.Is(err, derrors.NotFound), "got %v", err)
}
