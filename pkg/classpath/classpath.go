// Package classpath reads class files out of the containers they are
// shipped in: directory trees, jar files and JDK jmod files.
package classpath

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/daimatz/gojasm/pkg/classfile"
	"github.com/daimatz/gojasm/pkg/derrors"
)

const classSuffix = ".class"

// Source is a container of class files. Names are internal binary names
// such as "java/lang/Object".
type Source interface {
	// Walk calls fn with every class in the source, in name order, and
	// stops at the first error fn returns.
	Walk(fn func(name string, data []byte) error) error
	// Load returns the bytes of the named class.
	Load(name string) ([]byte, error)
	io.Closer
}

// Open returns the Source for path: a directory, a .jar (or .zip) file, or
// a .jmod file.
func Open(path string) (_ Source, err error) {
	defer derrors.Wrap(&err, "classpath.Open(%q)", path)
	fi, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if fi.IsDir() {
		return NewDirSource(path), nil
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jar", ".zip":
		return OpenJar(path)
	case ".jmod":
		return OpenJmod(path)
	}
	return nil, derrors.Errorf(derrors.InvalidArgument, "unsupported class source %s", path)
}

// DirSource loads classes from a directory tree laid out by package.
type DirSource struct {
	Root string
}

// NewDirSource returns a source rooted at root.
func NewDirSource(root string) *DirSource {
	return &DirSource{Root: root}
}

func (d *DirSource) Walk(fn func(name string, data []byte) error) error {
	return filepath.WalkDir(d.Root, func(path string, e fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if e.IsDir() || !strings.HasSuffix(path, classSuffix) {
			return nil
		}
		rel, err := filepath.Rel(d.Root, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return fn(strings.TrimSuffix(filepath.ToSlash(rel), classSuffix), data)
	})
}

func (d *DirSource) Load(name string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(d.Root, filepath.FromSlash(name)+classSuffix))
	if os.IsNotExist(err) {
		return nil, derrors.Errorf(derrors.NotFound, "class %s in %s", name, d.Root)
	}
	return data, err
}

func (d *DirSource) Close() error { return nil }

func (d *DirSource) String() string { return d.Root }

// ZipSource loads classes from a zip archive. Jar files keep classes at the
// archive root; jmod files keep them under "classes/".
type ZipSource struct {
	path   string
	prefix string
	files  map[string]*zip.File
	names  []string
	closer io.Closer
}

// OpenJar opens a jar file.
func OpenJar(path string) (*ZipSource, error) {
	rc, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("jar: opening %s: %w", path, err)
	}
	return newZipSource(path, "", &rc.Reader, rc), nil
}

// jmodMagic is the header a jmod file carries before its zip data.
var jmodMagic = []byte{'J', 'M', 0x01, 0x00}

// OpenJmod opens a JDK jmod file.
func OpenJmod(path string) (*ZipSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("jmod: reading %s: %w", path, err)
	}
	return NewJmod(path, data)
}

// NewJmod reads a jmod file held in memory.
func NewJmod(path string, data []byte) (*ZipSource, error) {
	if len(data) < len(jmodMagic) || !bytes.HasPrefix(data, jmodMagic[:2]) {
		return nil, derrors.Errorf(derrors.InvalidArgument, "jmod: %s has no JM header", path)
	}
	data = data[len(jmodMagic):]
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("jmod: opening zip: %w", err)
	}
	return newZipSource(path, "classes/", zr, nil), nil
}

func newZipSource(path, prefix string, zr *zip.Reader, closer io.Closer) *ZipSource {
	z := &ZipSource{path: path, prefix: prefix, files: make(map[string]*zip.File), closer: closer}
	for _, f := range zr.File {
		if !strings.HasPrefix(f.Name, prefix) || !strings.HasSuffix(f.Name, classSuffix) {
			continue
		}
		name := strings.TrimSuffix(strings.TrimPrefix(f.Name, prefix), classSuffix)
		if _, dup := z.files[name]; dup {
			continue
		}
		z.files[name] = f
		z.names = append(z.names, name)
	}
	sort.Strings(z.names)
	return z
}

func (z *ZipSource) Walk(fn func(name string, data []byte) error) error {
	for _, name := range z.names {
		data, err := z.read(z.files[name])
		if err != nil {
			return err
		}
		if err := fn(name, data); err != nil {
			return err
		}
	}
	return nil
}

func (z *ZipSource) Load(name string) ([]byte, error) {
	f, ok := z.files[name]
	if !ok {
		return nil, derrors.Errorf(derrors.NotFound, "class %s in %s", name, z.path)
	}
	return z.read(f)
}

func (z *ZipSource) read(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("%s: opening %s: %w", z.path, f.Name, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("%s: reading %s: %w", z.path, f.Name, err)
	}
	return data, nil
}

// Len reports the number of classes in the archive.
func (z *ZipSource) Len() int { return len(z.names) }

func (z *ZipSource) Close() error {
	if z.closer == nil {
		return nil
	}
	return z.closer.Close()
}

func (z *ZipSource) String() string { return z.path }

// Path is an ordered list of sources searched first to last.
type Path []Source

// OpenPath opens every entry of a list separated by os.PathListSeparator.
func OpenPath(list string) (Path, error) {
	var p Path
	for _, entry := range filepath.SplitList(list) {
		if entry == "" {
			continue
		}
		s, err := Open(entry)
		if err != nil {
			_ = p.Close()
			return nil, err
		}
		p = append(p, s)
	}
	return p, nil
}

// Walk walks every source in order. A class shadowed by an earlier source
// is still visited.
func (p Path) Walk(fn func(name string, data []byte) error) error {
	for _, s := range p {
		if err := s.Walk(fn); err != nil {
			return err
		}
	}
	return nil
}

// Load returns the class from the first source that has it.
func (p Path) Load(name string) ([]byte, error) {
	for _, s := range p {
		data, err := s.Load(name)
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, derrors.NotFound) {
			return nil, err
		}
	}
	return nil, derrors.Errorf(derrors.NotFound, "class %s", name)
}

func (p Path) Close() error {
	var result *multierror.Error
	for _, s := range p {
		if err := s.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// Loader parses classes from a Source and caches the result.
type Loader struct {
	src  Source
	opts []classfile.Option

	mu    sync.Mutex
	cache map[string]*classfile.ClassNode
}

// NewLoader returns a Loader that parses classes with opts.
func NewLoader(src Source, opts ...classfile.Option) *Loader {
	return &Loader{src: src, opts: opts, cache: make(map[string]*classfile.ClassNode)}
}

// LoadClass returns the parsed class, reading it on first use.
func (l *Loader) LoadClass(name string) (*classfile.ClassNode, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if c, ok := l.cache[name]; ok {
		return c, nil
	}
	data, err := l.src.Load(name)
	if err != nil {
		return nil, err
	}
	c, err := classfile.ParseBytes(data, l.opts...)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", name, err)
	}
	if c.Name != name {
		return nil, derrors.Errorf(derrors.InvalidArgument, "%s holds class %s", name, c.Name)
	}
	l.cache[name] = c
	return c, nil
}
