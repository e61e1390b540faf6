package classfile

import (
	"archive/zip"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/wasmlift/wasmlift/internal/diagnostics"
)

// Loader resolves qualified class names against a classpath of directories
// and jar files. Parsed classes are cached for the lifetime of the loader
// (one compilation run).
//
// An unresolvable name is not an error: Load returns (nil, nil) so the
// caller can treat "not in this build" as input to alias resolution.
type Loader struct {
	dirs []string
	jars []*zip.ReadCloser
	cache map[string]*ClassFile
}

// NewLoader opens every classpath entry. Jar entries are kept open until
// Close.
func NewLoader(classpath []string) (*Loader, error) {
	l := &Loader{cache: make(map[string]*ClassFile)}
	for _, entry := range classpath {
		if strings.HasSuffix(entry, ".jar") || strings.HasSuffix(entry, ".zip") {
			jar, err := zip.OpenReader(entry)
			if err != nil {
				return nil, diagnostics.WrapError(diagnostics.ErrL001, err, "cannot open classpath entry %s", entry)
			}
			l.jars = append(l.jars, jar)
		} else {
			l.dirs = append(l.dirs, entry)
		}
	}
	return l, nil
}

// Close releases jar handles.
func (l *Loader) Close() error {
	for _, jar := range l.jars {
		jar.Close()
	}
	l.jars = nil
	return nil
}

// Load resolves an internal class name ("java/lang/String"). Returns
// (nil, nil) when no classpath entry provides the class.
func (l *Loader) Load(name string) (*ClassFile, error) {
	if cf, ok := l.cache[name]; ok {
		return cf, nil
	}

	data, source, err := l.find(name)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, nil
	}

	cf, err := Parse(data)
	if err != nil {
		var de *diagnostics.DiagnosticError
		if errors.As(err, &de) {
			de.WithSourceFile(source)
		}
		return nil, err
	}
	cf.Sum = fmt.Sprintf("%x", sha256.Sum256(data))
	l.cache[name] = cf
	return cf, nil
}

func (l *Loader) find(name string) ([]byte, string, error) {
	rel := name + ".class"

	for _, dir := range l.dirs {
		path := filepath.Join(dir, filepath.FromSlash(rel))
		data, err := os.ReadFile(path)
		if err == nil {
			return data, path, nil
		}
		if !os.IsNotExist(err) {
			return nil, "", diagnostics.WrapError(diagnostics.ErrL001, err, "cannot read %s", path)
		}
	}

	for _, jar := range l.jars {
		for _, f := range jar.File {
			if f.Name != rel {
				continue
			}
			rc, err := f.Open()
			if err != nil {
				return nil, "", diagnostics.WrapError(diagnostics.ErrL001, err, "cannot open %s in jar", rel)
			}
			data, err := io.ReadAll(rc)
			rc.Close()
			if err != nil {
				return nil, "", diagnostics.WrapError(diagnostics.ErrL001, err, "cannot read %s from jar", rel)
			}
			return data, rel, nil
		}
	}
	return nil, "", nil
}
