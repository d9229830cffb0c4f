// Package artifact builds the plain-text files handed to the engine at
// startup: numbered strategy files, the whitelist, the run configuration
// and the preload.
//
// Builders decide what to emit as a Document of directives; a Formatter
// per artifact type decides how each directive becomes one line. Rendering
// is deterministic: the same inputs always produce identical bytes.
package artifact

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
)

// Kind names a directive type. Each formatter accepts a fixed set of kinds.
type Kind string

// Directive is one line-to-be.
type Directive struct {
	Kind Kind
	Args []string
}

// Document is an ordered list of directives.
type Document []Directive

// Add appends a directive.
func (d *Document) Add(kind Kind, args ...string) {
	*d = append(*d, Directive{Kind: kind, Args: args})
}

// Formatter turns one directive into one line without a trailing newline.
type Formatter interface {
	Format(d Directive) (string, error)
}

// FormatterFunc adapts a function to Formatter.
type FormatterFunc func(d Directive) (string, error)

// Format implements Formatter.
func (f FormatterFunc) Format(d Directive) (string, error) {
	return f(d)
}

// Render formats every directive and joins the lines, each terminated by
// a newline. An empty document renders to no bytes.
func Render(doc Document, f Formatter) ([]byte, error) {
	var buf bytes.Buffer
	for i, d := range doc {
		line, err := f.Format(d)
		if err != nil {
			return nil, fmt.Errorf("directive %d (%s): %w", i, d.Kind, err)
		}
		buf.WriteString(line)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// WriteFile replaces path with data atomically: the data is written to a
// temp file in the same directory, synced, then renamed over path.
func WriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create artifact dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename %s into place: %w", filepath.Base(path), err)
	}
	return nil
}

func wantArgs(d Directive, n int) error {
	if len(d.Args) != n {
		return fmt.Errorf("%s takes %d args, got %d", d.Kind, n, len(d.Args))
	}
	return nil
}
