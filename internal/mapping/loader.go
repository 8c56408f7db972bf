package mapping

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/roach88/searchsync/internal/doc"
)

// File holds one mapping per document type.
type File map[string]doc.Document

// Types returns the document types in the file, sorted.
func (f File) Types() []string {
	types := make([]string, 0, len(f))
	for t := range f {
		types = append(types, t)
	}
	slices.Sort(types)
	return types
}

// Decode reads a mapping file. JSON input is accepted since it is valid
// YAML.
func Decode(r io.Reader) (File, error) {
	f := File{}
	if err := yaml.NewDecoder(r).Decode(&f); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode mapping file: %w", err)
	}
	for typ, m := range f {
		if m == nil {
			return nil, fmt.Errorf("decode mapping file: type %q has no mapping", typ)
		}
	}
	return f, nil
}

// LoadFile reads the mapping file at path.
func LoadFile(path string) (File, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open mapping file: %w", err)
	}
	defer fh.Close()
	return Decode(fh)
}

// Setter applies a mapping. index.Connector satisfies it.
type Setter interface {
	SetMapping(ctx context.Context, index, typ string, mapping doc.Document) error
}

// Loader applies the mappings of configured types from a file.
type Loader struct {
	target Setter
	index  string
	path   string
	types  []string
	logger *slog.Logger
}

// Option configures a Loader.
type Option func(*Loader)

// WithTypes restricts loading to the given document types. Without it
// every type in the file is applied.
func WithTypes(types ...string) Option {
	return func(l *Loader) { l.types = types }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loader) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewLoader creates a loader applying the file at path to index.
func NewLoader(target Setter, index, path string, opts ...Option) *Loader {
	l := &Loader{
		target: target,
		index:  index,
		path:   path,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Path returns the mapping file path.
func (l *Loader) Path() string {
	return l.path
}

// Load reads the file and applies each configured type's mapping. Types
// missing from the file are skipped with a warning. It returns the number
// of mappings applied; a failed type does not stop the others.
func (l *Loader) Load(ctx context.Context) (int, error) {
	f, err := LoadFile(l.path)
	if err != nil {
		return 0, err
	}
	types := l.types
	if len(types) == 0 {
		types = f.Types()
	}

	applied := 0
	var errs []error
	for _, typ := range types {
		m, ok := f[typ]
		if !ok {
			l.logger.Warn("no mapping for type", "type", typ, "file", l.path)
			continue
		}
		if err := l.target.SetMapping(ctx, l.index, typ, m); err != nil {
			errs = append(errs, fmt.Errorf("set mapping %s/%s: %w", l.index, typ, err))
			continue
		}
		applied++
	}
	l.logger.Info("mappings loaded", "index", l.index, "count", applied, "file", l.path)
	return applied, errors.Join(errs...)
}
