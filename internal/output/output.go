// Package output implements consistent machine-readable output formatting
// for the CLI surface.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"go.yaml.in/yaml/v3"
)

// Format represents the output format.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// Valid reports whether f is a supported format.
func (f Format) Valid() bool {
	switch f {
	case FormatText, FormatJSON, FormatYAML:
		return true
	default:
		return false
	}
}

// Writer handles formatted output.
type Writer struct {
	format Format
	out    io.Writer
}

// Option configures the Writer.
type Option func(*Writer)

// WithOutput sets the destination writer.
func WithOutput(w io.Writer) Option {
	return func(wr *Writer) {
		wr.out = w
	}
}

// New creates a new output writer.
func New(format Format, opts ...Option) *Writer {
	w := &Writer{format: format, out: os.Stdout}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Write outputs data in the configured format. Text format falls back to
// indented JSON since callers render their own text views.
func (w *Writer) Write(data any) error {
	switch w.format {
	case FormatJSON, FormatText:
		enc := json.NewEncoder(w.out)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	case FormatYAML:
		normalized, err := normalizeForYAML(data)
		if err != nil {
			return err
		}
		b, err := yaml.Marshal(normalized)
		if err != nil {
			return err
		}
		if len(b) == 0 || b[len(b)-1] != '\n' {
			b = append(b, '\n')
		}
		_, err = w.out.Write(b)
		return err
	default:
		return fmt.Errorf("unsupported format: %s", w.format)
	}
}

// normalizeForYAML round-trips through JSON so yaml sees plain maps and
// slices rather than struct tags it does not understand.
func normalizeForYAML(data any) (any, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}
