package ux

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Format selects how command output is written
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat validates a --format value. Empty means text.
func ParseFormat(s string) (Format, error) {
	switch f := Format(s); f {
	case "":
		return FormatText, nil
	case FormatText, FormatJSON, FormatYAML:
		return f, nil
	default:
		return "", fmt.Errorf("unknown format: %s (supported: text, json, yaml)", s)
	}
}

// Printer writes command results. Views implementing Renderer are drawn
// with lipgloss styles in text mode and encoded as data otherwise.
type Printer struct {
	w      io.Writer
	format Format
	styles Styles
}

// NewPrinter returns a printer for format writing to w (stdout when nil)
func NewPrinter(w io.Writer, format string, noColor bool) (*Printer, error) {
	f, err := ParseFormat(format)
	if err != nil {
		return nil, err
	}
	if w == nil {
		w = os.Stdout
	}
	styles := DefaultStyles()
	if noColor {
		styles = PlainStyles()
	}
	return &Printer{w: w, format: f, styles: styles}, nil
}

// Format reports the printer's output format
func (p *Printer) Format() Format {
	return p.format
}

// Print writes v in the printer's format
func (p *Printer) Print(v any) error {
	switch p.format {
	case FormatJSON:
		enc := json.NewEncoder(p.w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case FormatYAML:
		enc := yaml.NewEncoder(p.w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}

	var err error
	switch v := v.(type) {
	case Renderer:
		_, err = io.WriteString(p.w, v.Render(p.styles))
	case string:
		_, err = fmt.Fprintln(p.w, v)
	case fmt.Stringer:
		_, err = fmt.Fprintln(p.w, v.String())
	default:
		err = fmt.Errorf("cannot render %T as text; use --format json or yaml", v)
	}
	return err
}
