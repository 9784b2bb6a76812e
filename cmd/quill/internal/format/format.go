// Package format renders CLI output as tables or JSON.
package format

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
)

// Mode is an output format.
type Mode string

const (
	ModeJSON  Mode = "json"
	ModeTable Mode = "table"
)

// Formatter writes command results.
type Formatter struct {
	out   io.Writer
	mode  Mode
	color bool
}

// New returns a formatter writing to out.
func New(out io.Writer, mode Mode, color bool) *Formatter {
	return &Formatter{out: out, mode: mode, color: color}
}

// IsJSON reports whether output is JSON.
func (f *Formatter) IsJSON() bool {
	return f.mode == ModeJSON
}

// JSON writes v as indented JSON.
func (f *Formatter) JSON(v any) error {
	enc := json.NewEncoder(f.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Table writes rows aligned under headers.
func (f *Formatter) Table(headers []string, rows [][]string) error {
	w := tabwriter.NewWriter(f.out, 0, 0, 2, ' ', 0)
	head := make([]string, len(headers))
	for i, h := range headers {
		head[i] = strings.ToUpper(h)
		if f.color {
			head[i] = color.New(color.Bold).Sprint(head[i])
		}
	}
	if _, err := fmt.Fprintln(w, strings.Join(head, "\t")); err != nil {
		return err
	}
	for _, row := range rows {
		if _, err := fmt.Fprintln(w, strings.Join(row, "\t")); err != nil {
			return err
		}
	}
	return w.Flush()
}

// OK writes a success line.
func (f *Formatter) OK(format string, args ...any) {
	f.line(color.FgGreen, "ok    ", format, args...)
}

// Warn writes a warning line.
func (f *Formatter) Warn(format string, args ...any) {
	f.line(color.FgYellow, "warn  ", format, args...)
}

// Fail writes a failure line.
func (f *Formatter) Fail(format string, args ...any) {
	f.line(color.FgRed, "FAIL  ", format, args...)
}

func (f *Formatter) line(attr color.Attribute, prefix, format string, args ...any) {
	if f.color {
		prefix = color.New(attr).Sprint(prefix)
	}
	fmt.Fprintf(f.out, prefix+format+"\n", args...)
}

// ParseMode validates an --output value.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(s)) {
	case ModeJSON:
		return ModeJSON, nil
	case ModeTable, "":
		return ModeTable, nil
	default:
		return "", fmt.Errorf("invalid output mode %q (must be json or table)", s)
	}
}
