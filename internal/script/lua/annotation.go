package lua

import (
	"bufio"
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/dshills/quill/internal/script"
)

var (
	annotationRe = regexp.MustCompile(`^\s*---\s*@handler\b(.*)$`)
	functionRe   = regexp.MustCompile(`^\s*function\s+([A-Za-z_][A-Za-z0-9_]*)\s*\(`)
)

// parseAnnotations finds "--- @handler" declarations in src. Comment lines
// may sit between an annotation and its function; anything else is an
// error.
func parseAnnotations(path string, src []byte) ([]script.Decl, error) {
	var (
		decls   []script.Decl
		pending *script.Decl
		lineNo  int
	)

	fail := func(line int, format string, args ...any) error {
		return &script.CompileError{Path: path, Line: line, Err: fmt.Errorf(format, args...)}
	}

	scanner := bufio.NewScanner(bytes.NewReader(src))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()

		if m := annotationRe.FindStringSubmatch(line); m != nil {
			if pending != nil {
				return nil, fail(lineNo, "annotation at line %d has no function", pending.Line)
			}
			attrs, err := script.ParseAttributes(m[1])
			if err != nil {
				return nil, fail(lineNo, "@handler: %w", err)
			}
			d := script.NewDecl("")
			d.Line = lineNo
			for _, key := range sortedKeys(attrs) {
				if err := d.Set(key, attrs[key]); err != nil {
					return nil, fail(lineNo, "@handler: %w", err)
				}
			}
			pending = &d
			continue
		}

		if pending == nil {
			continue
		}
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		m := functionRe.FindStringSubmatch(line)
		if m == nil {
			return nil, fail(pending.Line, "@handler must precede a global function declaration")
		}
		pending.Function = m[1]
		decls = append(decls, *pending)
		pending = nil
	}
	if err := scanner.Err(); err != nil {
		return nil, &script.CompileError{Path: path, Err: err}
	}
	if pending != nil {
		return nil, fail(pending.Line, "annotation has no function")
	}
	return decls, nil
}
