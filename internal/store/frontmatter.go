package store

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"
)

var frontmatterDelim = []byte("---")

// Frontmatter is the YAML header of a note.
type Frontmatter struct {
	Title string         `yaml:"title"`
	Tags  []string       `yaml:"tags"`
	Extra map[string]any `yaml:",inline"`
}

// ParseFrontmatter splits content into its YAML header and body. Content
// without a leading "---" line has no header.
func ParseFrontmatter(content []byte) (Frontmatter, []byte, error) {
	var fm Frontmatter
	rest, ok := cutLine(content)
	if !ok || !bytes.Equal(bytes.TrimRight(rest.line, " \t\r"), frontmatterDelim) {
		return fm, content, nil
	}

	var header []byte
	remaining := rest.tail
	for {
		next, ok := cutLine(remaining)
		if !ok {
			return fm, content, fmt.Errorf("frontmatter: missing closing ---")
		}
		if bytes.Equal(bytes.TrimRight(next.line, " \t\r"), frontmatterDelim) {
			remaining = next.tail
			break
		}
		header = append(header, next.line...)
		header = append(header, '\n')
		remaining = next.tail
	}

	if err := yaml.Unmarshal(header, &fm); err != nil {
		return Frontmatter{}, content, fmt.Errorf("frontmatter: %w", err)
	}
	return fm, remaining, nil
}

type lineCut struct {
	line []byte
	tail []byte
}

// cutLine splits off the first line of b. The final line need not end in a
// newline; empty input has no line.
func cutLine(b []byte) (lineCut, bool) {
	if len(b) == 0 {
		return lineCut{}, false
	}
	line, tail, found := bytes.Cut(b, []byte("\n"))
	if !found {
		return lineCut{line: line}, true
	}
	return lineCut{line: line, tail: tail}, true
}
