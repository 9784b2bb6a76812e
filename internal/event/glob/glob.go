package glob

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

// Metacharacters recognised in patterns.
const (
	Any = '*'
	One = '?'
	All = "*"
)

// MaxPatternLength is the longest pattern, in bytes, accepted by Validate.
const MaxPatternLength = 512

// ErrInvalidPattern is returned by Validate for patterns that cannot be used.
var ErrInvalidPattern = errors.New("invalid glob pattern")

// Validate reports whether pattern can be used in a filter.
func Validate(pattern string) error {
	if len(pattern) > MaxPatternLength {
		return fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrInvalidPattern, len(pattern), MaxPatternLength)
	}
	if !utf8.ValidString(pattern) {
		return fmt.Errorf("%w: %q is not valid UTF-8", ErrInvalidPattern, pattern)
	}
	return nil
}

// IsLiteral returns true if pattern contains no metacharacters.
func IsLiteral(pattern string) bool {
	for i := 0; i < len(pattern); i++ {
		if pattern[i] == Any || pattern[i] == One {
			return false
		}
	}
	return true
}

// Match reports whether s matches pattern in its entirety.
//
// The scan is linear with backtracking to the most recent star: on a mismatch
// the star's span is grown by one character and matching resumes after it.
func Match(pattern, s string) bool {
	if pattern == All {
		return true
	}
	if IsLiteral(pattern) {
		return pattern == s
	}

	p := []rune(pattern)
	t := []rune(s)

	pi, ti := 0, 0
	star, mark := -1, 0

	for ti < len(t) {
		switch {
		case pi < len(p) && p[pi] == Any:
			star = pi
			mark = ti
			pi++
		case pi < len(p) && (p[pi] == One || p[pi] == t[ti]):
			pi++
			ti++
		case star >= 0:
			pi = star + 1
			mark++
			ti = mark
		default:
			return false
		}
	}

	// Trailing stars match the empty remainder.
	for pi < len(p) && p[pi] == Any {
		pi++
	}
	return pi == len(p)
}
