// Package glob implements the wildcard patterns used by event filters.
//
// Two metacharacters are recognised:
//
//	*   matches any sequence of characters, including the empty sequence
//	?   matches exactly one character
//
// Every other character matches itself. Matching is anchored to the whole
// string and is case-sensitive. There is no escape syntax, so an event type
// that contains a literal '*' or '?' can only be matched through a wildcard.
//
// Examples:
//
//	tool:*        matches tool:before, tool:after, tool:
//	note:?odified matches note:modified
//	*             matches everything, including ""
package glob
