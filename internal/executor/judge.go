package executor

import (
	"strings"
	"unicode"
)

// Judge compares program output with the expected answer after trimming surrounding
// whitespace and byte order marks on both sides. There is no numeric or
// whitespace-collapsing tolerance.
func Judge(actual, expected string) bool {
	return trimOutput(actual) == trimOutput(expected)
}

func trimOutput(s string) string {
	return strings.TrimFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || r == '\uFEFF'
	})
}
