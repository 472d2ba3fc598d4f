package shellparse

import (
	"strconv"
	"strings"
)

// Expand substitutes shell-style positional parameters in declared
// arguments against the actually supplied ones.
//
// Rules:
//   - "$N" (1-based) is replaced by the N-th supplied argument; an
//     out-of-range reference expands to the empty string and the word
//     is dropped.
//   - "$*" expands in place to all supplied arguments.
//   - If no declared word references a positional parameter, the
//     supplied arguments are appended after the declared ones.
//
// Substitution applies only to whole words; declared arguments are
// never re-split.
func Expand(declared, supplied []string) []string {
	referenced := false
	var result []string

	for _, word := range declared {
		switch {
		case word == "$*":
			referenced = true
			result = append(result, supplied...)
		case isPositional(word):
			referenced = true
			n, _ := strconv.Atoi(word[1:])
			if n >= 1 && n <= len(supplied) {
				result = append(result, supplied[n-1])
			}
		default:
			result = append(result, word)
		}
	}

	if !referenced {
		result = append(result, supplied...)
	}
	return result
}

// isPositional reports whether word is exactly "$N" for a decimal N.
func isPositional(word string) bool {
	if len(word) < 2 || word[0] != '$' {
		return false
	}
	rest := word[1:]
	if strings.TrimLeft(rest, "0123456789") != "" {
		return false
	}
	return true
}
