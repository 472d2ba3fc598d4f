// Package shellparse provides shell-like command line parsing and
// positional-parameter expansion. Parsing correctly handles quoted
// arguments, spaces, and escapes; it is a minimal, dependency-free
// implementation of POSIX word splitting rules, similar to Python's
// shlex.split().
package shellparse

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

var (
	// ErrUnclosedQuote is returned when a quoted string is not properly closed
	ErrUnclosedQuote = errors.New("unclosed quote in command string")

	// ErrTrailingEscape is returned when a backslash appears at the end of input
	ErrTrailingEscape = errors.New("trailing escape character at end of command")
)

// Split parses a command string into arguments, handling quotes and escapes.
//
// Parsing rules:
//   - Words are separated by whitespace
//   - Single quotes preserve literal values (no escapes)
//   - Double quotes preserve literal values except for backslash escapes
//   - Backslash escapes the next character outside quotes
//   - Empty input returns empty slice
func Split(input string) ([]string, error) {
	if input == "" {
		return []string{}, nil
	}

	var result []string
	var current strings.Builder
	var inSingleQuote, inDoubleQuote bool
	var sawQuotes bool // empty quoted strings still produce a word

	runes := []rune(input)
	length := len(runes)

	for i := 0; i < length; i++ {
		ch := runes[i]

		if ch == '\\' && !inSingleQuote {
			if i+1 >= length {
				return nil, ErrTrailingEscape
			}
			i++
			nextCh := runes[i]

			if inDoubleQuote {
				// In double quotes only special characters are escapable
				switch nextCh {
				case '"', '\\', '$', '`':
					current.WriteRune(nextCh)
				default:
					current.WriteRune('\\')
					current.WriteRune(nextCh)
				}
			} else {
				current.WriteRune(nextCh)
			}
			continue
		}

		if ch == '\'' && !inDoubleQuote {
			if inSingleQuote {
				sawQuotes = true
			}
			inSingleQuote = !inSingleQuote
			continue
		}

		if ch == '"' && !inSingleQuote {
			if inDoubleQuote {
				sawQuotes = true
			}
			inDoubleQuote = !inDoubleQuote
			continue
		}

		if unicode.IsSpace(ch) && !inSingleQuote && !inDoubleQuote {
			if current.Len() > 0 || sawQuotes {
				result = append(result, current.String())
				current.Reset()
				sawQuotes = false
			}
			continue
		}

		current.WriteRune(ch)
	}

	if inSingleQuote || inDoubleQuote {
		quoteType := "single"
		if inDoubleQuote {
			quoteType = "double"
		}
		return nil, fmt.Errorf("%w: unclosed %s quote", ErrUnclosedQuote, quoteType)
	}

	if current.Len() > 0 || sawQuotes {
		result = append(result, current.String())
	}

	return result, nil
}

// Join combines arguments into a shell command string, quoting as necessary.
func Join(args []string) string {
	if len(args) == 0 {
		return ""
	}

	var parts []string
	for _, arg := range args {
		parts = append(parts, quote(arg))
	}

	return strings.Join(parts, " ")
}

// quote adds quotes around an argument if it contains special characters
func quote(arg string) string {
	if arg == "" {
		return "''"
	}

	needsQuote := false
	for _, ch := range arg {
		if unicode.IsSpace(ch) || ch == '\'' || ch == '"' || ch == '\\' || ch == '$' || ch == '`' {
			needsQuote = true
			break
		}
	}

	if !needsQuote {
		return arg
	}

	// Single quotes are simpler when the value carries none itself
	if !strings.Contains(arg, "'") {
		return "'" + arg + "'"
	}

	var result strings.Builder
	result.WriteRune('"')
	for _, ch := range arg {
		if ch == '"' || ch == '\\' || ch == '$' || ch == '`' {
			result.WriteRune('\\')
		}
		result.WriteRune(ch)
	}
	result.WriteRune('"')

	return result.String()
}
