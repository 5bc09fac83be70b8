package jupyter

import (
	"errors"
	"log/slog"
	"strings"
)

// NormalizeEscapes repairs code strings that arrive with literal
// backslash-escape sequences instead of real control characters. Structured
// LLM transports serialize newlines as the two characters `\` `n`; executing
// that verbatim runs the whole program as one line. Decoding only happens
// when the code contains escape sequences but no real newline, so code that
// already has proper line structure (where `\n` inside string literals is
// intentional) passes through untouched. If decoding fails the original
// string is used.
func NormalizeEscapes(code string) string {
	if strings.ContainsRune(code, '\n') {
		return code
	}
	if !strings.Contains(code, `\n`) {
		return code
	}

	decoded, err := decodeEscapes(code)
	if err != nil {
		slog.Warn("Escape normalization failed, using original code", "error", err)
		return code
	}
	return decoded
}

// decodeEscapes maps \n, \t and \r sequences to their control characters. A
// trailing lone backslash or any other escape is an error; the caller falls
// back to the raw string.
func decodeEscapes(s string) (string, error) {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' {
			b.WriteByte(s[i])
			continue
		}
		if i+1 >= len(s) {
			return "", errTrailingBackslash
		}
		switch s[i+1] {
		case 'n':
			b.WriteByte('\n')
			i++
		case 't':
			b.WriteByte('\t')
			i++
		case 'r':
			b.WriteByte('\r')
			i++
		case '\\':
			// Keep doubled backslashes as one literal backslash so decoded
			// code still contains the escapes its string literals need.
			b.WriteByte('\\')
			i++
		default:
			// Unknown escape: keep it verbatim.
			b.WriteByte(s[i])
		}
	}
	return b.String(), nil
}

var errTrailingBackslash = errors.New("code ends with a lone backslash")
