// Package qname splits qualified variable names such as "a.b->c" into the
// name elements used to address nodes of a variable tree.
//
// A "->" separator is rewritten as a '*' prefix on the element that follows
// it, so "a.b->c" becomes ["a", "b", "*c"]. The rewrite is lossy: a member
// literally named "*c" and a member "c" reached through a pointer cannot be
// told apart once split. Join reverses the rewrite for addressing purposes.
package qname

import (
	"fmt"
	"strings"
	"unicode"
)

// DerefPrefix marks an element reached through pointer dereference.
const DerefPrefix = "*"

// ParseError reports a qualified name that could not be split.
type ParseError struct {
	Input  string
	Offset int
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse name element at offset %d in '%s': %s", e.Offset, e.Input, e.Reason)
}

// isNameChar reports whether r can be part of a name element. Besides
// identifier characters this admits the punctuation found in template and
// namespace qualified names ("std::vector<int, a>") and in the anonymous
// names debuggers make up ("#unnamed#").
func isNameChar(r rune) bool {
	switch r {
	case '_', '<', '>', ':', '#', ',':
		return true
	}
	return unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r)
}

// Split breaks a qualified name into its name elements, each trimmed of
// surrounding whitespace. Empty input, empty elements and characters that are
// neither name characters nor separators are reported as *ParseError.
func Split(raw string) ([]string, error) {
	if raw == "" {
		return nil, &ParseError{Input: raw, Reason: "empty name"}
	}

	runes := []rune(raw)
	var elems []string
	prefix := ""
	cur := 0

	for {
		start := cur
		for cur < len(runes) && isNameChar(runes[cur]) {
			cur++
		}

		elem := strings.TrimSpace(string(runes[start:cur]))
		if elem == "" {
			if cur < len(runes) && !isSeparatorAt(runes, cur) {
				return nil, &ParseError{Input: raw, Offset: cur, Reason: fmt.Sprintf("unexpected character %q", runes[cur])}
			}
			return nil, &ParseError{Input: raw, Offset: start, Reason: "empty name element"}
		}
		elems = append(elems, prefix+elem)
		prefix = ""

		if cur >= len(runes) {
			return elems, nil
		}

		switch {
		case runes[cur] == '.':
			cur++
		case runes[cur] == '-' && cur+1 < len(runes) && runes[cur+1] == '>':
			prefix = DerefPrefix
			cur += 2
		default:
			return nil, &ParseError{Input: raw, Offset: cur, Reason: fmt.Sprintf("unexpected character %q", runes[cur])}
		}
	}
}

func isSeparatorAt(runes []rune, i int) bool {
	if runes[i] == '.' {
		return true
	}
	return runes[i] == '-' && i+1 < len(runes) && runes[i+1] == '>'
}

// Join rebuilds an addressing path from name elements. Elements after the
// first that carry the dereference prefix are joined with "->", the others
// with ".".
func Join(elems []string) string {
	var sb strings.Builder
	for i, e := range elems {
		switch {
		case i == 0:
			sb.WriteString(e)
		case strings.HasPrefix(e, DerefPrefix):
			sb.WriteString("->")
			sb.WriteString(strings.TrimPrefix(e, DerefPrefix))
		default:
			sb.WriteString(".")
			sb.WriteString(e)
		}
	}
	return sb.String()
}
