package conditions

import (
	"fmt"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokNumber
	tokString
	tokTrue
	tokFalse
	tokNull
	tokAnd
	tokOr
	tokNot
	tokContains
	tokEq
	tokNeq
	tokLt
	tokLte
	tokGt
	tokGte
	tokLParen
	tokRParen
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

var keywords = map[string]tokenKind{
	"true":     tokTrue,
	"false":    tokFalse,
	"null":     tokNull,
	"and":      tokAnd,
	"or":       tokOr,
	"not":      tokNot,
	"contains": tokContains,
}

func lex(src string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(src) {
		c := rune(src[i])
		switch {
		case unicode.IsSpace(c):
			i++
		case c == '(':
			toks = append(toks, token{tokLParen, "(", i})
			i++
		case c == ')':
			toks = append(toks, token{tokRParen, ")", i})
			i++
		case c == '&' || c == '|':
			if i+1 >= len(src) || rune(src[i+1]) != c {
				return nil, fmt.Errorf("unexpected %q at %d", c, i)
			}
			kind := tokAnd
			if c == '|' {
				kind = tokOr
			}
			toks = append(toks, token{kind, src[i : i+2], i})
			i += 2
		case c == '=' || c == '!' || c == '<' || c == '>':
			two := ""
			if i+1 < len(src) {
				two = src[i : i+2]
			}
			switch two {
			case "==":
				toks = append(toks, token{tokEq, two, i})
				i += 2
				continue
			case "!=":
				toks = append(toks, token{tokNeq, two, i})
				i += 2
				continue
			case "<=":
				toks = append(toks, token{tokLte, two, i})
				i += 2
				continue
			case ">=":
				toks = append(toks, token{tokGte, two, i})
				i += 2
				continue
			}
			switch c {
			case '!':
				toks = append(toks, token{tokNot, "!", i})
			case '<':
				toks = append(toks, token{tokLt, "<", i})
			case '>':
				toks = append(toks, token{tokGt, ">", i})
			default:
				return nil, fmt.Errorf("single '=' at %d, use '=='", i)
			}
			i++
		case c == '"' || c == '\'':
			s, n, err := lexString(src[i:], byte(c))
			if err != nil {
				return nil, fmt.Errorf("%w at %d", err, i)
			}
			toks = append(toks, token{tokString, s, i})
			i += n
		case unicode.IsDigit(c) || (c == '-' && i+1 < len(src) && unicode.IsDigit(rune(src[i+1]))):
			start := i
			i++
			for i < len(src) && (unicode.IsDigit(rune(src[i])) || src[i] == '.') {
				i++
			}
			toks = append(toks, token{tokNumber, src[start:i], start})
		case c == '_' || unicode.IsLetter(c):
			start := i
			for i < len(src) && (src[i] == '_' || src[i] == '.' || src[i] == '-' || unicode.IsLetter(rune(src[i])) || unicode.IsDigit(rune(src[i]))) {
				i++
			}
			word := src[start:i]
			if kind, ok := keywords[strings.ToLower(word)]; ok {
				toks = append(toks, token{kind, word, start})
			} else {
				toks = append(toks, token{tokIdent, word, start})
			}
		default:
			return nil, fmt.Errorf("unexpected character %q at %d", c, i)
		}
	}
	toks = append(toks, token{tokEOF, "", len(src)})
	return toks, nil
}

// lexString reads a quoted literal starting at s[0] and returns its value and
// the number of bytes consumed. Backslash escapes the next byte.
func lexString(s string, quote byte) (string, int, error) {
	var b strings.Builder
	for i := 1; i < len(s); i++ {
		switch s[i] {
		case '\\':
			if i+1 < len(s) {
				i++
				b.WriteByte(s[i])
			}
		case quote:
			return b.String(), i + 1, nil
		default:
			b.WriteByte(s[i])
		}
	}
	return "", 0, fmt.Errorf("unterminated string")
}
