package expr

import (
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNumber
	tokString
	tokIdent
	tokTrue
	tokFalse
	tokNull
	tokLParen
	tokRParen
	tokLBracket
	tokRBracket
	tokDot
	tokNot
	tokMinus
	tokAnd
	tokOr
	tokEq
	tokNeq
	tokLt
	tokLte
	tokGt
	tokGte
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

// lex splits src into tokens. Both "==" and "===" (likewise "!=" and "!==")
// produce the same token: templates authored for the previous system use
// the triple forms.
func lex(src string) ([]token, error) {
	var tokens []token
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case isDigit(c):
			start := i
			for i < len(src) && isDigit(src[i]) {
				i++
			}
			if i < len(src) && src[i] == '.' && i+1 < len(src) && isDigit(src[i+1]) {
				i++
				for i < len(src) && isDigit(src[i]) {
					i++
				}
			}
			if i < len(src) && (src[i] == 'e' || src[i] == 'E') {
				j := i + 1
				if j < len(src) && (src[j] == '+' || src[j] == '-') {
					j++
				}
				if j < len(src) && isDigit(src[j]) {
					i = j
					for i < len(src) && isDigit(src[i]) {
						i++
					}
				}
			}
			tokens = append(tokens, token{kind: tokNumber, text: src[start:i], pos: start})
		case c == '"' || c == '\'':
			text, next, err := lexString(src, i)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, token{kind: tokString, text: text, pos: i})
			i = next
		default:
			if r, _ := utf8.DecodeRuneInString(src[i:]); isIdentStart(r) {
				start := i
				for i < len(src) {
					r, w := utf8.DecodeRuneInString(src[i:])
					if !isIdentPart(r) {
						break
					}
					i += w
				}
				tokens = append(tokens, keyword(src[start:i], start))
				continue
			}
			kind, width := lexOperator(src[i:])
			if width == 0 {
				r, _ := utf8.DecodeRuneInString(src[i:])
				return nil, &SyntaxError{Pos: i, Msg: "unexpected character " + strconv.QuoteRune(r)}
			}
			tokens = append(tokens, token{kind: kind, text: src[i : i+width], pos: i})
			i += width
		}
	}
	tokens = append(tokens, token{kind: tokEOF, pos: len(src)})
	return tokens, nil
}

func keyword(word string, pos int) token {
	kind := tokIdent
	switch word {
	case "true":
		kind = tokTrue
	case "false":
		kind = tokFalse
	case "null", "undefined":
		kind = tokNull
	}
	return token{kind: kind, text: word, pos: pos}
}

func lexOperator(s string) (tokenKind, int) {
	switch {
	case strings.HasPrefix(s, "==="):
		return tokEq, 3
	case strings.HasPrefix(s, "!=="):
		return tokNeq, 3
	case strings.HasPrefix(s, "=="):
		return tokEq, 2
	case strings.HasPrefix(s, "!="):
		return tokNeq, 2
	case strings.HasPrefix(s, "<="):
		return tokLte, 2
	case strings.HasPrefix(s, ">="):
		return tokGte, 2
	case strings.HasPrefix(s, "&&"):
		return tokAnd, 2
	case strings.HasPrefix(s, "||"):
		return tokOr, 2
	}
	switch s[0] {
	case '<':
		return tokLt, 1
	case '>':
		return tokGt, 1
	case '!':
		return tokNot, 1
	case '-':
		return tokMinus, 1
	case '(':
		return tokLParen, 1
	case ')':
		return tokRParen, 1
	case '[':
		return tokLBracket, 1
	case ']':
		return tokRBracket, 1
	case '.':
		return tokDot, 1
	}
	return tokEOF, 0
}

func lexString(src string, start int) (string, int, error) {
	quote := src[start]
	var b strings.Builder
	i := start + 1
	for i < len(src) {
		c := src[i]
		switch {
		case c == quote:
			return b.String(), i + 1, nil
		case c == '\\' && i+1 < len(src):
			switch esc := src[i+1]; esc {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			default:
				b.WriteByte(esc)
			}
			i += 2
		default:
			b.WriteByte(c)
			i++
		}
	}
	return "", 0, &SyntaxError{Pos: start, Msg: "unterminated string"}
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isIdentStart(r rune) bool {
	return r == '_' || r == '$' || unicode.IsLetter(r)
}

func isIdentPart(r rune) bool {
	return isIdentStart(r) || unicode.IsDigit(r)
}
