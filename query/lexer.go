package query

import (
	"fmt"
	"strings"
)

type tokenKind int

const (
	tokWord tokenKind = iota
	tokQuoted
	tokStar
	tokColon
	tokLParen
	tokRParen
	tokComma
	tokAndOp // &&
	tokOrOp  // ||
	tokBang
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

// wordRunes are the characters allowed in a bare word besides alphanumerics.
const wordRunes = "-_@#."

func isWordRune(r rune) bool {
	return r >= 'a' && r <= 'z' ||
		r >= 'A' && r <= 'Z' ||
		r >= '0' && r <= '9' ||
		strings.ContainsRune(wordRunes, r)
}

func isKeyword(s string) bool {
	switch strings.ToLower(s) {
	case "and", "or", "not":
		return true
	}
	return false
}

// lex splits the input into tokens. It fails on any character outside the
// lexical alphabet and on an unterminated quoted string.
func lex(input string) ([]token, error) {
	var toks []token
	runes := []rune(input)
	i := 0
	for i < len(runes) {
		r := runes[i]
		switch {
		case r == ' ' || r == '\t' || r == '\r' || r == '\n':
			i++
		case r == '*':
			toks = append(toks, token{tokStar, "*", i})
			i++
		case r == ':':
			toks = append(toks, token{tokColon, ":", i})
			i++
		case r == '(':
			toks = append(toks, token{tokLParen, "(", i})
			i++
		case r == ')':
			toks = append(toks, token{tokRParen, ")", i})
			i++
		case r == ',':
			toks = append(toks, token{tokComma, ",", i})
			i++
		case r == '!':
			toks = append(toks, token{tokBang, "!", i})
			i++
		case r == '&':
			if i+1 >= len(runes) || runes[i+1] != '&' {
				return nil, &ParseError{Input: input, Pos: i, Reason: "expected &&"}
			}
			toks = append(toks, token{tokAndOp, "&&", i})
			i += 2
		case r == '|':
			if i+1 >= len(runes) || runes[i+1] != '|' {
				return nil, &ParseError{Input: input, Pos: i, Reason: "expected ||"}
			}
			toks = append(toks, token{tokOrOp, "||", i})
			i += 2
		case r == '"':
			start := i
			i++
			for i < len(runes) && runes[i] != '"' {
				i++
			}
			if i >= len(runes) {
				return nil, &ParseError{Input: input, Pos: start, Reason: "unterminated quoted string"}
			}
			toks = append(toks, token{tokQuoted, string(runes[start+1 : i]), start})
			i++
		case isWordRune(r):
			start := i
			for i < len(runes) && isWordRune(runes[i]) {
				i++
			}
			toks = append(toks, token{tokWord, string(runes[start:i]), start})
		default:
			return nil, &ParseError{Input: input, Pos: i, Reason: fmt.Sprintf("unexpected character %q", r)}
		}
	}
	return toks, nil
}
