package query

import (
	"fmt"
	"strings"
)

// ParseError reports a query that could not be tokenized or parsed.
type ParseError struct {
	Input  string
	Pos    int
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("unable to parse query %q at offset %d: %s", e.Input, e.Pos, e.Reason)
}

// UnrecognizedInputError reports trailing input left over after a complete
// query was parsed.
type UnrecognizedInputError struct {
	Input string
	Rest  string
}

func (e *UnrecognizedInputError) Error() string {
	return fmt.Sprintf("unable to parse query %q: unrecognized trailing input %q", e.Input, e.Rest)
}

// Parse parses a predicate expression.
//
// Grammar, precedence-expressed (not > and > or; `,` and `||` are synonyms
// for or, `&&` for and):
//
//	expression := or
//	or         := term (("or"|"||"|",") term)*
//	term       := not_factor (("and"|"&&") not_factor)*
//	not_factor := ("not"|"!") factor | factor
//	factor     := "(" expression ")" | query
//	query      := "*" | field ":" factor | word | quoted
//
// `and`, `or` and `not` are reserved words; a pattern spelled like one of
// them must be quoted.
func Parse(input string) (Query, error) {
	toks, err := lex(input)
	if err != nil {
		return nil, err
	}
	if len(toks) == 0 {
		return nil, &ParseError{Input: input, Pos: 0, Reason: "empty query"}
	}
	p := &parser{input: input, toks: toks}
	q, err := p.expression()
	if err != nil {
		return nil, err
	}
	if !p.eof() {
		return nil, &UnrecognizedInputError{Input: input, Rest: p.rest()}
	}
	return q, nil
}

type parser struct {
	input string
	toks  []token
	pos   int
}

func (p *parser) eof() bool { return p.pos >= len(p.toks) }

func (p *parser) peek() (token, bool) {
	if p.eof() {
		return token{}, false
	}
	return p.toks[p.pos], true
}

func (p *parser) next() token {
	t := p.toks[p.pos]
	p.pos++
	return t
}

func (p *parser) rest() string {
	if p.eof() {
		return ""
	}
	return p.input[p.toks[p.pos].pos:]
}

func (p *parser) errHere(reason string) error {
	pos := len(p.input)
	if t, ok := p.peek(); ok {
		pos = t.pos
	}
	return &ParseError{Input: p.input, Pos: pos, Reason: reason}
}

func (p *parser) isKeywordAt(kw string) bool {
	t, ok := p.peek()
	return ok && t.kind == tokWord && strings.EqualFold(t.text, kw)
}

func (p *parser) expression() (Query, error) {
	first, err := p.term()
	if err != nil {
		return nil, err
	}
	operands := []Query{first}
	for {
		t, ok := p.peek()
		if !ok {
			break
		}
		if t.kind == tokOrOp || t.kind == tokComma || p.isKeywordAt("or") {
			p.next()
			q, err := p.term()
			if err != nil {
				return nil, err
			}
			operands = append(operands, q)
			continue
		}
		break
	}
	return NewOr(operands...), nil
}

func (p *parser) term() (Query, error) {
	first, err := p.notFactor()
	if err != nil {
		return nil, err
	}
	operands := []Query{first}
	for {
		t, ok := p.peek()
		if !ok {
			break
		}
		if t.kind == tokAndOp || p.isKeywordAt("and") {
			p.next()
			q, err := p.notFactor()
			if err != nil {
				return nil, err
			}
			operands = append(operands, q)
			continue
		}
		break
	}
	return NewAnd(operands...), nil
}

func (p *parser) notFactor() (Query, error) {
	if t, ok := p.peek(); ok && (t.kind == tokBang || p.isKeywordAt("not")) {
		p.next()
		sub, err := p.factor()
		if err != nil {
			return nil, err
		}
		return Not{Sub: sub}, nil
	}
	return p.factor()
}

func (p *parser) factor() (Query, error) {
	t, ok := p.peek()
	if !ok {
		return nil, p.errHere("expected a query")
	}
	if t.kind == tokLParen {
		p.next()
		q, err := p.expression()
		if err != nil {
			return nil, err
		}
		if t, ok := p.peek(); !ok || t.kind != tokRParen {
			return nil, p.errHere("expected closing parenthesis")
		}
		p.next()
		return q, nil
	}
	return p.query()
}

func (p *parser) query() (Query, error) {
	t, ok := p.peek()
	if !ok {
		return nil, p.errHere("expected a query")
	}
	switch t.kind {
	case tokStar:
		p.next()
		return Wildcard{}, nil
	case tokQuoted:
		p.next()
		return Pattern(t.text), nil
	case tokWord:
		if isKeyword(t.text) {
			return nil, p.errHere(fmt.Sprintf("reserved word %q cannot start a query", t.text))
		}
		p.next()
		if nxt, ok := p.peek(); ok && nxt.kind == tokColon {
			p.next()
			sub, err := p.factor()
			if err != nil {
				return nil, err
			}
			return FieldPattern{Field: t.text, Sub: sub}, nil
		}
		return Pattern(t.text), nil
	default:
		return nil, p.errHere(fmt.Sprintf("unexpected token %q", t.text))
	}
}
