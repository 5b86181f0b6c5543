// Package query implements the predicate language used to select executors:
// tag patterns combined with and/or/not, field lookups (`env:prod`,
// `os:type:Linux`) and the `*` wildcard.
//
// Evaluation is three-valued (see MatchResult): a `not` clause that fires
// yields Rejected rather than plain NoMatch, so that `!foo and bar` over a
// collection containing both foo and bar does not incorrectly match.
package query

import "strings"

// MatchResult is the three-valued outcome of evaluating a query.
type MatchResult int

const (
	// NoMatch means the value does not satisfy the query.
	NoMatch MatchResult = iota
	// Match means the value satisfies the query.
	Match
	// Rejected means a not-clause fired. Combinators preserve rejection:
	// depending on the application it can be treated as NoMatch.
	Rejected
)

// Matches reports truth only for Match; Rejected and NoMatch are both
// non-selecting.
func (m MatchResult) Matches() bool { return m == Match }

// Not negates a result. Rejection of a rejection is a match.
func (m MatchResult) Not() MatchResult {
	switch m {
	case Match:
		return Rejected
	default:
		return Match
	}
}

// And combines left-to-right: Match is neutral, Rejected is absorbing.
func (m MatchResult) And(rhs MatchResult) MatchResult {
	switch {
	case m == Rejected || rhs == Rejected:
		return Rejected
	case m == Match && rhs == Match:
		return Match
	default:
		return NoMatch
	}
}

// Or combines left-to-right: Match is absorbing, NoMatch is neutral,
// Rejected survives unless a Match appears.
func (m MatchResult) Or(rhs MatchResult) MatchResult {
	switch m {
	case Match:
		return Match
	case NoMatch:
		return rhs
	default:
		if rhs == Match {
			return Match
		}
		return Rejected
	}
}

// Xor is the collection-element combiner: like Or, except any rejection
// poisons the aggregate.
func (m MatchResult) Xor(rhs MatchResult) MatchResult {
	if m == Rejected || rhs == Rejected {
		return Rejected
	}
	return m.Or(rhs)
}

func (m MatchResult) String() string {
	switch m {
	case Match:
		return "match"
	case Rejected:
		return "rejected"
	default:
		return "no-match"
	}
}

// Query is a parsed predicate. Nodes are immutable after construction.
// Concrete types: Pattern, FieldPattern, Wildcard, And, Or, Not.
type Query interface {
	// String renders the canonical form; parsing it back yields an
	// equivalent query.
	String() string

	isQuery()
}

// Pattern matches a scalar value by exact equality.
type Pattern string

// FieldPattern looks up Field in a map-shaped value and applies Sub to it.
type FieldPattern struct {
	Field string
	Sub   Query
}

// Wildcard matches anything.
type Wildcard struct{}

// And is the n-ary conjunction of its operands.
type And []Query

// Or is the n-ary disjunction of its operands.
type Or []Query

// Not negates its operand with rejection semantics.
type Not struct {
	Sub Query
}

func (Pattern) isQuery()      {}
func (FieldPattern) isQuery() {}
func (Wildcard) isQuery()     {}
func (And) isQuery()          {}
func (Or) isQuery()           {}
func (Not) isQuery()          {}

func (p Pattern) String() string {
	if patternNeedsQuoting(string(p)) {
		return `"` + string(p) + `"`
	}
	return string(p)
}

func (f FieldPattern) String() string {
	return f.Field + ":" + factorString(f.Sub)
}

func (Wildcard) String() string { return "*" }

func (a And) String() string {
	parts := make([]string, len(a))
	for i, q := range a {
		// Or binds looser than and, so it needs grouping here
		if _, isOr := q.(Or); isOr {
			parts[i] = "(" + q.String() + ")"
		} else {
			parts[i] = q.String()
		}
	}
	return strings.Join(parts, " and ")
}

func (o Or) String() string {
	parts := make([]string, len(o))
	for i, q := range o {
		parts[i] = q.String()
	}
	return strings.Join(parts, " or ")
}

func (n Not) String() string { return "!" + factorString(n.Sub) }

// factorString renders q in a position where the grammar expects a factor:
// composite nodes are parenthesized.
func factorString(q Query) string {
	switch q.(type) {
	case And, Or, Not:
		return "(" + q.String() + ")"
	default:
		return q.String()
	}
}

func patternNeedsQuoting(s string) bool {
	if s == "" {
		return true
	}
	if isKeyword(s) {
		return true
	}
	for _, r := range s {
		if !isWordRune(r) {
			return true
		}
	}
	return false
}

// NewAnd builds a conjunction: nested Ands are flattened, wildcard operands
// are dropped and a singleton collapses to its only child.
func NewAnd(operands ...Query) Query {
	flat := make(And, 0, len(operands))
	for _, q := range operands {
		switch q := q.(type) {
		case Wildcard:
			// `* and x` is just x
		case And:
			flat = append(flat, q...)
		default:
			flat = append(flat, q)
		}
	}
	switch len(flat) {
	case 0:
		return Wildcard{}
	case 1:
		return flat[0]
	default:
		return flat
	}
}

// NewOr builds a disjunction: nested Ors are flattened, any wildcard operand
// absorbs the whole disjunction and a singleton collapses to its only child.
func NewOr(operands ...Query) Query {
	flat := make(Or, 0, len(operands))
	for _, q := range operands {
		switch q := q.(type) {
		case Wildcard:
			return Wildcard{}
		case Or:
			flat = append(flat, q...)
		default:
			flat = append(flat, q)
		}
	}
	if len(flat) == 1 {
		return flat[0]
	}
	return flat
}
