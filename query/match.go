package query

// Matcher is a value a query can be evaluated against.
type Matcher interface {
	Matches(q Query) MatchResult
}

// Str adapts a plain string to the Matcher interface.
type Str string

// Matches evaluates q against the string.
func (s Str) Matches(q Query) MatchResult { return MatchString(string(s), q) }

// MatchString evaluates a query against a scalar value.
func MatchString(s string, q Query) MatchResult {
	switch q := q.(type) {
	case Pattern:
		if string(q) == s {
			return Match
		}
		return NoMatch
	case FieldPattern:
		return NoMatch
	case Wildcard:
		return Match
	case And:
		acc := Match
		for _, c := range q {
			acc = acc.And(MatchString(s, c))
		}
		return acc
	case Or:
		acc := NoMatch
		for _, c := range q {
			acc = acc.Or(MatchString(s, c))
		}
		return acc
	case Not:
		return MatchString(s, q.Sub).Not()
	}
	return NoMatch
}

// MatchMap evaluates a query against a map-shaped value. FieldPattern looks
// up its field and delegates to the child; a bare pattern never matches a
// map.
func MatchMap[M Matcher](m map[string]M, q Query) MatchResult {
	switch q := q.(type) {
	case Pattern:
		return NoMatch
	case FieldPattern:
		if child, ok := m[q.Field]; ok {
			return child.Matches(q.Sub)
		}
		return NoMatch
	case Wildcard:
		return Match
	case And:
		acc := Match
		for _, c := range q {
			acc = acc.And(MatchMap(m, c))
		}
		return acc
	case Or:
		acc := NoMatch
		for _, c := range q {
			acc = acc.Or(MatchMap(m, c))
		}
		return acc
	case Not:
		return MatchMap(m, q.Sub).Not()
	}
	return NoMatch
}

// MatchSlice evaluates a query against a collection. An And requires every
// clause to match at least one element (with rejection preserved through the
// Xor combiner); an Or matches if any clause matches any element; Not
// propagates element-wise.
func MatchSlice[M Matcher](items []M, q Query) MatchResult {
	switch q := q.(type) {
	case Wildcard:
		return Match
	case And:
		acc := Match
		for _, clause := range q {
			inner := NoMatch
			for _, item := range items {
				inner = inner.Xor(item.Matches(clause))
			}
			acc = acc.And(inner)
		}
		return acc
	case Or:
		acc := NoMatch
		for _, clause := range q {
			inner := NoMatch
			for _, item := range items {
				inner = inner.Or(item.Matches(clause))
			}
			acc = acc.Or(inner)
		}
		return acc
	case Not:
		acc := Match
		for _, item := range items {
			acc = acc.And(item.Matches(q))
		}
		return acc
	default:
		acc := NoMatch
		for _, item := range items {
			acc = acc.Or(item.Matches(q))
		}
		return acc
	}
}
