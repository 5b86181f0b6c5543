package query_test

import (
	"testing"

	"github.com/siderant/funtonic/query"
)

func matchStr(t *testing.T, s, q string) query.MatchResult {
	t.Helper()
	return query.MatchString(s, mustParse(t, q))
}

func TestMatchString(t *testing.T) {
	cases := []struct {
		value, query string
		want         query.MatchResult
	}{
		{"prod", "prod", query.Match},
		{"prod", "*", query.Match},
		{"prod", "prod or qa", query.Match},
		{"qa", "prod or qa", query.Match},
		{"qa", "prod and fuck or qa", query.Match},
		{"qa", "prod or fuck or qa", query.Match},
		{"qa", "qa or fuck and qa", query.Match},

		{"qa", "prod", query.NoMatch},
		{"qa", "prod and qa", query.NoMatch},
		{"qa", "prod and qa or coucou", query.NoMatch},
		{"qa", "coucou or prod and qa or coucou", query.NoMatch},

		{"qa", "not qa", query.Rejected},
		{"qa", "!qa", query.Rejected},
		{"prod", "not qa", query.Match},
		{"prod", "!qa", query.Match},
		{"qa", "not  qa", query.Rejected},
		{"qa", "! qa", query.Rejected},
	}
	for _, c := range cases {
		if got := matchStr(t, c.value, c.query); got != c.want {
			t.Errorf("%q matches %q = %v, want %v", c.value, c.query, got, c.want)
		}
	}
}

func TestMatchMap(t *testing.T) {
	tags := map[string]query.Str{
		"env":      "prod",
		"location": "Paris",
	}
	cases := []struct {
		query string
		want  query.MatchResult
	}{
		{"prod", query.NoMatch},
		{"env", query.NoMatch},
		{"*", query.Match},
		{"env:prod", query.Match},
		{"env:*", query.Match},
		{"env:qa or *", query.Match},
		{"env:prod or location:anywhere", query.Match},
		{"env:qa or location:Paris", query.Match},
		{"nonexisting:prod", query.NoMatch},
		{"!env:qa", query.Match},
		{"!env:prod", query.Rejected},
	}
	for _, c := range cases {
		if got := query.MatchMap(tags, mustParse(t, c.query)); got != c.want {
			t.Errorf("map matches %q = %v, want %v", c.query, got, c.want)
		}
	}
}

func TestMatchSlice(t *testing.T) {
	empty := []query.Str{}
	if got := query.MatchSlice(empty, mustParse(t, "foo")); got != query.NoMatch {
		t.Errorf("empty slice matches foo = %v", got)
	}
	// empty still matches the wildcard
	if got := query.MatchSlice(empty, mustParse(t, "*")); got != query.Match {
		t.Errorf("empty slice should match *")
	}

	items := []query.Str{"foo", "bar", "prod"}
	cases := []struct {
		query string
		want  query.MatchResult
	}{
		{"*", query.Match},
		{"foo", query.Match},
		{"bar", query.Match},
		{"prod", query.Match},
		{"!prod", query.Rejected},
		{"prod and bar and foo", query.Match},
		{"prod and foo", query.Match},
		{"prod or field:bar and foo", query.Match},
		{"prod and !prod", query.Rejected},
		{"prod or !prod", query.Match},
		{"fooo", query.NoMatch},
	}
	for _, c := range cases {
		if got := query.MatchSlice(items, mustParse(t, c.query)); got != c.want {
			t.Errorf("slice matches %q = %v, want %v", c.query, got, c.want)
		}
	}
}

func TestMatchResultCombinators(t *testing.T) {
	if query.Match.Not() != query.Rejected {
		t.Error("not(match) should be rejected")
	}
	if query.NoMatch.Not() != query.Match {
		t.Error("not(no-match) should be match")
	}
	if query.Rejected.Not() != query.Match {
		t.Error("not(rejected) should be match")
	}
	if query.NoMatch.And(query.Rejected) != query.Rejected {
		t.Error("and should absorb rejection")
	}
	if query.Rejected.Or(query.Match) != query.Match {
		t.Error("or should recover from rejection on match")
	}
	if query.Rejected.Or(query.NoMatch) != query.Rejected {
		t.Error("or should preserve rejection absent a match")
	}
	if query.Match.Xor(query.Rejected) != query.Rejected {
		t.Error("xor should poison on rejection")
	}
}
