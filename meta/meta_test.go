package meta_test

import (
	"reflect"
	"testing"

	"github.com/vmihailenco/msgpack/v5"
	"gopkg.in/yaml.v3"

	"github.com/siderant/funtonic/meta"
	"github.com/siderant/funtonic/query"
)

func mustQuery(t *testing.T, input string) query.Query {
	t.Helper()
	q, err := query.Parse(input)
	if err != nil {
		t.Fatalf("Parse(%q): %v", input, err)
	}
	return q
}

func TestTagMatch(t *testing.T) {
	coucou := meta.Value("coucou")
	fooBar := meta.List(meta.Value("foo"), meta.Value("bar"))
	maap := meta.Map(map[string]meta.Tag{
		"key1": meta.Value("value1"),
		"key2": meta.Value("value2"),
	})
	cases := []struct {
		tag   meta.Tag
		query string
		want  query.MatchResult
	}{
		{coucou, "coucou", query.Match},
		{coucou, "foo", query.NoMatch},
		{coucou, "*", query.Match},

		{fooBar, "*", query.Match},
		{fooBar, "foo", query.Match},
		{fooBar, "bar", query.Match},
		{fooBar, "fooo", query.NoMatch},

		{maap, "*", query.Match},
		{maap, "key1:value1", query.Match},
		{maap, "key1:value2", query.NoMatch},
		{maap, "key1:*", query.Match},
		{maap, "value1", query.NoMatch},
	}
	for _, c := range cases {
		if got := c.tag.Matches(mustQuery(t, c.query)); got != c.want {
			t.Errorf("%v matches %q = %v, want %v", c.tag, c.query, got, c.want)
		}
	}
}

func TestTagYAMLUnmarshal(t *testing.T) {
	decode := func(input string) meta.Tag {
		t.Helper()
		var tag meta.Tag
		if err := yaml.Unmarshal([]byte(input), &tag); err != nil {
			t.Fatalf("unmarshal %q: %v", input, err)
		}
		return tag
	}

	if tag := decode("bar"); tag.Kind() != meta.KindValue || tag.Scalar() != "bar" {
		t.Errorf("unexpected scalar tag %v", tag)
	}
	if tag := decode(`["bar", "foo"]`); tag.Kind() != meta.KindList || len(tag.Items()) != 2 {
		t.Errorf("unexpected list tag %v", tag)
	}
	if tag := decode("- foo\n- bar"); tag.Kind() != meta.KindList {
		t.Errorf("unexpected list tag %v", tag)
	}
	if tag := decode("key1: value1\nkey2: value2"); tag.Kind() != meta.KindMap || len(tag.Fields()) != 2 {
		t.Errorf("unexpected map tag %v", tag)
	}

	var tags map[string]meta.Tag
	input := "tag1:\n  - bar\n  - foo\ntag2: coucou\ntag_map:\n  foo: bar\n  bar: foo"
	if err := yaml.Unmarshal([]byte(input), &tags); err != nil {
		t.Fatalf("unmarshal tag map: %v", err)
	}
	if tags["tag1"].Kind() != meta.KindList || tags["tag2"].Kind() != meta.KindValue || tags["tag_map"].Kind() != meta.KindMap {
		t.Errorf("unexpected tag kinds in %v", tags)
	}
}

func TestTagYAMLRoundTrip(t *testing.T) {
	orig := meta.Map(map[string]meta.Tag{
		"env":   meta.Value("prod"),
		"roles": meta.List(meta.Value("foo"), meta.Value("bar")),
	})
	data, err := yaml.Marshal(orig)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back meta.Tag
	if err := yaml.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !reflect.DeepEqual(orig, back) {
		t.Errorf("round trip mismatch: %v != %v", back, orig)
	}
}

func TestTagMsgpackRoundTrip(t *testing.T) {
	orig := meta.Map(map[string]meta.Tag{
		"env":   meta.Value("prod"),
		"roles": meta.List(meta.Value("foo"), meta.Value("bar")),
		"os": meta.Map(map[string]meta.Tag{
			"type": meta.Value("Linux"),
		}),
	})
	data, err := msgpack.Marshal(orig)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back meta.Tag
	if err := msgpack.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !reflect.DeepEqual(orig, back) {
		t.Errorf("round trip mismatch: %v != %v", back, orig)
	}
}

const executorFixture = `
client_id: siderant
version: 0.0.1
tags:
  env: prod
  roles:
    - foo
    - bar
  os:
    type: Linux
    sub_type: Ubuntu
    version: "18.04"
`

func TestExecutorMetaMatch(t *testing.T) {
	var m meta.ExecutorMeta
	if err := yaml.Unmarshal([]byte(executorFixture), &m); err != nil {
		t.Fatalf("unmarshal fixture: %v", err)
	}
	if m.ClientID != "siderant" || m.Version != "0.0.1" {
		t.Fatalf("unexpected meta %v", m)
	}

	cases := []struct {
		query string
		want  query.MatchResult
	}{
		{"*", query.Match},
		{"siderant", query.Match},
		{"prod", query.NoMatch},
		{"env:*", query.Match},
		{"env:prod", query.Match},
		{"env:dev", query.NoMatch},
		{"roles:*", query.Match},
		{"roles:foo", query.Match},
		{"roles:bar", query.Match},
		{"non_existing:bar", query.NoMatch},
		{"non_existing:*", query.NoMatch},
		{"os:*", query.Match},
		{"os:type:Linux", query.Match},
		{"os:type:*", query.Match},
		{"os:version:18.04", query.Match},
		{"os:type:Windows", query.NoMatch},

		{"env:prod and siderant", query.Match},
		{"env:prod and !siderant", query.Rejected},
		{"env:prod and roles:foo", query.Match},
		{"env:qa or roles:foo", query.Match},
		{"!env:prod", query.Rejected},
		{"!env:qa", query.Match},
	}
	for _, c := range cases {
		if got := m.Matches(mustQuery(t, c.query)); got != c.want {
			t.Errorf("meta matches %q = %v, want %v", c.query, got, c.want)
		}
	}
}
