// Package meta describes executors: an opaque tag tree (scalars, lists,
// maps) attached to a client id, and the query matching rules over it.
package meta

import (
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/vmihailenco/msgpack/v5/msgpcode"
	"gopkg.in/yaml.v3"

	"github.com/siderant/funtonic/query"
)

// TagKind discriminates the Tag union.
type TagKind int

const (
	// KindValue is a scalar string tag.
	KindValue TagKind = iota
	// KindList is an ordered list of tags.
	KindList
	// KindMap is a string-keyed map of tags.
	KindMap
)

// Tag is a discriminated union describing one facet of an executor:
// either a scalar string, a list of tags or a string-keyed map of tags.
// Serialized forms (YAML, JSON, msgpack) are untagged: the shape of the
// value determines the variant.
type Tag struct {
	kind  TagKind
	value string
	list  []Tag
	m     map[string]Tag
}

// Value builds a scalar tag.
func Value(s string) Tag { return Tag{kind: KindValue, value: s} }

// List builds a list tag.
func List(items ...Tag) Tag { return Tag{kind: KindList, list: items} }

// Map builds a map tag.
func Map(m map[string]Tag) Tag { return Tag{kind: KindMap, m: m} }

// Kind returns the variant of the tag.
func (t Tag) Kind() TagKind { return t.kind }

// Scalar returns the scalar value; empty unless Kind is KindValue.
func (t Tag) Scalar() string { return t.value }

// Items returns the list elements; nil unless Kind is KindList.
func (t Tag) Items() []Tag { return t.list }

// Fields returns the map entries; nil unless Kind is KindMap.
func (t Tag) Fields() map[string]Tag { return t.m }

// Matches evaluates a query against the tag.
func (t Tag) Matches(q query.Query) query.MatchResult {
	switch t.kind {
	case KindList:
		return query.MatchSlice(t.list, q)
	case KindMap:
		return query.MatchMap(t.m, q)
	default:
		return query.MatchString(t.value, q)
	}
}

func (t Tag) String() string {
	switch t.kind {
	case KindList:
		return fmt.Sprintf("%v", t.list)
	case KindMap:
		return fmt.Sprintf("%v", t.m)
	default:
		return t.value
	}
}

// UnmarshalYAML decodes the untagged union: scalar, sequence or mapping.
func (t *Tag) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var s string
		if err := node.Decode(&s); err != nil {
			return err
		}
		*t = Value(s)
	case yaml.SequenceNode:
		var items []Tag
		if err := node.Decode(&items); err != nil {
			return err
		}
		*t = List(items...)
	case yaml.MappingNode:
		var m map[string]Tag
		if err := node.Decode(&m); err != nil {
			return err
		}
		*t = Map(m)
	default:
		return fmt.Errorf("unsupported YAML node kind %d for tag", node.Kind)
	}
	return nil
}

// MarshalYAML encodes the tag as its natural YAML shape.
func (t Tag) MarshalYAML() (any, error) {
	switch t.kind {
	case KindList:
		return t.list, nil
	case KindMap:
		return t.m, nil
	default:
		return t.value, nil
	}
}

// UnmarshalJSON decodes the untagged union from JSON.
func (t *Tag) UnmarshalJSON(data []byte) error {
	for _, b := range data {
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		case '"':
			var s string
			if err := json.Unmarshal(data, &s); err != nil {
				return err
			}
			*t = Value(s)
			return nil
		case '[':
			var items []Tag
			if err := json.Unmarshal(data, &items); err != nil {
				return err
			}
			*t = List(items...)
			return nil
		case '{':
			var m map[string]Tag
			if err := json.Unmarshal(data, &m); err != nil {
				return err
			}
			*t = Map(m)
			return nil
		default:
			return fmt.Errorf("unsupported JSON value for tag: %s", data)
		}
	}
	return fmt.Errorf("empty JSON value for tag")
}

// MarshalJSON encodes the tag as its natural JSON shape.
func (t Tag) MarshalJSON() ([]byte, error) {
	switch t.kind {
	case KindList:
		return json.Marshal(t.list)
	case KindMap:
		return json.Marshal(t.m)
	default:
		return json.Marshal(t.value)
	}
}

// EncodeMsgpack encodes the tag as its natural msgpack shape.
func (t Tag) EncodeMsgpack(enc *msgpack.Encoder) error {
	switch t.kind {
	case KindList:
		return enc.Encode(t.list)
	case KindMap:
		return enc.Encode(t.m)
	default:
		return enc.EncodeString(t.value)
	}
}

// DecodeMsgpack decodes the untagged union from msgpack.
func (t *Tag) DecodeMsgpack(dec *msgpack.Decoder) error {
	code, err := dec.PeekCode()
	if err != nil {
		return err
	}
	switch {
	case msgpcode.IsString(code):
		s, err := dec.DecodeString()
		if err != nil {
			return err
		}
		*t = Value(s)
	case msgpcode.IsFixedArray(code) || code == msgpcode.Array16 || code == msgpcode.Array32:
		var items []Tag
		if err := dec.Decode(&items); err != nil {
			return err
		}
		*t = List(items...)
	case msgpcode.IsFixedMap(code) || code == msgpcode.Map16 || code == msgpcode.Map32:
		var m map[string]Tag
		if err := dec.Decode(&m); err != nil {
			return err
		}
		*t = Map(m)
	default:
		return fmt.Errorf("unsupported msgpack code %x for tag", code)
	}
	return nil
}
