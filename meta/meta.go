package meta

import (
	"fmt"

	"github.com/siderant/funtonic/query"
)

// ExecutorMeta is what an executor declares about itself when it
// registers: a unique client id, its build version and a free-form tag
// tree used for targeting.
type ExecutorMeta struct {
	ClientID string         `yaml:"client_id" json:"client_id" msgpack:"client_id"`
	Version  string         `yaml:"version" json:"version" msgpack:"version"`
	Tags     map[string]Tag `yaml:"tags" json:"tags" msgpack:"tags"`
}

type tagMap map[string]Tag

func (tm tagMap) Matches(q query.Query) query.MatchResult {
	return query.MatchMap(map[string]Tag(tm), q)
}

// Matches evaluates a targeting query against the executor. The executor
// is seen as a two-element collection, its client id and its tag map, so
// a bare pattern matches the client id while a field pattern reaches
// into the tags.
func (m ExecutorMeta) Matches(q query.Query) query.MatchResult {
	return query.MatchSlice([]query.Matcher{
		query.Str(m.ClientID),
		tagMap(m.Tags),
	}, q)
}

func (m ExecutorMeta) String() string {
	return fmt.Sprintf("%s (%s) %v", m.ClientID, m.Version, m.Tags)
}
