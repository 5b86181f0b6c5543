package server

import (
	"encoding/hex"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/siderant/funtonic/protocol"
)

// newTaskID returns a random uuid rendered as bare lowercase hex.
func newTaskID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}

// taskSinks maps live task ids to the reply handle of the commander that
// launched them. A sink is inserted when an executor pulls the task from
// its inbox and taken out by the first TaskExecution stream for that id.
type taskSinks struct {
	mu sync.Mutex
	m  map[string]*Sender[protocol.TaskExecutionResult]
}

func newTaskSinks() *taskSinks {
	return &taskSinks{m: map[string]*Sender[protocol.TaskExecutionResult]{}}
}

func (s *taskSinks) put(taskID string, sink *Sender[protocol.TaskExecutionResult]) {
	s.mu.Lock()
	s.m[taskID] = sink
	s.mu.Unlock()
}

// take removes and returns the sink for taskID.
func (s *taskSinks) take(taskID string) (*Sender[protocol.TaskExecutionResult], bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sink, ok := s.m[taskID]
	if ok {
		delete(s.m, taskID)
	}
	return sink, ok
}

// running lists the ids of tasks whose sink has not been consumed or
// completed, sorted for stable output.
func (s *taskSinks) running() []string {
	s.mu.Lock()
	ids := make([]string, 0, len(s.m))
	for id := range s.m {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	sort.Strings(ids)
	return ids
}
