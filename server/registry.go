package server

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/siderant/funtonic/keys"
	"github.com/siderant/funtonic/meta"
	"github.com/siderant/funtonic/protocol"
	"github.com/siderant/funtonic/query"
	"github.com/siderant/funtonic/yamlstore"
)

// Dispatch is one unit of work queued into an executor inbox: the
// commander's envelope, forwarded verbatim, plus a handle on the
// commander's reply mailbox.
type Dispatch struct {
	Payload  *keys.SignedPayload
	ClientID string
	Reply    *Sender[protocol.TaskExecutionResult]
}

// Inbox is an executor's dispatch queue.
type Inbox = Mailbox[Dispatch]

// DropOutcome reports what Drop removed for one executor.
type DropOutcome struct {
	RemovedFromConnected bool `json:"removed_from_connected"`
	RemovedFromKnown     bool `json:"removed_from_known"`
}

// Registry tracks executors: a durable map of everyone ever registered and
// a live map of currently connected inboxes. Every connected executor is
// also known; the reverse does not hold.
type Registry struct {
	log   *zap.Logger
	known *yamlstore.DB[meta.ExecutorMeta]

	mu        sync.Mutex
	connected map[string]*Sender[Dispatch]
}

// NewRegistry opens (or creates) the known-executors database at path.
func NewRegistry(path string, logger *zap.Logger) (*Registry, error) {
	known, err := yamlstore.Open[meta.ExecutorMeta](path)
	if err != nil {
		return nil, fmt.Errorf("opening known executors: %w", err)
	}
	return &Registry{
		log:       logger,
		known:     known,
		connected: map[string]*Sender[Dispatch]{},
	}, nil
}

// Register records the executor as known and connected, returning the
// inbox its session should drain. A reconnection replaces the previous
// inbox; the replaced session sees its inbox end.
func (r *Registry) Register(m meta.ExecutorMeta) (*Inbox, error) {
	inbox, sender := NewMailbox[Dispatch]()

	r.mu.Lock()
	if old, ok := r.connected[m.ClientID]; ok {
		old.Close()
	}
	r.connected[m.ClientID] = sender
	r.mu.Unlock()

	if err := r.known.Update(func(data map[string]meta.ExecutorMeta) error {
		data[m.ClientID] = m
		return nil
	}); err != nil {
		r.Unregister(m.ClientID, inbox)
		return nil, fmt.Errorf("persisting executor %s: %w", m.ClientID, err)
	}
	r.log.Info("executor registered",
		zap.String("client_id", m.ClientID),
		zap.String("version", m.Version),
		zap.String("tags", fmt.Sprint(m.Tags)))
	return inbox, nil
}

// Unregister removes the connected entry for clientID if it still belongs
// to the session owning inbox. Queued dispatches are drained and their
// reply handles released with an in-band disconnect.
func (r *Registry) Unregister(clientID string, inbox *Inbox) {
	r.mu.Lock()
	if sender, ok := r.connected[clientID]; ok && sender.mb == inbox {
		sender.Close()
		delete(r.connected, clientID)
	}
	r.mu.Unlock()

	for _, d := range inbox.CloseRecv() {
		_ = d.Reply.Send(protocol.TaskExecutionResult{
			ClientID: clientID,
			Result:   protocol.ExecutionResult{Disconnected: &protocol.Empty{}},
		})
		d.Reply.Close()
	}
	r.log.Info("executor unregistered", zap.String("client_id", clientID))
}

// MatchedExecutor is one known executor selected by a predicate. Inbox is
// nil when the executor is not currently connected.
type MatchedExecutor struct {
	ClientID string
	Inbox    *Sender[Dispatch]
}

// Match scans the known executors and returns everyone whose meta matches
// the query, with their live inbox when connected.
func (r *Registry) Match(q query.Query) []MatchedExecutor {
	var out []MatchedExecutor
	r.known.View(func(data map[string]meta.ExecutorMeta) {
		for id, m := range data {
			if m.Matches(q) == query.Match {
				out = append(out, MatchedExecutor{ClientID: id})
			}
		}
	})
	r.mu.Lock()
	for i := range out {
		out[i].Inbox = r.connected[out[i].ClientID]
	}
	r.mu.Unlock()
	return out
}

// Known returns the metas of known executors matching the query.
func (r *Registry) Known(q query.Query) map[string]meta.ExecutorMeta {
	out := map[string]meta.ExecutorMeta{}
	r.known.View(func(data map[string]meta.ExecutorMeta) {
		for id, m := range data {
			if m.Matches(q) == query.Match {
				out[id] = m
			}
		}
	})
	return out
}

// Connected returns the metas of connected executors matching the query.
func (r *Registry) Connected(q query.Query) map[string]meta.ExecutorMeta {
	known := r.Known(q)
	out := map[string]meta.ExecutorMeta{}
	r.mu.Lock()
	for id := range r.connected {
		if m, ok := known[id]; ok {
			out[id] = m
		}
	}
	r.mu.Unlock()
	return out
}

// Drop removes every matching executor from both maps and reports what was
// removed per client id.
func (r *Registry) Drop(q query.Query) (map[string]DropOutcome, error) {
	out := map[string]DropOutcome{}
	err := r.known.Update(func(data map[string]meta.ExecutorMeta) error {
		for id, m := range data {
			if m.Matches(q) != query.Match {
				continue
			}
			delete(data, id)
			outcome := DropOutcome{RemovedFromKnown: true}
			r.mu.Lock()
			if sender, ok := r.connected[id]; ok {
				sender.Close()
				delete(r.connected, id)
				outcome.RemovedFromConnected = true
			}
			r.mu.Unlock()
			out[id] = outcome
			r.log.Info("executor dropped", zap.String("client_id", id))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
