// Package metrics provides in-process counters for the task server. It is
// a leaf package with no internal dependencies. All increment methods are
// nil-receiver safe so an unconfigured server pays nothing.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of the server counters.
// Safe to read concurrently after creation.
type Snapshot struct {
	// Executor sessions
	ExecutorsRegistered int64 `json:"executors_registered"`
	ExecutorsRefused    int64 `json:"executors_refused"`

	// Dispatch
	TasksLaunched        int64            `json:"tasks_launched"`
	TasksDispatched      int64            `json:"tasks_dispatched"`
	EventsRelayed        int64            `json:"events_relayed"`
	DispatchesByExecutor map[string]int64 `json:"dispatches_by_executor"`

	// Trust
	AuthFailures int64 `json:"auth_failures"`
	KeysApproved int64 `json:"keys_approved"`
}

// Collector accumulates server counters. Thread-safe via sync.Mutex.
type Collector struct {
	mu sync.Mutex

	executorsRegistered int64
	executorsRefused    int64

	tasksLaunched        int64
	tasksDispatched      int64
	eventsRelayed        int64
	dispatchesByExecutor map[string]int64

	authFailures int64
	keysApproved int64
}

// NewCollector creates an empty Collector.
func NewCollector() *Collector {
	return &Collector{dispatchesByExecutor: make(map[string]int64)}
}

// IncExecutorRegistered records a completed executor registration.
func (c *Collector) IncExecutorRegistered() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.executorsRegistered++
	c.mu.Unlock()
}

// IncExecutorRefused records an executor session refused before
// registration (trust-on-first-use, key mismatch, protocol mismatch).
func (c *Collector) IncExecutorRefused() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.executorsRefused++
	c.mu.Unlock()
}

// IncTaskLaunched records an authenticated launch request.
func (c *Collector) IncTaskLaunched() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.tasksLaunched++
	c.mu.Unlock()
}

// IncTaskDispatched records a task handed to one executor's inbox.
func (c *Collector) IncTaskDispatched(clientID string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.tasksDispatched++
	c.dispatchesByExecutor[clientID]++
	c.mu.Unlock()
}

// IncEventRelayed records one execution event relayed to a commander.
func (c *Collector) IncEventRelayed() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.eventsRelayed++
	c.mu.Unlock()
}

// IncAuthFailure records a request refused for a bad or unknown signature.
func (c *Collector) IncAuthFailure() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.authFailures++
	c.mu.Unlock()
}

// IncKeyApproved records one executor key moved to the trusted store.
func (c *Collector) IncKeyApproved() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.keysApproved++
	c.mu.Unlock()
}

// Snapshot returns an immutable point-in-time view of all counters. The
// Collector can continue to be mutated independently.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	dispatches := make(map[string]int64, len(c.dispatchesByExecutor))
	for k, v := range c.dispatchesByExecutor {
		dispatches[k] = v
	}
	return Snapshot{
		ExecutorsRegistered:  c.executorsRegistered,
		ExecutorsRefused:     c.executorsRefused,
		TasksLaunched:        c.tasksLaunched,
		TasksDispatched:      c.tasksDispatched,
		EventsRelayed:        c.eventsRelayed,
		DispatchesByExecutor: dispatches,
		AuthFailures:         c.authFailures,
		KeysApproved:         c.keysApproved,
	}
}
