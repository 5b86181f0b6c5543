package server

import (
	"context"
	"errors"
	"sync"
)

// ErrMailboxClosed is returned by Send after the receiver has gone away.
var ErrMailboxClosed = errors.New("mailbox closed")

// Mailbox is an unbounded single-receiver queue whose sender population is
// observable: Recv reports end-of-stream once every Sender handle has been
// closed, and Send fails once the receiver has closed. This is how task
// dispatch propagates disconnects in both directions without blocking.
type Mailbox[T any] struct {
	mu         sync.Mutex
	items      []T
	senders    int
	recvClosed bool
	notify     chan struct{}
}

// Sender is one handle on a mailbox. Handles may be cloned and passed to
// other goroutines; each must be closed exactly once.
type Sender[T any] struct {
	mb   *Mailbox[T]
	once sync.Once
}

// NewMailbox creates a mailbox and its first sender handle.
func NewMailbox[T any]() (*Mailbox[T], *Sender[T]) {
	mb := &Mailbox[T]{
		senders: 1,
		notify:  make(chan struct{}, 1),
	}
	return mb, &Sender[T]{mb: mb}
}

func (mb *Mailbox[T]) wake() {
	select {
	case mb.notify <- struct{}{}:
	default:
	}
}

// Recv blocks until an item is available, every sender is closed (ok
// false), or ctx is done (ok false). Only one goroutine may call Recv.
func (mb *Mailbox[T]) Recv(ctx context.Context) (T, bool) {
	var zero T
	for {
		mb.mu.Lock()
		if len(mb.items) > 0 {
			item := mb.items[0]
			mb.items = mb.items[1:]
			mb.mu.Unlock()
			return item, true
		}
		if mb.senders == 0 || mb.recvClosed {
			mb.mu.Unlock()
			return zero, false
		}
		mb.mu.Unlock()
		select {
		case <-mb.notify:
		case <-ctx.Done():
			return zero, false
		}
	}
}

// CloseRecv shuts the receiving side and returns whatever was still
// queued, so the caller can dispose of items carrying resources. Further
// sends fail with ErrMailboxClosed.
func (mb *Mailbox[T]) CloseRecv() []T {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.recvClosed = true
	drained := mb.items
	mb.items = nil
	return drained
}

// Send queues an item. It never blocks.
func (s *Sender[T]) Send(item T) error {
	s.mb.mu.Lock()
	if s.mb.recvClosed {
		s.mb.mu.Unlock()
		return ErrMailboxClosed
	}
	s.mb.items = append(s.mb.items, item)
	s.mb.mu.Unlock()
	s.mb.wake()
	return nil
}

// Clone adds another handle to the same mailbox.
func (s *Sender[T]) Clone() *Sender[T] {
	s.mb.mu.Lock()
	s.mb.senders++
	s.mb.mu.Unlock()
	return &Sender[T]{mb: s.mb}
}

// Close releases this handle. When the last handle closes, the receiver
// drains the queue and then sees end-of-stream. Close is idempotent.
func (s *Sender[T]) Close() {
	s.once.Do(func() {
		s.mb.mu.Lock()
		s.mb.senders--
		s.mb.mu.Unlock()
		s.mb.wake()
	})
}
