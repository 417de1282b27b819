package contentrepo

import (
	"context"
	"slices"
	"sync"
)

// Listener is told about the outcome of every operation it is registered for.
// Callbacks run on the worker that executed the operation, before the operation's
// Done channel closes. A panicking listener is not recovered.
type Listener interface {
	ExecutionSucceeded(op Operation)
	ExecutionFailed(op Operation, cause error)
}

// ListenerFuncs adapts plain functions to Listener. Nil functions are skipped.
type ListenerFuncs struct {
	Succeeded func(op Operation)
	Failed    func(op Operation, cause error)
}

func (f ListenerFuncs) ExecutionSucceeded(op Operation) {
	if f.Succeeded != nil {
		f.Succeeded(op)
	}
}

func (f ListenerFuncs) ExecutionFailed(op Operation, cause error) {
	if f.Failed != nil {
		f.Failed(op, cause)
	}
}

type listenerEntry struct {
	id uint64
	l  Listener
}

// listenerSet is a registry that keeps registration order.
type listenerSet struct {
	mu      sync.Mutex
	nextID  uint64
	entries []listenerEntry
}

func newListenerSet() *listenerSet {
	return &listenerSet{}
}

func (s *listenerSet) add(l Listener) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	s.entries = append(s.entries, listenerEntry{id: id, l: l})
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.entries = slices.DeleteFunc(s.entries, func(e listenerEntry) bool { return e.id == id })
	}
}

func (s *listenerSet) snapshot() []Listener {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Listener, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.l)
	}
	return out
}

func (s *listenerSet) notify(op Operation, err error) {
	for _, l := range s.snapshot() {
		if err == nil {
			l.ExecutionSucceeded(op)
		} else {
			l.ExecutionFailed(op, err)
		}
	}
}

type currentOperationKey struct{}

// WithOperation returns a context that names op as the operation in flight.
func WithOperation(ctx context.Context, op Operation) context.Context {
	return context.WithValue(ctx, currentOperationKey{}, op)
}

// CurrentOperation returns the operation executing on behalf of ctx, if any.
func CurrentOperation(ctx context.Context) (Operation, bool) {
	op, ok := ctx.Value(currentOperationKey{}).(Operation)
	return op, ok && op != nil
}
