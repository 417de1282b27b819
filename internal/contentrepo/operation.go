package contentrepo

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sha1n/mcp-content-repository/internal/domain"
)

// Kind names an operation type.
type Kind string

const (
	KindPut           Kind = "put"
	KindPutContent    Kind = "put_content"
	KindDeleteContent Kind = "delete_content"
	KindDelete        Kind = "delete"
	KindMove          Kind = "move"
	KindLock          Kind = "lock"
	KindUnlock        Kind = "unlock"
)

// Operation is a deferred unit of write work. It is executed at most once by the
// repository it is submitted to.
//
// The set of operations is closed: PutOperation, PutContentOperation,
// DeleteContentOperation, DeleteOperation, MoveOperation, LockOperation and
// UnlockOperation.
type Operation interface {
	// ID is unique within the process and increases with creation order.
	ID() uint64
	Kind() Kind
	// URI is the resource the operation targets.
	URI() domain.ResourceURI

	// AddListener registers a listener for this operation's outcome and returns a
	// function that removes it again.
	AddListener(l Listener) (remove func())

	// Running reports whether the operation was submitted and has not finished.
	Running() bool
	// Done is closed after the outcome is recorded and all listeners were notified.
	Done() <-chan struct{}
	// Wait blocks until the operation finished or ctx is done, and returns the
	// operation's error.
	Wait(ctx context.Context) error
	// Result returns the outcome value, or ErrOperationRunning before completion.
	Result() (any, error)
	// Err returns the failure, nil on success, or ErrOperationRunning before completion.
	Err() error
	// Duration returns how long execution took. Zero until finished.
	Duration() time.Duration

	base() *operation
	run(ctx context.Context, r *Repository) (any, error)
}

var operationIDs atomic.Uint64

type opState int

const (
	stateNew opState = iota
	stateSubmitted
	stateRunning
	stateFinished
)

// operation holds the state shared by all operation kinds.
type operation struct {
	id        uint64
	kind      Kind
	listeners *listenerSet
	done      chan struct{}

	mu       sync.Mutex
	state    opState
	result   any
	err      error
	started  time.Time
	duration time.Duration
}

func newOperation(kind Kind) operation {
	return operation{
		id:        operationIDs.Add(1),
		kind:      kind,
		listeners: newListenerSet(),
		done:      make(chan struct{}),
	}
}

func (o *operation) base() *operation { return o }

func (o *operation) ID() uint64 { return o.id }

func (o *operation) Kind() Kind { return o.kind }

func (o *operation) AddListener(l Listener) func() {
	return o.listeners.add(l)
}

func (o *operation) Running() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state == stateSubmitted || o.state == stateRunning
}

func (o *operation) Done() <-chan struct{} { return o.done }

func (o *operation) Wait(ctx context.Context) error {
	select {
	case <-o.done:
		return o.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *operation) Result() (any, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != stateFinished {
		return nil, ErrOperationRunning
	}
	return o.result, nil
}

func (o *operation) Err() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != stateFinished {
		return ErrOperationRunning
	}
	return o.err
}

func (o *operation) Duration() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.duration
}

// submit claims the operation for one repository.
func (o *operation) submit() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != stateNew {
		return false
	}
	o.state = stateSubmitted
	return true
}

func (o *operation) begin() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.state = stateRunning
	o.started = time.Now()
}

// finish records the outcome. Listeners run after this and before Done is closed.
func (o *operation) finish(result any, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.state = stateFinished
	o.result = result
	o.err = err
	o.duration = time.Since(o.started)
}

func (o *operation) close() {
	close(o.done)
}

// resourceResult narrows a finished operation's result to a resource.
func resourceResult(op Operation) (*domain.Resource, error) {
	v, err := op.Result()
	if err != nil {
		return nil, err
	}
	r, _ := v.(*domain.Resource)
	return r, op.Err()
}
