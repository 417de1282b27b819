package contentrepo

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sha1n/mcp-content-repository/internal/domain"
	"github.com/sha1n/mcp-content-repository/internal/store"
)

var (
	// ErrNotFound indicates a missing resource or version.
	ErrNotFound = store.ErrNotFound

	// ErrInvalidResource indicates a resource or URI the repository cannot accept.
	ErrInvalidResource = store.ErrInvalidResource

	// ErrAlreadyLocked indicates that another user holds the lock.
	ErrAlreadyLocked = errors.New("resource is locked by another user")

	// ErrReferentialIntegrity indicates a delete of a resource that is still referenced.
	ErrReferentialIntegrity = errors.New("resource is still referenced")

	// ErrInvalidMove indicates a move without a source path or with a bad target.
	ErrInvalidMove = errors.New("invalid move")

	// ErrNotConnected indicates use of a closed repository.
	ErrNotConnected = errors.New("content repository is not connected")

	// ErrOperationRunning is returned when an operation's outcome is queried too early.
	ErrOperationRunning = errors.New("operation is still running")

	// ErrAlreadySubmitted indicates that an operation was handed to a repository twice.
	ErrAlreadySubmitted = errors.New("operation was already submitted")

	// ErrIndexOutOfSync indicates that the store changed but the index could not follow.
	ErrIndexOutOfSync = errors.New("search index is out of sync with the store")
)

// LockedError reports the current lock owner of a resource.
type LockedError struct {
	URI   domain.ResourceURI
	Owner domain.User
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("%s: %s is locked by %s", ErrAlreadyLocked, e.URI, e.Owner)
}

func (e *LockedError) Is(target error) bool {
	return target == ErrAlreadyLocked
}

// ReferentialIntegrityError lists the versions that still reference a resource.
type ReferentialIntegrityError struct {
	ID        string
	Referrers []domain.ResourceURI
}

func (e *ReferentialIntegrityError) Error() string {
	refs := make([]string, 0, len(e.Referrers))
	for _, r := range e.Referrers {
		refs = append(refs, r.String())
	}
	return fmt.Sprintf("%s: %s is referenced by %s", ErrReferentialIntegrity, e.ID, strings.Join(refs, ", "))
}

func (e *ReferentialIntegrityError) Is(target error) bool {
	return target == ErrReferentialIntegrity
}

// IndexSyncError is returned by an operation whose store changes were committed but
// whose index update failed. The affected resources are queued for Repair.
type IndexSyncError struct {
	URIs []domain.ResourceURI
	Err  error
}

func (e *IndexSyncError) Error() string {
	return fmt.Sprintf("%s (%d versions queued for repair): %v", ErrIndexOutOfSync, len(e.URIs), e.Err)
}

func (e *IndexSyncError) Is(target error) bool {
	return target == ErrIndexOutOfSync
}

func (e *IndexSyncError) Unwrap() error {
	return e.Err
}

// RepositoryError wraps an unexpected failure, such as a panic, raised while an
// operation ran. The cause stays reachable through errors.Unwrap.
type RepositoryError struct {
	Kind  Kind
	ID    uint64
	Cause error
}

func (e *RepositoryError) Error() string {
	return fmt.Sprintf("%s operation %d failed unexpectedly: %v", e.Kind, e.ID, e.Cause)
}

func (e *RepositoryError) Unwrap() error {
	return e.Cause
}

// ErrorKind groups failures by how callers should react to them.
type ErrorKind int

const (
	// KindNone is the kind of a nil error.
	KindNone ErrorKind = iota
	// KindDomain failures are caused by the request and will not go away on retry.
	KindDomain
	// KindIO failures come from the store or the index.
	KindIO
	// KindUnexpected failures are bugs.
	KindUnexpected
)

func (k ErrorKind) String() string {
	switch k {
	case KindDomain:
		return "domain"
	case KindIO:
		return "io"
	case KindUnexpected:
		return "unexpected"
	default:
		return "none"
	}
}

var domainErrors = []error{
	ErrNotFound,
	ErrInvalidResource,
	ErrAlreadyLocked,
	ErrReferentialIntegrity,
	ErrInvalidMove,
	ErrNotConnected,
	ErrOperationRunning,
	ErrAlreadySubmitted,
	store.ErrContentNotFound,
	domain.ErrInvalidVersion,
}

// Classify maps an error to its kind.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	var repoErr *RepositoryError
	if errors.As(err, &repoErr) {
		return KindUnexpected
	}
	for _, target := range domainErrors {
		if errors.Is(err, target) {
			return KindDomain
		}
	}
	return KindIO
}
