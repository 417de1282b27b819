package contentrepo

import (
	"context"
	"io"

	"github.com/sha1n/mcp-content-repository/internal/domain"
)

// PutOperation creates or replaces one resource version.
type PutOperation struct {
	operation
	resource       *domain.Resource
	updatePreviews bool
}

// NewPutOperation captures a copy of r.
func NewPutOperation(r *domain.Resource, updatePreviews bool) *PutOperation {
	return &PutOperation{operation: newOperation(KindPut), resource: r.Clone(), updatePreviews: updatePreviews}
}

func (op *PutOperation) URI() domain.ResourceURI { return op.resource.URI }

// Resource returns the stored resource once the operation finished.
func (op *PutOperation) Resource() (*domain.Resource, error) { return resourceResult(op) }

func (op *PutOperation) run(ctx context.Context, r *Repository) (any, error) {
	return r.put(ctx, op.resource, op.updatePreviews)
}

// PutContentOperation attaches or replaces the binary of one content variant.
type PutContentOperation struct {
	operation
	uri     domain.ResourceURI
	content domain.ResourceContent
	data    io.Reader
}

// NewPutContentOperation streams data as the content for content.Language.
func NewPutContentOperation(uri domain.ResourceURI, content domain.ResourceContent, data io.Reader) *PutContentOperation {
	return &PutContentOperation{operation: newOperation(KindPutContent), uri: uri, content: content, data: data}
}

func (op *PutContentOperation) URI() domain.ResourceURI { return op.uri }

func (op *PutContentOperation) Resource() (*domain.Resource, error) { return resourceResult(op) }

func (op *PutContentOperation) run(ctx context.Context, r *Repository) (any, error) {
	return r.putContent(ctx, op.uri, op.content, op.data)
}

// DeleteContentOperation removes one content variant.
type DeleteContentOperation struct {
	operation
	uri     domain.ResourceURI
	content domain.ResourceContent
}

func NewDeleteContentOperation(uri domain.ResourceURI, content domain.ResourceContent) *DeleteContentOperation {
	return &DeleteContentOperation{operation: newOperation(KindDeleteContent), uri: uri, content: content}
}

func (op *DeleteContentOperation) URI() domain.ResourceURI { return op.uri }

func (op *DeleteContentOperation) Resource() (*domain.Resource, error) { return resourceResult(op) }

func (op *DeleteContentOperation) run(ctx context.Context, r *Repository) (any, error) {
	return r.deleteContent(ctx, op.uri, op.content.Language)
}

// DeleteOperation removes one version, or all versions, of a resource.
type DeleteOperation struct {
	operation
	uri         domain.ResourceURI
	allVersions bool
}

func NewDeleteOperation(uri domain.ResourceURI, allVersions bool) *DeleteOperation {
	return &DeleteOperation{operation: newOperation(KindDelete), uri: uri, allVersions: allVersions}
}

func (op *DeleteOperation) URI() domain.ResourceURI { return op.uri }

// Deleted reports whether anything was removed.
func (op *DeleteOperation) Deleted() (bool, error) {
	v, err := op.Result()
	if err != nil {
		return false, err
	}
	deleted, _ := v.(bool)
	return deleted, op.Err()
}

func (op *DeleteOperation) run(ctx context.Context, r *Repository) (any, error) {
	return r.delete(ctx, op.uri, op.allVersions)
}

// MoveOperation relocates a resource, and optionally everything below it, to a new path.
type MoveOperation struct {
	operation
	uri          domain.ResourceURI
	target       string
	moveChildren bool
}

func NewMoveOperation(uri domain.ResourceURI, target string, moveChildren bool) *MoveOperation {
	return &MoveOperation{operation: newOperation(KindMove), uri: uri, target: target, moveChildren: moveChildren}
}

func (op *MoveOperation) URI() domain.ResourceURI { return op.uri }

func (op *MoveOperation) run(ctx context.Context, r *Repository) (any, error) {
	return nil, r.move(ctx, op.uri, op.target, op.moveChildren)
}

// LockOperation locks every version of a resource for a user.
type LockOperation struct {
	operation
	uri  domain.ResourceURI
	user domain.User
}

func NewLockOperation(uri domain.ResourceURI, user domain.User) *LockOperation {
	return &LockOperation{operation: newOperation(KindLock), uri: uri, user: user}
}

func (op *LockOperation) URI() domain.ResourceURI { return op.uri }

func (op *LockOperation) Resource() (*domain.Resource, error) { return resourceResult(op) }

func (op *LockOperation) run(ctx context.Context, r *Repository) (any, error) {
	return r.lock(ctx, op.uri, op.user)
}

// UnlockOperation clears the lock on every version of a resource.
type UnlockOperation struct {
	operation
	uri  domain.ResourceURI
	user domain.User
}

func NewUnlockOperation(uri domain.ResourceURI, user domain.User) *UnlockOperation {
	return &UnlockOperation{operation: newOperation(KindUnlock), uri: uri, user: user}
}

func (op *UnlockOperation) URI() domain.ResourceURI { return op.uri }

func (op *UnlockOperation) Resource() (*domain.Resource, error) { return resourceResult(op) }

func (op *UnlockOperation) run(ctx context.Context, r *Repository) (any, error) {
	return r.unlock(ctx, op.uri, op.user)
}

// Apply returns res as it looks once op has been applied, or nil if op removes it
// from view. res is the stored version at uri, nil if there is none. Apply performs
// no I/O and never modifies res.
func Apply(op Operation, uri domain.ResourceURI, res *domain.Resource) *domain.Resource {
	switch op := op.(type) {
	case *PutOperation:
		if res == nil {
			if op.resource.URI.SameVersion(uri) {
				return op.resource.Clone()
			}
			return nil
		}
		if !op.resource.URI.SameVersion(res.URI) {
			return res
		}
		return op.resource.Clone()

	case *DeleteOperation:
		if res == nil {
			return nil
		}
		matches := op.uri.SameVersion(res.URI)
		if op.allVersions {
			matches = op.uri.SameResource(res.URI)
		}
		if matches {
			return nil
		}
		return res

	case *MoveOperation:
		if res == nil || op.uri.Path == "" || !validTarget(op.target) {
			return res
		}
		target := domain.NormalizePath(op.target)
		if op.uri.SameResource(res.URI) {
			moved := res.Clone()
			moved.URI.Path = target
			return moved
		}
		if op.moveChildren && res.URI.Path != "" && domain.IsDescendant(op.uri.Path, res.URI.Path) {
			moved := res.Clone()
			moved.URI.Path, _ = domain.RebasePath(res.URI.Path, op.uri.Path, target)
			return moved
		}
		return res

	case *PutContentOperation:
		if res == nil || !op.uri.SameVersion(res.URI) {
			return res
		}
		updated := res.Clone()
		updated.AddContent(op.content)
		return updated

	case *DeleteContentOperation:
		if res == nil || !op.uri.SameVersion(res.URI) {
			return res
		}
		if _, ok := res.Content(op.content.Language); !ok {
			return res
		}
		updated := res.Clone()
		updated.RemoveContent(op.content.Language)
		return updated

	case *LockOperation:
		if res == nil || !op.uri.SameResource(res.URI) {
			return res
		}
		if res.LockOwner != nil && !res.LockOwner.Equal(op.user) {
			return res
		}
		locked := res.Clone()
		locked.Lock(op.user)
		return locked

	case *UnlockOperation:
		if res == nil || !op.uri.SameResource(res.URI) || !res.IsLocked() {
			return res
		}
		unlocked := res.Clone()
		unlocked.Unlock()
		return unlocked
	}
	return res
}
