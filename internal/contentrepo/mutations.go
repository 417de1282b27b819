package contentrepo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/sha1n/mcp-content-repository/internal/domain"
	"github.com/sha1n/mcp-content-repository/internal/store"
)

// lockKeys takes the exclusive keys computed by keysFor. Resolution happens before
// the keys are held, so keysFor runs again afterwards; if the identity moved in the
// meantime the keys are released and the loop starts over.
func (r *Repository) lockKeys(ctx context.Context, keysFor func() ([]string, error)) (func(), error) {
	for {
		want, err := keysFor()
		if err != nil {
			return nil, err
		}
		held := normalizeKeys(want)
		unlock := r.locks.lock(held, true)

		again, err := keysFor()
		if err != nil {
			unlock()
			return nil, err
		}
		if covers(held, again) {
			return unlock, nil
		}
		unlock()
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
}

// lockExisting resolves uri to a stored resource and holds its identity keys.
func (r *Repository) lockExisting(ctx context.Context, uri domain.ResourceURI) (domain.ResourceURI, func(), error) {
	var resolved domain.ResourceURI
	unlock, err := r.lockKeys(ctx, func() ([]string, error) {
		var err error
		resolved, err = r.store.Resolve(ctx, uri)
		if err != nil {
			return nil, err
		}
		return identityKeys(uri, resolved), nil
	})
	return resolved, unlock, err
}

// stamp records the acting user, if known, at the repository's current time.
func (r *Repository) stamp(ctx context.Context) domain.Stamp {
	s := domain.Stamp{Date: r.now()}
	if user, ok := domain.UserFromContext(ctx); ok {
		s.User = &user
	}
	return s
}

func requireIdentity(uri domain.ResourceURI) error {
	if uri.ID == "" && uri.Path == "" {
		return fmt.Errorf("%w: %s has neither identifier nor path", ErrInvalidResource, uri)
	}
	return nil
}

// readVersions reads every stored version of the resolved resource.
func (r *Repository) readVersions(ctx context.Context, resolved domain.ResourceURI) ([]*domain.Resource, error) {
	uris, err := r.store.ListVersions(ctx, resolved)
	if err != nil {
		return nil, err
	}
	out := make([]*domain.Resource, 0, len(uris))
	for _, u := range uris {
		res, err := r.store.Read(ctx, u.WithPath(""))
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, nil
}

func (r *Repository) put(ctx context.Context, res *domain.Resource, updatePreviews bool) (*domain.Resource, error) {
	if res == nil {
		return nil, fmt.Errorf("%w: no resource", ErrInvalidResource)
	}
	res = res.Clone()
	uri, err := r.scope(res.URI)
	if err != nil {
		return nil, err
	}
	res.URI = uri
	if err := requireIdentity(uri); err != nil {
		return nil, err
	}

	r.treeMu.RLock()
	defer r.treeMu.RUnlock()

	var id, newID string
	unlock, err := r.lockKeys(ctx, func() ([]string, error) {
		id = uri.ID
		if id == "" {
			resolved, err := r.store.Resolve(ctx, uri)
			switch {
			case err == nil:
				id = resolved.ID
			case errors.Is(err, store.ErrNotFound):
				if newID == "" {
					newID = uuid.NewString()
				}
				id = newID
			default:
				return nil, err
			}
		}
		keys := []string{idKey(id), pathKey(uri.Path)}
		for _, ref := range res.References() {
			keys = append(keys, idKey(ref))
		}
		return keys, nil
	})
	if err != nil {
		return nil, err
	}
	defer unlock()
	res.URI.ID = id

	if res.URI.Path != "" {
		owner, err := r.store.Resolve(ctx, domain.ResourceURI{Site: r.site, Path: res.URI.Path, Version: res.URI.Version})
		switch {
		case err == nil && owner.ID != id:
			return nil, fmt.Errorf("%w: path %s is used by resource %s", ErrInvalidResource, res.URI.Path, owner.ID)
		case err != nil && !errors.Is(err, store.ErrNotFound):
			return nil, err
		}
	}

	versions, err := r.readVersions(ctx, res.URI)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	var existing *domain.Resource
	res.LockOwner = nil
	for _, v := range versions {
		if v.URI.Version == res.URI.Version {
			existing = v
		}
		if v.LockOwner != nil && res.LockOwner == nil {
			owner := *v.LockOwner
			res.LockOwner = &owner
		}
	}

	if existing == nil {
		if len(res.Contents) > 0 {
			return nil, fmt.Errorf("%w: %s is new and must be put without contents", ErrInvalidResource, res.URI)
		}
	} else {
		// No contents means keep the stored ones, read under the identity lock.
		if len(res.Contents) > 0 && !slices.Equal(res.Languages(), existing.Languages()) {
			return nil, fmt.Errorf("%w: contents of %s change through put and delete content only", ErrInvalidResource, res.URI)
		}
		res.Contents = existing.Clone().Contents
		if res.URI.Path == "" {
			res.URI.Path = existing.URI.Path
		}
		if res.URI.Type == "" {
			res.URI.Type = existing.URI.Type
		}
	}

	now := r.stamp(ctx)
	if res.Created.IsZero() {
		if existing != nil {
			res.Created = existing.Created
		} else {
			res.Created = now
		}
	}
	res.Modified = now
	if updatePreviews {
		r.logger.Debug("Preview rendering is not configured, skipping", "uri", res.URI.String())
	}

	cs := r.newChangeSet()
	defer cs.rollback(ctx)
	if err := cs.write(ctx, res); err != nil {
		return nil, err
	}
	return res.Clone(), cs.commit(ctx)
}

func (r *Repository) putContent(ctx context.Context, uri domain.ResourceURI, content domain.ResourceContent, data io.Reader) (*domain.Resource, error) {
	uri, err := r.scope(uri)
	if err != nil {
		return nil, err
	}
	if err := requireIdentity(uri); err != nil {
		return nil, err
	}
	if content.Language == "" {
		return nil, fmt.Errorf("%w: content has no language", ErrInvalidResource)
	}
	if data == nil {
		return nil, fmt.Errorf("%w: content of %s has no data", ErrInvalidResource, uri)
	}

	r.treeMu.RLock()
	defer r.treeMu.RUnlock()
	resolved, unlock, err := r.lockExisting(ctx, uri)
	if err != nil {
		return nil, notFoundf(err, "cannot attach content to %s", uri)
	}
	defer unlock()
	existing, err := r.store.Read(ctx, resolved.WithPath(""))
	if err != nil {
		return nil, notFoundf(err, "cannot attach content to %s", uri)
	}

	cs := r.newChangeSet()
	defer cs.rollback(ctx)
	size, err := cs.writeBinary(ctx, existing.URI, content.Language, data)
	if err != nil {
		return nil, err
	}
	content.Size = size
	if content.Created.IsZero() {
		content.Created = r.stamp(ctx)
	}
	updated := existing.Clone()
	updated.AddContent(content)
	updated.Modified = r.stamp(ctx)
	if err := cs.write(ctx, updated); err != nil {
		return nil, err
	}
	return updated.Clone(), cs.commit(ctx)
}

func (r *Repository) deleteContent(ctx context.Context, uri domain.ResourceURI, language string) (*domain.Resource, error) {
	uri, err := r.scope(uri)
	if err != nil {
		return nil, err
	}
	if err := requireIdentity(uri); err != nil {
		return nil, err
	}

	r.treeMu.RLock()
	defer r.treeMu.RUnlock()
	resolved, unlock, err := r.lockExisting(ctx, uri)
	if err != nil {
		return nil, notFoundf(err, "cannot remove content from %s", uri)
	}
	defer unlock()
	existing, err := r.store.Read(ctx, resolved.WithPath(""))
	if err != nil {
		return nil, notFoundf(err, "cannot remove content from %s", uri)
	}
	if _, ok := existing.Content(language); !ok {
		return existing, nil
	}

	cs := r.newChangeSet()
	defer cs.rollback(ctx)
	if err := cs.removeBinary(ctx, existing.URI, language); err != nil {
		return nil, err
	}
	updated := existing.Clone()
	updated.RemoveContent(language)
	updated.Modified = r.stamp(ctx)
	if err := cs.write(ctx, updated); err != nil {
		return nil, err
	}
	return updated.Clone(), cs.commit(ctx)
}

func (r *Repository) delete(ctx context.Context, uri domain.ResourceURI, allVersions bool) (bool, error) {
	uri, err := r.scope(uri)
	if err != nil {
		return false, err
	}
	if err := requireIdentity(uri); err != nil {
		return false, err
	}

	r.treeMu.RLock()
	defer r.treeMu.RUnlock()
	resolved, unlock, err := r.lockExisting(ctx, uri)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer unlock()

	stored, err := r.store.ListVersions(ctx, resolved)
	if err != nil {
		return false, err
	}
	var victims []domain.ResourceURI
	for _, v := range stored {
		if allVersions || v.Version == resolved.Version {
			victims = append(victims, v)
		}
	}
	if len(victims) == 0 {
		return false, nil
	}

	if allVersions || resolved.Version == domain.Live || len(victims) == len(stored) {
		referrers, err := r.store.Referrers(ctx, resolved.ID)
		if err != nil {
			return false, err
		}
		if len(referrers) > 0 {
			return false, &ReferentialIntegrityError{ID: resolved.ID, Referrers: referrers}
		}
	}

	cs := r.newChangeSet()
	defer cs.rollback(ctx)
	for _, v := range victims {
		if err := cs.remove(ctx, v); err != nil {
			return false, err
		}
	}
	return true, cs.commit(ctx)
}

// validTarget reports whether p can be the target of a move.
func validTarget(p string) bool {
	return strings.HasPrefix(strings.TrimSpace(p), "/")
}

func (r *Repository) move(ctx context.Context, uri domain.ResourceURI, target string, moveChildren bool) error {
	uri, err := r.scope(uri)
	if err != nil {
		return err
	}
	if uri.Path == "" {
		return fmt.Errorf("%w: %s has no path", ErrInvalidMove, uri)
	}
	if !validTarget(target) {
		return fmt.Errorf("%w: target %q is not an absolute path", ErrInvalidMove, target)
	}
	target = domain.NormalizePath(target)

	r.treeMu.Lock()
	defer r.treeMu.Unlock()

	resolved, err := r.store.Resolve(ctx, uri)
	if err != nil {
		return notFoundf(err, "cannot move %s", uri)
	}
	source := resolved.Path
	if source == "" {
		source = uri.Path
	}
	if source == target {
		return nil
	}
	if moveChildren && domain.IsDescendant(source, target) {
		return fmt.Errorf("%w: cannot move %s below itself", ErrInvalidMove, source)
	}

	versions, err := r.readVersions(ctx, resolved)
	if err != nil {
		return err
	}
	moved := map[string]bool{resolved.ID: true}
	plan := make([]*domain.Resource, 0, len(versions))
	for _, v := range versions {
		v.URI.Path = target
		plan = append(plan, v)
	}
	if moveChildren {
		descendants, err := r.store.ListDescendants(ctx, source)
		if err != nil {
			return err
		}
		for _, d := range descendants {
			if d.ID == resolved.ID {
				continue
			}
			res, err := r.store.Read(ctx, d.WithPath(""))
			if err != nil {
				return err
			}
			res.URI.Path, _ = domain.RebasePath(res.URI.Path, source, target)
			moved[d.ID] = true
			plan = append(plan, res)
		}
	}

	for _, res := range plan {
		owner, err := r.store.Resolve(ctx, domain.ResourceURI{Site: r.site, Path: res.URI.Path, Version: res.URI.Version})
		switch {
		case err == nil && !moved[owner.ID]:
			return fmt.Errorf("%w: %s is already taken by resource %s", ErrInvalidMove, res.URI.Path, owner.ID)
		case err != nil && !errors.Is(err, store.ErrNotFound):
			return err
		}
	}

	modified := r.stamp(ctx)
	cs := r.newChangeSet()
	defer cs.rollback(ctx)
	for _, res := range plan {
		res.Modified = modified
		if err := cs.write(ctx, res); err != nil {
			return err
		}
	}
	r.logger.Info("Moved resource", "from", source, "to", target, "versions", len(plan), operationAttr(ctx))
	return cs.commit(ctx)
}

func (r *Repository) lock(ctx context.Context, uri domain.ResourceURI, user domain.User) (*domain.Resource, error) {
	uri, err := r.scope(uri)
	if err != nil {
		return nil, err
	}
	if err := requireIdentity(uri); err != nil {
		return nil, err
	}
	if user.Login == "" {
		return nil, fmt.Errorf("%w: lock needs a user", ErrInvalidResource)
	}

	r.treeMu.RLock()
	defer r.treeMu.RUnlock()
	resolved, unlock, err := r.lockExisting(ctx, uri)
	if err != nil {
		return nil, notFoundf(err, "cannot lock %s", uri)
	}
	defer unlock()
	versions, err := r.readVersions(ctx, resolved)
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, fmt.Errorf("%w: cannot lock %s", ErrNotFound, uri)
	}

	needsLock := false
	for _, v := range versions {
		if v.LockOwner == nil {
			needsLock = true
			continue
		}
		if !v.LockOwner.Equal(user) {
			return nil, &LockedError{URI: v.URI, Owner: *v.LockOwner}
		}
	}
	if !needsLock {
		return pick(versions, resolved.Version), nil
	}

	now := r.now()
	cs := r.newChangeSet()
	defer cs.rollback(ctx)
	for _, v := range versions {
		v.Lock(user)
		v.SetModified(user, now)
		if err := cs.write(ctx, v); err != nil {
			return nil, err
		}
	}
	return pick(versions, resolved.Version), cs.commit(ctx)
}

func (r *Repository) unlock(ctx context.Context, uri domain.ResourceURI, user domain.User) (*domain.Resource, error) {
	uri, err := r.scope(uri)
	if err != nil {
		return nil, err
	}
	if err := requireIdentity(uri); err != nil {
		return nil, err
	}

	r.treeMu.RLock()
	defer r.treeMu.RUnlock()
	resolved, unlock, err := r.lockExisting(ctx, uri)
	if err != nil {
		return nil, notFoundf(err, "cannot unlock %s", uri)
	}
	defer unlock()
	versions, err := r.readVersions(ctx, resolved)
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, fmt.Errorf("%w: cannot unlock %s", ErrNotFound, uri)
	}

	modified := r.stamp(ctx)
	if user.Login != "" {
		modified.User = &user
	}
	cs := r.newChangeSet()
	defer cs.rollback(ctx)
	for _, v := range versions {
		if !v.IsLocked() {
			continue
		}
		v.Unlock()
		v.Modified = modified
		if err := cs.write(ctx, v); err != nil {
			return nil, err
		}
	}
	return pick(versions, resolved.Version), cs.commit(ctx)
}

// pick returns the requested version, or the lowest one if it does not exist.
func pick(versions []*domain.Resource, v domain.Version) *domain.Resource {
	for _, res := range versions {
		if res.URI.Version == v {
			return res.Clone()
		}
	}
	lowest := versions[0]
	for _, res := range versions[1:] {
		if res.URI.Version < lowest.URI.Version {
			lowest = res
		}
	}
	return lowest.Clone()
}

// notFoundf adds context to a store lookup failure, keeping ErrNotFound detectable.
func notFoundf(err error, format string, args ...any) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
	}
	return err
}
