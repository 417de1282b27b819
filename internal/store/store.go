// Package store contains the backing stores that hold the authoritative copy of
// every resource version. The repository engine only talks to them through Store.
package store

import (
	"context"
	"errors"
	"io"

	"github.com/sha1n/mcp-content-repository/internal/domain"
)

var (
	// ErrNotFound indicates that no stored version matches the URI.
	ErrNotFound = errors.New("resource not found")

	// ErrContentNotFound indicates that a resource has no binary for a language.
	ErrContentNotFound = errors.New("content not found")

	// ErrInvalidResource indicates a resource that cannot be stored as is.
	ErrInvalidResource = errors.New("invalid resource")

	// ErrStoreLocked indicates that another process owns the store directory.
	ErrStoreLocked = errors.New("store is in use by another process")

	// ErrClosed indicates use of a closed store.
	ErrClosed = errors.New("store is closed")
)

// Store is the authoritative resource store.
//
// URIs that carry an identifier are resolved by identifier and version. URIs that only
// carry a path are resolved through the path of the stored versions, preferring the
// requested version.
type Store interface {
	// Read returns a copy of the stored version, or ErrNotFound.
	Read(ctx context.Context, uri domain.ResourceURI) (*domain.Resource, error)

	// Write creates or replaces the version named by the resource's URI.
	// The URI must carry an identifier.
	Write(ctx context.Context, r *domain.Resource) error

	// Delete removes one version and its binary contents, or returns ErrNotFound.
	Delete(ctx context.Context, uri domain.ResourceURI) error

	// Exists reports whether the version exists.
	Exists(ctx context.Context, uri domain.ResourceURI) (bool, error)

	// ListVersions returns the URIs of all stored versions of the resource.
	ListVersions(ctx context.Context, uri domain.ResourceURI) ([]domain.ResourceURI, error)

	// Resolve completes a URI (identifier, path, type) from any stored version of the
	// same resource while keeping the requested version, or returns ErrNotFound.
	Resolve(ctx context.Context, uri domain.ResourceURI) (domain.ResourceURI, error)

	// List returns the URIs of every stored version.
	List(ctx context.Context) ([]domain.ResourceURI, error)

	// ListDescendants returns all versions whose path lies strictly below root.
	ListDescendants(ctx context.Context, root string) ([]domain.ResourceURI, error)

	// Referrers returns the versions of other resources whose pagelets reference id.
	Referrers(ctx context.Context, id string) ([]domain.ResourceURI, error)

	// WriteContent stores the binary of a content variant and returns its size.
	WriteContent(ctx context.Context, uri domain.ResourceURI, language string, data io.Reader) (int64, error)

	// ReadContent opens the binary of a content variant.
	ReadContent(ctx context.Context, uri domain.ResourceURI, language string) (io.ReadCloser, error)

	// DeleteContent removes the binary of a content variant. Missing binaries are ignored.
	DeleteContent(ctx context.Context, uri domain.ResourceURI, language string) error

	// Close releases the store.
	Close() error
}

// pathMatch picks the identifier for a path-only URI among candidate versions:
// the version asked for wins, otherwise the lowest version that carries the path.
func pathMatch(uri domain.ResourceURI, candidates []domain.ResourceURI) (string, bool) {
	path := domain.NormalizePath(uri.Path)
	if path == "" {
		return "", false
	}
	var fallback *domain.ResourceURI
	for i := range candidates {
		c := candidates[i]
		if c.Path != path {
			continue
		}
		if c.Version == uri.Version {
			return c.ID, true
		}
		if fallback == nil || c.Version < fallback.Version {
			fallback = &candidates[i]
		}
	}
	if fallback != nil {
		return fallback.ID, true
	}
	return "", false
}

func validate(r *domain.Resource) error {
	if r == nil {
		return ErrInvalidResource
	}
	if r.URI.ID == "" {
		return errors.Join(ErrInvalidResource, errors.New("resource has no identifier"))
	}
	return nil
}
