package store

import (
	"bytes"
	"cmp"
	"context"
	"fmt"
	"io"
	"slices"
	"sync"

	"github.com/sha1n/mcp-content-repository/internal/domain"
)

type contentKey struct {
	id       string
	version  domain.Version
	language string
}

// MemoryStore keeps all resources in process memory. It is used for tests and for
// ephemeral repositories.
type MemoryStore struct {
	mu        sync.RWMutex
	resources map[string]map[domain.Version]*domain.Resource
	contents  map[contentKey][]byte
	closed    bool
}

// NewMemoryStore creates an empty memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		resources: make(map[string]map[domain.Version]*domain.Resource),
		contents:  make(map[contentKey][]byte),
	}
}

// lookup finds the stored version for uri. Callers hold mu.
func (s *MemoryStore) lookup(uri domain.ResourceURI) (*domain.Resource, bool) {
	id := uri.ID
	if id == "" {
		var ok bool
		if id, ok = pathMatch(uri, s.allURIs()); !ok {
			return nil, false
		}
	}
	r, ok := s.resources[id][uri.Version]
	return r, ok
}

func (s *MemoryStore) allURIs() []domain.ResourceURI {
	uris := make([]domain.ResourceURI, 0, len(s.resources))
	for _, versions := range s.resources {
		for _, r := range versions {
			uris = append(uris, r.URI)
		}
	}
	return uris
}

func (s *MemoryStore) Read(_ context.Context, uri domain.ResourceURI) (*domain.Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	r, ok := s.lookup(uri)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, uri)
	}
	return r.Clone(), nil
}

func (s *MemoryStore) Write(_ context.Context, r *domain.Resource) error {
	if err := validate(r); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	versions, ok := s.resources[r.URI.ID]
	if !ok {
		versions = make(map[domain.Version]*domain.Resource)
		s.resources[r.URI.ID] = versions
	}
	versions[r.URI.Version] = r.Clone()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, uri domain.ResourceURI) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	r, ok := s.lookup(uri)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, uri)
	}
	id, version := r.URI.ID, r.URI.Version
	delete(s.resources[id], version)
	if len(s.resources[id]) == 0 {
		delete(s.resources, id)
	}
	for key := range s.contents {
		if key.id == id && key.version == version {
			delete(s.contents, key)
		}
	}
	return nil
}

func (s *MemoryStore) Exists(_ context.Context, uri domain.ResourceURI) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false, ErrClosed
	}
	_, ok := s.lookup(uri)
	return ok, nil
}

func (s *MemoryStore) ListVersions(_ context.Context, uri domain.ResourceURI) ([]domain.ResourceURI, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	id := uri.ID
	if id == "" {
		var ok bool
		if id, ok = pathMatch(uri, s.allURIs()); !ok {
			return nil, nil
		}
	}
	var uris []domain.ResourceURI
	for _, r := range s.resources[id] {
		uris = append(uris, r.URI)
	}
	sortURIs(uris)
	return uris, nil
}

func (s *MemoryStore) Resolve(_ context.Context, uri domain.ResourceURI) (domain.ResourceURI, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return uri, ErrClosed
	}
	id := uri.ID
	if id == "" {
		var ok bool
		if id, ok = pathMatch(uri, s.allURIs()); !ok {
			return uri, fmt.Errorf("%w: %s", ErrNotFound, uri)
		}
	}
	versions := s.resources[id]
	if len(versions) == 0 {
		return uri, fmt.Errorf("%w: %s", ErrNotFound, uri)
	}
	return resolveFrom(uri, id, versions), nil
}

func (s *MemoryStore) List(_ context.Context) ([]domain.ResourceURI, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	uris := s.allURIs()
	sortURIs(uris)
	return uris, nil
}

func (s *MemoryStore) ListDescendants(_ context.Context, root string) ([]domain.ResourceURI, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	var uris []domain.ResourceURI
	for _, u := range s.allURIs() {
		if u.Path != "" && domain.IsDescendant(root, u.Path) {
			uris = append(uris, u)
		}
	}
	sortURIs(uris)
	return uris, nil
}

func (s *MemoryStore) Referrers(_ context.Context, id string) ([]domain.ResourceURI, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	var uris []domain.ResourceURI
	for rid, versions := range s.resources {
		if rid == id {
			continue
		}
		for _, r := range versions {
			if slices.Contains(r.References(), id) {
				uris = append(uris, r.URI)
			}
		}
	}
	sortURIs(uris)
	return uris, nil
}

func (s *MemoryStore) WriteContent(_ context.Context, uri domain.ResourceURI, language string, data io.Reader) (int64, error) {
	var buf bytes.Buffer
	if data != nil {
		if _, err := io.Copy(&buf, data); err != nil {
			return 0, fmt.Errorf("failed to read content: %w", err)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	r, ok := s.lookup(uri)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, uri)
	}
	s.contents[contentKey{id: r.URI.ID, version: r.URI.Version, language: language}] = buf.Bytes()
	return int64(buf.Len()), nil
}

func (s *MemoryStore) ReadContent(_ context.Context, uri domain.ResourceURI, language string) (io.ReadCloser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	r, ok := s.lookup(uri)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, uri)
	}
	data, ok := s.contents[contentKey{id: r.URI.ID, version: r.URI.Version, language: language}]
	if !ok {
		return nil, fmt.Errorf("%w: %s (%s)", ErrContentNotFound, uri, language)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *MemoryStore) DeleteContent(_ context.Context, uri domain.ResourceURI, language string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	r, ok := s.lookup(uri)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, uri)
	}
	delete(s.contents, contentKey{id: r.URI.ID, version: r.URI.Version, language: language})
	return nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// resolveFrom completes uri from the stored versions of resource id.
func resolveFrom(uri domain.ResourceURI, id string, versions map[domain.Version]*domain.Resource) domain.ResourceURI {
	src, ok := versions[uri.Version]
	if !ok {
		keys := make([]domain.Version, 0, len(versions))
		for v := range versions {
			keys = append(keys, v)
		}
		slices.Sort(keys)
		src = versions[keys[0]]
	}
	out := uri
	out.ID = id
	out.Path = src.URI.Path
	out.Type = src.URI.Type
	if out.Site == "" {
		out.Site = src.URI.Site
	}
	return out
}

func sortURIs(uris []domain.ResourceURI) {
	slices.SortFunc(uris, func(a, b domain.ResourceURI) int {
		if c := cmp.Compare(a.ID, b.ID); c != 0 {
			return c
		}
		return cmp.Compare(a.Version, b.Version)
	})
}
