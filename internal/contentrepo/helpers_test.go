package contentrepo

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sha1n/mcp-content-repository/internal/domain"
	"github.com/sha1n/mcp-content-repository/internal/index"
	"github.com/sha1n/mcp-content-repository/internal/store"
	"github.com/stretchr/testify/require"
)

const testSite = "site"

var (
	alice = domain.NewUser("alice")
	bob   = domain.NewUser("bob")
)

// steppingClock returns a clock that advances one second per reading.
func steppingClock() func() time.Time {
	var mu sync.Mutex
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	}
}

func newIndex(t *testing.T) *index.SearchIndex {
	t.Helper()
	idx, err := index.OpenInMemory()
	require.NoError(t, err)
	return idx
}

func newTestRepository(t *testing.T, st store.Store, idx SearchIndex, opts ...func(*Options)) *Repository {
	t.Helper()
	o := Options{Site: testSite, Workers: 4, Now: steppingClock()}
	for _, opt := range opts {
		opt(&o)
	}
	r, err := New(st, idx, o)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func newMemoryRepository(t *testing.T) *Repository {
	t.Helper()
	return newTestRepository(t, store.NewMemoryStore(), newIndex(t))
}

func userContext(u domain.User) context.Context {
	return domain.ContextWithUser(context.Background(), u)
}

func pageAt(path string) *domain.Resource {
	return domain.NewPage(domain.NewURI(testSite, path), "default")
}

func workPageAt(path string) *domain.Resource {
	return domain.NewPage(domain.NewURI(testSite, path).WithVersion(domain.Work), "default")
}

func mustPut(t *testing.T, r *Repository, res *domain.Resource) *domain.Resource {
	t.Helper()
	stored, err := r.Put(userContext(alice), res, false)
	require.NoError(t, err)
	require.NotEmpty(t, stored.ID())
	return stored
}

func referencing(res *domain.Resource, id string) *domain.Resource {
	res.AddPagelet("main", domain.Pagelet{
		Module:     "teaser",
		Properties: map[string]string{domain.ReferenceProperty: id},
	})
	return res
}

func findCount(t *testing.T, r *Repository, q *index.SearchQuery) int {
	t.Helper()
	res, err := r.Find(context.Background(), q)
	require.NoError(t, err)
	return res.DocumentCount
}

// requireConsistent checks that search and store agree on every path.
func requireConsistent(t *testing.T, r *Repository, paths ...string) {
	t.Helper()
	ctx := context.Background()
	for _, p := range paths {
		exists, err := r.Exists(ctx, domain.NewURI(testSite, p))
		require.NoError(t, err)
		found := findCount(t, r, index.NewQuery().WithPath(p).WithVersion(domain.Live))
		if exists {
			require.Equal(t, 1, found, "search should find %s", p)
		} else {
			require.Zero(t, found, "search should not find %s", p)
		}
	}
}

// faultyStore wraps a store with hooks that run before writes.
type faultyStore struct {
	store.Store

	mu           sync.Mutex
	beforeWrite  func(ctx context.Context, r *domain.Resource) error
	beforeDelete func(ctx context.Context, uri domain.ResourceURI) error
}

func (s *faultyStore) Write(ctx context.Context, r *domain.Resource) error {
	s.mu.Lock()
	hook := s.beforeWrite
	s.mu.Unlock()
	if hook != nil {
		if err := hook(ctx, r); err != nil {
			return err
		}
	}
	return s.Store.Write(ctx, r)
}

func (s *faultyStore) Delete(ctx context.Context, uri domain.ResourceURI) error {
	s.mu.Lock()
	hook := s.beforeDelete
	s.mu.Unlock()
	if hook != nil {
		if err := hook(ctx, uri); err != nil {
			return err
		}
	}
	return s.Store.Delete(ctx, uri)
}

func (s *faultyStore) onWrite(hook func(ctx context.Context, r *domain.Resource) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.beforeWrite = hook
}

func (s *faultyStore) onDelete(hook func(ctx context.Context, uri domain.ResourceURI) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.beforeDelete = hook
}

// faultyIndex fails the next batches while failures are armed.
type faultyIndex struct {
	*index.SearchIndex

	mu       sync.Mutex
	failures int
}

var errIndexDown = errors.New("index is down")

func (f *faultyIndex) failNext(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = n
}

func (f *faultyIndex) Apply(ctx context.Context, b *index.Batch) error {
	f.mu.Lock()
	if f.failures > 0 {
		f.failures--
		f.mu.Unlock()
		return errIndexDown
	}
	f.mu.Unlock()
	return f.SearchIndex.Apply(ctx, b)
}
