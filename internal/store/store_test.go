package store

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/sha1n/mcp-content-repository/internal/domain"
	"github.com/stretchr/testify/require"
)

type storeFactory func(t *testing.T) Store

func storeFactories() map[string]storeFactory {
	return map[string]storeFactory{
		"memory": func(t *testing.T) Store {
			s := NewMemoryStore()
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
		"filesystem": func(t *testing.T) Store {
			s, err := OpenFileSystem(context.Background(), t.TempDir(), "site", time.Second)
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
	}
}

func page(id, path string, v domain.Version) *domain.Resource {
	return domain.NewPage(domain.ResourceURI{Site: "site", ID: id, Path: path, Version: v}, "default")
}

func withReference(r *domain.Resource, target string) *domain.Resource {
	r.AddPagelet("main", domain.Pagelet{Module: "image", Properties: map[string]string{domain.ReferenceProperty: target}})
	return r
}

func TestStore_WriteAndRead(t *testing.T) {
	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t)

			r := page("p1", "/news", domain.Live)
			r.Title = "News"
			r.Subjects = []string{"sports"}
			r.Lock(domain.NewUser("editor"))
			require.NoError(t, s.Write(ctx, r))

			got, err := s.Read(ctx, domain.NewIDURI("site", "p1", domain.Live))
			require.NoError(t, err)
			require.Equal(t, "News", got.Title)
			require.Equal(t, "/news", got.Path())
			require.Equal(t, []string{"sports"}, got.Subjects)
			require.NotNil(t, got.LockOwner)
			require.Equal(t, "editor", got.LockOwner.Login)

			got.Title = "changed"
			again, err := s.Read(ctx, domain.NewIDURI("site", "p1", domain.Live))
			require.NoError(t, err)
			require.Equal(t, "News", again.Title, "stored copy must not alias returned values")
		})
	}
}

func TestStore_ReadByPath(t *testing.T) {
	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t)
			require.NoError(t, s.Write(ctx, page("p1", "/a", domain.Live)))
			require.NoError(t, s.Write(ctx, page("p1", "/a", domain.Work)))

			got, err := s.Read(ctx, domain.NewURI("site", "/a").WithVersion(domain.Work))
			require.NoError(t, err)
			require.Equal(t, "p1", got.ID())
			require.Equal(t, domain.Work, got.Version())

			_, err = s.Read(ctx, domain.NewURI("site", "/missing"))
			require.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStore_Write_RequiresIdentifier(t *testing.T) {
	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			err := factory(t).Write(context.Background(), page("", "/a", domain.Live))
			require.ErrorIs(t, err, ErrInvalidResource)
		})
	}
}

func TestStore_DeleteAndExists(t *testing.T) {
	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t)
			require.NoError(t, s.Write(ctx, page("p1", "/a", domain.Live)))
			require.NoError(t, s.Write(ctx, page("p1", "/a", domain.Work)))

			require.NoError(t, s.Delete(ctx, domain.NewIDURI("site", "p1", domain.Work)))

			ok, err := s.Exists(ctx, domain.NewIDURI("site", "p1", domain.Work))
			require.NoError(t, err)
			require.False(t, ok)
			ok, err = s.Exists(ctx, domain.NewIDURI("site", "p1", domain.Live))
			require.NoError(t, err)
			require.True(t, ok)

			err = s.Delete(ctx, domain.NewIDURI("site", "p1", domain.Work))
			require.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStore_ListVersionsAndResolve(t *testing.T) {
	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t)
			require.NoError(t, s.Write(ctx, page("p1", "/a", domain.Work)))
			require.NoError(t, s.Write(ctx, page("p1", "/a", domain.Live)))
			require.NoError(t, s.Write(ctx, page("p2", "/b", domain.Live)))

			versions, err := s.ListVersions(ctx, domain.NewURI("site", "/a"))
			require.NoError(t, err)
			require.Len(t, versions, 2)
			require.Equal(t, domain.Live, versions[0].Version)
			require.Equal(t, domain.Work, versions[1].Version)

			// A version that does not exist yet still resolves through its siblings.
			resolved, err := s.Resolve(ctx, domain.NewIDURI("", "p2", domain.Work))
			require.NoError(t, err)
			require.Equal(t, "/b", resolved.Path)
			require.Equal(t, domain.TypePage, resolved.Type)
			require.Equal(t, domain.Work, resolved.Version)

			_, err = s.Resolve(ctx, domain.NewIDURI("", "nope", domain.Live))
			require.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStore_ListDescendants(t *testing.T) {
	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t)
			require.NoError(t, s.Write(ctx, page("root", "/a", domain.Live)))
			require.NoError(t, s.Write(ctx, page("child", "/a/b", domain.Live)))
			require.NoError(t, s.Write(ctx, page("grandchild", "/a/b/c", domain.Work)))
			require.NoError(t, s.Write(ctx, page("sibling", "/ab", domain.Live)))

			uris, err := s.ListDescendants(ctx, "/a")
			require.NoError(t, err)
			ids := make([]string, 0, len(uris))
			for _, u := range uris {
				ids = append(ids, u.ID)
			}
			require.ElementsMatch(t, []string{"child", "grandchild"}, ids)
		})
	}
}

func TestStore_Referrers(t *testing.T) {
	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t)
			require.NoError(t, s.Write(ctx, withReference(page("p1", "/p1", domain.Work), "img")))
			require.NoError(t, s.Write(ctx, page("img", "/img", domain.Live)))

			refs, err := s.Referrers(ctx, "img")
			require.NoError(t, err)
			require.Len(t, refs, 1)
			require.Equal(t, "p1", refs[0].ID)

			// Rewriting without the reference clears it.
			require.NoError(t, s.Write(ctx, page("p1", "/p1", domain.Work)))
			refs, err = s.Referrers(ctx, "img")
			require.NoError(t, err)
			require.Empty(t, refs)
		})
	}
}

func TestStore_Contents(t *testing.T) {
	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t)
			uri := domain.NewIDURI("site", "f1", domain.Live)
			require.NoError(t, s.Write(ctx, domain.NewResource(uri.WithPath("/file"))))

			n, err := s.WriteContent(ctx, uri, "en", strings.NewReader("hello"))
			require.NoError(t, err)
			require.EqualValues(t, 5, n)

			rc, err := s.ReadContent(ctx, uri, "en")
			require.NoError(t, err)
			data, err := io.ReadAll(rc)
			require.NoError(t, rc.Close())
			require.NoError(t, err)
			require.Equal(t, "hello", string(data))

			_, err = s.ReadContent(ctx, uri, "de")
			require.ErrorIs(t, err, ErrContentNotFound)

			require.NoError(t, s.DeleteContent(ctx, uri, "en"))
			require.NoError(t, s.DeleteContent(ctx, uri, "en"))
			_, err = s.ReadContent(ctx, uri, "en")
			require.ErrorIs(t, err, ErrContentNotFound)

			_, err = s.WriteContent(ctx, domain.NewIDURI("site", "missing", domain.Live), "en", strings.NewReader("x"))
			require.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStore_Closed(t *testing.T) {
	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			require.NoError(t, s.Close())
			_, err := s.Read(context.Background(), domain.NewIDURI("site", "p1", domain.Live))
			require.ErrorIs(t, err, ErrClosed)
		})
	}
}
