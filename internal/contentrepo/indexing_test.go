package contentrepo

import (
	"context"
	"testing"
	"time"

	"github.com/sha1n/mcp-content-repository/internal/domain"
	"github.com/sha1n/mcp-content-repository/internal/index"
	"github.com/sha1n/mcp-content-repository/internal/store"
	"github.com/stretchr/testify/require"
)

func TestRepository_IndexRebuildsFromStore(t *testing.T) {
	st := store.NewMemoryStore()
	idx := newIndex(t)
	r := newTestRepository(t, st, idx)
	ctx := context.Background()
	require.True(t, r.NeedsReindex())

	// Written behind the repository's back, so the index does not know them yet.
	for i, path := range []string{"/one", "/two", "/three"} {
		res := domain.NewPage(domain.ResourceURI{Site: testSite, ID: string(rune('a' + i)), Path: path}, "default")
		require.NoError(t, st.Write(ctx, res))
	}
	work := domain.NewPage(domain.ResourceURI{Site: testSite, ID: "a", Path: "/one", Version: domain.Work}, "default")
	require.NoError(t, st.Write(ctx, work))
	require.Zero(t, findCount(t, r, index.NewQuery()))

	stats, err := r.Index(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, stats.Resources)
	require.Equal(t, 4, stats.Versions)
	require.Zero(t, stats.Removed)
	require.False(t, r.NeedsReindex())
	require.Equal(t, 4, findCount(t, r, index.NewQuery()))
	require.Equal(t, 3, idx.Status().Resources)

	again, err := r.Index(ctx)
	require.NoError(t, err)
	require.Equal(t, stats.Versions, again.Versions)
	require.Equal(t, 4, findCount(t, r, index.NewQuery()))
}

func TestRepository_IndexRemovesOrphans(t *testing.T) {
	idx := newIndex(t)
	r := newTestRepository(t, store.NewMemoryStore(), idx)
	ctx := context.Background()
	kept := mustPut(t, r, pageAt("/kept"))

	orphan := domain.NewPage(domain.ResourceURI{Site: testSite, ID: "orphan", Path: "/orphan"}, "default")
	require.NoError(t, idx.Index(ctx, orphan))
	stale := kept.Clone()
	stale.URI.Version = domain.Work
	require.NoError(t, idx.Index(ctx, stale))
	require.Equal(t, 3, findCount(t, r, index.NewQuery()))

	stats, err := r.Index(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, stats.Removed)
	require.Equal(t, 1, stats.Versions)
	requireConsistent(t, r, "/kept", "/orphan")
	require.Equal(t, 1, findCount(t, r, index.NewQuery()))
}

func TestRepository_IndexClearsRepairQueue(t *testing.T) {
	idx := &faultyIndex{SearchIndex: newIndex(t)}
	r := newTestRepository(t, store.NewMemoryStore(), idx)
	ctx := context.Background()

	idx.failNext(1)
	_, err := r.Put(ctx, pageAt("/queued"), false)
	require.ErrorIs(t, err, ErrIndexOutOfSync)
	require.Equal(t, 1, r.RepairPending())

	_, err = r.Index(ctx)
	require.NoError(t, err)
	require.Zero(t, r.RepairPending())
	requireConsistent(t, r, "/queued")
}

func TestRepository_IndexFailureIsRecorded(t *testing.T) {
	idx := &faultyIndex{SearchIndex: newIndex(t)}
	r := newTestRepository(t, store.NewMemoryStore(), idx)
	ctx := context.Background()
	mustPut(t, r, pageAt("/fails"))
	_, err := r.Index(ctx)
	require.NoError(t, err)
	require.False(t, r.NeedsReindex())

	idx.failNext(1)
	_, err = r.Index(ctx)
	require.ErrorIs(t, err, errIndexDown)
	require.True(t, r.NeedsReindex())
	require.NotEmpty(t, idx.Status().Error)
}

func TestRepository_IndexIsRateLimited(t *testing.T) {
	r := newTestRepository(t, store.NewMemoryStore(), newIndex(t), func(o *Options) {
		o.ReindexRate = 0.5
	})
	mustPut(t, r, pageAt("/first"))
	mustPut(t, r, pageAt("/second"))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := r.Index(ctx)
	require.Error(t, err)
	require.True(t, r.NeedsReindex())
}

func TestRepository_RepairWithNothingQueued(t *testing.T) {
	r := newMemoryRepository(t)
	repaired, err := r.Repair(context.Background())
	require.NoError(t, err)
	require.Zero(t, repaired)
}
