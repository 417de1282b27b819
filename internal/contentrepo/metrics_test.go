package contentrepo

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sha1n/mcp-content-repository/internal/domain"
	"github.com/stretchr/testify/require"
)

func TestMetrics_RecordsOutcomes(t *testing.T) {
	r := newMemoryRepository(t)
	reg := prometheus.NewRegistry()
	m, err := RegisterMetrics(reg, r)
	require.NoError(t, err)
	ctx := context.Background()

	res := mustPut(t, r, pageAt("/metered"))
	mustPut(t, r, pageAt("/metered"))
	_, err = r.Lock(ctx, res.URI, alice)
	require.NoError(t, err)
	_, err = r.Lock(ctx, res.URI, bob)
	require.ErrorIs(t, err, ErrAlreadyLocked)
	_, err = r.Lock(ctx, domain.NewURI(testSite, "/missing"), bob)
	require.ErrorIs(t, err, ErrNotFound)

	require.Equal(t, 2.0, testutil.ToFloat64(m.operations.WithLabelValues("put", "success")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("lock", "success")))
	require.Equal(t, 2.0, testutil.ToFloat64(m.operations.WithLabelValues("lock", "domain")))
	require.Equal(t, 2, testutil.CollectAndCount(m.duration))

	pending, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(pending))
	for _, mf := range pending {
		names = append(names, mf.GetName())
	}
	require.Contains(t, names, "content_repository_pending_operations")
	require.Contains(t, names, "content_repository_index_repair_pending")
}

func TestMetrics_DuplicateRegistrationFails(t *testing.T) {
	r := newMemoryRepository(t)
	reg := prometheus.NewRegistry()
	_, err := RegisterMetrics(reg, r)
	require.NoError(t, err)
	_, err = RegisterMetrics(reg, r)
	require.Error(t, err)
}
