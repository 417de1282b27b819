package contentrepo

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/sha1n/mcp-content-repository/internal/domain"
	"github.com/sha1n/mcp-content-repository/internal/index"
	"github.com/sha1n/mcp-content-repository/internal/store"
)

// IndexStats summarizes an index pass.
type IndexStats struct {
	Resources int
	Versions  int
	Removed   int
	Duration  time.Duration
}

// NeedsReindex reports whether the search index has to be rebuilt before it can
// serve queries for the repository's site.
func (r *Repository) NeedsReindex() bool {
	return r.index.NeedsReindex(r.site)
}

// Index rebuilds the search index from the store. Every stored version is indexed
// again and index documents without a stored version are removed, so a pass can be
// repeated or restarted at any time. Writes continue while the pass runs; each
// resource is indexed under its read lock.
func (r *Repository) Index(ctx context.Context) (IndexStats, error) {
	start := time.Now()
	if err := r.checkConnected(); err != nil {
		return IndexStats{}, err
	}
	queued := r.repairSnapshot()

	stats, err := r.indexAll(ctx)
	stats.Duration = time.Since(start)
	if err != nil {
		if markErr := r.index.MarkFailed(r.site, err); markErr != nil {
			r.logger.Warn("Failed to record index failure", "error", markErr)
		}
		return stats, fmt.Errorf("index pass failed: %w", err)
	}

	r.dequeueRepair(queued)
	if err := r.index.MarkIndexed(r.site, stats.Resources, stats.Versions); err != nil {
		return stats, fmt.Errorf("failed to record index pass: %w", err)
	}
	r.logger.Info("Indexed repository",
		"resources", stats.Resources, "versions", stats.Versions, "removed", stats.Removed, "duration", stats.Duration)
	return stats, nil
}

func (r *Repository) indexAll(ctx context.Context) (IndexStats, error) {
	var stats IndexStats
	stored, err := r.store.List(ctx)
	if err != nil {
		return stats, err
	}
	indexed, err := r.index.URIs(ctx)
	if err != nil {
		return stats, err
	}

	byID := make(map[string][]domain.ResourceURI)
	for _, u := range stored {
		if _, ok := byID[u.ID]; !ok {
			byID[u.ID] = nil
		}
	}
	for _, u := range indexed {
		byID[u.ID] = append(byID[u.ID], u)
	}

	for _, id := range slices.Sorted(maps.Keys(byID)) {
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return stats, err
			}
		} else if err := ctx.Err(); err != nil {
			return stats, err
		}
		versions, removed, err := r.reindex(ctx, id, byID[id])
		if err != nil {
			return stats, fmt.Errorf("failed to index resource %s: %w", id, err)
		}
		if versions > 0 {
			stats.Resources++
		}
		stats.Versions += versions
		stats.Removed += removed
	}
	return stats, nil
}

// Repair re-indexes the resources whose index update failed after their store
// change committed. It returns the number of resources repaired.
func (r *Repository) Repair(ctx context.Context) (int, error) {
	if err := r.checkConnected(); err != nil {
		return 0, err
	}
	queued := r.repairSnapshot()
	repaired := 0
	for _, id := range slices.Sorted(maps.Keys(queued)) {
		res, err := r.index.Find(ctx, index.NewQuery().WithSite(r.site).WithIdentifier(id))
		if err != nil {
			return repaired, err
		}
		indexed := make([]domain.ResourceURI, 0, len(res.Items))
		for _, item := range res.Items {
			indexed = append(indexed, item.URI)
		}
		if _, _, err := r.reindex(ctx, id, indexed); err != nil {
			return repaired, fmt.Errorf("failed to repair resource %s: %w", id, err)
		}
		r.dequeueRepair(map[string]uint64{id: queued[id]})
		repaired++
	}
	if repaired > 0 {
		r.logger.Info("Repaired search index", "resources", repaired)
	}
	return repaired, nil
}

// reindex brings the index documents of resource id in line with the store.
// indexed lists the versions the index currently holds for it.
func (r *Repository) reindex(ctx context.Context, id string, indexed []domain.ResourceURI) (versions, removed int, err error) {
	r.treeMu.RLock()
	defer r.treeMu.RUnlock()
	unlock := r.locks.lock([]string{idKey(id)}, false)
	defer unlock()

	stored, err := r.store.ListVersions(ctx, domain.NewIDURI(r.site, id, domain.Live))
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return 0, 0, err
	}
	b := r.index.NewBatch()
	keep := make(map[domain.Version]bool, len(stored))
	for _, u := range stored {
		res, err := r.store.Read(ctx, u.WithPath(""))
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return 0, 0, err
		}
		if err := b.Index(res); err != nil {
			return 0, 0, err
		}
		keep[u.Version] = true
		versions++
	}
	for _, u := range indexed {
		if !keep[u.Version] {
			b.Deindex(u)
			removed++
		}
	}
	return versions, removed, r.index.Apply(ctx, b)
}

func (r *Repository) queueRepair(uris ...domain.ResourceURI) {
	r.repairMu.Lock()
	defer r.repairMu.Unlock()
	for _, u := range uris {
		if u.ID != "" {
			r.repairSeq++
			r.repair[u.ID] = r.repairSeq
		}
	}
}

// dequeueRepair removes the ids of a snapshot that were not queued again since.
func (r *Repository) dequeueRepair(snapshot map[string]uint64) {
	r.repairMu.Lock()
	defer r.repairMu.Unlock()
	for id, seq := range snapshot {
		if r.repair[id] == seq {
			delete(r.repair, id)
		}
	}
}

func (r *Repository) repairSnapshot() map[string]uint64 {
	r.repairMu.Lock()
	defer r.repairMu.Unlock()
	return maps.Clone(r.repair)
}

// RepairPending returns the number of resources waiting for repair.
func (r *Repository) RepairPending() int {
	r.repairMu.Lock()
	defer r.repairMu.Unlock()
	return len(r.repair)
}
