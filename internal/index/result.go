package index

import (
	"cmp"
	"slices"
	"time"

	"github.com/sha1n/mcp-content-repository/internal/domain"
)

// SearchResultItem is one matching resource version.
type SearchResultItem struct {
	URI       domain.ResourceURI
	Score     float64
	Title     string
	Template  string
	LockOwner string
	Created   time.Time
	Modified  time.Time
	Published time.Time
}

// SearchResult is the outcome of a query. DocumentCount is the number of matching
// items before paging; HitCount is the number of items returned.
type SearchResult struct {
	DocumentCount int
	HitCount      int
	Offset        int
	Limit         int
	Items         []SearchResultItem
}

// preferVersion keeps one item per resource: the preferred version when present,
// otherwise the lowest version. The position of the first item seen for a resource
// is kept.
func preferVersion(items []SearchResultItem, preferred domain.Version) []SearchResultItem {
	pos := make(map[string]int, len(items))
	out := make([]SearchResultItem, 0, len(items))
	for _, item := range items {
		i, seen := pos[item.URI.ID]
		if !seen {
			pos[item.URI.ID] = len(out)
			out = append(out, item)
			continue
		}
		cur := out[i].URI.Version
		switch {
		case cur == preferred:
		case item.URI.Version == preferred, item.URI.Version < cur:
			out[i] = item
		}
	}
	return out
}

func (i SearchResultItem) date(field SortField) time.Time {
	switch field {
	case SortByCreation:
		return i.Created
	case SortByModified:
		return i.Modified
	case SortByPublication:
		return i.Published
	}
	return time.Time{}
}

// sortItems orders by date, falling back to path and version so that equal dates
// produce a stable order. Relevance order is left as bleve returned it.
func sortItems(items []SearchResultItem, field SortField, order Order) {
	if field == SortByRelevance {
		return
	}
	slices.SortStableFunc(items, func(a, b SearchResultItem) int {
		c := a.date(field).Compare(b.date(field))
		if order == Descending {
			c = -c
		}
		if c != 0 {
			return c
		}
		if c = cmp.Compare(a.URI.Path, b.URI.Path); c != 0 {
			return c
		}
		return cmp.Compare(a.URI.Version, b.URI.Version)
	})
}

func page(items []SearchResultItem, offset, limit int) []SearchResultItem {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
