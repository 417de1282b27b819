package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/blevesearch/bleve/v2"
	"github.com/sha1n/mcp-content-repository/internal/domain"
)

// IndexSuffix is the suffix of the on-disk index directory.
const IndexSuffix = ".bleve"

// SearchIndex is the bleve index of all resource versions of one site.
// Each stored version is one document identified by DocumentID.
type SearchIndex struct {
	index        bleve.Index
	dir          string
	manifest     *Manifest
	manifestPath string
}

// Open opens (or creates) the index stored in dir. An index written with another
// schema, or one that cannot be opened, is recreated empty and its manifest reset
// so that NeedsReindex reports true.
func Open(dir string) (*SearchIndex, error) {
	indexPath := filepath.Join(dir, "resources"+IndexSuffix)
	manifestPath := filepath.Join(dir, ManifestFilename)

	manifest, err := LoadManifest(manifestPath)
	if err != nil {
		slog.Warn("Discarding unreadable index manifest", "path", manifestPath, "error", err)
		manifest = NewManifest()
	}
	if manifest.SchemaChanged() {
		slog.Info("Index schema changed, rebuilding", "from", manifest.Version, "to", SchemaVersion)
		if err := os.RemoveAll(indexPath); err != nil {
			return nil, fmt.Errorf("failed to remove outdated index: %w", err)
		}
		manifest = NewManifest()
	}

	index, err := bleve.Open(indexPath)
	switch {
	case err == nil:
	case errors.Is(err, bleve.ErrorIndexPathDoesNotExist):
		manifest = NewManifest()
		index, err = bleve.New(indexPath, CreateIndexMapping())
	default:
		slog.Warn("Failed to open index, recreating", "path", indexPath, "error", err)
		if rmErr := os.RemoveAll(indexPath); rmErr != nil {
			return nil, fmt.Errorf("failed to remove broken index: %w", rmErr)
		}
		manifest = NewManifest()
		index, err = bleve.New(indexPath, CreateIndexMapping())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create index: %w", err)
	}

	return &SearchIndex{
		index:        index,
		dir:          dir,
		manifest:     manifest,
		manifestPath: manifestPath,
	}, nil
}

// OpenInMemory creates an index that lives only as long as the process.
func OpenInMemory() (*SearchIndex, error) {
	index, err := bleve.NewMemOnly(CreateIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory index: %w", err)
	}
	return &SearchIndex{index: index, manifest: NewManifest()}, nil
}

// Dir returns the index directory, or "" for an in-memory index.
func (s *SearchIndex) Dir() string {
	return s.dir
}

// NeedsReindex reports whether a full index pass is required before the index can
// be trusted for site.
func (s *SearchIndex) NeedsReindex(site string) bool {
	return s.manifest.NeedsReindex(site)
}

// MarkIndexed records a completed full pass.
func (s *SearchIndex) MarkIndexed(site string, resources, versions int) error {
	s.manifest.MarkIndexed(site, resources, versions)
	return s.saveManifest()
}

// MarkFailed records a failed full pass so that the next start retries it.
func (s *SearchIndex) MarkFailed(site string, cause error) error {
	s.manifest.MarkFailed(site, cause)
	return s.saveManifest()
}

// Status returns the manifest state.
func (s *SearchIndex) Status() Status {
	return s.manifest.Status()
}

func (s *SearchIndex) saveManifest() error {
	if s.dir == "" {
		return nil
	}
	return s.manifest.Save(s.manifestPath)
}

// Batch collects index updates that are applied together.
type Batch struct {
	batch *bleve.Batch
}

// NewBatch creates an empty batch.
func (s *SearchIndex) NewBatch() *Batch {
	return &Batch{batch: s.index.NewBatch()}
}

// Index adds or replaces the document of a resource version.
func (b *Batch) Index(r *domain.Resource) error {
	if r.URI.ID == "" {
		return fmt.Errorf("cannot index resource without identifier: %s", r.URI)
	}
	return b.batch.Index(DocumentID(r.URI), toDocument(r))
}

// Deindex removes the document of a resource version.
func (b *Batch) Deindex(uri domain.ResourceURI) {
	b.batch.Delete(DocumentID(uri))
}

// Size returns the number of queued updates.
func (b *Batch) Size() int {
	return b.batch.Size()
}

// Apply commits a batch.
func (s *SearchIndex) Apply(ctx context.Context, b *Batch) error {
	if b == nil || b.Size() == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.index.Batch(b.batch); err != nil {
		return fmt.Errorf("batch index failed: %w", err)
	}
	return nil
}

// Index adds or replaces a single resource version.
func (s *SearchIndex) Index(ctx context.Context, r *domain.Resource) error {
	b := s.NewBatch()
	if err := b.Index(r); err != nil {
		return err
	}
	return s.Apply(ctx, b)
}

// Deindex removes a single resource version.
func (s *SearchIndex) Deindex(ctx context.Context, uri domain.ResourceURI) error {
	b := s.NewBatch()
	b.Deindex(uri)
	return s.Apply(ctx, b)
}

// Find runs a query. Version preference, sorting and paging are applied to the
// complete hit list so that DocumentCount is exact.
func (s *SearchIndex) Find(ctx context.Context, q *SearchQuery) (*SearchResult, error) {
	if q == nil {
		q = NewQuery()
	}
	result := &SearchResult{Offset: q.offset, Limit: q.limit}

	count, err := s.index.DocCount()
	if err != nil {
		return nil, fmt.Errorf("failed to count documents: %w", err)
	}
	if count == 0 {
		return result, nil
	}

	req := bleve.NewSearchRequestOptions(q.build(), int(count), 0, false)
	req.Fields = storedFields
	res, err := s.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	items := make([]SearchResultItem, 0, len(res.Hits))
	for _, hit := range res.Hits {
		item, err := itemFromHit(hit)
		if err != nil {
			slog.Warn("Skipping malformed index document", "doc", hit.ID, "error", err)
			continue
		}
		items = append(items, item)
	}
	if q.preferred != nil {
		items = preferVersion(items, *q.preferred)
	}
	sortItems(items, q.sortField, q.order)

	result.DocumentCount = len(items)
	result.Items = page(items, q.offset, q.limit)
	result.HitCount = len(result.Items)
	return result, nil
}

// VersionCount returns the number of indexed resource versions.
func (s *SearchIndex) VersionCount(_ context.Context) (int, error) {
	count, err := s.index.DocCount()
	if err != nil {
		return 0, fmt.Errorf("failed to count documents: %w", err)
	}
	return int(count), nil
}

// ResourceCount returns the number of distinct resources, regardless of version.
func (s *SearchIndex) ResourceCount(ctx context.Context) (int, error) {
	uris, err := s.URIs(ctx)
	if err != nil {
		return 0, err
	}
	ids := make(map[string]struct{}, len(uris))
	for _, u := range uris {
		ids[u.ID] = struct{}{}
	}
	return len(ids), nil
}

// URIs returns the URI of every indexed version, in no particular order.
func (s *SearchIndex) URIs(ctx context.Context) ([]domain.ResourceURI, error) {
	res, err := s.Find(ctx, NewQuery())
	if err != nil {
		return nil, err
	}
	uris := make([]domain.ResourceURI, 0, len(res.Items))
	for _, item := range res.Items {
		uris = append(uris, item.URI)
	}
	return uris, nil
}

// Close closes the index.
func (s *SearchIndex) Close() error {
	return s.index.Close()
}
