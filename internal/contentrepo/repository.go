// Package contentrepo is the content repository engine. It executes write
// operations against a backing store, keeps the search index in step with the
// store and enforces locking and referential integrity.
package contentrepo

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/sha1n/mcp-content-repository/internal/domain"
	"github.com/sha1n/mcp-content-repository/internal/index"
	"github.com/sha1n/mcp-content-repository/internal/store"
)

// DefaultWorkers is the number of operations executed in parallel when
// Options.Workers is not set.
const DefaultWorkers = 4

// SearchIndex is the part of the search index the repository drives.
// *index.SearchIndex implements it.
type SearchIndex interface {
	NewBatch() *index.Batch
	Apply(ctx context.Context, b *index.Batch) error
	Find(ctx context.Context, q *index.SearchQuery) (*index.SearchResult, error)
	ResourceCount(ctx context.Context) (int, error)
	VersionCount(ctx context.Context) (int, error)
	URIs(ctx context.Context) ([]domain.ResourceURI, error)
	NeedsReindex(site string) bool
	MarkIndexed(site string, resources, versions int) error
	MarkFailed(site string, cause error) error
	Close() error
}

// Options configure a Repository.
type Options struct {
	// Site is the site served by the repository. URIs without a site are scoped to it.
	Site string
	// Workers bounds the number of operations executing at the same time.
	Workers int
	// ReindexRate limits a full index pass to this many resources per second.
	// Zero means unlimited.
	ReindexRate float64
	Logger      *slog.Logger
	// Now overrides the clock used for creation and modification stamps.
	Now func() time.Time
}

// Repository is the writable content repository of one site.
//
// Write operations are submitted to a bounded pool of workers. Operations on the same
// resource identity are serialized through keyed locks; operations on unrelated
// resources run in parallel. A move rewrites paths across the hierarchy and therefore
// excludes every other operation while it runs.
type Repository struct {
	site    string
	store   store.Store
	index   SearchIndex
	logger  *slog.Logger
	now     func() time.Time
	limiter *rate.Limiter

	locks     *keyedLocker
	treeMu    sync.RWMutex
	sem       chan struct{}
	wg        sync.WaitGroup
	listeners *listenerSet

	pendingMu sync.Mutex
	pending   []Operation

	repairMu  sync.Mutex
	repair    map[string]uint64
	repairSeq uint64

	closeMu sync.RWMutex
	closed  bool
}

// New creates a repository over a store and its search index. The repository owns
// both and closes them on Close.
func New(st store.Store, idx SearchIndex, opts Options) (*Repository, error) {
	if st == nil || idx == nil {
		return nil, errors.New("content repository needs a store and a search index")
	}
	if opts.Site == "" {
		return nil, errors.New("content repository needs a site")
	}
	if opts.ReindexRate < 0 {
		return nil, fmt.Errorf("invalid reindex rate: %v", opts.ReindexRate)
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	r := &Repository{
		site:      opts.Site,
		store:     st,
		index:     idx,
		logger:    logger.With("site", opts.Site),
		now:       now,
		locks:     newKeyedLocker(),
		sem:       make(chan struct{}, workers),
		listeners: newListenerSet(),
		repair:    make(map[string]uint64),
	}
	if opts.ReindexRate > 0 {
		r.limiter = rate.NewLimiter(rate.Limit(opts.ReindexRate), max(1, int(opts.ReindexRate)))
	}
	return r, nil
}

// Site returns the site served by the repository.
func (r *Repository) Site() string {
	return r.site
}

// AddListener registers a listener for the outcome of every operation and returns a
// function that removes it again. Repository listeners run after the operation's
// own listeners.
func (r *Repository) AddListener(l Listener) (remove func()) {
	return r.listeners.add(l)
}

// Submit hands op to a worker and returns without waiting for it. An operation can
// be submitted once.
func (r *Repository) Submit(ctx context.Context, op Operation) error {
	if op == nil {
		return fmt.Errorf("%w: no operation", ErrInvalidResource)
	}
	r.closeMu.RLock()
	defer r.closeMu.RUnlock()
	if r.closed {
		return ErrNotConnected
	}
	if !op.base().submit() {
		return ErrAlreadySubmitted
	}

	r.addPending(op)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.sem <- struct{}{}        // Acquire
		defer func() { <-r.sem }() // Release
		r.execute(context.WithoutCancel(ctx), op)
	}()
	return nil
}

// Close waits for submitted operations to finish, then closes the index and the store.
func (r *Repository) Close() error {
	r.closeMu.Lock()
	if r.closed {
		r.closeMu.Unlock()
		return nil
	}
	r.closed = true
	r.closeMu.Unlock()

	r.wg.Wait()
	return errors.Join(r.index.Close(), r.store.Close())
}

func (r *Repository) checkConnected() error {
	r.closeMu.RLock()
	defer r.closeMu.RUnlock()
	if r.closed {
		return ErrNotConnected
	}
	return nil
}

// execute runs op exactly once, records its outcome and notifies listeners.
func (r *Repository) execute(ctx context.Context, op Operation) {
	b := op.base()
	b.begin()
	logger := r.logger.With("op_id", op.ID(), "kind", string(op.Kind()), "uri", op.URI().String())
	logger.Debug("Executing operation")

	result, err := r.run(WithOperation(ctx, op), op)
	r.removePending(op)
	b.finish(result, err)

	switch Classify(err) {
	case KindNone:
		logger.Debug("Operation succeeded", "duration", op.Duration())
	case KindDomain:
		logger.Warn("Operation rejected", "error", err)
	default:
		logger.Error("Operation failed", "error", err, "duration", op.Duration())
	}

	b.listeners.notify(op, err)
	r.listeners.notify(op, err)
	b.close()
}

// run invokes the operation and turns a panic into a RepositoryError. The result of
// an operation whose store changes committed is kept even if the index fell behind.
func (r *Repository) run(ctx context.Context, op Operation) (result any, err error) {
	defer func() {
		if p := recover(); p != nil {
			cause, ok := p.(error)
			if !ok {
				cause = fmt.Errorf("%v", p)
			}
			result, err = nil, &RepositoryError{Kind: op.Kind(), ID: op.ID(), Cause: cause}
		}
	}()

	result, err = op.run(ctx, r)
	if res, ok := result.(*domain.Resource); ok && res == nil {
		result = nil
	}
	var syncErr *IndexSyncError
	if err != nil && !errors.As(err, &syncErr) {
		result = nil
	}
	return result, err
}

func (r *Repository) addPending(op Operation) {
	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()
	r.pending = append(r.pending, op)
}

func (r *Repository) removePending(op Operation) {
	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()
	r.pending = slices.DeleteFunc(r.pending, func(o Operation) bool { return o.ID() == op.ID() })
}

// pendingOps returns the operations that were submitted and have not finished, in
// submission order.
func (r *Repository) pendingOps() []Operation {
	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()
	return slices.Clone(r.pending)
}

// PendingCount returns the number of submitted operations that have not finished.
func (r *Repository) PendingCount() int {
	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()
	return len(r.pending)
}

// do submits op and waits for its outcome.
func (r *Repository) do(ctx context.Context, op Operation) error {
	if err := r.Submit(ctx, op); err != nil {
		return err
	}
	return op.Wait(ctx)
}

// Put creates or replaces a resource version and returns it as stored.
func (r *Repository) Put(ctx context.Context, res *domain.Resource, updatePreviews bool) (*domain.Resource, error) {
	if res == nil {
		return nil, fmt.Errorf("%w: no resource", ErrInvalidResource)
	}
	op := NewPutOperation(res, updatePreviews)
	if err := r.do(ctx, op); err != nil {
		stored, _ := op.Resource()
		return stored, err
	}
	return op.Resource()
}

// PutContent streams data into the content variant for content.Language of the
// resource version at uri.
func (r *Repository) PutContent(ctx context.Context, uri domain.ResourceURI, content domain.ResourceContent, data io.Reader) (*domain.Resource, error) {
	op := NewPutContentOperation(uri, content, data)
	if err := r.do(ctx, op); err != nil {
		stored, _ := op.Resource()
		return stored, err
	}
	return op.Resource()
}

// DeleteContent removes a content variant. Removing a missing variant returns the
// resource unchanged.
func (r *Repository) DeleteContent(ctx context.Context, uri domain.ResourceURI, content domain.ResourceContent) (*domain.Resource, error) {
	op := NewDeleteContentOperation(uri, content)
	if err := r.do(ctx, op); err != nil {
		stored, _ := op.Resource()
		return stored, err
	}
	return op.Resource()
}

// Delete removes the version at uri, or every version when allVersions is set. It
// reports false if nothing matched.
func (r *Repository) Delete(ctx context.Context, uri domain.ResourceURI, allVersions bool) (bool, error) {
	op := NewDeleteOperation(uri, allVersions)
	if err := r.do(ctx, op); err != nil {
		deleted, _ := op.Result()
		d, _ := deleted.(bool)
		return d, err
	}
	return op.Deleted()
}

// Move relocates the resource at uri to target, together with its descendants when
// moveChildren is set.
func (r *Repository) Move(ctx context.Context, uri domain.ResourceURI, target string, moveChildren bool) error {
	return r.do(ctx, NewMoveOperation(uri, target, moveChildren))
}

// Lock locks every version of the resource for user.
func (r *Repository) Lock(ctx context.Context, uri domain.ResourceURI, user domain.User) (*domain.Resource, error) {
	op := NewLockOperation(uri, user)
	if err := r.do(ctx, op); err != nil {
		stored, _ := op.Resource()
		return stored, err
	}
	return op.Resource()
}

// Unlock clears the lock on every version of the resource.
func (r *Repository) Unlock(ctx context.Context, uri domain.ResourceURI, user domain.User) (*domain.Resource, error) {
	op := NewUnlockOperation(uri, user)
	if err := r.do(ctx, op); err != nil {
		stored, _ := op.Resource()
		return stored, err
	}
	return op.Resource()
}

// Get returns the resource version at uri as it will look once the pending
// operations completed.
func (r *Repository) Get(ctx context.Context, uri domain.ResourceURI) (*domain.Resource, error) {
	if err := r.checkConnected(); err != nil {
		return nil, err
	}
	uri, err := r.scope(uri)
	if err != nil {
		return nil, err
	}
	res, err := r.lookup(ctx, uri, r.pendingOps())
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, uri)
	}
	return res, nil
}

// Exists reports whether the resource version at uri exists.
func (r *Repository) Exists(ctx context.Context, uri domain.ResourceURI) (bool, error) {
	_, err := r.Get(ctx, uri)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// IsLocked reports whether the resource version at uri is locked.
func (r *Repository) IsLocked(ctx context.Context, uri domain.ResourceURI) (bool, error) {
	res, err := r.Get(ctx, uri)
	if err != nil {
		return false, err
	}
	return res.IsLocked(), nil
}

// GetVersions returns the URIs of every version of the resource, ordered by version.
func (r *Repository) GetVersions(ctx context.Context, uri domain.ResourceURI) ([]domain.ResourceURI, error) {
	if err := r.checkConnected(); err != nil {
		return nil, err
	}
	uri, err := r.scope(uri)
	if err != nil {
		return nil, err
	}
	pending := r.pendingOps()

	stored, err := r.store.ListVersions(ctx, uri)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	versions := make(map[domain.Version]struct{})
	for _, v := range stored {
		versions[v.Version] = struct{}{}
	}
	for _, op := range pending {
		if put, ok := op.(*PutOperation); ok && put.resource.URI.SameResource(uri) {
			versions[put.resource.URI.Version] = struct{}{}
		}
	}

	base := uri
	if len(stored) > 0 {
		base = stored[0]
	}
	var uris []domain.ResourceURI
	for v := range versions {
		res, err := r.lookup(ctx, base.WithVersion(v), pending)
		if err != nil {
			return nil, err
		}
		if res != nil {
			uris = append(uris, res.URI)
		}
	}
	slices.SortFunc(uris, func(a, b domain.ResourceURI) int { return cmp.Compare(a.Version, b.Version) })
	return uris, nil
}

// ReadContent opens the binary of a content variant.
func (r *Repository) ReadContent(ctx context.Context, uri domain.ResourceURI, language string) (io.ReadCloser, error) {
	if err := r.checkConnected(); err != nil {
		return nil, err
	}
	uri, err := r.scope(uri)
	if err != nil {
		return nil, err
	}
	r.treeMu.RLock()
	defer r.treeMu.RUnlock()
	resolved, err := r.store.Resolve(ctx, uri)
	if err != nil {
		return nil, err
	}
	unlock := r.locks.lock([]string{idKey(resolved.ID)}, false)
	defer unlock()
	return r.store.ReadContent(ctx, resolved.WithPath(""), language)
}

// Find runs a query against the search index of the repository's site.
func (r *Repository) Find(ctx context.Context, q *index.SearchQuery) (*index.SearchResult, error) {
	if err := r.checkConnected(); err != nil {
		return nil, err
	}
	if q == nil {
		q = index.NewQuery()
	}
	return r.index.Find(ctx, q.WithSite(r.site))
}

// ResourceCount returns the number of indexed resources, regardless of version.
func (r *Repository) ResourceCount(ctx context.Context) (int, error) {
	if err := r.checkConnected(); err != nil {
		return 0, err
	}
	return r.index.ResourceCount(ctx)
}

// VersionCount returns the number of indexed resource versions.
func (r *Repository) VersionCount(ctx context.Context) (int, error) {
	if err := r.checkConnected(); err != nil {
		return 0, err
	}
	return r.index.VersionCount(ctx)
}

// lookup reads the stored version at uri and reconciles it with pending. It returns
// nil if the version does not exist or is no longer addressed by uri.
func (r *Repository) lookup(ctx context.Context, uri domain.ResourceURI, pending []Operation) (*domain.Resource, error) {
	res, err := r.readShared(ctx, uri)
	if err != nil {
		return nil, err
	}
	for _, op := range pending {
		res = Apply(op, uri, res)
	}
	if res != nil && !uri.SameVersion(res.URI) {
		return nil, nil
	}
	return res, nil
}

func (r *Repository) readShared(ctx context.Context, uri domain.ResourceURI) (*domain.Resource, error) {
	r.treeMu.RLock()
	defer r.treeMu.RUnlock()
	resolved, err := r.store.Resolve(ctx, uri)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	unlock := r.locks.lock([]string{idKey(resolved.ID)}, false)
	defer unlock()
	res, err := r.store.Read(ctx, resolved.WithPath(""))
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	return res, err
}

// scope places uri in the repository's site.
func (r *Repository) scope(uri domain.ResourceURI) (domain.ResourceURI, error) {
	switch uri.Site {
	case "":
		uri.Site = r.site
	case r.site:
	default:
		return uri, fmt.Errorf("%w: site %q is not served by this repository", ErrInvalidResource, uri.Site)
	}
	uri.Path = domain.NormalizePath(uri.Path)
	return uri, nil
}
