package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sha1n/mcp-content-repository/internal/domain"
)

const (
	resourcesDirName = "resources"
	contentDirName   = "content"
)

type versionKey struct {
	id      string
	version domain.Version
}

// FileSystemStore keeps resources under <base>/<site>/resources/<id>/<version>/.
// Each version is a header.yaml, a body.yaml and a content/ directory holding one
// binary per language.
//
// Headers are read when the store opens so that paths can be resolved. Bodies are
// read on first use. The reference index is built from all bodies the first time
// Referrers is called and kept current afterwards.
type FileSystemStore struct {
	// mu is exclusive because lazy loading mutates entries on read.
	mu      sync.Mutex
	dir     string
	site    string
	lock    *dirLock
	entries map[versionKey]*lazyResource
	uris    map[versionKey]domain.ResourceURI
	refs    map[versionKey][]string // nil until first needed
	closed  bool
}

// OpenFileSystem opens (or creates) the store for site below baseDir. It waits up to
// lockTimeout for other processes using the same directory.
func OpenFileSystem(ctx context.Context, baseDir, site string, lockTimeout time.Duration) (*FileSystemStore, error) {
	if site == "" || site != filepath.Base(site) || site == "." || site == ".." {
		return nil, fmt.Errorf("invalid site name: %q", site)
	}
	dir := filepath.Join(baseDir, site)
	if err := os.MkdirAll(filepath.Join(dir, resourcesDirName), 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	lock := newDirLock(dir)
	if err := lock.acquire(ctx, lockTimeout); err != nil {
		return nil, err
	}

	s := &FileSystemStore{
		dir:     dir,
		site:    site,
		lock:    lock,
		entries: make(map[versionKey]*lazyResource),
		uris:    make(map[versionKey]domain.ResourceURI),
	}
	if err := s.scan(); err != nil {
		_ = lock.release()
		return nil, err
	}
	slog.Info("Opened filesystem store", "dir", dir, "versions", len(s.entries))
	return s, nil
}

// Dir returns the site directory.
func (s *FileSystemStore) Dir() string {
	return s.dir
}

// scan loads every header below the resources directory.
func (s *FileSystemStore) scan() error {
	root := filepath.Join(s.dir, resourcesDirName)
	ids, err := os.ReadDir(root)
	if err != nil {
		return fmt.Errorf("failed to list resources: %w", err)
	}
	for _, idEntry := range ids {
		if !idEntry.IsDir() {
			continue
		}
		versions, err := os.ReadDir(filepath.Join(root, idEntry.Name()))
		if err != nil {
			return fmt.Errorf("failed to list versions of %s: %w", idEntry.Name(), err)
		}
		for _, vEntry := range versions {
			if !vEntry.IsDir() {
				continue
			}
			n, err := strconv.ParseInt(vEntry.Name(), 10, 64)
			if err != nil {
				slog.Warn("Skipping unexpected directory in store", "id", idEntry.Name(), "name", vEntry.Name())
				continue
			}
			lr := newLazyResource(filepath.Join(root, idEntry.Name(), vEntry.Name()))
			h, err := lr.Header()
			if err != nil {
				slog.Warn("Skipping unreadable resource", "id", idEntry.Name(), "version", n, "error", err)
				continue
			}
			uri := h.uri()
			uri.ID = idEntry.Name()
			uri.Version = domain.Version(n)
			key := versionKey{id: uri.ID, version: uri.Version}
			s.entries[key] = lr
			s.uris[key] = uri
		}
	}
	return nil
}

func (s *FileSystemStore) versionDir(id string, v domain.Version) string {
	return filepath.Join(s.dir, resourcesDirName, id, strconv.FormatInt(int64(v), 10))
}

func (s *FileSystemStore) contentPath(key versionKey, language string) (string, error) {
	if language == "" || language != filepath.Base(language) || strings.HasPrefix(language, ".") {
		return "", fmt.Errorf("%w: invalid language %q", ErrInvalidResource, language)
	}
	return filepath.Join(s.versionDir(key.id, key.version), contentDirName, language), nil
}

func (s *FileSystemStore) allURIs() []domain.ResourceURI {
	uris := make([]domain.ResourceURI, 0, len(s.uris))
	for _, u := range s.uris {
		uris = append(uris, u)
	}
	return uris
}

// lookup finds the key for uri. Callers hold mu.
func (s *FileSystemStore) lookup(uri domain.ResourceURI) (versionKey, bool) {
	id := uri.ID
	if id == "" {
		var ok bool
		if id, ok = pathMatch(uri, s.allURIs()); !ok {
			return versionKey{}, false
		}
	}
	key := versionKey{id: id, version: uri.Version}
	_, ok := s.entries[key]
	return key, ok
}

func (s *FileSystemStore) Read(_ context.Context, uri domain.ResourceURI) (*domain.Resource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	key, ok := s.lookup(uri)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, uri)
	}
	r, err := s.entries[key].Resource()
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", uri, err)
	}
	return r, nil
}

func (s *FileSystemStore) Write(_ context.Context, r *domain.Resource) error {
	if err := validate(r); err != nil {
		return err
	}
	if r.URI.ID != filepath.Base(r.URI.ID) || strings.HasPrefix(r.URI.ID, ".") {
		return fmt.Errorf("%w: invalid identifier %q", ErrInvalidResource, r.URI.ID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	stored := r.Clone()
	if stored.URI.Site == "" {
		stored.URI.Site = s.site
	}
	key := versionKey{id: stored.URI.ID, version: stored.URI.Version}
	lr := loadedResource(s.versionDir(key.id, key.version), stored)
	if err := lr.persist(); err != nil {
		return fmt.Errorf("failed to write %s: %w", stored.URI, err)
	}
	s.entries[key] = lr
	s.uris[key] = stored.URI
	if s.refs != nil {
		s.refs[key] = stored.References()
	}
	return nil
}

func (s *FileSystemStore) Delete(_ context.Context, uri domain.ResourceURI) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	key, ok := s.lookup(uri)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, uri)
	}
	if err := os.RemoveAll(s.versionDir(key.id, key.version)); err != nil {
		return fmt.Errorf("failed to delete %s: %w", uri, err)
	}
	delete(s.entries, key)
	delete(s.uris, key)
	if s.refs != nil {
		delete(s.refs, key)
	}

	// Drop the identifier directory with its last version.
	idDir := filepath.Dir(s.versionDir(key.id, key.version))
	if rest, err := os.ReadDir(idDir); err == nil && len(rest) == 0 {
		_ = os.Remove(idDir)
	}
	return nil
}

func (s *FileSystemStore) Exists(_ context.Context, uri domain.ResourceURI) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrClosed
	}
	_, ok := s.lookup(uri)
	return ok, nil
}

func (s *FileSystemStore) ListVersions(_ context.Context, uri domain.ResourceURI) ([]domain.ResourceURI, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
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
	for key, u := range s.uris {
		if key.id == id {
			uris = append(uris, u)
		}
	}
	sortURIs(uris)
	return uris, nil
}

func (s *FileSystemStore) Resolve(_ context.Context, uri domain.ResourceURI) (domain.ResourceURI, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
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
	versions := make(map[domain.Version]*domain.Resource)
	for key, u := range s.uris {
		if key.id == id {
			versions[key.version] = &domain.Resource{URI: u}
		}
	}
	if len(versions) == 0 {
		return uri, fmt.Errorf("%w: %s", ErrNotFound, uri)
	}
	return resolveFrom(uri, id, versions), nil
}

func (s *FileSystemStore) List(_ context.Context) ([]domain.ResourceURI, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	uris := s.allURIs()
	sortURIs(uris)
	return uris, nil
}

func (s *FileSystemStore) ListDescendants(_ context.Context, root string) ([]domain.ResourceURI, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	var uris []domain.ResourceURI
	for _, u := range s.uris {
		if u.Path != "" && domain.IsDescendant(root, u.Path) {
			uris = append(uris, u)
		}
	}
	sortURIs(uris)
	return uris, nil
}

func (s *FileSystemStore) Referrers(_ context.Context, id string) ([]domain.ResourceURI, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if err := s.loadReferences(); err != nil {
		return nil, err
	}
	var uris []domain.ResourceURI
	for key, refs := range s.refs {
		if key.id != id && slices.Contains(refs, id) {
			uris = append(uris, s.uris[key])
		}
	}
	sortURIs(uris)
	return uris, nil
}

// loadReferences reads every body once. Callers hold mu.
func (s *FileSystemStore) loadReferences() error {
	if s.refs != nil {
		return nil
	}
	refs := make(map[versionKey][]string, len(s.entries))
	for key, lr := range s.entries {
		b, err := lr.Body()
		if err != nil {
			return fmt.Errorf("failed to load body of %s: %w", s.uris[key], err)
		}
		refs[key] = b.references(key.id)
	}
	s.refs = refs
	slog.Debug("Built reference index", "versions", len(refs))
	return nil
}

func (s *FileSystemStore) WriteContent(_ context.Context, uri domain.ResourceURI, language string, data io.Reader) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	key, ok := s.lookup(uri)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, uri)
	}
	path, err := s.contentPath(key, language)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return 0, fmt.Errorf("failed to create content directory: %w", err)
	}

	tempPath := path + ".tmp"
	f, err := os.Create(tempPath)
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	var n int64
	if data != nil {
		n, err = io.Copy(f, data)
	}
	closeErr := f.Close()
	if err = errors.Join(err, closeErr); err != nil {
		_ = os.Remove(tempPath)
		return 0, fmt.Errorf("failed to write content: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		_ = os.Remove(tempPath)
		return 0, fmt.Errorf("failed to rename content: %w", err)
	}
	return n, nil
}

func (s *FileSystemStore) ReadContent(_ context.Context, uri domain.ResourceURI, language string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	key, ok := s.lookup(uri)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, uri)
	}
	path, err := s.contentPath(key, language)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s (%s)", ErrContentNotFound, uri, language)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open content: %w", err)
	}
	return f, nil
}

func (s *FileSystemStore) DeleteContent(_ context.Context, uri domain.ResourceURI, language string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	key, ok := s.lookup(uri)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, uri)
	}
	path, err := s.contentPath(key, language)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete content: %w", err)
	}
	return nil
}

// Close releases the directory lock. Further calls fail with ErrClosed.
func (s *FileSystemStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.lock.release()
}
