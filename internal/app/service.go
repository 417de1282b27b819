package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sha1n/mcp-content-repository/internal/config"
	"github.com/sha1n/mcp-content-repository/internal/contentrepo"
	"github.com/sha1n/mcp-content-repository/internal/domain"
	"github.com/sha1n/mcp-content-repository/internal/index"
	mcputil "github.com/sha1n/mcp-content-repository/internal/mcp"
	"github.com/sha1n/mcp-content-repository/internal/store"
)

// ServerName is the implementation name reported to MCP clients.
const ServerName = "content-repo-mcp"

// StoreLockTimeout bounds the wait for another process holding the store directory.
const StoreLockTimeout = 10 * time.Second

// Service owns the content repository and builds the MCP servers exposing it.
type Service struct {
	Repository *contentrepo.Repository
	// Registry holds the repository metrics. Nil when metrics are disabled.
	Registry   *prometheus.Registry
	version    string
	maxResults int
}

// NewServer builds an MCP server acting for user. Tool calls without an
// authenticated user act as mcputil.DefaultUser when user is nil.
func (s *Service) NewServer(user *domain.User) *mcp.Server {
	cfg := mcputil.ServerConfig{
		Name:    ServerName,
		Version: s.version,
		User:    user,
	}
	if s.Repository != nil {
		cfg.Repository = s.Repository
		cfg.MaxResults = s.maxResults
	}
	return mcputil.CreateServer(cfg)
}

// Close closes the repository.
func (s *Service) Close() error {
	if s.Repository == nil {
		return nil
	}
	return s.Repository.Close()
}

// OpenRepository opens the store and search index described by settings and
// connects a repository to them.
func OpenRepository(ctx context.Context, settings *config.RepositorySettings, logger *slog.Logger) (*contentrepo.Repository, error) {
	st, err := openStore(ctx, settings)
	if err != nil {
		return nil, err
	}

	idx, err := openIndex(settings)
	if err != nil {
		return nil, errors.Join(err, st.Close())
	}

	repo, err := contentrepo.New(st, idx, contentrepo.Options{
		Site:        settings.Site,
		Workers:     settings.Workers,
		ReindexRate: settings.ReindexRate,
		Logger:      logger,
	})
	if err != nil {
		return nil, errors.Join(err, idx.Close(), st.Close())
	}
	return repo, nil
}

func openStore(ctx context.Context, settings *config.RepositorySettings) (store.Store, error) {
	switch settings.Store {
	case config.StoreMemory:
		return store.NewMemoryStore(), nil
	case config.StoreFilesystem, "":
		st, err := store.OpenFileSystem(ctx, settings.StoreDir(), settings.Site, StoreLockTimeout)
		if err != nil {
			return nil, fmt.Errorf("failed to open content store: %w", err)
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unsupported store: %s", settings.Store)
	}
}

func openIndex(settings *config.RepositorySettings) (*index.SearchIndex, error) {
	if settings.IndexInMemory {
		return index.OpenInMemory()
	}
	dir := settings.IndexDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}
	idx, err := index.Open(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open search index: %w", err)
	}
	return idx, nil
}

// NewService opens the repository and registers its metrics when enabled.
func NewService(ctx context.Context, settings *config.Settings, version string, logger *slog.Logger) (*Service, error) {
	repo, err := OpenRepository(ctx, &settings.Repository, logger)
	if err != nil {
		return nil, err
	}

	if settings.Repository.ReindexOnStart || repo.NeedsReindex() {
		rebuildIndex(ctx, repo, logger)
	}

	svc := &Service{
		Repository: repo,
		version:    version,
		maxResults: settings.Repository.MaxResults,
	}
	if settings.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		if _, err := contentrepo.RegisterMetrics(reg, repo); err != nil {
			return nil, errors.Join(err, repo.Close())
		}
		svc.Registry = reg
	}
	return svc, nil
}

// rebuildIndex runs a full index pass. A failure is logged only: the repository
// stays usable and find results are incomplete until a reindex succeeds.
func rebuildIndex(ctx context.Context, repo *contentrepo.Repository, logger *slog.Logger) {
	logger.Info("Rebuilding search index", "site", repo.Site())
	stats, err := repo.Index(ctx)
	if err != nil {
		logger.Error("Search index rebuild failed", "site", repo.Site(), "error", err)
		return
	}
	logger.Info("Search index rebuilt",
		"resources", stats.Resources,
		"versions", stats.Versions,
		"removed", stats.Removed,
		"duration", stats.Duration)
}
