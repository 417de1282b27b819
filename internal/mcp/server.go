package mcp

import (
	"context"
	"errors"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sha1n/mcp-content-repository/internal/contentrepo"
	"github.com/sha1n/mcp-content-repository/internal/domain"
)

// DefaultUser acts for tool calls that arrive without an authenticated user.
var DefaultUser = domain.User{Login: "mcp", Realm: "local"}

// DefaultMaxResults caps search results when ServerConfig.MaxResults is not set.
const DefaultMaxResults = 20

// ServerConfig contains configuration for creating an MCP server
type ServerConfig struct {
	Name       string
	Version    string
	Repository *contentrepo.Repository
	MaxResults int
	// User acts for tool calls whose context carries no user. DefaultUser when nil.
	User *domain.User
}

// CreateServer creates and configures the MCP server. Repository tools are only
// registered when a repository is configured.
func CreateServer(cfg ServerConfig) *mcp.Server {
	s := mcp.NewServer(&mcp.Implementation{
		Name:    cfg.Name,
		Version: cfg.Version,
	}, nil)

	if cfg.Repository == nil {
		return s
	}

	tc := NewTools(cfg)
	RegisterFindTool(s, tc)
	RegisterReadTools(s, tc)
	RegisterWriteTools(s, tc)
	RegisterLockTools(s, tc)
	RegisterAdminTools(s, tc)
	return s
}

// Tools holds what the repository tool handlers share.
type Tools struct {
	repo       *contentrepo.Repository
	maxResults int
	user       domain.User
}

func NewTools(cfg ServerConfig) *Tools {
	tc := &Tools{repo: cfg.Repository, maxResults: cfg.MaxResults, user: DefaultUser}
	if tc.maxResults <= 0 {
		tc.maxResults = DefaultMaxResults
	}
	if cfg.User != nil {
		tc.user = *cfg.User
	}
	return tc
}

// actor returns the user acting for the call and a context carrying it, so that the
// repository stamps changes with that user.
func (tc *Tools) actor(ctx context.Context) (context.Context, domain.User) {
	if u, ok := domain.UserFromContext(ctx); ok && u.Login != "" {
		return ctx, u
	}
	return domain.ContextWithUser(ctx, tc.user), tc.user
}

var errNoIdentity = errors.New("either id or path is required")

// resourceURI builds a URI in the repository's site from tool arguments.
func (tc *Tools) resourceURI(id, path, version string) (domain.ResourceURI, error) {
	id = strings.TrimSpace(id)
	path = strings.TrimSpace(path)
	if id == "" && path == "" {
		return domain.ResourceURI{}, errNoIdentity
	}
	v, err := domain.ParseVersion(version)
	if err != nil {
		return domain.ResourceURI{}, err
	}
	return domain.NewIDURI(tc.repo.Site(), id, v).WithPath(path), nil
}
