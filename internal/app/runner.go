package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sha1n/mcp-content-repository/internal/config"
	"github.com/spf13/pflag"
)

// RunParams contains dependencies for the run function
type RunParams struct {
	LoadSettings      func(*pflag.FlagSet) (*config.Settings, error)
	ValidSettings     func(*config.Settings) error
	StartSSEServer    func(*Service, *config.Settings) error
	CreateService     func(context.Context, *config.Settings, string) (*Service, func(), error)
	CustomIOTransport mcp.Transport // Optional: for testing with custom IO
}

// DefaultRunParams returns production dependencies
func DefaultRunParams() RunParams {
	return RunParams{
		LoadSettings:   config.LoadSettingsWithFlags,
		ValidSettings:  config.ValidateSettings,
		StartSSEServer: StartSSEServer,
		CreateService:  CreateService,
	}
}

// RunWithDeps executes the server with the provided dependencies
func RunWithDeps(ctx context.Context, params RunParams, flags *pflag.FlagSet, version string) error {
	settings, err := loadValidSettings(params, flags)
	if err != nil {
		return err
	}

	slog.Info("Starting content repository MCP server", "version", version)
	config.Log(settings)

	svc, cleanup, err := params.CreateService(ctx, settings, version)
	if err != nil {
		return err
	}
	if cleanup != nil {
		defer cleanup()
	}

	if settings.Transport == "stdio" {
		// Use custom transport if provided (for testing), otherwise use stdio
		transport := params.CustomIOTransport
		if transport == nil {
			transport = &mcp.StdioTransport{}
		}
		return svc.NewServer(nil).Run(ctx, transport)
	}

	slog.Info("Starting SSE server", "host", settings.Host, "port", settings.Port)
	return params.StartSSEServer(svc, settings)
}

// loadValidSettings loads and validates settings, then installs the configured
// logger as the default. Logs always go to stderr; stdout carries the stdio transport.
func loadValidSettings(params RunParams, flags *pflag.FlagSet) (*config.Settings, error) {
	settings, err := params.LoadSettings(flags)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}

	if err := params.ValidSettings(settings); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	slog.SetDefault(config.NewLogger(settings.Log, os.Stderr))
	return settings, nil
}

// CreateService opens the content repository and returns a service exposing it,
// with a cleanup function that closes the repository.
func CreateService(ctx context.Context, settings *config.Settings, version string) (*Service, func(), error) {
	svc, err := NewService(ctx, settings, version, slog.Default())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open content repository: %w", err)
	}

	cleanup := func() {
		if err := svc.Close(); err != nil {
			slog.Error("Failed to close content repository", "error", err)
		}
	}
	return svc, cleanup, nil
}

// Reindex rebuilds the search index of the configured repository and exits. It
// serves the reindex command, which runs without a transport.
func Reindex(ctx context.Context, params RunParams, flags *pflag.FlagSet) error {
	settings, err := loadValidSettings(params, flags)
	if err != nil {
		return err
	}

	repo, err := OpenRepository(ctx, &settings.Repository, slog.Default())
	if err != nil {
		return fmt.Errorf("failed to open content repository: %w", err)
	}
	defer func() {
		if err := repo.Close(); err != nil {
			slog.Error("Failed to close content repository", "error", err)
		}
	}()

	stats, err := repo.Index(ctx)
	if err != nil {
		return fmt.Errorf("reindex failed: %w", err)
	}
	slog.Info("Reindex complete",
		"site", repo.Site(),
		"resources", stats.Resources,
		"versions", stats.Versions,
		"removed", stats.Removed,
		"duration", stats.Duration)
	return nil
}
