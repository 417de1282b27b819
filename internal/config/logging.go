package config

import (
	"context"
	"io"
	"log/slog"
)

// NewLogger builds the process logger described by the log settings.
// Unknown levels fall back to info and unknown formats to text.
func NewLogger(s LogSettings, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(s.Level)}
	if s.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// ParseLevel maps a configured level name to a slog level.
func ParseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Log logs the resolved settings in a granular way, skipping irrelevant ones
func Log(s *Settings) {
	LogWithLogger(s, slog.Default())
}

// LogWithLogger logs the resolved settings using the provided logger
func LogWithLogger(s *Settings, logger *slog.Logger) {
	ctx := context.Background()
	logger.InfoContext(ctx, "Config: transport", "value", s.Transport)
	if s.Transport == "sse" {
		logger.InfoContext(ctx, "Config: host", "value", s.Host)
		logger.InfoContext(ctx, "Config: port", "value", s.Port)
		logger.InfoContext(ctx, "Config: metrics.enabled", "value", s.Metrics.Enabled)
	}

	logger.InfoContext(ctx, "Config: auth.type", "value", s.Auth.Type)
	switch s.Auth.Type {
	case AuthTypeBasic:
		logger.InfoContext(ctx, "Config: auth.basic.username", "value", s.Auth.Basic.Username)
		logger.InfoContext(ctx, "Config: auth.basic.password", "value", "****")
	case AuthTypeAPIKey:
		logger.InfoContext(ctx, "Config: auth.api_keys", "count", len(s.Auth.APIKeys))
	}

	r := s.Repository
	logger.InfoContext(ctx, "Config: repository.site", "value", r.Site)
	logger.InfoContext(ctx, "Config: repository.store", "value", r.Store)
	if r.Store == StoreFilesystem || !r.IndexInMemory {
		logger.InfoContext(ctx, "Config: repository.base_dir", "value", r.BaseDir)
	}
	logger.InfoContext(ctx, "Config: repository.index_in_memory", "value", r.IndexInMemory)
	logger.InfoContext(ctx, "Config: repository.workers", "value", r.Workers)
	logger.InfoContext(ctx, "Config: repository.reindex_on_start", "value", r.ReindexOnStart)
	if r.ReindexRate > 0 {
		logger.InfoContext(ctx, "Config: repository.reindex_rate", "value", r.ReindexRate)
	}
	logger.InfoContext(ctx, "Config: repository.max_results", "value", r.MaxResults)
	logger.InfoContext(ctx, "Config: log", "level", s.Log.Level, "format", s.Log.Format)
}

// AuthSettingsLogValue returns a slog.Value for AuthSettings with masked data
func AuthSettingsLogValue(s AuthSettings) slog.Value {
	keys := make([]string, len(s.APIKeys))
	for i := range s.APIKeys {
		keys[i] = "****"
	}
	return slog.GroupValue(
		slog.String("type", s.Type),
		slog.Any("basic", BasicAuthSettingsLogValue(s.Basic)),
		slog.Any("api_keys", keys),
	)
}

// BasicAuthSettingsLogValue returns a slog.Value for BasicAuthSettings with masked data
func BasicAuthSettingsLogValue(s BasicAuthSettings) slog.Value {
	return slog.GroupValue(
		slog.String("username", s.Username),
		slog.String("password", "****"),
	)
}

// RepositorySettingsLogValue returns a slog.Value for RepositorySettings
func RepositorySettingsLogValue(s RepositorySettings) slog.Value {
	return slog.GroupValue(
		slog.String("site", s.Site),
		slog.String("store", s.Store),
		slog.String("base_dir", s.BaseDir),
		slog.Bool("index_in_memory", s.IndexInMemory),
		slog.Int("workers", s.Workers),
		slog.Float64("reindex_rate", s.ReindexRate),
		slog.Int("max_results", s.MaxResults),
	)
}

// SettingsLogValue returns a slog.Value for Settings with masked data
func SettingsLogValue(s Settings) slog.Value {
	return slog.GroupValue(
		slog.String("transport", s.Transport),
		slog.String("host", s.Host),
		slog.Int("port", s.Port),
		slog.Any("auth", AuthSettingsLogValue(s.Auth)),
		slog.Any("repository", RepositorySettingsLogValue(s.Repository)),
	)
}
