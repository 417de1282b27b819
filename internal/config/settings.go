package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Auth type constants
const (
	AuthTypeNone   = "none"
	AuthTypeBasic  = "basic"
	AuthTypeAPIKey = "apikey"
)

// Backing store kinds
const (
	StoreMemory     = "memory"
	StoreFilesystem = "filesystem"
)

const envPrefix = "CONTENT_REPO"

// AuthSettings configuration for authentication
type AuthSettings struct {
	Type    string            `mapstructure:"type"` // AuthTypeNone, AuthTypeBasic, or AuthTypeAPIKey
	Basic   BasicAuthSettings `mapstructure:"basic"`
	APIKeys []string          `mapstructure:"api_keys"`
}

// BasicAuthSettings configuration for basic auth
type BasicAuthSettings struct {
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// RepositorySettings configures the content repository and its search index.
type RepositorySettings struct {
	Site           string  `mapstructure:"site"`
	Store          string  `mapstructure:"store"` // StoreMemory or StoreFilesystem
	BaseDir        string  `mapstructure:"base_dir"`
	IndexInMemory  bool    `mapstructure:"index_in_memory"`
	Workers        int     `mapstructure:"workers"`
	ReindexOnStart bool    `mapstructure:"reindex_on_start"`
	ReindexRate    float64 `mapstructure:"reindex_rate"` // resources per second, 0 is unlimited
	MaxResults     int     `mapstructure:"max_results"`
}

// StoreDir is where the filesystem store keeps resources.
func (r RepositorySettings) StoreDir() string {
	return filepath.Join(r.BaseDir, "store")
}

// IndexDir is where the on-disk search index lives.
func (r RepositorySettings) IndexDir() string {
	return filepath.Join(r.BaseDir, "index")
}

// LogSettings configuration for the process logger
type LogSettings struct {
	Level  string `mapstructure:"level"`  // debug, info, warn or error
	Format string `mapstructure:"format"` // text or json
}

// MetricsSettings configuration for the Prometheus endpoint
type MetricsSettings struct {
	Enabled bool `mapstructure:"enabled"`
}

// Settings application settings
type Settings struct {
	Transport  string             `mapstructure:"transport"`
	Host       string             `mapstructure:"host"`
	Port       int                `mapstructure:"port"`
	Auth       AuthSettings       `mapstructure:"auth"`
	Repository RepositorySettings `mapstructure:"repository"`
	Log        LogSettings        `mapstructure:"log"`
	Metrics    MetricsSettings    `mapstructure:"metrics"`
}

// flagKeys maps setting keys to the CLI flags that override them.
var flagKeys = map[string]string{
	"transport":                   "transport",
	"host":                        "host",
	"port":                        "port",
	"auth.type":                   "auth-type",
	"auth.basic.username":         "auth-basic-username",
	"auth.basic.password":         "auth-basic-password",
	"auth.api_keys":               "auth-api-keys",
	"repository.site":             "site",
	"repository.store":            "store",
	"repository.base_dir":         "base-dir",
	"repository.index_in_memory":  "index-in-memory",
	"repository.workers":          "workers",
	"repository.reindex_on_start": "reindex-on-start",
	"repository.reindex_rate":     "reindex-rate",
	"repository.max_results":      "max-results",
	"log.level":                   "log-level",
	"log.format":                  "log-format",
	"metrics.enabled":             "metrics-enabled",
}

// LoadSettings loads settings from environment variables and optional .env file
func LoadSettings() (*Settings, error) {
	return LoadSettingsWithFlags(nil)
}

// LoadSettingsWithFlags loads settings with optional CLI flag overrides.
// Priority: CLI flags > environment variables > .env file > defaults.
// If flags is nil, only env vars and defaults are used.
func LoadSettingsWithFlags(flags *pflag.FlagSet) (*Settings, error) {
	v := viper.New()

	v.SetDefault("transport", "stdio")
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("port", 8080)
	v.SetDefault("auth.type", AuthTypeNone)

	v.SetDefault("repository.site", "default")
	v.SetDefault("repository.store", StoreFilesystem)
	v.SetDefault("repository.base_dir", defaultBaseDir())
	v.SetDefault("repository.index_in_memory", false)
	v.SetDefault("repository.workers", 4)
	v.SetDefault("repository.reindex_on_start", false)
	v.SetDefault("repository.reindex_rate", 0.0)
	v.SetDefault("repository.max_results", 20)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("metrics.enabled", true)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Nested keys are not picked up by AutomaticEnv during Unmarshal.
	for key := range flagKeys {
		_ = v.BindEnv(key, envName(key))
	}

	if flags != nil {
		for key, name := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				_ = v.BindPFlag(key, f)
			}
		}
	}

	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	_ = v.ReadInConfig() // Ignore error if .env doesn't exist

	var settings Settings
	if err := v.Unmarshal(&settings); err != nil {
		return nil, err
	}

	// Comma separated env values arrive as a single element.
	apiKeysEnv := os.Getenv(envName("auth.api_keys"))
	if apiKeysEnv != "" {
		if len(settings.Auth.APIKeys) == 0 || (len(settings.Auth.APIKeys) == 1 && strings.Contains(settings.Auth.APIKeys[0], ",")) {
			settings.Auth.APIKeys = strings.Split(apiKeysEnv, ",")
		}
	}
	for i := range settings.Auth.APIKeys {
		settings.Auth.APIKeys[i] = strings.TrimSpace(settings.Auth.APIKeys[i])
	}
	settings.Auth.APIKeys = filterEmptyStrings(settings.Auth.APIKeys)

	settings.Repository.Site = strings.TrimSpace(settings.Repository.Site)
	settings.Repository.BaseDir = expandHomeDir(settings.Repository.BaseDir)
	settings.Log.Level = strings.ToLower(settings.Log.Level)
	settings.Log.Format = strings.ToLower(settings.Log.Format)

	return &settings, nil
}

func envName(key string) string {
	return envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// defaultBaseDir returns the default data directory for the store and index
func defaultBaseDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".content-repo"
	}
	return filepath.Join(home, ".content-repo")
}

// expandHomeDir expands ~ to the user's home directory
func expandHomeDir(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	if path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return home
	}
	return path
}

// filterEmptyStrings removes empty strings from a slice
func filterEmptyStrings(s []string) []string {
	var result []string
	for _, str := range s {
		if str != "" {
			result = append(result, str)
		}
	}
	return result
}

// ValidateSettings checks for conflicting configurations.
// Returns an error if the settings contain mutually exclusive or incomplete auth config.
func ValidateSettings(s *Settings) error {
	switch s.Transport {
	case "stdio", "sse":
	default:
		return errors.New("transport must be 'stdio' or 'sse', got: " + s.Transport)
	}

	hasBasicCreds := s.Auth.Basic.Username != "" || s.Auth.Basic.Password != ""
	hasAPIKeys := len(s.Auth.APIKeys) > 0

	switch s.Auth.Type {
	case AuthTypeNone, "":
		if hasBasicCreds || hasAPIKeys {
			return errors.New("auth-type 'none' is incompatible with auth credentials")
		}
	case AuthTypeBasic:
		if hasAPIKeys {
			return errors.New("auth-type 'basic' is mutually exclusive with auth-api-keys")
		}
		if s.Auth.Basic.Username == "" || s.Auth.Basic.Password == "" {
			return errors.New("auth-type 'basic' requires both username and password")
		}
	case AuthTypeAPIKey:
		if hasBasicCreds {
			return errors.New("auth-type 'apikey' is mutually exclusive with basic auth credentials")
		}
		if !hasAPIKeys {
			return errors.New("auth-type 'apikey' requires at least one API key")
		}
	default:
		return errors.New("unknown auth-type: " + s.Auth.Type)
	}

	if err := validateRepositorySettings(&s.Repository); err != nil {
		return err
	}
	return validateLogSettings(&s.Log)
}

// validateRepositorySettings validates the repository configuration
func validateRepositorySettings(r *RepositorySettings) error {
	if r.Site == "" {
		return errors.New("site cannot be empty")
	}
	if strings.ContainsAny(r.Site, ":/") {
		return fmt.Errorf("site must not contain ':' or '/', got: %s", r.Site)
	}

	switch r.Store {
	case StoreMemory:
	case StoreFilesystem:
		if r.BaseDir == "" {
			return errors.New("store 'filesystem' requires a base-dir")
		}
	default:
		return errors.New("store must be 'memory' or 'filesystem', got: " + r.Store)
	}

	if !r.IndexInMemory && r.BaseDir == "" {
		return errors.New("an on-disk index requires a base-dir")
	}
	if r.Workers <= 0 {
		return errors.New("workers must be positive")
	}
	if r.ReindexRate < 0 {
		return errors.New("reindex-rate cannot be negative")
	}
	if r.MaxResults <= 0 {
		return errors.New("max-results must be positive")
	}
	return nil
}

func validateLogSettings(l *LogSettings) error {
	switch l.Level {
	case "debug", "info", "warn", "error":
	default:
		return errors.New("log-level must be one of debug, info, warn or error, got: " + l.Level)
	}
	switch l.Format {
	case "text", "json":
	default:
		return errors.New("log-format must be 'text' or 'json', got: " + l.Format)
	}
	return nil
}
