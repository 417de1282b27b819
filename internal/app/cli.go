package app

import "github.com/spf13/pflag"

// RegisterFlags registers all CLI flags on the given FlagSet
func RegisterFlags(flags *pflag.FlagSet) {
	flags.StringP("transport", "t", "", "Transport type: stdio or sse")
	flags.StringP("host", "H", "", "Host for SSE transport")
	flags.IntP("port", "p", 0, "Port for SSE transport")
	flags.StringP("auth-type", "a", "", "Authentication type: none, basic, or apikey")
	flags.StringP("auth-basic-username", "u", "", "Basic auth username")
	flags.StringP("auth-basic-password", "P", "", "Basic auth password")
	flags.StringSliceP("auth-api-keys", "k", nil, "API keys (comma-separated)")
	RegisterRepositoryFlags(flags)
}

// RegisterRepositoryFlags registers the flags that configure the content repository.
// Commands that only touch the repository register these alone.
func RegisterRepositoryFlags(flags *pflag.FlagSet) {
	flags.StringP("site", "s", "", "Site served by the repository")
	flags.String("store", "", "Content store: memory or filesystem")
	flags.StringP("base-dir", "d", "", "Directory holding the content store and search index")
	flags.Bool("index-in-memory", false, "Keep the search index in memory and rebuild it on start")
	flags.IntP("workers", "w", 0, "Maximum number of operations executing at the same time")
	flags.Bool("reindex-on-start", false, "Rebuild the search index before serving")
	flags.Float64("reindex-rate", 0, "Resources per second indexed by a full reindex (0 for unlimited)")
	flags.Int("max-results", 0, "Maximum number of hits returned by a search")
	flags.String("log-level", "", "Log level: debug, info, warn or error")
	flags.String("log-format", "", "Log format: text or json")
	flags.Bool("metrics-enabled", false, "Serve Prometheus metrics on /metrics (SSE transport)")
}
