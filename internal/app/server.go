package app

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sha1n/mcp-content-repository/internal/auth"
	"github.com/sha1n/mcp-content-repository/internal/config"
	"github.com/sha1n/mcp-content-repository/internal/domain"
)

// StartSSEServer starts the SSE server with authentication
func StartSSEServer(svc *Service, settings *config.Settings) error {
	srv, err := NewSSEServer(svc, settings)
	if err != nil {
		return err
	}

	slog.Info("Server listening (HTTP)", "addr", srv.Addr, "auth_type", settings.Auth.Type)
	return srv.ListenAndServe()
}

// NewSSEServer creates a new SSE server with authentication middleware. Every SSE
// session gets its own MCP server acting for the authenticated user, so changes
// are stamped with who made them.
func NewSSEServer(svc *Service, settings *config.Settings) (*http.Server, error) {
	sseHandler := mcp.NewSSEHandler(func(r *http.Request) *mcp.Server {
		if user, ok := domain.UserFromContext(r.Context()); ok {
			return svc.NewServer(&user)
		}
		return svc.NewServer(nil)
	}, nil)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/sse", sseHandler)
	if settings.Metrics.Enabled && svc.Registry != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(svc.Registry, promhttp.HandlerOpts{}))
	}

	authMiddleware, err := auth.NewMiddleware(settings.Auth)
	if err != nil {
		return nil, fmt.Errorf("failed to create auth middleware: %w", err)
	}

	handler := authMiddleware(mux)
	addr := fmt.Sprintf("%s:%d", settings.Host, settings.Port)

	return &http.Server{
		Addr:    addr,
		Handler: handler,
	}, nil
}
