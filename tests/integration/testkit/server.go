package testkit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sha1n/mcp-content-repository/internal/app"
	"github.com/sha1n/mcp-content-repository/internal/config"
	"github.com/spf13/pflag"
)

// ServerStartTimeout bounds the wait for the server's health endpoint.
const ServerStartTimeout = 10 * time.Second

// Property names published by ServerService.Start.
const (
	PropBaseURL = "server.base_url"
	PropSSEURL  = "server.sse_url"
)

// ServerService runs the SSE server in process, configured by a flag set.
type ServerService struct {
	flags *pflag.FlagSet

	mu     sync.Mutex
	srv    *http.Server
	exited chan struct{}
	runErr error
}

// NewServerService creates a service running the server with the given flags.
func NewServerService(flags *pflag.FlagSet) *ServerService {
	return &ServerService{flags: flags}
}

func (s *ServerService) GetName() string {
	return "content-repo-mcp"
}

// Start runs the server and waits until its health endpoint answers.
func (s *ServerService) Start() (map[string]any, error) {
	host, _ := s.flags.GetString("host")
	port, _ := s.flags.GetInt("port")
	baseURL := fmt.Sprintf("http://%s:%d", host, port)

	params := app.DefaultRunParams()
	params.StartSSEServer = func(svc *app.Service, settings *config.Settings) error {
		srv, err := app.NewSSEServer(svc, settings)
		if err != nil {
			return err
		}
		s.mu.Lock()
		s.srv = srv
		s.mu.Unlock()

		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}

	s.exited = make(chan struct{})
	go func() {
		defer close(s.exited)
		s.runErr = app.RunWithDeps(context.Background(), params, s.flags, "test")
	}()

	if err := s.waitHealthy(baseURL); err != nil {
		return nil, err
	}
	return map[string]any{
		PropBaseURL: baseURL,
		PropSSEURL:  baseURL + "/sse",
	}, nil
}

func (s *ServerService) waitHealthy(baseURL string) error {
	deadline := time.Now().Add(ServerStartTimeout)
	for time.Now().Before(deadline) {
		select {
		case <-s.exited:
			return fmt.Errorf("server exited before becoming healthy: %w", s.runErr)
		default:
		}

		resp, err := http.Get(baseURL + "/health")
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		time.Sleep(50 * time.Millisecond)
	}
	return fmt.Errorf("server at %s not healthy after %s", baseURL, ServerStartTimeout)
}

// Stop shuts the server down and waits until the repository is closed.
func (s *ServerService) Stop() error {
	s.mu.Lock()
	srv := s.srv
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		_ = srv.Close()
	}
	<-s.exited
	return s.runErr
}
