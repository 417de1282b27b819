package integration

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sha1n/mcp-content-repository/internal/app"
	"github.com/sha1n/mcp-content-repository/internal/config"
	"github.com/sha1n/mcp-content-repository/internal/domain"
	"github.com/sha1n/mcp-content-repository/internal/index"
	"github.com/sha1n/mcp-content-repository/tests/integration/testkit"
)

// ========================================
// SSE Server Tests
// ========================================

func TestSSE_WriteReadAndFind(t *testing.T) {
	env := startServer(t, &testkit.FlagOptions{BaseDir: t.TempDir()})
	session := connect(t, env, nil)

	text := callTool(t, session, "put_page", map[string]any{
		"path":     "/news/today",
		"title":    "Weather report",
		"template": "article",
		"subjects": []string{"weather"},
		"pagelets": []map[string]any{
			{"composer": "main", "module": "text", "elements": map[string]string{"body": "Sunny with light winds"}},
		},
	})
	if !strings.Contains(text, "Stored page") {
		t.Errorf("Unexpected put_page output:\n%s", text)
	}

	callTool(t, session, "put_content", map[string]any{
		"path":     "/news/today",
		"language": "en",
		"data":     "Sunny with light winds",
		"mimetype": "text/plain",
	})

	text = callTool(t, session, "read_content", map[string]any{"path": "/news/today", "language": "en"})
	if !strings.Contains(text, "Sunny with light winds") {
		t.Errorf("Unexpected read_content output:\n%s", text)
	}

	text = callTool(t, session, "find_resources", map[string]any{"text": "sunny"})
	if !strings.Contains(text, "Found 1 resources") || !strings.Contains(text, "/news/today") {
		t.Errorf("Expected the page to be found, got:\n%s", text)
	}

	text = callTool(t, session, "find_resources", map[string]any{"languages": []string{"en"}})
	if !strings.Contains(text, "Found 1 resources") {
		t.Errorf("Expected the content language to be indexed, got:\n%s", text)
	}
}

func TestSSE_UsersFromAPIKeys(t *testing.T) {
	env := startServer(t, &testkit.FlagOptions{AuthType: "apikey", APIKeys: []string{"first-key", "second-key"}})
	first := connect(t, env, apiKeyHeader("first-key"))
	second := connect(t, env, apiKeyHeader("second-key"))

	text := callTool(t, first, "put_page", map[string]any{"path": "/shared", "title": "Shared"})
	if !strings.Contains(text, "apikey-1@apikey") {
		t.Errorf("Expected the first key's user as creator, got:\n%s", text)
	}

	text = callTool(t, first, "lock_resource", map[string]any{"path": "/shared"})
	if !strings.Contains(text, "apikey-1") {
		t.Errorf("Unexpected lock output: %s", text)
	}

	result := callToolResult(t, second, "lock_resource", map[string]any{"path": "/shared"})
	if !result.IsError {
		t.Fatal("Expected the second user's lock to fail")
	}
	if text := extractTextContent(result); !strings.Contains(text, "already locked by apikey-1") {
		t.Errorf("Unexpected lock conflict output: %s", text)
	}

	text = callTool(t, second, "find_resources", map[string]any{"locked": true})
	if !strings.Contains(text, "lock_owner: apikey-1") {
		t.Errorf("Expected the locked page with its owner, got:\n%s", text)
	}
}

func TestSSE_RejectsMissingCredentials(t *testing.T) {
	env := startServer(t, &testkit.FlagOptions{AuthType: "basic", Username: "admin", Password: "secret"})

	resp, err := http.Get(env.sseURL)
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected 401, got %d", resp.StatusCode)
	}

	session := connect(t, env, basicAuth("admin", "secret"))
	text := callTool(t, session, "put_page", map[string]any{"path": "/by-admin"})
	if !strings.Contains(text, "admin@basic") {
		t.Errorf("Expected admin as creator, got:\n%s", text)
	}
}

func TestSSE_ReferentialIntegrityAndMove(t *testing.T) {
	env := startServer(t, nil)
	session := connect(t, env, nil)

	callTool(t, session, "put_page", map[string]any{"id": "home", "path": "/home", "title": "Home"})
	callTool(t, session, "put_page", map[string]any{"path": "/home/child", "title": "Child"})
	callTool(t, session, "put_page", map[string]any{"path": "/teaser", "references": []string{"home"}})

	result := callToolResult(t, session, "delete_resource", map[string]any{"id": "home", "all_versions": true})
	if !result.IsError || !strings.Contains(extractTextContent(result), "/teaser") {
		t.Errorf("Expected the delete to be refused naming the referrer, got: %s", extractTextContent(result))
	}

	callTool(t, session, "move_resource", map[string]any{"id": "home", "target": "/start", "move_children": true})

	text := callTool(t, session, "find_resources", map[string]any{"path_prefix": "/start"})
	if !strings.Contains(text, "Found 2 resources") {
		t.Errorf("Expected the moved subtree to be indexed at its new path, got:\n%s", text)
	}
	text = callTool(t, session, "find_resources", map[string]any{"path_prefix": "/home"})
	if !strings.Contains(text, "No resources found") {
		t.Errorf("Expected nothing left below the old path, got:\n%s", text)
	}
}

func TestSSE_MetricsEndpoint(t *testing.T) {
	env := startServer(t, nil)
	session := connect(t, env, nil)
	callTool(t, session, "put_page", map[string]any{"path": "/counted"})

	resp, err := http.Get(env.baseURL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics failed: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	var sb strings.Builder
	buf := make([]byte, 4096)
	for {
		n, err := resp.Body.Read(buf)
		sb.Write(buf[:n])
		if err != nil {
			break
		}
	}
	if !strings.Contains(sb.String(), `content_repository_operations_total{kind="put",result="success"}`) {
		t.Errorf("Expected a successful put to be counted, got:\n%s", sb.String())
	}
}

// ========================================
// Persistence Tests
// ========================================

func TestPersistence_SurvivesRestart(t *testing.T) {
	dir := t.TempDir()

	env := startServer(t, &testkit.FlagOptions{BaseDir: dir, Site: "docs"})
	session := connect(t, env, nil)
	callTool(t, session, "put_page", map[string]any{"id": "manual", "path": "/manual", "title": "Operator manual"})
	callTool(t, session, "put_page", map[string]any{"id": "manual", "path": "/manual", "version": "work", "title": "Operator manual draft"})
	_ = session.Close()
	env.stop(t)

	env = startServer(t, &testkit.FlagOptions{BaseDir: dir, Site: "docs"})
	session = connect(t, env, nil)

	text := callTool(t, session, "list_versions", map[string]any{"id": "manual"})
	if !strings.Contains(text, "live") || !strings.Contains(text, "work") {
		t.Errorf("Expected both versions after restart, got:\n%s", text)
	}

	text = callTool(t, session, "find_resources", map[string]any{"text": "draft", "version": "work"})
	if !strings.Contains(text, "Found 1 resources") {
		t.Errorf("Expected the on-disk index to survive the restart, got:\n%s", text)
	}

	text = callTool(t, session, "repository_status", map[string]any{})
	if !strings.Contains(text, "site: docs") || !strings.Contains(text, "needs_reindex: false") {
		t.Errorf("Unexpected status:\n%s", text)
	}
}

func TestPersistence_ConcurrentWritesStayIndexed(t *testing.T) {
	ctx := context.Background()
	settings := &config.RepositorySettings{
		Site:       "site",
		Store:      config.StoreFilesystem,
		BaseDir:    t.TempDir(),
		Workers:    4,
		MaxResults: 20,
	}

	repo, err := app.OpenRepository(ctx, settings, nil)
	if err != nil {
		t.Fatalf("OpenRepository failed: %v", err)
	}
	defer func() {
		if err := repo.Close(); err != nil {
			t.Errorf("Close failed: %v", err)
		}
	}()

	const writers = 8
	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := range writers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			page := domain.NewPage(domain.NewURI("site", fmt.Sprintf("/pages/%d", i)), "default")
			page.Title = fmt.Sprintf("Page %d", i)
			if _, err := repo.Put(ctx, page, false); err != nil {
				errs[i] = err
				return
			}
			page = domain.NewPage(domain.NewURI("site", fmt.Sprintf("/pages/%d", i)), "default")
			page.Title = fmt.Sprintf("Page %d updated", i)
			_, errs[i] = repo.Put(ctx, page, false)
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Errorf("Writer %d failed: %v", i, err)
		}
	}

	count, err := repo.ResourceCount(ctx)
	if err != nil {
		t.Fatalf("ResourceCount failed: %v", err)
	}
	if count != writers {
		t.Errorf("Expected %d resources, got %d", writers, count)
	}

	result, err := repo.Find(ctx, index.NewQuery().WithPathPrefix("/pages").WithText("updated"))
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if result.DocumentCount != writers {
		t.Errorf("Expected every update to be indexed, got %d hits", result.DocumentCount)
	}
}

// ========================================
// Helper Functions
// ========================================

type serverEnv struct {
	env     testkit.TestEnv
	baseURL string
	sseURL  string
	stopped bool
}

func (e *serverEnv) stop(t *testing.T) {
	t.Helper()
	if e.stopped {
		return
	}
	e.stopped = true
	if err := e.env.Stop(); err != nil {
		t.Errorf("Failed to stop server: %v", err)
	}
}

// startServer runs an SSE server for the test and stops it on cleanup.
func startServer(t *testing.T, opts *testkit.FlagOptions) *serverEnv {
	t.Helper()
	t.Chdir(t.TempDir())

	env := testkit.NewTestEnv(testkit.NewServerService(testkit.NewTestFlags(t, opts)))
	props, err := env.Start()
	if err != nil {
		_ = env.Stop()
		t.Fatalf("Failed to start server: %v", err)
	}

	e := &serverEnv{
		env:     env,
		baseURL: props[testkit.PropBaseURL].(string),
		sseURL:  props[testkit.PropSSEURL].(string),
	}
	t.Cleanup(func() { e.stop(t) })
	return e
}

// headerTransport sets headers on every request.
type headerTransport struct {
	header http.Header
}

func (h *headerTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	r = r.Clone(r.Context())
	for k, v := range h.header {
		r.Header[k] = v
	}
	return http.DefaultTransport.RoundTrip(r)
}

func apiKeyHeader(key string) http.Header {
	return http.Header{"X-Api-Key": []string{key}}
}

func basicAuth(user, pass string) http.Header {
	req, _ := http.NewRequest(http.MethodGet, "/", nil)
	req.SetBasicAuth(user, pass)
	return http.Header{"Authorization": req.Header["Authorization"]}
}

// connect opens an MCP client session over SSE, sending header with every request.
// The connect context also owns the event stream, so it must outlive the session.
func connect(t *testing.T, env *serverEnv, header http.Header) *mcp.ClientSession {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	transport := &mcp.SSEClientTransport{
		Endpoint:   env.sseURL,
		HTTPClient: &http.Client{Transport: &headerTransport{header: header}},
	}
	client := mcp.NewClient(&mcp.Implementation{Name: "integration", Version: "1.0"}, nil)
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	t.Cleanup(func() { _ = session.Close() })
	return session
}

func callToolResult(t *testing.T, session *mcp.ClientSession, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		t.Fatalf("CallTool %s failed: %v", name, err)
	}
	return result
}

// callTool calls a tool and fails the test if it reports an error.
func callTool(t *testing.T, session *mcp.ClientSession, name string, args map[string]any) string {
	t.Helper()
	result := callToolResult(t, session, name, args)
	text := extractTextContent(result)
	if result.IsError {
		t.Fatalf("Tool %s failed: %s", name, text)
	}
	return text
}

// extractTextContent extracts text content from a tool result
func extractTextContent(result *mcp.CallToolResult) string {
	var sb strings.Builder
	for _, c := range result.Content {
		if tc, ok := c.(*mcp.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	return sb.String()
}
