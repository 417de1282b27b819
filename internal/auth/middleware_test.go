package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sha1n/mcp-content-repository/internal/config"
	"github.com/sha1n/mcp-content-repository/internal/domain"
)

var (
	basicSettings = config.AuthSettings{
		Type:  config.AuthTypeBasic,
		Basic: config.BasicAuthSettings{Username: "admin", Password: "secret"},
	}
	apiKeySettings = config.AuthSettings{
		Type:    config.AuthTypeAPIKey,
		APIKeys: []string{"key1", "key2"},
	}
)

// serve runs req through the middleware built from settings and reports the
// response together with the user the wrapped handler saw, if any.
func serve(t *testing.T, settings config.AuthSettings, req *http.Request) (*httptest.ResponseRecorder, *domain.User) {
	t.Helper()

	middleware, err := NewMiddleware(settings)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	var seen *domain.User
	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if user, ok := domain.UserFromContext(r.Context()); ok {
			seen = &user
		}
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec, seen
}

func TestMiddleware_Requests(t *testing.T) {
	tests := []struct {
		name       string
		settings   config.AuthSettings
		path       string
		prepare    func(*http.Request)
		wantStatus int
		wantUser   string
	}{
		{
			name:       "none passes anonymously",
			settings:   config.AuthSettings{Type: config.AuthTypeNone},
			wantStatus: http.StatusOK,
		},
		{
			name:       "empty type behaves like none",
			settings:   config.AuthSettings{},
			wantStatus: http.StatusOK,
		},
		{
			name:       "basic with valid credentials",
			settings:   basicSettings,
			prepare:    func(r *http.Request) { r.SetBasicAuth("admin", "secret") },
			wantStatus: http.StatusOK,
			wantUser:   "admin@basic",
		},
		{
			name:       "basic with wrong password",
			settings:   basicSettings,
			prepare:    func(r *http.Request) { r.SetBasicAuth("admin", "wrongpassword") },
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "basic with wrong username",
			settings:   basicSettings,
			prepare:    func(r *http.Request) { r.SetBasicAuth("editor", "secret") },
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "basic without credentials",
			settings:   basicSettings,
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "api key is named by position",
			settings:   apiKeySettings,
			prepare:    func(r *http.Request) { r.Header.Set("X-API-Key", "key2") },
			wantStatus: http.StatusOK,
			wantUser:   "apikey-2@apikey",
		},
		{
			name:       "unknown api key",
			settings:   apiKeySettings,
			prepare:    func(r *http.Request) { r.Header.Set("X-API-Key", "wrongkey") },
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "missing api key",
			settings:   apiKeySettings,
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "health bypasses basic auth",
			settings:   basicSettings,
			path:       "/health",
			wantStatus: http.StatusOK,
		},
		{
			name:       "health bypasses api key auth",
			settings:   apiKeySettings,
			path:       "/health",
			wantStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := tt.path
			if path == "" {
				path = "/sse"
			}
			req := httptest.NewRequest("GET", path, nil)
			if tt.prepare != nil {
				tt.prepare(req)
			}

			rec, user := serve(t, tt.settings, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("Expected status %d, got %d", tt.wantStatus, rec.Code)
			}
			switch {
			case tt.wantUser == "" && user != nil:
				t.Errorf("Expected no user on the request context, got %s", user)
			case tt.wantUser != "" && user == nil:
				t.Errorf("Expected %s on the request context, got none", tt.wantUser)
			case tt.wantUser != "" && user.String() != tt.wantUser:
				t.Errorf("Expected %s on the request context, got %s", tt.wantUser, user)
			}
		})
	}
}

func TestMiddleware_BasicChallenge(t *testing.T) {
	rec, _ := serve(t, basicSettings, httptest.NewRequest("GET", "/sse", nil))

	if got := rec.Header().Get("WWW-Authenticate"); got != `Basic realm="Restricted"` {
		t.Errorf("Unexpected WWW-Authenticate header %q", got)
	}
}

func TestNewMiddleware_InvalidSettings(t *testing.T) {
	tests := []struct {
		name     string
		settings config.AuthSettings
	}{
		{
			name: "basic without username",
			settings: config.AuthSettings{
				Type:  config.AuthTypeBasic,
				Basic: config.BasicAuthSettings{Password: "secret"},
			},
		},
		{
			name: "basic without password",
			settings: config.AuthSettings{
				Type:  config.AuthTypeBasic,
				Basic: config.BasicAuthSettings{Username: "admin"},
			},
		},
		{
			name:     "api key without keys",
			settings: config.AuthSettings{Type: config.AuthTypeAPIKey, APIKeys: []string{}},
		},
		{
			name:     "unknown type",
			settings: config.AuthSettings{Type: "oauth"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewMiddleware(tt.settings); err == nil {
				t.Error("Expected error")
			}
		})
	}
}

func TestIsExcludedPath(t *testing.T) {
	tests := []struct {
		path     string
		expected bool
	}{
		{"/health", true},
		{"/sse", false},
		{"/metrics", false},
		{"/api/health", false},
		{"/", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := isExcludedPath(tt.path); got != tt.expected {
				t.Errorf("isExcludedPath(%q) = %v, want %v", tt.path, got, tt.expected)
			}
		})
	}
}
