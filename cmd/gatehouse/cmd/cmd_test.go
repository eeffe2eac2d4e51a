package cmd

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/togglehq/gatehouse/admin"
	"github.com/togglehq/gatehouse/api"
	"github.com/togglehq/gatehouse/authn"
	"github.com/togglehq/gatehouse/gateway"
	"github.com/togglehq/gatehouse/internal/config"
	"github.com/togglehq/gatehouse/ratelimit"
	"github.com/togglehq/gatehouse/session"
	"github.com/togglehq/gatehouse/storage"
	"github.com/togglehq/gatehouse/storage/memory"
	"github.com/togglehq/gatehouse/token"
)

func TestEdgeRouter(t *testing.T) {
	relay := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Relayed", "1")
		io.WriteString(w, r.URL.Path)
	})
	dist := fstest.MapFS{
		"index.html":    {Data: []byte(`<html><head></head><body>app</body></html>`)},
		"assets/app.js": {Data: []byte(`console.log(1)`)},
	}
	h, err := newEdgeRouter(relay, dist)
	require.NoError(t, err)

	tests := []struct {
		path    string
		relayed bool
		body    string
	}{
		{path: "/api/v1/auth/me", relayed: true, body: "/api/v1/auth/me"},
		{path: "/sdk/v1/snapshot", relayed: true, body: "/sdk/v1/snapshot"},
		{path: "/assets/app.js", body: "console.log(1)"},
		{path: "/projects/p1/flags", body: "app"},
		{path: "/health", body: "OK"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.body)
			if tt.relayed {
				assert.Equal(t, "1", rec.Header().Get("X-Relayed"))
				assert.Empty(t, rec.Header().Get("Content-Security-Policy"))
			} else {
				assert.Empty(t, rec.Header().Get("X-Relayed"))
			}
		})
	}
}

func TestEdgeRouterSetsCSPOnDashboard(t *testing.T) {
	dist := fstest.MapFS{"index.html": {Data: []byte(`<html><head></head></html>`)}}
	h, err := newEdgeRouter(http.NotFoundHandler(), dist)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Contains(t, rec.Header().Get("Content-Security-Policy"), "nonce-")
}

func TestNewScope(t *testing.T) {
	s, err := newScope("env-1", "environment", "proj-1")
	require.NoError(t, err)
	assert.Equal(t, authn.ScopeEnvironment, s.Kind)
	assert.Equal(t, "proj-1", s.ProjectID)

	s, err = newScope("proj-1", "project", "")
	require.NoError(t, err)
	assert.Equal(t, "proj-1", s.ProjectID)

	_, err = newScope("env-1", "environment", "")
	assert.Error(t, err)
	_, err = newScope("proj-1", "project", "proj-2")
	assert.Error(t, err)
	_, err = newScope("x", "org", "p")
	assert.Error(t, err)
}

func TestReadPassword(t *testing.T) {
	pw, err := readPassword(strings.NewReader("hunter2\r\nignored\n"))
	require.NoError(t, err)
	assert.Equal(t, "hunter2", pw)

	pw, err = readPassword(strings.NewReader("no-newline"))
	require.NoError(t, err)
	assert.Equal(t, "no-newline", pw)

	_, err = readPassword(strings.NewReader("\n"))
	assert.Error(t, err)
}

// newBackend serves newServerRouter over a memory store holding
// environment E1 of project P1.
func newBackend(t *testing.T) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.Config{
		AdminEmail:      "ops@example.com",
		AdminPassword:   "edge-to-server",
		SessionSecret:   strings.Repeat("s", session.MinSecretLen),
		SessionTTL:      time.Hour,
		LoginRateLimit:  10,
		LoginRateWindow: time.Minute,
	}
	resolver, err := admin.NewResolver(cfg, admin.WithLogger(logger))
	require.NoError(t, err)
	limiter := ratelimit.NewFixedWindow(cfg.LoginRateLimit, cfg.LoginRateWindow)
	t.Cleanup(func() { limiter.Close() })
	sessions, err := session.New(cfg, resolver, limiter, session.WithLogger(logger))
	require.NoError(t, err)

	repo := memory.NewRepository()
	require.NoError(t, repo.PutScope(t.Context(), &storage.Scope{ID: "E1", Kind: authn.ScopeEnvironment, ProjectID: "P1"}))

	a := api.New(sessions, token.NewService(repo, token.WithLogger(logger)), resolver, api.WithLogger(logger))
	t.Cleanup(a.Close)

	srv := httptest.NewServer(newServerRouter(a))
	t.Cleanup(srv.Close)
	return srv
}

func edgeRequest(t *testing.T, client *http.Client, method, target string, body any, headers ...string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequestWithContext(t.Context(), method, target, &buf)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := client.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestEdgeRelaysDashboardAndSDKToServer(t *testing.T) {
	backend := newBackend(t)

	relay := gateway.New(
		gateway.WithUpstream(func() string { return backend.URL }),
		gateway.WithTimeout(5*time.Second),
		gateway.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	dist := fstest.MapFS{"index.html": {Data: []byte(`<html><head></head></html>`)}}
	h, err := newEdgeRouter(relay, dist)
	require.NoError(t, err)
	edge := httptest.NewServer(h)
	t.Cleanup(edge.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	browser := &http.Client{Jar: jar}

	resp := edgeRequest(t, browser, http.MethodPost, edge.URL+"/api/v1/auth/login",
		api.LoginRequest{Email: "ops@example.com", Password: "edge-to-server"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	edgeURL, err := url.Parse(edge.URL)
	require.NoError(t, err)
	var csrf string
	for _, c := range jar.Cookies(edgeURL) {
		if c.Name == "gatehouse_csrf" {
			csrf = c.Value
		}
	}
	require.NotEmpty(t, csrf)

	resp = edgeRequest(t, browser, http.MethodPost, edge.URL+"/api/v1/scopes/E1/tokens",
		api.IssueTokenRequest{Name: "edge"}, "X-CSRF-Token", csrf)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var issued token.Issued
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&issued))
	require.NotEmpty(t, issued.Plaintext)

	sdk := &http.Client{}
	resp = edgeRequest(t, sdk, http.MethodGet, edge.URL+"/sdk/v1/snapshot", nil,
		"Authorization", "Bearer "+issued.Plaintext)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var snap api.SnapshotResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	assert.Equal(t, "E1", snap.EnvironmentID)
	assert.Equal(t, "P1", snap.ProjectID)

	resp = edgeRequest(t, sdk, http.MethodGet, edge.URL+"/sdk/v1/snapshot", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// SDK routes live only at the root.
	resp = edgeRequest(t, sdk, http.MethodGet, edge.URL+"/api/v1/sdk/v1/snapshot", nil,
		"Authorization", "Bearer "+issued.Plaintext)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
