package httpapi

import (
	"bytes"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mcpbridge/mcpbridge-go/internal/contracts"
	"github.com/mcpbridge/mcpbridge-go/internal/registry"
	"github.com/mcpbridge/mcpbridge-go/internal/runtime"
	"github.com/mcpbridge/mcpbridge-go/internal/storage"
	"github.com/mcpbridge/mcpbridge-go/internal/toolcall"
	"github.com/mcpbridge/mcpbridge-go/internal/tools"
)

func newTestServer(t *testing.T) (*Server, *runtime.Manager, string) {
	t.Helper()
	logger := zap.NewNop()

	// Fake GitHub API for the canned github server.
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"login":"octocat"}`))
	}))
	t.Cleanup(api.Close)

	store, err := storage.NewStore(t.TempDir(), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	reg := registry.New(logger)
	manager := runtime.NewManager(reg, store, nil, time.Minute, logger)
	t.Cleanup(manager.Stop)

	factory := tools.NewFactory(reg, nil, logger)
	processor := toolcall.NewProcessor(factory, logger)

	return NewServer(manager, factory, processor, nil, logger), manager, api.URL
}

func doJSON(t *testing.T, s *Server, method, path string, body interface{}) (*httptest.ResponseRecorder, contracts.APIResponse) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	var envelope contracts.APIResponse
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope),
			"body: %s", rec.Body.String())
	}
	return rec, envelope
}

func addGitHubServer(t *testing.T, s *Server, apiURL string) {
	t.Helper()
	rec, envelope := doJSON(t, s, http.MethodPost, "/api/v1/servers", map[string]interface{}{
		"name":    "GitHub",
		"baseUrl": apiURL,
		"enabled": true,
		"auth":    map[string]string{"type": "bearer", "token": "test-token"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, "body: %s", rec.Body.String())
	require.True(t, envelope.Success)
}

func TestHealthEndpoints(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestListServersEmpty(t *testing.T) {
	s, _, _ := newTestServer(t)
	rec, envelope := doJSON(t, s, http.MethodGet, "/api/v1/servers", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, envelope.Success)
}

func TestAddAndGetServer(t *testing.T) {
	s, _, apiURL := newTestServer(t)
	addGitHubServer(t, s, apiURL)

	rec, envelope := doJSON(t, s, http.MethodGet, "/api/v1/servers/github", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, envelope.Success)

	status, ok := envelope.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "github", status["id"])
	assert.Equal(t, true, status["connected"])
	assert.Equal(t, float64(6), status["toolCount"])
}

func TestAddServerValidation(t *testing.T) {
	s, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/servers", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec2, envelope := doJSON(t, s, http.MethodPost, "/api/v1/servers", map[string]interface{}{
		"baseUrl": "http://localhost:3001/sse",
	})
	assert.Equal(t, http.StatusBadRequest, rec2.Code)
	assert.False(t, envelope.Success)
	assert.Contains(t, envelope.Error, "name")
}

func TestGetUnknownServer(t *testing.T) {
	s, _, _ := newTestServer(t)
	rec, envelope := doJSON(t, s, http.MethodGet, "/api/v1/servers/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.False(t, envelope.Success)
}

func TestUpdateServer(t *testing.T) {
	s, _, apiURL := newTestServer(t)
	addGitHubServer(t, s, apiURL)

	enabled := false
	rec, envelope := doJSON(t, s, http.MethodPut, "/api/v1/servers/github", map[string]interface{}{
		"enabled": enabled,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, envelope.Success)

	status, ok := envelope.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, false, status["enabled"])
	assert.Equal(t, false, status["connected"])

	rec, _ = doJSON(t, s, http.MethodPut, "/api/v1/servers/missing", map[string]interface{}{"enabled": true})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteServer(t *testing.T) {
	s, _, apiURL := newTestServer(t)
	addGitHubServer(t, s, apiURL)

	rec, envelope := doJSON(t, s, http.MethodDelete, "/api/v1/servers/github", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, envelope.Success)

	rec, _ = doJSON(t, s, http.MethodDelete, "/api/v1/servers/github", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMethodNotAllowed(t *testing.T) {
	s, _, _ := newTestServer(t)
	rec, envelope := doJSON(t, s, http.MethodDelete, "/api/v1/servers", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.False(t, envelope.Success)
}

func TestRefreshServer(t *testing.T) {
	s, _, apiURL := newTestServer(t)
	addGitHubServer(t, s, apiURL)

	rec, envelope := doJSON(t, s, http.MethodPost, "/api/v1/servers/github/refresh", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, envelope.Success)

	rec, _ = doJSON(t, s, http.MethodPost, "/api/v1/servers/missing/refresh", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListTools(t *testing.T) {
	s, _, apiURL := newTestServer(t)
	addGitHubServer(t, s, apiURL)

	rec, envelope := doJSON(t, s, http.MethodGet, "/api/v1/tools", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, envelope.Success)

	data, ok := envelope.Data.(map[string]interface{})
	require.True(t, ok)
	toolList, ok := data["tools"].([]interface{})
	require.True(t, ok)
	assert.Len(t, toolList, 6)

	first, ok := toolList[0].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "github_api", first["name"], "tools are sorted by name")
	assert.NotEmpty(t, data["description"])
}

func TestCallTool(t *testing.T) {
	s, _, apiURL := newTestServer(t)
	addGitHubServer(t, s, apiURL)

	rec, envelope := doJSON(t, s, http.MethodPost, "/api/v1/tools/call", map[string]interface{}{
		"name": "github_get_user",
	})
	require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())
	require.True(t, envelope.Success)

	data, ok := envelope.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, data["result"], "octocat")
}

func TestCallToolErrors(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec, _ := doJSON(t, s, http.MethodPost, "/api/v1/tools/call", map[string]interface{}{
		"name": "no_such_tool",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = doJSON(t, s, http.MethodPost, "/api/v1/tools/call", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChatProcess(t *testing.T) {
	s, _, apiURL := newTestServer(t)
	addGitHubServer(t, s, apiURL)

	rec, envelope := doJSON(t, s, http.MethodPost, "/api/v1/chat/process", map[string]interface{}{
		"message": `Checking: <tool name="github_get_user" input="getUser">who am I</tool>`,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, envelope.Success)

	data, ok := envelope.Data.(map[string]interface{})
	require.True(t, ok)
	text, _ := data["text"].(string)
	assert.Contains(t, text, `<tool-result name="github_get_user">`)
	assert.Contains(t, text, "octocat")

	calls, ok := data["toolCalls"].([]interface{})
	require.True(t, ok)
	assert.Len(t, calls, 1)
}

func TestDiscoverClosedPort(t *testing.T) {
	s, _, _ := newTestServer(t)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := listener.Addr().(*net.TCPAddr).Port
	require.NoError(t, listener.Close())

	rec, envelope := doJSON(t, s, http.MethodPost, "/api/v1/discover", map[string]interface{}{
		"port": port,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, envelope.Success)

	results, ok := envelope.Data.([]interface{})
	require.True(t, ok)
	require.Len(t, results, 2)
	for _, raw := range results {
		result, ok := raw.(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, false, result["available"])
	}
}
