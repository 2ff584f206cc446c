package runtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mcpbridge/mcpbridge-go/internal/config"
	"github.com/mcpbridge/mcpbridge-go/internal/registry"
	"github.com/mcpbridge/mcpbridge-go/internal/storage"
)

func newTestManager(t *testing.T) (*Manager, *registry.Registry, *storage.Store) {
	t.Helper()
	logger := zap.NewNop()

	store, err := storage.NewStore(t.TempDir(), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	reg := registry.New(logger)
	m := NewManager(reg, store, nil, time.Minute, logger)
	t.Cleanup(m.Stop)
	return m, reg, store
}

// fakeGitHub stands in for api.github.com and counts every request.
func fakeGitHub(t *testing.T) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"login":"octocat"}`))
	}))
	t.Cleanup(server.Close)
	return server, &hits
}

func githubAuth() *config.AuthConfig {
	return &config.AuthConfig{Type: "bearer", Token: "test-token"}
}

func TestAddServerRegistersAndPersists(t *testing.T) {
	m, reg, store := newTestManager(t)
	api, _ := fakeGitHub(t)

	status, err := m.AddServer(context.Background(), "GitHub", api.URL, true, githubAuth())
	require.NoError(t, err)
	require.NotNil(t, status)

	assert.Equal(t, config.GitHubServerID, status.ID)
	assert.True(t, status.Connected)
	assert.Equal(t, 6, status.ToolCount)
	assert.Equal(t, 1, reg.Len())

	persisted, err := store.LoadServers()
	require.NoError(t, err)
	require.Len(t, persisted, 1)
	assert.Equal(t, config.GitHubServerID, persisted[0].ID)
	assert.Equal(t, config.KindGitHub, persisted[0].Kind)
}

func TestAddServerRejectsDuplicateID(t *testing.T) {
	m, _, _ := newTestManager(t)
	api, _ := fakeGitHub(t)

	_, err := m.AddServer(context.Background(), "GitHub", api.URL, true, githubAuth())
	require.NoError(t, err)

	_, err = m.AddServer(context.Background(), "GitHub", api.URL, true, githubAuth())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

func TestAddServerRejectsEmptyName(t *testing.T) {
	m, _, _ := newTestManager(t)
	_, err := m.AddServer(context.Background(), "", "http://example.com", true, nil)
	require.Error(t, err)
}

func TestDisabledServerSkipsNetworkCall(t *testing.T) {
	m, _, _ := newTestManager(t)
	api, hits := fakeGitHub(t)

	_, err := m.AddServer(context.Background(), "GitHub", api.URL, true, githubAuth())
	require.NoError(t, err)
	baseline := hits.Load()

	require.NoError(t, m.SetServerEnabled(context.Background(), config.GitHubServerID, false))
	afterDisable := hits.Load()

	// Repeated health checks of a disabled server must not touch the network.
	for i := 0; i < 3; i++ {
		status := m.CheckServerHealth(context.Background(), config.GitHubServerID)
		require.NotNil(t, status)
		assert.False(t, status.Connected)
		assert.Equal(t, 0, status.ToolCount)
		assert.Equal(t, "Disabled", status.StatusMessage)
	}
	assert.Equal(t, afterDisable, hits.Load())
	assert.Equal(t, baseline, afterDisable, "disabling itself must not probe")
}

func TestSetServerEnabledReconnects(t *testing.T) {
	m, _, _ := newTestManager(t)
	api, hits := fakeGitHub(t)

	_, err := m.AddServer(context.Background(), "GitHub", api.URL, true, githubAuth())
	require.NoError(t, err)

	require.NoError(t, m.SetServerEnabled(context.Background(), config.GitHubServerID, false))
	status, ok := m.GetStatus(config.GitHubServerID)
	require.True(t, ok)
	assert.False(t, status.Connected)

	before := hits.Load()
	require.NoError(t, m.SetServerEnabled(context.Background(), config.GitHubServerID, true))
	status, ok = m.GetStatus(config.GitHubServerID)
	require.True(t, ok)
	assert.True(t, status.Connected)
	assert.Equal(t, 6, status.ToolCount)
	assert.Greater(t, hits.Load(), before, "enabling triggers a real probe")
}

func TestSetServerEnabledUnknownID(t *testing.T) {
	m, _, _ := newTestManager(t)
	err := m.SetServerEnabled(context.Background(), "missing", true)
	require.Error(t, err)
}

func TestRemoveServerPersistsShrunkenSet(t *testing.T) {
	m, reg, store := newTestManager(t)
	api, _ := fakeGitHub(t)

	_, err := m.AddServer(context.Background(), "GitHub", api.URL, true, githubAuth())
	require.NoError(t, err)
	require.NoError(t, m.RemoveServer(config.GitHubServerID))

	assert.Equal(t, 0, reg.Len())
	_, ok := m.GetStatus(config.GitHubServerID)
	assert.False(t, ok)

	persisted, err := store.LoadServers()
	require.NoError(t, err)
	assert.Empty(t, persisted)

	require.Error(t, m.RemoveServer(config.GitHubServerID))
}

func TestStatusChangeEmission(t *testing.T) {
	m, reg, _ := newTestManager(t)
	api, _ := fakeGitHub(t)

	var events atomic.Int64
	reg.Subscribe(registry.EventStatusChanged, func(registry.Event) {
		events.Add(1)
	})

	_, err := m.AddServer(context.Background(), "GitHub", api.URL, true, githubAuth())
	require.NoError(t, err)
	first := events.Load()
	assert.GreaterOrEqual(t, first, int64(1), "first check always emits")

	// Identical re-checks only move lastChecked, which is excluded from the
	// change comparison.
	m.CheckServerHealth(context.Background(), config.GitHubServerID)
	m.CheckServerHealth(context.Background(), config.GitHubServerID)
	assert.Equal(t, first, events.Load())

	// Disconnect transition always emits.
	require.NoError(t, m.SetServerEnabled(context.Background(), config.GitHubServerID, false))
	assert.Greater(t, events.Load(), first)
}

func TestLastCheckedMonotonic(t *testing.T) {
	m, _, _ := newTestManager(t)
	api, _ := fakeGitHub(t)

	_, err := m.AddServer(context.Background(), "GitHub", api.URL, true, githubAuth())
	require.NoError(t, err)

	var prev time.Time
	for i := 0; i < 5; i++ {
		status := m.CheckServerHealth(context.Background(), config.GitHubServerID)
		require.NotNil(t, status)
		assert.True(t, status.LastChecked.After(prev),
			"lastChecked must strictly advance between checks")
		prev = status.LastChecked
	}
}

func TestBootstrapMergesPersistedAndSeed(t *testing.T) {
	logger := zap.NewNop()
	dataDir := t.TempDir()
	api, _ := fakeGitHub(t)

	store, err := storage.NewStore(dataDir, logger)
	require.NoError(t, err)

	// First run: one server added via the API, then a clean shutdown.
	reg := registry.New(logger)
	m := NewManager(reg, store, nil, time.Minute, logger)
	_, err = m.AddServer(context.Background(), "GitHub", api.URL, true, githubAuth())
	require.NoError(t, err)
	m.Stop()
	require.NoError(t, store.Close())

	// Second run: the persisted server comes back, and a seed entry with the
	// same id overrides the stored one.
	store, err = storage.NewStore(dataDir, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	reg = registry.New(logger)
	m = NewManager(reg, store, nil, time.Minute, logger)
	t.Cleanup(m.Stop)

	seed := config.NewServerConfig("GitHub", api.URL, true, &config.AuthConfig{Type: "bearer", Token: "rotated-token"})
	require.NoError(t, m.Bootstrap(context.Background(), []*config.ServerConfig{seed}))

	assert.Equal(t, 1, reg.Len())
	a, ok := reg.Get(config.GitHubServerID)
	require.True(t, ok)
	assert.Equal(t, "rotated-token", a.GetConfig().Token(), "seed entry wins over persisted")

	status, ok := m.GetStatus(config.GitHubServerID)
	require.True(t, ok)
	assert.True(t, status.Connected)
}

func TestUpdateServerRechecksHealth(t *testing.T) {
	m, _, _ := newTestManager(t)
	api, hits := fakeGitHub(t)

	_, err := m.AddServer(context.Background(), "GitHub", api.URL, true, githubAuth())
	require.NoError(t, err)

	before := hits.Load()
	newName := "GitHub Cloud"
	require.NoError(t, m.UpdateServer(context.Background(), config.GitHubServerID, config.ServerUpdate{Name: &newName}))

	a, ok := m.Registry().Get(config.GitHubServerID)
	require.True(t, ok)
	assert.Equal(t, "GitHub Cloud", a.GetConfig().Name)
	assert.Greater(t, hits.Load(), before, "updates force an immediate re-check")
}

func TestRefreshAllChecksEverything(t *testing.T) {
	m, _, _ := newTestManager(t)
	api, hits := fakeGitHub(t)

	_, err := m.AddServer(context.Background(), "GitHub", api.URL, true, githubAuth())
	require.NoError(t, err)

	before := hits.Load()
	m.RefreshAll(context.Background())
	assert.Greater(t, hits.Load(), before)
}

func TestGetAllStatusesSorted(t *testing.T) {
	m, _, _ := newTestManager(t)
	api, _ := fakeGitHub(t)

	_, err := m.AddServer(context.Background(), "Zeta Tools", api.URL+"/mcp", false, nil)
	require.NoError(t, err)
	_, err = m.AddServer(context.Background(), "Alpha Tools", api.URL+"/mcp", false, nil)
	require.NoError(t, err)

	statuses := m.GetAllStatuses()
	require.Len(t, statuses, 2)
	assert.Equal(t, "alpha-tools", statuses[0].ID)
	assert.Equal(t, "zeta-tools", statuses[1].ID)
}
