// Package runtime orchestrates the server registry: periodic health checks,
// status bookkeeping, configuration CRUD, persistence, and local discovery.
package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mcpbridge/mcpbridge-go/internal/adapter"
	"github.com/mcpbridge/mcpbridge-go/internal/config"
	"github.com/mcpbridge/mcpbridge-go/internal/contracts"
	"github.com/mcpbridge/mcpbridge-go/internal/observability"
	"github.com/mcpbridge/mcpbridge-go/internal/registry"
	"github.com/mcpbridge/mcpbridge-go/internal/storage"
)

// DefaultHealthCheckInterval is the global health-check cadence.
const DefaultHealthCheckInterval = 30 * time.Second

// Manager layers health checking, persistence, and CRUD semantics on top of
// the registry. One instance is constructed per application and injected
// where needed; there is no package-level singleton.
type Manager struct {
	registry *registry.Registry
	store    *storage.Store
	metrics  *observability.Metrics
	logger   *zap.Logger
	interval time.Duration

	mu        sync.RWMutex
	statuses  map[string]*contracts.ServerStatus
	snapshots map[string][]byte // serialized status per server, for change detection

	timerMu      sync.Mutex
	serverTimers map[string]context.CancelFunc // per-server timers for dynamic adds

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager wires a manager over the given registry and settings store.
func NewManager(reg *registry.Registry, store *storage.Store, metrics *observability.Metrics, interval time.Duration, logger *zap.Logger) *Manager {
	if interval <= 0 {
		interval = DefaultHealthCheckInterval
	}
	m := &Manager{
		registry:     reg,
		store:        store,
		metrics:      metrics,
		logger:       logger,
		interval:     interval,
		statuses:     make(map[string]*contracts.ServerStatus),
		snapshots:    make(map[string][]byte),
		serverTimers: make(map[string]context.CancelFunc),
	}

	// Status records track registry membership: created on added, dropped on
	// removed.
	reg.Subscribe(registry.EventAdded, func(e registry.Event) { m.ensureStatus(e.ServerID) })
	reg.Subscribe(registry.EventUpdated, func(e registry.Event) { m.ensureStatus(e.ServerID) })
	reg.Subscribe(registry.EventRemoved, func(e registry.Event) { m.dropStatus(e.ServerID) })

	return m
}

// Registry returns the underlying registry.
func (m *Manager) Registry() *registry.Registry {
	return m.registry
}

// Bootstrap registers the given server configurations on top of whatever was
// persisted, initializes every adapter, runs a first health pass, and saves
// the merged set. Seed entries (config file, environment) win over persisted
// entries with the same id.
func (m *Manager) Bootstrap(ctx context.Context, seed []*config.ServerConfig) error {
	persisted, err := m.store.LoadServers()
	if err != nil {
		return fmt.Errorf("failed to load persisted servers: %w", err)
	}

	merged := make(map[string]*config.ServerConfig, len(persisted)+len(seed))
	order := make([]string, 0, len(persisted)+len(seed))
	for _, cfg := range persisted {
		if _, ok := merged[cfg.ID]; !ok {
			order = append(order, cfg.ID)
		}
		merged[cfg.ID] = cfg
	}
	for _, cfg := range seed {
		if _, ok := merged[cfg.ID]; !ok {
			order = append(order, cfg.ID)
		}
		merged[cfg.ID] = cfg
	}

	for _, id := range order {
		m.registry.Register(adapter.New(merged[id], m.logger))
	}

	m.registry.InitializeAll(ctx)
	m.checkAll(ctx)

	if err := m.persist(); err != nil {
		return err
	}
	m.logger.Info("Runtime manager bootstrapped",
		zap.Int("servers", m.registry.Len()))
	return nil
}

// Start launches the global health-check loop. Stop cancels it.
func (m *Manager) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.checkAll(ctx)
			}
		}
	}()
	m.logger.Info("Health-check loop started", zap.Duration("interval", m.interval))
}

// Stop cancels the health-check loop and any per-server timers, then waits
// for them to finish.
func (m *Manager) Stop() {
	m.timerMu.Lock()
	for id, cancel := range m.serverTimers {
		cancel()
		delete(m.serverTimers, id)
	}
	m.timerMu.Unlock()

	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

// checkAll health-checks every registered server in sequence.
func (m *Manager) checkAll(ctx context.Context) {
	for _, a := range m.registry.GetAll() {
		m.CheckServerHealth(ctx, a.GetConfig().ID)
	}
	m.updateGauges()
}

// CheckServerHealth probes one server and updates its derived status.
// Disabled servers are reported disconnected without a network call. A
// status-changed event is emitted only when the serialized status actually
// differs from the previous snapshot; connect/disconnect transitions always
// count as a difference.
func (m *Manager) CheckServerHealth(ctx context.Context, id string) *contracts.ServerStatus {
	a, ok := m.registry.Get(id)
	if !ok {
		return nil
	}
	cfg := a.GetConfig()

	status := &contracts.ServerStatus{
		ID:          cfg.ID,
		Name:        cfg.Name,
		BaseURL:     cfg.BaseURL,
		Enabled:     cfg.Enabled,
		LastChecked: m.nextCheckTime(id),
	}

	if !cfg.Enabled {
		status.Connected = false
		status.ToolCount = 0
		status.StatusMessage = "Disabled"
	} else {
		probe := a.TestConnection(ctx)
		if m.metrics != nil {
			m.metrics.ObserveHealthCheck(cfg.ID, probe.Success)
		}
		if probe.Success {
			status.Connected = true
			status.StatusMessage = probe.Message
			tools, err := a.GetToolDefinitions(ctx)
			if err != nil {
				status.ToolCount = 0
				status.ErrorMessage = fmt.Sprintf("tool discovery failed: %v", err)
			} else {
				status.ToolCount = len(tools)
			}
		} else {
			status.Connected = false
			status.ToolCount = 0
			status.ErrorMessage = probe.Message
		}
	}

	m.storeStatus(status)
	return snapshotStatus(status)
}

// nextCheckTime returns a LastChecked value strictly after the previous one,
// keeping the per-server timestamp monotonic even with a coarse clock.
func (m *Manager) nextCheckTime(id string) time.Time {
	now := time.Now().UTC()
	m.mu.RLock()
	prev, ok := m.statuses[id]
	m.mu.RUnlock()
	if ok && !now.After(prev.LastChecked) {
		return prev.LastChecked.Add(time.Nanosecond)
	}
	return now
}

// storeStatus swaps in the new status atomically and emits a status-changed
// event when the snapshot differs from the previous one.
func (m *Manager) storeStatus(status *contracts.ServerStatus) {
	serialized, err := json.Marshal(status)
	if err != nil {
		m.logger.Error("Failed to serialize server status", zap.Error(err))
		serialized = nil
	}

	m.mu.Lock()
	prev := m.statuses[status.ID]
	prevSnapshot := m.snapshots[status.ID]
	m.statuses[status.ID] = status
	m.snapshots[status.ID] = serialized
	m.mu.Unlock()

	transition := prev != nil && prev.Connected != status.Connected
	// LastChecked moves every run, so strip it from the comparison by
	// comparing against the previous snapshot with the same field zeroed.
	changed := prevSnapshot == nil || !statusEquivalent(prevSnapshot, serialized)

	if transition || changed {
		if transition {
			m.logger.Info("Server connection state changed",
				zap.String("id", status.ID),
				zap.Bool("connected", status.Connected))
		}
		m.registry.UpdateStatus(status.ID, snapshotStatus(status))
	}
}

// statusEquivalent compares two serialized statuses ignoring lastChecked.
func statusEquivalent(a, b []byte) bool {
	var sa, sb contracts.ServerStatus
	if json.Unmarshal(a, &sa) != nil || json.Unmarshal(b, &sb) != nil {
		return bytes.Equal(a, b)
	}
	sa.LastChecked = time.Time{}
	sb.LastChecked = time.Time{}
	ra, _ := json.Marshal(sa)
	rb, _ := json.Marshal(sb)
	return bytes.Equal(ra, rb)
}

// ensureStatus creates an initial status record for a newly registered server.
func (m *Manager) ensureStatus(id string) {
	a, ok := m.registry.Get(id)
	if !ok {
		return
	}
	cfg := a.GetConfig()

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.statuses[id]; exists {
		return
	}
	m.statuses[id] = &contracts.ServerStatus{
		ID:            cfg.ID,
		Name:          cfg.Name,
		BaseURL:       cfg.BaseURL,
		Enabled:       cfg.Enabled,
		StatusMessage: "Not checked yet",
	}
}

func (m *Manager) dropStatus(id string) {
	m.mu.Lock()
	delete(m.statuses, id)
	delete(m.snapshots, id)
	m.mu.Unlock()

	m.stopServerTimer(id)
}

// GetStatus returns a copy of one server's status.
func (m *Manager) GetStatus(id string) (*contracts.ServerStatus, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	status, ok := m.statuses[id]
	if !ok {
		return nil, false
	}
	return snapshotStatus(status), true
}

// GetAllStatuses returns copies of every server status, sorted by id.
func (m *Manager) GetAllStatuses() []*contracts.ServerStatus {
	m.mu.RLock()
	out := make([]*contracts.ServerStatus, 0, len(m.statuses))
	for _, status := range m.statuses {
		out = append(out, snapshotStatus(status))
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func snapshotStatus(status *contracts.ServerStatus) *contracts.ServerStatus {
	copied := *status
	return &copied
}

// AddServer creates, registers, initializes, and persists a new server. The
// id is derived from the sanitized name; an id collision is rejected.
func (m *Manager) AddServer(ctx context.Context, name, baseURL string, enabled bool, auth *config.AuthConfig) (*contracts.ServerStatus, error) {
	if name == "" {
		return nil, fmt.Errorf("server name must not be empty")
	}
	cfg := config.NewServerConfig(name, baseURL, enabled, auth)
	if cfg.ID == "" {
		return nil, fmt.Errorf("server name %q yields an empty id", name)
	}
	if _, exists := m.registry.Get(cfg.ID); exists {
		return nil, fmt.Errorf("server %q already exists", cfg.ID)
	}

	a := adapter.New(cfg, m.logger)
	m.registry.Register(a)
	a.Initialize(ctx)
	status := m.CheckServerHealth(ctx, cfg.ID)

	if err := m.persist(); err != nil {
		return nil, err
	}
	m.startServerTimer(cfg.ID)
	m.logger.Info("Added server",
		zap.String("id", cfg.ID),
		zap.String("kind", string(cfg.Kind)))
	return status, nil
}

// RemoveServer unregisters a server and persists the shrunken set.
func (m *Manager) RemoveServer(id string) error {
	if !m.registry.Unregister(id) {
		return fmt.Errorf("server %q not found", id)
	}
	return m.persist()
}

// SetServerEnabled flips the enabled flag and persists. Enabling triggers an
// immediate health check; disabling only clears the derived status.
func (m *Manager) SetServerEnabled(ctx context.Context, id string, enabled bool) error {
	a, ok := m.registry.Get(id)
	if !ok {
		return fmt.Errorf("server %q not found", id)
	}

	a.UpdateConfig(config.ServerUpdate{Enabled: &enabled})
	if err := m.persist(); err != nil {
		return err
	}

	// Enabling triggers a real probe; disabling re-derives the status without
	// a network call (CheckServerHealth short-circuits disabled servers).
	m.CheckServerHealth(ctx, id)
	m.updateGauges()
	return nil
}

// UpdateServer merges a partial update, persists, and re-checks health
// unconditionally.
func (m *Manager) UpdateServer(ctx context.Context, id string, update config.ServerUpdate) error {
	a, ok := m.registry.Get(id)
	if !ok {
		return fmt.Errorf("server %q not found", id)
	}

	a.UpdateConfig(update)
	if err := m.persist(); err != nil {
		return err
	}
	m.CheckServerHealth(ctx, id)
	return nil
}

// RefreshAll forces an immediate health pass over every server.
func (m *Manager) RefreshAll(ctx context.Context) {
	m.checkAll(ctx)
}

// persist serializes the full adapter set to the settings store. This is a
// full-replace write, not incremental.
func (m *Manager) persist() error {
	adapters := m.registry.GetAll()
	servers := make([]*config.ServerConfig, 0, len(adapters))
	for _, a := range adapters {
		servers = append(servers, a.GetConfig())
	}
	if err := m.store.SaveServers(servers); err != nil {
		return fmt.Errorf("failed to persist server configuration: %w", err)
	}
	return nil
}

func (m *Manager) updateGauges() {
	if m.metrics == nil {
		return
	}
	connected, tools := 0, 0
	for _, status := range m.GetAllStatuses() {
		if status.Connected {
			connected++
			tools += status.ToolCount
		}
	}
	m.metrics.SetServerGauges(connected, tools)
}

// startServerTimer launches a per-server health-check timer for dynamically
// added servers, independent of the global loop.
func (m *Manager) startServerTimer(id string) {
	m.timerMu.Lock()
	defer m.timerMu.Unlock()
	if _, exists := m.serverTimers[id]; exists {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.serverTimers[id] = cancel

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.CheckServerHealth(ctx, id)
			}
		}
	}()
}

func (m *Manager) stopServerTimer(id string) {
	m.timerMu.Lock()
	defer m.timerMu.Unlock()
	if cancel, exists := m.serverTimers[id]; exists {
		cancel()
		delete(m.serverTimers, id)
	}
}
