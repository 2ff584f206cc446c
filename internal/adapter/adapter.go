// Package adapter implements the uniform server contract over external
// MCP-compatible services. Two variants exist: a GitHub REST adapter with a
// fixed, hand-declared tool set, and a standard adapter that performs live
// MCP tool discovery over SSE.
package adapter

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mcpbridge/mcpbridge-go/internal/config"
	"github.com/mcpbridge/mcpbridge-go/internal/contracts"
)

const (
	// ConnectTestTimeout bounds a single connection probe.
	ConnectTestTimeout = 5 * time.Second
	// InitializeTimeout bounds the initial MCP connect handshake.
	InitializeTimeout = 10 * time.Second
)

// ServerAdapter is the uniform contract wrapping one external server.
// Implementations degrade to a disconnected state on failure; Initialize and
// TestConnection never panic and never return errors to the caller.
type ServerAdapter interface {
	// Initialize establishes and verifies connectivity. On failure it leaves
	// the adapter disabled (missing credential) or disconnected (credential
	// present but unreachable), logging instead of failing.
	Initialize(ctx context.Context)

	// TestConnection performs one bounded-time network probe. It must not
	// mutate persisted configuration; it may cache identity metadata.
	TestConnection(ctx context.Context) contracts.ConnectionStatus

	// GetToolDefinitions returns the tools this server exposes.
	GetToolDefinitions(ctx context.Context) ([]contracts.ToolDescriptor, error)

	// ExecuteToolCall invokes a named tool with structured arguments.
	ExecuteToolCall(ctx context.Context, name string, args map[string]interface{}) (interface{}, error)

	// GetConfig returns a copy of the adapter's configuration.
	GetConfig() *config.ServerConfig

	// UpdateConfig merges a partial update into the adapter's configuration.
	// Credential changes take effect immediately.
	UpdateConfig(update config.ServerUpdate)
}

// base holds the state shared by both adapter variants: a private copy of the
// server configuration plus connection bookkeeping.
type base struct {
	mu        sync.RWMutex
	cfg       *config.ServerConfig
	logger    *zap.Logger
	connected bool
}

func newBase(cfg *config.ServerConfig, logger *zap.Logger) base {
	return base{
		cfg:    cfg.Clone(),
		logger: logger.With(zap.String("server", cfg.ID)),
	}
}

// GetConfig returns a copy of the adapter's configuration.
func (b *base) GetConfig() *config.ServerConfig {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.cfg.Clone()
}

// applyUpdate merges non-nil fields of the update into the config copy and
// reports whether the auth token changed.
func (b *base) applyUpdate(update config.ServerUpdate) (tokenChanged bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if update.Name != nil {
		b.cfg.Name = *update.Name
	}
	if update.BaseURL != nil {
		b.cfg.BaseURL = *update.BaseURL
	}
	if update.Enabled != nil {
		b.cfg.Enabled = *update.Enabled
	}
	if update.Auth != nil {
		oldToken := b.cfg.Token()
		auth := *update.Auth
		b.cfg.Auth = &auth
		tokenChanged = auth.Token != oldToken
	}
	b.cfg.Updated = time.Now().UTC()
	return tokenChanged
}

func (b *base) setConnected(connected bool) {
	b.mu.Lock()
	b.connected = connected
	b.mu.Unlock()
}

func (b *base) isConnected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.connected
}

func (b *base) setEnabled(enabled bool) {
	b.mu.Lock()
	b.cfg.Enabled = enabled
	b.mu.Unlock()
}
