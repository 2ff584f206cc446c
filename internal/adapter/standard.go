package adapter

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/mcpbridge/mcpbridge-go/internal/config"
	"github.com/mcpbridge/mcpbridge-go/internal/contracts"
)

// StandardAdapter wraps a generic MCP-compatible server reached over SSE.
// Tools are discovered live from the remote server and cached until the next
// reconnect.
type StandardAdapter struct {
	base
	client *client.Client             // guarded by base.mu
	tools  []contracts.ToolDescriptor // discovery cache, guarded by base.mu
}

// NewStandardAdapter constructs the generic SSE-based adapter.
func NewStandardAdapter(cfg *config.ServerConfig, logger *zap.Logger) *StandardAdapter {
	return &StandardAdapter{
		base: newBase(cfg, logger),
	}
}

// Initialize connects to the remote server with a bounded handshake timeout.
// Failures degrade the adapter to disconnected and are logged, never returned.
func (a *StandardAdapter) Initialize(ctx context.Context) {
	cfg := a.GetConfig()
	if !cfg.Enabled {
		a.setConnected(false)
		return
	}
	if cfg.BaseURL == "" {
		a.setConnected(false)
		a.logger.Warn("Standard adapter has no base URL, leaving disconnected")
		return
	}

	ctx, cancel := context.WithTimeout(ctx, InitializeTimeout)
	defer cancel()

	if err := a.connect(ctx); err != nil {
		a.setConnected(false)
		a.logger.Warn("Failed to connect to MCP server",
			zap.String("url", cfg.BaseURL),
			zap.Error(err))
		return
	}
	a.logger.Info("Connected to MCP server", zap.String("url", cfg.BaseURL))
}

// connect establishes a fresh SSE client, runs the MCP handshake, and clears
// the tool discovery cache.
func (a *StandardAdapter) connect(ctx context.Context) error {
	cfg := a.GetConfig()

	var opts []transport.ClientOption
	if token := cfg.Token(); token != "" {
		opts = append(opts, client.WithHeaders(map[string]string{
			"Authorization": "Bearer " + token,
		}))
	}

	sseClient, err := client.NewSSEMCPClient(cfg.BaseURL, opts...)
	if err != nil {
		return fmt.Errorf("failed to create SSE client: %w", err)
	}

	// Start with a persistent context so the SSE stream keeps running after
	// the bounded connect context expires; only the handshake is bounded.
	if err := sseClient.Start(context.Background()); err != nil {
		return fmt.Errorf("failed to start SSE transport: %w", err)
	}

	initRequest := mcp.InitializeRequest{}
	initRequest.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initRequest.Params.ClientInfo = mcp.Implementation{
		Name:    "mcpbridge",
		Version: "1.0.0",
	}
	initRequest.Params.Capabilities = mcp.ClientCapabilities{}

	if _, err := sseClient.Initialize(ctx, initRequest); err != nil {
		_ = sseClient.Close()
		return fmt.Errorf("MCP initialize handshake failed: %w", err)
	}

	a.mu.Lock()
	if a.client != nil {
		_ = a.client.Close()
	}
	a.client = sseClient
	a.tools = nil // re-discover after reconnect
	a.connected = true
	a.mu.Unlock()
	return nil
}

// TestConnection probes the remote server. When connected it pings the MCP
// session; otherwise it attempts a fresh connect within the probe timeout.
func (a *StandardAdapter) TestConnection(ctx context.Context) contracts.ConnectionStatus {
	ctx, cancel := context.WithTimeout(ctx, ConnectTestTimeout)
	defer cancel()

	a.mu.RLock()
	mcpClient := a.client
	a.mu.RUnlock()

	if mcpClient != nil {
		if err := mcpClient.Ping(ctx); err == nil {
			return contracts.ConnectionStatus{Success: true, Message: "MCP server responding"}
		}
		// Session went stale; fall through to reconnect.
	}

	if err := a.connect(ctx); err != nil {
		return contracts.ConnectionStatus{Success: false, Message: err.Error()}
	}
	return contracts.ConnectionStatus{Success: true, Message: "Connected to MCP server"}
}

// GetToolDefinitions performs live discovery against the remote server,
// caching the result until the next reconnect.
func (a *StandardAdapter) GetToolDefinitions(ctx context.Context) ([]contracts.ToolDescriptor, error) {
	a.mu.RLock()
	mcpClient := a.client
	cached := a.tools
	a.mu.RUnlock()

	if cached != nil {
		return cached, nil
	}
	if mcpClient == nil {
		return nil, &ConnectivityError{ServerID: a.GetConfig().ID, Err: fmt.Errorf("not connected")}
	}

	result, err := mcpClient.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("failed to list tools: %w", err)
	}

	tools := make([]contracts.ToolDescriptor, 0, len(result.Tools))
	for i := range result.Tools {
		tool := &result.Tools[i]
		descriptor := contracts.ToolDescriptor{
			Name:        tool.Name,
			Description: tool.Description,
		}
		if schema := tool.InputSchema; schema.Type != "" || len(schema.Properties) > 0 {
			descriptor.InputSchema = map[string]interface{}{
				"type":       schema.Type,
				"properties": schema.Properties,
			}
			if len(schema.Required) > 0 {
				descriptor.InputSchema["required"] = schema.Required
			}
		}
		tools = append(tools, descriptor)
	}

	a.mu.Lock()
	a.tools = tools
	a.mu.Unlock()

	a.logger.Debug("Discovered tools from MCP server", zap.Int("count", len(tools)))
	return tools, nil
}

// ExecuteToolCall invokes a remote tool through the MCP session.
func (a *StandardAdapter) ExecuteToolCall(ctx context.Context, name string, args map[string]interface{}) (interface{}, error) {
	a.mu.RLock()
	mcpClient := a.client
	a.mu.RUnlock()

	if mcpClient == nil {
		return nil, &ConnectivityError{ServerID: a.GetConfig().ID, Err: fmt.Errorf("not connected")}
	}

	request := mcp.CallToolRequest{}
	request.Params.Name = name
	request.Params.Arguments = args

	result, err := mcpClient.CallTool(ctx, request)
	if err != nil {
		return nil, fmt.Errorf("tool %s failed: %w", name, err)
	}
	if result.IsError {
		return nil, fmt.Errorf("tool %s returned an error: %s", name, flattenContent(result))
	}
	return flattenContent(result), nil
}

// UpdateConfig merges the partial update; a token change forces a reconnect
// on the next health check by dropping the current session.
func (a *StandardAdapter) UpdateConfig(update config.ServerUpdate) {
	if a.applyUpdate(update) {
		a.mu.Lock()
		if a.client != nil {
			_ = a.client.Close()
			a.client = nil
		}
		a.tools = nil
		a.connected = false
		a.mu.Unlock()
		a.logger.Info("Credential changed, dropped MCP session")
	}
}

// Close tears down the MCP session.
func (a *StandardAdapter) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.client != nil {
		_ = a.client.Close()
		a.client = nil
	}
	a.connected = false
}

// flattenContent reduces a tool result to its text payload where possible.
func flattenContent(result *mcp.CallToolResult) string {
	var out string
	for _, content := range result.Content {
		if text, ok := mcp.AsTextContent(content); ok {
			if out != "" {
				out += "\n"
			}
			out += text.Text
		}
	}
	return out
}
