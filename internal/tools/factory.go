// Package tools turns live server adapters into callable tool objects and
// renders the capability manifest injected into the LLM system prompt.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mcpbridge/mcpbridge-go/internal/adapter"
	"github.com/mcpbridge/mcpbridge-go/internal/observability"
	"github.com/mcpbridge/mcpbridge-go/internal/registry"
)

// Tool is one callable capability exposed to the tool-call layer. Execute
// always returns a string payload; structured results are JSON-encoded.
type Tool struct {
	Name        string
	ServerID    string
	Description string
	InputSchema map[string]interface{}
	Execute     func(ctx context.Context, args map[string]interface{}) (string, error)
}

// CallObserver receives telemetry for every tool execution, successful or not.
type CallObserver func(serverID, toolName string, args map[string]interface{}, duration time.Duration, err error)

// Factory builds the tool map from whatever adapters are currently enabled.
// It holds no tool state itself; every CreateTools call reflects the live
// registry.
type Factory struct {
	registry *registry.Registry
	metrics  *observability.Metrics
	logger   *zap.Logger
	observer CallObserver
}

// NewFactory wires a tool factory over the registry.
func NewFactory(reg *registry.Registry, metrics *observability.Metrics, logger *zap.Logger) *Factory {
	return &Factory{
		registry: reg,
		metrics:  metrics,
		logger:   logger,
	}
}

// SetObserver installs an optional per-call telemetry callback. Must be set
// before CreateTools; tools capture the observer at creation time.
func (f *Factory) SetObserver(observer CallObserver) {
	f.observer = observer
}

// ExposedName applies the naming rule: serverID_toolName, unless the tool
// already carries the server's prefix (GitHub tools declare their own).
func ExposedName(serverID, toolName string) string {
	if strings.HasPrefix(toolName, serverID+"_") {
		return toolName
	}
	return serverID + "_" + toolName
}

// CreateTools collects tool descriptors from every enabled adapter and wraps
// each in a callable Tool. Adapters whose discovery fails are skipped with a
// warning; one broken server never hides the others' tools.
func (f *Factory) CreateTools(ctx context.Context) map[string]*Tool {
	out := make(map[string]*Tool)

	for _, a := range f.registry.GetEnabled() {
		serverID := a.GetConfig().ID
		descriptors, err := a.GetToolDefinitions(ctx)
		if err != nil {
			f.logger.Warn("Skipping server with failed tool discovery",
				zap.String("server", serverID),
				zap.Error(err))
			continue
		}

		for _, descriptor := range descriptors {
			name := ExposedName(serverID, descriptor.Name)
			out[name] = f.buildTool(a, serverID, name, descriptor.Name, descriptor.Description, descriptor.InputSchema)
		}
	}

	f.logger.Debug("Built tool map", zap.Int("tools", len(out)))
	return out
}

func (f *Factory) buildTool(a adapter.ServerAdapter, serverID, exposedName, originalName, description string, schema map[string]interface{}) *Tool {
	observer := f.observer
	metrics := f.metrics
	logger := f.logger

	return &Tool{
		Name:        exposedName,
		ServerID:    serverID,
		Description: description,
		InputSchema: schema,
		Execute: func(ctx context.Context, args map[string]interface{}) (string, error) {
			start := time.Now()
			result, err := a.ExecuteToolCall(ctx, originalName, args)
			duration := time.Since(start)

			if metrics != nil {
				metrics.ObserveToolCall(serverID, exposedName, err, duration)
			}
			if observer != nil {
				observer(serverID, exposedName, args, duration, err)
			}
			if err != nil {
				logger.Warn("Tool call failed",
					zap.String("tool", exposedName),
					zap.Duration("duration", duration),
					zap.Error(err))
				return "", err
			}
			logger.Debug("Tool call succeeded",
				zap.String("tool", exposedName),
				zap.Duration("duration", duration))
			return stringifyResult(result)
		},
	}
}

// stringifyResult reduces a tool result to a string. Plain strings pass
// through; everything else is pretty-printed JSON.
func stringifyResult(result interface{}) (string, error) {
	switch v := result.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	default:
		encoded, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return "", fmt.Errorf("failed to encode tool result: %w", err)
		}
		return string(encoded), nil
	}
}

// GenerateToolDescription renders the capability manifest: one section per
// enabled server with tools, servers sorted by id, tools in declared order,
// required parameters marked, and a fixed usage footer. Returns the empty
// string when no enabled server exposes tools, which suppresses the prompt
// section entirely.
func (f *Factory) GenerateToolDescription(ctx context.Context) string {
	adapters := f.registry.GetEnabled()
	sort.Slice(adapters, func(i, j int) bool {
		return adapters[i].GetConfig().ID < adapters[j].GetConfig().ID
	})

	var sections []string
	for _, a := range adapters {
		cfg := a.GetConfig()
		descriptors, err := a.GetToolDefinitions(ctx)
		if err != nil || len(descriptors) == 0 {
			continue
		}

		var b strings.Builder
		fmt.Fprintf(&b, "## %s\n", cfg.Name)
		for _, descriptor := range descriptors {
			fmt.Fprintf(&b, "- %s: %s\n", ExposedName(cfg.ID, descriptor.Name), descriptor.Description)
			if params := describeParameters(descriptor.InputSchema); params != "" {
				fmt.Fprintf(&b, "  Parameters: %s\n", params)
			}
		}
		sections = append(sections, b.String())
	}

	if len(sections) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("You have access to the following tools:\n\n")
	b.WriteString(strings.Join(sections, "\n"))
	b.WriteString("\nTo call a tool, emit a tag of the form:\n")
	b.WriteString(`<tool name="TOOL_NAME" input="INPUT">brief description of why</tool>` + "\n")
	b.WriteString(`GitHub tools accept a functional input syntax, e.g. input="searchRepositories('react')".` + "\n")
	return b.String()
}

// describeParameters flattens a JSON-schema object into "name (type,
// required), ..." in sorted property order.
func describeParameters(schema map[string]interface{}) string {
	if schema == nil {
		return ""
	}
	props, _ := schema["properties"].(map[string]interface{})
	if len(props) == 0 {
		return ""
	}

	required := make(map[string]bool)
	switch list := schema["required"].(type) {
	case []string:
		for _, name := range list {
			required[name] = true
		}
	case []interface{}:
		for _, name := range list {
			if s, ok := name.(string); ok {
				required[s] = true
			}
		}
	}

	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		typeName := "any"
		if prop, ok := props[name].(map[string]interface{}); ok {
			if t, ok := prop["type"].(string); ok && t != "" {
				typeName = t
			}
		}
		if required[name] {
			parts = append(parts, fmt.Sprintf("%s (%s, required)", name, typeName))
		} else {
			parts = append(parts, fmt.Sprintf("%s (%s)", name, typeName))
		}
	}
	return strings.Join(parts, ", ")
}
