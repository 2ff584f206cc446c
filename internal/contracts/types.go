// Package contracts defines typed data transfer objects shared across the
// runtime, tool factory, and API layers.
package contracts

import (
	"time"
)

// APIResponse is the standard wrapper for all API responses
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// NewSuccessResponse wraps data in a success envelope.
func NewSuccessResponse(data interface{}) APIResponse {
	return APIResponse{
		Success: true,
		Data:    data,
	}
}

// NewErrorResponse wraps a message in an error envelope.
func NewErrorResponse(message string) APIResponse {
	return APIResponse{
		Success: false,
		Error:   message,
	}
}

// ToolDescriptor is the declared name/description/schema for one invocable
// capability, as returned by an adapter. Immutable once returned; re-fetched
// after reconnection.
type ToolDescriptor struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema,omitempty"`
}

// ConnectionStatus is the result of a single bounded-time connection probe.
type ConnectionStatus struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// ServerStatus is the authoritative registry-external view of one server,
// used by the UI badge. Derived state: always recomputable from the server
// configuration plus the latest health-check result.
type ServerStatus struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	BaseURL       string    `json:"baseUrl"`
	Enabled       bool      `json:"enabled"`
	Connected     bool      `json:"connected"`
	ToolCount     int       `json:"toolCount"`
	LastChecked   time.Time `json:"lastChecked"`
	StatusMessage string    `json:"statusMessage,omitempty"`
	ErrorMessage  string    `json:"errorMessage,omitempty"`
}

// ToolCallRecord is the structured trace of one tool call parsed out of an
// assistant message. Created per markup occurrence, discarded after
// substitution; returned alongside the rewritten text for telemetry.
type ToolCallRecord struct {
	ID          string      `json:"id"`
	ToolName    string      `json:"toolName"`
	RawInput    string      `json:"rawInput"`
	ParsedInput interface{} `json:"parsedInput,omitempty"`
	Description string      `json:"description,omitempty"`
	Result      string      `json:"result,omitempty"`
	Error       string      `json:"error,omitempty"`
	Duration    string      `json:"duration,omitempty"`
}

// DiscoveryResult reports the availability of one probed local endpoint.
type DiscoveryResult struct {
	BaseURL   string `json:"baseUrl"`
	Available bool   `json:"available"`
}
