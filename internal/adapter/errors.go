package adapter

import (
	"fmt"
	"time"
)

// ConfigurationError indicates a missing or invalid credential or URL.
// Surfaced as a non-connected status with an explanatory message, never fatal.
type ConfigurationError struct {
	ServerID string
	Reason   string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("server %s misconfigured: %s", e.ServerID, e.Reason)
}

// ConnectivityError indicates a network-level failure (timeout, DNS, TLS,
// non-2xx). Idempotent tool calls are retried; otherwise it surfaces
// immediately.
type ConnectivityError struct {
	ServerID   string
	StatusCode int
	Err        error
}

func (e *ConnectivityError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("server %s returned HTTP %d: %v", e.ServerID, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("server %s unreachable: %v", e.ServerID, e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

// Retryable reports whether the failure is worth retrying: network errors
// and 5xx responses are, 4xx responses are not.
func (e *ConnectivityError) Retryable() bool {
	return e.StatusCode == 0 || e.StatusCode >= 500
}

// RateLimitError indicates the remote API refused the call due to exhausted
// quota. Carries the reset time for user-facing messages.
type RateLimitError struct {
	ServerID string
	Reset    time.Time
}

func (e *RateLimitError) Error() string {
	if e.Reset.IsZero() {
		return fmt.Sprintf("server %s rate limit exceeded", e.ServerID)
	}
	return fmt.Sprintf("server %s rate limit exceeded, resets at %s", e.ServerID, e.Reset.Format(time.RFC3339))
}

// ToolResolutionError indicates an unknown tool name. Surfaced inline in the
// conversation rather than propagated.
type ToolResolutionError struct {
	ToolName string
}

func (e *ToolResolutionError) Error() string {
	return fmt.Sprintf("unknown tool %q", e.ToolName)
}

// ParseError indicates malformed tool-call input. Surfaced inline; never
// affects sibling tool calls.
type ParseError struct {
	Input  string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse tool input %q: %s", e.Input, e.Reason)
}
