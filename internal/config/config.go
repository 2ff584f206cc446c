package config

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"
)

const (
	defaultListen              = ":8081"
	defaultHealthCheckInterval = 30 * time.Second

	// GitHubServerID is the canonical registry id for the GitHub adapter.
	// All GitHub-kind configurations normalize to this id so the registry
	// holds at most one GitHub entry.
	GitHubServerID = "github"
)

// ServerKind selects the adapter variant for a server. It is decided once,
// when the configuration is created, and stored explicitly rather than
// re-derived by string matching on every adapter construction.
type ServerKind string

const (
	// KindGitHub selects the GitHub REST adapter with its fixed tool set.
	KindGitHub ServerKind = "github"
	// KindStandard selects the generic MCP adapter with live tool discovery.
	KindStandard ServerKind = "standard"
)

// Config represents the main configuration structure
type Config struct {
	Listen              string          `json:"listen" mapstructure:"listen"`
	DataDir             string          `json:"data_dir" mapstructure:"data-dir"`
	Servers             []*ServerConfig `json:"mcpServers" mapstructure:"servers"`
	HealthCheckInterval time.Duration   `json:"health_check_interval" mapstructure:"health-check-interval"`
	DiscoveryPort       int             `json:"discovery_port" mapstructure:"discovery-port"`

	// Logging configuration
	Logging *LogConfig `json:"logging,omitempty" mapstructure:"logging"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level         string `json:"level" mapstructure:"level"`
	EnableFile    bool   `json:"enable_file" mapstructure:"enable-file"`
	EnableConsole bool   `json:"enable_console" mapstructure:"enable-console"`
	Filename      string `json:"filename" mapstructure:"filename"`
	LogDir        string `json:"log_dir,omitempty" mapstructure:"log-dir"`
	MaxSize       int    `json:"max_size" mapstructure:"max-size"`       // MB
	MaxBackups    int    `json:"max_backups" mapstructure:"max-backups"` // number of backup files
	MaxAge        int    `json:"max_age" mapstructure:"max-age"`         // days
	Compress      bool   `json:"compress" mapstructure:"compress"`
	JSONFormat    bool   `json:"json_format" mapstructure:"json-format"`
}

// AuthConfig holds the credential attached to a server configuration.
// Tokens are persisted as-is in the local settings store.
type AuthConfig struct {
	Token string `json:"token,omitempty" mapstructure:"token"`
	Type  string `json:"type,omitempty" mapstructure:"type"` // e.g. "github", "bearer"
}

// ServerConfig represents one configured MCP-compatible server.
// ID is the registry identity key, derived from the sanitized display name.
type ServerConfig struct {
	ID      string      `json:"id" mapstructure:"id"`
	Name    string      `json:"name" mapstructure:"name"`
	BaseURL string      `json:"baseUrl" mapstructure:"base-url"`
	Kind    ServerKind  `json:"kind" mapstructure:"kind"`
	Enabled bool        `json:"enabled" mapstructure:"enabled"`
	Auth    *AuthConfig `json:"auth,omitempty" mapstructure:"auth"`
	Created time.Time   `json:"created,omitempty" mapstructure:"created"`
	Updated time.Time   `json:"updated,omitempty" mapstructure:"updated"`
}

// ServerUpdate carries a partial update to a server configuration.
// Nil fields are left unchanged.
type ServerUpdate struct {
	Name    *string     `json:"name,omitempty"`
	BaseURL *string     `json:"baseUrl,omitempty"`
	Enabled *bool       `json:"enabled,omitempty"`
	Auth    *AuthConfig `json:"auth,omitempty"`
}

// Clone returns a deep copy of the server configuration. Adapters hold a
// private copy so registry-side mutation never races adapter reads.
func (s *ServerConfig) Clone() *ServerConfig {
	if s == nil {
		return nil
	}
	out := *s
	if s.Auth != nil {
		auth := *s.Auth
		out.Auth = &auth
	}
	return &out
}

// Token returns the configured auth token, or empty when no credential is set.
func (s *ServerConfig) Token() string {
	if s.Auth == nil {
		return ""
	}
	return s.Auth.Token
}

var idSanitizer = regexp.MustCompile(`[^a-z0-9]+`)

// SanitizeID derives a registry id from a display name: lower-cased, with
// runs of non-alphanumeric characters collapsed to single hyphens.
func SanitizeID(name string) string {
	id := idSanitizer.ReplaceAllString(strings.ToLower(name), "-")
	return strings.Trim(id, "-")
}

// DetectKind decides the adapter variant for a new configuration. Any server
// whose id, name, or base URL contains "github" (case-insensitive), or whose
// auth type is declared "github", gets the GitHub adapter. The substring rule
// is intentionally coarse and known to over-match (e.g. a server named
// "github-mirror" pointing elsewhere); it runs once at creation time only.
func DetectKind(id, name, baseURL, authType string) ServerKind {
	for _, s := range []string{id, name, baseURL} {
		if strings.Contains(strings.ToLower(s), "github") {
			return KindGitHub
		}
	}
	if strings.EqualFold(authType, "github") {
		return KindGitHub
	}
	return KindStandard
}

// NewServerConfig builds a server configuration from a display name and base
// URL, deriving the id, detecting the adapter kind, and normalizing GitHub
// configurations to the canonical "github" id.
func NewServerConfig(name, baseURL string, enabled bool, auth *AuthConfig) *ServerConfig {
	id := SanitizeID(name)
	authType := ""
	if auth != nil {
		authType = auth.Type
	}
	kind := DetectKind(id, name, baseURL, authType)
	if kind == KindGitHub {
		id = GitHubServerID
	}
	now := time.Now().UTC()
	return &ServerConfig{
		ID:      id,
		Name:    name,
		BaseURL: baseURL,
		Kind:    kind,
		Enabled: enabled,
		Auth:    auth,
		Created: now,
		Updated: now,
	}
}

// DefaultConfig returns configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Listen:              defaultListen,
		HealthCheckInterval: defaultHealthCheckInterval,
		DiscoveryPort:       3001,
		Servers:             []*ServerConfig{},
	}
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen address must not be empty")
	}
	if c.HealthCheckInterval <= 0 {
		return fmt.Errorf("health check interval must be positive, got %s", c.HealthCheckInterval)
	}
	seen := make(map[string]struct{}, len(c.Servers))
	for _, srv := range c.Servers {
		if err := srv.Validate(); err != nil {
			return err
		}
		if _, dup := seen[srv.ID]; dup {
			return fmt.Errorf("duplicate server id %q", srv.ID)
		}
		seen[srv.ID] = struct{}{}
	}
	return nil
}

// Validate checks a single server configuration.
func (s *ServerConfig) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("server %q has no id", s.Name)
	}
	if s.Name == "" {
		return fmt.Errorf("server %q has no name", s.ID)
	}
	if s.Kind != KindGitHub && s.Kind != KindStandard {
		return fmt.Errorf("server %q has unknown kind %q", s.ID, s.Kind)
	}
	if s.BaseURL != "" {
		if _, err := url.Parse(s.BaseURL); err != nil {
			return fmt.Errorf("server %q has invalid base URL: %w", s.ID, err)
		}
	}
	return nil
}
