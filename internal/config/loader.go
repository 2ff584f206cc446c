package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

const (
	// DefaultDataDir is the per-user data directory name.
	DefaultDataDir = ".mcpbridge"
	// ConfigFileName is the default configuration file name.
	ConfigFileName = "mcpbridge.json"
	// EnvPrefix is the prefix for environment variable overrides.
	EnvPrefix = "MCPBRIDGE"
)

// Load loads configuration from file, environment, and defaults.
// A missing config file is not an error; defaults plus environment apply.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	path := configPath
	if path == "" {
		path = v.GetString("CONFIG")
	}
	if path == "" {
		if found, err := findConfigFile(); err == nil {
			path = found
		}
	}
	if path != "" {
		if err := loadConfigFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if listen := v.GetString("LISTEN"); listen != "" {
		cfg.Listen = listen
	}
	if dataDir := v.GetString("DATA_DIR"); dataDir != "" {
		cfg.DataDir = dataDir
	}
	if level := v.GetString("LOG_LEVEL"); level != "" {
		if cfg.Logging == nil {
			cfg.Logging = &LogConfig{EnableConsole: true}
		}
		cfg.Logging.Level = level
	}

	if cfg.DataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		cfg.DataDir = filepath.Join(homeDir, DefaultDataDir)
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory %s: %w", cfg.DataDir, err)
	}

	applyEnvServers(v, cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// applyEnvServers seeds server entries from environment credentials.
// MCPBRIDGE_GITHUB_TOKEN creates or refreshes the GitHub server entry.
func applyEnvServers(v *viper.Viper, cfg *Config) {
	token := v.GetString("GITHUB_TOKEN")
	if token == "" {
		return
	}
	for _, srv := range cfg.Servers {
		if srv.ID == GitHubServerID {
			if srv.Auth == nil {
				srv.Auth = &AuthConfig{Type: "github"}
			}
			srv.Auth.Token = token
			return
		}
	}
	srv := NewServerConfig("GitHub", "https://api.github.com", true, &AuthConfig{
		Token: token,
		Type:  "github",
	})
	cfg.Servers = append(cfg.Servers, srv)
}

func findConfigFile() (string, error) {
	candidates := []string{ConfigFileName}
	if homeDir, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(homeDir, DefaultDataDir, ConfigFileName))
	}
	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}
	return "", os.ErrNotExist
}

func loadConfigFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config JSON: %w", err)
	}
	// Entries loaded from file may predate the explicit kind field.
	for _, srv := range cfg.Servers {
		if srv.ID == "" {
			srv.ID = SanitizeID(srv.Name)
		}
		if srv.Kind == "" {
			authType := ""
			if srv.Auth != nil {
				authType = srv.Auth.Type
			}
			srv.Kind = DetectKind(srv.ID, srv.Name, srv.BaseURL, authType)
			if srv.Kind == KindGitHub {
				srv.ID = GitHubServerID
			}
		}
	}
	return nil
}
