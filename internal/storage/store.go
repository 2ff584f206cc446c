// Package storage persists runtime settings in a local bbolt database.
// The server list is stored as one JSON document under a single key, so
// every save is a full-replace write. Concurrent writers are last-write-wins,
// which is acceptable under the single-user, single-tab assumption.
package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/mcpbridge/mcpbridge-go/internal/config"
)

const (
	// SettingsBucket holds serialized settings documents.
	SettingsBucket = "settings"
	// ServersKey is the document key for the configured server list.
	ServersKey = "mcp_servers"

	dbFileName = "settings.db"
)

// Store wraps bolt database operations for settings persistence.
type Store struct {
	db     *bbolt.DB
	logger *zap.Logger
}

// NewStore opens (or creates) the settings database in dataDir.
func NewStore(dataDir string, logger *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory %s: %w", dataDir, err)
	}
	dbPath := filepath.Join(dataDir, dbFileName)

	db, err := bbolt.Open(dbPath, 0o644, &bbolt.Options{
		Timeout: 10 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open settings database %s: %w", dbPath, err)
	}

	store := &Store{db: db, logger: logger}
	if err := store.initBuckets(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize buckets: %w", err)
	}
	return store, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(SettingsBucket))
		return err
	})
}

// SaveServers replaces the persisted server list with the given set.
func (s *Store) SaveServers(servers []*config.ServerConfig) error {
	data, err := json.Marshal(servers)
	if err != nil {
		return fmt.Errorf("failed to marshal server list: %w", err)
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(SettingsBucket))
		if bucket == nil {
			return fmt.Errorf("settings bucket not found")
		}
		return bucket.Put([]byte(ServersKey), data)
	})
	if err != nil {
		return fmt.Errorf("failed to save server list: %w", err)
	}

	s.logger.Debug("Persisted server list",
		zap.Int("count", len(servers)))
	return nil
}

// LoadServers returns the persisted server list, or an empty slice when
// nothing has been saved yet.
func (s *Store) LoadServers() ([]*config.ServerConfig, error) {
	var data []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(SettingsBucket))
		if bucket == nil {
			return fmt.Errorf("settings bucket not found")
		}
		if raw := bucket.Get([]byte(ServersKey)); raw != nil {
			data = make([]byte, len(raw))
			copy(data, raw)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if data == nil {
		return []*config.ServerConfig{}, nil
	}

	var servers []*config.ServerConfig
	if err := json.Unmarshal(data, &servers); err != nil {
		return nil, fmt.Errorf("failed to parse persisted server list: %w", err)
	}
	return servers, nil
}
