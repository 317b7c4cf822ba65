package schema

import (
	"os"
	"path/filepath"
	"time"
)

// StoreConfig defines defaults and limits for tab persistence.
type StoreConfig struct {
	// StateDir is the base directory holding per-window state.
	StateDir string
	// Window is the index of the selector this store serves.
	Window int
	// MaxWindows bounds the window indices scanned during migration and cleanup.
	MaxWindows int
	// SaveDebounce delays a metadata write after the last enqueue.
	SaveDebounce time.Duration
	// IgnoreIncognitoOnStart drops incognito state during cold start.
	IgnoreIncognitoOnStart bool
	// PoolSize bounds concurrent read-only background work.
	PoolSize int
	// MaxMigrationAttempts caps legacy document-mode migration retries.
	MaxMigrationAttempts int
	// DocumentDir is the legacy document-mode storage directory.
	DocumentDir string
}

const (
	// DefaultMaxWindows is the number of windows a process may open.
	DefaultMaxWindows = 3
	// DefaultPoolSize is the default bound for background readers.
	DefaultPoolSize = 4
	// DefaultMaxMigrationAttempts is the assassin retry cap.
	DefaultMaxMigrationAttempts = 3
)

// NormalizeStoreConfig applies defaults and validates the config.
func NormalizeStoreConfig(cfg StoreConfig) (StoreConfig, error) {
	if cfg.StateDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return StoreConfig{}, err
		}
		cfg.StateDir = filepath.Join(home, ".tabkeep", "tabs")
	}
	if cfg.DocumentDir == "" {
		cfg.DocumentDir = filepath.Join(filepath.Dir(cfg.StateDir), "documents")
	}
	if cfg.MaxWindows <= 0 {
		cfg.MaxWindows = DefaultMaxWindows
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = DefaultPoolSize
	}
	if cfg.MaxMigrationAttempts <= 0 {
		cfg.MaxMigrationAttempts = DefaultMaxMigrationAttempts
	}
	if cfg.SaveDebounce < 0 {
		cfg.SaveDebounce = 0
	}
	if err := ValidateWindowIndex(cfg.Window, cfg.MaxWindows); err != nil {
		return StoreConfig{}, err
	}
	return cfg, nil
}
