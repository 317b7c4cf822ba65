package appconfig

import (
	"os"
	"path/filepath"

	"pkt.systems/tabkeep/schema"
)

// Config is the top-level application configuration.
type Config struct {
	ConfigVersion int             `mapstructure:"config_version" yaml:"config_version"`
	StateDir      string          `mapstructure:"state_dir" yaml:"state_dir"`
	WindowIndex   int             `mapstructure:"window_index" yaml:"window_index"`
	MaxWindows    int             `mapstructure:"max_windows" yaml:"max_windows"`
	Store         StoreConfig     `mapstructure:"store" yaml:"store"`
	Migration     MigrationConfig `mapstructure:"migration" yaml:"migration"`
	Logging       LoggingConfig   `mapstructure:"logging" yaml:"logging"`
}

// CurrentConfigVersion marks the supported config version.
const CurrentConfigVersion = 1

// StoreConfig controls the persistent tab store.
type StoreConfig struct {
	SaveDebounceMS         int  `mapstructure:"save_debounce_ms" yaml:"save_debounce_ms"`
	IgnoreIncognitoOnStart bool `mapstructure:"ignore_incognito_on_start" yaml:"ignore_incognito_on_start"`
	PoolSize               int  `mapstructure:"pool_size" yaml:"pool_size"`
}

// MigrationConfig controls the document-mode migration.
type MigrationConfig struct {
	MaxAttempts int    `mapstructure:"max_attempts" yaml:"max_attempts"`
	DocumentDir string `mapstructure:"document_dir" yaml:"document_dir"`
}

// LoggingConfig controls the optional rotating log file.
type LoggingConfig struct {
	File       string `mapstructure:"file" yaml:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, err
	}
	return Config{
		ConfigVersion: CurrentConfigVersion,
		StateDir:      filepath.Join(home, ".tabkeep", "tabs"),
		WindowIndex:   0,
		MaxWindows:    schema.DefaultMaxWindows,
		Store: StoreConfig{
			SaveDebounceMS:         0,
			IgnoreIncognitoOnStart: true,
			PoolSize:               schema.DefaultPoolSize,
		},
		Migration: MigrationConfig{
			MaxAttempts: schema.DefaultMaxMigrationAttempts,
			DocumentDir: filepath.Join(home, ".tabkeep", "documents"),
		},
		Logging: LoggingConfig{
			File:       "",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}, nil
}

// DefaultConfigPath returns the standard config path.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".tabkeep", "config.yaml"), nil
}

// StoreConfig maps the application config onto the library store settings.
func (c Config) StoreConfig() (schema.StoreConfig, error) {
	return schema.NormalizeStoreConfig(schema.StoreConfig{
		StateDir:               c.StateDir,
		Window:                 c.WindowIndex,
		MaxWindows:             c.MaxWindows,
		SaveDebounce:           msToDuration(c.Store.SaveDebounceMS),
		IgnoreIncognitoOnStart: c.Store.IgnoreIncognitoOnStart,
		PoolSize:               c.Store.PoolSize,
		MaxMigrationAttempts:   c.Migration.MaxAttempts,
		DocumentDir:            c.Migration.DocumentDir,
	})
}
