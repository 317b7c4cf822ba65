package persist

import (
	"context"
	"errors"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
	"pkt.systems/pslog"
)

// Preferences holds persisted one-time flags and counters.
type Preferences struct {
	FileMigrationDone          bool `yaml:"tabmodel_has_run_file_migration"`
	MultiInstanceMigrationDone bool `yaml:"tabmodel_has_run_multi_instance_file_migration"`
	AssassinAttempts           int  `yaml:"document_mode_assassin_attempts"`
	DocumentModeEnabled        bool `yaml:"document_mode_enabled"`
}

// Prefs reads and updates the preferences file.
type Prefs struct {
	path string
	log  pslog.Logger
	mu   sync.Mutex
}

// OpenPrefs returns a Prefs backed by path. The file is created on first update.
func OpenPrefs(path string, logger pslog.Logger) *Prefs {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Prefs{path: path, log: logger}
}

// Path returns the backing file.
func (p *Prefs) Path() string {
	return p.path
}

// Load reads the current preferences. A missing file yields defaults.
func (p *Prefs) Load() (Preferences, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loadLocked()
}

func (p *Prefs) loadLocked() (Preferences, error) {
	var prefs Preferences
	data, err := os.ReadFile(p.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return prefs, nil
		}
		p.log.Warn("prefs load failed", "path", p.path, "err", err)
		return prefs, err
	}
	if err := yaml.Unmarshal(data, &prefs); err != nil {
		p.log.Warn("prefs load failed", "path", p.path, "err", err)
		return Preferences{}, err
	}
	return prefs, nil
}

// Update applies fn to the stored preferences and writes them back.
func (p *Prefs) Update(fn func(*Preferences)) (Preferences, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	prefs, err := p.loadLocked()
	if err != nil {
		return Preferences{}, err
	}
	fn(&prefs)
	data, err := yaml.Marshal(prefs)
	if err != nil {
		return Preferences{}, err
	}
	if err := WriteFileAtomic(p.path, data, p.log); err != nil {
		return Preferences{}, err
	}
	p.log.Debug("prefs updated", "path", p.path)
	return prefs, nil
}
