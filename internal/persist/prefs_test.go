package persist

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestPrefsMissingFileDefaults(t *testing.T) {
	prefs := OpenPrefs(filepath.Join(t.TempDir(), PrefsFileName), nil)
	got, err := prefs.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got != (Preferences{}) {
		t.Fatalf("expected zero preferences, got %+v", got)
	}
}

func TestPrefsUpdatePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), PrefsFileName)
	prefs := OpenPrefs(path, nil)
	if _, err := prefs.Update(func(p *Preferences) {
		p.FileMigrationDone = true
		p.AssassinAttempts = 2
	}); err != nil {
		t.Fatalf("update: %v", err)
	}
	reopened := OpenPrefs(path, nil)
	got, err := reopened.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !got.FileMigrationDone || got.AssassinAttempts != 2 || got.MultiInstanceMigrationDone {
		t.Fatalf("unexpected preferences %+v", got)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if want := "tabmodel_has_run_file_migration: true"; !strings.Contains(string(data), want) {
		t.Fatalf("expected %q in %s", want, data)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("expected 0600 permissions, got %v", info.Mode().Perm())
	}
}

func TestPrefsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), PrefsFileName)
	if err := os.WriteFile(path, []byte("document_mode_assassin_attempts: [nope"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := OpenPrefs(path, nil).Load(); err == nil {
		t.Fatalf("expected parse error")
	}
}
