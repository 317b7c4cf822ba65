package persist

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
	"pkt.systems/pslog"
	"pkt.systems/tabkeep/internal/taskrunner"
	"pkt.systems/tabkeep/schema"
)

// StateDirName is the canonical state directory under the base directory.
const StateDirName = "0"

// Coordinator serializes layout migrations and orphan scans across the
// policies of one process.
type Coordinator struct {
	migrationMu sync.Mutex
	migration   *taskrunner.Task

	cleanupMu      sync.Mutex
	cleanupRunning bool
}

// NewCoordinator constructs a Coordinator.
func NewCoordinator() *Coordinator {
	return &Coordinator{}
}

// BeginCleanup claims the cleanup slot; it reports false when a scan is running.
func (c *Coordinator) BeginCleanup() bool {
	c.cleanupMu.Lock()
	defer c.cleanupMu.Unlock()
	if c.cleanupRunning {
		return false
	}
	c.cleanupRunning = true
	return true
}

// EndCleanup releases the cleanup slot.
func (c *Coordinator) EndCleanup() {
	c.cleanupMu.Lock()
	c.cleanupRunning = false
	c.cleanupMu.Unlock()
}

func (c *Coordinator) migrationTask() *taskrunner.Task {
	c.migrationMu.Lock()
	defer c.migrationMu.Unlock()
	return c.migration
}

// PolicyDeps configures a Policy.
type PolicyDeps struct {
	BaseDir     string
	Window      int
	MaxWindows  int
	Prefs       *Prefs
	Coordinator *Coordinator
	Logger      pslog.Logger
}

// Policy decides where tab state of a tabbed window lives on disk and keeps the
// layout current.
type Policy struct {
	baseDir    string
	window     int
	maxWindows int
	prefs      *Prefs
	coord      *Coordinator
	log        pslog.Logger
}

// NewPolicy constructs a Policy.
func NewPolicy(deps PolicyDeps) (*Policy, error) {
	if strings.TrimSpace(deps.BaseDir) == "" {
		return nil, errors.New("state directory is required")
	}
	if deps.MaxWindows <= 0 {
		deps.MaxWindows = schema.DefaultMaxWindows
	}
	if err := schema.ValidateWindowIndex(deps.Window, deps.MaxWindows); err != nil {
		return nil, err
	}
	logger := deps.Logger
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	prefs := deps.Prefs
	if prefs == nil {
		prefs = OpenPrefs(filepath.Join(deps.BaseDir, PrefsFileName), logger)
	}
	coord := deps.Coordinator
	if coord == nil {
		coord = NewCoordinator()
	}
	return &Policy{
		baseDir:    deps.BaseDir,
		window:     deps.Window,
		maxWindows: deps.MaxWindows,
		prefs:      prefs,
		coord:      coord,
		log:        logger.With("state_dir", deps.BaseDir),
	}, nil
}

// BaseDir returns the base directory.
func (p *Policy) BaseDir() string { return p.baseDir }

// StateDir returns the directory holding metadata and per-tab files.
func (p *Policy) StateDir() string { return filepath.Join(p.baseDir, StateDirName) }

// Window returns the window index served by this policy.
func (p *Policy) Window() int { return p.window }

// Prefs returns the preferences file.
func (p *Policy) Prefs() *Prefs { return p.prefs }

// StateFileName returns the metadata file name of this window.
func (p *Policy) StateFileName() string { return MetadataFileName(p.window) }

// MetadataPath returns the metadata path of any window.
func (p *Policy) MetadataPath(window int) string {
	return filepath.Join(p.StateDir(), MetadataFileName(window))
}

// OtherMetadataPaths returns metadata paths of every other window index.
func (p *Policy) OtherMetadataPaths() []string {
	paths := make([]string, 0, p.maxWindows-1)
	for i := 0; i < p.maxWindows; i++ {
		if i == p.window {
			continue
		}
		paths = append(paths, p.MetadataPath(i))
	}
	return paths
}

// NeedsMigration reports whether any one-time layout migration is outstanding.
func (p *Policy) NeedsMigration() (bool, error) {
	prefs, err := p.prefs.Load()
	if err != nil {
		return false, err
	}
	return !prefs.FileMigrationDone || !prefs.MultiInstanceMigrationDone, nil
}

// PerformInitialization starts outstanding migrations on runner. Concurrent
// policies share one migration task. It reports whether a task was started.
func (p *Policy) PerformInitialization(runner *taskrunner.Serial) bool {
	needed, err := p.NeedsMigration()
	if err != nil {
		p.log.Warn("policy read prefs failed", "err", err)
	}
	if !needed {
		return false
	}
	p.coord.migrationMu.Lock()
	defer p.coord.migrationMu.Unlock()
	if p.coord.migration != nil && !p.coord.migration.Finished() {
		return false
	}
	p.coord.migration = runner.Submit("layout-migration", func(ctx context.Context) func() {
		if err := p.Migrate(ctx); err != nil {
			p.log.Warn("policy migration failed", "err", err)
		}
		return nil
	})
	return true
}

// WaitForInitialization blocks until a started migration finished.
func (p *Policy) WaitForInitialization(ctx context.Context) error {
	task := p.coord.migrationTask()
	if task == nil {
		return nil
	}
	select {
	case <-task.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Migrate runs outstanding layout migrations under the directory lock.
func (p *Policy) Migrate(ctx context.Context) error {
	unlock, err := LockDir(ctx, p.baseDir)
	if err != nil {
		return err
	}
	defer unlock()
	prefs, err := p.prefs.Load()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(p.StateDir(), 0o700); err != nil {
		return err
	}
	if !prefs.FileMigrationDone {
		moved, err := p.migrateLegacyFiles()
		if err != nil {
			return fmt.Errorf("legacy file migration: %w", err)
		}
		if _, err := p.prefs.Update(func(prefs *Preferences) { prefs.FileMigrationDone = true }); err != nil {
			return err
		}
		p.log.Info("policy legacy file migration done", "moved", moved)
	}
	if !prefs.MultiInstanceMigrationDone {
		moved, err := p.migrateMultiInstance()
		if err != nil {
			return fmt.Errorf("multi-instance migration: %w", err)
		}
		if _, err := p.prefs.Update(func(prefs *Preferences) { prefs.MultiInstanceMigrationDone = true }); err != nil {
			return err
		}
		p.log.Info("policy multi-instance migration done", "moved", moved)
	}
	return nil
}

// migrateLegacyFiles moves files kept directly in the base directory into the
// canonical state directory.
func (p *Policy) migrateLegacyFiles() (int, error) {
	entries, err := os.ReadDir(p.baseDir)
	if err != nil {
		return 0, err
	}
	moved := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		target := ""
		if _, _, ok := ParseTabStateFileName(name); ok {
			target = name
		} else if window, legacy, ok := ParseMetadataFileName(name); ok {
			if legacy {
				window = 0
			}
			target = MetadataFileName(window)
		}
		if target == "" {
			continue
		}
		if p.moveFile(filepath.Join(p.baseDir, name), filepath.Join(p.StateDir(), target)) {
			moved++
		}
	}
	return moved, nil
}

// migrateMultiInstance folds numbered per-window directories into the canonical one.
func (p *Policy) migrateMultiInstance() (int, error) {
	entries, err := os.ReadDir(p.baseDir)
	if err != nil {
		return 0, err
	}
	moved := 0
	for _, entry := range entries {
		if !entry.IsDir() || entry.Name() == StateDirName {
			continue
		}
		window, err := strconv.Atoi(entry.Name())
		if err != nil || window <= 0 {
			continue
		}
		dir := filepath.Join(p.baseDir, entry.Name())
		files, err := os.ReadDir(dir)
		if err != nil {
			p.log.Warn("policy read window dir failed", "dir", dir, "err", err)
			continue
		}
		for _, file := range files {
			if file.IsDir() {
				continue
			}
			name := file.Name()
			target := ""
			if _, _, ok := ParseTabStateFileName(name); ok {
				target = name
			} else if _, legacy, ok := ParseMetadataFileName(name); ok && legacy {
				target = MetadataFileName(window)
			}
			if target == "" {
				continue
			}
			if p.moveFile(filepath.Join(dir, name), filepath.Join(p.StateDir(), target)) {
				moved++
			}
		}
		if err := os.Remove(dir); err != nil {
			p.log.Debug("policy window dir kept", "dir", dir, "err", err)
		}
	}
	legacy := filepath.Join(p.StateDir(), MetadataPrefix)
	if _, err := os.Stat(legacy); err == nil {
		if p.moveFile(legacy, p.MetadataPath(0)) {
			moved++
		}
	}
	return moved, nil
}

// moveFile renames src to dst unless dst exists; the existing file wins.
func (p *Policy) moveFile(src, dst string) bool {
	if _, err := os.Stat(dst); err == nil {
		p.log.Debug("policy migrate skip existing", "src", src, "dst", dst)
		return false
	}
	if err := os.Rename(src, dst); err != nil {
		p.log.Warn("policy migrate move failed", "src", src, "dst", dst, "err", err)
		return false
	}
	return true
}

// UnusedFiles lists per-tab state files referenced neither by a live tab
// nor by the metadata of any other window.
func (p *Policy) UnusedFiles(ctx context.Context, live func(schema.TabID) bool) ([]string, error) {
	entries, err := os.ReadDir(p.StateDir())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	referenced, err := p.referencedByOtherWindows(ctx)
	if err != nil {
		return nil, err
	}
	var unused []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		id, _, ok := ParseTabStateFileName(entry.Name())
		if !ok {
			continue
		}
		if _, ok := referenced[id]; ok {
			continue
		}
		if live != nil && live(id) {
			continue
		}
		unused = append(unused, entry.Name())
	}
	return unused, nil
}

// referencedByOtherWindows reads every other window's metadata in parallel.
func (p *Policy) referencedByOtherWindows(ctx context.Context) (map[schema.TabID]struct{}, error) {
	paths := p.OtherMetadataPaths()
	results := make([][]schema.TabID, len(paths))
	group, ctx := errgroup.WithContext(ctx)
	for i, path := range paths {
		group.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			data, err := os.ReadFile(path)
			if err != nil {
				if errors.Is(err, os.ErrNotExist) {
					return nil
				}
				return err
			}
			state, err := DecodeMetadata(data)
			if err != nil {
				p.log.Warn("policy orphan scan skipped metadata", "path", path, "err", err)
				return nil
			}
			results[i] = state.IDs()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	referenced := make(map[schema.TabID]struct{})
	for _, ids := range results {
		for _, id := range ids {
			referenced[id] = struct{}{}
		}
	}
	return referenced, nil
}

// DeleteFiles removes the named files from the state directory.
func (p *Policy) DeleteFiles(names []string) int {
	deleted := 0
	for _, name := range names {
		if err := RemoveFile(filepath.Join(p.StateDir(), name)); err != nil {
			p.log.Warn("policy delete file failed", "file", name, "err", err)
			continue
		}
		deleted++
	}
	return deleted
}

// Coordinator returns the shared migration/cleanup coordinator.
func (p *Policy) Coordinator() *Coordinator { return p.coord }
