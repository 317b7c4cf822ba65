// Package migrate moves tabs of the retired document mode into the tabbed
// state directory.
package migrate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"pkt.systems/pslog"
	"pkt.systems/tabkeep/internal/persist"
	"pkt.systems/tabkeep/schema"
)

// DefaultMaxAttempts is the number of failed runs after which the migration
// gives up on tab data.
const DefaultMaxAttempts = schema.DefaultMaxMigrationAttempts

// Observer is told about every stage transition.
type Observer interface {
	OnStageChange(from, to Stage)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(from, to Stage)

// OnStageChange implements Observer.
func (f ObserverFunc) OnStageChange(from, to Stage) { f(from, to) }

// Deps configures an Assassin.
type Deps struct {
	LegacyDir   string
	Policy      *persist.Policy
	MaxAttempts int
	Logger      pslog.Logger
}

// Result summarizes a finished migration.
type Result struct {
	Listed   int
	Copied   int
	Attempts int
	// WithoutData is set when the attempt cap was hit and no tab data moved.
	WithoutData bool
}

// Assassin migrates document-mode tabs to tabbed mode and then removes the
// legacy store.
type Assassin struct {
	legacy      LegacyStore
	policy      *persist.Policy
	maxAttempts int
	log         pslog.Logger

	mu        sync.Mutex
	stage     Stage
	observers []Observer
}

// New constructs an Assassin.
func New(deps Deps) (*Assassin, error) {
	if strings.TrimSpace(deps.LegacyDir) == "" {
		return nil, errors.New("document directory is required")
	}
	if deps.Policy == nil {
		return nil, errors.New("migration requires a persistence policy")
	}
	if deps.MaxAttempts <= 0 {
		deps.MaxAttempts = DefaultMaxAttempts
	}
	logger := deps.Logger
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Assassin{
		legacy:      LegacyStore{Dir: deps.LegacyDir},
		policy:      deps.Policy,
		maxAttempts: deps.MaxAttempts,
		log:         logger.With("document_dir", deps.LegacyDir),
	}, nil
}

// Stage returns the current stage.
func (a *Assassin) Stage() Stage {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stage
}

// AddObserver registers o for stage transitions.
func (a *Assassin) AddObserver(o Observer) {
	if o == nil {
		return
	}
	a.mu.Lock()
	a.observers = append(a.observers, o)
	a.mu.Unlock()
}

func (a *Assassin) advance(from, to Stage) error {
	a.mu.Lock()
	if a.stage != from {
		current := a.stage
		a.mu.Unlock()
		a.log.Error("migrate stage mismatch", "expected", from.String(), "current", current.String(), "next", to.String())
		return fmt.Errorf("%w: expected %s, at %s", schema.ErrStageMismatch, from, current)
	}
	a.stage = to
	observers := append([]Observer(nil), a.observers...)
	a.mu.Unlock()
	a.log.Debug("migrate stage", "from", from.String(), "to", to.String())
	for _, o := range observers {
		o.OnStageChange(from, to)
	}
	return nil
}

// Begin moves a fresh Assassin to the initialized stage.
func (a *Assassin) Begin() (Initialized, error) {
	t, err := token{a: a, stage: StageUninitialized}.next(StageInitialized)
	return Initialized{t}, err
}

// IsMigrationNecessary reports whether document mode is still enabled.
func (a *Assassin) IsMigrationNecessary() (bool, error) {
	prefs, err := a.policy.Prefs().Load()
	if err != nil {
		return false, err
	}
	return prefs.DocumentModeEnabled, nil
}

// Migrate runs every stage while holding the state directory lock. It is a
// no-op when document mode is not enabled.
func (a *Assassin) Migrate(ctx context.Context) (Result, error) {
	var result Result
	necessary, err := a.IsMigrationNecessary()
	if err != nil {
		return result, err
	}
	if !necessary {
		a.log.Debug("migrate not necessary")
		return result, nil
	}
	unlock, err := persist.LockDir(ctx, a.policy.BaseDir())
	if err != nil {
		return result, err
	}
	defer unlock()

	initialized, err := a.Begin()
	if err != nil {
		return result, err
	}
	prefs, err := a.policy.Prefs().Load()
	if err != nil {
		return result, err
	}
	result.Attempts = prefs.AssassinAttempts

	var written WriteMetadataDone
	if prefs.AssassinAttempts >= a.maxAttempts {
		a.log.Error("migrate too many failed attempts, migrating without data", "attempts", prefs.AssassinAttempts)
		result.WithoutData = true
		if written, err = initialized.SkipToMetadataDone(); err != nil {
			return result, err
		}
	} else {
		updated, err := a.policy.Prefs().Update(func(p *persist.Preferences) { p.AssassinAttempts++ })
		if err != nil {
			return result, err
		}
		result.Attempts = updated.AssassinAttempts
		if written, err = a.migrateData(ctx, initialized, &result); err != nil {
			return result, err
		}
	}

	changing, err := written.StartChangeSettings()
	if err != nil {
		return result, err
	}
	if _, err := a.policy.Prefs().Update(func(p *persist.Preferences) { p.DocumentModeEnabled = false }); err != nil {
		return result, fmt.Errorf("disable document mode: %w", err)
	}
	changed, err := changing.FinishChangeSettings()
	if err != nil {
		return result, err
	}

	deleting, err := changed.StartDeletion()
	if err != nil {
		return result, err
	}
	if err := a.legacy.Remove(); err != nil {
		a.log.Warn("migrate legacy removal failed", "err", err)
	}
	if _, err := deleting.Finish(); err != nil {
		return result, err
	}
	a.log.Info("migrate done", "listed", result.Listed, "copied", result.Copied, "without_data", result.WithoutData)
	return result, nil
}

func (a *Assassin) migrateData(ctx context.Context, initialized Initialized, result *Result) (WriteMetadataDone, error) {
	list, err := a.legacy.Load()
	if err != nil {
		a.log.Warn("migrate document list unreadable", "err", err)
		list = DocumentList{ActiveTabID: schema.InvalidTabID}
	}
	entries := list.NormalEntries()
	result.Listed = len(entries)

	copying, err := initialized.StartCopy()
	if err != nil {
		return WriteMetadataDone{}, err
	}
	copied, err := a.copyTabFiles(ctx, entries)
	if err != nil {
		return WriteMetadataDone{}, err
	}
	result.Copied = copied
	copyDone, err := copying.FinishCopy()
	if err != nil {
		return WriteMetadataDone{}, err
	}

	writing, err := copyDone.StartWriteMetadata()
	if err != nil {
		return WriteMetadataDone{}, err
	}
	if err := a.writeMetadata(list); err != nil {
		return WriteMetadataDone{}, fmt.Errorf("write tab metadata: %w", err)
	}
	return writing.FinishWriteMetadata()
}

// copyTabFiles copies per-tab state of normal tabs. Missing sources are
// skipped and existing targets are left alone. Running out of space ends the
// copy early; the tabs without state fall back to their URL on restore.
func (a *Assassin) copyTabFiles(ctx context.Context, entries []DocumentEntry) (int, error) {
	stateDir := a.policy.StateDir()
	copied := 0
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		src := a.legacy.TabPath(entry.TabID)
		dst := filepath.Join(stateDir, persist.TabStateFileName(entry.TabID, false))
		if _, err := os.Stat(dst); err == nil {
			a.log.Debug("migrate tab file exists", "tab", int32(entry.TabID))
			continue
		}
		data, err := os.ReadFile(src)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				a.log.Warn("migrate tab file unreadable", "tab", int32(entry.TabID), "err", err)
			}
			continue
		}
		if err := persist.WriteFileAtomic(dst, data, a.log); err != nil {
			if errors.Is(err, syscall.ENOSPC) {
				a.log.Warn("migrate out of space, skipping remaining tab files", "copied", copied)
				return copied, nil
			}
			a.log.Warn("migrate tab file copy failed", "tab", int32(entry.TabID), "err", err)
			continue
		}
		copied++
	}
	return copied, nil
}

func (a *Assassin) writeMetadata(list DocumentList) error {
	entries := list.NormalEntries()
	meta := persist.Metadata{
		Normal:         make([]persist.MetadataEntry, 0, len(entries)),
		NormalIndex:    list.ActiveIndex(),
		IncognitoIndex: schema.InvalidIndex,
	}
	for _, entry := range entries {
		meta.Normal = append(meta.Normal, persist.MetadataEntry{ID: entry.TabID, URL: entry.URL})
	}
	return persist.WriteFileAtomic(a.policy.MetadataPath(0), persist.EncodeMetadata(meta), a.log)
}
