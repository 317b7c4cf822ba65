// Package tabkeep wires the tab models, their persistent store and the owner
// loop of one browser window.
package tabkeep

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"pkt.systems/pslog"
	"pkt.systems/tabkeep/core"
	"pkt.systems/tabkeep/internal/eventbus"
	"pkt.systems/tabkeep/internal/logx"
	"pkt.systems/tabkeep/internal/looper"
	"pkt.systems/tabkeep/internal/migrate"
	"pkt.systems/tabkeep/internal/persist"
	"pkt.systems/tabkeep/schema"
)

const cleanupPollInterval = 10 * time.Millisecond

// WindowDeps captures optional collaborators of a Window. Windows of one
// process share a Registry and a Loop; missing ones are created.
type WindowDeps struct {
	Registry  *core.Registry
	Engine    core.Engine
	Loop      *looper.Loop
	Bus       *eventbus.Bus
	EventSink core.EventSink
	// UndoSupported enables pending closures in the normal model.
	UndoSupported   bool
	CloseAllHandler func(incognito bool) bool
}

// Window is one open tab window.
type Window struct {
	cfg      schema.StoreConfig
	registry *core.Registry
	engine   core.Engine
	loop     *looper.Loop
	bus      *eventbus.Bus
	policy   *persist.Policy
	selector *core.SelectorImpl
	log      pslog.Logger

	mu       sync.Mutex
	stopLoop context.CancelFunc
	loopErr  chan error
	restored bool
	closed   bool
}

// Open constructs the window, runs an outstanding document-mode migration and
// creates the models. The logger is taken from ctx.
func Open(ctx context.Context, cfg schema.StoreConfig, deps WindowDeps) (*Window, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := schema.NormalizeStoreConfig(cfg)
	if err != nil {
		return nil, err
	}
	ctx = logx.ContextWithWindowLogger(ctx, pslog.Ctx(ctx), cfg.Window)
	log := logx.Ctx(ctx)

	registry := deps.Registry
	if registry == nil {
		if registry, err = core.NewRegistry(log); err != nil {
			return nil, err
		}
	}
	if registry.SelectorForWindow(cfg.Window) != nil {
		log.Warn("window open rejected", "reason", "already open")
		return nil, fmt.Errorf("window %d already open: %w", cfg.Window, schema.ErrInvalidWindow)
	}
	engine := deps.Engine
	if engine == nil {
		engine = core.NewMemoryEngine(log)
	}
	bus := deps.Bus
	if bus == nil {
		bus = eventbus.New(log)
	}
	policy, err := persist.NewPolicy(persist.PolicyDeps{
		BaseDir:     cfg.StateDir,
		Window:      cfg.Window,
		MaxWindows:  cfg.MaxWindows,
		Coordinator: registry.Coordinator(),
		Logger:      log,
	})
	if err != nil {
		return nil, err
	}

	assassin, err := migrate.New(migrate.Deps{
		LegacyDir:   cfg.DocumentDir,
		Policy:      policy,
		MaxAttempts: cfg.MaxMigrationAttempts,
		Logger:      log,
	})
	if err != nil {
		return nil, err
	}
	if _, err := assassin.Migrate(ctx); err != nil {
		// The attempt counter bounds retries on later starts.
		log.Warn("window document migration failed", "err", err)
	}

	w := &Window{
		cfg:      cfg,
		registry: registry,
		engine:   engine,
		loop:     deps.Loop,
		bus:      bus,
		policy:   policy,
		log:      log,
	}
	if w.loop == nil {
		w.loop = looper.New(looper.Deps{Logger: log})
		loopCtx, cancel := context.WithCancel(context.Background())
		w.stopLoop = cancel
		w.loopErr = make(chan error, 1)
		go func() {
			w.loopErr <- w.loop.Run(loopCtx)
		}()
	}

	sink := core.EventFanout{bus}
	if deps.EventSink != nil {
		sink = append(sink, deps.EventSink)
	}
	var buildErr error
	err = w.loop.Do(ctx, func() {
		w.selector, buildErr = core.NewSelectorImpl(core.SelectorDeps{
			Window:          cfg.Window,
			Registry:        registry,
			Engine:          engine,
			Policy:          policy,
			Poster:          w.loop,
			EventSink:       sink,
			UndoSupported:   deps.UndoSupported,
			CloseAllHandler: deps.CloseAllHandler,
			SaveDebounce:    cfg.SaveDebounce,
			PoolSize:        cfg.PoolSize,
			Logger:          log,
		})
		if buildErr == nil {
			w.selector.OnNativeReady()
		}
	})
	if err == nil {
		err = buildErr
	}
	if err != nil {
		w.shutdownLoop(context.Background())
		return nil, err
	}
	log.Info("window open", "state_dir", cfg.StateDir, "undo", deps.UndoSupported)
	return w, nil
}

// Index returns the window index.
func (w *Window) Index() int { return w.cfg.Window }

// Registry returns the process registry the window belongs to.
func (w *Window) Registry() *core.Registry { return w.registry }

// Loop returns the owner loop. Other windows of the process should share it.
func (w *Window) Loop() *looper.Loop { return w.loop }

// Bus returns the event bus the window publishes to.
func (w *Window) Bus() *eventbus.Bus { return w.bus }

// Policy returns the persistence policy of the window.
func (w *Window) Policy() *persist.Policy { return w.policy }

// Subscribe streams the window's tab events.
func (w *Window) Subscribe() (<-chan eventbus.Event, func()) {
	return w.bus.Subscribe(w.cfg.Window)
}

// Do runs fn with the selector on the owner loop and waits for it.
func (w *Window) Do(ctx context.Context, fn func(*core.SelectorImpl)) error {
	if w.isClosed() {
		return schema.ErrStoreDestroyed
	}
	return w.loop.Do(ctx, func() { fn(w.selector) })
}

// Restore loads the persisted tab list and waits until every tab is back. The
// active tab is restored first.
func (w *Window) Restore(ctx context.Context) (schema.WindowSnapshot, error) {
	w.mu.Lock()
	if w.restored {
		w.mu.Unlock()
		return schema.WindowSnapshot{}, errors.New("window already restored")
	}
	w.restored = true
	w.mu.Unlock()

	waiter := &restoreWaiter{done: make(chan struct{})}
	var loadErr error
	err := w.Do(ctx, func(s *core.SelectorImpl) {
		s.Store().AddObserver(waiter)
		if loadErr = s.LoadState(ctx, w.cfg.IgnoreIncognitoOnStart); loadErr != nil {
			s.Store().RemoveObserver(waiter)
			return
		}
		s.RestoreTabs(true)
	})
	if err == nil {
		err = loadErr
	}
	if err != nil {
		w.log.Warn("window restore failed", "err", err)
		return schema.WindowSnapshot{}, err
	}
	select {
	case <-waiter.done:
	case <-ctx.Done():
		return schema.WindowSnapshot{}, ctx.Err()
	}
	var snapshot schema.WindowSnapshot
	err = w.Do(ctx, func(s *core.SelectorImpl) {
		s.Store().RemoveObserver(waiter)
		snapshot = w.snapshotLocked()
	})
	if err != nil {
		return schema.WindowSnapshot{}, err
	}
	w.log.Info("window restored", "normal", len(snapshot.Normal.Tabs), "incognito", len(snapshot.Incognito.Tabs))
	return snapshot, nil
}

// restoreWaiter closes done on the owner loop once the first restore pass
// finished.
type restoreWaiter struct {
	core.StoreObserverBase
	once sync.Once
	done chan struct{}
}

func (r *restoreWaiter) OnStateLoaded() {
	r.once.Do(func() { close(r.done) })
}

// Snapshot captures both models.
func (w *Window) Snapshot(ctx context.Context) (schema.WindowSnapshot, error) {
	var snapshot schema.WindowSnapshot
	err := w.Do(ctx, func(*core.SelectorImpl) { snapshot = w.snapshotLocked() })
	return snapshot, err
}

func (w *Window) snapshotLocked() schema.WindowSnapshot {
	s := w.selector
	return schema.WindowSnapshot{
		Window:           w.cfg.Window,
		Normal:           core.ModelSnapshot(s.Model(false)),
		Incognito:        core.ModelSnapshot(s.Model(true)),
		IncognitoCurrent: s.IsIncognitoSelected(),
	}
}

// OpenTab opens url in a new foreground tab.
func (w *Window) OpenTab(ctx context.Context, url string, incognito bool) (schema.TabSnapshot, error) {
	var snapshot schema.TabSnapshot
	var opened bool
	err := w.Do(ctx, func(s *core.SelectorImpl) {
		tab := s.OpenNewTab(url, schema.LaunchFromChromeUI, nil, incognito)
		if tab == nil {
			return
		}
		opened = true
		snapshot = tab.Snapshot(core.CurrentTab(s.Model(incognito)) == tab)
	})
	if err != nil {
		return schema.TabSnapshot{}, err
	}
	if !opened {
		return schema.TabSnapshot{}, fmt.Errorf("open %q: %w", url, schema.ErrTabNotFound)
	}
	return snapshot, nil
}

// Merge absorbs the persisted tabs of another, closed window.
func (w *Window) Merge(ctx context.Context, other int) error {
	var mergeErr error
	if err := w.Do(ctx, func(s *core.SelectorImpl) { mergeErr = s.MergeState(other) }); err != nil {
		return err
	}
	return mergeErr
}

// Cleanup deletes per-tab files that no window references. Tabs listed in
// this window's own metadata count as referenced even before Restore. Files
// of ids at or above the next tab id are left to the stale-file pass of a
// later restore. With dryRun nothing is deleted. It returns the affected file
// names.
func (w *Window) Cleanup(ctx context.Context, dryRun bool) ([]string, error) {
	if err := w.claimCleanup(ctx); err != nil {
		return nil, err
	}
	defer w.policy.Coordinator().EndCleanup()
	listed, err := w.listedTabIDs()
	if err != nil {
		return nil, err
	}
	var live map[schema.TabID]struct{}
	var nextID schema.TabID
	if err := w.Do(ctx, func(*core.SelectorImpl) {
		live = w.registry.LiveTabIDs(nil)
		for _, id := range listed {
			live[id] = struct{}{}
			w.registry.EnsureIDAbove(id)
		}
		nextID = w.registry.PeekNextTabID()
	}); err != nil {
		return nil, err
	}
	names, err := w.policy.UnusedFiles(ctx, func(id schema.TabID) bool {
		_, ok := live[id]
		return ok
	})
	if err != nil {
		return nil, err
	}
	var doomed []string
	for _, name := range names {
		if id, _, ok := persist.ParseTabStateFileName(name); ok && id < nextID {
			doomed = append(doomed, name)
		}
	}
	sort.Strings(doomed)
	if dryRun {
		w.log.Info("window cleanup dry run", "unused", len(doomed))
		return doomed, nil
	}
	deleted := w.policy.DeleteFiles(doomed)
	w.log.Info("window cleanup done", "deleted", deleted)
	return doomed, nil
}

// Close saves every tab, releases the models and stops an owned loop. With
// clearState the persisted state of the window is dropped instead.
func (w *Window) Close(ctx context.Context, clearState bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()
	w.log.Info("window close requested", "clear_state", clearState)
	err := w.loop.Do(ctx, func() {
		s := w.selector
		switch {
		case clearState:
			s.ClearState()
		case s.IsTabStateInitialized() || s.TotalTabCount() > 0:
			s.SaveState()
		default:
			// Nothing was loaded; saving would truncate the persisted list.
			w.log.Debug("window close skipped save", "reason", "state not loaded")
		}
		s.Destroy()
	})
	if err != nil {
		w.log.Warn("window close failed", "err", err)
	}
	if stopErr := w.shutdownLoop(ctx); err == nil {
		err = stopErr
	}
	return err
}

// claimCleanup waits for a running orphan scan of the process to finish.
func (w *Window) claimCleanup(ctx context.Context) error {
	coord := w.policy.Coordinator()
	ticker := time.NewTicker(cleanupPollInterval)
	defer ticker.Stop()
	for !coord.BeginCleanup() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

func (w *Window) listedTabIDs() ([]schema.TabID, error) {
	data, err := os.ReadFile(w.policy.MetadataPath(w.cfg.Window))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	state, err := persist.DecodeMetadata(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", w.policy.StateFileName(), err)
	}
	return state.IDs(), nil
}

func (w *Window) shutdownLoop(ctx context.Context) error {
	if w.stopLoop == nil {
		return nil
	}
	w.loop.Stop()
	select {
	case err := <-w.loopErr:
		w.stopLoop()
		return err
	case <-ctx.Done():
		w.log.Warn("window loop stop timed out", "err", ctx.Err())
		w.stopLoop()
		return ctx.Err()
	}
}

func (w *Window) isClosed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}
