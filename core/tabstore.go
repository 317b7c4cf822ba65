package core

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync/atomic"
	"time"

	"pkt.systems/pslog"
	"pkt.systems/tabkeep/internal/logx"
	"pkt.systems/tabkeep/internal/persist"
	"pkt.systems/tabkeep/internal/taskrunner"
	"pkt.systems/tabkeep/schema"
)

// TabRestoreDetails is a tab listed in metadata that has not been restored yet.
type TabRestoreDetails struct {
	ID            schema.TabID
	OriginalIndex int
	// Incognito is nil until the profile is known.
	Incognito *bool
	URL       string
	FromMerge bool
}

// incognitoFor resolves the profile, preferring what the state file says.
func (d *TabRestoreDetails) incognitoFor(state *persist.TabState) bool {
	if state != nil {
		return state.Incognito
	}
	return d.Incognito != nil && *d.Incognito
}

// StoreObserver receives persistence notifications on the owner loop.
type StoreObserver interface {
	// OnInitialized fires once metadata was read, with the number of tabs to restore.
	OnInitialized(tabCount int)
	OnDetailsRead(index int, id schema.TabID, url string, isNormalActive, isIncognitoActive bool)
	// OnStateLoaded fires when the first restore pass finished.
	OnStateLoaded()
	// OnStateMerged fires when another window's tabs were absorbed.
	OnStateMerged()
	OnMetadataSavedAsync()
}

// StoreObserverBase implements StoreObserver with no-ops.
type StoreObserverBase struct{}

func (StoreObserverBase) OnInitialized(int)                                   {}
func (StoreObserverBase) OnDetailsRead(int, schema.TabID, string, bool, bool) {}
func (StoreObserverBase) OnStateLoaded()                                      {}
func (StoreObserverBase) OnStateMerged()                                      {}
func (StoreObserverBase) OnMetadataSavedAsync()                               {}

type saveTabJob struct {
	tab   *Tab
	task  *taskrunner.Task
	saved atomic.Bool
}

type loadTabJob struct {
	details *TabRestoreDetails
	task    *taskrunner.Task
}

type restoredTab struct {
	originalIndex int
	id            schema.TabID
}

// restoredTabs is kept sorted by original index.
type restoredTabs []restoredTab

func (r restoredTabs) put(originalIndex int, id schema.TabID) restoredTabs {
	i := sort.Search(len(r), func(i int) bool { return r[i].originalIndex >= originalIndex })
	if i < len(r) && r[i].originalIndex == originalIndex {
		r[i].id = id
		return r
	}
	r = append(r, restoredTab{})
	copy(r[i+1:], r[i:])
	r[i] = restoredTab{originalIndex: originalIndex, id: id}
	return r
}

// TabPersistentStore writes the tab list and per-tab state of one window and
// restores them on start. All methods run on the owner loop; disk work goes to
// a serial runner and read-only scans to a pool.
type TabPersistentStore struct {
	policy   *persist.Policy
	selector TabModelSelector
	creator  *TabCreator
	registry *Registry
	engine   Engine
	files    persist.TabStateFiles
	serial   *taskrunner.Serial
	pool     *taskrunner.Pool
	debounce time.Duration
	log      pslog.Logger
	// logCtx carries the logger and window marker into background work.
	logCtx context.Context

	observers ObserverList[StoreObserver]

	saveQueue   []*Tab
	saveJob     *saveTabJob
	metadataJob *taskrunner.Task

	restoreQueue []*TabRestoreDetails
	loadJob      *loadTabJob
	cancelLoads  [2]bool
	restored     [2]restoredTabs
	loading      bool
	stateLoaded  bool
	merging      []int

	destroyed bool
}

// NewTabPersistentStore constructs a store and starts outstanding layout migrations.
func NewTabPersistentStore(deps StoreDeps) (*TabPersistentStore, error) {
	if deps.Policy == nil {
		return nil, errors.New("tab store requires a persistence policy")
	}
	if deps.Selector == nil || deps.Registry == nil {
		return nil, errors.New("tab store requires a selector and registry")
	}
	logger := deps.Logger
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	creator := deps.Creator
	if creator == nil {
		creator = NewTabCreator(deps.Selector, deps.Registry, logger)
	}
	runnerDeps := taskrunner.Deps{Poster: deps.Poster, Logger: logger}
	s := &TabPersistentStore{
		policy:   deps.Policy,
		selector: deps.Selector,
		creator:  creator,
		registry: deps.Registry,
		engine:   deps.Engine,
		files: persist.TabStateFiles{
			Dir:    deps.Policy.StateDir(),
			Cipher: deps.Registry.Cipher(),
			Logger: logger,
		},
		serial:   taskrunner.NewSerial(runnerDeps),
		pool:     taskrunner.NewPool(runnerDeps, deps.PoolSize),
		debounce: deps.SaveDebounce,
		log:      logger,
		logCtx:   logx.ContextWithWindow(pslog.ContextWithLogger(context.Background(), logger), deps.Policy.Window()),
	}
	if s.policy.PerformInitialization(s.serial) {
		s.log.Info("tabstore layout migration started")
	}
	return s, nil
}

// tabLog returns the store logger annotated with id.
func (s *TabPersistentStore) tabLog(id schema.TabID) pslog.Logger {
	return logx.WithWindowTab(s.logCtx, s.policy.Window(), id)
}

// taskContext hands the store's logger and window marker to background work.
func (s *TabPersistentStore) taskContext(ctx context.Context) context.Context {
	return pslog.ContextWithLogger(logx.CopyContextFields(ctx, s.logCtx), s.log)
}

// AddObserver registers a store observer.
func (s *TabPersistentStore) AddObserver(observer StoreObserver) { s.observers.Add(observer) }

// RemoveObserver unregisters a store observer.
func (s *TabPersistentStore) RemoveObserver(observer StoreObserver) { s.observers.Remove(observer) }

// MetadataPath returns the metadata file of this window.
func (s *TabPersistentStore) MetadataPath() string {
	return s.policy.MetadataPath(s.policy.Window())
}

// AddTabToSaveQueue queues a dirty tab for a background save.
func (s *TabPersistentStore) AddTabToSaveQueue(tab *Tab) {
	if s.enqueue(tab) {
		s.saveNextTab()
	}
}

func (s *TabPersistentStore) enqueue(tab *Tab) bool {
	if s.destroyed || tab == nil || tab.IsDestroyed() || !tab.IsDirty() {
		return false
	}
	if schema.IsContentSchemeURL(tab.URL()) {
		return false
	}
	for _, queued := range s.saveQueue {
		if queued == tab {
			return false
		}
	}
	s.saveQueue = append(s.saveQueue, tab)
	return true
}

// saveNextTab starts the next queued save unless one is in flight. Once the
// queue drains the tab list is written.
func (s *TabPersistentStore) saveNextTab() {
	if s.destroyed || s.saveJob != nil {
		return
	}
	for len(s.saveQueue) > 0 {
		tab := s.saveQueue[0]
		s.saveQueue = s.saveQueue[1:]
		state, err := s.captureState(tab)
		if err != nil {
			s.tabLog(tab.ID()).Warn("tabstore serialize tab failed", "err", err)
			s.deleteTabFilesAsync(tab.ID())
			continue
		}
		s.startSave(tab, state)
		return
	}
	s.SaveTabListAsync()
}

func (s *TabPersistentStore) startSave(tab *Tab, state persist.TabState) {
	job := &saveTabJob{tab: tab}
	id := tab.ID()
	files := s.files
	window := s.policy.Window()
	job.task = s.serial.Submit("save-tab", func(ctx context.Context) func() {
		if ctx.Err() != nil {
			return nil
		}
		ctx = logx.ContextWithTab(s.taskContext(ctx), id)
		if err := files.Write(id, state); err != nil {
			log := logx.WithWindowTab(ctx, window, id)
			log.Warn("tabstore save tab failed", "err", err)
			if err := persist.RemoveFile(files.Path(id, state.Incognito)); err != nil {
				log.Warn("tabstore remove partial tab failed", "err", err)
			}
		} else {
			job.saved.Store(true)
		}
		return func() {
			if s.saveJob != job {
				return
			}
			s.saveJob = nil
			if job.saved.Load() {
				job.tab.SetDirty(false)
			}
			s.saveNextTab()
		}
	})
	s.saveJob = job
	s.tabLog(id).Trace("tabstore save tab queued")
}

func (s *TabPersistentStore) captureState(tab *Tab) (persist.TabState, error) {
	state := tab.State()
	if s.engine != nil && tab.IsInitialized() {
		contents, err := s.engine.SerializeTab(tab)
		if err != nil {
			return persist.TabState{}, err
		}
		state.Contents = contents
	}
	return state, nil
}

// SaveTabListAsync writes the tab list in the background, superseding a
// write that has not happened yet.
func (s *TabPersistentStore) SaveTabListAsync() {
	if s.destroyed {
		return
	}
	if s.metadataJob != nil {
		s.metadataJob.Cancel()
	}
	data := persist.EncodeMetadata(s.Metadata())
	path := s.MetadataPath()
	debounce := s.debounce
	log := s.log
	var task *taskrunner.Task
	task = s.serial.Submit("save-metadata", func(ctx context.Context) func() {
		if debounce > 0 {
			timer := time.NewTimer(debounce)
			defer timer.Stop()
			select {
			case <-timer.C:
			case <-ctx.Done():
				return nil
			}
		}
		if ctx.Err() != nil {
			return nil
		}
		if err := persist.WriteFileAtomic(path, data, log); err != nil {
			log.Warn("tabstore save metadata failed", "err", err)
			return nil
		}
		return func() {
			if s.metadataJob == task {
				s.metadataJob = nil
			}
			s.observers.Each(func(o StoreObserver) { o.OnMetadataSavedAsync() })
		}
	})
	s.metadataJob = task
}

// Metadata captures the tab list of both models followed by tabs still
// waiting to be restored. Tabs with content-scheme URLs are left out, and so
// are pending tabs known to be incognito, since the pending section reads
// back as normal tabs.
func (s *TabPersistentStore) Metadata() persist.Metadata {
	var m persist.Metadata
	m.Incognito, m.IncognitoIndex = metadataEntries(s.selector.Model(true))
	m.Normal, m.NormalIndex = metadataEntries(s.selector.Model(false))
	for _, details := range s.pendingRestores() {
		if details.Incognito != nil && *details.Incognito {
			continue
		}
		m.Pending = append(m.Pending, persist.MetadataEntry{ID: details.ID, URL: details.URL})
	}
	return m
}

func metadataEntries(model TabList) ([]persist.MetadataEntry, int) {
	active := model.Index()
	entries := make([]persist.MetadataEntry, 0, model.Count())
	for i := 0; i < model.Count(); i++ {
		tab := model.TabAt(i)
		if schema.IsContentSchemeURL(tab.URL()) {
			if i < model.Index() {
				active--
			} else if i == model.Index() {
				active = schema.InvalidIndex
			}
			continue
		}
		entries = append(entries, persist.MetadataEntry{ID: tab.ID(), URL: tab.URL()})
	}
	return entries, active
}

func (s *TabPersistentStore) pendingRestores() []*TabRestoreDetails {
	pending := make([]*TabRestoreDetails, 0, len(s.restoreQueue)+1)
	if s.loadJob != nil {
		pending = append(pending, s.loadJob.details)
	}
	return append(pending, s.restoreQueue...)
}

// PendingRestoreIDs lists tabs read from metadata but not restored yet.
func (s *TabPersistentStore) PendingRestoreIDs() []schema.TabID {
	pending := s.pendingRestores()
	ids := make([]schema.TabID, 0, len(pending))
	for _, details := range pending {
		ids = append(ids, details.ID)
	}
	return ids
}

// SaveState synchronously writes the tab list and every unsaved tab. It is
// meant for the window going away and blocks the owner loop on disk I/O.
func (s *TabPersistentStore) SaveState() {
	if s.destroyed {
		return
	}
	if s.metadataJob != nil {
		s.metadataJob.Cancel()
		s.metadataJob.Wait()
		s.metadataJob = nil
	}
	if err := persist.WriteFileAtomic(s.MetadataPath(), persist.EncodeMetadata(s.Metadata()), s.log); err != nil {
		s.log.Warn("tabstore save metadata failed", "err", err)
	}

	// A save that reached the disk before the cancel leaves its tab clean.
	if job := s.saveJob; job != nil {
		job.task.Cancel()
		job.task.Wait()
		s.saveJob = nil
		if job.saved.Load() {
			job.tab.SetDirty(false)
		} else {
			s.enqueue(job.tab)
		}
	}
	s.enqueue(CurrentTab(s.selector.Model(false)))
	s.enqueue(CurrentTab(s.selector.Model(true)))

	saved := 0
	for _, tab := range s.saveQueue {
		state, err := s.captureState(tab)
		if err == nil {
			err = s.files.Write(tab.ID(), state)
		}
		if err != nil {
			log := s.tabLog(tab.ID())
			log.Warn("tabstore save tab failed", "err", err)
			if err := persist.RemoveFile(s.files.Path(tab.ID(), tab.IsIncognito())); err != nil {
				log.Warn("tabstore remove partial tab failed", "err", err)
			}
			continue
		}
		tab.SetDirty(false)
		saved++
	}
	s.saveQueue = nil
	s.log.Info("tabstore state saved", "tabs", saved)
}

// LoadState reads this window's metadata and queues its tabs for restore, the
// active tabs first. With ignoreIncognitoFiles incognito tabs are dropped and
// their files deleted.
func (s *TabPersistentStore) LoadState(ctx context.Context, ignoreIncognitoFiles bool) error {
	if s.destroyed {
		return schema.ErrStoreDestroyed
	}
	if err := s.policy.WaitForInitialization(ctx); err != nil {
		return err
	}
	s.cancelLoads = [2]bool{}
	s.restored = [2]restoredTabs{}
	s.loading = true

	state, ok := s.readMetadata(s.MetadataPath())
	maxID := state.MaxID()
	for _, path := range s.policy.OtherMetadataPaths() {
		if other, ok := s.readMetadata(path); ok && other.MaxID() > maxID {
			maxID = other.MaxID()
		}
	}
	if maxID.Valid() {
		s.registry.EnsureIDAbove(maxID)
	}
	if ok {
		s.queueDetails(state, false, ignoreIncognitoFiles)
	}
	s.cleanUpStaleFiles()
	count := len(s.restoreQueue)
	s.log.Info("tabstore state read", "tabs", count)
	s.observers.Each(func(o StoreObserver) { o.OnInitialized(count) })
	return nil
}

// readMetadata returns false for a missing or unreadable file.
func (s *TabPersistentStore) readMetadata(path string) (persist.SavedState, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.log.Warn("tabstore read metadata failed", "path", path, "err", err)
		}
		return persist.SavedState{}, false
	}
	state, err := persist.DecodeMetadata(data)
	if err != nil {
		s.log.Warn("tabstore metadata unreadable", "path", path, "err", err)
		return persist.SavedState{}, false
	}
	return state, true
}

func (s *TabPersistentStore) queueDetails(state persist.SavedState, fromMerge, ignoreIncognito bool) {
	incognitoSelected := s.selector.IsIncognitoSelected()
	var selectedActive, otherActive *TabRestoreDetails
	var rest []*TabRestoreDetails
	for i, entry := range state.Entries {
		if ignoreIncognito && entry.Incognito != nil && *entry.Incognito {
			s.deleteTabFilesAsync(entry.ID)
			continue
		}
		if s.registry.TabExistsInAnySelector(entry.ID) || s.hasPendingRestore(entry.ID) {
			s.tabLog(entry.ID).Debug("tabstore restore skipped duplicate")
			continue
		}
		details := &TabRestoreDetails{
			ID:            entry.ID,
			OriginalIndex: i,
			Incognito:     entry.Incognito,
			URL:           entry.URL,
			FromMerge:     fromMerge,
		}
		switch {
		case fromMerge:
			rest = append(rest, details)
		case (entry.IsIncognitoActive && incognitoSelected) || (entry.IsNormalActive && !incognitoSelected):
			selectedActive = details
		case entry.IsIncognitoActive || entry.IsNormalActive:
			otherActive = details
		default:
			rest = append(rest, details)
		}
		s.observers.Each(func(o StoreObserver) {
			o.OnDetailsRead(i, entry.ID, entry.URL, entry.IsNormalActive, entry.IsIncognitoActive)
		})
	}
	var front []*TabRestoreDetails
	for _, details := range []*TabRestoreDetails{selectedActive, otherActive} {
		if details != nil {
			front = append(front, details)
		}
	}
	s.restoreQueue = append(append(front, s.restoreQueue...), rest...)
}

func (s *TabPersistentStore) hasPendingRestore(id schema.TabID) bool {
	for _, details := range s.pendingRestores() {
		if details.ID == id {
			return true
		}
	}
	return false
}

// cleanUpStaleFiles removes tab files whose id was never handed out according
// to the metadata just read. Ids are bumped past them first so new tabs cannot
// collide with a pending deletion.
func (s *TabPersistentStore) cleanUpStaleFiles() {
	threshold := s.registry.PeekNextTabID()
	entries, err := os.ReadDir(s.policy.StateDir())
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.log.Warn("tabstore stale scan failed", "err", err)
		}
		return
	}
	var stale []string
	maxStale := schema.InvalidTabID
	for _, entry := range entries {
		id, _, ok := persist.ParseTabStateFileName(entry.Name())
		if !ok || id < threshold {
			continue
		}
		stale = append(stale, entry.Name())
		if id > maxStale {
			maxStale = id
		}
	}
	if len(stale) == 0 {
		return
	}
	s.registry.EnsureIDAbove(maxStale)
	policy := s.policy
	log := s.log
	s.serial.Submit("delete-stale", func(context.Context) func() {
		deleted := policy.DeleteFiles(stale)
		log.Info("tabstore stale files deleted", "files", deleted, "threshold", int32(threshold))
		return nil
	})
}

// RestoreTabs starts restoring queued tabs. With setActive the front of the
// queue is restored synchronously until one tab made it into a model.
func (s *TabPersistentStore) RestoreTabs(setActive bool) {
	if s.destroyed {
		return
	}
	if setActive {
		for len(s.restoreQueue) > 0 && len(s.restored[0]) == 0 && len(s.restored[1]) == 0 {
			details := s.restoreQueue[0]
			s.restoreQueue = s.restoreQueue[1:]
			s.restoreTab(details, s.readTabState(details), true)
		}
	}
	s.loadNextTab()
}

func (s *TabPersistentStore) loadNextTab() {
	if s.destroyed {
		return
	}
	if len(s.restoreQueue) == 0 {
		s.finishRestore()
		return
	}
	details := s.restoreQueue[0]
	s.restoreQueue = s.restoreQueue[1:]
	job := &loadTabJob{details: details}
	job.task = s.serial.Submit("load-tab", func(ctx context.Context) func() {
		if ctx.Err() != nil {
			return nil
		}
		state := s.readTabState(details)
		return func() {
			if s.loadJob != job {
				return
			}
			s.loadJob = nil
			incognito := details.incognitoFor(state)
			if s.cancelLoads[schema.ModelIndexFor(incognito)] {
				s.deleteTabFilesAsync(details.ID)
			} else {
				s.restoreTab(details, state, false)
			}
			s.loadNextTab()
		}
	})
	s.loadJob = job
}

// readTabState loads the state file of details; nil means none could be read.
// It touches no owner state and runs on either side.
func (s *TabPersistentStore) readTabState(details *TabRestoreDetails) *persist.TabState {
	var (
		state persist.TabState
		err   error
	)
	if details.Incognito != nil {
		state, err = s.files.ReadProfile(details.ID, *details.Incognito)
	} else {
		state, err = s.files.Read(details.ID)
	}
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.tabLog(details.ID).Debug("tabstore tab state missing")
		} else {
			s.tabLog(details.ID).Warn("tabstore read tab state failed", "err", err)
		}
		return nil
	}
	return &state
}

// restoreTab adds a tab for details to its model. Without state a normal tab
// falls back to a fresh tab at its last known URL; everything else is dropped.
func (s *TabPersistentStore) restoreTab(details *TabRestoreDetails, state *persist.TabState, setActive bool) bool {
	incognito := details.incognitoFor(state)
	fallback := false
	if state == nil {
		switch {
		case details.Incognito == nil:
			s.tabLog(details.ID).Warn("tabstore restore dropped tab of unknown profile")
			return false
		case incognito:
			s.tabLog(details.ID).Info("tabstore restore dropped incognito tab without state")
			return false
		case details.URL == "":
			s.tabLog(details.ID).Info("tabstore restore dropped tab without url")
			return false
		}
		state = &persist.TabState{
			URL:      details.URL,
			ParentID: schema.InvalidTabID,
			Launch:   schema.LaunchFromRestore,
		}
		fallback = true
	}

	model := s.selector.Model(incognito)
	slot := schema.ModelIndexFor(incognito)
	index := s.restoredIndex(details, model, s.restored[slot])
	tab := s.creator.CreateFrozenTab(*state, details.ID, index)
	if tab == nil {
		return false
	}
	if fallback {
		s.tabLog(details.ID).Warn("tabstore restore fell back to url")
		tab.SetDirty(true)
		s.AddTabToSaveQueue(tab)
	}

	if setActive || (details.FromMerge && index == 0) {
		wasIncognito := s.selector.IsIncognitoSelected()
		selectedCount := s.selector.CurrentModel().Count()
		model.SetIndex(TabIndexByID(model, tab.ID()), schema.SelectFromUser)
		if details.FromMerge && wasIncognito != s.selector.IsIncognitoSelected() && selectedCount != 0 {
			s.selector.SelectModel(wasIncognito)
		}
	}
	s.restored[slot] = s.restored[slot].put(details.OriginalIndex, tab.ID())
	s.tabLog(tab.ID()).Trace("tabstore tab restored", "index", index)
	return true
}

// restoredIndex keeps restored tabs in their original relative order. Merged
// tabs go to the end.
func (s *TabPersistentStore) restoredIndex(details *TabRestoreDetails, model TabModel, restored restoredTabs) int {
	if details.FromMerge {
		return model.Count()
	}
	if len(restored) > 0 && details.OriginalIndex > restored[len(restored)-1].originalIndex {
		return len(restored)
	}
	for _, entry := range restored {
		if entry.originalIndex > details.OriginalIndex {
			if next := model.TabByID(entry.id); next != nil {
				return model.IndexOf(next)
			}
			return schema.InvalidIndex
		}
	}
	return 0
}

func (s *TabPersistentStore) finishRestore() {
	if !s.loading {
		return
	}
	s.loading = false
	s.restored = [2]restoredTabs{}
	merged := s.merging
	s.merging = nil
	if len(merged) > 0 {
		s.SaveTabListAsync()
		for _, window := range merged {
			path := s.policy.MetadataPath(window)
			log := s.log
			s.serial.Submit("delete-merged-metadata", func(context.Context) func() {
				if err := persist.RemoveFile(path); err != nil {
					log.Warn("tabstore delete merged metadata failed", "path", path, "err", err)
				}
				return nil
			})
		}
	}
	s.cleanUpOrphans()
	normal, incognito := s.selector.Model(false).Count(), s.selector.Model(true).Count()
	s.log.Info("tabstore restore finished", "normal", normal, "incognito", incognito)
	if !s.stateLoaded {
		s.stateLoaded = true
		s.observers.Each(func(o StoreObserver) { o.OnStateLoaded() })
	}
	if len(merged) > 0 {
		s.observers.Each(func(o StoreObserver) { o.OnStateMerged() })
	}
}

// cleanUpOrphans deletes tab files no window references. Ids handed out after
// the snapshot are left alone.
func (s *TabPersistentStore) cleanUpOrphans() {
	coord := s.policy.Coordinator()
	if !coord.BeginCleanup() {
		s.log.Debug("tabstore orphan cleanup already running")
		return
	}
	live := s.registry.LiveTabIDs(nil)
	for _, id := range s.PendingRestoreIDs() {
		live[id] = struct{}{}
	}
	nextID := s.registry.PeekNextTabID()
	policy := s.policy
	files := s.files
	window := s.policy.Window()
	s.pool.Submit("orphan-cleanup", func(ctx context.Context) func() {
		defer coord.EndCleanup()
		ctx = s.taskContext(ctx)
		log := logx.Ctx(ctx)
		names, err := policy.UnusedFiles(ctx, func(id schema.TabID) bool {
			_, ok := live[id]
			return ok
		})
		if err != nil {
			log.Warn("tabstore orphan scan failed", "err", err)
			return nil
		}
		doomed := make(map[schema.TabID]struct{})
		for _, name := range names {
			if id, _, ok := persist.ParseTabStateFileName(name); ok && id < nextID {
				doomed[id] = struct{}{}
			}
		}
		deleted := 0
		for id := range doomed {
			if err := files.Delete(id); err != nil {
				logx.WithWindowTab(ctx, window, id).Warn("tabstore delete orphan failed", "err", err)
				continue
			}
			deleted++
		}
		return func() {
			log.Info("tabstore orphan cleanup done", "deleted", deleted)
		}
	})
}

// RestoreTabStateForURL restores the queued tab with url right away.
func (s *TabPersistentStore) RestoreTabStateForURL(url string) bool {
	if url == "" {
		return false
	}
	return s.restoreNow(func(d *TabRestoreDetails) bool { return d.URL == url })
}

// RestoreTabStateForID restores the queued tab id right away.
func (s *TabPersistentStore) RestoreTabStateForID(id schema.TabID) bool {
	return s.restoreNow(func(d *TabRestoreDetails) bool { return d.ID == id })
}

// restoreNow steals a pending restore. A stolen in-flight load is restored
// before the chain moves on, so the chain cannot finish without it.
func (s *TabPersistentStore) restoreNow(match func(*TabRestoreDetails) bool) bool {
	if s.destroyed {
		return false
	}
	var details *TabRestoreDetails
	stolen := false
	if s.loadJob != nil && match(s.loadJob.details) {
		s.loadJob.task.Cancel()
		details = s.loadJob.details
		s.loadJob = nil
		stolen = true
	}
	if details == nil {
		for i, queued := range s.restoreQueue {
			if match(queued) {
				details = queued
				s.restoreQueue = append(s.restoreQueue[:i], s.restoreQueue[i+1:]...)
				break
			}
		}
	}
	if details == nil {
		return false
	}
	restored := s.restoreTab(details, s.readTabState(details), false)
	if stolen {
		s.loadNextTab()
	}
	return restored
}

// CancelLoadingTabs stops restoring tabs of one profile; their files are deleted.
func (s *TabPersistentStore) CancelLoadingTabs(incognito bool) {
	s.cancelLoads[schema.ModelIndexFor(incognito)] = true
}

// RemoveTabFromQueues forgets a closed tab and deletes its state files.
func (s *TabPersistentStore) RemoveTabFromQueues(id schema.TabID) {
	s.forgetTab(id)
	s.deleteTabFilesAsync(id)
}

// forgetTab drops id from both queues and cancels its in-flight work.
func (s *TabPersistentStore) forgetTab(id schema.TabID) {
	for i, tab := range s.saveQueue {
		if tab.ID() == id {
			s.saveQueue = append(s.saveQueue[:i], s.saveQueue[i+1:]...)
			break
		}
	}
	for i, details := range s.restoreQueue {
		if details.ID == id {
			s.restoreQueue = append(s.restoreQueue[:i], s.restoreQueue[i+1:]...)
			break
		}
	}
	if s.loadJob != nil && s.loadJob.details.ID == id {
		s.loadJob.task.Cancel()
		s.loadJob = nil
		s.loadNextTab()
	}
	if s.saveJob != nil && s.saveJob.tab.ID() == id {
		s.saveJob.task.Cancel()
		s.saveJob = nil
		s.saveNextTab()
	}
}

// deleteTabFilesAsync removes the state files of id in both profiles.
func (s *TabPersistentStore) deleteTabFilesAsync(id schema.TabID) {
	if s.destroyed {
		return
	}
	files := s.files
	window := s.policy.Window()
	s.serial.Submit("delete-tab", func(ctx context.Context) func() {
		if err := files.Delete(id); err != nil {
			logx.WithWindowTab(s.taskContext(ctx), window, id).Warn("tabstore delete tab failed", "err", err)
		}
		return nil
	})
}

// MergeState absorbs the tab list of a window that is no longer open. Its
// tabs are appended to this window and its metadata deleted once restored.
func (s *TabPersistentStore) MergeState(window int) error {
	if s.destroyed {
		return schema.ErrStoreDestroyed
	}
	if window == s.policy.Window() {
		return fmt.Errorf("%w: cannot merge window %d into itself", schema.ErrInvalidWindow, window)
	}
	if s.registry.SelectorForWindow(window) != nil {
		return fmt.Errorf("%w: window %d is open", schema.ErrInvalidWindow, window)
	}
	path := s.policy.MetadataPath(window)
	state, ok := s.readMetadata(path)
	if !ok {
		return nil
	}
	s.merging = append(s.merging, window)
	s.queueDetails(state, true, false)
	s.log.Info("tabstore merging window", "from", window, "tabs", len(state.Entries))
	if !s.loading {
		s.loading = true
		s.restored = [2]restoredTabs{}
		s.loadNextTab()
	}
	return nil
}

// ClearState deletes this window's metadata and every tab file no other open
// or persisted window still references.
func (s *TabPersistentStore) ClearState() {
	if s.destroyed {
		return
	}
	live := s.registry.LiveTabIDs(s.selector)
	path := s.MetadataPath()
	policy := s.policy
	log := s.log
	s.serial.Submit("clear-state", func(ctx context.Context) func() {
		if err := persist.RemoveFile(path); err != nil {
			log.Warn("tabstore clear metadata failed", "err", err)
		}
		names, err := policy.UnusedFiles(ctx, func(id schema.TabID) bool {
			_, ok := live[id]
			return ok
		})
		if err != nil {
			log.Warn("tabstore clear scan failed", "err", err)
			return nil
		}
		deleted := policy.DeleteFiles(names)
		log.Info("tabstore state cleared", "deleted", deleted)
		return nil
	})
	if !s.stateLoaded {
		s.stateLoaded = true
		s.observers.Each(func(o StoreObserver) { o.OnStateLoaded() })
	}
}

// Destroy cancels outstanding saves and loads and stops the runners after
// queued deletions ran.
func (s *TabPersistentStore) Destroy() {
	if s.destroyed {
		return
	}
	s.destroyed = true
	if s.loadJob != nil {
		s.loadJob.task.Cancel()
		s.loadJob = nil
	}
	if s.saveJob != nil {
		s.saveJob.task.Cancel()
		s.saveJob = nil
	}
	if s.metadataJob != nil {
		s.metadataJob.Cancel()
		s.metadataJob = nil
	}
	s.saveQueue = nil
	s.restoreQueue = nil
	s.serial.Close()
	s.pool.Close()
	s.observers.Clear()
	s.log.Debug("tabstore destroyed")
}
