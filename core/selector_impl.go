package core

import (
	"context"
	"errors"
	"time"

	"pkt.systems/pslog"
	"pkt.systems/tabkeep/schema"
)

// SelectorImpl is the engine-backed selector of one window. It creates the
// models once the engine is ready, saves tabs as they change and restores
// them from disk.
type SelectorImpl struct {
	*SelectorBase

	registry        *Registry
	engine          Engine
	order           *OrderController
	creator         *TabCreator
	store           *TabPersistentStore
	sink            EventSink
	undoSupported   bool
	closeAllHandler func(incognito bool) bool
	unregister      func()
	visibleTab      *Tab
	nativeReady     bool
	hook            *selectorStoreHook
	forwarder       *eventForwarder
	log             pslog.Logger
}

// NewSelectorImpl constructs the selector and its persistent store and
// registers it with the process registry.
func NewSelectorImpl(deps SelectorDeps) (*SelectorImpl, error) {
	if deps.Registry == nil {
		return nil, errors.New("selector requires a registry")
	}
	if deps.Policy == nil {
		return nil, errors.New("selector requires a persistence policy")
	}
	logger := deps.Logger
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	s := &SelectorImpl{
		SelectorBase:    NewSelectorBase(deps.Window, logger),
		registry:        deps.Registry,
		engine:          deps.Engine,
		sink:            deps.EventSink,
		undoSupported:   deps.UndoSupported,
		closeAllHandler: deps.CloseAllHandler,
		log:             logger,
	}
	s.order = NewOrderController(s)
	s.creator = NewTabCreator(s, deps.Registry, logger)
	store, err := NewTabPersistentStore(StoreDeps{
		Policy:       deps.Policy,
		Selector:     s,
		Creator:      s.creator,
		Registry:     deps.Registry,
		Engine:       deps.Engine,
		Poster:       deps.Poster,
		SaveDebounce: deps.SaveDebounce,
		PoolSize:     deps.PoolSize,
		Logger:       logger,
	})
	if err != nil {
		return nil, err
	}
	s.store = store
	s.hook = &selectorStoreHook{selector: s}
	store.AddObserver(s.hook)
	if s.sink != nil {
		s.forwarder = &eventForwarder{selector: s}
		s.AddObserver(s.forwarder)
		store.AddObserver(s.forwarder)
	}
	s.unregister = deps.Registry.Register(s)
	return s, nil
}

// OnNativeReady creates the models. Until then both models are empty stubs.
func (s *SelectorImpl) OnNativeReady() {
	if s.nativeReady {
		return
	}
	s.nativeReady = true
	normal := NewTabModelImpl(ModelDeps{
		Engine:        s.engine,
		Order:         s.order,
		Delegate:      s,
		UndoSupported: s.undoSupported,
		Logger:        s.log,
	})
	incognito := NewIncognitoTabModel(IncognitoDeps{
		Registry: s.registry,
		Selector: s,
		Engine:   s.engine,
		Create: func() TabModel {
			return NewTabModelImpl(ModelDeps{
				Incognito: true,
				Engine:    s.engine,
				Order:     s.order,
				Delegate:  s,
				Logger:    s.log,
			})
		},
		Logger: s.log,
	})
	s.Initialize(normal, incognito, false)
	for _, model := range s.Models() {
		model.AddObserver(s.hook)
		if s.forwarder != nil {
			model.AddObserver(s.forwarder)
		}
	}
	s.log.Info("selector ready")
}

// Store returns the persistent store of the window.
func (s *SelectorImpl) Store() *TabPersistentStore { return s.store }

// Creator returns the tab creator of the window.
func (s *SelectorImpl) Creator() *TabCreator { return s.creator }

// OrderController returns the placement policy used by both models.
func (s *SelectorImpl) OrderController() *OrderController { return s.order }

// SelectModel switches models and shows the active tab of the new one.
func (s *SelectorImpl) SelectModel(incognito bool) {
	old := s.CurrentModel()
	s.SelectorBase.SelectModel(incognito)
	current := s.CurrentModel()
	if current == old {
		return
	}
	s.RequestToShowTab(CurrentTab(current), schema.SelectFromUser)
	s.notifyChanged()
}

// RequestToShowTab implements ModelDelegate. The tab leaving the screen is
// queued for saving.
func (s *SelectorImpl) RequestToShowTab(tab *Tab, selection schema.SelectionType) {
	if previous := s.visibleTab; previous != nil && previous != tab && !previous.IsClosing() {
		s.store.AddTabToSaveQueue(previous)
	}
	if tab == nil {
		s.visibleTab = nil
		s.notifyChanged()
		return
	}
	if tab == s.visibleTab {
		return
	}
	s.visibleTab = tab
	tab.markShown(time.Now())
	s.store.tabLog(tab.ID()).Trace("selector show tab", "selection", selection.String())
}

// CloseAllTabsRequest implements ModelDelegate. Pending loads of the profile
// are cancelled before the tabs go away.
func (s *SelectorImpl) CloseAllTabsRequest(incognito bool) bool {
	s.store.CancelLoadingTabs(incognito)
	if s.closeAllHandler != nil {
		return s.closeAllHandler(incognito)
	}
	return false
}

// CloseAllTabs closes every tab of both models.
func (s *SelectorImpl) CloseAllTabs(uponExit bool) {
	if uponExit {
		s.store.CancelLoadingTabs(false)
		s.store.CancelLoadingTabs(true)
	}
	s.SelectorBase.CloseAllTabs(uponExit)
}

// OpenNewTab implements TabModelSelector.
func (s *SelectorImpl) OpenNewTab(url string, launch schema.LaunchType, parent *Tab, incognito bool) *Tab {
	return s.creator.CreateNewTab(url, launch, parent, incognito)
}

// TabStateChanged queues tab for saving after its state changed.
func (s *SelectorImpl) TabStateChanged(tab *Tab) {
	s.store.AddTabToSaveQueue(tab)
}

// PendingRestoreIDs lists tabs of this window that are still being restored.
func (s *SelectorImpl) PendingRestoreIDs() []schema.TabID {
	return s.store.PendingRestoreIDs()
}

// SaveState commits pending closures and synchronously writes all state.
func (s *SelectorImpl) SaveState() {
	s.CommitAllTabClosures()
	s.store.SaveState()
}

// LoadState reads the persisted tab list of the window.
func (s *SelectorImpl) LoadState(ctx context.Context, ignoreIncognitoFiles bool) error {
	return s.store.LoadState(ctx, ignoreIncognitoFiles)
}

// RestoreTabs restores the loaded tab list.
func (s *SelectorImpl) RestoreTabs(setActiveTab bool) {
	s.store.RestoreTabs(setActiveTab)
}

// TryRestoreTabStateForURL restores a pending tab with url immediately.
func (s *SelectorImpl) TryRestoreTabStateForURL(url string) bool {
	return s.store.RestoreTabStateForURL(url)
}

// TryRestoreTabStateForID restores the pending tab id immediately.
func (s *SelectorImpl) TryRestoreTabStateForID(id schema.TabID) bool {
	return s.store.RestoreTabStateForID(id)
}

// MergeState absorbs the persisted tabs of a closed window.
func (s *SelectorImpl) MergeState(window int) error {
	return s.store.MergeState(window)
}

// ClearState drops persisted state of the window.
func (s *SelectorImpl) ClearState() {
	s.store.ClearState()
}

// Destroy releases the models and the store and leaves the registry.
func (s *SelectorImpl) Destroy() {
	s.store.Destroy()
	s.destroy()
	s.visibleTab = nil
	if s.unregister != nil {
		s.unregister()
		s.unregister = nil
	}
	s.log.Info("selector destroyed")
}

// selectorStoreHook feeds model activity into the persistent store.
type selectorStoreHook struct {
	TabModelObserverBase
	StoreObserverBase
	selector *SelectorImpl
}

func (h *selectorStoreHook) DidAddTab(tab *Tab, _ schema.LaunchType) {
	store := h.selector.store
	if tab.IsDirty() {
		store.AddTabToSaveQueue(tab)
	}
	store.SaveTabListAsync()
}

func (h *selectorStoreHook) DidSelectTab(*Tab, schema.SelectionType, schema.TabID) {
	h.selector.store.SaveTabListAsync()
}

func (h *selectorStoreHook) DidMoveTab(*Tab, int, int) {
	h.selector.store.SaveTabListAsync()
}

func (h *selectorStoreHook) TabPendingClosure(*Tab) {
	h.selector.store.SaveTabListAsync()
}

func (h *selectorStoreHook) TabClosureUndone(*Tab) {
	h.selector.store.SaveTabListAsync()
}

func (h *selectorStoreHook) DidCloseTab(id schema.TabID, _ bool) {
	store := h.selector.store
	store.RemoveTabFromQueues(id)
	store.SaveTabListAsync()
}

func (h *selectorStoreHook) TabRemoved(tab *Tab) {
	store := h.selector.store
	store.forgetTab(tab.ID())
	store.SaveTabListAsync()
}

func (h *selectorStoreHook) OnStateLoaded() {
	h.selector.markTabStateInitialized()
}

// eventForwarder turns model, selector and store notifications into tab
// events for the window's sink.
type eventForwarder struct {
	TabModelObserverBase
	TabModelSelectorObserverBase
	StoreObserverBase
	selector *SelectorImpl
}

func (f *eventForwarder) emit(kind schema.TabEventType, tab *Tab, incognito bool) {
	s := f.selector
	event := schema.TabEvent{
		Window:    s.Window(),
		Type:      kind,
		ActiveTab: schema.InvalidTabID,
		Incognito: incognito,
	}
	if tab != nil {
		model := s.Model(tab.IsIncognito())
		event.Tab = tab.Snapshot(CurrentTab(model) == tab)
	}
	if current := s.CurrentTab(); current != nil {
		event.ActiveTab = current.ID()
	}
	s.sink.OnTabEvent(event)
}

func (f *eventForwarder) DidAddTab(tab *Tab, _ schema.LaunchType) {
	f.emit(schema.TabEventAdded, tab, tab.IsIncognito())
}

func (f *eventForwarder) DidSelectTab(tab *Tab, _ schema.SelectionType, _ schema.TabID) {
	f.emit(schema.TabEventSelected, tab, tab.IsIncognito())
}

func (f *eventForwarder) DidMoveTab(tab *Tab, _, _ int) {
	f.emit(schema.TabEventMoved, tab, tab.IsIncognito())
}

func (f *eventForwarder) TabPendingClosure(tab *Tab) {
	f.emit(schema.TabEventPendingClosure, tab, tab.IsIncognito())
}

func (f *eventForwarder) TabClosureUndone(tab *Tab) {
	f.emit(schema.TabEventClosureUndone, tab, tab.IsIncognito())
}

func (f *eventForwarder) DidCloseTab(id schema.TabID, incognito bool) {
	s := f.selector
	event := schema.TabEvent{
		Window:    s.Window(),
		Type:      schema.TabEventClosed,
		Tab:       schema.TabSnapshot{ID: id, Incognito: incognito, ParentID: schema.InvalidTabID},
		ActiveTab: schema.InvalidTabID,
		Incognito: incognito,
	}
	if current := s.CurrentTab(); current != nil {
		event.ActiveTab = current.ID()
	}
	s.sink.OnTabEvent(event)
}

func (f *eventForwarder) OnChange() {
	f.selector.sink.OnChange(f.selector.Window())
}

func (f *eventForwarder) OnTabModelSelected(newModel, _ TabModel) {
	f.emit(schema.TabEventModelSelected, nil, newModel.IsIncognito())
}

func (f *eventForwarder) OnInitialized(tabCount int) {
	s := f.selector
	s.sink.OnTabEvent(schema.TabEvent{
		Window:    s.Window(),
		Type:      schema.TabEventStateLoaded,
		ActiveTab: schema.InvalidTabID,
		Count:     tabCount,
	})
}

func (f *eventForwarder) OnStateLoaded() {
	f.emit(schema.TabEventRestored, nil, f.selector.IsIncognitoSelected())
}
