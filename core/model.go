package core

import (
	"context"

	"pkt.systems/pslog"
	"pkt.systems/tabkeep/schema"
)

// ModelDeps configures a TabModelImpl.
type ModelDeps struct {
	Incognito bool
	Engine    Engine
	Order     *OrderController
	Delegate  ModelDelegate
	// UndoSupported enables pending closures for the normal model.
	UndoSupported bool
	Logger        pslog.Logger
}

// TabModelImpl is the engine-backed tab collection of one profile. Closed tabs
// with undo stay in a comprehensive list until committed or cancelled.
type TabModelImpl struct {
	incognito     bool
	undoSupported bool
	engine        Engine
	order         *OrderController
	delegate      ModelDelegate
	log           pslog.Logger

	tabs      []*Tab
	index     int
	rewound   rewoundList
	observers ObserverList[TabModelObserver]
	destroyed bool
}

// NewTabModelImpl constructs an empty model.
func NewTabModelImpl(deps ModelDeps) *TabModelImpl {
	logger := deps.Logger
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	m := &TabModelImpl{
		incognito:     deps.Incognito,
		undoSupported: deps.UndoSupported,
		engine:        deps.Engine,
		order:         deps.Order,
		delegate:      deps.Delegate,
		log:           logger.With("incognito", deps.Incognito),
		index:         schema.InvalidIndex,
	}
	m.rewound.model = m
	return m
}

func (m *TabModelImpl) IsIncognito() bool { return m.incognito }
func (m *TabModelImpl) Index() int        { return m.index }
func (m *TabModelImpl) Count() int        { return len(m.tabs) }

// TabAt implements TabList.
func (m *TabModelImpl) TabAt(index int) *Tab {
	if index < 0 || index >= len(m.tabs) {
		return nil
	}
	return m.tabs[index]
}

// IndexOf implements TabList.
func (m *TabModelImpl) IndexOf(tab *Tab) int {
	if tab == nil {
		return schema.InvalidIndex
	}
	for i, existing := range m.tabs {
		if existing == tab {
			return i
		}
	}
	return schema.InvalidIndex
}

// TabByID returns the visible tab with id or nil.
func (m *TabModelImpl) TabByID(id schema.TabID) *Tab {
	for _, tab := range m.tabs {
		if tab.ID() == id {
			return tab
		}
	}
	return nil
}

// IsClosurePending implements TabList.
func (m *TabModelImpl) IsClosurePending(id schema.TabID) bool {
	return m.rewound.pendingTab(id) != nil
}

// ComprehensiveModel implements TabModel.
func (m *TabModelImpl) ComprehensiveModel() TabList { return &m.rewound }

// SupportsPendingClosures implements TabModel.
func (m *TabModelImpl) SupportsPendingClosures() bool {
	return !m.incognito && m.undoSupported
}

func (m *TabModelImpl) isCurrentModel() bool {
	return m.delegate.IsIncognitoSelected() == m.incognito
}

// AddObserver implements TabModel.
func (m *TabModelImpl) AddObserver(observer TabModelObserver) { m.observers.Add(observer) }

// RemoveObserver implements TabModel.
func (m *TabModelImpl) RemoveObserver(observer TabModelObserver) { m.observers.Remove(observer) }

// AddTab implements TabModel.
func (m *TabModelImpl) AddTab(tab *Tab, index int, launch schema.LaunchType) {
	if tab == nil || m.destroyed {
		return
	}
	if tab.IsIncognito() != m.incognito {
		m.log.Error("tabmodel add tab profile mismatch", "tab", int32(tab.ID()), "tab_incognito", tab.IsIncognito())
		return
	}
	if m.rewound.IndexOf(tab) != schema.InvalidIndex || m.TabByID(tab.ID()) != nil {
		m.log.Error("tabmodel add tab duplicate", "tab", int32(tab.ID()))
		return
	}
	selectTab := m.order.WillOpenInForeground(launch, tab.IsIncognito())
	index = m.order.DetermineInsertionIndex(launch, index, tab)
	m.CommitAllTabClosures()

	if index < 0 || index > len(m.tabs) {
		m.tabs = append(m.tabs, tab)
	} else {
		m.tabs = append(m.tabs, nil)
		copy(m.tabs[index+1:], m.tabs[index:])
		m.tabs[index] = tab
		if index <= m.index {
			m.index++
		}
	}
	if !m.isCurrentModel() && m.index < 0 {
		m.index = 0
	}
	m.rewound.reset()
	if !tab.IsInitialized() && m.engine != nil {
		if err := m.engine.InitTab(tab); err != nil {
			m.log.Warn("tabmodel engine init failed", "tab", int32(tab.ID()), "err", err)
		}
	}
	newIndex := m.IndexOf(tab)
	m.log.Trace("tabmodel tab added", "tab", int32(tab.ID()), "index", newIndex, "launch", launch.String())
	m.observers.Each(func(o TabModelObserver) { o.DidAddTab(tab, launch) })
	if selectTab {
		m.delegate.SelectModel(m.incognito)
		m.SetIndex(newIndex, schema.SelectFromNew)
	}
}

// SetIndex implements TabModel. The index is clamped; the model becomes current.
func (m *TabModelImpl) SetIndex(index int, selection schema.SelectionType) {
	if m.destroyed {
		return
	}
	lastID := schema.InvalidTabID
	if selection != schema.SelectFromClose {
		if current := CurrentTab(m.delegate.CurrentModel()); current != nil {
			lastID = current.ID()
		}
	}
	if !m.isCurrentModel() {
		m.delegate.SelectModel(m.incognito)
	}
	if len(m.tabs) == 0 {
		m.index = schema.InvalidIndex
	} else {
		m.index = clamp(index, 0, len(m.tabs)-1)
	}
	tab := CurrentTab(m)
	m.delegate.RequestToShowTab(tab, selection)
	if tab != nil {
		m.observers.Each(func(o TabModelObserver) { o.DidSelectTab(tab, selection, lastID) })
	}
}

// CloseTab implements TabModel.
func (m *TabModelImpl) CloseTab(tab *Tab, opts CloseOptions) bool {
	return m.closeTab(tab, opts, true)
}

func (m *TabModelImpl) closeTab(tab *Tab, opts CloseOptions, notifyPending bool) bool {
	if tab == nil || m.destroyed || m.TabByID(tab.ID()) == nil {
		return false
	}
	canUndo := opts.CanUndo && m.SupportsPendingClosures()
	m.startTabClosure(tab, opts.Animate, opts.UponExit, canUndo)
	if canUndo {
		if notifyPending {
			m.observers.Each(func(o TabModelObserver) { o.TabPendingClosure(tab) })
		}
		return true
	}
	m.finalizeTabClosure(tab)
	return true
}

func (m *TabModelImpl) startTabClosure(tab *Tab, animate, uponExit, canUndo bool) {
	tab.setClosing(true)
	m.observers.Each(func(o TabModelObserver) { o.WillCloseTab(tab, animate) })
	if !canUndo {
		m.CommitAllTabClosures()
	}
	selection := schema.SelectFromClose
	if uponExit {
		selection = schema.SelectFromExit
	}
	m.removeAndSelectNext(tab, selection)
	if !canUndo {
		m.rewound.reset()
	}
}

// removeAndSelectNext takes tab out of the visible list and moves the active
// index to the tab NextTabIfClosed predicted.
func (m *TabModelImpl) removeAndSelectNext(tab *Tab, selection schema.SelectionType) {
	current := CurrentTab(m)
	closingIndex := m.IndexOf(tab)
	adjacent := m.adjacentTab(closingIndex)
	next := m.NextTabIfClosed(tab.ID())

	m.tabs = append(m.tabs[:closingIndex], m.tabs[closingIndex+1:]...)

	nextIncognito := next != nil && next.IsIncognito()
	nextIndex := schema.InvalidIndex
	if next != nil {
		nextIndex = TabIndexByID(m.delegate.Model(nextIncognito), next.ID())
	}
	if next != current {
		if nextIncognito != m.incognito {
			m.index = m.IndexOf(adjacent)
		}
		m.delegate.Model(nextIncognito).SetIndex(nextIndex, selection)
		return
	}
	m.index = nextIndex
}

func (m *TabModelImpl) adjacentTab(index int) *Tab {
	if index == 0 {
		return m.TabAt(1)
	}
	return m.TabAt(index - 1)
}

func (m *TabModelImpl) finalizeTabClosure(tab *Tab) {
	m.log.Trace("tabmodel tab closed", "tab", int32(tab.ID()))
	m.observers.Each(func(o TabModelObserver) { o.DidCloseTab(tab.ID(), tab.IsIncognito()) })
	if m.engine != nil {
		m.engine.DestroyTab(tab)
	}
}

// NextTabIfClosed implements TabModel. A background close keeps the current
// tab; otherwise the parent wins, then the adjacent tab, then for incognito the
// current normal tab.
func (m *TabModelImpl) NextTabIfClosed(id schema.TabID) *Tab {
	closing := m.TabByID(id)
	current := CurrentTab(m)
	if closing == nil {
		return current
	}
	adjacent := m.adjacentTab(m.IndexOf(closing))
	parent := m.findTabInAllModels(closing.ParentID())
	switch {
	case closing != current && current != nil && !current.IsClosing():
		return current
	case parent != nil && !parent.IsClosing():
		return parent
	case adjacent != nil && !adjacent.IsClosing():
		return adjacent
	case m.incognito:
		next := CurrentTab(m.delegate.Model(false))
		if next != nil && next.IsClosing() {
			return nil
		}
		return next
	default:
		return nil
	}
}

func (m *TabModelImpl) findTabInAllModels(id schema.TabID) *Tab {
	if !id.Valid() {
		return nil
	}
	for _, incognito := range []bool{false, true} {
		if tab := m.delegate.Model(incognito).TabByID(id); tab != nil {
			return tab
		}
	}
	return nil
}

// CloseAllTabs implements TabModel. On exit, or without undo support, every tab
// closes immediately; otherwise all tabs become pending closures.
func (m *TabModelImpl) CloseAllTabs(allowDelegation, uponExit bool) {
	if m.destroyed {
		return
	}
	if allowDelegation && m.delegate.CloseAllTabsRequest(m.incognito) {
		return
	}
	if uponExit || !m.SupportsPendingClosures() {
		m.CommitAllTabClosures()
		for _, tab := range m.tabs {
			tab.setClosing(true)
		}
		for len(m.tabs) > 0 {
			m.closeTab(m.tabs[0], CloseOptions{UponExit: uponExit}, true)
		}
		return
	}
	closing := append([]*Tab(nil), m.tabs...)
	m.observers.Each(func(o TabModelObserver) { o.AllTabsPendingClosure(closing) })
	for _, tab := range closing {
		m.closeTab(tab, CloseOptions{CanUndo: true}, false)
	}
}

// MoveTab implements TabModel. newIndex is the insertion slot before the move.
func (m *TabModelImpl) MoveTab(id schema.TabID, newIndex int) {
	newIndex = clamp(newIndex, 0, len(m.tabs))
	curIndex := TabIndexByID(m, id)
	if curIndex == schema.InvalidIndex || curIndex == newIndex || curIndex+1 == newIndex {
		return
	}
	m.CommitAllTabClosures()
	tab := m.tabs[curIndex]
	m.tabs = append(m.tabs[:curIndex], m.tabs[curIndex+1:]...)
	if curIndex < newIndex {
		newIndex--
	}
	m.tabs = append(m.tabs, nil)
	copy(m.tabs[newIndex+1:], m.tabs[newIndex:])
	m.tabs[newIndex] = tab

	switch {
	case curIndex == m.index:
		m.index = newIndex
	case curIndex < m.index && newIndex >= m.index:
		m.index--
	case curIndex > m.index && newIndex <= m.index:
		m.index++
	}
	m.rewound.reset()
	m.observers.Each(func(o TabModelObserver) { o.DidMoveTab(tab, newIndex, curIndex) })
}

// RemoveTab implements TabModel. The tab is detached, not destroyed.
func (m *TabModelImpl) RemoveTab(tab *Tab) bool {
	if tab == nil || m.destroyed || m.TabByID(tab.ID()) == nil {
		return false
	}
	m.CommitAllTabClosures()
	m.removeAndSelectNext(tab, schema.SelectFromClose)
	m.rewound.reset()
	m.observers.Each(func(o TabModelObserver) { o.TabRemoved(tab) })
	return true
}

// CommitTabClosure implements TabModel.
func (m *TabModelImpl) CommitTabClosure(id schema.TabID) {
	tab := m.rewound.pendingTab(id)
	if tab == nil {
		return
	}
	m.rewound.remove(tab)
	m.observers.Each(func(o TabModelObserver) { o.TabClosureCommitted(tab) })
	m.finalizeTabClosure(tab)
}

// CommitAllTabClosures implements TabModel.
func (m *TabModelImpl) CommitAllTabClosures() {
	for m.rewound.hasPendingClosures() {
		tab := m.rewound.nextRewindableTab()
		if tab == nil {
			m.log.Error("tabmodel rewound list out of sync", "rewound", len(m.rewound.tabs), "tabs", len(m.tabs))
			m.rewound.reset()
			return
		}
		m.CommitTabClosure(tab.ID())
	}
}

// CancelTabClosure implements TabModel. The tab returns to its position among
// the surviving tabs and becomes active.
func (m *TabModelImpl) CancelTabClosure(id schema.TabID) bool {
	tab := m.rewound.pendingTab(id)
	if tab == nil {
		return false
	}
	tab.setClosing(false)

	// Walk the rewound list up to tab, tracking the last surviving tab passed;
	// the tab is reinserted right after it.
	prev := -1
	stop := m.rewound.IndexOf(tab)
	for i := 0; i < stop; i++ {
		if prev == len(m.tabs)-1 {
			break
		}
		if m.rewound.tabs[i] == m.tabs[prev+1] {
			prev++
		}
	}
	insert := prev + 1
	if m.index >= insert {
		m.index++
	}
	m.tabs = append(m.tabs, nil)
	copy(m.tabs[insert+1:], m.tabs[insert:])
	m.tabs[insert] = tab

	if m.isCurrentModel() {
		m.SetIndex(insert, schema.SelectFromUser)
	} else {
		m.index = insert
	}
	m.observers.Each(func(o TabModelObserver) { o.TabClosureUndone(tab) })
	return true
}

// Destroy releases every tab, including pending closures.
func (m *TabModelImpl) Destroy() {
	if m.destroyed {
		return
	}
	for _, tab := range m.rewound.union() {
		if m.engine != nil && !tab.IsDestroyed() {
			m.engine.DestroyTab(tab)
		}
	}
	m.tabs = nil
	m.rewound.tabs = nil
	m.index = schema.InvalidIndex
	m.observers.Clear()
	m.destroyed = true
	m.log.Debug("tabmodel destroyed")
}

// rewoundList is the comprehensive view: visible tabs plus pending closures in
// their original order.
type rewoundList struct {
	model *TabModelImpl
	tabs  []*Tab
}

func (r *rewoundList) IsIncognito() bool { return r.model.incognito }
func (r *rewoundList) Count() int        { return len(r.tabs) }

func (r *rewoundList) Index() int {
	return r.IndexOf(CurrentTab(r.model))
}

func (r *rewoundList) TabAt(index int) *Tab {
	if index < 0 || index >= len(r.tabs) {
		return nil
	}
	return r.tabs[index]
}

func (r *rewoundList) IndexOf(tab *Tab) int {
	if tab == nil {
		return schema.InvalidIndex
	}
	for i, existing := range r.tabs {
		if existing == tab {
			return i
		}
	}
	return schema.InvalidIndex
}

func (r *rewoundList) IsClosurePending(id schema.TabID) bool {
	return r.pendingTab(id) != nil
}

func (r *rewoundList) reset() {
	r.tabs = append(r.tabs[:0:0], r.model.tabs...)
}

func (r *rewoundList) pendingTab(id schema.TabID) *Tab {
	for _, tab := range r.tabs {
		if tab.ID() == id && r.model.IndexOf(tab) == schema.InvalidIndex {
			return tab
		}
	}
	return nil
}

func (r *rewoundList) nextRewindableTab() *Tab {
	for _, tab := range r.tabs {
		if r.model.IndexOf(tab) == schema.InvalidIndex {
			return tab
		}
	}
	return nil
}

func (r *rewoundList) hasPendingClosures() bool {
	return len(r.tabs) > len(r.model.tabs)
}

func (r *rewoundList) remove(tab *Tab) {
	if i := r.IndexOf(tab); i != schema.InvalidIndex {
		r.tabs = append(r.tabs[:i], r.tabs[i+1:]...)
	}
}

// union returns every tab known to the model once.
func (r *rewoundList) union() []*Tab {
	seen := make(map[*Tab]struct{}, len(r.tabs)+len(r.model.tabs))
	out := make([]*Tab, 0, len(r.tabs))
	for _, list := range [][]*Tab{r.tabs, r.model.tabs} {
		for _, tab := range list {
			if _, ok := seen[tab]; ok {
				continue
			}
			seen[tab] = struct{}{}
			out = append(out, tab)
		}
	}
	return out
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
