package core

import "pkt.systems/tabkeep/schema"

// TabList is a read-only ordered view of tabs.
type TabList interface {
	IsIncognito() bool
	// Index returns the active index or schema.InvalidIndex.
	Index() int
	Count() int
	// TabAt returns nil for an index out of range.
	TabAt(index int) *Tab
	// IndexOf returns schema.InvalidIndex for a tab not in the list.
	IndexOf(tab *Tab) int
	IsClosurePending(id schema.TabID) bool
}

// CloseOptions controls a single tab closure.
type CloseOptions struct {
	Animate bool
	// UponExit marks closures caused by leaving the window.
	UponExit bool
	// CanUndo requests a pending closure when the model supports one.
	CanUndo bool
}

// TabModel is the ordered, selectable collection of tabs of one profile.
// Operations on tabs that are not in the model are no-ops.
type TabModel interface {
	TabList
	TabByID(id schema.TabID) *Tab
	SetIndex(index int, selection schema.SelectionType)
	// AddTab inserts tab at index, or where the order controller decides.
	AddTab(tab *Tab, index int, launch schema.LaunchType)
	// RemoveTab detaches tab without destroying it.
	RemoveTab(tab *Tab) bool
	CloseTab(tab *Tab, opts CloseOptions) bool
	CloseAllTabs(allowDelegation, uponExit bool)
	MoveTab(id schema.TabID, newIndex int)
	CommitTabClosure(id schema.TabID)
	CommitAllTabClosures()
	CancelTabClosure(id schema.TabID) bool
	// ComprehensiveModel includes tabs whose closure is pending.
	ComprehensiveModel() TabList
	SupportsPendingClosures() bool
	// NextTabIfClosed predicts the tab that becomes active if id closes.
	NextTabIfClosed(id schema.TabID) *Tab
	AddObserver(observer TabModelObserver)
	RemoveObserver(observer TabModelObserver)
	Destroy()
}

// TabModelObserver receives tab model notifications on the owner loop.
type TabModelObserver interface {
	DidAddTab(tab *Tab, launch schema.LaunchType)
	DidSelectTab(tab *Tab, selection schema.SelectionType, lastID schema.TabID)
	WillCloseTab(tab *Tab, animate bool)
	DidCloseTab(id schema.TabID, incognito bool)
	DidMoveTab(tab *Tab, newIndex, curIndex int)
	TabPendingClosure(tab *Tab)
	TabClosureUndone(tab *Tab)
	TabClosureCommitted(tab *Tab)
	AllTabsPendingClosure(tabs []*Tab)
	TabRemoved(tab *Tab)
}

// TabModelObserverBase implements TabModelObserver with no-ops for embedding.
type TabModelObserverBase struct{}

func (TabModelObserverBase) DidAddTab(*Tab, schema.LaunchType)                     {}
func (TabModelObserverBase) DidSelectTab(*Tab, schema.SelectionType, schema.TabID) {}
func (TabModelObserverBase) WillCloseTab(*Tab, bool)                               {}
func (TabModelObserverBase) DidCloseTab(schema.TabID, bool)                        {}
func (TabModelObserverBase) DidMoveTab(*Tab, int, int)                             {}
func (TabModelObserverBase) TabPendingClosure(*Tab)                                {}
func (TabModelObserverBase) TabClosureUndone(*Tab)                                 {}
func (TabModelObserverBase) TabClosureCommitted(*Tab)                              {}
func (TabModelObserverBase) AllTabsPendingClosure([]*Tab)                          {}
func (TabModelObserverBase) TabRemoved(*Tab)                                       {}

// ModelDelegate is the selector-side surface a model calls back into.
type ModelDelegate interface {
	Model(incognito bool) TabModel
	CurrentModel() TabModel
	IsIncognitoSelected() bool
	SelectModel(incognito bool)
	// RequestToShowTab is called whenever the active tab of the current model changes.
	RequestToShowTab(tab *Tab, selection schema.SelectionType)
	// CloseAllTabsRequest lets a UI animate closing every tab; false means close directly.
	CloseAllTabsRequest(incognito bool) bool
}

// CurrentTab returns the active tab of list or nil.
func CurrentTab(list TabList) *Tab {
	if list == nil {
		return nil
	}
	return list.TabAt(list.Index())
}

// TabIndexByID returns the index of id in list or schema.InvalidIndex.
func TabIndexByID(list TabList, id schema.TabID) int {
	for i := 0; i < list.Count(); i++ {
		if tab := list.TabAt(i); tab != nil && tab.ID() == id {
			return i
		}
	}
	return schema.InvalidIndex
}

// ModelSnapshot captures a model for observers outside the owner loop.
func ModelSnapshot(model TabList) schema.ModelSnapshot {
	snapshot := schema.ModelSnapshot{
		Incognito:   model.IsIncognito(),
		ActiveIndex: model.Index(),
		Tabs:        make([]schema.TabSnapshot, 0, model.Count()),
	}
	for i := 0; i < model.Count(); i++ {
		snapshot.Tabs = append(snapshot.Tabs, model.TabAt(i).Snapshot(i == model.Index()))
	}
	return snapshot
}
