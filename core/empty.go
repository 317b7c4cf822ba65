package core

import "pkt.systems/tabkeep/schema"

// emptyTabModel stands in for an incognito model that has not been materialized.
type emptyTabModel struct {
	incognito bool
}

var _ TabModel = emptyTabModel{}

func (m emptyTabModel) IsIncognito() bool                 { return m.incognito }
func (emptyTabModel) Index() int                          { return schema.InvalidIndex }
func (emptyTabModel) Count() int                          { return 0 }
func (emptyTabModel) TabAt(int) *Tab                      { return nil }
func (emptyTabModel) IndexOf(*Tab) int                    { return schema.InvalidIndex }
func (emptyTabModel) IsClosurePending(schema.TabID) bool  { return false }
func (emptyTabModel) TabByID(schema.TabID) *Tab           { return nil }
func (emptyTabModel) SetIndex(int, schema.SelectionType)  {}
func (emptyTabModel) AddTab(*Tab, int, schema.LaunchType) {}
func (emptyTabModel) RemoveTab(*Tab) bool                 { return false }
func (emptyTabModel) CloseTab(*Tab, CloseOptions) bool    { return false }
func (emptyTabModel) CloseAllTabs(bool, bool)             {}
func (emptyTabModel) MoveTab(schema.TabID, int)           {}
func (emptyTabModel) CommitTabClosure(schema.TabID)       {}
func (emptyTabModel) CommitAllTabClosures()               {}
func (emptyTabModel) CancelTabClosure(schema.TabID) bool  { return false }
func (m emptyTabModel) ComprehensiveModel() TabList       { return m }
func (emptyTabModel) SupportsPendingClosures() bool       { return false }
func (emptyTabModel) NextTabIfClosed(schema.TabID) *Tab   { return nil }
func (emptyTabModel) AddObserver(TabModelObserver)        {}
func (emptyTabModel) RemoveObserver(TabModelObserver)     {}
func (emptyTabModel) Destroy()                            {}
