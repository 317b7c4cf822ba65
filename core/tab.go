package core

import (
	"time"

	"pkt.systems/tabkeep/internal/persist"
	"pkt.systems/tabkeep/schema"
)

// Tab is a handle on one browsing session. It is owned by exactly one model and
// must only be touched on the owner loop.
type Tab struct {
	id                schema.TabID
	url               string
	title             string
	incognito         bool
	launch            schema.LaunchType
	parentID          schema.TabID
	groupedWithParent bool
	openerAppID       string
	lastShown         time.Time

	contents        []byte
	contentsVersion int32

	dirty       bool
	closing     bool
	initialized bool
	destroyed   bool
}

// NewTab constructs a fresh tab. A tab opened from a parent starts grouped with it.
func NewTab(id schema.TabID, url string, incognito bool, launch schema.LaunchType, parentID schema.TabID) *Tab {
	return &Tab{
		id:                id,
		url:               url,
		incognito:         incognito,
		launch:            launch,
		parentID:          parentID,
		groupedWithParent: parentID.Valid(),
		dirty:             true,
	}
}

// newFrozenTab rebuilds a tab from persisted state.
func newFrozenTab(id schema.TabID, state persist.TabState) *Tab {
	return &Tab{
		id:                id,
		url:               state.URL,
		title:             state.Title,
		incognito:         state.Incognito,
		launch:            schema.LaunchFromRestore,
		parentID:          state.ParentID,
		groupedWithParent: state.GroupedWithParent,
		openerAppID:       state.OpenerAppID,
		lastShown:         state.LastShown,
		contents:          append([]byte(nil), state.Contents...),
		contentsVersion:   state.ContentsVersion,
	}
}

func (t *Tab) ID() schema.TabID              { return t.id }
func (t *Tab) URL() string                   { return t.url }
func (t *Tab) Title() string                 { return t.title }
func (t *Tab) IsIncognito() bool             { return t.incognito }
func (t *Tab) LaunchType() schema.LaunchType { return t.launch }
func (t *Tab) ParentID() schema.TabID        { return t.parentID }
func (t *Tab) OpenerAppID() string           { return t.openerAppID }
func (t *Tab) LastShown() time.Time          { return t.lastShown }
func (t *Tab) IsClosing() bool               { return t.closing }
func (t *Tab) IsInitialized() bool           { return t.initialized }
func (t *Tab) IsDestroyed() bool             { return t.destroyed }

// IsGroupedWithParent reports whether the tab still belongs to its opener's group.
func (t *Tab) IsGroupedWithParent() bool { return t.groupedWithParent }

// SetGroupedWithParent updates the opener group flag.
func (t *Tab) SetGroupedWithParent(grouped bool) { t.groupedWithParent = grouped }

// IsDirty reports whether the tab has state not yet written to disk.
func (t *Tab) IsDirty() bool { return t.dirty }

// SetDirty marks the tab state as saved or unsaved.
func (t *Tab) SetDirty(dirty bool) { t.dirty = dirty }

// SetURL records a navigation.
func (t *Tab) SetURL(url string) {
	if t.url == url {
		return
	}
	t.url = url
	t.dirty = true
}

// SetTitle records a title change.
func (t *Tab) SetTitle(title string) {
	if t.title == title {
		return
	}
	t.title = title
	t.dirty = true
}

// SetOpenerAppID records the application that opened the tab.
func (t *Tab) SetOpenerAppID(app string) {
	t.openerAppID = app
	t.dirty = true
}

// Contents returns the engine's opaque navigation state.
func (t *Tab) Contents() []byte { return t.contents }

func (t *Tab) setContents(contents []byte, version int32) {
	t.contents = contents
	t.contentsVersion = version
	t.dirty = true
}

func (t *Tab) setClosing(closing bool) { t.closing = closing }

func (t *Tab) markShown(now time.Time) { t.lastShown = now }

// State captures the tab for persistence.
func (t *Tab) State() persist.TabState {
	return persist.TabState{
		URL:               t.url,
		Title:             t.title,
		ParentID:          t.parentID,
		GroupedWithParent: t.groupedWithParent,
		LastShown:         t.lastShown,
		OpenerAppID:       t.openerAppID,
		Launch:            t.launch,
		Contents:          append([]byte(nil), t.contents...),
		ContentsVersion:   t.contentsVersion,
		Incognito:         t.incognito,
	}
}

// Snapshot returns a transport-friendly view of the tab.
func (t *Tab) Snapshot(active bool) schema.TabSnapshot {
	return schema.TabSnapshot{
		ID:        t.id,
		URL:       t.url,
		Title:     t.title,
		Incognito: t.incognito,
		ParentID:  t.parentID,
		Launch:    t.launch,
		Active:    active,
	}
}
