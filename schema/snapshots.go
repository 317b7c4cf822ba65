package schema

// TabSnapshot is a read-only view of a tab for observers outside the owner loop.
type TabSnapshot struct {
	ID        TabID
	URL       string
	Title     string
	Incognito bool
	ParentID  TabID
	Launch    LaunchType
	Active    bool
}

// ModelSnapshot is a read-only view of one tab model.
type ModelSnapshot struct {
	Incognito   bool
	Tabs        []TabSnapshot
	ActiveIndex int
}

// WindowSnapshot is a read-only view of both models of a selector.
type WindowSnapshot struct {
	Window           int
	Normal           ModelSnapshot
	Incognito        ModelSnapshot
	IncognitoCurrent bool
}
