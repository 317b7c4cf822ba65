package schema

// TabEventType describes tab lifecycle or state changes.
type TabEventType string

const (
	// TabEventAdded indicates a tab was added to a model.
	TabEventAdded TabEventType = "added"
	// TabEventSelected indicates a tab became active.
	TabEventSelected TabEventType = "selected"
	// TabEventMoved indicates a tab changed position.
	TabEventMoved TabEventType = "moved"
	// TabEventPendingClosure indicates a tab was closed with undo available.
	TabEventPendingClosure TabEventType = "pending_closure"
	// TabEventClosureUndone indicates a pending closure was cancelled.
	TabEventClosureUndone TabEventType = "closure_undone"
	// TabEventClosed indicates a tab closure was finalized.
	TabEventClosed TabEventType = "closed"
	// TabEventModelSelected indicates the selector switched models.
	TabEventModelSelected TabEventType = "model_selected"
	// TabEventStateLoaded indicates the persisted tab list was read.
	TabEventStateLoaded TabEventType = "state_loaded"
	// TabEventRestored indicates background restore finished.
	TabEventRestored TabEventType = "restored"
)

// TabEvent represents a change to a tab or tab list of one window.
type TabEvent struct {
	Window    int
	Type      TabEventType
	Tab       TabSnapshot
	ActiveTab TabID
	Incognito bool
	// Count is the tab count reported by state_loaded events.
	Count int
}
