package core

import (
	"time"

	"pkt.systems/pslog"
	"pkt.systems/tabkeep/internal/persist"
	"pkt.systems/tabkeep/internal/taskrunner"
)

// SelectorDeps captures the dependencies of a selector and its store.
type SelectorDeps struct {
	Window   int
	Registry *Registry
	Engine   Engine
	Policy   *persist.Policy
	// Poster runs persistence completions on the owner loop.
	Poster    taskrunner.Poster
	EventSink EventSink
	// UndoSupported enables pending closures in the normal model.
	UndoSupported bool
	// CloseAllHandler lets a UI take over closing every tab of a profile.
	CloseAllHandler func(incognito bool) bool
	SaveDebounce    time.Duration
	PoolSize        int
	Logger          pslog.Logger
}

// StoreDeps captures the dependencies of a TabPersistentStore.
type StoreDeps struct {
	Policy       *persist.Policy
	Selector     TabModelSelector
	Creator      *TabCreator
	Registry     *Registry
	Engine       Engine
	Poster       taskrunner.Poster
	SaveDebounce time.Duration
	PoolSize     int
	Logger       pslog.Logger
}
