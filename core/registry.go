package core

import (
	"context"
	"fmt"
	"sync"

	"pkt.systems/pslog"
	"pkt.systems/tabkeep/internal/persist"
	"pkt.systems/tabkeep/schema"
)

// Registry is the process-wide state shared by every selector: tab id
// allocation, the set of open selectors, the incognito cipher and the
// migration/cleanup coordinator.
type Registry struct {
	mu        sync.Mutex
	nextID    schema.TabID
	selectors []TabModelSelector
	cipher    *persist.Cipher
	coord     *persist.Coordinator
	log       pslog.Logger
}

// NewRegistry constructs a Registry with a fresh incognito key.
func NewRegistry(logger pslog.Logger) (*Registry, error) {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	key, err := persist.NewKey()
	if err != nil {
		return nil, fmt.Errorf("incognito key: %w", err)
	}
	cipher, err := persist.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return &Registry{
		cipher: cipher,
		coord:  persist.NewCoordinator(),
		log:    logger,
	}, nil
}

// NextTabID allocates a process-unique tab id.
func (r *Registry) NextTabID() schema.TabID {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextID
	r.nextID++
	return id
}

// PeekNextTabID returns the id the next allocation will use.
func (r *Registry) PeekNextTabID() schema.TabID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nextID
}

// EnsureIDAbove makes sure future ids are greater than id.
func (r *Registry) EnsureIDAbove(id schema.TabID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id >= r.nextID {
		r.nextID = id + 1
	}
}

// Register adds a selector to the process-wide set and returns its removal.
func (r *Registry) Register(selector TabModelSelector) func() {
	r.mu.Lock()
	r.selectors = append(r.selectors, selector)
	count := len(r.selectors)
	r.mu.Unlock()
	r.log.Debug("registry selector registered", "selectors", count)
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		for i, existing := range r.selectors {
			if existing == selector {
				r.selectors = append(r.selectors[:i], r.selectors[i+1:]...)
				return
			}
		}
	}
}

func (r *Registry) snapshot() []TabModelSelector {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]TabModelSelector(nil), r.selectors...)
}

// IncognitoTabsExist reports whether any selector other than except still
// holds incognito tabs. Must run on the owner loop.
func (r *Registry) IncognitoTabsExist(except TabModelSelector) bool {
	for _, selector := range r.snapshot() {
		if selector == except {
			continue
		}
		if selector.Model(true).ComprehensiveModel().Count() > 0 {
			return true
		}
	}
	return false
}

// TabExistsInAnySelector reports whether id is live in any selector. Must run on the owner loop.
func (r *Registry) TabExistsInAnySelector(id schema.TabID) bool {
	for _, selector := range r.snapshot() {
		if selector.TabByID(id) != nil {
			return true
		}
	}
	return false
}

// SelectorForWindow returns the open selector of window, or nil.
func (r *Registry) SelectorForWindow(window int) TabModelSelector {
	for _, selector := range r.snapshot() {
		if selector.Window() == window {
			return selector
		}
	}
	return nil
}

// LiveTabIDs collects every live tab id, optionally skipping one selector.
// Must run on the owner loop.
func (r *Registry) LiveTabIDs(except TabModelSelector) map[schema.TabID]struct{} {
	live := make(map[schema.TabID]struct{})
	for _, selector := range r.snapshot() {
		if selector == except {
			continue
		}
		for _, incognito := range []bool{false, true} {
			list := selector.Model(incognito).ComprehensiveModel()
			for i := 0; i < list.Count(); i++ {
				live[list.TabAt(i).ID()] = struct{}{}
			}
		}
		if pending, ok := selector.(interface{ PendingRestoreIDs() []schema.TabID }); ok {
			for _, id := range pending.PendingRestoreIDs() {
				live[id] = struct{}{}
			}
		}
	}
	return live
}

// Cipher returns the in-memory incognito cipher.
func (r *Registry) Cipher() *persist.Cipher { return r.cipher }

// Coordinator returns the migration/cleanup coordinator.
func (r *Registry) Coordinator() *persist.Coordinator { return r.coord }
