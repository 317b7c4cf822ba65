package core

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"google.golang.org/protobuf/encoding/protowire"
	"pkt.systems/pslog"
	"pkt.systems/tabkeep/schema"
)

// Engine is the native browsing engine backing tabs and the incognito profile.
type Engine interface {
	// InitTab creates the native session for tab, restoring its contents if any.
	InitTab(tab *Tab) error
	// DestroyTab releases the native session of tab.
	DestroyTab(tab *Tab)
	// SerializeTab returns the opaque contents state of tab.
	SerializeTab(tab *Tab) ([]byte, error)
	CreateIncognitoProfile() error
	DestroyIncognitoProfile()
}

const historyField protowire.Number = 1

// MemoryEngine is an in-process Engine keeping each tab's navigation history.
type MemoryEngine struct {
	mu               sync.Mutex
	history          map[schema.TabID][]string
	profileAlive     bool
	profileCreated   int
	profileDestroyed int
	log              pslog.Logger
}

// NewMemoryEngine constructs a MemoryEngine.
func NewMemoryEngine(logger pslog.Logger) *MemoryEngine {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &MemoryEngine{
		history: make(map[schema.TabID][]string),
		log:     logger,
	}
}

// InitTab implements Engine.
func (e *MemoryEngine) InitTab(tab *Tab) error {
	if tab == nil {
		return errors.New("nil tab")
	}
	history, err := decodeHistory(tab.Contents())
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if tab.IsIncognito() && !e.profileAlive {
		return errors.New("incognito profile not created")
	}
	if len(history) == 0 && tab.URL() != "" && len(tab.Contents()) == 0 && tab.LaunchType() != schema.LaunchFromRestore {
		history = []string{tab.URL()}
	}
	e.history[tab.ID()] = history
	tab.initialized = true
	e.log.Trace("engine tab init", "tab", int32(tab.ID()), "entries", len(history))
	return nil
}

// DestroyTab implements Engine.
func (e *MemoryEngine) DestroyTab(tab *Tab) {
	if tab == nil {
		return
	}
	e.mu.Lock()
	delete(e.history, tab.ID())
	e.mu.Unlock()
	tab.initialized = false
	tab.destroyed = true
}

// SerializeTab implements Engine.
func (e *MemoryEngine) SerializeTab(tab *Tab) ([]byte, error) {
	e.mu.Lock()
	history, ok := e.history[tab.ID()]
	e.mu.Unlock()
	if !ok {
		return tab.Contents(), nil
	}
	return encodeHistory(history), nil
}

// CreateIncognitoProfile implements Engine. The profile is shared by every window.
func (e *MemoryEngine) CreateIncognitoProfile() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.profileAlive {
		return nil
	}
	e.profileAlive = true
	e.profileCreated++
	e.log.Debug("engine incognito profile created")
	return nil
}

// DestroyIncognitoProfile implements Engine.
func (e *MemoryEngine) DestroyIncognitoProfile() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.profileAlive {
		return
	}
	e.profileAlive = false
	e.profileDestroyed++
	e.log.Debug("engine incognito profile destroyed")
}

// Navigate appends url to the tab's history and updates the tab.
func (e *MemoryEngine) Navigate(tab *Tab, url string) error {
	e.mu.Lock()
	history, ok := e.history[tab.ID()]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("%w: %d", schema.ErrTabNotFound, tab.ID())
	}
	history = append(history, url)
	e.history[tab.ID()] = history
	e.mu.Unlock()
	tab.SetURL(url)
	tab.setContents(encodeHistory(history), 1)
	return nil
}

// History returns the navigation entries of a live tab.
func (e *MemoryEngine) History(id schema.TabID) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.history[id]...)
}

// LiveTabs returns the number of initialized tabs.
func (e *MemoryEngine) LiveTabs() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.history)
}

// ProfileAlive reports whether the incognito profile exists.
func (e *MemoryEngine) ProfileAlive() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.profileAlive
}

// ProfileStats returns how often the incognito profile was created and destroyed.
func (e *MemoryEngine) ProfileStats() (created, destroyed int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.profileCreated, e.profileDestroyed
}

func encodeHistory(entries []string) []byte {
	var b []byte
	for _, entry := range entries {
		b = protowire.AppendTag(b, historyField, protowire.BytesType)
		b = protowire.AppendString(b, entry)
	}
	return b
}

func decodeHistory(data []byte) ([]string, error) {
	var entries []string
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		data = data[n:]
		if num == historyField && typ == protowire.BytesType {
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			entries = append(entries, v)
			data = data[n:]
			continue
		}
		n = protowire.ConsumeFieldValue(num, typ, data)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		data = data[n:]
	}
	return entries, nil
}
