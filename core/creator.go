package core

import (
	"context"

	"pkt.systems/pslog"
	"pkt.systems/tabkeep/internal/persist"
	"pkt.systems/tabkeep/schema"
)

// TabCreator builds tabs and hands them to the model of their profile.
type TabCreator struct {
	selector TabModelSelector
	registry *Registry
	log      pslog.Logger
}

// NewTabCreator constructs a TabCreator for selector.
func NewTabCreator(selector TabModelSelector, registry *Registry, logger pslog.Logger) *TabCreator {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &TabCreator{selector: selector, registry: registry, log: logger}
}

// CreateNewTab opens url in a fresh tab. It returns nil if the model refused the tab.
func (c *TabCreator) CreateNewTab(url string, launch schema.LaunchType, parent *Tab, incognito bool) *Tab {
	parentID := schema.InvalidTabID
	if parent != nil {
		parentID = parent.ID()
	}
	tab := NewTab(c.registry.NextTabID(), url, incognito, launch, parentID)
	model := c.selector.Model(incognito)
	model.AddTab(tab, schema.InvalidIndex, launch)
	if model.IndexOf(tab) == schema.InvalidIndex {
		c.log.Warn("tabcreator new tab refused", "tab", int32(tab.ID()), "incognito", incognito)
		return nil
	}
	return tab
}

// CreateFrozenTab recreates a persisted tab under its original id at index.
func (c *TabCreator) CreateFrozenTab(state persist.TabState, id schema.TabID, index int) *Tab {
	if c.registry.TabExistsInAnySelector(id) {
		c.log.Warn("tabcreator frozen tab id in use", "tab", int32(id))
		return nil
	}
	c.registry.EnsureIDAbove(id)
	tab := newFrozenTab(id, state)
	model := c.selector.Model(state.Incognito)
	model.AddTab(tab, index, schema.LaunchFromRestore)
	if model.IndexOf(tab) == schema.InvalidIndex {
		c.log.Warn("tabcreator frozen tab refused", "tab", int32(id), "incognito", state.Incognito)
		return nil
	}
	return tab
}
