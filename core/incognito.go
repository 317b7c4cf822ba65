package core

import (
	"context"

	"pkt.systems/pslog"
	"pkt.systems/tabkeep/schema"
)

type incognitoState int

const (
	incognitoStub incognitoState = iota
	incognitoMaterialized
)

// IncognitoDeps configures an IncognitoTabModel.
type IncognitoDeps struct {
	Registry *Registry
	// Selector owns the model; it is excluded when asking whether other
	// windows still hold incognito tabs.
	Selector TabModelSelector
	Engine   Engine
	// Create builds the real model on first use.
	Create func() TabModel
	Logger pslog.Logger
}

// IncognitoTabModel defers creating the incognito model and profile until the
// first incognito tab is added, and tears both down once no incognito tab is
// left. Reads dispatch through the embedded model, which is either the empty
// stub or the materialized model.
type IncognitoTabModel struct {
	TabModel

	state     incognitoState
	adding    bool
	registry  *Registry
	selector  TabModelSelector
	engine    Engine
	create    func() TabModel
	observers ObserverList[TabModelObserver]
	log       pslog.Logger
}

// NewIncognitoTabModel constructs the model in its stub state.
func NewIncognitoTabModel(deps IncognitoDeps) *IncognitoTabModel {
	logger := deps.Logger
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &IncognitoTabModel{
		TabModel: emptyTabModel{incognito: true},
		registry: deps.Registry,
		selector: deps.Selector,
		engine:   deps.Engine,
		create:   deps.Create,
		log:      logger,
	}
}

// IsMaterialized reports whether the real model exists.
func (m *IncognitoTabModel) IsMaterialized() bool {
	return m.state == incognitoMaterialized
}

func (m *IncognitoTabModel) materialize() bool {
	if m.state == incognitoMaterialized {
		return true
	}
	if m.engine != nil {
		if err := m.engine.CreateIncognitoProfile(); err != nil {
			m.log.Error("incognito profile create failed", "err", err)
			return false
		}
	}
	model := m.create()
	m.observers.Each(func(o TabModelObserver) { model.AddObserver(o) })
	m.TabModel = model
	m.state = incognitoMaterialized
	m.log.Debug("incognito model materialized")
	return true
}

// destroyIfNecessary reverts to the stub once the model is empty and no add is
// in flight. The profile is kept while another window holds incognito tabs.
func (m *IncognitoTabModel) destroyIfNecessary() {
	if m.state != incognitoMaterialized || m.adding || m.TabModel.Count() > 0 {
		return
	}
	m.TabModel.Destroy()
	m.TabModel = emptyTabModel{incognito: true}
	m.state = incognitoStub
	if m.registry == nil || !m.registry.IncognitoTabsExist(m.selector) {
		if m.engine != nil {
			m.engine.DestroyIncognitoProfile()
		}
	}
	m.log.Debug("incognito model destroyed")
}

// AddTab materializes the model if needed and forwards the add.
func (m *IncognitoTabModel) AddTab(tab *Tab, index int, launch schema.LaunchType) {
	if tab == nil {
		return
	}
	if !tab.IsIncognito() {
		m.log.Error("incognito add tab profile mismatch", "tab", int32(tab.ID()))
		return
	}
	m.adding = true
	if m.materialize() {
		m.TabModel.AddTab(tab, index, launch)
	}
	m.adding = false
	m.destroyIfNecessary()
}

// RemoveTab implements TabModel.
func (m *IncognitoTabModel) RemoveTab(tab *Tab) bool {
	removed := m.TabModel.RemoveTab(tab)
	m.destroyIfNecessary()
	return removed
}

// CloseTab implements TabModel.
func (m *IncognitoTabModel) CloseTab(tab *Tab, opts CloseOptions) bool {
	closed := m.TabModel.CloseTab(tab, opts)
	m.destroyIfNecessary()
	return closed
}

// CloseAllTabs implements TabModel.
func (m *IncognitoTabModel) CloseAllTabs(allowDelegation, uponExit bool) {
	m.TabModel.CloseAllTabs(allowDelegation, uponExit)
	m.destroyIfNecessary()
}

// CommitTabClosure implements TabModel.
func (m *IncognitoTabModel) CommitTabClosure(id schema.TabID) {
	m.TabModel.CommitTabClosure(id)
	m.destroyIfNecessary()
}

// CommitAllTabClosures implements TabModel.
func (m *IncognitoTabModel) CommitAllTabClosures() {
	m.TabModel.CommitAllTabClosures()
	m.destroyIfNecessary()
}

// AddObserver records observer so it survives re-materialization.
func (m *IncognitoTabModel) AddObserver(observer TabModelObserver) {
	if m.observers.Add(observer) {
		m.TabModel.AddObserver(observer)
	}
}

// RemoveObserver implements TabModel.
func (m *IncognitoTabModel) RemoveObserver(observer TabModelObserver) {
	m.observers.Remove(observer)
	m.TabModel.RemoveObserver(observer)
}

// Destroy tears down the materialized model and forgets observers.
func (m *IncognitoTabModel) Destroy() {
	if m.state == incognitoMaterialized {
		m.TabModel.Destroy()
		m.TabModel = emptyTabModel{incognito: true}
		m.state = incognitoStub
		if m.registry == nil || !m.registry.IncognitoTabsExist(m.selector) {
			if m.engine != nil {
				m.engine.DestroyIncognitoProfile()
			}
		}
	}
	m.observers.Clear()
}
