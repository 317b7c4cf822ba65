package core

import (
	"context"

	"pkt.systems/pslog"
	"pkt.systems/tabkeep/schema"
)

// TabModelSelector owns the normal and incognito models of one window.
type TabModelSelector interface {
	Window() int
	Model(incognito bool) TabModel
	CurrentModel() TabModel
	IsIncognitoSelected() bool
	SelectModel(incognito bool)
	CurrentTab() *Tab
	// TabByID searches the normal model first, then the incognito one.
	TabByID(id schema.TabID) *Tab
	TotalTabCount() int
	CloseTab(tab *Tab) bool
	CloseAllTabs(uponExit bool)
	CommitAllTabClosures()
	OpenNewTab(url string, launch schema.LaunchType, parent *Tab, incognito bool) *Tab
	IsTabStateInitialized() bool
	AddObserver(observer TabModelSelectorObserver)
	RemoveObserver(observer TabModelSelectorObserver)
}

// TabModelSelectorObserver receives selector notifications on the owner loop.
type TabModelSelectorObserver interface {
	// OnChange fires whenever a tab was added, selected or moved in either model.
	OnChange()
	OnNewTabCreated(tab *Tab)
	OnTabModelSelected(newModel, oldModel TabModel)
	OnTabStateInitialized()
}

// TabModelSelectorObserverBase implements TabModelSelectorObserver with no-ops.
type TabModelSelectorObserverBase struct{}

func (TabModelSelectorObserverBase) OnChange()                             {}
func (TabModelSelectorObserverBase) OnNewTabCreated(*Tab)                  {}
func (TabModelSelectorObserverBase) OnTabModelSelected(TabModel, TabModel) {}
func (TabModelSelectorObserverBase) OnTabStateInitialized()                {}

// SelectorBase holds the model pair, the active model and the observer fanout.
type SelectorBase struct {
	window              int
	models              [2]TabModel
	active              schema.ModelIndex
	observers           ObserverList[TabModelSelectorObserver]
	change              *selectorChangeObserver
	tabStateInitialized bool
	log                 pslog.Logger
}

// NewSelectorBase constructs a base whose models are empty until Initialize.
func NewSelectorBase(window int, logger pslog.Logger) *SelectorBase {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	b := &SelectorBase{
		window: window,
		models: [2]TabModel{emptyTabModel{}, emptyTabModel{incognito: true}},
		log:    logger,
	}
	b.change = &selectorChangeObserver{base: b}
	return b
}

// Initialize installs the models and starts listening to them.
func (b *SelectorBase) Initialize(normal, incognito TabModel, startIncognito bool) {
	b.models = [2]TabModel{normal, incognito}
	b.active = schema.ModelIndexFor(startIncognito)
	for _, model := range b.models {
		model.AddObserver(b.change)
	}
}

// Window returns the window index.
func (b *SelectorBase) Window() int { return b.window }

// Model returns the model of one profile.
func (b *SelectorBase) Model(incognito bool) TabModel {
	return b.models[schema.ModelIndexFor(incognito)]
}

// Models returns both models in index order.
func (b *SelectorBase) Models() []TabModel {
	return []TabModel{b.models[schema.NormalModel], b.models[schema.IncognitoModel]}
}

// CurrentModel returns the selected model.
func (b *SelectorBase) CurrentModel() TabModel { return b.models[b.active] }

// IsIncognitoSelected reports whether the incognito model is current.
func (b *SelectorBase) IsIncognitoSelected() bool { return b.active == schema.IncognitoModel }

// SelectModel makes a model current and notifies observers when it changed.
func (b *SelectorBase) SelectModel(incognito bool) {
	next := schema.ModelIndexFor(incognito)
	if next == b.active {
		return
	}
	old := b.CurrentModel()
	b.active = next
	current := b.CurrentModel()
	b.log.Debug("selector model selected", "incognito", incognito)
	b.observers.Each(func(o TabModelSelectorObserver) { o.OnTabModelSelected(current, old) })
}

// CurrentTab returns the active tab of the current model.
func (b *SelectorBase) CurrentTab() *Tab { return CurrentTab(b.CurrentModel()) }

// TabByID implements TabModelSelector.
func (b *SelectorBase) TabByID(id schema.TabID) *Tab {
	for _, model := range b.models {
		if tab := model.TabByID(id); tab != nil {
			return tab
		}
	}
	return nil
}

// ModelForTabID returns the model holding id, or nil.
func (b *SelectorBase) ModelForTabID(id schema.TabID) TabModel {
	for _, model := range b.models {
		if model.TabByID(id) != nil {
			return model
		}
	}
	return nil
}

// TotalTabCount counts visible tabs of both models.
func (b *SelectorBase) TotalTabCount() int {
	total := 0
	for _, model := range b.models {
		total += model.Count()
	}
	return total
}

// CloseTab closes tab in whichever model holds it.
func (b *SelectorBase) CloseTab(tab *Tab) bool {
	if tab == nil {
		return false
	}
	model := b.ModelForTabID(tab.ID())
	if model == nil {
		return false
	}
	return model.CloseTab(tab, CloseOptions{Animate: true})
}

// CloseAllTabs closes every tab of both models.
func (b *SelectorBase) CloseAllTabs(uponExit bool) {
	for _, model := range b.models {
		model.CloseAllTabs(!uponExit, uponExit)
	}
}

// CommitAllTabClosures commits pending closures of both models.
func (b *SelectorBase) CommitAllTabClosures() {
	for _, model := range b.models {
		model.CommitAllTabClosures()
	}
}

// IsTabStateInitialized reports whether persisted tabs finished restoring.
func (b *SelectorBase) IsTabStateInitialized() bool { return b.tabStateInitialized }

// AddObserver implements TabModelSelector.
func (b *SelectorBase) AddObserver(observer TabModelSelectorObserver) { b.observers.Add(observer) }

// RemoveObserver implements TabModelSelector.
func (b *SelectorBase) RemoveObserver(observer TabModelSelectorObserver) {
	b.observers.Remove(observer)
}

func (b *SelectorBase) markTabStateInitialized() {
	if b.tabStateInitialized {
		return
	}
	b.tabStateInitialized = true
	b.observers.Each(func(o TabModelSelectorObserver) { o.OnTabStateInitialized() })
}

func (b *SelectorBase) notifyChanged() {
	b.observers.Each(func(o TabModelSelectorObserver) { o.OnChange() })
}

func (b *SelectorBase) notifyNewTabCreated(tab *Tab) {
	b.observers.Each(func(o TabModelSelectorObserver) { o.OnNewTabCreated(tab) })
}

func (b *SelectorBase) destroy() {
	for _, model := range b.models {
		model.RemoveObserver(b.change)
		model.Destroy()
	}
	b.observers.Clear()
}

// selectorChangeObserver turns model activity into selector change signals.
type selectorChangeObserver struct {
	TabModelObserverBase
	base *SelectorBase
}

func (o *selectorChangeObserver) DidAddTab(tab *Tab, _ schema.LaunchType) {
	o.base.notifyChanged()
	o.base.notifyNewTabCreated(tab)
}

func (o *selectorChangeObserver) DidSelectTab(*Tab, schema.SelectionType, schema.TabID) {
	o.base.notifyChanged()
}

func (o *selectorChangeObserver) DidMoveTab(*Tab, int, int) {
	o.base.notifyChanged()
}
