package core

import (
	"os"
	"sync"
	"testing"
	"time"

	"pkt.systems/tabkeep/internal/persist"
	"pkt.systems/tabkeep/schema"
)

// testPoster queues completions; flush runs them on the test goroutine, which
// plays the owner loop.
type testPoster struct {
	mu    sync.Mutex
	queue []func()
}

func (p *testPoster) Post(fn func()) bool {
	p.mu.Lock()
	p.queue = append(p.queue, fn)
	p.mu.Unlock()
	return true
}

func (p *testPoster) flush() int {
	ran := 0
	for {
		p.mu.Lock()
		queue := p.queue
		p.queue = nil
		p.mu.Unlock()
		if len(queue) == 0 {
			return ran
		}
		for _, fn := range queue {
			fn()
			ran++
		}
	}
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	registry, err := NewRegistry(nil)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	return registry
}

// modelHarness is a minimal delegate owning a normal and an incognito model.
type modelHarness struct {
	t         *testing.T
	registry  *Registry
	engine    *MemoryEngine
	normal    *TabModelImpl
	incognito *IncognitoTabModel
	selected  bool
	shown     []*Tab
}

func newModelHarness(t *testing.T, undo bool) *modelHarness {
	t.Helper()
	h := &modelHarness{t: t, registry: newTestRegistry(t), engine: NewMemoryEngine(nil)}
	order := NewOrderController(h)
	h.normal = NewTabModelImpl(ModelDeps{Engine: h.engine, Order: order, Delegate: h, UndoSupported: undo})
	h.incognito = NewIncognitoTabModel(IncognitoDeps{
		Registry: h.registry,
		Engine:   h.engine,
		Create: func() TabModel {
			return NewTabModelImpl(ModelDeps{Incognito: true, Engine: h.engine, Order: order, Delegate: h})
		},
	})
	return h
}

func (h *modelHarness) Model(incognito bool) TabModel {
	if incognito {
		return h.incognito
	}
	return h.normal
}

func (h *modelHarness) CurrentModel() TabModel                  { return h.Model(h.selected) }
func (h *modelHarness) IsIncognitoSelected() bool               { return h.selected }
func (h *modelHarness) SelectModel(incognito bool)              { h.selected = incognito }
func (h *modelHarness) CloseAllTabsRequest(incognito bool) bool { return false }

func (h *modelHarness) RequestToShowTab(tab *Tab, _ schema.SelectionType) {
	h.shown = append(h.shown, tab)
}

func (h *modelHarness) open(url string, incognito bool, launch schema.LaunchType, parent *Tab) *Tab {
	h.t.Helper()
	parentID := schema.InvalidTabID
	if parent != nil {
		parentID = parent.ID()
	}
	tab := NewTab(h.registry.NextTabID(), url, incognito, launch, parentID)
	h.Model(incognito).AddTab(tab, schema.InvalidIndex, launch)
	return tab
}

func urls(list TabList) []string {
	out := make([]string, 0, list.Count())
	for i := 0; i < list.Count(); i++ {
		out = append(out, list.TabAt(i).URL())
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func checkIndexInvariant(t *testing.T, list TabList) {
	t.Helper()
	index := list.Index()
	if list.Count() == 0 && index != schema.InvalidIndex {
		t.Fatalf("empty model has index %d", index)
	}
	if index != schema.InvalidIndex && (index < 0 || index >= list.Count()) {
		t.Fatalf("index %d out of range for %d tabs", index, list.Count())
	}
	seen := map[schema.TabID]struct{}{}
	for i := 0; i < list.Count(); i++ {
		id := list.TabAt(i).ID()
		if _, ok := seen[id]; ok {
			t.Fatalf("duplicate tab id %d", id)
		}
		seen[id] = struct{}{}
	}
}

// testWindow is a fully wired selector over a temp state directory.
type testWindow struct {
	t        *testing.T
	poster   *testPoster
	registry *Registry
	engine   *MemoryEngine
	policy   *persist.Policy
	selector *SelectorImpl
	sink     *recordingSink
}

func openTestWindow(t *testing.T, base string, window int, registry *Registry, engine *MemoryEngine, poster *testPoster) *testWindow {
	t.Helper()
	policy, err := persist.NewPolicy(persist.PolicyDeps{
		BaseDir:     base,
		Window:      window,
		MaxWindows:  3,
		Coordinator: registry.Coordinator(),
	})
	if err != nil {
		t.Fatalf("new policy: %v", err)
	}
	sink := &recordingSink{}
	selector, err := NewSelectorImpl(SelectorDeps{
		Window:        window,
		Registry:      registry,
		Engine:        engine,
		Policy:        policy,
		Poster:        poster,
		EventSink:     sink,
		UndoSupported: true,
	})
	if err != nil {
		t.Fatalf("new selector: %v", err)
	}
	selector.OnNativeReady()
	t.Cleanup(selector.Destroy)
	return &testWindow{
		t:        t,
		poster:   poster,
		registry: registry,
		engine:   engine,
		policy:   policy,
		selector: selector,
		sink:     sink,
	}
}

func newTestWindow(t *testing.T) *testWindow {
	t.Helper()
	return openTestWindow(t, t.TempDir(), 0, newTestRegistry(t), NewMemoryEngine(nil), &testPoster{})
}

// settle runs completions until the store has nothing in flight.
func (w *testWindow) settle() {
	w.t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		ran := w.poster.flush()
		s := w.selector.store
		idle := s.saveJob == nil && s.loadJob == nil && s.metadataJob == nil &&
			len(s.saveQueue) == 0 && len(s.restoreQueue) == 0
		if ran == 0 && idle {
			return
		}
		if time.Now().After(deadline) {
			w.t.Fatalf("store did not settle")
		}
		time.Sleep(time.Millisecond)
	}
}

func (w *testWindow) stateDir() string { return w.policy.StateDir() }

func (w *testWindow) files() persist.TabStateFiles {
	return persist.TabStateFiles{Dir: w.stateDir(), Cipher: w.registry.Cipher()}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

type recordingSink struct {
	events  []schema.TabEvent
	changes int
}

func (s *recordingSink) OnTabEvent(event schema.TabEvent) { s.events = append(s.events, event) }
func (s *recordingSink) OnChange(int)                     { s.changes++ }

func (s *recordingSink) count(kind schema.TabEventType) int {
	n := 0
	for _, event := range s.events {
		if event.Type == kind {
			n++
		}
	}
	return n
}
