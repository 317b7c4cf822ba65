package core

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"pkt.systems/tabkeep/internal/persist"
	"pkt.systems/tabkeep/schema"
)

func writeFixtureMetadata(t *testing.T, base string, window int, m persist.Metadata) {
	t.Helper()
	path := filepath.Join(base, persist.StateDirName, persist.MetadataFileName(window))
	if err := persist.WriteFileAtomic(path, persist.EncodeMetadata(m), nil); err != nil {
		t.Fatalf("write metadata: %v", err)
	}
}

func writeFixtureTab(t *testing.T, base string, id schema.TabID, url string) {
	t.Helper()
	files := persist.TabStateFiles{Dir: filepath.Join(base, persist.StateDirName)}
	if err := files.Write(id, persist.TabState{URL: url, ParentID: schema.InvalidTabID}); err != nil {
		t.Fatalf("write tab %d: %v", id, err)
	}
}

func readWindowMetadata(t *testing.T, w *testWindow) persist.SavedState {
	t.Helper()
	data, err := os.ReadFile(w.policy.MetadataPath(w.policy.Window()))
	if err != nil {
		t.Fatalf("read metadata: %v", err)
	}
	state, err := persist.DecodeMetadata(data)
	if err != nil {
		t.Fatalf("decode metadata: %v", err)
	}
	return state
}

func (w *testWindow) load(ignoreIncognito bool) {
	w.t.Helper()
	if err := w.selector.LoadState(context.Background(), ignoreIncognito); err != nil {
		w.t.Fatalf("load state: %v", err)
	}
}

func (w *testWindow) waitForOrphanScan() {
	w.t.Helper()
	coord := w.registry.Coordinator()
	waitFor(w.t, "orphan scan", func() bool {
		if coord.BeginCleanup() {
			coord.EndCleanup()
			return true
		}
		return false
	})
}

func TestSaveQueueWritesTabAndClearsDirty(t *testing.T) {
	w := newTestWindow(t)
	tab := w.selector.OpenNewTab("https://a.example/", schema.LaunchFromChromeUI, nil, false)
	if tab == nil || !tab.IsDirty() {
		t.Fatalf("expected a dirty new tab")
	}
	w.settle()
	if tab.IsDirty() {
		t.Fatalf("expected saved tab to be clean")
	}
	state, err := w.files().ReadProfile(tab.ID(), false)
	if err != nil {
		t.Fatalf("read saved tab: %v", err)
	}
	if state.URL != "https://a.example/" || len(state.Contents) == 0 {
		t.Fatalf("unexpected saved state %+v", state)
	}
	meta := readWindowMetadata(t, w)
	if len(meta.Entries) != 1 || meta.Entries[0].ID != tab.ID() || !meta.Entries[0].IsNormalActive {
		t.Fatalf("unexpected metadata %+v", meta)
	}
}

func TestSaveStateRoundTripsAcrossProcesses(t *testing.T) {
	base := t.TempDir()
	w := openTestWindow(t, base, 0, newTestRegistry(t), NewMemoryEngine(nil), &testPoster{})
	a := w.selector.OpenNewTab("https://a.example/", schema.LaunchFromChromeUI, nil, false)
	b := w.selector.OpenNewTab("https://b.example/", schema.LaunchFromChromeUI, nil, false)
	secret := w.selector.OpenNewTab("https://secret.example/", schema.LaunchFromChromeUI, nil, true)
	w.settle()
	w.selector.SaveState()

	meta := readWindowMetadata(t, w)
	if meta.Version != persist.MetadataVersion || meta.IncognitoCount != 1 || len(meta.Entries) != 3 {
		t.Fatalf("unexpected metadata header %+v", meta)
	}
	if meta.Entries[0].ID != secret.ID() || !meta.Entries[0].IsIncognitoActive {
		t.Fatalf("expected incognito entry first, got %+v", meta.Entries[0])
	}
	if meta.Entries[1].ID != a.ID() || meta.Entries[2].ID != b.ID() || !meta.Entries[2].IsNormalActive {
		t.Fatalf("unexpected normal entries %+v", meta.Entries[1:])
	}
	if !fileExists(w.files().Path(secret.ID(), true)) {
		t.Fatalf("expected incognito tab file")
	}
	w.selector.Destroy()

	// A new process has a new incognito key; the incognito tab cannot come back.
	restored := openTestWindow(t, base, 0, newTestRegistry(t), NewMemoryEngine(nil), &testPoster{})
	restored.load(false)
	restored.selector.RestoreTabs(true)
	restored.settle()

	normal := restored.selector.Model(false)
	if got := urls(normal); !equalStrings(got, []string{"https://a.example/", "https://b.example/"}) {
		t.Fatalf("unexpected restored tabs %v", got)
	}
	if current := CurrentTab(normal); current == nil || current.ID() != b.ID() {
		t.Fatalf("expected b active after restore")
	}
	if restored.selector.Model(true).Count() != 0 {
		t.Fatalf("incognito tabs must not survive the process")
	}
	if history := restored.engine.History(b.ID()); !equalStrings(history, []string{"https://b.example/"}) {
		t.Fatalf("expected navigation history restored, got %v", history)
	}
	if !restored.selector.IsTabStateInitialized() {
		t.Fatalf("expected tab state initialized")
	}
	if next := restored.registry.NextTabID(); next <= secret.ID() {
		t.Fatalf("expected ids above persisted ones, got %d", next)
	}
	waitFor(t, "unreadable incognito file removed", func() bool {
		return !fileExists(restored.files().Path(secret.ID(), true))
	})
}

func TestSaveStateSkipsTabAlreadySaved(t *testing.T) {
	w := newTestWindow(t)
	store := w.selector.store
	tab := w.selector.OpenNewTab("https://a.example/", schema.LaunchFromChromeUI, nil, false)
	job := store.saveJob
	if job == nil || job.tab != tab {
		t.Fatalf("expected a save in flight for the new tab")
	}
	waitFor(t, "tab written", job.saved.Load)
	if len(store.saveQueue) != 0 {
		t.Fatalf("expected nothing else queued, got %d", len(store.saveQueue))
	}
	path := w.files().Path(tab.ID(), false)
	if err := os.Remove(path); err != nil {
		t.Fatalf("remove tab file: %v", err)
	}

	store.SaveState()
	if tab.IsDirty() {
		t.Fatalf("expected the saved tab to be clean")
	}
	if store.saveJob != nil || len(store.saveQueue) != 0 {
		t.Fatalf("expected no save left behind")
	}
	if fileExists(path) {
		t.Fatalf("tab saved before the cancel must not be written again")
	}
	w.settle()
	if fileExists(path) {
		t.Fatalf("stale completion wrote the tab again")
	}
}

type metadataSavedObserver struct {
	StoreObserverBase
	saved int
}

func (o *metadataSavedObserver) OnMetadataSavedAsync() { o.saved++ }

func TestSaveTabListSupersedesPendingWrite(t *testing.T) {
	w := newTestWindow(t)
	store := w.selector.store
	a := w.selector.OpenNewTab("https://a.example/", schema.LaunchFromChromeUI, nil, false)
	b := w.selector.OpenNewTab("https://b.example/", schema.LaunchFromChromeUI, nil, false)
	w.settle()
	if err := os.Remove(store.MetadataPath()); err != nil {
		t.Fatalf("remove metadata: %v", err)
	}
	observer := &metadataSavedObserver{}
	store.AddObserver(observer)

	store.debounce = time.Hour
	store.SaveTabListAsync()
	first := store.metadataJob
	store.debounce = 0
	store.SaveTabListAsync()
	if !first.Cancelled() || store.metadataJob == first {
		t.Fatalf("expected the pending write to be superseded")
	}
	first.Wait()

	w.settle()
	if observer.saved != 1 {
		t.Fatalf("expected one metadata write, got %d", observer.saved)
	}
	meta := readWindowMetadata(t, w)
	if len(meta.Entries) != 2 || meta.Entries[0].ID != a.ID() || meta.Entries[1].ID != b.ID() {
		t.Fatalf("unexpected metadata %+v", meta.Entries)
	}
}

func TestMetadataListsPendingNormalRestores(t *testing.T) {
	base := t.TempDir()
	writeFixtureMetadata(t, base, 0, persist.Metadata{
		Incognito:      []persist.MetadataEntry{{ID: 5, URL: "https://secret.example/"}},
		IncognitoIndex: 0,
		Normal: []persist.MetadataEntry{
			{ID: 10, URL: "https://ten.example/"},
			{ID: 11, URL: "https://eleven.example/"},
		},
		NormalIndex: 0,
	})
	w := openTestWindow(t, base, 0, newTestRegistry(t), NewMemoryEngine(nil), &testPoster{})
	w.load(false)

	m := w.selector.store.Metadata()
	if len(m.Normal) != 0 || len(m.Incognito) != 0 {
		t.Fatalf("expected empty models before restore, got %+v", m)
	}
	if len(m.Pending) != 2 || m.Pending[0].ID != 10 || m.Pending[1].ID != 11 {
		t.Fatalf("expected pending normal tabs only, got %+v", m.Pending)
	}
	state, err := persist.DecodeMetadata(persist.EncodeMetadata(m))
	if err != nil {
		t.Fatalf("decode metadata: %v", err)
	}
	if state.IncognitoCount != 0 || len(state.Entries) != 2 {
		t.Fatalf("unexpected encoded metadata %+v", state)
	}
	for _, entry := range state.Entries {
		if entry.Incognito == nil || *entry.Incognito {
			t.Fatalf("pending entry %d must read back as normal", entry.ID)
		}
	}
}

func TestRestoreFallsBackToURLWhenStateMissing(t *testing.T) {
	base := t.TempDir()
	writeFixtureMetadata(t, base, 0, persist.Metadata{
		Normal:         []persist.MetadataEntry{{ID: 7, URL: "https://example.com/"}},
		NormalIndex:    0,
		IncognitoIndex: schema.InvalidIndex,
	})
	w := openTestWindow(t, base, 0, newTestRegistry(t), NewMemoryEngine(nil), &testPoster{})
	w.load(false)
	w.selector.RestoreTabs(true)

	tab := w.selector.TabByID(7)
	if tab == nil || tab.URL() != "https://example.com/" {
		t.Fatalf("expected fallback tab 7, got %v", tab)
	}
	if w.selector.CurrentTab() != tab {
		t.Fatalf("expected fallback tab active")
	}
	if history := w.engine.History(7); len(history) != 0 {
		t.Fatalf("expected empty history, got %v", history)
	}
	w.settle()
	if !fileExists(w.files().Path(7, false)) {
		t.Fatalf("expected fallback tab to be saved")
	}
	if next := w.selector.OpenNewTab("https://b.example/", schema.LaunchFromChromeUI, nil, false); next.ID() != 8 {
		t.Fatalf("expected next id 8, got %d", next.ID())
	}
}

func TestRestoreVersion4MetadataKeepsActiveTab(t *testing.T) {
	base := t.TempDir()
	data, err := persist.EncodeMetadataVersion(persist.Metadata{
		Normal: []persist.MetadataEntry{
			{ID: 3, URL: "https://one.example/"},
			{ID: 4, URL: "https://two.example/"},
			{ID: 5, URL: "https://gone.example/"},
		},
		NormalIndex:    1,
		IncognitoIndex: schema.InvalidIndex,
	}, 4)
	if err != nil {
		t.Fatalf("encode v4: %v", err)
	}
	path := filepath.Join(base, persist.StateDirName, persist.MetadataFileName(0))
	if err := persist.WriteFileAtomic(path, data, nil); err != nil {
		t.Fatalf("write metadata: %v", err)
	}
	writeFixtureTab(t, base, 3, "https://one.example/")
	writeFixtureTab(t, base, 4, "https://two.example/")

	w := openTestWindow(t, base, 0, newTestRegistry(t), NewMemoryEngine(nil), &testPoster{})
	w.load(false)
	w.selector.RestoreTabs(true)
	w.settle()

	normal := w.selector.Model(false)
	if got := urls(normal); !equalStrings(got, []string{"https://one.example/", "https://two.example/"}) {
		t.Fatalf("unexpected restored tabs %v", got)
	}
	if CurrentTab(normal).ID() != 4 {
		t.Fatalf("expected tab 4 active, got %d", CurrentTab(normal).ID())
	}
	if w.selector.TabByID(5) != nil {
		t.Fatalf("tab of unknown profile without state must be dropped")
	}
}

func TestContentSchemeTabsAreNotPersisted(t *testing.T) {
	w := newTestWindow(t)
	content := w.selector.OpenNewTab("content://media/external/1", schema.LaunchFromChromeUI, nil, false)
	a := w.selector.OpenNewTab("https://a.example/", schema.LaunchFromChromeUI, nil, false)
	w.settle()
	w.selector.SaveState()

	meta := readWindowMetadata(t, w)
	if len(meta.Entries) != 1 || meta.Entries[0].ID != a.ID() || !meta.Entries[0].IsNormalActive {
		t.Fatalf("expected only a listed and active, got %+v", meta.Entries)
	}
	if fileExists(w.files().Path(content.ID(), false)) {
		t.Fatalf("content scheme tab must not be written")
	}
}

func TestClosedTabFileIsDeleted(t *testing.T) {
	w := newTestWindow(t)
	a := w.selector.OpenNewTab("https://a.example/", schema.LaunchFromChromeUI, nil, false)
	b := w.selector.OpenNewTab("https://b.example/", schema.LaunchFromChromeUI, nil, false)
	w.settle()
	if !fileExists(w.files().Path(a.ID(), false)) || !fileExists(w.files().Path(b.ID(), false)) {
		t.Fatalf("expected both tab files")
	}

	w.selector.Model(false).CloseTab(a, CloseOptions{CanUndo: true})
	w.settle()
	if !fileExists(w.files().Path(a.ID(), false)) {
		t.Fatalf("pending closure must keep the file")
	}
	w.selector.CommitAllTabClosures()
	waitFor(t, "committed tab file removed", func() bool { return !fileExists(w.files().Path(a.ID(), false)) })

	w.selector.CloseTab(b)
	waitFor(t, "closed tab file removed", func() bool { return !fileExists(w.files().Path(b.ID(), false)) })
	w.settle()
	if meta := readWindowMetadata(t, w); len(meta.Entries) != 0 {
		t.Fatalf("expected empty metadata, got %+v", meta.Entries)
	}
}

func TestStealRestoresQueuedTabsImmediately(t *testing.T) {
	base := t.TempDir()
	writeFixtureMetadata(t, base, 0, persist.Metadata{
		Normal: []persist.MetadataEntry{
			{ID: 10, URL: "https://ten.example/"},
			{ID: 11, URL: "https://eleven.example/"},
			{ID: 12, URL: "https://twelve.example/"},
		},
		NormalIndex:    0,
		IncognitoIndex: schema.InvalidIndex,
	})
	writeFixtureTab(t, base, 10, "https://ten.example/")
	writeFixtureTab(t, base, 11, "https://eleven.example/")
	writeFixtureTab(t, base, 12, "https://twelve.example/")
	w := openTestWindow(t, base, 0, newTestRegistry(t), NewMemoryEngine(nil), &testPoster{})
	w.load(false)
	w.selector.RestoreTabs(true)
	if w.selector.TotalTabCount() != 1 {
		t.Fatalf("expected only the active tab restored synchronously, got %d", w.selector.TotalTabCount())
	}

	if !w.selector.TryRestoreTabStateForID(12) {
		t.Fatalf("expected queued tab 12 to be stolen")
	}
	if !w.selector.TryRestoreTabStateForURL("https://eleven.example/") {
		t.Fatalf("expected in-flight tab 11 to be stolen")
	}
	if w.selector.TryRestoreTabStateForID(99) || w.selector.TryRestoreTabStateForURL("") {
		t.Fatalf("expected unknown steals to fail")
	}
	normal := w.selector.Model(false)
	var ids []string
	for i := 0; i < normal.Count(); i++ {
		ids = append(ids, normal.TabAt(i).ID().String())
	}
	if !equalStrings(ids, []string{"10", "11", "12"}) {
		t.Fatalf("expected original order, got %v", ids)
	}
	if len(w.selector.PendingRestoreIDs()) != 0 {
		t.Fatalf("expected nothing pending, got %v", w.selector.PendingRestoreIDs())
	}
	w.settle()
	if w.selector.TotalTabCount() != 3 || CurrentTab(normal).ID() != 10 {
		t.Fatalf("unexpected state after settle")
	}
}

func TestLoadStateDeletesStaleFilesAndOrphans(t *testing.T) {
	base := t.TempDir()
	writeFixtureMetadata(t, base, 0, persist.Metadata{
		Normal:         []persist.MetadataEntry{{ID: 3, URL: "https://three.example/"}},
		NormalIndex:    0,
		IncognitoIndex: schema.InvalidIndex,
	})
	writeFixtureMetadata(t, base, 1, persist.Metadata{
		Normal:         []persist.MetadataEntry{{ID: 5, URL: "https://five.example/"}},
		NormalIndex:    0,
		IncognitoIndex: schema.InvalidIndex,
	})
	for _, id := range []schema.TabID{2, 3, 5, 9} {
		writeFixtureTab(t, base, id, "https://fixture.example/")
	}
	stateDir := filepath.Join(base, persist.StateDirName)
	if err := os.WriteFile(filepath.Join(stateDir, "cryptonito12"), []byte("sealed"), 0o600); err != nil {
		t.Fatalf("write incognito fixture: %v", err)
	}

	w := openTestWindow(t, base, 0, newTestRegistry(t), NewMemoryEngine(nil), &testPoster{})
	w.load(false)
	if next := w.registry.PeekNextTabID(); next != 13 {
		t.Fatalf("expected ids bumped past stale files, got %d", next)
	}
	waitFor(t, "stale files removed", func() bool {
		return !fileExists(filepath.Join(stateDir, "tab9")) && !fileExists(filepath.Join(stateDir, "cryptonito12"))
	})

	w.selector.RestoreTabs(true)
	w.settle()
	waitFor(t, "orphan removed", func() bool { return !fileExists(filepath.Join(stateDir, "tab2")) })
	w.waitForOrphanScan()
	if !fileExists(filepath.Join(stateDir, "tab3")) {
		t.Fatalf("live tab file must be kept")
	}
	if !fileExists(filepath.Join(stateDir, "tab5")) {
		t.Fatalf("file referenced by another window must be kept")
	}
}

func TestLoadStateCanIgnoreIncognitoFiles(t *testing.T) {
	base := t.TempDir()
	writeFixtureMetadata(t, base, 0, persist.Metadata{
		Incognito:      []persist.MetadataEntry{{ID: 20, URL: "https://secret.example/"}},
		Normal:         []persist.MetadataEntry{{ID: 21, URL: "https://plain.example/"}},
		IncognitoIndex: 0,
		NormalIndex:    0,
	})
	writeFixtureTab(t, base, 21, "https://plain.example/")
	secretPath := filepath.Join(base, persist.StateDirName, "cryptonito20")
	if err := os.WriteFile(secretPath, []byte("sealed"), 0o600); err != nil {
		t.Fatalf("write incognito fixture: %v", err)
	}

	w := openTestWindow(t, base, 0, newTestRegistry(t), NewMemoryEngine(nil), &testPoster{})
	w.load(true)
	if ids := w.selector.PendingRestoreIDs(); len(ids) != 1 || ids[0] != 21 {
		t.Fatalf("expected only the normal tab queued, got %v", ids)
	}
	waitFor(t, "incognito file removed", func() bool { return !fileExists(secretPath) })
	w.selector.RestoreTabs(true)
	w.settle()
	if w.selector.TotalTabCount() != 1 || w.selector.IsIncognitoSelected() {
		t.Fatalf("expected one normal tab")
	}
}

type mergeObserver struct {
	StoreObserverBase
	merged int
	loaded int
}

func (o *mergeObserver) OnStateMerged() { o.merged++ }
func (o *mergeObserver) OnStateLoaded() { o.loaded++ }

func TestMergeStateAbsorbsClosedWindow(t *testing.T) {
	base := t.TempDir()
	writeFixtureMetadata(t, base, 0, persist.Metadata{
		Normal:         []persist.MetadataEntry{{ID: 40, URL: "https://own.example/"}},
		NormalIndex:    0,
		IncognitoIndex: schema.InvalidIndex,
	})
	writeFixtureMetadata(t, base, 1, persist.Metadata{
		Normal: []persist.MetadataEntry{
			{ID: 30, URL: "https://thirty.example/"},
			{ID: 31, URL: "https://thirtyone.example/"},
		},
		NormalIndex:    1,
		IncognitoIndex: schema.InvalidIndex,
	})
	for _, id := range []schema.TabID{30, 31, 40} {
		writeFixtureTab(t, base, id, "https://fixture.example/"+id.String())
	}
	w := openTestWindow(t, base, 0, newTestRegistry(t), NewMemoryEngine(nil), &testPoster{})
	obs := &mergeObserver{}
	w.selector.Store().AddObserver(obs)
	w.load(false)
	w.selector.RestoreTabs(true)
	w.settle()

	if err := w.selector.MergeState(0); !errors.Is(err, schema.ErrInvalidWindow) {
		t.Fatalf("expected self merge to fail, got %v", err)
	}
	if err := w.selector.MergeState(1); err != nil {
		t.Fatalf("merge: %v", err)
	}
	w.settle()

	normal := w.selector.Model(false)
	if normal.Count() != 3 || normal.TabAt(0).ID() != 40 || normal.TabAt(1).ID() != 30 || normal.TabAt(2).ID() != 31 {
		t.Fatalf("expected merged tabs appended, got %v", urls(normal))
	}
	if CurrentTab(normal).ID() != 40 {
		t.Fatalf("merge must keep the active tab")
	}
	if obs.merged != 1 || obs.loaded != 1 {
		t.Fatalf("expected one merge and one load notification, merged=%d loaded=%d", obs.merged, obs.loaded)
	}
	waitFor(t, "merged metadata removed", func() bool { return !fileExists(w.policy.MetadataPath(1)) })
	if meta := readWindowMetadata(t, w); len(meta.Entries) != 3 {
		t.Fatalf("expected merged metadata, got %+v", meta.Entries)
	}
}

func TestMergeStateRefusesOpenWindow(t *testing.T) {
	base := t.TempDir()
	registry := newTestRegistry(t)
	engine := NewMemoryEngine(nil)
	poster := &testPoster{}
	w := openTestWindow(t, base, 0, registry, engine, poster)
	openTestWindow(t, base, 1, registry, engine, poster)
	if err := w.selector.MergeState(1); !errors.Is(err, schema.ErrInvalidWindow) {
		t.Fatalf("expected open window merge to fail, got %v", err)
	}
}

func TestCloseAllUponExitCancelsPendingLoads(t *testing.T) {
	base := t.TempDir()
	writeFixtureMetadata(t, base, 0, persist.Metadata{
		Normal: []persist.MetadataEntry{
			{ID: 50, URL: "https://fifty.example/"},
			{ID: 51, URL: "https://fiftyone.example/"},
			{ID: 52, URL: "https://fiftytwo.example/"},
		},
		NormalIndex:    0,
		IncognitoIndex: schema.InvalidIndex,
	})
	for _, id := range []schema.TabID{50, 51, 52} {
		writeFixtureTab(t, base, id, "https://fixture.example/"+id.String())
	}
	w := openTestWindow(t, base, 0, newTestRegistry(t), NewMemoryEngine(nil), &testPoster{})
	w.load(false)
	w.selector.RestoreTabs(true)
	w.selector.CloseAllTabs(true)
	w.settle()

	if w.selector.TotalTabCount() != 0 {
		t.Fatalf("expected no tabs after close all, got %d", w.selector.TotalTabCount())
	}
	for _, id := range []schema.TabID{50, 51, 52} {
		waitFor(t, "tab file removed", func() bool { return !fileExists(w.files().Path(id, false)) })
	}
}

func TestClearStateRemovesWindowFiles(t *testing.T) {
	w := newTestWindow(t)
	a := w.selector.OpenNewTab("https://a.example/", schema.LaunchFromChromeUI, nil, false)
	w.settle()
	w.selector.ClearState()
	waitFor(t, "metadata removed", func() bool { return !fileExists(w.policy.MetadataPath(0)) })
	waitFor(t, "tab file removed", func() bool { return !fileExists(w.files().Path(a.ID(), false)) })
	if !w.selector.IsTabStateInitialized() {
		t.Fatalf("clearing state must mark tab state initialized")
	}
}
