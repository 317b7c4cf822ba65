package persist

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
	"pkt.systems/tabkeep/schema"
)

func TestTabStateRoundTrip(t *testing.T) {
	shown := time.UnixMilli(1_700_000_000_123)
	state := TabState{
		URL:               "https://example.com/",
		Title:             "Example",
		ParentID:          schema.TabID(3),
		GroupedWithParent: true,
		LastShown:         shown,
		OpenerAppID:       "com.example.app",
		Launch:            schema.LaunchFromLongpressBackground,
		Contents:          []byte{1, 2, 3},
		ContentsVersion:   2,
	}
	got, err := DecodeTabState(EncodeTabState(state))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.URL != state.URL || got.Title != state.Title || got.ParentID != 3 || !got.GroupedWithParent {
		t.Fatalf("unexpected state %+v", got)
	}
	if !got.LastShown.Equal(shown) {
		t.Fatalf("expected timestamp %v, got %v", shown, got.LastShown)
	}
	if got.Launch != schema.LaunchFromLongpressBackground || got.OpenerAppID != "com.example.app" {
		t.Fatalf("unexpected launch fields %+v", got)
	}
	if !bytes.Equal(got.Contents, state.Contents) || got.ContentsVersion != 2 {
		t.Fatalf("unexpected contents %+v", got)
	}
}

func TestTabStateNoParent(t *testing.T) {
	got, err := DecodeTabState(EncodeTabState(TabState{URL: "https://a/", ParentID: schema.InvalidTabID}))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ParentID != schema.InvalidTabID {
		t.Fatalf("expected invalid parent, got %d", got.ParentID)
	}
}

func TestTabStateSkipsUnknownFields(t *testing.T) {
	data := EncodeTabState(TabState{URL: "https://a/"})
	data = protowire.AppendTag(data, 99, protowire.BytesType)
	data = protowire.AppendString(data, "future")
	data = protowire.AppendTag(data, 100, protowire.Fixed64Type)
	data = protowire.AppendFixed64(data, 7)
	got, err := DecodeTabState(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.URL != "https://a/" {
		t.Fatalf("unexpected url %q", got.URL)
	}
}

func TestTabStateRejectsCorrupt(t *testing.T) {
	data := EncodeTabState(TabState{URL: "https://example.com/long"})
	if _, err := DecodeTabState(data[:5]); !errors.Is(err, schema.ErrUnreadableTabState) {
		t.Fatalf("expected unreadable state, got %v", err)
	}
	if _, err := DecodeTabState(nil); !errors.Is(err, schema.ErrUnsupportedVersion) {
		t.Fatalf("expected missing version to be unsupported, got %v", err)
	}
}

func TestTabStateFilesIncognitoSealed(t *testing.T) {
	dir := t.TempDir()
	key, err := NewKey()
	if err != nil {
		t.Fatalf("key: %v", err)
	}
	cipher, err := NewCipher(key)
	if err != nil {
		t.Fatalf("cipher: %v", err)
	}
	files := TabStateFiles{Dir: dir, Cipher: cipher}
	if err := files.Write(7, TabState{URL: "https://secret.example/", Incognito: true}); err != nil {
		t.Fatalf("write: %v", err)
	}
	raw, err := os.ReadFile(filepath.Join(dir, "cryptonito7"))
	if err != nil {
		t.Fatalf("read raw: %v", err)
	}
	if bytes.Contains(raw, []byte("secret.example")) {
		t.Fatalf("incognito state stored in clear text")
	}
	got, err := files.Read(7)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !got.Incognito || got.URL != "https://secret.example/" {
		t.Fatalf("unexpected state %+v", got)
	}

	otherKey, _ := NewKey()
	otherCipher, _ := NewCipher(otherKey)
	stale := TabStateFiles{Dir: dir, Cipher: otherCipher}
	if _, err := stale.Read(7); !errors.Is(err, schema.ErrUnreadableTabState) {
		t.Fatalf("expected unreadable state with another key, got %v", err)
	}
	if err := files.Delete(7); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := files.Read(7); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected not exist after delete, got %v", err)
	}
}

func TestTabStateFilesNormal(t *testing.T) {
	dir := t.TempDir()
	files := TabStateFiles{Dir: dir}
	if err := files.Write(2, TabState{URL: "https://a/"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "tab2")); err != nil {
		t.Fatalf("expected tab2 file: %v", err)
	}
	if err := files.Write(3, TabState{Incognito: true}); !errors.Is(err, schema.ErrMissingKey) {
		t.Fatalf("expected missing key without cipher, got %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	for _, entry := range entries {
		if isTempFile(entry.Name()) {
			t.Fatalf("temp file left behind: %s", entry.Name())
		}
	}
}
