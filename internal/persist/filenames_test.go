package persist

import (
	"testing"

	"pkt.systems/tabkeep/schema"
)

func TestParseTabStateFileName(t *testing.T) {
	cases := []struct {
		name      string
		id        schema.TabID
		incognito bool
		ok        bool
	}{
		{"tab0", 0, false, true},
		{"tab42", 42, false, true},
		{"cryptonito7", 7, true, true},
		{"tab_state0", schema.InvalidTabID, false, false},
		{"tab", schema.InvalidTabID, false, false},
		{"tab-1", schema.InvalidTabID, false, false},
		{"tab99999999999", schema.InvalidTabID, false, false},
		{"prefs.yaml", schema.InvalidTabID, false, false},
	}
	for _, tc := range cases {
		id, incognito, ok := ParseTabStateFileName(tc.name)
		if ok != tc.ok || id != tc.id || incognito != tc.incognito {
			t.Fatalf("%s: got (%d, %v, %v), want (%d, %v, %v)", tc.name, id, incognito, ok, tc.id, tc.incognito, tc.ok)
		}
	}
	if name := TabStateFileName(12, true); name != "cryptonito12" {
		t.Fatalf("unexpected name %q", name)
	}
}

func TestParseMetadataFileName(t *testing.T) {
	if window, legacy, ok := ParseMetadataFileName("tab_state2"); !ok || legacy || window != 2 {
		t.Fatalf("unexpected parse of tab_state2: %d %v %v", window, legacy, ok)
	}
	if window, legacy, ok := ParseMetadataFileName("tab_state"); !ok || !legacy || window != 0 {
		t.Fatalf("unexpected parse of tab_state: %d %v %v", window, legacy, ok)
	}
	if _, _, ok := ParseMetadataFileName("tab3"); ok {
		t.Fatalf("tab file must not parse as metadata")
	}
}
