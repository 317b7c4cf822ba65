package migrate

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
	"pkt.systems/tabkeep/internal/persist"
	"pkt.systems/tabkeep/schema"
)

// DocumentsFileName is the tab list of the legacy document-mode store.
const DocumentsFileName = "documents.pb"

// DocumentList field numbers.
const (
	documentListEntryField  protowire.Number = 1
	documentListActiveField protowire.Number = 2

	documentEntryIDField        protowire.Number = 1
	documentEntryURLField       protowire.Number = 2
	documentEntryLastShownField protowire.Number = 3
	documentEntryIncognitoField protowire.Number = 4
)

// DocumentEntry is one task of the legacy document mode.
type DocumentEntry struct {
	TabID     schema.TabID
	URL       string
	LastShown time.Time
	Incognito bool
}

// DocumentList is the decoded legacy tab list.
type DocumentList struct {
	Entries []DocumentEntry
	// ActiveTabID is schema.InvalidTabID when the file does not name one.
	ActiveTabID schema.TabID
}

// ActiveIndex returns the index of the active normal entry among normal
// entries. Without an explicit active tab the most recently shown one wins.
func (l DocumentList) ActiveIndex() int {
	normal := l.NormalEntries()
	best := schema.InvalidIndex
	for i, entry := range normal {
		if l.ActiveTabID.Valid() {
			if entry.TabID == l.ActiveTabID {
				return i
			}
			continue
		}
		if best == schema.InvalidIndex || entry.LastShown.After(normal[best].LastShown) {
			best = i
		}
	}
	return best
}

// NormalEntries drops incognito entries, which are never migrated.
func (l DocumentList) NormalEntries() []DocumentEntry {
	out := make([]DocumentEntry, 0, len(l.Entries))
	for _, entry := range l.Entries {
		if !entry.Incognito {
			out = append(out, entry)
		}
	}
	return out
}

// EncodeDocumentList serializes a legacy tab list.
func EncodeDocumentList(list DocumentList) []byte {
	var b []byte
	for _, entry := range list.Entries {
		var e []byte
		e = protowire.AppendTag(e, documentEntryIDField, protowire.VarintType)
		e = protowire.AppendVarint(e, protowire.EncodeZigZag(int64(entry.TabID)))
		if entry.URL != "" {
			e = protowire.AppendTag(e, documentEntryURLField, protowire.BytesType)
			e = protowire.AppendString(e, entry.URL)
		}
		if !entry.LastShown.IsZero() {
			e = protowire.AppendTag(e, documentEntryLastShownField, protowire.VarintType)
			e = protowire.AppendVarint(e, uint64(entry.LastShown.UnixMilli()))
		}
		if entry.Incognito {
			e = protowire.AppendTag(e, documentEntryIncognitoField, protowire.VarintType)
			e = protowire.AppendVarint(e, protowire.EncodeBool(true))
		}
		b = protowire.AppendTag(b, documentListEntryField, protowire.BytesType)
		b = protowire.AppendBytes(b, e)
	}
	if list.ActiveTabID.Valid() {
		b = protowire.AppendTag(b, documentListActiveField, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeZigZag(int64(list.ActiveTabID)))
	}
	return b
}

// DecodeDocumentList parses a legacy tab list. Unknown fields are skipped.
func DecodeDocumentList(data []byte) (DocumentList, error) {
	list := DocumentList{ActiveTabID: schema.InvalidTabID}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return DocumentList{}, fmt.Errorf("document list: %w", protowire.ParseError(n))
		}
		data = data[n:]
		switch {
		case num == documentListEntryField && typ == protowire.BytesType:
			raw, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return DocumentList{}, fmt.Errorf("document list entry: %w", protowire.ParseError(n))
			}
			data = data[n:]
			entry, err := decodeDocumentEntry(raw)
			if err != nil {
				return DocumentList{}, err
			}
			list.Entries = append(list.Entries, entry)
		case num == documentListActiveField && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return DocumentList{}, fmt.Errorf("document list active tab: %w", protowire.ParseError(n))
			}
			data = data[n:]
			list.ActiveTabID = schema.TabID(protowire.DecodeZigZag(v))
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return DocumentList{}, fmt.Errorf("document list field %d: %w", num, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	return list, nil
}

func decodeDocumentEntry(data []byte) (DocumentEntry, error) {
	entry := DocumentEntry{TabID: schema.InvalidTabID}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return DocumentEntry{}, fmt.Errorf("document entry: %w", protowire.ParseError(n))
		}
		data = data[n:]
		switch {
		case typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return DocumentEntry{}, fmt.Errorf("document entry field %d: %w", num, protowire.ParseError(n))
			}
			data = data[n:]
			switch num {
			case documentEntryIDField:
				entry.TabID = schema.TabID(protowire.DecodeZigZag(v))
			case documentEntryLastShownField:
				entry.LastShown = time.UnixMilli(int64(v))
			case documentEntryIncognitoField:
				entry.Incognito = protowire.DecodeBool(v)
			}
		case num == documentEntryURLField && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return DocumentEntry{}, fmt.Errorf("document entry url: %w", protowire.ParseError(n))
			}
			data = data[n:]
			entry.URL = string(v)
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return DocumentEntry{}, fmt.Errorf("document entry field %d: %w", num, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	if !entry.TabID.Valid() {
		return DocumentEntry{}, errors.New("document entry without tab id")
	}
	return entry, nil
}

// LegacyStore is the on-disk layout of document mode: one tab list plus one
// state file per tab, in the same per-tab format as tabbed mode.
type LegacyStore struct {
	Dir string
}

// ListPath returns the legacy tab list path.
func (s LegacyStore) ListPath() string { return filepath.Join(s.Dir, DocumentsFileName) }

// TabPath returns the legacy state file of a normal tab.
func (s LegacyStore) TabPath(id schema.TabID) string {
	return filepath.Join(s.Dir, persist.TabStateFileName(id, false))
}

// Load reads the legacy tab list. A missing list yields an empty one.
func (s LegacyStore) Load() (DocumentList, error) {
	data, err := os.ReadFile(s.ListPath())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DocumentList{ActiveTabID: schema.InvalidTabID}, nil
		}
		return DocumentList{}, err
	}
	return DecodeDocumentList(data)
}

// Save writes the legacy tab list. Used to seed the store in tools and tests.
func (s LegacyStore) Save(list DocumentList) error {
	return persist.WriteFileAtomic(s.ListPath(), EncodeDocumentList(list), nil)
}

// Remove deletes the legacy store.
func (s LegacyStore) Remove() error {
	return os.RemoveAll(s.Dir)
}
