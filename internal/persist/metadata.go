package persist

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"unicode/utf8"

	"pkt.systems/tabkeep/schema"
)

const (
	// MetadataVersion is the version written by EncodeMetadata.
	MetadataVersion int32 = 5
	// MinMetadataVersion is the oldest readable version. Version 3 lacks
	// per-entry URLs and version 4 lacks the incognito count.
	MinMetadataVersion int32 = 3

	maxMetadataTabs = 1 << 16
)

// MetadataEntry is one tab listed in a metadata file.
type MetadataEntry struct {
	ID  schema.TabID
	URL string
}

// Metadata is the tab list of one selector, split by profile.
// Indices are relative to their own list or schema.InvalidIndex.
type Metadata struct {
	Incognito      []MetadataEntry
	Normal         []MetadataEntry
	IncognitoIndex int
	NormalIndex    int
	// Pending lists tabs still being restored. They follow the normal tabs
	// on disk and read back as normal entries.
	Pending []MetadataEntry
}

// SavedEntry is an entry as read from disk, in file order.
type SavedEntry struct {
	ID  schema.TabID
	URL string
	// Incognito is nil when the file predates the incognito count.
	Incognito *bool
	// IsIncognitoActive and IsNormalActive mark the active entries.
	IsIncognitoActive bool
	IsNormalActive    bool
}

// SavedState is a decoded metadata file.
type SavedState struct {
	Version int32
	// IncognitoCount is -1 when the file predates the incognito count.
	IncognitoCount int
	Entries        []SavedEntry
}

// EncodeMetadata serializes m at the current version.
func EncodeMetadata(m Metadata) []byte {
	data, _ := EncodeMetadataVersion(m, MetadataVersion)
	return data
}

// EncodeMetadataVersion serializes m using the layout of an older version.
func EncodeMetadataVersion(m Metadata, version int32) ([]byte, error) {
	if version < MinMetadataVersion || version > MetadataVersion {
		return nil, fmt.Errorf("%w: %d", schema.ErrUnsupportedVersion, version)
	}
	incognitoCount := len(m.Incognito)
	count := incognitoCount + len(m.Normal) + len(m.Pending)
	incognitoIndex := int32(schema.InvalidIndex)
	if m.IncognitoIndex >= 0 && m.IncognitoIndex < incognitoCount {
		incognitoIndex = int32(m.IncognitoIndex)
	}
	normalIndex := int32(schema.InvalidIndex)
	if m.NormalIndex >= 0 && m.NormalIndex < len(m.Normal) {
		normalIndex = int32(m.NormalIndex + incognitoCount)
	}

	var buf bytes.Buffer
	put := func(v int32) {
		_ = binary.Write(&buf, binary.BigEndian, v)
	}
	put(version)
	put(int32(count))
	if version >= 5 {
		put(int32(incognitoCount))
	}
	put(incognitoIndex)
	put(normalIndex)
	entries := make([]MetadataEntry, 0, count)
	entries = append(append(append(entries, m.Incognito...), m.Normal...), m.Pending...)
	for _, entry := range entries {
		put(int32(entry.ID))
		if version >= 4 {
			url := entry.URL
			if len(url) > math.MaxUint16 || !utf8.ValidString(url) {
				url = ""
			}
			_ = binary.Write(&buf, binary.BigEndian, uint16(len(url)))
			buf.WriteString(url)
		}
	}
	return buf.Bytes(), nil
}

// DecodeMetadata parses a metadata file. Corrupt or unreadably old data yields
// an error wrapping schema.ErrUnreadableMetadata.
func DecodeMetadata(data []byte) (SavedState, error) {
	r := bytes.NewReader(data)
	read := func() (int32, error) {
		var v int32
		err := binary.Read(r, binary.BigEndian, &v)
		return v, err
	}
	version, err := read()
	if err != nil {
		return SavedState{}, fmt.Errorf("%w: version: %v", schema.ErrUnreadableMetadata, err)
	}
	if version < MinMetadataVersion || version > MetadataVersion {
		return SavedState{}, fmt.Errorf("%w: %w %d", schema.ErrUnreadableMetadata, schema.ErrUnsupportedVersion, version)
	}
	count, err := read()
	if err != nil {
		return SavedState{}, fmt.Errorf("%w: count: %v", schema.ErrUnreadableMetadata, err)
	}
	if count < 0 || count > maxMetadataTabs {
		return SavedState{}, fmt.Errorf("%w: count %d", schema.ErrUnreadableMetadata, count)
	}
	incognitoCount := int32(-1)
	if version >= 5 {
		if incognitoCount, err = read(); err != nil {
			return SavedState{}, fmt.Errorf("%w: incognito count: %v", schema.ErrUnreadableMetadata, err)
		}
		if incognitoCount < 0 || incognitoCount > count {
			return SavedState{}, fmt.Errorf("%w: incognito count %d", schema.ErrUnreadableMetadata, incognitoCount)
		}
	}
	incognitoIndex, err := read()
	if err != nil {
		return SavedState{}, fmt.Errorf("%w: incognito index: %v", schema.ErrUnreadableMetadata, err)
	}
	normalIndex, err := read()
	if err != nil {
		return SavedState{}, fmt.Errorf("%w: normal index: %v", schema.ErrUnreadableMetadata, err)
	}

	state := SavedState{
		Version:        version,
		IncognitoCount: int(incognitoCount),
		Entries:        make([]SavedEntry, 0, count),
	}
	for i := int32(0); i < count; i++ {
		id, err := read()
		if err != nil {
			return SavedState{}, fmt.Errorf("%w: entry %d: %v", schema.ErrUnreadableMetadata, i, err)
		}
		entry := SavedEntry{
			ID:                schema.TabID(id),
			IsIncognitoActive: i == incognitoIndex,
			IsNormalActive:    i == normalIndex,
		}
		if version >= 4 {
			var size uint16
			if err := binary.Read(r, binary.BigEndian, &size); err != nil {
				return SavedState{}, fmt.Errorf("%w: entry %d url: %v", schema.ErrUnreadableMetadata, i, err)
			}
			raw := make([]byte, size)
			if _, err := io.ReadFull(r, raw); err != nil {
				return SavedState{}, fmt.Errorf("%w: entry %d url: %v", schema.ErrUnreadableMetadata, i, err)
			}
			entry.URL = string(raw)
		}
		if incognitoCount >= 0 {
			incognito := i < incognitoCount
			entry.Incognito = &incognito
		}
		state.Entries = append(state.Entries, entry)
	}
	return state, nil
}

// Metadata splits the saved entries back into per-profile lists. Entries of
// unknown profile are listed as normal.
func (s SavedState) Metadata() Metadata {
	m := Metadata{IncognitoIndex: schema.InvalidIndex, NormalIndex: schema.InvalidIndex}
	for _, entry := range s.Entries {
		item := MetadataEntry{ID: entry.ID, URL: entry.URL}
		if entry.Incognito != nil && *entry.Incognito {
			if entry.IsIncognitoActive {
				m.IncognitoIndex = len(m.Incognito)
			}
			m.Incognito = append(m.Incognito, item)
			continue
		}
		if entry.IsNormalActive {
			m.NormalIndex = len(m.Normal)
		}
		m.Normal = append(m.Normal, item)
	}
	return m
}

// MaxID returns the largest tab id listed, or schema.InvalidTabID.
func (s SavedState) MaxID() schema.TabID {
	max := schema.InvalidTabID
	for _, entry := range s.Entries {
		if entry.ID > max {
			max = entry.ID
		}
	}
	return max
}

// IDs returns every listed tab id in file order.
func (s SavedState) IDs() []schema.TabID {
	ids := make([]schema.TabID, 0, len(s.Entries))
	for _, entry := range s.Entries {
		ids = append(ids, entry.ID)
	}
	return ids
}
