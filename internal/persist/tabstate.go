package persist

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
	"pkt.systems/pslog"
	"pkt.systems/tabkeep/schema"
)

// TabStateVersion is the per-tab state encoding version.
const TabStateVersion = 1

// TabState field numbers.
const (
	tabStateVersionField     protowire.Number = 1
	tabStateURLField         protowire.Number = 2
	tabStateTitleField       protowire.Number = 3
	tabStateParentField      protowire.Number = 4
	tabStateTimestampField   protowire.Number = 5
	tabStateOpenerAppField   protowire.Number = 6
	tabStateLaunchField      protowire.Number = 7
	tabStateContentsField    protowire.Number = 8
	tabStateGroupedField     protowire.Number = 9
	tabStateContentsVerField protowire.Number = 10
)

// TabState is the full serialized state of one tab.
type TabState struct {
	URL               string
	Title             string
	ParentID          schema.TabID
	GroupedWithParent bool
	LastShown         time.Time
	OpenerAppID       string
	Launch            schema.LaunchType
	// Contents is the engine's opaque navigation state.
	Contents        []byte
	ContentsVersion int32
	// Incognito is derived from the file name, not the payload.
	Incognito bool
}

// EncodeTabState serializes state.
func EncodeTabState(state TabState) []byte {
	var b []byte
	b = protowire.AppendTag(b, tabStateVersionField, protowire.VarintType)
	b = protowire.AppendVarint(b, TabStateVersion)
	if state.URL != "" {
		b = protowire.AppendTag(b, tabStateURLField, protowire.BytesType)
		b = protowire.AppendString(b, state.URL)
	}
	if state.Title != "" {
		b = protowire.AppendTag(b, tabStateTitleField, protowire.BytesType)
		b = protowire.AppendString(b, state.Title)
	}
	b = protowire.AppendTag(b, tabStateParentField, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(int64(state.ParentID)))
	if !state.LastShown.IsZero() {
		b = protowire.AppendTag(b, tabStateTimestampField, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(state.LastShown.UnixMilli()))
	}
	if state.OpenerAppID != "" {
		b = protowire.AppendTag(b, tabStateOpenerAppField, protowire.BytesType)
		b = protowire.AppendString(b, state.OpenerAppID)
	}
	b = protowire.AppendTag(b, tabStateLaunchField, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(state.Launch))
	if len(state.Contents) > 0 {
		b = protowire.AppendTag(b, tabStateContentsField, protowire.BytesType)
		b = protowire.AppendBytes(b, state.Contents)
	}
	if state.GroupedWithParent {
		b = protowire.AppendTag(b, tabStateGroupedField, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeBool(true))
	}
	if state.ContentsVersion != 0 {
		b = protowire.AppendTag(b, tabStateContentsVerField, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(state.ContentsVersion))
	}
	return b
}

// DecodeTabState parses a serialized TabState. Unknown fields are skipped.
func DecodeTabState(data []byte) (TabState, error) {
	state := TabState{ParentID: schema.InvalidTabID}
	version := uint64(0)
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return TabState{}, fmt.Errorf("%w: %v", schema.ErrUnreadableTabState, protowire.ParseError(n))
		}
		data = data[n:]
		switch {
		case typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return TabState{}, fmt.Errorf("%w: field %d: %v", schema.ErrUnreadableTabState, num, protowire.ParseError(n))
			}
			data = data[n:]
			switch num {
			case tabStateVersionField:
				version = v
			case tabStateParentField:
				state.ParentID = schema.TabID(protowire.DecodeZigZag(v))
			case tabStateTimestampField:
				state.LastShown = time.UnixMilli(int64(v))
			case tabStateLaunchField:
				state.Launch = schema.LaunchType(v)
			case tabStateGroupedField:
				state.GroupedWithParent = protowire.DecodeBool(v)
			case tabStateContentsVerField:
				state.ContentsVersion = int32(v)
			}
		case typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return TabState{}, fmt.Errorf("%w: field %d: %v", schema.ErrUnreadableTabState, num, protowire.ParseError(n))
			}
			data = data[n:]
			switch num {
			case tabStateURLField:
				state.URL = string(v)
			case tabStateTitleField:
				state.Title = string(v)
			case tabStateOpenerAppField:
				state.OpenerAppID = string(v)
			case tabStateContentsField:
				state.Contents = append([]byte(nil), v...)
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return TabState{}, fmt.Errorf("%w: field %d: %v", schema.ErrUnreadableTabState, num, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	if version == 0 || version > TabStateVersion {
		return TabState{}, fmt.Errorf("%w: %w %d", schema.ErrUnreadableTabState, schema.ErrUnsupportedVersion, version)
	}
	return state, nil
}

// TabStateFiles reads and writes per-tab state files in one directory.
type TabStateFiles struct {
	Dir    string
	Cipher *Cipher
	Logger pslog.Logger
}

// Path returns the state file path for a tab.
func (f TabStateFiles) Path(id schema.TabID, incognito bool) string {
	return filepath.Join(f.Dir, TabStateFileName(id, incognito))
}

// Write persists state. Incognito state is sealed with the cipher.
func (f TabStateFiles) Write(id schema.TabID, state TabState) error {
	data := EncodeTabState(state)
	if state.Incognito {
		if f.Cipher == nil {
			return schema.ErrMissingKey
		}
		sealed, err := f.Cipher.Seal(data)
		if err != nil {
			return err
		}
		data = sealed
	}
	return WriteFileAtomic(f.Path(id, state.Incognito), data, f.Logger)
}

// Read loads the state for id, trying the normal then the incognito file.
// A missing file returns os.ErrNotExist.
func (f TabStateFiles) Read(id schema.TabID) (TabState, error) {
	state, err := f.ReadProfile(id, false)
	if err == nil || !errors.Is(err, os.ErrNotExist) {
		return state, err
	}
	return f.ReadProfile(id, true)
}

// ReadProfile loads the state for id from the file of one profile.
func (f TabStateFiles) ReadProfile(id schema.TabID, incognito bool) (TabState, error) {
	data, err := os.ReadFile(f.Path(id, incognito))
	if err != nil {
		return TabState{}, err
	}
	if incognito {
		if f.Cipher == nil {
			return TabState{}, schema.ErrMissingKey
		}
		if data, err = f.Cipher.Open(data); err != nil {
			return TabState{}, err
		}
	}
	state, err := DecodeTabState(data)
	if err != nil {
		return TabState{}, err
	}
	state.Incognito = incognito
	return state, nil
}

// Delete removes both profile files for id.
func (f TabStateFiles) Delete(id schema.TabID) error {
	return errors.Join(RemoveFile(f.Path(id, false)), RemoveFile(f.Path(id, true)))
}
