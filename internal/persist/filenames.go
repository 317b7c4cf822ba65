package persist

import (
	"strconv"
	"strings"

	"pkt.systems/tabkeep/schema"
)

const (
	// NormalTabPrefix prefixes per-tab state files of the normal profile.
	NormalTabPrefix = "tab"
	// IncognitoTabPrefix prefixes encrypted per-tab state files.
	IncognitoTabPrefix = "cryptonito"
	// MetadataPrefix prefixes per-window metadata files.
	MetadataPrefix = "tab_state"
	// PrefsFileName is the preferences file in the base directory.
	PrefsFileName = "prefs.yaml"
	// LockFileName is the cross-process lock in the base directory.
	LockFileName = ".lock"
)

// TabStateFileName returns the per-tab state file name.
func TabStateFileName(id schema.TabID, incognito bool) string {
	if incognito {
		return IncognitoTabPrefix + id.String()
	}
	return NormalTabPrefix + id.String()
}

// ParseTabStateFileName extracts the tab id and incognito flag from a state file name.
func ParseTabStateFileName(name string) (schema.TabID, bool, bool) {
	incognito := false
	var rest string
	switch {
	case strings.HasPrefix(name, IncognitoTabPrefix):
		incognito = true
		rest = strings.TrimPrefix(name, IncognitoTabPrefix)
	case strings.HasPrefix(name, NormalTabPrefix):
		rest = strings.TrimPrefix(name, NormalTabPrefix)
	default:
		return schema.InvalidTabID, false, false
	}
	id, ok := parseDigits(rest)
	if !ok {
		return schema.InvalidTabID, false, false
	}
	return schema.TabID(id), incognito, true
}

// MetadataFileName returns the metadata file name for a window.
func MetadataFileName(window int) string {
	return MetadataPrefix + strconv.Itoa(window)
}

// ParseMetadataFileName extracts the window index from a metadata file name.
// The bare legacy name maps to window 0 with legacy set.
func ParseMetadataFileName(name string) (window int, legacy bool, ok bool) {
	if !strings.HasPrefix(name, MetadataPrefix) {
		return 0, false, false
	}
	rest := strings.TrimPrefix(name, MetadataPrefix)
	if rest == "" {
		return 0, true, true
	}
	value, ok := parseDigits(rest)
	if !ok {
		return 0, false, false
	}
	return int(value), false, true
}

func parseDigits(value string) (int32, bool) {
	if value == "" {
		return 0, false
	}
	for _, r := range value {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	parsed, err := strconv.ParseInt(value, 10, 32)
	if err != nil {
		return 0, false
	}
	return int32(parsed), true
}
