package schema

import "strconv"

// TabID identifies a tab. IDs are unique within a process.
type TabID int32

// InvalidTabID marks the absence of a tab.
const InvalidTabID TabID = -1

// InvalidIndex marks the absence of an active index.
const InvalidIndex = -1

// String renders the id for logs and file names.
func (id TabID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// Valid reports whether id refers to a tab.
func (id TabID) Valid() bool {
	return id >= 0
}

// ModelIndex addresses one of the two models owned by a selector.
type ModelIndex int

const (
	// NormalModel is the regular profile model.
	NormalModel ModelIndex = 0
	// IncognitoModel is the off-the-record profile model.
	IncognitoModel ModelIndex = 1
)

// ModelIndexFor maps an incognito flag to its model slot.
func ModelIndexFor(incognito bool) ModelIndex {
	if incognito {
		return IncognitoModel
	}
	return NormalModel
}

// LaunchType records how a tab was opened.
type LaunchType int

const (
	// LaunchFromLink is a tab opened from a link click in the foreground.
	LaunchFromLink LaunchType = iota
	// LaunchFromExternalApp is a tab opened by another application.
	LaunchFromExternalApp
	// LaunchFromChromeUI is a tab opened from browser chrome (new tab button, menu).
	LaunchFromChromeUI
	// LaunchFromRestore is a tab recreated from persisted state.
	LaunchFromRestore
	// LaunchFromLongpressForeground is a "open in new tab" from a context menu.
	LaunchFromLongpressForeground
	// LaunchFromLongpressBackground is a "open in background tab" from a context menu.
	LaunchFromLongpressBackground
	// LaunchFromReparenting is a tab moved in from another window.
	LaunchFromReparenting
	// LaunchFromLauncherShortcut is a tab opened from a home screen shortcut.
	LaunchFromLauncherShortcut
)

var launchTypeNames = map[LaunchType]string{
	LaunchFromLink:                "from_link",
	LaunchFromExternalApp:         "from_external_app",
	LaunchFromChromeUI:            "from_chrome_ui",
	LaunchFromRestore:             "from_restore",
	LaunchFromLongpressForeground: "from_longpress_foreground",
	LaunchFromLongpressBackground: "from_longpress_background",
	LaunchFromReparenting:         "from_reparenting",
	LaunchFromLauncherShortcut:    "from_launcher_shortcut",
}

func (t LaunchType) String() string {
	if name, ok := launchTypeNames[t]; ok {
		return name
	}
	return "launch(" + strconv.Itoa(int(t)) + ")"
}

// IsLinkClick reports whether the launch came from a clicked link, in which case
// the insertion position is derived from the active tab.
func (t LaunchType) IsLinkClick() bool {
	switch t {
	case LaunchFromLink, LaunchFromLongpressForeground, LaunchFromLongpressBackground:
		return true
	default:
		return false
	}
}

// SelectionType records why a tab became active.
type SelectionType int

const (
	// SelectFromUser is an explicit user switch.
	SelectFromUser SelectionType = iota
	// SelectFromNew is selection of a freshly created tab.
	SelectFromNew
	// SelectFromClose is selection caused by closing the active tab.
	SelectFromClose
	// SelectFromExit is selection caused by closing a tab on exit.
	SelectFromExit
)

func (t SelectionType) String() string {
	switch t {
	case SelectFromUser:
		return "user"
	case SelectFromNew:
		return "new"
	case SelectFromClose:
		return "close"
	case SelectFromExit:
		return "exit"
	default:
		return "selection(" + strconv.Itoa(int(t)) + ")"
	}
}
