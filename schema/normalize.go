package schema

import "strings"

// ContentScheme is the URL scheme whose read grants do not survive a restart.
const ContentScheme = "content"

// ValidateWindowIndex ensures index addresses one of maxWindows selectors.
func ValidateWindowIndex(index, maxWindows int) error {
	if index < 0 || index >= maxWindows {
		return ErrInvalidWindow
	}
	return nil
}

// IsContentSchemeURL reports whether url uses the content resolver scheme.
func IsContentSchemeURL(url string) bool {
	trimmed := strings.TrimSpace(url)
	if len(trimmed) <= len(ContentScheme) || trimmed[len(ContentScheme)] != ':' {
		return false
	}
	return strings.EqualFold(trimmed[:len(ContentScheme)], ContentScheme)
}
