package schema

import "errors"

var (
	// ErrTabNotFound indicates a requested tab could not be found.
	ErrTabNotFound = errors.New("tab not found")
	// ErrInvalidIndex indicates an index outside the model.
	ErrInvalidIndex = errors.New("invalid index")
	// ErrUnreadableMetadata indicates a metadata file that cannot be parsed.
	ErrUnreadableMetadata = errors.New("unreadable tab metadata")
	// ErrUnsupportedVersion indicates a metadata or state file written by an unknown version.
	ErrUnsupportedVersion = errors.New("unsupported file version")
	// ErrUnreadableTabState indicates a per-tab state file that cannot be decoded.
	ErrUnreadableTabState = errors.New("unreadable tab state")
	// ErrMissingKey indicates an incognito state file without a usable key.
	ErrMissingKey = errors.New("incognito key unavailable")
	// ErrStoreDestroyed indicates use of a destroyed persistent store.
	ErrStoreDestroyed = errors.New("tab store destroyed")
	// ErrStageMismatch indicates a migration stage transition from an unexpected stage.
	ErrStageMismatch = errors.New("migration stage mismatch")
	// ErrMigrationLocked indicates another process holds the migration lock.
	ErrMigrationLocked = errors.New("migration locked")
	// ErrInvalidWindow indicates a window index outside the configured range.
	ErrInvalidWindow = errors.New("invalid window index")
	// ErrLoopClosed indicates a post to a stopped owner loop.
	ErrLoopClosed = errors.New("loop closed")
)
