package settings

import "errors"

var (
	// ErrDefaultProfile is returned when deleting the built-in profile.
	ErrDefaultProfile = errors.New("settings: the default profile cannot be deleted")
	// ErrProfileNotFound is returned for unknown profile ids.
	ErrProfileNotFound = errors.New("settings: profile not found")
	// ErrUnknownMigrationScope is returned when processing a scope with no
	// registered migrations.
	ErrUnknownMigrationScope = errors.New("settings: unknown migration scope")
	// ErrInvalidDefinition is returned when a definition fails validation.
	ErrInvalidDefinition = errors.New("settings: invalid definition")
	// ErrInvalidBackup is returned when restoring a malformed backup.
	ErrInvalidBackup = errors.New("settings: invalid backup")
	// ErrNotStarted is returned by operations that need Start to have run.
	ErrNotStarted = errors.New("settings: manager not started")
)
