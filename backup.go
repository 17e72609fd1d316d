package settings

import (
	"context"
	"fmt"

	"github.com/samber/lo"

	"github.com/goliatone/go-settings/pkg/activity"
	"github.com/goliatone/go-settings/pkg/provider"
)

// BackupVersion is the current backup format version.
const BackupVersion = 2

// BackupTypeFull tags a backup holding every persisted key.
const BackupTypeFull = "full"

// Backup is a snapshot of the whole key space.
type Backup struct {
	Version int            `json:"version"`
	Type    string         `json:"type"`
	Values  map[string]any `json:"values"`
}

// GetFullBackup waits for the provider and snapshots every persisted key.
func (m *Manager) GetFullBackup(ctx context.Context) (Backup, error) {
	if err := m.provider.AwaitReady(ctx); err != nil {
		return Backup{}, fmt.Errorf("settings: backup: %w", err)
	}
	return Backup{
		Version: BackupVersion,
		Type:    BackupTypeFull,
		Values:  provider.Snapshot(m.provider),
	}, nil
}

// RestoreBackup replaces the key space with the backup's values, reloads
// the profiles and refreshes every context. A backup whose profile list is
// missing or lacks the default profile is rejected.
func (m *Manager) RestoreBackup(ctx context.Context, backup Backup) error {
	switch {
	case backup.Type != BackupTypeFull:
		return fmt.Errorf("%w: unexpected type %q", ErrInvalidBackup, backup.Type)
	case backup.Version < 1 || backup.Version > BackupVersion:
		return fmt.Errorf("%w: unsupported version %d", ErrInvalidBackup, backup.Version)
	case backup.Values == nil:
		return fmt.Errorf("%w: missing values", ErrInvalidBackup)
	}
	raw, ok := backup.Values[ProfilesKey]
	if !ok {
		return fmt.Errorf("%w: missing %s", ErrInvalidBackup, ProfilesKey)
	}
	list, err := decodeProfiles(raw)
	if err != nil {
		return fmt.Errorf("%w: profiles: %v", ErrInvalidBackup, err)
	}
	if len(withDefaultProfile(list)) != len(list) {
		return fmt.Errorf("%w: profiles: missing default profile", ErrInvalidBackup)
	}
	if err := m.provider.AwaitReady(ctx); err != nil {
		return fmt.Errorf("settings: restore: %w", err)
	}

	for _, entry := range m.provider.Entries() {
		if _, keep := backup.Values[entry.Key]; keep {
			continue
		}
		if err := m.provider.Delete(entry.Key); err != nil {
			return fmt.Errorf("settings: restore: delete %s: %w", entry.Key, err)
		}
	}
	for key, value := range backup.Values {
		if err := m.provider.Set(key, value); err != nil {
			return fmt.Errorf("settings: restore: set %s: %w", key, err)
		}
	}

	if err := m.LoadProfiles(false); err != nil {
		return err
	}
	m.reselectAll()
	m.reportActivity(activity.BuildBackupRestoredEvent(activity.ProfileEventInput{
		Index:    -1,
		Keys:     lo.Keys(backup.Values),
		Metadata: map[string]any{"keys": len(backup.Values)},
	}))
	return nil
}
