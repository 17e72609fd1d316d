package settings

import "github.com/goliatone/go-settings/pkg/logging"

// Logger is the structured logger used by the manager. *slog.Logger
// satisfies it.
type Logger = logging.Logger
