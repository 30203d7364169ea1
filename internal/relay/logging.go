package relay

import (
	"log/slog"
	"os"

	"github.com/google/uuid"
)

// NewSessionID mints a correlation id L generates once per session and
// threads to R via --session, and R passes on to D the same way (as
// --session on the daemon's re-exec), so all three roles' logs can be joined
// (github.com/google/uuid, matching how the teacher tags its own
// long-running services).
func NewSessionID() string {
	return uuid.NewString()
}

// NewLogger builds the role-appropriate slog.Logger: D and R are
// always-backgrounded processes whose stderr is typically captured to a
// file, so they get structured JSON (matching the teacher's daemon
// convention in cmd/xrunner-remote and cmd/bureau-proxy); L shares the
// invoking application's terminal and gets a human-readable text
// handler instead, the same split the teacher makes between its
// interactive CLI and its services.
func NewLogger(role Role, sessionID string) *slog.Logger {
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	switch role {
	case RoleLocal:
		handler = slog.NewTextHandler(os.Stderr, opts)
	default:
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	logger := slog.New(handler)
	if sessionID != "" {
		logger = logger.With("session_id", sessionID)
	}
	return logger.With("role", role.String())
}
