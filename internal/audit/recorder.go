package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Recorder stamps and appends audit entries. Audit writes must not fail the
// calling operation once its state change has committed, so append errors are
// logged and swallowed here; the typed-outcome contract stays with the
// operation itself.
type Recorder struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// NewRecorder creates a Recorder. A nil logger falls back to slog.Default.
func NewRecorder(store Store, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{store: store, logger: logger, now: time.Now}
}

// Record stamps ID and timestamp and appends the entry.
func (r *Recorder) Record(ctx context.Context, entry Entry) {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = r.now()
	}
	if err := r.store.Append(ctx, entry); err != nil {
		r.logger.Error("audit append failed",
			"action", string(entry.Action),
			"actor", entry.Actor,
			"error", err,
		)
	}
}

// Snapshot marshals v for a Before/After field. Marshal failures degrade to
// null rather than dropping the entry.
func Snapshot(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("null")
	}
	return b
}
