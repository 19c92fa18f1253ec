package engine

import (
	"log/slog"

	"github.com/roach88/voicerank/internal/model"
)

// isRecoverable reports event failures that leave the ledger unchanged and
// need no retry: a close without an open, or a repeated open.
func isRecoverable(err error) bool {
	return model.IsSessionNotOpen(err) || model.IsSessionAlreadyOpen(err)
}

// logEventError logs a failed event with its full context so the event can be
// replayed by hand.
func logEventError(event model.Event, err error) {
	key := event.Key()
	attrs := []any{
		"error", err,
		"event_type", event.Type.String(),
		"member", key.MemberID,
		"community", key.CommunityID,
	}
	switch {
	case event.Type == model.EventTypeJoin && event.Join != nil:
		attrs = append(attrs, "timestamp", event.Join.Timestamp)
	case event.Type == model.EventTypeLeave && event.Leave != nil:
		attrs = append(attrs, "timestamp", event.Leave.Timestamp)
	default:
		attrs = append(attrs, "note", "event data was nil")
	}

	if isRecoverable(err) {
		slog.Warn("event had no effect", attrs...)
		return
	}
	if model.IsLedgerWriteFailed(err) {
		slog.Error("event unprocessed: ledger write failed", attrs...)
		return
	}
	slog.Error("event processing failed", attrs...)
}
