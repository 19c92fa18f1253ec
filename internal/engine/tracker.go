package engine

import (
	"context"
	"time"

	"github.com/roach88/voicerank/internal/model"
	"github.com/roach88/voicerank/internal/store"
)

// Tracker turns join/leave transitions into session open/close operations.
// Each call is one atomic read-modify-write against the ledger.
//
// Tracker does no locking of its own; callers serialize per key (Engine does).
type Tracker struct {
	ledger Ledger
}

// NewTracker creates a Tracker over ledger.
func NewTracker(ledger Ledger) *Tracker {
	return &Tracker{ledger: ledger}
}

// Open starts a session at now. If a session is already open for key, nothing
// is written and opened is false.
func (t *Tracker) Open(ctx context.Context, key model.SessionKey, now time.Time) (opened bool, err error) {
	_, err = t.ledger.Commit(ctx, key, func(rec *model.SessionRecord) error {
		return openSession(rec, now)
	})
	if model.IsSessionAlreadyOpen(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Close ends the open session at now and adds the elapsed seconds to the
// accumulated total. then, if non-nil, runs against the updated record in the
// same commit; an error from it rolls the close back. Fails with
// SESSION_NOT_OPEN, leaving the ledger unchanged, if no session is open.
func (t *Tracker) Close(ctx context.Context, key model.SessionKey, now time.Time, then store.Mutator) (elapsed float64, rec model.SessionRecord, err error) {
	rec, err = t.ledger.Commit(ctx, key, func(r *model.SessionRecord) error {
		var closeErr error
		if elapsed, closeErr = closeSession(r, now); closeErr != nil {
			return closeErr
		}
		if then == nil {
			return nil
		}
		return then(r)
	})
	if err != nil {
		return 0, model.SessionRecord{}, err
	}
	return elapsed, rec, nil
}

func openSession(rec *model.SessionRecord, now time.Time) error {
	if rec.IsOpen() {
		return model.NewSessionAlreadyOpenError(rec.Key)
	}
	start := now.UTC()
	rec.ActiveSince = &start
	return nil
}

// closeSession clamps a negative interval (leave stamped before join) to zero.
func closeSession(rec *model.SessionRecord, now time.Time) (float64, error) {
	if !rec.IsOpen() {
		return 0, model.NewSessionNotOpenError(rec.Key)
	}
	elapsed := now.Sub(*rec.ActiveSince).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}
	rec.AccumulatedSeconds += elapsed
	rec.ActiveSince = nil
	return elapsed, nil
}
