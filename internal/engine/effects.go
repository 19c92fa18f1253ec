package engine

import (
	"context"
	"errors"
	"log/slog"

	"github.com/roach88/voicerank/internal/model"
	"github.com/roach88/voicerank/internal/sink"
)

// Run drains side effects until ctx is cancelled or Stop is called.
// Effects still queued at Stop are processed before Run returns.
//
// CRITICAL: Must be called from exactly ONE goroutine.
//
// ERROR HANDLING: sink failures are logged and never retried here. A failed
// role assignment leaves role_rank behind rank_index, which the next
// evaluation of that key detects and re-enqueues.
func (e *Engine) Run(ctx context.Context) error {
	slog.Debug("effect worker starting")

	for {
		eff, ok := e.effects.TryDequeue()
		if ok {
			e.applyEffect(ctx, eff)
			continue
		}

		select {
		case <-ctx.Done():
			slog.Debug("effect worker stopping: context cancelled")
			e.effects.Close()
			return ctx.Err()

		case <-e.effects.Wait():
			// The signal channel closes when the queue is closed.
			if e.effects.Len() == 0 && e.stopped() {
				slog.Debug("effect worker stopping: queue closed")
				return nil
			}
		}
	}
}

// Stop closes the effect queue. Run returns once the queue is drained.
func (e *Engine) Stop() {
	e.effects.Close()
}

// Flush applies every queued side effect on the calling goroutine and returns
// how many ran. Used by one-shot commands and tests; must not run concurrently
// with Run.
func (e *Engine) Flush(ctx context.Context) int {
	n := 0
	for {
		eff, ok := e.effects.TryDequeue()
		if !ok {
			return n
		}
		e.applyEffect(ctx, eff)
		n++
	}
}

// Pending returns the number of queued side effects.
func (e *Engine) Pending() int {
	return e.effects.Len()
}

func (e *Engine) stopped() bool {
	e.effects.mu.Lock()
	defer e.effects.mu.Unlock()
	return e.effects.closed
}

// applyEffect assigns the role, confirms it in the ledger, and notifies the
// member for fresh promotions.
func (e *Engine) applyEffect(ctx context.Context, eff Effect) {
	defer e.effects.Done(eff)
	key := eff.Key

	if err := e.roles.AssignRole(ctx, key.MemberID, key.CommunityID, eff.TierName); err != nil {
		failure := model.NewRoleAssignmentError(key, eff.TierName, err)
		slog.Warn("role assignment failed; retrying at next evaluation",
			"error", failure,
			"cause", model.CodeOf(err),
			"member", key.MemberID,
			"community", key.CommunityID,
			"tier", eff.TierName,
		)
	} else {
		e.confirmRole(ctx, eff)
	}

	if eff.Promotion == nil || e.notifier == nil {
		return
	}
	msg := sink.PromotionMessage(eff.Promotion.TierName, key.CommunityID)
	if err := e.notifier.Notify(ctx, key.MemberID, msg); err != nil {
		slog.Warn("promotion notification failed",
			"error", err,
			"member", key.MemberID,
			"community", key.CommunityID,
			"promotion_id", eff.Promotion.ID,
		)
	}
}

// errRankMoved aborts a role confirmation whose record no longer holds the
// assigned rank (admin override or reset in between).
var errRankMoved = errors.New("rank changed since assignment")

// confirmRole records that the sink assigned the role for eff.RankIndex.
func (e *Engine) confirmRole(ctx context.Context, eff Effect) {
	unlock := e.locks.Lock(eff.Key)
	defer unlock()

	_, err := e.ledger.Commit(ctx, eff.Key, func(rec *model.SessionRecord) error {
		if rec.RankIndex < eff.RankIndex {
			return errRankMoved
		}
		rec.RoleRank = eff.RankIndex
		return nil
	})
	if errors.Is(err, errRankMoved) {
		slog.Debug("role confirmation skipped: rank changed",
			"member", eff.Key.MemberID,
			"community", eff.Key.CommunityID,
			"rank_index", eff.RankIndex,
		)
		return
	}
	if err != nil {
		slog.Error("failed to record role assignment",
			"error", err,
			"member", eff.Key.MemberID,
			"community", eff.Key.CommunityID,
			"rank_index", eff.RankIndex,
		)
	}
}
