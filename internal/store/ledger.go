package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"

	"github.com/roach88/voicerank/internal/model"
)

// rowQuerier is satisfied by both *sql.DB and *sql.Tx.
type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Mutator transforms a ledger record inside a Commit transaction.
// Returning an error aborts the transaction with no write.
type Mutator = func(rec *model.SessionRecord) error

// Commit applies mutate to the record for key in a single transaction and
// persists the result. The record is created with zero values if absent.
//
// If mutate returns an error, the transaction is rolled back (including any
// lazily created row), the unchanged record is returned, and the mutator's
// error is returned as-is. SQL failures are returned as LEDGER_WRITE_FAILED.
func (s *Store) Commit(ctx context.Context, key model.SessionKey, mutate Mutator) (model.SessionRecord, error) {
	if err := key.Validate(); err != nil {
		return model.SessionRecord{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.SessionRecord{}, model.NewLedgerWriteError(key, "begin tx", err)
	}
	defer tx.Rollback() // No-op if committed

	if err := ensureRecord(ctx, tx, key); err != nil {
		return model.SessionRecord{}, model.NewLedgerWriteError(key, "create record", err)
	}

	rec, err := readRecord(ctx, tx, key)
	if err != nil {
		return model.SessionRecord{}, model.NewLedgerWriteError(key, "read record", err)
	}
	before := cloneRecord(rec)

	if mutate != nil {
		if err := mutate(&rec); err != nil {
			return before, err
		}
	}
	rec.Key = key

	if err := writeRecord(ctx, tx, rec); err != nil {
		return before, model.NewLedgerWriteError(key, "write record", err)
	}

	if err := tx.Commit(); err != nil {
		return before, model.NewLedgerWriteError(key, "commit", err)
	}

	return rec, nil
}

// GetOrCreate returns the record for key, creating a zero record if absent.
func (s *Store) GetOrCreate(ctx context.Context, key model.SessionKey) (model.SessionRecord, error) {
	return s.Commit(ctx, key, nil)
}

// Get returns the record for key without creating it.
// ok is false if the key has never been recorded.
func (s *Store) Get(ctx context.Context, key model.SessionKey) (rec model.SessionRecord, ok bool, err error) {
	rec, err = readRecord(ctx, s.db, key)
	if errors.Is(err, sql.ErrNoRows) {
		return model.SessionRecord{Key: key}, false, nil
	}
	if err != nil {
		return model.SessionRecord{}, false, fmt.Errorf("get record: %w", err)
	}
	return rec, true, nil
}

// OverrideAccumulated sets accumulated seconds directly, bypassing monotonicity.
// Administrative use only.
func (s *Store) OverrideAccumulated(ctx context.Context, key model.SessionKey, seconds float64) error {
	if seconds < 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return fmt.Errorf("override accumulated: seconds must be a finite non-negative number, got %v", seconds)
	}
	_, err := s.Commit(ctx, key, func(rec *model.SessionRecord) error {
		rec.AccumulatedSeconds = seconds
		return nil
	})
	return err
}

// OverrideRank sets the rank index directly, bypassing monotonicity.
// Administrative use only.
func (s *Store) OverrideRank(ctx context.Context, key model.SessionKey, index int) error {
	if index < 0 {
		return fmt.Errorf("override rank: index must be non-negative, got %d", index)
	}
	_, err := s.Commit(ctx, key, func(rec *model.SessionRecord) error {
		rec.RankIndex = index
		return nil
	})
	return err
}

// Reset deletes the record for key. Returns false if there was nothing to delete.
// Administrative use only.
func (s *Store) Reset(ctx context.Context, key model.SessionKey) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM session_ledger
		WHERE member_id = ? AND community_id = ?
	`, key.MemberID, key.CommunityID)
	if err != nil {
		return false, model.NewLedgerWriteError(key, "reset record", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, model.NewLedgerWriteError(key, "reset record: rows affected", err)
	}
	return n > 0, nil
}

// OpenSessions lists every record with a persisted active_since,
// ordered by community then member.
func (s *Store) OpenSessions(ctx context.Context) ([]model.SessionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT member_id, community_id, active_since, accumulated_seconds, rank_index, role_rank
		FROM session_ledger
		WHERE active_since IS NOT NULL
		ORDER BY community_id ASC, member_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list open sessions: %w", err)
	}
	defer rows.Close()

	var out []model.SessionRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("list open sessions: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list open sessions: %w", err)
	}
	return out, nil
}

// ensureRecord lazily creates a zero record for key.
func ensureRecord(ctx context.Context, tx *sql.Tx, key model.SessionKey) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO session_ledger (member_id, community_id)
		VALUES (?, ?)
		ON CONFLICT(member_id, community_id) DO NOTHING
	`, key.MemberID, key.CommunityID)
	return err
}

func readRecord(ctx context.Context, q rowQuerier, key model.SessionKey) (model.SessionRecord, error) {
	row := q.QueryRowContext(ctx, `
		SELECT member_id, community_id, active_since, accumulated_seconds, rank_index, role_rank
		FROM session_ledger
		WHERE member_id = ? AND community_id = ?
	`, key.MemberID, key.CommunityID)
	return scanRecord(row)
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (model.SessionRecord, error) {
	var (
		rec         model.SessionRecord
		activeSince sql.NullString
	)
	err := sc.Scan(
		&rec.Key.MemberID,
		&rec.Key.CommunityID,
		&activeSince,
		&rec.AccumulatedSeconds,
		&rec.RankIndex,
		&rec.RoleRank,
	)
	if err != nil {
		return model.SessionRecord{}, err
	}
	rec.ActiveSince, err = unmarshalTime(activeSince)
	if err != nil {
		return model.SessionRecord{}, err
	}
	return rec, nil
}

func writeRecord(ctx context.Context, tx *sql.Tx, rec model.SessionRecord) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE session_ledger
		SET active_since = ?, accumulated_seconds = ?, rank_index = ?, role_rank = ?
		WHERE member_id = ? AND community_id = ?
	`,
		marshalTime(rec.ActiveSince),
		rec.AccumulatedSeconds,
		rec.RankIndex,
		rec.RoleRank,
		rec.Key.MemberID,
		rec.Key.CommunityID,
	)
	return err
}

func cloneRecord(rec model.SessionRecord) model.SessionRecord {
	if rec.ActiveSince != nil {
		t := *rec.ActiveSince
		rec.ActiveSince = &t
	}
	return rec
}
