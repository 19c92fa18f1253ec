package store

import (
	"database/sql"
	"fmt"
	"time"
)

// timeLayout is the TEXT encoding of active_since. Always UTC so that lexical
// order matches time order.
const timeLayout = time.RFC3339Nano

// marshalTime converts an optional timestamp to a nullable TEXT column.
func marshalTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(timeLayout), Valid: true}
}

// unmarshalTime parses a nullable TEXT column back to an optional timestamp.
func unmarshalTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := time.Parse(timeLayout, s.String)
	if err != nil {
		return nil, fmt.Errorf("unmarshal active_since %q: %w", s.String, err)
	}
	return &t, nil
}
