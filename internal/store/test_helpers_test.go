package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/voicerank/internal/model"
)

// createTestStore creates a new file-backed store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testKey(member string) model.SessionKey {
	return model.SessionKey{MemberID: member, CommunityID: "c1"}
}

var testEpoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
