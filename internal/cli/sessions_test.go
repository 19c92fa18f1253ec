package cli

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessions_Empty(t *testing.T) {
	out, err := execCLI(t, "--db", testDB(t), "sessions")
	require.NoError(t, err)
	assert.Contains(t, out, "No open sessions.")
}

func TestSessions_ListsOpen(t *testing.T) {
	db := testDB(t)
	_, err := execCLI(t, "--db", db, "join", "bob", "guild-1", "--at", "2024-01-01T20:00:00Z")
	require.NoError(t, err)
	_, err = execCLI(t, "--db", db, "join", "alice", "guild-1", "--at", "2024-01-01T21:00:00Z")
	require.NoError(t, err)
	_, err = execCLI(t, "--db", db, "leave", "alice", "guild-1", "--at", "2024-01-01T22:00:00Z")
	require.NoError(t, err)

	out, err := execCLI(t, "--db", db, "sessions")
	require.NoError(t, err)
	assert.Contains(t, out, "Open sessions: 1")
	assert.Contains(t, out, "bob in guild-1 since 2024-01-01T20:00:00Z")

	out, err = execCLI(t, "--db", db, "--format", "json", "sessions")
	require.NoError(t, err)
	var resp struct {
		Data SessionsResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Equal(t, 1, resp.Data.Count)
	assert.Equal(t, "bob", resp.Data.Sessions[0].MemberID)
}
