package cli

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// execCLI runs the root command with args and returns stdout. Logs go to a
// separate buffer so JSON output stays parseable.
func execCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func testDB(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "voicerank.db")
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "voicerank", cmd.Use)
	assert.Contains(t, cmd.Long, "rank tiers")
}

func TestExecute_ClosesLogFileOnFailure(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	logPath := filepath.Join(t.TempDir(), "voicerank.log")
	t.Setenv("VOICERANK_LOG_FILE", logPath)

	opts := &RootOptions{}
	cmd := newRootCommand(opts)
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--db", testDB(t), "leave", "alice", "guild-1"})

	err := execute(context.Background(), cmd, opts)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Nil(t, opts.logFile, "log file released after a failing command")

	_, statErr := os.Stat(logPath)
	assert.NoError(t, statErr)
}

func TestExecute_ClosesLogFileOnSuccess(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	t.Setenv("VOICERANK_LOG_FILE", filepath.Join(t.TempDir(), "voicerank.log"))

	opts := &RootOptions{}
	cmd := newRootCommand(opts)
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--db", testDB(t), "tier", "list", "guild-1"})

	require.NoError(t, execute(context.Background(), cmd, opts))
	assert.Nil(t, opts.logFile)
	assert.NoError(t, opts.closeLog(), "closing twice is a no-op")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := [][]string{
		{"run"}, {"join"}, {"leave"}, {"sessions"}, {"validate"}, {"test"},
		{"tier", "add"}, {"tier", "remove"}, {"tier", "list"}, {"tier", "import"},
		{"member", "hours"}, {"member", "set-hours"}, {"member", "set-rank"},
		{"member", "promote"}, {"member", "reset"},
	}

	for _, path := range commands {
		name := path[len(path)-1]
		t.Run(name, func(t *testing.T) {
			subCmd, _, err := cmd.Find(path)
			require.NoError(t, err, "Command %v should exist", path)
			require.NotNil(t, subCmd)
			assert.Equal(t, name, subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	dbFlag := cmd.PersistentFlags().Lookup("db")
	require.NotNil(t, dbFlag)
	assert.Equal(t, "", dbFlag.DefValue)
}

func TestInvalidFormat(t *testing.T) {
	_, err := execCLI(t, "--db", testDB(t), "--format", "yaml", "sessions")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestDatabaseFromEnvironment(t *testing.T) {
	db := testDB(t)
	t.Setenv("VOICERANK_DATABASE_FILE", db)

	_, err := execCLI(t, "tier", "add", "guild-1", "Regular", "5")
	require.NoError(t, err)

	out, err := execCLI(t, "--db", db, "tier", "list", "guild-1")
	require.NoError(t, err)
	assert.Contains(t, out, "1. Regular: 5 hours")
}

func TestInvalidLogLevel(t *testing.T) {
	t.Setenv("VOICERANK_LOG_LEVEL", "loud")

	_, err := execCLI(t, "--db", testDB(t), "sessions")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
