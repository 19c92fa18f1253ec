package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/roach88/voicerank/internal/config"
)

// setupLogging installs the default slog handler: text on w, plus the log
// file when configured. --verbose forces debug level.
// The returned closer is nil when no file was opened.
func setupLogging(cfg config.Config, verbose bool, w io.Writer) (io.Closer, error) {
	level, err := cfg.Level()
	if err != nil {
		return nil, err
	}
	if verbose {
		level = slog.LevelDebug
	}

	var (
		out    = w
		closer io.Closer
	)
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		out = io.MultiWriter(w, f)
		closer = f
	}

	handler := slog.NewTextHandler(out, &slog.HandlerOptions{
		Level: level,
	})
	slog.SetDefault(slog.New(handler))
	return closer, nil
}
