// Public domain.

// Package rblog wraps slog.Logger with the fields used across a scoring
// run.
package rblog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// Logger wraps slog.Logger with run specific context.
type Logger struct {
	*slog.Logger
}

// New creates a Logger with the given handler.  A nil handler logs text
// to stderr at info level.
func New(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{Logger: slog.New(handler)}
}

// NewTextLogger logs human readable text to w.
func NewTextLogger(w io.Writer, level slog.Level) *Logger {
	return New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// NewJSONLogger logs JSON records to w.
func NewJSONLogger(w io.Writer, level slog.Level) *Logger {
	return New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// NoopLogger discards everything.
func NoopLogger() *Logger {
	return New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.Level(1000),
	}))
}

// Level returns the level for the -v flag.
func Level(verbose bool) slog.Level {
	if verbose {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

// FileName returns the log file for worker n of a run started at t:
// location, prefix, timestamp and worker number joined the way earlier
// deployments named them.
func FileName(location, prefix string, t time.Time, n int) string {
	return filepath.Join(location, fmt.Sprintf("%s%s_%d.log", prefix, t.Format("20060102_150405"), n))
}

// OpenFile creates the named log file and returns a JSON logger writing
// to it along with the file to close.
func OpenFile(fn string, level slog.Level) (*Logger, io.Closer, error) {
	f, err := os.OpenFile(fn, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, err
	}
	return NewJSONLogger(f, level), f, nil
}

func (l *Logger) with(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// WithRunID tags records with the run id shared by all workers.
func (l *Logger) WithRunID(id string) *Logger { return l.with("run", id) }

// WithWorker tags records with a worker number.
func (l *Logger) WithWorker(n int) *Logger { return l.with("worker", n) }

// WithInstrument tags records with an instrument tag.
func (l *Logger) WithInstrument(tag string) *Logger { return l.with("instrument", tag) }

// LogPartition logs the outcome of scoring one instrument partition.
func (l *Logger) LogPartition(ctx context.Context, tag string, images, objects, failed int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "partition failed",
			"instrument", tag,
			"images", images,
			"error", err,
		)
		return
	}
	if failed > 0 {
		l.WarnContext(ctx, "partition scored with unreadable images",
			"instrument", tag,
			"images", images,
			"objects", objects,
			"failed", failed,
		)
		return
	}
	l.DebugContext(ctx, "partition scored",
		"instrument", tag,
		"images", images,
		"objects", objects,
	)
}

// LogFiltered logs candidates dropped before scoring.
func (l *Logger) LogFiltered(ctx context.Context, candidates, noImages, unmatched int) {
	if noImages == 0 && unmatched == 0 {
		return
	}
	l.InfoContext(ctx, "candidates filtered",
		"candidates", candidates,
		"without_images", noImages,
		"unmatched_images", unmatched,
	)
}

// LogDrain logs collection of one worker's results.
func (l *Logger) LogDrain(ctx context.Context, worker, results int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "worker failed",
			"worker", worker,
			"error", err,
		)
		return
	}
	l.DebugContext(ctx, "worker drained",
		"worker", worker,
		"results", results,
	)
}
