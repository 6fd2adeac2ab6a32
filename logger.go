package norfs

import (
	"context"
	"io"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with norfs-specific context.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
// Use this to disable logging entirely.
func NoopLogger() *Logger {
	return &Logger{
		Logger: slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
			Level: slog.Level(1000), // Unreachable level
		})),
	}
}

// WithFileID adds a file_id field to the logger.
func (l *Logger) WithFileID(id FileID) *Logger {
	return &Logger{
		Logger: l.Logger.With("file_id", uint64(id)),
	}
}

// LogMount logs a mount.
func (l *Logger) LogMount(ctx context.Context, sequence uint32, files, freeSectors int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "mount failed",
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "mounted",
			"sequence", sequence,
			"files", files,
			"free_sectors", freeSectors,
		)
	}
}

// LogTableCommit logs an allocation table rewrite.
func (l *Logger) LogTableCommit(ctx context.Context, sequence uint32, slot, files int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "allocation table rewrite failed",
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "allocation table committed",
			"sequence", sequence,
			"slot", slot,
			"files", files,
		)
	}
}

// LogCreate logs a file creation.
func (l *Logger) LogCreate(ctx context.Context, id FileID, typ FileType, err error) {
	if err != nil {
		l.ErrorContext(ctx, "create failed",
			"file_type", uint16(typ),
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "create completed",
			"file_id", uint64(id),
			"file_type", uint16(typ),
		)
	}
}

// LogRemove logs a file removal.
func (l *Logger) LogRemove(ctx context.Context, id FileID, sectors int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "remove failed",
			"file_id", uint64(id),
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "remove completed",
			"file_id", uint64(id),
			"sectors", sectors,
		)
	}
}

// LogWriterClose logs the end of a writer. The logger is expected to carry
// the file id.
func (l *Logger) LogWriterClose(ctx context.Context, err error) {
	if err != nil {
		l.WarnContext(ctx, "writer closed with error", "error", err)
	} else {
		l.DebugContext(ctx, "writer closed")
	}
}

// LogOpen logs opening a handle. mode is "read" or "write".
func (l *Logger) LogOpen(ctx context.Context, id FileID, mode string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "open failed",
			"file_id", uint64(id),
			"mode", mode,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "open completed",
			"file_id", uint64(id),
			"mode", mode,
		)
	}
}

// LogRelocation logs a tail relocation step.
func (l *Logger) LogRelocation(ctx context.Context, step relocationStep, sector, temp uint16, err error) {
	if err != nil {
		l.ErrorContext(ctx, "relocation failed",
			"step", step.String(),
			"sector", sector,
			"temp", temp,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "relocation step",
			"step", step.String(),
			"sector", sector,
			"temp", temp,
		)
	}
}
