package logger

import (
	"io"
	"log/slog"
	"time"
)

// moduleKey is the attribute key carrying the module name
const moduleKey = "module"

// newTextHandler returns the console handler. Timestamps are omitted on the
// console; the file handler records them.
func newTextHandler(w io.Writer, level slog.Level, _ *time.Location) slog.Handler {
	return slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: replaceConsoleAttr,
	})
}

// newJSONHandler returns the file handler with timestamps rendered in tz.
func newJSONHandler(w io.Writer, level slog.Level, tz *time.Location) slog.Handler {
	return slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) == 0 && a.Key == slog.TimeKey && tz != nil {
				return slog.String(slog.TimeKey, a.Value.Time().In(tz).Format(time.RFC3339))
			}
			return renameTraceLevel(a)
		},
	})
}

func replaceConsoleAttr(groups []string, a slog.Attr) slog.Attr {
	if len(groups) == 0 && a.Key == slog.TimeKey {
		return slog.Attr{}
	}
	return renameTraceLevel(a)
}

// renameTraceLevel prints the custom trace level as TRACE instead of DEBUG-4.
func renameTraceLevel(a slog.Attr) slog.Attr {
	if a.Key != slog.LevelKey {
		return a
	}
	if level, ok := a.Value.Any().(slog.Level); ok && level <= traceLevelValue {
		return slog.String(slog.LevelKey, "TRACE")
	}
	return a
}
