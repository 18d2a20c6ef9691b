package log

import (
	"log/slog"
	"strings"
)

// Level is the slog level; the aliases keep call sites free of slog imports
type Level = slog.Level

const (
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
)

// ParseLevel accepts the slog names (case-insensitive, with offsets such as
// "debug-2") and "warning". Anything else is LevelInfo.
func ParseLevel(s string) Level {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "warning") {
		return LevelWarn
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return LevelInfo
	}
	return l
}
