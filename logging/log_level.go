package logging

import (
	"strings"

	"go.uber.org/zap/zapcore"
)

// ParseLevel parses a case-insensitive level name (debug, info, warn,
// warning, error). Unknown or empty names return def.
func ParseLevel(name string, def zapcore.Level) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return def
	}
}
