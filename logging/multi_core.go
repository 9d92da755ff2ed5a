package logging

import (
	"go.uber.org/zap/zapcore"
)

// NewMultiCore tees console output and an optional file writer.
//
// The file output always uses JSON. The console uses the coloured
// human-readable encoder in development mode and JSON otherwise.
// A nil file writer yields a console-only core.
func NewMultiCore(level zapcore.Level, console, file zapcore.WriteSyncer, isDev bool) zapcore.Core {
	var consoleEncoder zapcore.Encoder
	if isDev {
		consoleEncoder = zapcore.NewConsoleEncoder(NewConsoleEncoderConfig())
	} else {
		consoleEncoder = zapcore.NewJSONEncoder(NewEncoderConfig())
	}
	consoleCore := zapcore.NewCore(consoleEncoder, console, level)

	if file == nil {
		return consoleCore
	}

	fileCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(NewEncoderConfig()),
		file,
		level,
	)
	return zapcore.NewTee(consoleCore, fileCore)
}
