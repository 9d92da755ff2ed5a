// Package logging wraps zap with the console/file tee used by trainwatch.
package logging

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps zap.Logger and keeps the settings it was built with so
// child loggers can report them.
//
// Example:
//
//	logger, err := NewLogger(Options{Development: true, FilePath: "trainwatch.log"})
//	if err != nil {
//	    return err
//	}
//	defer logger.Sync()
//
//	logger.Info("run started", zap.String("run_id", id))
type Logger struct {
	zap           *zap.Logger
	isDevelopment bool
	logFilePath   string
}

// Options configures NewLogger.
type Options struct {
	// Development switches the console to the coloured human-readable encoder.
	Development bool

	// Level is the minimum level for both outputs.
	Level zapcore.Level

	// FilePath is the rotated JSON log file. Empty disables file output.
	FilePath string

	// File overrides the rotation settings; zero fields use defaults.
	File FileWriterConfig

	// Console receives console output; os.Stderr when nil so stdout stays
	// free for the trainer's own output.
	Console zapcore.WriteSyncer
}

// NewLogger builds a Logger that tees console output and an optional rotated file.
func NewLogger(opts Options) (*Logger, error) {
	console := opts.Console
	if console == nil {
		console = zapcore.Lock(os.Stderr)
	}

	var file zapcore.WriteSyncer
	if opts.FilePath != "" {
		w, err := NewFileWriter(opts.FilePath, opts.File)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		file = w
	}

	core := NewMultiCore(opts.Level, console, file, opts.Development)
	zapLogger := zap.New(core,
		zap.AddCaller(),
		zap.AddCallerSkip(1), // Skip this wrapper layer
	)

	return &Logger{
		zap:           zapLogger,
		isDevelopment: opts.Development,
		logFilePath:   opts.FilePath,
	}, nil
}

// FromZap wraps an existing zap logger, typically zaptest.NewLogger in tests.
func FromZap(z *zap.Logger) *Logger {
	return &Logger{zap: z.WithOptions(zap.AddCallerSkip(1))}
}

// NewNop returns a Logger that discards everything.
func NewNop() *Logger {
	return &Logger{zap: zap.NewNop()}
}

// Sync flushes any buffered log entries.
func (l *Logger) Sync() error {
	if l == nil || l.zap == nil {
		return nil
	}
	return l.zap.Sync()
}

// Debug logs a message at DebugLevel.
func (l *Logger) Debug(msg string, fields ...zap.Field) {
	l.zap.Debug(msg, fields...)
}

// Info logs a message at InfoLevel.
func (l *Logger) Info(msg string, fields ...zap.Field) {
	l.zap.Info(msg, fields...)
}

// Warn logs a message at WarnLevel.
func (l *Logger) Warn(msg string, fields ...zap.Field) {
	l.zap.Warn(msg, fields...)
}

// Error logs a message at ErrorLevel.
func (l *Logger) Error(msg string, fields ...zap.Field) {
	l.zap.Error(msg, fields...)
}

// Infof logs a formatted message at InfoLevel.
func (l *Logger) Infof(template string, args ...interface{}) {
	l.zap.Sugar().Infof(template, args...)
}

// Warnf logs a formatted message at WarnLevel.
func (l *Logger) Warnf(template string, args ...interface{}) {
	l.zap.Sugar().Warnf(template, args...)
}

// With creates a child logger carrying extra fields on every entry.
func (l *Logger) With(fields ...zap.Field) *Logger {
	return &Logger{
		zap:           l.zap.With(fields...),
		isDevelopment: l.isDevelopment,
		logFilePath:   l.logFilePath,
	}
}

// Named adds a sub-logger name, e.g. "darknet" for relayed trainer lines.
func (l *Logger) Named(name string) *Logger {
	return &Logger{
		zap:           l.zap.Named(name),
		isDevelopment: l.isDevelopment,
		logFilePath:   l.logFilePath,
	}
}

// Zap returns the underlying zap.Logger.
func (l *Logger) Zap() *zap.Logger {
	return l.zap
}

// IsDevelopment returns true if the logger is configured for development mode.
func (l *Logger) IsDevelopment() bool {
	return l.isDevelopment
}

// LogFilePath returns the path to the log file, empty when file output is off.
func (l *Logger) LogFilePath() string {
	return l.logFilePath
}
