package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewMultiCore_Development(t *testing.T) {
	var consoleBuf, fileBuf bytes.Buffer

	core := NewMultiCore(zapcore.InfoLevel, zapcore.AddSync(&consoleBuf), zapcore.AddSync(&fileBuf), true)
	logger := zap.New(core)
	logger.Info("test message", zap.String("key", "value"))
	_ = logger.Sync()

	if strings.HasPrefix(strings.TrimSpace(consoleBuf.String()), "{") {
		t.Errorf("console should be human-readable, got %q", consoleBuf.String())
	}

	var entry map[string]interface{}
	if err := json.Unmarshal(bytes.TrimSpace(fileBuf.Bytes()), &entry); err != nil {
		t.Fatalf("file output should be JSON: %v", err)
	}
	if entry["key"] != "value" {
		t.Errorf("key = %v", entry["key"])
	}
}

func TestNewMultiCore_ConsoleOnly(t *testing.T) {
	var consoleBuf bytes.Buffer
	core := NewMultiCore(zapcore.DebugLevel, zapcore.AddSync(&consoleBuf), nil, false)
	logger := zap.New(core)
	logger.Debug("only console")

	if !strings.Contains(consoleBuf.String(), "only console") {
		t.Errorf("console output = %q", consoleBuf.String())
	}
}
