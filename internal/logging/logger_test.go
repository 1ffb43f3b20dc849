package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewLoggerCreatesFile(t *testing.T) {
	dir := t.TempDir()
	l, err := NewLogger(dir, LevelDebug)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	l.Info("hello", "k", "v")
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, FileName))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), `"msg":"hello"`) {
		t.Fatalf("unexpected log contents: %s", data)
	}
}

func TestLevelFilteringAndAttrs(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriterLogger(&buf, LevelWarn).WithActor("edgar").With("task_id", "t1")
	l.Info("dropped")
	l.Warn("kept", "reason", "test")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one line, got %d: %q", len(lines), buf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if entry["msg"] != "kept" || entry["actor"] != "edgar" || entry["task_id"] != "t1" || entry["reason"] != "test" {
		t.Fatalf("unexpected entry %v", entry)
	}
}

func TestParseLevelDefaultsToInfo(t *testing.T) {
	if ValidLevel("verbose") {
		t.Fatalf("verbose is not a level")
	}
	if !ValidLevel("debug") {
		t.Fatalf("levels are case-insensitive")
	}
	var buf bytes.Buffer
	l := NewWriterLogger(&buf, "verbose")
	l.Debug("hidden")
	l.Info("shown")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
		t.Fatalf("unexpected output %q", buf.String())
	}
	var nilLogger *Logger
	nilLogger.Info("no panic")
	NopLogger().Error("discarded")
}
