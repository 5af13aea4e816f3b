package nettestlog

import (
	"bytes"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestConfigureSetsLevelAndFormatter(t *testing.T) {
	var buf bytes.Buffer
	if err := Configure(Options{Level: "debug", JSON: true, Output: &buf}); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	l := Logger()
	if l.GetLevel() != logrus.DebugLevel {
		t.Fatalf("level = %v, want debug", l.GetLevel())
	}
	l.Info("hello")
	if !strings.Contains(buf.String(), `"msg":"hello"`) {
		t.Fatalf("expected JSON log line, got %q", buf.String())
	}
}

func TestConfigureRejectsBadLevel(t *testing.T) {
	if err := Configure(Options{Level: "not-a-level"}); err == nil {
		t.Fatal("expected error for invalid level")
	}
}

func TestReopenReplacesOutput(t *testing.T) {
	var first, second bytes.Buffer
	if err := Configure(Options{Level: "info", Output: &first}); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	Logger().Info("to-first")

	if err := Reopen(Options{Level: "info", Output: &second}); err != nil {
		t.Fatalf("Reopen: %v", err)
	}
	Logger().Info("to-second")

	if strings.Contains(first.String(), "to-second") {
		t.Fatal("second message leaked into first buffer")
	}
	if !strings.Contains(second.String(), "to-second") {
		t.Fatal("second buffer missing its message")
	}
}

func TestDefaultLevelWhenEmpty(t *testing.T) {
	var buf bytes.Buffer
	if err := Configure(Options{Output: &buf}); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if Logger().GetLevel() != logrus.InfoLevel {
		t.Fatalf("level = %v, want info", Logger().GetLevel())
	}
}
