package logging

import (
	"bytes"
	"log"
	"strings"
	"testing"
)

func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	origOut := log.Writer()
	origFlags := log.Flags()
	log.SetOutput(&buf)
	log.SetFlags(0)
	t.Cleanup(func() {
		log.SetOutput(origOut)
		log.SetFlags(origFlags)
	})
	return &buf
}

func TestInfoFormat(t *testing.T) {
	buf := captureOutput(t)
	Info("state", "committed", "path", "widgets/a")
	got := strings.TrimSpace(buf.String())
	if !strings.Contains(got, "[STATE] committed") || !strings.Contains(got, "path=widgets/a") {
		t.Fatalf("unexpected log output: %s", got)
	}
}

func TestWarnAndErrorPrefixes(t *testing.T) {
	buf := captureOutput(t)
	Warn("visassets", "download failed", "file", "colormap.xml")
	Error("notifier", "delivery failed")
	got := buf.String()
	if !strings.Contains(got, "[VISASSETS] WARN download failed") {
		t.Fatalf("missing warn line: %s", got)
	}
	if !strings.Contains(got, "[NOTIFIER] ERROR delivery failed") {
		t.Fatalf("missing error line: %s", got)
	}
}

func TestDebugSuppressedByDefault(t *testing.T) {
	buf := captureOutput(t)
	orig := debugEnabled
	debugEnabled = false
	t.Cleanup(func() { debugEnabled = orig })
	Debug("ws", "frame received")
	if buf.Len() != 0 {
		t.Fatalf("expected no debug output, got: %s", buf.String())
	}
	debugEnabled = true
	Debug("ws", "frame received")
	if !strings.Contains(buf.String(), "[WS] DEBUG frame received") {
		t.Fatalf("expected debug output, got: %s", buf.String())
	}
}

func TestFormatFields(t *testing.T) {
	out := formatFields("a", 1, "b")
	if !strings.Contains(out, "a=1") || !strings.Contains(out, "b=(missing)") {
		t.Fatalf("unexpected fields: %s", out)
	}
	if out := formatFields(); out != "" {
		t.Fatalf("expected empty output, got %q", out)
	}
}
