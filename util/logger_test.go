package util

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(3) // debug level
	l.SetOutput(&buf)
	l.SetTimestamps(false)

	l.Error("e")
	l.Warn("w")
	l.Info("i")
	l.Verbose("v")
	l.Debug("d")

	output := buf.String()
	lines := strings.Split(strings.TrimSpace(output), "\n")
	if len(lines) != 5 {
		t.Fatalf("expected 5 lines, got %d:\n%s", len(lines), output)
	}

	wantPrefixes := []string{"[ERR]", "[WRN]", "[INF]", "[VRB]", "[DBG]"}
	for i, prefix := range wantPrefixes {
		if !strings.Contains(lines[i], prefix) {
			t.Errorf("line %d %q missing prefix %q", i, lines[i], prefix)
		}
	}
}

func TestLogger_QuietMode(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(0)
	l.SetOutput(&buf)
	l.SetTimestamps(false)

	l.Info("should not appear")
	l.Verbose("should not appear")
	l.Debug("should not appear")
	l.Error("always appears")

	output := buf.String()
	lines := strings.Split(strings.TrimSpace(output), "\n")
	if len(lines) != 1 {
		t.Errorf("expected 1 line in quiet mode, got %d:\n%s", len(lines), output)
	}
}

func TestLogger_Timestamps(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(1)
	l.SetOutput(&buf)
	l.SetTimestamps(true)

	l.Info("test")

	output := buf.String()
	// "<seconds>.<micros> [INF] test"
	if !strings.Contains(output, ".") || !strings.HasSuffix(output, "[INF] test\n") {
		t.Errorf("expected timestamp prefix, got %q", output)
	}
}

func TestLogger_File(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(1)
	l.SetOutput(&buf)
	l.SetTimestamps(false)

	path := filepath.Join(t.TempDir(), "synclient.log")
	if err := l.OpenFile(path, false); err != nil {
		t.Fatal(err)
	}
	l.Info("to both")
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}
	l.Info("stderr only")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if got := string(data); got != "[INF] to both\n" {
		t.Errorf("file = %q", got)
	}
	if !strings.Contains(buf.String(), "stderr only") {
		t.Errorf("primary output missing line: %q", buf.String())
	}
}

func TestLogger_FileAppend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "synclient.log")
	if err := os.WriteFile(path, []byte("old\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	l := NewLogger(1)
	l.SetOutput(&bytes.Buffer{})
	l.SetTimestamps(false)
	if err := l.OpenFile(path, true); err != nil {
		t.Fatal(err)
	}
	l.Warn("new")
	l.Close()

	data, _ := os.ReadFile(path)
	if got := string(data); got != "old\n[WRN] new\n" {
		t.Errorf("file = %q", got)
	}
}
