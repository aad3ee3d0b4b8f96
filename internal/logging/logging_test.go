package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/fatih/color"
)

func TestLevelVarIsLive(t *testing.T) {
	var buf bytes.Buffer
	lv := new(slog.LevelVar)
	lv.Set(slog.LevelWarn)
	l := New(&buf, lv, false)

	l.Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("info logged at warn level: %s", buf.String())
	}

	lv.Set(slog.LevelDebug)
	l.Debug("shown")
	if !strings.Contains(buf.String(), "msg=shown") {
		t.Fatalf("debug not logged after level change: %s", buf.String())
	}
}

func TestColoredLevel(t *testing.T) {
	prev := color.NoColor
	color.NoColor = false
	defer func() { color.NoColor = prev }()

	var buf bytes.Buffer
	lv := new(slog.LevelVar)
	New(&buf, lv, true).Error("bad")

	if !strings.Contains(buf.String(), "\x1b[") {
		t.Fatalf("expected ANSI escape in %q", buf.String())
	}
}
