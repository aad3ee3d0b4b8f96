// Package logging builds the bridge's slog loggers. Logs always go to
// stderr because stdout carries the native messaging stream.
package logging

import (
	"io"
	"log/slog"

	"github.com/fatih/color"
	"github.com/siemens/linux-entra-sso/internal/logctx"
)

// New returns a logger writing text records to w at the level held by lv.
// With colored set, the level is highlighted for a terminal.
func New(w io.Writer, lv *slog.LevelVar, colored bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: lv}
	if colored {
		opts.ReplaceAttr = colorLevel
	}
	return slog.New(logctx.New(slog.NewTextHandler(w, opts)))
}

func colorLevel(groups []string, a slog.Attr) slog.Attr {
	if len(groups) > 0 || a.Key != slog.LevelKey {
		return a
	}
	level, ok := a.Value.Any().(slog.Level)
	if !ok {
		return a
	}
	s := level.String()
	switch {
	case level >= slog.LevelError:
		s = color.RedString(s)
	case level >= slog.LevelWarn:
		s = color.YellowString(s)
	case level >= slog.LevelInfo:
		s = color.BlueString(s)
	default:
		s = color.MagentaString(s)
	}
	return slog.String(slog.LevelKey, s)
}
