package stdio

import (
	"io"
	"log/slog"
)

// Option customizes a Handler.
type Option func(*Handler)

// WithIO sets the reader and writer for the handler.
func WithIO(r io.Reader, w io.Writer) Option {
	return func(h *Handler) {
		if r != nil {
			h.r = r
		}
		if w != nil {
			h.w = w
		}
	}
}

// WithReader overrides the input stream.
func WithReader(r io.Reader) Option {
	return func(h *Handler) {
		if r != nil {
			h.r = r
		}
	}
}

// WithWriter overrides the output stream.
func WithWriter(w io.Writer) Option {
	return func(h *Handler) {
		if w != nil {
			h.w = w
		}
	}
}

// WithLogger overrides the logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.l = l
		}
	}
}

// WithWatcher reports broker presence changes to the browser as
// brokerStateChanged messages.
func WithWatcher(w Watcher) Option {
	return func(h *Handler) {
		if w != nil {
			h.watcher = w
		}
	}
}

// WithDefaultSsoURL overrides the URL used when acquirePrtSsoCookie arrives
// without an ssoUrl.
func WithDefaultSsoURL(u string) Option {
	return func(h *Handler) {
		if u != "" {
			h.defaultSsoURL = u
		}
	}
}
