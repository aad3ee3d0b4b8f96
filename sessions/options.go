package sessions

import (
	"log/slog"
	"time"
)

const (
	DefaultConnectTimeout = 3 * time.Second
	DefaultRetryInterval  = 100 * time.Millisecond
	DefaultCallTimeout    = 30 * time.Second
)

// Option customizes a Session.
type Option func(*Session)

// WithLogger overrides the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.l = l
		}
	}
}

// WithConnectTimeout bounds how long a blocking connect keeps retrying.
func WithConnectTimeout(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.connectTimeout = d
		}
	}
}

// WithRetryInterval sets the pause between connect attempts.
func WithRetryInterval(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.retryInterval = d
		}
	}
}

// WithCallTimeout bounds a single broker call. Zero disables the bound.
func WithCallTimeout(d time.Duration) Option {
	return func(s *Session) {
		if d >= 0 {
			s.callTimeout = d
		}
	}
}

// WithNativeVersion sets the version reported as "native" by
// GetBrokerVersion and sent to the broker as msalCppVersion.
func WithNativeVersion(v string) Option {
	return func(s *Session) {
		if v != "" {
			s.nativeVersion = v
		}
	}
}

// WithID fixes the session identifier instead of generating one.
func WithID(id string) Option {
	return func(s *Session) {
		if id != "" {
			s.id = id
		}
	}
}
