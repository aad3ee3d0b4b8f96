package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/siemens/linux-entra-sso/internal/config"
	"github.com/siemens/linux-entra-sso/internal/pdeathsig"
	"github.com/siemens/linux-entra-sso/sessions"
	"github.com/siemens/linux-entra-sso/stdio"
)

// runBridge serves the browser until it closes stdin or the process is
// told to stop.
func (c *cli) runBridge(ctx context.Context, cfg config.Config, mock bool, ssoURL string) error {
	// Chromium does not reliably terminate its native hosts.
	if err := pdeathsig.Set(syscall.SIGINT); err != nil {
		c.l.WarnContext(ctx, "cannot follow parent process", slog.String("error", err.Error()))
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	c.l.InfoContext(ctx, "Running as browser plugin.")
	c.l.InfoContext(ctx, "For interactive mode, start with --interactive")

	bus, err := c.openBus(mock)
	if err != nil {
		return err
	}
	defer c.closeBus(bus)

	var wg sync.WaitGroup
	defer wg.Wait()
	watchCtx, cancelWatch := context.WithCancel(ctx)
	defer cancelWatch()
	if c.configPath != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := config.Watch(watchCtx, c.configPath, c.l, func(cfg config.Config) {
				if lv, err := cfg.Level(); err == nil {
					c.level.Set(lv)
				}
			})
			if err != nil {
				c.l.DebugContext(ctx, "config not watched", slog.String("error", err.Error()))
			}
		}()
	}

	sess := c.newSession(cfg, bus, mock)
	if err := sess.EnsureConnected(ctx, sessions.ConnectBestEffort); err != nil {
		c.l.InfoContext(ctx, "broker not reachable yet", slog.String("error", err.Error()))
	}

	w := sessions.NewWatcher(sess, bus, sessions.WithWatcherLogger(c.l))
	h := stdio.NewHandler(sess,
		stdio.WithIO(c.stdin, c.stdout),
		stdio.WithLogger(c.l),
		stdio.WithWatcher(w),
		stdio.WithDefaultSsoURL(ssoURL),
	)
	err = h.Serve(ctx)
	if err != nil && ctx.Err() != nil {
		c.l.InfoContext(ctx, "terminated by signal")
		return nil
	}
	return err
}
