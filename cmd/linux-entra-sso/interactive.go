package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/siemens/linux-entra-sso/broker"
	"github.com/siemens/linux-entra-sso/internal/config"
	"github.com/siemens/linux-entra-sso/sessions"
	"github.com/siemens/linux-entra-sso/stdio"
)

const commandMonitor = "monitor"

var interactiveCommands = []string{
	stdio.CommandGetAccounts,
	stdio.CommandAcquirePrtSsoCookie,
	stdio.CommandAcquireTokenSilently,
	stdio.CommandGetVersion,
	commandMonitor,
}

func (c *cli) runInteractive(ctx context.Context, cfg config.Config, opts *options, mock bool, args []string) error {
	if len(args) != 1 || !slices.Contains(interactiveCommands, args[0]) {
		return fmt.Errorf("expected one command of: %s", strings.Join(interactiveCommands, ", "))
	}
	command := args[0]

	bus, err := c.openBus(mock)
	if err != nil {
		if command == commandMonitor {
			return err
		}
		_ = c.printJSON(stdio.NewErrorMessage(err))
		return errReported
	}
	defer c.closeBus(bus)
	sess := c.newSession(cfg, bus, mock)

	if command == commandMonitor {
		return c.monitor(ctx, sess, bus)
	}

	result, err := c.execute(ctx, sess, opts, command)
	if err != nil {
		if perr := c.printJSON(stdio.NewErrorMessage(err)); perr != nil {
			return perr
		}
		return errReported
	}
	return c.printJSON(result)
}

func (c *cli) execute(ctx context.Context, sess *sessions.Session, opts *options, command string) (json.RawMessage, error) {
	if command == stdio.CommandGetVersion {
		return sess.GetBrokerVersion(ctx)
	}

	raw, err := sess.GetAccounts(ctx)
	if err != nil || command == stdio.CommandGetAccounts {
		return raw, err
	}
	account, err := pickAccount(raw, opts.account)
	if err != nil {
		return nil, err
	}

	if command == stdio.CommandAcquirePrtSsoCookie {
		return sess.AcquirePrtSsoCookie(ctx, account, opts.ssoURL, nil)
	}
	return sess.AcquireTokenSilently(ctx, account, nil)
}

func pickAccount(raw json.RawMessage, index int) (broker.Account, error) {
	var resp broker.AccountsResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return broker.Account{}, fmt.Errorf("decode accounts: %w", err)
	}
	if index < 0 || index >= len(resp.Accounts) {
		return broker.Account{}, fmt.Errorf("account index %d out of range, broker knows %d accounts", index, len(resp.Accounts))
	}
	return resp.Accounts[index], nil
}

// monitor prints broker presence changes until interrupted.
func (c *cli) monitor(ctx context.Context, sess *sessions.Session, bus broker.Bus) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Fprintln(c.stdout, "Monitoring D-Bus for broker availability.")
	if err := sess.EnsureConnected(ctx, sessions.ConnectBestEffort); err != nil && ctx.Err() != nil {
		return nil
	}
	c.printState(sess.Online())

	w := sessions.NewWatcher(sess, bus, sessions.WithWatcherLogger(c.l))
	w.OnStateChanged(c.printState)
	if err := w.Start(ctx); err != nil {
		return err
	}
	w.Wait()
	if ctx.Err() == nil {
		return errors.New("broker presence subscription ended")
	}
	return nil
}

var (
	onlineColor  = color.New(color.FgGreen, color.Bold)
	offlineColor = color.New(color.FgRed, color.Bold)
)

func (c *cli) printState(online bool) {
	state := offlineColor.Sprint("offline")
	if online {
		state = onlineColor.Sprint("online")
	}
	fmt.Fprintf(c.stdout, "%s is now %s.\n", broker.BusName, state)
}
