package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/siemens/linux-entra-sso/broker"
	"github.com/siemens/linux-entra-sso/broker/dbusbroker"
	"github.com/siemens/linux-entra-sso/broker/mockbroker"
	"github.com/siemens/linux-entra-sso/internal/config"
	"github.com/siemens/linux-entra-sso/internal/logging"
	"github.com/siemens/linux-entra-sso/internal/version"
	"github.com/siemens/linux-entra-sso/sessions"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// errReported marks a failure whose details were already printed.
var errReported = errors.New("error reported")

type options struct {
	interactive bool
	account     int
	ssoURL      string
	mock        bool
}

type cli struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	level *slog.LevelVar
	l     *slog.Logger

	configPath string
	openBus    func(mock bool) (broker.Bus, error)
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	c := newCLI(stdin, stdout, stderr)
	root := c.rootCommand()
	root.SetArgs(args)
	if err := root.ExecuteContext(context.Background()); err != nil {
		if !errors.Is(err, errReported) {
			fmt.Fprintf(stderr, "error: %v\n", err)
		}
		return 1
	}
	return 0
}

func newCLI(stdin io.Reader, stdout, stderr io.Writer) *cli {
	level := new(slog.LevelVar)
	c := &cli{
		stdin:      stdin,
		stdout:     stdout,
		stderr:     stderr,
		level:      level,
		l:          logging.New(stderr, level, !color.NoColor && isTerminal(stderr)),
		configPath: config.Path(),
	}
	c.openBus = c.defaultBus
	return c
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && isatty.IsTerminal(f.Fd())
}

func (c *cli) rootCommand() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:   "linux-entra-sso [flags] [command]",
		Short: "Entra ID single sign-on for browsers on Linux",
		Long: "Without --interactive, linux-entra-sso speaks the browser native messaging\n" +
			"protocol on stdin and stdout. Arguments the browser appends are ignored.\n\n" +
			"Interactive commands: getAccounts, acquirePrtSsoCookie, acquireTokenSilently,\n" +
			"getVersion, monitor.",
		Version:       version.String(),
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		// Browsers pass flags of their own, e.g. --parent-window.
		FParseErrWhitelist: cobra.FParseErrWhitelist{UnknownFlags: true},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			mock := opts.mock || cfg.Mock
			if opts.interactive {
				if !cmd.Flags().Changed("ssoUrl") && cfg.SsoURL != "" {
					opts.ssoURL = cfg.SsoURL
				}
				return c.runInteractive(cmd.Context(), cfg, opts, mock, args)
			}
			ssoURL := broker.DefaultSsoURL
			switch {
			case cmd.Flags().Changed("ssoUrl"):
				ssoURL = opts.ssoURL
			case cfg.SsoURL != "":
				ssoURL = cfg.SsoURL
			}
			return c.runBridge(cmd.Context(), cfg, mock, ssoURL)
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.SetOut(c.stdout)
	root.SetErr(c.stderr)
	bindFlags(root.Flags(), opts)
	root.AddCommand(c.schemaCommand(), c.extensionIDCommand())
	return root
}

func bindFlags(f *pflag.FlagSet, opts *options) {
	f.BoolVarP(&opts.interactive, "interactive", "i", false, "run a single command and print the result")
	f.IntVarP(&opts.account, "account", "a", 0, "account index to use for operations")
	f.StringVarP(&opts.ssoURL, "ssoUrl", "s", broker.DefaultSsoURL, "ssoUrl part of SSO PRT cookie request")
	f.BoolVar(&opts.mock, "mock", false, "serve fixed test accounts instead of the identity broker")
}

func (c *cli) loadConfig() (config.Config, error) {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return config.Config{}, err
	}
	lv, err := cfg.Level()
	if err != nil {
		return config.Config{}, err
	}
	c.level.Set(lv)
	return cfg, nil
}

func (c *cli) defaultBus(mock bool) (broker.Bus, error) {
	if mock {
		return mockbroker.New(mockbroker.WithLogger(c.l)), nil
	}
	bus, err := dbusbroker.Dial(dbusbroker.WithLogger(c.l))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", broker.ErrUnavailable, err)
	}
	return bus, nil
}

func (c *cli) newSession(cfg config.Config, bus broker.Bus, mock bool) *sessions.Session {
	native := version.Version
	if mock {
		native += "-mock"
	}
	return sessions.New(bus,
		sessions.WithLogger(c.l),
		sessions.WithConnectTimeout(cfg.ConnectTimeout),
		sessions.WithRetryInterval(cfg.ConnectRetryInterval),
		sessions.WithCallTimeout(cfg.CallTimeout),
		sessions.WithNativeVersion(native),
	)
}

func (c *cli) closeBus(bus broker.Bus) {
	if err := bus.Close(); err != nil {
		c.l.Debug("closing broker bus", slog.String("error", err.Error()))
	}
}

func (c *cli) printJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')
	_, err = c.stdout.Write(b)
	return err
}
