// ABOUTME: Root cobra command for coven-ctx: global flags, settings and client wiring
// ABOUTME: Resolves the current session from --session or the per-terminal status cache

package cli

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/2389/coven-context/internal/client"
	"github.com/2389/coven-context/internal/statuscache"
	"github.com/2389/coven-context/internal/store"
)

// RootOptions holds global flags and the state every subcommand shares.
type RootOptions struct {
	Format     string
	Server     string
	Session    string
	ConfigPath string
	Verbose    bool

	client  *client.Client
	cache   *statuscache.Cache
	printer *Printer
	logger  *slog.Logger

	cacheDir string
	getenv   func(string) string
}

// NewRootCommand creates the root command for the coven-ctx CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(statuscache.DefaultDir(), os.Getenv)
}

func newRootCommand(cacheDir string, getenv func(string) string) *cobra.Command {
	opts := &RootOptions{cacheDir: cacheDir, getenv: getenv}

	cmd := &cobra.Command{
		Use:           "coven-ctx",
		Short:         "Session context, checkpoints and events for coding agents",
		Long:          "coven-ctx talks to a coven-context server to manage sessions, context items, checkpoints, events and project work items.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.setup(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&opts.Format, "format", FormatText, "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.Server, "server", DefaultServerURL, "coven-context server URL")
	cmd.PersistentFlags().StringVarP(&opts.Session, "session", "s", "", "session id (defaults to this terminal's current session)")
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "settings file (default $XDG_CONFIG_HOME/coven/ctx.toml)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "log client diagnostics to stderr")

	cmd.AddCommand(NewSessionCommand(opts))
	cmd.AddCommand(NewContextCommand(opts))
	cmd.AddCommand(NewCheckpointCommand(opts))
	cmd.AddCommand(NewEventsCommand(opts))
	cmd.AddCommand(NewIssueCommand(opts))
	cmd.AddCommand(NewPlanCommand(opts))
	cmd.AddCommand(NewMemoryCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewPrimeCommand(opts))

	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return WrapExitError(ExitUsage, "invalid flags", err)
	})
	wrapArgErrors(cmd)
	return cmd
}

// wrapArgErrors makes positional-argument failures exit with ExitUsage.
func wrapArgErrors(c *cobra.Command) {
	for _, sub := range c.Commands() {
		if validate := sub.Args; validate != nil {
			sub.Args = func(cmd *cobra.Command, args []string) error {
				if err := validate(cmd, args); err != nil {
					return WrapExitError(ExitUsage, "invalid arguments", err)
				}
				return nil
			}
		}
		wrapArgErrors(sub)
	}
}

func (o *RootOptions) settingsPath() string {
	if o.ConfigPath != "" {
		return o.ConfigPath
	}
	if dir := o.getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "coven", "ctx.toml")
	}
	return DefaultSettingsPath()
}

// setup merges settings, environment and flags, then builds the client.
// Flags win over the environment, which wins over the settings file.
func (o *RootOptions) setup(cmd *cobra.Command) error {
	settings, err := LoadSettings(o.settingsPath(), !cmd.Flags().Changed("config"))
	if err != nil {
		return WrapExitError(ExitUsage, "loading settings", err)
	}

	if !cmd.Flags().Changed("server") {
		o.Server = settings.Server.URL
		if v := o.getenv(EnvServerURL); v != "" {
			o.Server = v
		}
	}
	if !cmd.Flags().Changed("format") {
		o.Format = settings.Output.Format
	}
	if !isValidFormat(o.Format) {
		return NewExitError(ExitUsage, "invalid format "+o.Format+": must be text or json")
	}

	level := slog.LevelWarn
	if o.Verbose {
		level = slog.LevelDebug
	}
	o.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	key := settings.Status.Key
	if key == "" {
		key = statuscache.ResolveKey(o.getenv)
	}
	o.cache = statuscache.New(o.cacheDir, key)
	o.client = client.New(o.Server, client.WithLogger(o.logger))
	o.printer = &Printer{Format: o.Format, Out: cmd.OutOrStdout()}
	o.logger.Debug("cli configured", "server", o.Server, "status_key", o.cache.Key())
	return nil
}

// errNoSession is returned when neither --session nor the status cache name a session
var errNoSession = NewExitError(ExitUsage, "no current session: pass --session or run 'coven-ctx session start'")

// currentSession returns the explicit --session or the cached one.
func (o *RootOptions) currentSession() (string, error) {
	if o.Session != "" {
		return o.Session, nil
	}
	entry, err := o.cache.Read()
	if err != nil && !errors.Is(err, statuscache.ErrNoKey) {
		o.logger.Warn("reading status cache", "error", err)
	}
	if entry == nil {
		return "", errNoSession
	}
	return entry.SessionID, nil
}

// sessionArg prefers a positional id over the current session.
func (o *RootOptions) sessionArg(args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	return o.currentSession()
}

// remember points this terminal at s. Terminals without a status key are skipped.
func (o *RootOptions) remember(ctx context.Context, s *store.Session) {
	entry := statuscache.Entry{
		SessionID:     s.ID,
		SessionName:   s.Name,
		ProjectPath:   s.ProjectPath,
		SessionStatus: string(s.Status),
	}
	if items, err := o.client.ListItems(ctx, s.ID, client.ItemQuery{}); err == nil {
		entry.ItemCount = len(items)
	}
	if err := o.cache.Write(entry); err != nil && !errors.Is(err, statuscache.ErrNoKey) {
		o.logger.Warn("updating status cache", "error", err)
	}
}

// forget clears the cached pointer when it names id.
func (o *RootOptions) forget(id string) {
	entry, _ := o.cache.Read()
	if entry == nil || entry.SessionID != id {
		return
	}
	if err := o.cache.Clear(); err != nil {
		o.logger.Warn("clearing status cache", "error", err)
	}
}

// readValue returns arg, or all of stdin when arg is "-".
func readValue(cmd *cobra.Command, arg string) (string, error) {
	if arg != "-" {
		return arg, nil
	}
	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", WrapExitError(ExitUsage, "reading stdin", err)
	}
	return string(data), nil
}
