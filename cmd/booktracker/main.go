package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/booktracker/booktracker/internal/bookapi"
	"github.com/booktracker/booktracker/internal/config"
	"github.com/booktracker/booktracker/internal/daemon"
	"github.com/booktracker/booktracker/internal/guard"
	"github.com/booktracker/booktracker/internal/session"
)

// Version information (set via ldflags at build time)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// Exit codes
const (
	ExitSuccess         = 0
	ExitError           = 1
	ExitUnauthenticated = 2 // not logged in, or the backend rejected the session
	ExitConfig          = 3
)

// needsSession marks commands that run against the restored session.
const needsSession = "booktracker/session"

// cli holds the state of one invocation.
type cli struct {
	configFile string
	logLevel   string
	logFormat  string

	cfg        *config.Config
	components *daemon.Components
	prompter   prompter
	stdin      io.Reader
	stdout     io.Writer
	stderr     io.Writer

	// overrideExitCode is set by subcommands (validate, check-config) so the
	// caller can exit after cobra finishes. -1 means "use default".
	overrideExitCode int
}

func newCLI() *cli {
	return &cli{
		configFile:       config.DefaultPath(),
		prompter:         newPrompter(),
		stdin:            os.Stdin,
		stdout:           os.Stdout,
		stderr:           os.Stderr,
		overrideExitCode: -1,
	}
}

// IsAuthenticated lets the guard check the session before it is built.
func (c *cli) IsAuthenticated() bool {
	return c.components != nil && c.components.Sessions.IsAuthenticated()
}

func (c *cli) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "booktracker",
		Short: "BookTracker command line client",
		Long: `Track your reading from the terminal.

Log in once; the session is stored locally and restored by every later
command and by the web front started with "booktracker serve".`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: c.setup,
	}

	root.PersistentFlags().StringVar(&c.configFile, "config", c.configFile,
		"Path to configuration file")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "",
		"Log level (debug, info, warn, error) - overrides config file")
	root.PersistentFlags().StringVar(&c.logFormat, "log-format", "",
		"Log format (json, text) - overrides config file")

	g := guard.New(c, "login")

	root.AddCommand(
		c.loginCommand(),
		c.registerCommand(),
		c.logoutCommand(),
		c.statusCommand(),
		c.validateCommand(),
		c.serveCommand(),
		c.searchCommand(g),
		c.shelfCommand(g),
		c.statsCommand(g),
		c.notificationsCommand(g),
		c.versionCommand(),
		c.checkConfigCommand(),
	)
	return root
}

// withSession marks cmd as needing the restored session.
func withSession(cmd *cobra.Command) *cobra.Command {
	if cmd.Annotations == nil {
		cmd.Annotations = map[string]string{}
	}
	cmd.Annotations[needsSession] = "true"
	return cmd
}

// loadConfig reads the config file and applies the logging flags.
func (c *cli) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(c.configFile)
	if err != nil {
		return nil, err
	}
	if c.logLevel != "" {
		cfg.Log.Level = c.logLevel
	}
	if c.logFormat != "" {
		cfg.Log.Format = c.logFormat
	}
	config.SetupLogging(&cfg.Log)
	return cfg, nil
}

// setup builds the components and restores the session for commands
// annotated with needsSession.
func (c *cli) setup(cmd *cobra.Command, args []string) error {
	if cmd.Annotations[needsSession] == "" {
		return nil
	}

	cfg, err := c.loadConfig()
	if err != nil {
		c.overrideExitCode = ExitConfig
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	c.cfg = cfg

	components, err := daemon.Wire(cmd.Context(), cfg, nil, daemon.Hooks{
		Navigate: func(route string) {
			slog.Debug("navigate", "route", route)
		},
	})
	if err != nil {
		return err
	}
	c.components = components

	return components.Sessions.RestoreSession(cmd.Context())
}

func (c *cli) close() {
	if c.components == nil {
		return
	}
	if err := c.components.Close(); err != nil {
		slog.Error("failed to close session store", "error", err)
	}
	c.components = nil
}

// execute runs the command line and returns the process exit code.
func (c *cli) execute(ctx context.Context, args []string) int {
	defer c.close()

	root := c.rootCommand()
	root.SetArgs(args)
	root.SetIn(c.stdin)
	root.SetOut(c.stdout)
	root.SetErr(c.stderr)

	if err := root.ExecuteContext(ctx); err != nil {
		_, _ = fmt.Fprintf(c.stderr, "Error: %s\n", errorMessage(err))
		if c.overrideExitCode >= 0 {
			return c.overrideExitCode
		}
		return exitCodeFor(err)
	}

	if c.overrideExitCode >= 0 {
		return c.overrideExitCode
	}
	return ExitSuccess
}

// errorMessage prefers the user-facing text of session and API errors.
func errorMessage(err error) string {
	var d session.Displayable
	if errors.As(err, &d) {
		return d.UserMessage()
	}
	return err.Error()
}

func exitCodeFor(err error) int {
	var authErr *session.AuthenticationError
	switch {
	case errors.Is(err, guard.ErrNotLoggedIn),
		errors.Is(err, bookapi.ErrUnauthorized),
		errors.As(err, &authErr):
		return ExitUnauthenticated
	default:
		return ExitError
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := newCLI().execute(ctx, os.Args[1:])
	stop()
	os.Exit(code)
}

func (c *cli) serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the local web front",
		Long: `Start the BookTracker web front.

The daemon:
  - Restores the stored session
  - Serves the login, register, search, shelf and dashboard pages
  - Redirects protected pages to /login while logged out
  - Exposes /health and /metrics`,
		RunE: c.runServe,
	}
}

// runServe starts the daemon
func (c *cli) runServe(cmd *cobra.Command, args []string) error {
	cfg, err := c.loadConfig()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		c.overrideExitCode = ExitConfig
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	slog.Info("starting BookTracker daemon",
		"version", version,
		"commit", commit,
		"build_date", buildDate,
		"config", c.configFile,
	)

	d, err := daemon.New(cfg, version)
	if err != nil {
		slog.Error("failed to create daemon", "error", err)
		return fmt.Errorf("failed to create daemon: %w", err)
	}

	return d.RunContext(cmd.Context())
}

func (c *cli) versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Display version information",
		Long:  `Display version, commit hash, and build date.`,
		Run:   c.runVersion,
	}
}

// runVersion displays version information
func (c *cli) runVersion(cmd *cobra.Command, args []string) {
	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "booktracker version %s\n", version)
	_, _ = fmt.Fprintf(out, "  Commit:     %s\n", commit)
	_, _ = fmt.Fprintf(out, "  Build date: %s\n", buildDate)
	_, _ = fmt.Fprintf(out, "  Go version: %s\n", getGoVersion())
}

func (c *cli) checkConfigCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "check-config",
		Short: "Validate configuration file",
		Long: `Load and validate the configuration file.

Exit codes:
  0 = Configuration is valid
  3 = Configuration error`,
		RunE: c.runCheckConfig,
	}
}

// runCheckConfig validates the configuration
func (c *cli) runCheckConfig(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Checking configuration: %s\n\n", c.configFile)

	cfg, err := config.Load(c.configFile)
	if err != nil {
		_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "%s\n   %v\n", badStyle.Render("Configuration validation failed:"), err)
		c.overrideExitCode = ExitConfig
		return nil // exit code handled via overrideExitCode
	}

	r := cfg.Redact()
	_, _ = fmt.Fprintln(out, okStyle.Render("Configuration is valid"))
	_, _ = fmt.Fprintln(out)
	_, _ = fmt.Fprintln(out, titleStyle.Render("Configuration summary:"))
	_, _ = fmt.Fprint(out,
		row("Auth API", r.API.AuthURL),
		row("Books API", r.API.BooksURL),
		row("Library API", r.API.LibraryURL),
		row("Analytics API", r.API.AnalyticsURL),
		row("Notify API", r.API.NotificationsURL),
		row("Timeout", fmt.Sprintf("%ds", r.API.Timeout)),
		row("Restore check", r.Auth.RestoreCheck),
		row("Store", storeSummary(r)),
		row("HTTP listen", r.Listen.HTTP),
		row("TLS enabled", fmt.Sprint(r.TLS.Enabled)),
		row("Log", r.Log.Level+" / "+r.Log.Format),
	)

	return nil
}

func storeSummary(cfg *config.Config) string {
	switch cfg.Store.Driver {
	case config.StoreFile, config.StoreSQLite:
		return cfg.Store.Driver + " (" + cfg.Store.Path + ")"
	case config.StoreRedis:
		return cfg.Store.Driver + " (" + cfg.Store.Redis + ")"
	default:
		return cfg.Store.Driver
	}
}

// getGoVersion returns the Go version used to build the binary
func getGoVersion() string {
	return runtime.Version()
}
