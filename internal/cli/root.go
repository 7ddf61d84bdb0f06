package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"tempofill/internal/config"
	appLog "tempofill/internal/log"
	"tempofill/internal/pipeline"
	"tempofill/internal/reconcile"
)

// App holds the collaborators commands are wired against. main fills it in;
// tests swap BuildRunner for fakes.
type App struct {
	// BuildRunner builds the run for a validated config and range.
	BuildRunner func(cfg *config.Config, r reconcile.Range) (*pipeline.Runner, error)
	// Serve runs the preview server until ctx is cancelled.
	Serve func(ctx context.Context, cfg *config.Config, runner *pipeline.Runner) error

	Stdin         io.Reader
	IsInteractive func() bool
	Version       string
}

type rootOptions struct {
	configPath string
	logLevel   string
	from       string
	to         string
}

// NewRootCmd creates the top-level "tempofill" command and registers all
// subcommands against the provided App.
func NewRootCmd(app *App) *cobra.Command {
	if app.BuildRunner == nil {
		app.BuildRunner = BuildRunner
	}
	if app.Serve == nil {
		app.Serve = ServePreview
	}
	if app.Stdin == nil {
		app.Stdin = os.Stdin
	}
	if app.IsInteractive == nil {
		app.IsInteractive = func() bool { return false }
	}

	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "tempofill",
		Short:         "Reconcile Jira history and calendar meetings into Tempo worklogs",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       app.Version,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "./config.yaml", "Path to config file")
	pf.StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides config")
	pf.StringVar(&opts.from, "from", "", "First day of the run, YYYY-MM-DD; overrides run.start_date")
	pf.StringVar(&opts.to, "to", "", "Day after the last day of the run, YYYY-MM-DD; overrides run.end_date")

	root.AddCommand(
		newPlanCmd(app, opts),
		newFillCmd(app, opts),
		newPurgeCmd(app, opts),
		newServeCmd(app, opts),
	)

	return root
}

// prepare loads and validates the config, applies flag overrides and builds
// the runner.
func (app *App) prepare(opts *rootOptions) (*config.Config, *pipeline.Runner, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	level := cfg.LogLevel
	if opts.logLevel != "" {
		level = opts.logLevel
	}
	l, ok := appLog.ParseLevel(level)
	if !ok {
		return nil, nil, fmt.Errorf("%w: unknown log level %q", config.ErrInvalid, level)
	}
	appLog.SetLevel(l)
	appLog.Debug("tempofill starting", "version", app.Version)

	if opts.from != "" {
		cfg.Run.StartDate = opts.from
	}
	if opts.to != "" {
		cfg.Run.EndDate = opts.to
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("%s: %w", opts.configPath, err)
	}
	r, err := cfg.Range()
	if err != nil {
		return nil, nil, err
	}

	appLog.Info("effective config",
		"config_path", opts.configPath,
		"from", cfg.Run.StartDate,
		"to", cfg.Run.EndDate,
		"timezone", cfg.Run.Timezone,
		"project", cfg.Jira.Project,
		"feeds", len(cfg.Calendar.Feeds),
		"priority_order", strings.Join(cfg.WorkStates.PriorityOrder, ","),
	)

	runner, err := app.BuildRunner(cfg, r)
	if err != nil {
		return nil, nil, err
	}
	return cfg, runner, nil
}

// isTerminal reports whether w is a terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
