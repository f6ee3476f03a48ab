package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/justapithecus/lode/lode"
	"github.com/urfave/cli/v2"

	"github.com/justapithecus/wvrunner/cli/config"
	"github.com/justapithecus/wvrunner/cli/reader"
	"github.com/justapithecus/wvrunner/cli/render"
	"github.com/justapithecus/wvrunner/journal"
)

// historyWarningThreshold is the run count above which history warns on an
// unfiltered query.
const historyWarningThreshold = 500

// HistoryCommand returns the history command.
// It reads the journal only and never launches the agent.
func HistoryCommand() *cli.Command {
	flags := []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Path to config file; supplies journal settings and the goal",
		},
		&cli.StringFlag{
			Name:  "journal-path",
			Usage: "Journal root directory (fs) or bucket/prefix (s3)",
		},
		&cli.StringFlag{
			Name:  "journal-backend",
			Usage: "Journal backend: fs, s3",
		},
		&cli.StringFlag{
			Name:  "dataset",
			Usage: "Journal dataset ID (default: " + journal.DefaultDataset + ")",
		},
		&cli.StringFlag{
			Name:  "day",
			Usage: "Only show this day (YYYY-MM-DD)",
		},
		&cli.StringFlag{
			Name:  "workflow",
			Usage: "Only show this workflow kind",
		},
		&cli.StringFlag{
			Name:  "session",
			Usage: "Only show this session ID",
		},
		&cli.Float64Flag{
			Name:  "goal",
			Usage: "Daily hour goal for the quota summary (0 uses per_day from the records)",
		},
	}
	return &cli.Command{
		Name:   "history",
		Usage:  "Show journaled runs with a per-day quota summary",
		Flags:  append(flags, ReadOnlyFlags()...),
		Action: historyAction,
	}
}

// historyOptions selects the journal and the records to show.
type historyOptions struct {
	Backend   string
	Path      string
	Dataset   string
	Region    string
	Endpoint  string
	PathStyle bool
	Goal      float64
	Filter    journal.Filter
}

func historyAction(c *cli.Context) error {
	opts, err := historyOptionsFrom(c)
	if err != nil {
		return cli.Exit(fmt.Sprintf("invalid configuration: %v", err), exitConfigError)
	}

	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	h, err := loadHistory(c.Context, opts)
	if err != nil {
		return err
	}

	if runs := len(h.Rows()); runs > historyWarningThreshold && opts.Filter == (journal.Filter{}) && isStderrTTY() {
		_, _ = fmt.Fprintf(os.Stderr, "Warning: returning %d runs. Consider filtering with --day or --session.\n\n", runs)
	}

	if c.Bool("tui") {
		return r.RenderTUI("history", h)
	}
	return r.RenderHistory(h)
}

// historyOptionsFrom reads the journal location from the config file (if
// any) and overlays flags.
func historyOptionsFrom(c *cli.Context) (historyOptions, error) {
	opts := historyOptions{Backend: config.BackendFS}

	path := c.String("config")
	if path == "" {
		if _, err := os.Stat(config.DefaultPath); err == nil {
			path = config.DefaultPath
		}
	}
	if path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			return opts, err
		}
		if cfg.Journal.Backend != "" {
			opts.Backend = cfg.Journal.Backend
		}
		opts.Path = cfg.Journal.Path
		opts.Dataset = cfg.Journal.Dataset
		opts.Region = cfg.Journal.Region
		opts.Endpoint = cfg.Journal.Endpoint
		opts.PathStyle = cfg.Journal.S3PathStyle
		opts.Goal = cfg.Schedule.DailyGoal
	}

	if c.IsSet("journal-backend") {
		opts.Backend = c.String("journal-backend")
	}
	if c.IsSet("journal-path") {
		opts.Path = c.String("journal-path")
	}
	if c.IsSet("dataset") {
		opts.Dataset = c.String("dataset")
	}
	if c.IsSet("goal") {
		opts.Goal = c.Float64("goal")
	}
	opts.Filter = journal.Filter{
		Day:       c.String("day"),
		Workflow:  c.String("workflow"),
		SessionID: c.String("session"),
	}

	if opts.Backend == config.BackendFS && opts.Path == "" {
		opts.Path = config.DefaultJournalPath
	}
	if opts.Goal < 0 {
		return opts, fmt.Errorf("goal must be >= 0, got %v", opts.Goal)
	}
	return opts, nil
}

// loadHistory opens the journal read-only and summarizes the matching runs.
func loadHistory(ctx context.Context, opts historyOptions) (*reader.History, error) {
	factory, err := historyFactory(ctx, opts)
	if err != nil {
		return nil, err
	}
	ds, err := journal.NewReadDataset(opts.Dataset, factory)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	return reader.New(ds, opts.Goal).History(ctx, opts.Filter)
}

func historyFactory(ctx context.Context, opts historyOptions) (lode.StoreFactory, error) {
	switch opts.Backend {
	case config.BackendFS:
		if _, err := os.Stat(opts.Path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("journal %s does not exist", opts.Path)
			}
			return nil, err
		}
		return lode.NewFSFactory(opts.Path), nil
	case config.BackendS3:
		bucket, prefix := journal.ParseS3Path(opts.Path)
		return journal.S3Factory(ctx, journal.S3Config{
			Bucket:       bucket,
			Prefix:       prefix,
			Region:       opts.Region,
			Endpoint:     opts.Endpoint,
			UsePathStyle: opts.PathStyle,
		})
	default:
		return nil, fmt.Errorf("unknown journal backend %q", opts.Backend)
	}
}
