package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"pantry/backend/internal/domain"
	"pantry/backend/internal/logging"
	"pantry/backend/internal/report"
	"pantry/backend/internal/snapshot"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	rangeFlags := []cli.Flag{
		&cli.StringFlag{Name: "from", Usage: "first day, YYYY-MM-DD"},
		&cli.StringFlag{Name: "to", Usage: "last day, YYYY-MM-DD"},
		&cli.StringFlag{Name: "month", Usage: "calendar month, YYYY-MM"},
		&cli.IntFlag{Name: "days", Value: report.DefaultReportDays, Usage: "trailing days ending today"},
	}

	return &cli.App{
		Name:  "pantryctl",
		Usage: "offline reports over a pantry snapshot directory",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "dir", Value: "./data", EnvVars: []string{"SNAPSHOT_DIR"}, Usage: "snapshot directory"},
			&cli.StringFlag{Name: "policy", Value: string(report.PolicyCurrent), EnvVars: []string{"PRICING_POLICY"}, Usage: "current or historical"},
			&cli.StringFlag{Name: "tz", Value: "UTC", EnvVars: []string{"TIME_ZONE"}, Usage: "time zone that defines today"},
			&cli.StringFlag{Name: "log-level", Value: "warn"},
		},
		Commands: []*cli.Command{
			{
				Name:  "summary",
				Usage: "per-item totals for a period",
				Flags: rangeFlags,
				Action: func(c *cli.Context) error {
					env, err := load(c)
					if err != nil {
						return err
					}
					r, err := resolveRange(c, env.loc)
					if err != nil {
						return err
					}
					summary, err := env.engine.Summary(c.Context, env.snap, r)
					if err != nil {
						return err
					}
					return printJSON(c, summary)
				},
			},
			{
				Name:  "series",
				Usage: "time-bucketed totals for a period",
				Flags: append([]cli.Flag{
					&cli.StringFlag{Name: "granularity", Value: string(report.GranularityDay), Usage: "day, week or month"},
				}, rangeFlags...),
				Action: func(c *cli.Context) error {
					g, err := report.ParseGranularity(c.String("granularity"))
					if err != nil {
						return err
					}
					env, err := load(c)
					if err != nil {
						return err
					}
					r, err := resolveRange(c, env.loc)
					if err != nil {
						return err
					}
					series, err := env.engine.Series(c.Context, env.snap, r, g)
					if err != nil {
						return err
					}
					return printJSON(c, series)
				},
			},
			{
				Name:  "invoice",
				Usage: "monthly invoice",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "month", Usage: "calendar month, YYYY-MM"},
					&cli.IntFlag{Name: "months-back", Usage: "months before the current one"},
				},
				Action: func(c *cli.Context) error {
					env, err := load(c)
					if err != nil {
						return err
					}
					var r report.Range
					if month := strings.TrimSpace(c.String("month")); month != "" {
						if r, err = report.MonthOf(month); err != nil {
							return err
						}
					} else {
						if c.Int("months-back") < 0 {
							return domain.Invalid("months-back", fmt.Sprint(c.Int("months-back")), "must not be negative")
						}
						r = report.Month(time.Now().In(env.loc), c.Int("months-back"))
					}
					invoice, err := env.engine.Invoice(c.Context, env.snap, r)
					if err != nil {
						return err
					}
					return printJSON(c, invoice)
				},
			},
			{
				Name:  "migrate",
				Usage: "upgrade the snapshot directory to the current layout",
				Action: func(c *cli.Context) error {
					logger, err := newLogger(c)
					if err != nil {
						return err
					}
					states, err := openStore(c, logger)
					if err != nil {
						return err
					}
					state, found, err := states.Load(c.Context)
					if err != nil {
						return err
					}
					if !found {
						return fmt.Errorf("no snapshot found in %s", c.String("dir"))
					}
					return printJSON(c, map[string]any{
						"version": snapshot.CurrentVersion,
						"prices":  len(state.Prices),
						"logs":    len(state.Logs),
					})
				},
			},
		},
	}
}

type environment struct {
	engine *report.Engine
	snap   domain.Snapshot
	loc    *time.Location
}

func newLogger(c *cli.Context) (*logrus.Logger, error) {
	return logging.New(c.String("log-level"), "text", c.App.ErrWriter)
}

func openStore(c *cli.Context, logger logrus.FieldLogger) (*snapshot.Store, error) {
	blob, err := snapshot.NewFileBlob(c.String("dir"))
	if err != nil {
		return nil, err
	}
	return snapshot.NewStore(blob, nil, logger), nil
}

// load reads the snapshot directory without upgrading it; only migrate writes.
func load(c *cli.Context) (environment, error) {
	logger, err := newLogger(c)
	if err != nil {
		return environment{}, err
	}
	loc, err := time.LoadLocation(c.String("tz"))
	if err != nil {
		return environment{}, fmt.Errorf("invalid --tz: %w", err)
	}
	policy, err := report.ParsePolicy(c.String("policy"))
	if err != nil {
		return environment{}, err
	}

	states, err := openStore(c, logger)
	if err != nil {
		return environment{}, err
	}
	state, found, err := states.Read(c.Context)
	if err != nil {
		return environment{}, err
	}
	if !found {
		return environment{}, fmt.Errorf("no snapshot found in %s", c.String("dir"))
	}

	return environment{
		engine: report.NewEngine(nil, 0, policy, loc, logger),
		snap:   state.Snapshot(),
		loc:    loc,
	}, nil
}

func resolveRange(c *cli.Context, loc *time.Location) (report.Range, error) {
	from := strings.TrimSpace(c.String("from"))
	to := strings.TrimSpace(c.String("to"))
	switch {
	case from != "" || to != "":
		if from == "" || to == "" {
			return report.Range{}, domain.Invalid("from", from, "--from and --to must be given together")
		}
		return report.NewRange(from, to)
	case strings.TrimSpace(c.String("month")) != "":
		return report.MonthOf(strings.TrimSpace(c.String("month")))
	default:
		days := c.Int("days")
		if days < 1 {
			return report.Range{}, domain.Invalid("days", fmt.Sprint(days), "must be positive")
		}
		return report.LastNDays(time.Now().In(loc), days), nil
	}
}

func printJSON(c *cli.Context, payload any) error {
	encoder := json.NewEncoder(c.App.Writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(payload)
}
