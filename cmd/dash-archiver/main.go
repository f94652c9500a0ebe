package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/r3labs/diff/v3"
	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/alanbriolat/dash-archiver"
	"github.com/alanbriolat/dash-archiver/async"
	"github.com/alanbriolat/dash-archiver/internal/boltdb"
	"github.com/alanbriolat/dash-archiver/mux"
	"github.com/alanbriolat/dash-archiver/util"
)

const appName = "dash-archiver"

var ErrDownloadFailed = errors.New("one or more downloads failed")

func main() {
	config := zap.NewDevelopmentConfig()
	config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	config.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	logger, err := config.Build()
	if err != nil {
		log.Fatalf("can't initialize zap logger: %v", err)
	}
	defer logger.Sync()
	zap.RedirectStdLog(logger)
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = dash_archiver.WithLogger(ctx, logger)

	app := newApp(ctx, &config)
	result := async.Run(func() error { return app.Run(os.Args) })

	select {
	case err = <-result:
	case <-ctx.Done():
		stop()
		err = <-result
	}
	if err != nil {
		logger.Fatal(err.Error())
	}
}

func newApp(ctx context.Context, logConfig *zap.Config) *cli.App {
	return &cli.App{
		Name:      appName,
		Usage:     "download the best audio and video streams of a page and mux them into one file",
		ArgsUsage: "[URL...]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "target",
				Value:   ".",
				Usage:   "save muxed video to `DIR`",
				EnvVars: []string{"DASH_ARCHIVER_TARGET"},
			},
			&cli.StringFlag{
				Name:    "temp-dir",
				Usage:   "create per-run temporary directories in `DIR` (default: system temp dir)",
				EnvVars: []string{"DASH_ARCHIVER_TEMP_DIR"},
			},
			&cli.StringFlag{
				Name:    "ffmpeg",
				Value:   "ffmpeg",
				Usage:   "ffmpeg program `PATH` used for muxing",
				EnvVars: []string{"DASH_ARCHIVER_FFMPEG"},
			},
			&cli.StringFlag{
				Name:    "output-template",
				Value:   "{{.Title}}",
				Usage:   "output filename `TEMPLATE`, without extension; fields are .Title and .ID",
				EnvVars: []string{"DASH_ARCHIVER_OUTPUT_TEMPLATE"},
			},
			&cli.BoolFlag{
				Name:  "stop-on-error",
				Usage: "skip remaining steps (except cleanup) after the first failed step",
			},
			&cli.DurationFlag{
				Name:    "timeout",
				Usage:   "timeout for each HTTP request, 0 for none",
				EnvVars: []string{"DASH_ARCHIVER_TIMEOUT"},
			},
			&cli.StringFlag{
				Name:    "history",
				Value:   defaultHistoryPath(),
				Usage:   "record runs in the database at `FILE`, empty to disable",
				EnvVars: []string{"DASH_ARCHIVER_HISTORY"},
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "enable debug logging",
			},
		},
		Before: func(c *cli.Context) error {
			if c.Bool("debug") {
				logConfig.Level.SetLevel(zapcore.DebugLevel)
			}
			return nil
		},
		Action: func(c *cli.Context) error {
			return downloadAction(ctx, c)
		},
		Commands: []*cli.Command{
			{
				Name:  "history",
				Usage: "list previous runs",
				Action: func(c *cli.Context) error {
					return historyAction(c)
				},
				Subcommands: []*cli.Command{
					{
						Name:      "show",
						Usage:     "show the steps of a previous run",
						ArgsUsage: "ID",
						Action: func(c *cli.Context) error {
							return showAction(c)
						},
					},
				},
			},
		},
		HideHelpCommand: true,
	}
}

func defaultHistoryPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, appName, "history.db")
}

func openHistory(path string) (boltdb.Database, error) {
	if path == "" {
		return nil, cli.Exit("run history is disabled", 1)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("failed to create history dir: %w", err)
	}
	db, err := boltdb.New(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history %s: %w", path, err)
	}
	return db, nil
}

func pipelineConfig(c *cli.Context) (dash_archiver.Config, error) {
	cfg := dash_archiver.DefaultConfig
	cfg.TargetDir = c.String("target")
	cfg.TempDir = c.String("temp-dir")
	cfg.Muxer = mux.NewFFmpeg(c.String("ffmpeg"))
	cfg.Timeout = c.Duration("timeout")
	if c.Bool("stop-on-error") {
		cfg.Policy = dash_archiver.StopOnError
	}
	tmpl, err := template.New("output_file").Parse(c.String("output-template"))
	if err != nil {
		return cfg, fmt.Errorf("invalid output template: %w", err)
	}
	cfg.OutputTemplate = tmpl
	return cfg, nil
}

func downloadAction(ctx context.Context, c *cli.Context) error {
	logger := dash_archiver.Logger(ctx).Sugar()

	cfg, err := pipelineConfig(c)
	if err != nil {
		return err
	}
	if path := c.String("history"); path != "" {
		db, err := openHistory(path)
		if err != nil {
			logger.Warnf("Run history disabled: %v", err)
		} else {
			defer db.Close()
			cfg.History = db
		}
	}

	urls := c.Args().Slice()
	if len(urls) == 0 {
		url, err := promptURL(os.Stdin, os.Stderr)
		if err != nil {
			return err
		}
		urls = []string{url}
	}

	failed := false
	for _, url := range urls {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := util.ValidatePageURL(url); err != nil {
			logger.Errorf("Invalid URL %q: %v", url, err)
			failed = true
			continue
		}
		if !download(ctx, cfg, url) {
			failed = true
		}
	}
	if failed {
		return ErrDownloadFailed
	}
	return nil
}

func promptURL(in io.Reader, out io.Writer) (string, error) {
	fmt.Fprintln(out, "请输入网址 (enter URL):")
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("failed to read URL: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func download(ctx context.Context, cfg dash_archiver.Config, url string) bool {
	logger := dash_archiver.Logger(ctx).Sugar()
	logger.Infof("Downloading from %s into %s", url, cfg.TargetDir)

	bar := progressbar.DefaultBytes(-1, "downloading")
	p := dash_archiver.NewPipeline(cfg).WithObserver(func(old dash_archiver.RunState, new dash_archiver.RunState) {
		if new.Step != old.Step {
			logger.Debugf("Step: %s", new.Step)
		}
		if new.Expected > 0 && int64(bar.GetMax()) != new.Expected {
			bar.ChangeMax(int(new.Expected))
		}
		if new.Downloaded != old.Downloaded {
			_ = bar.Set(int(new.Downloaded))
			return
		}
		changes, err := diff.Diff(old, new)
		if err != nil {
			logger.Errorf("failed to diff old and new run state: %v", err)
		} else {
			for _, change := range changes {
				logger.Debugf("%v: %#v -> %#v", change.Path, change.From, change.To)
			}
		}
	})

	report := p.Run(ctx, url)
	_ = bar.Finish()
	fmt.Fprintln(os.Stderr)

	if report.Succeeded() {
		logger.Infof("Download complete: %s", report.OutputPath)
		return true
	}
	logger.Debugf("Run %s failed: %v", report.ID, report.Err())
	logger.Error("Download failed")
	return false
}

func historyAction(c *cli.Context) error {
	db, err := openHistory(c.String("history"))
	if err != nil {
		return err
	}
	defer db.Close()
	runs, err := db.ListRuns()
	if err != nil {
		return err
	}
	out := c.App.Writer
	for _, run := range runs {
		status := "failed"
		if run.Succeeded() {
			status = "ok"
		}
		fmt.Fprintf(out, "%s  %s  %-6s  %s  %s\n", run.ID, run.StartedAt.Format("2006-01-02 15:04:05"), status, run.Title, run.URL)
	}
	return nil
}

func showAction(c *cli.Context) error {
	id := c.Args().First()
	if id == "" {
		return cli.Exit("missing run ID", 1)
	}
	db, err := openHistory(c.String("history"))
	if err != nil {
		return err
	}
	defer db.Close()
	run, err := db.GetRun(id)
	if err != nil {
		return err
	}
	if run == nil {
		return cli.Exit(fmt.Sprintf("no run with ID %s", id), 1)
	}
	out := c.App.Writer
	fmt.Fprintf(out, "URL:      %s\nTitle:    %s\nOutput:   %s\nStarted:  %s\nFinished: %s\n",
		run.URL, run.Title, run.OutputPath, run.StartedAt.Format("2006-01-02 15:04:05"), run.FinishedAt.Format("2006-01-02 15:04:05"))
	for _, step := range run.Steps {
		switch {
		case step.Skipped:
			fmt.Fprintf(out, "  %-8s skipped\n", step.Step)
		case step.Error != "":
			fmt.Fprintf(out, "  %-8s %s\n", step.Step, step.Error)
		default:
			fmt.Fprintf(out, "  %-8s ok\n", step.Step)
		}
	}
	return nil
}
