package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/harunnryd/speechjob/pkg/config"
	"github.com/harunnryd/speechjob/pkg/errorsx"
	"github.com/harunnryd/speechjob/pkg/logging"
	"github.com/harunnryd/speechjob/pkg/metrics"
	"github.com/harunnryd/speechjob/pkg/observers"
	"github.com/harunnryd/speechjob/pkg/redact"
	"github.com/harunnryd/speechjob/pkg/resilience"
	"github.com/harunnryd/speechjob/pkg/runner"
	"github.com/harunnryd/speechjob/pkg/speechkit"
	"github.com/harunnryd/speechjob/pkg/store"
)

const (
	exitOK      = 0
	exitFailure = 1
	exitNotDone = 2
)

const usage = `usage: speechjob [-config file] <command> [flags]

commands:
  run     -uri URI [-out FILE]             submit, wait and save the transcript
  submit  -uri URI [-out FILE]             submit and record the operation only
  poll    -id ID [-out FILE] [-wait]       check a submitted operation
  list                                     show recorded operations
  purge   [-days N]                        drop finished records and old timelines
`

// app holds everything a command needs once configuration is loaded.
type app struct {
	cfg      config.Config
	logger   *slog.Logger
	store    store.Store
	observer metrics.Observer
	timeline *observers.TimelineObserver
	stdout   io.Writer
	stderr   io.Writer
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	global := flag.NewFlagSet("speechjob", flag.ContinueOnError)
	global.SetOutput(stderr)
	global.Usage = func() { fmt.Fprint(stderr, usage) }
	configPath := global.String("config", "", "path to YAML config (optional)")
	noBanner := global.Bool("no-banner", false, "do not print the startup banner")
	if err := global.Parse(args); err != nil {
		return exitFailure
	}
	rest := global.Args()
	if len(rest) == 0 {
		fmt.Fprint(stderr, usage)
		return exitFailure
	}
	cmd, cmdArgs := rest[0], rest[1:]

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(stderr, "config error:", err)
		return exitFailure
	}
	logger := logging.InitLogger(cfg.Logging(), stderr)
	redact.SetEnabled(cfg.Privacy.RedactPII)

	a, err := newApp(ctx, cfg, logger, stdout, stderr)
	if err != nil {
		logger.Error("startup_failed", slog.Any("error", err))
		return exitFailure
	}
	defer a.close()

	switch cmd {
	case "run", "submit", "poll":
		if !*noBanner {
			runner.PrintBanner(stderr, false)
		}
	}

	switch cmd {
	case "run":
		return a.runCmd(ctx, cmdArgs)
	case "submit":
		return a.submitCmd(ctx, cmdArgs)
	case "poll":
		return a.pollCmd(ctx, cmdArgs)
	case "list":
		return a.listCmd(ctx)
	case "purge":
		return a.purgeCmd(ctx, cmdArgs)
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", cmd, usage)
		return exitFailure
	}
}

func newApp(ctx context.Context, cfg config.Config, logger *slog.Logger, stdout, stderr io.Writer) (*app, error) {
	st, err := store.Open(ctx, cfg.StoreConfig())
	if err != nil {
		return nil, errorsx.New(errorsx.ReasonStore, "open store: %w", err)
	}
	a := &app{cfg: cfg, logger: logger, store: st, stdout: stdout, stderr: stderr}

	list := []metrics.Observer{
		observers.NewLoggerObserver(logger),
		observers.NewLatencyObserver(logging.NewComponentLogger(logger, "latency")),
	}
	if dir := strings.TrimSpace(cfg.Observability.ArtifactsDir); dir != "" {
		a.timeline = observers.NewTimelineObserver(dir)
		list = append(list, a.timeline)
	}
	if path := strings.TrimSpace(cfg.Observability.MetricsTextfile); path != "" {
		prom, err := metrics.NewPrometheusObserver(path)
		if err != nil {
			_ = st.Close()
			return nil, err
		}
		list = append(list, prom)
	}
	a.observer = observers.NewMultiObserver(list...)
	return a, nil
}

func (a *app) close() {
	if err := metrics.Flush(a.observer); err != nil {
		a.logger.Warn("metrics_flush_failed", slog.Any("error", err))
	}
	if a.timeline != nil {
		_ = a.timeline.Close()
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn("store_close_failed", slog.Any("error", err))
	}
}

func (a *app) newRunner() (*runner.Runner, error) {
	if err := a.cfg.RequireCredentials(); err != nil {
		return nil, err
	}
	skCfg := a.cfg.SpeechKit()
	skCfg.Observer = a.observer
	skCfg.Logger = a.logger
	client, err := speechkit.NewClient(skCfg)
	if err != nil {
		return nil, err
	}
	return runner.New(runner.Config{
		Client:        client,
		Store:         a.store,
		Observer:      a.observer,
		Logger:        a.logger,
		Backoff:       a.cfg.Backoff(),
		Request:       a.cfg.RecognitionRequest,
		DefaultOutput: a.cfg.Output.Path,
	})
}

func (a *app) runCmd(ctx context.Context, args []string) int {
	fs := a.flagSet("run")
	uri := fs.String("uri", "", "audio URI in object storage")
	out := fs.String("out", "", "transcript output file")
	if err := fs.Parse(args); err != nil {
		return exitFailure
	}
	if strings.TrimSpace(*uri) == "" {
		fmt.Fprintln(a.stderr, "run: -uri is required")
		return exitFailure
	}
	r, err := a.newRunner()
	if err != nil {
		return a.fail(err)
	}
	res, err := r.Run(ctx, *uri, *out)
	if err != nil {
		if res.OperationID != "" {
			fmt.Fprintf(a.stdout, "operation %s\n", res.OperationID)
		}
		return a.fail(err)
	}
	a.printResult(res)
	return exitOK
}

func (a *app) submitCmd(ctx context.Context, args []string) int {
	fs := a.flagSet("submit")
	uri := fs.String("uri", "", "audio URI in object storage")
	out := fs.String("out", "", "transcript output file used by a later poll")
	if err := fs.Parse(args); err != nil {
		return exitFailure
	}
	if strings.TrimSpace(*uri) == "" {
		fmt.Fprintln(a.stderr, "submit: -uri is required")
		return exitFailure
	}
	r, err := a.newRunner()
	if err != nil {
		return a.fail(err)
	}
	res, err := r.Submit(ctx, *uri, *out)
	if res.OperationID != "" {
		fmt.Fprintln(a.stdout, res.OperationID)
	}
	if err != nil {
		return a.fail(err)
	}
	return exitOK
}

func (a *app) pollCmd(ctx context.Context, args []string) int {
	fs := a.flagSet("poll")
	id := fs.String("id", "", "operation id")
	out := fs.String("out", "", "transcript output file (defaults to the recorded one)")
	wait := fs.Bool("wait", false, "keep polling until the operation finishes")
	if err := fs.Parse(args); err != nil {
		return exitFailure
	}
	if strings.TrimSpace(*id) == "" {
		fmt.Fprintln(a.stderr, "poll: -id is required")
		return exitFailure
	}
	r, err := a.newRunner()
	if err != nil {
		return a.fail(err)
	}
	res, err := r.Resume(ctx, *id, *out, *wait)
	if err != nil {
		return a.fail(err)
	}
	a.printResult(res)
	return exitOK
}

func (a *app) listCmd(ctx context.Context) int {
	recs, err := a.store.List(ctx)
	if err != nil {
		return a.fail(err)
	}
	tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "OPERATION\tSTATE\tLINES\tSUBMITTED\tOUTPUT\tAUDIO")
	for _, rec := range recs {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\n",
			rec.OperationID, rec.State, rec.Lines,
			rec.SubmittedAt.Local().Format(time.DateTime), rec.OutputPath, rec.AudioURI)
	}
	if err := tw.Flush(); err != nil {
		return a.fail(err)
	}
	return exitOK
}

func (a *app) purgeCmd(ctx context.Context, args []string) int {
	fs := a.flagSet("purge")
	days := fs.Int("days", a.cfg.Output.RetentionDays, "remove finished records and timelines older than this many days")
	if err := fs.Parse(args); err != nil {
		return exitFailure
	}
	if *days <= 0 {
		fmt.Fprintln(a.stderr, "purge: retention is disabled (set -days or output.retention_days)")
		return exitOK
	}
	maxAge := time.Duration(*days) * 24 * time.Hour
	cutoff := time.Now().Add(-maxAge)

	recs, err := a.store.List(ctx)
	if err != nil {
		return a.fail(err)
	}
	var records int
	for _, rec := range recs {
		if rec.State == store.StatePending || rec.UpdatedAt.After(cutoff) {
			continue
		}
		if err := a.store.Delete(ctx, rec.OperationID); err != nil {
			return a.fail(err)
		}
		records++
	}
	timelines, err := observers.PurgeArtifacts(a.cfg.Observability.ArtifactsDir, "*.jsonl", maxAge)
	if err != nil {
		a.logger.Warn("artifact_purge_failed", slog.Any("error", err))
	}
	a.logger.Info("purge_done", slog.Int("records", records), slog.Int("timelines", timelines), slog.Int("days", *days))
	fmt.Fprintf(a.stdout, "removed %d records, %d timelines\n", records, timelines)
	return exitOK
}

func (a *app) flagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	return fs
}

func (a *app) printResult(res runner.Result) {
	fmt.Fprintf(a.stdout, "operation %s: %d lines written to %s (%s)\n",
		res.OperationID, res.Lines, res.OutputPath, res.Elapsed.Round(time.Second))
}

// fail logs err and maps it to an exit code.
func (a *app) fail(err error) int {
	code := exitCode(err)
	if code == exitNotDone {
		fmt.Fprintln(a.stderr, "operation not done yet:", err)
		return code
	}
	fmt.Fprintf(a.stderr, "error (%s): %v\n", errorsx.Reason(err), err)
	return code
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case speechkit.IsNotDone(err), resilience.IsTimeout(err):
		return exitNotDone
	default:
		return exitFailure
	}
}
