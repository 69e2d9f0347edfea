package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/abdul-hamid-achik/minitest/packages/core/config"
	"github.com/abdul-hamid-achik/minitest/packages/core/runner"
	"github.com/abdul-hamid-achik/minitest/packages/core/script"
	"github.com/abdul-hamid-achik/minitest/packages/core/suite"
	"github.com/abdul-hamid-achik/minitest/packages/export/metrics"
	"github.com/abdul-hamid-achik/minitest/packages/logging"
	"github.com/abdul-hamid-achik/minitest/packages/output"
	"github.com/abdul-hamid-achik/minitest/packages/parallel"
)

var runCmd = &cobra.Command{
	Use:   "run [file|directory|pattern...]",
	Short: "Run minitest scripts",
	Long: `Run the tests defined in .mt files. Without arguments the files matching
the configured testMatch patterns are run.

Examples:
  minitest run
  minitest run test/math.mt
  minitest run ./test/ --parallel --max-workers 4
  minitest run "test/**/*_api.mt" --isolation process --file-timeout 30s
  minitest run --output junit --output-file report.xml
  minitest run --watch`,
	RunE: runCommand,
}

var (
	configFlag      string
	envFileFlag     string
	parallelFlag    bool
	maxWorkersFlag  int
	timeoutFlag     string
	fileTimeoutFlag string
	isolationFlag   string
	outputFlag      string
	outputFileFlag  string
	watchFlag       bool
	metricsFlag     string
	metricsFileFlag string
	verboseFlag     bool
	quietFlag       bool
	noColorFlag     bool
)

func init() {
	// Configuration flags override the config file and MINITEST_* variables
	runCmd.Flags().StringVar(&envFileFlag, "env-file", "", "Path to .env file for exec steps and {{$NAME}} lookups (env: MINITEST_ENV_FILE)")
	runCmd.Flags().BoolVarP(&parallelFlag, "parallel", "p", false, "Run files on a pool of workers (env: MINITEST_PARALLEL)")
	runCmd.Flags().IntVar(&maxWorkersFlag, "max-workers", config.DefaultMaxWorkers, "Maximum number of concurrent workers (env: MINITEST_MAX_WORKERS)")
	runCmd.Flags().StringVar(&timeoutFlag, "timeout", "", "Default test timeout, e.g. 5s or 5000 (env: MINITEST_TIMEOUT)")
	runCmd.Flags().StringVar(&fileTimeoutFlag, "file-timeout", "", "Deadline for a whole file, e.g. 1m (env: MINITEST_FILE_TIMEOUT)")
	runCmd.Flags().StringVar(&isolationFlag, "isolation", config.IsolationGoroutine, "Worker isolation: goroutine or process (env: MINITEST_ISOLATION)")

	// Output flags
	runCmd.Flags().BoolVarP(&verboseFlag, "verbose", "v", false, "Verbose output (env: MINITEST_VERBOSE)")
	runCmd.Flags().BoolVarP(&quietFlag, "quiet", "q", getEnvBool("MINITEST_QUIET", false), "Suppress all output except errors and the summary (env: MINITEST_QUIET)")
	runCmd.Flags().BoolVar(&noColorFlag, "no-color", false, "Disable colored output (env: MINITEST_NO_COLOR)")
	runCmd.Flags().StringVarP(&outputFlag, "output", "o", getEnvString("MINITEST_OUTPUT", "console"), "Output format: "+strings.Join(output.Formats, ", ")+" (env: MINITEST_OUTPUT)")
	runCmd.Flags().StringVar(&outputFileFlag, "output-file", getEnvString("MINITEST_OUTPUT_FILE", ""), "Write output to file (default: stdout) (env: MINITEST_OUTPUT_FILE)")
	runCmd.Flags().BoolVarP(&watchFlag, "watch", "w", false, "Watch files for changes and re-run tests")

	// Metrics flags
	runCmd.Flags().StringVar(&metricsFlag, "metrics", getEnvString("MINITEST_METRICS", ""), "Metrics export format: json, prometheus (env: MINITEST_METRICS)")
	runCmd.Flags().StringVar(&metricsFileFlag, "metrics-file", getEnvString("MINITEST_METRICS_FILE", ""), "Output file for metrics (default: stdout) (env: MINITEST_METRICS_FILE)")
}

// Environment variable helpers
func getEnvString(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		return val == "true" || val == "1" || val == "yes"
	}
	return defaultVal
}

// resolveConfig layers the config file, MINITEST_* variables and the flags
// set on the command line, in increasing precedence.
func resolveConfig(cmd *cobra.Command) (*config.Config, error) {
	fileConfig, err := config.LoadConfig(configFlag)
	if err != nil {
		return nil, err
	}
	cfg := fileConfig.Merge(config.FromEnv(os.Getenv))

	flags := cmd.Flags()
	overrides := &config.Config{}
	if flags.Changed("parallel") {
		overrides.Parallel = config.BoolPtr(parallelFlag)
	}
	if flags.Changed("max-workers") {
		if maxWorkersFlag < 1 {
			return nil, fmt.Errorf("--max-workers must be at least 1, got %d", maxWorkersFlag)
		}
		overrides.MaxWorkers = maxWorkersFlag
	}
	if flags.Changed("timeout") {
		ms, err := parseMillis(timeoutFlag)
		if err != nil {
			return nil, fmt.Errorf("invalid --timeout: %w", err)
		}
		overrides.Timeout = ms
	}
	if flags.Changed("file-timeout") {
		ms, err := parseMillis(fileTimeoutFlag)
		if err != nil {
			return nil, fmt.Errorf("invalid --file-timeout: %w", err)
		}
		overrides.FileTimeout = ms
	}
	if flags.Changed("isolation") {
		overrides.Isolation = isolationFlag
	}
	if flags.Changed("env-file") {
		overrides.EnvFile = envFileFlag
	}
	if flags.Changed("verbose") {
		overrides.Verbose = config.BoolPtr(verboseFlag)
	}
	if flags.Changed("no-color") {
		overrides.NoColor = config.BoolPtr(noColorFlag)
	}

	cfg = cfg.Merge(overrides)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parseMillis accepts a Go duration ("1.5s") or a plain number of milliseconds.
func parseMillis(s string) (int, error) {
	if ms, err := strconv.Atoi(s); err == nil {
		if ms < 0 {
			return 0, fmt.Errorf("%q is negative", s)
		}
		return ms, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%q: use a duration like 500ms, 30s, 1m or a number of milliseconds", s)
	}
	if d < 0 {
		return 0, fmt.Errorf("%q is negative", s)
	}
	return int(d.Milliseconds()), nil
}

// scriptLoaders builds the loader of each task from the configuration it
// carries, so process workers honour the parent's envFile.
func scriptLoaders(logger *slog.Logger) parallel.LoaderFactory {
	return func(cfg *config.Config) suite.Loader {
		opts := []script.Option{script.WithLogger(logger)}
		if cfg != nil && cfg.EnvFile != "" {
			opts = append(opts, script.WithEnvFile(cfg.EnvFile))
		}
		return script.NewLoader(opts...)
	}
}

func runCommand(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return &ExitError{Code: ExitConfigError, Err: err}
	}
	if cfg.GetNoColor() {
		color.NoColor = true
	}

	format := strings.ToLower(outputFlag)
	if _, err := output.New(format, io.Discard, output.Options{}); err != nil {
		return &ExitError{Code: ExitUsageError, Err: err}
	}
	if metricsFlag != "" {
		if _, err := metrics.New(strings.ToLower(metricsFlag), ""); err != nil {
			return &ExitError{Code: ExitUsageError, Err: err}
		}
	}

	logger := logging.New(cmd.ErrOrStderr(), logging.LevelFor(cfg.GetVerbose(), quietFlag), cfg.GetNoColor())

	files, err := collectFiles(args, cfg.TestMatch, cfg.Ignore)
	if err != nil {
		return &ExitError{Code: ExitUsageError, Err: err}
	}
	if len(files) == 0 {
		return &ExitError{Code: ExitUsageError, Err: fmt.Errorf("no %s files found", script.Extension)}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	agg, err := runOnce(ctx, cmd, cfg, files, logger)
	if err != nil {
		return err
	}

	if !watchFlag {
		return resultError(agg)
	}
	return watchAndRerun(ctx, cmd, cfg, args, files, logger)
}

// runOnce executes files and reports them through the selected formatter
// and metrics exporter.
func runOnce(ctx context.Context, cmd *cobra.Command, cfg *config.Config, files []string, logger *slog.Logger) (*suite.Aggregate, error) {
	out := cmd.OutOrStdout()
	if outputFileFlag != "" {
		f, err := os.Create(outputFileFlag)
		if err != nil {
			return nil, &ExitError{Code: ExitUsageError, Err: fmt.Errorf("cannot create output file: %w", err)}
		}
		defer f.Close()
		out = f
	}

	format := strings.ToLower(outputFlag)
	console := format == "" || format == "console"
	formatter, err := output.New(format, out, output.Options{
		Verbose: cfg.GetVerbose(),
		NoColor: cfg.GetNoColor() || outputFileFlag != "",
	})
	if err != nil {
		return nil, &ExitError{Code: ExitUsageError, Err: err}
	}
	if console && !quietFlag {
		formatter.FormatHeader(version)
	}

	opts := []runner.Option{runner.WithLogger(logger)}
	if cfg.GetIsolation() == config.IsolationProcess {
		opts = append(opts, runner.WithSpawner(&parallel.ProcessSpawner{
			Args:   []string{workerCmd.Name()},
			Stderr: cmd.ErrOrStderr(),
			Logger: logging.Component(logger, "spawner"),
		}))
	}

	var bar *progressbar.ProgressBar
	if console && !quietFlag && len(files) > 1 {
		bar = newProgressBar(cmd.ErrOrStderr(), len(files))
		// a sequential fallback reports files the pool already finished
		done := make(map[string]bool, len(files))
		opts = append(opts, runner.WithFileDone(func(file string) {
			if done[file] {
				return
			}
			done[file] = true
			_ = bar.Add(1)
		}))
	}

	r := runner.New(cfg, scriptLoaders(logger), opts...)
	agg, err := r.Run(ctx, files)
	if bar != nil {
		_ = bar.Finish()
	}
	if err != nil {
		formatter.FormatError(err)
		return nil, &ExitError{Code: ExitTestFailure, Err: err}
	}

	if !console || !quietFlag {
		for _, fr := range agg.Files {
			formatter.FormatResult(fr)
		}
	}
	if flushable, ok := formatter.(output.Flushable); ok {
		if err := flushable.Flush(agg); err != nil {
			return nil, &ExitError{Code: ExitTestFailure, Err: fmt.Errorf("error writing output: %w", err)}
		}
	}

	if err := exportMetrics(agg, r.Stats()); err != nil {
		logger.Warn("failed to export metrics", "error", err)
	}
	return agg, nil
}

func newProgressBar(w io.Writer, count int) *progressbar.ProgressBar {
	return progressbar.NewOptions(count,
		progressbar.OptionSetDescription(color.CyanString("Running files")),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        color.CyanString("█"),
			SaucerHead:    color.CyanString("█"),
			SaucerPadding: "░",
			BarStart:      "│",
			BarEnd:        "│",
		}),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWriter(w),
		progressbar.OptionClearOnFinish(),
	)
}

func exportMetrics(agg *suite.Aggregate, stats *parallel.RunStats) error {
	if metricsFlag == "" {
		return nil
	}
	exporter, err := metrics.New(strings.ToLower(metricsFlag), metricsFileFlag)
	if err != nil {
		return err
	}

	collector := metrics.NewCollector(exporter)
	defer collector.Close()
	collector.RecordRun(agg, stats)
	return collector.Flush()
}
